package upstox

// Response is the envelope of the broker's v3 REST API.
type Response[T any] struct {
	Status string     `json:"status"` // "success" or "error"
	Data   T          `json:"data"`
	Errors []APIError `json:"errors"`
}

type APIError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// FeedAuthorization carries the one-time websocket URL for the market data feed.
type FeedAuthorization struct {
	AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
}

// SubscribeRequest is sent on the websocket to select instruments and mode.
type SubscribeRequest struct {
	GUID   string        `json:"guid"`
	Method string        `json:"method"` // "sub"
	Data   SubscribeData `json:"data"`
}

type SubscribeData struct {
	Mode           string   `json:"mode"` // e.g. "full_d30"
	InstrumentKeys []string `json:"instrumentKeys"`
}
