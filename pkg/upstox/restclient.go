// Package upstox talks to the broker's market data feed.
package upstox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sniperflow/internal/session"
)

type RESTClient struct {
	authorizeURL string
	httpClient   *http.Client
}

func NewRESTClient(authorizeURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		authorizeURL: authorizeURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// AuthorizeFeed exchanges the session token for a websocket URL. A 401 from
// the broker invalidates sess.
func (c *RESTClient) AuthorizeFeed(ctx context.Context, sess *session.Session) (string, error) {
	token, err := sess.Token()
	if err != nil {
		return "", err
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authorizeURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		sess.Invalidate()
		return "", fmt.Errorf("authorize feed: %w", session.ErrInvalidSession)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upstox error: status %d: %s", resp.StatusCode, body)
	}

	var out Response[FeedAuthorization]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Status != "success" {
		return "", apiError(out.Errors)
	}
	if out.Data.AuthorizedRedirectURI == "" {
		return "", errors.New("authorize feed: empty websocket url")
	}
	return out.Data.AuthorizedRedirectURI, nil
}

func apiError(errs []APIError) error {
	if len(errs) == 0 {
		return errors.New("upstox error: unknown")
	}
	return fmt.Errorf("upstox error %s: %s", errs[0].ErrorCode, errs[0].Message)
}
