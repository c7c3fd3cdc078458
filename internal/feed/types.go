package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame is one decoded market data feed response. Feeds is keyed by instrument key.
type Frame struct {
	Type  string               `json:"type"`
	Feeds map[string]FeedEntry `json:"feeds"`
}

// FeedEntry carries the update for a single instrument.
type FeedEntry struct {
	FullFeed *FullFeed `json:"fullFeed"`
}

type FullFeed struct {
	MarketFF     *MarketFF     `json:"marketFF"`
	OptionGreeks *OptionGreeks `json:"optionGreeks"`
}

type MarketFF struct {
	LTPC        *LTPC        `json:"ltpc"`
	MarketOHLC  *MarketOHLC  `json:"marketOHLC"`
	MarketLevel *MarketLevel `json:"marketLevel"`
}

// LTPC holds the last traded price and the session volume counter.
type LTPC struct {
	LTP    *Number `json:"ltp"`
	Volume Number  `json:"volume"`
}

type MarketOHLC struct {
	OI Number `json:"oi"`
}

type MarketLevel struct {
	TotalBuyQty  Number  `json:"totalBuyQty"`
	TotalSellQty Number  `json:"totalSellQty"`
	BidAskQuote  []Quote `json:"bidAskQuote"`
}

type Quote struct {
	BidP Number `json:"bidP"`
	BidQ Number `json:"bidQ"`
	AskP Number `json:"askP"`
	AskQ Number `json:"askQ"`
}

type OptionGreeks struct {
	IV    Number `json:"iv"`
	Delta Number `json:"delta"`
	Theta Number `json:"theta"`
	Gamma Number `json:"gamma"`
	Vega  Number `json:"vega"`
}

// Number is a numeric feed field. The feed renders 64-bit integers as
// quoted strings, so both `12` and `"12"` decode. null leaves it at 0.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", data, err)
	}
	*n = Number(v)
	return nil
}

func (n Number) Float() float64 { return float64(n) }

func (n Number) Int() int64 { return int64(n) }
