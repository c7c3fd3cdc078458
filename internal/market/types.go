package market

import "time"

// BucketSeconds is the width of one aggregation bucket.
const BucketSeconds int64 = 60

// NoWall marks a wall quantity when the order book had no depth levels.
// It is distinct from a real level with zero resting quantity.
const NoWall int64 = -1

// Greeks holds option sensitivities carried on a tick. Absent values are 0.
type Greeks struct {
	IV    float64 `json:"iv"`
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
}

// DepthLevel is one row of the order book. Index 0 of a depth slice is the best bid/ask.
type DepthLevel struct {
	BidPrice float64 `json:"bid_price"`
	BidQty   int64   `json:"bid_qty"`
	AskPrice float64 `json:"ask_price"`
	AskQty   int64   `json:"ask_qty"`
}

// NormalizedTick is one validated feed update for a single instrument.
type NormalizedTick struct {
	Symbol           string       `json:"symbol"`
	Price            float64      `json:"price"`             // last traded price, always > 0
	CumulativeVolume int64        `json:"cumulative_volume"` // session counter, not a delta
	OpenInterest     int64        `json:"open_interest"`
	TotalBuyQty      int64        `json:"total_buy_qty"`
	TotalSellQty     int64        `json:"total_sell_qty"`
	Greeks           Greeks       `json:"greeks"`
	Depth            []DepthLevel `json:"depth"`
	ObservedAt       time.Time    `json:"observed_at"` // ingestion clock, used only for bucketing
}

// BucketStart returns the floor-aligned start second of the bucket the tick falls into.
func (t NormalizedTick) BucketStart() int64 {
	return BucketOf(t.ObservedAt.Unix())
}

// BucketOf floors an epoch second to its bucket start.
func BucketOf(sec int64) int64 {
	b := sec / BucketSeconds
	if sec < 0 && sec%BucketSeconds != 0 {
		b--
	}
	return b * BucketSeconds
}

// OHLCV is the aggregated part of a bar.
type OHLCV struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"` // running max of the cumulative session volume
}

// Snapshot is the last-value-wins part of a bar, copied from the most recent tick.
type Snapshot struct {
	OpenInterest int64   `json:"open_interest"`
	TotalBuyQty  int64   `json:"total_buy_qty"`
	TotalSellQty int64   `json:"total_sell_qty"`
	Greeks       Greeks  `json:"greeks"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	Walls        Walls   `json:"walls"`
}

// Bar is the OHLCV-plus-snapshot aggregate for one symbol over one bucket.
type Bar struct {
	Symbol      string   `json:"symbol"`
	BucketStart int64    `json:"bucket_start"` // epoch seconds
	OHLCV       OHLCV    `json:"ohlcv"`
	Snapshot    Snapshot `json:"snapshot"`
}

// Time returns the bucket start as a UTC time.
func (b Bar) Time() time.Time {
	return time.Unix(b.BucketStart, 0).UTC()
}

// BarClosed is the payload published when a bar is finalized.
type BarClosed struct {
	Symbol string `json:"symbol"`
	Bar    Bar    `json:"bar"`
}
