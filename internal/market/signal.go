package market

import "time"

// Topic names used on the event bus.
const (
	TopicBarClosed   = "bar.closed"
	TopicTradeSignal = "trade.signals"
)

// Tier classifies a composite score.
type Tier string

const (
	TierNeutral   Tier = "NEUTRAL"
	TierWatchlist Tier = "WATCHLIST"
	TierStrongBuy Tier = "STRONG_BUY"
)

// Actionable reports whether signals of this tier are published.
func (t Tier) Actionable() bool {
	return t == TierStrongBuy || t == TierWatchlist
}

// Grade annotates a signal with how close the strike sits to the money.
type Grade string

const (
	GradePrimeTarget Grade = "prime-target" // near the money
	GradeHighDelta   Grade = "high-delta"   // in the money
	GradeLowDelta    Grade = "low-delta"    // out of the money
)

// Factor is one contributing entry of a score breakdown.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// TradeSignal is published for actionable scores.
type TradeSignal struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Tier           Tier      `json:"tier"`
	Score          int       `json:"score"`
	Factors        []Factor  `json:"factors"`
	Grade          Grade     `json:"grade"`
	ReferencePrice float64   `json:"reference_price"`
	BucketStart    int64     `json:"bucket_start"`
	EmittedAt      time.Time `json:"emitted_at"`
}
