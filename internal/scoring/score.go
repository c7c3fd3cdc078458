// Package scoring grades closed bars against a five-factor rule set and
// publishes trade signals for actionable tiers.
package scoring

import (
	"math"

	"sniperflow/internal/market"
)

// Factor weights. They sum to 100, so scores need no clamping.
const (
	PointsWallBreak      = 30
	PointsOIUnwinding    = 20
	PointsBuyingPressure = 20
	PointsDelta          = 10
	PointsGamma          = 5
	PointsTrend          = 15
)

// Factor names as they appear in a breakdown.
const (
	FactorWallBreak      = "Wall Break"
	FactorOIUnwinding    = "OI Unwinding"
	FactorBuyingPressure = "Buying Pressure"
	FactorGoodDelta      = "Good Delta"
	FactorGammaAccel     = "Gamma Accel"
	FactorAboveVWAP      = "Above VWAP"
)

const (
	strongBuyThreshold = 80
	watchlistThreshold = 60

	deltaThreshold = 0.40
	gammaThreshold = 0.001
)

// Result is the outcome of scoring one bar.
type Result struct {
	Symbol         string
	BucketStart    int64
	Score          int
	Tier           market.Tier
	Grade          market.Grade
	Factors        []market.Factor
	ReferencePrice float64
}

// Score evaluates bar against the previous bar of the same symbol. prev is
// nil on the first observation, in which case OI unwinding is never awarded.
func Score(bar market.Bar, prev *market.Bar) Result {
	var (
		score   int
		factors []market.Factor
	)
	award := func(name string, points int) {
		score += points
		factors = append(factors, market.Factor{Name: name, Points: points})
	}

	snap := bar.Snapshot
	if wall := snap.Walls.SellPrice; wall > 0 && bar.OHLCV.Close > wall {
		award(FactorWallBreak, PointsWallBreak)
	}
	if prev != nil && snap.OpenInterest < prev.Snapshot.OpenInterest {
		award(FactorOIUnwinding, PointsOIUnwinding)
	}
	if snap.TotalBuyQty > snap.TotalSellQty {
		award(FactorBuyingPressure, PointsBuyingPressure)
	}
	if math.Abs(snap.Greeks.Delta) > deltaThreshold {
		award(FactorGoodDelta, PointsDelta)
	}
	if snap.Greeks.Gamma > gammaThreshold {
		award(FactorGammaAccel, PointsGamma)
	}
	if bar.OHLCV.Close > VWAPProxy(bar) {
		award(FactorAboveVWAP, PointsTrend)
	}

	return Result{
		Symbol:         bar.Symbol,
		BucketStart:    bar.BucketStart,
		Score:          score,
		Tier:           Classify(score),
		Grade:          StrikeGrade(snap.Greeks.Delta),
		Factors:        factors,
		ReferencePrice: bar.OHLCV.Close,
	}
}

// VWAPProxy is the typical price (high+low+close)/3. It stands in for a true
// volume-weighted average, which a single bar cannot provide.
func VWAPProxy(bar market.Bar) float64 {
	return (bar.OHLCV.High + bar.OHLCV.Low + bar.OHLCV.Close) / 3
}

// Classify maps a score to its tier.
func Classify(score int) market.Tier {
	switch {
	case score >= strongBuyThreshold:
		return market.TierStrongBuy
	case score >= watchlistThreshold:
		return market.TierWatchlist
	default:
		return market.TierNeutral
	}
}

// StrikeGrade grades an option strike by the magnitude of its delta.
func StrikeGrade(delta float64) market.Grade {
	d := math.Abs(delta)
	switch {
	case d >= 0.4 && d <= 0.6:
		return market.GradePrimeTarget
	case d > 0.6:
		return market.GradeHighDelta
	default:
		return market.GradeLowDelta
	}
}
