// Package aggregator folds normalized ticks into one-minute bars, one open bar per symbol.
package aggregator

import (
	"errors"

	"sniperflow/internal/market"
)

// ErrOutOfOrderTick is returned for a tick whose bucket is older than the
// symbol's open bar, or not newer than its last closed bar. The tick is dropped.
var ErrOutOfOrderTick = errors.New("out-of-order tick")

// Aggregator owns the open bars. Ingest must be called in feed arrival order
// per symbol; different symbols may be ingested concurrently.
type Aggregator struct {
	store *barStore
}

func New() *Aggregator {
	return &Aggregator{store: newBarStore()}
}

// Ingest folds one tick into the symbol's open bar. When the tick belongs to a
// later bucket the previous bar is finalized and returned, and a new bar is
// started from this tick.
func (a *Aggregator) Ingest(tick market.NormalizedTick) (*market.Bar, error) {
	bucket := tick.BucketStart()
	slot := a.store.slot(tick.Symbol)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.open == nil {
		if slot.closed && bucket <= slot.watermark {
			return nil, ErrOutOfOrderTick
		}
		slot.open = newBar(tick, bucket)
		return nil, nil
	}

	switch {
	case bucket == slot.open.BucketStart:
		fold(slot.open, tick)
		return nil, nil
	case bucket < slot.open.BucketStart:
		return nil, ErrOutOfOrderTick
	}

	closed := slot.detach()
	slot.open = newBar(tick, bucket)
	return closed, nil
}

// Flush force-closes the symbol's open bar. It returns nil when there is none.
// A later tick for the flushed bucket is treated as out of order.
func (a *Aggregator) Flush(symbol string) *market.Bar {
	slot, ok := a.store.lookup(symbol)
	if !ok {
		return nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.detach()
}

// FlushAll force-closes every open bar, ordered by symbol.
func (a *Aggregator) FlushAll() []market.Bar {
	var out []market.Bar
	for _, sym := range a.store.symbols() {
		if bar := a.Flush(sym); bar != nil {
			out = append(out, *bar)
		}
	}
	return out
}

// OpenBar returns a copy of the symbol's open bar.
func (a *Aggregator) OpenBar(symbol string) (market.Bar, bool) {
	slot, ok := a.store.lookup(symbol)
	if !ok {
		return market.Bar{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.open == nil {
		return market.Bar{}, false
	}
	return *slot.open, true
}

// Symbols lists every symbol seen so far.
func (a *Aggregator) Symbols() []string {
	return a.store.symbols()
}

func newBar(tick market.NormalizedTick, bucket int64) *market.Bar {
	return &market.Bar{
		Symbol:      tick.Symbol,
		BucketStart: bucket,
		OHLCV: market.OHLCV{
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: tick.CumulativeVolume,
		},
		Snapshot: market.SnapshotOf(tick),
	}
}

func fold(bar *market.Bar, tick market.NormalizedTick) {
	agg := &bar.OHLCV
	agg.High = max(agg.High, tick.Price)
	agg.Low = min(agg.Low, tick.Price)
	agg.Close = tick.Price
	agg.Volume = max(agg.Volume, tick.CumulativeVolume)

	bar.Snapshot = market.SnapshotOf(tick)
}
