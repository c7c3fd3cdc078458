// Package feed turns raw market data feed frames into normalized ticks.
package feed

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"sniperflow/internal/market"
)

// ErrMalformedInput is returned for feed entries that cannot become a tick.
var ErrMalformedInput = errors.New("malformed feed input")

// Registry resolves instrument keys to the symbols bars are stored under.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]string
}

func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]string)}
}

// Add registers key. An empty symbol registers the key as its own symbol.
func (r *Registry) Add(key, symbol string) {
	if symbol == "" {
		symbol = key
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[key] = symbol
}

func (r *Registry) Symbol(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.symbols[key]
	return s, ok
}

// Keys returns the registered instrument keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.symbols))
}

// Clock supplies the ingestion time stamped on each tick.
type Clock func() time.Time

type Normalizer struct {
	Registry *Registry
	Clock    Clock
}

func NewNormalizer(reg *Registry, clock Clock) *Normalizer {
	if clock == nil {
		clock = time.Now
	}
	return &Normalizer{Registry: reg, Clock: clock}
}

// Normalize validates one feed entry and converts it. The instrument must be
// registered and carry a positive last traded price; every other field
// defaults to zero when absent.
func (n *Normalizer) Normalize(key string, entry FeedEntry) (market.NormalizedTick, error) {
	symbol, ok := n.Registry.Symbol(key)
	if !ok {
		return market.NormalizedTick{}, fmt.Errorf("%w: unknown instrument %q", ErrMalformedInput, key)
	}
	if entry.FullFeed == nil || entry.FullFeed.MarketFF == nil {
		return market.NormalizedTick{}, fmt.Errorf("%w: %s: no market feed", ErrMalformedInput, key)
	}
	ff := entry.FullFeed.MarketFF
	if ff.LTPC == nil || ff.LTPC.LTP == nil {
		return market.NormalizedTick{}, fmt.Errorf("%w: %s: missing ltp", ErrMalformedInput, key)
	}
	price := ff.LTPC.LTP.Float()
	if price <= 0 {
		return market.NormalizedTick{}, fmt.Errorf("%w: %s: non-positive ltp %v", ErrMalformedInput, key, price)
	}

	tick := market.NormalizedTick{
		Symbol:           symbol,
		Price:            price,
		CumulativeVolume: ff.LTPC.Volume.Int(),
		ObservedAt:       n.Clock().UTC(),
	}
	if ff.MarketOHLC != nil {
		tick.OpenInterest = ff.MarketOHLC.OI.Int()
	}
	if lvl := ff.MarketLevel; lvl != nil {
		tick.TotalBuyQty = lvl.TotalBuyQty.Int()
		tick.TotalSellQty = lvl.TotalSellQty.Int()
		tick.Depth = make([]market.DepthLevel, 0, len(lvl.BidAskQuote))
		for _, q := range lvl.BidAskQuote {
			tick.Depth = append(tick.Depth, market.DepthLevel{
				BidPrice: q.BidP.Float(),
				BidQty:   q.BidQ.Int(),
				AskPrice: q.AskP.Float(),
				AskQty:   q.AskQ.Int(),
			})
		}
	}
	if g := entry.FullFeed.OptionGreeks; g != nil {
		tick.Greeks = market.Greeks{
			IV:    g.IV.Float(),
			Delta: g.Delta.Float(),
			Theta: g.Theta.Float(),
			Gamma: g.Gamma.Float(),
			Vega:  g.Vega.Float(),
		}
	}
	return tick, nil
}
