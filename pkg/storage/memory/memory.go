// Package memory is an in-process bar store keyed like market_candles.
// It backs the pipeline when Postgres is disabled.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"sniperflow/internal/market"
)

// ErrNotFound is returned by GetBar for an unknown key.
var ErrNotFound = errors.New("bar not found")

type key struct {
	symbol      string
	bucketStart int64
}

type MemoryStore struct {
	mu   sync.Mutex
	bars map[key]market.Bar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars: make(map[key]market.Bar),
	}
}

// InsertBar keeps the first bar stored per (symbol, bucket).
func (m *MemoryStore) InsertBar(ctx context.Context, bar market.Bar) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{bar.Symbol, bar.BucketStart}
	if _, ok := m.bars[k]; ok {
		return false, nil
	}
	m.bars[k] = bar
	return true, nil
}

func (m *MemoryStore) GetBar(_ context.Context, symbol string, bucketStart int64) (*market.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bar, ok := m.bars[key{symbol, bucketStart}]
	if !ok {
		return nil, ErrNotFound
	}
	return &bar, nil
}

// Bars returns the stored bars of symbol, oldest first.
func (m *MemoryStore) Bars(symbol string) []market.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Bar
	for k, bar := range m.bars {
		if k.symbol == symbol {
			out = append(out, bar)
		}
	}
	slices.SortFunc(out, func(a, b market.Bar) int {
		return int(a.BucketStart - b.BucketStart)
	})
	return out
}

func (m *MemoryStore) DeleteBarsBefore(_ context.Context, before time.Time) (int64, error) {
	cutoff := before.Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.bars {
		if k.bucketStart < cutoff {
			delete(m.bars, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars)
}
