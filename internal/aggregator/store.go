package aggregator

import (
	"sort"
	"sync"

	"sniperflow/internal/market"
)

// barStore keeps one slot per symbol. The map lock only guards first-seen
// insertion; each slot carries its own lock so unrelated symbols never contend.
type barStore struct {
	globalMu sync.RWMutex
	data     map[string]*symbolSlot
}

type symbolSlot struct {
	mu        sync.Mutex
	open      *market.Bar
	watermark int64 // bucket of the last closed or flushed bar
	closed    bool  // watermark is meaningful
}

func newBarStore() *barStore {
	return &barStore{
		data: make(map[string]*symbolSlot),
	}
}

// slot returns the symbol's slot, creating it on first sight.
func (s *barStore) slot(symbol string) *symbolSlot {
	// Fast path: shared lock only
	s.globalMu.RLock()
	slot, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if ok {
		return slot
	}

	s.globalMu.Lock()
	if slot, ok = s.data[symbol]; !ok {
		slot = &symbolSlot{}
		s.data[symbol] = slot
	}
	s.globalMu.Unlock()
	return slot
}

// lookup returns the slot without creating one.
func (s *barStore) lookup(symbol string) (*symbolSlot, bool) {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	slot, ok := s.data[symbol]
	return slot, ok
}

// symbols returns the known symbols in sorted order.
func (s *barStore) symbols() []string {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	out := make([]string, 0, len(s.data))
	for sym := range s.data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// detach removes the open bar and advances the watermark. Caller holds slot.mu.
func (slot *symbolSlot) detach() *market.Bar {
	bar := slot.open
	if bar == nil {
		return nil
	}
	slot.open = nil
	slot.watermark = bar.BucketStart
	slot.closed = true
	return bar
}
