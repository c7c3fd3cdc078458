package feed

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"

	"sniperflow/internal/market"
	"sniperflow/internal/metrics"

	"go.uber.org/zap"
)

// MakeMessageHandler returns a function that handles incoming WebSocket messages
// by normalizing every feed entry and passing the resulting ticks to sink.
// Undecodable frames and invalid entries are counted and dropped.
func MakeMessageHandler(logger *zap.Logger, n *Normalizer, sink func(market.NormalizedTick),
	m *metrics.Metrics) func(msg []byte) {
	return func(msg []byte) {
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			m.MalformedTicks.Inc()
			logger.Warn("failed to parse feed frame", zap.Error(err))
			return
		}
		if len(frame.Feeds) == 0 {
			return // market info and subscription acks carry no feeds
		}

		for _, key := range slices.Sorted(maps.Keys(frame.Feeds)) {
			tick, err := n.Normalize(key, frame.Feeds[key])
			if err != nil {
				if errors.Is(err, ErrMalformedInput) {
					m.MalformedTicks.Inc()
				}
				logger.Debug("dropping feed entry", zap.String("instrument_key", key), zap.Error(err))
				continue
			}
			sink(tick)
		}
	}
}
