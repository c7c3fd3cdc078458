package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sniperflow/internal/bus"
	"sniperflow/internal/market"
	"sniperflow/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu      sync.Mutex
	fail    bool
	signals []market.TradeSignal
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("bus down")
	}
	var sig market.TradeSignal
	if err := bus.Decode(payload, &sig); err != nil {
		return err
	}
	p.signals = append(p.signals, sig)
	return nil
}

func (p *recordingPublisher) published() []market.TradeSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]market.TradeSignal(nil), p.signals...)
}

func newTestEngine(pub bus.Publisher) (*Engine, *metrics.Metrics) {
	m := metrics.New(nil)
	now := func() time.Time { return time.Unix(1700000100, 0) }
	return NewEngine(pub, Options{Retries: 1, Now: now}, zap.NewNop(), m), m
}

// go test -v --run TestEngineProcess
func TestEngineProcess(t *testing.T) {
	e, _ := newTestEngine(&recordingPublisher{})
	symbol := strongBar().Symbol

	assert.Equal(t, Unseen, e.State(symbol))

	res, sig, ok := e.Process(baselineBar())
	require.True(t, ok)
	assert.Equal(t, market.TierNeutral, res.Tier)
	assert.Nil(t, sig)
	// neutral bars still advance the state
	assert.Equal(t, Tracking, e.State(symbol))

	res, sig, ok = e.Process(strongBar())
	require.True(t, ok)
	assert.Equal(t, 100, res.Score)
	require.NotNil(t, sig)
	assert.Equal(t, market.TierStrongBuy, sig.Tier)
	assert.Equal(t, 150.0, sig.ReferencePrice)
	assert.Equal(t, strongBar().BucketStart, sig.BucketStart)
	assert.Equal(t, market.GradePrimeTarget, sig.Grade)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), sig.EmittedAt)

	t.Run("redelivery of the same bucket is ignored", func(t *testing.T) {
		_, sig, ok := e.Process(strongBar())
		assert.False(t, ok)
		assert.Nil(t, sig)
	})

	t.Run("older bucket is ignored", func(t *testing.T) {
		_, _, ok := e.Process(baselineBar())
		assert.False(t, ok)
	})

	t.Run("symbols are independent", func(t *testing.T) {
		other := strongBar()
		other.Symbol = "OTHER"
		res, _, ok := e.Process(other)
		require.True(t, ok)
		assert.Equal(t, 80, res.Score)
	})
}

// go test -v --run TestEngineHandle
func TestEngineHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("only actionable tiers are published", func(t *testing.T) {
		pub := &recordingPublisher{}
		e, m := newTestEngine(pub)

		require.NoError(t, e.Handle(ctx, market.BarClosed{Symbol: "X", Bar: withSymbol(baselineBar(), "")}))
		assert.Empty(t, pub.published())

		require.NoError(t, e.Handle(ctx, market.BarClosed{Symbol: "X", Bar: withSymbol(strongBar(), "")}))
		require.Len(t, pub.published(), 1)
		assert.Equal(t, "X", pub.published()[0].Symbol)

		// duplicate delivery does not publish twice
		require.NoError(t, e.Handle(ctx, market.BarClosed{Symbol: "X", Bar: withSymbol(strongBar(), "")}))
		assert.Len(t, pub.published(), 1)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.Signals.WithLabelValues("NEUTRAL")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Signals.WithLabelValues("STRONG_BUY")))
	})

	t.Run("watchlist tier is published", func(t *testing.T) {
		pub := &recordingPublisher{}
		e, _ := newTestEngine(pub)

		bar := strongBar()
		bar.Snapshot.Walls.SellPrice = 0 // everything but the wall break
		bar.Snapshot.Greeks.Delta = 0.5
		bar.Snapshot.TotalBuyQty = 5000
		res, _, _ := e.Process(baselineBar())
		require.Equal(t, market.TierNeutral, res.Tier)

		require.NoError(t, e.Handle(ctx, market.BarClosed{Symbol: bar.Symbol, Bar: bar}))
		got := pub.published()
		require.Len(t, got, 1)
		assert.Equal(t, market.TierWatchlist, got[0].Tier)
		assert.Equal(t, 70, got[0].Score)
	})

	t.Run("publish failure is reported and counted", func(t *testing.T) {
		pub := &recordingPublisher{fail: true}
		e, m := newTestEngine(pub)

		err := e.Handle(ctx, market.BarClosed{Bar: strongBar()})
		assert.Error(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BusFailures.WithLabelValues(market.TopicTradeSignal)))
		// state still advanced
		assert.Equal(t, Tracking, e.State(strongBar().Symbol))
	})
}

// go test -v --run TestEngineRun
func TestEngineRun(t *testing.T) {
	b := bus.NewMemoryBus(16)
	defer b.Close()

	e, _ := newTestEngine(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		signals []market.TradeSignal
	)
	go func() {
		_ = b.Subscribe(ctx, market.TopicTradeSignal, func(_ context.Context, payload []byte) {
			var sig market.TradeSignal
			if bus.Decode(payload, &sig) == nil {
				mu.Lock()
				signals = append(signals, sig)
				mu.Unlock()
			}
		})
	}()
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx, b) }()

	require.Eventually(t, func() bool {
		return b.Subscribers(market.TopicTradeSignal) == 1 && b.Subscribers(market.TopicBarClosed) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Publish(ctx, market.TopicBarClosed, []byte("not json")))
	for _, bar := range []market.Bar{baselineBar(), strongBar()} {
		payload, err := bus.Encode(market.BarClosed{Symbol: bar.Symbol, Bar: bar})
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, market.TopicBarClosed, payload))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(signals) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 100, signals[0].Score)
	mu.Unlock()

	cancel()
	assert.NoError(t, <-runDone)
}

func withSymbol(bar market.Bar, symbol string) market.Bar {
	bar.Symbol = symbol
	return bar
}
