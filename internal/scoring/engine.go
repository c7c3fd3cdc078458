package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sniperflow/internal/bus"
	"sniperflow/internal/market"
	"sniperflow/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SymbolState tells whether the engine has a previous bar for a symbol.
type SymbolState int

const (
	Unseen SymbolState = iota
	Tracking
)

func (s SymbolState) String() string {
	if s == Tracking {
		return "TRACKING"
	}
	return "UNSEEN"
}

type Options struct {
	BarTopic    string // subscribed
	SignalTopic string // published
	Retries     int    // publish re-attempts
	Now         func() time.Time
}

func (o *Options) withDefaults() {
	if o.BarTopic == "" {
		o.BarTopic = market.TopicBarClosed
	}
	if o.SignalTopic == "" {
		o.SignalTopic = market.TopicTradeSignal
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine keeps the previous bar per symbol and scores each new closed bar
// against it. Bars for one symbol must arrive in bucket order.
type Engine struct {
	pub     bus.Publisher
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	globalMu sync.RWMutex
	states   map[string]*scoreState
}

type scoreState struct {
	mu   sync.Mutex
	prev *market.Bar
}

func NewEngine(pub bus.Publisher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Engine {
	opts.withDefaults()
	return &Engine{
		pub:     pub,
		opts:    opts,
		logger:  logger.Named("scoring"),
		metrics: m,
		states:  make(map[string]*scoreState),
	}
}

// Process scores bar and advances the symbol's state. The previous bar is
// replaced on every scored bar, whatever its tier. A bar whose bucket is not
// newer than the stored previous bar is a redelivery: it is ignored and ok is false.
func (e *Engine) Process(bar market.Bar) (res Result, sig *market.TradeSignal, ok bool) {
	st := e.state(bar.Symbol)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.prev != nil && bar.BucketStart <= st.prev.BucketStart {
		return Result{}, nil, false
	}

	res = Score(bar, st.prev)
	stored := bar
	st.prev = &stored

	if res.Tier.Actionable() {
		sig = &market.TradeSignal{
			ID:             uuid.NewString(),
			Symbol:         res.Symbol,
			Tier:           res.Tier,
			Score:          res.Score,
			Factors:        res.Factors,
			Grade:          res.Grade,
			ReferencePrice: res.ReferencePrice,
			BucketStart:    res.BucketStart,
			EmittedAt:      e.opts.Now().UTC(),
		}
	}
	return res, sig, true
}

// Handle processes one BarClosed event and publishes its signal, if any.
func (e *Engine) Handle(ctx context.Context, ev market.BarClosed) error {
	bar := ev.Bar
	if bar.Symbol == "" {
		bar.Symbol = ev.Symbol
	}

	res, sig, ok := e.Process(bar)
	if !ok {
		e.logger.Debug("duplicate bar ignored",
			zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart))
		return nil
	}
	e.metrics.Signals.WithLabelValues(string(res.Tier)).Inc()

	fields := []zap.Field{
		zap.String("symbol", res.Symbol),
		zap.Int64("bucket_start", res.BucketStart),
		zap.Int("score", res.Score),
		zap.String("tier", string(res.Tier)),
		zap.String("grade", string(res.Grade)),
		zap.Any("factors", res.Factors),
	}
	if sig == nil {
		e.logger.Debug("bar scored", fields...)
		return nil
	}
	e.logger.Info("signal", fields...)

	if err := bus.PublishJSON(ctx, e.pub, e.opts.SignalTopic, sig, e.opts.Retries); err != nil {
		e.metrics.BusFailures.WithLabelValues(e.opts.SignalTopic).Inc()
		e.logger.Error("failed to publish signal",
			zap.String("symbol", sig.Symbol), zap.String("signal_id", sig.ID), zap.Error(err))
		return fmt.Errorf("publish signal %s: %w", sig.ID, err)
	}
	return nil
}

// Run consumes BarClosed events until ctx is done. Undecodable payloads and
// publish failures are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, sub bus.Subscriber) error {
	return e.Listen(ctx, sub, func() {})
}

// Listen is Run with ready called once closed bars are being received.
func (e *Engine) Listen(ctx context.Context, sub bus.Subscriber, ready func()) error {
	return bus.SubscribeReady(ctx, sub, e.opts.BarTopic, func(ctx context.Context, payload []byte) {
		var ev market.BarClosed
		if err := bus.Decode(payload, &ev); err != nil {
			e.logger.Warn("dropping undecodable bar event", zap.Error(err))
			return
		}
		_ = e.Handle(ctx, ev)
	}, func() {
		e.logger.Info("scoring engine listening", zap.String("topic", e.opts.BarTopic))
		ready()
	})
}

// State reports whether a previous bar is held for symbol.
func (e *Engine) State(symbol string) SymbolState {
	e.globalMu.RLock()
	st, ok := e.states[symbol]
	e.globalMu.RUnlock()
	if !ok {
		return Unseen
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.prev == nil {
		return Unseen
	}
	return Tracking
}

func (e *Engine) state(symbol string) *scoreState {
	e.globalMu.RLock()
	st, ok := e.states[symbol]
	e.globalMu.RUnlock()
	if ok {
		return st
	}

	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	if st, ok = e.states[symbol]; !ok {
		st = &scoreState{}
		e.states[symbol] = st
	}
	return st
}
