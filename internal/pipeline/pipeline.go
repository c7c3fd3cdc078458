// Package pipeline wires ticks through aggregation, persistence and scoring.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sniperflow/internal/aggregator"
	"sniperflow/internal/bus"
	"sniperflow/internal/market"
	"sniperflow/internal/metrics"
	"sniperflow/internal/persist"
	"sniperflow/internal/scoring"

	"go.uber.org/zap"
)

type Options struct {
	Persist       persist.Options
	Scoring       scoring.Options
	ShutdownGrace time.Duration
}

// Pipeline owns the aggregator, the persistence writer and the scoring
// engine. Closed bars flow aggregator → writer → bus → engine.
type Pipeline struct {
	agg     *aggregator.Aggregator
	writer  *persist.Writer
	engine  *scoring.Engine
	bus     bus.Bus
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	startOnce  sync.Once
	startErr   error
	stopEngine context.CancelFunc
	engineDone chan error
}

func New(sink persist.Sink, b bus.Bus, opts Options, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	// the engine listens where the writer announces
	if opts.Scoring.BarTopic == "" {
		opts.Scoring.BarTopic = opts.Persist.Topic
	}
	return &Pipeline{
		agg:     aggregator.New(),
		writer:  persist.NewWriter(sink, b, opts.Persist, logger, m),
		engine:  scoring.NewEngine(b, opts.Scoring, logger, m),
		bus:     b,
		opts:    opts,
		logger:  logger.Named("pipeline"),
		metrics: m,
	}
}

// Ingest folds tick into its bar and hands a closed bar to the writer.
// It never blocks longer than the writer's enqueue timeout.
func (p *Pipeline) Ingest(ctx context.Context, tick market.NormalizedTick) {
	p.metrics.Ticks.WithLabelValues(tick.Symbol).Inc()

	if open, ok := p.agg.OpenBar(tick.Symbol); ok &&
		open.BucketStart == tick.BucketStart() && tick.CumulativeVolume < open.OHLCV.Volume {
		// the bar keeps its running max; a mid-bar session reset is only reported
		p.logger.Warn("cumulative volume went backwards",
			zap.String("symbol", tick.Symbol),
			zap.Int64("bar_volume", open.OHLCV.Volume),
			zap.Int64("tick_volume", tick.CumulativeVolume))
	}

	closed, err := p.agg.Ingest(tick)
	if err != nil {
		if errors.Is(err, aggregator.ErrOutOfOrderTick) {
			p.metrics.OutOfOrderTicks.WithLabelValues(tick.Symbol).Inc()
		}
		p.logger.Debug("tick dropped",
			zap.String("symbol", tick.Symbol), zap.Int64("bucket_start", tick.BucketStart()), zap.Error(err))
		return
	}
	if closed != nil {
		p.submit(ctx, *closed)
	}
}

// Sink adapts Ingest to the feed message handler.
func (p *Pipeline) Sink(ctx context.Context) func(market.NormalizedTick) {
	return func(tick market.NormalizedTick) { p.Ingest(ctx, tick) }
}

// Start subscribes the scoring engine and returns once it is receiving
// closed bars, so ticks ingested afterwards cannot close a bar nobody
// scores. Run calls it when it has not been called.
func (p *Pipeline) Start() error {
	p.startOnce.Do(func() {
		// the engine outlives ctx so it can score the bars flushed on shutdown
		engineCtx, stopEngine := context.WithCancel(context.Background())
		p.stopEngine = stopEngine
		p.engineDone = make(chan error, 1)

		ready := make(chan struct{})
		go func() {
			p.engineDone <- p.engine.Listen(engineCtx, p.bus, func() { close(ready) })
		}()

		select {
		case <-ready:
		case err := <-p.engineDone:
			p.engineDone <- err
			p.startErr = fmt.Errorf("scoring engine subscribe: %w", err)
		}
	})
	return p.startErr
}

// Run scores bars until ctx is done, then flushes the open bars and drains
// the writer within the shutdown grace period. Bars already announced when
// the writer is drained are scored before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	runErr := p.Start()
	if runErr == nil {
		select {
		case <-ctx.Done():
		case err := <-p.engineDone:
			// the subscription ended on its own, e.g. the bus was closed
			p.engineDone <- err
			runErr = fmt.Errorf("scoring engine stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownGrace)
	defer cancel()
	err := p.Shutdown(shutdownCtx)

	// the subscription hands its buffered events to the engine before returning
	p.stopEngine()
	<-p.engineDone
	return errors.Join(runErr, err)
}

// Shutdown closes every open bar and waits for the writer to drain.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	bars := p.agg.FlushAll()
	p.logger.Info("flushing open bars", zap.Int("count", len(bars)))
	for _, bar := range bars {
		p.submit(ctx, bar)
	}
	return p.writer.Close(ctx)
}

// Aggregator exposes the open bars for inspection.
func (p *Pipeline) Aggregator() *aggregator.Aggregator { return p.agg }

// Engine exposes the scoring state for inspection.
func (p *Pipeline) Engine() *scoring.Engine { return p.engine }

func (p *Pipeline) submit(ctx context.Context, bar market.Bar) {
	p.metrics.BarsClosed.WithLabelValues(bar.Symbol).Inc()
	p.logger.Info("bar closed",
		zap.String("symbol", bar.Symbol),
		zap.Int64("bucket_start", bar.BucketStart),
		zap.Float64("open", bar.OHLCV.Open),
		zap.Float64("high", bar.OHLCV.High),
		zap.Float64("low", bar.OHLCV.Low),
		zap.Float64("close", bar.OHLCV.Close),
		zap.Int64("volume", bar.OHLCV.Volume))

	if err := p.writer.Submit(ctx, bar); err != nil && !errors.Is(err, persist.ErrQueueFull) {
		p.logger.Error("bar discarded",
			zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart), zap.Error(err))
	}
}
