// Package persist stores closed bars off the ingest path and announces them
// on the bus once stored.
package persist

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"sniperflow/internal/bus"
	"sniperflow/internal/market"
	"sniperflow/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a bar could not be queued within the enqueue timeout.
	ErrQueueFull = errors.New("persistence queue full")
	// ErrWriterClosed is returned by Submit after Close.
	ErrWriterClosed = errors.New("writer closed")
)

// Sink stores bars. A bar whose key already exists is reported as
// inserted=false with a nil error.
type Sink interface {
	InsertBar(ctx context.Context, bar market.Bar) (inserted bool, err error)
}

type Options struct {
	Shards         int
	QueueSize      int // per shard
	WriteTimeout   time.Duration
	EnqueueTimeout time.Duration
	Retries        int // re-attempts after the first write or publish
	Topic          string
}

func (o *Options) withDefaults() {
	if o.Shards <= 0 {
		o.Shards = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 500 * time.Millisecond
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Topic == "" {
		o.Topic = market.TopicBarClosed
	}
}

// Writer persists closed bars through a fixed set of workers. Bars of one
// symbol always go to the same worker, so they are stored and announced in
// bucket order.
type Writer struct {
	sink    Sink
	pub     bus.Publisher
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	shards []chan market.Bar

	wg     sync.WaitGroup
	ctx    context.Context // cancelled when Close gives up waiting
	cancel context.CancelFunc
}

func NewWriter(sink Sink, pub bus.Publisher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Writer {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		sink:    sink,
		pub:     pub,
		opts:    opts,
		logger:  logger.Named("persist"),
		metrics: m,
		shards:  make([]chan market.Bar, opts.Shards),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range w.shards {
		w.shards[i] = make(chan market.Bar, opts.QueueSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}
	return w
}

// Submit queues bar for persistence. It waits at most EnqueueTimeout for room.
func (w *Writer) Submit(ctx context.Context, bar market.Bar) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	ch := w.shards[shardFor(bar.Symbol, len(w.shards))]
	select {
	case ch <- bar:
		return nil
	default:
	}

	timer := time.NewTimer(w.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case ch <- bar:
		return nil
	case <-timer.C:
		w.metrics.QueueFull.Inc()
		w.logger.Error("bar discarded: queue full",
			zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart))
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting bars and waits until every queued bar was handled or
// ctx is done, in which case in-flight writes are cancelled.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return fmt.Errorf("drain persistence queue: %w", ctx.Err())
	}
}

func (w *Writer) worker(ch <-chan market.Bar) {
	defer w.wg.Done()
	for bar := range ch {
		w.persist(bar)
		w.announce(bar)
	}
}

func (w *Writer) persist(bar market.Bar) {
	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		ctx, cancel := context.WithTimeout(w.ctx, w.opts.WriteTimeout)
		var inserted bool
		inserted, err = w.sink.InsertBar(ctx, bar)
		cancel()

		if err == nil {
			if inserted {
				w.metrics.BarsPersisted.Inc()
			} else {
				w.logger.Debug("duplicate bar skipped",
					zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart))
			}
			return
		}
		if w.ctx.Err() != nil {
			break
		}
		w.logger.Warn("bar write failed",
			zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart),
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	w.metrics.PersistFailures.Inc()
	w.logger.Error("bar discarded",
		zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart), zap.Error(err))
}

// announce publishes BarClosed whether or not the write succeeded.
func (w *Writer) announce(bar market.Bar) {
	ev := market.BarClosed{Symbol: bar.Symbol, Bar: bar}
	if err := bus.PublishJSON(w.ctx, w.pub, w.opts.Topic, ev, w.opts.Retries); err != nil {
		w.metrics.BusFailures.WithLabelValues(w.opts.Topic).Inc()
		w.logger.Error("failed to publish bar closed",
			zap.String("symbol", bar.Symbol), zap.Int64("bucket_start", bar.BucketStart), zap.Error(err))
	}
}

func shardFor(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
