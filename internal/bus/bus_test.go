package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sniperflow/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(_ context.Context, payload []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(payload))
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func subscribe(t *testing.T, b *MemoryBus, topic string, h Handler) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	before := b.Subscribers(topic)
	go func() { done <- b.Subscribe(ctx, topic, h) }()
	require.Eventually(t, func() bool { return b.Subscribers(topic) == before+1 }, time.Second, 5*time.Millisecond)
	return cancel, done
}

// go test -v --run TestMemoryBusDeliversInOrder
func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus(16)
	defer b.Close()

	var c collector
	cancel, done := subscribe(t, b, "bar.closed", c.handle)

	ctx := context.Background()
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, "bar.closed", []byte(m)))
	}
	// other topics are not delivered
	require.NoError(t, b.Publish(ctx, "trade.signals", []byte("x")))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, c.snapshot())

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 0, b.Subscribers("bar.closed"))
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemoryBus(16)
	defer b.Close()

	var c1, c2 collector
	cancel1, _ := subscribe(t, b, "t", c1.handle)
	defer cancel1()
	cancel2, _ := subscribe(t, b, "t", c2.handle)
	defer cancel2()

	require.NoError(t, b.Publish(context.Background(), "t", []byte("m")))
	require.Eventually(t, func() bool {
		return len(c1.snapshot()) == 1 && len(c2.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusSlowConsumer(t *testing.T) {
	b := NewMemoryBus(1)
	defer b.Close()

	block := make(chan struct{})
	defer close(block)
	cancel, _ := subscribe(t, b, "t", func(context.Context, []byte) { <-block })
	defer cancel()

	ctx := context.Background()
	var sawFull bool
	for i := 0; i < 5; i++ {
		if err := b.Publish(ctx, "t", []byte("m")); errors.Is(err, ErrSlowConsumer) {
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull)
}

// go test -v --run TestMemoryBusDrainsOnCancel
func TestMemoryBusDrainsOnCancel(t *testing.T) {
	b := NewMemoryBus(8)
	defer b.Close()

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	var mu sync.Mutex
	var got []string
	var cancelled int
	cancel, done := subscribe(t, b, "t", func(ctx context.Context, payload []byte) {
		select {
		case started <- struct{}{}:
			<-block
		default:
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
		if ctx.Err() != nil {
			cancelled++
		}
	})

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "t", []byte("a")))
	<-started
	// queued behind the blocked handler
	for _, m := range []string{"b", "c", "d"} {
		require.NoError(t, b.Publish(ctx, "t", []byte(m)))
	}

	cancel()
	close(block)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	// only "a" was in flight when the subscription was cancelled
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 0, b.Subscribers("t"))
}

type plainSubscriber struct{ subscribed bool }

func (p *plainSubscriber) Subscribe(context.Context, string, Handler) error {
	p.subscribed = true
	return nil
}

// go test -v --run TestSubscribeReady
func TestSubscribeReady(t *testing.T) {
	t.Run("memory bus delivers from ready on", func(t *testing.T) {
		b := NewMemoryBus(8)
		defer b.Close()

		ctx, cancel := context.WithCancel(context.Background())
		var c collector
		done := make(chan error, 1)
		go func() {
			done <- SubscribeReady(ctx, b, "t", c.handle, func() {
				// no wait on Subscribers: ready alone must be enough
				assert.NoError(t, b.Publish(context.Background(), "t", []byte("first")))
			})
		}()

		require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"first"}, c.snapshot())
		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("fallback calls ready before subscribing", func(t *testing.T) {
		p := &plainSubscriber{}
		var readyFirst bool
		err := SubscribeReady(context.Background(), p, "t", nil, func() { readyFirst = !p.subscribed })
		require.NoError(t, err)
		assert.True(t, readyFirst)
		assert.True(t, p.subscribed)
	})
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus(4)
	_, done := subscribe(t, b, "t", func(context.Context, []byte) {})

	require.NoError(t, b.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "t", nil), ErrClosed)
	assert.NoError(t, b.Close())
}

type flakyPublisher struct {
	failures int
	calls    int
	last     []byte
}

func (f *flakyPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("unavailable")
	}
	f.last = payload
	return nil
}

// go test -v --run TestPublishJSON
func TestPublishJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("single retry recovers", func(t *testing.T) {
		p := &flakyPublisher{failures: 1}
		require.NoError(t, PublishJSON(ctx, p, "t", map[string]int{"a": 1}, 1))
		assert.Equal(t, 2, p.calls)
		assert.JSONEq(t, `{"a":1}`, string(p.last))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		p := &flakyPublisher{failures: 5}
		assert.Error(t, PublishJSON(ctx, p, "t", 1, 1))
		assert.Equal(t, 2, p.calls)
	})

	t.Run("encode failure", func(t *testing.T) {
		p := &flakyPublisher{}
		assert.Error(t, PublishJSON(ctx, p, "t", make(chan int), 1))
		assert.Zero(t, p.calls)
	})
}

func TestDecode(t *testing.T) {
	var v struct{ A int }
	require.NoError(t, Decode([]byte(`{"A":3}`), &v))
	assert.Equal(t, 3, v.A)
	assert.Error(t, Decode([]byte(`{`), &v))
}

func TestNATSSubject(t *testing.T) {
	b := &NATSBus{cfg: config.NATSConfig{SubjectPrefix: "sniper"}, logger: zap.NewNop()}
	assert.Equal(t, "sniper.bar.closed", b.subject("bar.closed"))

	b.cfg.SubjectPrefix = ""
	assert.Equal(t, "bar.closed", b.subject("bar.closed"))

	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), ErrClosed)
	assert.NoError(t, b.Close())
}

func TestNewNATSBusRequiresServers(t *testing.T) {
	_, err := NewNATSBus(config.NATSConfig{}, zap.NewNop())
	assert.Error(t, err)
}
