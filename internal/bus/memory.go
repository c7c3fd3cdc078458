package bus

import (
	"context"
	"sync"

	"github.com/asaskevich/EventBus"
)

// delivery is handed through EventBus so the forwarder can report back.
type delivery struct {
	payload []byte
	err     error
}

// MemoryBus is an in-process bus. Publish is synchronous up to the
// subscriber buffers; a full buffer fails the publish with ErrSlowConsumer
// rather than blocking the publisher.
type MemoryBus struct {
	eb     EventBus.Bus
	buffer int

	// fwdMu is taken before the EventBus lock, mu only after it.
	fwdMu      sync.Mutex
	forwarding map[string]bool

	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
	done   chan struct{}
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBus{
		eb:         EventBus.New(),
		buffer:     buffer,
		subs:       make(map[string]map[int]chan []byte),
		forwarding: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	d := &delivery{payload: payload}
	b.eb.Publish(topic, d)
	return d.err
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	return b.SubscribeNotify(ctx, topic, h, nil)
}

// SubscribeNotify calls ready, when non-nil, once the subscriber is registered.
func (b *MemoryBus) SubscribeNotify(ctx context.Context, topic string, h Handler, ready func()) error {
	id, ch, err := b.register(topic)
	if err != nil {
		return err
	}
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			b.unregister(topic, id)
			// nothing reaches ch after unregister
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case payload := <-ch:
					h(drainCtx, payload)
				default:
					return nil
				}
			}
		case <-b.done:
			b.unregister(topic, id)
			return ErrClosed
		case payload := <-ch:
			if ctx.Err() != nil {
				// select raced the cancellation; the drain rules apply
				h(context.WithoutCancel(ctx), payload)
				continue
			}
			h(ctx, payload)
		}
	}
}

// Close stops all subscriptions. Publishing afterwards fails with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}

func (b *MemoryBus) register(topic string) (int, chan []byte, error) {
	// one forwarder per topic; EventBus matches handlers by code pointer, so
	// per-subscriber closures could not be unsubscribed reliably
	b.fwdMu.Lock()
	if !b.forwarding[topic] {
		if err := b.eb.Subscribe(topic, b.forwarder(topic)); err != nil {
			b.fwdMu.Unlock()
			return 0, nil, err
		}
		b.forwarding[topic] = true
	}
	b.fwdMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, ErrClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan []byte)
	}
	b.nextID++
	ch := make(chan []byte, b.buffer)
	b.subs[topic][b.nextID] = ch
	return b.nextID, ch, nil
}

func (b *MemoryBus) unregister(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], id)
}

func (b *MemoryBus) forwarder(topic string) func(d *delivery) {
	return func(d *delivery) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		for _, ch := range b.subs[topic] {
			select {
			case ch <- d.payload:
			default:
				d.err = ErrSlowConsumer
			}
		}
	}
}

// Subscribers reports how many live subscriptions a topic has.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
