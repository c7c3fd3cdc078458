// Package bus carries pipeline events between producers and consumers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by a bus that has been closed.
	ErrClosed = errors.New("bus closed")
	// ErrSlowConsumer is returned when a subscriber's buffer could not take the message.
	ErrSlowConsumer = errors.New("subscriber buffer full")
)

// Handler receives one payload. Calls for a subscription are sequential and in delivery order.
type Handler func(ctx context.Context, payload []byte)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Subscriber interface {
	// Subscribe delivers messages on topic to h until ctx is done. It returns
	// nil on cancellation and an error if the subscription could not be kept.
	// Messages already received when ctx ends are still handed to h, with a
	// context that is no longer cancelled.
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// notifier is implemented by subscribers that can report when a subscription is live.
type notifier interface {
	SubscribeNotify(ctx context.Context, topic string, h Handler, ready func()) error
}

// SubscribeReady is Subscribe that calls ready once messages published on
// topic are guaranteed to reach h. For subscribers that cannot tell, ready
// is called just before subscribing.
func SubscribeReady(ctx context.Context, sub Subscriber, topic string, h Handler, ready func()) error {
	if n, ok := sub.(notifier); ok {
		return n.SubscribeNotify(ctx, topic, h, ready)
	}
	ready()
	return sub.Subscribe(ctx, topic, h)
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Encode marshals an event payload.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode unmarshals an event payload into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// PublishJSON encodes v and publishes it, re-attempting once on failure.
func PublishJSON(ctx context.Context, pub Publisher, topic string, v any, retries int) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err = pub.Publish(ctx, topic, data)
		if err == nil || attempt >= retries || ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return err
		}
	}
}
