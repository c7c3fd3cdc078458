package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sniperflow/config"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus publishes and subscribes over NATS core subjects.
type NATSBus struct {
	cfg    config.NATSConfig
	logger *zap.Logger

	mu        sync.RWMutex
	nc        *nats.Conn
	connected bool
}

// NewNATSBus connects to the first reachable configured server.
func NewNATSBus(cfg config.NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	b := &NATSBus{cfg: cfg, logger: logger.Named("nats")}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *NATSBus) connect() error {
	if len(b.cfg.Servers) == 0 {
		return fmt.Errorf("no NATS servers configured")
	}

	opts := []nats.Option{
		nats.Name(b.cfg.ClientID),
		nats.Timeout(b.cfg.ConnectTimeout),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.FlusherTimeout(b.cfg.FlushTimeout),
		nats.RetryOnFailedConnect(true),

		nats.ConnectHandler(func(nc *nats.Conn) {
			// only fires for a connect deferred by RetryOnFailedConnect
			b.logger.Info("NATS connected", zap.String("url", nc.ConnectedUrl()))
			b.setConnected(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Warn("NATS connection closed")
			b.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("NATS disconnected, attempting reconnect", zap.Error(err))
			b.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			b.setConnected(true)
		}),
	}

	nc, err := nats.Connect(strings.Join(b.cfg.Servers, ","), opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	b.mu.Lock()
	b.nc = nc
	b.connected = nc.IsConnected()
	b.mu.Unlock()

	b.logger.Info("NATS client ready", zap.Strings("servers", b.cfg.Servers))
	return nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc := b.conn()
	if nc == nil || nc.IsClosed() {
		return ErrClosed
	}
	if !b.IsConnected() {
		return fmt.Errorf("nats client not connected")
	}
	// fire-and-forget; delivery is at-least-once only across reconnect buffering
	return nc.Publish(b.subject(topic), payload)
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	return b.SubscribeNotify(ctx, topic, h, nil)
}

// SubscribeNotify calls ready, when non-nil, once the server has acknowledged
// the subscription.
func (b *NATSBus) SubscribeNotify(ctx context.Context, topic string, h Handler, ready func()) error {
	nc := b.conn()
	if nc == nil || nc.IsClosed() {
		return ErrClosed
	}

	buffer := b.cfg.SubscribeBuffer
	if buffer <= 0 {
		buffer = 1024
	}
	ch := make(chan *nats.Msg, buffer)
	sub, err := nc.ChanSubscribe(b.subject(topic), ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := nc.FlushTimeout(b.flushTimeout()); err != nil {
		b.logger.Warn("subscription not confirmed", zap.String("topic", topic), zap.Error(err))
	}
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			b.drain(context.WithoutCancel(ctx), nc, sub, topic, ch, h)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			if ctx.Err() != nil {
				h(context.WithoutCancel(ctx), msg.Data)
				continue
			}
			h(ctx, msg.Data)
		}
	}
}

// drain unsubscribes and hands h whatever had already arrived. The flush
// makes the server deliver our own earlier publishes first.
func (b *NATSBus) drain(ctx context.Context, nc *nats.Conn, sub *nats.Subscription, topic string, ch chan *nats.Msg, h Handler) {
	if !nc.IsClosed() {
		if err := nc.FlushTimeout(b.flushTimeout()); err != nil {
			b.logger.Warn("flush before unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	if err := sub.Unsubscribe(); err != nil && !nc.IsClosed() {
		b.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
	}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h(ctx, msg.Data)
		default:
			return
		}
	}
}

func (b *NATSBus) flushTimeout() time.Duration {
	if b.cfg.FlushTimeout <= 0 {
		return 2 * time.Second
	}
	return b.cfg.FlushTimeout
}

// IsConnected returns the current connection status.
func (b *NATSBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Close flushes pending publishes and closes the connection.
func (b *NATSBus) Close() error {
	nc := b.conn()
	if nc == nil || nc.IsClosed() {
		return nil
	}
	if err := nc.FlushTimeout(b.flushTimeout()); err != nil {
		b.logger.Warn("NATS flush on close failed", zap.Error(err))
	}
	nc.Close()
	return nil
}

func (b *NATSBus) conn() *nats.Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nc
}

func (b *NATSBus) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *NATSBus) subject(topic string) string {
	if b.cfg.SubjectPrefix == "" {
		return topic
	}
	return b.cfg.SubjectPrefix + "." + topic
}
