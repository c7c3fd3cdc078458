package upstox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// URLSource returns a fresh websocket URL. Feed URLs are single use, so one
// is requested for every (re)connect.
type URLSource func(ctx context.Context) (string, error)

// WSClient handles the market data websocket and message routing.
type WSClient struct {
	source  URLSource
	keys    []string
	mode    string
	handler func([]byte)
	logger  *zap.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a client subscribing keys in mode. Reconnects are
// limited to one every reconnectEvery.
func NewWSClient(source URLSource, keys []string, mode string, reconnectEvery time.Duration, logger *zap.Logger) *WSClient {
	if reconnectEvery <= 0 {
		reconnectEvery = 3 * time.Second
	}
	return &WSClient{
		source:  source,
		keys:    keys,
		mode:    mode,
		logger:  logger.Named("ws"),
		dialer:  websocket.DefaultDialer,
		limiter: rate.NewLimiter(rate.Every(reconnectEvery), 1),
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect establishes the connection and subscribes. It does not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	url, err := c.source(ctx)
	if err != nil {
		return fmt.Errorf("resolve feed url: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.Error(err))
		return err
	}

	sub := SubscribeRequest{
		GUID:   uuid.NewString(),
		Method: "sub",
		Data:   SubscribeData{Mode: c.mode, InstrumentKeys: c.keys},
	}
	// the feed expects the request as a binary frame
	payload, err := json.Marshal(sub)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		_ = conn.Close()
		return fmt.Errorf("websocket subscribe failed: %w", err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.logger.Info("WebSocket connected", zap.Int("instruments", len(c.keys)), zap.String("mode", c.mode))
	return nil
}

// Listen reads messages until ctx is done, reconnecting and resubscribing
// after read errors. It returns nil on cancellation.
func (c *WSClient) Listen(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			if err := c.reconnect(ctx); err != nil {
				return nil
			}
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("WebSocket read error", zap.Error(err))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries Connect until it succeeds or ctx is done.
func (c *WSClient) reconnect(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.Connect(ctx)
		if err == nil {
			c.logger.Info("Reconnected successfully")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Retrying reconnect...", zap.Error(err))
	}
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
