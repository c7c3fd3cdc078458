package upstox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// feedServer accepts a subscription, sends one frame naming the connection
// number, then drops the connection.
type feedServer struct {
	conns atomic.Int32
	mu    sync.Mutex
	subs  []SubscribeRequest
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := f.conns.Add(1)

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var sub SubscribeRequest
	if json.Unmarshal(payload, &sub) == nil {
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}

	frame, _ := json.Marshal(map[string]any{"type": "live_feed", "conn": n})
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	if n > 1 {
		// keep the second connection open until the client leaves
		_, _, _ = conn.ReadMessage()
	}
}

// go test -v --run TestWSClientListen
func TestWSClientListen(t *testing.T) {
	fs := &feedServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var authorized atomic.Int32
	source := func(context.Context) (string, error) {
		authorized.Add(1)
		return wsURL, nil
	}

	client := NewWSClient(source, []string{"NSE_INDEX|Nifty 50"}, "full_d30", time.Millisecond, zap.NewNop())

	var (
		mu     sync.Mutex
		frames []string
	)
	client.SetMessageHandler(func(msg []byte) {
		mu.Lock()
		frames = append(frames, string(msg))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}

	assert.Equal(t, int32(2), authorized.Load(), "one url per connect")
	mu.Lock()
	assert.Contains(t, frames[0], `"conn":1`)
	assert.Contains(t, frames[1], `"conn":2`)
	mu.Unlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.subs, 2)
	for _, sub := range fs.subs {
		assert.Equal(t, "sub", sub.Method)
		assert.Equal(t, "full_d30", sub.Data.Mode)
		assert.Equal(t, []string{"NSE_INDEX|Nifty 50"}, sub.Data.InstrumentKeys)
		assert.NotEmpty(t, sub.GUID)
	}
}

func TestWSClientConnectFails(t *testing.T) {
	source := func(context.Context) (string, error) { return "ws://127.0.0.1:1/none", nil }
	client := NewWSClient(source, nil, "full_d30", time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
	assert.NoError(t, client.Close())
}
