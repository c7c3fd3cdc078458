package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestCountersRegistered
func TestCountersRegistered(t *testing.T) {
	m := New(nil)

	m.Ticks.WithLabelValues("NIFTY").Inc()
	m.Ticks.WithLabelValues("NIFTY").Inc()
	m.Signals.WithLabelValues("STRONG_BUY").Inc()
	m.MalformedTicks.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("NIFTY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedTicks))

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"ticks_total", "signals_total", "malformed_ticks_total"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

// go test -v --run TestServe
func TestServe(t *testing.T) {
	m := New(nil)
	m.BarsPersisted.Inc()

	srv, err := m.Serve("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bars_persisted_total 1")

	t.Run("address in use", func(t *testing.T) {
		_, err := New(nil).Serve(srv.Addr, zap.NewNop())
		assert.Error(t, err)
	})
}
