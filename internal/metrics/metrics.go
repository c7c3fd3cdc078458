// Package metrics exposes pipeline counters for operators.
//
// Registered series:
//
//	ticks_total{symbol}
//	malformed_ticks_total
//	out_of_order_ticks_total{symbol}
//	bars_closed_total{symbol}
//	bars_persisted_total
//	persist_failures_total
//	queue_full_total
//	bus_failures_total{topic}
//	signals_total{tier}
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	Ticks           *prometheus.CounterVec
	MalformedTicks  prometheus.Counter
	OutOfOrderTicks *prometheus.CounterVec
	BarsClosed      *prometheus.CounterVec
	BarsPersisted   prometheus.Counter
	PersistFailures prometheus.Counter
	QueueFull       prometheus.Counter
	BusFailures     *prometheus.CounterVec
	Signals         *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the counters and registers them on reg. A nil reg gets a fresh
// private registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ticks_total", Help: "Normalized ticks ingested"},
			[]string{"symbol"},
		),
		MalformedTicks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "malformed_ticks_total", Help: "Feed entries dropped at normalization"},
		),
		OutOfOrderTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "out_of_order_ticks_total", Help: "Ticks older than the open bar"},
			[]string{"symbol"},
		),
		BarsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bars_closed_total", Help: "Bars finalized by the aggregator"},
			[]string{"symbol"},
		),
		BarsPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "bars_persisted_total", Help: "Bars newly stored by the sink"},
		),
		PersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "persist_failures_total", Help: "Bars discarded after the retry was exhausted"},
		),
		QueueFull: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "queue_full_total", Help: "Bars dropped because the persistence queue was full"},
		),
		BusFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bus_failures_total", Help: "Publishes that failed after the retry"},
			[]string{"topic"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signals_total", Help: "Scored bars by tier"},
			[]string{"tier"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Ticks, m.MalformedTicks, m.OutOfOrderTicks, m.BarsClosed, m.BarsPersisted,
		m.PersistFailures, m.QueueFull, m.BusFailures, m.Signals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry the counters live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Serve binds addr and exposes /metrics on it in the background. A bind
// failure is returned; errors after that are logged.
func (m *Metrics) Serve(addr string, logger *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}()
	return srv, nil
}
