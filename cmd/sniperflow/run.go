package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sniperflow/config"
	"sniperflow/internal/bus"
	"sniperflow/internal/feed"
	"sniperflow/internal/metrics"
	"sniperflow/internal/persist"
	"sniperflow/internal/pipeline"
	"sniperflow/internal/retention"
	"sniperflow/internal/scoring"
	"sniperflow/internal/session"
	"sniperflow/pkg/storage/memory"
	"sniperflow/pkg/storage/postgres"
	"sniperflow/pkg/upstox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream the feed, persist bars and publish trade signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, log)
	},
}

// barStore is what the pipeline and the retention job need from storage.
type barStore interface {
	persist.Sink
	retention.Deleter
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New(nil)
	if cfg.Metrics.Addr != "" {
		srv, err := m.Serve(cfg.Metrics.Addr, log)
		if err != nil {
			return err
		}
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", srv.Addr))
	}

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := openBus(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	p := pipeline.New(store, b, pipeline.Options{
		Persist: persist.Options{
			Shards:         cfg.Pipeline.Shards,
			QueueSize:      cfg.Pipeline.QueueSize,
			WriteTimeout:   cfg.Pipeline.WriteTimeout,
			EnqueueTimeout: cfg.Pipeline.EnqueueTimeout,
			Retries:        cfg.Pipeline.Retries,
			Topic:          cfg.Pipeline.BarTopic,
		},
		Scoring: scoring.Options{
			BarTopic:    cfg.Pipeline.BarTopic,
			SignalTopic: cfg.Pipeline.SignalTopic,
			Retries:     cfg.Pipeline.Retries,
		},
		ShutdownGrace: cfg.Pipeline.ShutdownGrace,
	}, log, m)

	// the engine must be subscribed before the first bar can close
	if err := p.Start(); err != nil {
		return err
	}
	if err := startFeed(ctx, cfg, p, m, log); err != nil {
		return err
	}

	if cfg.Retention.Days > 0 {
		go retention.NewJanitor(store, cfg.Retention.Days, log).Run(ctx)
	}

	log.Info("pipeline running")
	err = p.Run(ctx)
	log.Info("pipeline stopped")
	return err
}

func openStore(cfg *config.Config, log *zap.Logger) (barStore, func(), error) {
	if !cfg.Postgres.Enabled {
		log.Warn("postgres disabled; bars are kept in memory only")
		return memory.NewMemoryStore(), func() {}, nil
	}

	client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func openBus(cfg *config.Config, log *zap.Logger) (bus.Bus, error) {
	if !cfg.NATS.Enabled {
		return bus.NewMemoryBus(cfg.NATS.SubscribeBuffer), nil
	}
	nb, err := bus.NewNATSBus(cfg.NATS, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nb, nil
}

// startFeed connects the broker websocket and routes its frames into p.
func startFeed(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, m *metrics.Metrics, log *zap.Logger) error {
	if len(cfg.Feed.Instruments) == 0 {
		log.Warn("no instruments configured; feed not started")
		return nil
	}

	reg := feed.NewRegistry()
	for _, inst := range cfg.Feed.Instruments {
		reg.Add(inst.Key, inst.Symbol)
	}

	sess, err := session.New(cfg.Feed.AccessToken, cfg.Feed.TokenTTL)
	if err != nil {
		return fmt.Errorf("broker session: %w", err)
	}
	rest := upstox.NewRESTClient(cfg.Feed.AuthorizeURL, cfg.Feed.Timeout)
	source := func(ctx context.Context) (string, error) {
		return rest.AuthorizeFeed(ctx, sess)
	}

	ws := upstox.NewWSClient(source, reg.Keys(), cfg.Feed.Mode, 3*time.Second, log)
	ws.SetMessageHandler(feed.MakeMessageHandler(log.Named("feed"), feed.NewNormalizer(reg, nil), p.Sink(ctx), m))

	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	go func() {
		if err := ws.Listen(ctx); err != nil {
			log.Error("feed listener stopped", zap.Error(err))
		}
	}()
	return nil
}
