package main

import (
	"context"
	"time"

	"sniperflow/pkg/storage/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database and the market_candles table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := client.EnsureHypertable(ctx); err != nil {
			log.Warn("market_candles stays a plain table; is timescaledb installed?", zap.Error(err))
		}

		log.Info("migration complete", zap.String("database", cfg.Postgres.DBName))
		return nil
	},
}
