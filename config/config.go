package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// FeedConfig describes the broker market-data feed.
type FeedConfig struct {
	AuthorizeURL string           `mapstructure:"authorize_url"` // REST endpoint returning the websocket URL
	AccessToken  string           `mapstructure:"access_token"`  // usually supplied through FEED_ACCESS_TOKEN
	TokenTTL     time.Duration    `mapstructure:"token_ttl"`
	Mode         string           `mapstructure:"mode"` // subscription mode, e.g. "full_d30"
	Timeout      time.Duration    `mapstructure:"timeout"`
	Instruments  []InstrumentSpec `mapstructure:"instruments"`
}

// InstrumentSpec maps a broker instrument key to the symbol used in bars.
// An empty Symbol falls back to the key.
type InstrumentSpec struct {
	Key    string `mapstructure:"key"`
	Symbol string `mapstructure:"symbol"`
}

type PipelineConfig struct {
	Shards         int           `mapstructure:"shards"`
	QueueSize      int           `mapstructure:"queue_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	Retries        int           `mapstructure:"retries"`
	BarTopic       string        `mapstructure:"bar_topic"`
	SignalTopic    string        `mapstructure:"signal_topic"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

type RetentionConfig struct {
	Days int `mapstructure:"days"` // 0 keeps bars forever
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// secretKeys are read from the environment (FEED_ACCESS_TOKEN, POSTGRES_USER, ...).
var secretKeys = []string{
	"feed.access_token",
	"postgres.user",
	"postgres.password",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("postgres.enabled", true)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.dbname", "sniperflow")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.client_id", "sniperflow")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.flush_timeout", 2*time.Second)
	v.SetDefault("nats.subscribe_buffer", 1024)

	v.SetDefault("feed.authorize_url", "https://api.upstox.com/v3/feed/market-data-feed/authorize")
	v.SetDefault("feed.token_ttl", 24*time.Hour)
	v.SetDefault("feed.mode", "full_d30")
	v.SetDefault("feed.timeout", 10*time.Second)

	v.SetDefault("pipeline.shards", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.write_timeout", 2*time.Second)
	v.SetDefault("pipeline.enqueue_timeout", 500*time.Millisecond)
	v.SetDefault("pipeline.retries", 1)
	v.SetDefault("pipeline.bar_topic", "bar.closed")
	v.SetDefault("pipeline.signal_topic", "trade.signals")
	v.SetDefault("pipeline.shutdown_grace", 10*time.Second)

	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("retention.days", 30)
}

// Load reads config.yaml from dir (or the default search paths when dir is
// empty), applies a best-effort .env file and environment overrides.
func Load(dir string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		pwd, _ := os.Getwd()
		v.AddConfigPath(pwd)
		v.AddConfigPath(filepath.Join(pwd, "config"))
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., FEED_ACCESS_TOKEN)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// secrets have no default and are usually absent from config.yaml, so
	// AutomaticEnv alone would never surface them to Unmarshal
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Pipeline.Shards <= 0 {
		return fmt.Errorf("pipeline.shards must be positive, got %d", c.Pipeline.Shards)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries cannot be negative")
	}
	if c.Pipeline.BarTopic == "" || c.Pipeline.SignalTopic == "" {
		return fmt.Errorf("pipeline topics cannot be empty")
	}
	if c.NATS.Enabled && len(c.NATS.Servers) == 0 {
		return fmt.Errorf("NATS servers list cannot be empty")
	}
	for i, inst := range c.Feed.Instruments {
		if inst.Key == "" {
			return fmt.Errorf("feed.instruments[%d]: key cannot be empty", i)
		}
	}
	return nil
}
