package config

import "time"

// NATSConfig configures the NATS event bus. When disabled the pipeline runs
// on an in-process bus.
type NATSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Servers         []string      `mapstructure:"servers"`
	ClientID        string        `mapstructure:"client_id"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"` // prepended as "<prefix>.<topic>"
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	FlushTimeout    time.Duration `mapstructure:"flush_timeout"`
	SubscribeBuffer int           `mapstructure:"subscribe_buffer"`
}
