package config

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSM parameter names holding production credentials.
const (
	ssmDBHost     = "SNIPERFLOW_DB_HOST"
	ssmDBUser     = "SNIPERFLOW_DB_USER"
	ssmDBPassword = "SNIPERFLOW_DB_PASSWORD"
)

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"` // false stores bars in memory only
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ParameterFetcher resolves a secret by name. ssmFetcher is the production one.
type ParameterFetcher func(ctx context.Context, name string) (string, error)

// DSN builds the connection string. In "prod" the host and credentials come
// from AWS SSM Parameter Store instead of the config file.
func (cfg *PostgresConfig) DSN(env string) (string, error) {
	if env == "prod" {
		return cfg.DSNWith(context.Background(), ssmFetcher)
	}
	return cfg.format(cfg.Host, cfg.User, cfg.Password), nil
}

// DSNWith builds a DSN whose host and credentials are resolved through fetch.
func (cfg *PostgresConfig) DSNWith(ctx context.Context, fetch ParameterFetcher) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	values := make(map[string]string, 3)
	for _, name := range []string{ssmDBHost, ssmDBUser, ssmDBPassword} {
		v, err := fetch(ctx, name)
		if err != nil {
			return "", fmt.Errorf("fetch parameter %s: %w", name, err)
		}
		values[name] = v
	}
	return cfg.format(values[ssmDBHost], values[ssmDBUser], values[ssmDBPassword]), nil
}

// AdminDSN points at the maintenance "postgres" database, used to create DBName.
func (cfg *PostgresConfig) AdminDSN() string {
	admin := *cfg
	admin.DBName = "postgres"
	return admin.format(cfg.Host, cfg.User, cfg.Password)
}

func (cfg *PostgresConfig) format(host, user, password string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

func ssmFetcher(ctx context.Context, name string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(awsCfg)
	decrypt := true
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *result.Parameter.Value, nil
}
