package postgres_test

import (
	"os"
	"testing"

	"sniperflow/config"
	"sniperflow/pkg/storage/postgres"
)

// go test -v --run TestCreateDatabase
func TestCreateDatabase(t *testing.T) {
	testDSN(t)
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: os.Getenv("SNIPERFLOW_TEST_POSTGRES_PASSWORD"),
		DBName:   "test_sniperflow_db",
		SSLMode:  "disable",
	}

	if err := postgres.CreateDatabase(cfg); err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	// existing database is not an error
	if err := postgres.CreateDatabase(cfg); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
}
