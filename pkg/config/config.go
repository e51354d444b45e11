// Package config loads service configuration from environment
// variables and wallet policy profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	DatabaseDriver string

	LedgerRPCURL     string
	LedgerAPIKey     string
	LedgerSignerKey  string
	LedgerTimeout    time.Duration
	LedgerMaxRetries int

	AuditQueueSize int
	ProfilesDir    string

	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	driver := os.Getenv("DATABASE_DRIVER")
	if dbURL == "" {
		// Default to local postgres
		dbURL = "postgres://clearhold@localhost:5432/clearhold?sslmode=disable"
	}
	if driver == "" {
		driver = "postgres"
	}

	ledgerURL := os.Getenv("LEDGER_RPC_URL")
	if ledgerURL == "" {
		ledgerURL = "http://localhost:8545"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "./profiles"
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		DatabaseURL:      dbURL,
		DatabaseDriver:   driver,
		LedgerRPCURL:     ledgerURL,
		LedgerAPIKey:     os.Getenv("LEDGER_API_KEY"),
		LedgerSignerKey:  os.Getenv("LEDGER_SIGNER_KEY"),
		LedgerTimeout:    envDuration("LEDGER_TIMEOUT", 10*time.Second),
		LedgerMaxRetries: envInt("LEDGER_MAX_RETRIES", 3),
		AuditQueueSize:   envInt("AUDIT_QUEUE_SIZE", 256),
		ProfilesDir:      profilesDir,
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
