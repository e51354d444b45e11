package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "DATABASE_DRIVER", "LEDGER_RPC_URL",
		"LEDGER_API_KEY", "LEDGER_SIGNER_KEY", "LEDGER_TIMEOUT", "LEDGER_MAX_RETRIES",
		"AUDIT_QUEUE_SIZE", "PROFILES_DIR", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "http://localhost:8545", cfg.LedgerRPCURL)
	assert.Equal(t, 10*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 3, cfg.LedgerMaxRetries)
	assert.Equal(t, 256, cfg.AuditQueueSize)
	assert.Equal(t, "./profiles", cfg.ProfilesDir)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("LEDGER_TIMEOUT", "30s")
	t.Setenv("LEDGER_MAX_RETRIES", "5")
	t.Setenv("AUDIT_QUEUE_SIZE", "1024")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 30*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 5, cfg.LedgerMaxRetries)
	assert.Equal(t, 1024, cfg.AuditQueueSize)
}

func TestMalformedEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("LEDGER_TIMEOUT", "soon")
	t.Setenv("LEDGER_MAX_RETRIES", "many")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 3, cfg.LedgerMaxRetries)
}

const highValueProfile = `
name: High Value
code: high_value
currency: USD
multi_sig:
  enabled: true
  threshold_minor: 5000000
  required_approvers: 3
time_lock:
  enabled: true
  threshold_minor: 10000000
  duration: 48h
`

func writeProfile(t *testing.T, dir, code, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "high_value", highValueProfile)

	p, err := LoadProfile(dir, "HIGH_VALUE")
	require.NoError(t, err)
	assert.Equal(t, "High Value", p.Name)
	assert.Equal(t, "high_value", p.Code)
	assert.True(t, p.MultiSig.Enabled)
	assert.Equal(t, int64(5000000), p.MultiSig.ThresholdMinor)
	assert.Equal(t, 3, p.MultiSig.RequiredApprovers)

	_, err = LoadProfile(dir, "missing")
	require.Error(t, err)
}

func TestLoadAllProfilesFillsCodeFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "high_value", highValueProfile)
	writeProfile(t, dir, "standard", "name: Standard\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "standard", profiles["standard"].Code)
	assert.Equal(t, "Standard", profiles["standard"].Name)
}

func TestSecurityConfigConversion(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "high_value", highValueProfile)
	p, err := LoadProfile(dir, "high_value")
	require.NoError(t, err)

	cfg, err := p.SecurityConfig("w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", cfg.WalletID)
	assert.True(t, cfg.MultiSigEnabled)
	assert.Equal(t, int64(5000000), cfg.MultiSigThreshold.AmountMinor)
	assert.Equal(t, "USD", cfg.MultiSigThreshold.Currency)
	assert.Equal(t, 48*time.Hour, cfg.TimeLockDuration)

	p.TimeLock.Duration = "two days"
	_, err = p.SecurityConfig("w1")
	require.Error(t, err)
}
