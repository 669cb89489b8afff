package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribe_gateway/internal/billing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/transcribe")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("ENCRYPTION_KEY", "a passphrase for tests")
	t.Setenv("JOB_GATEWAY_URL", "https://jobs.example.com/v2/endpoint")
	t.Setenv("CONFIG_FILE", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.Billing.LedgerBackend)
	assert.Equal(t, BackendPostgres, cfg.Billing.GuardBackend)
	assert.Equal(t, 30*time.Second, cfg.JobGateway.RequestTimeout)
	assert.False(t, cfg.UsesRedis())

	settings := cfg.BillingSettings()
	assert.Equal(t, billing.DefaultGuestLimit, settings.DefaultGuestLimit)
	assert.Equal(t, billing.DefaultGuestRatePerSecond, settings.GuestRatePerSecond)
	assert.Empty(t, settings.FallbackCredential)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEFAULT_GUEST_LIMIT", "2.5")
	t.Setenv("GUEST_RATE_PER_SECOND", "0.001")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("SERVICE_API_KEYS", "worker:wk-secret:billing, ops:ops-secret:operator")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Billing.DefaultGuestLimit)
	assert.Equal(t, 0.001, cfg.Billing.GuestRatePerSecond)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 25, cfg.Database.MaxOpenConns, "unparsable values fall back to defaults")
	assert.Equal(t, []ServiceKeyConfig{
		{Name: "worker", Key: "wk-secret", Scope: "billing"},
		{Name: "ops", Key: "ops-secret", Scope: "operator"},
	}, cfg.ServiceKeys)
}

func TestLoad_ValidationErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("GUEST_RATE_PER_SECOND", "-1")
	t.Setenv("SETTLEMENT_GUARD_BACKEND", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "guest rate")
	assert.Contains(t, err.Error(), `unknown guard backend "etcd"`)
}

func TestLoad_AlternativeBackends(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("SETTLEMENT_GUARD_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_DatabaseAlwaysRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("SETTLEMENT_GUARD_BACKEND", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestApplyFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TEST_FALLBACK", "shared-key")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
billing:
  fallback_credential: ${TEST_FALLBACK}
  default_guest_limit: 3
  guard_ttl: 72h
job_gateway:
  request_timeout: 10s
service_keys:
  - name: worker
    key: wk
    scope: billing
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "shared-key", cfg.Billing.FallbackCredential)
	assert.Equal(t, 3.0, cfg.Billing.DefaultGuestLimit)
	assert.Equal(t, billing.DefaultGuestRatePerSecond, cfg.Billing.GuestRatePerSecond, "absent keys keep env values")
	assert.Equal(t, 72*time.Hour, cfg.Billing.GuardTTL)
	assert.Equal(t, "https://jobs.example.com/v2/endpoint", cfg.JobGateway.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.JobGateway.RequestTimeout)
	require.Len(t, cfg.ServiceKeys, 1)
	assert.Equal(t, "worker", cfg.ServiceKeys[0].Name)
}

func TestApplyFile_Errors(t *testing.T) {
	cfg := FromEnv()
	assert.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, cfg.ApplyYAML([]byte("billing: [not, a, map]")))
}

func TestValidate_DuplicateServiceKeys(t *testing.T) {
	setRequiredEnv(t)
	cfg := FromEnv()
	cfg.ServiceKeys = []ServiceKeyConfig{{Name: "a", Key: "1"}, {Name: "a", Key: "2"}, {Name: "b"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate service key name "a"`)
	assert.Contains(t, err.Error(), "service key[2]")
}
