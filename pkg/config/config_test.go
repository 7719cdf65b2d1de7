package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/config"
)

var envKeys = []string{
	"PORT", "HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "DATA_DIR",
	"LEDGER_BACKEND", "REDIS_ADDR", "REDIS_DB", "VERIFIER_REF", "ALLOW_VERIFIER_ROTATION",
	"DISPATCH_CLOCK_SKEW", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ALLOWED_ORIGINS",
	"VERIFIER_TIMEOUT", "OTEL_ENABLED", "ARTIFACT_STORAGE_TYPE", "DISPATCHER_CONFIG",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// The service must boot with safe defaults in lite mode.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "8081", cfg.HealthPort)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL, "empty selects sqlite lite mode")
	assert.Equal(t, config.LedgerSQL, cfg.LedgerBackend)
	assert.Equal(t, uint64(60), cfg.ClockSkew)
	assert.False(t, cfg.AllowVerifierRotation)
	assert.Equal(t, 10*time.Second, cfg.VerifierTimeout)
	assert.Equal(t, "fs", cfg.ArtifactStorageType)
	assert.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Targets(), 1)
	assert.Nil(t, cfg.Policies())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("LEDGER_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ALLOW_VERIFIER_ROTATION", "true")
	t.Setenv("DISPATCH_CLOCK_SKEW", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")

	cfg := config.Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, config.LedgerRedis, cfg.LedgerBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.AllowVerifierRotation)
	assert.Equal(t, uint64(5), cfg.ClockSkew)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 20.0, cfg.RateLimitRPS, "malformed numbers keep the default")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()
	cfg.LedgerBackend = "etcd"
	assert.ErrorContains(t, cfg.Validate(), "LEDGER_BACKEND")

	cfg = config.Load()
	cfg.LogLevel = "TRACE"
	assert.ErrorContains(t, cfg.Validate(), "LOG_LEVEL")
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Apply(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
verifier:
  ref: builtin:webauthn-es256
  require_user_verification: true
  allowed_origins: [https://geolink.example]
ledger:
  backend: redis
dispatch:
  clock_skew: 30
targets:
  - id: location-nft
    kind: location
    version: 1.0.0
    requires: ^1.0
  - id: geofence
    kind: wasm
    module: sha256:2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae
    memory_bytes: 1048576
    timeout_ms: 250
policies:
  - name: short-lived
    expr: intent.ttl <= 300
`)
	f, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.LedgerRedis, f.Ledger.Backend)
	assert.Equal(t, "location-nft", f.Targets[0].ID)

	cfg := config.Load()
	cfg.Apply(f)
	assert.Equal(t, "builtin:webauthn-es256", cfg.VerifierRef)
	assert.True(t, cfg.RequireUserVerification)
	assert.Equal(t, []string{"https://geolink.example"}, cfg.AllowedOrigins)
	assert.Equal(t, config.LedgerRedis, cfg.LedgerBackend)
	assert.Equal(t, uint64(30), cfg.ClockSkew)
	require.Len(t, cfg.Targets(), 2)
	assert.Equal(t, config.TargetWasm, cfg.Targets()[1].Kind)
	require.Len(t, cfg.Policies(), 1)
	assert.Equal(t, "short-lived", cfg.Policies()[0].Name)
}

func TestLoadFile_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "ledger:\n  engine: sql\n",
		"missing id":     "targets:\n  - kind: location\n",
		"duplicate":      "targets:\n  - {id: a, kind: location}\n  - {id: a, kind: location}\n",
		"unknown kind":   "targets:\n  - {id: a, kind: lua}\n",
		"wasm no module": "targets:\n  - {id: a, kind: wasm}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFile(writeFile(t, body))
			assert.Error(t, err)
		})
	}

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
