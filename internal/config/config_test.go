package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesFile(t *testing.T) {
	path := writeConfig(t, `
api:
  url: https://shelf.example.com
  rate_limit: 5
  timeout: 3s
server:
  http_addr: 127.0.0.1:9090
  conflict_timeout: 30s
engine:
  max_retries: 0
  retry_delay: 250ms
reconciler:
  debounce_delay: 500ms
  max_batch_size: 50
  poll_interval: 1m
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://shelf.example.com", cfg.API.URL)
	assert.Equal(t, 5.0, cfg.API.RateLimit)
	assert.Equal(t, 10, cfg.API.Burst)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, defaultGRPCAddr, cfg.Server.GRPCAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ConflictTimeout)
	assert.Equal(t, 0, cfg.Engine.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconciler.DebounceDelay)
	assert.Equal(t, 50, cfg.Reconciler.MaxBatchSize)
	assert.Equal(t, time.Minute, cfg.Reconciler.PollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHELF_API_URL", "http://api.internal:5000")
	t.Setenv("SHELF_REDIS_ADDR", "redis:6379")
	t.Setenv("SHELF_MIRROR_DSN", "root:root@tcp(mysql:3306)/shelf")
	path := writeConfig(t, "api:\n  url: http://ignored\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.internal:5000", cfg.API.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "root:root@tcp(mysql:3306)/shelf", cfg.Mirror.DSN)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "api: [\n"},
		{"bad duration", "engine:\n  timeout: soon\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"batch too large", "reconciler:\n  max_batch_size: 500\n"},
		{"bad format", "log:\n  format: xml\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
