package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Persistence.Backend)
	assert.Equal(t, 50, cfg.Collab.RateMaxOps)
	assert.Equal(t, 256, cfg.Collab.SendQueueCap)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
server:
  port: 9000
collab:
  rate_max_ops: 20
  room_ttl: 10m
persistence:
  backend: badger
  badger:
    path: /tmp/codedojo-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Collab.RateMaxOps)
	assert.Equal(t, 10*time.Minute, cfg.Collab.RoomTTL)
	assert.Equal(t, "badger", cfg.Persistence.Backend)
	assert.Equal(t, "/tmp/codedojo-test", cfg.Persistence.Badger.Path)

	// Unset keys still get defaults.
	assert.Equal(t, 100, cfg.Collab.BackpressureThreshold)
	assert.Equal(t, 60*24*time.Hour, cfg.Persistence.SnapshotTTL)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: verbose
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_InvalidBackend(t *testing.T) {
	path := writeConfigFile(t, `
persistence:
  backend: dynamo
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence.backend")
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfigFile(t, `
persistence:
  backend: postgres
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence.postgres.dsn")
}

func TestLoad_QueueCapBelowBackpressureRejected(t *testing.T) {
	path := writeConfigFile(t, `
collab:
  backpressure_threshold: 100
  send_queue_cap: 50
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_queue_cap")
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := GetDefaultConfig()
	// The sample spells out the metrics port even though metrics default
	// to disabled.
	want.Metrics.Port = 9090
	assert.Equal(t, want, cfg)
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	err := InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, InitConfigToPath(path, true))
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 9999
	cfg.Persistence.Backend = "badger"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
	assert.Equal(t, "badger", loaded.Persistence.Backend)
	assert.Equal(t, cfg.Collab, loaded.Collab)
}
