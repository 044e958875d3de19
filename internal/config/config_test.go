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
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "patchfox.io")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxConnections)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "patchfox.io", cfg.Ingest.ExpectedDomain)
	assert.Equal(t, int64(64<<20), cfg.Ingest.MaxUploadBytes)
	assert.Equal(t, time.Minute, cfg.Reconciler.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.Reconciler.GraceWindow)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "input-service", cfg.ServiceName)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PF_EXPECTED_DOMAIN", "patchfox.io")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRequiresExpectedDomain(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PF_EXPECTED_DOMAIN")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "*")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RECONCILER_SWEEP_INTERVAL", "30s")
	t.Setenv("PF_MQ_VALID_TOPICS", "input-service-requests, etl-requests")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "*", cfg.Ingest.ExpectedDomain)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.SweepInterval)
	assert.Equal(t, []string{"input-service-requests", "etl-requests"}, cfg.Kafka.ValidTopics)
}

func TestLoadKafkaValidation(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "patchfox.io")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("PF_MQ_BRIDGE_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")

	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PF_MQ_BRIDGE_SECRET")

	t.Setenv("PF_MQ_BRIDGE_SECRET", "s3cret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "patchfox.io")
	t.Setenv("SERVER_PORT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\nlogging:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFileEnvWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/input_test")
	t.Setenv("PF_EXPECTED_DOMAIN", "patchfox.io")
	t.Setenv("SERVER_PORT", "9999")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}
