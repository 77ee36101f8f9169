package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("DATABASE_USER", "videohub")
	t.Setenv("DATABASE_NAME", "videohub")
	t.Setenv("CACHE_HOST", "redis")
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsWithLegacyEnv(t *testing.T) {
	chdirTemp(t)
	setRequired(t)
	t.Setenv("CONTEXT_TIMEOUT", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, "3306", cfg.Database.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr())
	assert.Equal(t, 12*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 300*time.Second, cfg.Queue.MaxInterval)
	assert.Equal(t, 0.001, cfg.Membership.UserEmails.ErrorRate)
	assert.Equal(t, "memory", cfg.Broker.Driver)
}

func TestLoadLayersFileUnderEnv(t *testing.T) {
	dir := chdirTemp(t)
	setRequired(t)

	path := filepath.Join(dir, "videohub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
outbox:
  batch_size: 50
  poll_interval: 2s
membership:
  video_ids:
    capacity: 2000
    error_rate: 0.01
broker:
  driver: nats
  url: nats://nats:4222
`), 0o600))
	t.Setenv(PathEnvVar, path)
	t.Setenv("VIDEOHUB_OUTBOX__BATCH_SIZE", "75")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.Outbox.BatchSize, "env wins over the file")
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, uint64(2000), cfg.Membership.VideoIDs.Capacity)
	assert.Equal(t, "nats", cfg.Broker.Driver)
	assert.Equal(t, "nats://nats:4222", cfg.Broker.URL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"VIDEOHUB_MEMBERSHIP__USER_EMAILS__ERROR_RATE": "1.5",
		"VIDEOHUB_BROKER__DRIVER":                      "kafka",
		"VIDEOHUB_LOGGING__FORMAT":                     "xml",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			chdirTemp(t)
			setRequired(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresRedisForRedisBloom(t *testing.T) {
	chdirTemp(t)
	setRequired(t)
	t.Setenv("CACHE_HOST", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("BLOOM_BACKEND", "memory")
	_, err = Load()
	assert.NoError(t, err)
}

func TestEnvTransform(t *testing.T) {
	key, value := envTransform("VIDEOHUB_QUEUE__HANDLER_TIMEOUT", "1m")
	assert.Equal(t, "queue.handler_timeout", key)
	assert.Equal(t, "1m", value)

	key, _ = envTransform("HOME", "/root")
	assert.Empty(t, key)

	_, value = envTransform("CONTEXT_TIMEOUT", "2m")
	assert.Equal(t, "2m", value)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "3306", User: "u", Pass: "p", Name: "videohub", Location: "UTC"}
	assert.Equal(t, "u:p@tcp(db:3306)/videohub?charset=utf8mb4&loc=UTC&parseTime=1", d.DSN())
}
