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
	t.Setenv("FOREMAN_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, ":8080", cfg.API.ListenAddress)
	assert.Equal(t, 5*time.Minute, cfg.API.ConfigCacheTTL)
	assert.Equal(t, "foreman", cfg.Database.Database)
	assert.Equal(t, "rls_user", cfg.Database.RLSUser)
	assert.Equal(t, "unrestricted_user", cfg.Database.RootUser)
	assert.Equal(t, "foreman:tasks", cfg.Queue.TaskStream)
	assert.Equal(t, "foreman-workers", cfg.Queue.Group)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: production
api:
  listen_address: ":9090"
database:
  host: db.internal
  database: foreman_prod
queue:
  task_stream: "prod:tasks"
worker:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FOREMAN_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.API.ListenAddress)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "foreman_prod", cfg.Database.Database)
	assert.Equal(t, "prod:tasks", cfg.Queue.TaskStream)
	assert.Equal(t, "prod:tasks:dlq", cfg.Queue.DeadLetterStream())
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FOREMAN_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FOREMAN_DATABASE_HOST", "env-db")
	t.Setenv("FOREMAN_WORKER_CONCURRENCY", "2")
	t.Setenv("REDIS_HOST", "env-redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, "env-redis", cfg.Queue.Host)
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("FOREMAN_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FOREMAN_WORKER_CONCURRENCY", "0")

	_, err := Load()
	assert.Error(t, err)
}
