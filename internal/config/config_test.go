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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Second, cfg.Queue.RetryBaseDelay())
	assert.Equal(t, 30*time.Second, cfg.Queue.MaxRetryDelay())
	assert.Equal(t, 10, cfg.Processor.BatchSize)
	assert.Equal(t, 30, cfg.Dedup.RefetchWindowDays)
	assert.False(t, cfg.Dedup.SimilarityCheck)
	assert.Equal(t, []string{"web", "rss"}, cfg.Search.Providers)
	assert.Equal(t, "memory", cfg.Store.Provider)
	assert.Equal(t, "local", cfg.Artifact.Provider)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := []byte(`
server:
  port: 9090
store:
  provider: postgres
  dsn: postgres://localhost/harvest
search:
  providers: ["rss"]
`)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Provider)
	assert.Equal(t, []string{"rss"}, cfg.Search.Providers)
	// Untouched keys keep defaults.
	assert.Equal(t, 10, cfg.Processor.BatchSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("auth without key", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "auth.api_key")
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Provider = "postgres"
		assert.ErrorContains(t, cfg.Validate(), "store.dsn")
	})

	t.Run("unknown store provider", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Provider = "sqlite"
		assert.ErrorContains(t, cfg.Validate(), "store.provider")
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		cfg := valid()
		cfg.Artifact.Provider = "gcs"
		assert.ErrorContains(t, cfg.Validate(), "gcs_bucket")
	})

	t.Run("pubsub without project", func(t *testing.T) {
		cfg := valid()
		cfg.PubSub.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "pubsub.project_id")
	})

	t.Run("no search providers", func(t *testing.T) {
		cfg := valid()
		cfg.Search.Providers = nil
		assert.ErrorContains(t, cfg.Validate(), "search.providers")
	})

	t.Run("unknown search provider", func(t *testing.T) {
		cfg := valid()
		cfg.Search.Providers = []string{"usenet"}
		assert.ErrorContains(t, cfg.Validate(), "search provider")
	})
}
