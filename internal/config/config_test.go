package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RECONCILER_DB_DSN", "postgres://localhost:5432/app")
	t.Setenv("RECONCILER_HASURA_ENDPOINT", "http://localhost:8080")
	t.Setenv("RECONCILER_HASURA_ADMIN_SECRET", "admin")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequired(t)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":8090", cfg.HTTPAddress)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "logs.config.json", cfg.LogsConfigPath)
		assert.Nil(t, cfg.ExcludedSchemas)
	})

	t.Run("excluded schemas split and trimmed", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECONCILER_EXCLUDED_SCHEMAS", " archive , scratch ,")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"archive", "scratch"}, cfg.ExcludedSchemas)
	})

	t.Run("missing endpoint fails", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECONCILER_HASURA_ENDPOINT", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("missing dsn fails", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECONCILER_DB_DSN", "")
		_, err := Load()
		assert.Error(t, err)
	})
}
