package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply when nothing is set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, ":8000", cfg.Addr)
		assert.Equal(t, "dieselwatch.db", cfg.DBPath)
		assert.Equal(t, 24, cfg.FetchMonths)
		assert.Equal(t, 1, cfg.FetchConcurrency)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("DIESELWATCH_DB_PATH", "/tmp/other.db")
		t.Setenv("DIESELWATCH_FETCH_MONTHS", "6")
		t.Setenv("DIESELWATCH_LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "/tmp/other.db", cfg.DBPath)
		assert.Equal(t, 6, cfg.FetchMonths)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("yaml file sits between defaults and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\ndb_path: from-file.db\n"), 0o600))
		t.Setenv("DIESELWATCH_CONFIG", path)
		t.Setenv("DIESELWATCH_DB_PATH", "from-env.db")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":9000", cfg.Addr)
		assert.Equal(t, "from-env.db", cfg.DBPath)
	})

	t.Run("api keys fall back to the conventional names", func(t *testing.T) {
		t.Setenv("FRED_API_KEY", "fred-conventional")
		t.Setenv("EIA_API_KEY", "eia-conventional")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "fred-conventional", cfg.FredAPIKey)
		assert.Equal(t, "eia-conventional", cfg.EIAAPIKey)
	})

	t.Run("prefixed keys win over conventional names", func(t *testing.T) {
		t.Setenv("DIESELWATCH_FRED_API_KEY", "fred-prefixed")
		t.Setenv("FRED_API_KEY", "fred-conventional")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "fred-prefixed", cfg.FredAPIKey)
	})

	t.Run("out of range fetch months is rejected", func(t *testing.T) {
		t.Setenv("DIESELWATCH_FETCH_MONTHS", "500")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("missing config file is an error", func(t *testing.T) {
		t.Setenv("DIESELWATCH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

		_, err := Load()
		require.Error(t, err)
	})
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		cfg := Config{LogLevel: input}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", input)
	}
}
