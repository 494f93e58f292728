// Package config loads process configuration by layering defaults, an
// optional YAML file, and environment variables.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DIESELWATCH_"

type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address of the read API.
	Addr string `koanf:"addr"`

	// DBPath is the sqlite database file path.
	DBPath string `koanf:"db_path"`

	// FredAPIKey and EIAAPIKey are the provider credentials. They fall back
	// to the conventional FRED_API_KEY / EIA_API_KEY variables.
	FredAPIKey string `koanf:"fred_api_key"`
	EIAAPIKey  string `koanf:"eia_api_key"`

	// FetchMonths is the default ingestion window in months.
	FetchMonths int `koanf:"fetch_months"`

	// FetchConcurrency bounds fan-out; 1 means sequential.
	FetchConcurrency int `koanf:"fetch_concurrency"`
}

func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":8000",
		DBPath:           "dieselwatch.db",
		FetchMonths:      24,
		FetchConcurrency: 1,
	}
}

// SlogLevel maps the configured log level to slog's scale; unknown values
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load builds a Config by layering (low -> high):
//  1. defaults (New)
//  2. YAML file named by DIESELWATCH_CONFIG, if set
//  3. env vars with prefix DIESELWATCH_ (e.g. DIESELWATCH_DB_PATH)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.FredAPIKey == "" {
		cfg.FredAPIKey = strings.TrimSpace(os.Getenv("FRED_API_KEY"))
	}
	if cfg.EIAAPIKey == "" {
		cfg.EIAAPIKey = strings.TrimSpace(os.Getenv("EIA_API_KEY"))
	}

	if cfg.Addr == "" {
		return nil, errors.New("config: addr must not be empty")
	}
	if cfg.FetchMonths < 1 || cfg.FetchMonths > 120 {
		return nil, errors.New("config: fetch_months must be between 1 and 120")
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	return &cfg, nil
}
