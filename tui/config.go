package main

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	tickInterval           = 2 * time.Second
	defaultRefreshInterval = 30 * time.Second
)

type consoleConfig struct {
	PostgresURL     string
	SQLitePath      string
	LogPath         string
	ServiceName     string
	RefreshInterval time.Duration
}

func loadConfig() (consoleConfig, error) {
	cfg := consoleConfig{
		PostgresURL:     os.Getenv("SUPABASE_DB_URL"),
		SQLitePath:      envOr("DB_PATH", "ingest.db"),
		LogPath:         envOr("LOG_PATH", "ingest.log"),
		ServiceName:     os.Getenv("SERVICE_NAME"),
		RefreshInterval: defaultRefreshInterval,
	}
	if cfg.PostgresURL == "" {
		return cfg, errors.New("SUPABASE_DB_URL environment variable is required")
	}
	if v := os.Getenv("TUI_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < tickInterval {
			return cfg, fmt.Errorf("invalid TUI_REFRESH %q: want a duration of at least %s", v, tickInterval)
		}
		cfg.RefreshInterval = d
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
