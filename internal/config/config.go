// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr       string
	DBPath           string
	QuotaBaseURL     string
	FetchTimeout     time.Duration
	RotationInterval string // Textual "<n>m" / "<n>h" form the panel uses.
}

// Load reads configuration from environment variables and returns a validated
// Config. Everything is optional with defaults: KEYDECK_LISTEN_ADDR
// (127.0.0.1:8190), KEYDECK_DB_PATH (keydeck.db), KEYDECK_QUOTA_BASE_URL
// (production API), KEYDECK_FETCH_TIMEOUT (20s), KEYDECK_ROTATION_INTERVAL (1h).
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8190"
	if v, ok := os.LookupEnv("KEYDECK_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "keydeck.db"
	if v, ok := os.LookupEnv("KEYDECK_DB_PATH"); ok {
		dbPath = v
	}

	quotaBaseURL := ""
	if v, ok := os.LookupEnv("KEYDECK_QUOTA_BASE_URL"); ok {
		quotaBaseURL = v
	}

	fetchTimeout := 20 * time.Second
	if v, ok := os.LookupEnv("KEYDECK_FETCH_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("KEYDECK_FETCH_TIMEOUT has invalid duration %q: %w", v, err)
		}
		fetchTimeout = parsed
	}

	rotationInterval := "1h"
	if v, ok := os.LookupEnv("KEYDECK_ROTATION_INTERVAL"); ok {
		rotationInterval = v
	}

	return &Config{
		ListenAddr:       listenAddr,
		DBPath:           dbPath,
		QuotaBaseURL:     quotaBaseURL,
		FetchTimeout:     fetchTimeout,
		RotationInterval: rotationInterval,
	}, nil
}
