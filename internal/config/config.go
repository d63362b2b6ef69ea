// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	SignerAddr   string
	LiveBaseURL  string
	PushEndpoint string
	DataDir      string

	SaveInterval      time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	DialTimeout       time.Duration
	HTTPTimeout       time.Duration
	SigningTimeout    time.Duration
	SigningAttempts   int

	BackoffBase   time.Duration
	BackoffMax    time.Duration
	HealthyWindow time.Duration
	StatusAddr    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		SignerAddr:   getEnv("SIGNER_ADDR", "localhost:50061"),
		LiveBaseURL:  getEnv("LIVE_BASE_URL", "https://live.douyin.com/"),
		PushEndpoint: getEnv("PUSH_ENDPOINT", "wss://webcast5-ws-web-hl.douyin.com/webcast/im/push/v2/"),
		DataDir:      getEnv("DATA_DIR", "./data/live_data"),

		SaveInterval:      getEnvDuration("SAVE_INTERVAL", 300*time.Second),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		IdleTimeout:       getEnvDuration("IDLE_TIMEOUT", 45*time.Second),
		DialTimeout:       getEnvDuration("DIAL_TIMEOUT", 15*time.Second),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		SigningTimeout:    getEnvDuration("SIGNING_TIMEOUT", 10*time.Second),
		SigningAttempts:   getEnvInt("SIGNING_ATTEMPTS", 3),

		BackoffBase:   getEnvDuration("BACKOFF_BASE", 2*time.Second),
		BackoffMax:    getEnvDuration("BACKOFF_MAX", 60*time.Second),
		HealthyWindow: getEnvDuration("HEALTHY_WINDOW", 2*time.Minute),
		StatusAddr:    getEnv("STATUS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.SignerAddr == "" {
		return fmt.Errorf("SIGNER_ADDR cannot be empty")
	}
	if c.LiveBaseURL == "" {
		return fmt.Errorf("LIVE_BASE_URL cannot be empty")
	}
	if c.PushEndpoint == "" {
		return fmt.Errorf("PUSH_ENDPOINT cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.SaveInterval <= 0 {
		return fmt.Errorf("SAVE_INTERVAL must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0")
	}
	if c.SigningAttempts <= 0 {
		return fmt.Errorf("SIGNING_ATTEMPTS must be > 0")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("BACKOFF_BASE must be > 0 and BACKOFF_MAX >= BACKOFF_BASE")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	trimmed := strings.TrimSpace(value)
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d
	}
	// Bare numbers are seconds, matching the CLI flag.
	if n, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
