// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/speaklink/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    string

	SignCooldown            time.Duration
	RingTimeout             time.Duration
	RequireVerifiedIdentity bool
	SessionQueueSize        int
	CallLogQueueSize        int

	Inference InferenceConfig
}

// InferenceConfig controls the classifier / speech sidecar.
// An empty Addr disables accessibility features.
type InferenceConfig struct {
	Addr        string
	Timeout     time.Duration
	Concurrency int
}

// Enabled reports whether a sidecar address is configured.
func (c InferenceConfig) Enabled() bool {
	return c.Addr != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/speaklink.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SignCooldown:            getEnvDuration("SIGN_COOLDOWN", 10*time.Second),
		RingTimeout:             getEnvDuration("RING_TIMEOUT", 60*time.Second),
		RequireVerifiedIdentity: getEnvBool("REQUIRE_VERIFIED_IDENTITY", false),
		SessionQueueSize:        getEnvInt("SESSION_QUEUE_SIZE", 64),
		CallLogQueueSize:        getEnvInt("CALL_LOG_QUEUE_SIZE", 256),

		Inference: InferenceConfig{
			Addr:        strings.TrimSpace(getEnv("INFERENCE_ADDR", "")),
			Timeout:     getEnvDuration("INFERENCE_TIMEOUT", 15*time.Second),
			Concurrency: getEnvInt("INFERENCE_CONCURRENCY", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.SignCooldown <= 0 {
		return fmt.Errorf("SIGN_COOLDOWN must be > 0")
	}
	if c.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be > 0")
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("SESSION_QUEUE_SIZE must be > 0")
	}
	if c.CallLogQueueSize <= 0 {
		return fmt.Errorf("CALL_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
	}
	if c.Inference.Concurrency <= 0 {
		return fmt.Errorf("INFERENCE_CONCURRENCY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvInt returns -1 for unparsable values so Validate reports them.
func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return -1
	}
	return n
}

// getEnvDuration accepts Go duration strings ("10s") or bare seconds ("10").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return -1
	}
	return d
}
