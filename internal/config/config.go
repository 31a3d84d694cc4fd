// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// ZendFi API
	APIKey     string // zk_test_ (devnet) or zk_live_ (mainnet)
	APIURL     string
	Mode       string // "test" or "live"
	Timeout    time.Duration
	MaxRetries int

	// Lit Protocol microservice (optional)
	LitServiceURL string
	LitNetwork    string
	EnableLit     bool

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Tracing (no-op when empty)
	OTLPEndpoint string
}

const (
	DefaultAPIURL     = "https://api.zendfi.com"
	DefaultMode       = "test"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultLitNetwork = "datil"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:        os.Getenv("ZENDFI_API_KEY"), // Required, no default
		APIURL:        getEnv("ZENDFI_API_URL", DefaultAPIURL),
		Mode:          getEnv("ZENDFI_MODE", DefaultMode),
		Timeout:       getEnvDuration("ZENDFI_TIMEOUT", DefaultTimeout),
		MaxRetries:    int(getEnvInt64("ZENDFI_MAX_RETRIES", DefaultMaxRetries)),
		LitServiceURL: os.Getenv("LIT_SERVICE_URL"),
		LitNetwork:    getEnv("LIT_NETWORK", DefaultLitNetwork),
		EnableLit:     getEnvBool("ZENDFI_ENABLE_LIT", false),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:     getEnv("LOG_FORMAT", DefaultLogFormat),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ZENDFI_API_KEY is required")
	}
	if c.Mode != "test" && c.Mode != "live" {
		return fmt.Errorf("ZENDFI_MODE must be \"test\" or \"live\", got %q", c.Mode)
	}
	if c.Mode == "live" && strings.HasPrefix(c.APIKey, "zk_test_") {
		return fmt.Errorf("live mode requires a zk_live_ API key")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
