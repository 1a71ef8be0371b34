// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	JWTSecret    string // HS256 secret for socket/API tokens
	ClientURL    string // Allowed CORS origin for the dashboard client
	RateLimitRPM int

	// Realtime
	DefaultRoom string // Room used when an event carries no narrower scope

	// Transcription (speech-to-text upstream)
	OpenAIAPIKey      string // Optional; transcription fails with a config error when unset
	TranscribeURL     string
	TranscribeTimeout time.Duration

	// Spam classification (self-hosted model service)
	SpamServiceURL string

	// Observability
	OTLPEndpoint string // Optional; tracing disabled when unset
}

// Defaults
const (
	DefaultPort          = "5000"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultRoom          = "global"
	DefaultClientURL     = "http://localhost:3000"
	DefaultTranscribeURL = "https://api.openai.com/v1/audio/transcriptions"
	DefaultSpamURL       = "http://localhost:8001"
	DefaultRateLimitRPM  = 100
	DefaultTranscribeSec = 30
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		JWTSecret:         os.Getenv("JWT_SECRET"),   // Required, no default
		ClientURL:         getEnv("CLIENT_URL", DefaultClientURL),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		DefaultRoom:       getEnv("DEFAULT_ROOM", DefaultRoom),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"), // Optional
		TranscribeURL:     getEnv("TRANSCRIBE_URL", DefaultTranscribeURL),
		TranscribeTimeout: time.Duration(getEnvInt64("TRANSCRIBE_TIMEOUT_SECONDS", DefaultTranscribeSec)) * time.Second,
		SpamServiceURL:    getEnv("SPAM_SERVICE_URL", DefaultSpamURL),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.TranscribeTimeout <= 0 {
		return fmt.Errorf("TRANSCRIBE_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
