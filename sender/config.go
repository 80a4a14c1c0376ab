package sender

import (
	"os"
	"strconv"
	"time"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/internal/resilience"
)

// Config holds sender configuration.
type Config struct {
	// API settings
	BaseURL        string
	APIVersion     int
	UserAgent      string
	RequestTimeout time.Duration
	KeepAlive      time.Duration
	MaxIdleConns   int
	IdleTimeout    time.Duration
	CAFile         string // PEM bundle of trusted roots; empty = system pool

	// Rate limiting (RPS <= 0 disables the limit)
	GlobalRPS       float64
	GlobalBurst     int
	PerChannelRPS   float64
	PerChannelBurst int

	// Circuit breaker
	BreakerFailures uint32 // Consecutive failed messages before opening. 0 = never.
	BreakerTimeout  time.Duration

	// Retry settings
	MaxRetries       int
	BackoffFactor    time.Duration
	RetryMaxWait     time.Duration
	RetryJitter      float64
	RetryRateLimited bool // Also retry 429, honoring Retry-After
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	limits := resilience.DefaultRateLimiterConfig()
	retry := resilience.DefaultRetryConfig()
	breaker := resilience.DefaultBreakerConfig("")

	return Config{
		BaseURL:         "https://discord.com",
		APIVersion:      9,
		UserAgent:       "relaygo/1.0",
		RequestTimeout:  30 * time.Second,
		KeepAlive:       30 * time.Second,
		MaxIdleConns:    100,
		IdleTimeout:     90 * time.Second,
		GlobalRPS:       limits.GlobalRPS,
		GlobalBurst:     limits.GlobalBurst,
		PerChannelRPS:   limits.KeyRPS,
		PerChannelBurst: limits.KeyBurst,
		BreakerFailures: 0, // never trips unless set
		BreakerTimeout:  breaker.Timeout,
		MaxRetries:      retry.MaxRetries,
		BackoffFactor:   retry.BackoffFactor,
		RetryMaxWait:    retry.MaxWait,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return api.NewConfigError("BaseURL", "cannot be empty")
	case c.APIVersion <= 0:
		return api.NewConfigError("APIVersion", "must be positive")
	case c.MaxRetries < 0:
		return api.NewConfigError("MaxRetries", "cannot be negative")
	case c.BackoffFactor < 0:
		return api.NewConfigError("BackoffFactor", "cannot be negative")
	case c.RetryJitter < 0 || c.RetryJitter > 1:
		return api.NewConfigError("RetryJitter", "must be between 0 and 1")
	}
	return nil
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if url := getEnv("RELAYGO_API_BASE_URL", ""); url != "" {
		cfg.BaseURL = url
	}

	if i, err := strconv.Atoi(getEnv("RELAYGO_API_VERSION", "9")); err == nil {
		cfg.APIVersion = i
	}

	if d, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s")); err == nil {
		cfg.RequestTimeout = d
	}

	cfg.CAFile = getEnv("CA_FILE", "")

	if f, err := strconv.ParseFloat(getEnv("RATE_LIMIT_REQUESTS", "50"), 64); err == nil {
		cfg.GlobalRPS = f
	}

	if i, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "50")); err == nil {
		cfg.GlobalBurst = i
	}

	if f, err := strconv.ParseFloat(getEnv("PER_CHANNEL_RPS", "5"), 64); err == nil {
		cfg.PerChannelRPS = f
	}

	if i, err := strconv.Atoi(getEnv("PER_CHANNEL_BURST", "5")); err == nil {
		cfg.PerChannelBurst = i
	}

	if i, err := strconv.ParseUint(getEnv("BREAKER_FAILURES", "0"), 10, 32); err == nil {
		cfg.BreakerFailures = uint32(i)
	}

	if d, err := time.ParseDuration(getEnv("BREAKER_TIMEOUT", "30s")); err == nil {
		cfg.BreakerTimeout = d
	}

	if i, err := strconv.Atoi(getEnv("MAX_RETRIES", "5")); err == nil {
		cfg.MaxRetries = i
	}

	if d, err := time.ParseDuration(getEnv("RETRY_BACKOFF_FACTOR", "1s")); err == nil {
		cfg.BackoffFactor = d
	}

	if d, err := time.ParseDuration(getEnv("RETRY_MAX_WAIT", "120s")); err == nil {
		cfg.RetryMaxWait = d
	}

	if b, err := strconv.ParseBool(getEnv("RETRY_RATE_LIMITED", "false")); err == nil {
		cfg.RetryRateLimited = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
