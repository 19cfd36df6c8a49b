package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all console configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Ops server
	OpsPort  int
	LogLevel string

	// Fraud platform API
	APIBaseURL   string
	AuthUsername string
	AuthPassword string

	// HTTP client
	HTTPTimeout time.Duration

	// View
	PageSize int

	// Reconciliation cadence
	MetricsInterval time.Duration
	MetricsDebounce time.Duration

	// Credentials
	TokenSkew        time.Duration
	TokenFallbackTTL time.Duration

	// Stream supervision
	StreamReconnect bool
	MaxRetries      int
	InitialBackoff  time.Duration

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		OpsPort:  getEnvInt("OPS_PORT", 9090),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8081"),
		AuthUsername: getEnv("AUTH_USERNAME", "analyst"),
		AuthPassword: getEnv("AUTH_PASSWORD", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		PageSize: getEnvInt("PAGE_SIZE", 20),

		MetricsInterval: getEnvDuration("METRICS_INTERVAL", 15*time.Second),
		MetricsDebounce: getEnvDuration("METRICS_DEBOUNCE", 2*time.Second),

		TokenSkew:        getEnvDuration("TOKEN_SKEW", 5*time.Second),
		TokenFallbackTTL: getEnvDuration("TOKEN_FALLBACK_TTL", 55*time.Minute),

		StreamReconnect: getEnv("STREAM_RECONNECT", "true") == "true",
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:  getEnvDuration("INITIAL_BACKOFF", 500*time.Millisecond),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// LoadgenConfig holds load generator parameters, mirroring the ingestion
// scenarios the platform is capacity-tested with.
type LoadgenConfig struct {
	APIBaseURL   string
	AuthUsername string
	AuthPassword string
	HTTPTimeout  time.Duration

	Rate          int
	Duration      time.Duration
	BurstRate     int
	BurstStart    time.Duration
	BurstDuration time.Duration
}

// LoadLoadgen reads load generator configuration from the environment.
func LoadLoadgen() *LoadgenConfig {
	return &LoadgenConfig{
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8081"),
		AuthUsername: getEnv("AUTH_USERNAME", "analyst"),
		AuthPassword: getEnv("AUTH_PASSWORD", ""),
		HTTPTimeout:  getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		Rate:          getEnvInt("LOADGEN_RATE", 10),
		Duration:      getEnvDuration("LOADGEN_DURATION", 4*time.Minute),
		BurstRate:     getEnvInt("LOADGEN_BURST_RATE", 18),
		BurstStart:    getEnvDuration("LOADGEN_BURST_START", time.Minute),
		BurstDuration: getEnvDuration("LOADGEN_BURST_DURATION", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
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
