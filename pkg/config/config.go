package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the gateway.
type Config struct {
	// Bus
	BusDriver       string // "redis" (default), "kafka", "memory"
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KafkaBrokers    []string
	KafkaGroupID    string
	RequestChannel  string
	ResponseChannel string
	RawChannelPfx   string

	// Credential store
	CredentialStore string // "sqlite" (default) or "redis"
	DBPath          string
	TenantsFile     string

	// Admin surface
	HTTPAddr          string
	GRPCAddr          string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string // bcrypt; empty disables /api/auth/login

	// Venue
	ReconnectDelay time.Duration
	VenueRateLimit float64
	VenueRateBurst int
	KiteAPIURL     string
	KiteLoginURL   string
	KiteWSURL      string
	DryRun         bool
	DryRunVenues   []string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the gateway still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		BusDriver:         strings.ToLower(getEnv("BUS_DRIVER", "redis")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		KafkaBrokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "oms-gateway"),
		RequestChannel:    getEnv("REQUEST_CHANNEL", "blitz.requests"),
		ResponseChannel:   getEnv("RESPONSE_CHANNEL", "blitz.responses"),
		RawChannelPfx:     getEnv("RAW_CHANNEL_PREFIX", "venue.raw"),
		CredentialStore:   strings.ToLower(getEnv("CREDENTIAL_STORE", "sqlite")),
		DBPath:            getEnv("DB_PATH", "data/gateway.db"),
		TenantsFile:       os.Getenv("TENANTS_FILE"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:          getEnv("GRPC_ADDR", ":9090"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", 3*time.Second),
		VenueRateLimit:    getEnvFloat("VENUE_RATE_LIMIT", 10),
		VenueRateBurst:    getEnvInt("VENUE_RATE_BURST", 10),
		KiteAPIURL:        getEnv("KITE_API_URL", "https://api.kite.trade"),
		KiteLoginURL:      getEnv("KITE_LOGIN_URL", "https://kite.zerodha.com/connect/login"),
		KiteWSURL:         getEnv("KITE_WS_URL", "wss://ws.kite.trade"),
		DryRun:            getEnvBool("DRY_RUN", false),
		DryRunVenues:      splitAndTrim(getEnv("DRY_RUN_VENUES", "zerodha,kite")),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:           os.Getenv("LOG_FILE"),
	}, nil
}

// RawChannel is the diagnostic channel for one venue's unmodified push events.
func (c *Config) RawChannel(venue string) string {
	return c.RawChannelPfx + "." + strings.ToLower(venue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
