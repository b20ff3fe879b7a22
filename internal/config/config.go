package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UsageEmitRate  float64
	UsageEmitBurst int

	Stripe StripeConfig
}

// StripeConfig carries credentials and redirect targets for the Stripe adapter.
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	SuccessURL       string
	CancelURL        string
	PortalReturnURL  string
	RequestTimeout   time.Duration
	WebhookTolerance time.Duration
}

// Configured reports whether API calls can be made against Stripe.
func (c StripeConfig) Configured() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "usageledger"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Mode:               normalizeMode(getenv("APP_MODE", ModeMonolith)),
		Environment:        getenv("ENVIRONMENT", "development"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		NodeID:             int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "usageledger"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		MigrateOnStart:     getenvBool("MIGRATE_ON_START", true),
		RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		RedisDB:            getenvInt("REDIS_DB", 0),
		UsageEmitRate:      getenvFloat("USAGE_EMIT_RATE", 50),
		UsageEmitBurst:     getenvInt("USAGE_EMIT_BURST", 100),
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:       getenv("STRIPE_SUCCESS_URL", "http://localhost:3000/billing?checkout=success"),
			CancelURL:        getenv("STRIPE_CANCEL_URL", "http://localhost:3000/billing?checkout=cancel"),
			PortalReturnURL:  getenv("STRIPE_PORTAL_RETURN_URL", "http://localhost:3000/billing"),
			RequestTimeout:   time.Duration(getenvInt("STRIPE_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
			WebhookTolerance: time.Duration(getenvInt("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
		},
	}

	return cfg
}

const (
	ModeMonolith   = "monolith"
	ModeAPI        = "api"
	ModeDispatcher = "dispatcher"
)

// RunsDispatcher reports whether this process should tick the outbox dispatcher.
func (c Config) RunsDispatcher() bool {
	return c.Mode == ModeMonolith || c.Mode == ModeDispatcher
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeAPI, ModeDispatcher:
		return value
	default:
		return ModeMonolith
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
