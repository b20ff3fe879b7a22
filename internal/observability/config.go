package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/usageledger/internal/config"
	"github.com/spf13/viper"
	gormlogger "gorm.io/gorm/logger"
)

// Config is the telemetry surface of the process: zap, otel and the GORM
// query logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	DBLogLevel      string
	DBSlowThreshold time.Duration
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)
	v.SetDefault("DB_LOG_LEVEL", "warn")
	v.SetDefault("DB_SLOW_QUERY_THRESHOLD", "200ms")
	return v
}

// LoadConfig layers OTEL_* and LOG_* overrides on top of the app config.
func LoadConfig(cfg config.Config) Config {
	v := newEnv()
	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "usageledger"
	}

	protocol := lower(v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL"))
	if traces := lower(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	slow := v.GetDuration("DB_SLOW_QUERY_THRESHOLD")
	if slow < 0 {
		slow = 0
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:              strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:             lower(v.GetString("LOG_LEVEL")),
		LogFormat:            lower(v.GetString("LOG_FORMAT")),
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    v.GetFloat64("OTEL_SAMPLING_RATIO"),
		DBLogLevel:           lower(v.GetString("DB_LOG_LEVEL")),
		DBSlowThreshold:      slow,
	}
}

// Debug turns on verbose request logging and gin debug mode.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// GormLogLevel maps DB_LOG_LEVEL onto gorm's levels; unknown values keep warn.
func (c Config) GormLogLevel() gormlogger.LogLevel {
	switch lower(c.DBLogLevel) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
