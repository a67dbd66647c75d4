package config

import "time"

// ThresholdConfig holds per-window error count limits.
type ThresholdConfig struct {
	Minute int
	Hour   int
	Day    int
}

// TelemetryConfig bounds the in-memory telemetry store.
type TelemetryConfig struct {
	MaxErrors       int
	MaxAggregations int
	RetentionHours  int
	Thresholds      ThresholdConfig
}

// APIConfig holds runtime configuration for the errwatch API service.
type APIConfig struct {
	Environment        string
	Addr               string
	AdminJWTSecret     string
	AdminTokenTTL      time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	Telemetry          TelemetryConfig
}

// LoadTelemetryConfig constructs a TelemetryConfig from environment variables.
func LoadTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		MaxErrors:       GetInt("ERR_MAX_ERRORS", 1000),
		MaxAggregations: GetInt("ERR_MAX_AGGREGATIONS", 100),
		RetentionHours:  GetInt("ERR_RETENTION_HOURS", 24),
		Thresholds: ThresholdConfig{
			Minute: GetInt("ERR_THRESHOLD_MINUTE", 10),
			Hour:   GetInt("ERR_THRESHOLD_HOUR", 100),
			Day:    GetInt("ERR_THRESHOLD_DAY", 1000),
		},
	}
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4500"),
		AdminJWTSecret:     GetString("ADMIN_JWT_SECRET", "supersecuresecret"),
		AdminTokenTTL:      GetDuration("ADMIN_TOKEN_TTL_SECONDS", time.Hour),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		Telemetry:          LoadTelemetryConfig(),
	}
}
