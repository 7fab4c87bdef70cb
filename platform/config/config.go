// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq scheduler client/worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// LockConfig provides settings for the Redis identity lock.
type LockConfig interface {
	GetRedisURL() string
	GetIdentityLockTTL() time.Duration
}

// AlertConfig provides settings for outbound alert channels.
type AlertConfig interface {
	GetAlertEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetSlackWebhookURL() string
	GetAlertWebhookSecret() string
}

// ArchiveConfig provides settings for raw payload archiving to MinIO.
type ArchiveConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketRawPayloads() string
	IsArchiveEnabled() bool
}

// IngestConfig provides settings for the ingestion boundary.
type IngestConfig interface {
	GetIngestRatePerMinute() int
	GetIngestBatchMaxRows() int
	GetIngestBatchConcurrency() int
}

// PhoneConfig provides phone normalization settings.
type PhoneConfig interface {
	GetDefaultPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	CORSAllowAll           bool
	CORSOrigins            []string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	IdentityLockTTL        time.Duration
	AlertEmailEnabled      bool
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	AlertFromAddress       string
	SlackWebhookURL        string
	AlertWebhookSecret     string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOBucketRawPayloads string
	IngestRatePerMinute    int
	IngestBatchMaxRows     int
	IngestBatchConcurrency int
	DefaultPhoneRegion     string
}

// Load reads configuration from the environment. A .env file is honored
// when present (development convenience); real deployments set env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		CORSAllowAll:           getEnvBool("CORS_ALLOW_ALL", false),
		CORSOrigins:            splitList(os.Getenv("CORS_ORIGINS")),
		RedisURL:               os.Getenv("REDIS_URL"),
		RedisTLSInsecure:       getEnvBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "leadflow"),
		AsynqConcurrency:       getEnvInt("ASYNQ_CONCURRENCY", 10),
		IdentityLockTTL:        getEnvDuration("IDENTITY_LOCK_TTL", 15*time.Second),
		AlertEmailEnabled:      getEnvBool("ALERT_EMAIL_ENABLED", false),
		SMTPHost:               os.Getenv("SMTP_HOST"),
		SMTPPort:               getEnvInt("SMTP_PORT", 587),
		SMTPUsername:           os.Getenv("SMTP_USERNAME"),
		SMTPPassword:           os.Getenv("SMTP_PASSWORD"),
		AlertFromAddress:       getEnv("ALERT_FROM_ADDRESS", "alerts@leadflow.local"),
		SlackWebhookURL:        os.Getenv("SLACK_WEBHOOK_URL"),
		AlertWebhookSecret:     os.Getenv("ALERT_WEBHOOK_SECRET"),
		MinIOEndpoint:          os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey:         os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:         os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseSSL:            getEnvBool("MINIO_USE_SSL", false),
		MinIOBucketRawPayloads: getEnv("MINIO_BUCKET_RAW_PAYLOADS", "lead-raw-payloads"),
		IngestRatePerMinute:    getEnvInt("INGEST_RATE_PER_MINUTE", 120),
		IngestBatchMaxRows:     getEnvInt("INGEST_BATCH_MAX_ROWS", 1000),
		IngestBatchConcurrency: getEnvInt("INGEST_BATCH_CONCURRENCY", 8),
		DefaultPhoneRegion:     getEnv("DEFAULT_PHONE_REGION", "US"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string            { return c.DatabaseURL }
func (c *Config) GetHTTPAddr() string               { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool             { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string          { return c.CORSOrigins }
func (c *Config) GetRedisURL() string               { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool         { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string         { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int          { return c.AsynqConcurrency }
func (c *Config) GetIdentityLockTTL() time.Duration { return c.IdentityLockTTL }
func (c *Config) GetAlertEmailEnabled() bool        { return c.AlertEmailEnabled }
func (c *Config) GetSMTPHost() string               { return c.SMTPHost }
func (c *Config) GetSMTPPort() int                  { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string           { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string           { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string       { return c.AlertFromAddress }
func (c *Config) GetSlackWebhookURL() string        { return c.SlackWebhookURL }
func (c *Config) GetAlertWebhookSecret() string     { return c.AlertWebhookSecret }
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinIOBucketRawPayloads() string { return c.MinIOBucketRawPayloads }
func (c *Config) IsArchiveEnabled() bool            { return c.MinIOEndpoint != "" }
func (c *Config) GetIngestRatePerMinute() int       { return c.IngestRatePerMinute }
func (c *Config) GetIngestBatchMaxRows() int        { return c.IngestBatchMaxRows }
func (c *Config) GetIngestBatchConcurrency() int    { return c.IngestBatchConcurrency }
func (c *Config) GetDefaultPhoneRegion() string     { return c.DefaultPhoneRegion }

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
