// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the sqlite databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Redis      RedisConfig
	Marketdata MarketdataConfig
	Notifier   NotifierConfig
	Backup     BackupConfig
}

// RedisConfig holds cache store connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// MarketdataConfig holds upstream price-data provider settings
type MarketdataConfig struct {
	BaseURL           string
	Token             string
	RequestsPerMinute int           // Upstream request budget per rolling minute
	RequestTimeout    time.Duration // Bounded per-call timeout
	StreamURL         string        // Optional websocket feed of price updates
	StreamEnabled     bool
}

// NotifierConfig holds notification dispatcher settings
type NotifierConfig struct {
	URL     string // Webhook endpoint(s), comma-separated; empty selects the log-only dispatcher
	Timeout time.Duration
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled
// unless an endpoint and bucket are configured.
type BackupConfig struct {
	Enabled       bool
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FLIPWATCH_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "flipwatch:"),
		},
		Marketdata: MarketdataConfig{
			BaseURL:           getEnv("MARKETDATA_BASE_URL", "http://localhost:9100"),
			Token:             getEnv("MARKETDATA_TOKEN", ""),
			RequestsPerMinute: getEnvAsInt("MARKETDATA_RPM", 60),
			RequestTimeout:    time.Duration(getEnvAsInt("MARKETDATA_TIMEOUT_SECONDS", 10)) * time.Second,
			StreamURL:         getEnv("MARKETDATA_STREAM_URL", ""),
			StreamEnabled:     getEnvAsBool("MARKETDATA_STREAM_ENABLED", false),
		},
		Notifier: NotifierConfig{
			URL:     getEnv("NOTIFIER_URL", ""),
			Timeout: time.Duration(getEnvAsInt("NOTIFIER_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is structurally valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.Port)
	}
	if c.Marketdata.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid marketdata request budget %d: must be positive", c.Marketdata.RequestsPerMinute)
	}
	if c.Marketdata.RequestTimeout <= 0 {
		return fmt.Errorf("invalid marketdata timeout: must be positive")
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but no bucket configured")
	}
	return nil
}

// loadBackupConfig loads backup settings. Enabled only when an endpoint,
// bucket, and credentials are all present (or BACKUP_ENABLED forces it on).
func loadBackupConfig() BackupConfig {
	cfg := BackupConfig{
		Endpoint:      getEnv("BACKUP_ENDPOINT", ""),
		Region:        getEnv("BACKUP_REGION", "auto"),
		Bucket:        getEnv("BACKUP_BUCKET", ""),
		AccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		SecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 7),
	}
	autoEnable := cfg.Endpoint != "" && cfg.Bucket != "" && cfg.AccessKey != ""
	cfg.Enabled = getEnvAsBool("BACKUP_ENABLED", autoEnable)
	return cfg
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
