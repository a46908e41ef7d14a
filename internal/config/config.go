// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all SightSync server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Remote account. Required: every remote API call is scoped to it.
	AccountID string
	AwsRegion string

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Sync tuning
	FreshnessWindow  time.Duration
	RemoteRatePerSec float64
	WorkersDashboard int
	WorkersDataset   int
	WorkersAnalysis  int
	WorkersDataSrc   int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		AccountID: envOr("SIGHTSYNC_ACCOUNT_ID", ""),
		AwsRegion: envOr("AWS_REGION", "us-east-1"),

		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/cache"),

		S3Endpoint:  envOr("S3_ENDPOINT", ""),
		S3Bucket:    envOr("S3_BUCKET", "sightsync"),
		S3AccessKey: envOr("S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("S3_SECRET_KEY", ""),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3UseSSL:    envBool("S3_USE_SSL", true),

		FreshnessWindow:  envDuration("SYNC_FRESHNESS_WINDOW", time.Hour),
		RemoteRatePerSec: envFloat("SYNC_REMOTE_RATE", 10),
		WorkersDashboard: envInt("SYNC_WORKERS_DASHBOARD", 4),
		WorkersDataset:   envInt("SYNC_WORKERS_DATASET", 6),
		WorkersAnalysis:  envInt("SYNC_WORKERS_ANALYSIS", 4),
		WorkersDataSrc:   envInt("SYNC_WORKERS_DATASOURCE", 8),
	}

	if cfg.AccountID == "" {
		return nil, fmt.Errorf("SIGHTSYNC_ACCOUNT_ID is required")
	}
	if cfg.StorageBackend != "local" && cfg.StorageBackend != "s3" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be \"local\" or \"s3\", got %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 backend")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
