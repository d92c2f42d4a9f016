package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the answer service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	DatabaseURL   string
	CacheCapacity int

	// Quota limits. Zero disables the corresponding limiter; when every limiter
	// is disabled a no-op unlimited limiter is installed so the reporting
	// surface stays populated.
	SubjectQuotaLimit int64
	ClusterQuotaLimit int64
	ClusterID         string

	SummarizerMode string
	OpenAIAPIKey   string
	OpenAIModel    string

	DefaultProvider  string
	DefaultMediaType string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "beacon"),
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		CacheCapacity:     1000,
		SubjectQuotaLimit: 0,
		ClusterQuotaLimit: 0,
		ClusterID:         envOrDefault("QUOTA_CLUSTER_ID", "default"),
		SummarizerMode:    envOrDefault("SUMMARIZER_MODE", "auto"),
		OpenAIAPIKey:      trimmedEnv("OPENAI_API_KEY"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		DefaultProvider:   envOrDefault("APP_DEFAULT_PROVIDER", "openai"),
		DefaultMediaType:  envOrDefault("APP_DEFAULT_MEDIA_TYPE", "application/json"),
		ShutdownTimeout:   15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheCapacity, err = intFromEnv("CONVERSATION_CACHE_CAPACITY", cfg.CacheCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.SubjectQuotaLimit, err = int64FromEnv("QUOTA_SUBJECT_LIMIT", cfg.SubjectQuotaLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ClusterQuotaLimit, err = int64FromEnv("QUOTA_CLUSTER_LIMIT", cfg.ClusterQuotaLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.CacheCapacity <= 0 {
		return Config{}, fmt.Errorf("CONVERSATION_CACHE_CAPACITY must be positive")
	}
	if cfg.SubjectQuotaLimit < 0 {
		return Config{}, fmt.Errorf("QUOTA_SUBJECT_LIMIT must be >= 0")
	}
	if cfg.ClusterQuotaLimit < 0 {
		return Config{}, fmt.Errorf("QUOTA_CLUSTER_LIMIT must be >= 0")
	}
	switch cfg.DefaultMediaType {
	case "text/plain", "application/json":
	default:
		return Config{}, fmt.Errorf("APP_DEFAULT_MEDIA_TYPE must be text/plain or application/json")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
