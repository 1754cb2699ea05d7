package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the buseta commands
type Config struct {
	// Remote feeds
	CatalogURL string `yaml:"catalog_url" validate:"required,url"`
	ETABaseURL string `yaml:"eta_base_url" validate:"required,url"`

	// Local files
	DataDir       string        `yaml:"data_dir" validate:"required"`
	CatalogMaxAge time.Duration `yaml:"catalog_max_age" validate:"gte=0"`

	// Download pipeline
	PollInterval           time.Duration `yaml:"poll_interval" validate:"gt=0"`
	FetchTimeout           time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads" validate:"gt=0"`
	RetryMaxAttempts       int           `yaml:"retry_max_attempts" validate:"gte=1"`

	// Selection and display
	ClosestStopCount int            `yaml:"closest_stop_count" validate:"gt=0"`
	Timezone         string         `yaml:"timezone" validate:"required"`
	HomeLatitude     float64        `yaml:"home_latitude" validate:"gte=-90,lte=90"`
	HomeLongitude    float64        `yaml:"home_longitude" validate:"gte=-180,lte=180"`
	Location         *time.Location `yaml:"-" validate:"-"`

	// Refresh loop
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	ExportPath      string        `yaml:"export_path"`

	// Job ledger: DatabaseURL (Postgres) wins over DatabasePath (SQLite)
	DatabasePath      string        `yaml:"database_path"`
	DatabaseURL       string        `yaml:"database_url" validate:"omitempty,url"`
	RetentionDuration time.Duration `yaml:"retention" validate:"gte=0"`

	// HTTP
	Port           string   `yaml:"port" validate:"required,numeric"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MetricsAddr    string   `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		CatalogURL:             "https://data.etabus.gov.hk/v1/transport/kmb/stop",
		ETABaseURL:             "https://data.etabus.gov.hk/v1/transport/kmb/stop-eta/",
		DataDir:                "./data",
		CatalogMaxAge:          24 * time.Hour,
		PollInterval:           10 * time.Millisecond,
		FetchTimeout:           30 * time.Second,
		MaxConcurrentDownloads: 4,
		RetryMaxAttempts:       3,
		ClosestStopCount:       20,
		Timezone:               "Asia/Hong_Kong",
		HomeLatitude:           22.2988,
		HomeLongitude:          114.1722,
		RefreshInterval:        time.Minute,
		DatabasePath:           "./data/buseta.db",
		RetentionDuration:      24 * time.Hour,
		Port:                   "8081",
		AllowedOrigins:         []string{"http://localhost:5173"},
		LogLevel:               "info",
	}
}

// Load reads configuration from .env, an optional YAML file named by
// BUSETA_CONFIG, and environment variables, in increasing priority
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("BUSETA_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.CatalogURL = getEnv("CATALOG_URL", cfg.CatalogURL)
	cfg.ETABaseURL = getEnv("ETA_BASE_URL", cfg.ETABaseURL)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CatalogMaxAge = getEnvDuration("CATALOG_MAX_AGE_HOURS", time.Hour, cfg.CatalogMaxAge)

	cfg.PollInterval = getEnvDuration("POLL_INTERVAL_MS", time.Millisecond, cfg.PollInterval)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", time.Second, cfg.FetchTimeout)
	cfg.MaxConcurrentDownloads = getEnvInt("MAX_CONCURRENT_DOWNLOADS", cfg.MaxConcurrentDownloads)
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)

	cfg.ClosestStopCount = getEnvInt("CLOSEST_STOP_COUNT", cfg.ClosestStopCount)
	cfg.Timezone = getEnv("TZ_NAME", cfg.Timezone)
	cfg.HomeLatitude = getEnvFloat("HOME_LAT", cfg.HomeLatitude)
	cfg.HomeLongitude = getEnvFloat("HOME_LON", cfg.HomeLongitude)

	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", time.Second, cfg.RefreshInterval)
	cfg.ExportPath = getEnv("EXPORT_PATH", cfg.ExportPath)

	cfg.DatabasePath = getEnv("SQLITE_DATABASE", cfg.DatabasePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RetentionDuration = getEnvDuration("RETENTION_HOURS", time.Hour, cfg.RetentionDuration)

	cfg.Port = getEnv("PORT", cfg.Port)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer count of unit; unset or invalid keeps the default
func getEnvDuration(key string, unit, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * unit
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
