// Package config loads process configuration from the environment.
// Values are read once at startup and never mutated afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the Shipyard backend.
type Config struct {
	Environment string // development, staging, production
	Port        string

	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Deploy   DeployConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// RedisConfig holds the status-cache connection settings. An empty Addr
// disables redis and the cache falls back to process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig holds sandbox-provider control-plane settings.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DeployConfig holds the external deployment-endpoint settings.
type DeployConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Load builds a Config from the environment.
func Load() *Config {
	return &Config{
		Environment: envOr("ENVIRONMENT", "development"),
		Port:        envOr("PORT", "8080"),
		Database: DatabaseConfig{
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			User:     envOr("DB_USER", "postgres"),
			Password: envOr("DB_PASSWORD", "postgres"),
			DBName:   envOr("DB_NAME", "shipyard"),
			SSLMode:  envOr("DB_SSLMODE", "disable"),
			TimeZone: envOr("DB_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			BaseURL: envOr("SANDBOX_PROVIDER_URL", "http://localhost:7070"),
			APIKey:  os.Getenv("SANDBOX_PROVIDER_API_KEY"),
			Timeout: envDuration("SANDBOX_PROVIDER_TIMEOUT", 60*time.Second),
		},
		Deploy: DeployConfig{
			URL:     os.Getenv("DEPLOYMENT_URL"),
			APIKey:  os.Getenv("DEPLOYMENT_API_KEY"),
			Timeout: envDuration("DEPLOYMENT_TIMEOUT", 120*time.Second),
		},
	}
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone,
	)
}

// URL returns the postgres:// form for tools that dial through
// database/sql with lib/pq.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, url.QueryEscape(c.Password), c.Host, c.Port, c.DBName, c.SSLMode)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
