package config

import (
	"fmt"
	"os"
)

type Config struct {
	AppEnv            string
	Port              string
	RedisURL          string
	IdentityURL       string
	IdentityAPIKey    string
	AppManagerURL     string
	AutomationHostURL string
	SessionSecret     string
	StateFile         string
	StateEncryptKey   string
	LogLevel          string
	LogFormat         string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		RedisURL:          getEnv("REDIS_URL", ""),
		IdentityURL:       getEnv("IDENTITY_URL", ""),
		IdentityAPIKey:    getEnv("IDENTITY_API_KEY", ""),
		AppManagerURL:     getEnv("APP_MANAGER_URL", ""),
		AutomationHostURL: getEnv("AUTOMATION_HOST_URL", ""),
		SessionSecret:     getEnv("SESSION_SECRET", ""),
		StateFile:         getEnv("STATE_FILE", "sessiondeck.state"),
		StateEncryptKey:   getEnv("STATE_ENCRYPTION_KEY", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.IdentityURL == "" {
		return nil, fmt.Errorf("IDENTITY_URL is required")
	}
	if cfg.AppManagerURL == "" {
		return nil, fmt.Errorf("APP_MANAGER_URL is required")
	}
	if cfg.AutomationHostURL == "" {
		return nil, fmt.Errorf("AUTOMATION_HOST_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters, got %d", len(cfg.SessionSecret))
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
