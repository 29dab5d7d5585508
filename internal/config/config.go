package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	HasuraEndpoint  string
	HasuraAdminKey  string
	HTTPAddress     string
	LogLevel        string
	LogFormat       string
	LogsConfigPath  string
	EventSecret     string
	ExcludedSchemas []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:     os.Getenv("RECONCILER_DB_DSN"),
		HasuraEndpoint:  os.Getenv("RECONCILER_HASURA_ENDPOINT"),
		HasuraAdminKey:  os.Getenv("RECONCILER_HASURA_ADMIN_SECRET"),
		HTTPAddress:     getEnv("RECONCILER_HTTP_ADDR", ":8090"),
		LogLevel:        getEnv("RECONCILER_LOG_LEVEL", "info"),
		LogFormat:       getEnv("RECONCILER_LOG_FORMAT", "json"),
		LogsConfigPath:  getEnv("RECONCILER_LOGS_CONFIG", "logs.config.json"),
		EventSecret:     os.Getenv("RECONCILER_EVENT_SECRET"),
		ExcludedSchemas: splitAndTrim(os.Getenv("RECONCILER_EXCLUDED_SCHEMAS")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HasuraEndpoint == "" {
		return errors.New("RECONCILER_HASURA_ENDPOINT is required")
	}
	if c.HasuraAdminKey == "" {
		return errors.New("RECONCILER_HASURA_ADMIN_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("RECONCILER_DB_DSN is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
