// Package config provides process configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the API process configuration. Engine settings live in the
// JSON file named by ConfigPath.
type Config struct {
	Port     string
	LogLevel string

	// Path of the engine config.json
	ConfigPath string

	// Overrides conditionsPath from the engine config when set
	ConditionsPath string

	// Request bodies larger than this are rejected with 413
	MaxRequestBodyBytes int64

	ShutdownTimeout time.Duration
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
// A set value that is not an integer is an error.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, valueStr)
	}
	return value, nil
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	maxBody, err := getEnvAsInt("MAX_REQUEST_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	if maxBody <= 0 {
		return nil, errors.New("MAX_REQUEST_BODY_BYTES must be a positive integer")
	}

	shutdownSeconds, err := getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	if shutdownSeconds <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be a positive integer")
	}

	port := getEnv("PORT", "8000")
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return nil, errors.New("PORT must be a number between 1 and 65535")
	}

	cfg := &Config{
		Port:           port,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ConfigPath:     getEnv("AUTHI_CONFIG", "config.json"),
		ConditionsPath: os.Getenv("CONDITIONS_PATH"),

		MaxRequestBodyBytes: int64(maxBody),
		ShutdownTimeout:     time.Duration(shutdownSeconds) * time.Second,
	}

	return cfg, nil
}
