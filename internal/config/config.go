package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds runtime settings for the CLI and service.
type Config struct {
	DBPath    string
	LogLevel  zerolog.Level
	MCSamples int
	Seed      uint64 // 0 seeds from the clock
	Workers   int
	APIToken  string // empty generates one per server start
}

const (
	DefaultDBPath    = "./expstat.db"
	DefaultMCSamples = 10000
	DefaultWorkers   = 4
)

// Load reads an optional .env file from the working directory, then the
// EXPSTAT_* environment variables. Variables already set in the
// environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	level, err := zerolog.ParseLevel(getEnvOrDefault("EXPSTAT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXPSTAT_LOG_LEVEL: %w", err)
	}

	samples, err := getIntOrDefault("EXPSTAT_MC_SAMPLES", DefaultMCSamples)
	if err != nil {
		return nil, err
	}
	if samples < 1 {
		return nil, fmt.Errorf("invalid EXPSTAT_MC_SAMPLES: %d must be positive", samples)
	}

	workers, err := getIntOrDefault("EXPSTAT_WORKERS", DefaultWorkers)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, fmt.Errorf("invalid EXPSTAT_WORKERS: %d must be positive", workers)
	}

	seed, err := strconv.ParseUint(getEnvOrDefault("EXPSTAT_SEED", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPSTAT_SEED: %w", err)
	}

	return &Config{
		DBPath:    getEnvOrDefault("EXPSTAT_DB_PATH", DefaultDBPath),
		LogLevel:  level,
		MCSamples: samples,
		Seed:      seed,
		Workers:   workers,
		APIToken:  os.Getenv("EXPSTAT_API_TOKEN"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
