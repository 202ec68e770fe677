// Package config loads nostrmux's runtime configuration from a .env file
// or the process environment, generalizing the teacher's
// config.LoadConfig[T] helper.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the env-driven configuration spec §6 names: a reconnect
// retry budget, a subscription idle timeout, and the initial relay set.
type Config struct {
	Retry   int           `env:"NOSTRMUX_RETRY" envDefault:"10"`
	Timeout time.Duration `env:"NOSTRMUX_TIMEOUT" envDefault:"10s"`
	Relays  []string      `env:"NOSTRMUX_RELAYS" envSeparator:";"`
}

// Load reads Config the same way the teacher's LoadConfig[T] does: from
// a .env file in the user's home directory if present, else a .env file
// in the working directory, else bare process environment variables.
func Load() (*Config, error) {
	return LoadConfig[Config]()
}

// LoadConfig loads and marshals configuration of type T from a .env file
// in the user's home directory; if that file does not exist, it falls
// back to a .env file in the current directory, and finally to bare
// process environment variables.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("config: could not determine home directory", slog.Any("error", err))
	}
	if homeDir != "" {
		if _, err := os.Stat(homeDir + "/.env"); err == nil {
			return loadFromEnv[T](homeDir + "/.env")
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		return loadFromEnv[T](".env")
	}
	return loadFromEnv[T]("")
}

// loadFromEnv loads .env at path (if non-empty) into the process
// environment, then parses T's env tags from it.
func loadFromEnv[T any](path string) (*T, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			slog.Warn("config: could not load .env file", slog.String("path", path), slog.Any("error", err))
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("config: could not parse environment: %w", err)
	}
	return &cfg, nil
}
