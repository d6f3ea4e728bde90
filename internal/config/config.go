// Package config reads process settings from the environment and the
// currency table from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/storage"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	CurrenciesFile  string        `env:"CURRENCIES_FILE" envDefault:"currencies.yaml"`
	LeaderboardTTL  time.Duration `env:"LEADERBOARD_TTL" envDefault:"0s"`
	IOTimeout       time.Duration `env:"IO_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Storage storage.Settings `envPrefix:"STORAGE_"`
	Kafka   Kafka            `envPrefix:"KAFKA_"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
}

// Load reads optional .env files, then the environment. Missing .env files
// are not an error.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Storage.Threads < 1 {
		cfg.Storage.Threads = 1
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type currencyFile struct {
	Currencies []models.Currency `yaml:"currencies"`
}

// ParseCurrencies decodes a currency table document.
func ParseCurrencies(data []byte) (*models.Currencies, error) {
	var doc currencyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode currencies: %w", err)
	}
	return models.NewCurrencies(doc.Currencies...)
}

// LoadCurrencies reads the currency table from path.
func LoadCurrencies(path string) (*models.Currencies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read currencies: %w", err)
	}
	return ParseCurrencies(data)
}

// WriteCurrencies stores the table back to path, used by the currency
// subcommands.
func WriteCurrencies(path string, cs *models.Currencies) error {
	data, err := yaml.Marshal(currencyFile{Currencies: cs.All()})
	if err != nil {
		return fmt.Errorf("encode currencies: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
