// Package config loads application configuration from defaults, an
// optional YAML file and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port          string        `yaml:"port"`
	DatabaseURL   string        `yaml:"databaseURL"`
	RedisURL      string        `yaml:"redisURL"`
	RedisCacheTTL time.Duration `yaml:"redisCacheTTL"`
	LogLevel      string        `yaml:"logLevel"`
	Shyft         ShyftConfig   `yaml:"shyft"`
	Sync          SyncConfig    `yaml:"sync"`
}

// ShyftConfig holds the upstream provider settings.
type ShyftConfig struct {
	APIKey         string        `yaml:"apiKey"`
	BaseURL        string        `yaml:"baseURL"`
	GraphQLURL     string        `yaml:"graphqlURL"`
	Network        string        `yaml:"network"`
	RateLimit      float64       `yaml:"rateLimit"` // requests per second, 0 = unlimited
	RetryMax       int           `yaml:"retryMax"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
}

// SyncConfig tunes wallet reconciliation.
type SyncConfig struct {
	CategoryTimeout   time.Duration `yaml:"categoryTimeout"`
	DeriveUnavailable bool          `yaml:"deriveUnavailable"`
	LockTTL           time.Duration `yaml:"lockTTL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:          "8080",
		RedisCacheTTL: 5 * time.Minute,
		LogLevel:      "info",
		Shyft: ShyftConfig{
			BaseURL:        "https://api.shyft.to/sol/v1",
			GraphQLURL:     "https://programs.shyft.to/v0/graphql",
			Network:        "mainnet-beta",
			RateLimit:      5,
			RetryMax:       3,
			RetryBaseDelay: time.Second,
		},
		Sync: SyncConfig{
			CategoryTimeout: 20 * time.Second,
			LockTTL:         2 * time.Minute,
		},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE
// (if set), then environment variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if cfg.Shyft.APIKey == "" {
		slog.Warn("required setting not configured", "key", "SHYFT_API_KEY")
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envOrDefault("PORT", c.Port)
	c.DatabaseURL = envOrDefault("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.RedisCacheTTL = envOrDefaultDuration("REDIS_CACHE_TTL", c.RedisCacheTTL)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)

	c.Shyft.APIKey = envOrDefault("SHYFT_API_KEY", c.Shyft.APIKey)
	c.Shyft.BaseURL = envOrDefault("SHYFT_BASE_URL", c.Shyft.BaseURL)
	c.Shyft.GraphQLURL = envOrDefault("SHYFT_GRAPHQL_URL", c.Shyft.GraphQLURL)
	c.Shyft.Network = envOrDefault("SHYFT_NETWORK", c.Shyft.Network)
	c.Shyft.RateLimit = envOrDefaultFloat("PROVIDER_RATE_LIMIT", c.Shyft.RateLimit)
	c.Shyft.RetryMax = envOrDefaultInt("PROVIDER_RETRY_MAX", c.Shyft.RetryMax)
	c.Shyft.RetryBaseDelay = envOrDefaultDuration("PROVIDER_RETRY_BASE_DELAY", c.Shyft.RetryBaseDelay)

	c.Sync.CategoryTimeout = envOrDefaultDuration("SYNC_CATEGORY_TIMEOUT", c.Sync.CategoryTimeout)
	c.Sync.DeriveUnavailable = envOrDefaultBool("DERIVE_UNAVAILABLE", c.Sync.DeriveUnavailable)
	c.Sync.LockTTL = envOrDefaultDuration("LOCK_TTL", c.Sync.LockTTL)
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

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
