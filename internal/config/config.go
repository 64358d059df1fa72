// Package config provides configuration management for the portfolio tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig     `mapstructure:"database"`
	MarketData    MarketDataConfig   `mapstructure:"marketdata"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig holds local store configuration.
type DatabaseConfig struct {
	Path       string        `mapstructure:"path"`
	UndoWindow time.Duration `mapstructure:"undo_window"`
}

// MarketDataConfig holds market data provider configuration.
type MarketDataConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	StreamURL    string        `mapstructure:"stream_url"`
	APIKey       string        `mapstructure:"api_key"`
	QuoteTTL     time.Duration `mapstructure:"quote_ttl"`
	ChartTTL     time.Duration `mapstructure:"chart_ttl"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second
	Burst        int           `mapstructure:"burst"`
	FetchWorkers int           `mapstructure:"fetch_workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BigMoverThreshold float64       `mapstructure:"big_mover_threshold"` // percent
	Webhook           WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stockfolio"
	}
	return filepath.Join(home, ".config", "stockfolio")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Missing config file is fine; defaults apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "stockfolio.db"))
	v.SetDefault("database.undo_window", 30*time.Second)

	v.SetDefault("marketdata.base_url", "https://query.stockfolio.app")
	v.SetDefault("marketdata.quote_ttl", 15*time.Second)
	v.SetDefault("marketdata.chart_ttl", 5*time.Minute)
	v.SetDefault("marketdata.rate_limit", 5.0)
	v.SetDefault("marketdata.burst", 10)
	v.SetDefault("marketdata.fetch_workers", 4)
	v.SetDefault("marketdata.timeout", 10*time.Second)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.big_mover_threshold", 5.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "stockfolio.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKFOLIO_API_KEY"); v != "" {
		cfg.MarketData.APIKey = v
	}
	if v := os.Getenv("STOCKFOLIO_BASE_URL"); v != "" {
		cfg.MarketData.BaseURL = v
	}
	if v := os.Getenv("STOCKFOLIO_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STOCKFOLIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MarketData.RateLimit <= 0 {
		return fmt.Errorf("marketdata.rate_limit must be positive")
	}
	if c.MarketData.Burst <= 0 {
		return fmt.Errorf("marketdata.burst must be positive")
	}
	if c.MarketData.FetchWorkers <= 0 {
		return fmt.Errorf("marketdata.fetch_workers must be positive")
	}
	if c.Notifications.BigMoverThreshold < 0 {
		return fmt.Errorf("notifications.big_mover_threshold must be non-negative")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url required when webhook is enabled")
	}
	return nil
}
