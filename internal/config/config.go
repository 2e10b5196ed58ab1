// Package config provides configuration management for paperx.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Store         StoreConfig        `mapstructure:"store"`
	Log           LogConfig          `mapstructure:"log"`
	UI            UIConfig           `mapstructure:"ui"`
	Notifications NotificationConfig `mapstructure:"notifications"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// EngineConfig holds execution engine settings.
type EngineConfig struct {
	SlippageFactor         float64 `mapstructure:"slippage_factor"`
	FeeRate                float64 `mapstructure:"fee_rate"`
	TickIntervalMS         int     `mapstructure:"tick_interval_ms"`
	StopLimitFill          string  `mapstructure:"stop_limit_fill"` // limit, market
	OCOCancelSiblingOnFill bool    `mapstructure:"oco_cancel_sibling_on_fill"`
	TickConcurrency        int     `mapstructure:"tick_concurrency"`
}

// TickInterval returns the tick period.
func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMS) * time.Millisecond
}

// RiskConfig holds risk gate and monitor settings.
type RiskConfig struct {
	Profile                string        `mapstructure:"profile"` // conservative, moderate, aggressive
	MonitorInterval        time.Duration `mapstructure:"monitor_interval"`
	Volatility             float64       `mapstructure:"volatility"`
	AlertHistory           int           `mapstructure:"alert_history"`
	ConcentrationThreshold float64       `mapstructure:"concentration_threshold"`
}

// LedgerConfig holds paper account settings.
type LedgerConfig struct {
	BaseAsset      string  `mapstructure:"base_asset"`
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// MarketDataConfig holds price feed settings.
type MarketDataConfig struct {
	Provider        string             `mapstructure:"provider"` // static, http
	BaseURL         string             `mapstructure:"base_url"`
	CacheTTL        time.Duration      `mapstructure:"cache_ttl"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	RatePerSecond   float64            `mapstructure:"rate_per_second"`
	Burst           int                `mapstructure:"burst"`
	BreakerFailures int                `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration      `mapstructure:"breaker_cooldown"`
	Prices          map[string]float64 `mapstructure:"prices"` // seed prices for the static feed
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, memory
	Path   string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// UIConfig holds terminal output settings.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	TimeFormat   string `mapstructure:"time_format"`
}

// NotificationConfig holds alert notification settings.
type NotificationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Level    string        `mapstructure:"level"` // all, critical_only
	Terminal bool          `mapstructure:"terminal"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/paperx"
	}
	return filepath.Join(home, ".config", "paperx")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.slippage_factor", 0.0005)
	v.SetDefault("engine.fee_rate", 0.001)
	v.SetDefault("engine.tick_interval_ms", 60000)
	v.SetDefault("engine.stop_limit_fill", "limit")
	v.SetDefault("engine.oco_cancel_sibling_on_fill", false)
	v.SetDefault("engine.tick_concurrency", 8)

	v.SetDefault("risk.profile", string(models.RiskProfileModerate))
	v.SetDefault("risk.monitor_interval", "5m")
	v.SetDefault("risk.volatility", 0.02)
	v.SetDefault("risk.alert_history", 100)
	v.SetDefault("risk.concentration_threshold", 0.8)

	v.SetDefault("ledger.base_asset", "USDT")
	v.SetDefault("ledger.initial_balance", 10000.0)

	v.SetDefault("market_data.provider", "static")
	v.SetDefault("market_data.base_url", "https://api.binance.com")
	v.SetDefault("market_data.cache_ttl", "5s")
	v.SetDefault("market_data.timeout", "3s")
	v.SetDefault("market_data.rate_per_second", 10.0)
	v.SetDefault("market_data.burst", 10)
	v.SetDefault("market_data.breaker_failures", 5)
	v.SetDefault("market_data.breaker_cooldown", "30s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(configDir, "paperx.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", filepath.Join(configDir, "logs", "paperx.log"))

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.time_format", "15:04:05")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.terminal", true)
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.timeout", "10s")
}

// Load loads config.toml from configDir, writing a template when it does
// not exist. PAPERX_* environment variables override file values, e.g.
// PAPERX_ENGINE_FEE_RATE. If configDir is empty, the default directory is used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("PAPERX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Dir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration rooted at configDir without
// touching the filesystem.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v, configDir)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	cfg.Dir = configDir
	return cfg
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperrors.ErrConfigInvalid)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Engine
	if c.Engine.SlippageFactor < 0 || c.Engine.SlippageFactor >= 1 {
		return invalid("engine.slippage_factor must be in [0, 1)")
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 1 {
		return invalid("engine.fee_rate must be in [0, 1)")
	}
	if c.Engine.TickIntervalMS <= 0 {
		return invalid("engine.tick_interval_ms must be positive")
	}
	if c.Engine.StopLimitFill != "limit" && c.Engine.StopLimitFill != "market" {
		return invalid("invalid engine.stop_limit_fill: %s (must be 'limit' or 'market')", c.Engine.StopLimitFill)
	}
	if c.Engine.TickConcurrency <= 0 {
		return invalid("engine.tick_concurrency must be positive")
	}

	// Risk
	if _, err := models.RiskProfilePreset(models.RiskProfile(c.Risk.Profile)); err != nil {
		return invalid("risk.profile: %v", err)
	}
	if c.Risk.MonitorInterval <= 0 {
		return invalid("risk.monitor_interval must be positive")
	}
	if c.Risk.Volatility <= 0 {
		return invalid("risk.volatility must be positive")
	}
	if c.Risk.AlertHistory <= 0 {
		return invalid("risk.alert_history must be positive")
	}
	if c.Risk.ConcentrationThreshold <= 0 || c.Risk.ConcentrationThreshold > 1 {
		return invalid("risk.concentration_threshold must be in (0, 1]")
	}

	// Ledger
	if c.Ledger.BaseAsset == "" {
		return invalid("ledger.base_asset is required")
	}
	if c.Ledger.InitialBalance < 0 {
		return invalid("ledger.initial_balance must be non-negative")
	}

	// Market data
	switch c.MarketData.Provider {
	case "static":
	case "http":
		if c.MarketData.BaseURL == "" {
			return invalid("market_data.base_url is required for the http provider")
		}
	default:
		return invalid("invalid market_data.provider: %s (must be 'static' or 'http')", c.MarketData.Provider)
	}
	if c.MarketData.CacheTTL < 0 || c.MarketData.Timeout <= 0 {
		return invalid("market_data.cache_ttl must be non-negative and market_data.timeout positive")
	}
	if c.MarketData.RatePerSecond < 0 {
		return invalid("market_data.rate_per_second must be non-negative")
	}
	for symbol, price := range c.MarketData.Prices {
		if _, _, err := models.ParseSymbol(symbol); err != nil {
			return invalid("market_data.prices: %v", err)
		}
		if price <= 0 {
			return invalid("market_data.prices: %s must be positive", symbol)
		}
	}

	// Store
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite driver")
		}
	default:
		return invalid("invalid store.driver: %s (must be 'sqlite' or 'memory')", c.Store.Driver)
	}

	// Notifications
	if c.Notifications.Level != "all" && c.Notifications.Level != "critical_only" {
		return invalid("invalid notifications.level: %s (must be 'all' or 'critical_only')", c.Notifications.Level)
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return invalid("notifications.webhook.url is required when the webhook is enabled")
	}

	return nil
}
