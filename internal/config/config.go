// Package config defines all configuration for the grid trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields and the operational switches overridable via environment
// variables (GRID_SCHEDULER_INTERVAL_SEC, PAPER_TRADING, API_ENCRYPTION_KEY,
// API_KEY_<EXCHANGE>, API_KEY_SECRET_<EXCHANGE>).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"gridbot/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	// PaperTrading replaces real order placement with the paper broker.
	// Defaults to true; live trading must be opted into explicitly.
	PaperTrading bool `mapstructure:"paper_trading"`

	// SchedulerIntervalSec is the tick granularity in seconds, clamped to [1, 59].
	SchedulerIntervalSec int `mapstructure:"scheduler_interval_sec"`

	// EncryptionKey is the AES-256 key for API credentials at rest,
	// as 64 hex characters. Empty means credentials are stored plaintext
	// (dev-only; a warning is logged once).
	EncryptionKey string `mapstructure:"encryption_key"`

	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Store     StoreConfig     `mapstructure:"store"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExchangeConfig holds one exchange's endpoints and fallback credentials.
// Per-wallet credentials from user settings take precedence; these are the
// process-wide fallback, normally injected via env.
type ExchangeConfig struct {
	SpotBaseURL    string `mapstructure:"spot_base_url"`
	FuturesBaseURL string `mapstructure:"futures_base_url"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
}

// ExchangesConfig groups the per-exchange settings.
type ExchangesConfig struct {
	Aster ExchangeConfig `mapstructure:"aster"`
	BingX ExchangeConfig `mapstructure:"bingx"`
}

// For returns the config block for the given exchange.
func (e ExchangesConfig) For(ex types.Exchange) ExchangeConfig {
	if ex == types.ExchangeBingX {
		return e.BingX
	}
	return e.Aster
}

// StoreConfig selects the persistence backend. A postgres:// DSN uses
// PostgreSQL; anything else is treated as a SQLite file path.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FeedConfig tunes the price feed.
type FeedConfig struct {
	// Symbols always refreshed regardless of active orders.
	Symbols []string `mapstructure:"symbols"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("paper_trading", true)
	v.SetDefault("scheduler_interval_sec", 1)
	v.SetDefault("exchanges.aster.spot_base_url", "https://sapi.asterdex.com")
	v.SetDefault("exchanges.aster.futures_base_url", "https://fapi.asterdex.com")
	v.SetDefault("exchanges.bingx.spot_base_url", "https://open-api.bingx.com")
	v.SetDefault("store.dsn", "data/gridbot.db")
	v.SetDefault("feed.symbols", []string{"ASTERUSDT", "BTCUSDT", "ETHUSDT", "BNBUSDT"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults + env cover everything.
		if _, ok := err.(*os.PathError); !ok && !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SchedulerIntervalSec = ClampSchedulerInterval(cfg.SchedulerIntervalSec)

	return &cfg, nil
}

// applyEnvOverrides maps the documented flat env variables onto the config.
// These names predate the GRID_ viper prefix and are kept for operators.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("GRID_SCHEDULER_INTERVAL_SEC"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.SchedulerIntervalSec = n
		}
	}
	if s := os.Getenv("PAPER_TRADING"); s != "" {
		cfg.PaperTrading = s == "true" || s == "1"
	}
	if k := os.Getenv("API_ENCRYPTION_KEY"); k != "" {
		cfg.EncryptionKey = k
	}
	if k := os.Getenv("API_KEY_ASTER"); k != "" {
		cfg.Exchanges.Aster.APIKey = k
	}
	if k := os.Getenv("API_KEY_SECRET_ASTER"); k != "" {
		cfg.Exchanges.Aster.APISecret = k
	}
	if k := os.Getenv("API_KEY_BINGX"); k != "" {
		cfg.Exchanges.BingX.APIKey = k
	}
	if k := os.Getenv("API_KEY_SECRET_BINGX"); k != "" {
		cfg.Exchanges.BingX.APISecret = k
	}
}

// ClampSchedulerInterval bounds the tick interval to [1, 59] seconds.
func ClampSchedulerInterval(sec int) int {
	if sec < 1 {
		return 1
	}
	if sec > 59 {
		return 59
	}
	return sec
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Exchanges.Aster.SpotBaseURL == "" {
		return fmt.Errorf("exchanges.aster.spot_base_url is required")
	}
	if c.Exchanges.BingX.SpotBaseURL == "" {
		return fmt.Errorf("exchanges.bingx.spot_base_url is required")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("encryption_key must be 64 hex characters (AES-256), got %d", len(c.EncryptionKey))
	}
	// Live trading without process-wide keys is valid: credentials can come
	// from per-wallet settings, resolved at signing time.
	return nil
}
