package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds settings for the trading core.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Aster    AsterConfig    `mapstructure:"aster"`
	Trading  TradingConfig  `mapstructure:"trading"`
	DryRun   DryRunConfig   `mapstructure:"dry_run"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AsterConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	OwnerAddress  string `mapstructure:"owner_address"`
	SigningKey    string `mapstructure:"signing_key"`
	SignerAddress string `mapstructure:"signer_address"`
	// RequireSameWallet rejects credentials whose owner and signer differ.
	RequireSameWallet bool          `mapstructure:"require_same_wallet"`
	RecvWindow        int64         `mapstructure:"recv_window"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type TradingConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	MaxPositionSizePercent float64 `mapstructure:"max_position_size_percent"`
	Leverage               int     `mapstructure:"leverage"`
	MinConfidenceThreshold float64 `mapstructure:"min_confidence_threshold"`
	CooldownMinutes        float64 `mapstructure:"cooldown_minutes"`
	MaxDailyTrades         int     `mapstructure:"max_daily_trades"`
	DefaultSymbol          string  `mapstructure:"default_symbol"`

	FillTimeout       time.Duration `mapstructure:"fill_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`

	// Precision is "exchange" (instrument filters) or "static" (QtyStep/PriceTick).
	Precision    string `mapstructure:"precision"`
	QtyStep      string `mapstructure:"qty_step"`
	PriceTick    string `mapstructure:"price_tick"`
	AccountsFile string `mapstructure:"accounts_file"`
}

type DryRunConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	FeeRate        float64 `mapstructure:"fee_rate"`     // decimal (e.g. 0.0004 = 4 bps)
	SlippageBps    float64 `mapstructure:"slippage_bps"` // slippage applied on fills (bps)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to environment variables. The first variable
// that is set wins.
var envBindings = map[string][]string{
	"server.port":       {"PORT"},
	"server.jwt_secret": {"JWT_SECRET"},

	"aster.base_url":            {"ASTER_API_URL"},
	"aster.owner_address":       {"ASTER_DEX_KEY", "ASTER_OWNER_ADDRESS"},
	"aster.signing_key":         {"API_WALLET_PRIVATE_KEY", "ASTER_SECRET_KEY"},
	"aster.signer_address":      {"API_WALLET_ADDRESS", "ASTER_SIGNER_ADDRESS"},
	"aster.require_same_wallet": {"ASTER_REQUIRE_SAME_WALLET"},
	"aster.recv_window":         {"ASTER_RECV_WINDOW"},
	"aster.timeout":             {"ASTER_TIMEOUT"},
	"aster.requests_per_second": {"ASTER_REQUESTS_PER_SECOND"},

	"trading.enabled":                   {"TRADING_ENABLED"},
	"trading.max_position_size_percent": {"MAX_POSITION_SIZE_PERCENT"},
	"trading.leverage":                  {"LEVERAGE"},
	"trading.min_confidence_threshold":  {"MIN_CONFIDENCE_THRESHOLD"},
	"trading.cooldown_minutes":          {"COOLDOWN_MINUTES"},
	"trading.max_daily_trades":          {"MAX_DAILY_TRADES"},
	"trading.default_symbol":            {"TRADING_SYMBOL"},
	"trading.fill_timeout":              {"FILL_TIMEOUT"},
	"trading.close_timeout":             {"CLOSE_TIMEOUT"},
	"trading.reconcile_interval":        {"RECONCILE_INTERVAL"},
	"trading.queue_capacity":            {"QUEUE_CAPACITY"},
	"trading.precision":                 {"PRECISION_SOURCE"},
	"trading.qty_step":                  {"QTY_STEP"},
	"trading.price_tick":                {"PRICE_TICK"},
	"trading.accounts_file":             {"ACCOUNTS_FILE"},

	"dry_run.enabled":         {"DRY_RUN"},
	"dry_run.initial_balance": {"DRY_RUN_INITIAL_BALANCE"},
	"dry_run.fee_rate":        {"DRY_RUN_FEE_RATE"},
	"dry_run.slippage_bps":    {"DRY_RUN_SLIPPAGE_BPS"},

	"database.path": {"DB_PATH", "DATABASE_PATH"},

	"logging.level":  {"LOG_LEVEL"},
	"logging.format": {"LOG_FORMAT"},
}

// Load reads .env (if present), an optional config file and the environment.
func Load(configPath string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Trading.DefaultSymbol = strings.ToUpper(strings.TrimSpace(cfg.Trading.DefaultSymbol))
	cfg.Trading.Precision = strings.ToLower(cfg.Trading.Precision)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.jwt_secret", "dev-secret")

	v.SetDefault("aster.base_url", "https://fapi.asterdex.com")
	v.SetDefault("aster.recv_window", 50000)
	v.SetDefault("aster.timeout", "10s")
	v.SetDefault("aster.requests_per_second", 10)

	v.SetDefault("trading.enabled", false)
	v.SetDefault("trading.max_position_size_percent", 15)
	v.SetDefault("trading.leverage", 100)
	v.SetDefault("trading.min_confidence_threshold", 75)
	v.SetDefault("trading.cooldown_minutes", 5)
	v.SetDefault("trading.max_daily_trades", 10)
	v.SetDefault("trading.default_symbol", "BTCUSDT")
	v.SetDefault("trading.fill_timeout", "10s")
	v.SetDefault("trading.close_timeout", "15s")
	v.SetDefault("trading.reconcile_interval", "5s")
	v.SetDefault("trading.queue_capacity", 1)
	v.SetDefault("trading.precision", "exchange")
	v.SetDefault("trading.qty_step", "0.001")
	v.SetDefault("trading.price_tick", "0.01")
	v.SetDefault("trading.accounts_file", "")

	v.SetDefault("dry_run.enabled", false)
	v.SetDefault("dry_run.initial_balance", 10000.0)
	v.SetDefault("dry_run.fee_rate", 0.0004)
	v.SetDefault("dry_run.slippage_bps", 2)

	v.SetDefault("database.path", "./data/trading.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports every invalid setting at once. Credentials are only
// required for live trading.
func (c *Config) Validate() error {
	var errs []error
	t := c.Trading
	if t.MaxPositionSizePercent <= 0 || t.MaxPositionSizePercent > 100 {
		errs = append(errs, fmt.Errorf("max_position_size_percent must be in (0, 100], got %v", t.MaxPositionSizePercent))
	}
	if t.Leverage < 1 || t.Leverage > 125 {
		errs = append(errs, fmt.Errorf("leverage must be in [1, 125], got %d", t.Leverage))
	}
	if t.MinConfidenceThreshold < 0 || t.MinConfidenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("min_confidence_threshold must be in [0, 100], got %v", t.MinConfidenceThreshold))
	}
	if t.CooldownMinutes < 0 {
		errs = append(errs, errors.New("cooldown_minutes must not be negative"))
	}
	if t.MaxDailyTrades < 0 {
		errs = append(errs, errors.New("max_daily_trades must not be negative"))
	}
	if t.DefaultSymbol == "" {
		errs = append(errs, errors.New("default_symbol is required"))
	}
	if t.Precision != "exchange" && t.Precision != "static" {
		errs = append(errs, fmt.Errorf("precision must be exchange or static, got %q", t.Precision))
	}
	if !c.DryRun.Enabled {
		if strings.TrimSpace(c.Aster.OwnerAddress) == "" {
			errs = append(errs, errors.New("ASTER_DEX_KEY (owner address) is required for live trading"))
		}
		if strings.TrimSpace(c.Aster.SigningKey) == "" {
			errs = append(errs, errors.New("API_WALLET_PRIVATE_KEY is required for live trading"))
		}
	} else if c.DryRun.InitialBalance <= 0 {
		errs = append(errs, errors.New("dry_run.initial_balance must be positive"))
	}
	return errors.Join(errs...)
}

// HasCredentials reports whether signing credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.Aster.OwnerAddress != "" && c.Aster.SigningKey != ""
}
