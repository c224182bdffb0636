// Package config defines all configuration for the divergence-trading bot.
// Config is loaded from a TOML file (default: config.toml) with sensitive
// fields overridable via POLYMARKET_*/POLYGON_* environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the TOML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	API       APIConfig       `mapstructure:"api"`
	Wallet    WalletConfig    `mapstructure:"wallet"`

	privateKey    string
	proxyWallet   string
	polygonRPCURL string
}

// APIConfig points at the Polymarket CLOB REST/WS endpoints and holds the L2
// trading credentials, when pre-provisioned rather than derived at startup.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSBaseURL   string `mapstructure:"ws_base_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// WalletConfig holds the non-secret signing parameters; the private key
// itself and the proxy wallet address come from the environment (see
// PrivateKey/ProxyWallet), never from the TOML file.
type WalletConfig struct {
	ChainID       int64 `mapstructure:"chain_id"`
	SignatureType int   `mapstructure:"signature_type"`
}

// StrategyConfig tunes the divergence evaluator and risk manager.
//
//   - MinEdge: minimum (fair-clob_mid) edge required to emit a signal.
//   - MinMovePct: minimum |spot move| from the window's open price before a
//     window is even considered.
//   - MaxPositionPct / MaxDailyLossPct: fractions of bankroll.
//   - MaxOpenPositions: hard cap on concurrently open positions.
//   - OrderTimeoutSecs: retained for config-surface compatibility; the
//     executor no longer sleeps a fixed timeout before cancelling — the
//     cancel delay is derived per signal from the window's remaining life
//     (see executor.cancelDelay).
//   - StalePriceSecs: aggregator staleness window for spot ticks.
//   - LateWindowGuardSecs: no new signals once time_remaining drops below this.
//   - SeedUSD: starting bankroll; defaults to 100 when zero or absent.
type StrategyConfig struct {
	MinEdge             float64 `mapstructure:"min_edge"`
	MinMovePct          float64 `mapstructure:"min_move_pct"`
	MaxPositionPct      float64 `mapstructure:"max_position_pct"`
	MaxDailyLossPct     float64 `mapstructure:"max_daily_loss_pct"`
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
	OrderTimeoutSecs    int64   `mapstructure:"order_timeout_secs"`
	StalePriceSecs      int64   `mapstructure:"stale_price_secs"`
	LateWindowGuardSecs int64   `mapstructure:"late_window_guard_secs"`
	SeedUSD             float64 `mapstructure:"seed_usd"`
}

// DiscoveryConfig controls window discovery scheduling.
type DiscoveryConfig struct {
	Assets             []string `mapstructure:"assets"`
	WindowDurationSecs int64    `mapstructure:"window_duration_secs"`
	PreDiscoverSecs    int64    `mapstructure:"pre_discover_secs"`
	GammaURL           string   `mapstructure:"gamma_url"`
}

// ChainConfig holds the on-chain redemption adapter's connection details.
type ChainConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	CTFAddress       string `mapstructure:"ctf_address"`
	USDCAddress      string `mapstructure:"usdc_address"`
	PollIntervalSecs int64  `mapstructure:"poll_interval_secs"`
}

// StoreConfig sets where status/alert/trade files are written and where the
// pending-position sqlite cache lives.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the read-only Prometheus/status HTTP surface.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TelegramConfig enables operator alerting over Telegram. Optional: the
// bot runs fine with this entirely unset.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads config from a TOML file with env var overrides for secrets.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("strategy.seed_usd", 100.0)
	v.SetDefault("discovery.window_duration_secs", 300)
	v.SetDefault("discovery.pre_discover_secs", 30)
	v.SetDefault("chain.poll_interval_secs", 30)
	v.SetDefault("chain.ctf_address", "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	v.SetDefault("chain.usdc_address", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.db_path", "data/positions.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.ws_base_url", "wss://ws-subscriptions-clob.polymarket.com/ws")
	v.SetDefault("wallet.chain_id", 137)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.privateKey = os.Getenv("POLYMARKET_PRIVATE_KEY")
	cfg.proxyWallet = os.Getenv("POLYMARKET_PROXY_WALLET")
	cfg.polygonRPCURL = os.Getenv("POLYGON_RPC_URL")
	if cfg.polygonRPCURL != "" {
		cfg.Chain.RPCURL = cfg.polygonRPCURL
	}
	if os.Getenv("POLYMARKET_DRY_RUN") == "true" || os.Getenv("POLYMARKET_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// PrivateKey returns the signing key read from POLYMARKET_PRIVATE_KEY: the
// value captured by Load, or the variable's current value when Load did not
// set one.
func (c *Config) PrivateKey() (string, error) {
	key := c.privateKey
	if key == "" {
		key = os.Getenv("POLYMARKET_PRIVATE_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("POLYMARKET_PRIVATE_KEY env var not set")
	}
	return key, nil
}

// ProxyWallet returns the funder address from POLYMARKET_PROXY_WALLET (the
// value captured by Load, or the variable's current value when Load did not
// set one); empty when signing directly from an EOA.
func (c *Config) ProxyWallet() string {
	if c.proxyWallet != "" {
		return c.proxyWallet
	}
	return os.Getenv("POLYMARKET_PROXY_WALLET")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if _, err := c.PrivateKey(); err != nil {
		return err
	}
	if len(c.Discovery.Assets) == 0 {
		return fmt.Errorf("discovery.assets must list at least one asset")
	}
	if c.Discovery.GammaURL == "" {
		return fmt.Errorf("discovery.gamma_url is required")
	}
	if c.Strategy.MaxPositionPct <= 0 {
		return fmt.Errorf("strategy.max_position_pct must be > 0")
	}
	if c.Strategy.MaxDailyLossPct <= 0 {
		return fmt.Errorf("strategy.max_daily_loss_pct must be > 0")
	}
	if c.Strategy.MaxOpenPositions <= 0 {
		return fmt.Errorf("strategy.max_open_positions must be > 0")
	}
	if !c.DryRun && c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url (or POLYGON_RPC_URL) is required outside dry-run mode")
	}
	return nil
}
