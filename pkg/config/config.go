// Package config loads and persists the copytrader's YAML configuration,
// following the credential-pool-and-tier layout of SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Chain       ChainConfig       `yaml:"chain"`
	Tiers       TiersConfig       `yaml:"tiers"`
	TakeProfit  []TPLevel         `yaml:"take_profit_ladder"`
	Slippage    SlippageConfig    `yaml:"slippage"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Intervals   IntervalsConfig   `yaml:"intervals"`
	Policy      PolicyConfig      `yaml:"policy"`
	State       StateConfig       `yaml:"state"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CredentialsConfig holds the key pools. Each field accepts a
// comma-separated list and is also overridable by an environment
// variable of the same name in upper case (e.g. RPC_KEYS).
type CredentialsConfig struct {
	RPCKeys         []string `yaml:"rpc_keys"`
	ParseKeys       []string `yaml:"parse_keys"`
	SwapKeys        []string `yaml:"swap_keys"`
	PriceOracleKeys []string `yaml:"price_oracle_keys"`
	SignerKeyEnv    string   `yaml:"signer_key_env"` // name of the env var holding the base58 signer key
	SignerPassEnv   string   `yaml:"signer_pass_env"`
}

// ChainConfig holds RPC endpoint and provider-selection settings.
type ChainConfig struct {
	RPCEndpoints      []string      `yaml:"rpc_endpoints"`
	FallbackEndpoints []string      `yaml:"fallback_endpoints"`
	WSEndpoints       []string      `yaml:"ws_endpoints"`
	PrimaryProvider   string        `yaml:"primary_provider"` // auto|primary|fallback
	Commitment        string        `yaml:"commitment"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
	ConfirmPoll       time.Duration `yaml:"confirm_poll_interval"`
	ParseBaseURL      string        `yaml:"parse_base_url"` // bulk parsed-transaction endpoint base
}

// Tier defines the position-sizing rule for a hunter-score band.
type Tier struct {
	MinScore    int     `yaml:"min_score"`
	EntrySOL    float64 `yaml:"entry_sol"`
	AddSOL      float64 `yaml:"add_sol"`
	MaxSOL      float64 `yaml:"max_sol"`
	StopLossPct float64 `yaml:"stop_loss_pct"`
}

// TiersConfig is the ordered tier table, evaluated highest MinScore first.
type TiersConfig struct {
	Tiers []Tier `yaml:"tiers"`
}

// TPLevel is one take-profit ladder rung.
type TPLevel struct {
	PnLThreshold float64 `yaml:"pnl_threshold"`
	SellFraction float64 `yaml:"sell_fraction"`
}

// SlippageConfig is the escalating slippage-bps schedule; index 0 is the
// default quote slippage, the rest are sell-retry escalation tiers.
type SlippageConfig struct {
	ScheduleBps []int `yaml:"schedule_bps"`
}

// DiscoveryConfig holds the Discovery audit/scoring knobs.
type DiscoveryConfig struct {
	MinAge             time.Duration `yaml:"min_age"`
	MaxAge             time.Duration `yaml:"max_age"`
	Gain24hThreshold   float64       `yaml:"gain_24h_threshold"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MinTokenProfitPct  float64       `yaml:"min_token_profit_pct"`
	MinWinRate         float64       `yaml:"min_win_rate"`
	MinPnLRatio        float64       `yaml:"min_pnl_ratio"`
	MinTradeCount      int           `yaml:"min_trade_count"`
	MinHunterScore     int           `yaml:"min_hunter_score"`
	PoolSizeLimit      int           `yaml:"pool_size_limit"`
}

// IntervalsConfig holds the periodic-task cadences.
type IntervalsConfig struct {
	Discovery      time.Duration `yaml:"discovery"`
	Maintenance    time.Duration `yaml:"maintenance"`
	HoldingsPrune  time.Duration `yaml:"holdings_prune"`
	HoldingsTTL    time.Duration `yaml:"holdings_ttl"`
	WSResubscribe  time.Duration `yaml:"ws_resubscribe"`
	SignatureTTL   time.Duration `yaml:"signature_ttl"`
	PnLCheck       time.Duration `yaml:"pnl_check"`
	TxVerifyWindow time.Duration `yaml:"tx_verify_window"`
	AgentSync      time.Duration `yaml:"agent_sync"`
}

// PolicyConfig holds the remaining trading-policy knobs.
type PolicyConfig struct {
	MinShareValueSOL       float64       `yaml:"min_share_value_sol"`
	FollowSellThreshold    float64       `yaml:"follow_sell_threshold"`
	MinSellRatio           float64       `yaml:"min_sell_ratio"`
	SellBuffer             float64       `yaml:"sell_buffer"`
	MaxEntryPumpMultiplier float64       `yaml:"max_entry_pump_multiplier"`
	USDCPerSOLDefault      float64       `yaml:"usdc_per_sol_default"`
	SyncProtection         time.Duration `yaml:"sync_protection"`
	SyncMinDeltaRatio      float64       `yaml:"sync_min_delta_ratio"`
	MonitorBatchSize       int           `yaml:"monitor_batch_size"`
	MonitorDrainTimeout    time.Duration `yaml:"monitor_drain_timeout"`
}

// StateConfig holds the on-disk locations for persisted state.
type StateConfig struct {
	DataDir          string `yaml:"data_dir"`
	HunterStoreFile  string `yaml:"hunter_store_file"`
	TraderStateFile  string `yaml:"trader_state_file"`
	ScannedTokensLog string `yaml:"scanned_tokens_log"`
	BlacklistLog     string `yaml:"blacklist_log"`
	TrashLog         string `yaml:"trash_log"`
}

// LoggingConfig controls the zap-backed logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, console
	OutputFile string `yaml:"output_file"`
}

// DefaultConfig returns the production-shaped default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCEndpoints:    []string{"https://api.mainnet-beta.solana.com"},
			WSEndpoints:     []string{"wss://api.mainnet-beta.solana.com"},
			PrimaryProvider: "auto",
			Commitment:      "confirmed",
			ConfirmTimeout:  90 * time.Second,
			ConfirmPoll:     2 * time.Second,
		},
		Tiers: TiersConfig{
			Tiers: []Tier{
				{MinScore: 90, EntrySOL: 0.08, AddSOL: 0.08, MaxSOL: 0.24, StopLossPct: 90},
				{MinScore: 80, EntrySOL: 0.06, AddSOL: 0.06, MaxSOL: 0.18, StopLossPct: 87},
				{MinScore: 60, EntrySOL: 0.04, AddSOL: 0.04, MaxSOL: 0.12, StopLossPct: 85},
			},
		},
		TakeProfit: []TPLevel{
			{PnLThreshold: 1.0, SellFraction: 0.50},
			{PnLThreshold: 4.0, SellFraction: 0.50},
			{PnLThreshold: 10.0, SellFraction: 0.80},
		},
		Slippage: SlippageConfig{ScheduleBps: []int{100, 300, 800, 1500}},
		Discovery: DiscoveryConfig{
			MinAge:            1 * time.Hour,
			MaxAge:            6 * time.Hour,
			Gain24hThreshold:  0.5,
			MaxDelay:          6 * time.Hour,
			MinTokenProfitPct: 0.3,
			MinWinRate:        0.35,
			MinPnLRatio:       1.5,
			MinTradeCount:     10,
			MinHunterScore:    60,
			PoolSizeLimit:     200,
		},
		Intervals: IntervalsConfig{
			Discovery:      30 * time.Minute,
			Maintenance:    6 * time.Hour,
			HoldingsPrune:  12 * time.Hour,
			HoldingsTTL:    2 * time.Hour,
			WSResubscribe:  10 * time.Minute,
			SignatureTTL:   90 * time.Second,
			PnLCheck:       5 * time.Second,
			TxVerifyWindow: 60 * time.Second,
			AgentSync:      30 * time.Second,
		},
		Policy: PolicyConfig{
			MinShareValueSOL:       0.01,
			FollowSellThreshold:    0.05,
			MinSellRatio:           0.30,
			SellBuffer:             0.999,
			MaxEntryPumpMultiplier: 4.0,
			USDCPerSOLDefault:      150.0,
			SyncProtection:         60 * time.Second,
			SyncMinDeltaRatio:      0.01,
			MonitorBatchSize:       15,
			MonitorDrainTimeout:    300 * time.Millisecond,
		},
		State: StateConfig{
			DataDir:          "./data",
			HunterStoreFile:  "hunters.json",
			TraderStateFile:  "positions.json",
			ScannedTokensLog: "scanned_tokens.txt",
			BlacklistLog:     "blacklist.txt",
			TrashLog:         "trash.txt",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputFile: "stdout",
		},
	}
}

// TestConfig returns a configuration suitable for RUN_MODE=test: faster
// intervals, console logging, a scratch data directory.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Chain.RPCEndpoints = []string{"https://api.devnet.solana.com"}
	cfg.Chain.WSEndpoints = []string{"wss://api.devnet.solana.com"}
	cfg.Chain.ConfirmTimeout = 15 * time.Second
	cfg.Chain.ConfirmPoll = 500 * time.Millisecond

	cfg.Intervals.Discovery = 5 * time.Second
	cfg.Intervals.Maintenance = 10 * time.Second
	cfg.Intervals.HoldingsPrune = 2 * time.Second
	cfg.Intervals.HoldingsTTL = 5 * time.Second
	cfg.Intervals.PnLCheck = 1 * time.Second
	cfg.Intervals.AgentSync = 2 * time.Second

	cfg.State.DataDir = "./testdata-run"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	return cfg
}

// applyCredentialEnvOverrides overlays comma-separated env-var pools onto
// the credential fields, matching spec.md §6's "environment-driven" note.
func applyCredentialEnvOverrides(c *Config) {
	overlay := func(field *[]string, envVar string) {
		if v := os.Getenv(envVar); v != "" {
			*field = splitAndTrim(v)
		}
	}
	overlay(&c.Credentials.RPCKeys, "RPC_KEYS")
	overlay(&c.Credentials.ParseKeys, "PARSE_KEYS")
	overlay(&c.Credentials.SwapKeys, "SWAP_KEYS")
	overlay(&c.Credentials.PriceOracleKeys, "PRICE_ORACLE_KEYS")

	if c.Credentials.SignerKeyEnv == "" {
		c.Credentials.SignerKeyEnv = "SIGNER_PRIVATE_KEY"
	}
	if c.Credentials.SignerPassEnv == "" {
		c.Credentials.SignerPassEnv = "SIGNER_PASSPHRASE"
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig loads configuration from a YAML file, creating a default one
// if it does not yet exist, then overlays credential env vars.
func LoadConfig(configPath string) (*Config, error) {
	configPath = expandHome(configPath)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		applyCredentialEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyCredentialEnvOverrides(&cfg)
	return &cfg, nil
}

// SaveConfig writes configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	configPath = expandHome(configPath)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

// GetConfigPath resolves the configuration file path from the
// COPYTRADER_CONFIG environment variable, falling back to a default.
func GetConfigPath() string {
	if p := os.Getenv("COPYTRADER_CONFIG"); p != "" {
		return p
	}
	return "~/.hunter-copytrader/config.yaml"
}

// LoadConfigWithFallback loads configuration based on RUN_MODE: "test"
// short-circuits to TestConfig(), otherwise loads from disk and falls
// back to defaults on error.
func LoadConfigWithFallback(log *zap.Logger) (*Config, error) {
	if os.Getenv("RUN_MODE") == "test" {
		if log != nil {
			log.Info("using test configuration (RUN_MODE=test)")
		}
		cfg := TestConfig()
		applyCredentialEnvOverrides(cfg)
		return cfg, nil
	}

	configPath := GetConfigPath()
	cfg, err := LoadConfig(configPath)
	if err != nil {
		if log != nil {
			log.Warn("failed to load config, using defaults",
				zap.String("config_path", configPath), zap.Error(err))
		}
		cfg := DefaultConfig()
		applyCredentialEnvOverrides(cfg)
		return cfg, nil
	}

	if log != nil {
		log.Info("configuration loaded", zap.String("config_path", configPath))
	}
	return cfg, nil
}

// TierFor returns the tier matching the given hunter score: the highest
// MinScore not exceeding score. Tiers must be supplied highest-first.
func (c *Config) TierFor(score int) (Tier, bool) {
	for _, t := range c.Tiers.Tiers {
		if score >= t.MinScore {
			return t, true
		}
	}
	return Tier{}, false
}
