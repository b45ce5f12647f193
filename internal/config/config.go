package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all brain configuration
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Jupiter    JupiterConfig    `mapstructure:"jupiter"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	Store      StoreConfig      `mapstructure:"store"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Brain      BrainConfig      `mapstructure:"brain"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Commands   CommandsConfig   `mapstructure:"commands"`
	Scaling    ScalingConfig    `mapstructure:"scaling"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BaseMint      string `mapstructure:"base_mint"`
}

// RPCEndpointConfig describes one endpoint in the Manager's pool.
type RPCEndpointConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Priority  int    `mapstructure:"priority"`
}

type RPCConfig struct {
	Endpoints          []RPCEndpointConfig `mapstructure:"endpoints"`
	HealthIntervalMs   int                 `mapstructure:"health_interval_ms"`
	BlockEngineURL     string              `mapstructure:"block_engine_url"`
	BlockEngineAPIKeyEnv string            `mapstructure:"block_engine_api_key_env"`
}

type JupiterConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BlockchainConfig struct {
	BlockhashRefreshMs    int `mapstructure:"blockhash_refresh_ms"`
	BlockhashTTLSeconds   int `mapstructure:"blockhash_ttl_seconds"`
	BalanceRefreshSeconds int `mapstructure:"balance_refresh_seconds"`
}

type StoreConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	TablePrefix string `mapstructure:"table_prefix"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
}

type WebSocketConfig struct {
	ShyftURL         string `mapstructure:"shyft_url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

// BrainConfig drives the orchestrator's tick loop.
type BrainConfig struct {
	LoopIntervalMs         int  `mapstructure:"loop_interval_ms"`
	MaxConcurrentPositions int  `mapstructure:"max_concurrent_positions"`
	EmergencyStopEnabled   bool `mapstructure:"emergency_stop_enabled"`
	DryRun                 bool `mapstructure:"dry_run"`
	DrainTimeoutSeconds    int  `mapstructure:"drain_timeout_seconds"`
}

// RiskConfig carries the decision engine's default thresholds.
type RiskConfig struct {
	DefaultTakeProfitPercent float64 `mapstructure:"default_take_profit_percent"`
	DefaultStopLossPercent   float64 `mapstructure:"default_stop_loss_percent"`
	DefaultTimeoutSeconds    int     `mapstructure:"default_timeout_seconds"`
	MaxPositionSizeSOL       float64 `mapstructure:"max_position_size_sol"`
	MaxTotalExposureSOL      float64 `mapstructure:"max_total_exposure_sol"`
	MinLiquidityMultiplier   float64 `mapstructure:"min_liquidity_multiplier"`
	MaxSpreadPercent         float64 `mapstructure:"max_spread_percent"`
	TimeBasedStopLossHours   float64 `mapstructure:"time_based_stop_loss_hours"`
	TimeBasedStopLossFactor  float64 `mapstructure:"time_based_stop_loss_factor"`
	MaxVolatilityPercent     float64 `mapstructure:"max_volatility_percent"`
	MaxDataAgeSeconds        int     `mapstructure:"max_data_age_seconds"`
	MaxDrawdownPercent       float64 `mapstructure:"max_drawdown_percent"`
	MaxConsecutiveLosses     int     `mapstructure:"max_consecutive_losses"`
	EmergencyCooldownSeconds int     `mapstructure:"emergency_cooldown_seconds"`
}

type ExecutorConfig struct {
	BundleTimeoutMs    int     `mapstructure:"bundle_timeout_ms"`
	MinTipLamports     uint64  `mapstructure:"min_tip_lamports"`
	MaxTipLamports     uint64  `mapstructure:"max_tip_lamports"`
	TipPercentOfTrade  float64 `mapstructure:"tip_percent_of_trade"`
	MaxResubmissions   int     `mapstructure:"max_resubmissions"`
	PriorityFeeLamports uint64 `mapstructure:"priority_fee_lamports"`
}

type CommandsConfig struct {
	AdvisorChannel  string `mapstructure:"advisor_channel"`
	GuardianChannel string `mapstructure:"guardian_channel"`
	AISignalTimeoutSeconds int `mapstructure:"ai_signal_timeout_seconds"`
	DedupWindowSeconds     int `mapstructure:"dedup_window_seconds"`
}

type ScalingConfig struct {
	Enabled               bool    `mapstructure:"enable_scaling"`
	ScalingThresholdPercent float64 `mapstructure:"scaling_threshold_percent"`
	ScalingAmountPercent    float64 `mapstructure:"scaling_amount_percent"`
	MaxScaleIns             int     `mapstructure:"max_scale_ins"`
}

type MetricsConfig struct {
	IntervalSeconds int `mapstructure:"metrics_interval_seconds"`
}

type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Defaults (hardening against a partial config file)
	v.SetDefault("blockchain.blockhash_refresh_ms", 100)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("blockchain.balance_refresh_seconds", 5)
	v.SetDefault("jupiter.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("jupiter.slippage_bps", 500)
	v.SetDefault("jupiter.timeout_seconds", 10)
	v.SetDefault("rpc.health_interval_ms", 10000)
	v.SetDefault("store.sqlite_path", "./data/brain.db")
	v.SetDefault("store.table_prefix", "brain")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("brain.loop_interval_ms", 1000)
	v.SetDefault("brain.max_concurrent_positions", 20)
	v.SetDefault("risk.default_timeout_seconds", 14400)
	v.SetDefault("brain.drain_timeout_seconds", 30)
	v.SetDefault("risk.default_take_profit_percent", 50)
	v.SetDefault("risk.default_stop_loss_percent", 15)
	v.SetDefault("risk.min_liquidity_multiplier", 3)
	v.SetDefault("risk.max_spread_percent", 5)
	v.SetDefault("risk.time_based_stop_loss_hours", 4)
	v.SetDefault("risk.time_based_stop_loss_factor", 0.5)
	v.SetDefault("risk.max_volatility_percent", 30)
	v.SetDefault("risk.max_data_age_seconds", 10)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.emergency_cooldown_seconds", 300)
	v.SetDefault("executor.bundle_timeout_ms", 15000)
	v.SetDefault("executor.min_tip_lamports", 10000)
	v.SetDefault("executor.max_tip_lamports", 5000000)
	v.SetDefault("executor.tip_percent_of_trade", 0.1)
	v.SetDefault("executor.max_resubmissions", 3)
	v.SetDefault("commands.advisor_channel", "advisor_commands")
	v.SetDefault("commands.guardian_channel", "guardian_alerts")
	v.SetDefault("commands.ai_signal_timeout_seconds", 60)
	v.SetDefault("commands.dedup_window_seconds", 300)
	v.SetDefault("scaling.max_scale_ins", 2)
	v.SetDefault("metrics.metrics_interval_seconds", 15)
	v.SetDefault("http.listen_addr", ":8090")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Jupiter.QuoteAPIURL == "" {
		cfg.Jupiter.QuoteAPIURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "./data/brain.db"
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetRisk returns risk config (hot path for the decision engine)
func (m *Manager) GetRisk() RiskConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Risk
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetPrivateKey loads the wallet private key from environment
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetBlockEngineAPIKey loads the block engine API key from environment
func (m *Manager) GetBlockEngineAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.BlockEngineAPIKeyEnv)
}

// RPCEndpoints returns a copy of the configured endpoints. API keys are not
// resolved here; ResolveRPCAPIKey reads each one from its *_env variable.
func (m *Manager) RPCEndpoints() []RPCEndpointConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RPCEndpointConfig, len(m.config.RPC.Endpoints))
	copy(out, m.config.RPC.Endpoints)
	return out
}

// ResolveRPCAPIKey reads an endpoint's API key from the environment variable
// its config names, same *_env secret indirection as the wallet key.
func ResolveRPCAPIKey(ep RPCEndpointConfig) string {
	if ep.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(ep.APIKeyEnv)
}

// GetShyftWSURL returns the full Shyft WebSocket URL, with an API key
// pulled from the first configured RPC endpoint's secret env var if present.
func (m *Manager) GetShyftWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.WebSocket.ShyftURL
	if url == "" || len(m.config.RPC.Endpoints) == 0 {
		return url
	}

	key := os.Getenv(m.config.RPC.Endpoints[0].APIKeyEnv)
	if key == "" {
		return url
	}

	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetBlockhashRefresh returns blockhash refresh interval as duration
func (m *Manager) GetBlockhashRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashRefreshMs) * time.Millisecond
}

// GetBlockhashTTL returns blockhash TTL as duration
func (m *Manager) GetBlockhashTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashTTLSeconds) * time.Second
}

// GetBalanceRefresh returns balance refresh interval as duration
func (m *Manager) GetBalanceRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BalanceRefreshSeconds) * time.Second
}

// GetLoopInterval returns the orchestrator tick interval as duration
func (m *Manager) GetLoopInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Brain.LoopIntervalMs) * time.Millisecond
}

// GetHealthInterval returns the RPC health-probe interval as duration
func (m *Manager) GetHealthInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.RPC.HealthIntervalMs) * time.Millisecond
}
