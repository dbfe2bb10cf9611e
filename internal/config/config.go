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

// Config holds all engine configuration.
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Route      RouteConfig      `mapstructure:"route"`
	Bus        BusConfig        `mapstructure:"bus"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Ingress    IngressConfig    `mapstructure:"ingress"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BaseMint      string `mapstructure:"base_mint"`
}

type RPCConfig struct {
	ShyftURL          string `mapstructure:"shyft_url"`
	ShyftAPIKeyEnv    string `mapstructure:"shyft_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

// AdmissionConfig holds the default policy knobs applied to a new
// subscription until overridden per-subscription in the state store.
type AdmissionConfig struct {
	DefaultMinBuySol        uint64   `mapstructure:"default_min_buy_sol"`
	DefaultMaxBuySol        uint64   `mapstructure:"default_max_buy_sol"`
	DefaultMaxPosition      uint64   `mapstructure:"default_max_position"`
	DefaultMaxBuyTimes      int      `mapstructure:"default_max_buy_times"`
	DefaultAutoBuyRatio     float64  `mapstructure:"default_auto_buy_ratio"`
	FastTradeThresholdSec   int64    `mapstructure:"fast_trade_threshold_seconds"`
	FastTradeDurationSec    int64    `mapstructure:"fast_trade_duration_seconds"`
	FastTradeSleepThreshold int      `mapstructure:"fast_trade_sleep_threshold"`
	FastTradeSleepSec       int64    `mapstructure:"fast_trade_sleep_seconds"`
	IgnoredMints            []string `mapstructure:"ignored_mints"`
}

type FeesConfig struct {
	StaticPriorityFeeSol float64 `mapstructure:"static_priority_fee_sol"`
	SandwichSlippageBps  int     `mapstructure:"sandwich_slippage_bps"`
}

// AggregatorConfig configures the AGG route builder's external swap aggregator.
type AggregatorConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	SwapAPIURL     string `mapstructure:"swap_api_url"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	APIKeys        []string `mapstructure:"api_keys"`
}

// RouteConfig governs the Route Registry's retry and builder-selection policy.
type RouteConfig struct {
	MaxBuildRetries   int `mapstructure:"max_build_retries"`
	BondingCurveProgram string `mapstructure:"bonding_curve_program"`
	ConstantProductProgram string `mapstructure:"constant_product_program"`
}

// BusConfig governs the durable outbox-backed Event Bus.
type BusConfig struct {
	SQLitePath        string `mapstructure:"sqlite_path"`
	ChannelBufferSize int    `mapstructure:"channel_buffer_size"`
	RedeliverInterval int    `mapstructure:"redeliver_interval_seconds"`
}

// SettlementConfig governs the Settlement Processor's confirmation polling.
type SettlementConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	MaxWaitSeconds   int `mapstructure:"max_wait_seconds"`
	PollIntervalMs   int `mapstructure:"poll_interval_ms"`
}

type IngressConfig struct {
	ListenPort int    `mapstructure:"listen_port"`
	ListenHost string `mapstructure:"listen_host"`
}

type BlockchainConfig struct {
	BlockhashRefreshMs    int `mapstructure:"blockhash_refresh_ms"`
	BlockhashTTLSeconds   int `mapstructure:"blockhash_ttl_seconds"`
	BalanceRefreshSeconds int `mapstructure:"balance_refresh_seconds"`
}

type StorageConfig struct {
	SQLitePath      string `mapstructure:"sqlite_path"`
	TokenCacheTTLHr int    `mapstructure:"token_cache_ttl_hours"`
}

type DashboardConfig struct {
	RefreshRateMs int `mapstructure:"refresh_rate_ms"`
	LogLines      int `mapstructure:"log_lines"`
}

// WebSocketConfig configures ingress.WSFeed, the direct websocket leader feed
// used as a fallback when no upstream collaborator publishes to the bus
// directly.
type WebSocketConfig struct {
	ShyftURL         string `mapstructure:"shyft_url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

// MetadataConfig configures the token.MetadataSource HTTP adapter, grounded
// on original_source's solbot_cache/token_info.py Helius lookup.
type MetadataConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Manager handles config loading and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager creates a new config manager.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("blockchain.blockhash_refresh_ms", 100)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("blockchain.balance_refresh_seconds", 5)
	v.SetDefault("aggregator.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("aggregator.swap_api_url", "https://quote-api.jup.ag/v6/swap")
	v.SetDefault("aggregator.slippage_bps", 500)
	v.SetDefault("aggregator.timeout_seconds", 10)
	v.SetDefault("rpc.shyft_api_key_env", "SHYFT_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("storage.sqlite_path", "./data/engine.db")
	v.SetDefault("storage.token_cache_ttl_hours", 24)
	v.SetDefault("bus.sqlite_path", "./data/engine.db")
	v.SetDefault("bus.channel_buffer_size", 256)
	v.SetDefault("bus.redeliver_interval_seconds", 5)
	v.SetDefault("settlement.max_attempts", 10)
	v.SetDefault("settlement.max_wait_seconds", 10)
	v.SetDefault("settlement.poll_interval_ms", 500)
	v.SetDefault("route.max_build_retries", 5)
	v.SetDefault("admission.default_min_buy_sol", 10_000_000)
	v.SetDefault("admission.default_max_buy_sol", 1_000_000_000)
	v.SetDefault("admission.default_max_position", 5_000_000_000)
	v.SetDefault("admission.default_max_buy_times", 5)
	v.SetDefault("admission.default_auto_buy_ratio", 100.0)
	v.SetDefault("admission.fast_trade_threshold_seconds", 10)
	v.SetDefault("admission.fast_trade_duration_seconds", 60)
	v.SetDefault("admission.fast_trade_sleep_threshold", 3)
	v.SetDefault("admission.fast_trade_sleep_seconds", 300)
	v.SetDefault("admission.ignored_mints", []string{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
		"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So",  // mSOL
	})
	v.SetDefault("fees.sandwich_slippage_bps", 9900)
	v.SetDefault("ingress.listen_port", 8090)
	v.SetDefault("ingress.listen_host", "0.0.0.0")
	v.SetDefault("dashboard.refresh_rate_ms", 100)
	v.SetDefault("dashboard.log_lines", 100)
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("metadata.base_url", "https://api.helius.xyz/v0")
	v.SetDefault("metadata.api_key_env", "HELIUS_API_KEY")
	v.SetDefault("metadata.timeout_seconds", 10)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Aggregator.QuoteAPIURL == "" {
		cfg.Aggregator.QuoteAPIURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/engine.db"
	}
	if cfg.Bus.SQLitePath == "" {
		cfg.Bus.SQLitePath = cfg.Storage.SQLitePath
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

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetAdmission returns the admission defaults (most frequently accessed).
func (m *Manager) GetAdmission() AdmissionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Admission
}

// SetOnChange registers a callback for config changes.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update modifies config values and saves to file.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.config)

	m.viper.Set("admission.default_min_buy_sol", m.config.Admission.DefaultMinBuySol)
	m.viper.Set("admission.default_max_buy_sol", m.config.Admission.DefaultMaxBuySol)
	m.viper.Set("admission.default_max_position", m.config.Admission.DefaultMaxPosition)
	m.viper.Set("admission.default_max_buy_times", m.config.Admission.DefaultMaxBuyTimes)
	m.viper.Set("admission.default_auto_buy_ratio", m.config.Admission.DefaultAutoBuyRatio)
	m.viper.Set("fees.static_priority_fee_sol", m.config.Fees.StaticPriorityFeeSol)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}

	return nil
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

// GetPrivateKey loads the wallet private key from environment.
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetShyftAPIKey loads the Shyft API key from environment.
func (m *Manager) GetShyftAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
}

// GetFallbackAPIKey loads the fallback RPC API key from environment.
func (m *Manager) GetFallbackAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
}

// GetShyftRPCURL returns the full Shyft RPC URL with API key injected.
func (m *Manager) GetShyftRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}

	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetFallbackRPCURL returns the full fallback RPC URL with API key injected.
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.FallbackURL
	key := os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
	if key == "" {
		return url
	}

	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}

	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

// GetShyftWSURL returns the full Shyft WebSocket URL with API key injected.
func (m *Manager) GetShyftWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.WebSocket.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}

	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetBlockhashRefresh returns the blockhash refresh interval as a duration.
func (m *Manager) GetBlockhashRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashRefreshMs) * time.Millisecond
}

// GetBalanceRefresh returns the balance refresh interval as a duration.
func (m *Manager) GetBalanceRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BalanceRefreshSeconds) * time.Second
}

// GetSettlementPoll returns the settlement poll interval as a duration.
func (m *Manager) GetSettlementPoll() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Settlement.PollIntervalMs) * time.Millisecond
}

// GetMetadataAPIKey loads the metadata API key from environment.
func (m *Manager) GetMetadataAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Metadata.APIKeyEnv)
}

// IsIgnoredMint reports whether mint is in the configured ignore set.
func (m *Manager) IsIgnoredMint(mint string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ig := range m.config.Admission.IgnoredMints {
		if ig == mint {
			return true
		}
	}
	return false
}
