package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"hedgecore/internal/domain"
	"hedgecore/internal/httpcore"
)

// Config holds all application configuration (spec.md §6's "Configuration
// bundle"): hedge ratios per coverage kind, the orchestrator's per-iteration
// budget, the lifecycle loop's period and risk thresholds, per-venue
// credentials and Resilient HTTP Core defaults, plus the ambient concerns
// (structured-alert channels, the Polymarket Gamma API, health checks, and
// Gist-backed settings hot-reload) carried over from the teacher unchanged.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Alert channels
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`

	// Polymarket Gamma API (market discovery, not the CLOB)
	Polymarket PolymarketConfig `json:"polymarket"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`

	// GitHub Gist - excluded from settings (env var only)
	Gist GistConfig `json:"-"`

	// Hedge ratios per coverage kind (spec.md §6)
	HedgeRatios HedgeRatioConfig `json:"hedge_ratios"`

	// Orchestrator per-iteration budget and pause/drain control (spec.md §4.E, §6)
	Orchestrator OrchestratorConfig `json:"orchestrator"`

	// Position Lifecycle Manager loop period and risk thresholds (spec.md §4.D)
	Lifecycle LifecycleConfig `json:"lifecycle"`

	// Per-venue credentials and Resilient HTTP Core defaults (spec.md §4.A, §6)
	Venues VenuesConfig `json:"venues"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// PolymarketConfig holds Polymarket Gamma API configuration, used by the
// Depeg Executor's market-discovery search (clients/polymarketapi).
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url"`
	// UseMarketFeed enables the gorilla/websocket market-data feed
	// (internal/marketfeed) as a latency optimization for the Depeg
	// Executor and the Position Lifecycle Manager's mark-to-market of open
	// PredictionMarketYes positions. REST remains the source of truth
	// regardless of this flag (SPEC_FULL.md's Domain Stack).
	UseMarketFeed bool `json:"use_market_feed"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// GistConfig holds GitHub Gist configuration, used only for hot-reloading
// this Config itself (config/settings.go); it has nothing to do with
// HedgePosition persistence, which is the external Repository's job
// (spec.md §4.F).
type GistConfig struct {
	Token  string `json:"-"` // Excluded - env var only
	GistID string `json:"-"` // Excluded - env var only; the settings-snapshot gist
}

// HedgeRatioConfig holds the fraction of coverage amount turned into
// offsetting exposure, per coverage kind (spec.md §6 defaults).
type HedgeRatioConfig struct {
	Depeg          float64 `json:"depeg"`
	SmartContract  float64 `json:"smart_contract"`
	Oracle         float64 `json:"oracle"`
	Bridge         float64 `json:"bridge"`
	CexLiquidation float64 `json:"cex_liquidation"`
}

// For determines the configured hedge ratio for a coverage kind. Oracle
// policies are not enumerated in spec.md §6's defaults table; they read
// their own Oracle field, whose default matches the SmartContract ratio,
// since oracle-failure risk correlates with the same protocol-token short
// thesis as a smart-contract exploit. Unknown kinds get 0.
func (h HedgeRatioConfig) For(kind domain.CoverageKind) float64 {
	switch kind {
	case domain.CoverageDepeg:
		return h.Depeg
	case domain.CoverageSmartContract:
		return h.SmartContract
	case domain.CoverageOracle:
		return h.Oracle
	case domain.CoverageBridge:
		return h.Bridge
	case domain.CoverageCexLiquidation:
		return h.CexLiquidation
	}
	return 0
}

// OrchestratorConfig is the per-iteration budget and the administrative
// pause/drain flag the orchestrator re-reads at the start of every
// iteration (spec.md §4.E, §6, §9 "Backpressure on the orchestrator").
type OrchestratorConfig struct {
	Interval                time.Duration `json:"interval"`
	IterationDeadline       time.Duration `json:"iteration_deadline"`
	MaxPoliciesPerIteration int           `json:"max_policies_per_iteration"`
	MaxAggregateNotionalUSD float64       `json:"max_aggregate_notional_usd"`
	PauseNewOpenings        bool          `json:"pause_new_openings"`
	DrainExistingPositions  bool          `json:"drain_existing_positions"`
}

// LifecycleConfig controls the Position Lifecycle Manager's loop period and
// the liquidation-risk classification thresholds (spec.md §4.D.2: Safe
// ≤0.50, Warning (0.50,0.80], Critical >0.80).
type LifecycleConfig struct {
	Period                     time.Duration `json:"period"`
	WarningLossFraction        float64       `json:"warning_loss_fraction"`
	CriticalLossFraction       float64       `json:"critical_loss_fraction"`
	ReconciliationToleranceUSD float64       `json:"reconciliation_tolerance_usd"`
}

// VenueCredentials is the per-venue configuration unit referenced by
// spec.md §6: API key, secret, wallet address, testnet flag. Never logged
// in full, following the teacher's practice of excluding secrets from
// Config's JSON serialization.
type VenueCredentials struct {
	APIKey        string `json:"-"`
	APISecret     string `json:"-"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Testnet       bool   `json:"testnet"`
}

// RedactedSecret returns a loggable stand-in for the API secret: the last
// four characters only, or "(unset)" if empty.
func (v VenueCredentials) RedactedSecret() string {
	if v.APISecret == "" {
		return "(unset)"
	}
	if len(v.APISecret) <= 4 {
		return "****"
	}
	return "****" + v.APISecret[len(v.APISecret)-4:]
}

// VenueClientConfig is one venue's Resilient HTTP Core configuration plus
// its credentials (spec.md §4.A's enumerated options, §6's per-venue
// defaults).
type VenueClientConfig struct {
	Endpoints      []string                      `json:"endpoints"`
	Credentials    VenueCredentials              `json:"credentials"`
	RequestTimeout time.Duration                 `json:"request_timeout"`
	Pool           httpcore.PoolConfig           `json:"pool"`
	Retry          httpcore.RetryConfig          `json:"retry"`
	CircuitBreaker httpcore.CircuitBreakerConfig `json:"circuit_breaker"`
	RateLimit      httpcore.RateLimitConfig      `json:"rate_limit"`
}

// HTTPCoreConfig assembles an httpcore.Config from this venue's settings
// plus the default headers the adapter wants applied to every request.
func (v VenueClientConfig) HTTPCoreConfig(defaultHeaders map[string]string) httpcore.Config {
	return httpcore.Config{
		Endpoints:      v.Endpoints,
		DefaultHeaders: defaultHeaders,
		Pool:           v.Pool,
		RequestTimeout: v.RequestTimeout,
		Retry:          v.Retry,
		CircuitBreaker: v.CircuitBreaker,
		RateLimit:      v.RateLimit,
	}
}

// VenuesConfig groups every venue's client configuration. Polymarket is
// split into its Gamma (discovery) and CLOB (order) endpoints, since
// spec.md §4.A scopes a client to one service and the two have unrelated
// rate limits and breakers.
type VenuesConfig struct {
	PolymarketGamma VenueClientConfig `json:"polymarket_gamma"`
	PolymarketCLOB  VenueClientConfig `json:"polymarket_clob"`
	Hyperliquid     VenueClientConfig `json:"hyperliquid"`
	BinanceFutures  VenueClientConfig `json:"binance_futures"`
	Gmx             VenueClientConfig `json:"gmx"`
}

func defaultRetryableStatus() []int {
	return []int{408, 429, 500, 502, 503, 504}
}

func defaultVenueClientConfig(endpoints ...string) VenueClientConfig {
	return VenueClientConfig{
		Endpoints:      endpoints,
		RequestTimeout: 10 * time.Second,
		Pool: httpcore.PoolConfig{
			MaxConnections:    16,
			ConnectionTimeout: 2 * time.Second,
		},
		Retry: httpcore.RetryConfig{
			MaxAttempts:          3,
			BaseDelay:            200 * time.Millisecond,
			MaxDelay:             5 * time.Second,
			Multiplier:           2.0,
			JitterFraction:       0.2,
			RetryableStatusCodes: defaultRetryableStatus(),
		},
		CircuitBreaker: httpcore.CircuitBreakerConfig{
			FailureThreshold:         5,
			Delay:                    30 * time.Second,
			HalfOpenSuccessThreshold: 2,
		},
		RateLimit: httpcore.RateLimitConfig{
			TokensPerSecond: 10,
			Burst:           20,
		},
	}
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Venues.PolymarketGamma.Endpoints = cloneStrings(c.Venues.PolymarketGamma.Endpoints)
	clone.Venues.PolymarketCLOB.Endpoints = cloneStrings(c.Venues.PolymarketCLOB.Endpoints)
	clone.Venues.Hyperliquid.Endpoints = cloneStrings(c.Venues.Hyperliquid.Endpoints)
	clone.Venues.BinanceFutures.Endpoints = cloneStrings(c.Venues.BinanceFutures.Endpoints)
	clone.Venues.Gmx.Endpoints = cloneStrings(c.Venues.Gmx.Endpoints)
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		Polymarket: PolymarketConfig{
			GammaAPIURL:   "https://gamma-api.polymarket.com",
			UseMarketFeed: true,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
		HedgeRatios: HedgeRatioConfig{
			Depeg:          0.20,
			SmartContract:  0.30,
			Oracle:         0.30,
			Bridge:         0.40,
			CexLiquidation: 0.25,
		},
		Orchestrator: OrchestratorConfig{
			Interval:                1 * time.Minute,
			IterationDeadline:       45 * time.Second,
			MaxPoliciesPerIteration: 25,
			MaxAggregateNotionalUSD: 500_000,
		},
		Lifecycle: LifecycleConfig{
			Period:                     60 * time.Second,
			WarningLossFraction:        0.50,
			CriticalLossFraction:       0.80,
			ReconciliationToleranceUSD: 25,
		},
		Venues: VenuesConfig{
			PolymarketGamma: defaultVenueClientConfig("https://gamma-api.polymarket.com"),
			PolymarketCLOB:  defaultVenueClientConfig("https://clob.polymarket.com"),
			Hyperliquid:     defaultVenueClientConfig("https://api.hyperliquid.xyz"),
			BinanceFutures:  defaultVenueClientConfig("https://fapi.binance.com"),
			Gmx:             defaultVenueClientConfig("https://arbitrum-api.gmxinfra.io"),
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := Defaults()

	cfg.IsProd = envBool("STAGE", "PROD")

	cfg.Discord = DiscordConfig{
		BotToken:      envString("DISCORD_BOT_TOKEN", ""),
		ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
		BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
	}
	cfg.Telegram = TelegramConfig{
		BotToken:   envString("TELEGRAM_BOT_KEY", ""),
		ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
		BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
	}

	cfg.Polymarket = PolymarketConfig{
		GammaAPIURL:   envString("POLYMARKET_GAMMA_API_URL", cfg.Polymarket.GammaAPIURL),
		UseMarketFeed: envBoolDefault("POLYMARKET_USE_MARKET_FEED", cfg.Polymarket.UseMarketFeed),
	}

	cfg.HealthServer = HealthServerConfig{
		Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
		Port:    envInt("HEALTH_SERVER_PORT", 8080),
	}

	cfg.Gist = GistConfig{
		Token:  envString("GITHUB_TOKEN", ""),
		GistID: envString("SETTINGS_GIST_ID", ""),
	}

	cfg.HedgeRatios = HedgeRatioConfig{
		Depeg:          envFloat("HEDGE_RATIO_DEPEG", cfg.HedgeRatios.Depeg),
		SmartContract:  envFloat("HEDGE_RATIO_SMART_CONTRACT", cfg.HedgeRatios.SmartContract),
		Oracle:         envFloat("HEDGE_RATIO_ORACLE", cfg.HedgeRatios.Oracle),
		Bridge:         envFloat("HEDGE_RATIO_BRIDGE", cfg.HedgeRatios.Bridge),
		CexLiquidation: envFloat("HEDGE_RATIO_CEX_LIQUIDATION", cfg.HedgeRatios.CexLiquidation),
	}

	cfg.Orchestrator = OrchestratorConfig{
		Interval:                envDuration("ORCHESTRATOR_INTERVAL", cfg.Orchestrator.Interval),
		IterationDeadline:       envDuration("ORCHESTRATOR_ITERATION_DEADLINE", cfg.Orchestrator.IterationDeadline),
		MaxPoliciesPerIteration: envInt("ORCHESTRATOR_MAX_POLICIES", cfg.Orchestrator.MaxPoliciesPerIteration),
		MaxAggregateNotionalUSD: envFloat("ORCHESTRATOR_MAX_NOTIONAL_USD", cfg.Orchestrator.MaxAggregateNotionalUSD),
		PauseNewOpenings:        envBoolDefault("ORCHESTRATOR_PAUSE_NEW_OPENINGS", false),
		DrainExistingPositions:  envBoolDefault("ORCHESTRATOR_DRAIN_EXISTING_POSITIONS", false),
	}

	cfg.Lifecycle = LifecycleConfig{
		Period:                     envDuration("LIFECYCLE_PERIOD", cfg.Lifecycle.Period),
		WarningLossFraction:        envFloat("LIFECYCLE_WARNING_LOSS_FRACTION", cfg.Lifecycle.WarningLossFraction),
		CriticalLossFraction:       envFloat("LIFECYCLE_CRITICAL_LOSS_FRACTION", cfg.Lifecycle.CriticalLossFraction),
		ReconciliationToleranceUSD: envFloat("LIFECYCLE_RECONCILIATION_TOLERANCE_USD", cfg.Lifecycle.ReconciliationToleranceUSD),
	}

	cfg.Venues.PolymarketGamma.Credentials = VenueCredentials{
		APIKey: envString("POLYMARKET_API_KEY", ""),
	}
	cfg.Venues.PolymarketCLOB.Credentials = VenueCredentials{
		APIKey:        envString("POLYMARKET_API_KEY", ""),
		APISecret:     envString("POLYMARKET_API_SECRET", ""),
		WalletAddress: envString("POLYMARKET_WALLET_ADDRESS", ""),
	}
	cfg.Venues.Hyperliquid.Credentials = VenueCredentials{
		WalletAddress: envString("HYPERLIQUID_WALLET_ADDRESS", ""),
		APISecret:     envString("HYPERLIQUID_PRIVATE_KEY", ""),
		Testnet:       envBoolDefault("HYPERLIQUID_TESTNET", false),
	}
	cfg.Venues.BinanceFutures.Credentials = VenueCredentials{
		APIKey:    envString("BINANCE_API_KEY", ""),
		APISecret: envString("BINANCE_API_SECRET", ""),
		Testnet:   envBoolDefault("BINANCE_TESTNET", false),
	}
	cfg.Venues.Gmx.Credentials = VenueCredentials{
		WalletAddress: envString("GMX_WALLET_ADDRESS", ""),
	}

	if eps := envStringSlice("HYPERLIQUID_ENDPOINTS"); len(eps) > 0 {
		cfg.Venues.Hyperliquid.Endpoints = eps
	}
	if eps := envStringSlice("BINANCE_FUTURES_ENDPOINTS"); len(eps) > 0 {
		cfg.Venues.BinanceFutures.Endpoints = eps
	}
	if eps := envStringSlice("GMX_ENDPOINTS"); len(eps) > 0 {
		cfg.Venues.Gmx.Endpoints = eps
	}

	return cfg
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
