// Package config defines all configuration for the anomaly pipeline.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	PaperMode bool            `mapstructure:"paper_mode"`
	API       APIConfig       `mapstructure:"api"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Collector CollectorConfig `mapstructure:"collector"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig holds Polymarket API endpoints and optional L2 credentials.
// Credentials are only needed for authenticated CLOB endpoints; the public
// book and trade feeds work without them.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	Address      string `mapstructure:"address"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// ChainConfig points at the block explorer used for wallet enrichment.
type ChainConfig struct {
	ExplorerBaseURL string `mapstructure:"explorer_base_url"`
	ExplorerAPIKey  string `mapstructure:"explorer_api_key"`
}

// DiscoveryConfig controls which markets get tracked.
//
//   - Interval: how often the Gamma listing is re-scanned (default 5m).
//   - TrackedHorizon: only track markets closing within this window.
//   - MinVolume/MinLiquidity: USD floors applied by the listing predicate.
//   - Categories: whitelist; empty means all categories pass.
//   - ExcludeTags: markets carrying any of these tags are skipped.
//   - ExcludeWords: question text is scanned for these on word boundaries.
type DiscoveryConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	TrackedHorizon time.Duration `mapstructure:"tracked_horizon"`
	MinVolume      float64       `mapstructure:"min_volume"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	Categories     []string      `mapstructure:"categories"`
	ExcludeTags    []string      `mapstructure:"exclude_tags"`
	ExcludeWords   []string      `mapstructure:"exclude_words"`
}

// CollectorConfig sets the per-token polling cadence.
type CollectorConfig struct {
	BookInterval  time.Duration `mapstructure:"book_interval"`
	TradeInterval time.Duration `mapstructure:"trade_interval"`
}

// ScoringConfig holds the decision gate thresholds.
//
//   - MinAnomalyScore: anomaly gate (default 0.65, the trigger threshold).
//   - MinExecutionScore: execution-quality gate (default 0.55).
//   - MinEdge: minimum absolute edge (default 0.05).
type ScoringConfig struct {
	MinAnomalyScore   float64 `mapstructure:"min_anomaly_score"`
	MinExecutionScore float64 `mapstructure:"min_execution_score"`
	MinEdge           float64 `mapstructure:"min_edge"`
}

// RiskConfig sets the sizing caps and circuit-breaker limits, all as
// fractions of bankroll unless noted.
//
//   - Bankroll: paper bankroll in USD.
//   - KellyFraction: fraction of full Kelly to bet (default 0.25).
//   - MaxBetFraction: single-bet cap (default 2%).
//   - MaxPositionFraction: per-token position cap (default 5%).
//   - MaxExposureFraction: total open exposure cap (default 10%).
//   - MinBetUSD: bets below this are dropped (default $5).
//   - DailyLossLimit / MaxDrawdownPct / ConsecutiveLossLimit: circuit breakers.
type RiskConfig struct {
	Bankroll             float64 `mapstructure:"bankroll"`
	KellyFraction        float64 `mapstructure:"kelly_fraction"`
	MaxBetFraction       float64 `mapstructure:"max_bet_fraction"`
	MaxPositionFraction  float64 `mapstructure:"max_position_fraction"`
	MaxExposureFraction  float64 `mapstructure:"max_exposure_fraction"`
	MinBetUSD            float64 `mapstructure:"min_bet_usd"`
	DailyLossLimit       float64 `mapstructure:"daily_loss_limit"`
	MaxDrawdownPct       float64 `mapstructure:"max_drawdown_pct"`
	ConsecutiveLossLimit int64   `mapstructure:"consecutive_loss_limit"`
}

// StoreConfig points at the Redis backend holding all shared pipeline state.
type StoreConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// PersistConfig controls the optional trade archive.
// Driver is "sqlite" (default) or "postgres"; empty disables archiving.
type PersistConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// QueueConfig tunes the in-process work queues.
type QueueConfig struct {
	Workers    int     `mapstructure:"workers"`      // per-queue concurrency
	RatePerSec float64 `mapstructure:"rate_per_sec"` // per-queue rate limit
	MaxRetries int     `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_API_KEY, POLY_API_SECRET,
// POLY_PASSPHRASE, POLY_EXPLORER_API_KEY, POLY_REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("POLY_EXPLORER_API_KEY"); key != "" {
		cfg.Chain.ExplorerAPIKey = key
	}
	if pass := os.Getenv("POLY_REDIS_PASSWORD"); pass != "" {
		cfg.Store.RedisPassword = pass
	}
	if iv := os.Getenv("POLY_MARKET_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			cfg.Discovery.Interval = d
		}
	}
	if iv := os.Getenv("POLY_BOOK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			cfg.Collector.BookInterval = d
		}
	}
	if iv := os.Getenv("POLY_TRADE_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			cfg.Collector.TradeInterval = d
		}
	}
	if h := os.Getenv("POLY_TRACKED_HORIZON_HOURS"); h != "" {
		if n, err := strconv.Atoi(h); err == nil && n > 0 {
			cfg.Discovery.TrackedHorizon = time.Duration(n) * time.Hour
		}
	}
	if b := os.Getenv("POLY_PAPER_BANKROLL"); b != "" {
		if f, err := strconv.ParseFloat(b, 64); err == nil {
			cfg.Risk.Bankroll = f
		}
	}
	if s := os.Getenv("POLY_MIN_ANOMALY"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.Scoring.MinAnomalyScore = f
		}
	}
	if s := os.Getenv("POLY_MIN_EXECUTION"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.Scoring.MinExecutionScore = f
		}
	}
	if s := os.Getenv("POLY_MIN_EDGE"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.Scoring.MinEdge = f
		}
	}
	if p := os.Getenv("POLY_PAPER_MODE"); p != "" {
		if v, err := strconv.ParseBool(p); err == nil {
			cfg.PaperMode = v
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paper_mode", true)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.data_base_url", "https://data-api.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")

	v.SetDefault("chain.explorer_base_url", "https://api.polygonscan.com/api")

	v.SetDefault("discovery.interval", 5*time.Minute)
	v.SetDefault("discovery.tracked_horizon", 24*time.Hour)
	v.SetDefault("discovery.min_volume", 10_000.0)
	v.SetDefault("discovery.min_liquidity", 1_000.0)

	v.SetDefault("collector.book_interval", time.Second)
	v.SetDefault("collector.trade_interval", time.Second)

	v.SetDefault("scoring.min_anomaly_score", 0.65)
	v.SetDefault("scoring.min_execution_score", 0.55)
	v.SetDefault("scoring.min_edge", 0.05)

	v.SetDefault("risk.bankroll", 10_000.0)
	v.SetDefault("risk.kelly_fraction", 0.25)
	v.SetDefault("risk.max_bet_fraction", 0.02)
	v.SetDefault("risk.max_position_fraction", 0.05)
	v.SetDefault("risk.max_exposure_fraction", 0.10)
	v.SetDefault("risk.min_bet_usd", 5.0)
	v.SetDefault("risk.daily_loss_limit", 0.05)
	v.SetDefault("risk.max_drawdown_pct", 0.15)
	v.SetDefault("risk.consecutive_loss_limit", 5)

	v.SetDefault("store.redis_addr", "localhost:6379")

	v.SetDefault("persist.driver", "sqlite")
	v.SetDefault("persist.dsn", "data/trades.db")

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.rate_per_sec", 20.0)
	v.SetDefault("queue.max_retries", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required")
	}
	if c.Risk.Bankroll <= 0 {
		return fmt.Errorf("risk.bankroll must be > 0")
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction must be in (0, 1]")
	}
	if c.Risk.MaxBetFraction <= 0 || c.Risk.MaxBetFraction > c.Risk.MaxPositionFraction {
		return fmt.Errorf("risk.max_bet_fraction must be > 0 and ≤ risk.max_position_fraction")
	}
	if c.Risk.MaxPositionFraction > c.Risk.MaxExposureFraction {
		return fmt.Errorf("risk.max_position_fraction must be ≤ risk.max_exposure_fraction")
	}
	if c.Scoring.MinAnomalyScore < 0 || c.Scoring.MinAnomalyScore > 1 {
		return fmt.Errorf("scoring.min_anomaly_score must be in [0, 1]")
	}
	if c.Collector.BookInterval <= 0 || c.Collector.TradeInterval <= 0 {
		return fmt.Errorf("collector intervals must be > 0")
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("discovery.interval must be > 0")
	}
	switch c.Persist.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("persist.driver must be sqlite or postgres")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	return nil
}
