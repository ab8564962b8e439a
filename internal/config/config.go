// Package config defines the spreadbot configuration and its validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPREADBOT_* environment variables.
// It is read once at startup.
type Config struct {
	Engine    EngineConfig              `toml:"engine"`
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	Dex       DexConfig                 `toml:"dex"`
	RateLimit RateLimitConfig           `toml:"rate_limit"`
	Redis     RedisConfig               `toml:"redis"`
	Supabase  SupabaseConfig            `toml:"supabase"`
	S3        S3Config                  `toml:"s3"`
	Server    ServerConfig              `toml:"server"`
	Notify    NotifyConfig              `toml:"notify"`
	Mode      string                    `toml:"mode"`
	LogLevel  string                    `toml:"log_level"`
}

// EngineConfig holds the detection and orchestration parameters.
type EngineConfig struct {
	// ArbitrageThreshold is a fraction: 0.02 alerts on spreads of 2% or more.
	ArbitrageThreshold float64  `toml:"arbitrage_threshold"`
	MaxSpreadPercent   float64  `toml:"max_spread_percent"`
	MinCEX24hVolume    float64  `toml:"min_cex_24h_volume"`
	MinDexLiquidity    float64  `toml:"min_dex_liquidity"`
	BatchSize          int      `toml:"batch_size"`
	UpdateInterval     Duration `toml:"update_interval"`
	BatchTimeout       Duration `toml:"batch_timeout"`
	BatchPause         Duration `toml:"batch_pause"`
	MaxWorkers         int      `toml:"max_workers"`
	MaxRetries         int      `toml:"max_retries"`
	RetryDelay         Duration `toml:"retry_delay"`
	MaxBackoff         Duration `toml:"max_backoff"`
	Staleness          Duration `toml:"staleness"`
	Cooldown           Duration `toml:"cooldown"`
	DiscoveryInterval  Duration `toml:"discovery_interval"`
	MaxTokens          int      `toml:"max_tokens"`
	Include            []string `toml:"include"`
	Exclude            []string `toml:"exclude"`
	EnrichTransfers    bool     `toml:"enrich_transfers"`
	HTTPTimeout        Duration `toml:"http_timeout"`
	RecentSize         int      `toml:"recent_size"`
	JournalBuffer      int      `toml:"journal_buffer"`
	// CompareSameExchange also pairs spot and futures quotes of one exchange.
	CompareSameExchange bool `toml:"compare_same_exchange"`
}

// ExchangeConfig configures one centralized exchange. An exchange is active
// only when it is not disabled and its credentials are present.
type ExchangeConfig struct {
	Disabled   bool   `toml:"disabled"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	Passphrase string `toml:"passphrase"`
	BaseURL    string `toml:"base_url"`
	// FuturesURL is only used by venues with a separate futures host.
	FuturesURL string   `toml:"futures_url"`
	Markets    []string `toml:"markets"`
	// Compare defaults to true; false keeps the exchange out of the token
	// intersection while still quoting it.
	Compare        *bool         `toml:"compare"`
	MaxConcurrency int           `toml:"max_concurrency"`
	RateLimit      ProfileConfig `toml:"rate_limit"`
}

// Comparing reports the effective compare flag.
func (e ExchangeConfig) Comparing() bool { return e.Compare == nil || *e.Compare }

// HasCredentials reports whether key and secret are both set.
func (e ExchangeConfig) HasCredentials() bool {
	return strings.TrimSpace(e.APIKey) != "" && strings.TrimSpace(e.APISecret) != ""
}

// LimitConfig is one budget override.
type LimitConfig struct {
	Capacity int      `toml:"capacity"`
	Window   Duration `toml:"window"`
}

// ProfileConfig overrides the built-in rate profile of an exchange.
type ProfileConfig struct {
	Market  LimitConfig `toml:"market"`
	Private LimitConfig `toml:"private"`
	IP      LimitConfig `toml:"ip"`
}

// DexConfig configures the pool feed.
type DexConfig struct {
	Feed           string        `toml:"feed"`
	Disabled       bool          `toml:"disabled"`
	BaseURL        string        `toml:"base_url"`
	RequireDex     bool          `toml:"require_dex"`
	MaxConcurrency int           `toml:"max_concurrency"`
	RateLimit      ProfileConfig `toml:"rate_limit"`
}

// RateLimitConfig selects where budgets are accounted.
type RateLimitConfig struct {
	// Backend is "memory" (per process) or "redis" (shared).
	Backend        string      `toml:"backend"`
	FallbackMarket LimitConfig `toml:"fallback_market"`
}

// RedisConfig holds Redis connection parameters and the features using it.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// SharedDedup keeps dedup state in Redis so replicas share cool-downs.
	SharedDedup bool `toml:"shared_dedup"`
	// CycleLock lets only one replica run a cycle at a time.
	CycleLock bool   `toml:"cycle_lock"`
	Channel   string `toml:"channel"`
	Stream    string `toml:"stream"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	TelegramAPIBase   string `toml:"telegram_api_base"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	DiscordUsername   string `toml:"discord_username"`
	// Startup sends a message to the text channels when monitoring begins.
	Startup bool `toml:"startup"`
}

// Defaults returns a Config populated with the values used when neither the
// file nor the environment set them.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ArbitrageThreshold: 0.02,
			MaxSpreadPercent:   100,
			MinCEX24hVolume:    1_000_000,
			MinDexLiquidity:    500_000,
			BatchSize:          10,
			UpdateInterval:     Duration{30 * time.Second},
			BatchTimeout:       Duration{30 * time.Second},
			BatchPause:         Duration{time.Second},
			MaxWorkers:         32,
			MaxRetries:         3,
			RetryDelay:         Duration{5 * time.Second},
			MaxBackoff:         Duration{30 * time.Second},
			Staleness:          Duration{2 * time.Minute},
			Cooldown:           Duration{15 * time.Minute},
			DiscoveryInterval:  Duration{time.Hour},
			Exclude:            []string{"USDT", "USDC", "DAI", "FDUSD", "TUSD", "BUSD"},
			EnrichTransfers:    true,
			HTTPTimeout:        Duration{10 * time.Second},
			RecentSize:         200,
			JournalBuffer:      1024,
		},
		Exchanges: map[string]ExchangeConfig{
			"okx":    {Markets: []string{"spot", "futures"}},
			"bybit":  {Markets: []string{"spot", "futures"}},
			"gateio": {Markets: []string{"spot", "futures"}},
			"mexc":   {Markets: []string{"spot", "futures"}},
		},
		Dex: DexConfig{
			Feed:           "dexscreener",
			MaxConcurrency: 2,
		},
		RateLimit: RateLimitConfig{Backend: "memory"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "spreadbot",
			Channel:    "spreadbot:opportunities",
		},
		Supabase: SupabaseConfig{
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "spreadbot",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateLimit:  120,
			RateWindow: Duration{time.Minute},
		},
		Notify:   NotifyConfig{Startup: true},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// ExchangeIDs returns the configured exchange names in sorted order.
func (c *Config) ExchangeIDs() []string {
	ids := make([]string, 0, len(c.Exchanges))
	for id := range c.Exchanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var validModes = map[string]bool{
	"monitor": true,
	"once":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMarkets = map[string]bool{
	"spot": true, "futures": true, "perp": true, "swap": true, "linear": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Whether any exchange is
// active is decided later by the exchange registry.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: monitor, once)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	e := c.Engine
	if e.ArbitrageThreshold <= 0 || e.ArbitrageThreshold >= 1 {
		add("engine: arbitrage_threshold must be a fraction in (0, 1), got %g (use 0.02 for 2%%)", e.ArbitrageThreshold)
	}
	if e.MaxSpreadPercent <= 0 {
		add("engine: max_spread_percent must be > 0")
	} else if e.ArbitrageThreshold*100 > e.MaxSpreadPercent {
		add("engine: arbitrage_threshold exceeds max_spread_percent")
	}
	if e.MinCEX24hVolume < 0 || e.MinDexLiquidity < 0 {
		add("engine: liquidity floors must be >= 0")
	}
	if e.BatchSize < 1 {
		add("engine: batch_size must be >= 1")
	}
	if e.UpdateInterval.Duration <= 0 {
		add("engine: update_interval must be > 0")
	}
	if e.BatchTimeout.Duration <= 0 {
		add("engine: batch_timeout must be > 0")
	}
	if e.BatchPause.Duration < 0 {
		add("engine: batch_pause must be >= 0")
	}
	if e.MaxWorkers < 1 {
		add("engine: max_workers must be >= 1")
	}
	if e.MaxRetries < 0 {
		add("engine: max_retries must be >= 0")
	}
	if e.RetryDelay.Duration < 0 {
		add("engine: retry_delay must be >= 0")
	}
	if e.Staleness.Duration <= 0 {
		add("engine: staleness must be > 0")
	}
	if e.Cooldown.Duration <= 0 {
		add("engine: cooldown must be > 0")
	}
	if e.DiscoveryInterval.Duration < e.UpdateInterval.Duration {
		add("engine: discovery_interval must not be shorter than update_interval")
	}
	if e.MaxTokens < 0 {
		add("engine: max_tokens must be >= 0")
	}

	for _, id := range c.ExchangeIDs() {
		ex := c.Exchanges[id]
		for _, m := range ex.Markets {
			if !validMarkets[strings.ToLower(m)] {
				add("exchanges.%s: unknown market %q", id, m)
			}
		}
		if ex.MaxConcurrency < 0 {
			add("exchanges.%s: max_concurrency must be >= 0", id)
		}
		if (ex.APIKey == "") != (ex.APISecret == "") {
			add("exchanges.%s: api_key and api_secret must be set together", id)
		}
		errs = append(errs, ex.RateLimit.validate("exchanges."+id)...)
	}
	errs = append(errs, c.Dex.RateLimit.validate("dex")...)

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			add("rate_limit: backend redis requires redis.enabled")
		}
	default:
		add("rate_limit: unknown backend %q (valid: memory, redis)", c.RateLimit.Backend)
	}
	if (c.Redis.SharedDedup || c.Redis.CycleLock) && !c.Redis.Enabled {
		add("redis: shared_dedup and cycle_lock require redis.enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p ProfileConfig) validate(scope string) []string {
	var errs []string
	for name, l := range map[string]LimitConfig{"market": p.Market, "private": p.Private, "ip": p.IP} {
		if (l.Capacity > 0) != (l.Window.Duration > 0) {
			errs = append(errs, fmt.Sprintf("%s.rate_limit.%s: capacity and window must be set together", scope, name))
		}
	}
	sort.Strings(errs)
	return errs
}
