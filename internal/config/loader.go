package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix is prepended to every environment override.
const envPrefix = "SPREADBOT_"

// KnownExchanges lists the venues that have credentials read from the
// environment even when the TOML file does not mention them.
var KnownExchanges = []string{"okx", "bybit", "gateio", "mexc"}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// Map entries decode as fresh values, so defaults for exchanges the
		// file mentions are re-applied below.
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalise(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	e := &cfg.Engine
	setFloat64(&e.ArbitrageThreshold, "SPREADBOT_ARBITRAGE_THRESHOLD")
	setFloat64(&e.MaxSpreadPercent, "SPREADBOT_MAX_SPREAD_PERCENT")
	setFloat64(&e.MinCEX24hVolume, "SPREADBOT_MIN_CEX_24H_VOLUME")
	setFloat64(&e.MinDexLiquidity, "SPREADBOT_MIN_DEX_LIQUIDITY")
	setInt(&e.BatchSize, "SPREADBOT_BATCH_SIZE")
	setDuration(&e.UpdateInterval, "SPREADBOT_UPDATE_INTERVAL")
	setDuration(&e.BatchTimeout, "SPREADBOT_BATCH_TIMEOUT")
	setDuration(&e.BatchPause, "SPREADBOT_BATCH_PAUSE")
	setInt(&e.MaxWorkers, "SPREADBOT_MAX_WORKERS")
	setInt(&e.MaxRetries, "SPREADBOT_MAX_RETRIES")
	setDuration(&e.RetryDelay, "SPREADBOT_RETRY_DELAY")
	setDuration(&e.MaxBackoff, "SPREADBOT_MAX_BACKOFF")
	setDuration(&e.Staleness, "SPREADBOT_STALENESS")
	setDuration(&e.Cooldown, "SPREADBOT_COOLDOWN")
	setDuration(&e.DiscoveryInterval, "SPREADBOT_DISCOVERY_INTERVAL")
	setInt(&e.MaxTokens, "SPREADBOT_MAX_TOKENS")
	setStringSlice(&e.Include, "SPREADBOT_INCLUDE")
	setStringSlice(&e.Exclude, "SPREADBOT_EXCLUDE")
	setBool(&e.EnrichTransfers, "SPREADBOT_ENRICH_TRANSFERS")
	setBool(&e.CompareSameExchange, "SPREADBOT_COMPARE_SAME_EXCHANGE")
	setDuration(&e.HTTPTimeout, "SPREADBOT_HTTP_TIMEOUT")
	setInt(&e.RecentSize, "SPREADBOT_RECENT_SIZE")
	setInt(&e.JournalBuffer, "SPREADBOT_JOURNAL_BUFFER")

	// ── Exchanges ──
	if cfg.Exchanges == nil {
		cfg.Exchanges = make(map[string]ExchangeConfig)
	}
	ids := append([]string(nil), KnownExchanges...)
	for id := range cfg.Exchanges {
		ids = append(ids, id)
	}
	for _, id := range ids {
		ex, ok := cfg.Exchanges[id]
		p := envPrefix + strings.ToUpper(id) + "_"
		before := ex
		setStr(&ex.APIKey, p+"API_KEY")
		setStr(&ex.APISecret, p+"API_SECRET")
		setStr(&ex.Passphrase, p+"PASSPHRASE")
		setStr(&ex.BaseURL, p+"BASE_URL")
		setStr(&ex.FuturesURL, p+"FUTURES_URL")
		setStringSlice(&ex.Markets, p+"MARKETS")
		setInt(&ex.MaxConcurrency, p+"MAX_CONCURRENCY")
		setBool(&ex.Disabled, p+"DISABLED")
		if ok || !sameExchange(before, ex) {
			cfg.Exchanges[id] = ex
		}
	}

	// ── DEX ──
	setStr(&cfg.Dex.Feed, "SPREADBOT_DEX_FEED")
	setStr(&cfg.Dex.BaseURL, "SPREADBOT_DEX_BASE_URL")
	setBool(&cfg.Dex.Disabled, "SPREADBOT_DEX_DISABLED")
	setBool(&cfg.Dex.RequireDex, "SPREADBOT_REQUIRE_DEX")

	// ── Rate limiting ──
	setStr(&cfg.RateLimit.Backend, "SPREADBOT_RATE_LIMIT_BACKEND")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SPREADBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPREADBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREADBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREADBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPREADBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SPREADBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SPREADBOT_REDIS_KEY_PREFIX")
	setBool(&cfg.Redis.SharedDedup, "SPREADBOT_REDIS_SHARED_DEDUP")
	setBool(&cfg.Redis.CycleLock, "SPREADBOT_REDIS_CYCLE_LOCK")
	setStr(&cfg.Redis.Stream, "SPREADBOT_REDIS_STREAM")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "SPREADBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "SPREADBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SPREADBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SPREADBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SPREADBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SPREADBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SPREADBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SPREADBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SPREADBOT_SUPABASE_SSL_MODE")
	setBool(&cfg.Supabase.RunMigrations, "SPREADBOT_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPREADBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPREADBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREADBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREADBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "SPREADBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "SPREADBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREADBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPREADBOT_S3_USE_SSL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SPREADBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SPREADBOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-provided port
	setStringSlice(&cfg.Server.CORSOrigins, "SPREADBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SPREADBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SPREADBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPREADBOT_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPREADBOT_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREADBOT_DISCORD_WEBHOOK_URL")
	setBool(&cfg.Notify.Startup, "SPREADBOT_NOTIFY_STARTUP")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPREADBOT_MODE")
	setStr(&cfg.LogLevel, "SPREADBOT_LOG_LEVEL")
}

// normalise lower-cases identifiers and fills per-exchange defaults that a
// TOML table may have dropped.
func normalise(cfg *Config) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	cfg.Dex.Feed = strings.ToLower(strings.TrimSpace(cfg.Dex.Feed))

	out := make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for id, ex := range cfg.Exchanges {
		if len(ex.Markets) == 0 {
			ex.Markets = []string{"spot", "futures"}
		}
		for i, m := range ex.Markets {
			ex.Markets[i] = strings.ToLower(strings.TrimSpace(m))
		}
		out[strings.ToLower(strings.TrimSpace(id))] = ex
	}
	cfg.Exchanges = out
}

func sameExchange(a, b ExchangeConfig) bool {
	return a.APIKey == b.APIKey && a.APISecret == b.APISecret &&
		a.Passphrase == b.Passphrase && a.BaseURL == b.BaseURL &&
		a.FuturesURL == b.FuturesURL && a.MaxConcurrency == b.MaxConcurrency &&
		a.Disabled == b.Disabled && len(a.Markets) == len(b.Markets)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts "45s" style values or a bare number of seconds.
func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := parseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
