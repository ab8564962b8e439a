package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.02, cfg.Engine.ArbitrageThreshold)
	assert.Equal(t, 1_000_000.0, cfg.Engine.MinCEX24hVolume)
	assert.Equal(t, 500_000.0, cfg.Engine.MinDexLiquidity)
	assert.Equal(t, 10, cfg.Engine.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Engine.UpdateInterval.Duration)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Engine.RetryDelay.Duration)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "ONCE"

[engine]
arbitrage_threshold = 0.03
update_interval = 45
retry_delay = "1500ms"
exclude = ["USDT"]

[exchanges.okx]
api_key = "k"
api_secret = "s"
passphrase = "p"
compare = false

[exchanges.bybit]
disabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, 0.03, cfg.Engine.ArbitrageThreshold)
	assert.Equal(t, 45*time.Second, cfg.Engine.UpdateInterval.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.RetryDelay.Duration)
	assert.Equal(t, []string{"USDT"}, cfg.Engine.Exclude)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.Engine.BatchSize)

	okx := cfg.Exchanges["okx"]
	assert.True(t, okx.HasCredentials())
	assert.False(t, okx.Comparing())
	assert.Equal(t, []string{"spot", "futures"}, okx.Markets)
	assert.True(t, cfg.Exchanges["bybit"].Disabled)
	assert.Contains(t, cfg.Exchanges, "gateio")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPREADBOT_ARBITRAGE_THRESHOLD", "0.05")
	t.Setenv("SPREADBOT_UPDATE_INTERVAL", "60")
	t.Setenv("SPREADBOT_BATCH_PAUSE", "250ms")
	t.Setenv("SPREADBOT_EXCLUDE", "USDT, DAI ,")
	t.Setenv("SPREADBOT_GATEIO_API_KEY", "gk")
	t.Setenv("SPREADBOT_GATEIO_API_SECRET", "gs")
	t.Setenv("SPREADBOT_MODE", "once")
	t.Setenv("SPREADBOT_COMPARE_SAME_EXCHANGE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Engine.ArbitrageThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.UpdateInterval.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.BatchPause.Duration)
	assert.Equal(t, []string{"USDT", "DAI"}, cfg.Engine.Exclude)
	assert.Equal(t, "gk", cfg.Exchanges["gateio"].APIKey)
	assert.True(t, cfg.Exchanges["gateio"].HasCredentials())
	assert.False(t, cfg.Exchanges["okx"].HasCredentials())
	assert.Equal(t, "once", cfg.Mode)
	assert.True(t, cfg.Engine.CompareSameExchange)
}

func TestEnvCredentialsForFileExchange(t *testing.T) {
	path := writeTOML(t, `
[exchanges.kucoin]
markets = ["spot"]
`)
	t.Setenv("SPREADBOT_KUCOIN_API_KEY", "kk")
	t.Setenv("SPREADBOT_KUCOIN_API_SECRET", "ks")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kk", cfg.Exchanges["kucoin"].APIKey)
	assert.Equal(t, []string{"spot"}, cfg.Exchanges["kucoin"].Markets)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"percent threshold", func(c *Config) { c.Engine.ArbitrageThreshold = 2 }, "arbitrage_threshold"},
		{"zero threshold", func(c *Config) { c.Engine.ArbitrageThreshold = 0 }, "arbitrage_threshold"},
		{"batch size", func(c *Config) { c.Engine.BatchSize = 0 }, "batch_size"},
		{"interval", func(c *Config) { c.Engine.UpdateInterval = Duration{} }, "update_interval"},
		{"mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"backend", func(c *Config) { c.RateLimit.Backend = "redis" }, "requires redis.enabled"},
		{"half credentials", func(c *Config) {
			ex := c.Exchanges["okx"]
			ex.APIKey = "k"
			c.Exchanges["okx"] = ex
		}, "set together"},
		{"market", func(c *Config) {
			ex := c.Exchanges["bybit"]
			ex.Markets = []string{"options"}
			c.Exchanges["bybit"] = ex
		}, "unknown market"},
		{"profile override", func(c *Config) {
			ex := c.Exchanges["gateio"]
			ex.RateLimit.Market.Capacity = 10
			c.Exchanges["gateio"] = ex
		}, "capacity and window"},
		{"s3 bucket", func(c *Config) { c.S3.Enabled = true }, "bucket"},
		{"telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.BatchSize = 0
	cfg.Engine.MaxWorkers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
	assert.Contains(t, err.Error(), "max_workers")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges["okx"] = ExchangeConfig{APIKey: "key", APISecret: "secret", Passphrase: "pp"}
	cfg.Notify.TelegramToken = "tok"
	cfg.Supabase.Password = "pw"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Exchanges["okx"].APIKey)
	assert.Equal(t, "***", out.Exchanges["okx"].APISecret)
	assert.Equal(t, "***", out.Exchanges["okx"].Passphrase)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Empty(t, out.Redis.Password)

	// The original is untouched.
	assert.Equal(t, "key", cfg.Exchanges["okx"].APIKey)
	assert.Equal(t, "tok", cfg.Notify.TelegramToken)
}

func TestExchangeIDsSorted(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, []string{"bybit", "gateio", "mexc", "okx"}, cfg.ExchangeIDs())
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 4, cfg.Exchanges["gateio"].MaxConcurrency)
	assert.Equal(t, time.Second, cfg.Engine.BatchPause.Duration)
}
