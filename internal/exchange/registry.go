// Package exchange resolves the configured venues into handles, adapters and
// rate profiles once at startup.
package exchange

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/platform/bybit"
	"github.com/alanyoungcy/spreadbot/internal/platform/dexscreener"
	"github.com/alanyoungcy/spreadbot/internal/platform/gateio"
	"github.com/alanyoungcy/spreadbot/internal/platform/mexc"
	"github.com/alanyoungcy/spreadbot/internal/platform/okx"
	"github.com/alanyoungcy/spreadbot/internal/ratelimit"
)

// factory builds an adapter for one configured exchange.
type factory struct {
	needsPassphrase bool
	build           func(ex config.ExchangeConfig, timeout time.Duration, creds crypto.Credentials) domain.Adapter
}

var factories = map[domain.ExchangeID]factory{
	okx.ID: {
		needsPassphrase: true,
		build: func(ex config.ExchangeConfig, timeout time.Duration, creds crypto.Credentials) domain.Adapter {
			return okx.New(ex.BaseURL, timeout, creds)
		},
	},
	bybit.ID: {
		build: func(ex config.ExchangeConfig, timeout time.Duration, creds crypto.Credentials) domain.Adapter {
			return bybit.New(ex.BaseURL, timeout, creds)
		},
	},
	gateio.ID: {
		build: func(ex config.ExchangeConfig, timeout time.Duration, creds crypto.Credentials) domain.Adapter {
			return gateio.New(ex.BaseURL, ex.FuturesURL, timeout, creds)
		},
	},
	mexc.ID: {
		build: func(ex config.ExchangeConfig, timeout time.Duration, creds crypto.Credentials) domain.Adapter {
			return mexc.New(ex.BaseURL, ex.FuturesURL, timeout, creds)
		},
	},
}

// Supported returns the exchange ids with a built-in adapter.
func Supported() []domain.ExchangeID {
	ids := make([]domain.ExchangeID, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Registry is the immutable result of resolving the configuration.
type Registry struct {
	Handles  []domain.ExchangeHandle
	Adapters []domain.Adapter
	Feeds    []domain.DexFeed
	Profiles map[domain.ExchangeID]domain.RateProfile
	// DexFeed is the id of the active pool feed, empty when disabled.
	DexFeed domain.ExchangeID
	// Skipped maps inactive exchanges to the reason they were left out.
	Skipped map[domain.ExchangeID]string
}

// Build resolves cfg. An exchange is active when it is enabled, has a
// built-in adapter and its credentials are complete. Build fails with
// domain.ErrConfiguration when no centralized exchange is active.
func Build(cfg *config.Config) (*Registry, error) {
	timeout := cfg.Engine.HTTPTimeout.Duration
	r := &Registry{
		Profiles: ratelimit.DefaultProfiles(),
		Skipped:  make(map[domain.ExchangeID]string),
	}

	for _, name := range cfg.ExchangeIDs() {
		ex := cfg.Exchanges[name]
		id := domain.ExchangeID(name)

		markets, err := parseMarkets(ex.Markets)
		if err != nil {
			return nil, fmt.Errorf("exchange: %s: %w", id, err)
		}
		h := domain.ExchangeHandle{
			ID:             id,
			Kind:           domain.KindCEX,
			Markets:        markets,
			Compare:        ex.Comparing(),
			MaxConcurrency: ex.MaxConcurrency,
			Profile:        profileFor(r.Profiles, id, ex.RateLimit),
		}
		r.Profiles[id] = h.Profile

		f, supported := factories[id]
		switch {
		case ex.Disabled:
			r.Skipped[id] = "disabled"
		case !supported:
			r.Skipped[id] = "no adapter"
		case !ex.HasCredentials():
			r.Skipped[id] = "missing credentials"
		case f.needsPassphrase && ex.Passphrase == "":
			r.Skipped[id] = "missing passphrase"
		default:
			h.Active = true
			creds := crypto.Credentials{Key: ex.APIKey, Secret: ex.APISecret, Passphrase: ex.Passphrase}
			r.Adapters = append(r.Adapters, f.build(ex, timeout, creds))
		}
		r.Handles = append(r.Handles, h)
	}

	if !r.hasActiveCEX() {
		return nil, fmt.Errorf("exchange: no active exchange (set SPREADBOT_<EXCHANGE>_API_KEY and _API_SECRET): %w", domain.ErrConfiguration)
	}

	if !cfg.Dex.Disabled {
		switch domain.ExchangeID(cfg.Dex.Feed) {
		case dexscreener.ID:
			feed := dexscreener.New(cfg.Dex.BaseURL, timeout)
			r.Feeds = append(r.Feeds, feed)
			r.DexFeed = feed.ID()
			profile := profileFor(r.Profiles, feed.ID(), cfg.Dex.RateLimit)
			r.Profiles[feed.ID()] = profile
			r.Handles = append(r.Handles, domain.ExchangeHandle{
				ID:             feed.ID(),
				Kind:           domain.KindDEX,
				Markets:        []domain.MarketType{domain.MarketDEX},
				Active:         true,
				MaxConcurrency: cfg.Dex.MaxConcurrency,
				Profile:        profile,
			})
		default:
			return nil, fmt.Errorf("exchange: unknown dex feed %q: %w", cfg.Dex.Feed, domain.ErrConfiguration)
		}
	}

	return r, nil
}

// Active returns the ids of the active venues in handle order.
func (r *Registry) Active() []domain.ExchangeID {
	var ids []domain.ExchangeID
	for _, h := range r.Handles {
		if h.Active {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

func (r *Registry) hasActiveCEX() bool {
	for _, h := range r.Handles {
		if h.Active && h.Kind == domain.KindCEX {
			return true
		}
	}
	return false
}

func parseMarkets(raw []string) ([]domain.MarketType, error) {
	seen := make(map[domain.MarketType]bool, len(raw))
	var out []domain.MarketType
	for _, s := range raw {
		m, ok := domain.ParseMarketType(s)
		if !ok || m == domain.MarketDEX {
			return nil, fmt.Errorf("unknown market %q: %w", s, domain.ErrConfiguration)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		out = []domain.MarketType{domain.MarketSpot}
	}
	return out, nil
}

func profileFor(defaults map[domain.ExchangeID]domain.RateProfile, id domain.ExchangeID, override config.ProfileConfig) domain.RateProfile {
	base, ok := defaults[id]
	if !ok {
		base = ratelimit.Fallback
	}
	return ratelimit.Merge(base, domain.RateProfile{
		Market:  limit(override.Market),
		Private: limit(override.Private),
		IP:      limit(override.IP),
	})
}

func limit(l config.LimitConfig) domain.Limit {
	return domain.Limit{Capacity: l.Capacity, Window: l.Window.Duration}
}
