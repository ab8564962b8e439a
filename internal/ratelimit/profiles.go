package ratelimit

import (
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Fallback is applied to any exchange without a documented profile.
var Fallback = domain.RateProfile{
	Market:  domain.Limit{Capacity: 10, Window: time.Second},
	Private: domain.Limit{Capacity: 30, Window: time.Minute},
}

// DefaultProfiles are the documented public limits of the supported venues.
// Config overrides are merged on top by the exchange registry.
func DefaultProfiles() map[domain.ExchangeID]domain.RateProfile {
	lim := func(n int, w time.Duration) domain.Limit { return domain.Limit{Capacity: n, Window: w} }
	return map[domain.ExchangeID]domain.RateProfile{
		"mexc":        {Market: lim(20, time.Second), Private: lim(60, time.Minute), IP: lim(1800, time.Minute)},
		"bybit":       {Market: lim(50, time.Second), Private: lim(600, time.Minute), IP: lim(1200, time.Minute)},
		"okx":         {Market: lim(20, 2*time.Second), Private: lim(300, time.Minute), IP: lim(500, time.Minute)},
		"kucoin":      {Market: lim(30, time.Second), Private: lim(180, time.Minute), IP: lim(1800, time.Minute)},
		"gateio":      {Market: lim(300, time.Minute), Private: lim(180, time.Minute), IP: lim(900, time.Minute)},
		"bitget":      {Market: lim(20, time.Second), Private: lim(300, time.Minute)},
		"binance":     {Market: lim(1200, time.Minute), Private: lim(60, time.Minute), IP: lim(2400, time.Minute)},
		"dexscreener": {Market: lim(30, time.Minute), Private: lim(30, time.Minute), IP: lim(60, time.Minute)},
	}
}

// Merge overlays the non-zero limits of override onto base.
func Merge(base, override domain.RateProfile) domain.RateProfile {
	if !override.Market.IsZero() {
		base.Market = override.Market
	}
	if !override.Private.IsZero() {
		base.Private = override.Private
	}
	if !override.IP.IsZero() {
		base.IP = override.IP
	}
	return base
}
