// Package discovery resolves the token universe: the tokens listed on every
// comparison exchange, where each one can be quoted, and its deepest DEX
// pool. The universe is refreshed on a slower cadence than prices.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Source is the scheduler surface discovery needs.
type Source interface {
	ListPairs(ctx context.Context, ex domain.ExchangeID, market domain.MarketType) ([]domain.TokenSymbol, error)
	DexPools(ctx context.Context, feed domain.ExchangeID, token domain.TokenSymbol) ([]domain.DexPool, error)
	Degraded(ex domain.ExchangeID) bool
}

// Config controls discovery.
type Config struct {
	// Interval between refreshes of the universe.
	Interval time.Duration
	// DexFeed names the pool feed; empty disables DEX resolution.
	DexFeed domain.ExchangeID
	// RequireDex drops tokens without a resolvable DEX pool.
	RequireDex bool
	// MaxTokens caps the universe after sorting. Zero is unlimited.
	MaxTokens int
	// Concurrency bounds parallel lookups.
	Concurrency int
	// Include, when non-empty, restricts the universe to these tokens.
	Include []domain.TokenSymbol
	// Exclude removes tokens such as stablecoins.
	Exclude []domain.TokenSymbol
}

// Universe is one discovery result. It is never mutated after creation.
type Universe struct {
	Tokens      []domain.TokenSymbol
	Listings    map[domain.TokenSymbol][]domain.Venue
	Pools       map[domain.TokenSymbol]domain.DexPool
	Responded   []domain.ExchangeID
	RefreshedAt time.Time
}

// Discovery caches the current universe.
type Discovery struct {
	handles []domain.ExchangeHandle
	src     Source
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	current *Universe
}

// New validates that at least one CEX is active. The returned error wraps
// domain.ErrConfiguration otherwise.
func New(handles []domain.ExchangeHandle, src Source, cfg Config, logger *slog.Logger) (*Discovery, error) {
	var active []domain.ExchangeHandle
	for _, h := range handles {
		if h.Active && h.Kind == domain.KindCEX {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("discovery: no active exchange: %w", domain.ErrConfiguration)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		handles: active,
		src:     src,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "discovery")),
	}, nil
}

// Current returns the cached universe, refreshing it when Interval has
// elapsed. A failed refresh keeps the previous universe.
func (d *Discovery) Current(ctx context.Context) (*Universe, error) {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	if cur != nil && d.now().Sub(cur.RefreshedAt) < d.cfg.Interval {
		return cur, nil
	}

	u, err := d.Discover(ctx)
	if err != nil {
		if cur != nil && ctx.Err() == nil {
			d.logger.Warn("discovery refresh failed, keeping previous universe",
				slog.String("error", err.Error()),
				slog.Int("tokens", len(cur.Tokens)),
			)
			return cur, nil
		}
		return nil, err
	}
	d.mu.Lock()
	d.current = u
	d.mu.Unlock()
	return u, nil
}

type listing struct {
	exchange domain.ExchangeID
	market   domain.MarketType
	tokens   []domain.TokenSymbol
}

// Discover runs a full discovery pass without touching the cache.
func (d *Discovery) Discover(ctx context.Context) (*Universe, error) {
	var (
		mu       sync.Mutex
		listings []listing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, h := range d.handles {
		if d.src.Degraded(h.ID) {
			continue
		}
		for _, m := range h.Markets {
			if m == domain.MarketDEX {
				continue
			}
			g.Go(func() error {
				tokens, err := d.src.ListPairs(gctx, h.ID, m)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					d.logger.Warn("listing pairs failed",
						slog.String("exchange", string(h.ID)),
						slog.String("market", string(m)),
						slog.String("error", err.Error()),
					)
					return nil
				}
				mu.Lock()
				listings = append(listings, listing{exchange: h.ID, market: m, tokens: tokens})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discovery: list pairs: %w", err)
	}

	u := d.intersect(listings)
	if len(u.Responded) == 0 {
		return nil, errors.New("discovery: no exchange answered the pair listing")
	}
	if d.cfg.DexFeed != "" && len(u.Tokens) > 0 {
		if err := d.resolvePools(ctx, u); err != nil {
			return nil, err
		}
	}
	u.RefreshedAt = d.now()

	d.logger.Info("token universe refreshed",
		slog.Int("tokens", len(u.Tokens)),
		slog.Int("dex_pools", len(u.Pools)),
		slog.Int("exchanges", len(u.Responded)),
	)
	return u, nil
}

// intersect keeps the tokens listed on every responding comparison exchange
// and records every CEX venue quoting them.
func (d *Discovery) intersect(listings []listing) *Universe {
	compare := make(map[domain.ExchangeID]bool, len(d.handles))
	for _, h := range d.handles {
		compare[h.ID] = h.Compare
	}

	perExchange := make(map[domain.ExchangeID]domain.TokenSet)
	venues := make(map[domain.TokenSymbol][]domain.Venue)
	for _, l := range listings {
		set, ok := perExchange[l.exchange]
		if !ok {
			set = make(domain.TokenSet)
			perExchange[l.exchange] = set
		}
		for _, t := range l.tokens {
			t = domain.NormalizeSymbol(string(t))
			if t == "" {
				continue
			}
			set.Add(t)
			venues[t] = append(venues[t], domain.Venue{Exchange: l.exchange, Market: l.market})
		}
	}

	responded := make([]domain.ExchangeID, 0, len(perExchange))
	for id := range perExchange {
		responded = append(responded, id)
	}
	sort.Slice(responded, func(i, j int) bool { return responded[i] < responded[j] })

	// Exchanges outside the comparison set still get listings but do not
	// narrow the intersection, unless no comparison exchange answered.
	var common domain.TokenSet
	anyCompare := false
	for _, id := range responded {
		anyCompare = anyCompare || compare[id]
	}
	for _, id := range responded {
		if anyCompare && !compare[id] {
			continue
		}
		if common == nil {
			common = perExchange[id]
			continue
		}
		common = common.Intersect(perExchange[id])
	}

	include := domain.NewTokenSet(d.cfg.Include...)
	exclude := domain.NewTokenSet(d.cfg.Exclude...)
	u := &Universe{
		Listings:  make(map[domain.TokenSymbol][]domain.Venue),
		Pools:     make(map[domain.TokenSymbol]domain.DexPool),
		Responded: responded,
	}
	for _, t := range common.Sorted() {
		if exclude.Has(t) || (len(include) > 0 && !include.Has(t)) {
			continue
		}
		if d.cfg.MaxTokens > 0 && len(u.Tokens) >= d.cfg.MaxTokens {
			break
		}
		vs := venues[t]
		sort.Slice(vs, func(i, j int) bool { return vs[i].String() < vs[j].String() })
		u.Tokens = append(u.Tokens, t)
		u.Listings[t] = vs
	}
	return u
}

func (d *Discovery) resolvePools(ctx context.Context, u *Universe) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, t := range u.Tokens {
		g.Go(func() error {
			pools, err := d.src.DexPools(gctx, d.cfg.DexFeed, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !errors.Is(err, domain.ErrNotListed) {
					d.logger.Debug("dex lookup failed", slog.String("token", string(t)), slog.String("error", err.Error()))
				}
				return nil
			}
			if pool, ok := BestPool(pools); ok {
				mu.Lock()
				u.Pools[t] = pool
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("discovery: dex pools: %w", err)
	}

	if d.cfg.RequireDex {
		kept := u.Tokens[:0]
		for _, t := range u.Tokens {
			if _, ok := u.Pools[t]; ok {
				kept = append(kept, t)
			} else {
				delete(u.Listings, t)
			}
		}
		u.Tokens = kept
	}
	return nil
}

// BestPool returns the first pool, in the order given, with a usable
// contract address. EVM addresses are validated and returned checksummed.
func BestPool(pools []domain.DexPool) (domain.DexPool, bool) {
	for _, p := range pools {
		addr, ok := NormalizeContract(p.Contract)
		if !ok || p.Price <= 0 {
			continue
		}
		p.Contract = addr
		return p, true
	}
	return domain.DexPool{}, false
}

// NormalizeContract checksums 0x-prefixed addresses and rejects malformed
// ones. Non-EVM addresses are accepted verbatim when non-empty.
func NormalizeContract(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", false
	}
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		if !common.IsHexAddress(addr) {
			return "", false
		}
		return common.HexToAddress(addr).Hex(), true
	}
	return addr, true
}
