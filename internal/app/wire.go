package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/spreadbot/internal/blob/s3"
	"github.com/alanyoungcy/spreadbot/internal/cache/redis"
	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/dedup"
	"github.com/alanyoungcy/spreadbot/internal/discovery"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/engine"
	"github.com/alanyoungcy/spreadbot/internal/exchange"
	"github.com/alanyoungcy/spreadbot/internal/journal"
	"github.com/alanyoungcy/spreadbot/internal/liquidity"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/ratelimit"
	"github.com/alanyoungcy/spreadbot/internal/scheduler"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
	"github.com/alanyoungcy/spreadbot/internal/server/ws"
	"github.com/alanyoungcy/spreadbot/internal/snapshot"
	"github.com/alanyoungcy/spreadbot/internal/spread"
	"github.com/alanyoungcy/spreadbot/internal/store/postgres"
)

// replaySize is how many recent opportunities a new WebSocket client gets.
const replaySize = 20

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function. Optional parts are nil when
// their backend is disabled.
type Dependencies struct {
	Registry  *exchange.Registry
	Metrics   *metrics.Metrics
	Limiter   *ratelimit.Limiter
	Scheduler *scheduler.Scheduler
	Discovery *discovery.Discovery
	Engine    *engine.Orchestrator
	Notifier  *notify.Notifier

	// Optional
	Journal          *journal.Journal
	Hub              *ws.Hub
	SignalBus        domain.SignalBus
	WindowStore      domain.WindowStore
	OpportunityStore domain.OpportunityStore

	// Checks are reported by /api/health.
	Checks map[string]handler.CheckFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. The exchange registry is
// resolved first so a configuration without any active exchange fails before
// any connection is opened.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	reg, err := exchange.Build(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	for id, reason := range reg.Skipped {
		logger.Info("exchange inactive", slog.String("exchange", string(id)), slog.String("reason", reason))
	}
	logger.Info("exchanges resolved", slog.Any("active", reg.Active()))

	deps := &Dependencies{
		Registry: reg,
		Metrics:  metrics.New(),
		Checks:   make(map[string]handler.CheckFunc),
	}

	// --- Redis ---
	var (
		redisClient *redis.Client
		redisBus    *redis.SignalBus
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		redisBus = redis.NewSignalBus(redisClient)
		deps.SignalBus = redisBus
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Rate limiting and scheduling ---
	var windows domain.WindowStore = ratelimit.NewMemoryStore()
	if cfg.RateLimit.Backend == "redis" && redisClient != nil {
		windows = redis.NewWindowStore(redisClient)
	}
	deps.WindowStore = windows

	limiterOpts := []ratelimit.Option{
		ratelimit.WithMetrics(deps.Metrics),
		ratelimit.WithLogger(logger),
	}
	if fb := cfg.RateLimit.FallbackMarket; fb.Capacity > 0 && fb.Window.Duration > 0 {
		p := ratelimit.Fallback
		p.Market = domain.Limit{Capacity: fb.Capacity, Window: fb.Window.Duration}
		limiterOpts = append(limiterOpts, ratelimit.WithFallback(p))
	}
	deps.Limiter = ratelimit.New(windows, reg.Profiles, limiterOpts...)

	deps.Scheduler = scheduler.New(deps.Limiter, reg.Handles, reg.Adapters, reg.Feeds, scheduler.Config{
		MaxRetries: cfg.Engine.MaxRetries,
		RetryDelay: cfg.Engine.RetryDelay.Duration,
		MaxBackoff: cfg.Engine.MaxBackoff.Duration,
	}, scheduler.WithMetrics(deps.Metrics), scheduler.WithLogger(logger))

	deps.Discovery, err = discovery.New(reg.Handles, deps.Scheduler, discovery.Config{
		Interval:   cfg.Engine.DiscoveryInterval.Duration,
		DexFeed:    reg.DexFeed,
		RequireDex: cfg.Dex.RequireDex,
		MaxTokens:  cfg.Engine.MaxTokens,
		Include:    symbols(cfg.Engine.Include),
		Exclude:    symbols(cfg.Engine.Exclude),
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- PostgreSQL ---
	var (
		oppStore   domain.OpportunityStore
		cycleStore domain.CycleStore
	)
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		oppStore = postgres.NewOpportunityStore(pgClient.Pool())
		cycleStore = postgres.NewCycleStore(pgClient.Pool())
		deps.OpportunityStore = oppStore
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 blob storage ---
	var archiver journal.CycleArchiver
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	var recorder engine.Recorder
	if oppStore != nil || cycleStore != nil || archiver != nil {
		deps.Journal = journal.New(oppStore, cycleStore, archiver, cfg.Engine.JournalBuffer, logger)
		recorder = deps.Journal
	}

	// --- WebSocket hub and notifications ---
	var channels []string
	if deps.SignalBus != nil {
		channels = []string{cfg.Redis.Channel}
	}
	if cfg.Server.Enabled {
		hubCfg := ws.Config{
			Mode:      cfg.Mode,
			Channels:  channels,
			StartedAt: time.Now().UTC(),
		}
		if redisBus != nil && cfg.Redis.Stream != "" {
			stream := cfg.Redis.Stream
			hubCfg.Replay = func(ctx context.Context) ([][]byte, error) {
				return redisBus.StreamRecent(ctx, stream, replaySize)
			}
		}
		deps.Hub = ws.NewHub(deps.SignalBus, logger, hubCfg)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	var publishers []notify.Publisher
	switch {
	case deps.SignalBus != nil:
		// The hub receives opportunities through its bus subscription.
		publishers = append(publishers, notify.NewBusPublisher(deps.SignalBus, cfg.Redis.Channel, cfg.Redis.Stream))
	case deps.Hub != nil:
		publishers = append(publishers, notify.NewHubPublisher(deps.Hub))
	}
	deps.Notifier = notify.NewNotifier(senders, publishers, deps.Metrics, logger)
	if len(senders) == 0 {
		logger.Warn("no alert channel configured; opportunities are only logged and published")
	}

	// --- Dedup and cycle lock ---
	var dedupStore domain.DedupStore = dedup.NewMemoryStore()
	if cfg.Redis.SharedDedup && redisClient != nil {
		dedupStore = redis.NewDedupStore(redisClient)
	}
	var lock domain.CycleLock
	if cfg.Redis.CycleLock && redisClient != nil {
		lock = redis.NewCycleLock(redisClient)
	}

	deps.Engine = engine.New(engine.Config{
		Interval:        cfg.Engine.UpdateInterval.Duration,
		BatchSize:       cfg.Engine.BatchSize,
		BatchTimeout:    cfg.Engine.BatchTimeout.Duration,
		BatchPause:      cfg.Engine.BatchPause.Duration,
		MaxWorkers:      cfg.Engine.MaxWorkers,
		Staleness:       cfg.Engine.Staleness.Duration,
		DexFeed:         reg.DexFeed,
		EnrichTransfers: cfg.Engine.EnrichTransfers,
		RecentSize:      cfg.Engine.RecentSize,
	}, engine.Deps{
		Universe: deps.Discovery,
		Fetcher:  deps.Scheduler,
		Store:    snapshot.New(),
		Filter: liquidity.New(liquidity.Config{
			MinCEXVolume:    cfg.Engine.MinCEX24hVolume,
			MinDEXLiquidity: cfg.Engine.MinDexLiquidity,
		}),
		Calc: spread.New(spread.Config{
			Threshold:        cfg.Engine.ArbitrageThreshold,
			MaxSpreadPercent: cfg.Engine.MaxSpreadPercent,
			Staleness:        cfg.Engine.Staleness.Duration,
			SameExchange:     cfg.Engine.CompareSameExchange,
		}, time.Now),
		Dedup:    dedup.New(dedupStore, cfg.Engine.Cooldown.Duration, time.Now),
		Notifier: deps.Notifier,
		Recorder: recorder,
		Lock:     lock,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})

	return deps, cleanup, nil
}

func symbols(raw []string) []domain.TokenSymbol {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.TokenSymbol, 0, len(raw))
	for _, s := range raw {
		if t := domain.NormalizeSymbol(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
