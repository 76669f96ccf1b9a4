// Package app wires the Resilient HTTP Core, the four venue adapters, the
// three Hedge Strategy Executors, the Position Lifecycle Manager and the
// Hedge Orchestrator into one running service (spec.md §9). The two core
// loops never reference each other directly; they communicate only through
// the shared Repository and the shared event Bus.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	clts "hedgecore/clients"
	"hedgecore/config"
	"hedgecore/internal/clockutil"
	"hedgecore/internal/domain"
	"hedgecore/internal/events"
	"hedgecore/internal/httpcore"
	"hedgecore/internal/lifecycle"
	"hedgecore/internal/marketfeed"
	"hedgecore/internal/orchestrator"
	"hedgecore/internal/repo"
	"hedgecore/internal/repo/memory"
	"hedgecore/internal/strategy"
	"hedgecore/internal/venue"
	"hedgecore/internal/venue/binance"
	"hedgecore/internal/venue/gmx"
	"hedgecore/internal/venue/hyperliquid"
	"hedgecore/internal/venue/polymarket"
)

// ensure Runner implements ConfigObserver so a Gist-sourced settings update
// is logged even though both core loops already re-read liveConfig.Get()
// every cycle on their own.
var _ config.ConfigObserver = (*Runner)(nil)

// BuildCommit and BuildTime are populated from embedded VCS info at init
// time, surfaced on the health endpoint.
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner owns every long-lived component of the service and its graceful
// shutdown.
type Runner struct {
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager

	repo repo.Repository
	bus  *events.Bus
	log  *events.Log
	feed *marketfeed.Feed

	lifecycleMgr *lifecycle.Manager
	orch         *orchestrator.Orchestrator

	healthServer *http.Server
	startTime    time.Time
}

// NewRunner wires every component from clients and a hot-reloadable config.
// Venue adapters, strategy executors and both core loops are constructed
// eagerly so a misconfigured venue fails fast at startup rather than on the
// first orchestrator cycle.
func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager) *Runner {
	logger := clients.Logger
	cfg := liveConfig.Get()
	clock := clockutil.Real{}

	adapters := buildVenueAdapters(logger, clock, cfg)
	repository := memory.New()

	log := events.NewLog()
	sinks := []events.Sink{log}
	if clients.Notifier != nil {
		sinks = append(sinks, events.NewNotifySink(clients.Notifier))
	}
	bus := events.NewBus(sinks...)

	var feed *marketfeed.Feed
	if cfg.Polymarket.UseMarketFeed && clients.PolymarketEvents != nil {
		feed = marketfeed.New(logger, clients.PolymarketEvents)
	}

	executors := buildExecutors(logger, clients, adapters, feed, liveConfig)

	lifecycleMgr := lifecycle.NewManager(logger, repository, adapters, bus, clock, func() lifecycle.Config {
		c := liveConfig.Get().Lifecycle
		return lifecycle.Config{
			Period:                     c.Period,
			WarningLossFraction:        c.WarningLossFraction,
			CriticalLossFraction:       c.CriticalLossFraction,
			ReconciliationToleranceUSD: c.ReconciliationToleranceUSD,
		}
	})
	if feed != nil {
		lifecycleMgr.UseMarketFeed(feed)
	}

	orch := orchestrator.NewOrchestrator(logger, repository, executors, bus, clock, func() orchestrator.Config {
		c := liveConfig.Get().Orchestrator
		return orchestrator.Config{
			Interval:                c.Interval,
			IterationDeadline:       c.IterationDeadline,
			MaxPoliciesPerIteration: c.MaxPoliciesPerIteration,
			MaxAggregateNotionalUSD: c.MaxAggregateNotionalUSD,
			PauseNewOpenings:        c.PauseNewOpenings,
			DrainExistingPositions:  c.DrainExistingPositions,
		}
	})

	return &Runner{
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
		repo:            repository,
		bus:             bus,
		log:             log,
		feed:            feed,
		lifecycleMgr:    lifecycleMgr,
		orch:            orch,
	}
}

// buildVenueAdapters constructs the Resilient HTTP Core client(s) each venue
// needs and wraps them in that venue's venue.Adapter (spec.md §4.A, §4.B).
// Binance Futures self-manages its HTTP transport via the go-binance SDK, so
// it takes credentials directly rather than an httpcore.Client.
func buildVenueAdapters(logger *zap.Logger, clock clockutil.Clock, cfg *config.Config) map[domain.Venue]venue.Adapter {
	mustClient := func(name string, vcfg config.VenueClientConfig, headers map[string]string) *httpcore.Client {
		c, err := httpcore.NewClient(logger, clock, vcfg.HTTPCoreConfig(headers))
		if err != nil {
			logger.Fatal("failed to construct http core client", zap.String("venue", name), zap.Error(err))
		}
		return c
	}

	gammaClient := mustClient("polymarket_gamma", cfg.Venues.PolymarketGamma, nil)
	clobClient := mustClient("polymarket_clob", cfg.Venues.PolymarketCLOB, map[string]string{
		"POLY-API-KEY": cfg.Venues.PolymarketCLOB.Credentials.APIKey,
	})
	polymarketAdapter := polymarket.NewClient(logger, gammaClient, clobClient)

	hlInfo := mustClient("hyperliquid_info", cfg.Venues.Hyperliquid, nil)
	hlExchange := mustClient("hyperliquid_exchange", cfg.Venues.Hyperliquid, nil)
	hyperliquidAdapter := hyperliquid.NewClient(logger, hlInfo, hlExchange, cfg.Venues.Hyperliquid.Credentials.WalletAddress)

	binanceAdapter := binance.NewClient(logger,
		cfg.Venues.BinanceFutures.Credentials.APIKey,
		cfg.Venues.BinanceFutures.Credentials.APISecret,
		cfg.Venues.BinanceFutures.Credentials.Testnet,
	)

	gmxSubgraph := mustClient("gmx_subgraph", cfg.Venues.Gmx, nil)
	gmxRouter := mustClient("gmx_router", cfg.Venues.Gmx, nil)
	gmxAdapter := gmx.NewClient(logger, gmxSubgraph, gmxRouter, cfg.Venues.Gmx.Credentials.WalletAddress)

	return map[domain.Venue]venue.Adapter{
		domain.VenuePolymarket:     polymarketAdapter,
		domain.VenueHyperliquid:    hyperliquidAdapter,
		domain.VenueBinanceFutures: binanceAdapter,
		domain.VenueGmx:            gmxAdapter,
	}
}

// buildExecutors wires the three Hedge Strategy Executors, each against the
// venue(s) spec.md §4.C assigns it. Protocol Short tries venues in order:
// Hyperliquid first (broad DeFi coverage), GMX for majors, Binance Futures
// for listed perps.
func buildExecutors(logger *zap.Logger, clients *clts.Clients, adapters map[domain.Venue]venue.Adapter, feed *marketfeed.Feed, liveConfig *config.LiveConfig) []orchestrator.Executor {
	hedgeRatio := func(kind domain.CoverageKind) float64 {
		return liveConfig.Get().HedgeRatios.For(kind)
	}

	depegExec := strategy.NewDepegExecutor(logger, clients.Polymarket, adapters[domain.VenuePolymarket], hedgeRatio)
	if feed != nil {
		depegExec.UseMarketFeed(feed)
	}

	protocolShortExec := strategy.NewProtocolShortExecutor(logger, []venue.Adapter{
		adapters[domain.VenueHyperliquid],
		adapters[domain.VenueGmx],
		adapters[domain.VenueBinanceFutures],
	}, hedgeRatio)

	cexCorrelationExec := strategy.NewCEXCorrelationExecutor(logger, adapters[domain.VenueBinanceFutures], hedgeRatio)

	return []orchestrator.Executor{depegExec, protocolShortExec, cexCorrelationExec}
}

// OnConfigUpdate implements config.ConfigObserver. Both core loops already
// re-read liveConfig.Get() at the top of every cycle, so there is nothing to
// propagate beyond this log line; it exists so an operator watching logs can
// see a hot-reload actually land.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received",
		zap.Float64("orchestrator_max_notional_usd", cfg.Orchestrator.MaxAggregateNotionalUSD),
		zap.Bool("orchestrator_pause_new_openings", cfg.Orchestrator.PauseNewOpenings),
	)
}

// Run starts both core loops and the health server, then blocks until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	r.liveConfig.AddObserver(r)

	if r.feed != nil {
		assetIDs, err := feedSeedAssetIDs(ctx, r.clients)
		if err != nil {
			logger.Warn("failed to seed market feed subscriptions, continuing REST-only", zap.Error(err))
		} else if len(assetIDs) > 0 {
			r.feed.Start(ctx, assetIDs)
		}
	}

	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	go r.lifecycleMgr.Run(ctx)
	go r.orch.Run(ctx)
	if r.settingsManager != nil && r.settingsManager.IsEnabled() {
		go r.runSettingsRefresh(ctx)
	}

	logger.Info("hedge orchestrator and lifecycle manager started",
		zap.Duration("orchestrator_interval", cfg.Orchestrator.Interval),
		zap.Duration("lifecycle_period", cfg.Lifecycle.Period),
	)

	<-ctx.Done()
	logger.Info("runner shutting down")

	if r.feed != nil {
		r.feed.Stop()
	}

	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// settingsRefreshInterval bounds how stale a Gist-sourced hedge ratio or
// pause/drain flag can get before the running process picks it up, without
// polling GitHub's API on every orchestrator tick.
const settingsRefreshInterval = 2 * time.Minute

// runSettingsRefresh re-polls the settings Gist on an interval so an
// operator's edit lands without a restart. Both core loops already re-read
// liveConfig.Get() every cycle, so applying the update here is enough to
// propagate it.
func (r *Runner) runSettingsRefresh(ctx context.Context) {
	logger := r.clients.Logger
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := r.settingsManager.LoadSettings(ctx, r.liveConfig.Get())
			if err != nil {
				logger.Warn("failed to refresh settings from gist", zap.Error(err))
				continue
			}
			if err := r.liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply refreshed gist settings", zap.Error(err))
			}
		}
	}
}

// feedSeedAssetIDs discovers the Polymarket asset (token) ids worth
// subscribing the market feed to at startup: those of every currently
// tradable market with meaningful volume. The feed re-subscribes to nothing
// beyond this set until the next restart; a Depeg Executor cycle that
// discovers a brand-new market simply falls back to REST for that market
// until then.
func feedSeedAssetIDs(ctx context.Context, clients *clts.Clients) ([]string, error) {
	if clients.Polymarket == nil {
		return nil, nil
	}
	markets, err := clients.Polymarket.GetTopMarketsByVolume(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("seed market feed: %w", err)
	}
	var assetIDs []string
	for _, m := range markets {
		assetIDs = append(assetIDs, m.GetTokenIDs()...)
	}
	return assetIDs, nil
}

// startHealthServer exposes liveness and a small operational snapshot; it
// never gates the core loops, which run regardless of whether this server
// started cleanly.
func (r *Runner) startHealthServer(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.stats())
	})

	r.healthServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.clients.Logger.Warn("health server stopped", zap.Error(err))
		}
	}()
}

// stats is a snapshot of the service's build and runtime state (spec.md §1's
// audit trail lives in the Repository; this is operational, not audit).
type stats struct {
	Build struct {
		Commit string `json:"commit"`
		Time   string `json:"time,omitempty"`
	} `json:"build"`
	StartTime   string `json:"start_time"`
	UptimeSec   int64  `json:"uptime_seconds"`
	EventsTotal int    `json:"events_total"`
}

func (r *Runner) stats() stats {
	var s stats
	s.Build.Commit = BuildCommit
	s.Build.Time = BuildTime
	s.StartTime = r.startTime.Format(time.RFC3339)
	s.UptimeSec = int64(time.Since(r.startTime).Seconds())
	s.EventsTotal = len(r.log.All())
	return s
}
