// Package lifecycle implements the Position Lifecycle Manager (spec.md
// §4.D): its own periodic loop that confirms opening positions, marks Open
// positions to market, classifies liquidation risk, closes positions whose
// policy has left Active, and reconciles local state against what each
// venue reports. It never references internal/orchestrator and
// communicates only through the Repository and the event stream
// (spec.md §9's "cyclic references" note).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hedgecore/internal/clockutil"
	"hedgecore/internal/domain"
	"hedgecore/internal/events"
	"hedgecore/internal/marketfeed"
	"hedgecore/internal/repo"
	"hedgecore/internal/venue"
)

// feedFreshnessWindow mirrors internal/strategy's tolerance for how old a
// live tick may be before the manager prefers it over the venue's own
// mark-to-market response.
const feedFreshnessWindow = 5 * time.Second

// maxConcurrentQueries bounds the fan-out of per-cycle venue queries
// (spec.md §4.D.5, "bounded concurrency"); each venue's own Resilient HTTP
// Core client enforces the per-venue rate limit underneath this.
const maxConcurrentQueries = 8

// RiskLevel classifies a short/long perp's distance from liquidation
// (spec.md §4.D.2).
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// Config is the subset of config.LifecycleConfig the manager consults each
// cycle.
type Config struct {
	Period                     time.Duration
	WarningLossFraction        float64
	CriticalLossFraction       float64
	ReconciliationToleranceUSD float64
}

// ConfigSource is re-invoked at the start of every cycle so a hot-reloaded
// config.LiveConfig is honored without restarting the loop.
type ConfigSource func() Config

// Manager runs the Position Lifecycle Manager loop.
type Manager struct {
	logger   *zap.Logger
	repo     repo.Repository
	adapters map[domain.Venue]venue.Adapter
	bus      events.Sink
	clock    clockutil.Clock
	cfg      ConfigSource
	feed     *marketfeed.Feed

	riskMu sync.Mutex
	risk   map[string]RiskLevel // position id -> last-classified risk level
}

// NewManager wires a repository, one venue.Adapter per domain.Venue the
// deployment hedges through, an event sink, a clock, and a config source.
func NewManager(logger *zap.Logger, repository repo.Repository, adapters map[domain.Venue]venue.Adapter, bus events.Sink, clock clockutil.Clock, cfg ConfigSource) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockutil.Real{}
	}
	return &Manager{
		logger:   logger.Named("lifecycle"),
		repo:     repository,
		adapters: adapters,
		bus:      bus,
		clock:    clock,
		cfg:      cfg,
		risk:     make(map[string]RiskLevel),
	}
}

// UseMarketFeed attaches a live trade-price feed the manager prefers over a
// venue's own mark-to-market response for PredictionMarketYes positions,
// when a tick exists within feedFreshnessWindow. A nil feed leaves every
// mark sourced from adapter.QueryPosition alone.
func (m *Manager) UseMarketFeed(feed *marketfeed.Feed) {
	m.feed = feed
}

// Run executes the lifecycle loop until ctx is cancelled. Every cycle's
// errors are logged, never fatal: per spec.md §7, no error kind terminates
// a core loop.
func (m *Manager) Run(ctx context.Context) {
	for {
		period := m.cfg().Period
		if period <= 0 {
			period = 60 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(period):
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Warn("lifecycle cycle completed with errors", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single lifecycle cycle: load state, process every open
// position concurrently (bounded), and return the joined errors, if any.
func (m *Manager) RunOnce(ctx context.Context) error {
	policies, _, err := m.repo.LoadActivePolicies(ctx, "")
	if err != nil {
		return fmt.Errorf("lifecycle: load active policies: %w", err)
	}
	activePolicyIDs := make(map[string]bool, len(policies))
	for _, p := range policies {
		activePolicyIDs[p.ID] = true
	}

	positions, err := m.repo.LoadOpenPositions(ctx, nil)
	if err != nil {
		return fmt.Errorf("lifecycle: load open positions: %w", err)
	}

	sem := make(chan struct{}, maxConcurrentQueries)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	for _, pos := range positions {
		pos := pos
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if perr := m.processPosition(ctx, pos, activePolicyIDs); perr != nil {
				mu.Lock()
				errs = multierr.Append(errs, perr)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

func (m *Manager) processPosition(ctx context.Context, pos domain.HedgePosition, activePolicyIDs map[string]bool) error {
	adapter, ok := m.adapters[pos.Venue]
	if !ok {
		return fmt.Errorf("lifecycle: no adapter registered for venue %s", pos.Venue)
	}

	switch pos.State {
	case domain.PositionOpening:
		return m.confirmOpening(ctx, adapter, pos)
	case domain.PositionOpen:
		return m.markAndMaybeClose(ctx, adapter, pos, activePolicyIDs)
	case domain.PositionClosing:
		// A close whose ClosePosition call failed on an earlier cycle is
		// retried here; the venue's ClosePosition is idempotent.
		return m.closePosition(ctx, adapter, pos)
	default:
		// Terminal states never reach LoadOpenPositions.
		return nil
	}
}

// confirmOpening implements the Opening -> Open transition: a position
// stays in Opening until the venue confirms a non-zero fill. spec.md §9's
// decision to wait for Opening to settle before a later Claimed-triggered
// close is enqueued falls naturally out of this: a Claimed policy's Opening
// position is simply left alone until a future cycle sees it Open.
func (m *Manager) confirmOpening(ctx context.Context, adapter venue.Adapter, pos domain.HedgePosition) error {
	status, err := adapter.QueryPosition(ctx, pos.ExternalID)
	if err != nil {
		m.logger.Info("opening not yet confirmed", zap.String("position_id", pos.ID), zap.Error(err))
		return nil
	}
	if status.Quantity <= 0 {
		return nil
	}
	if err := m.repo.UpdatePositionState(ctx, pos.ID, domain.PositionOpen, nil); err != nil {
		if errors.Is(err, repo.ErrBackwardTransition) {
			return nil
		}
		return fmt.Errorf("lifecycle: confirm opening %s: %w", pos.ID, err)
	}
	m.publish(events.KindHedgeOpened, pos, nil)
	return nil
}

// markAndMaybeClose implements spec.md §4.D steps 1-4 for one Open
// position: mark-to-market, risk classification, reconciliation drift
// correction, and policy-driven close.
func (m *Manager) markAndMaybeClose(ctx context.Context, adapter venue.Adapter, pos domain.HedgePosition, activePolicyIDs map[string]bool) error {
	status, err := adapter.QueryPosition(ctx, pos.ExternalID)
	if err != nil {
		if errors.Is(err, venue.ErrMarketNotFound) {
			return m.reconcileAbsent(ctx, pos)
		}
		m.logger.Warn("mark-to-market query failed, will retry next cycle",
			zap.String("position_id", pos.ID), zap.Error(err))
		return nil
	}

	now := m.clock.Now()
	if !pos.LastMarkAt.IsZero() && now.Before(pos.LastMarkAt) {
		// A response older than the last recorded mark is discarded
		// (spec.md §5's monotonic mark-to-market guarantee).
		return nil
	}

	markPrice := status.MarkPrice
	if m.feed != nil && pos.Strategy == domain.StrategyPredictionMarketYes {
		if livePrice, _, ok := m.feed.LastPrice(pos.Instrument, feedFreshnessWindow); ok && livePrice > 0 {
			markPrice = livePrice
		}
	}

	updated := pos
	updated.UnrealizedPnLUSD = unrealizedPnL(pos, markPrice)
	updated.FundingAccruedUSD = status.FundingAccruedUSD
	updated.LastMarkAt = now

	cfg := m.cfg()
	m.applyReconciliationDrift(&updated, status, cfg.ReconciliationToleranceUSD)

	level := classifyRisk(pos.Strategy, pos.Leverage, pos.EntryPrice, markPrice, cfg.WarningLossFraction, cfg.CriticalLossFraction)
	m.maybeEmitRiskTransition(updated, level)

	if err := m.repo.PersistPosition(ctx, updated); err != nil {
		return fmt.Errorf("lifecycle: persist mark for %s: %w", pos.ID, err)
	}

	if !activePolicyIDs[pos.PolicyID] {
		return m.closePosition(ctx, adapter, updated)
	}
	return nil
}

// unrealizedPnL implements spec.md §4.D.1's two formulas: shares*(ask-entry)
// for prediction-market YES, collateral*leverage*(direction)(entry-mark)/entry
// for perps, with direction chosen so a short profits when mark falls and a
// long profits when mark rises.
func unrealizedPnL(pos domain.HedgePosition, mark float64) float64 {
	if pos.Strategy == domain.StrategyPredictionMarketYes {
		return pos.Quantity * (mark - pos.EntryPrice)
	}
	if pos.EntryPrice == 0 {
		return 0
	}
	direction := 1.0
	if pos.Strategy == domain.StrategyLongPerp {
		direction = -1.0
	}
	return pos.CollateralUSD * pos.Leverage * direction * (pos.EntryPrice - mark) / pos.EntryPrice
}

// classifyRisk implements spec.md §4.D.2's loss-fraction thresholds. Only
// leveraged perp strategies carry liquidation risk; prediction-market YES
// shares are fully collateralized and always Safe.
func classifyRisk(strategy domain.StrategyKind, leverage, entry, mark, warningThreshold, criticalThreshold float64) RiskLevel {
	if strategy == domain.StrategyPredictionMarketYes || entry == 0 {
		return RiskSafe
	}
	direction := 1.0
	if strategy == domain.StrategyLongPerp {
		direction = -1.0
	}
	lossFraction := leverage * direction * (mark - entry) / entry
	switch {
	case lossFraction > criticalThreshold:
		return RiskCritical
	case lossFraction > warningThreshold:
		return RiskWarning
	default:
		return RiskSafe
	}
}

// maybeEmitRiskTransition emits LiquidationRiskWarning/Critical only on a
// change from the previously recorded level for this position, per spec.md
// §4.D.2: "emit an event per transition," not per cycle.
func (m *Manager) maybeEmitRiskTransition(pos domain.HedgePosition, level RiskLevel) {
	m.riskMu.Lock()
	prior, seen := m.risk[pos.ID]
	m.risk[pos.ID] = level
	m.riskMu.Unlock()

	if seen && prior == level {
		return
	}
	switch level {
	case RiskWarning:
		m.publish(events.KindLiquidationRiskWarning, pos, map[string]any{"level": string(level)})
	case RiskCritical:
		m.publish(events.KindLiquidationRiskCritical, pos, map[string]any{"level": string(level)})
	}
}

func (m *Manager) lastRisk(positionID string) RiskLevel {
	m.riskMu.Lock()
	defer m.riskMu.Unlock()
	return m.risk[positionID]
}

// applyReconciliationDrift corrects the locally recorded quantity/entry to
// the venue-reported values and emits ReconciliationDrift exactly once, the
// cycle the drift is first observed: spec.md §8 property 11 requires
// reconciliation to be idempotent, emitting no further events once local and
// venue state agree.
func (m *Manager) applyReconciliationDrift(pos *domain.HedgePosition, status venue.PositionStatus, toleranceUSD float64) {
	localNotional := pos.Quantity * pos.EntryPrice
	venueNotional := status.Quantity * status.EntryPrice
	drift := localNotional - venueNotional
	if drift < 0 {
		drift = -drift
	}
	if toleranceUSD <= 0 {
		toleranceUSD = 0
	}
	if drift <= toleranceUSD {
		return
	}

	m.publish(events.KindReconciliationDrift, *pos, map[string]any{
		"local_notional_usd": localNotional,
		"venue_notional_usd": venueNotional,
	})
	pos.Quantity = status.Quantity
	pos.EntryPrice = status.EntryPrice
}

// reconcileAbsent implements spec.md §4.D.4's venue-absent branch: a
// locally-Open position the venue no longer reports transitions to Closed,
// or Liquidated if its last known risk classification was Critical.
func (m *Manager) reconcileAbsent(ctx context.Context, pos domain.HedgePosition) error {
	newState := domain.PositionClosed
	kind := events.KindHedgeClosed
	if m.lastRisk(pos.ID) == RiskCritical {
		newState = domain.PositionLiquidated
		kind = events.KindHedgeLiquidated
	}

	if err := m.repo.UpdatePositionState(ctx, pos.ID, newState, nil); err != nil {
		if errors.Is(err, repo.ErrBackwardTransition) {
			return nil
		}
		return fmt.Errorf("lifecycle: reconcile absent position %s: %w", pos.ID, err)
	}
	m.publish(kind, pos, map[string]any{"reason": "venue reports position absent"})
	return nil
}

// closePosition implements spec.md §4.D.3: enqueue Closing, call the venue's
// idempotent close, then finalize with realized P&L. A position that has
// already left LoadOpenPositions' active set (because it reached Closed on
// a prior cycle) is never processed again, which is what makes repeated
// close attempts idempotent at this layer (spec.md §8 property 10); the
// venue adapter's own idempotent ClosePosition covers a retry within the
// same cycle.
func (m *Manager) closePosition(ctx context.Context, adapter venue.Adapter, pos domain.HedgePosition) error {
	if err := m.repo.UpdatePositionState(ctx, pos.ID, domain.PositionClosing, nil); err != nil && !errors.Is(err, repo.ErrBackwardTransition) {
		return fmt.Errorf("lifecycle: enqueue close %s: %w", pos.ID, err)
	}

	result, err := adapter.ClosePosition(ctx, pos.ExternalID)
	if err != nil {
		m.logger.Warn("close position failed, will retry next cycle",
			zap.String("position_id", pos.ID), zap.Error(err))
		return nil
	}

	pnl := result.RealizedPnLUSD
	if err := m.repo.UpdatePositionState(ctx, pos.ID, domain.PositionClosed, &pnl); err != nil {
		if errors.Is(err, repo.ErrBackwardTransition) {
			return nil
		}
		return fmt.Errorf("lifecycle: finalize close %s: %w", pos.ID, err)
	}
	m.publish(events.KindHedgeClosed, pos, map[string]any{"realized_pnl_usd": pnl})
	return nil
}

func (m *Manager) publish(kind events.Kind, pos domain.HedgePosition, payload map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Kind:       kind,
		PositionID: pos.ID,
		PolicyID:   pos.PolicyID,
		Venue:      string(pos.Venue),
		At:         m.clock.Now(),
		Payload:    payload,
	})
}
