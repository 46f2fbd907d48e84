// Package agent schedules market scans, attestation polling and position
// monitoring, and feeds their work to a single executor that owns every
// position mutation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liquidityAgent/internal/coordinator"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/policy"
)

const (
	defaultQueueSize   = 64
	defaultItemTimeout = 15 * time.Minute
)

// Coordinator is the position lifecycle surface the agent drives.
type Coordinator interface {
	OpenPosition(ctx context.Context, req coordinator.OpenRequest) (model.LiquidityPosition, error)
	AdjustPosition(ctx context.Context, id string, r model.TickRange, targetPrice float64, collateral *big.Int) (model.LiquidityPosition, error)
	OwnedPositions(ctx context.Context) ([]model.OnchainPosition, error)
	Adopt(onchain model.OnchainPosition, stored *model.LiquidityPosition) model.LiquidityPosition
	CurrentPrice(ctx context.Context, marketID uint64) (float64, error)
	Emit(ctx context.Context, event model.Event)
	Stopped() bool
}

// MarketReader reads market records.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID uint64) (model.Market, error)
}

// Lister lists open markets.
type Lister interface {
	OpenMarkets(ctx context.Context, cursor int64) ([]model.MarketSummary, error)
}

// Estimator produces a probability signal for a market.
type Estimator interface {
	Estimate(ctx context.Context, market model.MarketSummary) (model.Signal, error)
}

// PositionStore returns the positions persisted as active by an earlier run.
type PositionStore interface {
	ActivePositions(ctx context.Context) ([]model.LiquidityPosition, error)
}

// SignalSource yields signals produced outside the scan, such as attestations.
type SignalSource interface {
	Poll(ctx context.Context) ([]model.Signal, error)
}

// Config holds agent settings.
type Config struct {
	Plan             PlanConfig
	MarketContract   common.Address
	CollateralAmount decimal.Decimal
	ScanInterval     time.Duration
	PollInterval     time.Duration
	QueueSize        int
	// ItemTimeout bounds one work item. Items are not cancelled by shutdown.
	ItemTimeout      time.Duration
}

// Deps are the collaborators of an Agent. Lister, Estimator and Signals are
// optional; the corresponding jobs are not scheduled when they are nil.
// Positions is optional too.
type Deps struct {
	Coordinator Coordinator
	Markets     MarketReader
	Units       coordinator.Units
	Policy      *policy.Policy
	Lister      Lister
	Estimator   Estimator
	Signals     SignalSource
	Positions   PositionStore
}

type workKind int

const (
	workOpen workKind = iota
	workAdjust
)

// workItem is one unit for the executor. Open items carry the signals of one
// scan or poll pass.
type workItem struct {
	kind    workKind
	source  string
	signals []model.Signal
	adjust  policy.AdjustmentRequest
}

// Agent runs the scheduling loop.
type Agent struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	queue  chan workItem
	now    func() time.Time
}

// New builds an Agent.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Agent, error) {
	if deps.Coordinator == nil || deps.Markets == nil || deps.Units == nil || deps.Policy == nil {
		return nil, fmt.Errorf("agent requires coordinator, market reader, units and policy")
	}
	if !cfg.CollateralAmount.IsPositive() {
		return nil, fmt.Errorf("collateral amount must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	return &Agent{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		queue:  make(chan workItem, size),
		now:    time.Now,
	}, nil
}

// Run reconciles on-chain positions, starts the jobs and blocks until ctx is
// done. On shutdown no new ticks are scheduled, in-flight jobs finish and the
// executor completes its current item.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}

	jobs := newRunner(ctx, a.logger)
	if a.deps.Lister != nil && a.deps.Estimator != nil {
		if err := jobs.every("scan", a.cfg.ScanInterval, a.scan); err != nil {
			return err
		}
	}
	if a.deps.Signals != nil {
		if err := jobs.every("attestations", a.cfg.PollInterval, a.pollSignals); err != nil {
			return err
		}
	}
	if err := jobs.every("monitor", policy.MonitorInterval(a.cfg.PollInterval), a.monitor); err != nil {
		return err
	}

	jobs.start()
	jobs.trigger("scan")
	jobs.trigger("attestations")

	var g errgroup.Group
	g.Go(func() error {
		a.execute(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		jobs.stop()
		close(a.queue)
		return nil
	})

	a.logger.Info("agent started",
		zap.Duration("scan_interval", a.cfg.ScanInterval),
		zap.Duration("poll_interval", a.cfg.PollInterval),
		zap.Duration("monitor_interval", policy.MonitorInterval(a.cfg.PollInterval)),
	)
	err := g.Wait()
	a.logger.Info("agent stopped")
	return err
}

// Reconcile adopts open liquidity positions the wallet already holds so that
// monitoring resumes after a restart. Stored records restore the target price
// of their token; stored records whose token is no longer held open are closed.
func (a *Agent) Reconcile(ctx context.Context) error {
	owned, err := a.deps.Coordinator.OwnedPositions(ctx)
	if err != nil {
		return err
	}
	stored := a.storedPositions(ctx)
	tracked := make(map[string]struct{})
	for _, p := range a.deps.Policy.Positions() {
		if p.TokenID != nil {
			tracked[p.TokenID.String()] = struct{}{}
		}
	}

	adopted, restored := 0, 0
	held := make(map[string]struct{})
	for _, onchain := range owned {
		if !onchain.OpenLiquidity() {
			continue
		}
		key := onchain.TokenID.String()
		held[key] = struct{}{}
		if _, ok := tracked[key]; ok {
			continue
		}

		var record *model.LiquidityPosition
		if p, ok := stored[key]; ok {
			record = &p
		}
		position := a.deps.Coordinator.Adopt(onchain, record)
		adopted++
		if record != nil && position.ID == record.ID {
			restored++
		}
		a.logger.Info("adopted on-chain position",
			zap.String("position_id", position.ID),
			zap.String("token_id", key),
			zap.Uint64("market_id", onchain.MarketID),
			zap.Int32("lower_tick", onchain.Range.Lower),
			zap.Int32("upper_tick", onchain.Range.Upper),
			zap.Float64("target_price", position.TargetPrice),
			zap.Bool("restored", record != nil && position.ID == record.ID),
		)
	}

	for key, p := range stored {
		if _, ok := held[key]; ok {
			continue
		}
		a.logger.Warn("stored position no longer held, marking closed",
			zap.String("position_id", p.ID),
			zap.String("token_id", key),
			zap.Uint64("market_id", p.MarketID),
		)
		p.Active = false
		p.UpdatedAt = a.now()
		a.deps.Coordinator.Emit(ctx, model.Event{
			Type:      model.EventPositionClosed,
			Timestamp: p.UpdatedAt,
			MarketID:  p.MarketID,
			Position:  &p,
		})
	}

	a.logger.Info("reconciliation complete",
		zap.Int("owned", len(owned)),
		zap.Int("adopted", adopted),
		zap.Int("restored", restored),
	)
	return nil
}

// storedPositions indexes persisted active positions by token id. A store
// failure only costs the restored target prices.
func (a *Agent) storedPositions(ctx context.Context) map[string]model.LiquidityPosition {
	out := make(map[string]model.LiquidityPosition)
	if a.deps.Positions == nil {
		return out
	}
	positions, err := a.deps.Positions.ActivePositions(ctx)
	if err != nil {
		a.logger.Warn("load stored positions failed", zap.Error(err))
		return out
	}
	for _, p := range positions {
		if p.TokenID == nil {
			continue
		}
		out[p.TokenID.String()] = p
	}
	return out
}

// scan lists open markets without a tracked position and asks the estimator
// about each.
func (a *Agent) scan(ctx context.Context) {
	if a.deps.Coordinator.Stopped() {
		a.logger.Warn("scan skipped, emergency stop engaged")
		return
	}
	markets, err := a.deps.Lister.OpenMarkets(ctx, 0)
	if err != nil {
		a.logger.Warn("list markets failed", zap.Error(err))
		return
	}

	now := a.now().Unix()
	var signals []model.Signal
	for _, market := range markets {
		if ctx.Err() != nil {
			return
		}
		if a.deps.Policy.HasMaxPositions() {
			a.logger.Info("scan stopped, maximum positions reached")
			break
		}
		if a.cfg.MarketContract != (common.Address{}) && market.GroupAddress != a.cfg.MarketContract {
			continue
		}
		if market.EndTime < now || a.deps.Policy.TracksMarket(market.ID) {
			continue
		}

		signal, err := a.deps.Estimator.Estimate(ctx, market)
		if err != nil {
			a.logger.Warn("estimate failed", zap.Uint64("market_id", market.ID), zap.Error(err))
			continue
		}
		signals = append(signals, signal)
	}

	a.logger.Info("scan complete", zap.Int("markets", len(markets)), zap.Int("signals", len(signals)))
	a.enqueue(ctx, workItem{kind: workOpen, source: "scan", signals: signals})
}

func (a *Agent) pollSignals(ctx context.Context) {
	signals, err := a.deps.Signals.Poll(ctx)
	if err != nil {
		a.logger.Warn("signal poll failed", zap.Error(err))
	}
	a.enqueue(ctx, workItem{kind: workOpen, source: "attestations", signals: signals})
}

func (a *Agent) monitor(ctx context.Context) {
	for _, req := range a.deps.Policy.Evaluate(ctx, a.deps.Coordinator) {
		a.enqueue(ctx, workItem{kind: workAdjust, source: "monitor", adjust: req})
	}
}

func (a *Agent) enqueue(ctx context.Context, item workItem) {
	if item.kind == workOpen && len(item.signals) == 0 {
		return
	}
	select {
	case a.queue <- item:
	case <-ctx.Done():
	}
}

// execute drains the queue. Items still queued after ctx is done are dropped.
func (a *Agent) execute(ctx context.Context) {
	for item := range a.queue {
		if ctx.Err() != nil {
			continue
		}
		a.run(ctx, item)
	}
}

// run carries one item to completion under a context detached from shutdown,
// so a close is never left without its reopen. ctx only stops an open batch
// between signals.
func (a *Agent) run(ctx context.Context, item workItem) {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ItemTimeout)
	defer cancel()

	switch item.kind {
	case workOpen:
		a.openBatch(itemCtx, ctx.Done(), item)
	case workAdjust:
		a.adjust(itemCtx, item.adjust)
	}
}

// openBatch opens positions for a batch of signals. Insufficient collateral
// ends the batch; other failures only skip their signal. A closed shutdown
// channel ends the batch before the next signal.
func (a *Agent) openBatch(ctx context.Context, shutdown <-chan struct{}, item workItem) {
	for i, signal := range item.signals {
		select {
		case <-shutdown:
			a.logger.Info("shutdown, dropping rest of batch",
				zap.String("source", item.source),
				zap.Int("dropped", len(item.signals)-i),
			)
			return
		default:
		}
		_, err := a.open(ctx, signal)
		if err == nil {
			continue
		}
		logger := a.logger.With(
			zap.String("source", item.source),
			zap.Uint64("market_id", signal.MarketID),
			zap.Error(err),
		)
		switch {
		case coordinator.IsSoft(err):
			logger.Warn("insufficient collateral, dropping rest of batch", zap.Int("dropped", len(item.signals)-i-1))
			return
		case errors.Is(err, coordinator.ErrEmergencyStop):
			logger.Error("emergency stop engaged, dropping rest of batch")
			return
		case errors.Is(err, coordinator.ErrPositionExists), errors.Is(err, coordinator.ErrMaxPositions):
			logger.Info("open skipped")
		default:
			logger.Warn("open failed")
			a.deps.Coordinator.Emit(ctx, model.Event{
				Type:      model.EventError,
				Timestamp: a.now(),
				MarketID:  signal.MarketID,
				Error:     err.Error(),
			})
		}
	}
}

func (a *Agent) open(ctx context.Context, signal model.Signal) (model.LiquidityPosition, error) {
	market, err := a.deps.Markets.GetMarket(ctx, signal.MarketID)
	if err != nil {
		return model.LiquidityPosition{}, err
	}
	plan, err := PlanPosition(a.cfg.Plan, signal.Probability, &market)
	if err != nil {
		return model.LiquidityPosition{}, err
	}
	amount, err := a.deps.Units.BaseUnits(ctx, market.CollateralAsset, a.cfg.CollateralAmount)
	if err != nil {
		return model.LiquidityPosition{}, fmt.Errorf("collateral units: %w", err)
	}

	a.logger.Info("opening position",
		zap.Uint64("market_id", signal.MarketID),
		zap.String("signal_source", string(signal.Source)),
		zap.String("signal_ref", signal.Ref),
		zap.Float64("likelihood", signal.Probability),
		zap.Float64("target_price", plan.TargetPrice),
		zap.Float64("band_lower", plan.Band.Lower),
		zap.Float64("band_upper", plan.Band.Upper),
		zap.Int32("lower_tick", plan.Range.Lower),
		zap.Int32("upper_tick", plan.Range.Upper),
	)
	return a.deps.Coordinator.OpenPosition(ctx, coordinator.OpenRequest{
		MarketID:         signal.MarketID,
		TargetPrice:      plan.TargetPrice,
		Range:            plan.Range,
		CollateralAmount: amount,
	})
}

// adjust re-centers a deviating position on the current market price.
func (a *Agent) adjust(ctx context.Context, req policy.AdjustmentRequest) {
	position := req.Position
	a.deps.Coordinator.Emit(ctx, model.Event{
		Type:         model.EventPositionNeedsAdjustment,
		Timestamp:    req.RequestedAt,
		MarketID:     position.MarketID,
		Position:     &position,
		CurrentPrice: req.CurrentPrice,
	})
	if a.deps.Coordinator.Stopped() {
		a.logger.Warn("adjustment skipped, emergency stop engaged", zap.String("position_id", position.ID))
		return
	}

	if err := a.reposition(ctx, req); err != nil {
		a.logger.Warn("adjustment failed", zap.String("position_id", position.ID), zap.Error(err))
		a.deps.Coordinator.Emit(ctx, model.Event{
			Type:         model.EventError,
			Timestamp:    a.now(),
			MarketID:     position.MarketID,
			Position:     &position,
			CurrentPrice: req.CurrentPrice,
			Error:        err.Error(),
		})
	}
}

func (a *Agent) reposition(ctx context.Context, req policy.AdjustmentRequest) error {
	position := req.Position
	market, err := a.deps.Markets.GetMarket(ctx, position.MarketID)
	if err != nil {
		return err
	}
	plan, err := PlanPosition(a.cfg.Plan, clampUnit(req.CurrentPrice), &market)
	if err != nil {
		return err
	}
	if plan.Range == position.Range {
		a.logger.Info("adjustment skipped, range unchanged",
			zap.String("position_id", position.ID),
			zap.Int32("lower_tick", plan.Range.Lower),
			zap.Int32("upper_tick", plan.Range.Upper),
		)
		return nil
	}
	amount, err := a.deps.Units.BaseUnits(ctx, market.CollateralAsset, a.cfg.CollateralAmount)
	if err != nil {
		return fmt.Errorf("collateral units: %w", err)
	}

	next, err := a.deps.Coordinator.AdjustPosition(ctx, position.ID, plan.Range, plan.TargetPrice, amount)
	if err != nil {
		return err
	}
	a.logger.Info("position adjusted",
		zap.String("old_position_id", position.ID),
		zap.String("position_id", next.ID),
		zap.Float64("target_price", next.TargetPrice),
		zap.Int32("lower_tick", next.Range.Lower),
		zap.Int32("upper_tick", next.Range.Upper),
	)
	return nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
