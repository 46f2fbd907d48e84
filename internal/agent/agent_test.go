package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"liquidityAgent/internal/coordinator"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/policy"
	"liquidityAgent/internal/tickmath"
)

var (
	testGroup = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testNow   = time.Unix(1700000000, 0)
)

type fakeCoordinator struct {
	policy   *policy.Policy
	openErrs map[uint64]error
	opens    []coordinator.OpenRequest
	adjusts  []model.TickRange
	adjErr   error
	owned    []model.OnchainPosition
	adopted  []model.OnchainPosition
	events   []model.Event
	price    float64
	stopped  bool

	// onOpen and onAdjust run before the fake's own behavior; an error
	// returned from them fails the call.
	onOpen   func(ctx context.Context) error
	onAdjust func(ctx context.Context) error
}

func (f *fakeCoordinator) OpenPosition(ctx context.Context, req coordinator.OpenRequest) (model.LiquidityPosition, error) {
	f.opens = append(f.opens, req)
	if f.onOpen != nil {
		if err := f.onOpen(ctx); err != nil {
			return model.LiquidityPosition{}, err
		}
	}
	if err := f.openErrs[req.MarketID]; err != nil {
		return model.LiquidityPosition{}, err
	}
	p := model.LiquidityPosition{ID: fmt.Sprintf("p-%d", req.MarketID), MarketID: req.MarketID, Range: req.Range, TargetPrice: req.TargetPrice, Active: true}
	f.policy.Track(p)
	return p, nil
}

func (f *fakeCoordinator) AdjustPosition(ctx context.Context, id string, r model.TickRange, target float64, _ *big.Int) (model.LiquidityPosition, error) {
	f.adjusts = append(f.adjusts, r)
	if f.onAdjust != nil {
		if err := f.onAdjust(ctx); err != nil {
			return model.LiquidityPosition{}, err
		}
	}
	if f.adjErr != nil {
		return model.LiquidityPosition{}, f.adjErr
	}
	return model.LiquidityPosition{ID: id + "-next", Range: r, TargetPrice: target, Active: true}, nil
}

func (f *fakeCoordinator) OwnedPositions(context.Context) ([]model.OnchainPosition, error) {
	return f.owned, nil
}

func (f *fakeCoordinator) Adopt(onchain model.OnchainPosition, stored *model.LiquidityPosition) model.LiquidityPosition {
	f.adopted = append(f.adopted, onchain)
	p := model.LiquidityPosition{ID: "adopted-" + onchain.TokenID.String(), MarketID: onchain.MarketID, TokenID: onchain.TokenID, Active: true}
	if stored != nil {
		p.ID = stored.ID
		p.TargetPrice = stored.TargetPrice
	}
	f.policy.Track(p)
	return p
}

func (f *fakeCoordinator) CurrentPrice(context.Context, uint64) (float64, error) {
	return f.price, nil
}

func (f *fakeCoordinator) Emit(_ context.Context, event model.Event) {
	f.events = append(f.events, event)
}

func (f *fakeCoordinator) Stopped() bool { return f.stopped }

type fakeMarkets struct{}

func (fakeMarkets) GetMarket(_ context.Context, marketID uint64) (model.Market, error) {
	return model.Market{
		ID:           marketID,
		EndTime:      testNow.Add(time.Hour).Unix(),
		MinTick:      -92200,
		MaxTick:      0,
		SqrtPriceX96: tickmath.TickToSqrtPriceX96(-3000),
	}, nil
}

type fakeUnits struct{}

func (fakeUnits) BaseUnits(_ context.Context, _ common.Address, amount decimal.Decimal) (*big.Int, error) {
	return amount.Shift(6).BigInt(), nil
}

type fakeLister struct {
	markets []model.MarketSummary
}

func (f fakeLister) OpenMarkets(context.Context, int64) ([]model.MarketSummary, error) {
	return f.markets, nil
}

type fakeEstimator struct {
	asked []uint64
}

func (f *fakeEstimator) Estimate(_ context.Context, m model.MarketSummary) (model.Signal, error) {
	f.asked = append(f.asked, m.ID)
	return model.Signal{MarketID: m.ID, Probability: 0.73, Source: model.SignalSourceOracle}, nil
}

func newTestAgent(t *testing.T, maxPositions int) (*Agent, *fakeCoordinator, *policy.Policy) {
	t.Helper()
	monitor := policy.New(policy.Config{DeviationThreshold: 0.02, Cooldown: 10 * time.Minute, MaxPositions: maxPositions}, nil)
	monitor.SetClock(func() time.Time { return testNow })
	coord := &fakeCoordinator{policy: monitor, openErrs: map[uint64]error{}}
	a, err := New(Config{
		Plan:             PlanConfig{ConcentrationRange: 0.05, MinPrice: 0.01, MaxPrice: 0.99},
		MarketContract:   testGroup,
		CollateralAmount: decimal.NewFromInt(100),
		ScanInterval:     time.Hour,
		PollInterval:     time.Hour,
	}, Deps{
		Coordinator: coord,
		Markets:     fakeMarkets{},
		Units:       fakeUnits{},
		Policy:      monitor,
	}, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	a.now = func() time.Time { return testNow }
	return a, coord, monitor
}

func signals(ids ...uint64) []model.Signal {
	out := make([]model.Signal, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Signal{MarketID: id, Probability: 0.73})
	}
	return out
}

func TestOpenBatchPlansRange(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	a.openBatch(context.Background(), nil, workItem{kind: workOpen, signals: signals(1)})

	if len(coord.opens) != 1 {
		t.Fatalf("expected one open, got %d", len(coord.opens))
	}
	req := coord.opens[0]
	if req.TargetPrice != 0.73 {
		t.Fatalf("unexpected target: %v", req.TargetPrice)
	}
	if req.Range != (model.TickRange{Lower: -3600, Upper: -2800}) {
		t.Fatalf("unexpected range: %+v", req.Range)
	}
	if req.CollateralAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected collateral: %s", req.CollateralAmount)
	}
}

func TestOpenBatchStopsOnInsufficientCollateral(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	coord.openErrs[1] = fmt.Errorf("wrapped: %w", coordinator.ErrInsufficientCollateral)

	a.openBatch(context.Background(), nil, workItem{kind: workOpen, signals: signals(1, 2, 3)})
	if len(coord.opens) != 1 {
		t.Fatalf("expected batch to stop after first open, got %d opens", len(coord.opens))
	}
	if len(coord.events) != 0 {
		t.Fatalf("soft failure must not emit error events")
	}
}

func TestOpenBatchContinuesAfterItemFailure(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	coord.openErrs[1] = errors.New("rpc down")
	coord.openErrs[2] = coordinator.ErrPositionExists

	a.openBatch(context.Background(), nil, workItem{kind: workOpen, signals: signals(1, 2, 3)})
	if len(coord.opens) != 3 {
		t.Fatalf("expected all signals attempted, got %d", len(coord.opens))
	}
	if len(coord.events) != 1 || coord.events[0].Type != model.EventError || coord.events[0].MarketID != 1 {
		t.Fatalf("expected one error event for market 1, got %+v", coord.events)
	}
}

func TestOpenBatchRejectsInvalidLikelihood(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	a.openBatch(context.Background(), nil, workItem{kind: workOpen, signals: []model.Signal{{MarketID: 1, Probability: 1.4}}})
	if len(coord.opens) != 0 {
		t.Fatalf("invalid likelihood must not open")
	}
	if len(coord.events) != 1 {
		t.Fatalf("expected error event")
	}
}

func TestScanFiltersMarkets(t *testing.T) {
	a, _, monitor := newTestAgent(t, 0)
	monitor.Track(model.LiquidityPosition{ID: "x", MarketID: 2, Active: true})
	estimator := &fakeEstimator{}
	a.deps.Estimator = estimator
	a.deps.Lister = fakeLister{markets: []model.MarketSummary{
		{ID: 1, GroupAddress: testGroup, EndTime: testNow.Add(time.Hour).Unix()},
		{ID: 2, GroupAddress: testGroup, EndTime: testNow.Add(time.Hour).Unix()},
		{ID: 3, GroupAddress: common.HexToAddress("0x01"), EndTime: testNow.Add(time.Hour).Unix()},
		{ID: 4, GroupAddress: testGroup, EndTime: testNow.Add(-time.Hour).Unix()},
	}}

	a.scan(context.Background())
	if len(estimator.asked) != 1 || estimator.asked[0] != 1 {
		t.Fatalf("expected only market 1 estimated, got %v", estimator.asked)
	}
	select {
	case item := <-a.queue:
		if item.kind != workOpen || len(item.signals) != 1 || item.signals[0].MarketID != 1 {
			t.Fatalf("unexpected work item: %+v", item)
		}
	default:
		t.Fatalf("expected a queued batch")
	}
}

func TestScanStopsAtMaxPositions(t *testing.T) {
	a, _, monitor := newTestAgent(t, 1)
	monitor.Track(model.LiquidityPosition{ID: "x", MarketID: 9, Active: true})
	estimator := &fakeEstimator{}
	a.deps.Estimator = estimator
	a.deps.Lister = fakeLister{markets: []model.MarketSummary{
		{ID: 1, GroupAddress: testGroup, EndTime: testNow.Add(time.Hour).Unix()},
	}}

	a.scan(context.Background())
	if len(estimator.asked) != 0 {
		t.Fatalf("expected no estimates at capacity")
	}
	if len(a.queue) != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestAdjustRecentersOnCurrentPrice(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	position := model.LiquidityPosition{ID: "p-1", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}, TargetPrice: 0.73, Active: true}

	a.adjust(context.Background(), policy.AdjustmentRequest{Position: position, CurrentPrice: 0.5, RequestedAt: testNow})
	if len(coord.adjusts) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(coord.adjusts))
	}
	got := coord.adjusts[0]
	if got.Lower >= got.Upper || got.Lower%tickmath.TickSpacing != 0 || got.Upper%tickmath.TickSpacing != 0 {
		t.Fatalf("invalid adjusted range: %+v", got)
	}
	if tickmath.TickToPrice(got.Lower) > 0.5 || tickmath.TickToPrice(got.Upper) < 0.5 {
		t.Fatalf("range %+v does not cover 0.5", got)
	}
	if len(coord.events) != 1 || coord.events[0].Type != model.EventPositionNeedsAdjustment {
		t.Fatalf("expected needs-adjustment event, got %+v", coord.events)
	}
}

func TestAdjustSkipsUnchangedRange(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	position := model.LiquidityPosition{ID: "p-1", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}, TargetPrice: 0.75, Active: true}

	a.adjust(context.Background(), policy.AdjustmentRequest{Position: position, CurrentPrice: 0.73, RequestedAt: testNow})
	if len(coord.adjusts) != 0 {
		t.Fatalf("unchanged range must not be adjusted")
	}
}

func TestAdjustFailureEmitsError(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	coord.adjErr = errors.New("revert")
	position := model.LiquidityPosition{ID: "p-1", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}, Active: true}

	a.adjust(context.Background(), policy.AdjustmentRequest{Position: position, CurrentPrice: 0.5, RequestedAt: testNow})
	if len(coord.events) != 2 || coord.events[1].Type != model.EventError {
		t.Fatalf("expected error event after needs-adjustment, got %+v", coord.events)
	}
}

func TestAdjustSkippedWhenStopped(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	coord.stopped = true
	a.adjust(context.Background(), policy.AdjustmentRequest{
		Position:     model.LiquidityPosition{ID: "p-1", MarketID: 1, Active: true},
		CurrentPrice: 0.5,
	})
	if len(coord.adjusts) != 0 {
		t.Fatalf("stopped agent must not adjust")
	}
}

func TestRunFinishesAdjustmentAfterShutdown(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shutdown arrives while the close is confirming; the reopen reads chain
	// state with the context it was given.
	coord.onAdjust = func(itemCtx context.Context) error {
		cancel()
		if err := itemCtx.Err(); err != nil {
			return fmt.Errorf("adjust reopen: read market 1: %w", err)
		}
		return nil
	}

	position := model.LiquidityPosition{ID: "p-1", MarketID: 1, Range: model.TickRange{Lower: -3600, Upper: -2800}, TargetPrice: 0.73, Active: true}
	a.run(ctx, workItem{kind: workAdjust, source: "monitor", adjust: policy.AdjustmentRequest{Position: position, CurrentPrice: 0.5, RequestedAt: testNow}})

	if len(coord.adjusts) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(coord.adjusts))
	}
	for _, event := range coord.events {
		if event.Type == model.EventError {
			t.Fatalf("adjustment aborted by shutdown: %s", event.Error)
		}
	}
}

func TestRunStopsOpenBatchBetweenSignalsOnShutdown(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.onOpen = func(itemCtx context.Context) error {
		cancel()
		return itemCtx.Err()
	}

	a.run(ctx, workItem{kind: workOpen, source: "scan", signals: signals(1, 2, 3)})
	if len(coord.opens) != 1 {
		t.Fatalf("expected the in-flight open only, got %d", len(coord.opens))
	}
	if !coord.policy.TracksMarket(1) || len(coord.events) != 0 {
		t.Fatalf("in-flight open must complete, events %+v", coord.events)
	}
}

func TestExecuteDropsQueuedItemsAfterShutdown(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a.queue <- workItem{kind: workOpen, source: "scan", signals: signals(1)}
	close(a.queue)
	a.execute(ctx)
	if len(coord.opens) != 0 {
		t.Fatalf("queued item must be dropped after shutdown")
	}
}

func TestReconcileAdoptsOpenPositions(t *testing.T) {
	a, coord, monitor := newTestAgent(t, 0)
	coord.owned = []model.OnchainPosition{
		{TokenID: big.NewInt(1), Kind: model.PositionKindLiquidity, MarketID: 1, Liquidity: big.NewInt(10)},
		{TokenID: big.NewInt(2), Kind: model.PositionKindTrade, MarketID: 2, Liquidity: big.NewInt(10)},
		{TokenID: big.NewInt(3), Kind: model.PositionKindLiquidity, MarketID: 3, Liquidity: big.NewInt(0)},
		{TokenID: big.NewInt(4), Kind: model.PositionKindLiquidity, MarketID: 4, Liquidity: big.NewInt(10), Settled: true},
	}

	if err := a.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(coord.adopted) != 1 || coord.adopted[0].TokenID.Int64() != 1 {
		t.Fatalf("expected only token 1 adopted, got %+v", coord.adopted)
	}
	if err := a.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(coord.adopted) != 1 || monitor.Count() != 1 {
		t.Fatalf("second reconcile must not adopt again")
	}
}

type fakePositionStore struct {
	positions []model.LiquidityPosition
	err       error
}

func (f fakePositionStore) ActivePositions(context.Context) ([]model.LiquidityPosition, error) {
	return f.positions, f.err
}

func TestReconcileRestoresStoredPositions(t *testing.T) {
	a, coord, monitor := newTestAgent(t, 0)
	coord.owned = []model.OnchainPosition{
		{TokenID: big.NewInt(1), Kind: model.PositionKindLiquidity, MarketID: 1, Liquidity: big.NewInt(10)},
		{TokenID: big.NewInt(2), Kind: model.PositionKindLiquidity, MarketID: 2, Liquidity: big.NewInt(10)},
	}
	a.deps.Positions = fakePositionStore{positions: []model.LiquidityPosition{
		{ID: "stored-1", MarketID: 1, TokenID: big.NewInt(1), TargetPrice: 0.62, Active: true},
		{ID: "stored-5", MarketID: 5, TokenID: big.NewInt(5), TargetPrice: 0.4, Active: true},
	}}

	if err := a.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if monitor.Count() != 2 {
		t.Fatalf("expected both held positions tracked, got %d", monitor.Count())
	}
	var restored bool
	for _, p := range monitor.Positions() {
		if p.ID == "stored-1" && p.TargetPrice == 0.62 {
			restored = true
		}
	}
	if !restored {
		t.Fatalf("stored target price not restored: %+v", monitor.Positions())
	}
	if len(coord.events) != 1 {
		t.Fatalf("expected one closed event for the vanished token, got %+v", coord.events)
	}
	closed := coord.events[0]
	if closed.Type != model.EventPositionClosed || closed.Position == nil || closed.Position.ID != "stored-5" || closed.Position.Active {
		t.Fatalf("unexpected event: %+v", closed)
	}
}

func TestReconcileIgnoresStoreFailure(t *testing.T) {
	a, coord, _ := newTestAgent(t, 0)
	coord.owned = []model.OnchainPosition{
		{TokenID: big.NewInt(1), Kind: model.PositionKindLiquidity, MarketID: 1, Liquidity: big.NewInt(10)},
	}
	a.deps.Positions = fakePositionStore{err: errors.New("connection refused")}

	if err := a.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(coord.adopted) != 1 {
		t.Fatalf("expected adoption without the store, got %d", len(coord.adopted))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _, _ := newTestAgent(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestPlanPositionWithoutMarket(t *testing.T) {
	plan, err := PlanPosition(PlanConfig{ConcentrationRange: 0.05, MinPrice: 0.01, MaxPrice: 0.99}, 0.73, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Bounded {
		t.Fatalf("expected unbounded plan")
	}
	if plan.Range != (model.TickRange{Lower: -3600, Upper: -2800}) {
		t.Fatalf("unexpected range: %+v", plan.Range)
	}
	if plan.Band.Lower < 0.7049 || plan.Band.Lower > 0.7051 || plan.Band.Upper < 0.7549 || plan.Band.Upper > 0.7551 {
		t.Fatalf("unexpected band: %+v", plan.Band)
	}
}
