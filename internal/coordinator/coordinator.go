// Package coordinator opens, closes and adjusts liquidity positions. It is the
// only writer of on-chain state and owns the authoritative position set.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/policy"
	"liquidityAgent/internal/pricing"
	"liquidityAgent/internal/protocol"
	"liquidityAgent/internal/storage"
	"liquidityAgent/internal/tickmath"
)

const (
	defaultDeadline       = 30 * time.Minute
	defaultConfirmTimeout = 5 * time.Minute
)

// Config holds coordinator settings.
type Config struct {
	Owner          common.Address
	MarketContract common.Address
	Deadline       time.Duration
	ConfirmTimeout time.Duration
	// EmergencyStopBalance halts all creations and adjustments once the wallet
	// collateral balance falls below it. Zero disables the check.
	EmergencyStopBalance decimal.Decimal
}

// Units converts human collateral amounts to base units of a token.
type Units interface {
	BaseUnits(ctx context.Context, token common.Address, amount decimal.Decimal) (*big.Int, error)
}

// OpenRequest describes a position to open.
type OpenRequest struct {
	MarketID         uint64
	TargetPrice      float64
	Range            model.TickRange
	CollateralAmount *big.Int
}

// Coordinator orchestrates position lifecycle against the market contract.
type Coordinator struct {
	cfg     Config
	reader  protocol.Reader
	writer  protocol.Writer
	policy  *policy.Policy
	units   Units
	sink    storage.EventSink
	logger  *zap.Logger
	now     func() time.Time
	stopped atomic.Bool

	mu        sync.RWMutex
	positions map[string]*model.LiquidityPosition
}

// New builds a Coordinator.
func New(
	cfg Config,
	reader protocol.Reader,
	writer protocol.Writer,
	monitor *policy.Policy,
	units Units,
	sink storage.EventSink,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Coordinator{
		cfg:       cfg,
		reader:    reader,
		writer:    writer,
		policy:    monitor,
		units:     units,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		positions: make(map[string]*model.LiquidityPosition),
	}
}

// SetClock overrides the wall clock.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Stopped reports whether the emergency stop is engaged.
func (c *Coordinator) Stopped() bool {
	return c.stopped.Load()
}

// Positions returns copies of the active positions ordered by creation time.
func (c *Coordinator) Positions() []model.LiquidityPosition {
	c.mu.RLock()
	out := make([]model.LiquidityPosition, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Position returns a copy of the active position with id.
func (c *Coordinator) Position(id string) (model.LiquidityPosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	if !ok {
		return model.LiquidityPosition{}, false
	}
	return *p, true
}

// CurrentPrice returns the market price decoded from its sqrt price.
func (c *Coordinator) CurrentPrice(ctx context.Context, marketID uint64) (float64, error) {
	sqrt, err := c.reader.GetSqrtPriceX96(ctx, marketID)
	if err != nil {
		return 0, err
	}
	return tickmath.SqrtPriceX96ToPrice(sqrt), nil
}

// OpenPosition checks the preconditions in order (market live, no open position
// for the market, capacity, collateral) and mints a new position.
func (c *Coordinator) OpenPosition(ctx context.Context, req OpenRequest) (model.LiquidityPosition, error) {
	if c.stopped.Load() {
		return model.LiquidityPosition{}, ErrEmergencyStop
	}

	market, err := c.reader.GetMarket(ctx, req.MarketID)
	if err != nil {
		return model.LiquidityPosition{}, fmt.Errorf("read market %d: %w", req.MarketID, err)
	}
	if market.Settled {
		return model.LiquidityPosition{}, fmt.Errorf("market %d: %w", req.MarketID, ErrMarketSettled)
	}
	if market.Expired(c.now()) {
		return model.LiquidityPosition{}, fmt.Errorf("market %d: %w", req.MarketID, ErrMarketExpired)
	}

	if c.policy.TracksMarket(req.MarketID) {
		return model.LiquidityPosition{}, fmt.Errorf("market %d: %w", req.MarketID, ErrPositionExists)
	}
	existing, err := c.findOpenPosition(ctx, req.MarketID)
	if err != nil {
		return model.LiquidityPosition{}, err
	}
	if existing != nil {
		return model.LiquidityPosition{}, fmt.Errorf("market %d token %s: %w", req.MarketID, existing.TokenID, ErrPositionExists)
	}

	if c.policy.HasMaxPositions() {
		return model.LiquidityPosition{}, ErrMaxPositions
	}

	if err := c.checkCollateral(ctx, market.CollateralAsset, req.CollateralAmount); err != nil {
		return model.LiquidityPosition{}, err
	}

	// The range is settled before anything is sent on-chain.
	r := clampRange(req.Range, market.TickBounds())
	if !r.Valid() {
		return model.LiquidityPosition{}, fmt.Errorf("%w: [%d, %d] outside market bounds [%d, %d]",
			pricing.ErrInvalidTickRange, req.Range.Lower, req.Range.Upper, market.MinTick, market.MaxTick)
	}
	if r != req.Range {
		c.logger.Info("tick range narrowed to market bounds",
			zap.Uint64("market_id", req.MarketID),
			zap.Int32("requested_lower", req.Range.Lower),
			zap.Int32("requested_upper", req.Range.Upper),
			zap.Int32("lower", r.Lower),
			zap.Int32("upper", r.Upper),
		)
	}

	if err := c.ensureCollateralApproval(ctx, market.CollateralAsset, req.CollateralAmount); err != nil {
		return model.LiquidityPosition{}, err
	}

	pending, err := c.writer.CreatePosition(ctx, protocol.CreatePositionParams{
		MarketID:         req.MarketID,
		CollateralAmount: req.CollateralAmount,
		Range:            r,
		MinAmountTokenA:  big.NewInt(0),
		MinAmountTokenB:  big.NewInt(0),
		Deadline:         c.now().Add(c.cfg.Deadline),
	})
	if err != nil {
		return model.LiquidityPosition{}, fmt.Errorf("create position: %w", err)
	}
	conf, err := c.wait(ctx, pending)
	if err != nil {
		return model.LiquidityPosition{}, fmt.Errorf("create position: %w", err)
	}

	tokenID, ok := protocol.MintedTokenID(conf.Logs, c.cfg.MarketContract, c.cfg.Owner)
	if !ok {
		return model.LiquidityPosition{}, fmt.Errorf("tx %s: %w", conf.TxHash.Hex(), ErrTokenIDExtractionFailed)
	}

	now := c.now()
	position := model.LiquidityPosition{
		ID:          uuid.NewString(),
		MarketID:    req.MarketID,
		TokenID:     tokenID,
		Range:       r,
		TargetPrice: req.TargetPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
	}
	if onchain, err := c.reader.GetPosition(ctx, tokenID); err == nil {
		position.Liquidity = onchain.Liquidity
	} else {
		c.logger.Warn("minted position read failed", zap.String("token_id", tokenID.String()), zap.Error(err))
	}

	c.store(position)
	c.emit(ctx, model.Event{
		Type:      model.EventPositionCreated,
		Timestamp: now,
		MarketID:  req.MarketID,
		Position:  &position,
		TxHash:    conf.TxHash.Hex(),
	})
	return position, nil
}

// ClosePosition closes the active position with id. Positions whose on-chain
// record is not a liquidity position, or is already settled, are not touched
// on-chain; settled ones are retired locally.
func (c *Coordinator) ClosePosition(ctx context.Context, id string) error {
	position, ok := c.Position(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}
	if position.TokenID == nil {
		return fmt.Errorf("position %s has no token id", id)
	}

	onchain, err := c.reader.GetPosition(ctx, position.TokenID)
	if err != nil {
		return fmt.Errorf("read position %s: %w", position.TokenID, err)
	}
	if onchain.Kind != model.PositionKindLiquidity {
		c.logger.Warn("close skipped, not a liquidity position",
			zap.String("position_id", id),
			zap.String("token_id", position.TokenID.String()),
			zap.String("kind", onchain.Kind.String()),
		)
		return nil
	}
	if onchain.Settled {
		c.logger.Info("close skipped, position settled", zap.String("position_id", id))
		c.retire(position.ID)
		return nil
	}

	pending, err := c.writer.ClosePosition(ctx, protocol.ClosePositionParams{
		TokenID:         position.TokenID,
		MinAmountTokenA: big.NewInt(0),
		MinAmountTokenB: big.NewInt(0),
		Deadline:        c.now().Add(c.cfg.Deadline),
	})
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	conf, err := c.wait(ctx, pending)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	closed := c.retire(position.ID)
	c.emit(ctx, model.Event{
		Type:      model.EventPositionClosed,
		Timestamp: closed.UpdatedAt,
		MarketID:  closed.MarketID,
		Position:  &closed,
		TxHash:    conf.TxHash.Hex(),
	})
	return nil
}

// AdjustPosition closes the position with id and opens a replacement. It is not
// atomic: when the open step fails the market is left without a position until
// the next cycle.
func (c *Coordinator) AdjustPosition(ctx context.Context, id string, r model.TickRange, targetPrice float64, collateral *big.Int) (model.LiquidityPosition, error) {
	if c.stopped.Load() {
		return model.LiquidityPosition{}, ErrEmergencyStop
	}
	old, ok := c.Position(id)
	if !ok {
		return model.LiquidityPosition{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}

	if err := c.ClosePosition(ctx, id); err != nil {
		return model.LiquidityPosition{}, fmt.Errorf("adjust close: %w", err)
	}
	position, err := c.OpenPosition(ctx, OpenRequest{
		MarketID:         old.MarketID,
		TargetPrice:      targetPrice,
		Range:            r,
		CollateralAmount: collateral,
	})
	if err != nil {
		c.logger.Error("adjust reopen failed, market left without position",
			zap.Uint64("market_id", old.MarketID),
			zap.String("retired_position_id", old.ID),
			zap.Error(err),
		)
		return model.LiquidityPosition{}, fmt.Errorf("adjust reopen: %w", err)
	}
	return position, nil
}

// OwnedPositions enumerates the owner's position NFTs and returns their decoded
// records. Undecodable records are skipped.
func (c *Coordinator) OwnedPositions(ctx context.Context) ([]model.OnchainPosition, error) {
	balance, err := c.reader.BalanceOf(ctx, c.cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("read position balance: %w", err)
	}
	if !balance.IsInt64() {
		return nil, fmt.Errorf("position balance out of range: %s", balance)
	}

	out := make([]model.OnchainPosition, 0, balance.Int64())
	for i := int64(0); i < balance.Int64(); i++ {
		tokenID, err := c.reader.TokenOfOwnerByIndex(ctx, c.cfg.Owner, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("read token at index %d: %w", i, err)
		}
		position, err := c.reader.GetPosition(ctx, tokenID)
		if err != nil {
			var decodeErr *model.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("skip undecodable position", zap.String("token_id", tokenID.String()), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("read position %s: %w", tokenID, err)
		}
		out = append(out, position)
	}
	return out, nil
}

// Adopt tracks an on-chain position found at startup. A stored record of the
// same token keeps its ID, target price and creation time; otherwise the target
// is the price at the center of the tick range.
func (c *Coordinator) Adopt(onchain model.OnchainPosition, stored *model.LiquidityPosition) model.LiquidityPosition {
	now := c.now()
	center := (int64(onchain.Range.Lower) + int64(onchain.Range.Upper)) / 2
	position := model.LiquidityPosition{
		ID:          uuid.NewString(),
		MarketID:    onchain.MarketID,
		TokenID:     onchain.TokenID,
		Range:       onchain.Range,
		Liquidity:   onchain.Liquidity,
		TargetPrice: tickmath.TickToPrice(int32(center)),
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
	}
	if stored != nil && stored.MarketID == onchain.MarketID && stored.TokenID != nil && stored.TokenID.Cmp(onchain.TokenID) == 0 {
		position.ID = stored.ID
		position.TargetPrice = stored.TargetPrice
		position.CreatedAt = stored.CreatedAt
	}
	c.store(position)
	return position
}

func (c *Coordinator) findOpenPosition(ctx context.Context, marketID uint64) (*model.OnchainPosition, error) {
	owned, err := c.OwnedPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range owned {
		if owned[i].MarketID == marketID && owned[i].OpenLiquidity() {
			return &owned[i], nil
		}
	}
	return nil, nil
}

func (c *Coordinator) checkCollateral(ctx context.Context, token common.Address, required *big.Int) error {
	balance, err := c.reader.TokenBalance(ctx, token, c.cfg.Owner)
	if err != nil {
		return fmt.Errorf("read collateral balance: %w", err)
	}

	if c.cfg.EmergencyStopBalance.IsPositive() && c.units != nil {
		threshold, err := c.units.BaseUnits(ctx, token, c.cfg.EmergencyStopBalance)
		if err != nil {
			return fmt.Errorf("emergency threshold: %w", err)
		}
		if balance.Cmp(threshold) < 0 {
			c.stopped.Store(true)
			err := fmt.Errorf("%w: balance %s below %s", ErrEmergencyStop, balance, threshold)
			c.emit(ctx, model.Event{Type: model.EventError, Timestamp: c.now(), Error: err.Error()})
			return err
		}
	}

	if balance.Cmp(required) < 0 {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientCollateral, balance, required)
	}
	return nil
}

func (c *Coordinator) wait(ctx context.Context, pending protocol.PendingTx) (protocol.Confirmation, error) {
	// A submitted transaction is always awaited, even during shutdown.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ConfirmTimeout)
	defer cancel()
	return pending.Wait(waitCtx)
}

func (c *Coordinator) store(position model.LiquidityPosition) {
	c.mu.Lock()
	stored := position
	c.positions[position.ID] = &stored
	c.mu.Unlock()
	c.policy.Track(position)
}

func (c *Coordinator) retire(id string) model.LiquidityPosition {
	c.mu.Lock()
	p, ok := c.positions[id]
	if !ok {
		c.mu.Unlock()
		return model.LiquidityPosition{}
	}
	p.Active = false
	p.UpdatedAt = c.now()
	retired := *p
	delete(c.positions, id)
	c.mu.Unlock()

	c.policy.Untrack(id)
	return retired
}

func (c *Coordinator) emit(ctx context.Context, event model.Event) {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.Uint64("market_id", event.MarketID),
	}
	if event.Position != nil {
		fields = append(fields,
			zap.String("position_id", event.Position.ID),
			zap.Int32("lower_tick", event.Position.Range.Lower),
			zap.Int32("upper_tick", event.Position.Range.Upper),
		)
	}
	if event.TxHash != "" {
		fields = append(fields, zap.String("tx", event.TxHash))
	}
	if event.Type == model.EventError {
		c.logger.Warn(event.Error, fields...)
	} else {
		c.logger.Info("position event", fields...)
	}

	if c.sink == nil {
		return
	}
	if err := c.sink.Emit(ctx, event); err != nil {
		c.logger.Warn("event sink failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

// Emit forwards an externally produced event through the coordinator's sinks.
func (c *Coordinator) Emit(ctx context.Context, event model.Event) {
	c.emit(ctx, event)
}

func clampRange(r, bounds model.TickRange) model.TickRange {
	if r.Lower < bounds.Lower {
		r.Lower = bounds.Lower
	}
	if r.Upper > bounds.Upper {
		r.Upper = bounds.Upper
	}
	return r
}
