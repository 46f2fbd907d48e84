// Package policy tracks open positions and decides when they need adjustment.
package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/pricing"
)

// RequiredDeviations is the number of consecutive deviating checks that
// trigger an adjustment.
const RequiredDeviations = 2

const minMonitorInterval = 5 * time.Second

// MonitorInterval derives the monitoring cadence from the event polling interval.
func MonitorInterval(pollInterval time.Duration) time.Duration {
	if half := pollInterval / 2; half > minMonitorInterval {
		return half
	}
	return minMonitorInterval
}

// Config holds policy thresholds.
type Config struct {
	DeviationThreshold float64
	Cooldown           time.Duration
	MaxPositions       int
}

// State is the monitoring state of a tracked position.
type State int

const (
	StateUntracked State = iota
	StateInRange
	StateDeviating
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateInRange:
		return "in_range"
	case StateDeviating:
		return "deviating"
	case StateCooldown:
		return "cooldown"
	default:
		return "untracked"
	}
}

// PriceSource returns the current price of a market.
type PriceSource interface {
	CurrentPrice(ctx context.Context, marketID uint64) (float64, error)
}

// AdjustmentRequest asks the coordinator to re-center a position.
type AdjustmentRequest struct {
	Position     model.LiquidityPosition
	CurrentPrice float64
	RequestedAt  time.Time
}

type tracked struct {
	position      model.LiquidityPosition
	lastChecked   time.Time
	deviations    int
	cooldownUntil time.Time
}

// Policy holds per-position monitoring state. Positions are held by value.
type Policy struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]*tracked
}

// New builds a Policy.
func New(cfg Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		positions: make(map[string]*tracked),
	}
}

// SetClock overrides the wall clock.
func (p *Policy) SetClock(now func() time.Time) {
	p.now = now
}

// Track starts monitoring a position. Re-tracking an ID replaces its snapshot
// and keeps its counters.
func (p *Policy) Track(position model.LiquidityPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.positions[position.ID]; ok {
		t.position = position
		return
	}
	p.positions[position.ID] = &tracked{position: position}
}

// Untrack removes a position.
func (p *Policy) Untrack(id string) {
	p.mu.Lock()
	delete(p.positions, id)
	p.mu.Unlock()
}

// Count returns the number of tracked positions.
func (p *Policy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

// HasMaxPositions reports whether the position ceiling is reached.
func (p *Policy) HasMaxPositions() bool {
	if p.cfg.MaxPositions <= 0 {
		return false
	}
	return p.Count() >= p.cfg.MaxPositions
}

// TracksMarket reports whether an active position is tracked for marketID.
func (p *Policy) TracksMarket(marketID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.positions {
		if t.position.MarketID == marketID && t.position.Active {
			return true
		}
	}
	return false
}

// Positions returns a snapshot of tracked positions ordered by creation time.
func (p *Policy) Positions() []model.LiquidityPosition {
	p.mu.Lock()
	out := make([]model.LiquidityPosition, 0, len(p.positions))
	for _, t := range p.positions {
		out = append(out, t.position)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsInCooldown reports whether the position is inside its cooldown window.
func (p *Policy) IsInCooldown(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.positions[id]
	if !ok {
		return false
	}
	return p.now().Before(t.cooldownUntil)
}

// State returns the monitoring state and deviation count of a position.
func (p *Policy) State(id string) (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.positions[id]
	if !ok {
		return StateUntracked, 0
	}
	if p.now().Before(t.cooldownUntil) {
		return StateCooldown, t.deviations
	}
	if t.deviations > 0 {
		return StateDeviating, t.deviations
	}
	return StateInRange, 0
}

// Observe feeds one price read for a position and returns an adjustment request
// when the deviation is confirmed. Reads during cooldown are ignored.
func (p *Policy) Observe(id string, currentPrice float64) (AdjustmentRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.positions[id]
	if !ok {
		return AdjustmentRequest{}, false
	}
	if !t.position.Active {
		delete(p.positions, id)
		return AdjustmentRequest{}, false
	}

	now := p.now()
	if now.Before(t.cooldownUntil) {
		return AdjustmentRequest{}, false
	}
	t.lastChecked = now

	if t.position.TargetPrice <= 0 {
		return AdjustmentRequest{}, false
	}

	if !pricing.IsPriceOutsideDeviation(currentPrice, t.position.TargetPrice, p.cfg.DeviationThreshold) {
		t.deviations = 0
		return AdjustmentRequest{}, false
	}

	t.deviations++
	if t.deviations < RequiredDeviations {
		return AdjustmentRequest{}, false
	}

	t.deviations = 0
	t.cooldownUntil = now.Add(p.cfg.Cooldown)
	return AdjustmentRequest{
		Position:     t.position,
		CurrentPrice: currentPrice,
		RequestedAt:  now,
	}, true
}

// Evaluate runs one monitoring pass over all tracked positions. A failed price
// read skips that position only.
func (p *Policy) Evaluate(ctx context.Context, prices PriceSource) []AdjustmentRequest {
	var requests []AdjustmentRequest
	for _, position := range p.Positions() {
		if ctx.Err() != nil {
			break
		}
		if !position.Active {
			p.Untrack(position.ID)
			continue
		}
		if p.IsInCooldown(position.ID) {
			continue
		}

		price, err := prices.CurrentPrice(ctx, position.MarketID)
		if err != nil {
			p.logger.Warn("price read failed",
				zap.String("position_id", position.ID),
				zap.Uint64("market_id", position.MarketID),
				zap.Error(err),
			)
			continue
		}

		req, ok := p.Observe(position.ID, price)
		state, deviations := p.State(position.ID)
		p.logger.Debug("position checked",
			zap.String("position_id", position.ID),
			zap.Float64("current_price", price),
			zap.Float64("target_price", position.TargetPrice),
			zap.String("state", state.String()),
			zap.Int("deviations", deviations),
		)
		if ok {
			requests = append(requests, req)
		}
	}
	return requests
}
