package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"liquidityAgent/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestPolicy(maxPositions int) (*Policy, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := New(Config{DeviationThreshold: 0.02, Cooldown: 10 * time.Minute, MaxPositions: maxPositions}, nil)
	p.SetClock(clock.Now)
	return p, clock
}

func testPosition(id string, marketID uint64) model.LiquidityPosition {
	return model.LiquidityPosition{ID: id, MarketID: marketID, TargetPrice: 100, Active: true}
}

func TestObserveHysteresisAndCooldown(t *testing.T) {
	p, clock := newTestPolicy(0)
	p.Track(testPosition("a", 1))

	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("first deviation must not trigger")
	}
	if state, n := p.State("a"); state != StateDeviating || n != 1 {
		t.Fatalf("expected deviating(1), got %s(%d)", state, n)
	}

	req, ok := p.Observe("a", 103)
	if !ok {
		t.Fatalf("second deviation must trigger")
	}
	if req.Position.ID != "a" || req.CurrentPrice != 103 {
		t.Fatalf("request mismatch: %+v", req)
	}
	if state, n := p.State("a"); state != StateCooldown || n != 0 {
		t.Fatalf("expected cooldown(0), got %s(%d)", state, n)
	}

	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("cooldown must suppress reads")
	}
	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("cooldown must suppress reads")
	}

	clock.now = clock.now.Add(10 * time.Minute)
	if p.IsInCooldown("a") {
		t.Fatalf("cooldown should have expired")
	}
	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("counter restarts after cooldown")
	}
	if _, ok := p.Observe("a", 103); !ok {
		t.Fatalf("expected trigger after cooldown")
	}
}

func TestObserveRevertResetsCounter(t *testing.T) {
	p, _ := newTestPolicy(0)
	p.Track(testPosition("a", 1))

	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("unexpected trigger")
	}
	if _, ok := p.Observe("a", 99); ok {
		t.Fatalf("unexpected trigger")
	}
	if state, n := p.State("a"); state != StateInRange || n != 0 {
		t.Fatalf("expected in range, got %s(%d)", state, n)
	}
	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("counter should have been reset")
	}
}

func TestObserveInactiveRemoved(t *testing.T) {
	p, clock := newTestPolicy(0)
	pos := testPosition("a", 1)
	p.Track(pos)
	p.Observe("a", 103)
	p.Observe("a", 103)

	pos.Active = false
	p.Track(pos)
	if !p.IsInCooldown("a") {
		t.Fatalf("expected cooldown before removal")
	}
	if _, ok := p.Observe("a", 103); ok {
		t.Fatalf("inactive position must not trigger")
	}
	if p.Count() != 0 {
		t.Fatalf("inactive position must be removed during cooldown")
	}
	clock.now = clock.now.Add(time.Hour)
	if state, _ := p.State("a"); state != StateUntracked {
		t.Fatalf("expected untracked, got %s", state)
	}
}

func TestHasMaxPositions(t *testing.T) {
	p, _ := newTestPolicy(2)
	p.Track(testPosition("a", 1))
	if p.HasMaxPositions() {
		t.Fatalf("ceiling not reached yet")
	}
	p.Track(testPosition("b", 2))
	if !p.HasMaxPositions() {
		t.Fatalf("ceiling should be reached")
	}
	p.Untrack("a")
	if p.HasMaxPositions() {
		t.Fatalf("ceiling should be released")
	}

	unlimited, _ := newTestPolicy(0)
	unlimited.Track(testPosition("a", 1))
	if unlimited.HasMaxPositions() {
		t.Fatalf("zero ceiling means unlimited")
	}
}

func TestTracksMarket(t *testing.T) {
	p, _ := newTestPolicy(0)
	p.Track(testPosition("a", 7))
	if !p.TracksMarket(7) || p.TracksMarket(8) {
		t.Fatalf("market tracking mismatch")
	}
}

type priceMap struct {
	prices map[uint64]float64
	errs   map[uint64]error
	calls  int
}

func (m *priceMap) CurrentPrice(_ context.Context, marketID uint64) (float64, error) {
	m.calls++
	if err := m.errs[marketID]; err != nil {
		return 0, err
	}
	return m.prices[marketID], nil
}

func TestEvaluateSkipsFailuresAndCooldown(t *testing.T) {
	p, clock := newTestPolicy(0)
	p.Track(testPosition("a", 1))
	clock.now = clock.now.Add(time.Second)
	p.Track(testPosition("b", 2))

	prices := &priceMap{
		prices: map[uint64]float64{2: 110},
		errs:   map[uint64]error{1: errors.New("rpc down")},
	}

	if reqs := p.Evaluate(context.Background(), prices); len(reqs) != 0 {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	reqs := p.Evaluate(context.Background(), prices)
	if len(reqs) != 1 || reqs[0].Position.ID != "b" {
		t.Fatalf("expected one request for b, got %+v", reqs)
	}

	calls := prices.calls
	p.Evaluate(context.Background(), prices)
	if prices.calls != calls+1 {
		t.Fatalf("cooldown position must be skipped before the price read")
	}
}

func TestEvaluateDropsInactive(t *testing.T) {
	p, _ := newTestPolicy(0)
	pos := testPosition("a", 1)
	pos.Active = false
	p.Track(pos)

	prices := &priceMap{prices: map[uint64]float64{1: 100}}
	p.Evaluate(context.Background(), prices)
	if p.Count() != 0 || prices.calls != 0 {
		t.Fatalf("inactive position should be dropped without a price read")
	}
}

func TestMonitorInterval(t *testing.T) {
	if got := MonitorInterval(4 * time.Second); got != 5*time.Second {
		t.Fatalf("floor not applied: %s", got)
	}
	if got := MonitorInterval(30 * time.Second); got != 15*time.Second {
		t.Fatalf("half interval expected: %s", got)
	}
}
