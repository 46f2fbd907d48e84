package agent

import (
	"fmt"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/pricing"
	"liquidityAgent/internal/tickmath"
)

// PlanConfig holds the pricing knobs used to place a position.
type PlanConfig struct {
	ConcentrationRange float64
	MinPrice           float64
	MaxPrice           float64
}

// Plan is a computed placement for a probability.
type Plan struct {
	Likelihood  float64
	TargetPrice float64
	Band        model.PriceRange
	Range       model.TickRange
	CurrentTick int32
	Bounded     bool
}

// PlanPosition maps a likelihood to a target price and tick range. When market
// is non-nil its tick bounds clamp the range and its sqrt price anchors the
// fallback range.
func PlanPosition(cfg PlanConfig, likelihood float64, market *model.Market) (Plan, error) {
	target, err := pricing.LikelihoodToPrice(likelihood, cfg.MinPrice, cfg.MaxPrice)
	if err != nil {
		return Plan{}, err
	}

	params := pricing.RangeParams{
		TargetPrice:        target,
		ConcentrationRange: cfg.ConcentrationRange,
	}
	if market != nil {
		params.Bounds = &pricing.Bounds{MinTick: market.MinTick, MaxTick: market.MaxTick}
		if market.SqrtPriceX96 != nil && market.SqrtPriceX96.Sign() > 0 {
			params.CurrentTick = tickmath.SqrtPriceX96ToTick(market.SqrtPriceX96)
		}
	}

	r, err := pricing.PriceToTickRange(params)
	if err != nil {
		return Plan{}, fmt.Errorf("likelihood %v: %w", likelihood, err)
	}
	return Plan{
		Likelihood:  likelihood,
		TargetPrice: target,
		Band:        pricing.CalculatePriceRange(target, cfg.ConcentrationRange),
		Range:       r,
		CurrentTick: params.CurrentTick,
		Bounded:     params.Bounds != nil,
	}, nil
}
