package model

import (
	"math/big"
	"time"
)

// TickRange is an inclusive tick interval. Valid ranges have Lower < Upper.
type TickRange struct {
	Lower int32 `json:"lower"`
	Upper int32 `json:"upper"`
}

// Valid reports whether the range is non-empty.
func (r TickRange) Valid() bool {
	return r.Lower < r.Upper
}

// PriceRange is the probability-space band a position is centered on.
type PriceRange struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Center float64 `json:"center"`
}

// LiquidityPosition is a position opened by the agent.
// An adjustment retires the entity and creates a new one with a new ID.
type LiquidityPosition struct {
	ID          string    `json:"id"`
	MarketID    uint64    `json:"market_id"`
	TokenID     *big.Int  `json:"token_id,omitempty"`
	Range       TickRange `json:"range"`
	Liquidity   *big.Int  `json:"liquidity,omitempty"`
	TargetPrice float64   `json:"target_price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Active      bool      `json:"active"`
}

// PositionKind distinguishes the position types of the market contract.
type PositionKind uint8

const (
	PositionKindUnknown   PositionKind = 0
	PositionKindLiquidity PositionKind = 1
	PositionKindTrade     PositionKind = 2
)

func (k PositionKind) String() string {
	switch k {
	case PositionKindLiquidity:
		return "liquidity"
	case PositionKindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// OnchainPosition is the decoded position record of the market contract.
type OnchainPosition struct {
	TokenID   *big.Int     `json:"token_id"`
	Kind      PositionKind `json:"kind"`
	MarketID  uint64       `json:"market_id"`
	Liquidity *big.Int     `json:"liquidity"`
	Range     TickRange    `json:"range"`
	Settled   bool         `json:"settled"`
}

// OpenLiquidity reports whether the record is a live liquidity position.
func (p OnchainPosition) OpenLiquidity() bool {
	return p.Kind == PositionKindLiquidity && !p.Settled && p.Liquidity != nil && p.Liquidity.Sign() > 0
}
