package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Market is a decoded market (epoch) record of the market contract.
// Settled, SettlementPriceD18 and SqrtPriceX96 are refreshed on every read.
type Market struct {
	ID                 uint64         `json:"id"`
	StartTime          int64          `json:"start_time"`
	EndTime            int64          `json:"end_time"`
	Pool               common.Address `json:"pool"`
	BaseToken          common.Address `json:"base_token"`
	QuoteToken         common.Address `json:"quote_token"`
	MinPriceD18        *big.Int       `json:"min_price_d18"`
	MaxPriceD18        *big.Int       `json:"max_price_d18"`
	MinTick            int32          `json:"min_tick"`
	MaxTick            int32          `json:"max_tick"`
	Settled            bool           `json:"settled"`
	SettlementPriceD18 *big.Int       `json:"settlement_price_d18"`
	SqrtPriceX96       *big.Int       `json:"sqrt_price_x96"`
	CollateralAsset    common.Address `json:"collateral_asset"`
}

// Expired reports whether now is past the market end time.
func (m Market) Expired(now time.Time) bool {
	return now.Unix() > m.EndTime
}

// TickBounds returns the market tick bounds as a range.
func (m Market) TickBounds() TickRange {
	return TickRange{Lower: m.MinTick, Upper: m.MaxTick}
}

// MarketSummary is a market listing entry returned by the indexer query.
type MarketSummary struct {
	ID              uint64         `json:"id"`
	GroupAddress    common.Address `json:"group_address"`
	CollateralAsset common.Address `json:"collateral_asset"`
	Claim           string         `json:"claim"`
	EndTime         int64          `json:"end_time"`
	CreatedAt       int64          `json:"created_at"`
}
