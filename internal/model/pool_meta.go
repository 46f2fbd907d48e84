package model

import "math/big"

// PoolSlot0 includes select slot0 fields of the market's V3 pool.
type PoolSlot0 struct {
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Tick         int32    `json:"tick"`
}
