// Package tickmath converts between ticks, prices and sqrtPriceX96 values of a
// concentrated-liquidity pool (price = 1.0001^tick).
package tickmath

import (
	"math"
	"math/big"
)

// TickSpacing is the initializable tick distance of the target protocol.
const TickSpacing int32 = 200

const (
	// MinTick and MaxTick are the int24 tick bounds of the pool.
	MinTick int32 = -887272
	MaxTick int32 = 887272

	tickBase = 1.0001
)

var (
	q96      = new(big.Int).Lsh(big.NewInt(1), 96)
	q96Float = new(big.Float).SetInt(q96)
)

// Q96 returns 2^96.
func Q96() *big.Int {
	return new(big.Int).Set(q96)
}

// TickToPrice returns 1.0001^tick.
func TickToPrice(tick int32) float64 {
	return math.Pow(tickBase, float64(tick))
}

// RawTick returns log(price)/log(1.0001) without rounding.
// price must be finite and positive.
func RawTick(price float64) float64 {
	return math.Log(price) / math.Log(tickBase)
}

// PriceToTick returns the tick nearest to price.
func PriceToTick(price float64) int32 {
	return int32(math.Round(RawTick(price)))
}

// TickToSqrtPriceX96 returns floor(sqrt(1.0001^tick) * 2^96).
func TickToSqrtPriceX96(tick int32) *big.Int {
	sqrt := math.Sqrt(TickToPrice(tick))
	scaled := new(big.Float).SetPrec(256).SetFloat64(sqrt)
	scaled.Mul(scaled, q96Float)
	out, _ := scaled.Int(nil)
	return out
}

// SqrtPriceX96ToPrice returns (sqrtPriceX96 / 2^96)^2 in floating point.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Float).SetPrec(256).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, q96Float)
	f, _ := ratio.Float64()
	return f * f
}

// SqrtPriceX96ToTick returns the tick nearest to the encoded price.
func SqrtPriceX96ToTick(sqrtPriceX96 *big.Int) int32 {
	price := SqrtPriceX96ToPrice(sqrtPriceX96)
	if price <= 0 || math.IsInf(price, 0) {
		return 0
	}
	return PriceToTick(price)
}

// NearestUsableTick rounds tick to the closest multiple of spacing.
func NearestUsableTick(tick, spacing int32) int32 {
	if spacing <= 0 {
		return tick
	}
	return int32(math.Round(float64(tick)/float64(spacing))) * spacing
}
