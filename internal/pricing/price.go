// Package pricing turns probability estimates into target prices and
// spacing-aligned tick ranges.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/tickmath"
)

const (
	DefaultMinPrice = 0.01
	DefaultMaxPrice = 0.99

	// priceEpsilon keeps band edges away from log(0) and log(1) saturation.
	priceEpsilon = 1e-6

	// fallbackHalfWidth is the half width, in ticks, of the range used when no
	// market bounds are known and the computed range is unusable.
	fallbackHalfWidth int32 = 1000
)

var (
	ErrInvalidLikelihood = errors.New("invalid likelihood")
	ErrInvalidTickRange  = errors.New("invalid tick range")
)

// LikelihoodToPrice clamps a probability into [minPrice, maxPrice].
func LikelihoodToPrice(likelihood, minPrice, maxPrice float64) (float64, error) {
	if math.IsNaN(likelihood) || likelihood < 0 || likelihood > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLikelihood, likelihood)
	}
	return math.Min(maxPrice, math.Max(minPrice, likelihood)), nil
}

// CalculatePriceRange returns the band of full width concentrationRange centered
// on targetPrice, kept inside (0, 1).
func CalculatePriceRange(targetPrice, concentrationRange float64) model.PriceRange {
	half := concentrationRange / 2
	return model.PriceRange{
		Lower:  math.Max(priceEpsilon, targetPrice-half),
		Upper:  math.Min(1-priceEpsilon, targetPrice+half),
		Center: targetPrice,
	}
}

// Bounds are optional market tick bounds.
type Bounds struct {
	MinTick int32
	MaxTick int32
}

// RangeParams are the inputs of PriceToTickRange.
type RangeParams struct {
	TargetPrice        float64
	CurrentTick        int32
	ConcentrationRange float64
	Bounds             *Bounds
}

// PriceToTickRange converts a target price into a spacing-aligned tick range.
//
// The lower edge is floored and the upper edge ceiled before snapping, so the
// snapped range is never narrower than the computed band. Market bounds clamp the
// result; when clamping inverts the range the full market range is used instead.
// If the band cannot be computed at all, the market bounds are returned verbatim,
// or a fixed-width range around CurrentTick when no bounds are known.
func PriceToTickRange(p RangeParams) (model.TickRange, error) {
	r, err := computeTickRange(p)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, ErrInvalidTickRange) {
		return model.TickRange{}, err
	}
	return fallbackRange(p), nil
}

var errNonFinite = errors.New("non-finite price")

func computeTickRange(p RangeParams) (model.TickRange, error) {
	if !finite(p.TargetPrice) || !finite(p.ConcentrationRange) {
		return model.TickRange{}, errNonFinite
	}
	band := CalculatePriceRange(p.TargetPrice, p.ConcentrationRange)
	if !finite(band.Lower) || !finite(band.Upper) || band.Lower <= 0 || band.Upper <= 0 {
		return model.TickRange{}, errNonFinite
	}

	rawLower := math.Floor(tickmath.RawTick(band.Lower))
	rawUpper := math.Ceil(tickmath.RawTick(band.Upper))
	if !finite(rawLower) || !finite(rawUpper) {
		return model.TickRange{}, errNonFinite
	}

	r := model.TickRange{
		Lower: snapDown(int32(rawLower)),
		Upper: snapUp(int32(rawUpper)),
	}

	if p.Bounds != nil {
		r.Lower = maxInt32(r.Lower, p.Bounds.MinTick)
		r.Upper = minInt32(r.Upper, p.Bounds.MaxTick)
		if !r.Valid() {
			r = model.TickRange{Lower: p.Bounds.MinTick, Upper: p.Bounds.MaxTick}
		}
	}

	if !r.Valid() {
		return model.TickRange{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidTickRange, r.Lower, r.Upper)
	}
	return r, nil
}

// snapDown and snapUp snap to the nearest usable tick, then widen by one spacing
// when rounding moved the edge inside the computed band.
func snapDown(tick int32) int32 {
	snapped := tickmath.NearestUsableTick(tick, tickmath.TickSpacing)
	if snapped > tick {
		snapped -= tickmath.TickSpacing
	}
	return snapped
}

func snapUp(tick int32) int32 {
	snapped := tickmath.NearestUsableTick(tick, tickmath.TickSpacing)
	if snapped < tick {
		snapped += tickmath.TickSpacing
	}
	return snapped
}

func fallbackRange(p RangeParams) model.TickRange {
	if p.Bounds != nil {
		return model.TickRange{Lower: p.Bounds.MinTick, Upper: p.Bounds.MaxTick}
	}
	center := tickmath.NearestUsableTick(p.CurrentTick, tickmath.TickSpacing)
	return model.TickRange{
		Lower: center - fallbackHalfWidth,
		Upper: center + fallbackHalfWidth,
	}
}

// IsPriceOutsideDeviation reports whether currentPrice drifted from targetPrice by
// more than threshold, relative to targetPrice. targetPrice must be non-zero.
func IsPriceOutsideDeviation(currentPrice, targetPrice, threshold float64) bool {
	return math.Abs(currentPrice-targetPrice)/targetPrice > threshold
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
