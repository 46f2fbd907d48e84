package coordinator

import "errors"

var (
	ErrMarketSettled           = errors.New("market settled")
	ErrMarketExpired           = errors.New("market expired")
	ErrPositionExists          = errors.New("position already open for market")
	ErrMaxPositions            = errors.New("maximum positions reached")
	ErrInsufficientCollateral  = errors.New("insufficient collateral")
	ErrEmergencyStop           = errors.New("emergency stop engaged")
	ErrTokenIDExtractionFailed = errors.New("minted token id not found in receipt")
	ErrUnknownPosition         = errors.New("unknown position")
)

// IsSoft reports whether err only halts further creations in the current batch.
func IsSoft(err error) bool {
	return errors.Is(err, ErrInsufficientCollateral)
}
