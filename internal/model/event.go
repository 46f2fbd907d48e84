package model

import "time"

// EventType names an agent event.
type EventType string

const (
	EventPositionCreated         EventType = "positionCreated"
	EventPositionClosed          EventType = "positionClosed"
	EventPositionNeedsAdjustment EventType = "positionNeedsAdjustment"
	EventError                   EventType = "error"
)

// Event is emitted for logging and alerting consumers.
type Event struct {
	Type         EventType          `json:"type"`
	Timestamp    time.Time          `json:"timestamp"`
	MarketID     uint64             `json:"market_id"`
	Position     *LiquidityPosition `json:"position,omitempty"`
	TxHash       string             `json:"tx_hash,omitempty"`
	CurrentPrice float64            `json:"current_price,omitempty"`
	Error        string             `json:"error,omitempty"`
}
