package model

import "time"

// SignalSource identifies where a probability estimate came from.
type SignalSource string

const (
	SignalSourceOracle      SignalSource = "oracle"
	SignalSourceAttestation SignalSource = "attestation"
)

// Signal is a probability estimate for a market's YES outcome.
type Signal struct {
	MarketID    uint64       `json:"market_id"`
	Probability float64      `json:"probability"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Source      SignalSource `json:"source"`
	Ref         string       `json:"ref,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}
