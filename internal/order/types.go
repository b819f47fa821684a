package order

import (
	"time"

	"github.com/lnlrnzn/trumptrader/internal/engine"
)

// Signal is one trade request waiting for the engine. RawConfidence is the
// classifier's score before any account adjustment.
type Signal struct {
	ID            string           `json:"id"`
	Decision      engine.Decision  `json:"decision"`
	Overrides     engine.Overrides `json:"overrides"`
	Account       string           `json:"account,omitempty"`
	RawConfidence float64          `json:"raw_confidence"`
	ReceivedAt    time.Time        `json:"received_at"`
}

// ExecutionResult represents the outcome of one dispatched signal.
type ExecutionResult struct {
	SignalID  string        `json:"signal_id"`
	Result    engine.Result `json:"result"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}
