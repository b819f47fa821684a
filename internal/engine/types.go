package engine

import (
	"errors"
	"time"

	"github.com/lnlrnzn/trumptrader/internal/risk"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

var (
	// ErrEntryNotFilled is returned when the entry order did not fill in time.
	ErrEntryNotFilled = errors.New("Entry order not filled")
	// ErrBusy is returned when another trade sequence holds the engine.
	ErrBusy = errors.New("Trade execution already in progress")
	// ErrHoldSignal is returned for HOLD decisions, which never trade.
	ErrHoldSignal = errors.New("Signal is HOLD")
)

// Signal is the classifier's call.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalHold  Signal = "HOLD"
)

// Valid reports whether s is one of LONG, SHORT or HOLD.
func (s Signal) Valid() bool {
	return s == SignalLong || s == SignalShort || s == SignalHold
}

// PositionSide maps LONG and SHORT onto the exchange direction.
func (s Signal) PositionSide() common.PositionSide {
	if s == SignalShort {
		return common.PositionShort
	}
	return common.PositionLong
}

// Decision is a classified trading signal.
type Decision struct {
	ID         string  `json:"id,omitempty"`
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Magnitude  string  `json:"magnitude,omitempty"`
	SourceID   string  `json:"source_id,omitempty"`
}

// Overrides replace engine config for one call. Nil or non-positive values
// fall back to config.
type Overrides struct {
	Symbols             []string `json:"symbols,omitempty"`
	PositionSizePercent *float64 `json:"position_size_percent,omitempty"`
	Leverage            *int     `json:"leverage,omitempty"`
}

// Result is the outcome of ExecuteTrade.
type Result struct {
	Success  bool      `json:"success"`
	Position *Position `json:"position,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// TradingConfig is the process-wide trading configuration.
type TradingConfig struct {
	Enabled                bool    `json:"enabled"`
	MaxPositionSizePercent float64 `json:"max_position_size_percent"`
	Leverage               int     `json:"leverage"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	CooldownMinutes        float64 `json:"cooldown_minutes"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
}

// DefaultTradingConfig matches the stock deployment.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		Enabled:                false,
		MaxPositionSizePercent: 15,
		Leverage:               100,
		MinConfidenceThreshold: 75,
		CooldownMinutes:        5,
		MaxDailyTrades:         10,
	}
}

// GateConfig extracts the risk gate thresholds.
func (c TradingConfig) GateConfig() risk.Config {
	return risk.Config{
		Enabled:                c.Enabled,
		MinConfidenceThreshold: c.MinConfidenceThreshold,
		CooldownMinutes:        c.CooldownMinutes,
		MaxDailyTrades:         c.MaxDailyTrades,
	}
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// ExitReason records why a position closed.
type ExitReason string

const (
	ExitTP1        ExitReason = "TP1"
	ExitTP2        ExitReason = "TP2"
	ExitTP3        ExitReason = "TP3"
	ExitSL         ExitReason = "SL"
	ExitLiquidated ExitReason = "LIQUIDATED"
	ExitManual     ExitReason = "MANUAL"
	ExitTime       ExitReason = "TIME_EXIT"
)

// Position is the engine's record of the one trade it manages.
type Position struct {
	ID            string              `json:"id"`
	Symbol        string              `json:"symbol"`
	Side          common.PositionSide `json:"side"`
	EntryPrice    float64             `json:"entry_price"`
	Quantity      float64             `json:"quantity"`
	PositionSize  float64             `json:"position_size"`
	Leverage      int                 `json:"leverage"`
	Margin        float64             `json:"margin"`
	Targets       sizing.Targets      `json:"targets"`
	TP1Hit        bool                `json:"tp1_hit"`
	TP2Hit        bool                `json:"tp2_hit"`
	TP3Hit        bool                `json:"tp3_hit"`
	MarkPrice     float64             `json:"mark_price"`
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	Status        PositionStatus      `json:"status"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	ExitPrice     *float64            `json:"exit_price,omitempty"`
	ExitReason    *ExitReason         `json:"exit_reason,omitempty"`
	RealizedPnL   *float64            `json:"realized_pnl,omitempty"`
	EntryOrderID  int64               `json:"entry_order_id"`
	ExitOrderIDs  []int64             `json:"exit_order_ids,omitempty"`
	DecisionID    string              `json:"decision_id,omitempty"`
	SourceID      string              `json:"source_id,omitempty"`
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p != nil && p.Status == PositionOpen
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		c.ExitPrice = &v
	}
	if p.ExitReason != nil {
		r := *p.ExitReason
		c.ExitReason = &r
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		c.RealizedPnL = &v
	}
	c.ExitOrderIDs = append([]int64(nil), p.ExitOrderIDs...)
	return &c
}

// Phase is the execution state machine position.
type Phase string

const (
	PhaseIdle                    Phase = "IDLE"
	PhaseGateCheck               Phase = "GATE_CHECK"
	PhaseSizing                  Phase = "SIZING"
	PhasePricing                 Phase = "PRICING"
	PhaseEntrySubmitted          Phase = "ENTRY_SUBMITTED"
	PhaseEntryFilled             Phase = "ENTRY_FILLED"
	PhaseExitsPlaced             Phase = "EXITS_PLACED"
	PhaseOpen                    Phase = "OPEN"
	PhaseFailed                  Phase = "FAILED"
	PhaseEmergencyCloseAttempted Phase = "EMERGENCY_CLOSE_ATTEMPTED"
)

// TradeEvent is published on trade.executed and trade.failed.
type TradeEvent struct {
	Decision Decision `json:"decision"`
	Result   Result   `json:"result"`
	Symbol   string   `json:"symbol,omitempty"`
	Phase    Phase    `json:"phase"`
	Latency  int64    `json:"latency_ms"`
}

// OrderEvent is published on order.submitted.
type OrderEvent struct {
	PositionID string        `json:"position_id,omitempty"`
	DecisionID string        `json:"decision_id,omitempty"`
	Role       string        `json:"role"` // ENTRY, TP1, TP2, TP3, SL, CLOSE
	Order      *common.Order `json:"order"`
}

// DenialEvent is published on risk.denied.
type DenialEvent struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Stats is the engine status snapshot.
type Stats struct {
	Phase    Phase         `json:"phase"`
	Position *Position     `json:"position,omitempty"`
	Risk     risk.Metrics  `json:"risk"`
	Config   TradingConfig `json:"config"`
}
