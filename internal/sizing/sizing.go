// Package sizing turns account balance and risk settings into order sizes and
// exit prices.
package sizing

import (
	"fmt"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Fixed exit offsets from entry, calibrated for the high leverage tier.
const (
	TP1Offset = 0.003
	TP2Offset = 0.005
	TP3Offset = 0.008
	SLOffset  = 0.006
	LiqOffset = 0.01

	MinLeverage = 1
	MaxLeverage = 125
)

// Size is the notional and margin of a planned position, in USDT.
type Size struct {
	PositionSize float64 `json:"position_size"`
	Margin       float64 `json:"margin"`
}

// PositionSize sizes a position as riskPercent of balance. No rounding here.
func PositionSize(balance, riskPercent float64, leverage int) Size {
	size := balance * riskPercent / 100
	var margin float64
	if leverage > 0 {
		margin = size / float64(leverage)
	}
	return Size{PositionSize: size, Margin: margin}
}

// Targets are the derived exit prices for one entry.
type Targets struct {
	TP1 float64 `json:"tp1"`
	TP2 float64 `json:"tp2"`
	TP3 float64 `json:"tp3"`
	SL  float64 `json:"sl"`
	Liq float64 `json:"liq"`
}

// TakeProfits returns TP1..TP3 in order.
func (t Targets) TakeProfits() [3]float64 {
	return [3]float64{t.TP1, t.TP2, t.TP3}
}

// CalculateTargets derives exits from entry for the given direction.
func CalculateTargets(entry float64, side common.PositionSide) Targets {
	m := side.Multiplier()
	return Targets{
		TP1: entry * (1 + m*TP1Offset),
		TP2: entry * (1 + m*TP2Offset),
		TP3: entry * (1 + m*TP3Offset),
		SL:  entry * (1 - m*SLOffset),
		Liq: entry * (1 - m*LiqOffset),
	}
}

// TradeParams is what ValidateTradeParams checks before any order goes out.
type TradeParams struct {
	Balance      float64
	PositionSize float64
	Leverage     int
	Confidence   float64
}

// ValidationError rejects a trade before it reaches the exchange.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidateTradeParams returns a *ValidationError for the first bad input.
func ValidateTradeParams(p TradeParams) error {
	switch {
	case p.Balance <= 0:
		return &ValidationError{Reason: "Insufficient balance"}
	case p.PositionSize > p.Balance:
		return &ValidationError{Reason: "Position size exceeds available balance"}
	case p.Leverage < MinLeverage || p.Leverage > MaxLeverage:
		return &ValidationError{Reason: fmt.Sprintf("Invalid leverage (must be %d-%dx)", MinLeverage, MaxLeverage)}
	case p.Confidence < 0 || p.Confidence > 100:
		return &ValidationError{Reason: "Invalid confidence score"}
	}
	return nil
}
