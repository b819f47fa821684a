package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPositionSize(t *testing.T) {
	got := PositionSize(10000, 15, 100)
	if got.PositionSize != 1500 || got.Margin != 15 {
		t.Fatalf("PositionSize=%+v, expected {1500 15}", got)
	}
}

func TestCalculateTargets(t *testing.T) {
	tests := []struct {
		name string
		side common.PositionSide
		want Targets
	}{
		{
			name: "long",
			side: common.PositionLong,
			want: Targets{TP1: 100300, TP2: 100500, TP3: 100800, SL: 99400, Liq: 99000},
		},
		{
			name: "short",
			side: common.PositionShort,
			want: Targets{TP1: 99700, TP2: 99500, TP3: 99200, SL: 100600, Liq: 101000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTargets(100000, tt.side)
			if !approx(got.TP1, tt.want.TP1) || !approx(got.TP2, tt.want.TP2) || !approx(got.TP3, tt.want.TP3) ||
				!approx(got.SL, tt.want.SL) || !approx(got.Liq, tt.want.Liq) {
				t.Fatalf("CalculateTargets=%+v, expected %+v", got, tt.want)
			}
		})
	}
}

func TestValidateTradeParams(t *testing.T) {
	tests := []struct {
		name   string
		params TradeParams
		reason string
	}{
		{name: "ok", params: TradeParams{Balance: 10000, PositionSize: 1500, Leverage: 100, Confidence: 90}},
		{name: "zero balance", params: TradeParams{Balance: 0, PositionSize: 0, Leverage: 10, Confidence: 90}, reason: "Insufficient balance"},
		{name: "oversized", params: TradeParams{Balance: 100, PositionSize: 150, Leverage: 10, Confidence: 90}, reason: "Position size exceeds available balance"},
		{name: "leverage low", params: TradeParams{Balance: 100, PositionSize: 10, Leverage: 0, Confidence: 90}, reason: "Invalid leverage (must be 1-125x)"},
		{name: "leverage high", params: TradeParams{Balance: 100, PositionSize: 10, Leverage: 126, Confidence: 90}, reason: "Invalid leverage (must be 1-125x)"},
		{name: "confidence", params: TradeParams{Balance: 100, PositionSize: 10, Leverage: 5, Confidence: 101}, reason: "Invalid confidence score"},
		{name: "negative confidence", params: TradeParams{Balance: 100, PositionSize: 10, Leverage: 5, Confidence: -1}, reason: "Invalid confidence score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTradeParams(tt.params)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Reason != tt.reason {
				t.Fatalf("error=%v, expected %q", err, tt.reason)
			}
		})
	}
}

func TestPrecisionFloorAndRound(t *testing.T) {
	p := DefaultPrecision()
	if got := p.FloorQty(1500.0 / 100000.0); got != 0.015 {
		t.Fatalf("FloorQty=%v, expected 0.015", got)
	}
	if got := p.FloorQty(0.0159); got != 0.015 {
		t.Fatalf("FloorQty floors: got %v", got)
	}
	if got := p.FloorQty(0.0009); got != 0 {
		t.Fatalf("FloorQty below step=%v, expected 0", got)
	}
	if got := p.RoundPrice(100350.155); got != 100350.16 {
		t.Fatalf("RoundPrice=%v, expected 100350.16", got)
	}
}

func TestTranches(t *testing.T) {
	fine, err := NewPrecision("0.0001", "0.01")
	if err != nil {
		t.Fatalf("NewPrecision: %v", err)
	}
	got := fine.Tranches(0.015)
	want := [3]float64{0.0045, 0.0075, 0.003}
	if got != want {
		t.Fatalf("Tranches=%v, expected %v", got, want)
	}

	coarse := DefaultPrecision().Tranches(0.015)
	if coarse != [3]float64{0.004, 0.007, 0.003} {
		t.Fatalf("coarse Tranches=%v", coarse)
	}

	tiny := DefaultPrecision().Tranches(0.002)
	if tiny[0] != 0 || tiny[1] != 0.001 || tiny[2] != 0 {
		t.Fatalf("tiny Tranches=%v", tiny)
	}
}

func TestFromFilters(t *testing.T) {
	p := FromFilters(&common.SymbolFilters{StepSize: "0.01", TickSize: "0.5", MinQty: "0.02"})
	if got := p.FloorQty(0.019); got != 0 {
		t.Fatalf("below MinQty should floor to zero, got %v", got)
	}
	if got := p.FloorQty(1.239); got != 1.23 {
		t.Fatalf("FloorQty=%v, expected 1.23", got)
	}
	if got := p.RoundPrice(100.74); got != 100.5 {
		t.Fatalf("RoundPrice=%v, expected 100.5", got)
	}
	if _, err := NewPrecision("0", "0.01"); err == nil {
		t.Fatalf("expected error for zero step")
	}
}

func TestCalculatePnL(t *testing.T) {
	long := CalculatePnL(common.PositionLong, 100000, 100300, 1500, 15)
	if !approx(long.Amount, 4.5) || !approx(long.Percent, 30) {
		t.Fatalf("long pnl=%+v", long)
	}
	short := CalculatePnL(common.PositionShort, 100000, 100300, 1500, 15)
	if !approx(short.Amount, -4.5) {
		t.Fatalf("short pnl=%+v", short)
	}
	if !IsTargetHit(common.PositionShort, 99700, 99650) || IsTargetHit(common.PositionLong, 100300, 100299) {
		t.Fatalf("IsTargetHit mismatch")
	}
	if !IsStopHit(common.PositionLong, 99400, 99400) || IsStopHit(common.PositionShort, 100600, 100500) {
		t.Fatalf("IsStopHit mismatch")
	}
}
