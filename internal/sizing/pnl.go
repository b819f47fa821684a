package sizing

import (
	"math"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// PnL is the unrealized profit of a notional position, absolute in USDT and
// as a percent of margin.
type PnL struct {
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`
}

// CalculatePnL marks a position of notional size at mark.
func CalculatePnL(side common.PositionSide, entry, mark, positionSize, margin float64) PnL {
	if entry <= 0 {
		return PnL{}
	}
	move := (mark - entry) / entry * side.Multiplier()
	amount := positionSize * move
	var pct float64
	if margin > 0 {
		pct = amount / margin * 100
	}
	return PnL{Amount: amount, Percent: pct}
}

// IsTargetHit reports whether mark has reached a take-profit target.
func IsTargetHit(side common.PositionSide, target, mark float64) bool {
	if side == common.PositionShort {
		return mark <= target
	}
	return mark >= target
}

// IsStopHit reports whether mark has crossed the stop (or liquidation) level.
func IsStopHit(side common.PositionSide, stop, mark float64) bool {
	if side == common.PositionShort {
		return mark >= stop
	}
	return mark <= stop
}

// DistanceToLiquidation is the percent move from mark to liq.
func DistanceToLiquidation(mark, liq float64) float64 {
	if mark <= 0 {
		return 0
	}
	return math.Abs(mark-liq) / mark * 100
}
