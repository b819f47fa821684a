package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
)

// EmergencyClose cancels every open order for the position's symbol and
// market-closes it. It is a no-op when no position is open, so it is safe to
// call repeatedly.
func (e *Engine) EmergencyClose(ctx context.Context) error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	e.mu.RLock()
	pos := e.position.Clone()
	e.mu.RUnlock()
	if !pos.IsOpen() {
		return nil
	}

	log := e.log.WithFields(logrus.Fields{"position_id": pos.ID, "symbol": pos.Symbol})
	log.Warn("emergency close requested")

	if err := e.exchange.CancelAllOrders(ctx, pos.Symbol); err != nil {
		log.WithError(err).Error("cancel open orders failed, closing anyway")
	}
	order, err := e.exchange.ClosePosition(ctx, pos.Symbol, pos.Side)
	if err != nil {
		return fmt.Errorf("close position %s: %w", pos.Symbol, err)
	}
	e.publishOrder(pos.DecisionID, pos.ID, "CLOSE", order)

	exit := pos.MarkPrice
	if order != nil && order.AvgPrice > 0 {
		exit = order.AvgPrice
	} else if px, err := e.exchange.GetCurrentPrice(ctx, pos.Symbol); err == nil && px > 0 {
		exit = px
	}
	e.closePosition(pos.ID, exit, ExitManual, PositionClosed)
	return nil
}

// closeInflight cleans up after a failed sequence whose entry may have reached
// the exchange. The exchange is asked whether a position materialised; when it
// did not, only resting orders are cancelled.
func (e *Engine) closeInflight(ctx context.Context) error {
	e.mu.RLock()
	in := e.inflight
	e.mu.RUnlock()
	if in == nil {
		return e.EmergencyClose(ctx)
	}

	log := e.log.WithFields(logrus.Fields{"symbol": in.symbol, "order_id": in.orderID})
	live, err := e.exchange.GetPosition(ctx, in.symbol)
	if err != nil {
		log.WithError(err).Warn("position lookup failed during cleanup, closing blind")
	}

	if cerr := e.exchange.CancelAllOrders(ctx, in.symbol); cerr != nil {
		log.WithError(cerr).Error("cancel open orders failed")
	}
	if err == nil && (live == nil || live.Amount == 0) {
		log.Info("no position materialised, nothing to close")
		return nil
	}

	side := in.side
	if live != nil && live.Side != "" {
		side = live.Side
	}
	order, cerr := e.exchange.ClosePosition(ctx, in.symbol, side)
	if cerr != nil {
		return fmt.Errorf("close position %s: %w", in.symbol, cerr)
	}
	e.publishOrder("", "", "CLOSE", order)
	log.Warn("partial entry closed")
	return nil
}

// closePosition marks the open position closed and publishes it.
func (e *Engine) closePosition(id string, exitPrice float64, reason ExitReason, status PositionStatus) *Position {
	e.mu.Lock()
	pos := e.position
	if !pos.IsOpen() || pos.ID != id {
		e.mu.Unlock()
		return nil
	}
	now := e.clock.Now()
	pnl := sizing.CalculatePnL(pos.Side, pos.EntryPrice, exitPrice, pos.PositionSize, pos.Margin)
	pos.Status = status
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	pos.ExitReason = &reason
	pos.RealizedPnL = &pnl.Amount
	pos.MarkPrice = exitPrice
	pos.UnrealizedPnL = 0
	if e.phase == PhaseOpen {
		e.phase = PhaseIdle
	}
	closed := pos.Clone()
	e.mu.Unlock()

	e.bus.Publish(events.EventPositionClosed, closed)
	e.log.WithFields(logrus.Fields{
		"position_id": closed.ID,
		"symbol":      closed.Symbol,
		"exit_price":  exitPrice,
		"exit_reason": reason,
		"pnl":         pnl.Amount,
	}).Info("position closed")
	return closed
}
