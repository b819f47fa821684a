package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
)

// ApplyMark updates the open position with a fresh mark price, recomputing
// unrealised PnL and latching take-profit hit flags. It returns the updated
// copy, or nil when nothing is open.
func (e *Engine) ApplyMark(mark float64) *Position {
	if mark <= 0 {
		return nil
	}
	e.mu.Lock()
	pos := e.position
	if !pos.IsOpen() {
		e.mu.Unlock()
		return nil
	}
	pos.MarkPrice = mark
	pos.UnrealizedPnL = sizing.CalculatePnL(pos.Side, pos.EntryPrice, mark, pos.PositionSize, pos.Margin).Amount

	var hits []string
	if !pos.TP1Hit && sizing.IsTargetHit(pos.Side, pos.Targets.TP1, mark) {
		pos.TP1Hit = true
		hits = append(hits, "TP1")
	}
	if !pos.TP2Hit && sizing.IsTargetHit(pos.Side, pos.Targets.TP2, mark) {
		pos.TP2Hit = true
		hits = append(hits, "TP2")
	}
	if !pos.TP3Hit && sizing.IsTargetHit(pos.Side, pos.Targets.TP3, mark) {
		pos.TP3Hit = true
		hits = append(hits, "TP3")
	}
	updated := pos.Clone()
	e.mu.Unlock()

	if len(hits) > 0 {
		e.log.WithFields(logrus.Fields{"position_id": updated.ID, "targets": hits, "mark": mark}).Info("targets hit")
	}
	e.bus.Publish(events.EventPositionUpdate, updated)
	return updated
}

// CloseExternally records that the exchange closed the position on its own,
// through a resting exit order or liquidation.
func (e *Engine) CloseExternally(exitPrice float64, reason ExitReason) *Position {
	e.mu.RLock()
	pos := e.position
	id := ""
	if pos.IsOpen() {
		id = pos.ID
	}
	e.mu.RUnlock()
	if id == "" {
		return nil
	}
	status := PositionClosed
	if reason == ExitLiquidated {
		status = PositionLiquidated
	}
	return e.closePosition(id, exitPrice, reason, status)
}

// RestorePosition installs a position loaded from the store after a restart.
// Closed positions and calls made while another position is open are ignored.
func (e *Engine) RestorePosition(p *Position) bool {
	if !p.IsOpen() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position.IsOpen() {
		return false
	}
	e.position = p.Clone()
	e.phase = PhaseOpen
	return true
}

// CurrentPosition returns a copy of the tracked position, open or most
// recently closed.
func (e *Engine) CurrentPosition() *Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position.Clone()
}

// Phase returns the current state machine phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Config returns the trading configuration in effect.
func (e *Engine) Config() TradingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// UpdateConfig swaps the trading configuration and the gate thresholds.
func (e *Engine) UpdateConfig(cfg TradingConfig) {
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
	e.gate.UpdateConfig(cfg.GateConfig())
	e.log.WithFields(logrus.Fields{
		"enabled":   cfg.Enabled,
		"leverage":  cfg.Leverage,
		"size_pct":  cfg.MaxPositionSizePercent,
		"min_conf":  cfg.MinConfidenceThreshold,
		"cooldown":  cfg.CooldownMinutes,
		"max_daily": cfg.MaxDailyTrades,
	}).Info("trading config updated")
}

// Stats snapshots phase, position, gate counters and config.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	s := Stats{Phase: e.phase, Position: e.position.Clone(), Config: e.config}
	e.mu.RUnlock()
	s.Risk = e.gate.GetMetrics()
	return s
}
