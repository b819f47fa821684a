// Package reconciliation keeps the engine's open position in step with the
// exchange: it feeds mark prices in and closes the position locally once the
// exchange reports it flat.
package reconciliation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Exchange is what reconciliation reads from the venue.
type Exchange interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (*common.PositionInfo, error)
}

// Tracker is the engine surface reconciliation drives.
type Tracker interface {
	CurrentPosition() *engine.Position
	ApplyMark(mark float64) *engine.Position
	CloseExternally(exitPrice float64, reason engine.ExitReason) *engine.Position
}

// Report contains the result of one pass.
type Report struct {
	Timestamp   time.Time         `json:"timestamp"`
	PositionID  string            `json:"position_id,omitempty"`
	Symbol      string            `json:"symbol,omitempty"`
	MarkPrice   float64           `json:"mark_price,omitempty"`
	LocalQty    float64           `json:"local_qty"`
	ExchangeQty float64           `json:"exchange_qty"`
	Difference  float64           `json:"difference"`
	Closed      bool              `json:"closed"`
	ExitReason  engine.ExitReason `json:"exit_reason,omitempty"`
	Idle        bool              `json:"idle"`
}

// Service handles periodic reconciliation.
type Service struct {
	exchange Exchange
	tracker  Tracker
	interval time.Duration
	log      *logrus.Logger
	now      func() time.Time

	mu   sync.Mutex
	last *Report
}

// NewService creates a reconciliation service. interval <= 0 means 5s.
func NewService(exchange Exchange, tracker Tracker, interval time.Duration, logger *logrus.Logger) *Service {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		exchange: exchange,
		tracker:  tracker,
		interval: interval,
		log:      logger,
		now:      time.Now,
	}
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					s.log.WithError(err).Warn("reconciliation failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.WithField("interval", s.interval.String()).Info("reconciliation service started")
}

// Reconcile performs one pass. Nothing happens while no position is open.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now()}
	pos := s.tracker.CurrentPosition()
	if !pos.IsOpen() {
		report.Idle = true
		s.last = report
		return report, nil
	}
	report.PositionID = pos.ID
	report.Symbol = pos.Symbol
	report.LocalQty = pos.Quantity

	mark, err := s.exchange.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	report.MarkPrice = mark
	if updated := s.tracker.ApplyMark(mark); updated != nil {
		pos = updated
	}

	live, err := s.exchange.GetPosition(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	if live != nil {
		report.ExchangeQty = math.Abs(live.Amount)
		if live.MarkPrice > 0 {
			report.MarkPrice = live.MarkPrice
		}
	}
	report.Difference = report.LocalQty - report.ExchangeQty

	if live == nil || live.Amount == 0 {
		reason := InferExitReason(pos, report.MarkPrice)
		if closed := s.tracker.CloseExternally(report.MarkPrice, reason); closed != nil {
			report.Closed = true
			report.ExitReason = reason
		}
	}

	s.handleReport(report)
	s.last = report
	return report, nil
}

// LastReport returns the most recent pass, or nil before the first one.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

func (s *Service) handleReport(r *Report) {
	fields := logrus.Fields{
		"position_id":  r.PositionID,
		"symbol":       r.Symbol,
		"mark":         r.MarkPrice,
		"local_qty":    r.LocalQty,
		"exchange_qty": r.ExchangeQty,
	}
	switch {
	case r.Closed:
		s.log.WithFields(fields).WithField("exit_reason", r.ExitReason).Info("exchange closed position")
	case math.Abs(r.Difference) > 1e-9:
		s.log.WithFields(fields).Info("position partially reduced on exchange")
	default:
		s.log.WithFields(fields).Debug("position in sync")
	}
}

// InferExitReason names the exit that most plausibly flattened pos at mark:
// liquidation, then stop-loss, then the furthest take-profit reached.
func InferExitReason(pos *engine.Position, mark float64) engine.ExitReason {
	t := pos.Targets
	switch {
	case mark > 0 && sizing.IsStopHit(pos.Side, t.Liq, mark):
		return engine.ExitLiquidated
	case mark > 0 && sizing.IsStopHit(pos.Side, t.SL, mark):
		return engine.ExitSL
	case pos.TP3Hit || (mark > 0 && sizing.IsTargetHit(pos.Side, t.TP3, mark)):
		return engine.ExitTP3
	case pos.TP2Hit || (mark > 0 && sizing.IsTargetHit(pos.Side, t.TP2, mark)):
		return engine.ExitTP2
	case pos.TP1Hit || (mark > 0 && sizing.IsTargetHit(pos.Side, t.TP1, mark)):
		return engine.ExitTP1
	}
	return engine.ExitManual
}
