// Package persistence mirrors engine events into the sqlite store so that the
// engine never waits on disk.
package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/pkg/db"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Store is the subset of db.Queries the recorder writes through.
type Store interface {
	UpsertPosition(ctx context.Context, p db.Position) error
	CreateDecision(ctx context.Context, d db.Decision) error
	MarkDecisionExecuted(ctx context.Context, id string, executed bool, positionID, errMsg string) error
	CreateOrder(ctx context.Context, o db.Order) error
}

var recordedTopics = []events.Event{
	events.EventSignalReceived,
	events.EventRiskDenied,
	events.EventOrderSubmitted,
	events.EventTradeExecuted,
	events.EventTradeFailed,
	events.EventPositionUpdate,
	events.EventPositionClosed,
}

// RecorderMetrics counts store activity.
type RecorderMetrics struct {
	TotalWrites uint64 `json:"total_writes"`
	TotalErrors uint64 `json:"total_errors"`
}

// Recorder subscribes to the bus and persists what it sees.
type Recorder struct {
	store Store
	bus   *events.Bus
	log   *logrus.Logger

	writes atomic.Uint64
	errs   atomic.Uint64

	mu     sync.Mutex
	unsub  func()
	done   chan struct{}
	cancel context.CancelFunc
}

// NewRecorder creates a recorder; call Start to begin consuming.
func NewRecorder(store Store, bus *events.Bus, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{store: store, bus: bus, log: logger}
}

// Start subscribes and processes events until Stop or ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	stream, unsub := r.bus.SubscribeAll(recordedTopics, 256)
	ctx, cancel := context.WithCancel(ctx)
	r.unsub, r.cancel = unsub, cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				r.Handle(ctx, msg)
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	done, unsub, cancel := r.done, r.unsub, r.cancel
	r.mu.Unlock()
	if done == nil {
		return
	}
	unsub()
	cancel()
	<-done
}

// Metrics returns write and error counts.
func (r *Recorder) Metrics() RecorderMetrics {
	return RecorderMetrics{TotalWrites: r.writes.Load(), TotalErrors: r.errs.Load()}
}

// Handle persists one bus message. Exported for synchronous use in tests and
// replay tools.
func (r *Recorder) Handle(ctx context.Context, msg events.Message) {
	var err error
	switch p := msg.Payload.(type) {
	case order.Signal:
		err = r.store.CreateDecision(ctx, decisionRecord(p.Decision, p.Account, p.RawConfidence))
	case engine.DenialEvent:
		err = r.markDecision(ctx, p.Decision, false, "", p.Reason)
	case engine.TradeEvent:
		posID := ""
		if p.Result.Position != nil {
			posID = p.Result.Position.ID
		}
		err = r.markDecision(ctx, p.Decision, p.Result.Success, posID, p.Result.Error)
	case engine.OrderEvent:
		if p.Order != nil {
			err = r.store.CreateOrder(ctx, OrderRecord(p))
		}
	case *engine.Position:
		if p != nil {
			err = r.store.UpsertPosition(ctx, PositionRecord(p))
		}
	default:
		r.log.WithField("topic", msg.Topic).Debug("recorder ignoring payload")
		return
	}

	if err != nil {
		r.errs.Add(1)
		r.log.WithError(err).WithField("topic", msg.Topic).Error("persist event failed")
		return
	}
	r.writes.Add(1)
}

// markDecision stores an outcome, creating the decision row first when the
// outcome overtook the signal.received event.
func (r *Recorder) markDecision(ctx context.Context, d engine.Decision, executed bool, positionID, errMsg string) error {
	if d.ID == "" {
		return nil
	}
	err := r.store.MarkDecisionExecuted(ctx, d.ID, executed, positionID, errMsg)
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	rec := decisionRecord(d, "", d.Confidence)
	rec.Executed, rec.PositionID, rec.Error = executed, positionID, errMsg
	return r.store.CreateDecision(ctx, rec)
}

func decisionRecord(d engine.Decision, account string, raw float64) db.Decision {
	if raw == 0 {
		raw = d.Confidence
	}
	return db.Decision{
		ID:                 d.ID,
		Signal:             string(d.Signal),
		Confidence:         raw,
		AdjustedConfidence: d.Confidence,
		Reasoning:          d.Reasoning,
		Magnitude:          d.Magnitude,
		SourceID:           d.SourceID,
		Account:            account,
	}
}

// OrderRecord converts an order event into a store row.
func OrderRecord(ev engine.OrderEvent) db.Order {
	o := ev.Order
	return db.Order{
		OrderID:    o.OrderID,
		ClientID:   o.ClientOrderID,
		PositionID: ev.PositionID,
		DecisionID: ev.DecisionID,
		Role:       ev.Role,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Quantity:   o.Quantity,
		StopPrice:  o.StopPrice,
		AvgPrice:   o.AvgPrice,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
	}
}

// PositionRecord converts an engine position into a store row.
func PositionRecord(p *engine.Position) db.Position {
	rec := db.Position{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		PositionSize:  p.PositionSize,
		Leverage:      p.Leverage,
		Margin:        p.Margin,
		TP1:           p.Targets.TP1,
		TP2:           p.Targets.TP2,
		TP3:           p.Targets.TP3,
		SL:            p.Targets.SL,
		Liq:           p.Targets.Liq,
		TP1Hit:        p.TP1Hit,
		TP2Hit:        p.TP2Hit,
		TP3Hit:        p.TP3Hit,
		MarkPrice:     p.MarkPrice,
		UnrealizedPnL: p.UnrealizedPnL,
		Status:        string(p.Status),
		OpenedAt:      p.OpenedAt,
		ClosedAt:      p.ClosedAt,
		ExitPrice:     p.ExitPrice,
		RealizedPnL:   p.RealizedPnL,
		EntryOrderID:  p.EntryOrderID,
		DecisionID:    p.DecisionID,
		SourceID:      p.SourceID,
	}
	if p.ExitReason != nil {
		rec.ExitReason = string(*p.ExitReason)
	}
	return rec
}

// PositionFromRecord rebuilds an engine position from a store row, used to
// restore the open position after a restart.
func PositionFromRecord(rec *db.Position) *engine.Position {
	p := &engine.Position{
		ID:           rec.ID,
		Symbol:       rec.Symbol,
		Side:         common.PositionSide(rec.Side),
		EntryPrice:   rec.EntryPrice,
		Quantity:     rec.Quantity,
		PositionSize: rec.PositionSize,
		Leverage:     rec.Leverage,
		Margin:       rec.Margin,
		TP1Hit:       rec.TP1Hit,
		TP2Hit:       rec.TP2Hit,
		TP3Hit:       rec.TP3Hit,
		MarkPrice:    rec.MarkPrice,
		Status:       engine.PositionStatus(rec.Status),
		OpenedAt:     rec.OpenedAt,
		ClosedAt:     rec.ClosedAt,
		ExitPrice:    rec.ExitPrice,
		RealizedPnL:  rec.RealizedPnL,
		EntryOrderID: rec.EntryOrderID,
		DecisionID:   rec.DecisionID,
		SourceID:     rec.SourceID,
	}
	p.UnrealizedPnL = rec.UnrealizedPnL
	p.Targets.TP1, p.Targets.TP2, p.Targets.TP3 = rec.TP1, rec.TP2, rec.TP3
	p.Targets.SL, p.Targets.Liq = rec.SL, rec.Liq
	if rec.ExitReason != "" {
		reason := engine.ExitReason(rec.ExitReason)
		p.ExitReason = &reason
	}
	return p
}
