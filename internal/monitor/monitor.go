package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/order"
)

// Monitor watches events, updates metrics and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Sink    AlertSink
	Log     *logrus.Logger
}

// Start consumes the bus until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		return
	}
	stream, unsub := m.Bus.SubscribeAll(events.AllEvents, 256)
	go func() {
		defer unsub()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Metrics.BusDropped.Set(float64(m.Bus.Dropped()))
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.Observe(msg)
			}
		}
	}()
}

// Observe applies one event to the metrics.
func (m *Monitor) Observe(msg events.Message) {
	switch p := msg.Payload.(type) {
	case order.Signal:
		m.Metrics.Signals.WithLabelValues(string(p.Decision.Signal)).Inc()
	case engine.DenialEvent:
		m.Metrics.RiskDenials.Inc()
	case engine.OrderEvent:
		if p.Order != nil {
			m.Metrics.Orders.WithLabelValues(p.Role, string(p.Order.Side)).Inc()
		}
	case engine.TradeEvent:
		m.Metrics.TradeLatency.Observe(float64(p.Latency) / 1000)
		if p.Result.Success {
			m.Metrics.Trades.WithLabelValues("executed").Inc()
			m.Metrics.PositionOpen.Set(1)
			return
		}
		m.Metrics.Trades.WithLabelValues("failed").Inc()
		m.alert(fmt.Sprintf("trade failed on %s: %s", p.Symbol, p.Result.Error))
	case *engine.Position:
		m.observePosition(msg.Topic, p)
	}
}

func (m *Monitor) observePosition(topic events.Event, p *engine.Position) {
	if p == nil {
		return
	}
	if topic == events.EventPositionUpdate {
		if p.IsOpen() {
			m.Metrics.PositionOpen.Set(1)
		}
		m.Metrics.UnrealizedPnL.Set(p.UnrealizedPnL)
		return
	}
	if topic != events.EventPositionClosed {
		return
	}

	m.Metrics.PositionOpen.Set(0)
	m.Metrics.UnrealizedPnL.Set(0)
	reason := "UNKNOWN"
	if p.ExitReason != nil {
		reason = string(*p.ExitReason)
	}
	m.Metrics.Exits.WithLabelValues(reason, string(p.Side)).Inc()
	if p.RealizedPnL != nil {
		if pnl := *p.RealizedPnL; pnl >= 0 {
			m.Metrics.RealizedPnL.Add(pnl)
		} else {
			m.Metrics.RealizedLoss.Add(-pnl)
		}
	}
	if p.Status == engine.PositionLiquidated {
		m.alert(fmt.Sprintf("position %s on %s liquidated", p.ID, p.Symbol))
	}
}

func (m *Monitor) alert(msg string) {
	if m.Sink == nil {
		return
	}
	if err := m.Sink.Send("[" + time.Now().Format(time.RFC3339) + "] " + msg); err != nil && m.Log != nil {
		m.Log.WithError(err).Warn("alert delivery failed")
	}
}
