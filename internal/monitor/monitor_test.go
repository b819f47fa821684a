package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

type recordingSink struct {
	messages []string
}

func (s *recordingSink) Send(msg string) error {
	s.messages = append(s.messages, msg)
	return nil
}

func TestObserveUpdatesMetrics(t *testing.T) {
	sink := &recordingSink{}
	m := &Monitor{Metrics: NewMetrics(), Sink: sink}

	m.Observe(events.Message{Topic: events.EventSignalReceived, Payload: order.Signal{
		Decision: engine.Decision{Signal: engine.SignalLong},
	}})
	m.Observe(events.Message{Topic: events.EventRiskDenied, Payload: engine.DenialEvent{Reason: "Position already open"}})
	m.Observe(events.Message{Topic: events.EventOrderSubmitted, Payload: engine.OrderEvent{
		Role: "ENTRY", Order: &common.Order{Side: common.SideBuy},
	}})
	m.Observe(events.Message{Topic: events.EventTradeExecuted, Payload: engine.TradeEvent{
		Result: engine.Result{Success: true}, Latency: 1200,
	}})
	m.Observe(events.Message{Topic: events.EventTradeFailed, Payload: engine.TradeEvent{
		Symbol: "BTCUSDT", Result: engine.Result{Error: "Entry order not filled"},
	}})

	if got := testutil.ToFloat64(m.Metrics.Signals.WithLabelValues("LONG")); got != 1 {
		t.Fatalf("signals=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.Metrics.RiskDenials); got != 1 {
		t.Fatalf("denials=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.Metrics.Orders.WithLabelValues("ENTRY", "BUY")); got != 1 {
		t.Fatalf("orders=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.Metrics.Trades.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed trades=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.Metrics.PositionOpen); got != 1 {
		t.Fatalf("position_open=%v, expected 1", got)
	}
	if len(sink.messages) != 1 || !strings.Contains(sink.messages[0], "Entry order not filled") {
		t.Fatalf("unexpected alerts %v", sink.messages)
	}

	reason := engine.ExitLiquidated
	loss := -15.0
	m.Observe(events.Message{Topic: events.EventPositionClosed, Payload: &engine.Position{
		ID: "p-1", Symbol: "BTCUSDT", Side: common.PositionLong,
		Status: engine.PositionLiquidated, ExitReason: &reason, RealizedPnL: &loss,
	}})
	if got := testutil.ToFloat64(m.Metrics.Exits.WithLabelValues("LIQUIDATED", "LONG")); got != 1 {
		t.Fatalf("exits=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.Metrics.RealizedLoss); got != 15 {
		t.Fatalf("realized loss=%v, expected 15", got)
	}
	if got := testutil.ToFloat64(m.Metrics.PositionOpen); got != 0 {
		t.Fatalf("position_open=%v, expected 0", got)
	}
	if len(sink.messages) != 2 {
		t.Fatalf("liquidation alert missing: %v", sink.messages)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Trades.WithLabelValues("executed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `trader_trades_total{result="executed"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}
