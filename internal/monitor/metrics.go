package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the trading core's Prometheus collectors on a private
// registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Signals       *prometheus.CounterVec
	RiskDenials   prometheus.Counter
	Orders        *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	PositionOpen  prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	RealizedPnL   prometheus.Counter
	RealizedLoss  prometheus.Counter
	TradeLatency  prometheus.Histogram
	BusDropped    prometheus.Gauge
	APIRequests   *prometheus.CounterVec
	APILatency    prometheus.Histogram
}

// NewMetrics creates and registers every collector, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals accepted by the dispatcher",
		}, []string{"signal"}),
		RiskDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_risk_denials_total",
			Help: "Signals denied by the risk gate",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders submitted, by role and side",
		}, []string{"role", "side"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Trade sequences by result (executed|failed)",
		}, []string{"result"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exit_reasons_total",
			Help: "Closed positions split by exit reason and side",
		}, []string{"reason", "side"}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_position_open",
			Help: "1 while a position is open",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_unrealized_pnl_usdt",
			Help: "Unrealised PnL of the open position",
		}),
		RealizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_realized_profit_usdt_total",
			Help: "Sum of realised profit over winning positions",
		}),
		RealizedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_realized_loss_usdt_total",
			Help: "Sum of realised loss over losing positions",
		}),
		TradeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_trade_latency_seconds",
			Help:    "Time from gate check to committed position or failure",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		BusDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_event_bus_dropped",
			Help: "Event deliveries skipped because a subscriber was full",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_api_requests_total",
			Help: "HTTP API requests by method and status code",
		}, []string{"method", "code"}),
		APILatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_api_latency_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.Signals, m.RiskDenials, m.Orders, m.Trades, m.Exits,
		m.PositionOpen, m.UnrealizedPnL, m.RealizedPnL, m.RealizedLoss,
		m.TradeLatency, m.BusDropped, m.APIRequests, m.APILatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register adds extra collectors, such as exchange weight gauges.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
