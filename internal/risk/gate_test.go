package risk

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGate(cfg Config) (*Gate, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 20, 12, 0, 0, 0, time.Local)}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewGate(cfg, clock.Now, logger), clock
}

func enabledConfig() Config {
	return Config{Enabled: true, MinConfidenceThreshold: 75, CooldownMinutes: 5, MaxDailyTrades: 2}
}

func TestCanTradeCheckOrder(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		confidence   float64
		positionOpen bool
		want         Decision
	}{
		{
			name:       "disabled wins over everything",
			cfg:        Config{Enabled: false, MinConfidenceThreshold: 75, MaxDailyTrades: 10},
			confidence: 100,
			want:       Decision{Reason: "Trading is disabled"},
		},
		{
			name:         "confidence before open position",
			cfg:          enabledConfig(),
			confidence:   72.5,
			positionOpen: true,
			want:         Decision{Reason: "Confidence 72.5% below threshold 75%"},
		},
		{
			name:         "open position",
			cfg:          enabledConfig(),
			confidence:   90,
			positionOpen: true,
			want:         Decision{Reason: "Position already open"},
		},
		{
			name:       "allowed",
			cfg:        enabledConfig(),
			confidence: 75,
			want:       Decision{Allowed: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(tt.cfg)
			if got := g.CanTrade(tt.confidence, tt.positionOpen); got != tt.want {
				t.Fatalf("CanTrade=%+v, expected %+v", got, tt.want)
			}
		})
	}
}

func TestCooldownWindow(t *testing.T) {
	g, clock := newTestGate(enabledConfig())
	g.RecordTrade()

	clock.Advance(4*time.Minute + 30*time.Second + 500*time.Millisecond)
	got := g.CanTrade(90, false)
	if got.Allowed || got.Reason != "Cooldown active: 30s remaining" {
		t.Fatalf("inside cooldown: %+v", got)
	}

	clock.Advance(29*time.Second + 500*time.Millisecond)
	if got := g.CanTrade(90, false); !got.Allowed {
		t.Fatalf("exactly at expiry should be allowed, got %+v", got)
	}
}

func TestDailyLimitResetsOnNewDate(t *testing.T) {
	cfg := enabledConfig()
	cfg.CooldownMinutes = 0
	g, clock := newTestGate(cfg)

	g.RecordTrade()
	g.RecordTrade()
	got := g.CanTrade(90, false)
	if got.Allowed || got.Reason != "Daily trade limit reached (2)" {
		t.Fatalf("limit: %+v", got)
	}

	clock.Advance(13 * time.Hour)
	if got := g.CanTrade(90, false); !got.Allowed {
		t.Fatalf("new day should reset the counter, got %+v", got)
	}
	if m := g.GetMetrics(); m.DailyTrades != 0 || m.LastResetDate != clock.now.Format(dateLayout) {
		t.Fatalf("metrics after reset %+v", m)
	}
}

func TestMetricsAndConfigUpdate(t *testing.T) {
	g, clock := newTestGate(enabledConfig())
	g.CanTrade(10, false)
	g.RecordTrade()
	clock.Advance(time.Minute)

	m := g.GetMetrics()
	if m.ChecksTotal != 1 || m.RejectionsTotal != 1 || m.DailyTrades != 1 {
		t.Fatalf("metrics %+v", m)
	}
	if m.CooldownRemaining != 240 {
		t.Fatalf("CooldownRemaining=%v, expected 240", m.CooldownRemaining)
	}

	cfg := g.GetConfig()
	cfg.Enabled = false
	g.UpdateConfig(cfg)
	if got := g.CanTrade(99, false); got.Reason != "Trading is disabled" {
		t.Fatalf("after disabling: %+v", got)
	}
	if g.GetMetrics().DailyTrades != 1 {
		t.Fatalf("config update must keep counters")
	}
}
