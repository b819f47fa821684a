package risk

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Gate decides whether a new trade may start. It owns the cooldown clock and
// the daily trade counter.
type Gate struct {
	config Config
	now    func() time.Time
	log    *logrus.Logger

	lastTradeTime time.Time
	dailyTrades   int
	lastResetDate string
	checks        uint64
	rejections    uint64

	mu sync.Mutex
}

// NewGate creates a gate reading the given clock.
func NewGate(cfg Config, now func() time.Time, logger *logrus.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{
		config:        cfg,
		now:           now,
		log:           logger,
		lastResetDate: now().Format(dateLayout),
	}
}

// CanTrade evaluates, in order: the enabled flag, the confidence threshold, the
// single open position rule, the cooldown and the daily limit. The first
// failing check decides.
func (g *Gate) CanTrade(confidence float64, positionOpen bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checks++
	dec := g.evaluate(confidence, positionOpen)
	if !dec.Allowed {
		g.rejections++
		g.log.WithFields(logrus.Fields{
			"confidence": confidence,
			"reason":     dec.Reason,
		}).Info("trade denied by risk gate")
	}
	return dec
}

func (g *Gate) evaluate(confidence float64, positionOpen bool) Decision {
	cfg := g.config
	now := g.now()

	if !cfg.Enabled {
		return Decision{Reason: "Trading is disabled"}
	}

	if confidence < cfg.MinConfidenceThreshold {
		return Decision{Reason: fmt.Sprintf("Confidence %s%% below threshold %s%%",
			formatNumber(confidence), formatNumber(cfg.MinConfidenceThreshold))}
	}

	if positionOpen {
		return Decision{Reason: "Position already open"}
	}

	if !g.lastTradeTime.IsZero() {
		cooldown := time.Duration(cfg.CooldownMinutes * float64(time.Minute))
		if elapsed := now.Sub(g.lastTradeTime); elapsed < cooldown {
			remaining := math.Ceil((cooldown - elapsed).Seconds())
			return Decision{Reason: fmt.Sprintf("Cooldown active: %ds remaining", int64(remaining))}
		}
	}

	g.resetIfNewDay(now)
	if g.dailyTrades >= cfg.MaxDailyTrades {
		return Decision{Reason: fmt.Sprintf("Daily trade limit reached (%d)", cfg.MaxDailyTrades)}
	}

	return Decision{Allowed: true}
}

func (g *Gate) resetIfNewDay(now time.Time) {
	today := now.Format(dateLayout)
	if today == g.lastResetDate {
		return
	}
	g.log.WithFields(logrus.Fields{
		"previous_date": g.lastResetDate,
		"daily_trades":  g.dailyTrades,
	}).Info("daily trade counter reset")
	g.dailyTrades = 0
	g.lastResetDate = today
}

// RecordTrade stamps a successful execution.
func (g *Gate) RecordTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.resetIfNewDay(now)
	g.lastTradeTime = now
	g.dailyTrades++
}

// ResetDailyMetrics zeroes the daily counter.
func (g *Gate) ResetDailyMetrics() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyTrades = 0
	g.lastResetDate = g.now().Format(dateLayout)
}

// GetConfig returns a copy of the current config.
func (g *Gate) GetConfig() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}

// UpdateConfig replaces the thresholds. Counters are kept.
func (g *Gate) UpdateConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config = cfg
}

// GetMetrics returns the current gate state.
func (g *Gate) GetMetrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := Metrics{
		LastTradeTime:   g.lastTradeTime,
		DailyTrades:     g.dailyTrades,
		LastResetDate:   g.lastResetDate,
		ChecksTotal:     g.checks,
		RejectionsTotal: g.rejections,
	}
	if !g.lastTradeTime.IsZero() {
		cooldown := time.Duration(g.config.CooldownMinutes * float64(time.Minute))
		if left := cooldown - g.now().Sub(g.lastTradeTime); left > 0 {
			m.CooldownRemaining = math.Ceil(left.Seconds())
		}
	}
	return m
}

// formatNumber prints 75 as "75" and 72.5 as "72.5".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
