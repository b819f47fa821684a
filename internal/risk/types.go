package risk

import (
	"time"
)

// Config holds the gate thresholds.
type Config struct {
	Enabled                bool    `json:"enabled"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	CooldownMinutes        float64 `json:"cooldown_minutes"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
}

// DefaultConfig mirrors the stock deployment settings.
func DefaultConfig() Config {
	return Config{
		Enabled:                false,
		MinConfidenceThreshold: 75,
		CooldownMinutes:        5,
		MaxDailyTrades:         10,
	}
}

// Decision is the outcome of a gate check. A denial is not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Metrics is a snapshot of gate state.
type Metrics struct {
	LastTradeTime     time.Time `json:"last_trade_time"`
	DailyTrades       int       `json:"daily_trades"`
	LastResetDate     string    `json:"last_reset_date"`
	CooldownRemaining float64   `json:"cooldown_remaining_seconds"`

	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}
