package db

import "time"

// Position is one engine position, upserted on open, update and close.
type Position struct {
	ID            string
	Symbol        string
	Side          string
	EntryPrice    float64
	Quantity      float64
	PositionSize  float64
	Leverage      int
	Margin        float64
	TP1           float64
	TP2           float64
	TP3           float64
	SL            float64
	Liq           float64
	TP1Hit        bool
	TP2Hit        bool
	TP3Hit        bool
	MarkPrice     float64
	UnrealizedPnL float64
	Status        string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
	ExitReason    string
	RealizedPnL   *float64
	EntryOrderID  int64
	DecisionID    string
	SourceID      string
	UpdatedAt     time.Time
}

// Decision is an inbound classified signal and what became of it.
type Decision struct {
	ID                 string
	Signal             string
	Confidence         float64
	AdjustedConfidence float64
	Reasoning          string
	Magnitude          string
	SourceID           string
	Account            string
	Executed           bool
	Error              string
	PositionID         string
	CreatedAt          time.Time
}

// Order is an order the engine submitted.
type Order struct {
	OrderID    int64
	ClientID   string
	PositionID string
	DecisionID string
	Role       string // ENTRY, TP1, TP2, TP3, SL, CLOSE
	Symbol     string
	Side       string
	Type       string
	Quantity   float64
	StopPrice  float64
	AvgPrice   float64
	Status     string
	CreatedAt  time.Time
}

// TradeStats aggregates closed positions.
type TradeStats struct {
	Total       int     `json:"total"`
	Open        int     `json:"open"`
	Closed      int     `json:"closed"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalPnL    float64 `json:"total_pnl"`
	WinRate     float64 `json:"win_rate"`
	Liquidated  int     `json:"liquidated"`
	DecisionsIn int     `json:"decisions"`
}
