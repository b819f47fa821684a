package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the direction of a position. BOTH is the one-way mode marker
// sent on the wire.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// EntrySide returns the order side that opens a position in this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide returns the order side that reduces a position in this direction.
func (p PositionSide) ExitSide() Side {
	if p == PositionShort {
		return SideBuy
	}
	return SideSell
}

// Multiplier is +1 for LONG and -1 for SHORT.
func (p PositionSide) Multiplier() float64 {
	if p == PositionShort {
		return -1
	}
	return 1
}

// OrderType covers the futures order types the engine submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus mirrors the exchange order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// WorkingTypeMark triggers stop orders off the mark price.
const WorkingTypeMark = "MARK_PRICE"

// Order is the exchange view of a submitted order.
type Order struct {
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	Status        OrderStatus `json:"status"`
	ExecutedQty   float64     `json:"executed_qty"`
	AvgPrice      float64     `json:"avg_price,omitempty"`
	ReduceOnly    bool        `json:"reduce_only,omitempty"`
	ClosePosition bool        `json:"close_position,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// MarketOrderRequest opens or closes at market. Leverage > 0 sets leverage first.
type MarketOrderRequest struct {
	Symbol   string
	Side     Side
	Quantity float64
	Leverage int
	ClientID string
}

// StopOrderRequest describes a reduce-only exit keyed off the mark price.
type StopOrderRequest struct {
	Symbol    string
	Side      Side
	StopPrice float64
	Quantity  float64
	ClientID  string
}

// Balance is the USDT account summary.
type Balance struct {
	Total         float64 `json:"total"`
	Available     float64 `json:"available"`
	MarginUsed    float64 `json:"margin_used"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PositionInfo is a non-zero exchange position.
type PositionInfo struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	Amount           float64      `json:"amount"`
	EntryPrice       float64      `json:"entry_price"`
	MarkPrice        float64      `json:"mark_price"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	LiquidationPrice float64      `json:"liquidation_price"`
	Leverage         int          `json:"leverage"`
}

// SymbolFilters carries the lot-size and price filters of one instrument as
// decimal strings.
type SymbolFilters struct {
	Symbol   string `json:"symbol"`
	StepSize string `json:"step_size"`
	MinQty   string `json:"min_qty"`
	TickSize string `json:"tick_size"`
}
