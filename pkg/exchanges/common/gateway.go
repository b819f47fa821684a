package common

import (
	"context"
	"time"
)

// Gateway abstracts the futures venue the engine trades on. The live AsterDEX
// client and the paper exchange both satisfy it.
type Gateway interface {
	GetAccountBalance(ctx context.Context) (Balance, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (*PositionInfo, error)

	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*Order, error)
	PlaceTakeProfitOrder(ctx context.Context, req StopOrderRequest) (*Order, error)
	PlaceStopLossOrder(ctx context.Context, req StopOrderRequest) (*Order, error)
	ClosePosition(ctx context.Context, symbol string, side PositionSide) (*Order, error)
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetOrder returns nil when the lookup fails.
	GetOrder(ctx context.Context, symbol string, orderID int64) *Order
	WaitForFill(ctx context.Context, symbol string, orderID int64, maxWait time.Duration) bool
}

// FilterSource resolves instrument filters for the precision policy.
type FilterSource interface {
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
}
