// Package paper simulates a one-way-mode futures venue in memory. Market
// orders fill immediately at the cached price plus slippage; reduce-only stop
// orders rest until a price update crosses them.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/pkg/cache"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// ErrNoPrice is returned when no price is cached and no source is configured.
var ErrNoPrice = errors.New("paper: no price for symbol")

// PriceSource supplies prices when the cache has none. The live client fits.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Config tunes the simulation.
type Config struct {
	InitialBalance float64
	FeeRate        float64       // decimal, e.g. 0.0004 = 4 bps
	SlippageBps    float64       // max adverse slippage on market fills
	PriceTTL       time.Duration // cached prices older than this are refreshed from the source
	PollInterval   time.Duration
	Filters        common.SymbolFilters
	Seed           int64
}

type position struct {
	side       common.PositionSide
	qty        float64
	entryPrice float64
	leverage   int
}

func (p *position) margin() float64 {
	lev := p.leverage
	if lev <= 0 {
		lev = 1
	}
	return p.qty * p.entryPrice / float64(lev)
}

// Exchange is an in-memory common.Gateway.
type Exchange struct {
	cfg    Config
	prices *cache.PriceCache
	source PriceSource
	log    *logrus.Logger

	mu        sync.Mutex
	wallet    float64
	positions map[string]*position
	orders    map[int64]*common.Order
	nextID    int64
	rng       *rand.Rand
}

// New creates a paper exchange. source may be nil, in which case prices must
// be fed with SetPrice.
func New(cfg Config, source PriceSource, logger *logrus.Logger) *Exchange {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Exchange{
		cfg:       cfg,
		prices:    cache.NewPriceCache(nil),
		source:    source,
		log:       logger,
		wallet:    cfg.InitialBalance,
		positions: make(map[string]*position),
		orders:    make(map[int64]*common.Order),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SetPrice records a mark price and fills any resting stop orders it crosses.
func (x *Exchange) SetPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	x.prices.Set(symbol, price)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.triggerLocked(symbol, price)
}

func (x *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if px, ok := x.prices.GetFresh(symbol, x.cfg.PriceTTL); ok {
		return px, nil
	}
	if x.source == nil {
		if px, ok := x.prices.Get(symbol); ok {
			return px, nil
		}
		return 0, fmt.Errorf("%w %s", ErrNoPrice, symbol)
	}
	px, err := x.source.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	x.SetPrice(symbol, px)
	return px, nil
}

func (x *Exchange) GetAccountBalance(context.Context) (common.Balance, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var margin, upnl float64
	for sym, p := range x.positions {
		margin += p.margin()
		if px, ok := x.prices.Get(sym); ok {
			upnl += (px - p.entryPrice) * p.qty * p.side.Multiplier()
		}
	}
	return common.Balance{
		Total:         x.wallet + upnl,
		Available:     x.wallet - margin,
		MarginUsed:    margin,
		UnrealizedPnL: upnl,
	}, nil
}

func (x *Exchange) GetPosition(_ context.Context, symbol string) (*common.PositionInfo, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.positions[symbol]
	if !ok {
		return nil, nil
	}
	mark, _ := x.prices.Get(symbol)
	lev := p.leverage
	if lev <= 0 {
		lev = 1
	}
	return &common.PositionInfo{
		Symbol:           symbol,
		Side:             p.side,
		Amount:           p.qty,
		EntryPrice:       p.entryPrice,
		MarkPrice:        mark,
		UnrealizedPnL:    (mark - p.entryPrice) * p.qty * p.side.Multiplier(),
		LiquidationPrice: p.entryPrice * (1 - p.side.Multiplier()/float64(lev)),
		Leverage:         lev,
	}, nil
}

// GetSymbolFilters returns the configured filters for every symbol.
func (x *Exchange) GetSymbolFilters(_ context.Context, symbol string) (*common.SymbolFilters, error) {
	f := x.cfg.Filters
	f.Symbol = symbol
	if f.StepSize == "" {
		f.StepSize = "0.001"
	}
	if f.TickSize == "" {
		f.TickSize = "0.01"
	}
	return &f, nil
}

func (x *Exchange) PlaceMarketOrder(ctx context.Context, req common.MarketOrderRequest) (*common.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper: invalid quantity %v", req.Quantity)
	}
	px, err := x.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	fill := x.slip(px, req.Side)
	o := x.newOrderLocked(req.Symbol, req.Side, common.OrderTypeMarket, req.Quantity, req.ClientID)
	if err := x.fillLocked(o, fill, req.Leverage, false); err != nil {
		o.Status = common.StatusRejected
		return cloneOrder(o), err
	}
	return cloneOrder(o), nil
}

func (x *Exchange) PlaceTakeProfitOrder(_ context.Context, req common.StopOrderRequest) (*common.Order, error) {
	return x.placeStop(req, common.OrderTypeTakeProfitMarket)
}

func (x *Exchange) PlaceStopLossOrder(_ context.Context, req common.StopOrderRequest) (*common.Order, error) {
	return x.placeStop(req, common.OrderTypeStopMarket)
}

func (x *Exchange) placeStop(req common.StopOrderRequest, typ common.OrderType) (*common.Order, error) {
	if req.Quantity <= 0 || req.StopPrice <= 0 {
		return nil, fmt.Errorf("paper: invalid stop order qty=%v stop=%v", req.Quantity, req.StopPrice)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.positions[req.Symbol]; !ok {
		return nil, fmt.Errorf("paper: reduce-only order rejected, no position in %s", req.Symbol)
	}
	o := x.newOrderLocked(req.Symbol, req.Side, typ, req.Quantity, req.ClientID)
	o.StopPrice = req.StopPrice
	o.ReduceOnly = true
	return cloneOrder(o), nil
}

func (x *Exchange) ClosePosition(ctx context.Context, symbol string, side common.PositionSide) (*common.Order, error) {
	px, err := x.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("paper: no position in %s", symbol)
	}
	exitSide := side.ExitSide()
	o := x.newOrderLocked(symbol, exitSide, common.OrderTypeMarket, p.qty, "")
	o.ClosePosition = true
	o.ReduceOnly = true
	if err := x.fillLocked(o, x.slip(px, exitSide), 0, true); err != nil {
		o.Status = common.StatusRejected
		return cloneOrder(o), err
	}
	return cloneOrder(o), nil
}

func (x *Exchange) CancelAllOrders(_ context.Context, symbol string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cancelOpenLocked(symbol)
	return nil
}

func (x *Exchange) GetOrder(_ context.Context, _ string, orderID int64) *common.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[orderID]
	if !ok {
		return nil
	}
	return cloneOrder(o)
}

func (x *Exchange) WaitForFill(ctx context.Context, symbol string, orderID int64, maxWait time.Duration) bool {
	return common.PollFill(ctx, func(ctx context.Context) *common.Order {
		return x.GetOrder(ctx, symbol, orderID)
	}, x.cfg.PollInterval, maxWait)
}

// OpenOrders lists resting orders for a symbol.
func (x *Exchange) OpenOrders(symbol string) []common.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []common.Order
	for _, o := range x.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

func (x *Exchange) newOrderLocked(symbol string, side common.Side, typ common.OrderType, qty float64, clientID string) *common.Order {
	x.nextID++
	o := &common.Order{
		OrderID:       x.nextID,
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		Status:        common.StatusNew,
		CreatedAt:     time.Now(),
	}
	x.orders[o.OrderID] = o
	return o
}

// fillLocked applies a fill at price to the position book and wallet.
func (x *Exchange) fillLocked(o *common.Order, price float64, leverage int, reduceOnly bool) error {
	p, exists := x.positions[o.Symbol]
	dir := common.PositionLong
	if o.Side == common.SideSell {
		dir = common.PositionShort
	}
	qty := o.Quantity
	fee := qty * price * x.cfg.FeeRate

	switch {
	case !exists && reduceOnly:
		return fmt.Errorf("paper: reduce-only order rejected, no position in %s", o.Symbol)
	case !exists:
		if leverage <= 0 {
			leverage = 1
		}
		need := qty*price/float64(leverage) + fee
		if need > x.wallet {
			return fmt.Errorf("paper: insufficient balance: need %.2f, have %.2f", need, x.wallet)
		}
		x.positions[o.Symbol] = &position{side: dir, qty: qty, entryPrice: price, leverage: leverage}
	case p.side == dir:
		if reduceOnly {
			return fmt.Errorf("paper: reduce-only order would increase position in %s", o.Symbol)
		}
		total := p.qty*p.entryPrice + qty*price
		p.qty += qty
		p.entryPrice = total / p.qty
		if leverage > 0 {
			p.leverage = leverage
		}
	default:
		qty = math.Min(qty, p.qty)
		fee = qty * price * x.cfg.FeeRate
		x.wallet += (price - p.entryPrice) * qty * p.side.Multiplier()
		p.qty -= qty
		if p.qty <= 1e-12 {
			delete(x.positions, o.Symbol)
			x.cancelOpenLocked(o.Symbol)
		}
	}

	x.wallet -= fee
	o.Status = common.StatusFilled
	o.ExecutedQty = qty
	o.AvgPrice = price

	x.log.WithFields(logrus.Fields{
		"symbol":   o.Symbol,
		"side":     o.Side,
		"type":     o.Type,
		"qty":      qty,
		"price":    price,
		"wallet":   x.wallet,
		"order_id": o.OrderID,
	}).Info("paper fill")
	return nil
}

// triggerLocked fills resting stop orders crossed by price.
func (x *Exchange) triggerLocked(symbol string, price float64) {
	for _, o := range x.sortedOpenLocked(symbol) {
		if o.Status.IsTerminal() || !triggered(o, price) {
			continue
		}
		if err := x.fillLocked(o, price, 0, true); err != nil {
			o.Status = common.StatusExpired
			x.log.WithError(err).WithField("order_id", o.OrderID).Warn("paper stop expired")
		}
	}
}

func (x *Exchange) sortedOpenLocked(symbol string) []*common.Order {
	var out []*common.Order
	for id := int64(1); id <= x.nextID; id++ {
		if o, ok := x.orders[id]; ok && o.Symbol == symbol && o.StopPrice > 0 && !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

func (x *Exchange) cancelOpenLocked(symbol string) {
	for _, o := range x.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			o.Status = common.StatusCanceled
		}
	}
}

// triggered reports whether a reduce-only stop fires at price. A SELL exit
// closes a long: take-profit above entry, stop-loss below.
func triggered(o *common.Order, price float64) bool {
	up := price >= o.StopPrice
	down := price <= o.StopPrice
	switch {
	case o.Type == common.OrderTypeTakeProfitMarket && o.Side == common.SideSell:
		return up
	case o.Type == common.OrderTypeTakeProfitMarket:
		return down
	case o.Side == common.SideSell:
		return down
	default:
		return up
	}
}

// slip moves price against the taker by up to SlippageBps.
func (x *Exchange) slip(price float64, side common.Side) float64 {
	frac := x.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	noise := x.rng.Float64() * frac
	if side == common.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

func cloneOrder(o *common.Order) *common.Order {
	c := *o
	return &c
}

var (
	_ common.Gateway      = (*Exchange)(nil)
	_ common.FilterSource = (*Exchange)(nil)
)
