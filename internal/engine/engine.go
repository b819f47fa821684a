package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/risk"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Clock abstracts wall time for the engine and its gate.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Options configures an Engine.
type Options struct {
	Trading       TradingConfig
	DefaultSymbol string
	FillTimeout   time.Duration
	// CloseTimeout bounds emergency cleanup, which runs even when the caller's
	// context is already cancelled.
	CloseTimeout time.Duration
	Precision    sizing.Policy
	Clock        Clock
	Bus          *events.Bus
	Logger       *logrus.Logger
}

// inflightEntry is an entry order that was sent but not yet committed as a
// Position.
type inflightEntry struct {
	symbol  string
	side    common.PositionSide
	orderID int64
}

// Engine runs the single-position trade sequence against one exchange.
type Engine struct {
	exchange  common.Gateway
	gate      *risk.Gate
	precision sizing.Policy
	clock     Clock
	bus       *events.Bus
	log       *logrus.Logger

	fillTimeout   time.Duration
	closeTimeout  time.Duration
	defaultSymbol string

	execMu  sync.Mutex // held for a whole ExecuteTrade
	closeMu sync.Mutex // serialises emergency closes

	mu       sync.RWMutex
	config   TradingConfig
	position *Position
	phase    Phase
	inflight *inflightEntry
}

// New wires an Engine around an exchange.
func New(exchange common.Gateway, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Precision == nil {
		opts.Precision = sizing.StaticPolicy{Precision: sizing.DefaultPrecision()}
	}
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = 10 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 15 * time.Second
	}
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "BTCUSDT"
	}
	return &Engine{
		exchange:      exchange,
		gate:          risk.NewGate(opts.Trading.GateConfig(), opts.Clock.Now, opts.Logger),
		precision:     opts.Precision,
		clock:         opts.Clock,
		bus:           opts.Bus,
		log:           opts.Logger,
		fillTimeout:   opts.FillTimeout,
		closeTimeout:  opts.CloseTimeout,
		defaultSymbol: opts.DefaultSymbol,
		config:        opts.Trading,
		phase:         PhaseIdle,
	}
}

// ExecuteTrade runs gate, sizing, entry, fill wait and exit placement for one
// decision. Only one call runs at a time; a concurrent call returns ErrBusy
// immediately. Any failure after the entry is sent triggers an emergency close.
func (e *Engine) ExecuteTrade(ctx context.Context, d Decision, o Overrides) Result {
	if !e.execMu.TryLock() {
		return Result{Error: ErrBusy.Error()}
	}
	defer e.execMu.Unlock()

	started := e.clock.Now()
	log := e.log.WithFields(logrus.Fields{
		"decision_id": d.ID,
		"signal":      d.Signal,
		"confidence":  d.Confidence,
	})

	e.setPhase(PhaseGateCheck)
	if dec := e.gate.CanTrade(d.Confidence, e.hasOpenPosition()); !dec.Allowed {
		e.setPhase(e.restingPhase())
		e.bus.Publish(events.EventRiskDenied, DenialEvent{Decision: d, Reason: dec.Reason})
		return Result{Error: dec.Reason}
	}
	if d.Signal == SignalHold || !d.Signal.Valid() {
		e.setPhase(e.restingPhase())
		if d.Signal == SignalHold {
			return Result{Error: ErrHoldSignal.Error()}
		}
		return Result{Error: fmt.Sprintf("Invalid signal %q", d.Signal)}
	}

	side := d.Signal.PositionSide()
	symbol, leverage, riskPct := e.resolve(o)
	log = log.WithField("symbol", symbol)

	e.setPhase(PhaseSizing)
	bal, err := e.exchange.GetAccountBalance(ctx)
	if err != nil {
		return e.fail(ctx, d, symbol, started, fmt.Errorf("fetch balance: %w", err))
	}
	size := sizing.PositionSize(bal.Available, riskPct, leverage)
	if err := sizing.ValidateTradeParams(sizing.TradeParams{
		Balance:      bal.Available,
		PositionSize: size.PositionSize,
		Leverage:     leverage,
		Confidence:   d.Confidence,
	}); err != nil {
		return e.fail(ctx, d, symbol, started, err)
	}

	e.setPhase(PhasePricing)
	price, err := e.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return e.fail(ctx, d, symbol, started, fmt.Errorf("fetch price: %w", err))
	}
	prec, err := e.precision.For(ctx, symbol)
	if err != nil {
		return e.fail(ctx, d, symbol, started, err)
	}
	qty := prec.FloorQty(size.PositionSize / price)
	if qty <= 0 {
		return e.fail(ctx, d, symbol, started, &sizing.ValidationError{Reason: "Quantity below minimum lot size"})
	}

	provisional := sizing.CalculateTargets(price, side)
	log.WithFields(logrus.Fields{
		"side":          side,
		"price":         price,
		"quantity":      qty,
		"position_size": size.PositionSize,
		"margin":        size.Margin,
		"leverage":      leverage,
		"tp1":           provisional.TP1,
		"sl":            provisional.SL,
	}).Info("trade sized")

	e.setPhase(PhaseEntrySubmitted)
	e.setInflight(&inflightEntry{symbol: symbol, side: side})
	entry, err := e.exchange.PlaceMarketOrder(ctx, common.MarketOrderRequest{
		Symbol:   symbol,
		Side:     side.EntrySide(),
		Quantity: qty,
		Leverage: leverage,
		ClientID: clientID("entry"),
	})
	if err != nil {
		return e.failAfterEntry(ctx, d, symbol, started, fmt.Errorf("place entry order: %w", err))
	}
	e.setInflight(&inflightEntry{symbol: symbol, side: side, orderID: entry.OrderID})
	e.publishOrder(d.ID, "", "ENTRY", entry)

	if !e.exchange.WaitForFill(ctx, symbol, entry.OrderID, e.fillTimeout) {
		return e.failAfterEntry(ctx, d, symbol, started, ErrEntryNotFilled)
	}
	e.setPhase(PhaseEntryFilled)

	fillPrice := price
	if filled := e.exchange.GetOrder(ctx, symbol, entry.OrderID); filled != nil {
		if filled.AvgPrice > 0 {
			fillPrice = filled.AvgPrice
		}
		if filled.ExecutedQty > 0 {
			if q := prec.FloorQty(filled.ExecutedQty); q > 0 {
				qty = q
			}
		}
	}
	targets := sizing.CalculateTargets(fillPrice, side)
	positionID := uuid.NewString()

	exitOrders, err := e.placeExits(ctx, d, positionID, symbol, side, qty, targets, prec)
	if err != nil {
		return e.failAfterEntry(ctx, d, symbol, started, err)
	}
	e.setPhase(PhaseExitsPlaced)

	now := e.clock.Now()
	pos := &Position{
		ID:           positionID,
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   fillPrice,
		Quantity:     qty,
		PositionSize: size.PositionSize,
		Leverage:     leverage,
		Margin:       size.Margin,
		Targets:      targets,
		MarkPrice:    fillPrice,
		Status:       PositionOpen,
		OpenedAt:     now,
		EntryOrderID: entry.OrderID,
		ExitOrderIDs: exitOrders,
		DecisionID:   d.ID,
		SourceID:     d.SourceID,
	}

	e.mu.Lock()
	e.position = pos
	e.inflight = nil
	e.phase = PhaseOpen
	e.mu.Unlock()
	e.gate.RecordTrade()

	result := Result{Success: true, Position: pos.Clone()}
	e.bus.Publish(events.EventPositionUpdate, pos.Clone())
	e.bus.Publish(events.EventTradeExecuted, TradeEvent{
		Decision: d,
		Result:   result,
		Symbol:   symbol,
		Phase:    PhaseOpen,
		Latency:  now.Sub(started).Milliseconds(),
	})
	log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"entry_price": fillPrice,
		"quantity":    qty,
		"tp1":         targets.TP1,
		"tp2":         targets.TP2,
		"tp3":         targets.TP3,
		"sl":          targets.SL,
	}).Info("position opened")
	return result
}

// placeExits submits the three take-profit tranches concurrently, then the
// stop-loss for the whole quantity. It returns the exit order ids.
func (e *Engine) placeExits(ctx context.Context, d Decision, positionID, symbol string, side common.PositionSide,
	qty float64, targets sizing.Targets, prec sizing.Precision) ([]int64, error) {
	exitSide := side.ExitSide()
	tranches := prec.Tranches(qty)
	tpPrices := targets.TakeProfits()
	tpOrders := make([]*common.Order, len(tranches))

	var g errgroup.Group
	for i := range tranches {
		if tranches[i] <= 0 {
			e.log.WithFields(logrus.Fields{"symbol": symbol, "tranche": i + 1}).Warn("take-profit tranche rounds to zero, skipped")
			continue
		}
		i := i
		g.Go(func() error {
			o, err := e.exchange.PlaceTakeProfitOrder(ctx, common.StopOrderRequest{
				Symbol:    symbol,
				Side:      exitSide,
				StopPrice: prec.RoundPrice(tpPrices[i]),
				Quantity:  tranches[i],
				ClientID:  clientID(fmt.Sprintf("tp%d", i+1)),
			})
			if err != nil {
				return fmt.Errorf("place TP%d order: %w", i+1, err)
			}
			tpOrders[i] = o
			return nil
		})
	}
	err := g.Wait()

	var ids []int64
	for i, o := range tpOrders {
		if o == nil {
			continue
		}
		ids = append(ids, o.OrderID)
		e.publishOrder(d.ID, positionID, fmt.Sprintf("TP%d", i+1), o)
	}
	if err != nil {
		return ids, err
	}

	sl, err := e.exchange.PlaceStopLossOrder(ctx, common.StopOrderRequest{
		Symbol:    symbol,
		Side:      exitSide,
		StopPrice: prec.RoundPrice(targets.SL),
		Quantity:  qty,
		ClientID:  clientID("sl"),
	})
	if err != nil {
		return ids, fmt.Errorf("place SL order: %w", err)
	}
	e.publishOrder(d.ID, positionID, "SL", sl)
	return append(ids, sl.OrderID), nil
}

// resolve applies overrides over config for symbol, leverage and risk percent.
func (e *Engine) resolve(o Overrides) (string, int, float64) {
	cfg := e.Config()
	symbol := e.defaultSymbol
	for _, s := range o.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbol = s
			break
		}
	}
	leverage := cfg.Leverage
	if o.Leverage != nil && *o.Leverage > 0 {
		leverage = *o.Leverage
	}
	riskPct := cfg.MaxPositionSizePercent
	if o.PositionSizePercent != nil && *o.PositionSizePercent > 0 {
		riskPct = *o.PositionSizePercent
	}
	return symbol, leverage, riskPct
}

// fail reports a failure that happened before anything reached the exchange.
func (e *Engine) fail(ctx context.Context, d Decision, symbol string, started time.Time, err error) Result {
	e.setPhase(PhaseFailed)
	return e.finishFailure(d, symbol, started, err)
}

// failAfterEntry reports a failure after the entry order was sent and runs
// the emergency close. Cleanup errors are logged and never replace err.
func (e *Engine) failAfterEntry(ctx context.Context, d Decision, symbol string, started time.Time, err error) Result {
	e.setPhase(PhaseFailed)
	e.log.WithError(err).WithField("symbol", symbol).Error("trade failed after entry, closing")

	e.setPhase(PhaseEmergencyCloseAttempted)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.closeTimeout)
	defer cancel()
	if cerr := e.closeInflight(cleanupCtx); cerr != nil {
		e.log.WithError(cerr).WithField("symbol", symbol).Error("emergency close failed")
	}
	return e.finishFailure(d, symbol, started, err)
}

func (e *Engine) finishFailure(d Decision, symbol string, started time.Time, err error) Result {
	e.mu.Lock()
	e.inflight = nil
	e.mu.Unlock()
	e.setPhase(e.restingPhase())

	var vErr *sizing.ValidationError
	entry := e.log.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "decision_id": d.ID})
	if errors.As(err, &vErr) {
		entry.Warn("trade rejected")
	} else {
		entry.Error("trade failed")
	}

	result := Result{Error: err.Error()}
	e.bus.Publish(events.EventTradeFailed, TradeEvent{
		Decision: d,
		Result:   result,
		Symbol:   symbol,
		Phase:    PhaseFailed,
		Latency:  e.clock.Now().Sub(started).Milliseconds(),
	})
	return result
}

func (e *Engine) publishOrder(decisionID, positionID, role string, o *common.Order) {
	if o == nil {
		return
	}
	c := *o
	e.bus.Publish(events.EventOrderSubmitted, OrderEvent{
		PositionID: positionID,
		DecisionID: decisionID,
		Role:       role,
		Order:      &c,
	})
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) setInflight(in *inflightEntry) {
	e.mu.Lock()
	e.inflight = in
	e.mu.Unlock()
}

// restingPhase is OPEN while a position is live, IDLE otherwise.
func (e *Engine) restingPhase() Phase {
	if e.hasOpenPosition() {
		return PhaseOpen
	}
	return PhaseIdle
}

func (e *Engine) hasOpenPosition() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position.IsOpen()
}

func clientID(role string) string {
	return "tt-" + role + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
