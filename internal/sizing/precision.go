package sizing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Tranche weights for TP1, TP2 and TP3.
var trancheWeights = [3]decimal.Decimal{
	decimal.RequireFromString("0.3"),
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.2"),
}

// Precision quantizes quantities to the lot step and prices to the tick.
type Precision struct {
	QtyStep   decimal.Decimal
	PriceTick decimal.Decimal
	MinQty    decimal.Decimal
}

// DefaultPrecision is three quantity decimals and two price decimals.
func DefaultPrecision() Precision {
	return Precision{
		QtyStep:   decimal.New(1, -3),
		PriceTick: decimal.New(1, -2),
	}
}

// NewPrecision parses step and tick from decimal strings.
func NewPrecision(qtyStep, priceTick string) (Precision, error) {
	step, err := decimal.NewFromString(qtyStep)
	if err != nil || !step.IsPositive() {
		return Precision{}, fmt.Errorf("invalid quantity step %q", qtyStep)
	}
	tick, err := decimal.NewFromString(priceTick)
	if err != nil || !tick.IsPositive() {
		return Precision{}, fmt.Errorf("invalid price tick %q", priceTick)
	}
	return Precision{QtyStep: step, PriceTick: tick}, nil
}

// FromFilters builds a Precision from exchange instrument filters, falling
// back to the defaults for any missing value.
func FromFilters(f *common.SymbolFilters) Precision {
	p := DefaultPrecision()
	if f == nil {
		return p
	}
	if d, err := decimal.NewFromString(f.StepSize); err == nil && d.IsPositive() {
		p.QtyStep = d
	}
	if d, err := decimal.NewFromString(f.TickSize); err == nil && d.IsPositive() {
		p.PriceTick = d
	}
	if d, err := decimal.NewFromString(f.MinQty); err == nil && d.IsPositive() {
		p.MinQty = d
	}
	return p
}

// FloorQty floors q to the lot step. Anything under MinQty becomes zero.
func (p Precision) FloorQty(q float64) float64 {
	return p.floorQty(decimal.NewFromFloat(q)).InexactFloat64()
}

func (p Precision) floorQty(q decimal.Decimal) decimal.Decimal {
	if !q.IsPositive() {
		return decimal.Zero
	}
	out := q.Div(p.QtyStep).Floor().Mul(p.QtyStep)
	if !p.MinQty.IsZero() && out.LessThan(p.MinQty) {
		return decimal.Zero
	}
	return out
}

// RoundPrice rounds px half-up to the price tick.
func (p Precision) RoundPrice(px float64) float64 {
	d := decimal.NewFromFloat(px)
	return d.Div(p.PriceTick).Round(0).Mul(p.PriceTick).InexactFloat64()
}

// Tranches splits qty 30/50/20 across TP1..TP3, flooring each share to the lot
// step independently. A share may come out as zero.
func (p Precision) Tranches(qty float64) [3]float64 {
	total := decimal.NewFromFloat(qty)
	var out [3]float64
	for i, w := range trancheWeights {
		out[i] = p.floorQty(total.Mul(w)).InexactFloat64()
	}
	return out
}

// Policy resolves the precision for a symbol.
type Policy interface {
	For(ctx context.Context, symbol string) (Precision, error)
}

// StaticPolicy applies one Precision to every symbol.
type StaticPolicy struct {
	Precision Precision
}

func (s StaticPolicy) For(context.Context, string) (Precision, error) {
	return s.Precision, nil
}

// ExchangePolicy reads filters from the exchange once per symbol.
type ExchangePolicy struct {
	source common.FilterSource
	mu     sync.Mutex
	cache  map[string]Precision
}

// NewExchangePolicy creates a policy backed by exchange instrument metadata.
func NewExchangePolicy(source common.FilterSource) *ExchangePolicy {
	return &ExchangePolicy{source: source, cache: make(map[string]Precision)}
}

func (e *ExchangePolicy) For(ctx context.Context, symbol string) (Precision, error) {
	e.mu.Lock()
	p, ok := e.cache[symbol]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	f, err := e.source.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return Precision{}, fmt.Errorf("symbol filters %s: %w", symbol, err)
	}
	p = FromFilters(f)

	e.mu.Lock()
	e.cache[symbol] = p
	e.mu.Unlock()
	return p, nil
}
