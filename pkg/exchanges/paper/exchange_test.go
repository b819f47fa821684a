package paper

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

type staticSource struct {
	price float64
	err   error
	calls int
}

func (s *staticSource) GetCurrentPrice(context.Context, string) (float64, error) {
	s.calls++
	return s.price, s.err
}

func newTestExchange(source PriceSource) *Exchange {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(Config{InitialBalance: 10000, PriceTTL: time.Minute, PollInterval: time.Millisecond, Seed: 1}, source, logger)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMarketOrderFillsAndReportsPosition(t *testing.T) {
	x := newTestExchange(nil)
	x.SetPrice("BTCUSDT", 100000)
	ctx := context.Background()

	o, err := x.PlaceMarketOrder(ctx, common.MarketOrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 0.015, Leverage: 100})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if o.Status != common.StatusFilled || o.AvgPrice != 100000 || o.ExecutedQty != 0.015 {
		t.Fatalf("unexpected order %+v", o)
	}
	if !x.WaitForFill(ctx, "BTCUSDT", o.OrderID, time.Second) {
		t.Fatalf("WaitForFill=false for filled order")
	}

	pos, err := x.GetPosition(ctx, "BTCUSDT")
	if err != nil || pos == nil {
		t.Fatalf("GetPosition=%v,%v", pos, err)
	}
	if pos.Side != common.PositionLong || pos.Amount != 0.015 || pos.Leverage != 100 {
		t.Fatalf("unexpected position %+v", pos)
	}

	bal, _ := x.GetAccountBalance(ctx)
	if !approx(bal.MarginUsed, 15) || !approx(bal.Available, 9985) {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestStopOrdersTriggerOnPrice(t *testing.T) {
	x := newTestExchange(nil)
	x.SetPrice("BTCUSDT", 100000)
	ctx := context.Background()

	if _, err := x.PlaceMarketOrder(ctx, common.MarketOrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 0.01, Leverage: 10}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	tp, err := x.PlaceTakeProfitOrder(ctx, common.StopOrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, StopPrice: 100300, Quantity: 0.004})
	if err != nil {
		t.Fatalf("TP: %v", err)
	}
	sl, err := x.PlaceStopLossOrder(ctx, common.StopOrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, StopPrice: 99400, Quantity: 0.01})
	if err != nil {
		t.Fatalf("SL: %v", err)
	}

	x.SetPrice("BTCUSDT", 100310)
	if got := x.GetOrder(ctx, "BTCUSDT", tp.OrderID); got.Status != common.StatusFilled {
		t.Fatalf("TP status=%s, expected FILLED", got.Status)
	}
	pos, _ := x.GetPosition(ctx, "BTCUSDT")
	if !approx(pos.Amount, 0.006) {
		t.Fatalf("position amount=%v, expected 0.006", pos.Amount)
	}

	x.SetPrice("BTCUSDT", 99000)
	if got := x.GetOrder(ctx, "BTCUSDT", sl.OrderID); got.Status != common.StatusFilled || !approx(got.ExecutedQty, 0.006) {
		t.Fatalf("SL=%+v, expected FILLED for the remaining 0.006", got)
	}
	if pos, _ := x.GetPosition(ctx, "BTCUSDT"); pos != nil {
		t.Fatalf("position should be flat, got %+v", pos)
	}
	if open := x.OpenOrders("BTCUSDT"); len(open) != 0 {
		t.Fatalf("open orders left: %+v", open)
	}
}

func TestCloseAndCancel(t *testing.T) {
	x := newTestExchange(nil)
	x.SetPrice("BTCUSDT", 100000)
	ctx := context.Background()

	if _, err := x.PlaceMarketOrder(ctx, common.MarketOrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: 0.01, Leverage: 10}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if _, err := x.PlaceStopLossOrder(ctx, common.StopOrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, StopPrice: 100600, Quantity: 0.01}); err != nil {
		t.Fatalf("SL: %v", err)
	}
	if err := x.CancelAllOrders(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if open := x.OpenOrders("BTCUSDT"); len(open) != 0 {
		t.Fatalf("orders survived cancel: %+v", open)
	}

	x.SetPrice("BTCUSDT", 99000)
	o, err := x.ClosePosition(ctx, "BTCUSDT", common.PositionShort)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if o.Side != common.SideBuy || !o.ClosePosition || o.Status != common.StatusFilled {
		t.Fatalf("unexpected close order %+v", o)
	}
	bal, _ := x.GetAccountBalance(ctx)
	if !approx(bal.Total, 10010) {
		t.Fatalf("wallet=%v, expected 10010 after short profit", bal.Total)
	}
	if _, err := x.ClosePosition(ctx, "BTCUSDT", common.PositionShort); err == nil {
		t.Fatalf("closing a flat symbol should fail")
	}
}

func TestPriceSourceFallback(t *testing.T) {
	src := &staticSource{price: 2000}
	x := newTestExchange(src)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		px, err := x.GetCurrentPrice(ctx, "ETHUSDT")
		if err != nil || px != 2000 {
			t.Fatalf("GetCurrentPrice=%v,%v", px, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source calls=%d, expected cached second read", src.calls)
	}

	empty := newTestExchange(nil)
	if _, err := empty.GetCurrentPrice(ctx, "ETHUSDT"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err=%v, expected ErrNoPrice", err)
	}
}

func TestReduceOnlyRequiresPosition(t *testing.T) {
	x := newTestExchange(nil)
	x.SetPrice("BTCUSDT", 100000)
	if _, err := x.PlaceTakeProfitOrder(context.Background(), common.StopOrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, StopPrice: 1, Quantity: 1}); err == nil {
		t.Fatalf("expected rejection without a position")
	}
}
