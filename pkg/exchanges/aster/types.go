package aster

import (
	"strconv"
	"strings"
	"time"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (r orderResp) toOrder() *common.Order {
	created := r.Time
	if created == 0 {
		created = r.UpdateTime
	}
	o := &common.Order{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          common.Side(strings.ToUpper(r.Side)),
		Type:          common.OrderType(strings.ToUpper(r.Type)),
		Quantity:      parseFloat(r.OrigQty),
		Price:         parseFloat(r.Price),
		StopPrice:     parseFloat(r.StopPrice),
		Status:        common.OrderStatus(strings.ToUpper(r.Status)),
		ExecutedQty:   parseFloat(r.ExecutedQty),
		AvgPrice:      parseFloat(r.AvgPrice),
		ReduceOnly:    r.ReduceOnly,
		ClosePosition: r.ClosePosition,
	}
	if created > 0 {
		o.CreatedAt = time.UnixMilli(created)
	}
	return o
}

type balanceRow struct {
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	AvailableBalance   string `json:"availableBalance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	CrossUnPnl         string `json:"crossUnPnl"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
}

func (p positionRisk) toPosition() *common.PositionInfo {
	amt := parseFloat(p.PositionAmt)
	side := common.PositionLong
	if amt < 0 {
		side = common.PositionShort
		amt = -amt
	}
	lev, _ := strconv.Atoi(p.Leverage)
	return &common.PositionInfo{
		Symbol:           p.Symbol,
		Side:             side,
		Amount:           amt,
		EntryPrice:       parseFloat(p.EntryPrice),
		MarkPrice:        parseFloat(p.MarkPrice),
		UnrealizedPnL:    parseFloat(p.UnRealizedProfit),
		LiquidationPrice: parseFloat(p.LiquidationPrice),
		Leverage:         lev,
	}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}
