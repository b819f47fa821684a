package aster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// DefaultBaseURL is the AsterDEX futures REST endpoint.
const DefaultBaseURL = "https://fapi.asterdex.com"

// Config holds AsterDEX client settings.
type Config struct {
	BaseURL      string
	RecvWindow   int64 // ms
	Timeout      time.Duration
	PollInterval time.Duration
	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to the AsterDEX USDT-M futures API. Every authenticated call
// is signed fresh; nothing is retried at this layer.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	timeSync   *common.TimeSync
	weights    *common.WeightTracker
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewClient creates a client. signer may be nil for public endpoints only.
func NewClient(cfg Config, signer *Signer, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = common.DefaultPollInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		signer:     signer,
		log:        logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime, logger)
	c.weights = common.NewWeightTracker(2400, time.Minute, logger)
	if signer != nil {
		signer.SetRecvWindow(cfg.RecvWindow)
		signer.SetClock(c.now)
	}
	return c
}

// StartTimeSync keeps signed timestamps aligned with the server clock.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// Signer returns the request signer, nil for a public-only client.
func (c *Client) Signer() *Signer { return c.signer }

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// GetServerTime fetches exchange server time in epoch milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

// GetCurrentPrice returns the last traded price for symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", q)
	if err != nil {
		return 0, err
	}
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	price := parseFloat(res.Price)
	if price <= 0 {
		return 0, fmt.Errorf("ticker price for %s: invalid %q", symbol, res.Price)
	}
	return price, nil
}

// GetSymbolFilters returns LOT_SIZE and PRICE_FILTER values for symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*common.SymbolFilters, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", q)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := &common.SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				out.StepSize = f.StepSize
				out.MinQty = f.MinQty
			case "PRICE_FILTER":
				out.TickSize = f.TickSize
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("exchange info: symbol %s not listed", symbol)
}

// GetAccountBalance returns the USDT row of the futures balance. A missing
// USDT row yields a zero Balance.
func (c *Client) GetAccountBalance(ctx context.Context) (common.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v3/balance", Params{})
	if err != nil {
		return common.Balance{}, err
	}
	var rows []balanceRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return common.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	for _, r := range rows {
		if r.Asset != "USDT" {
			continue
		}
		available := parseFloat(r.AvailableBalance)
		return common.Balance{
			Total:         parseFloat(r.Balance),
			Available:     available,
			MarginUsed:    parseFloat(r.CrossWalletBalance) - available,
			UnrealizedPnL: parseFloat(r.CrossUnPnl),
		}, nil
	}
	return common.Balance{}, nil
}

// GetPosition returns the open position for symbol, nil when flat.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*common.PositionInfo, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v3/positionRisk", Params{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var rows []positionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode position risk: %w", err)
	}
	for _, r := range rows {
		if r.Symbol != symbol {
			continue
		}
		if parseFloat(r.PositionAmt) == 0 {
			continue
		}
		return r.toPosition(), nil
	}
	return nil, nil
}

// SetLeverage sets initial leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p := Params{"symbol": symbol}.SetInt("leverage", int64(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", p)
	return err
}

// SetPositionMode switches between hedge (dual side) and one-way mode.
func (c *Client) SetPositionMode(ctx context.Context, hedge bool) error {
	p := Params{}.SetBool("dualSidePosition", hedge)
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", p)
	return err
}

// PlaceMarketOrder submits a one-way MARKET order, setting leverage first when
// req.Leverage is positive.
func (c *Client) PlaceMarketOrder(ctx context.Context, req common.MarketOrderRequest) (*common.Order, error) {
	if req.Leverage > 0 {
		if err := c.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return nil, fmt.Errorf("set leverage: %w", err)
		}
	}
	p := Params{
		"symbol":       req.Symbol,
		"side":         string(req.Side),
		"type":         string(common.OrderTypeMarket),
		"positionSide": string(common.PositionBoth),
	}
	p.SetFloat("quantity", req.Quantity)
	p.Set("newClientOrderId", req.ClientID)
	return c.submitOrder(ctx, p)
}

// PlaceTakeProfitOrder submits a reduce-only TAKE_PROFIT_MARKET order.
func (c *Client) PlaceTakeProfitOrder(ctx context.Context, req common.StopOrderRequest) (*common.Order, error) {
	return c.submitOrder(ctx, stopParams(common.OrderTypeTakeProfitMarket, req))
}

// PlaceStopLossOrder submits a reduce-only STOP_MARKET order.
func (c *Client) PlaceStopLossOrder(ctx context.Context, req common.StopOrderRequest) (*common.Order, error) {
	return c.submitOrder(ctx, stopParams(common.OrderTypeStopMarket, req))
}

func stopParams(t common.OrderType, req common.StopOrderRequest) Params {
	p := Params{
		"symbol":       req.Symbol,
		"side":         string(req.Side),
		"type":         string(t),
		"positionSide": string(common.PositionBoth),
		"reduceOnly":   "true",
		"workingType":  common.WorkingTypeMark,
	}
	p.SetFloat("stopPrice", req.StopPrice)
	p.SetFloat("quantity", req.Quantity)
	p.Set("newClientOrderId", req.ClientID)
	return p
}

// ClosePosition submits an opposite-side MARKET order with closePosition=true.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.PositionSide) (*common.Order, error) {
	p := Params{
		"symbol":        symbol,
		"side":          string(side.ExitSide()),
		"type":          string(common.OrderTypeMarket),
		"positionSide":  string(common.PositionBoth),
		"closePosition": "true",
	}
	return c.submitOrder(ctx, p)
}

// CancelAllOrders cancels every open order on symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", Params{"symbol": symbol})
	return err
}

// QueryOrder looks up one order and reports lookup failures.
func (c *Client) QueryOrder(ctx context.Context, symbol string, orderID int64) (*common.Order, error) {
	p := Params{"symbol": symbol}.SetInt("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", p)
	if err != nil {
		return nil, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// GetOrder is QueryOrder for polling: failures are logged and yield nil.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) *common.Order {
	o, err := c.QueryOrder(ctx, symbol, orderID)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Warn("order lookup failed")
		return nil
	}
	return o
}

// WaitForFill polls the order until it fills, dies or maxWait elapses.
func (c *Client) WaitForFill(ctx context.Context, symbol string, orderID int64, maxWait time.Duration) bool {
	return common.PollFill(ctx, func(ctx context.Context) *common.Order {
		return c.GetOrder(ctx, symbol, orderID)
	}, c.cfg.PollInterval, maxWait)
}

func (c *Client) submitOrder(ctx context.Context, p Params) (*common.Order, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", p)
	if err != nil {
		return nil, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	o := resp.toOrder()
	if o.Symbol == "" {
		o.Symbol = p["symbol"]
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	c.log.WithFields(logrus.Fields{
		"symbol":   o.Symbol,
		"order_id": o.OrderID,
		"type":     p["type"],
		"side":     p["side"],
		"status":   o.Status,
	}).Info("order submitted")
	return o, nil
}

// doSigned signs params for path and sends them: GET and DELETE as query
// string, everything else as a JSON body.
func (c *Client) doSigned(ctx context.Context, method, path string, params Params) ([]byte, error) {
	if c.signer == nil {
		return nil, &ConfigError{Field: "signing_key", Msg: "client has no signer"}
	}
	signed, err := c.signer.Sign(path, params)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed.Query().Encode(), nil)
	default:
		payload, merr := json.Marshal(signed.Body())
		if merr != nil {
			return nil, fmt.Errorf("encode body: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	}
	if err != nil {
		return nil, err
	}
	for k, v := range signed.Headers {
		req.Header.Set(k, v)
	}

	c.log.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"nonce":  signed.Nonce,
	}).Debug("signed request")
	return c.send(ctx, req, path)
}

func (c *Client) doPublic(ctx context.Context, path string, q url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, path)
}

func (c *Client) send(ctx context.Context, req *http.Request, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aster %s %s: %w", req.Method, path, err)
	}
	defer res.Body.Close()

	c.weights.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("aster %s %s: read body: %w", req.Method, path, err)
	}
	if res.StatusCode >= 300 {
		return nil, newAPIError(req.Method, path, res.StatusCode, body)
	}
	return body, nil
}

// IsAPIError reports whether err carries an exchange error response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Ping checks connectivity and returns the server clock skew.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	skew := time.Duration(serverTime-time.Now().UnixMilli()) * time.Millisecond
	return skew, nil
}

// UsedWeight returns the last reported request weight.
func (c *Client) UsedWeight() string {
	used, limit := c.WeightUsage()
	return strconv.Itoa(used) + "/" + strconv.Itoa(limit)
}

// WeightUsage returns the last reported request weight and the limit.
func (c *Client) WeightUsage() (used, limit int) {
	used, limit, _ = c.weights.Usage()
	return used, limit
}
