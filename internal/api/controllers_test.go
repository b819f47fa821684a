package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/accounts"
	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/monitor"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/pkg/db"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/paper"
)

const testSecret = "test-secret"

type stubDispatcher struct {
	mu        sync.Mutex
	submitted []order.Signal
	err       error
}

func (d *stubDispatcher) Submit(s order.Signal) (order.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return s, d.err
	}
	s.ID = "sig-1"
	d.submitted = append(d.submitted, s)
	return s, nil
}

func (d *stubDispatcher) Busy() bool                           { return d.err != nil }
func (d *stubDispatcher) Pending() int                         { return 0 }
func (d *stubDispatcher) Counts() (accepted, rejected uint64) { return uint64(len(d.submitted)), 0 }

type testEnv struct {
	ts         *httptest.Server
	server     *Server
	engine     *engine.Engine
	exchange   *paper.Exchange
	dispatcher *stubDispatcher
	token      string
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := quietLogger()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	x := paper.New(paper.Config{InitialBalance: 10000, Seed: 1}, nil, logger)
	x.SetPrice("BTCUSDT", 100000)
	cfg := engine.DefaultTradingConfig()
	cfg.Enabled = true
	eng := engine.New(x, engine.Options{Trading: cfg, Logger: logger, Bus: events.NewBus()})

	minConf := 70.0
	registry, err := accounts.NewRegistry([]accounts.Account{
		{Username: "realDonaldTrump", Enabled: true, ConfidenceMultiplier: 0.9, Symbols: []string{"ETHUSDT"}, MinConfidenceThreshold: &minConf},
		{Username: "muted", Enabled: false, ConfidenceMultiplier: 1},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	disp := &stubDispatcher{}
	server := NewServer(Deps{
		Engine:     eng,
		Dispatcher: disp,
		Balance:    x,
		Store:      database.Queries(),
		Accounts:   registry,
		Metrics:    monitor.NewMetrics(),
		Logger:     logger,
	}, SystemMeta{DryRun: true, Venue: "paper", Symbol: "BTCUSDT", Version: "test"}, testSecret)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		ts.Close()
		_ = database.Close()
	})

	token, err := GenerateToken("tester", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return &testEnv{ts: ts, server: server, engine: eng, exchange: x, dispatcher: disp, token: token}
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	client := env.ts.Client()

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/signals", "", map[string]any{"signal": "LONG", "confidence": 90}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected 401 MISSING_TOKEN, got %d %s", status, resp.Code)
	}

	forged, _ := GenerateToken("tester", "other-secret", time.Hour)
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/emergency-close", forged, nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expected 401 INVALID_TOKEN, got %d %s", status, resp.Code)
	}

	status = doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("health status=%d", status)
	}
}

func TestSubmitSignal(t *testing.T) {
	env := newTestEnv(t)
	client := env.ts.Client()
	url := env.ts.URL + "/api/signals"

	type ack struct {
		Accepted           bool    `json:"accepted"`
		SignalID           string  `json:"signal_id"`
		Reason             string  `json:"reason"`
		AdjustedConfidence float64 `json:"adjusted_confidence"`
		Code               string  `json:"code"`
	}

	tests := []struct {
		name       string
		payload    map[string]any
		wantStatus int
		wantCode   string
		wantReason string
	}{
		{name: "invalid signal", payload: map[string]any{"signal": "BUY", "confidence": 90}, wantStatus: http.StatusBadRequest, wantCode: "INVALID_SIGNAL"},
		{name: "confidence out of range", payload: map[string]any{"signal": "LONG", "confidence": 130}, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "unknown account", payload: map[string]any{"signal": "LONG", "confidence": 90, "account": "nobody"}, wantStatus: http.StatusBadRequest, wantCode: "UNKNOWN_ACCOUNT"},
		{name: "hold", payload: map[string]any{"signal": "hold", "confidence": 90}, wantStatus: http.StatusOK, wantReason: "Signal is HOLD"},
		{name: "disabled account", payload: map[string]any{"signal": "LONG", "confidence": 90, "account": "muted"}, wantStatus: http.StatusOK, wantReason: "Account disabled"},
		{name: "below account threshold", payload: map[string]any{"signal": "SHORT", "confidence": 70, "account": "realDonaldTrump"}, wantStatus: http.StatusOK, wantReason: "Adjusted confidence too low (63.0% < 70%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ack
			status := doJSONRequest(t, client, http.MethodPost, url, env.token, tt.payload, &resp)
			if status != tt.wantStatus {
				t.Fatalf("status=%d, expected %d (%+v)", status, tt.wantStatus, resp)
			}
			if tt.wantCode != "" && resp.Code != tt.wantCode {
				t.Fatalf("code=%s, expected %s", resp.Code, tt.wantCode)
			}
			if tt.wantReason != "" && (resp.Accepted || resp.Reason != tt.wantReason) {
				t.Fatalf("unexpected ack %+v", resp)
			}
		})
	}
	if len(env.dispatcher.submitted) != 0 {
		t.Fatalf("nothing should have been dispatched, got %d", len(env.dispatcher.submitted))
	}

	var resp ack
	status := doJSONRequest(t, client, http.MethodPost, url, env.token, map[string]any{
		"signal": "long", "confidence": 100, "account": "@realDonaldTrump", "leverage": 10, "reasoning": "tariffs",
	}, &resp)
	if status != http.StatusAccepted || !resp.Accepted || resp.SignalID != "sig-1" || resp.AdjustedConfidence != 90 {
		t.Fatalf("unexpected accept status=%d resp=%+v", status, resp)
	}
	got := env.dispatcher.submitted[0]
	if got.Decision.Signal != engine.SignalLong || got.Decision.Confidence != 90 || got.RawConfidence != 100 {
		t.Fatalf("unexpected decision %+v", got)
	}
	if len(got.Overrides.Symbols) != 1 || got.Overrides.Symbols[0] != "ETHUSDT" || *got.Overrides.Leverage != 10 {
		t.Fatalf("overrides not merged: %+v", got.Overrides)
	}

	env.dispatcher.err = order.ErrBusy
	status = doJSONRequest(t, client, http.MethodPost, url, env.token, map[string]any{"signal": "SHORT", "confidence": 90}, &resp)
	if status != http.StatusConflict || resp.Code != "BUSY" {
		t.Fatalf("expected 409 BUSY, got %d %+v", status, resp)
	}
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	client := env.ts.Client()
	url := env.ts.URL + "/api/config"

	var cfg engine.TradingConfig
	status := doJSONRequest(t, client, http.MethodPut, url, env.token, map[string]any{"leverage": 20, "enabled": false}, &cfg)
	if status != http.StatusOK || cfg.Leverage != 20 || cfg.Enabled || cfg.MaxPositionSizePercent != 15 {
		t.Fatalf("unexpected config status=%d cfg=%+v", status, cfg)
	}
	if env.engine.Config().Leverage != 20 {
		t.Fatalf("engine config not updated")
	}

	status = doJSONRequest(t, client, http.MethodPut, url, env.token, map[string]any{"leverage": 500}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for leverage 500, got %d", status)
	}
}

func TestEmergencyCloseAndStatus(t *testing.T) {
	env := newTestEnv(t)
	client := env.ts.Client()

	res := env.engine.ExecuteTrade(context.Background(), engine.Decision{ID: "d-1", Signal: engine.SignalLong, Confidence: 90}, engine.Overrides{})
	if !res.Success {
		t.Fatalf("ExecuteTrade: %s", res.Error)
	}

	var pos struct {
		Phase    engine.Phase     `json:"phase"`
		Position *engine.Position `json:"position"`
	}
	status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/position", env.token, nil, &pos)
	if status != http.StatusOK || pos.Phase != engine.PhaseOpen || !pos.Position.IsOpen() {
		t.Fatalf("unexpected position status=%d resp=%+v", status, pos)
	}

	var closed struct {
		Closed   bool             `json:"closed"`
		Position *engine.Position `json:"position"`
	}
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/emergency-close", env.token, nil, &closed)
	if status != http.StatusOK || !closed.Closed || closed.Position.Status != engine.PositionClosed {
		t.Fatalf("unexpected close status=%d resp=%+v", status, closed)
	}
	if *closed.Position.ExitReason != engine.ExitManual {
		t.Fatalf("exit reason=%s, expected MANUAL", *closed.Position.ExitReason)
	}

	var stats map[string]any
	status = doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/stats", env.token, nil, &stats)
	if status != http.StatusOK || stats["engine"] == nil || stats["dispatcher"] == nil || stats["trades"] == nil {
		t.Fatalf("unexpected stats status=%d resp=%v", status, stats)
	}

	var bal struct {
		Total float64 `json:"total"`
	}
	status = doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/balance", env.token, nil, &bal)
	if status != http.StatusOK || bal.Total <= 0 {
		t.Fatalf("unexpected balance status=%d resp=%+v", status, bal)
	}
}

func TestLastTradeAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	client := env.ts.Client()

	status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/trades/last", env.token, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 before any trade, got %d", status)
	}

	results := make(chan order.ExecutionResult, 1)
	results <- order.ExecutionResult{SignalID: "sig-9", Result: engine.Result{Error: "Insufficient balance"}, Timestamp: time.Now()}
	close(results)
	env.server.WatchResults(context.Background(), results)

	var last struct {
		SignalID string `json:"signal_id"`
		Success  bool   `json:"success"`
		Error    string `json:"error"`
	}
	status = doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/trades/last", env.token, nil, &last)
	if status != http.StatusOK || last.SignalID != "sig-9" || last.Success || last.Error != "Insufficient balance" {
		t.Fatalf("unexpected last trade status=%d resp=%+v", status, last)
	}

	var trades []engine.Position
	status = doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/trades?limit=5", env.token, nil, &trades)
	if status != http.StatusOK || len(trades) != 0 {
		t.Fatalf("unexpected trades status=%d resp=%+v", status, trades)
	}

	resp, err := client.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "trader_api_requests_total") {
		t.Fatalf("metrics missing api counters: %d", resp.StatusCode)
	}
}
