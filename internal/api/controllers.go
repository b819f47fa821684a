package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/accounts"
	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/internal/persistence"
)

type signalRequest struct {
	Signal              string   `json:"signal" binding:"required"`
	Confidence          float64  `json:"confidence" binding:"gte=0,lte=100"`
	Reasoning           string   `json:"reasoning"`
	Magnitude           string   `json:"magnitude"`
	Symbols             []string `json:"symbols"`
	PositionSizePercent *float64 `json:"position_size_percent" binding:"omitempty,gt=0,lte=100"`
	Leverage            *int     `json:"leverage" binding:"omitempty,gte=1,lte=125"`
	Account             string   `json:"account"`
	SourceID            string   `json:"source_id"`
}

type updateConfigRequest struct {
	Enabled                *bool    `json:"enabled"`
	MaxPositionSizePercent *float64 `json:"max_position_size_percent" binding:"omitempty,gt=0,lte=100"`
	Leverage               *int     `json:"leverage" binding:"omitempty,gte=1,lte=125"`
	MinConfidenceThreshold *float64 `json:"min_confidence_threshold" binding:"omitempty,gte=0,lte=100"`
	CooldownMinutes        *float64 `json:"cooldown_minutes" binding:"omitempty,gte=0"`
	MaxDailyTrades         *int     `json:"max_daily_trades" binding:"omitempty,gte=0"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// submitSignal is the inbound trigger. Accepted signals run on the
// dispatcher worker; the response never waits for the trade.
func (s *Server) submitSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	sig := engine.Signal(strings.ToUpper(strings.TrimSpace(req.Signal)))
	if !sig.Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_SIGNAL", fmt.Sprintf("Invalid signal %q", req.Signal))
		return
	}

	overrides := engine.Overrides{}
	confidence := req.Confidence
	threshold := 0.0
	if req.Account != "" {
		acct, err := s.Accounts.Get(req.Account)
		if err != nil {
			respondError(c, http.StatusBadRequest, "UNKNOWN_ACCOUNT", err.Error())
			return
		}
		if !acct.Enabled {
			s.drop(c, req, sig, confidence, "Account disabled")
			return
		}
		overrides = acct.Overrides()
		confidence = acct.AdjustConfidence(req.Confidence)
		threshold = acct.Threshold()
	}
	mergeRequestOverrides(&overrides, req)

	if sig == engine.SignalHold {
		s.drop(c, req, sig, confidence, engine.ErrHoldSignal.Error())
		return
	}
	if req.Account != "" && confidence < threshold {
		s.drop(c, req, sig, confidence,
			fmt.Sprintf("Adjusted confidence too low (%.1f%% < %s%%)", confidence, trimFloat(threshold)))
		return
	}

	accepted, err := s.Dispatcher.Submit(order.Signal{
		Decision: engine.Decision{
			Signal:     sig,
			Confidence: confidence,
			Reasoning:  req.Reasoning,
			Magnitude:  req.Magnitude,
			SourceID:   req.SourceID,
		},
		Overrides:     overrides,
		Account:       req.Account,
		RawConfidence: req.Confidence,
	})
	switch {
	case errors.Is(err, order.ErrBusy):
		respondError(c, http.StatusConflict, "BUSY", engine.ErrBusy.Error())
		return
	case errors.Is(err, order.ErrClosed):
		respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":            true,
		"signal_id":           accepted.ID,
		"adjusted_confidence": confidence,
	})
}

func mergeRequestOverrides(o *engine.Overrides, req signalRequest) {
	if len(req.Symbols) > 0 {
		o.Symbols = req.Symbols
	}
	if req.PositionSizePercent != nil {
		o.PositionSizePercent = req.PositionSizePercent
	}
	if req.Leverage != nil {
		o.Leverage = req.Leverage
	}
}

func (s *Server) drop(c *gin.Context, req signalRequest, sig engine.Signal, confidence float64, reason string) {
	s.log.WithFields(logrus.Fields{
		"signal":     sig,
		"account":    req.Account,
		"confidence": confidence,
		"reason":     reason,
	}).Info("signal acknowledged, no trade")
	c.JSON(http.StatusOK, gin.H{
		"accepted":            false,
		"reason":              reason,
		"adjusted_confidence": confidence,
	})
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func (s *Server) getPosition(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"phase":    s.Engine.Phase(),
		"position": s.Engine.CurrentPosition(),
	})
}

func (s *Server) getStats(c *gin.Context) {
	resp := gin.H{"engine": s.Engine.Stats()}
	if s.Dispatcher != nil {
		accepted, rejected := s.Dispatcher.Counts()
		resp["dispatcher"] = gin.H{
			"busy":     s.Dispatcher.Busy(),
			"pending":  s.Dispatcher.Pending(),
			"accepted": accepted,
			"rejected": rejected,
		}
	}
	if s.Store != nil {
		stats, err := s.Store.TradeStats(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		resp["trades"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getBalance(c *gin.Context) {
	if s.Balance == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "balance source not configured")
		return
	}
	bal, err := s.Balance.GetAccountBalance(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (s *Server) emergencyClose(c *gin.Context) {
	s.log.WithField("operator", CurrentOperator(c)).Warn("emergency close requested")
	if err := s.Engine.EmergencyClose(c.Request.Context()); err != nil {
		respondError(c, http.StatusBadGateway, "CLOSE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"closed":   true,
		"position": s.Engine.CurrentPosition(),
	})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Config())
}

func (s *Server) updateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cfg := s.Engine.Config()
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.MaxPositionSizePercent != nil {
		cfg.MaxPositionSizePercent = *req.MaxPositionSizePercent
	}
	if req.Leverage != nil {
		cfg.Leverage = *req.Leverage
	}
	if req.MinConfidenceThreshold != nil {
		cfg.MinConfidenceThreshold = *req.MinConfidenceThreshold
	}
	if req.CooldownMinutes != nil {
		cfg.CooldownMinutes = *req.CooldownMinutes
	}
	if req.MaxDailyTrades != nil {
		cfg.MaxDailyTrades = *req.MaxDailyTrades
	}
	s.Engine.UpdateConfig(cfg)
	s.log.WithField("operator", CurrentOperator(c)).Info("trading config changed over api")
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getTrades(c *gin.Context) {
	if s.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "trade store not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	rows, err := s.Store.ListPositions(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]*engine.Position, 0, len(rows))
	for i := range rows {
		out = append(out, persistence.PositionFromRecord(&rows[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getLastTrade(c *gin.Context) {
	last := s.LastResult()
	if last == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no trade executed yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signal_id":  last.SignalID,
		"success":    last.Result.Success,
		"position":   last.Result.Position,
		"error":      last.Result.Error,
		"latency_ms": last.Latency.Milliseconds(),
		"timestamp":  last.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) getDecisions(c *gin.Context) {
	if s.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "trade store not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	rows, err := s.Store.ListDecisions(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, d := range rows {
		out = append(out, gin.H{
			"id":                  d.ID,
			"signal":              d.Signal,
			"confidence":          d.Confidence,
			"adjusted_confidence": d.AdjustedConfidence,
			"reasoning":           d.Reasoning,
			"account":             d.Account,
			"executed":            d.Executed,
			"error":               d.Error,
			"position_id":         d.PositionID,
			"created_at":          d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getAccounts(c *gin.Context) {
	list := s.Accounts.List()
	if list == nil {
		list = []accounts.Account{}
	}
	c.JSON(http.StatusOK, list)
}
