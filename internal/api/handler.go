// Package api exposes the trading core over HTTP: the inbound signal
// trigger, status and control endpoints, metrics and an event stream.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/accounts"
	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/monitor"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/pkg/db"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
)

// Submitter accepts signals for asynchronous execution.
type Submitter interface {
	Submit(s order.Signal) (order.Signal, error)
	Busy() bool
	Pending() int
	Counts() (accepted, rejected uint64)
}

// BalanceSource reports the exchange account balance.
type BalanceSource interface {
	GetAccountBalance(ctx context.Context) (common.Balance, error)
}

// TradeStore is the read side of the trade store.
type TradeStore interface {
	ListPositions(ctx context.Context, limit int) ([]db.Position, error)
	ListDecisions(ctx context.Context, limit int) ([]db.Decision, error)
	TradeStats(ctx context.Context) (db.TradeStats, error)
}

// SystemMeta describes runtime status exposed on /health.
type SystemMeta struct {
	DryRun  bool   `json:"dry_run"`
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	Version string `json:"version"`
}

// Deps are the collaborators the server reads from and drives.
type Deps struct {
	Engine     engine.Service
	Dispatcher Submitter
	Balance    BalanceSource
	Store      TradeStore
	Accounts   *accounts.Registry
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Logger     *logrus.Logger
}

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router     *gin.Engine
	Engine     engine.Service
	Dispatcher Submitter
	Balance    BalanceSource
	Store      TradeStore
	Accounts   *accounts.Registry
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	JWTSecret  string
	Meta       SystemMeta

	log *logrus.Logger

	mu         sync.RWMutex
	lastResult *order.ExecutionResult
	httpServer *http.Server
}

// NewServer builds the router and registers every route.
func NewServer(deps Deps, meta SystemMeta, jwtSecret string) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registry := deps.Accounts
	if registry == nil {
		registry, _ = accounts.NewRegistry(nil)
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, deps.Metrics))
	r.Use(RateLimitMiddleware(20, 50, logger))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Engine:     deps.Engine,
		Dispatcher: deps.Dispatcher,
		Balance:    deps.Balance,
		Store:      deps.Store,
		Accounts:   registry,
		Bus:        deps.Bus,
		Metrics:    deps.Metrics,
		JWTSecret:  jwtSecret,
		Meta:       meta,
		log:        logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(30 * time.Second))

	// Protected API
	protected := api.Group("")
	protected.Use(AuthMiddleware(s.JWTSecret))
	{
		protected.GET("/position", s.getPosition)
		protected.GET("/stats", s.getStats)
		protected.GET("/balance", s.getBalance)
		protected.GET("/config", s.getConfig)
		protected.GET("/trades", s.getTrades)
		protected.GET("/trades/last", s.getLastTrade)
		protected.GET("/decisions", s.getDecisions)
		protected.GET("/accounts", s.getAccounts)

		// Actions
		protected.POST("/signals", s.submitSignal)
		protected.POST("/emergency-close", s.emergencyClose)
		protected.PUT("/config", s.updateConfig)
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "meta": s.Meta}
	if s.Engine != nil {
		resp["phase"] = s.Engine.Phase()
	}
	c.JSON(http.StatusOK, resp)
}

// WatchResults records dispatcher results so /api/trades/last can serve the
// latest one. It returns when results is closed or ctx is done.
func (s *Server) WatchResults(ctx context.Context, results <-chan order.ExecutionResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			s.mu.Lock()
			r := res
			s.lastResult = &r
			s.mu.Unlock()
		}
	}
}

// LastResult returns the most recent execution result, or nil.
func (s *Server) LastResult() *order.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return nil
	}
	r := *s.lastResult
	return &r
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.WithField("addr", addr).Info("api server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
