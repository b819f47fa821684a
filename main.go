package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lnlrnzn/trumptrader/internal/accounts"
	"github.com/lnlrnzn/trumptrader/internal/api"
	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
	"github.com/lnlrnzn/trumptrader/internal/monitor"
	"github.com/lnlrnzn/trumptrader/internal/order"
	"github.com/lnlrnzn/trumptrader/internal/persistence"
	"github.com/lnlrnzn/trumptrader/internal/reconciliation"
	"github.com/lnlrnzn/trumptrader/internal/sizing"
	"github.com/lnlrnzn/trumptrader/pkg/config"
	"github.com/lnlrnzn/trumptrader/pkg/db"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/aster"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/common"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/paper"
)

var (
	cfgFile string
	logger  *logrus.Logger
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trumptrader",
		Short: "Signal-driven futures execution core for AsterDEX",
		Long: `Receives classified trading signals, gates them through risk checks, sizes
the position and runs a market entry with three take-profits and a stop-loss.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger("info", "text")
			return nil
		},
		RunE: runTrader,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the execution core and HTTP API",
		RunE:  runTrader,
	}
	rootCmd.AddCommand(runCmd, addressCmd(), verifyCmd(), signCmd(), pingCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *logrus.Logger {
	l := logrus.New()
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithError(err).Error("Invalid log level, using INFO")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newSigner(cfg *config.Config) (*aster.Signer, error) {
	return aster.NewSigner(aster.Credentials{
		OwnerAddress:      cfg.Aster.OwnerAddress,
		SigningKey:        cfg.Aster.SigningKey,
		SignerAddress:     cfg.Aster.SignerAddress,
		RequireSameWallet: cfg.Aster.RequireSameWallet,
	})
}

func newClient(cfg *config.Config, signer *aster.Signer) *aster.Client {
	return aster.NewClient(aster.Config{
		BaseURL:           cfg.Aster.BaseURL,
		RecvWindow:        cfg.Aster.RecvWindow,
		Timeout:           cfg.Aster.Timeout,
		RequestsPerSecond: cfg.Aster.RequestsPerSecond,
	}, signer, logger)
}

// exchangeSet is the venue the engine trades on plus what else main needs
// from it.
type exchangeSet struct {
	gateway common.Gateway
	filters common.FilterSource
	client  *aster.Client
	venue   string
}

func buildExchange(ctx context.Context, cfg *config.Config) (*exchangeSet, error) {
	if cfg.DryRun.Enabled {
		// Public client for live prices; no credentials needed.
		public := newClient(cfg, nil)
		x := paper.New(paper.Config{
			InitialBalance: cfg.DryRun.InitialBalance,
			FeeRate:        cfg.DryRun.FeeRate,
			SlippageBps:    cfg.DryRun.SlippageBps,
			PriceTTL:       2 * time.Second,
		}, public, logger)
		logger.WithField("initial_balance", cfg.DryRun.InitialBalance).Info("dry run: paper exchange with live prices")
		return &exchangeSet{gateway: x, filters: x, client: public, venue: "paper"}, nil
	}

	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	client := newClient(cfg, signer)
	client.StartTimeSync(ctx)
	logger.WithFields(logrus.Fields{
		"owner":  signer.OwnerAddress(),
		"signer": signer.SignerAddress(),
		"url":    cfg.Aster.BaseURL,
	}).Info("aster client ready")
	return &exchangeSet{gateway: client, filters: client, client: client, venue: "asterdex"}, nil
}

func buildPrecision(cfg *config.Config, filters common.FilterSource) (sizing.Policy, error) {
	if cfg.Trading.Precision == "static" {
		p, err := sizing.NewPrecision(cfg.Trading.QtyStep, cfg.Trading.PriceTick)
		if err != nil {
			return nil, err
		}
		return sizing.StaticPolicy{Precision: p}, nil
	}
	return sizing.NewExchangePolicy(filters), nil
}

func runTrader(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	store := database.Queries()
	logger.WithField("path", cfg.Database.Path).Info("database ready")

	registry, err := accounts.Load(cfg.Trading.AccountsFile)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	logger.WithField("accounts", registry.Len()).Info("account registry loaded")

	ex, err := buildExchange(ctx, cfg)
	if err != nil {
		return err
	}
	if err := metrics.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trader_exchange_used_weight",
		Help: "Request weight last reported by the exchange",
	}, func() float64 {
		used, _ := ex.client.WeightUsage()
		return float64(used)
	})); err != nil {
		logger.WithError(err).Warn("weight gauge not registered")
	}

	precision, err := buildPrecision(cfg, ex.filters)
	if err != nil {
		return fmt.Errorf("precision: %w", err)
	}

	eng := engine.New(ex.gateway, engine.Options{
		Trading: engine.TradingConfig{
			Enabled:                cfg.Trading.Enabled,
			MaxPositionSizePercent: cfg.Trading.MaxPositionSizePercent,
			Leverage:               cfg.Trading.Leverage,
			MinConfidenceThreshold: cfg.Trading.MinConfidenceThreshold,
			CooldownMinutes:        cfg.Trading.CooldownMinutes,
			MaxDailyTrades:         cfg.Trading.MaxDailyTrades,
		},
		DefaultSymbol: cfg.Trading.DefaultSymbol,
		FillTimeout:   cfg.Trading.FillTimeout,
		CloseTimeout:  cfg.Trading.CloseTimeout,
		Precision:     precision,
		Bus:           bus,
		Logger:        logger,
	})

	// Restore the last open position so reconciliation can pick it up.
	if rec, err := store.GetOpenPosition(ctx); err == nil {
		if eng.RestorePosition(persistence.PositionFromRecord(rec)) {
			logger.WithFields(logrus.Fields{"position_id": rec.ID, "symbol": rec.Symbol}).Info("restored open position")
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("restore position: %w", err)
	}

	recorder := persistence.NewRecorder(store, bus, logger)
	recorder.Start(ctx)
	defer recorder.Stop()

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Sink: monitor.LogSink{Log: logger}, Log: logger}
	mon.Start(ctx)

	recon := reconciliation.NewService(ex.gateway, eng, cfg.Trading.ReconcileInterval, logger)
	recon.Start(ctx)

	dispatcher := order.NewDispatcher(eng, cfg.Trading.QueueCapacity, bus, logger)
	dispatcher.Start(ctx)

	server := api.NewServer(api.Deps{
		Engine:     eng,
		Dispatcher: dispatcher,
		Balance:    ex.gateway,
		Store:      store,
		Accounts:   registry,
		Bus:        bus,
		Metrics:    metrics,
		Logger:     logger,
	}, api.SystemMeta{
		DryRun:  cfg.DryRun.Enabled,
		Venue:   ex.venue,
		Symbol:  cfg.Trading.DefaultSymbol,
		Version: version,
	}, cfg.Server.JWTSecret)
	go server.WatchResults(ctx, dispatcher.Results())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(":" + cfg.Server.Port)
	}()

	logger.WithFields(logrus.Fields{
		"venue":   ex.venue,
		"enabled": cfg.Trading.Enabled,
		"symbol":  cfg.Trading.DefaultSymbol,
	}).Info("trading core is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("api server stopped")
		}
		cancel()
	}

	// Graceful shutdown: stop intake first, then wait for the dispatcher worker.
	shutdownCtx, done := context.WithTimeout(context.Background(), 20*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api shutdown")
	}
	dispatcher.Close()
	logger.Info("trading core stopped")
	return nil
}
