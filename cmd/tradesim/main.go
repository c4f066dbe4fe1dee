// Package main provides the entry point for the trading simulation engine.
// It wires the event queue, simulated exchange, portfolio and order
// subsystems, strategies and the API server, then either replays a
// historical bar file as a backtest or runs the live event loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/altfolio/tradesim/internal/api"
	"github.com/altfolio/tradesim/internal/config"
	"github.com/altfolio/tradesim/internal/data"
	"github.com/altfolio/tradesim/internal/engine"
	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/internal/exchange"
	"github.com/altfolio/tradesim/internal/orders"
	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/internal/sizing"
	"github.com/altfolio/tradesim/internal/strategy"
	"github.com/altfolio/tradesim/internal/telemetry"
	"github.com/altfolio/tradesim/internal/workers"
	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	mode := flag.String("mode", "", "Override run mode (backtest, live)")
	dataFile := flag.String("data", "", "Override historical bar CSV file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	port := flag.Int("port", 0, "Override API server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *dataFile != "" {
		cfg.DataFile = *dataFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting trading simulation engine",
		zap.String("mode", cfg.Mode),
		zap.String("exchangePreset", cfg.Exchange.Preset),
		zap.String("marketExecution", cfg.Engine.MarketExecution),
	)

	queue := events.NewQueue()
	engineCfg := cfg.EngineConfig()

	exCfg, err := exchange.PresetConfig(cfg.Exchange.Preset)
	if err != nil {
		logger.Fatal("Unknown exchange preset", zap.Error(err))
	}
	if len(cfg.Exchange.Symbols) > 0 {
		exCfg.Limits.SupportedSymbols = cfg.Exchange.Symbols
	}
	ex, err := exchange.NewSimulatedExchange(logger, exCfg, queue)
	if err != nil {
		logger.Fatal("Failed to initialize exchange", zap.Error(err))
	}
	if result := ex.Connect(); !result.Success {
		logger.Fatal("Exchange connection failed", zap.String("error", result.ErrorMessage))
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	ids := idgen.New()
	portfolios := portfolio.NewHandler(logger, queue)
	specs := cfg.Portfolios
	if len(specs) == 0 {
		specs = []config.PortfolioSpec{{
			ID: "main", UserID: "local", Name: "Main", Exchange: ex.Name(), InitialCash: 100000,
		}}
	}
	for _, spec := range specs {
		portfolios.AddPortfolio(portfolio.NewPortfolio(
			logger, ids, spec.ID, spec.UserID, spec.Name, spec.Exchange,
			decimal.NewFromFloat(spec.InitialCash), types.DefaultPortfolioConfig(),
		))
		logger.Info("Portfolio created",
			zap.String("portfolioId", spec.ID),
			zap.Float64("initialCash", spec.InitialCash),
		)
	}

	storage := orders.NewMemoryStorage()
	manager := orders.NewManager(logger, storage, queue, engineCfg.MarketExecution)
	validator := orders.NewValidator(logger, portfolios, cfg.ValidatorConfig())
	orderHandler := orders.NewHandler(logger, ids, storage, manager, validator)

	strategies := engine.NewStrategyHost(logger, queue)
	if cfg.Strategy.Enabled {
		sma := strategy.NewSMACross(logger, strategy.SMACrossConfig{
			PortfolioID:   cfg.Strategy.PortfolioID,
			FastPeriod:    cfg.Strategy.FastPeriod,
			SlowPeriod:    cfg.Strategy.SlowPeriod,
			Quantity:      decimal.NewFromFloat(cfg.Strategy.Quantity),
			StopLossPct:   decimal.NewFromFloat(cfg.Strategy.StopLossPct),
			TakeProfitPct: decimal.NewFromFloat(cfg.Strategy.TakeProfPct),
		})
		sma.BindPositions(func(portfolioID, ticker string) decimal.Decimal {
			p, err := portfolios.GetPortfolio(portfolioID)
			if err != nil {
				return decimal.Zero
			}
			if pos, ok := p.Positions().GetPosition(ticker); ok {
				return pos.NetQuantity()
			}
			return decimal.Zero
		})
		strategies.Register(sma)
	}
	if cfg.Sizing.Enabled {
		strategies.SetSizer(sizing.NewFixedFractional(logger, portfolios, sizing.FixedFractionalConfig{
			RiskPerTrade: decimal.NewFromFloat(cfg.Sizing.RiskPerTrade),
			MaxEquityPct: decimal.NewFromFloat(cfg.Sizing.MaxEquityPct),
		}))
	}

	dispatcher := engine.NewDispatcher(
		logger, queue, ex, orderHandler, portfolios, strategies,
		engine.NewLogNotifier(logger), metrics, engineCfg,
	)

	server := api.NewServer(logger, cfg.Server, dispatcher, portfolios, orderHandler, ex, registry)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runner := workers.NewRunner(logger)

	switch cfg.Mode {
	case config.ModeBacktest:
		if cfg.DataFile != "" {
			if err := runBacktest(logger, dispatcher, cfg.DataFile); err != nil {
				logger.Fatal("Backtest failed", zap.Error(err))
			}
			reportResults(logger, portfolios)
		} else {
			logger.Warn("No data file configured, engine idle until events arrive")
		}
		logger.Info("Serving results, press Ctrl+C to exit",
			zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		)

	case config.ModeLive:
		if err := dispatcher.Start(); err != nil {
			logger.Fatal("Failed to start event loop", zap.Error(err))
		}
		_ = runner.Every("ping", 30*time.Second, func(now time.Time) {
			queue.Push(events.NewPingEvent(now, "heartbeat"))
		})
		if cfg.DataFile != "" {
			if err := startReplayFeed(logger, runner, queue, cfg.DataFile); err != nil {
				logger.Fatal("Replay feed failed", zap.Error(err))
			}
		}
		logger.Info("Live event loop running",
			zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
		)
	}

	<-sigChan
	logger.Info("Shutdown signal received")

	if err := runner.Stop(engineCfg.StopTimeout); err != nil {
		logger.Error("Error stopping background tasks", zap.Error(err))
	}
	if err := dispatcher.Stop(); err != nil {
		logger.Error("Error stopping event loop", zap.Error(err))
	}
	if result := ex.Disconnect(); !result.Success {
		logger.Error("Exchange disconnect failed", zap.String("error", result.ErrorMessage))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Engine stopped")
}

func loadBars(logger *zap.Logger, path string) ([]types.Bar, error) {
	bars, err := data.LoadBarsCSV(path)
	if err != nil {
		return nil, err
	}
	report := data.NewQualityValidator(logger).Validate(bars)
	logger.Info("Historical bars loaded",
		zap.String("file", path),
		zap.Int("bars", report.BarsChecked),
		zap.Int("qualityIssues", len(report.Issues)),
	)
	return bars, nil
}

func runBacktest(logger *zap.Logger, dispatcher *engine.Dispatcher, path string) error {
	bars, err := loadBars(logger, path)
	if err != nil {
		return err
	}
	return dispatcher.RunBacktest(engine.NewSliceFeedFromBars(bars))
}

// startReplayFeed pushes historical bars onto the live queue one event per
// second, simulating an external market data feed.
func startReplayFeed(logger *zap.Logger, runner *workers.Runner, queue *events.Queue, path string) error {
	bars, err := loadBars(logger, path)
	if err != nil {
		return err
	}
	feed := engine.NewSliceFeedFromBars(bars)
	return runner.Every("replay_feed", time.Second, func(time.Time) {
		if ev, ok := feed.Next(); ok {
			queue.Push(ev)
		}
	})
}

func reportResults(logger *zap.Logger, portfolios *portfolio.Handler) {
	for _, p := range portfolios.Portfolios() {
		snapshot := p.Snapshot()
		logger.Info("Backtest result",
			zap.String("portfolioId", snapshot.PortfolioID),
			zap.String("totalEquity", snapshot.TotalEquity.String()),
			zap.String("availableCash", snapshot.AvailableCash.String()),
			zap.String("realisedPnl", snapshot.TotalRealisedPnL.String()),
			zap.String("unrealisedPnl", snapshot.TotalUnrealisedPnL.String()),
			zap.Int("openPositions", snapshot.OpenPositions),
			zap.Int("closedTrades", len(p.Positions().ClosedPositions())),
		)
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
