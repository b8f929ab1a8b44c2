// Command backtest replays a finite historical timestamp axis through the
// Engine and writes results.csv/summary.json. Grounded on the teacher's
// cmd/server/main.go wiring shape (flag parsing, a setupLogger helper,
// component construction, signal-driven graceful shutdown), generalized
// from the teacher's HTTP-server-plus-autonomous-agent wiring to this
// engine's fixed component graph over a finite clock.Source.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basisdesk/engine/internal/clock"
	"github.com/basisdesk/engine/internal/config"
	"github.com/basisdesk/engine/internal/dataprovider"
	"github.com/basisdesk/engine/internal/engine"
	"github.com/basisdesk/engine/internal/eventlog"
	"github.com/basisdesk/engine/internal/execution"
	"github.com/basisdesk/engine/internal/exposure"
	"github.com/basisdesk/engine/internal/metrics"
	"github.com/basisdesk/engine/internal/pnl"
	"github.com/basisdesk/engine/internal/position"
	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/resultsstore"
	"github.com/basisdesk/engine/internal/risk"
	"github.com/basisdesk/engine/internal/strategy"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/basisdesk/engine/pkg/report"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	modesDir := flag.String("modes", "./config/modes", "Directory of per-mode YAML config files")
	mode := flag.String("mode", "", "Mode name (strategy_name) to run")
	start := flag.String("start", "", "Backtest start date (RFC3339)")
	end := flag.String("end", "", "Backtest end date (RFC3339)")
	initialCapital := flag.String("capital", "10000", "Initial capital in the share class unit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *mode == "" {
		logger.Fatal("-mode is required")
	}

	global, err := config.Load(logger, *modesDir)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if global.Env.ExecutionMode != types.ModeBacktest {
		logger.Fatal("BASIS_EXECUTION_MODE must be backtest for cmd/backtest",
			zap.String("executionMode", string(global.Env.ExecutionMode)))
	}

	capital, err := decimal.NewFromString(*initialCapital)
	if err != nil {
		logger.Fatal("invalid -capital", zap.Error(err))
	}

	startT, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		logger.Fatal("invalid -start", zap.Error(err))
	}
	endT, err := time.Parse(time.RFC3339, *end)
	if err != nil {
		logger.Fatal("invalid -end", zap.Error(err))
	}

	cfg, err := global.ForRequest(types.Request{
		StrategyName:   *mode,
		InitialCapital: capital,
		StartDate:      startT,
		EndDate:        endT,
	})
	if err != nil {
		logger.Fatal("failed to build mode config", zap.Error(err))
	}

	if err := dataprovider.ValidateRequirements(cfg.DataRequirements); err != nil {
		logger.Fatal("invalid data_requirements", zap.Error(err))
	}

	data, err := dataprovider.NewCSVProvider(logger, global.Env.DataDir, cfg.DataRequirements)
	if err != nil {
		logger.Fatal("failed to load CSV data", zap.Error(err))
	}

	timestamps, err := data.Timestamps(startT, endT)
	if err != nil {
		logger.Fatal("failed to build backtest timestamp axis", zap.Error(err))
	}
	if len(timestamps) == 0 {
		logger.Fatal("no eligible timestamps in the requested window")
	}
	clk := clock.NewBacktestClock(timestamps)

	subs, negativeProhibited := subscriptionsFor(cfg)
	venues := buildSimulatedVenues(logger, data, cfg)

	posMon := position.New(logger, false, subs, negativeProhibited, position.NewPeriodicSettlement(data), noopVenueQuerier{})
	expMon := exposure.New(logger, data, false, cfg.ShareClass, cfg.ComponentConfig.ExposureMonitor, cfg.ComponentConfig.StrategyManager.HedgeVenues)
	riskMon := risk.New(logger, data, posMon, cfg.ComponentConfig.RiskMonitor)
	pnlCalc := pnl.New(logger, capital, cfg.ComponentConfig.PnLCalculator)

	reconciler := reconcile.New(logger, false, posMon, noopVenueQuerier{}, nil, decimal.Zero, expMon, riskMon, pnlCalc)

	venueManager := venue.NewManager(venues, supportedOpsFor(cfg))
	execMgr := execution.New(logger, venueManager, reconciler, types.ModeBacktest)

	family, err := strategy.NewFamily(cfg)
	if err != nil {
		logger.Fatal("failed to select strategy family", zap.Error(err))
	}
	strategyMgr := strategy.New(logger, family, cfg)

	if err := os.MkdirAll(global.Env.ResultsDir, 0o755); err != nil {
		logger.Fatal("failed to create results directory", zap.Error(err))
	}
	eventSink, err := eventlog.NewSQLiteSink(global.Env.ResultsDir + "/events.db")
	if err != nil {
		logger.Fatal("failed to open event sink", zap.Error(err))
	}
	events := eventlog.New(logger, eventSink, 0)
	riskMon.SetEvents(events)

	resultsSink, err := resultsstore.NewFileSink(global.Env.ResultsDir)
	if err != nil {
		logger.Fatal("failed to open results sink", zap.Error(err))
	}
	results := resultsstore.New(logger, resultsSink)

	eng := engine.New(logger, clk, posMon, expMon, riskMon, pnlCalc, strategyMgr, execMgr, events, results, types.ModeBacktest)
	eng.SetMetrics(metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, cancelling run")
		cancel()
	}()

	logger.Info("starting backtest", zap.String("mode", *mode), zap.Int("timesteps", len(timestamps)))
	runErr := eng.Run(ctx)

	if err := events.Close(); err != nil {
		logger.Error("error closing event log", zap.Error(err))
	}
	if err := results.Close(); err != nil {
		logger.Error("error closing results store", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("backtest run failed", zap.Error(runErr))
		os.Exit(1)
	}

	summary, err := report.LoadSummary(global.Env.ResultsDir + "/summary.json")
	if err != nil {
		logger.Error("failed to load summary for display", zap.Error(err))
		return
	}
	report.WriteSummaryTable(os.Stdout, summary)
}

// subscriptionsFor derives the position keys PositionMonitor tracks from
// the mode's primary venue/asset/LST and hedge venues.
func subscriptionsFor(cfg types.ModeConfig) (subscriptions, negativeProhibited []types.PositionKey) {
	smc := cfg.ComponentConfig.StrategyManager
	subscriptions = append(subscriptions,
		types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.ShareClass},
		types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.Asset},
	)
	if cfg.LSTType != "" {
		subscriptions = append(subscriptions, types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.LSTType})
	}
	if cfg.BorrowingEnabled {
		aToken := types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionAToken, Symbol: cfg.Asset}
		debtToken := types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionDebtToken, Symbol: cfg.ShareClass}
		subscriptions = append(subscriptions, aToken, debtToken)
		negativeProhibited = append(negativeProhibited, aToken)
	}
	for _, hv := range smc.HedgeVenues {
		subscriptions = append(subscriptions, types.PositionKey{Venue: hv, Type: types.PositionPerp, Symbol: cfg.Asset})
	}
	return subscriptions, negativeProhibited
}

func supportedOpsFor(cfg types.ModeConfig) map[string][]types.OrderOperation {
	ops := map[string][]types.OrderOperation{
		cfg.ComponentConfig.StrategyManager.PrimaryVenue: {
			types.OpSpotTrade, types.OpSupply, types.OpWithdraw, types.OpBorrow, types.OpRepay, types.OpStake, types.OpUnstake,
		},
	}
	for _, hv := range cfg.ComponentConfig.StrategyManager.HedgeVenues {
		ops[hv] = append(ops[hv], types.OpPerpTrade)
	}
	return ops
}

func buildSimulatedVenues(logger *zap.Logger, data dataprovider.Provider, cfg types.ModeConfig) map[string]venue.Interface {
	venues := make(map[string]venue.Interface)
	smc := cfg.ComponentConfig.StrategyManager
	venues[smc.PrimaryVenue] = venue.NewSimulatedVenue(smc.PrimaryVenue, logger, data, decimal.NewFromFloat(0.0005))
	for _, hv := range smc.HedgeVenues {
		venues[hv] = venue.NewSimulatedVenue(hv, logger, data, decimal.NewFromFloat(0.0005))
	}
	return venues
}

// noopVenueQuerier answers real-position queries with an empty map, valid
// in backtest where PositionMonitor and PositionUpdateHandler never query
// a real venue (§4.3, §4.4 "live mode").
type noopVenueQuerier struct{}

func (noopVenueQuerier) QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	return nil, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
