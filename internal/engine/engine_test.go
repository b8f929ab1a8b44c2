package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/engine"
	"github.com/basisdesk/engine/internal/eventlog"
	"github.com/basisdesk/engine/internal/exposure"
	"github.com/basisdesk/engine/internal/execution"
	"github.com/basisdesk/engine/internal/pnl"
	"github.com/basisdesk/engine/internal/position"
	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/resultsstore"
	"github.com/basisdesk/engine/internal/risk"
	"github.com/basisdesk/engine/internal/strategy"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeClock replays a fixed timestamp sequence, mirroring clock.BacktestClock's
// shape without touching a real data axis.
type fakeClock struct {
	ticks []time.Time
	i     int
}

func (c *fakeClock) Next(ctx context.Context) (time.Time, bool, error) {
	if c.i >= len(c.ticks) {
		return time.Time{}, false, nil
	}
	t := c.ticks[c.i]
	c.i++
	return t, true, nil
}

// fakeData serves the same MarketSnapshot regardless of T.
type fakeData struct {
	snap types.MarketSnapshot
}

func (f *fakeData) Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error) {
	return f.snap, nil
}

type fakeVenues struct{}

func (f *fakeVenues) QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	return nil, nil
}

type noSettlement struct{}

func (noSettlement) Due(ctx context.Context, since, t types.Timestamp, simulated types.PositionMap) ([]types.Delta, error) {
	return nil, nil
}

// stubFamily never triggers a rebalance unless a deposit is pending, in
// which case it emits a single spot order sized to the deposit.
type stubFamily struct{}

func (stubFamily) Name() string { return "stub" }

func (stubFamily) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (strategy.Action, decimal.Decimal) {
	return strategy.ActionEntryFull, decimal.Zero
}

func (stubFamily) BuildOrders(ctx context.Context, t types.Timestamp, action strategy.Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	return []types.Order{{
		Venue:     cfg.PrimaryVenue,
		Operation: types.OpSpotTrade,
		Pair:      "ETH/USDC",
		Side:      types.SideBuy,
		Amount:    depositDelta,
		OrderType: types.OrderTypeMarket,
	}}, nil
}

type fakeRouter struct {
	iface venue.Interface
}

func (f *fakeRouter) Route(order types.Order) (venue.Interface, error) {
	return f.iface, nil
}

type fakeVenue struct{}

func (fakeVenue) Name() string { return "fake" }
func (fakeVenue) Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error) {
	return types.ExecutionHandshake{Status: types.ExecutionExecuted}, nil
}
func (fakeVenue) QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	return nil, nil
}
func (fakeVenue) QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

type fakeReconciler struct{}

func (fakeReconciler) Reconcile(ctx context.Context, t types.Timestamp, handshake types.ExecutionHandshake) (reconcile.Result, error) {
	return reconcile.Result{Success: true}, nil
}

type recordingEventSink struct {
	events []types.Event
}

func (s *recordingEventSink) Write(e types.Event) error {
	s.events = append(s.events, e)
	return nil
}
func (s *recordingEventSink) Close() error { return nil }

type recordingResultsSink struct {
	rows     []types.ResultRow
	summary  *types.Summary
}

func (s *recordingResultsSink) WriteRow(row types.ResultRow) error {
	s.rows = append(s.rows, row)
	return nil
}
func (s *recordingResultsSink) Finalize(summary types.Summary) error {
	s.summary = &summary
	return nil
}
func (s *recordingResultsSink) Close() error { return nil }

func buildEngine(t *testing.T, ticks []time.Time, family strategy.Family, deposit decimal.Decimal) (*engine.Engine, *recordingEventSink, *recordingResultsSink, *resultsstore.Store) {
	t.Helper()
	logger := zap.NewNop()

	data := &fakeData{snap: types.MarketSnapshot{
		SpotPrices: map[string]decimal.Decimal{"ETH/USDC": d("2000")},
	}}

	posMon := position.New(logger, false, nil, nil, noSettlement{}, &fakeVenues{})

	expMon := exposure.New(logger, data, false, "USDC", types.ExposureMonitorConfig{}, nil)
	riskMon := risk.New(logger, data, posMon, types.RiskMonitorConfig{})
	pnlCalc := pnl.New(logger, d("10000"), types.PnLCalculatorConfig{})

	cfg := types.ModeConfig{
		ShareClass: "USDC",
		Asset:      "ETH",
		ComponentConfig: types.ComponentConfig{
			StrategyManager: types.StrategyManagerConfig{PrimaryVenue: "fake"},
		},
	}
	strategyMgr := strategy.New(logger, family, cfg)

	execMgr := execution.New(logger, &fakeRouter{iface: fakeVenue{}}, fakeReconciler{}, types.ModeBacktest)

	eventSink := &recordingEventSink{}
	events := eventlog.New(logger, eventSink, 0)

	resultsSink := &recordingResultsSink{}
	results := resultsstore.New(logger, resultsSink)

	eng := engine.New(logger, &fakeClock{ticks: ticks}, posMon, expMon, riskMon, pnlCalc, strategyMgr, execMgr, events, results, types.ModeBacktest)
	if !deposit.IsZero() {
		eng.RequestDeposit(deposit)
	}
	return eng, eventSink, resultsSink, results
}

func TestRunNoTriggerAppendsOneRowPerTickAndFinalizes(t *testing.T) {
	ticks := []time.Time{time.Unix(0, 0), time.Unix(3600, 0)}
	eng, _, resultsSink, results := buildEngine(t, ticks, stubFamily{}, decimal.Zero)

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The results store writes asynchronously; Close drains it.
	if err := results.Close(); err != nil {
		t.Fatalf("results Close: %v", err)
	}

	if len(resultsSink.rows) != len(ticks) {
		t.Fatalf("expected %d result rows, got %d", len(ticks), len(resultsSink.rows))
	}
	if resultsSink.summary == nil {
		t.Fatal("expected Finalize to be called at clock exhaustion")
	}
}

func TestRunDepositTriggersExecution(t *testing.T) {
	ticks := []time.Time{time.Unix(0, 0)}
	eng, eventSink, resultsSink, results := buildEngine(t, ticks, stubFamily{}, d("1000"))

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := results.Close(); err != nil {
		t.Fatalf("results Close: %v", err)
	}

	if len(resultsSink.rows) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(resultsSink.rows))
	}
	if len(eventSink.events) == 0 {
		t.Fatal("expected at least one event flushed to the sink")
	}
}
