// Package engine implements Engine (§4.1): the full-loop owner that pulls
// timestamps from clock.Source and invokes every other component in the
// fixed per-timestep sequence, enforcing fail-fast atomicity in backtest
// and tolerant continuation in live. Grounded on the teacher's
// backtester.Engine.Run event loop (select on ctx.Done, drain until the
// source is exhausted, log-and-continue per iteration error), generalized
// from a single event-queue drain to the spec's fixed eight-step sequence
// over a pluggable clock.Source.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/basisdesk/engine/internal/clock"
	"github.com/basisdesk/engine/internal/eventlog"
	"github.com/basisdesk/engine/internal/execution"
	"github.com/basisdesk/engine/internal/exposure"
	"github.com/basisdesk/engine/internal/metrics"
	"github.com/basisdesk/engine/internal/pnl"
	"github.com/basisdesk/engine/internal/position"
	"github.com/basisdesk/engine/internal/resultsstore"
	"github.com/basisdesk/engine/internal/risk"
	"github.com/basisdesk/engine/internal/strategy"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// triggerPositionRefresh names the refresh call in step 2 (§4.1).
const triggerPositionRefresh = "position_refresh"

// Engine is the Engine component.
type Engine struct {
	logger *zap.Logger

	clock     clock.Source
	positions *position.Monitor
	exposure  *exposure.Monitor
	risk      *risk.Monitor
	pnl       *pnl.Calculator
	strategy  *strategy.Manager
	execution *execution.Manager
	events    *eventlog.EventLogger
	results   *resultsstore.Store

	mode types.ExecutionMode

	pendingDepositMu sync.Mutex
	pendingDeposit   decimal.Decimal

	summary *summaryAccumulator
	metrics *metrics.Metrics
}

// SetMetrics attaches an optional operational-metrics sink, observed once
// per completed step. An Engine on which SetMetrics is never called has
// nil metrics and runs unobserved.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// New wires the full component set for one run (§4.1). mode governs the
// failure model: backtest is fail-fast, live logs and continues.
func New(
	logger *zap.Logger,
	clk clock.Source,
	positions *position.Monitor,
	exp *exposure.Monitor,
	riskMon *risk.Monitor,
	pnlCalc *pnl.Calculator,
	strategyMgr *strategy.Manager,
	executionMgr *execution.Manager,
	events *eventlog.EventLogger,
	results *resultsstore.Store,
	mode types.ExecutionMode,
) *Engine {
	return &Engine{
		logger:    logger.Named("engine"),
		clock:     clk,
		positions: positions,
		exposure:  exp,
		risk:      riskMon,
		pnl:       pnlCalc,
		strategy:  strategyMgr,
		execution: executionMgr,
		events:    events,
		results:   results,
		mode:      mode,
		summary:   newSummaryAccumulator(),
	}
}

// RequestDeposit records a pending deposit (positive) or withdrawal
// (negative) of capital to be picked up by the next timestep's
// StrategyManager.decide call (§4.8 "a deposit/withdrawal event is
// pending"). Safe to call concurrently with Run.
func (e *Engine) RequestDeposit(amount decimal.Decimal) {
	e.pendingDepositMu.Lock()
	defer e.pendingDepositMu.Unlock()
	e.pendingDeposit = e.pendingDeposit.Add(amount)
}

func (e *Engine) drainPendingDeposit() decimal.Decimal {
	e.pendingDepositMu.Lock()
	defer e.pendingDepositMu.Unlock()
	amount := e.pendingDeposit
	e.pendingDeposit = decimal.Zero
	return amount
}

// Run drives the full loop until clock.Source is exhausted, ctx is
// cancelled, or (backtest only) a step fails (§4.1 "Backtest termination",
// "Failure model"). It returns the first fatal error, if any.
func (e *Engine) Run(ctx context.Context) error {
	for {
		t, ok, err := e.clock.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			e.results.Finalize(e.summary.build())
			e.logger.Info("clock exhausted, run complete")
			return nil
		}

		if err := e.step(ctx, t); err != nil {
			if e.mode != types.ModeLive {
				e.logger.Error("step failed, halting run", zap.Time("t", t), zap.Error(err))
				return err
			}
			e.logger.Error("step failed, continuing to next tick", zap.Time("t", t), zap.Error(err))
			if e.emitSystemFailure(t, err) {
				return err
			}
		}
	}
}

// emitSystemFailure reports whether err is a CRITICAL EngineError that
// should still halt a live run (§4.1 "unless the component reports
// CRITICAL health").
func (e *Engine) emitSystemFailure(t types.Timestamp, err error) bool {
	engErr, ok := err.(*types.EngineError)
	if !ok {
		return false
	}
	if engErr.Code != types.ErrSystemFailure {
		return false
	}
	e.events.Append(types.Event{T: t, EventType: types.EventSystemFailure, Status: engErr.Message})
	return true
}

// step runs the eight-step full-loop sequence for one timestamp (§4.1).
func (e *Engine) step(ctx context.Context, t types.Timestamp) error {
	stepStart := time.Now()
	if e.metrics != nil {
		defer func() { e.metrics.StepDuration.Observe(time.Since(stepStart).Seconds()) }()
	}

	if err := e.positions.Refresh(ctx, t, triggerPositionRefresh); err != nil {
		return err
	}

	simulated, _ := e.positions.Current(t)
	currentExposure, err := e.exposure.Update(ctx, t, simulated)
	if err != nil {
		return err
	}
	currentRisk, err := e.risk.Assess(ctx, t, currentExposure)
	if err != nil {
		return err
	}

	deposit := e.drainPendingDeposit()
	orders, err := e.strategy.Decide(ctx, t, currentExposure, currentRisk, currentExposure.TotalValueShareCls, deposit)
	if err != nil {
		return err
	}

	if len(orders) > 0 {
		handshakes, err := e.execution.Process(ctx, t, orders)
		if err != nil {
			return err
		}
		for _, hs := range handshakes {
			eventType := types.EventTradeExecuted
			if hs.Status != types.ExecutionExecuted {
				eventType = types.EventTradeFailed
			}
			e.events.Append(types.Event{T: t, EventType: eventType, Venue: hs.Order.Venue, Token: hs.Order.Pair, Amount: hs.ExecutedAmount, Status: string(hs.Status)})
		}

		// Step 6's execution loop already refreshed exposure/risk/pnl once
		// per order via PositionUpdateHandler's downstream chain; re-read
		// here so step 7's PnLCalculator.update and the results row reflect
		// the tick's final state rather than its pre-trade snapshot.
		simulated, _ = e.positions.Current(t)
		if currentExposure, err = e.exposure.Update(ctx, t, simulated); err != nil {
			return err
		}
		if currentRisk, err = e.risk.Assess(ctx, t, currentExposure); err != nil {
			return err
		}
	}

	record, err := e.pnl.Update(ctx, t, currentExposure, currentRisk)
	if err != nil {
		return err
	}

	e.results.Append(types.ResultRow{
		Timestamp:                  t,
		EquityShareClass:           currentExposure.TotalValueShareCls,
		BalancePnLPeriod:           record.BalanceBasedPnLPeriod,
		BalancePnLCumulative:       record.BalanceBasedPnLCumulative,
		AttributionTotalCumulative: record.AttributionTotalCumulative,
		ReconciliationDiff:         record.ReconciliationDiff,
		OverallRiskStatus:          currentRisk.OverallStatus,
		NetDelta:                   currentExposure.NetDelta,
	})
	e.summary.observe(currentExposure.TotalValueShareCls, record.Attribution, currentRisk)
	if e.metrics != nil {
		e.metrics.ObserveRisk(currentRisk)
		e.metrics.ObservePnL(record)
		e.metrics.EquityShareClass.Set(mustFloat(currentExposure.TotalValueShareCls))
	}
	e.events.FlushBoundary()

	return nil
}

func mustFloat(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
