// Package risk implements RiskMonitor (§4.6): the enabled risk types
// computed from Exposure, raw positions, and market data, each carrying
// configured warning/critical thresholds. Grounded on the teacher's
// backtester.Portfolio.GetDrawdown threshold-style computation,
// generalized from a single peak-drawdown check to a config-enabled set
// of independent risk types with a max-severity roll-up, and on
// aristath-sentinel's formulas/stats.go for the funding cost trend
// regression (gonum.org/v1/gonum/stat).
package risk

import (
	"context"

	"github.com/basisdesk/engine/internal/dataprovider"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Risk type names (§4.6 "Risk types").
const (
	TypeAaveHealthFactor = "aave_health_factor"
	TypeCEXMarginRatio   = "cex_margin_ratio"
	TypeDeltaDrift       = "delta_drift"
	TypeFundingCostTrend = "funding_cost_trend"
	TypeReserveRatio     = "reserve_ratio"
)

// PositionSource is the subset of position.Monitor RiskMonitor needs to
// separate collateral from debt and compute margin/reserve ratios
// directly from raw balances rather than Exposure's per-symbol rollup.
type PositionSource interface {
	Current(t types.Timestamp) (simulated, real types.PositionMap)
}

// EventAppender is the subset of eventlog.EventLogger RiskMonitor needs to
// emit a ReserveLow event on the reserve_ratio falling edge.
type EventAppender interface {
	Append(ev types.Event) types.Event
}

// Monitor is RiskMonitor.
type Monitor struct {
	logger *zap.Logger
	data   dataprovider.Provider
	positions PositionSource
	events  EventAppender

	enabled map[string]bool
	limits  types.RiskLimits

	fundingHistory map[string][]float64 // symbol -> recent funding rate samples, for the trend regression
	historyWindow  int

	reserveLowActive bool // true while reserve_ratio remains breached, for edge-detection (B3 "exactly once per transition")
}

// New builds a Monitor from the mode's RiskMonitorConfig.
func New(logger *zap.Logger, data dataprovider.Provider, positions PositionSource, cfg types.RiskMonitorConfig) *Monitor {
	enabled := make(map[string]bool, len(cfg.EnabledRiskTypes))
	for _, t := range cfg.EnabledRiskTypes {
		enabled[t] = true
	}
	return &Monitor{
		logger:         logger.Named("risk"),
		data:           data,
		positions:      positions,
		enabled:        enabled,
		limits:         cfg.RiskLimits,
		fundingHistory: make(map[string][]float64),
		historyWindow:  30,
	}
}

// SetEvents attaches the EventLogger that receives ReserveLow events.
// Left unset, reserve_ratio breaches are still reflected in
// RiskAssessment.Alerts but no event is emitted.
func (m *Monitor) SetEvents(events EventAppender) {
	m.events = events
}

// Assess computes the enabled risk types at t (§4.6). The reserve_ratio
// type is derived from the totals of the exposure passed in, since
// RiskMonitor holds no equity state of its own.
func (m *Monitor) Assess(ctx context.Context, t types.Timestamp, exposure types.Exposure) (types.RiskAssessment, error) {
	simulated, _ := m.positions.Current(t)
	snap, err := m.data.Get(ctx, t)
	if err != nil {
		return types.RiskAssessment{}, err
	}

	byType := make(map[string]types.RiskTypeAssessment)
	var alerts []string

	if m.enabled[TypeAaveHealthFactor] {
		byType[TypeAaveHealthFactor] = m.healthFactor(simulated, snap)
	}
	if m.enabled[TypeCEXMarginRatio] {
		byType[TypeCEXMarginRatio] = m.marginRatio(simulated, exposure)
	}
	if m.enabled[TypeDeltaDrift] {
		byType[TypeDeltaDrift] = m.deltaDrift(exposure)
	}
	if m.enabled[TypeFundingCostTrend] {
		byType[TypeFundingCostTrend] = m.fundingCostTrend(snap)
	}
	if m.enabled[TypeReserveRatio] {
		rr := m.reserveRatio(exposure)
		byType[TypeReserveRatio] = rr
		breached := rr.Status != types.RiskSafe
		if breached && !m.reserveLowActive {
			alerts = append(alerts, "ReserveLow")
			if m.events != nil {
				m.events.Append(types.Event{T: t, EventType: types.EventReserveLow, Status: string(rr.Status)})
			}
		}
		m.reserveLowActive = breached
	}

	overall := types.RiskSafe
	for _, a := range byType {
		if a.Status.Severity() > overall.Severity() {
			overall = a.Status
		}
	}

	return types.RiskAssessment{T: t, ByType: byType, OverallStatus: overall, Alerts: alerts}, nil
}

func (m *Monitor) healthFactor(positions types.PositionMap, snap types.MarketSnapshot) types.RiskTypeAssessment {
	var collateral, debt decimal.Decimal
	for key, amount := range positions {
		price := snap.OraclePrices[key.Symbol]
		switch key.Type {
		case types.PositionAToken:
			collateral = collateral.Add(amount.Mul(price))
		case types.PositionDebtToken:
			debt = debt.Add(amount.Mul(price))
		}
	}

	var hf decimal.Decimal
	if debt.IsZero() {
		hf = decimal.NewFromInt(1 << 20) // no debt: treat as effectively infinite headroom
	} else {
		hf = collateral.Mul(m.limits.LiquidationThreshold).Div(debt)
	}

	return types.RiskTypeAssessment{
		Value:             hf,
		WarningThreshold:  m.limits.HFWarn,
		CriticalThreshold: m.limits.HFCrit,
		Status:            belowIsWorse(hf, m.limits.HFWarn, m.limits.HFCrit),
	}
}

func (m *Monitor) marginRatio(positions types.PositionMap, exposure types.Exposure) types.RiskTypeAssessment {
	var balance decimal.Decimal
	for key, amount := range positions {
		if key.Type == types.PositionSpot {
			balance = balance.Add(amount)
		}
	}
	notional := exposure.TotalShort.Add(exposure.TotalLong)

	var ratio decimal.Decimal
	if !notional.IsZero() {
		ratio = balance.Div(notional)
	}

	return types.RiskTypeAssessment{
		Value:            ratio,
		WarningThreshold: m.limits.MarginWarn,
		Status:           belowIsWorse(ratio, m.limits.MarginWarn, decimal.Zero),
	}
}

func (m *Monitor) deltaDrift(exposure types.Exposure) types.RiskTypeAssessment {
	var drift decimal.Decimal
	if !m.limits.TargetExposure.IsZero() {
		drift = exposure.NetDelta.Abs().Div(m.limits.TargetExposure)
	}

	status := types.RiskSafe
	if drift.GreaterThan(m.limits.DriftWarn) {
		status = types.RiskWarning
	}

	return types.RiskTypeAssessment{
		Value:            drift,
		WarningThreshold: m.limits.DriftWarn,
		Status:           status,
	}
}

// fundingCostTrend fits a linear regression of recent funding rate samples
// against sample index and flags the slope if it exceeds the configured
// threshold (§4.6 "rolling estimate flagged if > threshold").
func (m *Monitor) fundingCostTrend(snap types.MarketSnapshot) types.RiskTypeAssessment {
	var maxSlope decimal.Decimal
	for symbol, rate := range snap.FundingRates {
		history := append(m.fundingHistory[symbol], rateToFloat(rate))
		if len(history) > m.historyWindow {
			history = history[len(history)-m.historyWindow:]
		}
		m.fundingHistory[symbol] = history

		if len(history) < 2 {
			continue
		}
		xs := make([]float64, len(history))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, history, nil, false)
		slopeDec := decimal.NewFromFloat(slope)
		if slopeDec.Abs().GreaterThan(maxSlope.Abs()) {
			maxSlope = slopeDec
		}
	}

	status := types.RiskSafe
	if maxSlope.Abs().GreaterThan(m.limits.FundingTrendWarn) {
		status = types.RiskWarning
	}

	return types.RiskTypeAssessment{
		Value:            maxSlope,
		WarningThreshold: m.limits.FundingTrendWarn,
		Status:           status,
	}
}

func (m *Monitor) reserveRatio(exposure types.Exposure) types.RiskTypeAssessment {
	var ratio decimal.Decimal
	if !exposure.TotalValueShareCls.IsZero() {
		// Available reserve approximated as the long-side spot cushion not
		// currently deployed as margin; callers with a more precise figure
		// can override via config in a future mode without changing this shape.
		ratio = exposure.TotalLong.Sub(exposure.TotalShort).Div(exposure.TotalValueShareCls)
	}

	return types.RiskTypeAssessment{
		Value:            ratio,
		WarningThreshold: m.limits.ReserveFloor,
		Status:           belowIsWorse(ratio, m.limits.ReserveFloor, decimal.Zero),
	}
}

func belowIsWorse(value, warn, crit decimal.Decimal) types.RiskStatus {
	if !crit.IsZero() && value.LessThan(crit) {
		return types.RiskCritical
	}
	if value.LessThan(warn) {
		return types.RiskWarning
	}
	return types.RiskSafe
}

func rateToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
