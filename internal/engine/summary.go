package engine

import (
	"math"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
)

// summaryAccumulator tracks the equity curve and per-risk-type extremes
// across a run, feeding the final types.Summary ResultsStore.Finalize
// persists at backtest termination (§4.1 "emit a final summary to
// ResultsStore"). Grounded on the teacher's
// backtester.MetricsCalculator.Calculate: equity-curve-derived total
// return, annualized return (252-period convention), Sharpe ratio and max
// drawdown, generalized from a trade-PnL ledger to this engine's
// attribution/risk-status outputs.
type summaryAccumulator struct {
	startedAt time.Time
	equity    []decimal.Decimal
	attrTotal map[string]decimal.Decimal
	riskMin   map[string]decimal.Decimal
	riskMax   map[string]decimal.Decimal
}

func newSummaryAccumulator() *summaryAccumulator {
	return &summaryAccumulator{
		startedAt: time.Now(),
		attrTotal: make(map[string]decimal.Decimal),
		riskMin:   make(map[string]decimal.Decimal),
		riskMax:   make(map[string]decimal.Decimal),
	}
}

func (a *summaryAccumulator) observe(equity decimal.Decimal, attribution map[string]decimal.Decimal, risk types.RiskAssessment) {
	a.equity = append(a.equity, equity)
	for component, v := range attribution {
		a.attrTotal[component] = a.attrTotal[component].Add(v)
	}
	for riskType, assessment := range risk.ByType {
		if current, ok := a.riskMin[riskType]; !ok || assessment.Value.LessThan(current) {
			a.riskMin[riskType] = assessment.Value
		}
		if current, ok := a.riskMax[riskType]; !ok || assessment.Value.GreaterThan(current) {
			a.riskMax[riskType] = assessment.Value
		}
	}
}

func (a *summaryAccumulator) build() types.Summary {
	summary := types.Summary{
		AttributionBreakdown: a.attrTotal,
		MinRiskValues:        a.riskMin,
		MaxRiskValues:        a.riskMax,
		ExecutionTimeSeconds: time.Since(a.startedAt).Seconds(),
	}
	if len(a.equity) == 0 {
		return summary
	}

	first, last := a.equity[0], a.equity[len(a.equity)-1]
	if !first.IsZero() {
		summary.TotalReturn = last.Sub(first).Div(first)
	}

	returns := periodReturns(a.equity)
	if len(returns) > 0 {
		avg := mean(returns)
		summary.AnnualizedReturn = decimal.NewFromFloat(avg * 252)

		if stddev := stdDev(returns); stddev > 0 {
			summary.SharpeRatio = decimal.NewFromFloat(avg / stddev * math.Sqrt(252))
		}
	}

	summary.MaxDrawdown = maxDrawdown(a.equity)
	return summary
}

func periodReturns(equity []decimal.Decimal) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev.IsZero() {
			continue
		}
		ret, _ := equity[i].Sub(prev).Div(prev).Float64()
		out = append(out, ret)
	}
	return out
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func maxDrawdown(equity []decimal.Decimal) decimal.Decimal {
	var maxDD decimal.Decimal
	peak := equity[0]
	for _, e := range equity {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(e).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}
