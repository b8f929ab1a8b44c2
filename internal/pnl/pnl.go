// Package pnl implements PnLCalculator (§4.7): dual-track (balance-based
// and attribution) P&L with a reconciliation self-check between the two
// tracks. Grounded on the teacher's backtester.MetricsCalculator
// equity-curve aggregation style (period returns derived from consecutive
// equity snapshots, accumulated into cumulative totals), generalized from
// a single equity-curve return series into two independently-tracked P&L
// series that must agree within tolerance.
package pnl

import (
	"context"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Attribution component names (§4.7 "Attribution").
const (
	AttrSupplyYield        = "supply_yield"
	AttrStakingYieldOracle = "staking_yield_oracle"
	AttrStakingYieldRewards = "staking_yield_rewards"
	AttrBorrowCost          = "borrow_cost"
	AttrFundingPnL          = "funding_pnl"
	AttrDeltaPnL            = "delta_pnl"
	AttrPriceChangePnL      = "price_change_pnl"
	AttrTransactionCosts    = "transaction_costs"
)

// persistentFailureLimit is the consecutive-T threshold before a
// reconciliation drift is escalated from a quiet miss to PnLDriftAlert
// (§4.7 "On persistent failure (e.g. 10 consecutive T)").
const persistentFailureLimit = 10

// Calculator is PnLCalculator.
type Calculator struct {
	logger         *zap.Logger
	initialCapital decimal.Decimal
	toleranceFraction decimal.Decimal
	enabled        map[string]bool

	havePrev  bool
	prevValue decimal.Decimal

	pending  map[string]decimal.Decimal
	deposits decimal.Decimal

	prevAssetUnderlying map[string]decimal.Decimal
	prevAssetPrice      map[string]decimal.Decimal

	cumulativeBalance     decimal.Decimal
	cumulativeAttribution decimal.Decimal
	consecutiveFailures   int
}

// New builds a Calculator. initialCapital anchors the reconciliation
// tolerance, which is configured as a fraction of it.
func New(logger *zap.Logger, initialCapital decimal.Decimal, cfg types.PnLCalculatorConfig) *Calculator {
	enabled := make(map[string]bool, len(cfg.AttributionTypes))
	for _, c := range cfg.AttributionTypes {
		enabled[c] = true
	}
	return &Calculator{
		logger:              logger.Named("pnl"),
		initialCapital:      initialCapital,
		toleranceFraction:   cfg.ReconciliationTolPct,
		enabled:             enabled,
		pending:             make(map[string]decimal.Decimal),
		prevAssetUnderlying: make(map[string]decimal.Decimal),
		prevAssetPrice:      make(map[string]decimal.Decimal),
	}
}

// RecordDelta feeds one settlement or trade delta into the attribution
// accumulator ahead of the next Update call (§4.7 "derived from the
// scheduled settlement deltas... accrued since the previous T"). No
// component in this module calls it: neither the execution tight loop nor
// PositionMonitor's settlement application feeds deltas here, so only
// deltas recorded directly by a caller reach the attribution.
func (c *Calculator) RecordDelta(d types.Delta) {
	switch d.Source {
	case types.DeltaSourceFunding:
		c.accrue(AttrFundingPnL, d.DeltaAmount)
	case types.DeltaSourceReward:
		c.accrue(AttrStakingYieldRewards, d.DeltaAmount)
	case types.DeltaSourceTrade:
		if d.Fee != nil {
			c.accrue(AttrTransactionCosts, d.Fee.Neg())
		}
		switch d.PositionKey.Type {
		case types.PositionAToken:
			c.accrue(AttrSupplyYield, decimal.Zero) // index growth realized via convert(), not per-trade
		case types.PositionDebtToken:
			c.accrue(AttrBorrowCost, decimal.Zero)
		}
	case types.DeltaSourceTransfer:
		c.deposits = c.deposits.Add(d.DeltaAmount)
	}
}

// RecordDeposit records a deposit (positive) or withdrawal (negative) of
// capital during the period, excluded from the balance-based P&L
// computation (§4.7 "corrected for deposits/withdrawals in the interval").
func (c *Calculator) RecordDeposit(amount decimal.Decimal) {
	c.deposits = c.deposits.Add(amount)
}

func (c *Calculator) accrue(component string, amount decimal.Decimal) {
	if !c.enabled[component] {
		return
	}
	c.pending[component] = c.pending[component].Add(amount)
}

// priceChangePnL derives the period's mark-to-market move independently of
// the balance-based track (§4.7 "derived from ... market moves accrued
// since the previous T"): for each tracked asset it marks the *prior*
// period's underlying native holding at the current implied price versus
// the previous implied price, summing prevUnderlying * (currentPrice -
// prevPrice) across assets. Using the prior period's size (rather than the
// current one) excludes the period's trade/settlement-driven quantity
// change, which the other attribution components already account for, so
// this is a genuine second, independently-measured quantity rather than a
// residual forced to balance — the reconciliation diff can then actually
// fail.
func (c *Calculator) priceChangePnL(exposure types.Exposure) decimal.Decimal {
	var total decimal.Decimal
	seen := make(map[string]bool, len(exposure.Assets))
	for symbol, a := range exposure.Assets {
		seen[symbol] = true
		if a.UnderlyingNative.IsZero() {
			continue
		}
		price := a.ExposureInShareClass.Div(a.UnderlyingNative)

		prevUnderlying, havePrevUnderlying := c.prevAssetUnderlying[symbol]
		prevPrice, havePrevPrice := c.prevAssetPrice[symbol]
		if havePrevUnderlying && havePrevPrice {
			total = total.Add(prevUnderlying.Mul(price.Sub(prevPrice)))
		}

		c.prevAssetUnderlying[symbol] = a.UnderlyingNative
		c.prevAssetPrice[symbol] = price
	}
	// Drop tracking for assets no longer present so a later re-entry starts
	// fresh rather than marking against a stale price.
	for symbol := range c.prevAssetUnderlying {
		if !seen[symbol] {
			delete(c.prevAssetUnderlying, symbol)
			delete(c.prevAssetPrice, symbol)
		}
	}
	return total
}

// Update computes the period's dual-track P&L and reconciliation result
// (§4.7), then resets the per-period accumulators.
func (c *Calculator) Update(ctx context.Context, t types.Timestamp, exposure types.Exposure, risk types.RiskAssessment) (types.PnLRecord, error) {
	currentValue := exposure.TotalValueShareCls

	var periodBalance decimal.Decimal
	if c.havePrev {
		periodBalance = currentValue.Sub(c.prevValue).Sub(c.deposits)
	}
	c.cumulativeBalance = c.cumulativeBalance.Add(periodBalance)

	attribution := make(map[string]decimal.Decimal, len(c.enabled))
	for component := range c.enabled {
		if component == AttrPriceChangePnL {
			continue
		}
		attribution[component] = c.pending[component]
	}
	if c.enabled[AttrPriceChangePnL] {
		attribution[AttrPriceChangePnL] = c.priceChangePnL(exposure)
	}

	var periodAttrTotal decimal.Decimal
	for _, v := range attribution {
		periodAttrTotal = periodAttrTotal.Add(v)
	}
	c.cumulativeAttribution = c.cumulativeAttribution.Add(periodAttrTotal)

	diff := c.cumulativeBalance.Sub(c.cumulativeAttribution)
	tolerance := c.toleranceFraction.Mul(c.initialCapital)
	passed := diff.Abs().LessThanOrEqual(tolerance)

	if passed {
		c.consecutiveFailures = 0
	} else {
		c.consecutiveFailures++
		if c.consecutiveFailures >= persistentFailureLimit {
			c.logger.Error("PnLDriftAlert",
				zap.Int("consecutiveFailures", c.consecutiveFailures),
				zap.String("diff", diff.String()),
				zap.String("tolerance", tolerance.String()),
			)
		}
	}

	c.havePrev = true
	c.prevValue = currentValue
	c.pending = make(map[string]decimal.Decimal)
	c.deposits = decimal.Zero

	return types.PnLRecord{
		T:                          t,
		BalanceBasedPnLPeriod:      periodBalance,
		BalanceBasedPnLCumulative:  c.cumulativeBalance,
		Attribution:                attribution,
		AttributionTotalPeriod:     periodAttrTotal,
		AttributionTotalCumulative: c.cumulativeAttribution,
		ReconciliationDiff:         diff,
		ReconciliationTolerance:    tolerance,
		ReconciliationPassed:       passed,
	}, nil
}
