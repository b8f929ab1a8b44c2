// Package strategy implements StrategyManager (§4.8): given the current
// Exposure, RiskAssessment and the mode's StrategyManagerConfig, it emits
// []types.Order implementing one of five canonical actions. The mode
// family (pure lending, basis, market-neutral leveraged, staking-only,
// leveraged-staking) is selected at request construction by NewFamily from
// the mode's enabled-feature flags, mirroring the teacher's StrategyRegistry/BaseStrategy
// split between shared trigger/emission plumbing and mode-specific
// target calculation.
package strategy

import (
	"context"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Action is one of the five canonical actions a Family may request.
type Action string

const (
	ActionEntryFull    Action = "entry_full"
	ActionEntryPartial Action = "entry_partial"
	ActionExitPartial  Action = "exit_partial"
	ActionExitFull     Action = "exit_full"
	ActionSellDust     Action = "sell_dust"
)

// Family is a mode-specific target model (§4.8 "Mode-specific subclasses").
// Evaluate decides whether rebalancing is warranted and which action it
// would take; BuildOrders turns that decision into the ordered order list.
type Family interface {
	Name() string
	Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (action Action, deviation decimal.Decimal)
	BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error)
}

// Manager is StrategyManager.
type Manager struct {
	logger     *zap.Logger
	family     Family
	shareClass string
	asset      string
	lstType    string
	cfg        types.StrategyManagerConfig
}

// New builds a Manager bound to one mode's Family and config.
func New(logger *zap.Logger, family Family, mode types.ModeConfig) *Manager {
	return &Manager{
		logger:     logger.Named("strategy").With(zap.String("family", family.Name())),
		family:     family,
		shareClass: mode.ShareClass,
		asset:      mode.Asset,
		lstType:    mode.LSTType,
		cfg:        mode.ComponentConfig.StrategyManager,
	}
}

// Decide produces the orders for one timestep: dust orders first (§4.8
// "prioritized ahead of normal rebalancing"), then the family's action if
// rebalancing is triggered. depositDelta is the net deposit (positive) or
// withdrawal (negative) pending this step, fed in by the Engine from the
// request layer; zero when no capital event is pending.
func (m *Manager) Decide(ctx context.Context, t types.Timestamp, exposure types.Exposure, risk types.RiskAssessment, equity, depositDelta decimal.Decimal) ([]types.Order, error) {
	orders := m.dustOrders(exposure)

	action, deviation := m.family.Evaluate(exposure, risk, equity, m.cfg)
	triggered := deviation.Abs().GreaterThan(m.cfg.PositionDeviationThresh) ||
		risk.OverallStatus == types.RiskCritical ||
		!depositDelta.IsZero()
	if !triggered {
		return orders, nil
	}

	if risk.OverallStatus == types.RiskCritical && action != ActionExitFull {
		action = ActionExitPartial
	}

	familyOrders, err := m.family.BuildOrders(ctx, t, action, exposure, equity, depositDelta, m.cfg)
	if err != nil {
		m.logger.Warn("StrategyInfeasible",
			zap.Time("t", t),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return orders, nil
	}
	return append(orders, familyOrders...), nil
}

// dustOrders scans the exposure for tracked assets outside the share
// class, the mode's primary asset and its LST, whose value exceeds
// dust_delta (§4.8 "Dust").
func (m *Manager) dustOrders(exposure types.Exposure) []types.Order {
	if m.cfg.DustDelta.IsZero() {
		return nil
	}
	var orders []types.Order
	for symbol, asset := range exposure.Assets {
		if symbol == m.shareClass || symbol == m.asset || symbol == m.lstType {
			continue
		}
		if asset.ExposureInShareClass.Abs().LessThanOrEqual(m.cfg.DustDelta) {
			continue
		}
		orders = append(orders, types.Order{
			Venue:     m.cfg.PrimaryVenue,
			Operation: types.OpSpotTrade,
			Pair:      symbol + "/" + m.shareClass,
			Side:      types.SideSell,
			Amount:    asset.WalletAmount.Abs(),
			OrderType: types.OrderTypeMarket,
			Metadata:  map[string]any{"action": string(ActionSellDust)},
		})
	}
	return orders
}

// leverageFactor is L = target_ltv / (1 - target_ltv) (§4.8).
func leverageFactor(targetLTV decimal.Decimal) decimal.Decimal {
	denom := decimal.NewFromInt(1).Sub(targetLTV)
	if denom.IsZero() {
		return decimal.Zero
	}
	return targetLTV.Div(denom)
}

// venueNotional pairs a hedge venue with its split of a notional amount,
// in the order the venue appears in cfg.HedgeVenues.
type venueNotional struct {
	Venue    string
	Notional decimal.Decimal
}

// splitByAllocation distributes notional across venues proportionally to
// allocation, which the config loader validates sums to 1. It walks
// venues (cfg.HedgeVenues) rather than ranging the allocation map, so the
// resulting order list always emits hedge-venue orders in the configured
// sequence instead of Go's randomized map iteration order (§4.8 "Always
// produce orders as a list in the intended execution sequence").
func splitByAllocation(notional decimal.Decimal, venues []string, allocation map[string]decimal.Decimal) []venueNotional {
	out := make([]venueNotional, 0, len(venues))
	for _, venue := range venues {
		out = append(out, venueNotional{Venue: venue, Notional: notional.Mul(allocation[venue])})
	}
	return out
}
