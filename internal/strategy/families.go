package strategy

import (
	"context"
	"fmt"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
)

// NewFamily selects a Family from the mode's enabled-feature flags (§9
// "StrategyManager is polymorphic over the five canonical actions with a
// mode-specific implementation selected at request construction by a
// factory keyed on mode"). Every family routes its orders to the mode's
// primary_venue; hedge venues and allocation are read from the mode's
// StrategyManagerConfig when orders are built.
func NewFamily(mode types.ModeConfig) (Family, error) {
	cfg := mode.ComponentConfig.StrategyManager
	switch {
	case mode.StakingEnabled && mode.BorrowingEnabled && mode.BasisTradeEnabled:
		return &MarketNeutralLeveraged{asset: mode.Asset, lstType: mode.LSTType, venue: cfg.PrimaryVenue}, nil
	case mode.StakingEnabled && mode.BorrowingEnabled:
		return &LeveragedStaking{asset: mode.Asset, lstType: mode.LSTType, venue: cfg.PrimaryVenue}, nil
	case mode.StakingEnabled:
		return &StakingOnly{asset: mode.Asset, lstType: mode.LSTType, venue: cfg.PrimaryVenue}, nil
	case mode.BasisTradeEnabled:
		return &Basis{asset: mode.Asset, venue: cfg.PrimaryVenue}, nil
	case mode.LendingEnabled:
		return &PureLending{asset: mode.Asset, venue: cfg.PrimaryVenue}, nil
	default:
		return nil, fmt.Errorf("strategy: no family matches mode %q (lending=%v staking=%v borrowing=%v basis=%v)",
			mode.Mode, mode.LendingEnabled, mode.StakingEnabled, mode.BorrowingEnabled, mode.BasisTradeEnabled)
	}
}

func supplyOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpSupply, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func withdrawOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpWithdraw, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func borrowOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpBorrow, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func repayOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpRepay, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func stakeOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpStake, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func unstakeOrder(venue, asset string, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpUnstake, Pair: asset, Amount: amount, OrderType: types.OrderTypeMarket}
}

func spotOrder(venue, pair string, side types.OrderSide, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpSpotTrade, Pair: pair, Side: side, Amount: amount, OrderType: types.OrderTypeMarket}
}

func perpOrder(venue, pair string, side types.OrderSide, amount decimal.Decimal) types.Order {
	return types.Order{Venue: venue, Operation: types.OpPerpTrade, Pair: pair, Side: side, Amount: amount, OrderType: types.OrderTypeMarket}
}

// deviationFrom computes (target - current) / equity, the common "absolute
// deviation from target" measure used to decide whether to rebalance (§4.8).
func deviationFrom(target, current, equity decimal.Decimal) decimal.Decimal {
	if equity.IsZero() {
		return decimal.Zero
	}
	return target.Sub(current).Div(equity)
}

// PureLending targets the full equity supplied to one lending venue, with
// no rebalancing on price moves (§4.8 "Pure lending").
type PureLending struct {
	asset string
	venue string
}

func (f *PureLending) Name() string { return "pure_lending" }

func (f *PureLending) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (Action, decimal.Decimal) {
	supplied := exposure.Assets[f.asset].ExposureInShareClass
	if supplied.IsZero() {
		return ActionEntryFull, decimal.NewFromInt(1)
	}
	return ActionEntryPartial, deviationFrom(equity, supplied, equity)
}

func (f *PureLending) BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	supplied := exposure.Assets[f.asset].ExposureInShareClass
	switch action {
	case ActionEntryFull:
		return []types.Order{supplyOrder(f.venue, f.asset, equity)}, nil
	case ActionExitFull:
		return []types.Order{withdrawOrder(f.venue, f.asset, supplied)}, nil
	case ActionEntryPartial:
		if depositDelta.IsPositive() {
			return []types.Order{supplyOrder(f.venue, f.asset, depositDelta)}, nil
		}
		return nil, nil
	case ActionExitPartial:
		amt := depositDelta.Neg()
		if amt.IsPositive() {
			if amt.GreaterThan(supplied) {
				return nil, fmt.Errorf("pure_lending: withdrawal %s exceeds supplied %s", amt, supplied)
			}
			return []types.Order{withdrawOrder(f.venue, f.asset, amt)}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// Basis targets a fully-hedged long-spot/short-perp position: target long
// spot = equity, target short perp notional = equity split across hedge
// venues by configured allocation (§4.8 "Basis").
type Basis struct {
	asset string
	venue string
}

func (f *Basis) Name() string { return "basis" }

func (f *Basis) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (Action, decimal.Decimal) {
	spot := exposure.Assets[f.asset].ExposureInShareClass
	if spot.IsZero() {
		return ActionEntryFull, decimal.NewFromInt(1)
	}
	return ActionEntryPartial, deviationFrom(equity, spot, equity)
}

func (f *Basis) BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	if len(cfg.HedgeVenues) == 0 {
		return nil, fmt.Errorf("basis: no hedge venues configured")
	}
	spot := exposure.Assets[f.asset].ExposureInShareClass
	var orders []types.Order
	switch action {
	case ActionEntryFull:
		orders = append(orders, spotOrder(f.venue, f.asset+"/"+f.asset, types.SideBuy, equity))
		for _, va := range splitByAllocation(equity, cfg.HedgeVenues, cfg.HedgeAllocation) {
			orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideSell, va.Notional))
		}
	case ActionExitFull:
		orders = append(orders, spotOrder(f.venue, f.asset+"/"+f.asset, types.SideSell, spot))
		for _, va := range splitByAllocation(spot, cfg.HedgeVenues, cfg.HedgeAllocation) {
			orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideBuy, va.Notional))
		}
	case ActionEntryPartial:
		if depositDelta.IsPositive() {
			orders = append(orders, spotOrder(f.venue, f.asset+"/"+f.asset, types.SideBuy, depositDelta))
			for _, va := range splitByAllocation(depositDelta, cfg.HedgeVenues, cfg.HedgeAllocation) {
				orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideSell, va.Notional))
			}
		}
	case ActionExitPartial:
		amt := depositDelta.Neg()
		if amt.IsPositive() {
			orders = append(orders, spotOrder(f.venue, f.asset+"/"+f.asset, types.SideSell, amt))
			for _, va := range splitByAllocation(amt, cfg.HedgeVenues, cfg.HedgeAllocation) {
				orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideBuy, va.Notional))
			}
		}
	}
	return orders, nil
}

// StakingOnly targets the full equity staked into the mode's LST, with no
// hedging (§4.8 "Staking-only").
type StakingOnly struct {
	asset   string
	lstType string
	venue   string
}

func (f *StakingOnly) Name() string { return "staking_only" }

func (f *StakingOnly) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (Action, decimal.Decimal) {
	staked := exposure.Assets[f.lstType].ExposureInShareClass
	if staked.IsZero() {
		return ActionEntryFull, decimal.NewFromInt(1)
	}
	return ActionEntryPartial, deviationFrom(equity, staked, equity)
}

func (f *StakingOnly) BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	staked := exposure.Assets[f.lstType].ExposureInShareClass
	switch action {
	case ActionEntryFull:
		return []types.Order{stakeOrder(f.venue, f.asset, equity)}, nil
	case ActionExitFull:
		return []types.Order{unstakeOrder(f.venue, f.lstType, staked)}, nil
	case ActionEntryPartial:
		if depositDelta.IsPositive() {
			return []types.Order{stakeOrder(f.venue, f.asset, depositDelta)}, nil
		}
		return nil, nil
	case ActionExitPartial:
		amt := depositDelta.Neg()
		if amt.IsPositive() {
			return []types.Order{unstakeOrder(f.venue, f.lstType, amt)}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// LeveragedStaking targets a directional looped position: supply =
// equity*L, debt = equity*(L-1) (§4.8 "Leveraged-staking (directional)").
// BuildOrders emits either a single flash_atomic bundle or a sequential
// borrow/stake/supply loop bounded by max_leverage_iterations.
type LeveragedStaking struct {
	asset   string
	lstType string
	venue   string
}

func (f *LeveragedStaking) Name() string { return "leveraged_staking" }

func (f *LeveragedStaking) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (Action, decimal.Decimal) {
	supplied := exposure.Assets[f.lstType].ExposureInShareClass
	target := equity.Mul(leverageFactor(cfg.TargetLTV))
	if supplied.IsZero() {
		return ActionEntryFull, decimal.NewFromInt(1)
	}
	return ActionEntryPartial, deviationFrom(target, supplied, equity)
}

func (f *LeveragedStaking) BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	L := leverageFactor(cfg.TargetLTV)
	if L.IsZero() {
		return nil, fmt.Errorf("leveraged_staking: target_ltv %s yields zero leverage", cfg.TargetLTV)
	}
	targetSupply := equity.Mul(L)
	targetDebt := equity.Mul(L.Sub(decimal.NewFromInt(1)))
	supplied := exposure.Assets[f.lstType].ExposureInShareClass
	debt := exposure.Assets[f.asset+"_debt"].ExposureInShareClass

	switch action {
	case ActionExitFull, ActionExitPartial:
		amt := supplied
		if action == ActionExitPartial {
			amt = depositDelta.Neg()
		}
		if !amt.IsPositive() {
			return nil, nil
		}
		return []types.Order{
			unstakeOrder(f.venue, f.lstType, amt),
			repayOrder(f.venue, f.asset, debt),
		}, nil
	}

	if cfg.UseFlashLoan {
		return f.flashAtomicBundle(equity, targetSupply, targetDebt), nil
	}
	return f.sequentialLoop(equity, targetSupply, targetDebt, cfg.MaxLeverageIterations)
}

// flashAtomicBundle builds the 6-step bundled order (§4.8 "atomic
// flash-loan sequence generates 6-step bundled order"): flash-borrow the
// base asset, stake it, supply the resulting LST as collateral, borrow
// the base asset back to size, repay the flash loan, and sweep any
// residual dust back to the vault.
func (f *LeveragedStaking) flashAtomicBundle(equity, targetSupply, targetDebt decimal.Decimal) []types.Order {
	flashAmount := targetSupply.Sub(equity)
	return []types.Order{{
		Venue:     f.venue,
		Operation: types.OpFlashAtomic,
		Pair:      f.asset,
		Amount:    targetSupply,
		OrderType: types.OrderTypeMarket,
		SubOrders: []types.Order{
			{Venue: f.venue, Operation: types.OpBorrow, Pair: f.asset, Amount: flashAmount, Metadata: map[string]any{"leg": "flash_borrow"}},
			{Venue: f.venue, Operation: types.OpStake, Pair: f.asset, Amount: targetSupply, Metadata: map[string]any{"leg": "stake"}},
			{Venue: f.venue, Operation: types.OpSupply, Pair: f.lstType, Amount: targetSupply, Metadata: map[string]any{"leg": "supply_collateral"}},
			{Venue: f.venue, Operation: types.OpBorrow, Pair: f.asset, Amount: targetDebt, Metadata: map[string]any{"leg": "borrow_to_size"}},
			{Venue: f.venue, Operation: types.OpRepay, Pair: f.asset, Amount: flashAmount, Metadata: map[string]any{"leg": "repay_flash"}},
			{Venue: f.venue, Operation: types.OpTransfer, Pair: f.asset, Amount: targetDebt.Sub(flashAmount).Abs(), Metadata: map[string]any{"leg": "sweep_residual"}},
		},
	}}
}

// sequentialLoop grows the position toward (targetSupply, targetDebt) one
// supply/borrow cycle at a time, bounded by maxIterations (§4.8 "sequential
// loop up to max_leverage_iterations").
func (f *LeveragedStaking) sequentialLoop(equity, targetSupply, targetDebt decimal.Decimal, maxIterations int) ([]types.Order, error) {
	if maxIterations <= 0 {
		return nil, fmt.Errorf("leveraged_staking: max_leverage_iterations must be positive, got %d", maxIterations)
	}
	var orders []types.Order
	supplied := equity
	borrowed := decimal.Zero
	orders = append(orders, stakeOrder(f.venue, f.asset, equity), supplyOrder(f.venue, f.lstType, equity))

	for i := 0; i < maxIterations && supplied.LessThan(targetSupply); i++ {
		remaining := targetSupply.Sub(supplied)
		step := remaining
		if step.GreaterThan(targetDebt.Sub(borrowed)) {
			step = targetDebt.Sub(borrowed)
		}
		if !step.IsPositive() {
			break
		}
		iter := i
		orders = append(orders,
			types.Order{Venue: f.venue, Operation: types.OpBorrow, Pair: f.asset, Amount: step, OrderType: types.OrderTypeMarket, Metadata: map[string]any{"iteration": iter}},
			types.Order{Venue: f.venue, Operation: types.OpStake, Pair: f.asset, Amount: step, OrderType: types.OrderTypeMarket, Metadata: map[string]any{"iteration": iter}},
			types.Order{Venue: f.venue, Operation: types.OpSupply, Pair: f.lstType, Amount: step, OrderType: types.OrderTypeMarket, Metadata: map[string]any{"iteration": iter}},
		)
		supplied = supplied.Add(step)
		borrowed = borrowed.Add(step)
	}
	if supplied.LessThan(targetSupply) {
		return nil, fmt.Errorf("leveraged_staking: target supply %s not reached within %d iterations (reached %s)", targetSupply, maxIterations, supplied)
	}
	return orders, nil
}

// MarketNeutralLeveraged splits equity by stake_allocation_eth: the staked
// portion is looped to leverage L = target_ltv/(1-target_ltv), the
// remainder funds CEX margin, and a perp short matches the staked ETH
// exposure across hedge venues (§4.8 "Market-neutral leveraged").
type MarketNeutralLeveraged struct {
	asset   string
	lstType string
	venue   string
}

func (f *MarketNeutralLeveraged) Name() string { return "market_neutral_leveraged" }

func (f *MarketNeutralLeveraged) Evaluate(exposure types.Exposure, risk types.RiskAssessment, equity decimal.Decimal, cfg types.StrategyManagerConfig) (Action, decimal.Decimal) {
	staked := exposure.Assets[f.lstType].ExposureInShareClass
	if staked.IsZero() {
		return ActionEntryFull, decimal.NewFromInt(1)
	}
	L := leverageFactor(cfg.TargetLTV)
	targetStaked := equity.Mul(cfg.StakeAllocationETH).Mul(L)
	return ActionEntryPartial, deviationFrom(targetStaked, staked, equity)
}

func (f *MarketNeutralLeveraged) BuildOrders(ctx context.Context, t types.Timestamp, action Action, exposure types.Exposure, equity, depositDelta decimal.Decimal, cfg types.StrategyManagerConfig) ([]types.Order, error) {
	if len(cfg.HedgeVenues) == 0 {
		return nil, fmt.Errorf("market_neutral_leveraged: no hedge venues configured")
	}
	L := leverageFactor(cfg.TargetLTV)
	if L.IsZero() {
		return nil, fmt.Errorf("market_neutral_leveraged: target_ltv %s yields zero leverage", cfg.TargetLTV)
	}
	staked := exposure.Assets[f.lstType].ExposureInShareClass
	stakeEquity := equity.Mul(cfg.StakeAllocationETH)
	targetStaked := stakeEquity.Mul(L)
	targetDebt := stakeEquity.Mul(L.Sub(decimal.NewFromInt(1)))

	switch action {
	case ActionExitFull, ActionExitPartial:
		amt := staked
		if action == ActionExitPartial {
			amt = depositDelta.Neg()
		}
		if !amt.IsPositive() {
			return nil, nil
		}
		orders := []types.Order{unstakeOrder(f.venue, f.lstType, amt)}
		for _, va := range splitByAllocation(amt, cfg.HedgeVenues, cfg.HedgeAllocation) {
			orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideBuy, va.Notional))
		}
		return orders, nil
	}

	// Perp shorts across hedge venues go first, all at this T, so the
	// hedge is in place before ETH moves on-chain (§4.8 "all perp-short
	// orders ... emitted in a single batch ... executed before ETH is
	// moved on-chain").
	var orders []types.Order
	for _, va := range splitByAllocation(targetStaked, cfg.HedgeVenues, cfg.HedgeAllocation) {
		orders = append(orders, perpOrder(va.Venue, f.asset+"-PERP", types.SideSell, va.Notional))
	}
	orders = append(orders, stakeOrder(f.venue, f.asset, stakeEquity), supplyOrder(f.venue, f.lstType, stakeEquity))
	if targetDebt.IsPositive() {
		orders = append(orders, borrowOrder(f.venue, f.asset, targetDebt), stakeOrder(f.venue, f.asset, targetDebt))
	}
	return orders, nil
}
