package config

import (
	"fmt"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
)

// ForRequest builds the mode-sliced, override-merged config for a single
// request (§3 "Lifecycle — Config"). The returned ModeConfig is an
// independent deep copy; mutating it never affects g.Modes.
func (g *Global) ForRequest(req types.Request) (types.ModeConfig, error) {
	base, ok := g.Modes[req.StrategyName]
	if !ok {
		return types.ModeConfig{}, &types.EngineError{
			Code:      types.ErrConfiguration,
			Component: "config",
			Operation: "ForRequest",
			Message:   fmt.Sprintf("unknown strategy_name %q", req.StrategyName),
		}
	}

	mc := base.Clone()
	if req.ShareClass != "" {
		mc.ShareClass = req.ShareClass
	}

	if err := applyOverrides(&mc, req.ConfigOverrides); err != nil {
		return types.ModeConfig{}, err
	}
	return mc, nil
}

// applyOverrides merges config_overrides onto mc. Only these keys are
// accepted: lending_enabled, staking_enabled, borrowing_enabled,
// basis_trade_enabled, component_config.strategy_manager.{
// position_deviation_threshold, use_flash_loan, target_ltv} and
// component_config.pnl_calculator.reconciliation_tolerance. Every other
// key is rejected with a Configuration error, including keys the mode
// config does define.
func applyOverrides(mc *types.ModeConfig, overrides map[string]any) error {
	for key, val := range overrides {
		switch key {
		case "lending_enabled":
			b, err := asBool(key, val)
			if err != nil {
				return err
			}
			mc.LendingEnabled = b
		case "staking_enabled":
			b, err := asBool(key, val)
			if err != nil {
				return err
			}
			mc.StakingEnabled = b
		case "borrowing_enabled":
			b, err := asBool(key, val)
			if err != nil {
				return err
			}
			mc.BorrowingEnabled = b
		case "basis_trade_enabled":
			b, err := asBool(key, val)
			if err != nil {
				return err
			}
			mc.BasisTradeEnabled = b
		case "component_config":
			sub, ok := val.(map[string]any)
			if !ok {
				return unknownOverride(key)
			}
			if err := applyComponentOverrides(mc, sub); err != nil {
				return err
			}
		default:
			return unknownOverride(key)
		}
	}
	return nil
}

func applyComponentOverrides(mc *types.ModeConfig, sub map[string]any) error {
	for key, val := range sub {
		switch key {
		case "strategy_manager":
			block, ok := val.(map[string]any)
			if !ok {
				return unknownOverride("component_config.strategy_manager")
			}
			for k, v := range block {
				switch k {
				case "position_deviation_threshold":
					d, err := asDecimal("component_config.strategy_manager.position_deviation_threshold", v)
					if err != nil {
						return err
					}
					mc.ComponentConfig.StrategyManager.PositionDeviationThresh = d
				case "use_flash_loan":
					b, err := asBool("component_config.strategy_manager.use_flash_loan", v)
					if err != nil {
						return err
					}
					mc.ComponentConfig.StrategyManager.UseFlashLoan = b
				case "target_ltv":
					d, err := asDecimal("component_config.strategy_manager.target_ltv", v)
					if err != nil {
						return err
					}
					mc.ComponentConfig.StrategyManager.TargetLTV = d
				default:
					return unknownOverride("component_config.strategy_manager." + k)
				}
			}
		case "pnl_calculator":
			block, ok := val.(map[string]any)
			if !ok {
				return unknownOverride("component_config.pnl_calculator")
			}
			for k, v := range block {
				if k == "reconciliation_tolerance" {
					d, err := asDecimal("component_config.pnl_calculator.reconciliation_tolerance", v)
					if err != nil {
						return err
					}
					mc.ComponentConfig.PnLCalculator.ReconciliationTolPct = d
					continue
				}
				return unknownOverride("component_config.pnl_calculator." + k)
			}
		default:
			return unknownOverride("component_config." + key)
		}
	}
	return nil
}

func unknownOverride(key string) error {
	return &types.EngineError{
		Code:      types.ErrConfiguration,
		Component: "config",
		Operation: "applyOverrides",
		Message:   fmt.Sprintf("config_overrides key %q is not defined in the mode config", key),
	}
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "applyOverrides", Message: fmt.Sprintf("override %q must be a bool", key)}
	}
	return b, nil
}

func asDecimal(key string, v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	default:
		return decimal.Decimal{}, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "applyOverrides", Message: fmt.Sprintf("override %q must be numeric", key)}
	}
}
