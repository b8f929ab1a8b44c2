package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/strategy"
	"github.com/basisdesk/engine/internal/types"
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

func pureLendingMode() types.ModeConfig {
	return types.ModeConfig{
		ShareClass:     "USDC",
		Asset:          "USDC",
		LendingEnabled: true,
		ComponentConfig: types.ComponentConfig{
			StrategyManager: types.StrategyManagerConfig{
				PrimaryVenue:            "aave",
				PositionDeviationThresh: d("0.02"),
				DustDelta:               d("1"),
			},
		},
	}
}

func TestDecideEntryFullOnFirstTick(t *testing.T) {
	mode := pureLendingMode()
	family, err := strategy.NewFamily(mode)
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	m := strategy.New(zap.NewNop(), family, mode)

	orders, err := m.Decide(context.Background(), time.Now(), types.Exposure{Assets: map[string]types.AssetExposure{}}, types.RiskAssessment{OverallStatus: types.RiskSafe}, d("100000"), decimal.Zero)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(orders) != 1 || orders[0].Operation != types.OpSupply {
		t.Fatalf("expected a single supply order, got %+v", orders)
	}
	if !orders[0].Amount.Equal(d("100000")) {
		t.Errorf("amount = %s, want 100000", orders[0].Amount)
	}
}

func TestDecideNoOpWhenWithinDeviationAndNoDeposit(t *testing.T) {
	mode := pureLendingMode()
	family, err := strategy.NewFamily(mode)
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	m := strategy.New(zap.NewNop(), family, mode)

	exposure := types.Exposure{Assets: map[string]types.AssetExposure{
		"USDC": {Symbol: "USDC", ExposureInShareClass: d("99999")},
	}}
	orders, err := m.Decide(context.Background(), time.Now(), exposure, types.RiskAssessment{OverallStatus: types.RiskSafe}, d("100000"), decimal.Zero)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no orders within deviation threshold, got %+v", orders)
	}
}

func TestDecideEmitsDustOrderAheadOfRebalance(t *testing.T) {
	mode := pureLendingMode()
	family, err := strategy.NewFamily(mode)
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	m := strategy.New(zap.NewNop(), family, mode)

	exposure := types.Exposure{Assets: map[string]types.AssetExposure{
		"USDC": {Symbol: "USDC", ExposureInShareClass: d("100000")},
		"UNI":  {Symbol: "UNI", WalletAmount: d("5"), ExposureInShareClass: d("40")},
	}}
	orders, err := m.Decide(context.Background(), time.Now(), exposure, types.RiskAssessment{OverallStatus: types.RiskSafe}, d("100000"), d("10"))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(orders) < 2 {
		t.Fatalf("expected dust order plus deposit order, got %+v", orders)
	}
	if orders[0].Operation != types.OpSpotTrade || orders[0].Pair != "UNI/USDC" {
		t.Errorf("expected dust order first, got %+v", orders[0])
	}
}

func TestDecideCriticalRiskForcesExitPartial(t *testing.T) {
	mode := pureLendingMode()
	family, err := strategy.NewFamily(mode)
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	m := strategy.New(zap.NewNop(), family, mode)

	exposure := types.Exposure{Assets: map[string]types.AssetExposure{
		"USDC": {Symbol: "USDC", ExposureInShareClass: d("100000")},
	}}
	orders, err := m.Decide(context.Background(), time.Now(), exposure, types.RiskAssessment{OverallStatus: types.RiskCritical}, d("100000"), decimal.Zero)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(orders) != 0 {
		// pure_lending has no debt to repay on ActionEntryPartial-turned-exit
		// with zero deposit delta: BuildOrders for exit_partial with a zero
		// withdrawal amount correctly emits nothing.
		t.Fatalf("expected no orders with zero pending withdrawal, got %+v", orders)
	}
}

func TestNewFamilyUnmatchedModeErrors(t *testing.T) {
	_, err := strategy.NewFamily(types.ModeConfig{Mode: "nothing_enabled"})
	if err == nil {
		t.Fatal("expected error for a mode with no feature flags set")
	}
}
