package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basisdesk/engine/internal/config"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sampleMode = `
mode: pure_lending
share_class: USDT
asset: USDT
data_requirements:
  - spot_prices
  - aave_liquidity_index
component_config:
  strategy_manager:
    position_deviation_threshold: 0.02
    dust_delta: 1
`

func writeMode(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing mode file: %v", err)
	}
}

func TestLoadModesAndForRequest(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "pure_lending.yaml", sampleMode)

	t.Setenv("BASIS_EXECUTION_MODE", "backtest")
	t.Setenv("BASIS_DATA_MODE", "csv")

	g, err := config.Load(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := g.Modes["pure_lending"]; !ok {
		t.Fatalf("expected pure_lending mode to be loaded")
	}

	req := types.Request{
		StrategyName: "pure_lending",
		ConfigOverrides: map[string]any{
			"component_config": map[string]any{
				"strategy_manager": map[string]any{
					"position_deviation_threshold": 0.05,
				},
			},
		},
	}

	mc, err := g.ForRequest(req)
	if err != nil {
		t.Fatalf("ForRequest failed: %v", err)
	}

	if !mc.ComponentConfig.StrategyManager.PositionDeviationThresh.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("override not applied: got %s", mc.ComponentConfig.StrategyManager.PositionDeviationThresh)
	}

	// Global must remain unmutated.
	if g.Modes["pure_lending"].ComponentConfig.StrategyManager.PositionDeviationThresh.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("global config mutated by ForRequest")
	}
}

func TestForRequestRejectsUnknownOverride(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "pure_lending.yaml", sampleMode)
	t.Setenv("BASIS_EXECUTION_MODE", "backtest")

	g, err := config.Load(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	req := types.Request{
		StrategyName:    "pure_lending",
		ConfigOverrides: map[string]any{"not_a_real_key": true},
	}

	if _, err := g.ForRequest(req); err == nil {
		t.Fatal("expected unknown override key to be rejected")
	}
}

func TestLoadRejectsInvalidExecutionMode(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "pure_lending.yaml", sampleMode)
	t.Setenv("BASIS_EXECUTION_MODE", "bogus")

	if _, err := config.Load(zap.NewNop(), dir); err == nil {
		t.Fatal("expected invalid execution mode to be rejected")
	}
}
