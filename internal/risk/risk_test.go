package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/risk"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeProvider struct {
	snap types.MarketSnapshot
}

func (f *fakeProvider) Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error) {
	return f.snap, nil
}

type fakePositions struct {
	simulated types.PositionMap
}

func (f *fakePositions) Current(t types.Timestamp) (types.PositionMap, types.PositionMap) {
	return f.simulated, f.simulated
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestHealthFactorCriticalBelowThreshold(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{
		OraclePrices: map[string]decimal.Decimal{"ETH": d("2000"), "USDC": d("1")},
	}}
	positions := &fakePositions{simulated: types.PositionMap{
		types.NewPositionKey("aave", types.PositionAToken, "ETH"):    d("1"),
		types.NewPositionKey("aave", types.PositionDebtToken, "USDC"): d("1900"),
	}}

	cfg := types.RiskMonitorConfig{
		EnabledRiskTypes: []string{risk.TypeAaveHealthFactor},
		RiskLimits: types.RiskLimits{
			HFWarn:               d("1.3"),
			HFCrit:               d("1.1"),
			LiquidationThreshold: d("0.8"),
		},
	}
	m := risk.New(zap.NewNop(), provider, positions, cfg)

	result, err := m.Assess(context.Background(), time.Now(), types.Exposure{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	hf := result.ByType[risk.TypeAaveHealthFactor]
	// collateral 2000 * 0.8 = 1600, debt 1900 -> hf = 1600/1900 ~ 0.84, below crit 1.1
	if hf.Status != types.RiskCritical {
		t.Errorf("expected CRITICAL health factor, got %s (value=%s)", hf.Status, hf.Value)
	}
	if result.OverallStatus != types.RiskCritical {
		t.Errorf("expected overall CRITICAL, got %s", result.OverallStatus)
	}
}

func TestReserveRatioTriggersReserveLowAlert(t *testing.T) {
	provider := &fakeProvider{}
	positions := &fakePositions{simulated: types.PositionMap{}}

	cfg := types.RiskMonitorConfig{
		EnabledRiskTypes: []string{risk.TypeReserveRatio},
		RiskLimits:       types.RiskLimits{ReserveFloor: d("0.1")},
	}
	m := risk.New(zap.NewNop(), provider, positions, cfg)

	exposure := types.Exposure{TotalLong: d("100"), TotalShort: d("95"), TotalValueShareCls: d("100")}
	result, err := m.Assess(context.Background(), time.Now(), exposure)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	found := false
	for _, alert := range result.Alerts {
		if alert == "ReserveLow" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ReserveLow alert, got %v", result.Alerts)
	}
}

func TestFundingCostTrendNeedsTwoSamples(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{
		FundingRates: map[string]decimal.Decimal{"BTC": d("0.0001")},
	}}
	positions := &fakePositions{simulated: types.PositionMap{}}
	cfg := types.RiskMonitorConfig{
		EnabledRiskTypes: []string{risk.TypeFundingCostTrend},
		RiskLimits:       types.RiskLimits{FundingTrendWarn: d("0.01")},
	}
	m := risk.New(zap.NewNop(), provider, positions, cfg)

	result, err := m.Assess(context.Background(), time.Now(), types.Exposure{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	ft := result.ByType[risk.TypeFundingCostTrend]
	if ft.Status != types.RiskSafe {
		t.Errorf("expected SAFE with only one sample, got %s", ft.Status)
	}
}

type fakeEvents struct {
	events []types.Event
}

func (f *fakeEvents) Append(ev types.Event) types.Event {
	f.events = append(f.events, ev)
	return ev
}

func TestReserveLowEventFiresOncePerTransition(t *testing.T) {
	provider := &fakeProvider{}
	positions := &fakePositions{simulated: types.PositionMap{}}
	cfg := types.RiskMonitorConfig{
		EnabledRiskTypes: []string{risk.TypeReserveRatio},
		RiskLimits:       types.RiskLimits{ReserveFloor: d("0.1")},
	}
	m := risk.New(zap.NewNop(), provider, positions, cfg)
	events := &fakeEvents{}
	m.SetEvents(events)

	breached := types.Exposure{TotalLong: d("100"), TotalShort: d("95"), TotalValueShareCls: d("100")}
	safe := types.Exposure{TotalLong: d("100"), TotalShort: d("50"), TotalValueShareCls: d("100")}

	// Two consecutive breached ticks: only the first is a falling edge.
	if _, err := m.Assess(context.Background(), time.Now(), breached); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if _, err := m.Assess(context.Background(), time.Now(), breached); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected exactly 1 ReserveLow event across 2 breached ticks, got %d", len(events.events))
	}
	if events.events[0].EventType != types.EventReserveLow {
		t.Errorf("expected EventReserveLow, got %s", events.events[0].EventType)
	}

	// Recovery then a second breach is a second falling edge.
	if _, err := m.Assess(context.Background(), time.Now(), safe); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if _, err := m.Assess(context.Background(), time.Now(), breached); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected a second ReserveLow event after recovery and re-breach, got %d", len(events.events))
	}
}
