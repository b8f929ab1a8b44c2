package venue_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeProvider struct {
	snap types.MarketSnapshot
	err  error
}

func (f *fakeProvider) Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error) {
	return f.snap, f.err
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSimulatedVenueExecutesAtSpotPrice(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{
		SpotPrices: map[string]decimal.Decimal{"BTC": d("40000")},
	}}
	v := venue.NewSimulatedVenue("backtest-cex", zap.NewNop(), provider, d("0.001"))

	order := types.Order{
		Venue:     "backtest-cex",
		Operation: types.OpSpotTrade,
		Pair:      "BTC",
		Side:      types.SideBuy,
		Amount:    d("1"),
		OrderType: types.OrderTypeMarket,
	}

	hs, err := v.Execute(context.Background(), time.Now(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hs.Status != types.ExecutionExecuted {
		t.Fatalf("expected executed, got %s: %s", hs.Status, hs.ErrorMessage)
	}
	if !hs.ExecutedPrice.Equal(d("40000")) {
		t.Errorf("expected fill at spot price 40000, got %s", hs.ExecutedPrice)
	}
	wantFee := d("40000").Mul(d("0.001"))
	if !hs.FeeAmount.Equal(wantFee) {
		t.Errorf("expected fee %s, got %s", wantFee, hs.FeeAmount)
	}
}

func TestSimulatedVenueFlashAtomicMergesDeltas(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{
		SpotPrices: map[string]decimal.Decimal{"BTC": d("40000"), "ETH": d("2000")},
	}}
	v := venue.NewSimulatedVenue("backtest-cex", zap.NewNop(), provider, decimal.Zero)

	order := types.Order{
		Operation: types.OpFlashAtomic,
		Amount:    d("2"),
		SubOrders: []types.Order{
			{Operation: types.OpSpotTrade, Pair: "BTC", Side: types.SideBuy, Amount: d("1"), OrderType: types.OrderTypeMarket},
			{Operation: types.OpSpotTrade, Pair: "ETH", Side: types.SideSell, Amount: d("1"), OrderType: types.OrderTypeMarket},
		},
	}

	hs, err := v.Execute(context.Background(), time.Now(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hs.Status != types.ExecutionExecuted {
		t.Fatalf("expected executed, got %s", hs.Status)
	}
	if !hs.PositionDeltas["BTC"].Equal(d("1")) {
		t.Errorf("expected BTC delta 1, got %s", hs.PositionDeltas["BTC"])
	}
	if !hs.PositionDeltas["ETH"].Equal(d("-1")) {
		t.Errorf("expected ETH delta -1, got %s", hs.PositionDeltas["ETH"])
	}
}

func TestSimulatedVenueFailsWithoutPrice(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{}}
	v := venue.NewSimulatedVenue("backtest-cex", zap.NewNop(), provider, decimal.Zero)

	order := types.Order{
		Operation: types.OpSpotTrade,
		Pair:      "BTC",
		Side:      types.SideBuy,
		Amount:    d("1"),
		OrderType: types.OrderTypeMarket,
	}

	hs, err := v.Execute(context.Background(), time.Now(), order)
	if err != nil {
		t.Fatalf("Execute should report failure via handshake, not error: %v", err)
	}
	if hs.Status != types.ExecutionFailed {
		t.Fatalf("expected failed status when no price is available, got %s", hs.Status)
	}
}

func TestManagerRoutesByVenueAndOperation(t *testing.T) {
	provider := &fakeProvider{snap: types.MarketSnapshot{SpotPrices: map[string]decimal.Decimal{"BTC": d("40000")}}}
	cex := venue.NewSimulatedVenue("backtest-cex", zap.NewNop(), provider, decimal.Zero)

	m := venue.NewManager(
		map[string]venue.Interface{"backtest-cex": cex},
		map[string][]types.OrderOperation{"backtest-cex": {types.OpSpotTrade}},
	)

	iface, err := m.Route(types.Order{Venue: "backtest-cex", Operation: types.OpSpotTrade})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if iface.Name() != "backtest-cex" {
		t.Errorf("expected backtest-cex, got %s", iface.Name())
	}

	_, err = m.Route(types.Order{Venue: "backtest-cex", Operation: types.OpBorrow})
	if err == nil {
		t.Fatal("expected NoVenueConfigured for an unrouted operation")
	}
}

func TestRayMulRayDivRoundTrip(t *testing.T) {
	a := d("1.05")
	b := d("1.10")
	product := venue.RayMul(a, b)
	back := venue.RayDiv(product, b)
	diff := back.Sub(a).Abs()
	if diff.GreaterThan(d("0.0000001")) {
		t.Errorf("RayDiv(RayMul(a,b), b) = %s, want approximately %s", back, a)
	}
}

func TestRayMulKnownValue(t *testing.T) {
	// 1.0 ray-multiplied by an AAVE liquidity index of 1.05 should yield 1.05.
	got := venue.RayMul(d("1"), d("1.05"))
	if !got.Equal(d("1.05")) {
		t.Errorf("RayMul(1, 1.05) = %s, want 1.05", got)
	}
}
