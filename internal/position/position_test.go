package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/position"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func key(venue string, kind types.PositionType, symbol string) types.PositionKey {
	return types.NewPositionKey(venue, kind, symbol)
}

func TestApplyExecutionDeltasRejectsUnknownKey(t *testing.T) {
	m := position.New(zap.NewNop(), false, nil, nil, nil, nil)

	err := m.ApplyExecutionDeltas(context.Background(), time.Now(), []types.Delta{
		{PositionKey: key("cex", types.PositionSpot, "BTC"), DeltaAmount: decimal.NewFromInt(1)},
	})
	if err == nil {
		t.Fatal("expected UnknownPositionKey error")
	}
}

func TestApplyExecutionDeltasMirrorsToRealInBacktest(t *testing.T) {
	k := key("cex", types.PositionSpot, "BTC")
	m := position.New(zap.NewNop(), false, []types.PositionKey{k}, nil, nil, nil)

	now := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	err := m.ApplyExecutionDeltas(context.Background(), now, []types.Delta{
		{PositionKey: k, DeltaAmount: decimal.NewFromInt(2), Source: types.DeltaSourceTrade},
	})
	if err != nil {
		t.Fatalf("ApplyExecutionDeltas: %v", err)
	}

	sim, real := m.Current(now)
	if !sim[k].Equal(decimal.NewFromInt(2)) {
		t.Errorf("simulated[%s] = %s, want 2", k, sim[k])
	}
	if !real[k].Equal(decimal.NewFromInt(2)) {
		t.Errorf("real[%s] = %s, want 2 (backtest mirrors simulated)", k, real[k])
	}
}

func TestApplyExecutionDeltasRejectsNegativeProhibited(t *testing.T) {
	k := key("wallet", types.PositionBaseToken, "ETH")
	m := position.New(zap.NewNop(), false, []types.PositionKey{k}, []types.PositionKey{k}, nil, nil)

	now := time.Now()
	if err := m.ApplyExecutionDeltas(context.Background(), now, []types.Delta{
		{PositionKey: k, DeltaAmount: decimal.NewFromInt(5)},
	}); err != nil {
		t.Fatalf("initial deposit: %v", err)
	}

	err := m.ApplyExecutionDeltas(context.Background(), now, []types.Delta{
		{PositionKey: k, DeltaAmount: decimal.NewFromInt(-10)},
	})
	if err == nil {
		t.Fatal("expected NegativeBalanceProhibited error")
	}
}

type fakeVenueQuerier struct {
	positions types.PositionMap
}

func (f *fakeVenueQuerier) QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	out := make(types.PositionMap)
	for _, k := range keys {
		out[k] = f.positions[k]
	}
	return out, nil
}

func TestRefreshLiveReplacesRealFromVenues(t *testing.T) {
	k := key("cex", types.PositionSpot, "BTC")
	venues := &fakeVenueQuerier{positions: types.PositionMap{k: decimal.NewFromInt(7)}}
	m := position.New(zap.NewNop(), true, []types.PositionKey{k}, nil, nil, venues)

	now := time.Now()
	if err := m.Refresh(context.Background(), now, "scheduled"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	_, real := m.Current(now)
	if !real[k].Equal(decimal.NewFromInt(7)) {
		t.Errorf("real[%s] = %s, want 7", k, real[k])
	}
}
