package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakePositions struct {
	simulated types.PositionMap
	real      types.PositionMap
}

func newFakePositions() *fakePositions {
	return &fakePositions{simulated: make(types.PositionMap), real: make(types.PositionMap)}
}

func (f *fakePositions) ApplyExecutionDeltas(ctx context.Context, t types.Timestamp, deltas []types.Delta) error {
	for _, d := range deltas {
		f.simulated[d.PositionKey] = f.simulated[d.PositionKey].Add(d.DeltaAmount)
		f.real[d.PositionKey] = f.simulated[d.PositionKey]
	}
	return nil
}

func (f *fakePositions) Current(t types.Timestamp) (types.PositionMap, types.PositionMap) {
	return f.simulated.Clone(), f.real.Clone()
}

type fakeChain struct {
	called []string
}

func (c *fakeChain) Update(ctx context.Context, t types.Timestamp, positions types.PositionMap) (types.Exposure, error) {
	c.called = append(c.called, "exposure")
	return types.Exposure{T: t}, nil
}

func (c *fakeChain) Assess(ctx context.Context, t types.Timestamp, exposure types.Exposure) (types.RiskAssessment, error) {
	c.called = append(c.called, "risk")
	return types.RiskAssessment{T: t, OverallStatus: types.RiskSafe}, nil
}

func (c *fakeChain) PnLUpdate(ctx context.Context, t types.Timestamp, exposure types.Exposure, risk types.RiskAssessment) (types.PnLRecord, error) {
	c.called = append(c.called, "pnl")
	return types.PnLRecord{T: t}, nil
}

// adapt fakeChain to the three distinct stage interfaces.
type exposureAdapter struct{ c *fakeChain }

func (a exposureAdapter) Update(ctx context.Context, t types.Timestamp, positions types.PositionMap) (types.Exposure, error) {
	return a.c.Update(ctx, t, positions)
}

type riskAdapter struct{ c *fakeChain }

func (a riskAdapter) Assess(ctx context.Context, t types.Timestamp, exposure types.Exposure) (types.RiskAssessment, error) {
	return a.c.Assess(ctx, t, exposure)
}

type pnlAdapter struct{ c *fakeChain }

func (a pnlAdapter) Update(ctx context.Context, t types.Timestamp, exposure types.Exposure, risk types.RiskAssessment) (types.PnLRecord, error) {
	return a.c.PnLUpdate(ctx, t, exposure, risk)
}

func TestReconcileSuccessInvokesDownstreamChainInOrder(t *testing.T) {
	positions := newFakePositions()
	chain := &fakeChain{}
	h := reconcile.New(zap.NewNop(), false, positions, nil, nil, decimal.Zero,
		exposureAdapter{chain}, riskAdapter{chain}, pnlAdapter{chain})

	handshake := types.ExecutionHandshake{
		Order:          types.Order{Venue: "backtest-cex", Operation: types.OpSpotTrade},
		Status:         types.ExecutionExecuted,
		PositionDeltas: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)},
	}

	result, err := h.Reconcile(context.Background(), time.Now(), handshake)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got mismatches: %+v", result.Mismatches)
	}
	want := []string{"exposure", "risk", "pnl"}
	if len(chain.called) != len(want) {
		t.Fatalf("expected chain %v, got %v", want, chain.called)
	}
	for i, name := range want {
		if chain.called[i] != name {
			t.Errorf("chain[%d] = %s, want %s", i, chain.called[i], name)
		}
	}
}

type mismatchingVenues struct{}

func (mismatchingVenues) QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	out := make(types.PositionMap)
	for _, k := range keys {
		out[k] = decimal.NewFromInt(999)
	}
	return out, nil
}

func TestReconcileLiveMismatchSkipsDownstreamChain(t *testing.T) {
	positions := newFakePositions()
	chain := &fakeChain{}
	h := reconcile.New(zap.NewNop(), true, positions, mismatchingVenues{}, nil, decimal.Zero,
		exposureAdapter{chain}, riskAdapter{chain}, pnlAdapter{chain})

	handshake := types.ExecutionHandshake{
		Order:          types.Order{Venue: "binance", Operation: types.OpSpotTrade},
		Status:         types.ExecutionExecuted,
		PositionDeltas: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)},
	}

	result, err := h.Reconcile(context.Background(), time.Now(), handshake)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Success {
		t.Fatal("expected mismatch given the fake venue always returns 999")
	}
	if len(chain.called) != 0 {
		t.Errorf("expected downstream chain to be skipped on mismatch, got %v", chain.called)
	}
}
