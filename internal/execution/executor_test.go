package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/execution"
	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRouter struct {
	iface venue.Interface
	err   error
}

func (f *fakeRouter) Route(order types.Order) (venue.Interface, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.iface, nil
}

type fakeVenue struct {
	handshakes []types.ExecutionHandshake
	calls      int
}

func (f *fakeVenue) Name() string { return "fake" }
func (f *fakeVenue) Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error) {
	h := f.handshakes[f.calls]
	f.calls++
	return h, nil
}
func (f *fakeVenue) QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	return nil, nil
}
func (f *fakeVenue) QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

type fakeReconciler struct {
	results []reconcile.Result
	calls   int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, t types.Timestamp, handshake types.ExecutionHandshake) (reconcile.Result, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

func TestProcessSucceedsOnFirstAttempt(t *testing.T) {
	venueDouble := &fakeVenue{handshakes: []types.ExecutionHandshake{{Status: types.ExecutionExecuted}}}
	reconciler := &fakeReconciler{results: []reconcile.Result{{Success: true}}}
	m := execution.New(zap.NewNop(), &fakeRouter{iface: venueDouble}, reconciler, types.ModeBacktest)

	handshakes, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "fake", Operation: types.OpSpotTrade}})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handshakes) != 1 || handshakes[0].Status != types.ExecutionExecuted {
		t.Fatalf("unexpected handshakes: %+v", handshakes)
	}
}

func TestProcessBacktestReconciliationFailureIsFatal(t *testing.T) {
	venueDouble := &fakeVenue{handshakes: []types.ExecutionHandshake{{Status: types.ExecutionExecuted}}}
	reconciler := &fakeReconciler{results: []reconcile.Result{{Success: false, Mismatches: []reconcile.Mismatch{{}}}}}
	m := execution.New(zap.NewNop(), &fakeRouter{iface: venueDouble}, reconciler, types.ModeBacktest)

	_, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "fake"}})
	if err == nil {
		t.Fatal("expected a SystemFailure error on backtest reconciliation mismatch")
	}
	engErr, ok := err.(*types.EngineError)
	if !ok || engErr.Code != types.ErrSystemFailure {
		t.Fatalf("expected ErrSystemFailure, got %v", err)
	}
}

func TestProcessRequiredOrderFailureIsFatal(t *testing.T) {
	venueDouble := &fakeVenue{handshakes: []types.ExecutionHandshake{{Status: types.ExecutionFailed, ErrorCode: "InsufficientFunds"}}}
	m := execution.New(zap.NewNop(), &fakeRouter{iface: venueDouble}, &fakeReconciler{}, types.ModeBacktest)

	_, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "fake", Required: true}})
	if err == nil {
		t.Fatal("expected SystemFailure for a required order's execution failure")
	}
}

func TestProcessOptionalOrderFailureContinues(t *testing.T) {
	venueDouble := &fakeVenue{handshakes: []types.ExecutionHandshake{{Status: types.ExecutionFailed}}}
	m := execution.New(zap.NewNop(), &fakeRouter{iface: venueDouble}, &fakeReconciler{}, types.ModeBacktest)

	handshakes, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "fake", Required: false}})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handshakes) != 1 || handshakes[0].Status != types.ExecutionFailed {
		t.Fatalf("expected the failed handshake recorded and no abort, got %+v", handshakes)
	}
}

func TestProcessLiveRetriesThenSucceeds(t *testing.T) {
	venueDouble := &fakeVenue{handshakes: []types.ExecutionHandshake{
		{Status: types.ExecutionExecuted},
		{Status: types.ExecutionExecuted},
	}}
	reconciler := &fakeReconciler{results: []reconcile.Result{
		{Success: false, Mismatches: []reconcile.Mismatch{{}}},
		{Success: true},
	}}
	m := execution.New(zap.NewNop(), &fakeRouter{iface: venueDouble}, reconciler, types.ModeLive)

	handshakes, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "fake"}})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handshakes) != 1 || venueDouble.calls != 2 {
		t.Fatalf("expected one retry (2 venue calls), got %d calls", venueDouble.calls)
	}
}

func TestProcessRoutingMissIsFatal(t *testing.T) {
	m := execution.New(zap.NewNop(), &fakeRouter{err: types.NewEngineError(types.ErrConfiguration, "venue", "Route", time.Time{}, "NoVenueConfigured", nil)}, &fakeReconciler{}, types.ModeBacktest)

	_, err := m.Process(context.Background(), time.Now(), []types.Order{{Venue: "unknown"}})
	if err == nil {
		t.Fatal("expected routing miss to propagate as a fatal error")
	}
}
