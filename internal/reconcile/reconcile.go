// Package reconcile implements PositionUpdateHandler (§4.4): the tight
// loop's reconciliation step, distinct from PositionMonitor.refresh.
// Grounded on the opensqt_market_maker reconciler shape (exchange
// positions compared against a local position manager on a configurable
// tolerance), adapted from a periodic background check into a per-order
// synchronous gate the tight loop cannot proceed past on mismatch.
package reconcile

import (
	"context"
	"fmt"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionApplier is the subset of position.Monitor the handler needs.
type PositionApplier interface {
	ApplyExecutionDeltas(ctx context.Context, t types.Timestamp, deltas []types.Delta) error
	Current(t types.Timestamp) (simulated, real types.PositionMap)
}

// RealPositionQuerier re-queries live venues for the affected keys
// (§4.4 step 3, live mode).
type RealPositionQuerier interface {
	QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error)
}

// ExposureStage, RiskStage and PnLStage are the three downstream
// collaborators invoked in order after a successful reconciliation
// (§4.4 "Downstream chain"). Declared here rather than importing those
// packages directly, so the chain order is this package's to own while
// each stage's internals stay independent.
type ExposureStage interface {
	Update(ctx context.Context, t types.Timestamp, positions types.PositionMap) (types.Exposure, error)
}

type RiskStage interface {
	Assess(ctx context.Context, t types.Timestamp, exposure types.Exposure) (types.RiskAssessment, error)
}

type PnLStage interface {
	Update(ctx context.Context, t types.Timestamp, exposure types.Exposure, risk types.RiskAssessment) (types.PnLRecord, error)
}

// Mismatch reports one position key whose simulated and real balances
// diverge by more than its tolerance.
type Mismatch struct {
	Key        types.PositionKey
	Simulated  decimal.Decimal
	Real       decimal.Decimal
	Diff       decimal.Decimal
}

// Result is the reconcile() return value (§4.4).
type Result struct {
	Success   bool
	Mismatches []Mismatch
}

// Handler is PositionUpdateHandler.
type Handler struct {
	logger    *zap.Logger
	positions PositionApplier
	venues    RealPositionQuerier
	live      bool

	tolerance        map[types.PositionKey]decimal.Decimal
	defaultTolerance decimal.Decimal

	exposure ExposureStage
	risk     RiskStage
	pnl      PnLStage
}

// New builds a Handler. tolerance maps specific keys to a non-default
// comparison tolerance; defaultTolerance applies to every other key and
// must be zero for backtest (§4.4 "zero for backtest").
func New(logger *zap.Logger, live bool, positions PositionApplier, venues RealPositionQuerier,
	tolerance map[types.PositionKey]decimal.Decimal, defaultTolerance decimal.Decimal,
	exposure ExposureStage, risk RiskStage, pnl PnLStage) *Handler {
	return &Handler{
		logger:           logger.Named("reconcile"),
		positions:        positions,
		venues:           venues,
		live:             live,
		tolerance:        tolerance,
		defaultTolerance: defaultTolerance,
		exposure:         exposure,
		risk:             risk,
		pnl:              pnl,
	}
}

// Reconcile performs the §4.4 reconcile operation: convert the handshake's
// position deltas, apply them, compare simulated vs real, and on success
// invoke the downstream chain.
func (h *Handler) Reconcile(ctx context.Context, t types.Timestamp, handshake types.ExecutionHandshake) (Result, error) {
	deltas := deltasFromHandshake(handshake)

	if err := h.positions.ApplyExecutionDeltas(ctx, t, deltas); err != nil {
		return Result{}, err
	}

	simulated, real, err := h.realPositions(ctx, t, deltas)
	if err != nil {
		return Result{}, err
	}

	var mismatches []Mismatch
	for _, d := range deltas {
		tol := h.toleranceFor(d.PositionKey)
		diff := simulated[d.PositionKey].Sub(real[d.PositionKey]).Abs()
		if diff.GreaterThan(tol) {
			mismatches = append(mismatches, Mismatch{
				Key:       d.PositionKey,
				Simulated: simulated[d.PositionKey],
				Real:      real[d.PositionKey],
				Diff:      diff,
			})
		}
	}

	if len(mismatches) > 0 {
		return Result{Success: false, Mismatches: mismatches}, nil
	}

	exposure, err := h.exposure.Update(ctx, t, simulated)
	if err != nil {
		return Result{}, fmt.Errorf("downstream chain (exposure): %w", err)
	}
	risk, err := h.risk.Assess(ctx, t, exposure)
	if err != nil {
		return Result{}, fmt.Errorf("downstream chain (risk): %w", err)
	}
	if _, err := h.pnl.Update(ctx, t, exposure, risk); err != nil {
		return Result{}, fmt.Errorf("downstream chain (pnl): %w", err)
	}

	return Result{Success: true}, nil
}

func (h *Handler) toleranceFor(key types.PositionKey) decimal.Decimal {
	if tol, ok := h.tolerance[key]; ok {
		return tol
	}
	return h.defaultTolerance
}

func (h *Handler) realPositions(ctx context.Context, t types.Timestamp, deltas []types.Delta) (types.PositionMap, types.PositionMap, error) {
	simulated, real := h.positions.Current(t)
	if !h.live {
		return simulated, real, nil
	}

	byVenue := make(map[string][]types.PositionKey)
	for _, d := range deltas {
		byVenue[d.PositionKey.Venue] = append(byVenue[d.PositionKey.Venue], d.PositionKey)
	}

	fresh := make(types.PositionMap, len(real))
	for k, v := range real {
		fresh[k] = v
	}
	for venueName, keys := range byVenue {
		got, err := h.venues.QueryPositions(ctx, venueName, t, keys)
		if err != nil {
			return nil, nil, types.NewEngineError(types.ErrInternal, "reconcile", "Reconcile", t,
				fmt.Sprintf("VenueQueryFailed: venue=%s: %v", venueName, err), err)
		}
		for k, v := range got {
			fresh[k] = v
		}
	}
	return simulated, fresh, nil
}

// deltasFromHandshake converts an ExecutionHandshake's position_deltas map
// into the unified []Delta format, one delta per affected symbol with
// source=trade (§4.4 step 1). The quote-side cash change rides along as
// just another entry in PositionDeltas — venues are responsible for
// including it, the same way SimulatedVenue's deltasFor does.
func deltasFromHandshake(handshake types.ExecutionHandshake) []types.Delta {
	venueName := handshake.Order.Venue
	deltas := make([]types.Delta, 0, len(handshake.PositionDeltas))
	for symbol, amount := range handshake.PositionDeltas {
		deltas = append(deltas, types.Delta{
			PositionKey: types.NewPositionKey(venueName, positionTypeFor(handshake.Order), symbol),
			DeltaAmount: amount,
			Source:      types.DeltaSourceTrade,
			Price:       nonZeroPrice(handshake.ExecutedPrice),
			Fee:         nonZeroPrice(handshake.FeeAmount),
		})
	}
	return deltas
}

func positionTypeFor(order types.Order) types.PositionType {
	switch order.Operation {
	case types.OpSupply, types.OpWithdraw:
		return types.PositionAToken
	case types.OpBorrow, types.OpRepay:
		return types.PositionDebtToken
	case types.OpPerpTrade:
		return types.PositionPerp
	case types.OpStake, types.OpUnstake:
		return types.PositionBaseToken
	default:
		return types.PositionSpot
	}
}

func nonZeroPrice(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}
