// Package position implements PositionMonitor (§4.3): the sole authority
// over position state, enforcing the unified Delta format as the only
// mutation path. Grounded on the teacher's backtester.Portfolio (owned,
// mutex-guarded state mutated only through named methods), generalized
// from a single cash+positions ledger to the two-PositionMap
// simulated/real model the multi-venue engine requires.
package position

import (
	"context"
	"fmt"
	"sync"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VenueQuerier is the subset of venue.Manager/Interface PositionMonitor
// needs in live mode: querying real balances per venue. Declared locally
// so this package does not import internal/venue, keeping the dependency
// direction position -> venue one-way through the caller's wiring.
type VenueQuerier interface {
	QueryPositions(ctx context.Context, venue string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error)
}

// Monitor is PositionMonitor.
type Monitor struct {
	logger *zap.Logger

	mu         sync.Mutex
	simulated  types.PositionMap
	real       types.PositionMap
	lastRefresh types.Timestamp

	subscriptions       map[types.PositionKey]bool
	negativeProhibited  map[types.PositionKey]bool

	settlement Settlement
	venues     VenueQuerier
	live       bool
}

// New builds a Monitor. subscriptions is the full set of position keys the
// active mode's data and venue requirements name at init (§4.3 "State").
// negativeProhibited marks the subset of keys for which a delta driving the
// simulated balance negative is a failure rather than allowed (e.g. debt
// tokens are naturally negative-free in this engine's sign convention;
// spot wallet balances usually are not allowed to go negative).
func New(logger *zap.Logger, live bool, subscriptions []types.PositionKey, negativeProhibited []types.PositionKey, settlement Settlement, venues VenueQuerier) *Monitor {
	subs := make(map[types.PositionKey]bool, len(subscriptions))
	for _, k := range subscriptions {
		subs[k] = true
	}
	neg := make(map[types.PositionKey]bool, len(negativeProhibited))
	for _, k := range negativeProhibited {
		neg[k] = true
	}
	return &Monitor{
		logger:             logger.Named("position"),
		simulated:          make(types.PositionMap),
		real:               make(types.PositionMap),
		subscriptions:      subs,
		negativeProhibited: neg,
		settlement:         settlement,
		venues:             venues,
		live:               live,
	}
}

// Current returns a read-only snapshot of both maps (§4.3 "current").
func (m *Monitor) Current(t types.Timestamp) (simulated, real types.PositionMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simulated.Clone(), m.real.Clone()
}

// ApplyExecutionDeltas applies execution-sourced deltas to simulated, then
// (backtest) applies any settlements due at t, then mirrors simulated into
// real. This is the critical ordering §4.3 requires: deltas, then
// settlements, then copy — reversing it yields spurious reconciliation
// failures because real would be stamped before the period's accruals are
// folded in.
func (m *Monitor) ApplyExecutionDeltas(ctx context.Context, t types.Timestamp, deltas []types.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.applyLocked(deltas); err != nil {
		return err
	}

	if !m.live {
		settled, err := m.dueSettlementsLocked(ctx, t)
		if err != nil {
			return err
		}
		if err := m.applyLocked(settled); err != nil {
			return err
		}
		m.real = m.simulated.Clone()
	}

	m.lastRefresh = t
	return nil
}

// Refresh updates both position maps without reconciliation validation
// (§4.3 "refresh"). Backtest applies due settlements then mirrors
// simulated into real; live re-queries every venue named in
// subscriptions and replaces real wholesale.
func (m *Monitor) Refresh(ctx context.Context, t types.Timestamp, trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live {
		settled, err := m.dueSettlementsLocked(ctx, t)
		if err != nil {
			return err
		}
		if err := m.applyLocked(settled); err != nil {
			return err
		}
		m.real = m.simulated.Clone()
		m.lastRefresh = t
		return nil
	}

	byVenue := make(map[string][]types.PositionKey)
	for k := range m.subscriptions {
		byVenue[k.Venue] = append(byVenue[k.Venue], k)
	}

	real := make(types.PositionMap)
	for venueName, keys := range byVenue {
		got, err := m.venues.QueryPositions(ctx, venueName, t, keys)
		if err != nil {
			return types.NewEngineError(types.ErrInternal, "position", "Refresh", t,
				fmt.Sprintf("VenueQueryFailed: venue=%s: %v", venueName, err), err)
		}
		for k, v := range got {
			real[k] = v
		}
	}
	m.real = real
	m.lastRefresh = t
	return nil
}

func (m *Monitor) dueSettlementsLocked(ctx context.Context, t types.Timestamp) ([]types.Delta, error) {
	if m.settlement == nil {
		return nil, nil
	}
	return m.settlement.Due(ctx, m.lastRefresh, t, m.simulated)
}

// applyLocked applies deltas to simulated under the caller's lock,
// rejecting any key outside position_subscriptions and any delta that
// would drive a negative-prohibited key below zero.
func (m *Monitor) applyLocked(deltas []types.Delta) error {
	for _, d := range deltas {
		if !m.subscriptions[d.PositionKey] {
			return types.NewEngineError(types.ErrConfiguration, "position", "apply", types.Timestamp{},
				fmt.Sprintf("UnknownPositionKey: %s", d.PositionKey), nil)
		}
		next := m.simulated[d.PositionKey].Add(d.DeltaAmount)
		if m.negativeProhibited[d.PositionKey] && next.LessThan(decimal.Zero) {
			return types.NewEngineError(types.ErrInternal, "position", "apply", types.Timestamp{},
				fmt.Sprintf("NegativeBalanceProhibited: %s would go to %s", d.PositionKey, next), nil)
		}
		m.simulated[d.PositionKey] = next
	}
	return nil
}
