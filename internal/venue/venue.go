// Package venue implements VenueInterface and VenueInterfaceManager (§4.9):
// the engine's sole boundary to exchanges and on-chain protocols. Grounded
// on the teacher's execution.ExchangeAdapter interface and its
// map[string]ExchangeAdapter registry in execution.Executor, generalized
// from "one interface per exchange" to "one interface per venue" covering
// market data, order execution, and position queries together.
package venue

import (
	"context"
	"fmt"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
)

// Interface is VenueInterface (§4.9): one per venue, offering the three
// interaction modes the spec names (public market data, private order
// handling, private position queries).
type Interface interface {
	Name() string
	Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error)
	QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error)
	QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error)
}

// routeKey identifies one (venue, operation) routing table entry.
type routeKey struct {
	venue     string
	operation types.OrderOperation
}

// Manager is VenueInterfaceManager: a pure router built once from the
// mode's enabled venues at init (§4.9 "static routing table").
type Manager struct {
	routes map[routeKey]Interface
}

// NewManager builds the static routing table. For each venue, every
// operation it supports is bound to that venue's Interface.
func NewManager(venues map[string]Interface, supportedOps map[string][]types.OrderOperation) *Manager {
	m := &Manager{routes: make(map[routeKey]Interface)}
	for venueName, ops := range supportedOps {
		iface, ok := venues[venueName]
		if !ok {
			continue
		}
		for _, op := range ops {
			m.routes[routeKey{venue: venueName, operation: op}] = iface
		}
	}
	return m
}

// Route selects the VenueInterface for an order's (venue, operation) pair.
// A routing miss is a configuration bug in both backtest and live (§4.9).
func (m *Manager) Route(order types.Order) (Interface, error) {
	iface, ok := m.routes[routeKey{venue: order.Venue, operation: order.Operation}]
	if !ok {
		return nil, types.NewEngineError(types.ErrConfiguration, "venue", "Route", types.Timestamp{},
			fmt.Sprintf("NoVenueConfigured: venue=%s operation=%s", order.Venue, order.Operation), nil)
	}
	return iface, nil
}
