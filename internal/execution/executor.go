// Package execution implements ExecutionManager (§4.10): the tight loop
// that dispatches one order at a time to its routed venue, gates on
// PositionUpdateHandler's reconciliation before moving to the next order,
// and owns the live-only retry policy with a hard wall-clock timeout.
// Grounded on the teacher's execution.Executor retry-with-backoff loop
// (RetryAttempts/RetryDelay around adapter.PlaceOrder), generalized from a
// fixed-delay retry to the spec's exponential backoff schedule and from
// "retry on placement error" to "retry on reconciliation mismatch".
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"go.uber.org/zap"
)

// retryBackoff is the live-only attempt schedule (§4.10.1): attempt 1
// immediate, then 1s, 2s, 4s — exponential backoff, base 2, 3 retries
// after the initial attempt.
var retryBackoff = []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}

const maxRetries = len(retryBackoff) - 1

// hardTimeout bounds total wall-clock from the first attempt (§4.10.1).
const hardTimeout = 120 * time.Second

// Router is the subset of venue.Manager ExecutionManager needs.
type Router interface {
	Route(order types.Order) (venue.Interface, error)
}

// Reconciler is the subset of reconcile.Handler ExecutionManager needs.
type Reconciler interface {
	Reconcile(ctx context.Context, t types.Timestamp, handshake types.ExecutionHandshake) (reconcile.Result, error)
}

// Manager is ExecutionManager.
type Manager struct {
	logger     *zap.Logger
	router     Router
	reconciler Reconciler
	mode       types.ExecutionMode
	sleep      func(time.Duration)
}

// New builds a Manager. mode selects whether a reconciliation mismatch is
// fatal (backtest) or enters the retry loop (live).
func New(logger *zap.Logger, router Router, reconciler Reconciler, mode types.ExecutionMode) *Manager {
	return &Manager{
		logger:     logger.Named("execution"),
		router:     router,
		reconciler: reconciler,
		mode:       mode,
		sleep:      time.Sleep,
	}
}

// Process is the public operation (§4.10): orders execute strictly in
// list order, and reconciliation for order i completes before order i+1
// is dispatched.
func (m *Manager) Process(ctx context.Context, t types.Timestamp, orders []types.Order) ([]types.ExecutionHandshake, error) {
	handshakes := make([]types.ExecutionHandshake, 0, len(orders))
	for i, order := range orders {
		handshake, err := m.executeOne(ctx, t, i, order)
		if err != nil {
			return handshakes, err
		}
		handshakes = append(handshakes, handshake)
	}
	return handshakes, nil
}

// executeOne runs the §4.10 per-order sequence, including the live-only
// retry loop (§4.10.1) around steps 1-3 when reconciliation mismatches.
func (m *Manager) executeOne(ctx context.Context, t types.Timestamp, index int, order types.Order) (types.ExecutionHandshake, error) {
	start := time.Now()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff[attempt]
			if time.Since(start)+delay > hardTimeout {
				return types.ExecutionHandshake{}, m.systemFailure(t, index, attempt, "retry hard timeout exceeded", nil)
			}
			m.sleep(delay)
		}

		iface, err := m.router.Route(order)
		if err != nil {
			return types.ExecutionHandshake{}, err
		}

		handshake, err := iface.Execute(ctx, t, order)
		if err != nil {
			if m.mode != types.ModeLive {
				return types.ExecutionHandshake{}, m.systemFailure(t, index, attempt, "venue execute error", err)
			}
			m.logger.Warn("venue execute error, retrying",
				zap.Int("order", index),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if handshake.Status == types.ExecutionFailed {
			m.logger.Warn("order execution failed",
				zap.Int("order", index),
				zap.String("venue", order.Venue),
				zap.String("errorCode", handshake.ErrorCode),
				zap.String("errorMessage", handshake.ErrorMessage),
			)
			if order.Required {
				return types.ExecutionHandshake{}, m.systemFailure(t, index, attempt, "required order execution failed",
					fmt.Errorf("%s: %s", handshake.ErrorCode, handshake.ErrorMessage))
			}
			return handshake, nil
		}

		result, err := m.reconciler.Reconcile(ctx, t, handshake)
		if err != nil {
			return types.ExecutionHandshake{}, m.systemFailure(t, index, attempt, "reconciliation error", err)
		}
		if result.Success {
			return handshake, nil
		}

		if m.mode != types.ModeLive {
			return types.ExecutionHandshake{}, m.systemFailure(t, index, attempt, "reconciliation failure in backtest",
				fmt.Errorf("%d position keys mismatched", len(result.Mismatches)))
		}
		m.logger.Warn("reconciliation mismatch, retrying",
			zap.Int("order", index),
			zap.Int("attempt", attempt),
			zap.Int("mismatches", len(result.Mismatches)),
		)
	}

	return types.ExecutionHandshake{}, m.systemFailure(t, index, maxRetries, "retry attempts exhausted", nil)
}

// systemFailure marks the component CRITICAL and emits the structured
// error the caller terminates the process with (§4.10.1 "SystemFailure").
func (m *Manager) systemFailure(t types.Timestamp, index, attempt int, message string, err error) *types.EngineError {
	e := &types.EngineError{
		Code:       types.ErrSystemFailure,
		Component:  "execution",
		Operation:  "Process",
		T:          t,
		OrderIndex: index,
		Attempt:    attempt,
		Message:    message,
		Err:        err,
	}
	m.logger.Error("SystemFailure", zap.Int("order", index), zap.Int("attempt", attempt), zap.Error(e))
	return e
}
