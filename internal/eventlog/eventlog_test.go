package eventlog_test

import (
	"sync"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/eventlog"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Write(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) snapshot() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func TestOrderWithinTResetsPerTimestamp(t *testing.T) {
	sink := &recordingSink{}
	l := eventlog.New(zap.NewNop(), sink, 0)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	first := l.Append(types.Event{T: t0, EventType: types.EventPositionRefresh, Amount: decimal.Zero})
	second := l.Append(types.Event{T: t0, EventType: types.EventTradeExecuted, Amount: decimal.Zero})
	third := l.Append(types.Event{T: t1, EventType: types.EventPositionRefresh, Amount: decimal.Zero})

	if first.OrderWithinT != 1 || second.OrderWithinT != 2 {
		t.Fatalf("expected counter 1,2 within t0, got %d,%d", first.OrderWithinT, second.OrderWithinT)
	}
	if third.OrderWithinT != 1 {
		t.Fatalf("expected counter reset to 1 at t1, got %d", third.OrderWithinT)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sink.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 events written, got %d", len(got))
	}
}

func TestHighWaterMarkDropsInsteadOfBlocking(t *testing.T) {
	blocked := make(chan struct{})
	sink := &blockingSink{block: blocked}
	l := eventlog.New(zap.NewNop(), sink, 2)
	defer close(blocked)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		l.Append(types.Event{T: t0, EventType: types.EventPositionRefresh, Amount: decimal.Zero})
	}

	if l.Pending() > 2 {
		t.Fatalf("expected queue bounded at high-water mark, got %d pending", l.Pending())
	}
}

type blockingSink struct {
	block chan struct{}
}

func (s *blockingSink) Write(ev types.Event) error {
	<-s.block
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestTotalOrderByTimestampThenOrderWithinT(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := types.Event{T: t0, OrderWithinT: 1}
	b := types.Event{T: t0, OrderWithinT: 2}
	c := types.Event{T: t0.Add(time.Second), OrderWithinT: 1}

	if !a.Before(b) {
		t.Error("expected a before b (same T, lower order_within_T)")
	}
	if !b.Before(c) {
		t.Error("expected b before c (earlier T)")
	}
	if c.Before(a) {
		t.Error("c must not be before a")
	}
}
