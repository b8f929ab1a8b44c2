package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/clock"
)

func TestBacktestClockOrdersAndDedupes(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{
		base.Add(2 * time.Hour),
		base,
		base.Add(time.Hour),
		base, // duplicate
	}
	c := clock.NewBacktestClock(ts)
	if got := c.Remaining(); got != 3 {
		t.Fatalf("expected 3 deduped timestamps, got %d", got)
	}

	ctx := context.Background()
	want := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)}
	for i, w := range want {
		got, ok, err := c.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("Next(%d): ok=%v err=%v", i, ok, err)
		}
		if !got.Equal(w) {
			t.Fatalf("Next(%d) = %v, want %v", i, got, w)
		}
	}

	_, ok, err := c.Next(ctx)
	if ok || err != nil {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
}

func TestBacktestClockRespectsCancellation(t *testing.T) {
	c := clock.NewBacktestClock([]time.Time{time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := c.Next(ctx)
	if ok || err == nil {
		t.Fatalf("expected cancellation error, got ok=%v err=%v", ok, err)
	}
}

func TestLiveClockTicksOnInterval(t *testing.T) {
	lc, err := clock.NewLiveClock(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewLiveClock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, ok, err := lc.Next(ctx); err != nil || !ok {
		t.Fatalf("first tick: ok=%v err=%v", ok, err)
	}
}
