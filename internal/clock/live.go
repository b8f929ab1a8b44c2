package clock

import (
	"context"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/robfig/cron/v3"
)

// DefaultTickInterval is the live tick interval (§6 "default 60 s"): the
// default of cmd/live's -tick-interval flag, and the interval NewLiveClock
// uses when given a non-positive one.
const DefaultTickInterval = 60 * time.Second

// LiveClock produces wall-clock ticks on a fixed-interval cron schedule
// instead of a hand-rolled ticker loop. Expressing the interval as a
// cron.Schedule keeps the same "what's the next activation" question
// answerable for both plain intervals and, later, cron-style expressions
// without changing the Source contract.
type LiveClock struct {
	schedule cron.Schedule
	now      func() time.Time
}

// NewLiveClock builds a LiveClock ticking every interval (rounded down to
// the second; robfig/cron has no sub-second resolution).
func NewLiveClock(interval time.Duration) (*LiveClock, error) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	sched, err := cron.ParseStandard(everySpec(interval))
	if err != nil {
		return nil, err
	}
	return &LiveClock{schedule: sched, now: time.Now}, nil
}

func everySpec(interval time.Duration) string {
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	return "@every " + time.Duration(secs*int(time.Second)).String()
}

// Next blocks until the next scheduled activation, ctx is cancelled, or an
// error occurs. Live never exhausts on its own; callers stop by cancelling
// ctx.
func (c *LiveClock) Next(ctx context.Context) (types.Timestamp, bool, error) {
	now := c.now()
	next := c.schedule.Next(now)
	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return types.Timestamp{}, false, ctx.Err()
	case fired := <-timer.C:
		return fired, true, nil
	}
}
