package clock

import (
	"context"
	"sort"

	"github.com/basisdesk/engine/internal/types"
)

// BacktestClock replays a finite, sorted sequence of timestamps (§3
// "Timestamp"). It is exhausted exactly once per request.
type BacktestClock struct {
	timestamps []types.Timestamp
	idx        int
}

// NewBacktestClock sorts and dedupes ts and returns a clock over it.
func NewBacktestClock(ts []types.Timestamp) *BacktestClock {
	sorted := append([]types.Timestamp(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	deduped := sorted[:0]
	for i, t := range sorted {
		if i == 0 || !t.Equal(sorted[i-1]) {
			deduped = append(deduped, t)
		}
	}
	return &BacktestClock{timestamps: deduped}
}

// Next returns the next timestamp in the sequence immediately; backtest
// never suspends between timesteps (§4.13).
func (c *BacktestClock) Next(ctx context.Context) (types.Timestamp, bool, error) {
	select {
	case <-ctx.Done():
		return types.Timestamp{}, false, ctx.Err()
	default:
	}
	if c.idx >= len(c.timestamps) {
		return types.Timestamp{}, false, nil
	}
	t := c.timestamps[c.idx]
	c.idx++
	return t, true, nil
}

// Remaining reports how many timestamps have not yet been consumed.
func (c *BacktestClock) Remaining() int {
	return len(c.timestamps) - c.idx
}
