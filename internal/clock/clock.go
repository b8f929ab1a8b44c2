// Package clock is the engine's sole timestamp source. The Engine is the
// only caller of Source.Next; no other component synthesizes T.
package clock

import (
	"context"

	"github.com/basisdesk/engine/internal/types"
)

// Source produces the monotonically non-decreasing sequence of timestamps
// the full loop drives on. Next blocks (live) or returns immediately
// (backtest) until the next T is available, the sequence is exhausted
// (ok=false, err=nil), or ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (t types.Timestamp, ok bool, err error)
}
