package dataprovider

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// observation is one (timestamp, value) sample of a data kind/symbol.
type observation struct {
	T time.Time
	V decimal.Decimal
}

// series is a timestamp-sorted observation history for one (kind, symbol)
// pair, searched with last-observation-carried-forward semantics so
// DataProvider never reads ahead of T. Observations sharing a timestamp
// are all kept; which of them at() returns is not defined.
type series []observation

func newSeries(obs []observation) series {
	sorted := append(series(nil), obs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T.Before(sorted[j].T) })
	return sorted
}

// at returns the latest observation with T <= t, or ok=false if none
// exists (no forward bias: we never return an observation past t).
func (s series) at(t time.Time) (decimal.Decimal, bool) {
	idx := sort.Search(len(s), func(i int) bool { return s[i].T.After(t) })
	if idx == 0 {
		return decimal.Decimal{}, false
	}
	return s[idx-1].V, true
}

// firstEligible returns the smallest timestamp at which at() would
// succeed. Nothing in this package calls it; the backtest replay axis is
// built by CSVProvider.Timestamps.
func (s series) firstEligible() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[0].T, true
}
