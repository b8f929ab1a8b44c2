package position

import (
	"context"
	"time"

	"github.com/basisdesk/engine/internal/dataprovider"
	"github.com/basisdesk/engine/internal/types"
)

// Settlement computes the deltas due between two refreshes: funding
// accrual on perp positions, LST rebase/reward interpolation, and
// discrete reward distributions (§4.3 "Apply all settlements due at T").
type Settlement interface {
	Due(ctx context.Context, since, t types.Timestamp, simulated types.PositionMap) ([]types.Delta, error)
}

// FundingInterval is the funding settlement cadence (§4.3 "every 8h
// boundary crossed").
const FundingInterval = 8 * time.Hour

var fundingHoursUTC = []int{0, 8, 16}

// PeriodicSettlement computes funding accrual and LST distribution deltas
// from MarketSnapshot data, grounded on the dataprovider.Provider this
// engine already uses for all market reads — PositionMonitor never reads
// raw data itself, only through this collaborator.
type PeriodicSettlement struct {
	data dataprovider.Provider
}

// NewPeriodicSettlement builds a Settlement backed by data.
func NewPeriodicSettlement(data dataprovider.Provider) *PeriodicSettlement {
	return &PeriodicSettlement{data: data}
}

// Due crosses every 8h UTC boundary in (since, t] once, applying funding on
// every tracked perp position at that boundary's funding rate, then folds
// in any discrete LST distribution events whose timestamp falls in the
// same window.
func (s *PeriodicSettlement) Due(ctx context.Context, since, t types.Timestamp, simulated types.PositionMap) ([]types.Delta, error) {
	var deltas []types.Delta

	for _, boundary := range fundingBoundariesCrossed(since, t) {
		snap, err := s.data.Get(ctx, boundary)
		if err != nil {
			return nil, err
		}
		for key, amount := range simulated {
			if key.Type != types.PositionPerp || amount.IsZero() {
				continue
			}
			rate, ok := snap.FundingRates[key.Symbol]
			if !ok {
				continue
			}
			// Funding convention: longs pay shorts when the rate is
			// positive, so the accrual on a long position is negative.
			accrual := amount.Neg().Mul(rate)
			deltas = append(deltas, types.Delta{
				PositionKey: key,
				DeltaAmount: accrual,
				Source:      types.DeltaSourceFunding,
			})
		}
	}

	snap, err := s.data.Get(ctx, t)
	if err != nil {
		return nil, err
	}
	for _, ev := range snap.LSTEvents {
		if ev.T.After(since) && !ev.T.After(t) {
			for key := range simulated {
				if key.Symbol == ev.Symbol {
					deltas = append(deltas, types.Delta{
						PositionKey: key,
						DeltaAmount: ev.Amount,
						Source:      types.DeltaSourceReward,
					})
				}
			}
		}
	}

	return deltas, nil
}

// fundingBoundariesCrossed returns every UTC 00:00/08:00/16:00 boundary in
// (since, t], in order. since being the zero Timestamp (first refresh)
// yields no boundaries, since there is nothing to accrue against yet.
func fundingBoundariesCrossed(since, t types.Timestamp) []types.Timestamp {
	if since.IsZero() {
		return nil
	}

	var out []types.Timestamp
	cursor := nextFundingBoundary(since)
	for !cursor.After(t) {
		out = append(out, cursor)
		cursor = cursor.Add(FundingInterval)
	}
	return out
}

func nextFundingBoundary(after types.Timestamp) types.Timestamp {
	y, m, d := after.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, hour := range fundingHoursUTC {
		boundary := day.Add(time.Duration(hour) * time.Hour)
		if boundary.After(after) {
			return boundary
		}
	}
	return day.AddDate(0, 0, 1)
}
