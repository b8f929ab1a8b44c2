// Package dataprovider implements DataProvider (§4.2): the only component
// allowed to read raw market/protocol data, returning a no-forward-bias
// snapshot for a requested timestamp.
package dataprovider

import (
	"context"

	"github.com/basisdesk/engine/internal/types"
)

// Provider is the DataProvider contract. Get is pure for a fixed T in
// backtest: repeated calls with the same T return content-equal snapshots.
type Provider interface {
	// Get returns the snapshot valid at T. Every field's underlying
	// observation timestamp is <= T. Fails with DataUnavailable
	// (backtest) or DataStale (live) if a required kind has no eligible
	// observation.
	Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error)
}

// BacktestProvider additionally knows the full replay timestamp axis.
type BacktestProvider interface {
	Provider
	// Timestamps returns the sorted, deduped timestamps in [start, end]
	// at which every required data kind has at least one observation
	// <= that timestamp.
	Timestamps(start, end types.Timestamp) ([]types.Timestamp, error)
}

const (
	KindSpotPrices      = "spot_prices"
	KindOraclePrices    = "oracle_prices"
	KindFundingRates    = "funding_rates"
	KindAaveLiquidity   = "aave_liquidity_index"
	KindAaveBorrowIndex = "aave_borrow_index"
	KindGasPrice        = "gas_price"
	KindLSTEvents       = "lst_distribution_events"
)

// requiredKinds are the data_requirements understood by this provider; any
// other value fails validation at load time.
var requiredKinds = map[string]bool{
	KindSpotPrices:      true,
	KindOraclePrices:    true,
	KindFundingRates:    true,
	KindAaveLiquidity:   true,
	KindAaveBorrowIndex: true,
	KindGasPrice:        true,
	KindLSTEvents:       true,
}

// ValidateRequirements checks that every requested data kind is one this
// provider knows how to serve (§4.2 "validate_requirements").
func ValidateRequirements(kinds []string) error {
	for _, k := range kinds {
		if !requiredKinds[k] {
			return types.NewEngineError(types.ErrConfiguration, "dataprovider", "ValidateRequirements", types.Timestamp{},
				"unknown data_requirements kind "+k, nil)
		}
	}
	return nil
}
