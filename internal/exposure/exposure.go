// Package exposure implements ExposureMonitor (§4.5): converts a
// PositionMap into share-class-denominated exposures and net deltas,
// config-driven over track_assets and per-asset conversion_method.
// Grounded on the teacher's backtester.Portfolio equity/position
// valuation shape, generalized from a single cash+quantity ledger to
// multi-venue, multi-conversion-method asset valuation.
package exposure

import (
	"context"
	"fmt"

	"github.com/basisdesk/engine/internal/dataprovider"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Conversion method names (§4.5 "Conversion methods").
const (
	MethodDirect            = "direct"
	MethodUSDPrice          = "usd_price"
	MethodAaveLiquidityIndex = "aave_liquidity_index"
	MethodAaveBorrowIndex   = "aave_borrow_index"
	MethodLSTOracle         = "lst_oracle"
)

// Monitor is ExposureMonitor.
type Monitor struct {
	logger *zap.Logger
	data   dataprovider.Provider

	shareClass string
	trackAssets []string
	methods    map[string]string
	onChain    map[string]bool // venue -> true if on-chain (vs CEX)
	live       bool

	lastKnown map[string]decimal.Decimal // symbol -> last successful conversion factor, live fallback
}

// New builds a Monitor from the mode's ExposureMonitorConfig. onChainVenues
// names the venues whose deltas roll into NetDeltaOnChain rather than
// NetDeltaCEX.
func New(logger *zap.Logger, data dataprovider.Provider, live bool, shareClass string, cfg types.ExposureMonitorConfig, onChainVenues []string) *Monitor {
	onChain := make(map[string]bool, len(onChainVenues))
	for _, v := range onChainVenues {
		onChain[v] = true
	}
	return &Monitor{
		logger:      logger.Named("exposure"),
		data:        data,
		live:        live,
		shareClass:  shareClass,
		trackAssets: cfg.TrackAssets,
		methods:     cfg.ConversionMethods,
		onChain:     onChain,
		lastKnown:   make(map[string]decimal.Decimal),
	}
}

// Update computes the Exposure snapshot at t from positions (§4.5).
func (m *Monitor) Update(ctx context.Context, t types.Timestamp, positions types.PositionMap) (types.Exposure, error) {
	snap, err := m.data.Get(ctx, t)
	if err != nil {
		return types.Exposure{}, err
	}

	assets := make(map[string]types.AssetExposure)
	var netDelta, netOnChain, netCEX decimal.Decimal

	for key, amount := range positions {
		if !m.tracked(key.Symbol) {
			continue
		}
		underlying, exposureVal, err := m.convert(t, key.Symbol, amount, snap)
		if err != nil {
			return types.Exposure{}, err
		}

		a := assets[key.Symbol]
		a.Symbol = key.Symbol
		a.WalletAmount = a.WalletAmount.Add(amount)
		a.UnderlyingNative = a.UnderlyingNative.Add(underlying)
		a.ExposureInShareClass = a.ExposureInShareClass.Add(exposureVal)
		assets[key.Symbol] = a

		netDelta = netDelta.Add(exposureVal)
		if m.onChain[key.Venue] {
			netOnChain = netOnChain.Add(exposureVal)
		} else {
			netCEX = netCEX.Add(exposureVal)
		}
	}

	var totalLong, totalShort, totalValue decimal.Decimal
	for symbol, a := range assets {
		a.Direction = directionOf(a.ExposureInShareClass)
		assets[symbol] = a
		if a.ExposureInShareClass.IsPositive() {
			totalLong = totalLong.Add(a.ExposureInShareClass)
		} else if a.ExposureInShareClass.IsNegative() {
			totalShort = totalShort.Add(a.ExposureInShareClass.Abs())
		}
		totalValue = totalValue.Add(a.ExposureInShareClass)
	}

	return types.Exposure{
		T:                  t,
		Assets:             assets,
		TotalLong:          totalLong,
		TotalShort:         totalShort,
		NetDelta:           netDelta,
		NetDeltaOnChain:    netOnChain,
		NetDeltaCEX:        netCEX,
		TotalValueShareCls: totalValue,
	}, nil
}

func (m *Monitor) tracked(symbol string) bool {
	for _, s := range m.trackAssets {
		if s == symbol {
			return true
		}
	}
	return false
}

// convert applies symbol's configured conversion method, returning the
// underlying native amount and the share-class-denominated exposure.
func (m *Monitor) convert(t types.Timestamp, symbol string, amount decimal.Decimal, snap types.MarketSnapshot) (underlying, shareClassValue decimal.Decimal, err error) {
	method := m.methods[symbol]
	switch method {
	case MethodDirect:
		return amount, amount, nil

	case MethodUSDPrice:
		price, ok := m.factor(symbol, snap.OraclePrices[symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		return amount, amount.Mul(price), nil

	case MethodAaveLiquidityIndex:
		idx, ok := m.factor(symbol+":liquidity_index", snap.Indices[dataprovider.KindAaveLiquidity+":"+symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		price, ok := m.factor(symbol+":price", snap.OraclePrices[symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		u := venue.RayMul(amount, idx)
		return u, u.Mul(price), nil

	case MethodAaveBorrowIndex:
		idx, ok := m.factor(symbol+":borrow_index", snap.Indices[dataprovider.KindAaveBorrowIndex+":"+symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		price, ok := m.factor(symbol+":price", snap.OraclePrices[symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		u := venue.RayMul(amount, idx)
		return u.Neg(), u.Mul(price).Neg(), nil

	case MethodLSTOracle:
		lstRate, ok := m.factor(symbol+":lst_eth", snap.OraclePrices[symbol], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		ethPrice, ok := m.factor("ETH:price", snap.OraclePrices["ETH"], symbol)
		if !ok {
			return decimal.Zero, decimal.Zero, m.missingDatum(t, symbol)
		}
		u := amount.Mul(lstRate)
		return u, u.Mul(ethPrice), nil

	default:
		return decimal.Zero, decimal.Zero, types.NewEngineError(types.ErrConfiguration, "exposure", "convert", t,
			fmt.Sprintf("unknown conversion_method %q for symbol %s", method, symbol), nil)
	}
}

// factor looks up a conversion datum, falling back to the last known value
// in live mode when the current snapshot has none (§4.5 "uses last known
// value, emits StaleConversion"). It reports whether a usable value
// exists, caching the fresh one when present; when no value exists at all,
// the caller's missingDatum decides the severity.
func (m *Monitor) factor(cacheKey string, value decimal.Decimal, symbol string) (decimal.Decimal, bool) {
	if !value.IsZero() {
		m.lastKnown[cacheKey] = value
		return value, true
	}
	if m.live {
		if last, ok := m.lastKnown[cacheKey]; ok {
			m.logger.Warn("StaleConversion", zap.String("symbol", symbol), zap.String("datum", cacheKey))
			return last, true
		}
	}
	return decimal.Zero, false
}

func (m *Monitor) missingDatum(t types.Timestamp, symbol string) error {
	if m.live {
		m.logger.Warn("StaleConversion", zap.String("symbol", symbol), zap.Time("t", t))
		return types.NewEngineError(types.ErrDataStale, "exposure", "convert", t,
			fmt.Sprintf("StaleConversion: no live or cached datum for %s", symbol), nil)
	}
	return types.NewEngineError(types.ErrDataUnavailable, "exposure", "convert", t,
		fmt.Sprintf("missing conversion datum for %s", symbol), nil)
}

func directionOf(v decimal.Decimal) types.Direction {
	switch {
	case v.IsPositive():
		return types.DirectionLong
	case v.IsNegative():
		return types.DirectionShort
	default:
		return types.DirectionFlat
	}
}
