package dataprovider

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CSVProvider loads one CSV file per data kind (<kind>.csv, long format:
// timestamp,symbol,value) from a directory and serves snapshots purely
// from that in-memory cache (§4.2 "Determinism"). Grounded on the
// teacher's data.Store symbol cache + sort-by-timestamp-then-filter
// approach, adapted from per-symbol OHLCV files to per-kind long tables.
type CSVProvider struct {
	logger   *zap.Logger
	required []string
	numeric  map[string]map[string]series // kind -> symbol -> series
	events   []types.LSTDistributionEvent
}

// NewCSVProvider loads every required kind from dataDir/<kind>.csv.
func NewCSVProvider(logger *zap.Logger, dataDir string, required []string) (*CSVProvider, error) {
	if err := ValidateRequirements(required); err != nil {
		return nil, err
	}

	p := &CSVProvider{
		logger:   logger,
		required: required,
		numeric:  make(map[string]map[string]series),
	}

	for _, kind := range required {
		if kind == KindLSTEvents {
			events, err := loadLSTEvents(filepath.Join(dataDir, kind+".csv"))
			if err != nil {
				return nil, err
			}
			p.events = events
			continue
		}
		bySymbol, err := loadNumericKind(filepath.Join(dataDir, kind+".csv"))
		if err != nil {
			return nil, err
		}
		p.numeric[kind] = bySymbol
	}

	logger.Info("data provider loaded", zap.Strings("kinds", required))
	return p, nil
}

func loadNumericKind(path string) (map[string]series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, "reading "+path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, "parsing "+path, err)
	}

	raw := make(map[string][]observation)
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		if len(row) < 3 {
			continue
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, fmt.Sprintf("%s: bad timestamp on row %d", path, i), err)
		}
		v, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, fmt.Sprintf("%s: bad value on row %d", path, i), err)
		}
		symbol := row[1]
		raw[symbol] = append(raw[symbol], observation{T: ts, V: v})
	}

	out := make(map[string]series, len(raw))
	for symbol, obs := range raw {
		out[symbol] = newSeries(obs)
	}
	return out, nil
}

func loadLSTEvents(path string) ([]types.LSTDistributionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, "reading "+path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "load", types.Timestamp{}, "parsing "+path, err)
	}

	var events []types.LSTDistributionEvent
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		if len(row) < 3 {
			continue
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, err
		}
		events = append(events, types.LSTDistributionEvent{T: ts, Symbol: row[1], Amount: amt})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].T.Before(events[j].T) })
	return events, nil
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, err := parseTimestamp(row[0])
	return err != nil
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Get implements Provider. It is pure: identical (kind,symbol,T) inputs
// always return the same value, since the cache is loaded once and never
// mutated.
func (p *CSVProvider) Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error) {
	snap := types.MarketSnapshot{
		T:            t,
		SpotPrices:   make(map[string]decimal.Decimal),
		OraclePrices: make(map[string]decimal.Decimal),
		FundingRates: make(map[string]decimal.Decimal),
		Indices:      make(map[string]decimal.Decimal),
	}

	for kind, bySymbol := range p.numeric {
		for symbol, s := range bySymbol {
			v, ok := s.at(t)
			if !ok {
				return types.MarketSnapshot{}, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "Get", t,
					fmt.Sprintf("no observation <= T for %s/%s", kind, symbol), nil)
			}
			switch kind {
			case KindGasPrice:
				snap.GasPrice = v
			case KindSpotPrices:
				snap.SpotPrices[symbol] = v
			case KindOraclePrices:
				snap.OraclePrices[symbol] = v
			case KindFundingRates:
				snap.FundingRates[symbol] = v
			case KindAaveLiquidity, KindAaveBorrowIndex:
				snap.Indices[kind+":"+symbol] = v
			}
		}
	}

	for _, ev := range p.events {
		if !ev.T.After(t) {
			snap.LSTEvents = append(snap.LSTEvents, ev)
		}
	}

	return snap, nil
}

// Timestamps returns the sorted union of candidate replay timestamps in
// [start, end]: every timestamp where every required numeric kind has an
// observation <= it (§4.2).
func (p *CSVProvider) Timestamps(start, end types.Timestamp) ([]types.Timestamp, error) {
	candidateSet := make(map[time.Time]struct{})
	for _, bySymbol := range p.numeric {
		for _, s := range bySymbol {
			for _, obs := range s {
				if !obs.T.Before(start) && !obs.T.After(end) {
					candidateSet[obs.T] = struct{}{}
				}
			}
		}
	}

	candidates := make([]time.Time, 0, len(candidateSet))
	for t := range candidateSet {
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

	var out []types.Timestamp
	for _, t := range candidates {
		if p.allKindsEligible(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *CSVProvider) allKindsEligible(t time.Time) bool {
	for _, bySymbol := range p.numeric {
		for _, s := range bySymbol {
			if _, ok := s.at(t); !ok {
				return false
			}
		}
	}
	return true
}
