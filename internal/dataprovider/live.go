package dataprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Feed is one upstream data source (a venue market-data client, an oracle
// poller, ...). Implementations push samples via Subscribe's callback;
// LiveProvider only reads the latest sample per kind/symbol.
type Feed interface {
	Kind() string
	Subscribe(ctx context.Context, onSample func(symbol string, t time.Time, v decimal.Decimal)) error
}

type sample struct {
	t time.Time
	v decimal.Decimal
}

// LiveProvider caches the latest sample per (kind, symbol) pushed by its
// Feeds and serves Get from that cache, failing DataStale when the cached
// sample is older than staleAfter. Grounded on the teacher's
// MarketDataService subscription/cache shape (internal/data/market_data.go),
// adapted from websocket price ticks to a generic multi-kind cache.
type LiveProvider struct {
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]map[string]sample // kind -> symbol -> latest sample
}

// NewLiveProvider subscribes every feed, forwarding its samples into the
// shared cache; each feed's Subscribe runs its own delivery.
func NewLiveProvider(ctx context.Context, logger *zap.Logger, staleAfter time.Duration, feeds []Feed) (*LiveProvider, error) {
	p := &LiveProvider{
		logger:     logger,
		staleAfter: staleAfter,
		now:        time.Now,
		cache:      make(map[string]map[string]sample),
	}
	for _, f := range feeds {
		kind := f.Kind()
		f := f
		if err := f.Subscribe(ctx, func(symbol string, t time.Time, v decimal.Decimal) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.cache[kind] == nil {
				p.cache[kind] = make(map[string]sample)
			}
			p.cache[kind][symbol] = sample{t: t, v: v}
		}); err != nil {
			return nil, types.NewEngineError(types.ErrDataUnavailable, "dataprovider", "NewLiveProvider", types.Timestamp{}, "subscribing to "+kind, err)
		}
	}
	return p, nil
}

// Get serves the latest cached sample per kind/symbol, failing DataStale
// if any required sample is older than staleAfter at t (§4.2 "Live: stale
// sample -> DataStale{kind, age}").
func (p *LiveProvider) Get(ctx context.Context, t types.Timestamp) (types.MarketSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := types.MarketSnapshot{
		T:            t,
		SpotPrices:   make(map[string]decimal.Decimal),
		OraclePrices: make(map[string]decimal.Decimal),
		FundingRates: make(map[string]decimal.Decimal),
		Indices:      make(map[string]decimal.Decimal),
	}

	for kind, bySymbol := range p.cache {
		for symbol, s := range bySymbol {
			age := t.Sub(s.t)
			if age > p.staleAfter {
				return types.MarketSnapshot{}, types.NewEngineError(types.ErrDataStale, "dataprovider", "Get", t,
					fmt.Sprintf("%s/%s age %s exceeds staleness budget %s", kind, symbol, age, p.staleAfter), nil)
			}
			switch kind {
			case KindGasPrice:
				snap.GasPrice = s.v
			case KindSpotPrices:
				snap.SpotPrices[symbol] = s.v
			case KindOraclePrices:
				snap.OraclePrices[symbol] = s.v
			case KindFundingRates:
				snap.FundingRates[symbol] = s.v
			case KindAaveLiquidity, KindAaveBorrowIndex:
				snap.Indices[kind+":"+symbol] = s.v
			}
		}
	}
	return snap, nil
}
