package venue

import (
	"context"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the underlying real venue connection: an exchange REST/WS
// client or an on-chain RPC wrapper. RateLimited wraps one in a token
// bucket so the engine never exceeds a venue's published rate limit,
// the way polybot's Client guards its clob/gamma/books endpoints.
type Client interface {
	Name() string
	Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error)
	QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error)
	QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error)
}

// RateLimited adapts a live Client into Interface, gating every call
// through a shared token bucket limiter.
type RateLimited struct {
	client  Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewRateLimited builds a live-mode Interface. ratePerSec and burst follow
// the venue's documented limits; a typical CEX REST limit of 10 req/s with
// a burst of 20 is configured as NewRateLimited(client, logger, 10, 20).
func NewRateLimited(client Client, logger *zap.Logger, ratePerSec float64, burst int) *RateLimited {
	return &RateLimited{
		client:  client,
		logger:  logger.Named("venue." + client.Name()),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

func (r *RateLimited) Name() string { return r.client.Name() }

func (r *RateLimited) Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.ExecutionHandshake{}, err
	}
	return r.client.Execute(ctx, t, order)
}

func (r *RateLimited) QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.QueryPositions(ctx, t, keys)
}

func (r *RateLimited) QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.QueryMarket(ctx, t, kinds)
}
