package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// tradeLimitKey is the shared limiter key for all engine instances.
const tradeLimitKey = "latencybot:trades"

// RateLimited allows at most limit intents per window. When shared is set
// (normally the Redis sliding window) it is authoritative across instances;
// an error from it falls back to the in-process token bucket. A non-positive
// limit disables the check.
func RateLimited(shared domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) Middleware {
	if limit <= 0 || window <= 0 {
		return func(next domain.ExecutionGateway) domain.ExecutionGateway { return next }
	}
	local := rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)

	allow := func(ctx context.Context) bool {
		if shared != nil {
			ok, err := shared.Allow(ctx, tradeLimitKey, limit, window)
			if err == nil {
				return ok
			}
			logger.Warn("shared rate limiter unavailable, using local limiter",
				slog.String("error", err.Error()),
			)
		}
		return local.Allow()
	}

	return func(next domain.ExecutionGateway) domain.ExecutionGateway {
		return domain.ExecutionGatewayFunc(func(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
			if !allow(ctx) {
				return domain.OrderAck{}, fmt.Errorf("executor: %d trades per %s: %w", limit, window, domain.ErrRateLimited)
			}
			return next.PlaceOrder(ctx, in)
		})
	}
}

// NotionalCap rejects intents whose size times reference price exceeds
// maxNotional. A non-positive value disables the check.
func NotionalCap(maxNotional float64) Middleware {
	limit := decimal.NewFromFloat(maxNotional)
	return func(next domain.ExecutionGateway) domain.ExecutionGateway {
		if !limit.IsPositive() {
			return next
		}
		return domain.ExecutionGatewayFunc(func(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
			notional := decimal.NewFromFloat(in.Size).Mul(decimal.NewFromFloat(in.Reason.ReferencePriceAfter))
			if notional.GreaterThan(limit) {
				return domain.OrderAck{}, fmt.Errorf("executor: notional %s above %s: %w",
					notional.StringFixed(2), limit.StringFixed(2), domain.ErrNotionalLimit)
			}
			return next.PlaceOrder(ctx, in)
		})
	}
}
