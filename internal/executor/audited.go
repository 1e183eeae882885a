package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// auditTimeout bounds the audit write so a slow store cannot hold a dispatch
// past its own deadline.
const auditTimeout = 3 * time.Second

// Audited records every placement outcome in store. Audit failures are
// logged and never change the placement result.
func Audited(store domain.AuditStore, logger *slog.Logger) Middleware {
	return func(next domain.ExecutionGateway) domain.ExecutionGateway {
		return domain.ExecutionGatewayFunc(func(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
			start := time.Now()
			ack, err := next.PlaceOrder(ctx, in)

			detail := map[string]any{
				"idempotency_key": in.IdempotencyKey(),
				"direction":       string(in.Direction),
				"size":            in.Size,
				"relative_change": in.Reason.RelativeChange,
				"price_before":    in.Reason.ReferencePriceBefore,
				"price_after":     in.Reason.ReferencePriceAfter,
				"triggered_at":    in.TriggeredAt.UTC(),
				"latency_ms":      time.Since(start).Milliseconds(),
			}
			if in.Reason.MarketQuote != nil {
				detail["market_quote"] = *in.Reason.MarketQuote
			}

			event := domain.AuditIntentPlaced
			switch {
			case err == nil:
				detail["order_id"] = ack.OrderID
				detail["status"] = string(ack.Status)
				detail["dry_run"] = ack.DryRun
			case isRejection(err):
				event = domain.AuditIntentRejected
				detail["error"] = err.Error()
			default:
				event = domain.AuditIntentFailed
				detail["error"] = err.Error()
			}

			auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
			defer cancel()
			if aerr := store.Log(auditCtx, event, detail); aerr != nil {
				logger.Warn("audit write failed",
					slog.String("event", event),
					slog.String("error", aerr.Error()),
				)
			}
			return ack, err
		})
	}
}

// isRejection reports whether err came from a pre-trade control rather than
// the venue.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrDuplicateIntent) ||
		errors.Is(err, domain.ErrNotionalLimit) ||
		errors.Is(err, domain.ErrPositionLimit)
}
