// Package executor provides ExecutionGateway implementations and the
// pre-trade controls that wrap them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// Middleware decorates a gateway with an additional control.
type Middleware func(domain.ExecutionGateway) domain.ExecutionGateway

// Chain wraps base with mws. The first middleware is the outermost, so it
// sees every intent before the others do.
func Chain(base domain.ExecutionGateway, mws ...Middleware) domain.ExecutionGateway {
	g := base
	for i := len(mws) - 1; i >= 0; i-- {
		g = mws[i](g)
	}
	return g
}

// DryRun acknowledges every intent locally without contacting any venue.
type DryRun struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewDryRun creates a DryRun gateway.
func NewDryRun(logger *slog.Logger) *DryRun {
	return &DryRun{
		logger: logger.With(slog.String("component", "dry_run_gateway")),
		now:    time.Now,
	}
}

// PlaceOrder logs the intent and returns a simulated ack.
func (g *DryRun) PlaceOrder(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}
	key := in.IdempotencyKey()
	g.logger.InfoContext(ctx, "dry run: intent not sent",
		slog.String("idempotency_key", key),
		slog.String("direction", string(in.Direction)),
		slog.Float64("size", in.Size),
		slog.Float64("relative_change", in.Reason.RelativeChange),
	)
	return domain.OrderAck{
		OrderID:        "dry-" + key,
		IdempotencyKey: key,
		Status:         domain.OrderStatusSimulated,
		AcceptedAt:     g.now().UTC(),
		DryRun:         true,
	}, nil
}

// IntentEnvelope is the record BusGateway appends to the intent stream. The
// consumer on the other side owns signing and venue submission.
type IntentEnvelope struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Intent         domain.TradeIntent `json:"intent"`
	SubmittedAt    time.Time          `json:"submitted_at"`
}

// BusGateway hands intents to an out-of-process signer through a durable
// stream.
type BusGateway struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
	now    func() time.Time
}

// NewBusGateway creates a gateway that appends to stream on bus.
func NewBusGateway(bus domain.SignalBus, stream string, logger *slog.Logger) *BusGateway {
	return &BusGateway{
		bus:    bus,
		stream: stream,
		logger: logger.With(slog.String("component", "bus_gateway")),
		now:    time.Now,
	}
}

// PlaceOrder appends the intent to the stream and acks with the entry ID.
func (g *BusGateway) PlaceOrder(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
	key := in.IdempotencyKey()
	now := g.now().UTC()
	payload, err := json.Marshal(IntentEnvelope{IdempotencyKey: key, Intent: in, SubmittedAt: now})
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("executor: marshal intent %s: %w", key, err)
	}

	id, err := g.bus.StreamAppend(ctx, g.stream, payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("executor: enqueue intent %s: %w", key, err)
	}

	g.logger.InfoContext(ctx, "intent queued",
		slog.String("idempotency_key", key),
		slog.String("stream", g.stream),
		slog.String("entry_id", id),
	)
	return domain.OrderAck{
		OrderID:        id,
		IdempotencyKey: key,
		Status:         domain.OrderStatusQueued,
		AcceptedAt:     now,
	}, nil
}

var (
	_ domain.ExecutionGateway = (*DryRun)(nil)
	_ domain.ExecutionGateway = (*BusGateway)(nil)
)
