package domain

import "context"

// ExecutionGateway is the only mutating boundary the engine calls. Signing,
// authentication and venue request shape belong to the implementation.
// Implementations must be safe for concurrent use.
type ExecutionGateway interface {
	PlaceOrder(ctx context.Context, intent TradeIntent) (OrderAck, error)
}

// ExecutionGatewayFunc adapts a function to ExecutionGateway.
type ExecutionGatewayFunc func(ctx context.Context, intent TradeIntent) (OrderAck, error)

// PlaceOrder calls f.
func (f ExecutionGatewayFunc) PlaceOrder(ctx context.Context, intent TradeIntent) (OrderAck, error) {
	return f(ctx, intent)
}
