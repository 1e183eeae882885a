package domain

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Direction is the side of the binary market an intent buys.
type Direction string

const (
	// DirectionLong buys the upward ("yes") outcome.
	DirectionLong Direction = "long"
	// DirectionShort buys the downward ("no") outcome.
	DirectionShort Direction = "short"
)

// intentNamespace scopes idempotency keys so they never collide with other
// SHA1 UUIDs.
var intentNamespace = uuid.MustParse("6f1c2d1e-8a4b-4e0f-9c57-3b0c1e7d2a90")

// EdgeSignal is the evidence behind a trigger.
type EdgeSignal struct {
	RelativeChange       float64  `json:"relative_change"`
	ReferencePriceBefore float64  `json:"reference_price_before"`
	ReferencePriceAfter  float64  `json:"reference_price_after"`
	MarketQuote          *float64 `json:"market_quote,omitempty"`
}

// TradeIntent is produced by the edge detector and handed to an
// ExecutionGateway. It is never stored by the engine.
type TradeIntent struct {
	Direction   Direction  `json:"direction"`
	Size        float64    `json:"size"`
	Reason      EdgeSignal `json:"reason"`
	TriggeredAt time.Time  `json:"triggered_at"`
}

// IdempotencyKey derives a stable key from (TriggeredAt, Direction). Two calls
// for the same trigger always yield the same key.
func (t TradeIntent) IdempotencyKey() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.TriggeredAt.UnixNano()))
	name := append(buf[:], []byte(t.Direction)...)
	return uuid.NewSHA1(intentNamespace, name).String()
}

// Notional returns size multiplied by the post-move reference price.
func (t TradeIntent) Notional() float64 {
	return t.Size * t.Reason.ReferencePriceAfter
}

// PositionIntent tracks exposure the engine believes it has opened.
type PositionIntent struct {
	Direction Direction `json:"direction"`
	Size      float64   `json:"size"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Apply returns the position after a filled intent. Opposite directions net
// against each other; a flat result returns nil.
func (p *PositionIntent) Apply(in TradeIntent) *PositionIntent {
	if p == nil {
		return &PositionIntent{Direction: in.Direction, Size: in.Size, OpenedAt: in.TriggeredAt}
	}
	if p.Direction == in.Direction {
		return &PositionIntent{Direction: p.Direction, Size: p.Size + in.Size, OpenedAt: p.OpenedAt}
	}
	remaining := p.Size - in.Size
	switch {
	case remaining > 0:
		return &PositionIntent{Direction: p.Direction, Size: remaining, OpenedAt: p.OpenedAt}
	case remaining < 0:
		return &PositionIntent{Direction: in.Direction, Size: -remaining, OpenedAt: in.TriggeredAt}
	default:
		return nil
	}
}

// OrderStatus is the gateway's view of a submitted intent.
type OrderStatus string

const (
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusSimulated OrderStatus = "simulated"
	OrderStatusQueued    OrderStatus = "queued"
)

// OrderAck is returned by a gateway once it has taken responsibility for an
// intent.
type OrderAck struct {
	OrderID        string      `json:"order_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	Status         OrderStatus `json:"status"`
	AcceptedAt     time.Time   `json:"accepted_at"`
	DryRun         bool        `json:"dry_run"`
}
