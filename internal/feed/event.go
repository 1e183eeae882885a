package feed

import (
	"context"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// EventKind discriminates Event.
type EventKind int

const (
	// EventConnected is emitted after every successful (re)subscription.
	EventConnected EventKind = iota
	// EventMessage carries one raw frame.
	EventMessage
	// EventDisconnected is emitted when an established transport drops.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RawMessage is one undecoded frame. Seq is a per-connection counter that
// keeps increasing across reconnects, for venues without their own sequence.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
	Seq        uint64
}

// Event is what a Connection yields.
type Event struct {
	Kind      EventKind
	Feed      string
	Reconnect bool
	Message   RawMessage
	Err       error
	At        time.Time
}

// Decoder maps a raw frame to an observation. ok=false with a nil error marks
// a control frame (heartbeat, subscription ack) that carries no price.
type Decoder interface {
	Decode(raw RawMessage) (obs domain.PriceObservation, ok bool, err error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(raw RawMessage) (domain.PriceObservation, bool, error)

// Decode calls f.
func (f DecoderFunc) Decode(raw RawMessage) (domain.PriceObservation, bool, error) {
	return f(raw)
}

// Source is anything that yields feed events; *Connection is the production
// implementation.
type Source interface {
	Run(ctx context.Context) error
	Events() <-chan Event
}
