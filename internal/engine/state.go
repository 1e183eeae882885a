// Package engine holds the reactive core: the engine state record, the edge
// detector, and the orchestrator loop that owns them.
package engine

import (
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// Phase is the orchestrator's operating mode.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseStreaming
	PhaseDegraded
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseDegraded:
		return "degraded"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// State is the engine's only mutable record. It is owned by the
// orchestrator goroutine; nothing else may write to it.
type State struct {
	LastReferencePrice *domain.PriceObservation
	LastMarketQuote    *domain.PriceObservation
	LastTriggerAt      *time.Time
	OpenPosition       *domain.PositionIntent
	Phase              Phase
}

// last returns the latest observation for src.
func (s *State) last(src domain.Source) *domain.PriceObservation {
	if src == domain.SourceReference {
		return s.LastReferencePrice
	}
	return s.LastMarketQuote
}

// Snapshot is an immutable copy of the state for readers outside the loop.
type Snapshot struct {
	Phase              string                   `json:"phase"`
	Reference          *domain.PriceObservation `json:"reference,omitempty"`
	Market             *domain.PriceObservation `json:"market,omitempty"`
	ReferenceConnected bool                     `json:"reference_connected"`
	MarketConnected    bool                     `json:"market_connected"`
	LastTriggerAt      *time.Time               `json:"last_trigger_at,omitempty"`
	OpenPosition       *domain.PositionIntent   `json:"open_position,omitempty"`
	InFlight           int                      `json:"in_flight"`
	Triggers           uint64                   `json:"triggers"`
	ExecutionFailures  uint64                   `json:"execution_failures"`
	RecentIntents      []IntentRecord           `json:"recent_intents"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// IntentRecord is an intent together with its outcome, newest first in
// Snapshot.RecentIntents.
type IntentRecord struct {
	Key     string             `json:"idempotency_key"`
	Intent  domain.TradeIntent `json:"intent"`
	OrderID string             `json:"order_id,omitempty"`
	Error   string             `json:"error,omitempty"`
	Pending bool               `json:"pending"`
}

func copyObs(o *domain.PriceObservation) *domain.PriceObservation {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyPosition(p *domain.PositionIntent) *domain.PositionIntent {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
