package domain

import (
	"fmt"
	"math"
	"time"
)

// Source identifies which feed produced an observation.
type Source int

const (
	SourceReference Source = iota
	SourcePredictionMarket
)

// String returns the lowercase source name used in logs and metrics labels.
func (s Source) String() string {
	switch s {
	case SourceReference:
		return "reference"
	case SourcePredictionMarket:
		return "market"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, bool) {
	switch s {
	case "reference":
		return SourceReference, true
	case "market":
		return SourcePredictionMarket, true
	default:
		return 0, false
	}
}

// PriceObservation is a single decoded price point from one feed.
// Sequence is strictly increasing per source; anything else is discarded.
type PriceObservation struct {
	Source     Source    `json:"source"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Sequence   uint64    `json:"sequence"`
}

// Validate rejects non-positive and non-finite values.
func (o PriceObservation) Validate() error {
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return &DecodeError{Source: o.Source.String(), Reason: "non-finite price"}
	}
	if o.Value <= 0 {
		return &DecodeError{Source: o.Source.String(), Reason: fmt.Sprintf("non-positive price %v", o.Value)}
	}
	return nil
}

// Age returns how old the observation is at now.
func (o PriceObservation) Age(now time.Time) time.Duration {
	return now.Sub(o.ObservedAt)
}
