package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// Policy configures edge detection.
type Policy struct {
	// Threshold is the absolute relative change that must be exceeded.
	Threshold float64
	// Cooldown is the minimum gap between triggers; the gap must exceed it.
	Cooldown time.Duration
	// OrderSize is the size of every intent.
	OrderSize float64
	// MaxPosition caps the accumulated open position. Zero disables the cap.
	MaxPosition float64
	// YesIsUpside maps an upward move to Long. False inverts the mapping for
	// markets whose "yes" outcome pays on a fall.
	YesIsUpside bool
}

// DefaultPolicy returns the defaults from the reference bots.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:   0.002,
		Cooldown:    5 * time.Second,
		OrderSize:   100,
		YesIsUpside: true,
	}
}

// Detector evaluates reference-price moves. It holds no mutable state.
type Detector struct {
	policy    Policy
	threshold decimal.Decimal
}

// NewDetector returns a Detector for p.
func NewDetector(p Policy) *Detector {
	return &Detector{policy: p, threshold: decimal.NewFromFloat(p.Threshold)}
}

// Policy returns the detector's policy.
func (d *Detector) Policy() Policy { return d.policy }

// RelativeChange returns (next-prev)/prev.
func RelativeChange(prev, next float64) float64 {
	return (next - prev) / prev
}

// ExceedsThreshold reports whether |next-prev|/prev > threshold, computed on
// the prices' shortest decimal form. 100 to 100.2 at 0.002 is exactly at the
// threshold and does not exceed it.
func ExceedsThreshold(prev, next float64, threshold decimal.Decimal) bool {
	p := decimal.NewFromFloat(prev)
	if p.IsZero() {
		return false
	}
	change := decimal.NewFromFloat(next).Sub(p).Div(p).Abs()
	return change.GreaterThan(threshold)
}

// Evaluate decides whether moving from prev to next warrants an intent given
// st. The observation time of next is the evaluation clock. It triggers only
// when |change| > threshold, the cooldown since the last trigger has strictly
// elapsed, the engine is streaming and the position cap allows it. A nil prev
// never triggers.
func (d *Detector) Evaluate(st *State, prev *domain.PriceObservation, next domain.PriceObservation) (domain.TradeIntent, bool) {
	if prev == nil || prev.Value <= 0 {
		return domain.TradeIntent{}, false
	}
	if st.Phase != PhaseStreaming {
		return domain.TradeIntent{}, false
	}

	if !ExceedsThreshold(prev.Value, next.Value, d.threshold) {
		return domain.TradeIntent{}, false
	}
	change := RelativeChange(prev.Value, next.Value)

	now := next.ObservedAt
	if st.LastTriggerAt != nil && !(now.Sub(*st.LastTriggerAt) > d.policy.Cooldown) {
		return domain.TradeIntent{}, false
	}

	up := change > 0
	dir := domain.DirectionShort
	if up == d.policy.YesIsUpside {
		dir = domain.DirectionLong
	}

	signal := domain.EdgeSignal{
		RelativeChange:       change,
		ReferencePriceBefore: prev.Value,
		ReferencePriceAfter:  next.Value,
	}
	if st.LastMarketQuote != nil {
		q := st.LastMarketQuote.Value
		signal.MarketQuote = &q
	}

	intent := domain.TradeIntent{
		Direction:   dir,
		Size:        d.policy.OrderSize,
		Reason:      signal,
		TriggeredAt: now,
	}

	if d.policy.MaxPosition > 0 {
		if projected := st.OpenPosition.Apply(intent); projected != nil && projected.Size > d.policy.MaxPosition {
			return domain.TradeIntent{}, false
		}
	}
	return intent, true
}
