package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

// Dedup prevents the same idempotency key from reaching the venue more than
// once within a configurable time-to-live window. It is safe for concurrent
// use.
type Dedup struct {
	seen map[string]time.Time // idempotency key -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a key a duplicate if it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if key has been seen within the TTL window. If the
// key has not been seen (or has expired), it is recorded and false is
// returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Forget drops key so that a later attempt is not treated as a duplicate.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup removes entries that have expired beyond the TTL.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Run calls Cleanup every interval until ctx is cancelled.
func (d *Dedup) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Cleanup()
		}
	}
}

// Deduplicated rejects intents whose idempotency key was already dispatched
// within the TTL. The key is released only when a pre-trade control rejected
// the intent before it could reach the venue. Any other error, a timeout
// included, keeps the key since the order may already be in flight.
func Deduplicated(d *Dedup, logger *slog.Logger) Middleware {
	return func(next domain.ExecutionGateway) domain.ExecutionGateway {
		return domain.ExecutionGatewayFunc(func(ctx context.Context, in domain.TradeIntent) (domain.OrderAck, error) {
			key := in.IdempotencyKey()
			if d.IsDuplicate(key) {
				logger.Debug("intent deduplicated, skipping", slog.String("idempotency_key", key))
				return domain.OrderAck{}, fmt.Errorf("executor: %s: %w", key, domain.ErrDuplicateIntent)
			}
			ack, err := next.PlaceOrder(ctx, in)
			if err != nil && rejectedBeforeVenue(err) {
				d.Forget(key)
			}
			return ack, err
		})
	}
}

func rejectedBeforeVenue(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrNotionalLimit) ||
		errors.Is(err, domain.ErrPositionLimit)
}
