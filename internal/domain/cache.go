package domain

import (
	"context"
	"time"
)

// PriceCache keeps the latest observation per feed key for readers outside
// the engine process.
type PriceCache interface {
	SetObservation(ctx context.Context, key string, obs PriceObservation) error
	GetObservation(ctx context.Context, key string) (PriceObservation, error)
	GetObservations(ctx context.Context, keys []string) (map[string]PriceObservation, error)
}

// RateLimiter provides rate limiting keyed by an arbitrary string.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) (string, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
