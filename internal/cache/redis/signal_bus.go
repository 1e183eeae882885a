package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

const (
	defaultIntentBacklog int64 = 10000
	subscriberBuffer           = 128
	payloadField               = "payload"
)

// SignalBus implements domain.SignalBus. Observations travel over pub/sub,
// where a late reader simply misses ticks. Intents go to a stream so the
// signer sees every one of them in order, even across its own restarts.
type SignalBus struct {
	rdb     *redis.Client
	backlog int64
	lagged  atomic.Uint64
}

// SignalBusOption configures a SignalBus.
type SignalBusOption func(*SignalBus)

// WithIntentBacklog caps each stream at roughly n entries (XADD MAXLEN ~).
func WithIntentBacklog(n int64) SignalBusOption {
	return func(sb *SignalBus) {
		if n > 0 {
			sb.backlog = n
		}
	}
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, opts ...SignalBusOption) *SignalBus {
	sb := &SignalBus{rdb: c.Underlying(), backlog: defaultIntentBacklog}
	for _, opt := range opts {
		opt(sb)
	}
	return sb
}

// Publish sends payload to a pub/sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel until ctx is done, then closes the returned
// channel. A subscriber that falls behind loses messages (see Lagged) rather
// than holding up the connection.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.forward(ctx, pubsub, out)
	return out, nil
}

func (sb *SignalBus) forward(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				sb.lagged.Add(1)
			}
		}
	}
}

// Lagged reports how many pub/sub messages were dropped for slow subscribers.
func (sb *SignalBus) Lagged() uint64 { return sb.lagged.Load() }

// StreamAppend adds payload to stream and returns the entry ID.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.backlog,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// StreamRead returns up to count entries after lastID ("0" for the start)
// without blocking. An empty stream is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			if data, ok := entryPayload(msg.Values); ok {
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return out, nil
}

// entryPayload extracts the payload field; entries written by other tools
// without it are skipped.
func entryPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
