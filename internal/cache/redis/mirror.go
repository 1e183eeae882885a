package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

const (
	mirrorBuffer  = 256
	mirrorTimeout = time.Second
)

// Mirror copies observations into the price cache and onto a pub/sub channel.
// Offer never blocks the caller; when the buffer is full the observation is
// dropped and counted.
type Mirror struct {
	prices  domain.PriceCache
	bus     domain.SignalBus
	channel string
	keys    map[domain.Source]string
	logger  *slog.Logger

	in      chan domain.PriceObservation
	dropped atomic.Uint64
}

// NewMirror creates a Mirror. keys maps each source to its cache key, for
// example the reference symbol and the market asset ID.
func NewMirror(prices domain.PriceCache, bus domain.SignalBus, channel string, keys map[domain.Source]string, logger *slog.Logger) *Mirror {
	return &Mirror{
		prices:  prices,
		bus:     bus,
		channel: channel,
		keys:    keys,
		logger:  logger.With(slog.String("component", "redis_mirror")),
		in:      make(chan domain.PriceObservation, mirrorBuffer),
	}
}

// Offer queues obs for mirroring.
func (m *Mirror) Offer(obs domain.PriceObservation) {
	select {
	case m.in <- obs:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many observations were discarded because the mirror
// fell behind.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

// mirrorMessage is the pub/sub payload.
type mirrorMessage struct {
	Source     string    `json:"source"`
	Key        string    `json:"key"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Sequence   uint64    `json:"sequence"`
}

// Run drains the queue until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs := <-m.in:
			m.write(ctx, obs)
		}
	}
}

func (m *Mirror) write(ctx context.Context, obs domain.PriceObservation) {
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	key, ok := m.keys[obs.Source]
	if !ok {
		key = obs.Source.String()
	}
	if err := m.prices.SetObservation(ctx, key, obs); err != nil {
		m.logger.Warn("mirror price write failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	if m.bus == nil || m.channel == "" {
		return
	}
	payload, err := json.Marshal(mirrorMessage{
		Source:     obs.Source.String(),
		Key:        key,
		Value:      obs.Value,
		ObservedAt: obs.ObservedAt.UTC(),
		Sequence:   obs.Sequence,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, m.channel, payload); err != nil {
		m.logger.Warn("mirror publish failed", slog.String("channel", m.channel), slog.String("error", err.Error()))
	}
}
