package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPriceCacheObservationRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	at := time.Unix(1700000000, 250)

	in := domain.PriceObservation{Source: domain.SourcePredictionMarket, Value: 0.535, ObservedAt: at, Sequence: 42}
	require.NoError(t, pc.SetObservation(ctx, "polymarket:123", in))

	got, err := pc.GetObservation(ctx, "polymarket:123")
	require.NoError(t, err)
	assert.Equal(t, 0.535, got.Value)
	assert.True(t, got.ObservedAt.Equal(at))
	assert.Equal(t, uint64(42), got.Sequence)
	assert.Equal(t, domain.SourcePredictionMarket, got.Source)
	assert.Equal(t, time.Minute, mr.TTL("price:polymarket:123"))

	_, err = pc.GetObservation(ctx, "coinbase:ETH-USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := pc.GetObservations(ctx, []string{"polymarket:123", "coinbase:ETH-USD"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0.535, all["polymarket:123"].Value)
}

func TestPriceCacheExpires(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, time.Second)
	ctx := context.Background()

	require.NoError(t, pc.SetObservation(ctx, "k", domain.PriceObservation{Value: 1, ObservedAt: time.Now()}))
	mr.FastForward(2 * time.Second)

	_, err := pc.GetObservation(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "trades", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "trades", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "trades", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockAcquireExtendRelease(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	a := NewLockManager(c)
	b := NewLockManager(c)

	unlock, err := a.Acquire(ctx, "engine", 10*time.Second)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "engine", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, a.Extend(ctx, "engine", 30*time.Second))
	assert.Greater(t, mr.TTL("lock:engine"), 10*time.Second)

	assert.ErrorIs(t, b.Extend(ctx, "engine", time.Second), domain.ErrNotFound)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:engine"))

	_, err = b.Acquire(ctx, "engine", time.Second)
	assert.NoError(t, err)
}

func TestLockExtendAfterTakeover(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	a := NewLockManager(c)

	_, err := a.Acquire(ctx, "engine", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = NewLockManager(c).Acquire(ctx, "engine", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Extend(ctx, "engine", time.Minute), domain.ErrLockHeld)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	id1, err := bus.StreamAppend(ctx, "intents", []byte(`{"n":1}`))
	require.NoError(t, err)
	id2, err := bus.StreamAppend(ctx, "intents", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	msgs, err := bus.StreamRead(ctx, "intents", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)
	assert.JSONEq(t, `{"n":2}`, string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, "intents", id2, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, WithIntentBacklog(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, "observations")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "observations", []byte(`{"value":1}`)))

	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"value":1}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Zero(t, bus.Lagged())

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEntryPayload(t *testing.T) {
	data, ok := entryPayload(map[string]any{"payload": "abc"})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), data)

	_, ok = entryPayload(map[string]any{"other": "abc"})
	assert.False(t, ok)
}

type recordingBus struct {
	domain.SignalBus
	published chan []byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published <- payload
	return nil
}

func TestMirrorWritesCacheAndPublishes(t *testing.T) {
	c, mr := newTestClient(t)
	bus := &recordingBus{published: make(chan []byte, 1)}
	m := NewMirror(NewPriceCache(c, 0), bus, "observations",
		map[domain.Source]string{domain.SourceReference: "BTC-USD"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	m.Offer(domain.PriceObservation{Source: domain.SourceReference, Value: 100.5, ObservedAt: time.Unix(1700000000, 0), Sequence: 7})

	select {
	case payload := <-bus.published:
		var msg mirrorMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "reference", msg.Source)
		assert.Equal(t, "BTC-USD", msg.Key)
		assert.Equal(t, uint64(7), msg.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("observation not published")
	}
	assert.Equal(t, "100.5", mr.HGet("price:BTC-USD", "price"))
}

func TestMirrorOfferDropsWhenFull(t *testing.T) {
	c, _ := newTestClient(t)
	m := NewMirror(NewPriceCache(c, 0), nil, "", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < mirrorBuffer+5; i++ {
		m.Offer(domain.PriceObservation{Value: 1})
	}
	assert.Equal(t, uint64(5), m.Dropped())
}
