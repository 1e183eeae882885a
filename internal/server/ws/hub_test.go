package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) (string, error) {
	return "", errors.New("unused")
}

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, errors.New("unused")
}

func startHub(t *testing.T, cfg Config) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(cfg, discard)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSendsSnapshotOnConnect(t *testing.T) {
	_, conn := startHub(t, Config{Snapshot: func() any { return map[string]string{"phase": "streaming"} }})

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeSnapshot, env.Type)
	assert.JSONEq(t, `{"phase":"streaming"}`, string(env.Payload))
}

func TestHubBroadcastsPublishedEvents(t *testing.T) {
	hub, conn := startHub(t, Config{})

	hub.Publish(TypePhase, map[string]string{"from": "streaming", "to": "degraded"})
	env := readEnvelope(t, conn)
	assert.Equal(t, TypePhase, env.Type)
	assert.JSONEq(t, `{"from":"streaming","to":"degraded"}`, string(env.Payload))
}

func TestHubHonoursSubscriptions(t *testing.T) {
	hub, conn := startHub(t, Config{})

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Types: []string{TypeResult}}))
	// Give the read pump time to apply the filter.
	time.Sleep(50 * time.Millisecond)

	hub.Publish(TypeIntent, map[string]int{"n": 1})
	hub.Publish(TypeResult, map[string]int{"n": 2})

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeResult, env.Type)
	assert.JSONEq(t, `{"n":2}`, string(env.Payload))
}

func TestHubBridgesObservations(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 2)}
	_, conn := startHub(t, Config{Bus: bus, ObservationChannel: "latencybot:observations"})

	bus.ch <- []byte("not json")
	bus.ch <- []byte(`{"source":"reference","value":64000}`)

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeObservation, env.Type)
	assert.JSONEq(t, `{"source":"reference","value":64000}`, string(env.Payload))
}
