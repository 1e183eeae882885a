package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer accepts connections, records the first frame of each, writes
// frames, then closes the connection.
type wsServer struct {
	*httptest.Server
	mu         sync.Mutex
	subscribes []string
}

func newWSServer(t *testing.T, frames ...string) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.subscribes = append(s.subscribes, string(sub))
		s.mu.Unlock()

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Abrupt drop after the burst.
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribes...)
}

func fastBackoff(max int) Backoff {
	return Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: max}
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for feed event")
		return Event{}
	}
}

func TestConnectionStreamsAndResubscribesOnReconnect(t *testing.T) {
	srv := newWSServer(t, `{"p":"1"}`, `{"p":"2"}`)

	conn := New(Spec{
		Name:      "ref",
		Endpoint:  srv.wsURL(),
		Subscribe: [][]byte{[]byte(`{"type":"subscribe"}`)},
	}, discardLogger(), WithBackoff(fastBackoff(0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(ctx) }()

	ev := next(t, conn.Events())
	assert.Equal(t, EventConnected, ev.Kind)
	assert.False(t, ev.Reconnect)
	assert.Equal(t, "ref", ev.Feed)

	m1 := next(t, conn.Events())
	m2 := next(t, conn.Events())
	require.Equal(t, EventMessage, m1.Kind)
	require.Equal(t, EventMessage, m2.Kind)
	assert.Equal(t, `{"p":"1"}`, string(m1.Message.Data))
	assert.Less(t, m1.Message.Seq, m2.Message.Seq)

	drop := next(t, conn.Events())
	assert.Equal(t, EventDisconnected, drop.Kind)
	assert.Error(t, drop.Err)

	again := next(t, conn.Events())
	assert.Equal(t, EventConnected, again.Kind)
	assert.True(t, again.Reconnect)

	m3 := next(t, conn.Events())
	assert.Greater(t, m3.Message.Seq, m2.Message.Seq, "sequence keeps increasing across reconnects")

	assert.Eventually(t, func() bool { return len(srv.subscriptions()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	for _, sub := range srv.subscriptions() {
		assert.Equal(t, `{"type":"subscribe"}`, sub)
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, conn.State())

	// Channel is closed once Run has returned.
	for range conn.Events() {
	}
}

func TestConnectionGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	conn := New(Spec{Name: "dead", Endpoint: endpoint}, discardLogger(), WithBackoff(fastBackoff(3)))

	err := conn.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconnectExhausted)

	var ce *domain.ConnectError
	assert.True(t, errors.As(err, &ce))

	_, open := <-conn.Events()
	assert.False(t, open)
}

func TestConnectionGivesUpWhenPeerDropsEverySession(t *testing.T) {
	// Accepts the handshake, reads the subscribe frame, then drops.
	srv := newWSServer(t)

	conn := New(Spec{
		Name:      "flap",
		Endpoint:  srv.wsURL(),
		Subscribe: [][]byte{[]byte(`{"type":"subscribe"}`)},
	}, discardLogger(), WithBackoff(Backoff{Base: 10 * time.Millisecond, Max: 640 * time.Millisecond, MaxAttempts: 3}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu     sync.Mutex
		events []Event
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range conn.Events() {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()

	err := conn.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconnectExhausted)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	<-drained

	assert.Len(t, srv.subscriptions(), 3)

	mu.Lock()
	defer mu.Unlock()
	var drops int
	for _, ev := range events {
		if ev.Kind == EventDisconnected {
			drops++
		}
	}
	assert.Equal(t, 3, drops)
}

func TestConnectionDeliveringSessionResetsFailures(t *testing.T) {
	// Each session delivers a frame before dropping, so the attempt limit
	// never trips.
	srv := newWSServer(t, `{"p":"1"}`)

	conn := New(Spec{
		Name:      "steady",
		Endpoint:  srv.wsURL(),
		Subscribe: [][]byte{[]byte(`{"type":"subscribe"}`)},
	}, discardLogger(), WithBackoff(fastBackoff(2)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(ctx) }()

	var messages int
	for messages < 4 {
		ev := next(t, conn.Events())
		if ev.Kind == EventMessage {
			messages++
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConnectionHandshakeRejectionIsConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	conn := New(Spec{Name: "auth", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")},
		discardLogger(), WithBackoff(fastBackoff(1)))

	err := conn.Run(context.Background())
	var ce *domain.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "auth", ce.Feed)
	assert.Contains(t, err.Error(), "403")
}

func TestConnectionCloseStopsRun(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := New(Spec{Name: "idle", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")}, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(context.Background()) }()

	assert.Equal(t, EventConnected, next(t, conn.Events()).Kind)
	assert.Equal(t, StateConnected, conn.State())

	conn.Close()
	conn.Close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
