// Package feed owns real-time websocket subscriptions. A Connection dials,
// subscribes, reads frames into an event channel and transparently
// reconnects with jittered exponential backoff when the transport drops.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds a single dial.
	handshakeTimeout = 15 * time.Second

	defaultPingInterval = 15 * time.Second
	defaultBuffer       = 256
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Spec describes one subscription: where to dial and which frames to send
// after every successful handshake.
type Spec struct {
	Name      string
	Endpoint  string
	Subscribe [][]byte
	Header    http.Header
}

// Option configures a Connection.
type Option func(*Connection)

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Connection) { c.backoff = b }
}

// WithPingInterval sets the keep-alive ping period. The read deadline is
// twice this value.
func WithPingInterval(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(c *Connection) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

// Connection is a single reconnecting websocket subscription. Run must be
// called exactly once; Events may be read concurrently with Run.
type Connection struct {
	spec         Spec
	logger       *slog.Logger
	dialer       *websocket.Dialer
	backoff      Backoff
	pingInterval time.Duration
	buffer       int

	events chan Event
	state  atomic.Int32
	seq    uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Connection for spec. Nothing is dialed until Run.
func New(spec Spec, logger *slog.Logger, opts ...Option) *Connection {
	c := &Connection{
		spec:         spec,
		logger:       logger.With(slog.String("component", "feed"), slog.String("feed", spec.Name)),
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		backoff:      DefaultBackoff(),
		pingInterval: defaultPingInterval,
		buffer:       defaultBuffer,
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = make(chan Event, c.buffer)
	return c
}

// Name returns the configured feed name.
func (c *Connection) Name() string { return c.spec.Name }

// Events returns the event stream. It is closed when Run returns.
func (c *Connection) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Close stops Run. It is safe to call multiple times.
func (c *Connection) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Run dials, subscribes and pumps frames until ctx is cancelled, Close is
// called, or reconnect attempts are exhausted. It returns ctx.Err() on
// shutdown and an error wrapping domain.ErrReconnectExhausted otherwise.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer close(c.events)
	defer c.setState(StateClosed)

	// failures counts consecutive failed sessions: dial errors and sessions
	// that drop before delivering a frame. Only a session that delivered at
	// least one frame resets it.
	var (
		failures  int
		wait      time.Duration
		connected bool
	)
	for {
		if wait > 0 && !sleep(ctx, wait) {
			return ctx.Err()
		}

		if connected {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if c.backoff.Exhausted(failures) {
				return c.giveUp(failures, err)
			}
			wait = c.backoff.Delay(failures)
			c.logger.Warn("dial failed, backing off",
				slog.Int("attempt", failures),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.setState(StateConnected)
		c.logger.Info("feed connected", slog.Bool("reconnect", connected))
		if !c.emit(ctx, Event{Kind: EventConnected, Reconnect: connected}) {
			closeConn(conn)
			return ctx.Err()
		}
		connected = true

		delivered, err := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(StateReconnecting)
		c.logger.Warn("feed dropped",
			slog.Bool("delivered", delivered),
			slog.String("error", err.Error()),
		)
		if !c.emit(ctx, Event{Kind: EventDisconnected, Err: err}) {
			return ctx.Err()
		}
		if delivered {
			failures = 0
		}
		failures++
		if c.backoff.Exhausted(failures) {
			return c.giveUp(failures, err)
		}
		wait = c.backoff.Delay(failures)
	}
}

func (c *Connection) giveUp(failures int, err error) error {
	c.logger.Error("giving up on feed",
		slog.Int("failures", failures),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("feed: %s: %w: %w", c.spec.Name, domain.ErrReconnectExhausted, err)
}

// dial performs the websocket handshake. Any failure is a ConnectError.
func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.spec.Endpoint, c.spec.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &domain.ConnectError{Feed: c.spec.Name, Endpoint: c.spec.Endpoint, Err: err}
	}
	return conn, nil
}

// serve subscribes on conn and reads frames until the transport fails or
// ctx is cancelled. It reports whether any frame was delivered. The
// connection is always closed on return.
func (c *Connection) serve(ctx context.Context, conn *websocket.Conn) (bool, error) {
	pongWait := 2 * c.pingInterval
	delivered := false

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		wg.Wait()
	}()

	// Unblock ReadMessage on shutdown.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for _, frame := range c.spec.Subscribe {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return false, fmt.Errorf("feed: subscribe: %w", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(conn, done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return delivered, fmt.Errorf("feed: closed by peer: %w", domain.ErrWSDisconnect)
			}
			return delivered, fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		c.seq++
		msg := RawMessage{Data: data, ReceivedAt: time.Now(), Seq: c.seq}
		if !c.emit(ctx, Event{Kind: EventMessage, Message: msg}) {
			return delivered, ctx.Err()
		}
		delivered = true
	}
}

// pingLoop sends periodic ping frames until done is closed or a write fails.
func (c *Connection) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (c *Connection) emit(ctx context.Context, ev Event) bool {
	ev.Feed = c.spec.Name
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

// sleep waits for d or until ctx is done; it reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
