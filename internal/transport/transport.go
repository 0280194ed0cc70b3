// Package transport owns the persistent websocket connection to the server:
// dialing, the connection state machine, exponential-backoff reconnects, and
// the frame read loop feeding the router.
package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scuffedsnap/snapsync/internal/bus"
	"github.com/scuffedsnap/snapsync/internal/wire"
	"go.uber.org/zap"
)

// State is a connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// ValidTransition reports whether the connection FSM allows from -> to.
func ValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// StatusChange is the payload of "conn.status_changed" bus events.
type StatusChange struct {
	From State
	To   State
}

// Reconnect is the payload of "conn.reconnect_scheduled" bus events.
type Reconnect struct {
	Attempt int
	Delay   time.Duration
}

// Dispatcher consumes decoded inbound frames.
type Dispatcher interface {
	Dispatch(f *wire.Frame)
}

// Options tunes the reconnect policy. Zero values use the defaults
// (1s base, 5 attempts).
type Options struct {
	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
}

// Transport maintains one websocket connection to the server's /ws endpoint.
type Transport struct {
	mu sync.Mutex

	url        string
	token      string
	dialer     *websocket.Dialer
	dispatcher Dispatcher
	bus        *bus.Bus
	logger     *zap.Logger

	baseDelay   time.Duration
	maxAttempts int

	state      State
	conn       *websocket.Conn
	attempts   int
	closed     bool
	retryTimer *time.Timer
}

// New creates a transport for the given server origin. The websocket URL is
// derived from it (http -> ws, https -> wss, path /ws).
func New(serverURL, token string, d Dispatcher, b *bus.Bus, logger *zap.Logger, opts Options) (*Transport, error) {
	endpoint, err := Endpoint(serverURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Transport{
		url:         endpoint,
		token:       token,
		dialer:      opts.Dialer,
		dispatcher:  d,
		bus:         b,
		logger:      logger,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		state:       Disconnected,
	}, nil
}

// Endpoint maps a server origin to its websocket endpoint.
func Endpoint(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the current reconnect attempt counter.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Connect dials the server. Idempotent: a no-op while connecting or already
// connected. On failure the next reconnect attempt is scheduled with
// exponential backoff, up to the attempt cap.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.state != Disconnected {
		t.mu.Unlock()
		return nil
	}
	t.closed = false
	t.transitionLocked(Connecting)
	t.mu.Unlock()

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, resp, err := t.dialer.Dial(t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.transitionLocked(Disconnected)
		t.logger.Warn("websocket dial failed", zap.Error(err), zap.Int("attempt", t.attempts))
		t.scheduleRetryLocked()
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	if t.closed {
		// Close raced the dial. Drop the connection.
		_ = conn.Close()
		t.transitionLocked(Disconnected)
		return nil
	}

	t.conn = conn
	t.attempts = 0
	t.transitionLocked(Connected)
	t.logger.Info("websocket connected", zap.String("url", t.url))

	go t.readLoop(conn)
	return nil
}

// Close tears the connection down intentionally. No reconnect is attempted
// until Connect is called again.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	if t.conn != nil {
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = t.conn.Close()
		t.conn = nil
	}
	if t.state != Disconnected {
		t.transitionLocked(Disconnected)
	}
}

// Send enqueues a frame for delivery. Failures (not connected, encode or
// write errors) are logged, never returned: callers must not assume delivery.
func (t *Transport) Send(kind string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Connected || t.conn == nil {
		t.logger.Warn("send while not connected", zap.String("kind", kind))
		return
	}
	data, err := wire.Encode(kind, payload)
	if err != nil {
		t.logger.Error("encode outbound frame", zap.String("kind", kind), zap.Error(err))
		return
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warn("write frame failed", zap.String("kind", kind), zap.Error(err))
	}
}

// SendTyping notifies the recipient that the local user started or stopped typing.
func (t *Transport) SendTyping(recipientID int64, typing bool) {
	t.Send(wire.KindTyping, wire.TypingCommand{RecipientID: recipientID, Typing: typing})
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, err)
			return
		}
		f, derr := wire.Decode(data)
		if derr != nil {
			t.logger.Warn("dropping malformed frame", zap.Error(derr))
			continue
		}
		if t.dispatcher != nil {
			t.dispatcher.Dispatch(f)
		}
	}
}

func (t *Transport) handleReadError(conn *websocket.Conn, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn != t.conn {
		// A stale read loop from a connection already replaced or torn down.
		return
	}
	_ = conn.Close()
	t.conn = nil
	if t.closed {
		return
	}
	t.logger.Warn("websocket closed unexpectedly", zap.Error(err))
	t.transitionLocked(Disconnected)
	t.scheduleRetryLocked()
}

func (t *Transport) scheduleRetryLocked() {
	if t.closed {
		return
	}
	if t.attempts >= t.maxAttempts {
		t.logger.Error("reconnect attempts exhausted", zap.Int("attempts", t.attempts))
		t.publish("conn.gave_up", t.attempts)
		return
	}
	t.attempts++
	delay := t.baseDelay << (t.attempts - 1)
	t.logger.Info("reconnect scheduled",
		zap.Int("attempt", t.attempts),
		zap.Duration("delay", delay))
	t.publish("conn.reconnect_scheduled", Reconnect{Attempt: t.attempts, Delay: delay})
	t.retryTimer = time.AfterFunc(delay, func() {
		_ = t.Connect()
	})
}

func (t *Transport) transitionLocked(to State) {
	from := t.state
	if !ValidTransition(from, to) {
		t.logger.Error("invalid connection transition",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	t.state = to
	t.publish("conn.status_changed", StatusChange{From: from, To: to})
}

func (t *Transport) publish(kind string, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
