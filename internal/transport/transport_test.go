package transport

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scuffedsnap/snapsync/internal/bus"
	"github.com/scuffedsnap/snapsync/internal/wire"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	frames []*wire.Frame
	ch     chan *wire.Frame
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan *wire.Frame, 16)}
}

func (d *recordingDispatcher) Dispatch(f *wire.Frame) {
	d.mu.Lock()
	d.frames = append(d.frames, f)
	d.mu.Unlock()
	d.ch <- f
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer starts an httptest server that upgrades /ws and feeds the
// connection to handle.
func wsServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://snap.example.com", "wss://snap.example.com/ws", false},
		{"https://snap.example.com/app", "wss://snap.example.com/ws", false},
		{"ftp://example.com", "", true},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Endpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Connecting, Connected, true},
		{Connecting, Disconnected, true},
		{Connected, Disconnected, true},
		{Disconnected, Connected, false},
		{Connected, Connecting, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConnectAndDispatch(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"online_status","payload":{"user_id":3,"online":true}}`))
		// Keep the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := newRecordingDispatcher()
	tr, err := New(srv.URL, "tok", d, bus.New(), nil, Options{BaseDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if tr.State() != Connected {
		t.Errorf("state = %s, want CONNECTED", tr.State())
	}
	if tr.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after successful connect", tr.Attempts())
	}

	select {
	case f := <-d.ch:
		if f.Type != wire.KindOnlineStatus {
			t.Errorf("frame type = %q, want online_status", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched frame")
	}
}

func TestConnectIdempotent(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr, err := New(srv.URL, "", newRecordingDispatcher(), nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(); err != nil {
		t.Fatal(err)
	}
	// Second connect while connected is a no-op.
	if err := tr.Connect(); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}
	if tr.State() != Connected {
		t.Errorf("state = %s, want CONNECTED", tr.State())
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"read","payload":{"reader_id":1}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := newRecordingDispatcher()
	tr, err := New(srv.URL, "", d, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if err := tr.Connect(); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-d.ch:
		if f.Type != wire.KindRead {
			t.Errorf("frame type = %q, want read (malformed frames must be dropped)", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for valid frame")
	}

	d.mu.Lock()
	n := len(d.frames)
	d.mu.Unlock()
	if n != 1 {
		t.Errorf("dispatched %d frames, want 1", n)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	tr, err := New("http://127.0.0.1:1", "", newRecordingDispatcher(), nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// Must not panic or block.
	tr.Send(wire.KindTyping, wire.TypingCommand{RecipientID: 1, Typing: true})
}

func TestReconnectBackoff(t *testing.T) {
	// Reserve a port with no listener so dials fail fast.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("conn.reconnect_scheduled", 16)
	defer unsub()

	base := 20 * time.Millisecond
	tr, err := New("http://"+addr, "", newRecordingDispatcher(), b, nil,
		Options{BaseDelay: base, MaxAttempts: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(); err == nil {
		t.Fatal("Connect() to dead address should fail")
	}

	// First three attempts are scheduled at base, 2*base, 4*base.
	for i := 1; i <= 3; i++ {
		select {
		case evt := <-ch:
			r, ok := evt.Payload.(Reconnect)
			if !ok {
				t.Fatalf("payload type = %T", evt.Payload)
			}
			if r.Attempt != i {
				t.Errorf("attempt = %d, want %d", r.Attempt, i)
			}
			want := base << (i - 1)
			if r.Delay != want {
				t.Errorf("delay for attempt %d = %v, want %v", i, r.Delay, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for reconnect attempt %d", i)
		}
	}

	// Bring a server up on the reserved address before the 4th attempt fires;
	// a successful connect must reset the attempt counter.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := &http.Server{Handler: mux}
	l2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("re-listen on %s: %v", addr, err)
	}
	go func() { _ = srv.Serve(l2) }()
	defer func() { _ = srv.Close() }()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State() == Connected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tr.State() != Connected {
		t.Fatal("transport never reconnected")
	}
	if tr.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after successful reconnect", tr.Attempts())
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	b := bus.New()
	gaveUp, unsub := b.Subscribe("conn.gave_up", 1)
	defer unsub()
	scheduled, unsub2 := b.Subscribe("conn.reconnect_scheduled", 16)
	defer unsub2()

	tr, err := New("http://"+addr, "", newRecordingDispatcher(), b, nil,
		Options{BaseDelay: 5 * time.Millisecond, MaxAttempts: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	_ = tr.Connect()

	select {
	case <-gaveUp:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for conn.gave_up")
	}

	count := len(scheduled)
	if count != 2 {
		t.Errorf("scheduled %d reconnects, want 2", count)
	}
	if tr.State() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", tr.State())
	}
}

func TestCloseAbandonsReconnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	b := bus.New()
	scheduled, unsub := b.Subscribe("conn.reconnect_scheduled", 16)
	defer unsub()

	tr, err := New("http://"+addr, "", newRecordingDispatcher(), b, nil,
		Options{BaseDelay: 50 * time.Millisecond, MaxAttempts: 5})
	if err != nil {
		t.Fatal(err)
	}

	_ = tr.Connect()
	<-scheduled
	tr.Close()

	// The pending retry is cancelled; no further attempts are scheduled.
	select {
	case evt := <-scheduled:
		t.Errorf("unexpected reconnect after Close: %v", evt.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSendTyping(t *testing.T) {
	got := make(chan string, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(data)
	})

	tr, err := New(srv.URL, "", newRecordingDispatcher(), nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if err := tr.Connect(); err != nil {
		t.Fatal(err)
	}

	tr.SendTyping(9, true)

	select {
	case data := <-got:
		f, err := wire.Decode([]byte(data))
		if err != nil {
			t.Fatal(err)
		}
		if f.Type != wire.KindTyping {
			t.Errorf("type = %q, want typing", f.Type)
		}
		want := fmt.Sprintf(`{"recipient_id":%d,"typing":true}`, 9)
		if string(f.Payload) != want {
			t.Errorf("payload = %s, want %s", f.Payload, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for typing frame")
	}
}
