package router

import (
	"encoding/json"
	"testing"

	"github.com/scuffedsnap/snapsync/internal/wire"
)

func frame(kind, payload string) *wire.Frame {
	return &wire.Frame{Type: kind, Payload: json.RawMessage(payload)}
}

func TestDispatchOrder(t *testing.T) {
	r := New(nil)
	var order []int
	r.On("message", func(json.RawMessage) { order = append(order, 1) })
	r.On("message", func(json.RawMessage) { order = append(order, 2) })
	r.On("message", func(json.RawMessage) { order = append(order, 3) })

	r.Dispatch(frame("message", `{}`))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("invocation order = %v, want [1 2 3]", order)
	}
}

func TestOff(t *testing.T) {
	r := New(nil)
	var first, second int
	off := r.On("read", func(json.RawMessage) { first++ })
	r.On("read", func(json.RawMessage) { second++ })

	r.Dispatch(frame("read", `{}`))
	off()
	r.Dispatch(frame("read", `{}`))

	if first != 1 {
		t.Errorf("removed handler called %d times, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining handler called %d times, want 2", second)
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	r := New(nil)
	var called bool
	r.On("message", func(json.RawMessage) { called = true })

	// Must not panic and must not call unrelated handlers.
	r.Dispatch(frame("some_future_kind", `{"x":1}`))

	if called {
		t.Error("handler called for unrelated kind")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	r := New(nil)
	var after bool
	r.On("message", func(json.RawMessage) { panic("boom") })
	r.On("message", func(json.RawMessage) { after = true })

	r.Dispatch(frame("message", `{}`))

	if !after {
		t.Error("handler after panicking one did not run")
	}
}

func TestPayloadPassedThrough(t *testing.T) {
	r := New(nil)
	var got string
	r.On("typing", func(p json.RawMessage) { got = string(p) })

	r.Dispatch(frame("typing", `{"user_id":5,"typing":true}`))

	if got != `{"user_id":5,"typing":true}` {
		t.Errorf("payload = %s", got)
	}
}
