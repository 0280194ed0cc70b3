// Package router demultiplexes decoded websocket frames into per-kind
// handler chains.
package router

import (
	"encoding/json"
	"sync"

	"github.com/scuffedsnap/snapsync/internal/wire"
	"go.uber.org/zap"
)

// Handler receives the raw payload of a frame of the kind it registered for.
// Handlers run synchronously on the transport's read goroutine; long work
// must be scheduled elsewhere so later frames are not held up.
type Handler func(payload json.RawMessage)

type entry struct {
	id int
	fn Handler
}

// Router dispatches frames by kind to registered handlers in registration
// order. Unknown kinds are logged and ignored.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	next     int
	logger   *zap.Logger
}

// New creates an empty router. logger may be nil.
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string][]entry),
		logger:   logger,
	}
}

// On registers a handler for the given frame kind and returns a function
// that unregisters it. Multiple handlers per kind are invoked in the order
// they were registered.
func (r *Router) On(kind string, h Handler) (off func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.handlers[kind] = append(r.handlers[kind], entry{id: id, fn: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chain := r.handlers[kind]
		for i, e := range chain {
			if e.id == id {
				r.handlers[kind] = append(chain[:i:i], chain[i+1:]...)
				return
			}
		}
	}
}

// Dispatch invokes every handler registered for the frame's kind. A panic in
// one handler is recovered and logged so a bad handler cannot kill the
// transport read loop or starve later handlers.
func (r *Router) Dispatch(f *wire.Frame) {
	r.mu.RLock()
	chain := make([]entry, len(r.handlers[f.Type]))
	copy(chain, r.handlers[f.Type])
	r.mu.RUnlock()

	if len(chain) == 0 {
		r.logger.Debug("unhandled frame kind", zap.String("kind", f.Type))
		return
	}

	for _, e := range chain {
		r.invoke(f, e)
	}
}

func (r *Router) invoke(f *wire.Frame, e entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("frame handler panic",
				zap.String("kind", f.Type),
				zap.Any("panic", rec))
		}
	}()
	e.fn(f.Payload)
}
