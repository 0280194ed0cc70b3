// Package sync glues the realtime feed to local state. It decodes routed
// frames into typed events for the reconciliation store and presence
// tracker, and resynchronizes both after every reconnect.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/scuffedsnap/snapsync/internal/bus"
	"github.com/scuffedsnap/snapsync/internal/presence"
	"github.com/scuffedsnap/snapsync/internal/router"
	"github.com/scuffedsnap/snapsync/internal/state"
	"github.com/scuffedsnap/snapsync/internal/transport"
	"github.com/scuffedsnap/snapsync/internal/wire"
)

// Engine owns the frame handlers and the reconnect resync policy.
type Engine struct {
	store    *state.Store
	presence *presence.Tracker
	router   *router.Router
	bus      *bus.Bus
	logger   *zap.Logger

	offs   []func()
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine. Start must be called before any frames flow.
func New(store *state.Store, tracker *presence.Tracker, r *router.Router, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		presence: tracker,
		router:   r,
		bus:      b,
		logger:   logger,
	}
}

// Start registers the frame handlers and begins watching connection
// lifecycle events.
func (e *Engine) Start(ctx context.Context) {
	e.offs = append(e.offs,
		e.router.On(wire.KindMessage, e.onMessage),
		e.router.On(wire.KindMessageUpdated, e.onMessageUpdated),
		e.router.On(wire.KindMessageDeleted, e.onMessageDeleted),
		e.router.On(wire.KindTyping, e.onTyping),
		e.router.On(wire.KindRead, e.onRead),
		e.router.On(wire.KindOnlineStatus, e.onOnlineStatus),
		e.router.On(wire.KindFriendRequest, e.onFriendRequest),
	)

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	events, unsubscribe := e.bus.Subscribe("conn.", 16)
	go func() {
		defer close(e.done)
		defer unsubscribe()
		for {
			select {
			case evt := <-events:
				e.onConnEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unregisters all handlers and stops the lifecycle watcher.
func (e *Engine) Stop() {
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// onConnEvent resynchronizes after a reconnect. Presence is reset because
// online and typing signals missed while offline leave the tracker stale;
// the summary views are refetched for the same reason.
func (e *Engine) onConnEvent(evt bus.Event) {
	change, ok := evt.Payload.(transport.StatusChange)
	if !ok || change.To != transport.Connected {
		return
	}
	e.presence.Reset()
	e.publish("presence.changed", int64(0))
	e.store.Invalidate(state.ViewConversations)
	e.store.Invalidate(state.ViewFriends)
	e.store.Invalidate(state.ViewRequests)
	if e.store.ActivePeer() != 0 {
		e.store.Invalidate(state.ViewThread)
	}
	e.logger.Info("resynchronized after reconnect")
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (e *Engine) decode(kind string, payload json.RawMessage, out any) bool {
	if err := json.Unmarshal(payload, out); err != nil {
		e.logger.Warn("malformed event payload", zap.String("kind", kind), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) onMessage(payload json.RawMessage) {
	var ev wire.MessageEvent
	if !e.decode(wire.KindMessage, payload, &ev) {
		return
	}
	// A delivered message supersedes any typing indicator from its sender.
	e.presence.SetTyping(ev.SenderID, false)
	e.publish("presence.typing", ev.SenderID)
	e.store.ApplyMessageCreated(&ev)
}

func (e *Engine) onMessageUpdated(payload json.RawMessage) {
	var ev wire.MessageUpdatedEvent
	if !e.decode(wire.KindMessageUpdated, payload, &ev) {
		return
	}
	e.store.ApplyMessageUpdated(&ev)
}

func (e *Engine) onMessageDeleted(payload json.RawMessage) {
	var ev wire.MessageDeletedEvent
	if !e.decode(wire.KindMessageDeleted, payload, &ev) {
		return
	}
	e.store.ApplyMessageDeleted(&ev)
}

func (e *Engine) onTyping(payload json.RawMessage) {
	var ev wire.TypingEvent
	if !e.decode(wire.KindTyping, payload, &ev) {
		return
	}
	e.presence.SetTyping(ev.UserID, ev.Typing)
	e.publish("presence.typing", ev.UserID)
}

func (e *Engine) onRead(payload json.RawMessage) {
	var ev wire.ReadEvent
	if !e.decode(wire.KindRead, payload, &ev) {
		return
	}
	e.store.ApplyRead(&ev)
}

func (e *Engine) onOnlineStatus(payload json.RawMessage) {
	var ev wire.OnlineStatusEvent
	if !e.decode(wire.KindOnlineStatus, payload, &ev) {
		return
	}
	if ev.Online {
		e.presence.MarkOnline(ev.UserID)
	} else {
		e.presence.MarkOffline(ev.UserID)
	}
	e.publish("presence.changed", ev.UserID)
}

func (e *Engine) onFriendRequest(payload json.RawMessage) {
	var ev wire.FriendRequestEvent
	if !e.decode(wire.KindFriendRequest, payload, &ev) {
		return
	}
	e.store.ApplyFriendRequest(&ev)
}
