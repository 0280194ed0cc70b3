// Package presence tracks which peers are online and who is typing.
// The set has no persistence and is rebuilt from scratch after every
// reconnect.
package presence

import (
	"slices"
	"sync"
	"time"
)

// typingDecay is how long a typing indicator stays valid without a refresh.
// Clients that crash mid-keystroke never send typing=false.
const typingDecay = 5 * time.Second

// Tracker maintains the set of currently-online peer identities.
type Tracker struct {
	mu     sync.RWMutex
	online map[int64]struct{}
	typing map[int64]time.Time

	now func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		online: make(map[int64]struct{}),
		typing: make(map[int64]time.Time),
		now:    time.Now,
	}
}

// MarkOnline records that the peer is online.
func (t *Tracker) MarkOnline(id int64) {
	t.mu.Lock()
	t.online[id] = struct{}{}
	t.mu.Unlock()
}

// MarkOffline records that the peer went offline. Their typing state, if
// any, is dropped with them.
func (t *Tracker) MarkOffline(id int64) {
	t.mu.Lock()
	delete(t.online, id)
	delete(t.typing, id)
	t.mu.Unlock()
}

// IsOnline reports whether the peer is currently online.
func (t *Tracker) IsOnline(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Online returns the sorted set of online peer ids.
func (t *Tracker) Online() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reset clears all presence and typing state. Called on reconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.online = make(map[int64]struct{})
	t.typing = make(map[int64]time.Time)
	t.mu.Unlock()
}

// ReplaceAll atomically replaces the online set with a full snapshot, for
// servers that push one after connect.
func (t *Tracker) ReplaceAll(ids []int64) {
	next := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

// SetTyping records that the peer started (or stopped) typing. A started
// indicator decays after a few seconds if never cleared.
func (t *Tracker) SetTyping(id int64, typing bool) {
	t.mu.Lock()
	if typing {
		t.typing[id] = t.now().Add(typingDecay)
	} else {
		delete(t.typing, id)
	}
	t.mu.Unlock()
}

// IsTyping reports whether the peer has a live typing indicator.
func (t *Tracker) IsTyping(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	deadline, ok := t.typing[id]
	return ok && t.now().Before(deadline)
}
