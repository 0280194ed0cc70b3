// Package state is the client-side reconciliation store. It holds the
// in-memory view of the open thread, conversation summaries, friends, and
// pending requests, applies realtime events keyed by durable id, and
// reconciles optimistic sends against server acknowledgements. All view
// changes are announced on the bus as state.* events.
package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scuffedsnap/snapsync/internal/api"
	"github.com/scuffedsnap/snapsync/internal/bus"
	"github.com/scuffedsnap/snapsync/internal/cache"
	"github.com/scuffedsnap/snapsync/internal/reload"
)

// View names used for coalesced refresh scheduling.
const (
	ViewThread        = "thread"
	ViewConversations = "conversations"
	ViewFriends       = "friends"
	ViewRequests      = "requests"
)

const threadFetchLimit = 50

var errNoActiveConversation = errors.New("no active conversation")

// Backend is the slice of the REST client the store depends on.
type Backend interface {
	CreateMessage(ctx context.Context, req api.CreateMessageRequest) (*api.Message, error)
	UpdateMessage(ctx context.Context, id int64, content string) error
	DeleteMessage(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, peerID int64, limit int) ([]api.Message, error)
	MarkRead(ctx context.Context, peerID int64) error
	ListConversations(ctx context.Context, limit int) ([]api.Conversation, error)
	ListFriends(ctx context.Context) ([]api.Profile, error)
	ListFriendRequests(ctx context.Context) ([]api.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, id int64) error
	DeclineFriendRequest(ctx context.Context, id int64) error
}

// Store owns the reconciled client state for one session.
type Store struct {
	self    api.Profile
	backend Backend
	db      *cache.DB // optional, nil disables persistence
	bus     *bus.Bus
	logger  *zap.Logger
	sched   *reload.Scheduler

	mu            sync.RWMutex
	activePeer    int64
	thread        []*Message
	conversations []api.Conversation
	friends       []api.Profile
	requests      []api.FriendRequest
}

// New creates a store for the authenticated user. minInterval and debounce
// tune the coalesced refresh scheduler; zero values use its defaults.
func New(self api.Profile, backend Backend, db *cache.DB, b *bus.Bus, logger *zap.Logger, minInterval, debounce time.Duration) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		self:    self,
		backend: backend,
		db:      db,
		bus:     b,
		logger:  logger,
	}
	s.sched = reload.New(minInterval, debounce, s.refreshView, logger.Named("reload"))
	return s
}

// Self returns the authenticated user's profile.
func (s *Store) Self() api.Profile {
	return s.self
}

// Close stops the refresh scheduler.
func (s *Store) Close() {
	s.sched.Stop()
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// OpenConversation loads the thread with peerID, making it the active
// conversation. The server is tried first; on failure the session cache
// serves the last known thread. Opening marks the thread read.
func (s *Store) OpenConversation(ctx context.Context, peerID int64) error {
	msgs, err := s.backend.ListMessages(ctx, peerID, threadFetchLimit)
	if err != nil {
		if s.db == nil {
			return err
		}
		cached, cerr := s.db.ListThread(peerID, threadFetchLimit, time.Now())
		if cerr != nil {
			s.logger.Warn("thread cache fallback failed", zap.Error(cerr))
			return err
		}
		s.logger.Info("serving thread from cache", zap.Int64("peer_id", peerID), zap.Error(err))
		msgs = cached
	} else {
		// Server returns newest first.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		if s.db != nil {
			for i := range msgs {
				if uerr := s.db.UpsertMessage(peerID, &msgs[i]); uerr != nil {
					s.logger.Warn("cache message", zap.Error(uerr))
					break
				}
			}
		}
	}

	now := time.Now()
	thread := make([]*Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ExpiresAt != nil && !msgs[i].ExpiresAt.After(now) {
			continue
		}
		thread = append(thread, fromAPI(&msgs[i]))
	}

	s.mu.Lock()
	s.activePeer = peerID
	s.thread = thread
	s.mu.Unlock()
	s.publish("state.thread_changed", peerID)

	if err := s.backend.MarkRead(ctx, peerID); err != nil {
		s.logger.Warn("mark read", zap.Int64("peer_id", peerID), zap.Error(err))
	}
	s.Invalidate(ViewConversations)
	return nil
}

// CloseConversation clears the active thread.
func (s *Store) CloseConversation() {
	s.mu.Lock()
	s.activePeer = 0
	s.thread = nil
	s.mu.Unlock()
	s.publish("state.thread_changed", int64(0))
}

// ActivePeer returns the peer id of the open conversation, 0 if none.
func (s *Store) ActivePeer() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePeer
}

// Thread returns a snapshot of the open thread in ascending time order.
func (s *Store) Thread() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.thread))
	for i, m := range s.thread {
		out[i] = *m
	}
	return out
}

// Conversations returns the current summary list snapshot.
func (s *Store) Conversations() []api.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.Conversation(nil), s.conversations...)
}

// Friends returns the current friends list snapshot.
func (s *Store) Friends() []api.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.Profile(nil), s.friends...)
}

// Requests returns the pending friend request snapshot.
func (s *Store) Requests() []api.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.FriendRequest(nil), s.requests...)
}

// Send posts content to the active peer. The message appears in the thread
// immediately under a temporary id; on acknowledgement the same entry is
// rewritten in place with the server record. On failure the entry is
// removed and the returned SendError carries the draft for restoration.
func (s *Store) Send(ctx context.Context, content, kind string, expiresAt *time.Time) (*Message, error) {
	if kind == "" {
		kind = api.KindText
	}

	s.mu.Lock()
	peerID := s.activePeer
	if peerID == 0 {
		s.mu.Unlock()
		return nil, &SendError{Draft: content, Err: errNoActiveConversation}
	}
	temp := &Message{
		ID:         "tmp-" + uuid.NewString(),
		SenderID:   s.self.ID,
		ReceiverID: peerID,
		Content:    content,
		Kind:       kind,
		Pending:    true,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now(),
	}
	s.insertOrderedLocked(temp)
	s.mu.Unlock()
	s.publish("state.thread_changed", peerID)

	created, err := s.backend.CreateMessage(ctx, api.CreateMessageRequest{
		ReceiverID: peerID,
		Content:    content,
		Kind:       kind,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		s.mu.Lock()
		s.removeLocked(temp.ID)
		s.mu.Unlock()
		s.publish("state.thread_changed", peerID)
		sendErr := &SendError{Draft: content, Err: err}
		s.publish("state.send_failed", sendErr)
		s.logger.Error("send failed", zap.Int64("peer_id", peerID), zap.Error(err))
		return nil, sendErr
	}

	s.mu.Lock()
	var acked *Message
	if i := s.indexLocked(durableID(created.ID)); i >= 0 {
		// The durable record already arrived through another path; the
		// placeholder is redundant.
		s.removeLocked(temp.ID)
		acked = s.thread[s.indexLocked(durableID(created.ID))]
	} else if i := s.indexLocked(temp.ID); i >= 0 {
		m := s.thread[i]
		*m = *fromAPI(created)
		acked = m
	} else {
		// Thread was closed or replaced mid-flight. The record is still
		// durable server-side; only the local view dropped it.
		acked = fromAPI(created)
	}
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.UpsertMessage(peerID, created); err != nil {
			s.logger.Warn("cache message", zap.Error(err))
		}
	}
	s.publish("state.thread_changed", peerID)
	s.Invalidate(ViewConversations)
	result := *acked
	return &result, nil
}

// EditMessage replaces the content of a durable message the user sent.
func (s *Store) EditMessage(ctx context.Context, id int64, content string) error {
	if err := s.backend.UpdateMessage(ctx, id, content); err != nil {
		return err
	}
	s.applyContent(id, content)
	if s.db != nil {
		if err := s.db.SetMessageContent(id, content); err != nil {
			s.logger.Warn("cache edit", zap.Error(err))
		}
	}
	return nil
}

// DeleteMessage removes a durable message the user sent.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	if err := s.backend.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	removed := s.removeLocked(durableID(id))
	peerID := s.activePeer
	s.mu.Unlock()
	if removed {
		s.publish("state.thread_changed", peerID)
	}
	if s.db != nil {
		if err := s.db.DeleteMessage(id); err != nil {
			s.logger.Warn("cache delete", zap.Error(err))
		}
	}
	s.Invalidate(ViewConversations)
	return nil
}

// AcceptFriendRequest accepts a pending request and refreshes the views
// the new friendship affects.
func (s *Store) AcceptFriendRequest(ctx context.Context, id int64) error {
	if err := s.backend.AcceptFriendRequest(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ViewRequests)
	s.Invalidate(ViewFriends)
	s.Invalidate(ViewConversations)
	return nil
}

// DeclineFriendRequest declines a pending request.
func (s *Store) DeclineFriendRequest(ctx context.Context, id int64) error {
	if err := s.backend.DeclineFriendRequest(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ViewRequests)
	return nil
}

// Bootstrap performs the initial fetch of every summary view.
func (s *Store) Bootstrap() {
	s.refreshView(ViewConversations)
	s.refreshView(ViewFriends)
	s.refreshView(ViewRequests)
}

// Invalidate requests a coalesced refresh of the named view.
func (s *Store) Invalidate(view string) {
	s.sched.Request(view)
}

// refreshView is the scheduler callback. Every summary re-derive goes
// through here so event bursts collapse into a bounded number of fetches.
func (s *Store) refreshView(view string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch view {
	case ViewConversations:
		s.refreshConversations(ctx)
	case ViewFriends:
		list, err := s.backend.ListFriends(ctx)
		if err != nil {
			s.logger.Warn("refresh friends", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.friends = list
		s.mu.Unlock()
		s.publish("state.friends_changed", len(list))
	case ViewRequests:
		list, err := s.backend.ListFriendRequests(ctx)
		if err != nil {
			s.logger.Warn("refresh requests", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.requests = list
		s.mu.Unlock()
		s.publish("state.requests_changed", len(list))
	case ViewThread:
		s.refreshThread(ctx)
	default:
		s.logger.Warn("refresh of unknown view", zap.String("view", view))
	}
}

func (s *Store) refreshConversations(ctx context.Context) {
	list, err := s.backend.ListConversations(ctx, 0)
	if err != nil {
		s.logger.Warn("refresh conversations", zap.Error(err))
		s.mu.RLock()
		empty := len(s.conversations) == 0
		s.mu.RUnlock()
		if !empty || s.db == nil {
			return
		}
		cached, cerr := s.db.ListConversations()
		if cerr != nil || len(cached) == 0 {
			return
		}
		s.logger.Info("seeding conversations from cache", zap.Int("count", len(cached)))
		list = cached
	} else if s.db != nil {
		if cerr := s.db.ReplaceConversations(list); cerr != nil {
			s.logger.Warn("cache conversations", zap.Error(cerr))
		}
	}
	s.mu.Lock()
	s.conversations = list
	s.mu.Unlock()
	s.publish("state.conversations_changed", len(list))
}

// refreshThread refetches the active thread, keeping any still-pending
// optimistic entries at their positions.
func (s *Store) refreshThread(ctx context.Context) {
	s.mu.RLock()
	peerID := s.activePeer
	s.mu.RUnlock()
	if peerID == 0 {
		return
	}

	msgs, err := s.backend.ListMessages(ctx, peerID, threadFetchLimit)
	if err != nil {
		s.logger.Warn("refresh thread", zap.Int64("peer_id", peerID), zap.Error(err))
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	s.mu.Lock()
	if s.activePeer != peerID {
		s.mu.Unlock()
		return
	}
	var pending []*Message
	for _, m := range s.thread {
		if m.Pending {
			pending = append(pending, m)
		}
	}
	s.thread = s.thread[:0]
	for i := range msgs {
		s.thread = append(s.thread, fromAPI(&msgs[i]))
	}
	for _, m := range pending {
		s.insertOrderedLocked(m)
	}
	s.mu.Unlock()
	s.publish("state.thread_changed", peerID)
}

func (s *Store) applyContent(id int64, content string) {
	s.mu.Lock()
	changed := false
	if i := s.indexLocked(durableID(id)); i >= 0 {
		s.thread[i].Content = content
		s.thread[i].Edited = true
		changed = true
	}
	peerID := s.activePeer
	s.mu.Unlock()
	if changed {
		s.publish("state.thread_changed", peerID)
	}
}

func (s *Store) indexLocked(id string) int {
	for i, m := range s.thread {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.thread = append(s.thread[:i], s.thread[i+1:]...)
	return true
}

// insertOrderedLocked places m by creation time, after any equal timestamps
// so arrival order breaks ties.
func (s *Store) insertOrderedLocked(m *Message) {
	i := sort.Search(len(s.thread), func(i int) bool {
		return s.thread[i].CreatedAt.After(m.CreatedAt)
	})
	s.thread = append(s.thread, nil)
	copy(s.thread[i+1:], s.thread[i:])
	s.thread[i] = m
}
