package state

import (
	"time"

	"go.uber.org/zap"

	"github.com/scuffedsnap/snapsync/internal/wire"
)

// ApplyMessageCreated folds an inbound message event into local state.
// Application is keyed by durable id, so a redelivered event rewrites the
// existing entry instead of duplicating it. Messages for conversations
// other than the open one only touch the summary view.
func (s *Store) ApplyMessageCreated(ev *wire.MessageEvent) {
	if ev.ExpiresAt != nil && !ev.ExpiresAt.After(time.Now()) {
		return
	}
	peerID := ev.SenderID
	if peerID == s.self.ID {
		peerID = ev.ReceiverID
	}

	if s.db != nil {
		if err := s.db.UpsertMessage(peerID, &ev.Message); err != nil {
			s.logger.Warn("cache message", zap.Error(err))
		}
	}

	s.mu.Lock()
	inView := s.activePeer == peerID
	changed := false
	if inView {
		if i := s.indexLocked(durableID(ev.ID)); i >= 0 {
			*s.thread[i] = *fromAPI(&ev.Message)
		} else {
			s.insertOrderedLocked(fromAPI(&ev.Message))
		}
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.publish("state.thread_changed", peerID)
	}
	s.Invalidate(ViewConversations)
}

// ApplyMessageUpdated rewrites the content of an already-known message.
// Unknown ids are ignored; the next thread fetch carries the final text.
func (s *Store) ApplyMessageUpdated(ev *wire.MessageUpdatedEvent) {
	s.applyContent(ev.ID, ev.Content)
	if s.db != nil {
		if err := s.db.SetMessageContent(ev.ID, ev.Content); err != nil {
			s.logger.Warn("cache edit", zap.Error(err))
		}
	}
}

// ApplyMessageDeleted drops a message everywhere it is held. Deleting an
// id that was never seen, or was already deleted, is a no-op.
func (s *Store) ApplyMessageDeleted(ev *wire.MessageDeletedEvent) {
	s.mu.Lock()
	removed := s.removeLocked(durableID(ev.ID))
	peerID := s.activePeer
	s.mu.Unlock()
	if removed {
		s.publish("state.thread_changed", peerID)
	}
	if s.db != nil {
		if err := s.db.DeleteMessage(ev.ID); err != nil {
			s.logger.Warn("cache delete", zap.Error(err))
		}
	}
	s.Invalidate(ViewConversations)
}

// ApplyRead stamps read receipts on every message the user sent to the
// reader. Only the open thread renders receipts, so other threads are
// covered by the cache update alone.
func (s *Store) ApplyRead(ev *wire.ReadEvent) {
	now := time.Now()
	s.mu.Lock()
	changed := false
	if s.activePeer == ev.ReaderID {
		for _, m := range s.thread {
			if m.SenderID == s.self.ID && m.ReadAt == nil {
				t := now
				m.ReadAt = &t
				changed = true
			}
		}
	}
	s.mu.Unlock()
	if changed {
		s.publish("state.thread_changed", ev.ReaderID)
	}
	if s.db != nil {
		if err := s.db.MarkSentRead(ev.ReaderID, s.self.ID, now); err != nil {
			s.logger.Warn("cache read receipts", zap.Error(err))
		}
	}
}

// ApplyFriendRequest refreshes the pending request view when a new
// request arrives.
func (s *Store) ApplyFriendRequest(ev *wire.FriendRequestEvent) {
	s.logger.Info("friend request received", zap.Int64("from", ev.From.ID), zap.String("username", ev.From.Username))
	s.Invalidate(ViewRequests)
}
