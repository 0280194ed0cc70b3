package state

import (
	"fmt"
	"strconv"
	"time"

	"github.com/scuffedsnap/snapsync/internal/api"
)

// Message is the view-model record held in an open thread. Its ID is a
// string so one field covers both phases of a message's life: a "tmp-"
// prefixed placeholder id while a send is in flight, then the server's
// decimal id once acknowledged.
type Message struct {
	ID         string
	SenderID   int64
	ReceiverID int64
	Content    string
	Kind       string
	Edited     bool
	Pending    bool
	ExpiresAt  *time.Time
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// Mine reports whether the message was sent by the given user.
func (m *Message) Mine(selfID int64) bool {
	return m.SenderID == selfID
}

func durableID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func fromAPI(m *api.Message) *Message {
	return &Message{
		ID:         durableID(m.ID),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Kind:       m.Kind,
		Edited:     m.Edited,
		ExpiresAt:  m.ExpiresAt,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

// SendError reports a failed optimistic send. Draft carries the composed
// content back to the caller so it can be restored into the input field.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
