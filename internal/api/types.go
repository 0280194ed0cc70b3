package api

import "time"

// Message kinds accepted by the server.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
)

// Profile is a user profile as returned by the server.
type Profile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a durable message record owned by the server.
type Message struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	Kind       string     `json:"type"`
	Edited     bool       `json:"edited"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Conversation is a server-computed summary of a chat thread.
type Conversation struct {
	User        Profile  `json:"user"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// FriendRequest is a pending friendship request. Declined requests are
// deleted server-side, so the only statuses seen here are pending/accepted.
type FriendRequest struct {
	ID        int64     `json:"id"`
	From      Profile   `json:"from"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateMessageRequest is the body for POST /api/messages.
type CreateMessageRequest struct {
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	Kind       string     `json:"type"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}
