package wire

import "github.com/scuffedsnap/snapsync/internal/api"

// MessageEvent is the payload of a "message" frame: the created record plus
// denormalized sender display fields.
type MessageEvent struct {
	api.Message
	SenderUsername string `json:"sender_username"`
	SenderAvatar   string `json:"sender_avatar"`
}

// MessageUpdatedEvent is the payload of a "message_updated" frame.
type MessageUpdatedEvent struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// MessageDeletedEvent is the payload of a "message_deleted" frame.
type MessageDeletedEvent struct {
	ID int64 `json:"id"`
}

// TypingEvent is the payload of an inbound "typing" frame.
type TypingEvent struct {
	UserID int64 `json:"user_id"`
	Typing bool  `json:"typing"`
}

// TypingCommand is the payload of an outbound "typing" frame.
type TypingCommand struct {
	RecipientID int64 `json:"recipient_id"`
	Typing      bool  `json:"typing"`
}

// ReadEvent is the payload of a "read" frame: the peer identified by
// ReaderID has read every message we sent them.
type ReadEvent struct {
	ReaderID int64 `json:"reader_id"`
}

// OnlineStatusEvent is the payload of an "online_status" frame.
type OnlineStatusEvent struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// FriendRequestEvent is the payload of a "friend_request" frame.
type FriendRequestEvent struct {
	From api.Profile `json:"from"`
}
