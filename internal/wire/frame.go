// Package wire defines the websocket frame envelope and the payloads of the
// event kinds the server pushes over it.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound frame kinds. Anything else is ignored by the router so that new
// server event kinds never break old clients.
const (
	KindMessage        = "message"
	KindMessageUpdated = "message_updated"
	KindMessageDeleted = "message_deleted"
	KindTyping         = "typing"
	KindRead           = "read"
	KindOnlineStatus   = "online_status"
	KindFriendRequest  = "friend_request"
)

// Frame is the wire envelope for every frame in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw websocket frame. Frames that are not JSON or carry no
// type are rejected; the transport drops and logs them.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// Encode builds a raw frame for sending.
func Encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(Frame{Type: kind, Payload: raw})
}
