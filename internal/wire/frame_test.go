package wire

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	f, err := Decode([]byte(`{"type":"typing","payload":{"user_id":3,"typing":true}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Type != KindTyping {
		t.Errorf("Type = %q, want typing", f.Type)
	}
	var evt TypingEvent
	if err := json.Unmarshal(f.Payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.UserID != 3 || !evt.Typing {
		t.Errorf("payload = %+v", evt)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "hello"},
		{"empty", ""},
		{"missing type", `{"payload":{}}`},
		{"empty type", `{"type":"","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Errorf("Decode(%q) expected error", tt.data)
			}
		})
	}
}

func TestEncodeTypingCommand(t *testing.T) {
	data, err := Encode(KindTyping, TypingCommand{RecipientID: 9, Typing: true})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(round trip) error = %v", err)
	}
	var cmd TypingCommand
	if err := json.Unmarshal(f.Payload, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.RecipientID != 9 || !cmd.Typing {
		t.Errorf("payload = %+v", cmd)
	}
}
