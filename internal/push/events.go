package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

// Wire event names on the room channel.
const (
	EventMessageCreated = ".MessageCreated"
	EventMessageDeleted = ".MessageDeleted"
	EventUserTyping     = ".UserTyping"
	EventUserRecording  = ".UserRecording"
)

// Envelope is one frame received on the push connection.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MessageCreated is published as bus.PushMessageCreated.
type MessageCreated struct {
	Message chat.Message `json:"message"`
}

// MessageDeleted is published as bus.PushMessageDeleted.
type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
}

// UserTyping is published as bus.PushUserTyping.
type UserTyping struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

// UserRecording is published as bus.PushUserRecording.
type UserRecording struct {
	UserID      int64  `json:"user_id"`
	UserName    string `json:"user_name"`
	IsRecording bool   `json:"is_recording"`
}

// ChannelName returns the private channel of a room.
func ChannelName(roomID int64) string {
	return fmt.Sprintf("private-room.%d", roomID)
}

// Decode turns a raw frame into a bus event kind and typed payload.
// ok is false for frames that carry no room event (acks, pongs, unknown names).
func Decode(raw []byte) (kind string, payload any, ok bool, err error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, false, fmt.Errorf("decode envelope: %w", err)
	}

	data, err := unwrapData(env.Data)
	if err != nil {
		return "", nil, false, err
	}

	// Some brokers deliver the fully-qualified class name (App\Events\UserTyping).
	name := env.Event
	if i := strings.LastIndexAny(name, `\.`); i > 0 {
		name = name[i+1:]
	}
	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	switch name {
	case EventMessageCreated:
		var p MessageCreated
		if err := json.Unmarshal(data, &p); err != nil {
			return "", nil, false, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return bus.PushMessageCreated, p, true, nil
	case EventMessageDeleted:
		var p MessageDeleted
		if err := json.Unmarshal(data, &p); err != nil {
			return "", nil, false, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return bus.PushMessageDeleted, p, true, nil
	case EventUserTyping:
		var p UserTyping
		if err := json.Unmarshal(data, &p); err != nil {
			return "", nil, false, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return bus.PushUserTyping, p, true, nil
	case EventUserRecording:
		var p UserRecording
		if err := json.Unmarshal(data, &p); err != nil {
			return "", nil, false, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return bus.PushUserRecording, p, true, nil
	}
	return "", nil, false, nil
}

// unwrapData accepts data either as an object or as a JSON-encoded string.
func unwrapData(data json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decode data string: %w", err)
	}
	return []byte(s), nil
}
