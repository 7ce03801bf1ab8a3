package chat

import "time"

// Type is the kind of content a message carries.
type Type string

const (
	Text    Type = "text"
	Image   Type = "image"
	Video   Type = "video"
	Audio   Type = "audio"
	Sticker Type = "sticker"
)

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool {
	switch t {
	case Text, Image, Video, Audio, Sticker:
		return true
	}
	return false
}

// IsMedia reports whether messages of this type are uploaded as multipart
// and echoed optimistically.
func (t Type) IsMedia() bool {
	return t == Image || t == Video || t == Audio
}

// Message is a room message as exchanged with the backend.
// Ordering relies solely on ID; CreatedAt is informational.
type Message struct {
	ID            int64     `json:"id"`
	RoomID        int64     `json:"room_id"`
	SenderID      int64     `json:"sender_id"`
	SenderName    string    `json:"sender_name,omitempty"`
	Type          Type      `json:"type"`
	Content       string    `json:"content,omitempty"`
	FileReference string    `json:"file_reference,omitempty"`
	Duration      int       `json:"duration,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Preview is the local resource shown while an optimistic media
	// message is in flight. Never sent or persisted.
	Preview string `json:"-"`
}

// Optimistic reports whether m is a local echo that the server has not
// confirmed yet.
func (m Message) Optimistic() bool {
	return m.ID < 0
}

// PresenceEntry marks a remote user as typing or recording until ExpiresAt.
type PresenceEntry struct {
	UserID      int64
	DisplayName string
	ExpiresAt   time.Time
}

// Expired reports whether the entry is logically absent at now.
func (e PresenceEntry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}
