// Package voice implements the press-and-hold voice message recorder: a
// gesture state machine driving one exclusive microphone capture session.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied is matched by every *PermissionError.
var ErrPermissionDenied = errors.New("microphone permission denied")

// PermissionError is returned by PressStart when the microphone cannot be
// acquired because access was refused.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("microphone access denied: %v", e.Err)
	}
	return fmt.Sprintf("microphone access denied for %s: %v", e.Device, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermissionDenied) hold for any PermissionError.
func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }

// Stream is an open capture stream owning one or more hardware tracks.
type Stream interface {
	// ActiveTracks reports how many tracks are still live.
	ActiveTracks() int
	// Close stops every track. It is safe to call more than once.
	Close() error
}

// Encoder turns a stream into container-encoded chunks.
type Encoder interface {
	MIMEType() string
	// Start begins encoding; onChunk may be called from another goroutine.
	Start(onChunk func([]byte)) error
	// Stop flushes pending data through onChunk and returns once no further
	// chunks will be delivered.
	Stop() error
}

// Platform is the audio capture backend.
type Platform interface {
	Open(ctx context.Context) (Stream, error)
	Supports(mime string) bool
	// NewEncoder creates an encoder for mime; "" selects the platform default.
	NewEncoder(s Stream, mime string) (Encoder, error)
}

// Haptics is implemented by platforms able to vibrate.
type Haptics interface {
	Pulse(d time.Duration)
}

// DefaultCodecs is the encoder preference order.
var DefaultCodecs = []string{
	"audio/webm;codecs=opus",
	"audio/ogg;codecs=opus",
	"audio/mp4",
	"audio/mpeg",
}

// negotiate returns the first supported preference, or "" for the platform default.
func negotiate(p Platform, prefs []string) string {
	for _, mime := range prefs {
		if p.Supports(mime) {
			return mime
		}
	}
	return ""
}
