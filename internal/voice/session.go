package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session is one live microphone capture. It owns its stream exclusively
// and releases it on Finalize or Discard.
type Session struct {
	stream    Stream
	encoder   Encoder
	startedAt time.Time

	mu       sync.Mutex
	chunks   [][]byte
	released bool
}

// OpenSession acquires the microphone and starts encoding with the first
// supported codec in prefs. On error nothing is left open.
func OpenSession(ctx context.Context, p Platform, prefs []string) (*Session, error) {
	stream, err := p.Open(ctx)
	if err != nil {
		var pe *PermissionError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	enc, err := p.NewEncoder(stream, negotiate(p, prefs))
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	s := &Session{stream: stream, encoder: enc, startedAt: time.Now()}
	if err := enc.Start(s.appendChunk); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return s, nil
}

func (s *Session) appendChunk(b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.chunks = append(s.chunks, bytes.Clone(b))
}

// MIME returns the negotiated container type.
func (s *Session) MIME() string {
	return s.encoder.MIMEType()
}

// StartedAt returns when capture began.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// ActiveTracks reports the live tracks of the underlying stream.
func (s *Session) ActiveTracks() int {
	return s.stream.ActiveTracks()
}

// Finalize stops capture and returns the recorded blob. The stream is
// released even when the encoder fails to stop cleanly.
func (s *Session) Finalize() ([]byte, error) {
	err := s.encoder.Stop()
	s.mu.Lock()
	blob := bytes.Join(s.chunks, nil)
	s.mu.Unlock()
	s.release()
	if err != nil {
		return blob, fmt.Errorf("stop encoder: %w", err)
	}
	return blob, nil
}

// Discard stops capture and drops everything recorded.
func (s *Session) Discard() error {
	err := s.encoder.Stop()
	s.release()
	if err != nil {
		return fmt.Errorf("stop encoder: %w", err)
	}
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.chunks = nil
	_ = s.stream.Close()
}
