package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileMicrophone is a headless Platform that "records" a prerecorded clip,
// streaming it out in chunks while capture runs.
type FileMicrophone struct {
	Path      string
	ChunkSize int
	Interval  time.Duration
}

// NewFileMicrophone creates a platform backed by the clip at path.
func NewFileMicrophone(path string) *FileMicrophone {
	return &FileMicrophone{Path: path, ChunkSize: 4096, Interval: 250 * time.Millisecond}
}

// clipMIME maps the clip extension to its container type.
func clipMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "audio/webm;codecs=opus"
	case ".ogg", ".opus":
		return "audio/ogg;codecs=opus"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

// Open reads the clip. Unreadable files surface as a *PermissionError when
// access is refused.
func (m *FileMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Path == "" {
		return nil, errors.New("no capture source configured")
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &PermissionError{Device: m.Path, Err: err}
		}
		return nil, fmt.Errorf("read capture source: %w", err)
	}
	return &fileStream{data: data, tracks: 1}, nil
}

// Supports reports whether mime matches the clip's container.
func (m *FileMicrophone) Supports(mime string) bool {
	return mime == clipMIME(m.Path)
}

// NewEncoder returns a chunking encoder. The clip is already encoded, so any
// requested mime other than the clip's own falls back to it.
func (m *FileMicrophone) NewEncoder(s Stream, mime string) (Encoder, error) {
	fstream, ok := s.(*fileStream)
	if !ok {
		return nil, fmt.Errorf("stream %T not opened by FileMicrophone", s)
	}
	chunk := m.ChunkSize
	if chunk <= 0 {
		chunk = 4096
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &fileEncoder{stream: fstream, mime: clipMIME(m.Path), chunk: chunk, interval: interval}, nil
}

type fileStream struct {
	mu     sync.Mutex
	data   []byte
	tracks int
}

func (s *fileStream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = 0
	return nil
}

type fileEncoder struct {
	stream   *fileStream
	mime     string
	chunk    int
	interval time.Duration

	mu      sync.Mutex
	offset  int
	onChunk func([]byte)
	quit    chan struct{}
	done    chan struct{}
}

func (e *fileEncoder) MIMEType() string { return e.mime }

func (e *fileEncoder) Start(onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.quit != nil {
		return errors.New("encoder already started")
	}
	e.onChunk = onChunk
	e.quit = make(chan struct{})
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		t := time.NewTicker(e.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.emit(e.chunk)
			case <-e.quit:
				return
			}
		}
	}()
	return nil
}

// emit sends up to n more bytes of the clip.
func (e *fileEncoder) emit(n int) {
	e.mu.Lock()
	data := e.stream.data
	end := min(e.offset+n, len(data))
	b := data[e.offset:end]
	e.offset = end
	fn := e.onChunk
	e.mu.Unlock()
	if len(b) > 0 && fn != nil {
		fn(b)
	}
}

// Stop flushes the remainder of the clip so the blob is always a complete file.
func (e *fileEncoder) Stop() error {
	e.mu.Lock()
	quit, done := e.quit, e.done
	if quit == nil {
		e.mu.Unlock()
		return nil
	}
	select {
	case <-quit:
		e.mu.Unlock()
		return nil
	default:
		close(quit)
	}
	e.mu.Unlock()

	<-done
	e.emit(len(e.stream.data))
	return nil
}
