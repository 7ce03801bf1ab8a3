// Package composer builds outbound room messages, validates attachments and
// runs the optimistic upload pipeline for media.
package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/roomapi"
	"github.com/matheus3301/roomsync/internal/timeline"
	"github.com/matheus3301/roomsync/internal/voice"
	"go.uber.org/zap"
)

// Default attachment limits.
const (
	DefaultMaxImageBytes    = 5 << 20
	DefaultMaxVideoBytes    = 25 << 20
	DefaultMaxVideoDuration = 120 * time.Second
)

// Limits are the attachment caps enforced before any upload.
type Limits struct {
	MaxImageBytes    int64
	MaxVideoBytes    int64
	MaxVideoDuration time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = DefaultMaxImageBytes
	}
	if l.MaxVideoBytes <= 0 {
		l.MaxVideoBytes = DefaultMaxVideoBytes
	}
	if l.MaxVideoDuration <= 0 {
		l.MaxVideoDuration = DefaultMaxVideoDuration
	}
	return l
}

// API is the subset of the room REST client the composer calls.
type API interface {
	CreateMessage(ctx context.Context, roomID int64, typ chat.Type, content string) (chat.Message, error)
	UploadMessage(ctx context.Context, roomID int64, up roomapi.MediaUpload) (chat.Message, error)
	DeleteMessage(ctx context.Context, roomID, messageID int64) error
}

// Author identifies the local user on optimistic echoes.
type Author struct {
	ID   int64
	Name string
}

// Composer sends messages into one room. Media sends are echoed into the
// timeline immediately under a negative id and resolved by exactly one of
// Replace (confirmed) or Remove (rejected).
type Composer struct {
	roomID     int64
	author     Author
	api        API
	timeline   *timeline.Store
	limits     Limits
	previewDir string
	bus        *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger

	lastTemp atomic.Int64
}

// Options configures a Composer.
type Options struct {
	Author     Author
	Limits     Limits
	PreviewDir string // defaults to os.TempDir()
	Bus        *bus.Bus
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// New creates a composer writing into tl.
func New(api API, tl *timeline.Store, opts Options) *Composer {
	if opts.PreviewDir == "" {
		opts.PreviewDir = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Composer{
		roomID:     tl.RoomID(),
		author:     opts.Author,
		api:        api,
		timeline:   tl,
		limits:     opts.Limits.withDefaults(),
		previewDir: opts.PreviewDir,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

var _ voice.Sink = (*Composer)(nil)

// SendText posts a text message. It appears in the timeline only once the
// server has confirmed it.
func (c *Composer) SendText(ctx context.Context, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, &chat.ValidationError{Field: "text", Reason: "message is empty"}
	}
	return c.sendPlain(ctx, chat.Text, text)
}

// SendSticker posts a sticker by its identifier, with no optimistic echo.
func (c *Composer) SendSticker(ctx context.Context, sticker string) (chat.Message, error) {
	sticker = strings.TrimSpace(sticker)
	if sticker == "" {
		return chat.Message{}, &chat.ValidationError{Field: "sticker", Reason: "no sticker selected"}
	}
	return c.sendPlain(ctx, chat.Sticker, sticker)
}

func (c *Composer) sendPlain(ctx context.Context, typ chat.Type, content string) (chat.Message, error) {
	m, err := c.api.CreateMessage(ctx, c.roomID, typ, content)
	c.metrics.Upload(string(typ), err)
	if err != nil {
		uerr := &chat.UploadError{Type: typ, Err: err}
		c.bus.Emit(bus.ComposerSendFailed, uerr)
		return chat.Message{}, uerr
	}
	c.timeline.Merge(m)
	return m, nil
}

// Attachment is a validated media file ready for upload.
type Attachment struct {
	Path     string
	Type     chat.Type
	Size     int64
	Duration time.Duration
}

// Validate checks a file against the size and duration caps for typ. Only
// images and videos are accepted from files.
func (c *Composer) Validate(path string, typ chat.Type) (Attachment, error) {
	if typ != chat.Image && typ != chat.Video {
		return Attachment{}, &chat.ValidationError{Field: "type", Reason: fmt.Sprintf("%s cannot be attached from a file", typ)}
	}
	f, err := os.Open(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return Attachment{}, fmt.Errorf("stat attachment: %w", err)
	}
	a := Attachment{Path: path, Type: typ, Size: st.Size()}

	switch typ {
	case chat.Image:
		if a.Size > c.limits.MaxImageBytes {
			return Attachment{}, &chat.ValidationError{Field: "image",
				Reason: fmt.Sprintf("image is larger than %s", formatBytes(c.limits.MaxImageBytes))}
		}
	case chat.Video:
		if a.Size > c.limits.MaxVideoBytes {
			return Attachment{}, &chat.ValidationError{Field: "video",
				Reason: fmt.Sprintf("video is larger than %s", formatBytes(c.limits.MaxVideoBytes))}
		}
		d, err := ProbeDuration(f)
		if errors.Is(err, ErrDurationOverflow) {
			return Attachment{}, &chat.ValidationError{Field: "video",
				Reason: fmt.Sprintf("video is longer than %s", c.limits.MaxVideoDuration)}
		}
		if err != nil {
			c.logger.Debug("video probe failed", zap.String("path", path), zap.Error(err))
			return Attachment{}, &chat.ValidationError{Field: "video", Reason: "could not read the video's duration"}
		}
		if d > c.limits.MaxVideoDuration {
			return Attachment{}, &chat.ValidationError{Field: "video",
				Reason: fmt.Sprintf("video is longer than %s", c.limits.MaxVideoDuration)}
		}
		a.Duration = d
	}
	return a, nil
}

// SendFile validates and uploads an image or video with an optimistic echo.
// A rejected file never reaches the network.
func (c *Composer) SendFile(ctx context.Context, path string, typ chat.Type, caption string) (chat.Message, error) {
	a, err := c.Validate(path, typ)
	if err != nil {
		return chat.Message{}, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return chat.Message{}, fmt.Errorf("read attachment: %w", err)
	}
	return c.sendMedia(ctx, mediaSend{
		typ:      a.Type,
		content:  strings.TrimSpace(caption),
		fileName: filepath.Base(a.Path),
		data:     data,
		duration: int((a.Duration + time.Second - 1) / time.Second),
	})
}

// SubmitRecording uploads a finalized voice message with an optimistic echo.
func (c *Composer) SubmitRecording(ctx context.Context, rec voice.Recording) error {
	_, err := c.sendMedia(ctx, mediaSend{
		typ:      chat.Audio,
		fileName: "voice-" + uuid.NewString() + extensionFor(rec.MIME),
		data:     rec.Blob,
		duration: rec.Seconds,
	})
	c.metrics.Recording(err)
	return err
}

type mediaSend struct {
	typ      chat.Type
	content  string
	fileName string
	data     []byte
	duration int
}

func (c *Composer) sendMedia(ctx context.Context, ms mediaSend) (chat.Message, error) {
	tempID := c.nextTempID()
	preview, err := c.writePreview(ms.fileName, ms.data)
	if err != nil {
		c.logger.Warn("preview not created", zap.Error(err))
	}
	defer c.releasePreview(preview)

	c.timeline.Merge(chat.Message{
		ID:         tempID,
		RoomID:     c.roomID,
		SenderID:   c.author.ID,
		SenderName: c.author.Name,
		Type:       ms.typ,
		Content:    ms.content,
		Duration:   ms.duration,
		CreatedAt:  time.Now().UTC(),
		Preview:    preview,
	})

	confirmed, err := c.api.UploadMessage(ctx, c.roomID, roomapi.MediaUpload{
		Type:     ms.typ,
		Content:  ms.content,
		FileName: ms.fileName,
		File:     bytes.NewReader(ms.data),
		Duration: ms.duration,
	})
	c.metrics.Upload(string(ms.typ), err)
	if err != nil {
		c.timeline.Remove(tempID)
		uerr := &chat.UploadError{TempID: tempID, Type: ms.typ, Err: err}
		c.logger.Warn("media upload rejected", zap.Int64("temp_id", tempID), zap.String("type", string(ms.typ)), zap.Error(err))
		c.bus.Emit(bus.ComposerSendFailed, uerr)
		return chat.Message{}, uerr
	}

	c.timeline.Replace(tempID, confirmed)
	return confirmed, nil
}

// Delete removes a confirmed message on the server and then locally.
func (c *Composer) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return &chat.ValidationError{Field: "message", Reason: "pending messages cannot be deleted"}
	}
	if err := c.api.DeleteMessage(ctx, c.roomID, id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	c.timeline.Delete(id)
	return nil
}

// nextTempID returns a fresh synthetic id, always negative.
func (c *Composer) nextTempID() int64 {
	return c.lastTemp.Add(-1)
}

func (c *Composer) writePreview(name string, data []byte) (string, error) {
	path := filepath.Join(c.previewDir, "roomsync-preview-"+uuid.NewString()+filepath.Ext(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (c *Composer) releasePreview(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("preview not removed", zap.String("path", path), zap.Error(err))
	}
}

func extensionFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch base {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	}
	return ".bin"
}

func formatBytes(n int64) string {
	const mib = 1 << 20
	if n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mib)
}
