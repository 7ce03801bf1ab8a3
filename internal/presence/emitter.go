package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingThrottle is the minimum gap between two outbound typing reports.
const DefaultTypingThrottle = 3 * time.Second

// Reporter sends the local user's activity to the room.
type Reporter interface {
	ReportTyping(ctx context.Context, roomID int64) error
	ReportRecording(ctx context.Context, roomID int64, recording bool) error
}

// Emitter reports local typing and recording activity. Report failures are
// logged and dropped; the next keystroke or session boundary tries again.
type Emitter struct {
	reporter Reporter
	roomID   int64
	throttle time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastTyping time.Time
}

// NewEmitter creates an emitter for roomID. A non-positive throttle takes
// DefaultTypingThrottle.
func NewEmitter(r Reporter, roomID int64, throttle time.Duration, logger *zap.Logger) *Emitter {
	if throttle <= 0 {
		throttle = DefaultTypingThrottle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		reporter: r,
		roomID:   roomID,
		throttle: throttle,
		logger:   logger,
		now:      time.Now,
	}
}

// Typing is called on every local keystroke. It reports at most once per
// throttle window and reports whether a call went out.
func (e *Emitter) Typing(ctx context.Context) bool {
	now := e.now()
	e.mu.Lock()
	if !e.lastTyping.IsZero() && now.Sub(e.lastTyping) < e.throttle {
		e.mu.Unlock()
		return false
	}
	e.lastTyping = now
	e.mu.Unlock()

	if err := e.reporter.ReportTyping(ctx, e.roomID); err != nil {
		e.logger.Debug("typing report failed", zap.Error(err))
	}
	return true
}

// Recording reports a recording session boundary. It is never throttled.
func (e *Emitter) Recording(ctx context.Context, recording bool) {
	if err := e.reporter.ReportRecording(ctx, e.roomID, recording); err != nil {
		e.logger.Debug("recording report failed", zap.Error(err), zap.Bool("is_recording", recording))
	}
}
