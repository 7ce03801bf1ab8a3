package voice

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"go.uber.org/zap"
)

// Phase is the gesture state of the recorder.
type Phase string

const (
	Idle       Phase = "IDLE"
	Holding    Phase = "HOLDING"
	Locked     Phase = "LOCKED"
	Cancelling Phase = "CANCELLING"
	Stopped    Phase = "STOPPED"
)

var (
	// ErrBusy is returned by PressStart unless the controller is Idle.
	ErrBusy = errors.New("voice recorder busy")
	// ErrNotRecording is returned by Stop and Cancel without a live session.
	ErrNotRecording = errors.New("voice recorder not recording")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("voice recorder closed")
)

// Defaults for Config zero values.
const (
	DefaultCancelThreshold = 80
	DefaultLockThreshold   = 60
	DefaultMaxDuration     = 60 * time.Second
	DefaultMinDuration     = time.Second

	elapsedInterval  = time.Second
	waveformInterval = 120 * time.Millisecond
	waveformBars     = 32
	hapticPulse      = 30 * time.Millisecond
)

// Point is a pointer position in screen units.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Recording is a finalized voice message.
type Recording struct {
	Blob    []byte
	MIME    string
	Seconds int
}

// Sink receives finalized recordings.
type Sink interface {
	SubmitRecording(ctx context.Context, rec Recording) error
}

// ActivityReporter is told when a recording session starts and ends.
type ActivityReporter interface {
	Recording(ctx context.Context, recording bool)
}

// PhaseChange is the payload of voice.phase_changed events.
type PhaseChange struct {
	From Phase
	To   Phase
}

// Config tunes gesture thresholds and duration limits.
type Config struct {
	CancelThreshold float64
	LockThreshold   float64
	MaxDuration     time.Duration
	MinDuration     time.Duration
	Codecs          []string
}

// Scheduler runs fn every d until the returned stop function is called.
// stop must not wait for a running fn to return.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

type tickerScheduler struct{}

func (tickerScheduler) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(quit)
		})
	}
}

// Controller is the press-and-hold gesture state machine. Input handlers
// translate pointer events into PressStart, Move, Release, Stop and Cancel.
// At most one capture session is live at a time.
type Controller struct {
	cfg      Config
	platform Platform
	sched    Scheduler
	sink     Sink
	activity ActivityReporter
	bus      *bus.Bus
	logger   *zap.Logger
	rng      *rand.Rand

	mu          sync.Mutex
	phase       Phase
	origin      Point
	delta       Point
	wouldCancel bool
	locked      bool
	session     *Session
	sessionCtx  context.Context
	gen         uint64
	elapsed     int
	waveform    []float64
	stopTickers []func()
	closed      bool
}

// NewController creates an idle controller. activity and b may be nil.
func NewController(cfg Config, p Platform, sink Sink, activity ActivityReporter, b *bus.Bus, logger *zap.Logger) *Controller {
	if cfg.CancelThreshold <= 0 {
		cfg.CancelThreshold = DefaultCancelThreshold
	}
	if cfg.LockThreshold <= 0 {
		cfg.LockThreshold = DefaultLockThreshold
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		platform: p,
		sched:    tickerScheduler{},
		sink:     sink,
		activity: activity,
		bus:      b,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		phase:    Idle,
	}
}

// Phase returns the current gesture phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Elapsed returns whole seconds recorded in the live session.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Waveform returns a copy of the current amplitude bars in [0,1].
func (c *Controller) Waveform() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.waveform...)
}

// ActiveTracks reports the live tracks of the current session, 0 when idle.
func (c *Controller) ActiveTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.ActiveTracks()
}

// PressStart acquires the microphone and enters Holding. It fails with
// ErrBusy unless Idle, and with a *PermissionError when access is refused,
// in which case the controller stays Idle with nothing running.
func (c *Controller) PressStart(ctx context.Context, origin Point) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != Idle {
		c.mu.Unlock()
		return ErrBusy
	}

	s, err := OpenSession(ctx, c.platform, c.cfg.Codecs)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.gen++
	gen := c.gen
	c.session = s
	c.sessionCtx = context.WithoutCancel(ctx)
	c.origin = origin
	c.delta = Point{}
	c.elapsed = 0
	c.setPhaseLocked(Holding)
	c.stopTickers = []func(){
		c.sched.Every(elapsedInterval, func() { c.tickElapsed(gen) }),
		c.sched.Every(waveformInterval, func() { c.tickWaveform(gen) }),
	}
	sessionCtx := c.sessionCtx
	c.mu.Unlock()

	c.logger.Info("voice recording started", zap.String("mime", s.MIME()))
	if c.activity != nil {
		c.activity.Recording(sessionCtx, true)
	}
	return nil
}

// Move evaluates a pointer move while Holding or Cancelling. Crossing the
// lock threshold latches Locked; after that moves are ignored. Crossing the
// cancel threshold is reversible until then. Lock wins when both hold.
func (c *Controller) Move(p Point) {
	c.mu.Lock()
	if c.phase != Holding && c.phase != Cancelling {
		c.mu.Unlock()
		return
	}
	c.delta = p.Sub(c.origin)

	if c.delta.Y <= -c.cfg.LockThreshold {
		c.locked = true
		c.wouldCancel = false
		c.setPhaseLocked(Locked)
		c.mu.Unlock()
		if h, ok := c.platform.(Haptics); ok {
			h.Pulse(hapticPulse)
		}
		return
	}

	c.wouldCancel = c.delta.X <= -c.cfg.CancelThreshold
	if c.wouldCancel {
		c.setPhaseLocked(Cancelling)
	} else {
		c.setPhaseLocked(Holding)
	}
	c.mu.Unlock()
}

// Release ends the press. Holding finalizes, uploading only if at least
// MinDuration was recorded. Cancelling discards. Locked keeps recording.
func (c *Controller) Release() {
	c.mu.Lock()
	var after func()
	switch c.phase {
	case Holding:
		after = c.stopLocked(true, true)
	case Cancelling:
		after = c.stopLocked(false, false)
	}
	c.mu.Unlock()
	if after != nil {
		after()
	}
}

// Stop finalizes the live session.
func (c *Controller) Stop() error {
	return c.end(true)
}

// Cancel discards the live session.
func (c *Controller) Cancel() error {
	return c.end(false)
}

func (c *Controller) end(finalize bool) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotRecording
	}
	after := c.stopLocked(finalize, false)
	c.mu.Unlock()
	after()
	return nil
}

// Close discards any live session, even mid-gesture, and refuses new ones.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	var after func()
	if c.session != nil {
		after = c.stopLocked(false, false)
	}
	c.mu.Unlock()
	if after != nil {
		after()
	}
}

func (c *Controller) tickElapsed(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	c.bus.Emit(bus.VoiceElapsed, c.elapsed)

	var after func()
	if c.elapsed >= c.maxSeconds() {
		c.logger.Info("voice recording reached max duration", zap.Int("seconds", c.elapsed))
		after = c.stopLocked(true, false)
	}
	c.mu.Unlock()
	if after != nil {
		after()
	}
}

// tickWaveform produces a stylized level meter: random bars eased toward
// the previous frame so the animation does not flicker.
func (c *Controller) tickWaveform(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.session == nil {
		return
	}
	next := make([]float64, waveformBars)
	for i := range next {
		v := 0.15 + 0.85*c.rng.Float64()
		if i < len(c.waveform) {
			v = 0.6*v + 0.4*c.waveform[i]
		}
		next[i] = v
	}
	c.waveform = next
	c.bus.Emit(bus.VoiceWaveform, append([]float64(nil), next...))
}

// stopLocked is the single path into Stopped. It stops both tickers,
// releases the stream and resets the gesture, then returns to Idle. Sink
// delivery and the end-of-recording report are returned as a function the
// caller runs after unlocking.
func (c *Controller) stopLocked(finalize, gated bool) func() {
	s := c.session
	ctx := c.sessionCtx
	elapsed := c.elapsed

	c.setPhaseLocked(Stopped)
	for _, stop := range c.stopTickers {
		stop()
	}
	c.stopTickers = nil
	c.gen++

	var rec *Recording
	if finalize {
		blob, err := s.Finalize()
		if err != nil {
			c.logger.Warn("voice encoder stop failed", zap.Error(err))
		}
		if !gated || time.Duration(elapsed)*time.Second >= c.cfg.MinDuration {
			rec = &Recording{Blob: blob, MIME: s.MIME(), Seconds: clamp(elapsed, 1, c.maxSeconds())}
		} else {
			c.logger.Debug("voice recording too short, dropped", zap.Int("seconds", elapsed))
		}
	} else if err := s.Discard(); err != nil {
		c.logger.Warn("voice encoder stop failed", zap.Error(err))
	}

	c.session = nil
	c.sessionCtx = nil
	c.elapsed = 0
	c.origin = Point{}
	c.delta = Point{}
	c.wouldCancel = false
	c.locked = false
	c.waveform = nil
	c.setPhaseLocked(Idle)

	return func() {
		if c.activity != nil {
			c.activity.Recording(ctx, false)
		}
		if rec == nil {
			return
		}
		if err := c.sink.SubmitRecording(ctx, *rec); err != nil {
			c.logger.Warn("voice message upload failed", zap.Error(err), zap.Int("seconds", rec.Seconds))
		}
	}
}

func (c *Controller) setPhaseLocked(to Phase) {
	if c.phase == to {
		return
	}
	from := c.phase
	c.phase = to
	c.bus.Emit(bus.VoicePhaseChanged, PhaseChange{From: from, To: to})
}

func (c *Controller) maxSeconds() int {
	return int(c.cfg.MaxDuration / time.Second)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
