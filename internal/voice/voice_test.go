package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
)

// fakePlatform records every stream it opens.
type fakePlatform struct {
	supported map[string]bool
	openErr   error
	streams   []*fakeStream
	encoders  []*fakeEncoder
	pulses    int
}

func (p *fakePlatform) Open(context.Context) (Stream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := &fakeStream{tracks: 1}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakePlatform) Supports(mime string) bool { return p.supported[mime] }

func (p *fakePlatform) NewEncoder(_ Stream, mime string) (Encoder, error) {
	if mime == "" {
		mime = "audio/platform-default"
	}
	e := &fakeEncoder{mime: mime}
	p.encoders = append(p.encoders, e)
	return e, nil
}

func (p *fakePlatform) Pulse(time.Duration) { p.pulses++ }

type fakeStream struct {
	mu     sync.Mutex
	tracks int
}

func (s *fakeStream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = 0
	return nil
}

type fakeEncoder struct {
	mime    string
	onChunk func([]byte)
	stopped bool
}

func (e *fakeEncoder) MIMEType() string { return e.mime }

func (e *fakeEncoder) Start(fn func([]byte)) error {
	e.onChunk = fn
	fn([]byte("head"))
	return nil
}

func (e *fakeEncoder) Stop() error {
	if !e.stopped {
		e.stopped = true
		e.onChunk([]byte("tail"))
	}
	return nil
}

// manualScheduler fires tickers only when the test asks it to.
type manualScheduler struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

type manualTicker struct {
	d      time.Duration
	fn     func()
	active bool
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTicker{d: d, fn: fn, active: true}
	s.tickers = append(s.tickers, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.active = false
	}
}

// fire runs every active ticker with period d once.
func (s *manualScheduler) fire(d time.Duration) {
	s.mu.Lock()
	var due []*manualTicker
	for _, t := range s.tickers {
		if t.active && t.d == d {
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		s.mu.Lock()
		active := t.active
		s.mu.Unlock()
		if active {
			t.fn()
		}
	}
}

func (s *manualScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickers {
		if t.active {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu   sync.Mutex
	recs []Recording
	err  error
}

func (s *recordingSink) SubmitRecording(_ context.Context, r Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return s.err
}

type activityLog struct {
	mu     sync.Mutex
	events []bool
}

func (a *activityLog) Recording(_ context.Context, rec bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, rec)
}

type harness struct {
	c        *Controller
	platform *fakePlatform
	sched    *manualScheduler
	sink     *recordingSink
	activity *activityLog
}

func newHarness(t *testing.T, b *bus.Bus) *harness {
	t.Helper()
	h := &harness{
		platform: &fakePlatform{supported: map[string]bool{"audio/ogg;codecs=opus": true, "audio/mpeg": true}},
		sched:    &manualScheduler{},
		sink:     &recordingSink{},
		activity: &activityLog{},
	}
	h.c = NewController(Config{}, h.platform, h.sink, h.activity, b, nil)
	h.c.sched = h.sched
	return h
}

func (h *harness) seconds(n int) {
	for range n {
		h.sched.fire(elapsedInterval)
	}
}

// assertReleased checks the cleanup contract after any path into Stopped.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if got := h.c.Phase(); got != Idle {
		t.Errorf("phase = %s, want IDLE", got)
	}
	for i, s := range h.platform.streams {
		if s.ActiveTracks() != 0 {
			t.Errorf("stream %d has %d active tracks", i, s.ActiveTracks())
		}
	}
	if n := h.sched.active(); n != 0 {
		t.Errorf("%d tickers still running", n)
	}
	if w := h.c.Waveform(); len(w) != 0 {
		t.Errorf("waveform not cleared: %v", w)
	}
	if h.c.Elapsed() != 0 {
		t.Errorf("elapsed = %d, want 0", h.c.Elapsed())
	}
}

func TestCodecNegotiation(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.PressStart(context.Background(), Point{}); err != nil {
		t.Fatal(err)
	}
	if got := h.platform.encoders[0].mime; got != "audio/ogg;codecs=opus" {
		t.Errorf("negotiated %q, want first supported preference", got)
	}
	_ = h.c.Cancel()

	h.platform.supported = nil
	if err := h.c.PressStart(context.Background(), Point{}); err != nil {
		t.Fatal(err)
	}
	if got := h.platform.encoders[1].mime; got != "audio/platform-default" {
		t.Errorf("negotiated %q, want platform default", got)
	}
	_ = h.c.Cancel()
}

// TestLockThenStop walks a press, an upward drag past the lock threshold,
// a release that must not end the session, and an explicit stop at 5s.
func TestLockThenStop(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.PressStart(context.Background(), Point{X: 100, Y: 100}); err != nil {
		t.Fatal(err)
	}
	h.c.Move(Point{X: 100, Y: 30})
	if got := h.c.Phase(); got != Locked {
		t.Fatalf("phase after dy=-70 = %s, want LOCKED", got)
	}
	if h.platform.pulses != 1 {
		t.Errorf("haptic pulses = %d, want 1", h.platform.pulses)
	}

	h.c.Release()
	if got := h.c.Phase(); got != Locked {
		t.Fatalf("phase after release while locked = %s, want LOCKED", got)
	}
	if h.c.ActiveTracks() != 1 {
		t.Error("release while locked stopped capture")
	}

	h.seconds(5)
	if err := h.c.Stop(); err != nil {
		t.Fatal(err)
	}

	if len(h.sink.recs) != 1 {
		t.Fatalf("sink received %d recordings, want 1", len(h.sink.recs))
	}
	rec := h.sink.recs[0]
	if rec.Seconds != 5 {
		t.Errorf("seconds = %d, want 5", rec.Seconds)
	}
	if string(rec.Blob) != "headtail" || rec.MIME != "audio/ogg;codecs=opus" {
		t.Errorf("recording = %q %q", rec.Blob, rec.MIME)
	}
	h.assertReleased(t)
}

// TestSlideToCancel drags left past the cancel threshold and releases.
func TestSlideToCancel(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.PressStart(context.Background(), Point{X: 100, Y: 100}); err != nil {
		t.Fatal(err)
	}
	h.seconds(2)
	h.c.Move(Point{X: 10, Y: 100})
	if got := h.c.Phase(); got != Cancelling {
		t.Fatalf("phase after dx=-90 = %s, want CANCELLING", got)
	}
	h.c.Release()

	if len(h.sink.recs) != 0 {
		t.Errorf("sink received %d recordings, want none", len(h.sink.recs))
	}
	h.assertReleased(t)
}

func TestCancelIsReversible(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{X: 100, Y: 100})
	h.c.Move(Point{X: 0, Y: 100})
	if h.c.Phase() != Cancelling {
		t.Fatalf("phase = %s, want CANCELLING", h.c.Phase())
	}
	h.c.Move(Point{X: 80, Y: 100})
	if h.c.Phase() != Holding {
		t.Fatalf("phase after sliding back = %s, want HOLDING", h.c.Phase())
	}
	h.seconds(3)
	h.c.Release()
	if len(h.sink.recs) != 1 || h.sink.recs[0].Seconds != 3 {
		t.Errorf("recs = %+v, want one 3s recording", h.sink.recs)
	}
}

func TestLockLatchIgnoresCancelDeltas(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{X: 100, Y: 100})
	h.c.Move(Point{X: 100, Y: 20})
	h.c.Move(Point{X: -200, Y: 100})
	h.c.Move(Point{X: -200, Y: 300})
	if got := h.c.Phase(); got != Locked {
		t.Errorf("phase = %s, want LOCKED to latch", got)
	}
	_ = h.c.Cancel()
	h.assertReleased(t)
}

func TestLockWinsOverCancel(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{X: 100, Y: 100})
	h.c.Move(Point{X: 0, Y: 0})
	if got := h.c.Phase(); got != Locked {
		t.Errorf("phase = %s, want LOCKED when both thresholds are crossed", got)
	}
	_ = h.c.Cancel()
}

func TestShortReleaseNotUploaded(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{})
	h.c.Release()
	if len(h.sink.recs) != 0 {
		t.Errorf("sub-second press uploaded %d recordings", len(h.sink.recs))
	}
	h.assertReleased(t)
}

func TestStopClampsToOneSecond(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{})
	h.c.Move(Point{Y: -100})
	if err := h.c.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(h.sink.recs) != 1 || h.sink.recs[0].Seconds != 1 {
		t.Errorf("recs = %+v, want one recording clamped to 1s", h.sink.recs)
	}
}

// TestAutoStopAtMaxDuration verifies the session finalizes exactly once at
// 60s with no release, even while locked.
func TestAutoStopAtMaxDuration(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("voice.phase", 64)
	defer unsub()

	h := newHarness(t, b)
	_ = h.c.PressStart(context.Background(), Point{})
	h.c.Move(Point{Y: -61})

	h.seconds(59)
	if h.c.Phase() != Locked {
		t.Fatalf("phase at 59s = %s, want LOCKED", h.c.Phase())
	}
	h.seconds(1)
	h.seconds(5)

	if len(h.sink.recs) != 1 {
		t.Fatalf("sink received %d recordings, want exactly 1", len(h.sink.recs))
	}
	if h.sink.recs[0].Seconds != 60 {
		t.Errorf("seconds = %d, want 60", h.sink.recs[0].Seconds)
	}
	h.assertReleased(t)

	stops := 0
	for len(ch) > 0 {
		if evt := <-ch; evt.Payload.(PhaseChange).To == Stopped {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("entered STOPPED %d times, want 1", stops)
	}
}

func TestPressStartRefusedUnlessIdle(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.PressStart(context.Background(), Point{}); err != nil {
		t.Fatal(err)
	}
	if err := h.c.PressStart(context.Background(), Point{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second PressStart error = %v, want ErrBusy", err)
	}
	if len(h.platform.streams) != 1 {
		t.Errorf("opened %d streams, want 1", len(h.platform.streams))
	}
	_ = h.c.Cancel()
}

func TestPermissionDeniedLeavesNoState(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.openErr = &PermissionError{Device: "default", Err: os.ErrPermission}

	err := h.c.PressStart(context.Background(), Point{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	var pe *PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *PermissionError", err)
	}
	if h.c.Phase() != Idle {
		t.Errorf("phase = %s, want IDLE", h.c.Phase())
	}
	if h.sched.active() != 0 {
		t.Error("tickers started despite permission failure")
	}
	if len(h.activity.events) != 0 {
		t.Error("recording start reported despite permission failure")
	}
}

func TestStopAndCancelWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop error = %v", err)
	}
	if err := h.c.Cancel(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Cancel error = %v", err)
	}
	h.c.Release()
	h.c.Move(Point{X: -500})
	if h.c.Phase() != Idle {
		t.Errorf("phase = %s, want IDLE", h.c.Phase())
	}
}

// TestEveryStopPathReleases covers each edge into Stopped.
func TestEveryStopPathReleases(t *testing.T) {
	paths := map[string]func(h *harness){
		"release holding":    func(h *harness) { h.seconds(2); h.c.Release() },
		"release cancelling": func(h *harness) { h.c.Move(Point{X: -100}); h.c.Release() },
		"stop locked":        func(h *harness) { h.c.Move(Point{Y: -100}); _ = h.c.Stop() },
		"cancel locked":      func(h *harness) { h.c.Move(Point{Y: -100}); _ = h.c.Cancel() },
		"auto-stop":          func(h *harness) { h.seconds(60) },
		"close mid-gesture":  func(h *harness) { h.c.Move(Point{X: -30}); h.c.Close() },
	}
	for name, run := range paths {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			if err := h.c.PressStart(context.Background(), Point{}); err != nil {
				t.Fatal(err)
			}
			h.sched.fire(waveformInterval)
			if len(h.c.Waveform()) != waveformBars {
				t.Fatalf("waveform bars = %d", len(h.c.Waveform()))
			}
			run(h)
			h.assertReleased(t)

			want := []bool{true, false}
			if len(h.activity.events) != 2 || h.activity.events[0] != want[0] || h.activity.events[1] != want[1] {
				t.Errorf("activity = %v, want %v", h.activity.events, want)
			}
		})
	}
}

func TestCloseRefusesNewSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Close()
	if err := h.c.PressStart(context.Background(), Point{}); !errors.Is(err, ErrClosed) {
		t.Errorf("PressStart after Close = %v, want ErrClosed", err)
	}
}

// TestStaleTickIgnored makes sure a tick from a finished session cannot
// advance the next one.
func TestStaleTickIgnored(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.c.PressStart(context.Background(), Point{})
	stale := h.sched.tickers[0]
	_ = h.c.Cancel()

	_ = h.c.PressStart(context.Background(), Point{})
	stale.fn()
	if h.c.Elapsed() != 0 {
		t.Errorf("elapsed = %d after stale tick, want 0", h.c.Elapsed())
	}
	_ = h.c.Cancel()
}

func TestSinkErrorDoesNotWedge(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("upload failed")
	_ = h.c.PressStart(context.Background(), Point{})
	h.seconds(2)
	h.c.Release()
	if h.c.Phase() != Idle {
		t.Fatalf("phase = %s, want IDLE", h.c.Phase())
	}
	if err := h.c.PressStart(context.Background(), Point{}); err != nil {
		t.Errorf("PressStart after failed upload = %v", err)
	}
	_ = h.c.Cancel()
}

func TestFileMicrophone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	clip := make([]byte, 10000)
	for i := range clip {
		clip[i] = byte(i)
	}
	if err := os.WriteFile(path, clip, 0o600); err != nil {
		t.Fatal(err)
	}

	mic := NewFileMicrophone(path)
	mic.Interval = time.Millisecond
	if !mic.Supports("audio/ogg;codecs=opus") || mic.Supports("audio/webm;codecs=opus") {
		t.Error("Supports does not follow the clip extension")
	}

	s, err := OpenSession(context.Background(), mic, DefaultCodecs)
	if err != nil {
		t.Fatal(err)
	}
	if s.MIME() != "audio/ogg;codecs=opus" {
		t.Errorf("MIME = %q", s.MIME())
	}
	if s.ActiveTracks() != 1 {
		t.Errorf("active tracks = %d, want 1", s.ActiveTracks())
	}
	time.Sleep(5 * time.Millisecond)

	blob, err := s.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != len(clip) {
		t.Errorf("blob = %d bytes, want the whole %d byte clip", len(blob), len(clip))
	}
	if s.ActiveTracks() != 0 {
		t.Error("finalize left the stream open")
	}
}

func TestFileMicrophoneMissingSource(t *testing.T) {
	mic := NewFileMicrophone(filepath.Join(t.TempDir(), "missing.webm"))
	_, err := OpenSession(context.Background(), mic, nil)
	if err == nil {
		t.Fatal("expected error for missing clip")
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Error("missing file reported as permission denial")
	}
}
