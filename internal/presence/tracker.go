// Package presence tracks which room members are typing or recording and
// reports the local user's own activity to the backend.
package presence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"go.uber.org/zap"
)

// Kind selects one of the two presence maps.
type Kind string

const (
	Typing    Kind = "typing"
	Recording Kind = "recording"
)

// Default TTLs and sweep period.
const (
	DefaultTypingTTL     = 4 * time.Second
	DefaultRecordingTTL  = 65 * time.Second
	DefaultSweepInterval = time.Second
)

// Snapshot is the payload of presence.changed events.
type Snapshot struct {
	Typing    []chat.PresenceEntry
	Recording []chat.PresenceEntry
}

// Config tunes a Tracker. Zero durations take the defaults.
type Config struct {
	SelfID        int64
	TypingTTL     time.Duration
	RecordingTTL  time.Duration
	SweepInterval time.Duration
}

// Tracker holds two TTL maps keyed by user id. Sweeps are linear scans,
// sized for rooms with tens of concurrent members.
type Tracker struct {
	mu        sync.Mutex
	selfID    int64
	typing    map[int64]chat.PresenceEntry
	recording map[int64]chat.PresenceEntry

	typingTTL     time.Duration
	recordingTTL  time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config, b *bus.Bus, logger *zap.Logger) *Tracker {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	if cfg.RecordingTTL <= 0 {
		cfg.RecordingTTL = DefaultRecordingTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		selfID:        cfg.SelfID,
		typing:        make(map[int64]chat.PresenceEntry),
		recording:     make(map[int64]chat.PresenceEntry),
		typingTTL:     cfg.TypingTTL,
		recordingTTL:  cfg.RecordingTTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		bus:           b,
		logger:        logger,
	}
}

// Typing records that userID is typing. Self-originated events are ignored.
func (t *Tracker) Typing(userID int64, name string) {
	t.upsert(Typing, userID, name)
}

// SetRecording records the start or end of a remote recording. An end
// removes the entry immediately rather than waiting for the TTL.
func (t *Tracker) SetRecording(userID int64, name string, recording bool) {
	if recording {
		t.upsert(Recording, userID, name)
		return
	}
	if userID == t.selfID {
		return
	}
	t.mu.Lock()
	_, had := t.recording[userID]
	delete(t.recording, userID)
	var snap Snapshot
	if had {
		snap = t.snapshotLocked(t.now())
	}
	t.mu.Unlock()
	if had {
		t.bus.Emit(bus.PresenceChanged, snap)
	}
}

func (t *Tracker) upsert(kind Kind, userID int64, name string) {
	if userID == t.selfID {
		return
	}
	now := t.now()

	t.mu.Lock()
	m, ttl := t.typing, t.typingTTL
	if kind == Recording {
		m, ttl = t.recording, t.recordingTTL
	}
	prev, had := m[userID]
	m[userID] = chat.PresenceEntry{UserID: userID, DisplayName: name, ExpiresAt: now.Add(ttl)}
	// A refresh only moves the expiry; the rendered list is unchanged.
	changed := !had || prev.Expired(now) || prev.DisplayName != name
	var snap Snapshot
	if changed {
		snap = t.snapshotLocked(now)
	}
	t.mu.Unlock()

	if changed {
		t.bus.Emit(bus.PresenceChanged, snap)
	}
}

// Sweep evicts every entry with expires_at < now and reports whether either
// map changed. presence.changed is published only when something was evicted.
func (t *Tracker) Sweep(now time.Time) bool {
	t.mu.Lock()
	evicted := evict(t.typing, now) + evict(t.recording, now)
	var snap Snapshot
	if evicted > 0 {
		snap = t.snapshotLocked(now)
	}
	t.mu.Unlock()

	if evicted == 0 {
		return false
	}
	t.logger.Debug("presence swept", zap.Int("evicted", evicted))
	t.bus.Emit(bus.PresenceChanged, snap)
	return true
}

func evict(m map[int64]chat.PresenceEntry, now time.Time) int {
	n := 0
	for id, e := range m {
		if e.Expired(now) {
			delete(m, id)
			n++
		}
	}
	return n
}

// Active lists the non-expired entries of one map ordered by display name.
func (t *Tracker) Active(kind Kind) []chat.PresenceEntry {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == Recording {
		return active(t.recording, now)
	}
	return active(t.typing, now)
}

func (t *Tracker) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{Typing: active(t.typing, now), Recording: active(t.recording, now)}
}

func active(m map[int64]chat.PresenceEntry, now time.Time) []chat.PresenceEntry {
	out := make([]chat.PresenceEntry, 0, len(m))
	for _, e := range m {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b chat.PresenceEntry) int {
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out
}

// Start runs the periodic sweep until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep(t.now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sweep timer and waits for it to exit.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}
