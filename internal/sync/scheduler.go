// Package sync keeps a room timeline current from two sources, a periodic
// poll and the push channel, both folded in through timeline.Store.Merge.
package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/push"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/timeline"
	"go.uber.org/zap"
)

// Defaults for Config zero values.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultPageSize     = 50
)

// Fetcher pulls a page of messages newer than afterID (nil on first load).
type Fetcher interface {
	FetchMessages(ctx context.Context, roomID int64, afterID *int64, limit int) ([]chat.Message, error)
}

// PresenceSink receives remote typing and recording activity.
type PresenceSink interface {
	Typing(userID int64, name string)
	SetRecording(userID int64, name string, recording bool)
}

// Config tunes the scheduler.
type Config struct {
	PollInterval time.Duration
	PageSize     int
	// PushSilenceRearm re-enables polling after this long without any push
	// traffic, or at once when the push connection drops. Zero disables it:
	// once push is active polling stays off.
	PushSilenceRearm time.Duration
}

// Scheduler owns the poll worker and routes push events. A single loop
// goroutine applies every poll result and push event, so sync-originated
// timeline mutations never race each other.
type Scheduler struct {
	cfg      Config
	api      Fetcher
	timeline *timeline.Store
	presence PresenceSink
	status   *status.Machine
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	pushActive atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewScheduler creates a scheduler for the room of tl. Push events arrive on
// b; a nil b gets a private bus, leaving the scheduler poll-only.
func NewScheduler(cfg Config, api Fetcher, tl *timeline.Store, presence PresenceSink, st *status.Machine,
	b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	if st == nil {
		st = status.NewMachine(b)
	}
	return &Scheduler{
		cfg:      cfg,
		api:      api,
		timeline: tl,
		presence: presence,
		status:   st,
		bus:      b,
		metrics:  m,
		logger:   logger.With(zap.Int64("room_id", tl.RoomID())),
	}
}

// PushActive reports whether push has taken over from polling.
func (s *Scheduler) PushActive() bool {
	return s.pushActive.Load()
}

// Status returns the current sync mode.
func (s *Scheduler) Status() status.State {
	return s.status.Current()
}

// Start subscribes to push events and begins polling with an immediate
// first fetch. Once push is active it is the only source of new messages,
// so the subscription is reliable: a burst waits for the loop instead of
// being dropped.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	events, unsub := s.bus.SubscribeReliable("push.", 256)

	s.transition(status.Polling)
	go s.run(ctx, events, unsub)
}

// Stop cancels the poll interval and waits for the loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	if s.status.Current() != status.Stopped {
		s.transition(status.Stopped)
	}
}

type fetchResult struct {
	msgs []chat.Message
	err  error
	took time.Duration
}

func (s *Scheduler) run(ctx context.Context, events <-chan bus.Event, unsub func()) {
	defer close(s.done)
	defer unsub()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	tick := ticker.C

	var silence *time.Timer
	var silenceC <-chan time.Time
	defer func() {
		if silence != nil {
			silence.Stop()
		}
	}()

	// Buffered so an abandoned fetch never blocks after the loop exits.
	results := make(chan fetchResult, 1)
	inFlight := false

	poll := func() {
		if inFlight || s.pushActive.Load() {
			return
		}
		inFlight = true
		var afterID *int64
		if c, ok := s.timeline.Cursor(); ok {
			afterID = &c
		}
		go func() {
			start := time.Now()
			msgs, err := s.api.FetchMessages(ctx, s.timeline.RoomID(), afterID, s.cfg.PageSize)
			results <- fetchResult{msgs: msgs, err: err, took: time.Since(start)}
		}()
	}

	rearm := func(reason string) {
		if !s.pushActive.CompareAndSwap(true, false) {
			return
		}
		s.logger.Info("re-arming poll worker", zap.String("reason", reason))
		s.transition(status.Polling)
		ticker.Reset(s.cfg.PollInterval)
		tick = ticker.C
		if silence != nil {
			silence.Stop()
		}
		silenceC = nil
		poll()
	}

	poll()
	for {
		select {
		case <-tick:
			poll()

		case r := <-results:
			inFlight = false
			s.metrics.ObservePoll(r.took, r.err)
			if r.err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("poll failed, retrying next tick", zap.Error(r.err))
				}
				continue
			}
			if len(r.msgs) > 0 {
				change := s.timeline.Merge(r.msgs...)
				s.metrics.Merged(len(change.Applied), change.Len)
			}

		case evt := <-events:
			if s.handlePush(evt) {
				ticker.Stop()
				tick = nil
				if s.cfg.PushSilenceRearm > 0 {
					silence = time.NewTimer(s.cfg.PushSilenceRearm)
					silenceC = silence.C
				}
			} else if silenceC != nil && evt.Kind != bus.PushDisconnected {
				silence.Reset(s.cfg.PushSilenceRearm)
			}
			if evt.Kind == bus.PushDisconnected && s.cfg.PushSilenceRearm > 0 {
				rearm("push disconnected")
			}

		case <-silenceC:
			rearm("push silent")

		case <-ctx.Done():
			return
		}
	}
}

// handlePush applies one push event and reports whether it flipped the
// scheduler into push mode.
func (s *Scheduler) handlePush(evt bus.Event) bool {
	s.metrics.PushEvent(evt.Kind)

	switch evt.Kind {
	case bus.PushMessageCreated:
		p, ok := evt.Payload.(push.MessageCreated)
		if !ok {
			return false
		}
		change := s.timeline.Merge(p.Message)
		s.metrics.Merged(len(change.Applied), change.Len)
		if s.pushActive.CompareAndSwap(false, true) {
			s.logger.Info("push channel active, poll worker stopped")
			s.transition(status.PushActive)
			return true
		}

	case bus.PushMessageDeleted:
		p, ok := evt.Payload.(push.MessageDeleted)
		if !ok {
			return false
		}
		if s.timeline.Delete(p.MessageID) {
			s.metrics.TimelineSize(s.timeline.Len())
		}

	case bus.PushUserTyping:
		p, ok := evt.Payload.(push.UserTyping)
		if ok && s.presence != nil {
			s.presence.Typing(p.UserID, p.UserName)
		}

	case bus.PushUserRecording:
		p, ok := evt.Payload.(push.UserRecording)
		if ok && s.presence != nil {
			s.presence.SetRecording(p.UserID, p.UserName, p.IsRecording)
		}

	case bus.PushDisconnected:
		s.logger.Warn("push channel disconnected")
	}
	return false
}

func (s *Scheduler) transition(to status.State) {
	if err := s.status.Transition(to); err != nil {
		s.logger.Warn("sync status transition rejected", zap.Error(err))
		return
	}
	s.metrics.SyncMode(string(to), string(status.Polling), string(status.PushActive), string(status.Stopped))
}
