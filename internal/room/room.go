// Package room assembles the components of one joined room and owns their
// lifecycle. Open starts them; Close tears each one down explicitly.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/composer"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/push"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/store"
	roomsync "github.com/matheus3301/roomsync/internal/sync"
	"github.com/matheus3301/roomsync/internal/timeline"
	"github.com/matheus3301/roomsync/internal/voice"
	"go.uber.org/zap"
)

// ErrOpened is returned by Open on a room that was already opened.
var ErrOpened = errors.New("room already opened")

// API is the room REST surface every component shares.
type API interface {
	roomsync.Fetcher
	composer.API
	presence.Reporter
}

// Subscriber opens the room's push channel.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID int64) (*push.Subscription, error)
}

// Config carries the per-component settings of one room.
type Config struct {
	RoomID         int64
	Self           composer.Author
	Sync           roomsync.Config
	Presence       presence.Config
	TypingThrottle time.Duration
	Voice          voice.Config
	Limits         composer.Limits
	PreviewDir     string

	// WarmLimit caps how many cached messages are loaded on Open.
	WarmLimit int
}

// ConfigFromProfile maps a loaded profile onto a room Config.
func ConfigFromProfile(p *config.Profile, previewDir string) Config {
	self := composer.Author{ID: p.Server.UserID, Name: p.Server.UserName}
	return Config{
		RoomID: p.Room.ID,
		Self:   self,
		Sync: roomsync.Config{
			PollInterval:     p.Sync.PollInterval.Duration,
			PageSize:         p.Sync.PageSize,
			PushSilenceRearm: p.Sync.PushSilenceRearm.Duration,
		},
		Presence: presence.Config{
			SelfID:        self.ID,
			TypingTTL:     p.Presence.TypingTTL.Duration,
			RecordingTTL:  p.Presence.RecordingTTL.Duration,
			SweepInterval: p.Presence.SweepInterval.Duration,
		},
		TypingThrottle: p.Presence.TypingThrottle.Duration,
		Voice: voice.Config{
			CancelThreshold: p.Voice.CancelThreshold,
			LockThreshold:   p.Voice.LockThreshold,
			MaxDuration:     p.Voice.MaxDuration.Duration,
			MinDuration:     p.Voice.MinDuration.Duration,
			Codecs:          p.Voice.Codecs,
		},
		Limits: composer.Limits{
			MaxImageBytes:    p.Composer.MaxImageBytes,
			MaxVideoBytes:    p.Composer.MaxVideoBytes,
			MaxVideoDuration: p.Composer.MaxVideoDuration.Duration,
		},
		PreviewDir: previewDir,
		WarmLimit:  p.Sync.PageSize * 4,
	}
}

// Deps are the shared clients a room is built from. Push, DB and
// Microphone are optional: without them the room polls only, keeps no
// cache and cannot record.
type Deps struct {
	API        API
	Push       Subscriber
	DB         *store.DB
	Microphone voice.Platform
	Bus        *bus.Bus
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Room is one joined room.
type Room struct {
	id         int64
	bus        *bus.Bus
	subscriber Subscriber
	metrics    *metrics.Metrics
	logger     *zap.Logger
	warmSize   int

	timeline  *timeline.Store
	status    *status.Machine
	scheduler *roomsync.Scheduler
	tracker   *presence.Tracker
	emitter   *presence.Emitter
	composer  *composer.Composer
	voice     *voice.Controller
	journal   *roomsync.Journal

	mu     sync.Mutex
	opened bool
	closed bool
	sub    *push.Subscription
	cancel context.CancelFunc
	relay  chan struct{}
}

// New wires the components of one room. Nothing runs until Open.
func New(cfg Config, d Deps) *Room {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = bus.New()
	}
	logger := d.Logger.With(zap.Int64("room_id", cfg.RoomID))
	cfg.Presence.SelfID = cfg.Self.ID

	tl := timeline.New(cfg.RoomID, d.Bus)
	st := status.NewMachine(d.Bus)
	tracker := presence.NewTracker(cfg.Presence, d.Bus, logger.Named("presence"))
	emitter := presence.NewEmitter(d.API, cfg.RoomID, cfg.TypingThrottle, logger.Named("presence"))
	comp := composer.New(d.API, tl, composer.Options{
		Author:     cfg.Self,
		Limits:     cfg.Limits,
		PreviewDir: cfg.PreviewDir,
		Bus:        d.Bus,
		Metrics:    d.Metrics,
		Logger:     logger.Named("composer"),
	})

	r := &Room{
		id:         cfg.RoomID,
		bus:        d.Bus,
		subscriber: d.Push,
		metrics:    d.Metrics,
		logger:     logger,
		warmSize:   cfg.WarmLimit,
		timeline:   tl,
		status:     st,
		scheduler:  roomsync.NewScheduler(cfg.Sync, d.API, tl, tracker, st, d.Bus, d.Metrics, logger.Named("sync")),
		tracker:    tracker,
		emitter:    emitter,
		composer:   comp,
	}
	if d.Microphone != nil {
		r.voice = voice.NewController(cfg.Voice, d.Microphone, comp, emitter, d.Bus, logger.Named("voice"))
	}
	if d.DB != nil {
		r.journal = roomsync.NewJournal(d.DB, d.Bus, logger.Named("journal"))
	}
	return r
}

// ID returns the room id.
func (r *Room) ID() int64 { return r.id }

// Bus returns the event bus every component publishes on.
func (r *Room) Bus() *bus.Bus { return r.bus }

// Timeline returns the displayed message list.
func (r *Room) Timeline() *timeline.Store { return r.timeline }

// Presence returns the remote typing and recording tracker.
func (r *Room) Presence() *presence.Tracker { return r.tracker }

// Composer returns the outbound message pipeline.
func (r *Room) Composer() *composer.Composer { return r.composer }

// Voice returns the voice capture controller, or nil without a microphone.
func (r *Room) Voice() *voice.Controller { return r.voice }

// Status returns the current sync mode.
func (r *Room) Status() status.State { return r.status.Current() }

// PushActive reports whether push has taken over from polling.
func (r *Room) PushActive() bool { return r.scheduler.PushActive() }

// Typing reports a local keystroke, throttled.
func (r *Room) Typing(ctx context.Context) bool { return r.emitter.Typing(ctx) }

// Open warms the timeline from the cache, then starts the journal, the
// poll worker, the presence sweep and the push subscription. A failed push
// subscription is logged and the room keeps polling.
func (r *Room) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return ErrOpened
	}
	r.opened = true

	ctx, r.cancel = context.WithCancel(ctx)

	if r.journal != nil {
		n, err := r.journal.Warm(r.timeline, r.warmSize)
		if err != nil {
			r.cancel()
			r.opened = false
			return fmt.Errorf("warm timeline: %w", err)
		}
		r.logger.Info("timeline warmed from cache", zap.Int("messages", n))
		r.journal.Start(ctx)
	}

	r.relay = make(chan struct{})
	go r.relayMetrics(ctx, r.relay)

	r.scheduler.Start(ctx)
	r.tracker.Start(ctx)

	if r.subscriber != nil {
		sub, err := r.subscriber.Subscribe(ctx, r.id)
		if err != nil {
			r.logger.Warn("push unavailable, polling only", zap.Error(err))
		} else {
			r.sub = sub
		}
	}
	r.logger.Info("room opened")
	return nil
}

// Close stops the poll worker, the presence sweep, any voice session and
// the push subscription, in that order, then drains the journal. It is
// safe to call more than once.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.opened {
		r.scheduler.Stop()
		r.tracker.Stop()
	}
	if r.voice != nil {
		r.voice.Close()
	}
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe push: %w", err))
		}
	}
	if r.opened {
		if r.journal != nil {
			r.journal.Stop()
		}
		r.cancel()
		<-r.relay
	}
	r.logger.Info("room closed")
	return errors.Join(errs...)
}

// relayMetrics mirrors presence snapshots into the presence gauges.
func (r *Room) relayMetrics(ctx context.Context, done chan struct{}) {
	defer close(done)
	events, unsub := r.bus.Subscribe(bus.PresenceChanged, 16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			snap, ok := evt.Payload.(presence.Snapshot)
			if !ok {
				continue
			}
			r.metrics.Presence(string(presence.Typing), len(snap.Typing))
			r.metrics.Presence(string(presence.Recording), len(snap.Recording))
		}
	}
}
