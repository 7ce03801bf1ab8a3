package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/store"
	"github.com/matheus3301/roomsync/internal/timeline"
	"go.uber.org/zap"
)

// Journal mirrors confirmed timeline mutations into the sqlite cache so a
// restarted room can show history and resume from its cursor checkpoint.
// It subscribes to "timeline." events on the bus.
type Journal struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJournal creates a new journal. A nil b gets a private bus, on which
// nothing is journaled.
func NewJournal(db *store.DB, b *bus.Bus, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Journal{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Warm loads up to limit cached messages and the cursor checkpoint into tl.
// Call it before Start so the warm-up is not journaled back.
func (j *Journal) Warm(tl *timeline.Store, limit int) (int, error) {
	msgs, err := j.db.ListMessages(tl.RoomID(), limit)
	if err != nil {
		return 0, fmt.Errorf("load cached messages: %w", err)
	}
	if len(msgs) > 0 {
		tl.Merge(msgs...)
	}
	cursor, ok, err := j.db.LoadCursor(tl.RoomID())
	if err != nil {
		return len(msgs), fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		tl.AdvanceCursor(cursor)
	}
	return len(msgs), nil
}

// Start subscribes to timeline events on the bus. The subscription is
// reliable: a dropped merge would leave a gap behind a later cursor.
func (j *Journal) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	ch, unsub := j.bus.SubscribeReliable("timeline.", 256)

	go func() {
		defer close(j.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				j.handleEvent(evt)
			case <-ctx.Done():
				// Flush what is already buffered before exiting.
				for {
					select {
					case evt := <-ch:
						j.handleEvent(evt)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop flushes buffered events and stops the journal.
func (j *Journal) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Journal) handleEvent(evt bus.Event) {
	if err := j.apply(evt); err != nil {
		j.logger.Error("failed to journal timeline event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (j *Journal) apply(evt bus.Event) error {
	switch evt.Kind {
	case bus.TimelineMerged:
		change, ok := evt.Payload.(timeline.Change)
		if !ok {
			return nil
		}
		if _, err := j.db.UpsertMessages(change.Applied); err != nil {
			return err
		}
		if change.HasCursor {
			return j.db.SaveCursor(change.RoomID, change.Cursor)
		}
	case bus.TimelineReplaced:
		r, ok := evt.Payload.(timeline.Replacement)
		if !ok {
			return nil
		}
		m := r.Message
		if m.RoomID == 0 {
			m.RoomID = r.RoomID
		}
		if m.RoomID != r.RoomID || m.ID <= 0 {
			return nil
		}
		if _, err := j.db.UpsertMessages([]chat.Message{m}); err != nil {
			return err
		}
		return j.db.SaveCursor(r.RoomID, m.ID)
	case bus.TimelineDeleted:
		rm, ok := evt.Payload.(timeline.Removal)
		if !ok {
			return nil
		}
		return j.db.DeleteMessage(rm.RoomID, rm.ID)
	}
	return nil
}
