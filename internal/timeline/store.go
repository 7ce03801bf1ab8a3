// Package timeline holds the ordered, deduplicated message list of one room.
package timeline

import (
	"cmp"
	"slices"
	"sync"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

// Change is the payload of timeline.merged events.
type Change struct {
	RoomID    int64
	Applied   []chat.Message
	Cursor    int64
	HasCursor bool
	Len       int
}

// Removal is the payload of timeline.deleted and timeline.removed events.
type Removal struct {
	RoomID int64
	ID     int64
}

// Replacement is the payload of timeline.replaced events.
type Replacement struct {
	RoomID  int64
	TempID  int64
	Message chat.Message
}

// Store is the room timeline: strictly ascending by id, no duplicate ids,
// with a cursor holding the highest positive id ever merged.
// Every mutation is atomic with respect to the others, and its event is
// published before the next mutation starts.
type Store struct {
	seq       sync.Mutex // held across a mutation and its event
	mu        sync.Mutex
	roomID    int64
	msgs      []chat.Message
	cursor    int64
	hasCursor bool
	bus       *bus.Bus
}

// New creates an empty timeline for roomID. b may be nil.
func New(roomID int64, b *bus.Bus) *Store {
	return &Store{roomID: roomID, bus: b}
}

// RoomID returns the room this timeline belongs to.
func (s *Store) RoomID() int64 {
	return s.roomID
}

// Merge folds incoming into the timeline. For the same id the later write
// wins, whole message replaced. Merge is idempotent and commutative up to
// that rule. Messages addressed to another room are ignored.
func (s *Store) Merge(incoming ...chat.Message) Change {
	s.seq.Lock()
	defer s.seq.Unlock()
	s.mu.Lock()
	change := s.mergeLocked(incoming)
	s.mu.Unlock()

	if len(change.Applied) > 0 {
		s.bus.Emit(bus.TimelineMerged, change)
	}
	return change
}

func (s *Store) mergeLocked(incoming []chat.Message) Change {
	var applied []chat.Message
	for _, m := range incoming {
		if m.RoomID != 0 && m.RoomID != s.roomID {
			continue
		}
		if m.RoomID == 0 {
			m.RoomID = s.roomID
		}
		if i, found := s.searchLocked(m.ID); found {
			s.msgs[i] = m
		} else {
			s.msgs = slices.Insert(s.msgs, i, m)
		}
		applied = append(applied, m)
		if m.ID > 0 && (!s.hasCursor || m.ID > s.cursor) {
			s.cursor = m.ID
			s.hasCursor = true
		}
	}

	return Change{
		RoomID:    s.roomID,
		Applied:   applied,
		Cursor:    s.cursor,
		HasCursor: s.hasCursor,
		Len:       len(s.msgs),
	}
}

// Delete removes the message with the given id in response to a deletion
// event. It reports whether an entry was removed. The cursor is unaffected.
func (s *Store) Delete(id int64) bool {
	s.seq.Lock()
	defer s.seq.Unlock()
	if !s.remove(id) {
		return false
	}
	s.bus.Emit(bus.TimelineDeleted, Removal{RoomID: s.roomID, ID: id})
	return true
}

// Remove drops an optimistic entry whose upload failed.
func (s *Store) Remove(tempID int64) bool {
	s.seq.Lock()
	defer s.seq.Unlock()
	if !s.remove(tempID) {
		return false
	}
	s.bus.Emit(bus.TimelineRemoved, Removal{RoomID: s.roomID, ID: tempID})
	return true
}

func (s *Store) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs = slices.Delete(s.msgs, i, i+1)
	return true
}

// Replace swaps the optimistic entry tempID for the server-confirmed
// message in one step. If tempID is already gone the confirmed message is
// still merged.
func (s *Store) Replace(tempID int64, confirmed chat.Message) Change {
	s.seq.Lock()
	defer s.seq.Unlock()
	s.mu.Lock()
	if i := s.indexLocked(tempID); i >= 0 {
		s.msgs = slices.Delete(s.msgs, i, i+1)
	}
	change := s.mergeLocked([]chat.Message{confirmed})
	s.mu.Unlock()

	s.bus.Emit(bus.TimelineReplaced, Replacement{RoomID: s.roomID, TempID: tempID, Message: confirmed})
	return change
}

// searchLocked binary-searches the sorted slice for id, returning its
// position or the insertion point. Caller holds s.mu.
func (s *Store) searchLocked(id int64) (int, bool) {
	return slices.BinarySearchFunc(s.msgs, id, func(m chat.Message, id int64) int {
		return cmp.Compare(m.ID, id)
	})
}

func (s *Store) indexLocked(id int64) int {
	i, found := s.searchLocked(id)
	if !found {
		return -1
	}
	return i
}

// Cursor returns the highest positive id ever merged and whether one exists.
func (s *Store) Cursor() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor
}

// AdvanceCursor raises the cursor to at least c, as when resuming from a
// checkpoint. It never lowers it.
func (s *Store) AdvanceCursor(c int64) {
	if c <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCursor || c > s.cursor {
		s.cursor = c
		s.hasCursor = true
	}
}

// Messages returns a snapshot of the timeline in display order.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// Get returns the message with the given id.
func (s *Store) Get(id int64) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return chat.Message{}, false
	}
	return s.msgs[i], true
}

// Len returns the number of displayed messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Pending returns the ids of optimistic entries still awaiting resolution.
func (s *Store) Pending() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, m := range s.msgs {
		if m.ID >= 0 {
			break
		}
		ids = append(ids, m.ID)
	}
	return ids
}
