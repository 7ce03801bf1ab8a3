package timeline

import (
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

func msg(id int64, content string) chat.Message {
	return chat.Message{ID: id, RoomID: 7, SenderID: 1, Type: chat.Text, Content: content}
}

func assertOrdered(t *testing.T, msgs []chat.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].ID >= msgs[i].ID {
			t.Fatalf("not strictly ascending at %d: %d then %d", i, msgs[i-1].ID, msgs[i].ID)
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := New(7, nil)
	m := msg(10, "hello")

	s.Merge(m) // via poll
	s.Merge(m) // via push

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != 10 {
		t.Errorf("id = %d, want 10", msgs[0].ID)
	}
}

func TestMergeOrdersById(t *testing.T) {
	s := New(7, nil)
	s.Merge(msg(5, "e"), msg(1, "a"))
	s.Merge(msg(3, "c"), msg(9, "i"), msg(1, "a"))

	msgs := s.Messages()
	assertOrdered(t, msgs)
	if len(msgs) != 4 {
		t.Errorf("got %d messages, want 4", len(msgs))
	}
}

// TestMergeOrderingInvariantRandomized merges random batches in random order
// and checks ordering, uniqueness and cursor monotonicity after each step.
func TestMergeOrderingInvariantRandomized(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	s := New(7, nil)
	var lastCursor int64
	seen := map[int64]bool{}

	for round := 0; round < 200; round++ {
		var batch []chat.Message
		for n := r.IntN(6); n >= 0; n-- {
			id := r.Int64N(100) + 1
			seen[id] = true
			batch = append(batch, msg(id, "x"))
		}
		s.Merge(batch...)

		msgs := s.Messages()
		assertOrdered(t, msgs)
		if len(msgs) != len(seen) {
			t.Fatalf("round %d: got %d messages, want %d", round, len(msgs), len(seen))
		}
		cursor, ok := s.Cursor()
		if !ok {
			t.Fatal("cursor missing after merge")
		}
		if cursor < lastCursor {
			t.Fatalf("cursor decreased: %d -> %d", lastCursor, cursor)
		}
		lastCursor = cursor
	}
}

func TestMergeCommutative(t *testing.T) {
	a := []chat.Message{msg(1, "a"), msg(4, "d")}
	b := []chat.Message{msg(2, "b"), msg(3, "c")}

	s1 := New(7, nil)
	s1.Merge(a...)
	s1.Merge(b...)

	s2 := New(7, nil)
	s2.Merge(b...)
	s2.Merge(a...)

	m1, m2 := s1.Messages(), s2.Messages()
	if len(m1) != len(m2) {
		t.Fatalf("lengths differ: %d vs %d", len(m1), len(m2))
	}
	for i := range m1 {
		if m1[i].ID != m2[i].ID || m1[i].Content != m2[i].Content {
			t.Errorf("index %d differs: %+v vs %+v", i, m1[i], m2[i])
		}
	}
	c1, _ := s1.Cursor()
	c2, _ := s2.Cursor()
	if c1 != 4 || c2 != 4 {
		t.Errorf("cursors = %d, %d, want 4", c1, c2)
	}
}

// TestLastWriteWins mirrors two poll ticks returning id=42 followed by a push
// event carrying different content.
func TestLastWriteWins(t *testing.T) {
	s := New(7, nil)
	s.Merge(msg(41, "before"), msg(42, "from poll"))
	s.Merge(msg(42, "from poll"))
	s.Merge(msg(42, "from push"))

	got, ok := s.Get(42)
	if !ok {
		t.Fatal("id 42 missing")
	}
	if got.Content != "from push" {
		t.Errorf("content = %q, want %q", got.Content, "from push")
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestCursorAbsentUntilPositiveMerge(t *testing.T) {
	s := New(7, nil)
	if _, ok := s.Cursor(); ok {
		t.Fatal("fresh store has a cursor")
	}

	s.Merge(msg(-1, "optimistic"))
	if _, ok := s.Cursor(); ok {
		t.Fatal("negative id set the cursor")
	}

	s.Merge(msg(12, "x"))
	s.Merge(msg(3, "late"))
	if c, _ := s.Cursor(); c != 12 {
		t.Errorf("cursor = %d, want 12", c)
	}
}

func TestDeleteKeepsCursor(t *testing.T) {
	s := New(7, nil)
	s.Merge(msg(1, "a"), msg(2, "b"))

	if !s.Delete(2) {
		t.Fatal("Delete(2) = false")
	}
	if s.Delete(2) {
		t.Error("second Delete(2) = true")
	}
	if _, ok := s.Get(2); ok {
		t.Error("id 2 still present")
	}
	if c, _ := s.Cursor(); c != 2 {
		t.Errorf("cursor = %d, want 2 after delete", c)
	}
}

func TestReplaceOptimistic(t *testing.T) {
	s := New(7, nil)
	s.Merge(msg(5, "a"), chat.Message{ID: -1, Type: chat.Image, Preview: "file:///tmp/x.png"})

	if got := s.Pending(); len(got) != 1 || got[0] != -1 {
		t.Fatalf("pending = %v, want [-1]", got)
	}

	s.Replace(-1, chat.Message{ID: 6, RoomID: 7, Type: chat.Image, FileReference: "img/6.png"})

	if len(s.Pending()) != 0 {
		t.Errorf("pending = %v after replace", s.Pending())
	}
	msgs := s.Messages()
	assertOrdered(t, msgs)
	if len(msgs) != 2 || msgs[1].ID != 6 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestRemoveOptimistic(t *testing.T) {
	s := New(7, nil)
	s.Merge(chat.Message{ID: -2, Type: chat.Video})
	if !s.Remove(-2) {
		t.Fatal("Remove(-2) = false")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestMergeIgnoresForeignRoom(t *testing.T) {
	s := New(7, nil)
	change := s.Merge(chat.Message{ID: 3, RoomID: 8}, chat.Message{ID: 4})
	if len(change.Applied) != 1 || change.Applied[0].ID != 4 {
		t.Errorf("applied = %+v, want only id 4", change.Applied)
	}
	if got, _ := s.Get(4); got.RoomID != 7 {
		t.Errorf("room_id = %d, want 7 filled in", got.RoomID)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	s := New(7, b)
	s.Merge(msg(1, "a"))
	s.Merge() // no-op, no event
	s.Delete(1)

	want := []string{bus.TimelineMerged, bus.TimelineDeleted}
	for _, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Errorf("kind = %q, want %q", evt.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestAdvanceCursorNeverLowers(t *testing.T) {
	s := New(7, nil)
	s.AdvanceCursor(0)
	if _, ok := s.Cursor(); ok {
		t.Fatal("AdvanceCursor(0) set a cursor")
	}
	s.AdvanceCursor(50)
	s.Merge(chat.Message{ID: 10})
	s.AdvanceCursor(20)
	if c, _ := s.Cursor(); c != 50 {
		t.Errorf("cursor = %d, want 50", c)
	}
}

func TestMergeBatchWithRepeatedID(t *testing.T) {
	s := New(7, nil)
	s.Merge(msg(5, "old"), msg(2, "b"))
	s.Merge(msg(9, "x"), msg(5, "first"), msg(1, "a"), msg(5, "second"))

	msgs := s.Messages()
	assertOrdered(t, msgs)
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if got, _ := s.Get(5); got.Content != "second" {
		t.Errorf("content = %q, want the last copy in the batch", got.Content)
	}
}

// TestEventsReplayToSameState applies concurrent mutations and replays the
// published events into a plain map. Events must arrive in the order the
// mutations were applied, so the replay ends where the store did.
func TestEventsReplayToSameState(t *testing.T) {
	b := bus.New()
	ch, unsub := b.SubscribeReliable("timeline.", 16)
	s := New(7, b)

	replayed := map[int64]bool{}
	apply := func(evt bus.Event) {
		switch p := evt.Payload.(type) {
		case Change:
			for _, m := range p.Applied {
				replayed[m.ID] = true
			}
		case Replacement:
			delete(replayed, p.TempID)
			replayed[p.Message.ID] = true
		case Removal:
			delete(replayed, p.ID)
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case evt := <-ch:
				apply(evt)
			case <-stop:
				for {
					select {
					case evt := <-ch:
						apply(evt)
					default:
						return
					}
				}
			}
		}
	}()

	const rounds = 200
	var wg sync.WaitGroup
	for i := int64(1); i <= rounds; i++ {
		s.Merge(msg(-i, "pending"))
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Replace(-i, msg(i, "confirmed"))
		}()
		go func() {
			defer wg.Done()
			s.Delete(i)
		}()
	}
	wg.Wait()
	// Every publish has returned, so the rest of the stream is buffered.
	close(stop)
	<-done
	unsub()

	var got []int64
	for id := range replayed {
		got = append(got, id)
	}
	slices.Sort(got)
	var want []int64
	for _, m := range s.Messages() {
		want = append(want, m.ID)
	}
	if !slices.Equal(got, want) {
		t.Errorf("replayed ids %v, store holds %v", got, want)
	}
}
