package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/roomsync/internal/bus"
)

// State represents how the room timeline is currently being kept up to date.
type State string

const (
	Booting    State = "BOOTING"
	Polling    State = "POLLING"
	PushActive State = "PUSH_ACTIVE"
	Stopped    State = "STOPPED"
)

// validTransitions defines allowed state transitions.
// PUSH_ACTIVE -> POLLING is only taken by the push-silence watchdog.
var validTransitions = map[State][]State{
	Booting:    {Polling, Stopped},
	Polling:    {PushActive, Stopped},
	PushActive: {Polling, Stopped},
	Stopped:    {},
}

// Machine tracks and enforces sync mode transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.SyncStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
