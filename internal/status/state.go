package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/babelbye/bbchat/internal/bus"
)

// State represents the transport session lifecycle state.
type State string

const (
	Offline    State = "OFFLINE"
	Connecting State = "CONNECTING"
	Online     State = "ONLINE"
	Closed     State = "CLOSED"
	Error      State = "ERROR"
)

// validTransitions defines allowed state transitions. There is no automatic
// reconnect: leaving Closed or Error requires an explicit open.
var validTransitions = map[State][]State{
	Offline:    {Connecting},
	Connecting: {Online, Closed, Error},
	Online:     {Closed, Error},
	Closed:     {Connecting},
	Error:      {Connecting},
}

// Machine tracks and enforces transport lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Offline state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Offline,
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
	m.bus.Emit(bus.KindTransportStatus, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
