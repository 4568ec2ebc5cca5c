package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"rentsync/internal/bus"
)

// State represents a channel connection lifecycle state.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closing    State = "CLOSING"
	Closed     State = "CLOSED"
)

// validTransitions defines allowed state transitions. Idle is both the
// initial state and the terminal state after an explicit disconnect;
// Closed re-enters Connecting through the reconnect policy.
var validTransitions = map[State][]State{
	Idle:       {Connecting},
	Connecting: {Open, Closing, Closed},
	Open:       {Closing, Closed},
	Closing:    {Idle},
	Closed:     {Connecting, Idle},
}

// Machine tracks and enforces connection state transitions for one scope.
type Machine struct {
	mu      sync.RWMutex
	current State
	scope   string
	bus     *bus.Bus
}

// NewMachine creates a state machine for the given scope key,
// starting in Idle.
func NewMachine(b *bus.Bus, scope string) *Machine {
	return &Machine{
		current: Idle,
		scope:   scope,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "channel.status_changed",
			Timestamp: time.Now(),
			Payload: Change{
				Scope: m.scope,
				From:  from,
				To:    to,
			},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	Scope string
	From  State
	To    State
}
