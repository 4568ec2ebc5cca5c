package status

import (
	"testing"

	"rentsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, "listing:42:partner:7")
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Connecting, Open},
		{Connecting, Closed},
		{Connecting, Closing},
		{Open, Closing},
		{Open, Closed},
		{Closing, Idle},
		{Closed, Connecting},
		{Closed, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "s")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil, "s")
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(IDLE -> OPEN) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("channel.", 10)
	defer sub.Close()

	m := NewMachine(b, "user:9")
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-sub.Events()
	if evt.Kind != "channel.status_changed" {
		t.Errorf("event kind = %q, want channel.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.Scope != "user:9" || change.From != Idle || change.To != Connecting {
		t.Errorf("change = %+v, want user:9 IDLE -> CONNECTING", change)
	}
}

// TestExplicitDisconnectLifecycle walks the clean-close path:
// IDLE -> CONNECTING -> OPEN -> CLOSING -> IDLE.
func TestExplicitDisconnectLifecycle(t *testing.T) {
	m := NewMachine(nil, "s")
	for _, s := range []State{Connecting, Open, Closing, Idle} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Idle {
		t.Errorf("final state = %s, want IDLE", m.Current())
	}
}

// TestUncleanCloseReconnectCycle walks the reconnect path:
// OPEN -> CLOSED -> CONNECTING -> OPEN.
func TestUncleanCloseReconnectCycle(t *testing.T) {
	m := NewMachine(nil, "s")
	walkTo(t, m, Open)

	for _, s := range []State{Closed, Connecting, Open} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Open {
		t.Errorf("final state = %s, want OPEN", m.Current())
	}
}

// TestClosedCannotReopenDirectly verifies CLOSED must pass through
// CONNECTING again; there is no shortcut back to OPEN.
func TestClosedCannotReopenDirectly(t *testing.T) {
	m := NewMachine(nil, "s")
	walkTo(t, m, Open)
	if err := m.Transition(Closed); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Open); err == nil {
		t.Fatal("Transition(CLOSED -> OPEN) should fail; must reconnect through CONNECTING")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:       {},
		Connecting: {Connecting},
		Open:       {Connecting, Open},
		Closing:    {Connecting, Open, Closing},
		Closed:     {Connecting, Open, Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
