package status

import (
	"errors"
	"testing"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Offline {
		t.Errorf("initial state = %s, want OFFLINE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Offline, Connecting},
		{Connecting, Online},
		{Connecting, Error},
		{Connecting, Closed},
		{Online, Closed},
		{Online, Error},
		{Closed, Connecting},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
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

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Offline, Online},
		{Offline, Closed},
		{Online, Connecting},
		{Closed, Online},
		{Error, Online},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

// TestClosedDoesNotReconnect verifies a dropped session stays down until an
// explicit open moves it back to CONNECTING.
func TestClosedDoesNotReconnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Closed)
	if err := m.Transition(Online); err == nil {
		t.Error("CLOSED -> ONLINE should require CONNECTING first")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindTransportStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindTransportStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Offline || change.To != Connecting {
		t.Errorf("change = %v -> %v, want OFFLINE -> CONNECTING", change.From, change.To)
	}
}

func TestReporterPublishesNotice(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	r := NewReporter(b, nil)
	cause := errors.New("disk full")
	r.Report(NoticeStorage, "write message", cause)

	select {
	case evt := <-ch:
		n, ok := evt.Payload.(Notice)
		if !ok {
			t.Fatalf("payload type = %T, want Notice", evt.Payload)
		}
		if n.Kind != NoticeStorage || !errors.Is(n.Err, cause) {
			t.Errorf("notice = %+v", n)
		}
		if got, want := n.String(), "storage: write message: disk full"; got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notice")
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Offline:    {},
		Connecting: {Connecting},
		Online:     {Connecting, Online},
		Closed:     {Connecting, Online, Closed},
		Error:      {Connecting, Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): transition to %s failed: %v", target, s, err)
		}
	}
}
