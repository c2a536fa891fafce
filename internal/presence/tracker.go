// Package presence tracks inbound typing indicators and throttles outbound
// ones.
package presence

import (
	"sync"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
)

// DefaultDwell is how long a typing signal keeps a conversation in typing.
const DefaultDwell = 1200 * time.Millisecond

// Changed is the bus payload published when a conversation's flag flips.
type Changed struct {
	ConversationID string
	Typing         bool
}

type state struct {
	typing bool
	timer  *time.Timer
	gen    uint64
}

// Tracker holds a typing flag per conversation. Each conversation has at
// most one pending expiry timer.
type Tracker struct {
	dwell time.Duration
	bus   *bus.Bus

	mu      sync.Mutex
	convs   map[string]*state
	stopped bool
}

// NewTracker creates a Tracker. A non-positive dwell selects DefaultDwell.
func NewTracker(dwell time.Duration, b *bus.Bus) *Tracker {
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	return &Tracker{
		dwell: dwell,
		bus:   b,
		convs: make(map[string]*state),
	}
}

// Signal marks the conversation as typing and re-arms its expiry timer.
func (t *Tracker) Signal(convID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	st := t.convs[convID]
	if st == nil {
		st = &state{}
		t.convs[convID] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(t.dwell, func() { t.expire(convID, gen) })
	was := st.typing
	st.typing = true
	t.mu.Unlock()

	if !was {
		t.publish(convID, true)
	}
}

// Clear resets the conversation to idle, e.g. when the peer's message lands.
func (t *Tracker) Clear(convID string) {
	t.mu.Lock()
	st := t.convs[convID]
	if st == nil || !st.typing {
		t.mu.Unlock()
		return
	}
	t.reset(st)
	t.mu.Unlock()

	t.publish(convID, false)
}

// Typing reports whether the peer of convID is currently typing.
func (t *Tracker) Typing(convID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.convs[convID]
	return st != nil && st.typing
}

// Stop cancels every pending timer. Later signals are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, st := range t.convs {
		t.reset(st)
	}
}

// expire fires from a timer; a stale generation means the timer was
// superseded after it started firing.
func (t *Tracker) expire(convID string, gen uint64) {
	t.mu.Lock()
	st := t.convs[convID]
	if st == nil || st.gen != gen || !st.typing {
		t.mu.Unlock()
		return
	}
	st.typing = false
	st.timer = nil
	t.mu.Unlock()

	t.publish(convID, false)
}

func (t *Tracker) reset(st *state) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	st.typing = false
}

func (t *Tracker) publish(convID string, typing bool) {
	t.bus.Emit(bus.KindPresenceChanged, Changed{ConversationID: convID, Typing: typing})
}
