package presence

import (
	"sync"
	"time"

	"github.com/babelbye/bbchat/internal/transport"
)

// DefaultThrottle is the minimum gap between outbound typing signals to the
// same peer.
const DefaultThrottle = 800 * time.Millisecond

// Sender transmits outbound intents.
type Sender interface {
	Send(in transport.Intent) error
}

// Throttle turns keystrokes into rate-limited typing intents.
type Throttle struct {
	window time.Duration
	sender Sender
	now    func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

// NewThrottle creates a Throttle. A non-positive window selects
// DefaultThrottle.
func NewThrottle(window time.Duration, s Sender) *Throttle {
	if window <= 0 {
		window = DefaultThrottle
	}
	return &Throttle{
		window: window,
		sender: s,
		now:    time.Now,
		until:  make(map[string]time.Time),
	}
}

// Keystroke sends a typing intent to peerID unless a window is still open
// for that peer. A failed send leaves no window armed.
func (t *Throttle) Keystroke(peerID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Before(t.until[peerID]) {
		return false, nil
	}
	if err := t.sender.Send(transport.TypingIntent{To: peerID}); err != nil {
		return false, err
	}
	t.until[peerID] = now.Add(t.window)
	return true, nil
}
