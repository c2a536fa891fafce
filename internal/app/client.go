package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/identity"
	"github.com/babelbye/bbchat/internal/presence"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/store"
	intsync "github.com/babelbye/bbchat/internal/sync"
	"github.com/babelbye/bbchat/internal/timeline"
	"github.com/babelbye/bbchat/internal/transport"
	"go.uber.org/zap"
)

// ErrNoSelection is returned by operations that act on the open conversation
// when none is open.
var ErrNoSelection = errors.New("no conversation open")

// Conversation is an accepted connection as shown to the user.
type Conversation struct {
	ID     string
	PeerID string
}

// Client is the surface a presentation layer drives: it turns user intent
// into reconciler, presence and transport calls and exposes derived views.
type Client struct {
	creds     transport.Credentials
	session   *transport.Session
	timeline  *timeline.Reconciler
	tracker   *presence.Tracker
	throttle  *presence.Throttle
	resolver  *identity.Resolver
	refresher *intsync.Refresher
	engine    *intsync.Engine
	bus       *bus.Bus
	reporter  *status.Reporter
	logger    *zap.Logger

	mu       sync.Mutex
	selected string
}

// ClientDeps groups the components a Client drives.
type ClientDeps struct {
	Credentials transport.Credentials
	Session     *transport.Session
	Timeline    *timeline.Reconciler
	Tracker     *presence.Tracker
	Throttle    *presence.Throttle
	Resolver    *identity.Resolver
	Refresher   *intsync.Refresher
	Engine      *intsync.Engine
	Bus         *bus.Bus
	Reporter    *status.Reporter
	Logger      *zap.Logger
}

// NewClient creates a Client.
func NewClient(d ClientDeps) *Client {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		creds:     d.Credentials,
		session:   d.Session,
		timeline:  d.Timeline,
		tracker:   d.Tracker,
		throttle:  d.Throttle,
		resolver:  d.Resolver,
		refresher: d.Refresher,
		engine:    d.Engine,
		bus:       d.Bus,
		reporter:  d.Reporter,
		logger:    logger,
	}
}

// Connect opens the transport session. Inbound events go to the engine.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Open(ctx, c.creds, c.engine.Handle); err != nil {
		c.reporter.Report(status.NoticeTransport, "could not connect", err)
		return err
	}
	return nil
}

// Reconnect closes any live session and opens a new one.
func (c *Client) Reconnect(ctx context.Context) error {
	c.session.Close()
	return c.Connect(ctx)
}

// Disconnect closes the transport session. Safe to call at any time.
func (c *Client) Disconnect() {
	c.session.Close()
}

// State returns the transport lifecycle state.
func (c *Client) State() status.State {
	return c.session.State()
}

// Profile returns the local user's latest known profile, or nil.
func (c *Client) Profile() *store.Profile {
	return c.refresher.Profile()
}

// Conversations lists the accepted conversations.
func (c *Client) Conversations() []Conversation {
	self := c.resolver.Self()
	conns := c.resolver.Conversations()
	out := make([]Conversation, 0, len(conns))
	for _, conn := range conns {
		out = append(out, Conversation{ID: conn.ID, PeerID: conn.PeerOf(self)})
	}
	return out
}

// Open selects a conversation and hydrates it from the local cache.
func (c *Client) Open(convID string) error {
	if _, ok := c.resolver.Peer(convID); !ok {
		return fmt.Errorf("%w: %s", timeline.ErrUnknownConversation, convID)
	}
	c.mu.Lock()
	c.selected = convID
	c.mu.Unlock()

	if err := c.timeline.Hydrate(convID); err != nil {
		c.reporter.Report(status.NoticeStorage, "could not load history", err)
		return err
	}
	return nil
}

// Selected returns the open conversation id, or "".
func (c *Client) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Send originates a message in the open conversation. The message is in the
// timeline even when the returned error reports a failed transmission.
func (c *Client) Send(ctx context.Context, text string) (store.Message, error) {
	convID := c.Selected()
	if convID == "" {
		return store.Message{}, ErrNoSelection
	}
	msg, err := c.timeline.Originate(ctx, convID, text)
	if err != nil {
		c.reporter.Report(status.NoticeSync, "message not sent", err)
	}
	return msg, err
}

// Keystroke signals typing to the peer of the open conversation, throttled.
func (c *Client) Keystroke() {
	convID := c.Selected()
	if convID == "" {
		return
	}
	peer, ok := c.resolver.Peer(convID)
	if !ok {
		return
	}
	if _, err := c.throttle.Keystroke(peer); err != nil {
		c.logger.Debug("typing signal not sent", zap.Error(err))
	}
}

// ClearHistory deletes the open conversation's history remotely and locally.
func (c *Client) ClearHistory(ctx context.Context) error {
	convID := c.Selected()
	if convID == "" {
		return ErrNoSelection
	}
	if err := c.timeline.ClearHistory(ctx, convID); err != nil {
		c.reporter.Report(status.NoticeSync, "history not cleared", err)
		return err
	}
	return nil
}

// Messages returns a conversation's timeline in display order.
func (c *Client) Messages(convID string) []store.Message {
	return c.timeline.View(convID)
}

// Typing reports whether the peer of convID is typing.
func (c *Client) Typing(convID string) bool {
	return c.tracker.Typing(convID)
}

// Subscribe forwards to the event bus. Namespaces: "timeline.", "presence.",
// "transport.", "status." and "identity.".
func (c *Client) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, bufSize)
}
