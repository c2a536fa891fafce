// Package timeline keeps the per-conversation, de-duplicated message view
// that merges live events, cached history and local sends.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/store"
	"github.com/babelbye/bbchat/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnresolved means the event's peer has no accepted conversation.
	ErrUnresolved = errors.New("peer has no accepted conversation")
	// ErrUnknownConversation means the conversation id is not addressable.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Store is the durable message cache.
type Store interface {
	PutMessage(m *store.Message) error
	InsertMessage(m *store.Message) (bool, error)
	MessagesByConversation(connectionID string) ([]store.Message, error)
	DeleteByConversation(connectionID string) (int64, error)
	UpdateMessageStatus(id, status string) error
}

// Resolver maps peers to conversations and back.
type Resolver interface {
	Self() string
	Resolve(peerID string) (string, bool)
	Peer(connectionID string) (string, bool)
}

// Sender transmits outbound intents.
type Sender interface {
	Send(in transport.Intent) error
}

// HistoryDeleter removes server-side history shared with a peer.
type HistoryDeleter interface {
	DeleteHistory(ctx context.Context, peerID string) error
}

// Updated is the bus payload published after a conversation's view changes.
type Updated struct {
	ConversationID string
}

// Reconciler owns the in-memory timelines. Each timeline is a derived view of
// the store plus events received since it was hydrated.
type Reconciler struct {
	store    Store
	resolver Resolver
	sender   Sender
	deleter  HistoryDeleter
	bus      *bus.Bus
	logger   *zap.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	convs    map[string][]store.Message
	hydrated map[string]bool
	epochs   map[string]uint64 // bumped by ClearHistory
	local    map[string]string // correlation id -> conversation id
}

// NewReconciler creates a Reconciler.
func NewReconciler(st Store, r Resolver, s Sender, d HistoryDeleter, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    st,
		resolver: r,
		sender:   s,
		deleter:  d,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		convs:    make(map[string][]store.Message),
		hydrated: make(map[string]bool),
		epochs:   make(map[string]uint64),
		local:    make(map[string]string),
	}
}

// Hydrate loads a conversation's cached history. Cached messages are merged
// by id, so events ingested while the read was in flight are kept. A read
// that overlaps a history clear is dropped. Repeated calls after a
// successful hydrate do not touch the store.
func (r *Reconciler) Hydrate(convID string) error {
	r.mu.Lock()
	done := r.hydrated[convID]
	epoch := r.epochs[convID]
	r.mu.Unlock()
	if done {
		return nil
	}

	cached, err := r.store.MessagesByConversation(convID)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", convID, err)
	}

	r.mu.Lock()
	if r.epochs[convID] != epoch {
		r.mu.Unlock()
		r.logger.Debug("stale hydrate discarded", zap.String("conversation", convID))
		return nil
	}
	var added int
	r.convs[convID], added = Absorb(r.convs[convID], cached)
	r.hydrated[convID] = true
	r.mu.Unlock()

	r.logger.Debug("conversation hydrated",
		zap.String("conversation", convID),
		zap.Int("cached", len(cached)),
		zap.Int("added", added),
	)
	if added > 0 {
		r.publish(convID)
	}
	return nil
}

// IngestRemote applies an inbound message event. A duplicate id, including
// the server's echo of a local send, is ignored and inserted is false. The
// cache is checked too, so a duplicate of a message not yet hydrated never
// overwrites the cached row.
func (r *Reconciler) IngestRemote(evt transport.MessageEvent) (store.Message, bool, error) {
	convID, ok := r.resolver.Resolve(evt.From)
	if !ok {
		return store.Message{}, false, ErrUnresolved
	}

	id := evt.ClientID
	if id == "" {
		id = r.newID()
	}
	msg := store.Message{
		ID:           id,
		ConnectionID: convID,
		From:         evt.From,
		To:           r.resolver.Self(),
		Text:         evt.Text,
		Original:     evt.Original,
		Translated:   evt.Translated,
		ClientID:     evt.ClientID,
		Status:       store.StatusReceived,
		CreatedAt:    r.now().UnixMilli(),
	}

	r.mu.Lock()
	if contains(r.convs[convID], id) {
		r.mu.Unlock()
		r.logger.Debug("duplicate message ignored", zap.String("id", id), zap.String("conversation", convID))
		return msg, false, nil
	}
	inserted, err := r.store.InsertMessage(&msg)
	if err != nil {
		r.mu.Unlock()
		return msg, false, fmt.Errorf("cache message %s: %w", id, err)
	}
	if !inserted {
		r.mu.Unlock()
		r.logger.Debug("duplicate of cached message ignored", zap.String("id", id), zap.String("conversation", convID))
		return msg, false, nil
	}
	r.convs[convID], _ = Merge(r.convs[convID], msg)
	r.mu.Unlock()

	r.publish(convID)
	return msg, true, nil
}

// Originate records an optimistic local message and hands it to the sender.
// The entry stays in the timeline when sending fails; its status becomes
// failed and the send error is returned.
func (r *Reconciler) Originate(_ context.Context, convID, text string) (store.Message, error) {
	peer, ok := r.resolver.Peer(convID)
	if !ok {
		return store.Message{}, fmt.Errorf("%w: %s", ErrUnknownConversation, convID)
	}

	clientID := r.newID()
	msg := store.Message{
		ID:           clientID,
		ConnectionID: convID,
		From:         r.resolver.Self(),
		To:           peer,
		Text:         text,
		Original:     text,
		Translated:   false,
		ClientID:     clientID,
		Status:       store.StatusSending,
		CreatedAt:    r.now().UnixMilli(),
	}

	r.mu.Lock()
	if err := r.store.PutMessage(&msg); err != nil {
		r.mu.Unlock()
		return msg, fmt.Errorf("cache message %s: %w", clientID, err)
	}
	r.convs[convID], _ = Merge(r.convs[convID], msg)
	r.local[clientID] = convID
	r.mu.Unlock()
	r.publish(convID)

	if err := r.sender.Send(transport.MessageIntent{To: peer, Text: text, ClientID: clientID}); err != nil {
		msg.Status = store.StatusFailed
		if serr := r.setStatus(convID, clientID, store.StatusFailed); serr != nil {
			r.logger.Warn("could not mark message failed", zap.String("id", clientID), zap.Error(serr))
		}
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// AckDelivery marks a locally originated message as sent. It reports false
// for correlation ids this process did not originate.
func (r *Reconciler) AckDelivery(clientID string) (bool, error) {
	r.mu.Lock()
	convID, ok := r.local[clientID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := r.setStatus(convID, clientID, store.StatusSent); err != nil {
		return true, err
	}
	return true, nil
}

// ClearHistory deletes a conversation's history on the server, then locally.
// If any step fails the local timeline and cache are left as they were.
func (r *Reconciler) ClearHistory(ctx context.Context, convID string) error {
	peer, ok := r.resolver.Peer(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, convID)
	}
	if err := r.deleter.DeleteHistory(ctx, peer); err != nil {
		return fmt.Errorf("delete remote history: %w", err)
	}

	r.mu.Lock()
	n, err := r.store.DeleteByConversation(convID)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("delete cached history: %w", err)
	}
	for id, c := range r.local {
		if c == convID {
			delete(r.local, id)
		}
	}
	r.convs[convID] = nil
	r.hydrated[convID] = true
	r.epochs[convID]++
	r.mu.Unlock()

	r.logger.Info("history cleared", zap.String("conversation", convID), zap.Int64("deleted", n))
	r.publish(convID)
	return nil
}

// View returns the conversation's messages ordered by creation time.
func (r *Reconciler) View(convID string) []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Materialize(r.convs[convID])
}

func (r *Reconciler) setStatus(convID, id, status string) error {
	r.mu.Lock()
	seq := r.convs[convID]
	i := indexOf(seq, id)
	if i < 0 || seq[i].Status == status {
		r.mu.Unlock()
		return nil
	}
	if err := r.store.UpdateMessageStatus(id, status); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	seq[i].Status = status
	r.mu.Unlock()

	r.publish(convID)
	return nil
}

func (r *Reconciler) publish(convID string) {
	r.bus.Emit(bus.KindTimelineUpdated, Updated{ConversationID: convID})
}
