// Package identity maps peer user ids to the conversation shared with the
// local user.
package identity

import (
	"sync"

	"github.com/babelbye/bbchat/internal/store"
)

// Resolver holds the local user id and the accepted-connection set.
type Resolver struct {
	mu    sync.RWMutex
	self  string
	conns []store.Connection
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// SetSelf records the local user id.
func (r *Resolver) SetSelf(id string) {
	r.mu.Lock()
	r.self = id
	r.mu.Unlock()
}

// Self returns the local user id, or "" if not yet known.
func (r *Resolver) Self() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// Update replaces the connection set. Only accepted connections are kept.
func (r *Resolver) Update(conns []store.Connection) {
	accepted := make([]store.Connection, 0, len(conns))
	for _, c := range conns {
		if c.Status == store.ConnectionAccepted {
			accepted = append(accepted, c)
		}
	}
	r.mu.Lock()
	r.conns = accepted
	r.mu.Unlock()
}

// Resolve returns the id of the accepted connection between peerID and the
// local user. ok is false when none exists or self is unknown.
func (r *Resolver) Resolve(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.self == "" || peerID == "" {
		return "", false
	}
	for _, c := range r.conns {
		if (c.RequesterID == peerID && c.AddresseeID == r.self) ||
			(c.RequesterID == r.self && c.AddresseeID == peerID) {
			return c.ID, true
		}
	}
	return "", false
}

// Peer returns the other participant of a known connection.
func (r *Resolver) Peer(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.ID == connectionID {
			peer := c.PeerOf(r.self)
			return peer, peer != ""
		}
	}
	return "", false
}

// Conversations returns a snapshot of the accepted connections.
func (r *Resolver) Conversations() []store.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Connection, len(r.conns))
	copy(out, r.conns)
	return out
}
