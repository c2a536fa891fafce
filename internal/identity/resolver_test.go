package identity

import (
	"testing"

	"github.com/babelbye/bbchat/internal/store"
)

func testResolver() *Resolver {
	r := NewResolver()
	r.SetSelf("me")
	r.Update([]store.Connection{
		{ID: "c1", RequesterID: "me", AddresseeID: "ana", Status: store.ConnectionAccepted},
		{ID: "c2", RequesterID: "bob", AddresseeID: "me", Status: store.ConnectionAccepted},
		{ID: "c3", RequesterID: "me", AddresseeID: "eve", Status: store.ConnectionPending},
		{ID: "c4", RequesterID: "ana", AddresseeID: "bob", Status: store.ConnectionAccepted},
	})
	return r
}

func TestResolve(t *testing.T) {
	r := testResolver()
	tests := []struct {
		peer   string
		want   string
		wantOK bool
	}{
		{"ana", "c1", true},
		{"bob", "c2", true},
		{"eve", "", false},      // pending connections are not conversations
		{"stranger", "", false}, // unknown peer
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.peer, func(t *testing.T) {
			got, ok := r.Resolve(tt.peer)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.peer, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveRequiresSelf(t *testing.T) {
	r := NewResolver()
	r.Update([]store.Connection{{ID: "c1", RequesterID: "me", AddresseeID: "ana", Status: store.ConnectionAccepted}})
	if _, ok := r.Resolve("ana"); ok {
		t.Error("Resolve should fail before self is known")
	}
}

func TestPeer(t *testing.T) {
	r := testResolver()
	if peer, ok := r.Peer("c2"); !ok || peer != "bob" {
		t.Errorf("Peer(c2) = (%q, %v), want (bob, true)", peer, ok)
	}
	if _, ok := r.Peer("c3"); ok {
		t.Error("Peer of pending connection should not resolve")
	}
	// c4 does not involve self.
	if _, ok := r.Peer("c4"); ok {
		t.Error("Peer of foreign connection should not resolve")
	}
}

func TestUpdateReplacesSet(t *testing.T) {
	r := testResolver()
	r.Update([]store.Connection{{ID: "c9", RequesterID: "zoe", AddresseeID: "me", Status: store.ConnectionAccepted}})

	if _, ok := r.Resolve("ana"); ok {
		t.Error("ana should be gone after Update")
	}
	if id, ok := r.Resolve("zoe"); !ok || id != "c9" {
		t.Errorf("Resolve(zoe) = (%q, %v), want (c9, true)", id, ok)
	}
	if n := len(r.Conversations()); n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
}

func TestConversationsIsSnapshot(t *testing.T) {
	r := testResolver()
	convs := r.Conversations()
	convs[0].ID = "mutated"
	if r.Conversations()[0].ID == "mutated" {
		t.Error("Conversations must return a copy")
	}
}
