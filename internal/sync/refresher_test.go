package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/identity"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/store"
)

type fakeSource struct {
	mu         stdsync.Mutex
	conns      []store.Connection
	profile    *store.Profile
	connErr    error
	profileErr error
	calls      int
}

func (s *fakeSource) ListConnections(context.Context) ([]store.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.conns, s.connErr
}

func (s *fakeSource) GetProfile(context.Context) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.profileErr
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testSource() *fakeSource {
	return &fakeSource{
		profile: &store.Profile{ID: "me", Nickname: "me"},
		conns: []store.Connection{
			{ID: "c1", RequesterID: "me", AddresseeID: "ana", Status: store.ConnectionAccepted},
			{ID: "c2", RequesterID: "bob", AddresseeID: "me", Status: store.ConnectionPending},
		},
	}
}

func TestRefreshUpdatesResolverAndCache(t *testing.T) {
	db := testDB(t)
	r := identity.NewResolver()
	ref := NewRefresher(testSource(), db, r, status.NewReporter(nil, nil), nil, 0, nil)

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Self() != "me" {
		t.Errorf("self = %q, want me", r.Self())
	}
	if id, ok := r.Resolve("ana"); !ok || id != "c1" {
		t.Errorf("Resolve(ana) = (%q, %v)", id, ok)
	}

	cached, err := db.ListConnections()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 || cached[0].ID != "c1" {
		t.Errorf("cached = %+v, want only the accepted connection", cached)
	}
	if p, _ := db.GetProfile("me"); p == nil {
		t.Error("profile not cached")
	}
	if ref.Profile() == nil || ref.Profile().ID != "me" {
		t.Errorf("Profile() = %+v", ref.Profile())
	}
}

func TestLoadCachedResolvesOffline(t *testing.T) {
	db := testDB(t)
	if err := NewRefresher(testSource(), db, identity.NewResolver(), nil, nil, 0, nil).Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh process with the server unreachable.
	offline := &fakeSource{connErr: errors.New("offline"), profileErr: errors.New("offline")}
	r := identity.NewResolver()
	ref := NewRefresher(offline, db, r, status.NewReporter(nil, nil), nil, 0, nil)
	if err := ref.LoadCached(); err != nil {
		t.Fatal(err)
	}
	if id, ok := r.Resolve("ana"); !ok || id != "c1" {
		t.Errorf("Resolve(ana) from cache = (%q, %v)", id, ok)
	}

	if err := ref.Refresh(context.Background()); err == nil {
		t.Error("expected refresh error while offline")
	}
	if _, ok := r.Resolve("ana"); !ok {
		t.Error("a failed refresh must keep the cached set")
	}
}

func TestProfileFailureIsNonFatal(t *testing.T) {
	db := testDB(t)
	src := testSource()
	src.profileErr = errors.New("500")
	r := identity.NewResolver()
	r.SetSelf("me")

	ref := NewRefresher(src, db, r, status.NewReporter(nil, nil), nil, 0, nil)
	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if _, ok := r.Resolve("ana"); !ok {
		t.Error("connections should refresh despite the profile failure")
	}
}

func TestConnectionFailureReportsNotice(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	src := testSource()
	src.connErr = errors.New("502")
	ref := NewRefresher(src, testDB(t), identity.NewResolver(), status.NewReporter(b, nil), b, 0, nil)
	if err := ref.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	select {
	case evt := <-ch:
		if n := evt.Payload.(status.Notice); n.Kind != status.NoticeSync {
			t.Errorf("kind = %q, want sync", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notice")
	}
}

func TestStartRefreshesPeriodically(t *testing.T) {
	src := testSource()
	ref := NewRefresher(src, testDB(t), identity.NewResolver(), status.NewReporter(nil, nil), nil, 20*time.Millisecond, nil)

	ref.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ref.Stop()

	if n := src.callCount(); n < 3 {
		t.Errorf("refreshes = %d, want at least 3", n)
	}
	after := src.callCount()
	time.Sleep(60 * time.Millisecond)
	if src.callCount() != after {
		t.Error("refresh loop still running after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	ref := NewRefresher(testSource(), nil, identity.NewResolver(), nil, nil, 0, nil)
	ref.Stop()
}
