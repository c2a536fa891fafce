package sync

import (
	"context"
	"sync"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/identity"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/store"
	"go.uber.org/zap"
)

// DefaultRefreshInterval is how often connections and profile are re-fetched.
const DefaultRefreshInterval = 30 * time.Second

// Source fetches the connection list and profile from the server.
type Source interface {
	ListConnections(ctx context.Context) ([]store.Connection, error)
	GetProfile(ctx context.Context) (*store.Profile, error)
}

// ConnectionsLoaded is the bus payload published after the resolver's
// connection set is replaced.
type ConnectionsLoaded struct {
	Count  int
	Cached bool
}

// Refresher keeps the identity resolver, the connection cache and the
// profile cache in step with the server.
type Refresher struct {
	src      Source
	db       *store.DB
	resolver *identity.Resolver
	reporter *status.Reporter
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	profile *store.Profile
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a Refresher. A non-positive interval selects
// DefaultRefreshInterval.
func NewRefresher(src Source, db *store.DB, r *identity.Resolver, rep *status.Reporter, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		src:      src,
		db:       db,
		resolver: r,
		reporter: rep,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// LoadCached seeds the resolver from the local cache so conversations
// resolve before the server has been reached.
func (r *Refresher) LoadCached() error {
	p, err := r.db.LatestProfile()
	if err != nil {
		return err
	}
	if p != nil {
		r.setProfile(p)
	}

	conns, err := r.db.ListConnections()
	if err != nil {
		return err
	}
	r.resolver.Update(conns)
	r.logger.Info("cached connections loaded", zap.Int("count", len(conns)))
	r.bus.Emit(bus.KindConnectionsLoaded, ConnectionsLoaded{Count: len(conns), Cached: true})
	return nil
}

// Refresh fetches the profile and the connection list once. A profile
// failure is logged and does not stop the connection refresh.
func (r *Refresher) Refresh(ctx context.Context) error {
	p, err := r.src.GetProfile(ctx)
	if err != nil {
		r.logger.Warn("profile refresh failed", zap.Error(err))
	} else {
		r.setProfile(p)
		if err := r.db.PutProfile(p); err != nil {
			r.logger.Warn("profile cache write failed", zap.Error(err))
		}
	}

	conns, err := r.src.ListConnections(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.reporter.Report(status.NoticeSync, "could not refresh connections", err)
		return err
	}
	r.resolver.Update(conns)
	accepted := r.resolver.Conversations()
	if err := r.db.ReplaceConnections(accepted); err != nil {
		r.reporter.Report(status.NoticeStorage, "could not cache connections", err)
	}
	r.logger.Debug("connections refreshed", zap.Int("accepted", len(accepted)), zap.Int("total", len(conns)))
	r.bus.Emit(bus.KindConnectionsLoaded, ConnectionsLoaded{Count: len(accepted)})
	return nil
}

// Profile returns the latest known profile of the local user, or nil.
func (r *Refresher) Profile() *store.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

// Start refreshes once immediately and then on every interval until Stop.
func (r *Refresher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		_ = r.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.Refresh(ctx)
			}
		}
	}()
}

// Stop cancels the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Refresher) setProfile(p *store.Profile) {
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
	r.resolver.SetSelf(p.ID)
}
