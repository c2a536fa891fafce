// Package app wires the sync engine's components together with fx and
// manages their lifecycle.
package app

import (
	"context"

	"github.com/babelbye/bbchat/internal/account"
	"github.com/babelbye/bbchat/internal/api"
	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/config"
	"github.com/babelbye/bbchat/internal/identity"
	"github.com/babelbye/bbchat/internal/lock"
	"github.com/babelbye/bbchat/internal/logging"
	"github.com/babelbye/bbchat/internal/presence"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/store"
	intsync "github.com/babelbye/bbchat/internal/sync"
	"github.com/babelbye/bbchat/internal/timeline"
	"github.com/babelbye/bbchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
	Console    bool   // also log to stderr
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideReporter,
			provideLock,
			provideStore,
			provideResolver,
			provideAPI,
			provideSession,
			provideReconciler,
			provideTracker,
			provideThrottle,
			provideEngine,
			provideRefresher,
			provideClient,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.Account), p.Account, p.Config.LogLevel, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideReporter(b *bus.Bus, logger *zap.Logger) *status.Reporter {
	return status.NewReporter(b, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(account.Dir(p.Account))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened unlocked.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.Account)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	count, err := db.MessageCount()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Int64("messages", count))
	return db, nil
}

func provideResolver(p Params) *identity.Resolver {
	r := identity.NewResolver()
	// A development user id names self before any profile is fetched.
	if p.Config.Token == "" && p.Config.UserID != "" {
		r.SetSelf(p.Config.UserID)
	}
	return r
}

func provideAPI(p Params, logger *zap.Logger) *api.Client {
	return api.NewClient(p.Config.ServerURL, p.Config.Token, p.Config.UserID, logger.Named("api"))
}

func provideSession(p Params, m *status.Machine, logger *zap.Logger) *transport.Session {
	return transport.NewSession(p.Config.ServerURL, m, logger.Named("transport"))
}

func provideReconciler(db *store.DB, r *identity.Resolver, s *transport.Session, c *api.Client, b *bus.Bus, logger *zap.Logger) *timeline.Reconciler {
	return timeline.NewReconciler(db, r, s, c, b, logger.Named("timeline"))
}

func provideTracker(p Params, b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(p.Config.TypingDwell.Duration, b)
}

func provideThrottle(p Params, s *transport.Session) *presence.Throttle {
	return presence.NewThrottle(p.Config.TypingThrottle.Duration, s)
}

func provideEngine(tl *timeline.Reconciler, r *identity.Resolver, t *presence.Tracker, rep *status.Reporter, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(tl, r, t, rep, logger.Named("sync"))
}

func provideRefresher(p Params, c *api.Client, db *store.DB, r *identity.Resolver, rep *status.Reporter, b *bus.Bus, logger *zap.Logger) *intsync.Refresher {
	return intsync.NewRefresher(c, db, r, rep, b, p.Config.RefreshInterval.Duration, logger.Named("refresh"))
}

// provideServer takes the lock so a second instance never replaces the
// running one's socket.
func provideServer(p Params, _ *lock.Lock, logger *zap.Logger) (*Server, error) {
	return NewServer(p, logger.Named("health"))
}

type clientIn struct {
	fx.In

	Params    Params
	Session   *transport.Session
	Timeline  *timeline.Reconciler
	Tracker   *presence.Tracker
	Throttle  *presence.Throttle
	Resolver  *identity.Resolver
	Refresher *intsync.Refresher
	Engine    *intsync.Engine
	Bus       *bus.Bus
	Reporter  *status.Reporter
	Logger    *zap.Logger
}

func provideClient(in clientIn) *Client {
	return NewClient(ClientDeps{
		Credentials: transport.Credentials{Token: in.Params.Config.Token, UserID: in.Params.Config.UserID},
		Session:     in.Session,
		Timeline:    in.Timeline,
		Tracker:     in.Tracker,
		Throttle:    in.Throttle,
		Resolver:    in.Resolver,
		Refresher:   in.Refresher,
		Engine:      in.Engine,
		Bus:         in.Bus,
		Reporter:    in.Reporter,
		Logger:      in.Logger,
	})
}

type lifecycleIn struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Client    *Client
	Refresher *intsync.Refresher
	Tracker   *presence.Tracker
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(in lifecycleIn) {
	logger := in.Logger
	var stopWatch func()

	in.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := in.Refresher.LoadCached(); err != nil {
				logger.Warn("could not load cached connections", zap.Error(err))
			}
			in.Refresher.Start(context.Background())

			stopWatch = watchTransport(in.Bus, in.Machine, in.Server)

			// Start health server in background.
			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()

			// Dial in background; failures surface as status notices and
			// the user may reconnect explicitly.
			go func() {
				if err := in.Client.Connect(context.Background()); err != nil {
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Client.Disconnect()
			in.Tracker.Stop()
			in.Refresher.Stop()
			if stopWatch != nil {
				stopWatch()
			}
			in.Server.Stop(ctx)
			if err := in.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// watchTransport mirrors transport state changes onto the health server.
// The state is re-read on every event, so a dropped event is corrected by
// the next one.
func watchTransport(b *bus.Bus, m *status.Machine, srv *Server) func() {
	ch, unsub := b.Subscribe("transport.", 16)
	done := make(chan struct{})
	stopped := make(chan struct{})
	srv.SetTransportState(m.Current())
	go func() {
		defer close(stopped)
		for {
			select {
			case <-ch:
				srv.SetTransportState(m.Current())
			case <-done:
				return
			}
		}
	}()
	return func() {
		unsub()
		close(done)
		<-stopped
	}
}
