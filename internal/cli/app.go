package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/roach88/tablesync/internal/audit"
	"github.com/roach88/tablesync/internal/config"
	"github.com/roach88/tablesync/internal/connectivity"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/remote/httpstore"
	"github.com/roach88/tablesync/internal/remote/mongostore"
	"github.com/roach88/tablesync/internal/replay"
	"github.com/roach88/tablesync/internal/schema"
	"github.com/roach88/tablesync/internal/snapshot"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/syncer"
)

// App is the composition root: it owns the local medium and wires every
// component from the loaded configuration.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Medium    *store.SQLite
	Queue     *queue.Queue
	Remote    remote.Store
	Snapshot  *snapshot.Store
	Replay    *replay.Engine
	Validator *schema.Validator

	closers []func()
}

// loadConfig applies defaults, the config file, the environment and then
// flags, and validates the result.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path, required := config.DefaultFile, false
	if opts.Config != "" {
		path, required = opts.Config, true
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}
	if opts.Remote != "" {
		cfg.Remote.Kind = opts.Remote
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger installs the stderr text handler, Debug under --verbose.
func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// OpenApp loads configuration and opens every collaborator. Callers must
// Close the App.
func OpenApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(opts)

	app := &App{Config: cfg, Logger: logger}
	if err := app.open(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	a.Logger.Debug("opening database", "path", cfg.DB)
	medium, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a.Medium = medium
	a.closers = append(a.closers, func() {
		if err := medium.Close(); err != nil {
			a.Logger.Error("error closing database", "error", err)
		}
	})

	clock, err := queue.ResumeClock(ctx, medium)
	switch {
	case errors.Is(err, queue.ErrCorrupt):
		a.Logger.Warn("queue unreadable; enqueue timestamps start from wall time", "error", err)
		clock = queue.NewMonotonicClock()
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}
	a.Queue = queue.New(medium, queue.WithClock(clock), queue.WithLogger(a.Logger))

	rs, err := a.openRemote(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open remote store", err)
	}
	a.Remote = rs

	sink, err := a.openAudit(rs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit log", err)
	}

	policy, err := cfg.TruncationPolicy()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	a.Replay = replay.New(a.Queue, rs,
		replay.WithAudit(sink),
		replay.WithTruncation(policy),
		replay.WithEntryTimeout(cfg.Replay.EntryTimeout),
		replay.WithAccount(cfg.AccountID, cfg.DeviceID),
		replay.WithLogger(a.Logger),
	)
	a.Snapshot = snapshot.New(medium, rs,
		snapshot.WithCollections(snapshot.Collections(cfg.Snapshot.Collections...)...),
		snapshot.WithLogger(a.Logger),
	)

	v, err := schema.New()
	if err != nil {
		return fmt.Errorf("load payload schemas: %w", err)
	}
	a.Validator = v
	return nil
}

func (a *App) openRemote(ctx context.Context) (remote.Store, error) {
	cfg := a.Config.Remote
	switch cfg.Kind {
	case config.RemoteMemory:
		a.Logger.Warn("using in-memory remote store; writes are lost on exit")
		return remote.NewMemory(), nil
	case config.RemoteMongo:
		st, disconnect, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := disconnect(context.Background()); err != nil {
				a.Logger.Error("error disconnecting mongo", "error", err)
			}
		})
		if err := st.EnsureIndexes(ctx); err != nil {
			a.Logger.Warn("mongo index setup failed", "error", err)
		}
		return st, nil
	case config.RemoteREST:
		opts := []httpstore.ClientOption{
			httpstore.WithHTTPClient(&http.Client{Timeout: cfg.REST.Timeout}),
		}
		if cfg.REST.Token != "" {
			opts = append(opts, httpstore.WithBearerToken(cfg.REST.Token))
		}
		return httpstore.NewClient(cfg.REST.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Kind)
	}
}

func (a *App) openAudit(rs remote.Store) (audit.Log, error) {
	cfg := a.Config.Audit
	var sinks audit.Multi
	if cfg.Remote {
		sinks = append(sinks, audit.NewRemoteLog(rs))
	}
	if cfg.NATSURL != "" {
		nl, drain, err := audit.ConnectNATS(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, drain)
		sinks = append(sinks, nl)
	}
	if len(sinks) == 0 {
		return audit.Discard{}, nil
	}
	return sinks, nil
}

// Connectivity returns a monitor over the host's network interfaces, or
// one pinned offline. The returned signal is nil when pinned.
func (a *App) Connectivity(offline bool) (*connectivity.Monitor, *connectivity.PollingSignal) {
	if offline {
		return connectivity.NewMonitor(connectivity.NewManualSignal(false), connectivity.WithLogger(a.Logger)), nil
	}
	sig := connectivity.NewPollingSignal(
		connectivity.WithInterval(a.Config.Connectivity.PollInterval),
		connectivity.WithPollingLogger(a.Logger),
	)
	return connectivity.NewMonitor(sig, connectivity.WithLogger(a.Logger)), sig
}

// Orchestrator builds a sync orchestrator over conn and restores the
// persisted last sync time.
func (a *App) Orchestrator(ctx context.Context, conn syncer.Connectivity) (*syncer.Orchestrator, error) {
	o := syncer.New(a.Snapshot, a.Replay, conn,
		syncer.WithCounter(a.Queue),
		syncer.WithMedium(a.Medium),
		syncer.WithLogger(a.Logger),
	)
	if err := o.Restore(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Close releases everything OpenApp acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// commandError maps an error to an ExitError unless it already is one.
func commandError(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(ExitCommandError, message, err)
}
