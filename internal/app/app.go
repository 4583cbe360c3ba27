package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/game-shelf/internal/adapter/handler"
	"github.com/rl1809/game-shelf/internal/adapter/metrics"
	"github.com/rl1809/game-shelf/internal/adapter/notify"
	"github.com/rl1809/game-shelf/internal/adapter/remote"
	"github.com/rl1809/game-shelf/internal/adapter/storage"
	"github.com/rl1809/game-shelf/internal/config"
	"github.com/rl1809/game-shelf/internal/core/service"
	"github.com/rl1809/game-shelf/internal/port"
)

// Deps overrides adapters normally built from the config. Nil fields are
// built from cfg.
type Deps struct {
	API     port.GameAPI
	Journal port.JournalRepository
	Mirror  port.MirrorRepository
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App owns every long-lived component of the shelf daemon.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Store      *service.StateStore
	Engine     *service.Engine
	Inventory  *service.Inventory
	Reconciler *service.Reconciler
	Recorder   *metrics.Recorder
	Stream     *handler.EventStream
	Conflicts  *handler.ConflictBroker

	api       port.GameAPI
	journal   port.JournalRepository
	mirror    port.MirrorRepository
	persister *Persister
	http      *handler.HTTPHandler
	grpc      *handler.GRPCHandler

	stopPersister func()
	unsubscribe   func()
	closers       []func() error
	closeOnce     sync.Once
}

// New wires the daemon. Mirror games are loaded and journaled operations
// recovered before New returns; recovered games are written back to the mirror.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.initAdapters(ctx, deps); err != nil {
		a.closeResources()
		return nil, err
	}

	a.Recorder = metrics.NewRecorder()
	a.Stream = handler.NewEventStream(logger.With("component", "stream"))
	a.Conflicts = handler.NewConflictBroker(a.Stream, cfg.Server.ConflictTimeout)
	notifier := notify.NewFanout(notify.NewLogNotifier(logger), a.Stream)

	a.Store = service.NewStateStore(logger.With("component", "store"))
	a.Engine = service.NewEngine(a.Store, notifier,
		service.WithRetryPolicy(service.RetryPolicy{
			MaxRetries: cfg.Engine.MaxRetries,
			BaseDelay:  cfg.Engine.RetryDelay,
			Timeout:    cfg.Engine.Timeout,
		}),
		service.WithRecorder(a.Recorder),
		service.WithEngineLogger(logger.With("component", "engine")),
	)
	a.Inventory = service.NewInventory(a.Engine, a.api, logger.With("component", "inventory"))
	a.Reconciler = service.NewReconciler(a.Engine, a.api, a.Conflicts, notifier,
		service.ReconcilerConfig{
			DebounceDelay:    cfg.Reconciler.DebounceDelay,
			MaxBatchSize:     cfg.Reconciler.MaxBatchSize,
			BatchConcurrency: cfg.Reconciler.BatchConcurrency,
		},
		service.WithReconcilerRecorder(a.Recorder),
		service.WithReconcilerLogger(logger.With("component", "reconciler")),
	)

	loaded, err := WarmStart(ctx, a.Store, a.mirror)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	logger.Info("warm start", slog.Int("games", loaded))

	a.persister = NewPersister(a.Store, a.mirror, a.journal, cfg.Mirror.Workers, cfg.Mirror.Queue, logger.With("component", "persister"))
	a.stopPersister = a.persister.Start()
	a.unsubscribe = a.Store.Subscribe(a.Stream.OnStoreEvent)

	recovered, err := RecoverJournal(ctx, a.Engine, a.api, a.journal, logger.With("component", "recovery"))
	if err != nil {
		logger.Warn("journal recovery failed", slog.Any("error", err))
	} else if recovered > 0 {
		logger.Info("journal recovered", slog.Int("operations", recovered))
	}

	actions := handler.NewActions(a.Inventory, a.journal)
	httpOpts := []handler.HTTPOption{handler.WithMetrics(a.Recorder.Handler())}
	if p, ok := a.journal.(pinger); ok {
		httpOpts = append(httpOpts, handler.WithReadinessCheck("journal", p.Ping))
	}
	if p, ok := a.mirror.(pinger); ok {
		httpOpts = append(httpOpts, handler.WithReadinessCheck("mirror", p.Ping))
	}
	a.http = handler.NewHTTPHandler(actions, a.Inventory, a.Reconciler, a.Conflicts, a.Stream, httpOpts...)
	a.grpc = handler.NewGRPCHandler(actions, a.Inventory, a.Reconciler, a.Conflicts)
	return a, nil
}

func (a *App) initAdapters(ctx context.Context, deps Deps) error {
	a.api, a.journal, a.mirror = deps.API, deps.Journal, deps.Mirror

	if a.api == nil {
		client, err := remote.NewHTTPClient(a.cfg.API.URL,
			remote.WithHTTPClient(&http.Client{Timeout: a.cfg.API.Timeout}),
			remote.WithRateLimit(a.cfg.API.RateLimit, a.cfg.API.Burst),
		)
		if err != nil {
			return fmt.Errorf("init api client: %w", err)
		}
		a.api = client
	}

	if a.journal == nil {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		a.closers = append(a.closers, rdb.Close)
		journal := storage.NewRedisJournal(rdb, a.cfg.Redis.Namespace)
		if err := journal.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.logger.Info("connected to redis", slog.String("addr", a.cfg.Redis.Addr))
		a.journal = journal
	}

	if a.mirror == nil {
		db, dialect, err := storage.OpenDB(ctx, a.cfg.Mirror.DSN)
		if err != nil {
			return fmt.Errorf("open mirror: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		mirror, err := newMigratedMirror(ctx, db, dialect)
		if err != nil {
			return err
		}
		a.logger.Info("connected to mirror", slog.String("dialect", string(dialect)))
		a.mirror = mirror
	}
	return nil
}

func newMigratedMirror(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*storage.SQLMirror, error) {
	mirror, err := storage.NewSQLMirror(db, dialect)
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}
	if err := mirror.Migrate(ctx); err != nil {
		return nil, err
	}
	return mirror, nil
}

// Handler is the HTTP surface: REST actions, websocket and metrics.
func (a *App) Handler() http.Handler {
	return a.http.Routes()
}

// GRPCServer returns a new gRPC server with the shelf service registered.
func (a *App) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	return handler.NewGRPCServer(a.grpc, opts...)
}

// Run serves HTTP and gRPC and polls the server until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    a.cfg.Server.HTTPAddr,
		Handler: a.Handler(),
	}
	grpcServer := a.GRPCServer()

	lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		a.logger.Info("gRPC server listening", slog.String("addr", a.cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.logger.Info("HTTP server listening", slog.String("addr", a.cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	pollCtx, stopPoll := context.WithCancel(ctx)
	polled := StartPoller(pollCtx, a.Reconciler, a.Store, a.cfg.Reconciler.PollInterval)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	stopPoll()

	a.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown", slog.Any("error", err))
	}
	a.logger.Info("HTTP server stopped")
	grpcServer.GracefulStop()
	a.logger.Info("gRPC server stopped")
	<-polled

	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close settles in-flight work, flushes the persister and releases
// connections.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if rerr := a.Reconciler.Close(ctx); rerr != nil {
			err = fmt.Errorf("close reconciler: %w", rerr)
		}
		if eerr := a.Engine.Close(ctx); eerr != nil && err == nil {
			err = fmt.Errorf("close engine: %w", eerr)
		}
		a.unsubscribe()
		a.stopPersister()
		a.persister.Close()
		a.Stream.Close()
		a.logger.Info("workers stopped", slog.Int64("dropped_jobs", a.persister.Dropped()))
		a.closeResources()
		a.logger.Info("connections closed")
	})
	return err
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}
