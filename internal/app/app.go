// Package app wires the schema service together: catalog, row store,
// snapshot storage, executor and the HTTP and gRPC listeners.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	grpcapi "github.com/oldsharp/udtschema/internal/api/grpc"
	httpapi "github.com/oldsharp/udtschema/internal/api/http"
	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/config"
	"github.com/oldsharp/udtschema/internal/events"
	"github.com/oldsharp/udtschema/internal/observability"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"github.com/oldsharp/udtschema/internal/server"
	"github.com/oldsharp/udtschema/internal/storage"
	"google.golang.org/grpc"
)

const (
	// snapshotFetchConcurrency bounds parallel snapshot downloads on restore.
	snapshotFetchConcurrency = 8
	// eventBufferSize is the per-subscriber schema event buffer.
	eventBufferSize = 64
)

// App manages the service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	catalog   *catalog.Catalog
	rows      *storage.RowStore
	snapshots storage.ObjectStorage // nil when snapshots are disabled
	stats     *observability.StatementStats
	events    *events.Notifier
	exec      *executor.Executor
	shutdown  *server.ShutdownManager

	// Listeners
	httpServer *http.Server
	httpAddr   net.Addr
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start opens the stores and starts the configured listeners.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())

	if err := a.initResources(ctx); err != nil {
		a.abort()
		return fmt.Errorf("failed to initialize resources: %w", err)
	}
	if a.cfg.HTTP.Enabled {
		if err := a.startHTTP(); err != nil {
			a.abort()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.abort()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	a.wg.Add(1)
	go a.pruneStats(ctx)

	log.Printf("udtd started: data_dir=%s", a.cfg.DataDir)
	return nil
}

// initResources opens the catalog, row store and snapshot storage and builds
// the executor. Each opened resource is registered for shutdown.
func (a *App) initResources(ctx context.Context) error {
	var err error
	a.snapshots, err = OpenSnapshotStorage(ctx, a.cfg.Snapshots)
	if err != nil {
		return err
	}

	store, err := catalog.OpenStore(a.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to open catalog store: %w", err)
	}
	a.catalog, err = catalog.Open(ctx, store)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	a.shutdown.RegisterCloser("catalog", a.catalog)

	a.rows, err = storage.OpenRowStore(a.cfg.Rows.Path, a.cfg.Rows.Compression)
	if err != nil {
		return fmt.Errorf("failed to open row store: %w", err)
	}
	a.shutdown.RegisterCloser("row store", a.rows)
	log.Printf("Row store initialized: %s (compression=%t)", a.cfg.Rows.Path, a.cfg.Rows.Compression)

	if a.cfg.Snapshots.RestoreOnStart && a.snapshots != nil {
		if err := a.restoreSnapshots(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Snapshots.ExportOnShutdown && a.snapshots != nil {
		a.shutdown.RegisterCloser("snapshot export", server.CloserFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_, err := a.ExportSnapshots(ctx)
			return err
		}))
	}

	a.stats = observability.NewStatementStats(a.cfg.Executor.StatsWindow)
	a.events = events.NewNotifier(eventBufferSize)
	a.exec = executor.New(a.catalog, a.rows, executor.Config{
		MaxConcurrentStatements: a.cfg.Executor.MaxConcurrentStatements,
		Stats:                   a.stats,
		Events:                  a.events,
	})
	return nil
}

// OpenSnapshotStorage returns the configured snapshot store, or nil when
// snapshots are disabled.
func OpenSnapshotStorage(ctx context.Context, cfg config.SnapshotConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case config.SnapshotsNone, "":
		return nil, nil
	case config.SnapshotsLocal:
		objects, err := storage.NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		log.Printf("Snapshot storage initialized: local %s", cfg.Path)
		return objects, nil
	case config.SnapshotsS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3Cfg.Prefix = cfg.S3.Prefix
		objects, err := storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		log.Printf("Snapshot storage initialized: s3 bucket=%s region=%s endpoint=%s", cfg.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return objects, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot type: %s", cfg.Type)
	}
}

// restoreSnapshots loads the newest snapshot of every keyspace into an empty
// catalog. A catalog that already has keyspaces is left alone.
func (a *App) restoreSnapshots(ctx context.Context) error {
	if len(a.catalog.Keyspaces()) > 0 {
		log.Printf("Snapshot restore skipped: catalog is not empty")
		return nil
	}
	snaps, err := catalog.LoadLatestSnapshots(ctx, a.snapshots, snapshotFetchConcurrency)
	if err != nil {
		return fmt.Errorf("failed to load snapshots: %w", err)
	}
	for _, snap := range snaps {
		if err := a.catalog.RestoreSnapshot(ctx, snap, ""); err != nil {
			return fmt.Errorf("failed to restore keyspace %s: %w", snap.Keyspace, err)
		}
		log.Printf("Restored keyspace %s at version %d (%d types, %d tables)",
			snap.Keyspace, snap.Version, len(snap.Types), len(snap.Tables))
	}
	return nil
}

// ExportSnapshots writes a snapshot of every keyspace and returns the object
// paths.
func (a *App) ExportSnapshots(ctx context.Context) ([]string, error) {
	if a.snapshots == nil {
		return nil, fmt.Errorf("snapshots are disabled")
	}
	var paths []string
	for _, ks := range a.catalog.Keyspaces() {
		p, err := a.catalog.ExportSnapshot(ctx, a.snapshots, ks)
		if err != nil {
			return paths, fmt.Errorf("failed to export keyspace %s: %w", ks, err)
		}
		paths = append(paths, p)
	}
	log.Printf("Exported %d keyspace snapshots", len(paths))
	if a.cfg.Snapshots.Retain > 0 {
		if _, err := catalog.PruneSnapshots(ctx, a.snapshots, a.cfg.Snapshots.Retain); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func (a *App) startHTTP() error {
	handler := httpapi.NewHandler(a.exec, a.stats, a.cfg.Executor.DefaultKeyspace).
		WithEvents(a.events, a.shutdown.Done())
	middleware := httpapi.Chain(
		a.shutdown.HTTPMiddleware,
		httpapi.DefaultMiddleware(),
	)

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpAddr = lis.Addr()
	a.httpServer = &http.Server{
		Handler:      handler.Routes(middleware),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http server", server.HTTPCloser(a.httpServer, 10*time.Second))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.httpAddr)
		if err := a.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcAddr = lis.Addr()
	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		a.shutdown.UnaryInterceptor,
		grpcapi.LoggingInterceptor,
	))
	grpcapi.RegisterStatementServiceServer(a.grpcServer, grpcapi.NewStatementServer(a.exec, a.cfg.Executor.DefaultKeyspace))
	a.shutdown.RegisterCloser("grpc server", server.GRPCCloser(a.grpcServer, 10*time.Second))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC server listening on %s", a.grpcAddr)
		if err := a.grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// pruneStats drops stale statement statistics until ctx ends.
func (a *App) pruneStats(ctx context.Context) {
	defer a.wg.Done()
	interval := a.stats.Window() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

// Stop shuts the listeners down, drains in-flight requests and closes the
// stores.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")
	err := a.shutdown.Shutdown(ctx, "stop requested")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	log.Printf("udtd stopped")
	return err
}

// abort releases whatever Start opened before failing.
func (a *App) abort() {
	if err := a.shutdown.Shutdown(context.Background(), "startup failed"); err != nil {
		log.Printf("cleanup after failed start: %v", err)
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// WaitForShutdown blocks until a signal arrives or ctx ends, then stops the
// app.
func (a *App) WaitForShutdown(ctx context.Context) error {
	reason := a.shutdown.WaitForSignal(ctx)
	log.Printf("Shutdown triggered: %s", reason)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return a.Stop(stopCtx)
}

// Executor returns the statement executor. It is nil before Start.
func (a *App) Executor() *executor.Executor {
	return a.exec
}

// HTTPAddr returns the bound HTTP address, or nil when HTTP is disabled.
func (a *App) HTTPAddr() net.Addr {
	return a.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil when gRPC is disabled.
func (a *App) GRPCAddr() net.Addr {
	return a.grpcAddr
}
