// Package server provides the lifecycle of the schema service listeners:
// request tracking, draining and ordered resource cleanup on shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown sequence.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight statements.
	// Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownManager tracks in-flight requests across listeners and, on
// shutdown, stops admitting new ones, waits for the rest and closes the
// registered resources in reverse registration order.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration

	inFlight atomic.Int64
	draining atomic.Bool

	done chan struct{}
	once sync.Once
	err  error

	mu      sync.Mutex
	closers []namedCloser
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &ShutdownManager{
		shutdownTimeout: cfg.ShutdownTimeout,
		drainTimeout:    cfg.DrainTimeout,
		done:            make(chan struct{}),
	}
}

// RegisterCloser adds a named resource to close during shutdown. Listeners
// should be registered after the stores they use so they close first.
func (sm *ShutdownManager) RegisterCloser(name string, closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: closer})
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives, ctx ends, or shutdown
// starts elsewhere, and returns the reason.
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) string {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return fmt.Sprintf("received signal %v", sig)
	case <-ctx.Done():
		return "context cancelled"
	case <-sm.done:
		return "shutdown requested"
	}
}

// Shutdown runs the shutdown sequence once. Later calls return the result
// of the first.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		log.Printf("server: shutting down: %s", reason)
		sm.draining.Store(true)
		close(sm.done)

		ctx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		if err := sm.drain(ctx); err != nil {
			sm.err = fmt.Errorf("drain failed: %w", err)
		}

		sm.mu.Lock()
		closers := sm.closers
		sm.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.closer.Close(); err != nil {
				log.Printf("server: failed to close %s: %v", c.name, err)
				if sm.err == nil {
					sm.err = fmt.Errorf("close %s: %w", c.name, err)
				}
				continue
			}
			log.Printf("server: closed %s", c.name)
		}
	})
	return sm.err
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		n := sm.inFlight.Load()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %d in-flight requests", n)
		case <-ticker.C:
		}
	}
}

// TrackRequest admits a request. It returns false once shutdown has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.inFlight.Add(1)
	if sm.draining.Load() {
		sm.inFlight.Add(-1)
		return false
	}
	return true
}

// UntrackRequest marks an admitted request as finished.
func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.draining.Load()
}

// InFlightCount returns the number of admitted, unfinished requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.inFlight.Load()
}

// Done is closed when shutdown begins.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// HTTPMiddleware rejects requests with a JSON 503 once shutdown has begun
// and tracks the rest.
func (sm *ShutdownManager) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sm.TrackRequest() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "server is shutting down"})
			return
		}
		defer sm.UntrackRequest()
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor is the gRPC counterpart of HTTPMiddleware.
func (sm *ShutdownManager) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !sm.TrackRequest() {
		return nil, status.Error(codes.Unavailable, "server is shutting down")
	}
	defer sm.UntrackRequest()
	return handler(ctx, req)
}

// HTTPCloser closes an http.Server gracefully within timeout.
func HTTPCloser(srv *http.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// GRPCCloser stops a grpc.Server gracefully, forcing it after timeout.
func GRPCCloser(srv *grpc.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeout):
			srv.Stop()
		}
		return nil
	})
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
