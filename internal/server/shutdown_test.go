package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	var order []string
	for _, name := range []string{"catalog", "rows", "http"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"http", "rows", "catalog"}, order)
	assert.True(t, sm.IsShuttingDown())

	select {
	case <-sm.Done():
	default:
		t.Fatal("done channel not closed")
	}

	// Second call is a no-op.
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 3)
}

func TestShutdownReportsFirstCloseError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	closed := false
	sm.RegisterCloser("store", CloserFunc(func() error {
		closed = true
		return nil
	}))
	sm.RegisterCloser("listener", CloserFunc(func() error { return errors.New("boom") }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener")
	assert.True(t, closed)
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second})
	require.True(t, sm.TrackRequest())

	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()
	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, int64(0), sm.InFlightCount())
	assert.False(t, sm.TrackRequest())
}

func TestShutdownDrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond})
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
}

func TestHTTPMiddleware(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	h := sm.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int64(1), sm.InFlightCount())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting down")
}

func TestUnaryInterceptor(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	resp, err := sm.UnaryInterceptor(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	_, err = sm.UnaryInterceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestWaitForSignalReturnsOnContext(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "context cancelled", sm.WaitForSignal(ctx))
}
