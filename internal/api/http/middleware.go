// Package http provides the HTTP API of the schema service.
package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// maxRequestIDLen bounds client-supplied request ids echoed into logs.
const maxRequestIDLen = 128

// ErrorResponse is the body of every non-2xx reply. Code and Category carry
// the statement error classification when there is one; Statement is the
// index of the failing statement in a script.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Statement *int                   `json:"statement,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware; the first argument runs first.
func Chain(mw ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		return h
	}
}

// DefaultMiddleware tags requests with an id, logs them, turns panics into
// 500 replies and defaults the content type to JSON.
func DefaultMiddleware() Middleware {
	return Chain(withRequestID, logRequests, recoverPanics, jsonContentType)
}

// withRequestID reuses a sane X-Request-ID from the client or mints one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// statusRecorder remembers the reply status. Unwrap lets
// http.ResponseController reach the real writer for flushes and deadlines.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		if r.URL.Path == "/healthz" {
			return
		}
		log.Printf("http: %s %s %d %s (request %s)",
			r.Method, r.URL.Path, sr.status, time.Since(start).Round(time.Microsecond), GetRequestID(r.Context()))
	})
}

// recoverPanics replies 500 unless the handler already started its reply.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			id := GetRequestID(r.Context())
			log.Printf("http: panic in %s %s (request %s): %v\n%s", r.Method, r.URL.Path, id, rec, debug.Stack())
			if sr, ok := w.(*statusRecorder); ok && sr.status != 0 {
				return
			}
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", RequestID: id})
		}()
		next.ServeHTTP(w, r)
	})
}

// jsonContentType is a default; streaming handlers override it.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: failed to encode response: %v", err)
	}
}

// GetRequestID returns the id withRequestID stored on the context, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
