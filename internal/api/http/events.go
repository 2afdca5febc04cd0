package http

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/oldsharp/udtschema/internal/events"
)

// keepAliveInterval is how often an idle event stream sends a comment line.
const keepAliveInterval = 15 * time.Second

// WithEvents enables GET /v1/events. Streams end when done is closed.
func (h *Handler) WithEvents(n *events.Notifier, done <-chan struct{}) *Handler {
	h.events = n
	h.done = done
	return h
}

// streamEvents serves schema change events as server-sent events. The
// optional keyspace query parameter is a comma-separated filter.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeBadRequest(w, r, http.StatusNotFound, "schema events are not enabled")
		return
	}
	var keyspaces []string
	if v := r.URL.Query().Get("keyspace"); v != "" {
		keyspaces = strings.Split(v, ",")
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.events.Subscribe(keyspaces...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	if err := rc.Flush(); err != nil {
		log.Printf("http: event stream cannot flush (request %s): %v", GetRequestID(r.Context()), err)
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("http: failed to encode event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: schema_change\ndata: %s\n\n", data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
