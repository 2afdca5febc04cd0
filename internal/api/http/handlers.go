package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/events"
	"github.com/oldsharp/udtschema/internal/observability"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"github.com/oldsharp/udtschema/pkg/types"
)

// maxRequestBytes bounds the size of an execute request body.
const maxRequestBytes = 1 << 20

// ExecuteRequest represents a statement execution request. CQL may hold
// several ;-separated statements.
type ExecuteRequest struct {
	Keyspace string `json:"keyspace,omitempty"`
	CQL      string `json:"cql"`
}

// ExecuteResponse represents the execution response.
type ExecuteResponse struct {
	Keyspace  string            `json:"keyspace,omitempty"`
	Results   []StatementResult `json:"results"`
	RequestID string            `json:"request_id"`
}

// StatementResult is the outcome of one statement. Rows hold every value
// rendered as a CQL literal.
type StatementResult struct {
	Columns []string               `json:"columns,omitempty"`
	Types   []string               `json:"types,omitempty"`
	Rows    [][]string             `json:"rows,omitempty"`
	Change  *executor.SchemaChange `json:"change,omitempty"`
}

// FieldResponse is one field of a user type.
type FieldResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypeResponse describes a user type with current names.
type TypeResponse struct {
	ID         uint64                  `json:"id"`
	Keyspace   string                  `json:"keyspace"`
	Name       string                  `json:"name"`
	Fields     []FieldResponse         `json:"fields"`
	CQL        string                  `json:"cql"`
	Dependents []catalog.DependentInfo `json:"dependents"`
	Transitive []catalog.DependentInfo `json:"transitive_dependents,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// StatsResponse reports statement statistics.
type StatsResponse struct {
	Window string        `json:"window"`
	Kinds  []CounterInfo `json:"statements"`
	Errors []CounterInfo `json:"errors"`
}

// CounterInfo is one statistics counter.
type CounterInfo struct {
	Name      string         `json:"name"`
	Count     int64          `json:"count"`
	Failures  int64          `json:"failures"`
	MeanMs    float64        `json:"mean_ms"`
	LastSeen  time.Time      `json:"last_seen"`
	Keyspaces map[string]int `json:"keyspaces,omitempty"`
}

// Handler serves the statement and schema API.
type Handler struct {
	exec            *executor.Executor
	stats           *observability.StatementStats
	defaultKeyspace string

	events *events.Notifier
	done   <-chan struct{}
}

// NewHandler creates a handler. stats may be nil.
func NewHandler(exec *executor.Executor, stats *observability.StatementStats, defaultKeyspace string) *Handler {
	return &Handler{exec: exec, stats: stats, defaultKeyspace: defaultKeyspace}
}

// Routes returns the API mux with mw applied to every API route. The health
// check bypasses mw.
func (h *Handler) Routes(mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/execute", mw(http.HandlerFunc(h.execute)))
	mux.Handle("GET /v1/keyspaces", mw(http.HandlerFunc(h.listKeyspaces)))
	mux.Handle("GET /v1/keyspaces/{keyspace}/types", mw(http.HandlerFunc(h.listTypes)))
	mux.Handle("GET /v1/keyspaces/{keyspace}/types/{name}", mw(http.HandlerFunc(h.getType)))
	mux.Handle("GET /v1/keyspaces/{keyspace}/history", mw(http.HandlerFunc(h.history)))
	mux.Handle("GET /v1/stats", mw(http.HandlerFunc(h.statsReport)))
	mux.Handle("GET /v1/events", mw(http.HandlerFunc(h.streamEvents)))
	mux.HandleFunc("GET /healthz", h.health)
	return mux
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeBadRequest(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.CQL == "" {
		writeBadRequest(w, r, http.StatusBadRequest, "cql is required")
		return
	}

	keyspace := req.Keyspace
	if keyspace == "" {
		keyspace = h.defaultKeyspace
	}
	sess := executor.NewSession(keyspace)
	results, err := h.exec.ExecuteScript(r.Context(), sess, req.CQL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ExecuteResponse{
		Keyspace:  sess.Keyspace(),
		Results:   make([]StatementResult, len(results)),
		RequestID: GetRequestID(r.Context()),
	}
	for i, res := range results {
		resp.Results[i] = StatementResult{
			Columns: res.Columns,
			Types:   res.Types,
			Rows:    res.TextRows(),
			Change:  res.Change,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listKeyspaces(w http.ResponseWriter, r *http.Request) {
	cat := h.exec.Catalog()
	type keyspaceInfo struct {
		Name    string `json:"name"`
		Version uint64 `json:"version"`
		Types   int    `json:"types"`
	}
	out := []keyspaceInfo{}
	for _, ks := range cat.Keyspaces() {
		version, err := cat.Version(ks)
		if err != nil {
			continue
		}
		defs, err := cat.ListTypes(ks)
		if err != nil {
			continue
		}
		out = append(out, keyspaceInfo{Name: ks, Version: version, Types: len(defs)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keyspaces": out})
}

func (h *Handler) describe(def *types.TypeDefinition) (TypeResponse, error) {
	c := h.exec.Codec()
	resp := TypeResponse{
		ID:        uint64(def.ID),
		Keyspace:  def.Keyspace,
		Name:      def.Name,
		Fields:    make([]FieldResponse, len(def.Fields)),
		CQL:       c.Describe(def),
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
	for i, f := range def.Fields {
		resp.Fields[i] = FieldResponse{Name: f.Name, Type: c.TypeString(f.Type)}
	}
	deps, err := h.exec.Catalog().DirectDependents(def.ID)
	if err != nil {
		return TypeResponse{}, err
	}
	resp.Dependents = deps
	if resp.Dependents == nil {
		resp.Dependents = []catalog.DependentInfo{}
	}
	return resp, nil
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	defs, err := h.exec.Catalog().ListTypes(r.PathValue("keyspace"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]TypeResponse, 0, len(defs))
	for _, def := range defs {
		resp, err := h.describe(def)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"types": out})
}

func (h *Handler) getType(w http.ResponseWriter, r *http.Request) {
	cat := h.exec.Catalog()
	id, err := cat.ResolveName(r.PathValue("keyspace"), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	def, err := cat.Resolve(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.describe(def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Transitive, err = cat.TransitiveDependents(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	changes, err := h.exec.Catalog().History(r.Context(), r.PathValue("keyspace"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []catalog.SchemaChange{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

func (h *Handler) statsReport(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Kinds: []CounterInfo{}, Errors: []CounterInfo{}}
	if h.stats != nil {
		resp.Window = h.stats.Window().String()
		resp.Kinds = counters(h.stats.GetTopKinds(50))
		resp.Errors = counters(h.stats.GetTopErrors(50))
	}
	writeJSON(w, http.StatusOK, resp)
}

func counters(in []observability.Counter) []CounterInfo {
	out := make([]CounterInfo, len(in))
	for i, c := range in {
		out[i] = CounterInfo{
			Name:      c.Name,
			Count:     c.Frequency,
			Failures:  c.Failures,
			MeanMs:    float64(c.Mean().Microseconds()) / 1000,
			LastSeen:  c.LastSeen,
			Keyspaces: c.Keyspaces,
		}
	}
	return out
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "udtd"})
}
