package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/observability"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	rows, err := storage.OpenRowStore(filepath.Join(t.TempDir(), "rows.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })

	stats := observability.NewStatementStats(time.Hour)
	cfg := executor.DefaultConfig()
	cfg.Stats = stats
	exec := executor.New(catalog.New(), rows, cfg)
	return NewHandler(exec, stats, "").Routes(DefaultMiddleware())
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func execute(t *testing.T, h http.Handler, keyspace, cql string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/v1/execute", ExecuteRequest{Keyspace: keyspace, CQL: cql})
}

const setupScript = `
CREATE KEYSPACE ks WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
USE ks;
CREATE TYPE address (street text, zip int);
CREATE TYPE person (name text, home address);
CREATE TABLE people (id int PRIMARY KEY, p person);
INSERT INTO people (id, p) VALUES (1, {name: 'ann', home: {street: 'main', zip: 10}});
`

func TestExecuteScript(t *testing.T) {
	h := newTestServer(t)

	rec := execute(t, h, "", setupScript+"SELECT id FROM people;")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp ExecuteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ks", resp.Keyspace)
	require.Len(t, resp.Results, 7)

	require.NotNil(t, resp.Results[0].Change)
	assert.Equal(t, executor.ChangeCreated, resp.Results[0].Change.Change)
	assert.Equal(t, executor.TargetKeyspace, resp.Results[0].Change.Target)

	require.NotNil(t, resp.Results[2].Change)
	assert.Equal(t, executor.TargetType, resp.Results[2].Change.Target)
	assert.Equal(t, "address", resp.Results[2].Change.Name)

	last := resp.Results[6]
	assert.Equal(t, []string{"id"}, last.Columns)
	assert.Equal(t, []string{"int"}, last.Types)
	assert.Equal(t, [][]string{{"1"}}, last.Rows)
}

func TestExecuteErrors(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusOK, execute(t, h, "", setupScript).Code)

	tests := []struct {
		name   string
		cql    string
		status int
		code   string
	}{
		{"parse error", "CREATE TYPE (", http.StatusBadRequest, "PARSE_ERROR"},
		{"unknown type", "DROP TYPE nope", http.StatusNotFound, "UNKNOWN_TYPE"},
		{"in use", "DROP TYPE address", http.StatusConflict, "IN_USE"},
		{"duplicate", "CREATE TYPE address (x int)", http.StatusConflict, "DUPLICATE_NAME"},
		{"mismatch", "INSERT INTO people (id, p) VALUES (2, {name: 3})", http.StatusBadRequest, "FIELD_TYPE_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := execute(t, h, "ks", tt.cql)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestExecuteReportsFailingStatement(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusOK, execute(t, h, "", setupScript).Code)

	rec := execute(t, h, "ks", "CREATE TYPE a (x int); DROP TYPE nope; CREATE TYPE b (y int)")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Statement)
	assert.Equal(t, 1, *resp.Statement)

	rec = do(t, h, http.MethodGet, "/v1/keyspaces/ks/types/b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteBadRequests(t *testing.T) {
	h := newTestServer(t)

	rec := execute(t, h, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/execute", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTypeEndpoints(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusOK, execute(t, h, "", setupScript).Code)
	require.Equal(t, http.StatusOK, execute(t, h, "ks", "ALTER TYPE address RENAME TO location").Code)

	rec := do(t, h, http.MethodGet, "/v1/keyspaces/ks/types/location", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var typ TypeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&typ))
	assert.Equal(t, "location", typ.Name)
	assert.Equal(t, "CREATE TYPE ks.location (street text, zip int)", typ.CQL)
	assert.Equal(t, []FieldResponse{{Name: "street", Type: "text"}, {Name: "zip", Type: "int"}}, typ.Fields)
	require.Len(t, typ.Dependents, 1)
	assert.Equal(t, "person", typ.Dependents[0].Name)
	assert.Len(t, typ.Transitive, 2)

	rec = do(t, h, http.MethodGet, "/v1/keyspaces/ks/types/person", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&typ))
	assert.Equal(t, []FieldResponse{{Name: "name", Type: "text"}, {Name: "home", Type: "location"}}, typ.Fields)

	rec = do(t, h, http.MethodGet, "/v1/keyspaces/ks/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Types []TypeResponse `json:"types"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Types, 2)

	rec = do(t, h, http.MethodGet, "/v1/keyspaces/missing/types", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAndKeyspaces(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusOK, execute(t, h, "", setupScript).Code)

	rec := do(t, h, http.MethodGet, "/v1/keyspaces/ks/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Changes []catalog.SchemaChange `json:"changes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	assert.NotEmpty(t, history.Changes)

	rec = do(t, h, http.MethodGet, "/v1/keyspaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ks struct {
		Keyspaces []struct {
			Name  string `json:"name"`
			Types int    `json:"types"`
		} `json:"keyspaces"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ks))
	require.Len(t, ks.Keyspaces, 1)
	assert.Equal(t, "ks", ks.Keyspaces[0].Name)
	assert.Equal(t, 2, ks.Keyspaces[0].Types)
}

func TestStatsAndHealth(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusOK, execute(t, h, "", setupScript).Code)
	execute(t, h, "ks", "DROP TYPE nope")

	rec := do(t, h, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "1h0m0s", stats.Window)
	assert.NotEmpty(t, stats.Kinds)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "UNKNOWN_TYPE", stats.Errors[0].Name)

	rec = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.RequestID)
}
