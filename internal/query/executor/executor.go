// Package executor runs parsed CQL statements against the type catalog and
// the row store.
package executor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/codec"
	udterrors "github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/events"
	"github.com/oldsharp/udtschema/internal/observability"
	"github.com/oldsharp/udtschema/internal/query/parser"
	"github.com/oldsharp/udtschema/internal/storage"
	"golang.org/x/sync/semaphore"
)

// Config holds executor configuration.
type Config struct {
	// MaxConcurrentStatements bounds data statements running at once in a
	// batch (default: 8)
	MaxConcurrentStatements int

	// Stats receives one record per executed statement; may be nil
	Stats *observability.StatementStats

	// Events receives every applied schema change; may be nil
	Events *events.Notifier
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrentStatements: 8}
}

// Executor executes statements. It is safe for concurrent use; per-client
// state lives in a Session.
type Executor struct {
	catalog *catalog.Catalog
	codec   *codec.Codec
	rows    *storage.RowStore
	stats   *observability.StatementStats
	events  *events.Notifier
	sem     *semaphore.Weighted

	// writeMu serializes row writes so a collection append's read and
	// write of a cell cannot straddle another write to that row
	writeMu sync.Mutex
}

// New creates an executor over a catalog and a row store.
func New(cat *catalog.Catalog, rows *storage.RowStore, cfg Config) *Executor {
	if cfg.MaxConcurrentStatements <= 0 {
		cfg.MaxConcurrentStatements = DefaultConfig().MaxConcurrentStatements
	}
	return &Executor{
		catalog: cat,
		codec:   codec.New(cat),
		rows:    rows,
		stats:   cfg.Stats,
		events:  cfg.Events,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentStatements)),
	}
}

// Catalog returns the catalog the executor runs against.
func (e *Executor) Catalog() *catalog.Catalog {
	return e.catalog
}

// Codec returns the value codec bound to the executor's catalog.
func (e *Executor) Codec() *codec.Codec {
	return e.codec
}

// Session carries the current keyspace of one client.
type Session struct {
	mu       sync.RWMutex
	keyspace string
}

// NewSession creates a session whose current keyspace is keyspace, which may
// be empty.
func NewSession(keyspace string) *Session {
	return &Session{keyspace: keyspace}
}

// Keyspace returns the current keyspace.
func (s *Session) Keyspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyspace
}

func (s *Session) use(keyspace string) {
	s.mu.Lock()
	s.keyspace = keyspace
	s.mu.Unlock()
}

// Execute parses and executes a single statement.
func (e *Executor) Execute(ctx context.Context, sess *Session, cql string) (*Result, error) {
	stmt, err := parser.Parse(cql)
	if err != nil {
		return nil, parseError(err)
	}
	return e.ExecuteStatement(ctx, sess, stmt)
}

// ExecuteStatement executes a parsed statement.
func (e *Executor) ExecuteStatement(ctx context.Context, sess *Session, stmt parser.Statement) (*Result, error) {
	return e.run(ctx, sess, stmt, nil)
}

func (e *Executor) run(ctx context.Context, sess *Session, stmt parser.Statement, b bindings) (*Result, error) {
	if sess == nil {
		sess = NewSession("")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := e.dispatch(ctx, sess, stmt, b)
	if err != nil {
		var se *udterrors.StatementError
		if !errors.As(err, &se) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("executor: unexpected failure in %s: %v", statementKind(stmt), err)
			err = udterrors.NewInternalError("statement failed", err)
		}
	}
	if e.stats != nil {
		e.stats.RecordStatement(statementKind(stmt), statementKeyspace(sess, stmt), time.Since(start), udterrors.GetCode(err))
	}
	if err == nil && res != nil && res.Change != nil && e.events != nil {
		e.publish(res.Change)
	}
	return res, err
}

func (e *Executor) publish(change *SchemaChange) {
	var version uint64
	if change.Change != ChangeDropped || change.Target != TargetKeyspace {
		version, _ = e.catalog.Version(change.Keyspace)
	}
	e.events.Publish(events.Event{
		Change:   change.Change,
		Target:   change.Target,
		Keyspace: change.Keyspace,
		Name:     change.Name,
		Version:  version,
	})
}

func (e *Executor) dispatch(ctx context.Context, sess *Session, stmt parser.Statement, b bindings) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateKeyspaceStatement:
		return e.createKeyspace(ctx, s)
	case *parser.DropKeyspaceStatement:
		return e.dropKeyspace(ctx, s)
	case *parser.UseStatement:
		if !e.catalog.HasKeyspace(s.Keyspace) {
			return nil, udterrors.NewUnknownKeyspaceError(s.Keyspace)
		}
		sess.use(s.Keyspace)
		return &Result{}, nil
	case *parser.CreateTypeStatement:
		return e.createType(ctx, sess, s, b)
	case *parser.AlterTypeStatement:
		return e.alterType(ctx, sess, s, b)
	case *parser.DropTypeStatement:
		return e.dropType(ctx, sess, s, b)
	case *parser.CreateTableStatement:
		return e.createTable(ctx, sess, s, b)
	case *parser.AlterTableStatement:
		return e.alterTable(ctx, sess, s, b)
	case *parser.DropTableStatement:
		return e.dropTable(ctx, sess, s)
	case *parser.InsertStatement:
		return e.insert(ctx, sess, s)
	case *parser.UpdateStatement:
		return e.update(ctx, sess, s)
	case *parser.SelectStatement:
		return e.selectRows(ctx, sess, s)
	default:
		return nil, udterrors.NewQueryError(udterrors.CodeUnsupportedSyntax, "unsupported statement "+stmt.String())
	}
}

// keyspaceFor returns the keyspace of a possibly unqualified name.
func keyspaceFor(sess *Session, q parser.QualifiedName) (string, error) {
	if q.Keyspace != "" {
		return q.Keyspace, nil
	}
	if ks := sess.Keyspace(); ks != "" {
		return ks, nil
	}
	return "", udterrors.NewQueryError(udterrors.CodeInvalidRequest,
		"No keyspace has been specified. USE a keyspace, or explicitly specify keyspace.tablename")
}

func parseError(err error) error {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return udterrors.NewQueryError(udterrors.CodeParseError, pe.Error()).
			WithDetails(map[string]interface{}{"position": pe.Position})
	}
	return udterrors.NewQueryError(udterrors.CodeParseError, err.Error())
}

func storageError(code, message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return udterrors.NewStorageError(code, message, err)
}

// statementKind names a statement for statistics and logs.
func statementKind(stmt parser.Statement) string {
	switch s := stmt.(type) {
	case *parser.CreateKeyspaceStatement:
		return "CREATE KEYSPACE"
	case *parser.DropKeyspaceStatement:
		return "DROP KEYSPACE"
	case *parser.UseStatement:
		return "USE"
	case *parser.CreateTypeStatement:
		return "CREATE TYPE"
	case *parser.AlterTypeStatement:
		return "ALTER TYPE"
	case *parser.DropTypeStatement:
		return "DROP TYPE"
	case *parser.CreateTableStatement:
		return "CREATE TABLE"
	case *parser.AlterTableStatement:
		return "ALTER TABLE"
	case *parser.DropTableStatement:
		return "DROP TABLE"
	case *parser.InsertStatement:
		return "INSERT"
	case *parser.UpdateStatement:
		return "UPDATE"
	case *parser.SelectStatement:
		if isSystemTypesTable(s.From) {
			return "SELECT SYSTEM"
		}
		return "SELECT"
	default:
		return "UNKNOWN"
	}
}

func statementKeyspace(sess *Session, stmt parser.Statement) string {
	var q parser.QualifiedName
	switch s := stmt.(type) {
	case *parser.CreateKeyspaceStatement:
		return s.Name
	case *parser.DropKeyspaceStatement:
		return s.Name
	case *parser.UseStatement:
		return s.Keyspace
	case *parser.CreateTypeStatement:
		q = s.Name
	case *parser.AlterTypeStatement:
		q = s.Name
	case *parser.DropTypeStatement:
		q = s.Name
	case *parser.CreateTableStatement:
		q = s.Name
	case *parser.AlterTableStatement:
		q = s.Name
	case *parser.DropTableStatement:
		q = s.Name
	case *parser.InsertStatement:
		q = s.Table
	case *parser.UpdateStatement:
		q = s.Table
	case *parser.SelectStatement:
		q = s.From
	}
	ks, _ := keyspaceFor(sess, q)
	return ks
}
