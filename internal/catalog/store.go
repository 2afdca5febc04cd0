package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists catalog state in SQLite (catalog.db).
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock
}

// KeyspaceRecord is the persisted form of a keyspace.
type KeyspaceRecord struct {
	Name              string    `json:"name"`
	ReplicationFactor int       `json:"replication_factor"`
	Version           uint64    `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableKey identifies a table.
type TableKey struct {
	Keyspace string
	Name     string
}

// Mutation is the set of row changes for one committed schema change. Commit
// applies it in a single transaction together with its change log record.
type Mutation struct {
	Change SchemaChange

	PutKeyspace    *KeyspaceRecord
	DeleteKeyspace string

	// Version is the keyspace version after the change
	Version uint64

	PutTypes    []*types.TypeDefinition
	DeleteTypes []types.TypeID

	PutTables    []*types.TableDef
	DeleteTables []TableKey

	// NextTypeID, when non-zero, raises the persisted id allocator
	NextTypeID types.TypeID
}

// State is everything Load reads back from the store.
type State struct {
	Keyspaces  []KeyspaceRecord
	Types      []*types.TypeDefinition
	Tables     []*types.TableDef
	NextTypeID types.TypeID
}

// OpenStore opens or creates the catalog database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read pool is opened after the schema exists so read-only mode can attach
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes both connections.
func (s *Store) Close() error {
	var firstErr error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Commit applies a mutation atomically. Either every row change and the change
// log record land, or none do.
func (s *Store) Commit(ctx context.Context, m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "catalog: failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := applyMutation(ctx, tx, m); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "catalog: failed to apply "+m.Change.Kind, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "catalog: failed to commit "+m.Change.Kind, err)
	}
	return nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m *Mutation) error {
	now := time.Now().Unix()

	if m.PutKeyspace != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO keyspaces (name, replication_factor, version, created_at) VALUES (?, ?, ?, ?)`,
			m.PutKeyspace.Name, m.PutKeyspace.ReplicationFactor, m.PutKeyspace.Version, m.PutKeyspace.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert keyspace %s: %w", m.PutKeyspace.Name, err)
		}
	}

	if m.DeleteKeyspace != "" {
		for _, q := range []string{
			`DELETE FROM user_types WHERE keyspace = ?`,
			`DELETE FROM tables WHERE keyspace = ?`,
			`DELETE FROM keyspaces WHERE name = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, m.DeleteKeyspace); err != nil {
				return fmt.Errorf("drop keyspace %s: %w", m.DeleteKeyspace, err)
			}
		}
	} else if m.Change.Keyspace != "" && m.PutKeyspace == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE keyspaces SET version = ? WHERE name = ?`, m.Version, m.Change.Keyspace); err != nil {
			return fmt.Errorf("bump keyspace version: %w", err)
		}
	}

	for _, id := range m.DeleteTypes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_types WHERE type_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete type %s: %w", id, err)
		}
	}
	for _, def := range m.PutTypes {
		fieldsJSON, err := json.Marshal(def.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields of %s: %w", def.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_types (type_id, keyspace, name, fields_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(type_id) DO UPDATE SET
				name = excluded.name,
				fields_json = excluded.fields_json,
				updated_at = excluded.updated_at`,
			int64(def.ID), def.Keyspace, def.Name, string(fieldsJSON), def.CreatedAt.Unix(), def.UpdatedAt.Unix())
		if err != nil {
			return fmt.Errorf("upsert type %s: %w", def.Name, err)
		}
	}

	for _, key := range m.DeleteTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE keyspace = ? AND name = ?`, key.Keyspace, key.Name); err != nil {
			return fmt.Errorf("delete table %s.%s: %w", key.Keyspace, key.Name, err)
		}
	}
	for _, t := range m.PutTables {
		colsJSON, err := json.Marshal(t.Columns)
		if err != nil {
			return fmt.Errorf("marshal columns of %s: %w", t.QualifiedName(), err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tables (keyspace, name, columns_json, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(keyspace, name) DO UPDATE SET columns_json = excluded.columns_json`,
			t.Keyspace, t.Name, string(colsJSON), now)
		if err != nil {
			return fmt.Errorf("upsert table %s: %w", t.QualifiedName(), err)
		}
	}

	if m.NextTypeID != 0 {
		_, err := tx.ExecContext(ctx,
			`UPDATE catalog_meta SET value = MAX(value, ?) WHERE key = 'next_type_id'`, int64(m.NextTypeID))
		if err != nil {
			return fmt.Errorf("advance type id allocator: %w", err)
		}
	}

	detail := m.Change.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal change detail: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_changes (keyspace, version, kind, target, detail_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Change.Keyspace, m.Version, m.Change.Kind, m.Change.Target, string(detailJSON), now)
	if err != nil {
		return fmt.Errorf("record schema change: %w", err)
	}
	return nil
}

// Load reads the full persisted state.
func (s *Store) Load(ctx context.Context) (*State, error) {
	st := &State{}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT name, replication_factor, version, created_at FROM keyspaces ORDER BY name`)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load keyspaces", err)
	}
	for rows.Next() {
		var rec KeyspaceRecord
		var created int64
		if err := rows.Scan(&rec.Name, &rec.ReplicationFactor, &rec.Version, &created); err != nil {
			rows.Close()
			return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to scan keyspace", err)
		}
		rec.CreatedAt = time.Unix(created, 0)
		st.Keyspaces = append(st.Keyspaces, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load keyspaces", err)
	}

	rows, err = s.readDB.QueryContext(ctx,
		`SELECT type_id, keyspace, name, fields_json, created_at, updated_at FROM user_types ORDER BY type_id`)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load types", err)
	}
	for rows.Next() {
		var id int64
		var fieldsJSON string
		var created, updated int64
		def := &types.TypeDefinition{}
		if err := rows.Scan(&id, &def.Keyspace, &def.Name, &fieldsJSON, &created, &updated); err != nil {
			rows.Close()
			return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to scan type", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &def.Fields); err != nil {
			rows.Close()
			return nil, errors.NewStorageError(errors.CodeReadFailed, fmt.Sprintf("catalog: corrupt fields for type %d", id), err)
		}
		def.ID = types.TypeID(id)
		def.CreatedAt = time.Unix(created, 0)
		def.UpdatedAt = time.Unix(updated, 0)
		st.Types = append(st.Types, def)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load types", err)
	}

	rows, err = s.readDB.QueryContext(ctx,
		`SELECT keyspace, name, columns_json FROM tables ORDER BY keyspace, name`)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load tables", err)
	}
	for rows.Next() {
		var colsJSON string
		t := &types.TableDef{}
		if err := rows.Scan(&t.Keyspace, &t.Name, &colsJSON); err != nil {
			rows.Close()
			return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to scan table", err)
		}
		if err := json.Unmarshal([]byte(colsJSON), &t.Columns); err != nil {
			rows.Close()
			return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: corrupt columns for table "+t.QualifiedName(), err)
		}
		st.Tables = append(st.Tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load tables", err)
	}

	var next int64
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT value FROM catalog_meta WHERE key = 'next_type_id'`).Scan(&next); err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to load type id allocator", err)
	}
	st.NextTypeID = types.TypeID(next)

	return st, nil
}
