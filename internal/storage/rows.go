package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spaolacci/murmur3"
)

// RowMarker is the column name of the cell INSERT writes so a row exists
// even when every regular column is null.
const RowMarker = ""

const (
	cellCodecRaw    = 0
	cellCodecSnappy = 1
)

// CreateCellsTableSQL creates the cell table. Values are opaque encoded bytes;
// the row store never interprets them.
const CreateCellsTableSQL = `
CREATE TABLE IF NOT EXISTS cells (
    keyspace TEXT NOT NULL,
    table_name TEXT NOT NULL,
    token INTEGER NOT NULL,
    pk BLOB NOT NULL,
    column_name TEXT NOT NULL,
    codec INTEGER NOT NULL DEFAULT 0,
    value BLOB NOT NULL,
    written_at INTEGER NOT NULL,
    PRIMARY KEY (keyspace, table_name, pk, column_name)
)`

// CreateCellsTokenIndexSQL orders scans by partition token.
const CreateCellsTokenIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_cells_token ON cells(keyspace, table_name, token)`

// Row is one partition read back from the row store.
type Row struct {
	Token int64
	Key   []byte
	Cells map[string][]byte
}

// RowStore keeps encoded cell values per (keyspace, table, partition key,
// column) in SQLite.
type RowStore struct {
	db       *sql.DB
	mu       sync.Mutex // Write-only lock
	compress bool
}

// Token returns the partition token of an encoded partition key: the first
// half of its murmur3 x64 128-bit hash.
func Token(pk []byte) int64 {
	h1, _ := murmur3.Sum128(pk)
	return int64(h1)
}

// OpenRowStore opens or creates a row store at dbPath. With compress set,
// values are written snappy-compressed; either form is read back.
func OpenRowStore(dbPath string, compress bool) (*RowStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("rows: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{CreateCellsTableSQL, CreateCellsTokenIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("rows: failed to initialize schema: %w", err)
		}
	}

	return &RowStore{db: db, compress: compress}, nil
}

// Close closes the database.
func (s *RowStore) Close() error {
	return s.db.Close()
}

// Put writes the given cells of one row in a single transaction. A nil value
// deletes the cell.
func (s *RowStore) Put(ctx context.Context, keyspace, table string, pk []byte, cells map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rows: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	token := Token(pk)
	now := time.Now().UnixMilli()
	for col, value := range cells {
		if value == nil {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM cells WHERE keyspace = ? AND table_name = ? AND pk = ? AND column_name = ?`,
				keyspace, table, pk, col)
		} else {
			codec, stored := s.encodeCell(value)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO cells (keyspace, table_name, token, pk, column_name, codec, value, written_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(keyspace, table_name, pk, column_name) DO UPDATE SET
					codec = excluded.codec, value = excluded.value, written_at = excluded.written_at`,
				keyspace, table, token, pk, col, codec, stored, now)
		}
		if err != nil {
			return fmt.Errorf("rows: failed to write %s.%s column %q: %w", keyspace, table, col, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rows: failed to commit: %w", err)
	}
	return nil
}

func (s *RowStore) encodeCell(value []byte) (int, []byte) {
	if !s.compress {
		return cellCodecRaw, value
	}
	return cellCodecSnappy, snappy.Encode(nil, value)
}

func decodeCell(codec int, stored []byte) ([]byte, error) {
	switch codec {
	case cellCodecRaw:
		if stored == nil {
			return []byte{}, nil
		}
		return stored, nil
	case cellCodecSnappy:
		out, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []byte{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cell codec %d", codec)
	}
}

// Get reads one row. The boolean is false when the row has no cells.
func (s *RowStore) Get(ctx context.Context, keyspace, table string, pk []byte) (*Row, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, codec, value FROM cells
		WHERE keyspace = ? AND table_name = ? AND pk = ?`, keyspace, table, pk)
	if err != nil {
		return nil, false, fmt.Errorf("rows: failed to read %s.%s: %w", keyspace, table, err)
	}
	defer rows.Close()

	row := &Row{Token: Token(pk), Key: pk, Cells: make(map[string][]byte)}
	for rows.Next() {
		var col string
		var codec int
		var stored []byte
		if err := rows.Scan(&col, &codec, &stored); err != nil {
			return nil, false, fmt.Errorf("rows: failed to scan cell: %w", err)
		}
		value, err := decodeCell(codec, stored)
		if err != nil {
			return nil, false, fmt.Errorf("rows: corrupt cell %s.%s column %q: %w", keyspace, table, col, err)
		}
		row.Cells[col] = value
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("rows: failed to read %s.%s: %w", keyspace, table, err)
	}
	return row, len(row.Cells) > 0, nil
}

// Scan returns every row of a table in token order.
func (s *RowStore) Scan(ctx context.Context, keyspace, table string) ([]*Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, pk, column_name, codec, value FROM cells
		WHERE keyspace = ? AND table_name = ?
		ORDER BY token, pk, column_name`, keyspace, table)
	if err != nil {
		return nil, fmt.Errorf("rows: failed to scan %s.%s: %w", keyspace, table, err)
	}
	defer rows.Close()

	var out []*Row
	var cur *Row
	for rows.Next() {
		var token int64
		var pk, stored []byte
		var col string
		var codec int
		if err := rows.Scan(&token, &pk, &col, &codec, &stored); err != nil {
			return nil, fmt.Errorf("rows: failed to scan cell: %w", err)
		}
		if cur == nil || cur.Token != token || !bytes.Equal(cur.Key, pk) {
			cur = &Row{Token: token, Key: pk, Cells: make(map[string][]byte)}
			out = append(out, cur)
		}
		value, err := decodeCell(codec, stored)
		if err != nil {
			return nil, fmt.Errorf("rows: corrupt cell %s.%s column %q: %w", keyspace, table, col, err)
		}
		cur.Cells[col] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: failed to scan %s.%s: %w", keyspace, table, err)
	}
	return out, nil
}

// Count returns the number of rows in a table.
func (s *RowStore) Count(ctx context.Context, keyspace, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT pk) FROM cells WHERE keyspace = ? AND table_name = ?`,
		keyspace, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("rows: failed to count %s.%s: %w", keyspace, table, err)
	}
	return n, nil
}

// DropTable deletes every cell of a table.
func (s *RowStore) DropTable(ctx context.Context, keyspace, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE keyspace = ? AND table_name = ?`, keyspace, table)
	if err != nil {
		return fmt.Errorf("rows: failed to drop %s.%s: %w", keyspace, table, err)
	}
	return nil
}

// DropKeyspace deletes every cell in a keyspace.
func (s *RowStore) DropKeyspace(ctx context.Context, keyspace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE keyspace = ?`, keyspace); err != nil {
		return fmt.Errorf("rows: failed to drop keyspace %s: %w", keyspace, err)
	}
	return nil
}
