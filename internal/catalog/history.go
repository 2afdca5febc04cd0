package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oldsharp/udtschema/internal/errors"
)

// Schema change kinds recorded in the change log.
const (
	ChangeCreateKeyspace = "CREATE_KEYSPACE"
	ChangeDropKeyspace   = "DROP_KEYSPACE"
	ChangeCreateType     = "CREATE_TYPE"
	ChangeAddField       = "ALTER_TYPE_ADD"
	ChangeRenameField    = "ALTER_TYPE_RENAME_FIELD"
	ChangeRenameType     = "ALTER_TYPE_RENAME"
	ChangeDropType       = "DROP_TYPE"
	ChangeCreateTable    = "CREATE_TABLE"
	ChangeAddColumn      = "ALTER_TABLE_ADD"
	ChangeDropTable      = "DROP_TABLE"
	ChangeRestore        = "RESTORE_SNAPSHOT"
)

// SchemaChange is one committed schema mutation.
type SchemaChange struct {
	Keyspace  string                 `json:"keyspace"`
	Version   uint64                 `json:"version"`
	Kind      string                 `json:"kind"`
	Target    string                 `json:"target"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// History returns the change log of a keyspace ordered by version. The log
// outlives the keyspace: a dropped keyspace keeps its history.
func (s *Store) History(ctx context.Context, keyspace string) ([]SchemaChange, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT keyspace, version, kind, target, detail_json, created_at
		FROM schema_changes WHERE keyspace = ? ORDER BY id ASC`, keyspace)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to read history", err)
	}
	defer rows.Close()

	var out []SchemaChange
	for rows.Next() {
		var ch SchemaChange
		var detailJSON string
		var created int64
		if err := rows.Scan(&ch.Keyspace, &ch.Version, &ch.Kind, &ch.Target, &detailJSON, &created); err != nil {
			return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to scan history", err)
		}
		if detailJSON != "" && detailJSON != "{}" {
			if err := json.Unmarshal([]byte(detailJSON), &ch.Detail); err != nil {
				return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: corrupt change detail", err)
			}
		}
		ch.CreatedAt = time.Unix(created, 0)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "catalog: failed to read history", err)
	}
	return out, nil
}

// History returns the committed schema changes of a keyspace. An in-memory
// catalog keeps its log in memory.
func (c *Catalog) History(ctx context.Context, keyspace string) ([]SchemaChange, error) {
	if c.store != nil {
		return c.store.History(ctx, keyspace)
	}

	c.logMu.Lock()
	defer c.logMu.Unlock()
	var out []SchemaChange
	for _, ch := range c.changes {
		if ch.Keyspace == keyspace {
			out = append(out, ch)
		}
	}
	return out, nil
}
