package executor

import (
	"fmt"

	"github.com/oldsharp/udtschema/internal/codec"
	"github.com/oldsharp/udtschema/pkg/types"
)

// SchemaChange kinds and targets, as reported to clients.
const (
	ChangeCreated = "CREATED"
	ChangeUpdated = "UPDATED"
	ChangeDropped = "DROPPED"

	TargetKeyspace = "KEYSPACE"
	TargetType     = "TYPE"
	TargetTable    = "TABLE"
)

// SchemaChange describes the schema object a DDL statement changed.
type SchemaChange struct {
	Change   string `json:"change"`
	Target   string `json:"target"`
	Keyspace string `json:"keyspace"`
	Name     string `json:"name,omitempty"`
}

// Result holds the outcome of one statement. Rows hold decoded values:
// *types.Composite for user types, []interface{} for lists and sets,
// []types.MapEntry for maps.
type Result struct {
	Columns []string
	Types   []string
	Rows    [][]interface{}
	Change  *SchemaChange

	refs  []types.TypeRef
	codec *codec.Codec
}

func schemaChanged(change, target, keyspace, name string) *Result {
	return &Result{Change: &SchemaChange{Change: change, Target: target, Keyspace: keyspace, Name: name}}
}

// RowCount returns the number of rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// ColumnIndex returns the position of a column, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Text renders one value as a CQL literal using current type and field
// names.
func (r *Result) Text(row, col int) string {
	v := r.Rows[row][col]
	if r.codec == nil || col >= len(r.refs) {
		if v == nil {
			return "null"
		}
		return fmt.Sprint(v)
	}
	return r.codec.Format(r.refs[col], v)
}

// TextRows renders every value with Text.
func (r *Result) TextRows() [][]string {
	out := make([][]string, len(r.Rows))
	for i := range r.Rows {
		out[i] = make([]string, len(r.Columns))
		for j := range r.Columns {
			out[i][j] = r.Text(i, j)
		}
	}
	return out
}
