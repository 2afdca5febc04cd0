package executor

import (
	"context"
	"fmt"

	"github.com/oldsharp/udtschema/internal/codec"
	udterrors "github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/parser"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/oldsharp/udtschema/pkg/types"
)

func invalidRequest(format string, args ...interface{}) error {
	return udterrors.NewQueryError(udterrors.CodeInvalidRequest, fmt.Sprintf(format, args...))
}

// writableTable returns the definition of a user table a data statement
// writes to.
func (e *Executor) writableTable(sess *Session, q parser.QualifiedName) (*types.TableDef, error) {
	ks, err := keyspaceFor(sess, q)
	if err != nil {
		return nil, err
	}
	if ks == systemKeyspace {
		return nil, invalidRequest("system keyspace is not user-modifiable")
	}
	return e.catalog.Table(ks, q.Name)
}

// encodeKey checks and encodes a partition key value.
func (e *Executor) encodeKey(col types.ColumnDef, lit types.Literal) ([]byte, error) {
	pk, err := e.codec.CheckAndEncodeColumn(col, lit)
	if err != nil {
		return nil, err
	}
	if pk == nil {
		return nil, invalidRequest("Invalid null value for partition key part %s", col.Name)
	}
	if len(pk) == 0 {
		return nil, invalidRequest("Key may not be empty")
	}
	return pk, nil
}

// keyCondition checks that a WHERE clause restricts the partition key and
// encodes its value.
func (e *Executor) keyCondition(table *types.TableDef, cond parser.Condition) ([]byte, error) {
	pkCol, _ := table.PrimaryKey()
	if cond.Column != pkCol.Name {
		if _, ok := table.Column(cond.Column); !ok {
			return nil, invalidRequest("Undefined column name %s", cond.Column)
		}
		return nil, invalidRequest("Non PRIMARY KEY columns found in where clause: %s", cond.Column)
	}
	return e.encodeKey(pkCol, cond.Value)
}

// insert type-checks every value before writing the row. The row marker
// keeps the row visible when every regular column is null.
func (e *Executor) insert(ctx context.Context, sess *Session, s *parser.InsertStatement) (*Result, error) {
	table, err := e.writableTable(sess, s.Table)
	if err != nil {
		return nil, err
	}
	if len(s.Columns) != len(s.Values) {
		return nil, invalidRequest("Unmatched column names/values")
	}

	var pk []byte
	cells := map[string][]byte{storage.RowMarker: {}}
	seen := make(map[string]bool, len(s.Columns))
	for i, name := range s.Columns {
		col, ok := table.Column(name)
		if !ok {
			return nil, invalidRequest("Undefined column name %s", name)
		}
		if seen[name] {
			return nil, invalidRequest("Multiple definitions found for column %s", name)
		}
		seen[name] = true

		if col.PrimaryKey {
			if pk, err = e.encodeKey(col, s.Values[i]); err != nil {
				return nil, err
			}
			continue
		}
		data, err := e.codec.CheckAndEncodeColumn(col, s.Values[i])
		if err != nil {
			return nil, err
		}
		cells[col.Name] = data
	}
	if pk == nil {
		pkCol, _ := table.PrimaryKey()
		return nil, invalidRequest("Some partition key parts are missing: %s", pkCol.Name)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.rows.Put(ctx, table.Keyspace, table.Name, pk, cells); err != nil {
		return nil, storageError(udterrors.CodeWriteFailed, "failed to write row", err)
	}
	return &Result{}, nil
}

// update upserts the assigned columns. Collection appends read the current
// cell and write the merged encoding under the same writeMu hold as plain
// assignments.
func (e *Executor) update(ctx context.Context, sess *Session, s *parser.UpdateStatement) (*Result, error) {
	table, err := e.writableTable(sess, s.Table)
	if err != nil {
		return nil, err
	}
	pk, err := e.keyCondition(table, s.Where)
	if err != nil {
		return nil, err
	}

	cells := make(map[string][]byte, len(s.Assignments))
	appends := make(map[string]types.ColumnDef)
	for _, a := range s.Assignments {
		col, ok := table.Column(a.Column)
		if !ok {
			return nil, invalidRequest("Undefined column name %s", a.Column)
		}
		if col.PrimaryKey {
			return nil, invalidRequest("PRIMARY KEY part %s found in SET part", col.Name)
		}
		if _, dup := cells[col.Name]; dup {
			return nil, invalidRequest("Multiple incompatible setting of column %s", col.Name)
		}

		data, err := e.codec.CheckAndEncodeColumn(col, a.Value)
		if err != nil {
			return nil, err
		}
		if a.Append {
			if _, err := codec.Append(col.Type, nil, data); err != nil {
				return nil, err
			}
			appends[col.Name] = col
		}
		cells[col.Name] = data
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if len(appends) > 0 {
		row, found, err := e.rows.Get(ctx, table.Keyspace, table.Name, pk)
		if err != nil {
			return nil, storageError(udterrors.CodeReadFailed, "failed to read row", err)
		}
		for name, col := range appends {
			var existing []byte
			if found {
				existing = row.Cells[name]
			}
			merged, err := codec.Append(col.Type, existing, cells[name])
			if err != nil {
				return nil, err
			}
			cells[name] = merged
		}
	}

	if err := e.rows.Put(ctx, table.Keyspace, table.Name, pk, cells); err != nil {
		return nil, storageError(udterrors.CodeWriteFailed, "failed to write row", err)
	}
	return &Result{}, nil
}

// column is one selectable column of a table.
type column struct {
	name string
	ref  types.TypeRef
}

// project returns the positions of the selected columns; an empty selection
// means every column.
func project(all []column, names []string) ([]int, error) {
	if len(names) == 0 {
		out := make([]int, len(all))
		for i := range all {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, len(names))
	for i, name := range names {
		out[i] = -1
		for j, c := range all {
			if c.name == name {
				out[i] = j
				break
			}
		}
		if out[i] < 0 {
			return nil, invalidRequest("Undefined column name %s", name)
		}
	}
	return out, nil
}

func (e *Executor) newResult(all []column, picked []int) *Result {
	res := &Result{
		Columns: make([]string, len(picked)),
		Types:   make([]string, len(picked)),
		refs:    make([]types.TypeRef, len(picked)),
		codec:   e.codec,
	}
	for i, p := range picked {
		res.Columns[i] = all[p].name
		res.Types[i] = e.codec.TypeString(all[p].ref)
		res.refs[i] = all[p].ref
	}
	return res
}

// tableColumns lists the partition key first, then regular columns in
// declaration order.
func tableColumns(table *types.TableDef) []column {
	out := make([]column, 0, len(table.Columns))
	pkCol, _ := table.PrimaryKey()
	out = append(out, column{name: pkCol.Name, ref: pkCol.Type})
	for _, c := range table.Columns {
		if !c.PrimaryKey {
			out = append(out, column{name: c.Name, ref: c.Type})
		}
	}
	return out
}

func (e *Executor) selectRows(ctx context.Context, sess *Session, s *parser.SelectStatement) (*Result, error) {
	if isSystemTypesTable(s.From) {
		return e.selectUserTypes(s)
	}

	ks, err := keyspaceFor(sess, s.From)
	if err != nil {
		return nil, err
	}
	table, err := e.catalog.Table(ks, s.From.Name)
	if err != nil {
		return nil, err
	}
	all := tableColumns(table)
	picked, err := project(all, s.Columns)
	if err != nil {
		return nil, err
	}

	var rows []*storage.Row
	if s.Where != nil {
		pk, err := e.keyCondition(table, *s.Where)
		if err != nil {
			return nil, err
		}
		row, found, err := e.rows.Get(ctx, ks, table.Name, pk)
		if err != nil {
			return nil, storageError(udterrors.CodeReadFailed, "failed to read row", err)
		}
		if found {
			rows = []*storage.Row{row}
		}
	} else {
		if rows, err = e.rows.Scan(ctx, ks, table.Name); err != nil {
			return nil, storageError(udterrors.CodeReadFailed, "failed to scan table", err)
		}
	}

	res := e.newResult(all, picked)
	for _, row := range rows {
		values := make([]interface{}, len(picked))
		for i, p := range picked {
			data := row.Cells[all[p].name]
			if p == 0 {
				data = row.Key
			}
			v, err := e.codec.DecodeRef(all[p].ref, data)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		res.Rows = append(res.Rows, values)
	}
	return res, nil
}
