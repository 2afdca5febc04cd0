package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// CreateTable registers a table and an edge from each column to every user
// type its type references.
func (c *Catalog) CreateTable(ctx context.Context, def *types.TableDef, ifNotExists bool) error {
	if def == nil || def.Name == "" {
		return errors.NewInvalidSchemaError("table name must not be empty")
	}

	ks, err := c.lockKeyspace(def.Keyspace)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	if _, exists := ks.tables[def.Name]; exists {
		if ifNotExists {
			return nil
		}
		return errors.NewDuplicateNameError("table", def.QualifiedName())
	}
	if err := ks.validateTable(def); err != nil {
		return err
	}

	table := def.Clone()
	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeCreateTable,
			Target:   table.Name,
			Detail:   map[string]interface{}{"columns": len(table.Columns)},
		},
		Version:   ks.version + 1,
		PutTables: []*types.TableDef{table},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	ks.tables[table.Name] = table
	for _, col := range table.Columns {
		ks.graph.AddReference(types.ColumnDependent(ks.name, table.Name, col.Name), col.Type)
	}
	ks.version++
	return nil
}

func (ks *keyspace) validateTable(def *types.TableDef) error {
	if len(def.Columns) == 0 {
		return errors.NewInvalidSchemaError(fmt.Sprintf("table %s must have at least one column", def.QualifiedName()))
	}

	pkCount := 0
	seen := make(map[string]bool, len(def.Columns))
	for _, col := range def.Columns {
		if col.Name == "" {
			return errors.NewInvalidSchemaError("column name must not be empty")
		}
		if seen[col.Name] {
			return errors.NewDuplicateNameError("column", col.Name)
		}
		seen[col.Name] = true

		if err := ks.validateFieldType(0, col.Type); err != nil {
			return err
		}
		if col.PrimaryKey {
			pkCount++
			if col.Type.Kind.IsCollection() {
				return errors.NewInvalidSchemaError(fmt.Sprintf("invalid collection type for PRIMARY KEY component %s", col.Name))
			}
		}
	}

	switch {
	case pkCount == 0:
		return errors.NewInvalidSchemaError(fmt.Sprintf("table %s has no PRIMARY KEY", def.QualifiedName()))
	case pkCount > 1:
		return errors.NewInvalidSchemaError(fmt.Sprintf("table %s declares more than one PRIMARY KEY column", def.QualifiedName()))
	}
	return nil
}

// AddColumn appends a regular column to a table.
func (c *Catalog) AddColumn(ctx context.Context, keyspace, table string, col types.ColumnDef) error {
	ks, err := c.lockKeyspace(keyspace)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	current, ok := ks.tables[table]
	if !ok {
		return errors.NewUnknownTableError(keyspace + "." + table)
	}
	if _, exists := current.Column(col.Name); exists {
		return errors.NewDuplicateNameError("column", col.Name)
	}
	if col.Name == "" {
		return errors.NewInvalidSchemaError("column name must not be empty")
	}
	if err := ks.validateFieldType(0, col.Type); err != nil {
		return err
	}

	updated := current.Clone()
	updated.Columns = append(updated.Columns, types.ColumnDef{Name: col.Name, Type: col.Type.Clone()})

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeAddColumn,
			Target:   table,
			Detail:   map[string]interface{}{"column": col.Name},
		},
		Version:   ks.version + 1,
		PutTables: []*types.TableDef{updated},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	ks.tables[table] = updated
	ks.graph.AddReference(types.ColumnDependent(ks.name, table, col.Name), col.Type)
	ks.version++
	return nil
}

// DropTable removes a table and its column edges.
func (c *Catalog) DropTable(ctx context.Context, keyspace, table string, ifExists bool) error {
	ks, err := c.lockKeyspace(keyspace)
	if err != nil {
		return err
	}
	defer ks.mu.Unlock()

	current, ok := ks.tables[table]
	if !ok {
		if ifExists {
			return nil
		}
		return errors.NewUnknownTableError(keyspace + "." + table)
	}

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: ks.name,
			Kind:     ChangeDropTable,
			Target:   table,
		},
		Version:      ks.version + 1,
		DeleteTables: []TableKey{{Keyspace: keyspace, Name: table}},
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	for _, col := range current.Columns {
		ks.graph.RemoveAllFrom(types.ColumnDependent(ks.name, table, col.Name))
	}
	delete(ks.tables, table)
	ks.version++
	return nil
}

// Table returns a copy of a table definition.
func (c *Catalog) Table(keyspace, name string) (*types.TableDef, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()

	t, ok := ks.tables[name]
	if !ok {
		return nil, errors.NewUnknownTableError(keyspace + "." + name)
	}
	return t.Clone(), nil
}

// ListTables returns copies of every table in the keyspace sorted by name.
func (c *Catalog) ListTables(keyspace string) ([]*types.TableDef, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()

	out := make([]*types.TableDef, 0, len(ks.tables))
	for _, t := range ks.tables {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
