package types

import "time"

// FieldDef is a single named field of a user-defined type.
type FieldDef struct {
	// Name is the field name, unique within the type
	Name string `json:"name"`

	// Type is the field type reference
	Type TypeRef `json:"type"`
}

// TypeDefinition is a user-defined composite type. Fields are only ever
// appended so that values encoded under an older definition stay readable.
type TypeDefinition struct {
	// ID is the stable type id
	ID TypeID `json:"id"`

	// Keyspace is the namespace the type belongs to
	Keyspace string `json:"keyspace"`

	// Name is the current, mutable type name
	Name string `json:"name"`

	// Fields lists the fields in declaration order
	Fields []FieldDef `json:"fields"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldIndex returns the position of the named field, or -1.
func (d *TypeDefinition) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames returns the field names in declaration order.
func (d *TypeDefinition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Clone returns a deep copy of the definition.
func (d *TypeDefinition) Clone() *TypeDefinition {
	c := *d
	c.Fields = make([]FieldDef, len(d.Fields))
	for i, f := range d.Fields {
		c.Fields[i] = FieldDef{Name: f.Name, Type: f.Type.Clone()}
	}
	return &c
}

// ColumnDef defines a single column of a table.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the column type reference
	Type TypeRef `json:"type"`

	// PrimaryKey marks the partition key column
	PrimaryKey bool `json:"primary_key"`
}

// TableDef is the subset of a table definition this subsystem tracks.
type TableDef struct {
	Keyspace string      `json:"keyspace"`
	Name     string      `json:"name"`
	Columns  []ColumnDef `json:"columns"`
}

// QualifiedName returns keyspace.table.
func (t *TableDef) QualifiedName() string {
	return t.Keyspace + "." + t.Name
}

// PrimaryKey returns the partition key column.
func (t *TableDef) PrimaryKey() (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Column looks up a column by name.
func (t *TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Clone returns a deep copy of the table definition.
func (t *TableDef) Clone() *TableDef {
	c := *t
	c.Columns = make([]ColumnDef, len(t.Columns))
	for i, col := range t.Columns {
		c.Columns[i] = ColumnDef{Name: col.Name, Type: col.Type.Clone(), PrimaryKey: col.PrimaryKey}
	}
	return &c
}

// DependentKind says whether a dependent is a type or a table column.
type DependentKind string

const (
	DependentType  DependentKind = "type"
	DependentTable DependentKind = "table"
)

// Dependent is the source side of a dependency edge: something whose
// definition directly references a user-defined type.
type Dependent struct {
	Kind DependentKind `json:"kind"`

	// TypeID identifies a dependent type (Kind == DependentType)
	TypeID TypeID `json:"type_id,omitempty"`

	// Keyspace, Table and Column identify a dependent column (Kind == DependentTable)
	Keyspace string `json:"keyspace,omitempty"`
	Table    string `json:"table,omitempty"`
	Column   string `json:"column,omitempty"`
}

// Key returns a string that uniquely identifies the dependent.
func (d Dependent) Key() string {
	if d.Kind == DependentType {
		return "type:" + d.TypeID.String()
	}
	return "table:" + d.Keyspace + "." + d.Table + "." + d.Column
}

// TypeDependent returns the dependent for a type.
func TypeDependent(id TypeID) Dependent {
	return Dependent{Kind: DependentType, TypeID: id}
}

// ColumnDependent returns the dependent for a table column.
func ColumnDependent(keyspace, table, column string) Dependent {
	return Dependent{Kind: DependentTable, Keyspace: keyspace, Table: table, Column: column}
}
