package parser

import (
	"fmt"
	"strings"

	"github.com/oldsharp/udtschema/pkg/types"
)

// Statement represents a parsed CQL statement.
type Statement interface {
	statementNode()
	String() string
}

// QualifiedName is an optionally keyspace-qualified name.
type QualifiedName struct {
	Keyspace string
	Name     string
}

// String returns ks.name, or name when unqualified.
func (q QualifiedName) String() string {
	if q.Keyspace != "" {
		return q.Keyspace + "." + q.Name
	}
	return q.Name
}

// TypeExpr is a type as written in DDL. Names are resolved by the executor:
// list, set, map and frozen take parameters; primitive names map to kinds;
// anything else names a user type.
type TypeExpr struct {
	Keyspace string
	Name     string
	Params   []TypeExpr
}

// String returns the CQL representation of the type.
func (t TypeExpr) String() string {
	name := t.Name
	if t.Keyspace != "" {
		name = t.Keyspace + "." + name
	}
	if len(t.Params) == 0 {
		return name
	}
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = p.String()
	}
	return name + "<" + strings.Join(params, ", ") + ">"
}

// FieldSpec is a name and type pair in CREATE TYPE, CREATE TABLE or ADD.
type FieldSpec struct {
	Name string
	Type TypeExpr
}

// String returns "name type".
func (f FieldSpec) String() string {
	return f.Name + " " + f.Type.String()
}

// CreateKeyspaceStatement represents CREATE KEYSPACE.
type CreateKeyspaceStatement struct {
	Name              string
	IfNotExists       bool
	ReplicationFactor int
	Options           map[string]types.Literal
}

func (s *CreateKeyspaceStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *CreateKeyspaceStatement) String() string {
	return fmt.Sprintf("CREATE KEYSPACE %s%s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		ifNotExists(s.IfNotExists), s.Name, s.ReplicationFactor)
}

// DropKeyspaceStatement represents DROP KEYSPACE.
type DropKeyspaceStatement struct {
	Name     string
	IfExists bool
}

func (s *DropKeyspaceStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *DropKeyspaceStatement) String() string {
	return fmt.Sprintf("DROP KEYSPACE %s%s", ifExists(s.IfExists), s.Name)
}

// UseStatement represents USE.
type UseStatement struct {
	Keyspace string
}

func (s *UseStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *UseStatement) String() string {
	return "USE " + s.Keyspace
}

// CreateTypeStatement represents CREATE TYPE.
type CreateTypeStatement struct {
	Name        QualifiedName
	IfNotExists bool
	Fields      []FieldSpec
}

func (s *CreateTypeStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *CreateTypeStatement) String() string {
	return fmt.Sprintf("CREATE TYPE %s%s (%s)", ifNotExists(s.IfNotExists), s.Name, joinFields(s.Fields))
}

// AlterTypeAction says what ALTER TYPE does.
type AlterTypeAction int

const (
	AlterTypeAdd AlterTypeAction = iota
	AlterTypeRename
	AlterTypeRenameFields
)

// FieldRename is one "old TO new" pair of ALTER TYPE ... RENAME.
type FieldRename struct {
	From string
	To   string
}

// AlterTypeStatement represents ALTER TYPE.
type AlterTypeStatement struct {
	Name   QualifiedName
	Action AlterTypeAction

	// Field is set for AlterTypeAdd
	Field FieldSpec

	// NewName is set for AlterTypeRename
	NewName string

	// Renames is set for AlterTypeRenameFields
	Renames []FieldRename
}

func (s *AlterTypeStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *AlterTypeStatement) String() string {
	switch s.Action {
	case AlterTypeAdd:
		return fmt.Sprintf("ALTER TYPE %s ADD %s", s.Name, s.Field)
	case AlterTypeRename:
		return fmt.Sprintf("ALTER TYPE %s RENAME TO %s", s.Name, s.NewName)
	default:
		parts := make([]string, len(s.Renames))
		for i, r := range s.Renames {
			parts[i] = r.From + " TO " + r.To
		}
		return fmt.Sprintf("ALTER TYPE %s RENAME %s", s.Name, strings.Join(parts, " AND "))
	}
}

// DropTypeStatement represents DROP TYPE.
type DropTypeStatement struct {
	Name     QualifiedName
	IfExists bool
}

func (s *DropTypeStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *DropTypeStatement) String() string {
	return fmt.Sprintf("DROP TYPE %s%s", ifExists(s.IfExists), s.Name)
}

// CreateTableStatement represents CREATE TABLE.
type CreateTableStatement struct {
	Name        QualifiedName
	IfNotExists bool
	Columns     []FieldSpec
	PrimaryKey  string
	Options     map[string]types.Literal
}

func (s *CreateTableStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *CreateTableStatement) String() string {
	return fmt.Sprintf("CREATE TABLE %s%s (%s, PRIMARY KEY (%s))",
		ifNotExists(s.IfNotExists), s.Name, joinFields(s.Columns), s.PrimaryKey)
}

// AlterTableStatement represents ALTER TABLE ... ADD.
type AlterTableStatement struct {
	Name   QualifiedName
	Column FieldSpec
}

func (s *AlterTableStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *AlterTableStatement) String() string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", s.Name, s.Column)
}

// DropTableStatement represents DROP TABLE.
type DropTableStatement struct {
	Name     QualifiedName
	IfExists bool
}

func (s *DropTableStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *DropTableStatement) String() string {
	return fmt.Sprintf("DROP TABLE %s%s", ifExists(s.IfExists), s.Name)
}

// InsertStatement represents INSERT INTO ... VALUES.
type InsertStatement struct {
	Table   QualifiedName
	Columns []string
	Values  []types.Literal
}

func (s *InsertStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *InsertStatement) String() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Table, strings.Join(s.Columns, ", "), joinLiterals(s.Values))
}

// Assignment is one SET clause item. Append marks "c = c + value".
type Assignment struct {
	Column string
	Value  types.Literal
	Append bool
}

// String returns the CQL representation of the assignment.
func (a Assignment) String() string {
	if a.Append {
		return fmt.Sprintf("%s = %s + %s", a.Column, a.Column, a.Value)
	}
	return fmt.Sprintf("%s = %s", a.Column, a.Value)
}

// Condition is a "column = literal" restriction.
type Condition struct {
	Column string
	Value  types.Literal
}

// String returns the CQL representation of the condition.
func (c Condition) String() string {
	return fmt.Sprintf("%s = %s", c.Column, c.Value)
}

// UpdateStatement represents UPDATE ... SET ... WHERE.
type UpdateStatement struct {
	Table       QualifiedName
	Assignments []Assignment
	Where       Condition
}

func (s *UpdateStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *UpdateStatement) String() string {
	parts := make([]string, len(s.Assignments))
	for i, a := range s.Assignments {
		parts[i] = a.String()
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.Table, strings.Join(parts, ", "), s.Where)
}

// SelectStatement represents SELECT. Columns is empty for SELECT *.
type SelectStatement struct {
	Columns []string
	From    QualifiedName
	Where   *Condition
}

func (s *SelectStatement) statementNode() {}

// String returns the CQL representation of the statement.
func (s *SelectStatement) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(s.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(s.Columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(s.From.String())
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	return sb.String()
}

func ifNotExists(b bool) string {
	if b {
		return "IF NOT EXISTS "
	}
	return ""
}

func ifExists(b bool) string {
	if b {
		return "IF EXISTS "
	}
	return ""
}

func joinFields(fields []FieldSpec) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

func joinLiterals(lits []types.Literal) string {
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}
