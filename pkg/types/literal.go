package types

import "strings"

// LiteralKind classifies a parsed literal.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitInt
	LitFloat
	LitString
	LitBool
	LitUUID
	LitBlob

	// LitIdent is a bare identifier; only valid as a user type field key
	LitIdent

	// LitList is [a, b, ...]
	LitList

	// LitBrace is {...}: a set when Elems is used, a map or user type
	// value when Entries is used, and ambiguous when empty
	LitBrace
)

// String returns a readable name for the literal kind.
func (k LiteralKind) String() string {
	switch k {
	case LitNull:
		return "null"
	case LitInt:
		return "integer"
	case LitFloat:
		return "float"
	case LitString:
		return "string"
	case LitBool:
		return "boolean"
	case LitUUID:
		return "uuid"
	case LitBlob:
		return "blob"
	case LitIdent:
		return "identifier"
	case LitList:
		return "list"
	case LitBrace:
		return "brace"
	default:
		return "unknown"
	}
}

// Literal is a value as written in a statement, before type checking.
type Literal struct {
	Kind LiteralKind

	// Text holds the scalar text; strings are already unescaped
	Text string

	// Elems holds list and set elements
	Elems []Literal

	// Entries holds map and user type entries
	Entries []LiteralEntry

	// Pos is the position of the literal in the statement
	Pos int
}

// LiteralEntry is a key: value pair inside braces.
type LiteralEntry struct {
	Key   Literal
	Value Literal
}

// IsEmptyBrace reports whether the literal is {}.
func (l Literal) IsEmptyBrace() bool {
	return l.Kind == LitBrace && len(l.Elems) == 0 && len(l.Entries) == 0
}

// String renders the literal back to CQL.
func (l Literal) String() string {
	switch l.Kind {
	case LitNull:
		return "null"
	case LitString:
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	case LitList:
		parts := make([]string, len(l.Elems))
		for i, e := range l.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case LitBrace:
		if len(l.Entries) > 0 {
			parts := make([]string, len(l.Entries))
			for i, e := range l.Entries {
				parts[i] = e.Key.String() + ": " + e.Value.String()
			}
			return "{" + strings.Join(parts, ", ") + "}"
		}
		parts := make([]string, len(l.Elems))
		for i, e := range l.Elems {
			parts[i] = e.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return l.Text
	}
}
