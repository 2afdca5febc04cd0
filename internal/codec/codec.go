// Package codec type-checks statement literals against user type definitions
// and converts between literals, structural encodings, and decoded Go values.
//
// Encodings carry no type names: a composite is a positional list of field
// cells, so renaming a type or a field never invalidates stored bytes.
package codec

import (
	"fmt"
	"strings"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Resolver looks up the current definition of a user type.
type Resolver interface {
	Resolve(id types.TypeID) (*types.TypeDefinition, error)
}

// Codec checks, encodes and decodes values of user types resolved through
// a Resolver. It holds no state of its own and is safe for concurrent use.
type Codec struct {
	types Resolver
}

// New creates a codec backed by the given resolver.
func New(r Resolver) *Codec {
	return &Codec{types: r}
}

// site names the place a literal is checked against, for error reporting.
// Collection elements are reported against their enclosing site; entering
// a user type value moves the site to the inner field.
type site struct {
	name   string
	column bool
	ref    types.TypeRef
}

func (c *Codec) mismatch(s site, lit types.Literal) error {
	expected := c.TypeString(s.ref)
	switch {
	case s.name == "":
		return errors.New(errors.ErrCategoryValidation, errors.CodeFieldTypeMismatch,
			fmt.Sprintf("value %s is not of type %s", lit.String(), expected))
	case s.column:
		return errors.NewColumnTypeMismatchError(s.name, expected)
	default:
		return errors.NewFieldTypeMismatchError(s.name, expected)
	}
}

// CheckAndEncode checks a literal against the current definition of the type
// and returns its structural encoding. Fields missing from the literal are
// encoded as null. Nothing is produced unless the whole literal checks.
func (c *Codec) CheckAndEncode(id types.TypeID, lit types.Literal) ([]byte, error) {
	ref := types.UDTRef(id)
	data, err := c.encodeLiteral(ref, lit, site{ref: ref})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return encodeComposite(nil), nil
	}
	return data, nil
}

// CheckAndEncodeColumn checks a literal against a column type. A null
// literal returns nil bytes, which the row store treats as a deletion.
func (c *Codec) CheckAndEncodeColumn(col types.ColumnDef, lit types.Literal) ([]byte, error) {
	return c.encodeLiteral(col.Type, lit, site{name: col.Name, column: true, ref: col.Type})
}

// TypeString renders a type reference as CQL using current type names.
func (c *Codec) TypeString(ref types.TypeRef) string {
	switch ref.Kind {
	case types.KindUDT:
		def, err := c.types.Resolve(ref.TypeID)
		if err != nil {
			return fmt.Sprintf("<id %d>", ref.TypeID)
		}
		return def.Name
	case types.KindList, types.KindSet:
		if ref.Elem == nil {
			return string(ref.Kind)
		}
		return string(ref.Kind) + "<" + c.TypeString(*ref.Elem) + ">"
	case types.KindMap:
		if ref.Key == nil || ref.Value == nil {
			return string(ref.Kind)
		}
		return "map<" + c.TypeString(*ref.Key) + ", " + c.TypeString(*ref.Value) + ">"
	default:
		return string(ref.Kind)
	}
}

// FieldTypes renders the field types of a definition, in declaration order.
func (c *Codec) FieldTypes(def *types.TypeDefinition) []string {
	out := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		out[i] = c.TypeString(f.Type)
	}
	return out
}

// Describe renders a definition as a CREATE TYPE statement.
func (c *Codec) Describe(def *types.TypeDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TYPE %s.%s (", def.Keyspace, def.Name)
	for i, f := range def.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", f.Name, c.TypeString(f.Type))
	}
	b.WriteString(")")
	return b.String()
}
