// Package types provides the core schema and value types for user-defined types.
package types

import (
	"strconv"
	"strings"
)

// TypeID is the stable internal identifier of a user-defined type.
// It never changes across renames and is never reused after a drop.
type TypeID uint64

// String returns the decimal form of the id.
func (id TypeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind classifies a type reference.
type Kind string

const (
	KindInt       Kind = "int"
	KindBigint    Kind = "bigint"
	KindText      Kind = "text"
	KindBoolean   Kind = "boolean"
	KindDouble    Kind = "double"
	KindFloat     Kind = "float"
	KindUUID      Kind = "uuid"
	KindTimestamp Kind = "timestamp"
	KindBlob      Kind = "blob"

	// KindUDT references a user-defined type by id.
	KindUDT Kind = "udt"

	KindList Kind = "list"
	KindSet  Kind = "set"
	KindMap  Kind = "map"
)

// primitiveNames maps CQL type names (lowercase) to primitive kinds.
var primitiveNames = map[string]Kind{
	"int":       KindInt,
	"bigint":    KindBigint,
	"text":      KindText,
	"varchar":   KindText,
	"boolean":   KindBoolean,
	"double":    KindDouble,
	"float":     KindFloat,
	"uuid":      KindUUID,
	"timestamp": KindTimestamp,
	"blob":      KindBlob,
}

// PrimitiveKind looks up a primitive kind by its CQL name.
func PrimitiveKind(name string) (Kind, bool) {
	k, ok := primitiveNames[strings.ToLower(name)]
	return k, ok
}

// IsPrimitive reports whether the kind is a scalar type.
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindInt, KindBigint, KindText, KindBoolean, KindDouble, KindFloat, KindUUID, KindTimestamp, KindBlob:
		return true
	default:
		return false
	}
}

// IsCollection reports whether the kind is list, set or map.
func (k Kind) IsCollection() bool {
	return k == KindList || k == KindSet || k == KindMap
}

// TypeRef is a reference to a field or column type. User-defined types are
// referenced by id, never by name, so stored definitions survive renames.
type TypeRef struct {
	Kind Kind `json:"kind"`

	// TypeID is set when Kind is KindUDT
	TypeID TypeID `json:"type_id,omitempty"`

	// Elem is the element type for lists and sets
	Elem *TypeRef `json:"elem,omitempty"`

	// Key and Value are the entry types for maps
	Key   *TypeRef `json:"key,omitempty"`
	Value *TypeRef `json:"value,omitempty"`
}

// Primitive returns a reference to a primitive kind.
func Primitive(k Kind) TypeRef {
	return TypeRef{Kind: k}
}

// UDTRef returns a reference to a user-defined type.
func UDTRef(id TypeID) TypeRef {
	return TypeRef{Kind: KindUDT, TypeID: id}
}

// ListOf returns list<elem>.
func ListOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: KindList, Elem: &elem}
}

// SetOf returns set<elem>.
func SetOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: KindSet, Elem: &elem}
}

// MapOf returns map<key, value>.
func MapOf(key, value TypeRef) TypeRef {
	return TypeRef{Kind: KindMap, Key: &key, Value: &value}
}

// Walk calls fn for the reference itself and every nested reference.
func (r TypeRef) Walk(fn func(TypeRef)) {
	fn(r)
	if r.Elem != nil {
		r.Elem.Walk(fn)
	}
	if r.Key != nil {
		r.Key.Walk(fn)
	}
	if r.Value != nil {
		r.Value.Walk(fn)
	}
}

// ReferencedTypes returns the user-defined types directly named by this
// reference, deduplicated, in order of appearance.
func (r TypeRef) ReferencedTypes() []TypeID {
	var ids []TypeID
	seen := make(map[TypeID]bool)
	r.Walk(func(t TypeRef) {
		if t.Kind == KindUDT && !seen[t.TypeID] {
			seen[t.TypeID] = true
			ids = append(ids, t.TypeID)
		}
	})
	return ids
}

// References reports whether the reference mentions the given type.
func (r TypeRef) References(id TypeID) bool {
	found := false
	r.Walk(func(t TypeRef) {
		if t.Kind == KindUDT && t.TypeID == id {
			found = true
		}
	})
	return found
}

// Equal compares two references structurally.
func (r TypeRef) Equal(o TypeRef) bool {
	if r.Kind != o.Kind || r.TypeID != o.TypeID {
		return false
	}
	return refPtrEqual(r.Elem, o.Elem) && refPtrEqual(r.Key, o.Key) && refPtrEqual(r.Value, o.Value)
}

func refPtrEqual(a, b *TypeRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Clone returns a deep copy of the reference.
func (r TypeRef) Clone() TypeRef {
	c := TypeRef{Kind: r.Kind, TypeID: r.TypeID}
	if r.Elem != nil {
		e := r.Elem.Clone()
		c.Elem = &e
	}
	if r.Key != nil {
		k := r.Key.Clone()
		c.Key = &k
	}
	if r.Value != nil {
		v := r.Value.Clone()
		c.Value = &v
	}
	return c
}
