package types

import "errors"

// Type reference errors
var (
	// ErrNilElem is returned when a list or set reference has no element type
	ErrNilElem = errors.New("collection type reference has no element type")

	// ErrNilMapEntry is returned when a map reference lacks a key or value type
	ErrNilMapEntry = errors.New("map type reference has no key or value type")

	// ErrUnknownKind is returned for a reference with an unrecognized kind
	ErrUnknownKind = errors.New("unknown type kind")
)

// Validate checks that a reference is structurally well formed. It does not
// check that referenced user types exist.
func (r TypeRef) Validate() error {
	switch {
	case r.Kind.IsPrimitive(), r.Kind == KindUDT:
		return nil
	case r.Kind == KindList || r.Kind == KindSet:
		if r.Elem == nil {
			return ErrNilElem
		}
		return r.Elem.Validate()
	case r.Kind == KindMap:
		if r.Key == nil || r.Value == nil {
			return ErrNilMapEntry
		}
		if err := r.Key.Validate(); err != nil {
			return err
		}
		return r.Value.Validate()
	default:
		return ErrUnknownKind
	}
}
