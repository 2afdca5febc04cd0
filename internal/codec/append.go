package codec

import (
	"fmt"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Append combines an existing collection encoding with an addition: lists
// are concatenated, sets are unioned, and maps are merged with the addition
// winning on equal keys. Either side may be nil.
func Append(ref types.TypeRef, existing, addition []byte) ([]byte, error) {
	if !ref.Kind.IsCollection() {
		return nil, errors.NewQueryError(errors.CodeInvalidRequest,
			fmt.Sprintf("Invalid operation (+) for non-collection type %s", ref.Kind))
	}
	if existing == nil {
		return addition, nil
	}
	if addition == nil {
		return existing, nil
	}

	switch ref.Kind {
	case types.KindMap:
		ek, ev, err := readEntries(existing)
		if err != nil {
			return nil, err
		}
		ak, av, err := readEntries(addition)
		if err != nil {
			return nil, err
		}
		keys, values := sortEntries(append(ek, ak...), append(ev, av...))
		return encodeEntries(keys, values), nil

	default:
		cur, err := readElements(existing)
		if err != nil {
			return nil, err
		}
		add, err := readElements(addition)
		if err != nil {
			return nil, err
		}
		all := append(cur, add...)
		if ref.Kind == types.KindSet {
			all = sortUnique(all)
		}
		return encodeElements(all), nil
	}
}
