package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Decode parses a composite encoding under the current definition of the
// type. Fields added after the value was written decode as nil. A value
// carrying more fields than the definition knows is rejected with a schema
// version skew error.
func (c *Codec) Decode(id types.TypeID, data []byte) (*types.Composite, error) {
	def, err := c.types.Resolve(id)
	if err != nil {
		return nil, err
	}

	cells, err := readComposite(data)
	if err != nil {
		return nil, err
	}
	if len(cells) > len(def.Fields) {
		return nil, errors.NewSchemaVersionSkewError(def.Name, len(cells), len(def.Fields))
	}

	out := &types.Composite{
		TypeID: id,
		Names:  def.FieldNames(),
		Values: make([]interface{}, len(def.Fields)),
	}
	for i, cell := range cells {
		v, err := c.DecodeRef(def.Fields[i].Type, cell)
		if err != nil {
			return nil, err
		}
		out.Values[i] = v
	}
	return out, nil
}

// DecodeRef parses the encoding of any value of the referenced type. Nil
// bytes decode to nil.
//
// Decoded Go types: int → int32, bigint → int64, timestamp → time.Time (UTC),
// boolean → bool, double → float64, float → float32, uuid → uuid.UUID,
// text → string, blob → []byte, user type → *types.Composite,
// list and set → []interface{}, map → []types.MapEntry.
func (c *Codec) DecodeRef(ref types.TypeRef, data []byte) (interface{}, error) {
	if data == nil {
		return nil, nil
	}

	switch ref.Kind {
	case types.KindUDT:
		return c.Decode(ref.TypeID, data)

	case types.KindList, types.KindSet:
		cells, err := readElements(data)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(cells))
		for i, cell := range cells {
			if out[i], err = c.DecodeRef(*ref.Elem, cell); err != nil {
				return nil, err
			}
		}
		return out, nil

	case types.KindMap:
		keys, values, err := readEntries(data)
		if err != nil {
			return nil, err
		}
		out := make([]types.MapEntry, len(keys))
		for i := range keys {
			if out[i].Key, err = c.DecodeRef(*ref.Key, keys[i]); err != nil {
				return nil, err
			}
			if out[i].Value, err = c.DecodeRef(*ref.Value, values[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	return decodePrimitive(ref.Kind, data)
}

func decodePrimitive(kind types.Kind, data []byte) (interface{}, error) {
	want := fixedWidth(kind)
	if want > 0 && len(data) != want {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("%s value has %d bytes, expected %d", kind, len(data), want))
	}

	switch kind {
	case types.KindInt:
		return int32(binary.BigEndian.Uint32(data)), nil
	case types.KindBigint:
		return int64(binary.BigEndian.Uint64(data)), nil
	case types.KindTimestamp:
		return time.UnixMilli(int64(binary.BigEndian.Uint64(data))).UTC(), nil
	case types.KindBoolean:
		return data[0] != 0, nil
	case types.KindDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	case types.KindFloat:
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case types.KindUUID:
		var u uuid.UUID
		copy(u[:], data)
		return u, nil
	case types.KindText:
		return string(data), nil
	case types.KindBlob:
		return append([]byte{}, data...), nil
	default:
		return nil, errors.NewInternalError(fmt.Sprintf("unsupported type kind %q", kind), nil)
	}
}

func fixedWidth(kind types.Kind) int {
	switch kind {
	case types.KindInt, types.KindFloat:
		return 4
	case types.KindBigint, types.KindTimestamp, types.KindDouble:
		return 8
	case types.KindBoolean:
		return 1
	case types.KindUUID:
		return 16
	default:
		return 0
	}
}
