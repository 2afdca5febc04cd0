package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// EncodeValue encodes a decoded Go value (see DecodeRef for the accepted
// types) under the referenced type. Nil encodes to nil.
func (c *Codec) EncodeValue(ref types.TypeRef, v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	switch ref.Kind {
	case types.KindUDT:
		comp, ok := v.(*types.Composite)
		if !ok {
			return nil, cannotEncode(ref, v)
		}
		def, err := c.types.Resolve(ref.TypeID)
		if err != nil {
			return nil, err
		}
		if len(comp.Values) > len(def.Fields) {
			return nil, errors.NewSchemaVersionSkewError(def.Name, len(comp.Values), len(def.Fields))
		}
		cells := make([][]byte, len(def.Fields))
		for i, fv := range comp.Values {
			if cells[i], err = c.EncodeValue(def.Fields[i].Type, fv); err != nil {
				return nil, err
			}
		}
		return encodeComposite(cells), nil

	case types.KindList, types.KindSet:
		elems, ok := v.([]interface{})
		if !ok {
			return nil, cannotEncode(ref, v)
		}
		cells := make([][]byte, 0, len(elems))
		for _, e := range elems {
			if e == nil {
				return nil, errors.NewQueryError(errors.CodeInvalidRequest, "null is not supported inside collections")
			}
			cell, err := c.EncodeValue(*ref.Elem, e)
			if err != nil {
				return nil, err
			}
			cells = append(cells, cell)
		}
		if ref.Kind == types.KindSet {
			cells = sortUnique(cells)
		}
		return encodeElements(cells), nil

	case types.KindMap:
		entries, ok := v.([]types.MapEntry)
		if !ok {
			return nil, cannotEncode(ref, v)
		}
		keys := make([][]byte, 0, len(entries))
		values := make([][]byte, 0, len(entries))
		for _, e := range entries {
			if e.Key == nil || e.Value == nil {
				return nil, errors.NewQueryError(errors.CodeInvalidRequest, "null is not supported inside collections")
			}
			k, err := c.EncodeValue(*ref.Key, e.Key)
			if err != nil {
				return nil, err
			}
			val, err := c.EncodeValue(*ref.Value, e.Value)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			values = append(values, val)
		}
		keys, values = sortEntries(keys, values)
		return encodeEntries(keys, values), nil
	}

	data, ok := encodeGoPrimitive(ref.Kind, v)
	if !ok {
		return nil, cannotEncode(ref, v)
	}
	return data, nil
}

func cannotEncode(ref types.TypeRef, v interface{}) error {
	return errors.NewQueryError(errors.CodeInvalidRequest, fmt.Sprintf("cannot encode %T as %s", v, ref.Kind))
}

func encodeGoPrimitive(kind types.Kind, v interface{}) ([]byte, bool) {
	switch kind {
	case types.KindInt:
		var n int64
		switch x := v.(type) {
		case int32:
			n = int64(x)
		case int:
			n = int64(x)
		case int64:
			n = x
		default:
			return nil, false
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, false
		}
		return binary.BigEndian.AppendUint32(nil, uint32(int32(n))), true
	case types.KindBigint:
		switch x := v.(type) {
		case int64:
			return binary.BigEndian.AppendUint64(nil, uint64(x)), true
		case int:
			return binary.BigEndian.AppendUint64(nil, uint64(x)), true
		case int32:
			return binary.BigEndian.AppendUint64(nil, uint64(int64(x))), true
		}
	case types.KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return binary.BigEndian.AppendUint64(nil, uint64(t.UnixMilli())), true
		}
	case types.KindBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return []byte{1}, true
			}
			return []byte{0}, true
		}
	case types.KindDouble:
		if f, ok := v.(float64); ok {
			return binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), true
		}
	case types.KindFloat:
		if f, ok := v.(float32); ok {
			return binary.BigEndian.AppendUint32(nil, math.Float32bits(f)), true
		}
	case types.KindUUID:
		if u, ok := v.(uuid.UUID); ok {
			return append([]byte{}, u[:]...), true
		}
	case types.KindText:
		if s, ok := v.(string); ok {
			return append([]byte{}, s...), true
		}
	case types.KindBlob:
		if b, ok := v.([]byte); ok {
			return append([]byte{}, b...), true
		}
	}
	return nil, false
}

// ToLiteral renders a decoded value as a literal that checks back to the
// same encoding. User type fields are named with the current definition.
func (c *Codec) ToLiteral(ref types.TypeRef, v interface{}) types.Literal {
	if v == nil {
		return types.Literal{Kind: types.LitNull}
	}

	switch ref.Kind {
	case types.KindUDT:
		comp, ok := v.(*types.Composite)
		if !ok {
			return types.Literal{Kind: types.LitNull}
		}
		names := comp.Names
		fieldTypes := make([]types.TypeRef, len(comp.Values))
		if def, err := c.types.Resolve(ref.TypeID); err == nil && len(def.Fields) >= len(comp.Values) {
			names = def.FieldNames()
			for i := range comp.Values {
				fieldTypes[i] = def.Fields[i].Type
			}
		}
		lit := types.Literal{Kind: types.LitBrace}
		for i, fv := range comp.Values {
			if fv == nil {
				continue
			}
			lit.Entries = append(lit.Entries, types.LiteralEntry{
				Key:   types.Literal{Kind: types.LitIdent, Text: names[i]},
				Value: c.ToLiteral(fieldTypes[i], fv),
			})
		}
		return lit

	case types.KindList, types.KindSet:
		elems, _ := v.([]interface{})
		lit := types.Literal{Kind: types.LitList}
		if ref.Kind == types.KindSet {
			lit.Kind = types.LitBrace
		}
		for _, e := range elems {
			lit.Elems = append(lit.Elems, c.ToLiteral(*ref.Elem, e))
		}
		return lit

	case types.KindMap:
		entries, _ := v.([]types.MapEntry)
		lit := types.Literal{Kind: types.LitBrace}
		for _, e := range entries {
			lit.Entries = append(lit.Entries, types.LiteralEntry{
				Key:   c.ToLiteral(*ref.Key, e.Key),
				Value: c.ToLiteral(*ref.Value, e.Value),
			})
		}
		return lit
	}

	return primitiveLiteral(v)
}

func primitiveLiteral(v interface{}) types.Literal {
	switch x := v.(type) {
	case int32:
		return types.Literal{Kind: types.LitInt, Text: strconv.FormatInt(int64(x), 10)}
	case int64:
		return types.Literal{Kind: types.LitInt, Text: strconv.FormatInt(x, 10)}
	case int:
		return types.Literal{Kind: types.LitInt, Text: strconv.Itoa(x)}
	case time.Time:
		return types.Literal{Kind: types.LitString, Text: x.UTC().Format(timestampLayouts[0])}
	case bool:
		return types.Literal{Kind: types.LitBool, Text: strconv.FormatBool(x)}
	case float64:
		return types.Literal{Kind: types.LitFloat, Text: strconv.FormatFloat(x, 'g', -1, 64)}
	case float32:
		return types.Literal{Kind: types.LitFloat, Text: strconv.FormatFloat(float64(x), 'g', -1, 32)}
	case uuid.UUID:
		return types.Literal{Kind: types.LitUUID, Text: x.String()}
	case string:
		return types.Literal{Kind: types.LitString, Text: x}
	case []byte:
		return types.Literal{Kind: types.LitBlob, Text: "0x" + hex.EncodeToString(x)}
	default:
		return types.Literal{Kind: types.LitString, Text: fmt.Sprint(v)}
	}
}

// Format renders a decoded value as CQL literal text.
func (c *Codec) Format(ref types.TypeRef, v interface{}) string {
	return c.ToLiteral(ref, v).String()
}
