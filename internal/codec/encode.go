package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/pkg/types"
)

// timestampLayouts are the accepted string forms of a timestamp literal.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// encodeLiteral checks lit against ref. A null literal returns nil bytes.
func (c *Codec) encodeLiteral(ref types.TypeRef, lit types.Literal, s site) ([]byte, error) {
	if lit.Kind == types.LitNull {
		return nil, nil
	}

	switch {
	case ref.Kind.IsPrimitive():
		data, ok := encodePrimitive(ref.Kind, lit)
		if !ok {
			return nil, c.mismatch(s, lit)
		}
		return data, nil
	case ref.Kind == types.KindUDT:
		return c.encodeComposite(ref, lit, s)
	case ref.Kind == types.KindList:
		if lit.Kind != types.LitList {
			return nil, c.mismatch(s, lit)
		}
		elems, err := c.encodeElements(*ref.Elem, lit.Elems, s)
		if err != nil {
			return nil, err
		}
		return encodeElements(elems), nil
	case ref.Kind == types.KindSet:
		if lit.Kind != types.LitBrace || len(lit.Entries) > 0 {
			return nil, c.mismatch(s, lit)
		}
		elems, err := c.encodeElements(*ref.Elem, lit.Elems, s)
		if err != nil {
			return nil, err
		}
		return encodeElements(sortUnique(elems)), nil
	case ref.Kind == types.KindMap:
		if lit.Kind != types.LitBrace || len(lit.Elems) > 0 {
			return nil, c.mismatch(s, lit)
		}
		keys := make([][]byte, 0, len(lit.Entries))
		values := make([][]byte, 0, len(lit.Entries))
		for _, e := range lit.Entries {
			k, err := c.encodeElement(*ref.Key, e.Key, s)
			if err != nil {
				return nil, err
			}
			v, err := c.encodeElement(*ref.Value, e.Value, s)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			values = append(values, v)
		}
		keys, values = sortEntries(keys, values)
		return encodeEntries(keys, values), nil
	default:
		return nil, errors.NewInternalError(fmt.Sprintf("unsupported type kind %q", ref.Kind), nil)
	}
}

func (c *Codec) encodeElements(elem types.TypeRef, lits []types.Literal, s site) ([][]byte, error) {
	out := make([][]byte, 0, len(lits))
	for _, l := range lits {
		data, err := c.encodeElement(elem, l, s)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// encodeElement encodes one collection element; collections hold no nulls.
func (c *Codec) encodeElement(elem types.TypeRef, lit types.Literal, s site) ([]byte, error) {
	if lit.Kind == types.LitNull {
		return nil, errors.NewQueryError(errors.CodeInvalidRequest, "null is not supported inside collections")
	}
	return c.encodeLiteral(elem, lit, s)
}

// encodeComposite checks a {field: value, ...} literal against the current
// definition of a user type.
func (c *Codec) encodeComposite(ref types.TypeRef, lit types.Literal, s site) ([]byte, error) {
	if lit.Kind != types.LitBrace || len(lit.Elems) > 0 {
		return nil, c.mismatch(s, lit)
	}
	def, err := c.types.Resolve(ref.TypeID)
	if err != nil {
		return nil, err
	}

	supplied := make(map[string]types.Literal, len(lit.Entries))
	for _, e := range lit.Entries {
		if e.Key.Kind != types.LitIdent && e.Key.Kind != types.LitString {
			return nil, c.mismatch(s, lit)
		}
		name := e.Key.Text
		if def.FieldIndex(name) < 0 {
			return nil, errors.NewUnknownFieldError(name, def.Name)
		}
		if _, dup := supplied[name]; dup {
			return nil, errors.NewQueryError(errors.CodeInvalidRequest,
				fmt.Sprintf("Multiple definitions for field %s of user type %s", name, def.Name))
		}
		supplied[name] = e.Value
	}

	cells := make([][]byte, len(def.Fields))
	for i, f := range def.Fields {
		v, ok := supplied[f.Name]
		if !ok {
			continue
		}
		data, err := c.encodeLiteral(f.Type, v, site{name: f.Name, ref: f.Type})
		if err != nil {
			return nil, err
		}
		cells[i] = data
	}
	return encodeComposite(cells), nil
}

// encodePrimitive converts a scalar literal. It reports false when the
// literal does not denote a value of the kind.
func encodePrimitive(kind types.Kind, lit types.Literal) ([]byte, bool) {
	switch kind {
	case types.KindInt:
		if lit.Kind != types.LitInt {
			return nil, false
		}
		n, err := strconv.ParseInt(lit.Text, 10, 32)
		if err != nil {
			return nil, false
		}
		return binary.BigEndian.AppendUint32(nil, uint32(int32(n))), true

	case types.KindBigint:
		if lit.Kind != types.LitInt {
			return nil, false
		}
		n, err := strconv.ParseInt(lit.Text, 10, 64)
		if err != nil {
			return nil, false
		}
		return binary.BigEndian.AppendUint64(nil, uint64(n)), true

	case types.KindTimestamp:
		ms, ok := parseTimestamp(lit)
		if !ok {
			return nil, false
		}
		return binary.BigEndian.AppendUint64(nil, uint64(ms)), true

	case types.KindBoolean:
		if lit.Kind != types.LitBool {
			return nil, false
		}
		if strings.EqualFold(lit.Text, "true") {
			return []byte{1}, true
		}
		return []byte{0}, true

	case types.KindDouble:
		if lit.Kind != types.LitInt && lit.Kind != types.LitFloat {
			return nil, false
		}
		f, err := strconv.ParseFloat(lit.Text, 64)
		if err != nil {
			return nil, false
		}
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), true

	case types.KindFloat:
		if lit.Kind != types.LitInt && lit.Kind != types.LitFloat {
			return nil, false
		}
		f, err := strconv.ParseFloat(lit.Text, 32)
		if err != nil {
			return nil, false
		}
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(f))), true

	case types.KindText:
		if lit.Kind != types.LitString || !utf8.ValidString(lit.Text) {
			return nil, false
		}
		return append([]byte{}, lit.Text...), true

	case types.KindUUID:
		if lit.Kind != types.LitUUID {
			return nil, false
		}
		u, err := uuid.Parse(lit.Text)
		if err != nil {
			return nil, false
		}
		return u[:], true

	case types.KindBlob:
		if lit.Kind != types.LitBlob {
			return nil, false
		}
		text := strings.TrimPrefix(strings.TrimPrefix(lit.Text, "0x"), "0X")
		b, err := hex.DecodeString(text)
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

func parseTimestamp(lit types.Literal) (int64, bool) {
	switch lit.Kind {
	case types.LitInt:
		n, err := strconv.ParseInt(lit.Text, 10, 64)
		return n, err == nil
	case types.LitString:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, lit.Text); err == nil {
				return t.UnixMilli(), true
			}
		}
	}
	return 0, false
}
