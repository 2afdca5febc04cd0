package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/oldsharp/udtschema/internal/errors"
)

// Structural encoding.
//
// Composite value:
//   - uvarint: number of encoded fields
//   - per field: int32 big-endian length (-1 = null) followed by the bytes
//
// Collection value:
//   - uint32 big-endian element count (entries for maps)
//   - per element: int32 big-endian length followed by the bytes; a map
//     entry is its key cell followed by its value cell
//
// Fields appear in declaration order, so appending a field to a type keeps
// every earlier encoding readable.

const nullLength = -1

// appendCell writes one length-prefixed cell; nil is the null marker.
func appendCell(buf, cell []byte) []byte {
	if cell == nil {
		return binary.BigEndian.AppendUint32(buf, math.MaxUint32) // int32(-1)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(cell)))
	return append(buf, cell...)
}

// readCell reads one length-prefixed cell. A null cell is returned as nil.
func readCell(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.NewMalformedValueError(fmt.Sprintf("truncated cell header: %d bytes left", len(data)))
	}
	n := int32(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]
	if n == nullLength {
		return nil, data, nil
	}
	if n < 0 || int(n) > len(data) {
		return nil, nil, errors.NewMalformedValueError(fmt.Sprintf("cell length %d exceeds remaining %d bytes", n, len(data)))
	}
	return data[:n:n], data[n:], nil
}

func encodeComposite(fields [][]byte) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(fields)))
	for _, f := range fields {
		buf = appendCell(buf, f)
	}
	return buf
}

func encodeElements(elems [][]byte) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(elems)))
	for _, e := range elems {
		buf = appendCell(buf, e)
	}
	return buf
}

func encodeEntries(keys, values [][]byte) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(keys)))
	for i := range keys {
		buf = appendCell(buf, keys[i])
		buf = appendCell(buf, values[i])
	}
	return buf
}

// readElements splits a list or set encoding into element cells.
func readElements(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, errors.NewMalformedValueError("truncated collection header")
	}
	n := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	// every element needs at least its 4-byte header
	if uint64(n)*4 > uint64(len(rest)) {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("collection claims %d elements in %d bytes", n, len(rest)))
	}

	elems := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		var cell []byte
		var err error
		cell, rest, err = readCell(rest)
		if err != nil {
			return nil, err
		}
		if cell == nil {
			return nil, errors.NewMalformedValueError("null element in collection")
		}
		elems = append(elems, cell)
	}
	if len(rest) != 0 {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("%d trailing bytes after collection", len(rest)))
	}
	return elems, nil
}

// readEntries splits a map encoding into key and value cells.
func readEntries(data []byte) ([][]byte, [][]byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.NewMalformedValueError("truncated map header")
	}
	n := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(n)*8 > uint64(len(rest)) {
		return nil, nil, errors.NewMalformedValueError(fmt.Sprintf("map claims %d entries in %d bytes", n, len(rest)))
	}

	keys := make([][]byte, 0, n)
	values := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		var k, v []byte
		var err error
		if k, rest, err = readCell(rest); err != nil {
			return nil, nil, err
		}
		if v, rest, err = readCell(rest); err != nil {
			return nil, nil, err
		}
		if k == nil || v == nil {
			return nil, nil, errors.NewMalformedValueError("null key or value in map")
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	if len(rest) != 0 {
		return nil, nil, errors.NewMalformedValueError(fmt.Sprintf("%d trailing bytes after map", len(rest)))
	}
	return keys, values, nil
}

// readComposite splits a composite encoding into field cells.
func readComposite(data []byte) ([][]byte, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 {
		return nil, errors.NewMalformedValueError("invalid composite field count")
	}
	rest := data[k:]
	// every field needs at least its 4-byte header; divide so n cannot overflow
	if n > uint64(len(rest))/4 {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("composite claims %d fields in %d bytes", n, len(rest)))
	}

	fields := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		var cell []byte
		var err error
		cell, rest, err = readCell(rest)
		if err != nil {
			return nil, err
		}
		fields = append(fields, cell)
	}
	if len(rest) != 0 {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("%d trailing bytes after composite", len(rest)))
	}
	return fields, nil
}

// sortUnique orders set elements by encoded bytes and drops duplicates.
func sortUnique(elems [][]byte) [][]byte {
	sort.SliceStable(elems, func(i, j int) bool { return bytes.Compare(elems[i], elems[j]) < 0 })
	out := elems[:0]
	for i, e := range elems {
		if i > 0 && bytes.Equal(e, out[len(out)-1]) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// sortEntries orders map entries by encoded key. For duplicate keys the
// entry appearing last wins.
func sortEntries(keys, values [][]byte) ([][]byte, [][]byte) {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return bytes.Compare(keys[idx[a]], keys[idx[b]]) < 0 })

	outK := make([][]byte, 0, len(keys))
	outV := make([][]byte, 0, len(values))
	for _, i := range idx {
		if n := len(outK); n > 0 && bytes.Equal(outK[n-1], keys[i]) {
			outV[n-1] = values[i]
			continue
		}
		outK = append(outK, keys[i])
		outV = append(outV, values[i])
	}
	return outK, outV
}
