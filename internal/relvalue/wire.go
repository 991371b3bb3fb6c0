package relvalue

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EncodeRow serializes r into the flat byte-buffer format host-calls pass
// across the guest boundary: a column count followed by each column as a
// big-endian length prefix plus its bytes.
//
// This is not the storage engine's real `ProductValue` wire format (that
// lives outside this repository's scope, per spec §1) - it exists purely
// so host-calls have something concrete to put in a Buffer Table entry.
func EncodeRow(r Row) []byte {
	buf := make([]byte, 4, 4+8*len(r.Columns))
	binary.BigEndian.PutUint32(buf, uint32(len(r.Columns)))
	for _, col := range r.Columns {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(col)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, col...)
	}
	return buf
}

// ErrMalformedRow is returned by DecodeRow when b is too short to contain
// the column count or column it declares.
var ErrMalformedRow = errors.New("relvalue: malformed row buffer")

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(b []byte) (Row, error) {
	if len(b) < 4 {
		return Row{}, errors.Wrap(ErrMalformedRow, "missing column count")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]

	cols := make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return Row{}, errors.Wrapf(ErrMalformedRow, "column %d: missing length prefix", i)
		}
		l := binary.BigEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < l {
			return Row{}, errors.Wrapf(ErrMalformedRow, "column %d: declared length %d exceeds remaining buffer", i, l)
		}
		cols = append(cols, Value(b[:l]))
		b = b[l:]
	}
	return Row{Columns: cols}, nil
}

// EncodeRows concatenates the wire encoding of each row, each preceded by
// its own byte length so a decoder can find row boundaries. iter_next does
// not use this format: it hands back one EncodeRow-encoded row per call.
func EncodeRows(rows []RelValue) []byte {
	var out []byte
	for _, rv := range rows {
		enc := EncodeRow(rv.Row)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		out = append(out, lenBuf[:]...)
		out = append(out, enc...)
	}
	return out
}
