// Package relvalue is the minimal row/value model the module host and
// subscription engine operate on. It is intentionally shallow: full
// algebraic-value typing and SQL execution live in the storage engine,
// which is out of scope here (see spec §1); this package carries just
// enough structure to identify, compare, and serialize rows.
package relvalue

import "bytes"

// Value is an opaque, already-encoded column value. The storage engine
// decides the wire format (its `AlgebraicValue` encoding); the module host
// never interprets the bytes, only compares and forwards them.
type Value []byte

// Row is a tuple of column values in table-declaration order. It stands in
// for the storage engine's `ProductValue`.
type Row struct {
	Columns []Value
}

// Equal reports whether two rows have identical column bytes in the same
// order.
func (r Row) Equal(other Row) bool {
	if len(r.Columns) != len(other.Columns) {
		return false
	}
	for i := range r.Columns {
		if !bytes.Equal(r.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	cols := make([]Value, len(r.Columns))
	for i, c := range r.Columns {
		cp := make(Value, len(c))
		copy(cp, c)
		cols[i] = cp
	}
	return Row{Columns: cols}
}

// WithColumn returns a copy of r with an extra column appended. Used to
// inject the virtual __op_type__ marker column (§4.7) without mutating the
// caller's row.
func (r Row) WithColumn(v Value) Row {
	cols := make([]Value, len(r.Columns), len(r.Columns)+1)
	copy(cols, r.Columns)
	cols = append(cols, v)
	return Row{Columns: cols}
}

// WithoutColumnAt returns a copy of r with the column at index i removed.
// Used to strip the virtual __op_type__ marker column before computing a
// row's primary key (§4.7: "stripped ... before computing its primary
// key").
func (r Row) WithoutColumnAt(i int) Row {
	cols := make([]Value, 0, len(r.Columns)-1)
	cols = append(cols, r.Columns[:i]...)
	cols = append(cols, r.Columns[i+1:]...)
	return Row{Columns: cols}
}

// RelValue pairs a Row with an optional precomputed identity (the storage
// engine's `DataKey`, when the row carries one on the fast path).
type RelValue struct {
	Row Row
	ID  *PrimaryKey
}

// NewRelValue constructs a RelValue without a precomputed id.
func NewRelValue(row Row) RelValue {
	return RelValue{Row: row}
}

// NewRelValueWithID constructs a RelValue carrying a precomputed id (the
// fast path of §4.8).
func NewRelValueWithID(row Row, id PrimaryKey) RelValue {
	return RelValue{Row: row, ID: &id}
}
