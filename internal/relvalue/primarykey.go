package relvalue

import (
	"crypto/sha256"
	"encoding/binary"
)

// PrimaryKey is a stable, cheap-to-copy row identity (spec §3, §4.8). It is
// fixed-size and comparable, so it can key a Go map directly - the
// subscription engine's "seen" and semijoin set-algebra rely on that.
type PrimaryKey [32]byte

// Bytes returns the serialized form used in wire ops (TableOp.RowPK).
func (pk PrimaryKey) Bytes() []byte {
	b := make([]byte, len(pk))
	copy(b, pk[:])
	return b
}

// PrimaryKeyFromBytes reconstructs a PrimaryKey from its wire form. It
// does not check b's width: a shorter b leaves the remaining bytes zero and
// bytes past the key's width are ignored. It is only ever called on bytes
// this package itself produced (TableOp.RowPK round-tripping).
func PrimaryKeyFromBytes(b []byte) PrimaryKey {
	var pk PrimaryKey
	copy(pk[:], b)
	return pk
}

// Hasher computes the canonical row hash for rows with no precomputed id -
// the "slow path" of §4.8, delegated to the storage engine in the real
// system (`RelationalDB::pk_for_row`). Tests and the sqlite stand-in supply
// an implementation; production code should never need more than one
// instance of it per process, since the hash must be consistent for a
// given row's bytes regardless of which query produced it.
type Hasher interface {
	HashRow(row Row) PrimaryKey
}

// DefaultHasher is a deterministic, collision-resistant hash over the
// concatenated column bytes, length-prefixed so that e.g. columns
// {"ab","c"} and {"a","bc"} hash differently. It is not the production
// storage engine's canonical hash (that lives outside this repo's scope),
// but satisfies the same contract: identical row bytes hash identically.
type DefaultHasher struct{}

// HashRow implements Hasher.
func (DefaultHasher) HashRow(row Row) PrimaryKey {
	h := sha256.New()
	var lenBuf [8]byte
	for _, col := range row.Columns {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(col)))
		h.Write(lenBuf[:])
		h.Write(col)
	}
	var pk PrimaryKey
	copy(pk[:], h.Sum(nil))
	return pk
}

// PKForRow returns rv's primary key: its precomputed id if it has one,
// otherwise the hash of its row bytes (§4.8's fast/slow path).
func PKForRow(rv RelValue, hasher Hasher) PrimaryKey {
	if rv.ID != nil {
		return *rv.ID
	}
	return hasher.HashRow(rv.Row)
}
