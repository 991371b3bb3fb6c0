// Package dbupdate defines the row-level delta types a committed
// transaction produces and that subscriptions stream to clients (spec §3,
// §6).
package dbupdate

import "github.com/vela-systems/reactorhost/internal/relvalue"

// OpType distinguishes a delete from an insert within a TableOp.
type OpType uint8

const (
	// OpDelete marks a row as having left the result set.
	OpDelete OpType = 0
	// OpInsert marks a row as having entered the result set.
	OpInsert OpType = 1
)

// OpTypeFieldName is the name of the virtual column the incremental engine
// injects into a rewritten query so it can recover each result row's
// OpType after execution (§4.7, §6). Its position is discovered by name,
// never by index, since projection can reorder columns.
const OpTypeFieldName = "__op_type__"

// TableOp is a single row-level change: an insert or delete of one row,
// keyed by its primary key bytes.
type TableOp struct {
	OpType OpType
	RowPK  []byte
	Row    relvalue.Row
}

// DatabaseTableUpdate groups the ops affecting one table within a single
// transaction or subscription evaluation.
type DatabaseTableUpdate struct {
	TableID   uint32
	TableName string
	// Columns names the table's physical columns in declaration order.
	// The incremental engine appends OpTypeFieldName to this list when it
	// builds a virtual table of this update's rows (queryexpr.ToMemTable),
	// so a result row's op-type marker can be recovered by name rather
	// than by position (spec: "its position is discovered by name, never
	// assumed by index").
	Columns []string
	Ops     []TableOp
}

// DatabaseUpdate is the ordered list of per-table updates a transaction
// commit (or a subscription eval) produces.
type DatabaseUpdate struct {
	Tables []DatabaseTableUpdate
}

// IsEmpty reports whether the update carries no table changes at all.
// eval_incr on an empty transaction delta must return an update for which
// this is true (spec §8, idempotence property).
func (u DatabaseUpdate) IsEmpty() bool {
	return len(u.Tables) == 0
}

// TableUpdateByID returns the update for tableID within updates, and
// whether one was present. Used to partition a transaction's updates by
// join side (§4.7).
func TableUpdateByID(updates []DatabaseTableUpdate, tableID uint32) (DatabaseTableUpdate, bool) {
	for _, u := range updates {
		if u.TableID == tableID {
			return u, true
		}
	}
	return DatabaseTableUpdate{}, false
}

// Inserts returns a copy of u containing only its insert ops.
func (u DatabaseTableUpdate) Inserts() DatabaseTableUpdate {
	return u.filter(OpInsert)
}

// Deletes returns a copy of u containing only its delete ops.
func (u DatabaseTableUpdate) Deletes() DatabaseTableUpdate {
	return u.filter(OpDelete)
}

func (u DatabaseTableUpdate) filter(want OpType) DatabaseTableUpdate {
	out := DatabaseTableUpdate{TableID: u.TableID, TableName: u.TableName, Columns: u.Columns}
	for _, op := range u.Ops {
		if op.OpType == want {
			out.Ops = append(out.Ops, op)
		}
	}
	return out
}

// FindPosByName returns the index of name within names, and whether it was
// found - the Go equivalent of the original engine's
// `head.find_pos_by_name`, used to recover an injected marker column by
// name instead of by position.
func FindPosByName(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// SortDeletesBeforeInserts reorders ops in place so every OpDelete precedes
// every OpInsert, as required by spec §3/§5/§8 for every emitted
// DatabaseTableUpdate. The relative order within each half is preserved
// (stable partition).
func SortDeletesBeforeInserts(ops []TableOp) []TableOp {
	out := make([]TableOp, 0, len(ops))
	for _, op := range ops {
		if op.OpType == OpDelete {
			out = append(out, op)
		}
	}
	for _, op := range ops {
		if op.OpType == OpInsert {
			out = append(out, op)
		}
	}
	return out
}
