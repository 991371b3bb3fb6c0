package modulehost

import (
	"context"
	"sync"

	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// recordingMutator wraps a storage.RelationalDB/Mutator pair and records
// every row-level change made through it, so the module host can hand the
// subscription engine a DatabaseUpdate describing exactly what a reducer
// call changed (spec §4.7's incremental evaluation input) without the
// storage engine itself needing to know about subscriptions.
type recordingMutator struct {
	storage.RelationalDB
	mut storage.Mutator

	mu     sync.Mutex
	tables map[uint32]storage.TableInfo
	ops    map[uint32][]dbupdate.TableOp
	order  []uint32
}

func newRecordingMutator(db storage.RelationalDB, mut storage.Mutator) *recordingMutator {
	return &recordingMutator{
		RelationalDB: db,
		mut:          mut,
		tables:       make(map[uint32]storage.TableInfo),
		ops:          make(map[uint32][]dbupdate.TableOp),
	}
}

func (r *recordingMutator) record(ctx context.Context, tableID uint32, op dbupdate.TableOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[tableID]; !ok {
		r.order = append(r.order, tableID)
		if info, ok := r.tables[tableID]; !ok || info.TableName == "" {
			if tables, err := r.RelationalDB.GetAllTables(ctx, nil); err == nil {
				for _, t := range tables {
					r.tables[t.TableID] = t
				}
			}
		}
	}
	r.ops[tableID] = append(r.ops[tableID], op)
}

func (r *recordingMutator) InsertRow(ctx context.Context, tx storage.Tx, tableID uint32, row relvalue.Row) (relvalue.PrimaryKey, error) {
	pk, err := r.mut.InsertRow(ctx, tx, tableID, row)
	if err != nil {
		return pk, err
	}
	r.record(ctx, tableID, dbupdate.TableOp{OpType: dbupdate.OpInsert, RowPK: pk.Bytes(), Row: row})
	return pk, nil
}

func (r *recordingMutator) DeleteByColEq(ctx context.Context, tx storage.Tx, tableID uint32, col int, value []byte) (int, error) {
	// Deleted rows' full contents are needed downstream (the incremental
	// engine diffs complete rows, not just keys), so fetch them before
	// they're gone.
	before, err := r.RelationalDB.FetchRows(ctx, tx, tableID)
	if err != nil {
		return 0, err
	}
	n, err := r.mut.DeleteByColEq(ctx, tx, tableID, col, value)
	if err != nil {
		return n, err
	}
	for _, rv := range before {
		if col < 0 || col >= len(rv.Row.Columns) {
			continue
		}
		if string(rv.Row.Columns[col]) != string(value) {
			continue
		}
		pk := rv.ID
		var pkBytes []byte
		if pk != nil {
			pkBytes = pk.Bytes()
		} else {
			got := r.RelationalDB.PKForRow(rv.Row)
			pkBytes = got.Bytes()
		}
		r.record(ctx, tableID, dbupdate.TableOp{OpType: dbupdate.OpDelete, RowPK: pkBytes, Row: rv.Row})
	}
	return n, nil
}

func (r *recordingMutator) CreateIndex(ctx context.Context, tx storage.Tx, tableID uint32, name string) error {
	return r.mut.CreateIndex(ctx, tx, tableID, name)
}

// Drain returns every recorded change since the last Drain (or since
// construction) as a DatabaseUpdate, in the order tables were first
// touched, and clears the recorder for the next call.
func (r *recordingMutator) Drain() dbupdate.DatabaseUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tables []dbupdate.DatabaseTableUpdate
	for _, tableID := range r.order {
		ops := r.ops[tableID]
		if len(ops) == 0 {
			continue
		}
		info := r.tables[tableID]
		tables = append(tables, dbupdate.DatabaseTableUpdate{
			TableID:   tableID,
			TableName: info.TableName,
			Columns:   info.Columns,
			Ops:       dbupdate.SortDeletesBeforeInserts(ops),
		})
	}

	r.order = nil
	r.ops = make(map[uint32][]dbupdate.TableOp)
	return dbupdate.DatabaseUpdate{Tables: tables}
}

var _ storage.RelationalDB = (*recordingMutator)(nil)
var _ storage.Mutator = (*recordingMutator)(nil)
