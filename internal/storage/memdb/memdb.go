// Package memdb is a minimal in-memory RelationalDB, used by the
// subscription engine's tests and as a lightweight stand-in where a full
// sqlite-backed engine (internal/storage/sqlitedb) would be overkill.
//
// It has no concept of its own transactions - FetchRows always reads the
// current committed state - which is sufficient for the subscription
// engine's tests, since those drive FetchRows and a DatabaseUpdate
// independently, as the real storage engine's caller (the module host)
// does.
package memdb

import (
	"context"
	"sync"

	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// DB is a goroutine-safe, in-memory table store.
type DB struct {
	mu     sync.RWMutex
	tables map[uint32]*table
	nextID uint32
}

type table struct {
	info storage.TableInfo
	rows map[relvalue.PrimaryKey]relvalue.RelValue
}

// New returns an empty DB.
func New() *DB {
	return &DB{tables: make(map[uint32]*table)}
}

// CreateTable registers a new table and returns its id.
func (d *DB) CreateTable(name string, typ storage.TableType, access storage.TableAccess, owner string, columns []string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.tables[id] = &table{
		info: storage.TableInfo{
			TableID: id, TableName: name, Type: typ, Access: access, Owner: owner, Columns: columns,
		},
		rows: make(map[relvalue.PrimaryKey]relvalue.RelValue),
	}
	return id
}

// Insert adds or replaces a row, keyed by its primary key (computed via
// PKForRow if the row has none precomputed).
func (d *DB) Insert(tableID uint32, row relvalue.Row) relvalue.PrimaryKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.tables[tableID]
	pk := d.pkForRowLocked(row)
	t.rows[pk] = relvalue.NewRelValueWithID(row, pk)
	return pk
}

// Delete removes the row with primary key pk from tableID. Reports
// whether a row was actually removed.
func (d *DB) Delete(tableID uint32, pk relvalue.PrimaryKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.tables[tableID]
	if _, ok := t.rows[pk]; !ok {
		return false
	}
	delete(t.rows, pk)
	return true
}

// GetAllTables implements storage.RelationalDB.
func (d *DB) GetAllTables(ctx context.Context, tx storage.Tx) ([]storage.TableInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]storage.TableInfo, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t.info)
	}
	return out, nil
}

// FetchRows implements storage.RelationalDB.
func (d *DB) FetchRows(ctx context.Context, tx storage.Tx, tableID uint32) ([]relvalue.RelValue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tables[tableID]
	if !ok {
		return nil, storage.ErrTableNotFound
	}
	out := make([]relvalue.RelValue, 0, len(t.rows))
	for _, rv := range t.rows {
		out = append(out, rv)
	}
	return out, nil
}

// PKForRow implements storage.RelationalDB.
func (d *DB) PKForRow(row relvalue.Row) relvalue.PrimaryKey {
	return relvalue.DefaultHasher{}.HashRow(row)
}

// InsertRow implements storage.Mutator.
func (d *DB) InsertRow(ctx context.Context, tx storage.Tx, tableID uint32, row relvalue.Row) (relvalue.PrimaryKey, error) {
	d.mu.Lock()
	t, ok := d.tables[tableID]
	d.mu.Unlock()
	if !ok {
		return relvalue.PrimaryKey{}, storage.ErrTableNotFound
	}
	return d.Insert(t.info.TableID, row), nil
}

// DeleteByColEq implements storage.Mutator.
func (d *DB) DeleteByColEq(ctx context.Context, tx storage.Tx, tableID uint32, col int, value []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[tableID]
	if !ok {
		return 0, storage.ErrTableNotFound
	}
	n := 0
	for pk, rv := range t.rows {
		if col < 0 || col >= len(rv.Row.Columns) {
			continue
		}
		if string(rv.Row.Columns[col]) == string(value) {
			delete(t.rows, pk)
			n++
		}
	}
	return n, nil
}

// CreateIndex implements storage.Mutator. memdb never consults indexes
// (see RunQuery's package doc), so this only validates tableID exists.
func (d *DB) CreateIndex(ctx context.Context, tx storage.Tx, tableID uint32, name string) error {
	d.mu.RLock()
	_, ok := d.tables[tableID]
	d.mu.RUnlock()
	if !ok {
		return storage.ErrTableNotFound
	}
	return nil
}

func (d *DB) pkForRowLocked(row relvalue.Row) relvalue.PrimaryKey {
	return relvalue.DefaultHasher{}.HashRow(row)
}

// Tx is the no-op transaction handle memdb hands out, satisfying
// storage.Tx.
type Tx struct{}

// Begin returns a no-op transaction; memdb has no real isolation to offer
// (see package doc).
func (d *DB) Begin() Tx { return Tx{} }
