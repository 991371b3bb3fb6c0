// Package sqlitedb is the one concrete, persistent storage.RelationalDB
// this repository ships: a modernc.org/sqlite-backed table store, adapted
// from the teacher's internal/core.Engine (WAL-mode pragmas, embedded
// schema, fsnotify-driven hot reload of external module files).
//
// Like internal/storage/memdb, it stores rows as opaque encoded blobs
// (internal/relvalue's wire format) rather than real per-column SQL
// types - the storage engine's actual row encoding is out of this
// repository's scope (see internal/storage's package doc), and sqlite
// here is doing persistence and catalog bookkeeping, not query
// execution; RunQuery still does that in Go, against FetchRows' output.
package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	table_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name   TEXT NOT NULL UNIQUE,
	table_type   INTEGER NOT NULL,
	table_access INTEGER NOT NULL,
	owner        TEXT NOT NULL,
	columns      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rows (
	table_id INTEGER NOT NULL,
	pk       BLOB NOT NULL,
	row      BLOB NOT NULL,
	PRIMARY KEY (table_id, pk),
	FOREIGN KEY (table_id) REFERENCES tables(table_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_rows_table ON rows(table_id);

CREATE TABLE IF NOT EXISTS indexes (
	table_id   INTEGER NOT NULL,
	index_name TEXT NOT NULL,
	PRIMARY KEY (table_id, index_name)
);
`

// DB is a WAL-mode sqlite-backed RelationalDB/Mutator. database/sql's
// *sql.DB already pools and serializes connections, so DB itself needs no
// additional locking.
type DB struct {
	sql    *sql.DB
	dbPath string

	ctx    context.Context
	cancel context.CancelFunc
}

// Open opens (creating if absent) the sqlite file at path in WAL mode and
// initializes its schema, mirroring the teacher's NewEngine.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("sqlitedb: ping %s: %w", path, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlitedb: init schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DB{sql: conn, dbPath: path, ctx: ctx, cancel: cancel}, nil
}

// Close checkpoints the WAL and closes the underlying connection.
func (d *DB) Close() error {
	d.cancel()
	_, _ = d.sql.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.sql.Close()
}

// CreateTable registers tableName in the catalog and returns its id.
func (d *DB) CreateTable(name string, typ storage.TableType, access storage.TableAccess, owner string, columns []string) (uint32, error) {
	cols, err := json.Marshal(columns)
	if err != nil {
		return 0, fmt.Errorf("sqlitedb: marshal columns: %w", err)
	}
	res, err := d.sql.Exec(
		"INSERT INTO tables (table_name, table_type, table_access, owner, columns) VALUES (?, ?, ?, ?, ?)",
		name, int(typ), int(access), owner, string(cols),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitedb: create table %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// GetAllTables implements storage.RelationalDB.
func (d *DB) GetAllTables(ctx context.Context, tx storage.Tx) ([]storage.TableInfo, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT table_id, table_name, table_type, table_access, owner, columns FROM tables")
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: get all tables: %w", err)
	}
	defer rows.Close()

	var out []storage.TableInfo
	for rows.Next() {
		var (
			info       storage.TableInfo
			typ, acc   int
			columnsRaw string
		)
		if err := rows.Scan(&info.TableID, &info.TableName, &typ, &acc, &info.Owner, &columnsRaw); err != nil {
			return nil, err
		}
		info.Type = storage.TableType(typ)
		info.Access = storage.TableAccess(acc)
		if err := json.Unmarshal([]byte(columnsRaw), &info.Columns); err != nil {
			return nil, fmt.Errorf("sqlitedb: unmarshal columns for %q: %w", info.TableName, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// FetchRows implements storage.RelationalDB.
func (d *DB) FetchRows(ctx context.Context, tx storage.Tx, tableID uint32) ([]relvalue.RelValue, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT pk, row FROM rows WHERE table_id = ?", tableID)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: fetch rows for table %d: %w", tableID, err)
	}
	defer rows.Close()

	var out []relvalue.RelValue
	for rows.Next() {
		var pkBytes, rowBytes []byte
		if err := rows.Scan(&pkBytes, &rowBytes); err != nil {
			return nil, err
		}
		row, err := relvalue.DecodeRow(rowBytes)
		if err != nil {
			return nil, fmt.Errorf("sqlitedb: decode row: %w", err)
		}
		pk := relvalue.PrimaryKeyFromBytes(pkBytes)
		out = append(out, relvalue.NewRelValueWithID(row, pk))
	}
	return out, rows.Err()
}

// PKForRow implements storage.RelationalDB.
func (d *DB) PKForRow(row relvalue.Row) relvalue.PrimaryKey {
	return relvalue.DefaultHasher{}.HashRow(row)
}

// InsertRow implements storage.Mutator.
func (d *DB) InsertRow(ctx context.Context, tx storage.Tx, tableID uint32, row relvalue.Row) (relvalue.PrimaryKey, error) {
	pk := d.PKForRow(row)
	_, err := d.sql.ExecContext(ctx,
		"INSERT OR REPLACE INTO rows (table_id, pk, row) VALUES (?, ?, ?)",
		tableID, pk.Bytes(), relvalue.EncodeRow(row),
	)
	if err != nil {
		return relvalue.PrimaryKey{}, fmt.Errorf("sqlitedb: insert row into table %d: %w", tableID, err)
	}
	return pk, nil
}

// DeleteByColEq implements storage.Mutator. Rows are stored as opaque
// blobs, so this fetches the table and filters in Go rather than pushing
// the predicate into SQL.
func (d *DB) DeleteByColEq(ctx context.Context, tx storage.Tx, tableID uint32, col int, value []byte) (int, error) {
	rows, err := d.FetchRows(ctx, tx, tableID)
	if err != nil {
		return 0, err
	}

	tx2, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rv := range rows {
		if col < 0 || col >= len(rv.Row.Columns) {
			continue
		}
		if string(rv.Row.Columns[col]) != string(value) {
			continue
		}
		if _, err := tx2.ExecContext(ctx, "DELETE FROM rows WHERE table_id = ? AND pk = ?", tableID, rv.ID.Bytes()); err != nil {
			_ = tx2.Rollback()
			return 0, err
		}
		n++
	}
	if err := tx2.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateIndex implements storage.Mutator. RunQuery never consults an
// index (see internal/storage's package doc); this just records the
// request in the catalog so get_table_id-adjacent introspection can see
// it exists.
func (d *DB) CreateIndex(ctx context.Context, tx storage.Tx, tableID uint32, name string) error {
	_, err := d.sql.ExecContext(ctx, "INSERT OR IGNORE INTO indexes (table_id, index_name) VALUES (?, ?)", tableID, name)
	return err
}

// WatchModuleFile watches path for writes and invokes callback, the same
// fsnotify pattern the teacher's Engine.WatchFile uses for external
// config files. Nothing in this repository calls it: internal/modulehost
// hot-swaps a guest module's compiled .wasm file with its own watcher
// (Host.watchModuleFile).
func (d *DB) WatchModuleFile(path string, callback func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sqlitedb: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					callback()
				}
			case <-watcher.Errors:
			}
		}
	}()

	return watcher.Add(path)
}

var _ storage.RelationalDB = (*DB)(nil)
var _ storage.Mutator = (*DB)(nil)
