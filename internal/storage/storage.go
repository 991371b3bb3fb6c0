// Package storage names the relational-storage-engine collaborator the
// module host and subscription engine consume, and provides `RunQuery`, a
// small, honest subset of query execution sufficient to exercise Scan and
// Semijoin end to end.
//
// The production query planner/executor (spec §1's `run_query`) is
// explicitly out of scope for this repository: full SQL coverage beyond
// Scan and primary-key Semijoin is a named non-goal. What lives here is
// the minimal interface a real storage engine would satisfy, plus one
// reference implementation of the execution semantics the classifier's
// two supported query kinds need, so the subscription engine can be tested
// without a production SQL engine on hand.
//
// RunQuery never consults an index: an IndexJoin is executed by running its
// probe side in full and matching the resulting rows against the outer
// rows in memory.
package storage

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/relvalue"
)

// TableType distinguishes system catalog tables from user tables (spec
// §4.6: QuerySet.get_all only considers StTableType::User).
type TableType int

const (
	TableTypeUser TableType = iota
	TableTypeSystem
)

// TableAccess controls whether a user table is visible to callers other
// than its owner (spec §4.6).
type TableAccess int

const (
	TableAccessPrivate TableAccess = iota
	TableAccessPublic
)

// TableInfo is what `get_all_tables` enumerates: `(table_type,
// table_access, owner, table_id, table_name, head)` per spec §6. `head` -
// the column schema - is represented here just as column names, which is
// all the classifier/executor need.
type TableInfo struct {
	TableID   uint32
	TableName string
	Type      TableType
	Access    TableAccess
	Owner     string
	Columns   []string
}

func (t TableInfo) desc() queryexpr.TableDesc {
	return queryexpr.TableDesc{TableID: t.TableID, TableName: t.TableName}
}

// AuthCtx is the caller's identity context for a query, per spec §4.6
// ("public or owned by the caller").
type AuthCtx struct {
	Caller string
	Owner  string
}

// SameOwner reports whether the caller is the owner making the request -
// spec §4.6's `auth.owner == auth.caller`.
func (a AuthCtx) SameOwner() bool {
	return a.Owner == a.Caller
}

// Tx is an opaque handle to a storage engine transaction/cursor (spec §6:
// "open transaction"). The module host and subscription engine never
// interpret it, only thread it through calls.
type Tx interface{}

// QueryResult is one table's worth of rows produced by RunQuery - the
// `MemTable` of `RelValue`s spec §6 describes.
type QueryResult struct {
	Table queryexpr.TableDesc
	Rows  []relvalue.RelValue
	// ColumnNames is Rows' schema, in column order, when known - set when
	// the query's own source was a virtual table (queryexpr.ToMemTable; a
	// ToMemTableRHS rewrite leaves that source physical, so it is unset),
	// which is the only case a caller needs it: recovering an injected
	// marker column by name (dbupdate.FindPosByName) rather than by
	// position.
	ColumnNames []string
}

// Empty reports whether the result carries no rows (spec §4.7: "filter out
// empty results before dispatch").
func (r QueryResult) Empty() bool { return len(r.Rows) == 0 }

// RelationalDB is the storage engine collaborator consumed by the
// subscription engine and by reducer host-calls. A concrete
// implementation owns the physical tables; everything above this
// interface (classification, incremental evaluation, the module host's
// insert/delete/iterate host-calls) depends only on it.
type RelationalDB interface {
	// GetAllTables enumerates every table visible at all (get_all further
	// filters by type/access/ownership).
	GetAllTables(ctx context.Context, tx Tx) ([]TableInfo, error)
	// FetchRows returns every row currently committed to tableID. This is
	// the storage primitive RunQuery builds physical-table scans on top
	// of; a production engine would instead push filters down, but for
	// the Scan/Semijoin subset this repository executes, a full fetch
	// followed by in-memory filtering is sufficient and easy to reason
	// about.
	FetchRows(ctx context.Context, tx Tx, tableID uint32) ([]relvalue.RelValue, error)
	// PKForRow computes the canonical primary key for a row with no
	// precomputed id (spec §4.8's slow path, `RelationalDB::pk_for_row`).
	PKForRow(row relvalue.Row) relvalue.PrimaryKey
}

// Mutator is the write-path collaborator host-calls depend on: insert,
// delete_by_col_eq, and create_index (spec §4.3) all need to change a
// table's committed rows, which RelationalDB alone - read-only by design -
// cannot do. A RelationalDB used only for RunQuery/subscription tests need
// not implement it.
type Mutator interface {
	// InsertRow adds row to tableID, computing its primary key if none is
	// precomputed, and returns the key actually stored under.
	InsertRow(ctx context.Context, tx Tx, tableID uint32, row relvalue.Row) (relvalue.PrimaryKey, error)
	// DeleteByColEq removes every row of tableID whose column col equals
	// value, returning the count removed.
	DeleteByColEq(ctx context.Context, tx Tx, tableID uint32, col int, value []byte) (int, error)
	// CreateIndex registers an index named name on tableID. This
	// repository's RunQuery never consults indexes (see package doc), so a
	// Mutator may treat this as a no-op so long as it still validates
	// tableID.
	CreateIndex(ctx context.Context, tx Tx, tableID uint32, name string) error
}

// TableIDByName looks up a table's id by name among tables GetAllTables
// reports, for host-calls (get_table_id) that only know a table by name.
func TableIDByName(ctx context.Context, db RelationalDB, tx Tx, name string) (uint32, bool, error) {
	tables, err := db.GetAllTables(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	for _, t := range tables {
		if t.TableName == name {
			return t.TableID, true, nil
		}
	}
	return 0, false, nil
}

// ErrTableNotFound is returned when a QueryExpr or IndexJoin names a
// physical table the RelationalDB doesn't recognize.
var ErrTableNotFound = errors.New("storage: table not found")

// RunQuery executes expr against db within tx and returns its result.
// auth is only passed on to the probe side of an IndexJoin; RunQuery itself
// does not check visibility (callers are expected to have already checked
// table access via GetAllTables/get_all), mirroring the production
// `run_query`, which trusts the query it's handed.
func RunQuery(ctx context.Context, db RelationalDB, tx Tx, expr queryexpr.QueryExpr, auth AuthCtx) ([]QueryResult, error) {
	rows, desc, columns, err := sourceRows(ctx, db, tx, expr.Source)
	if err != nil {
		return nil, err
	}

	for _, op := range expr.Ops {
		switch {
		case op.Filter != nil:
			rows, err = applyFilter(rows, *op.Filter)
			if err != nil {
				return nil, err
			}
		case op.Project != nil:
			// Projection narrows columns for the client but never changes
			// row identity or which rows are present, so the incremental
			// engine's dedup-by-PK is unaffected. Left as a no-op against
			// this minimal row model, which does not track column names
			// per row.
		case op.IndexJoin != nil:
			rows, err = applyIndexJoin(ctx, db, tx, auth, rows, *op.IndexJoin)
			if err != nil {
				return nil, err
			}
		}
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return []QueryResult{{Table: desc, Rows: rows, ColumnNames: columns}}, nil
}

func sourceRows(ctx context.Context, db RelationalDB, tx Tx, source queryexpr.SourceExpr) ([]relvalue.RelValue, queryexpr.TableDesc, []string, error) {
	if source.Virtual != nil {
		desc := source.Virtual.Table
		rows := make([]relvalue.RelValue, len(source.Virtual.Rows))
		copy(rows, source.Virtual.Rows)
		return rows, desc, source.Virtual.ColumnNames, nil
	}
	table, ok := source.GetDBTable()
	if !ok {
		return nil, queryexpr.TableDesc{}, nil, queryexpr.ErrMissingPhysicalSource
	}
	rows, err := db.FetchRows(ctx, tx, table.TableID)
	if err != nil {
		return nil, queryexpr.TableDesc{}, nil, errors.Wrapf(err, "fetch rows for table %q", table.TableName)
	}
	return rows, table, nil, nil
}

func applyFilter(rows []relvalue.RelValue, f queryexpr.FilterOp) ([]relvalue.RelValue, error) {
	if f.ColEq == "" {
		return rows, nil
	}
	idx, err := colIndex(f.ColEq)
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, rv := range rows {
		if idx < len(rv.Row.Columns) && bytes.Equal(rv.Row.Columns[idx], f.Value) {
			out = append(out, rv)
		}
	}
	return out, nil
}

// colIndex parses the "colN" naming convention this repository's tests
// use to name columns by position, since relvalue.Row carries columns
// positionally rather than by name.
func colIndex(name string) (int, error) {
	const prefix = "col"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, errors.Errorf("column name %q: want %q<index>", name, prefix)
	}
	n := 0
	for _, r := range name[len(prefix):] {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("column name %q: want %q<index>", name, prefix)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

func applyIndexJoin(ctx context.Context, db RelationalDB, tx Tx, auth AuthCtx, outer []relvalue.RelValue, ij queryexpr.IndexJoin) ([]relvalue.RelValue, error) {
	joinIdx, err := colIndex(ij.JoinColumn)
	if err != nil {
		return nil, err
	}
	probeIdx, err := colIndex(ij.ProbeColumn)
	if err != nil {
		return nil, err
	}

	probeResults, err := RunQuery(ctx, db, tx, ij.ProbeSide, auth)
	if err != nil {
		return nil, err
	}

	matched := make(map[string]bool)
	for _, res := range probeResults {
		for _, prow := range res.Rows {
			if probeIdx >= len(prow.Row.Columns) {
				continue
			}
			matched[string(prow.Row.Columns[probeIdx])] = true
		}
	}

	out := outer[:0:0]
	for _, rv := range outer {
		if joinIdx >= len(rv.Row.Columns) {
			continue
		}
		if matched[string(rv.Row.Columns[joinIdx])] {
			out = append(out, rv)
		}
	}
	return out, nil
}

// RowsEqual is a small test helper: reports whether two row sets contain
// the same rows, order-independent. Exported because both storage's own
// tests and the subscription engine's tests need it.
func RowsEqual(a, b []relvalue.RelValue) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ra := range a {
		found := false
		for i, rb := range b {
			if used[i] {
				continue
			}
			if rowBytesEqual(ra.Row, rb.Row) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func rowBytesEqual(a, b relvalue.Row) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if !bytes.Equal(a.Columns[i], b.Columns[i]) {
			return false
		}
	}
	return true
}
