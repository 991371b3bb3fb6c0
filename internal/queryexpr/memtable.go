package queryexpr

import (
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/relvalue"
)

// MemTable is a small, in-memory table of rows substituted for a physical
// table's source during incremental evaluation (spec §4.6, §9 "Virtual
// tables for deltas"). It carries the original table's identity so the
// rewritten plan can still be attributed to the right table in output.
//
// ColumnNames is the row schema of Rows, in column order - the source
// table's declared columns plus, when the table carries an injected
// op-type marker (opsToMemTable), dbupdate.OpTypeFieldName appended last;
// opsToMemTableWithPK adds no marker column. Callers recover the marker column by looking up its name
// in ColumnNames, never by assuming it is the final column.
type MemTable struct {
	Table       TableDesc
	Rows        []relvalue.RelValue
	ColumnNames []string
}

// ToMemTable rewrites expr so its own source (the query's outer/LHS table)
// is replaced by a virtual MemTable holding exactly update's ops, each
// carrying an injected OpTypeFieldName column (spec §4.6, §6).
//
// The op-type column is appended after the row's existing columns; its
// position is discovered by name (OpTypeFieldName), never assumed by
// index, by whatever evaluates the rewritten plan.
func ToMemTable(expr QueryExpr, update dbupdate.DatabaseTableUpdate) QueryExpr {
	rewritten := expr.Clone()
	rewritten.Source = SourceExpr{Virtual: opsToMemTable(update)}
	return rewritten
}

// ToMemTableRHS rewrites expr's IndexJoin probe side (the RHS of the join)
// to a virtual MemTable holding update's ops, preserving each row's
// primary key so it can be recovered without re-hashing (spec §4.7's
// `to_mem_table_rhs`: "the RHS virtual table must preserve the row's
// DataKey for PK derivation").
//
// Returns the rewritten expression unchanged if expr has no IndexJoin
// operator.
func ToMemTableRHS(expr QueryExpr, update dbupdate.DatabaseTableUpdate) QueryExpr {
	rewritten := expr.Clone()
	for i := range rewritten.Ops {
		if rewritten.Ops[i].IndexJoin == nil {
			continue
		}
		rewritten.Ops[i].IndexJoin.ProbeSide.Source = SourceExpr{Virtual: opsToMemTableWithPK(update)}
		break
	}
	return rewritten
}

func opsToMemTable(update dbupdate.DatabaseTableUpdate) *MemTable {
	rows := make([]relvalue.RelValue, 0, len(update.Ops))
	for _, op := range update.Ops {
		marker := relvalue.Value{byte(op.OpType)}
		rows = append(rows, relvalue.NewRelValue(op.Row.WithColumn(marker)))
	}
	return &MemTable{
		Table:       TableDesc{TableID: update.TableID, TableName: update.TableName},
		Rows:        rows,
		ColumnNames: appendOpTypeColumn(update.Columns),
	}
}

func opsToMemTableWithPK(update dbupdate.DatabaseTableUpdate) *MemTable {
	rows := make([]relvalue.RelValue, 0, len(update.Ops))
	for _, op := range update.Ops {
		pk := relvalue.PrimaryKeyFromBytes(op.RowPK)
		rows = append(rows, relvalue.NewRelValueWithID(op.Row, pk))
	}
	return &MemTable{
		Table:       TableDesc{TableID: update.TableID, TableName: update.TableName},
		Rows:        rows,
		ColumnNames: update.Columns,
	}
}

// appendOpTypeColumn returns columns with dbupdate.OpTypeFieldName appended,
// naming the marker column opsToMemTable injects as each row's last value.
func appendOpTypeColumn(columns []string) []string {
	out := make([]string, len(columns), len(columns)+1)
	copy(out, columns)
	return append(out, dbupdate.OpTypeFieldName)
}
