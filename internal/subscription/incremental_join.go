package subscription

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// IncrementalJoin evaluates a Semijoin-classified query's row-level delta
// without ever materializing the join's full result (spec §4.7, the
// "Incremental Semijoin" component, C7).
//
// Given the transaction's updates to the join's two physical tables (A, the
// outer/LHS side, and B, the probe/RHS side), it computes:
//
//	inserts = (A+ ⋈ B) ∪ (A ⋈ B+)
//	deletes = (A- ⋈ B) ∪ (A ⋈ B-) ∪ (A- ⋈ B-)
//
// against the database's *post-transaction* committed state (so a plain
// FetchRows for "B" or "A" already reflects any change to that side), then
// returns deletes ++ inserts with any primary key appearing in both sets
// removed from both (a row that both entered and left the result this
// transaction is, from a subscriber's point of view, unchanged).
//
// The A- ⋈ B- branch is a safety net for the case where a single
// transaction deletes a row from both sides of the join: without it, a row
// that matched purely because of the since-deleted B row would never be
// reported as a delete, since sourcing from A would have already dropped it
// before the join runs.
type IncrementalJoin struct {
	expr        queryexpr.QueryExpr
	lhs         queryexpr.TableDesc
	rhs         queryexpr.TableDesc
	joinColumn  string
	probeColumn string
	lhsUpdate   *dbupdate.DatabaseTableUpdate
	rhsUpdate   *dbupdate.DatabaseTableUpdate
}

// NewIncrementalJoin builds an IncrementalJoin for expr (which must be
// Semijoin-classified) against this transaction's updates. Returns (nil,
// nil) if neither side of the join was touched by updates - there is
// nothing to re-evaluate.
func NewIncrementalJoin(expr queryexpr.QueryExpr, updates []dbupdate.DatabaseTableUpdate) (*IncrementalJoin, error) {
	lhs, ok := expr.Source.GetDBTable()
	if !ok {
		return nil, errors.Wrap(queryexpr.ErrMissingPhysicalSource, "incremental join source")
	}
	ij, ok := expr.FindIndexJoin()
	if !ok {
		return nil, errors.New("subscription: incremental join requires a classified Semijoin expression")
	}
	rhs, ok := ij.ProbeSide.Source.GetDBTable()
	if !ok {
		return nil, errors.Wrap(queryexpr.ErrMissingPhysicalSource, "incremental join probe side")
	}

	var lhsUpdate, rhsUpdate *dbupdate.DatabaseTableUpdate
	if u, ok := dbupdate.TableUpdateByID(updates, lhs.TableID); ok {
		lhsUpdate = &u
	}
	if u, ok := dbupdate.TableUpdateByID(updates, rhs.TableID); ok {
		rhsUpdate = &u
	}
	if lhsUpdate == nil && rhsUpdate == nil {
		return nil, nil
	}

	return &IncrementalJoin{
		expr:        expr,
		lhs:         lhs,
		rhs:         rhs,
		joinColumn:  ij.JoinColumn,
		probeColumn: ij.ProbeColumn,
		lhsUpdate:   lhsUpdate,
		rhsUpdate:   rhsUpdate,
	}, nil
}

// LHSTableID returns the id of the join's outer (A) table, the table this
// query's ops are attributed to in a DatabaseUpdate.
func (j *IncrementalJoin) LHSTableID() uint32 { return j.lhs.TableID }

// LHSTableName returns the name of the join's outer (A) table.
func (j *IncrementalJoin) LHSTableName() string { return j.lhs.TableName }

// Eval runs the five-way set algebra described on IncrementalJoin
// and returns the minimal set of ops a subscriber needs to apply.
func (j *IncrementalJoin) Eval(ctx context.Context, db storage.RelationalDB, tx storage.Tx, auth storage.AuthCtx, hasher relvalue.Hasher) ([]dbupdate.TableOp, error) {
	var deletes, inserts []dbupdate.TableOp

	if j.lhsUpdate != nil {
		if ins := j.lhsUpdate.Inserts(); len(ins.Ops) > 0 {
			ops, err := j.runSide(ctx, db, tx, auth, queryexpr.ToMemTable(j.expr, ins), true, dbupdate.OpInsert, hasher)
			if err != nil {
				return nil, errors.Wrap(err, "A+ join B")
			}
			inserts = append(inserts, ops...)
		}
		if del := j.lhsUpdate.Deletes(); len(del.Ops) > 0 {
			ops, err := j.runSide(ctx, db, tx, auth, queryexpr.ToMemTable(j.expr, del), true, dbupdate.OpDelete, hasher)
			if err != nil {
				return nil, errors.Wrap(err, "A- join B")
			}
			deletes = append(deletes, ops...)
		}
	}

	if j.rhsUpdate != nil {
		if ins := j.rhsUpdate.Inserts(); len(ins.Ops) > 0 {
			ops, err := j.runSide(ctx, db, tx, auth, queryexpr.ToMemTableRHS(j.expr, ins), false, dbupdate.OpInsert, hasher)
			if err != nil {
				return nil, errors.Wrap(err, "A join B+")
			}
			inserts = append(inserts, ops...)
		}
		if del := j.rhsUpdate.Deletes(); len(del.Ops) > 0 {
			ops, err := j.runSide(ctx, db, tx, auth, queryexpr.ToMemTableRHS(j.expr, del), false, dbupdate.OpDelete, hasher)
			if err != nil {
				return nil, errors.Wrap(err, "A join B-")
			}
			deletes = append(deletes, ops...)
		}
	}

	if j.lhsUpdate != nil && j.rhsUpdate != nil {
		lhsDel := j.lhsUpdate.Deletes()
		rhsDel := j.rhsUpdate.Deletes()
		if len(lhsDel.Ops) > 0 && len(rhsDel.Ops) > 0 {
			combined := queryexpr.ToMemTableRHS(queryexpr.ToMemTable(j.expr, lhsDel), rhsDel)
			ops, err := j.runSide(ctx, db, tx, auth, combined, true, dbupdate.OpDelete, hasher)
			if err != nil {
				return nil, errors.Wrap(err, "A- join B-")
			}
			deletes = append(deletes, ops...)
		}
	}

	return symmetricDifference(deletes, inserts), nil
}

// runSide executes expr and tags every result row with op. stripTrailingMarker
// is set when expr's outer source was rewritten by ToMemTable, which appends
// an op-type marker column (here unused, since op is known statically) that
// must be stripped before the row's primary key is computed.
func (j *IncrementalJoin) runSide(ctx context.Context, db storage.RelationalDB, tx storage.Tx, auth storage.AuthCtx, expr queryexpr.QueryExpr, stripTrailingMarker bool, op dbupdate.OpType, hasher relvalue.Hasher) ([]dbupdate.TableOp, error) {
	results, err := storage.RunQuery(ctx, db, tx, expr, auth)
	if err != nil {
		return nil, err
	}

	var ops []dbupdate.TableOp
	for _, res := range results {
		markerIdx := -1
		if stripTrailingMarker {
			idx, ok := dbupdate.FindPosByName(res.ColumnNames, dbupdate.OpTypeFieldName)
			if !ok {
				return nil, errors.Errorf("incremental join: virtual result for %q has no %s column in its schema %v", res.Table.TableName, dbupdate.OpTypeFieldName, res.ColumnNames)
			}
			markerIdx = idx
		}
		for _, rv := range res.Rows {
			row := rv.Row
			id := rv.ID
			if stripTrailingMarker {
				if markerIdx >= len(row.Columns) {
					return nil, errors.New("incremental join: virtual row missing op-type marker column")
				}
				row = row.WithoutColumnAt(markerIdx)
				id = nil
			}
			var pk relvalue.PrimaryKey
			if id != nil {
				pk = *id
			} else {
				pk = hasher.HashRow(row)
			}
			ops = append(ops, dbupdate.TableOp{OpType: op, RowPK: pk.Bytes(), Row: row})
		}
	}
	return ops, nil
}

// symmetricDifference dedupes deletes and inserts by primary key
// (first occurrence wins within each list) and then drops any key present
// in both, returning deletes before inserts.
func symmetricDifference(deletes, inserts []dbupdate.TableOp) []dbupdate.TableOp {
	deletes = dedupeByPK(deletes)
	inserts = dedupeByPK(inserts)

	deleteKeys := make(map[string]bool, len(deletes))
	for _, op := range deletes {
		deleteKeys[string(op.RowPK)] = true
	}
	insertKeys := make(map[string]bool, len(inserts))
	for _, op := range inserts {
		insertKeys[string(op.RowPK)] = true
	}

	out := make([]dbupdate.TableOp, 0, len(deletes)+len(inserts))
	for _, op := range deletes {
		if insertKeys[string(op.RowPK)] {
			continue
		}
		out = append(out, op)
	}
	for _, op := range inserts {
		if deleteKeys[string(op.RowPK)] {
			continue
		}
		out = append(out, op)
	}
	return out
}

func dedupeByPK(ops []dbupdate.TableOp) []dbupdate.TableOp {
	seen := make(map[string]bool, len(ops))
	out := ops[:0:0]
	for _, op := range ops {
		key := string(op.RowPK)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, op)
	}
	return out
}
