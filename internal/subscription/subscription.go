package subscription

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// SubscriberID identifies one subscriber within a Subscription's list
// (stand-in for the original's ClientActorId).
type SubscriberID string

// Subscription is a QuerySet shared by a group of subscribers (spec §3): a
// sender appears at most once.
type Subscription struct {
	Queries     *QuerySet
	subscribers []SubscriberID
}

// NewSubscription returns a Subscription with one initial subscriber.
func NewSubscription(queries *QuerySet, subscriber SubscriberID) *Subscription {
	return &Subscription{Queries: queries, subscribers: []SubscriberID{subscriber}}
}

// Subscribers returns the current subscriber list. The caller must not
// retain the returned slice across a call to AddSubscriber/RemoveSubscriber.
func (s *Subscription) Subscribers() []SubscriberID {
	return s.subscribers
}

// AddSubscriber adds id to the subscriber list if it isn't already present.
func (s *Subscription) AddSubscriber(id SubscriberID) {
	for _, existing := range s.subscribers {
		if existing == id {
			return
		}
	}
	s.subscribers = append(s.subscribers, id)
}

// RemoveSubscriber removes id from the subscriber list, if present, and
// reports whether it was. Empty subscriber lists are legal (spec §3) but
// useless; callers typically drop the Subscription once this returns an
// empty list.
func (s *Subscription) RemoveSubscriber(id SubscriberID) bool {
	for i, existing := range s.subscribers {
		if existing != id {
			continue
		}
		s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
		return true
	}
	return false
}

// seenKey is the (table_id, primary_key) dedup key spec §3's invariant is
// stated in terms of: "a single eval/eval_incr call yields at most one op
// across all queries in the QuerySet".
type seenKey struct {
	tableID uint32
	pk      relvalue.PrimaryKey
}

// tableBucket accumulates ops for one table across however many queries
// touch it, plus the order tables were first touched in, so output is
// deterministic within a single Eval/EvalIncr call.
type tableBucket struct {
	name string
	ops  []dbupdate.TableOp
}

type accumulator struct {
	order   []uint32
	buckets map[uint32]*tableBucket
	seen    map[seenKey]bool
}

func newAccumulator() *accumulator {
	return &accumulator{buckets: make(map[uint32]*tableBucket), seen: make(map[seenKey]bool)}
}

func (a *accumulator) bucket(tableID uint32, tableName string) *tableBucket {
	b, ok := a.buckets[tableID]
	if !ok {
		b = &tableBucket{name: tableName}
		a.buckets[tableID] = b
		a.order = append(a.order, tableID)
	}
	return b
}

// add appends op to tableID's bucket unless (tableID, op.RowPK) has
// already been emitted by an earlier query this call (first-write-wins,
// spec §5: "earlier queries in iteration order win").
func (a *accumulator) add(tableID uint32, tableName string, op dbupdate.TableOp) {
	key := seenKey{tableID: tableID, pk: relvalue.PrimaryKeyFromBytes(op.RowPK)}
	if a.seen[key] {
		return
	}
	a.seen[key] = true
	a.bucket(tableID, tableName).ops = append(a.bucket(tableID, tableName).ops, op)
}

// build assembles the final DatabaseUpdate, dropping empty buckets (spec
// §4.6) and ordering each bucket's ops deletes-before-inserts (spec §3,
// §5, §8).
func (a *accumulator) build() dbupdate.DatabaseUpdate {
	var out dbupdate.DatabaseUpdate
	for _, tableID := range a.order {
		b := a.buckets[tableID]
		if len(b.ops) == 0 {
			continue
		}
		out.Tables = append(out.Tables, dbupdate.DatabaseTableUpdate{
			TableID:   tableID,
			TableName: b.name,
			Ops:       dbupdate.SortDeletesBeforeInserts(b.ops),
		})
	}
	return out
}

// GetAll returns a QuerySet containing one Scan per user table that is
// either public or owned by the caller (spec §4.6).
func GetAll(ctx context.Context, db storage.RelationalDB, tx storage.Tx, auth storage.AuthCtx) (*QuerySet, error) {
	tables, err := db.GetAllTables(ctx, tx)
	if err != nil {
		return nil, errors.Wrap(err, "get all tables")
	}

	qs := NewQuerySet()
	sameOwner := auth.SameOwner()
	for _, t := range tables {
		if t.Type != storage.TableTypeUser {
			continue
		}
		if !(sameOwner || t.Access == storage.TableAccessPublic) {
			continue
		}
		expr := queryexpr.NewScan(queryexpr.TableDesc{TableID: t.TableID, TableName: t.TableName})
		sq, err := NewSupportedQuery(expr)
		if err != nil {
			// get_all only ever builds plain scans, which are always
			// classifiable; a failure here means this package has a bug,
			// not that the caller supplied something bad.
			return nil, errors.Wrap(err, "internal: get_all produced an unsupported query")
		}
		qs.Add(sq)
	}
	return qs, nil
}

// Eval directly executes every query in qs and returns the deduplicated
// union of their results as inserts (spec §4.6).
//
// This is a major difference from normal query execution: a plain
// `run_query` would return the full result set for each query
// independently; Eval instead returns the rows a client needs to build
// its initial view, with cross-query duplicates collapsed.
func Eval(ctx context.Context, db storage.RelationalDB, tx storage.Tx, qs *QuerySet, auth storage.AuthCtx) (dbupdate.DatabaseUpdate, error) {
	acc := newAccumulator()

	var evalErr error
	qs.Each(func(sq SupportedQuery) bool {
		table, ok := sq.Expr().Source.GetDBTable()
		if !ok {
			return true
		}
		results, err := storage.RunQuery(ctx, db, tx, sq.Expr(), auth)
		if err != nil {
			evalErr = errors.Wrapf(err, "eval query over table %q", table.TableName)
			return false
		}
		for _, res := range results {
			for _, rv := range res.Rows {
				pk := relvalue.PKForRow(rv, pkHasher{db})
				acc.add(table.TableID, table.TableName, dbupdate.TableOp{
					OpType: dbupdate.OpInsert,
					RowPK:  pk.Bytes(),
					Row:    rv.Row,
				})
			}
		}
		return true
	})
	if evalErr != nil {
		return dbupdate.DatabaseUpdate{}, evalErr
	}
	return acc.build(), nil
}

// pkHasher adapts a storage.RelationalDB to relvalue.Hasher.
type pkHasher struct {
	db storage.RelationalDB
}

func (h pkHasher) HashRow(row relvalue.Row) relvalue.PrimaryKey {
	return h.db.PKForRow(row)
}

// EvalIncr incrementally re-evaluates qs against a committed transaction's
// row-level delta and returns the minimal DatabaseUpdate a subscriber
// needs to apply to stay in sync (spec §4.6).
func EvalIncr(ctx context.Context, db storage.RelationalDB, tx storage.Tx, qs *QuerySet, update dbupdate.DatabaseUpdate, auth storage.AuthCtx) (dbupdate.DatabaseUpdate, error) {
	acc := newAccumulator()
	hasher := pkHasher{db}

	var evalErr error
	qs.Each(func(sq SupportedQuery) bool {
		switch sq.Kind() {
		case queryexpr.Scan:
			evalErr = evalIncrScan(ctx, db, tx, sq, update, auth, hasher, acc)
		case queryexpr.Semijoin:
			evalErr = evalIncrSemijoin(ctx, db, tx, sq, update, auth, hasher, acc)
		}
		return evalErr == nil
	})
	if evalErr != nil {
		return dbupdate.DatabaseUpdate{}, evalErr
	}
	return acc.build(), nil
}

func evalIncrScan(ctx context.Context, db storage.RelationalDB, tx storage.Tx, sq SupportedQuery, update dbupdate.DatabaseUpdate, auth storage.AuthCtx, hasher relvalue.Hasher, acc *accumulator) error {
	table, ok := sq.Expr().Source.GetDBTable()
	if !ok {
		return errors.Wrap(queryexpr.ErrMissingPhysicalSource, "scan query")
	}
	for _, tableUpdate := range update.Tables {
		if tableUpdate.TableID != table.TableID {
			continue
		}
		plan := queryexpr.ToMemTable(sq.Expr(), tableUpdate)
		ops, err := evalIncremental(ctx, db, tx, plan, auth, hasher)
		if err != nil {
			return errors.Wrapf(err, "incremental scan over table %q", table.TableName)
		}
		for _, op := range ops {
			acc.add(table.TableID, table.TableName, op)
		}
	}
	return nil
}

func evalIncrSemijoin(ctx context.Context, db storage.RelationalDB, tx storage.Tx, sq SupportedQuery, update dbupdate.DatabaseUpdate, auth storage.AuthCtx, hasher relvalue.Hasher, acc *accumulator) error {
	join, err := NewIncrementalJoin(sq.Expr(), update.Tables)
	if err != nil {
		return err
	}
	if join == nil {
		return nil // neither side touched by this transaction
	}
	ops, err := join.Eval(ctx, db, tx, auth, hasher)
	if err != nil {
		return err
	}
	for _, op := range ops {
		acc.add(join.LHSTableID(), join.LHSTableName(), op)
	}
	return nil
}

// evalIncremental runs expr (whose source has already been rewritten to a
// virtual table of changed rows, see queryexpr.ToMemTable) and recovers
// each result row's OpType from the injected OpTypeFieldName column,
// stripping it before computing the row's primary key (spec §4.7: "The
// __op_type__ column is stripped from each output row before computing
// its primary key").
func evalIncremental(ctx context.Context, db storage.RelationalDB, tx storage.Tx, expr queryexpr.QueryExpr, auth storage.AuthCtx, hasher relvalue.Hasher) ([]dbupdate.TableOp, error) {
	results, err := storage.RunQuery(ctx, db, tx, expr, auth)
	if err != nil {
		return nil, err
	}

	var ops []dbupdate.TableOp
	for _, res := range results {
		if res.Empty() {
			continue
		}
		opTypeIdx, ok := dbupdate.FindPosByName(res.ColumnNames, dbupdate.OpTypeFieldName)
		if !ok {
			return nil, errors.Errorf("result for %q has no %s column in its schema %v", res.Table.TableName, dbupdate.OpTypeFieldName, res.ColumnNames)
		}
		for _, rv := range res.Rows {
			if opTypeIdx >= len(rv.Row.Columns) {
				return nil, errors.Errorf("result row for %q has fewer columns than its schema, missing %s", res.Table.TableName, dbupdate.OpTypeFieldName)
			}
			opType := dbupdate.OpType(rv.Row.Columns[opTypeIdx][0])
			stripped := rv.Row.WithoutColumnAt(opTypeIdx)
			strippedRV := rv
			strippedRV.Row = stripped
			pk := relvalue.PKForRow(strippedRV, hasher)
			ops = append(ops, dbupdate.TableOp{OpType: opType, RowPK: pk.Bytes(), Row: stripped})
		}
	}
	return ops, nil
}
