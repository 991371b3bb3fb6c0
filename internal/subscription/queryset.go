// Package subscription implements the Subscription Set (C6), the
// Incremental Semijoin (C7), and builds on the Primary-Key Deduper (C8,
// relvalue.PKForRow) to evaluate a client's queries against a database,
// once up front and then incrementally on every committed transaction
// (spec §4.6, §4.7).
package subscription

import (
	"github.com/google/btree"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
)

// SupportedQuery is a QueryExpr that has already passed classification
// (spec §3). The only way to construct one is NewSupportedQuery, which
// classifies on the caller's behalf.
type SupportedQuery struct {
	kind queryexpr.Supported
	expr queryexpr.QueryExpr
}

// NewSupportedQuery classifies expr and wraps it if supported.
func NewSupportedQuery(expr queryexpr.QueryExpr) (SupportedQuery, error) {
	kind, err := queryexpr.Classify(expr)
	if err != nil {
		return SupportedQuery{}, err
	}
	return SupportedQuery{kind: kind, expr: expr}, nil
}

// Kind returns the query's classified shape.
func (q SupportedQuery) Kind() queryexpr.Supported { return q.kind }

// Expr returns the underlying expression.
func (q SupportedQuery) Expr() queryexpr.QueryExpr { return q.expr }

// Less implements btree.Item, giving SupportedQuery the total order
// queryexpr.QueryExpr.Less defines, so a QuerySet iterates deterministically
// (spec §3: "QuerySet ... ordered by the natural ordering of expr").
func (q SupportedQuery) Less(than btree.Item) bool {
	other := than.(SupportedQuery)
	return q.expr.Less(other.expr)
}

// QuerySet is an ordered set of SupportedQuery, the stand-in for the
// original's `BTreeSet<SupportedQuery>`.
type QuerySet struct {
	tree *btree.BTree
}

// degree is the btree.New fanout; 32 is the library's own suggested
// default and has no semantic meaning here beyond "not fine enough to
// matter, not so coarse it degenerates to a list".
const degree = 32

// NewQuerySet returns an empty QuerySet.
func NewQuerySet() *QuerySet {
	return &QuerySet{tree: btree.New(degree)}
}

// Add inserts q, replacing any existing entry that compares equal under
// q's ordering (this mirrors BTreeSet's "insert replaces on equal key"
// semantics; since SupportedQuery carries no auxiliary, non-ordered data,
// that distinction is moot in practice).
func (s *QuerySet) Add(q SupportedQuery) {
	s.tree.ReplaceOrInsert(q)
}

// Len returns the number of queries in the set.
func (s *QuerySet) Len() int {
	return s.tree.Len()
}

// Each calls fn for every query in the set's deterministic iteration
// order, stopping early if fn returns false.
func (s *QuerySet) Each(fn func(SupportedQuery) bool) {
	s.tree.Ascend(func(item btree.Item) bool {
		return fn(item.(SupportedQuery))
	})
}

// All returns every query in iteration order, as a slice. Convenience for
// callers (mostly tests) that don't need early termination.
func (s *QuerySet) All() []SupportedQuery {
	out := make([]SupportedQuery, 0, s.tree.Len())
	s.Each(func(q SupportedQuery) bool {
		out = append(out, q)
		return true
	})
	return out
}
