// Package queryexpr implements a deliberately minimal query-expression AST
// - just enough to express the `Scan` and PK/FK `Semijoin` shapes spec §4.5
// requires the classifier to recognize, plus the virtual-table rewrite
// §4.6/§4.7 need for incremental evaluation.
//
// Full SQL planning and execution (`run_query`) is an out-of-scope
// external collaborator (spec §1); this AST exists only so the classifier
// and the incremental-join rewriter have something concrete to operate on.
// It is reconstructed from the call sites in the original subscription
// engine (`SourceExpr::get_db_table`, `Query::IndexJoin{probe_side}`),
// since the query-planning module itself was not part of the retrieved
// source.
package queryexpr

// TableDesc describes a physical table as the classifier and incremental
// join need to see it: enough to identify it and to know which column
// participates in a join.
type TableDesc struct {
	TableID   uint32
	TableName string
}

// SourceExpr is the source a QueryExpr reads from: either a physical table
// or a virtual in-memory table synthesized during incremental evaluation
// (spec §4.6's "rewrite its source to a virtual table").
type SourceExpr struct {
	// Table is set when the source is a physical table.
	Table *TableDesc
	// Virtual is set when the source is a virtual table of rows, e.g. the
	// changed rows of a DatabaseTableUpdate with an injected op-type
	// column (spec §6).
	Virtual *MemTable
}

// NewTableSource returns a SourceExpr reading directly from a physical
// table.
func NewTableSource(t TableDesc) SourceExpr {
	return SourceExpr{Table: &t}
}

// GetDBTable returns the physical table this source reads from, or
// (zero, false) if the source is virtual.
func (s SourceExpr) GetDBTable() (TableDesc, bool) {
	if s.Table == nil {
		return TableDesc{}, false
	}
	return *s.Table, true
}

// Op is one operator in a query's pipeline, applied left to right after
// the source is read.
type Op struct {
	// Filter, when non-nil, is a predicate-only operator (e.g. a WHERE
	// clause or an equality index scan). Its internals are opaque here -
	// the storage engine evaluates it - but its presence (and the fact
	// that it is not an IndexJoin) is what the classifier needs.
	Filter *FilterOp
	// Project, when non-nil, is a column-projection operator.
	Project *ProjectOp
	// IndexJoin, when non-nil, is an index join against another physical
	// table keyed by primary/foreign key equality (spec §4.5, §GLOSSARY).
	IndexJoin *IndexJoin
}

// FilterOp is an opaque predicate: column ColEq equals Value. This is the
// only predicate shape the classifier needs to recognize as "still a
// Scan" (spec §4.5): a richer predicate algebra belongs to the
// out-of-scope production query planner.
type FilterOp struct {
	ColEq string
	Value []byte
}

// ProjectOp is an opaque column projection.
type ProjectOp struct {
	Columns []string
}

// IndexJoin is a join whose probe side is looked up by an index on the
// join column (spec GLOSSARY). JoinColumn names the column on the *source*
// (LHS) side that the probe side's ProbeColumn must equal.
//
// OneToAtMostOne is the caller's assertion that this join is a PK/FK
// semijoin in the direction required by §4.5 - i.e. each ProbeSide row
// matches at most one row of the outer source. Classify does not verify
// it; it only rejects a join that lacks the flag.
type IndexJoin struct {
	ProbeSide      QueryExpr
	JoinColumn     string
	ProbeColumn    string
	OneToAtMostOne bool
}

// QueryExpr is a source plus zero or more operators, the same shape the
// incremental engine rewrites in place (spec §4.6).
type QueryExpr struct {
	Source SourceExpr
	Ops    []Op
}

// NewScan returns the trivial "SELECT * FROM table" expression.
func NewScan(t TableDesc) QueryExpr {
	return QueryExpr{Source: NewTableSource(t)}
}

// Clone returns a deep-enough copy of e for in-place rewriting (Ops is
// copied; nested QueryExprs inside an IndexJoin's ProbeSide are cloned
// too).
func (e QueryExpr) Clone() QueryExpr {
	ops := make([]Op, len(e.Ops))
	for i, op := range e.Ops {
		if op.IndexJoin != nil {
			ij := *op.IndexJoin
			ij.ProbeSide = ij.ProbeSide.Clone()
			op.IndexJoin = &ij
		}
		ops[i] = op
	}
	return QueryExpr{Source: e.Source, Ops: ops}
}

// FindIndexJoin returns the first IndexJoin operator in e, if any.
func (e QueryExpr) FindIndexJoin() (*IndexJoin, bool) {
	for i := range e.Ops {
		if e.Ops[i].IndexJoin != nil {
			return e.Ops[i].IndexJoin, true
		}
	}
	return nil, false
}

// Less gives QueryExpr a total order so SupportedQuery values (which embed
// a QueryExpr) can live in an ordered set (spec §3: QuerySet is "ordered by
// the natural ordering of expr"). The ordering itself carries no semantic
// meaning beyond determinism; it orders first by source table id, then by
// operator count, then lexicographically by each operator's shape.
func (e QueryExpr) Less(other QueryExpr) bool {
	at, aok := e.Source.GetDBTable()
	bt, bok := other.Source.GetDBTable()
	switch {
	case aok != bok:
		return !aok && bok // virtual sources sort before physical, arbitrarily but deterministically
	case aok && bok && at.TableID != bt.TableID:
		return at.TableID < bt.TableID
	}
	if len(e.Ops) != len(other.Ops) {
		return len(e.Ops) < len(other.Ops)
	}
	for i := range e.Ops {
		if c := compareOp(e.Ops[i], other.Ops[i]); c != 0 {
			return c < 0
		}
	}
	return false
}

func compareOp(a, b Op) int {
	rank := func(o Op) int {
		switch {
		case o.Filter != nil:
			return 0
		case o.Project != nil:
			return 1
		case o.IndexJoin != nil:
			return 2
		default:
			return 3
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch {
	case a.Filter != nil:
		return compareStrings(a.Filter.ColEq, b.Filter.ColEq)
	case a.IndexJoin != nil:
		return compareStrings(a.IndexJoin.JoinColumn, b.IndexJoin.JoinColumn)
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
