package queryexpr

import "github.com/pkg/errors"

// Supported names the kind of a query the subscription engine knows how to
// evaluate incrementally (spec §4.5).
type Supported int

const (
	// Scan is a sequence of filter/project/index-scan ops over a single
	// physical table.
	Scan Supported = iota
	// Semijoin is exactly one index-join operator whose probe side is
	// another physical table, joined by primary/foreign key equality,
	// one-to-at-most-one in the probe direction.
	Semijoin
)

// String implements fmt.Stringer for log lines and test failure messages.
func (s Supported) String() string {
	switch s {
	case Scan:
		return "Scan"
	case Semijoin:
		return "Semijoin"
	default:
		return "unknown"
	}
}

// ErrUnsupportedQuery is returned by Classify when expr matches neither
// Scan nor Semijoin. Subscription-open must surface this as a hard error
// (spec §4.5, §7: QueryUnsupported).
var ErrUnsupportedQuery = errors.New("queryexpr: unsupported query expression")

// ErrMissingPhysicalSource is returned when a query's source (or a join's
// probe side) has no physical table to ground it (spec §7).
var ErrMissingPhysicalSource = errors.New("queryexpr: expression without physical source table")

// Classify decides whether expr is a Scan or a Semijoin, or returns
// ErrUnsupportedQuery/ErrMissingPhysicalSource.
//
// Classify is a pure function of expr; it commits no state (spec §4.5).
func Classify(expr QueryExpr) (Supported, error) {
	if _, ok := expr.Source.GetDBTable(); !ok {
		return 0, errors.Wrap(ErrMissingPhysicalSource, "source")
	}

	joinCount := 0
	for _, op := range expr.Ops {
		if op.IndexJoin != nil {
			joinCount++
		}
	}

	switch joinCount {
	case 0:
		return Scan, nil
	case 1:
		ij, _ := expr.FindIndexJoin()
		if _, ok := ij.ProbeSide.Source.GetDBTable(); !ok {
			return 0, errors.Wrap(ErrMissingPhysicalSource, "join probe side")
		}
		if !ij.OneToAtMostOne {
			return 0, errors.Wrapf(ErrUnsupportedQuery, "index join on %q is not one-to-at-most-one", ij.JoinColumn)
		}
		return Semijoin, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedQuery, "expression has %d index joins, at most 1 supported", joinCount)
	}
}
