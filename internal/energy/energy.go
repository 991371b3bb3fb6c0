// Package energy implements the host's abstract unit of metered work
// ("points") and its lossless, linear conversion to/from an energy
// quantity callers reason about in budgets.
package energy

// PointsPerUnit is the conversion factor between an EnergyQuanta and the
// raw "points" the metering layer actually counts down. It is an
// implementation constant, not a tunable: changing it would silently
// rescale every previously-recorded budget.
const PointsPerUnit = 1

// Quanta is an abstract amount of metered work. It converts losslessly
// to/from raw points via PointsPerUnit.
type Quanta uint64

// DefaultInitBudget is the budget seeded before preinit/setup calls, which
// run before any caller-supplied per-reducer budget applies.
const DefaultInitBudget Quanta = 1_000_000

// DefaultReducerBudget is the budget the module host seeds a reducer call
// with when the caller (an HTTP/CLI invocation, or a self-scheduled call)
// does not name one explicitly.
const DefaultReducerBudget Quanta = 10_000_000

// FromPoints converts a raw point count to a Quanta.
func FromPoints(points uint64) Quanta {
	return Quanta(points / PointsPerUnit)
}

// AsPoints converts a Quanta to the raw point count the metering layer
// tracks.
func (q Quanta) AsPoints() uint64 {
	return uint64(q) * PointsPerUnit
}

// Sub returns q - other, saturating at zero rather than wrapping. Used to
// compute `used` from `budget` and `remaining` when the two sources
// disagree by rounding (they never should, given PointsPerUnit == 1, but
// the saturating subtraction keeps the invariant `0 <= remaining <= budget`
// from ever being violated by a metering implementation detail).
func (q Quanta) Sub(other Quanta) Quanta {
	if other > q {
		return 0
	}
	return q - other
}

// Stats is the energy accounting reported alongside a call's result.
type Stats struct {
	Used      Quanta
	Remaining Quanta
}

// NewStats computes Stats from a budget and what was left over.
func NewStats(budget, remaining Quanta) Stats {
	return Stats{Used: budget.Sub(remaining), Remaining: remaining}
}
