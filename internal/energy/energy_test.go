package energy

import "testing"

func TestQuantaSubSaturatesAtZero(t *testing.T) {
	if got := Quanta(5).Sub(10); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := Quanta(10).Sub(5); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestNewStatsComputesUsedFromBudgetAndRemaining(t *testing.T) {
	stats := NewStats(100, 40)
	if stats.Used != 60 || stats.Remaining != 40 {
		t.Fatalf("got %+v, want Used=60 Remaining=40", stats)
	}
}

func TestFromPointsAndAsPointsRoundTrip(t *testing.T) {
	q := FromPoints(42)
	if q.AsPoints() != 42 {
		t.Fatalf("got %d, want 42", q.AsPoints())
	}
}
