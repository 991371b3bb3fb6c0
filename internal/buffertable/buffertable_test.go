package buffertable

import "testing"

func TestInsertTakeRoundTrip(t *testing.T) {
	tbl := New()
	h := tbl.Insert([]byte("hello"))

	got, ok := tbl.Take(h)
	if !ok {
		t.Fatalf("Take(%d) = false, want true", h)
	}
	if string(got) != "hello" {
		t.Errorf("Take(%d) = %q, want %q", h, got, "hello")
	}

	if _, ok := tbl.Take(h); ok {
		t.Errorf("double Take(%d) succeeded, want failure", h)
	}
}

func TestAllocRoundTrip(t *testing.T) {
	tbl := New()
	h := tbl.Alloc(4)

	n, err := tbl.Len(h)
	if err != nil {
		t.Fatalf("Len(%d) error: %v", h, err)
	}
	if n != 4 {
		t.Errorf("Len(%d) = %d, want 4", h, n)
	}

	b, ok := tbl.Take(h)
	if !ok || len(b) != 4 {
		t.Fatalf("Take(%d) = %v, %v, want 4 zero bytes", h, b, ok)
	}
}

func TestFreeSlotReuse(t *testing.T) {
	tbl := New()
	h1 := tbl.Insert([]byte("a"))
	tbl.Take(h1)
	h2 := tbl.Insert([]byte("b"))

	if h1 != h2 {
		t.Errorf("expected freed slot %d to be reused, got new handle %d", h1, h2)
	}
}

func TestTakeUnknownHandle(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Take(Handle(42)); ok {
		t.Error("Take on unknown handle succeeded, want failure")
	}
	if _, ok := tbl.Take(Invalid); ok {
		t.Error("Take(Invalid) succeeded, want failure")
	}
}

func TestLenOnUnknownHandle(t *testing.T) {
	tbl := New()
	if _, err := tbl.Len(Handle(7)); err == nil {
		t.Error("Len on unknown handle returned nil error")
	}
}

func TestResetReclaimsLeaks(t *testing.T) {
	tbl := New()
	tbl.Insert([]byte("leaked-1"))
	tbl.Insert([]byte("leaked-2"))
	consumed := tbl.Insert([]byte("consumed"))
	tbl.Take(consumed)

	n := tbl.Reset()
	if n != 2 {
		t.Errorf("Reset() = %d, want 2 (only unconsumed buffers are leaks)", n)
	}
	if n2 := tbl.Reset(); n2 != 0 {
		t.Errorf("second Reset() = %d, want 0", n2)
	}
}
