package relvalue

import "testing"

func TestPrimaryKeyBytesRoundTrip(t *testing.T) {
	var pk PrimaryKey
	for i := range pk {
		pk[i] = byte(i)
	}
	got := PrimaryKeyFromBytes(pk.Bytes())
	if got != pk {
		t.Fatalf("round trip mismatch: got %v, want %v", got, pk)
	}
}

func TestDefaultHasherIsDeterministic(t *testing.T) {
	row := Row{Columns: []Value{[]byte("alice"), []byte("33")}}
	h := DefaultHasher{}
	a := h.HashRow(row)
	b := h.HashRow(row.Clone())
	if a != b {
		t.Fatal("hashing two equal rows produced different keys")
	}
}

func TestDefaultHasherDistinguishesColumnBoundaries(t *testing.T) {
	h := DefaultHasher{}
	a := h.HashRow(Row{Columns: []Value{[]byte("ab"), []byte("c")}})
	b := h.HashRow(Row{Columns: []Value{[]byte("a"), []byte("bc")}})
	if a == b {
		t.Fatal("length-prefixing should prevent column-boundary collisions")
	}
}

func TestPKForRowPrefersPrecomputedID(t *testing.T) {
	row := Row{Columns: []Value{[]byte("x")}}
	var fixed PrimaryKey
	fixed[0] = 0xff
	rv := NewRelValueWithID(row, fixed)

	got := PKForRow(rv, DefaultHasher{})
	if got != fixed {
		t.Fatal("PKForRow should return the precomputed id when present")
	}
}

func TestPKForRowFallsBackToHasher(t *testing.T) {
	row := Row{Columns: []Value{[]byte("x")}}
	rv := NewRelValue(row)

	want := DefaultHasher{}.HashRow(row)
	got := PKForRow(rv, DefaultHasher{})
	if got != want {
		t.Fatal("PKForRow should hash the row when it has no precomputed id")
	}
}

func TestRowEqualAndClone(t *testing.T) {
	r := Row{Columns: []Value{[]byte("a"), []byte("b")}}
	c := r.Clone()
	if !r.Equal(c) {
		t.Fatal("clone should be equal to the original")
	}
	c.Columns[0][0] = 'z'
	if r.Columns[0][0] == 'z' {
		t.Fatal("mutating the clone's column bytes affected the original")
	}
}

func TestRowWithColumnAndWithoutColumnAt(t *testing.T) {
	r := Row{Columns: []Value{[]byte("a"), []byte("b")}}
	marked := r.WithColumn([]byte("marker"))
	if len(marked.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(marked.Columns))
	}
	if len(r.Columns) != 2 {
		t.Fatal("WithColumn should not mutate the receiver")
	}

	stripped := marked.WithoutColumnAt(2)
	if !stripped.Equal(r) {
		t.Fatal("stripping the appended marker column should restore the original row")
	}
}
