package abi

import "testing"

func TestVersionTupleString(t *testing.T) {
	v := NewVersionTuple(7, 0)
	if v.String() != "7.0" {
		t.Fatalf("got %q, want %q", v.String(), "7.0")
	}
	if v.Namespace() != "spacetime_7.0" {
		t.Fatalf("got %q, want %q", v.Namespace(), "spacetime_7.0")
	}
}

func TestAcceptsSameMajorLowerOrEqualMinor(t *testing.T) {
	host := NewVersionTuple(7, 2)
	if !host.Accepts(NewVersionTuple(7, 0)) {
		t.Fatal("host should accept a guest with an older minor version")
	}
	if !host.Accepts(NewVersionTuple(7, 2)) {
		t.Fatal("host should accept a guest matching its own version exactly")
	}
}

func TestAcceptsRejectsHigherMinorOrDifferentMajor(t *testing.T) {
	host := NewVersionTuple(7, 0)
	if host.Accepts(NewVersionTuple(7, 1)) {
		t.Fatal("host should reject a guest with a newer minor version")
	}
	if host.Accepts(NewVersionTuple(8, 0)) {
		t.Fatal("host should reject a guest with a different major version")
	}
}
