// Package buffertable implements the Buffer Table (spec §4.1): a dense,
// handle-indexed owner of the opaque byte buffers that cross the
// host/guest boundary.
package buffertable

import "fmt"

// Handle is an opaque, dense integer identifier for a buffer held by a
// Table. Insert/Alloc issue handles from 0 upward, reusing freed ones;
// Invalid is the reserved "none" sentinel (spec §3).
type Handle uint32

// Invalid is the sentinel handle meaning "no buffer".
const Invalid Handle = 0xFFFFFFFF

// IsValid reports whether h is not the Invalid sentinel.
func (h Handle) IsValid() bool {
	return h != Invalid
}

// Table owns buffers keyed by Handle. It reuses freed slots, so handles
// are small and dense even under churn. Not safe for concurrent use from
// multiple goroutines - a Table belongs to exactly one Instance
// Environment, which itself runs one reducer call at a time (spec §5).
type Table struct {
	slots []([]byte)
	live  []bool
	free  []Handle
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Insert takes ownership of b and returns a handle for it. Amortised O(1):
// reuses a freed slot if one is available.
func (t *Table) Insert(b []byte) Handle {
	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[h] = b
		t.live[h] = true
		return h
	}
	h := Handle(len(t.slots))
	t.slots = append(t.slots, b)
	t.live = append(t.live, true)
	return h
}

// Alloc creates a zeroed buffer of the given length and returns its
// handle, for the guest to fill in via linear-memory writes (spec §4.1).
func (t *Table) Alloc(length uint32) Handle {
	return t.Insert(make([]byte, length))
}

// Take removes and returns the buffer at h, relinquishing the Table's
// ownership of it. Returns (nil, false) if h is unknown, already
// consumed, or the Invalid sentinel.
func (t *Table) Take(h Handle) ([]byte, bool) {
	if !t.isLive(h) {
		return nil, false
	}
	b := t.slots[h]
	t.slots[h] = nil
	t.live[h] = false
	t.free = append(t.free, h)
	return b, true
}

// Len returns the length of the live buffer at h, or an error if h does
// not identify one.
func (t *Table) Len(h Handle) (uint32, error) {
	if !t.isLive(h) {
		return 0, fmt.Errorf("buffertable: unknown or consumed handle %d", h)
	}
	return uint32(len(t.slots[h])), nil
}

func (t *Table) isLive(h Handle) bool {
	if h == Invalid || int(h) >= len(t.slots) {
		return false
	}
	return t.live[h]
}

// Reset drops every live buffer, reclaiming all slots. Called at reducer
// exit (finish_reducer, spec §4.2) to catch leaks: any handle still live
// here is one the guest failed to consume.
//
// Reset returns the number of buffers it reclaimed, so callers can report
// a leak count without the guest's cooperation.
func (t *Table) Reset() int {
	n := 0
	for h, alive := range t.live {
		if alive {
			t.slots[h] = nil
			t.live[h] = false
			t.free = append(t.free, Handle(h))
			n++
		}
	}
	return n
}
