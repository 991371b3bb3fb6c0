// Package hostenv implements the Instance Environment (C2): the per-call
// mutable state a host-call closure reads and mutates while a guest
// reducer or describer runs (spec §4.2).
package hostenv

import (
	"fmt"
	"sync"
	"time"

	"github.com/vela-systems/reactorhost/internal/buffertable"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// Memory is the subset of a guest module's linear memory the instance
// environment needs in order to move bytes across the host/guest boundary.
// wazero's api.Memory satisfies this interface structurally, so this
// package never imports wazero directly.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// IteratorHandle identifies a live table cursor registered with an Env,
// scoped to a single reducer call (spec §3).
type IteratorHandle uint32

// InvalidIterator is the sentinel value meaning "no iterator".
const InvalidIterator IteratorHandle = 0xFFFFFFFF

// Iterator is the cursor state iter_start/iter_next/iter_drop operate on.
type Iterator struct {
	Rows []relvalue.RelValue
	Pos  int
}

// Next returns the next row and advances the cursor, or (_, false) once
// exhausted.
func (it *Iterator) Next() (relvalue.RelValue, bool) {
	if it.Pos >= len(it.Rows) {
		return relvalue.RelValue{}, false
	}
	rv := it.Rows[it.Pos]
	it.Pos++
	return rv, true
}

// Timings are the measurements finish_reducer hands back (spec §4.2,
// §4.4; the original logs the describer's elapsed time at trace level in
// microseconds).
type Timings struct {
	Total time.Duration
}

// Env is the Instance Environment: buffer table, iterator registry, the
// storage engine handle, caller identity, and the energy meter, all
// scoped to one guest instance.
//
// Not safe for concurrent use. Spec §5: "Each instance runs one reducer at
// a time; the store and environment are exclusively owned during a call."
// The mutex here guards against accidental reentrancy bugs, not genuine
// concurrent access.
type Env struct {
	mu sync.Mutex

	memory Memory

	buffers   *buffertable.Table
	iterators map[IteratorHandle]*Iterator
	nextIter  IteratorHandle

	db storage.RelationalDB
	tx storage.Tx

	callerIdentity [32]byte
	callerAddress  [16]byte

	reducerInProgress bool
	callStart         time.Time

	energyBudget    energy.Quanta
	energyRemaining energy.Quanta

	spans    map[uint32]time.Time
	nextSpan uint32
}

// New returns an Env bound to db/tx, with an empty buffer table and
// iterator registry. Memory is attached separately via Instantiate, once
// the guest module's exports exist (spec §4.2: "instantiate(memory)").
func New(db storage.RelationalDB, tx storage.Tx) *Env {
	return &Env{
		buffers:   buffertable.New(),
		iterators: make(map[IteratorHandle]*Iterator),
		spans:     make(map[uint32]time.Time),
		db:        db,
		tx:        tx,
	}
}

// Instantiate binds the guest's linear memory.
func (e *Env) Instantiate(mem Memory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory = mem
}

// Memory returns the bound linear memory, or nil before Instantiate runs.
func (e *Env) Memory() Memory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memory
}

// DB returns the storage engine handle host-calls read and write through.
func (e *Env) DB() storage.RelationalDB { return e.db }

// Tx returns the open transaction host-calls operate within.
func (e *Env) Tx() storage.Tx { return e.tx }

// SetCaller records the reducer invocation's sender identity/address
// (spec §3's Reducer Invocation).
func (e *Env) SetCaller(identity [32]byte, address [16]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callerIdentity = identity
	e.callerAddress = address
}

// CallerIdentity returns the current call's sender identity.
func (e *Env) CallerIdentity() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callerIdentity
}

// CallerAddress returns the current call's sender address.
func (e *Env) CallerAddress() [16]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callerAddress
}

// StartReducer resets per-call scratch state and timers (spec §4.2).
func (e *Env) StartReducer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iterators = make(map[IteratorHandle]*Iterator)
	e.nextIter = 0
	e.spans = make(map[uint32]time.Time)
	e.nextSpan = 0
	e.reducerInProgress = true
	e.callStart = time.Now()
}

// InProgress reports whether a reducer call is currently active.
func (e *Env) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reducerInProgress
}

// FinishReducer returns timings and clears scratch state: iterators are
// dropped and leaked buffers reclaimed (spec §4.2, and §3's handle-leak
// invariant: "the host must reclaim or report leaks").
func (e *Env) FinishReducer() (Timings, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := time.Since(e.callStart)
	e.iterators = make(map[IteratorHandle]*Iterator)
	e.nextIter = 0
	e.spans = make(map[uint32]time.Time)
	e.nextSpan = 0
	leaked := e.buffers.Reset()
	e.reducerInProgress = false
	return Timings{Total: total}, leaked
}

// StartSpan records the start of a guest-measured region named name and
// returns an id for the matching EndSpan call (spec §4.3: span_start /
// span_end). The name is accepted for parity with the host-call surface
// but not otherwise interpreted here.
func (e *Env) StartSpan(name string) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSpan
	e.nextSpan++
	e.spans[id] = time.Now()
	return id
}

// EndSpan closes the span opened by StartSpan and returns its elapsed
// duration, or zero if span is unknown (already ended, or never opened).
func (e *Env) EndSpan(span uint32) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	start, ok := e.spans[span]
	if !ok {
		return 0
	}
	delete(e.spans, span)
	return time.Since(start)
}

// TakeBuffer removes and returns the bytes held at h, or (nil, false) if h
// is unknown, the sentinel, or already consumed (spec §4.1).
func (e *Env) TakeBuffer(h buffertable.Handle) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffers.Take(h)
}

// InsertBuffer hands ownership of b to the instance environment and
// returns its handle (spec §4.2: "bridges between the Buffer Table and
// call sites").
func (e *Env) InsertBuffer(b []byte) buffertable.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffers.Insert(b)
}

// BufferLen returns the length of the live buffer at h.
func (e *Env) BufferLen(h buffertable.Handle) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.buffers.Len(h)
	if err != nil {
		return 0, fmt.Errorf("hostenv: %w", err)
	}
	return n, nil
}

// AllocBuffer creates a zeroed buffer of size n for the guest to fill via
// memory writes (spec §4.1).
func (e *Env) AllocBuffer(n uint32) buffertable.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffers.Alloc(n)
}

// NewIteratorHandle registers rows as a live cursor and returns its
// handle (spec §3's Iterator Handle).
func (e *Env) NewIteratorHandle(rows []relvalue.RelValue) IteratorHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.nextIter
	e.nextIter++
	e.iterators[h] = &Iterator{Rows: rows}
	return h
}

// Iterator returns the live iterator at h, or (nil, false) if unknown.
func (e *Env) Iterator(h IteratorHandle) (*Iterator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.iterators[h]
	return it, ok
}

// DropIterator removes the iterator at h; a no-op if h is unknown (spec
// §4.3: iter_drop).
func (e *Env) DropIterator(h IteratorHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.iterators, h)
}

// SetEnergyBudget seeds the meter before a call (spec §3/§5: "budget in").
func (e *Env) SetEnergyBudget(budget energy.Quanta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.energyBudget = budget
	e.energyRemaining = budget
}

// ChargeEnergy deducts cost from the remaining budget and reports whether
// the call may proceed. A false return means the budget was already
// exhausted before this charge; the caller must trap the guest (spec §3:
// "zero ⇒ trap").
func (e *Env) ChargeEnergy(cost energy.Quanta) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.energyRemaining == 0 {
		return false
	}
	e.energyRemaining = e.energyRemaining.Sub(cost)
	return true
}

// EnergyStats computes the EnergyStats{used, remaining} pair for the call
// in progress (spec §4.4 step 7).
func (e *Env) EnergyStats() energy.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return energy.NewStats(e.energyBudget, e.energyRemaining)
}

// EnergyRemaining returns the budget remaining right now.
func (e *Env) EnergyRemaining() energy.Quanta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.energyRemaining
}
