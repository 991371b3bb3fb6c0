// Package hostcall implements the Host-Call Surface (C3): the wazero host
// module a guest imports under the versioned namespace
// "spacetime_<major>.<minor>" (spec §4.3), built as closures over an
// *hostenv.Env threaded through context.Value.
//
// Every function here charges energy before doing any work and translates
// its own errors into a guest-visible status code rather than trapping the
// instance - per spec §7, "host-call errors become guest-visible status
// codes, never host traps." The only trap this package can cause is a
// missing Env in the context (a host bug, not a guest one); an
// out-of-bounds guest memory range in buffer_alloc/buffer_consume is
// reported as the Invalid handle / StatusErr like any other failure.
package hostcall

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/vela-systems/reactorhost/internal/buffertable"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/hostenv"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// envKey is the context.Value key the executor sets before invoking any
// guest export, so every host-call closure below can recover the Env
// scoped to that instantiation (spec §4.2's "threaded per call").
type envKey struct{}

// WithEnv returns a context carrying env, for the executor to pass into
// wazero's CallWithStack/Call before invoking a guest export.
func WithEnv(ctx context.Context, env *hostenv.Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func envFrom(ctx context.Context) *hostenv.Env {
	env, ok := ctx.Value(envKey{}).(*hostenv.Env)
	if !ok {
		// Only reachable if the executor invoked a guest export without
		// first calling WithEnv - a host wiring bug, not guest behavior.
		panic("hostcall: no Env in context")
	}
	return env
}

// Status codes returned in place of a trap. 0 always means success; the
// exact non-zero values are this host's own and not part of any wire
// contract the guest depends on beyond "zero means ok".
const (
	StatusOK uint32 = 0
	StatusErr uint32 = 1
	StatusBadHandle uint32 = 2
	StatusNotFound uint32 = 3
)

// Cost is the energy charged per host-call, proportional to the work each
// one does (spec §4.3). These are this host's own constants: the pack's
// retrieved original source measures actual guest bytecode instructions
// via wasmer metering middleware, which this host does not have access to
// (see internal/wasmhost's per-guest-function-call proxy instead); a flat
// per-call table is the next best approximation available to a wazero
// host.
const (
	costBufferOp     energy.Quanta = 1
	costTableLookup  energy.Quanta = 10
	costRowOp        energy.Quanta = 50
	costIterStart    energy.Quanta = 100
	costIterNext     energy.Quanta = 20
	costScheduleCall energy.Quanta = 200
	costConsoleLog   energy.Quanta = 5
	costSpan         energy.Quanta = 2
)

// charge deducts cost from env's budget and reports whether the call may
// proceed. When it returns false the caller does no work and returns its
// usual failure value (a status code, the Invalid sentinel, or zero); the
// guest itself is stopped by internal/wasmhost's metering listener at its
// next guest function call, once the budget reads zero.
func charge(env *hostenv.Env, cost energy.Quanta) bool {
	return env.ChargeEnergy(cost)
}

// Scheduler is the collaborator schedule_reducer/cancel_reducer delegate
// to (spec §4.3; the scheduling queue itself lives in the module host,
// outside this package's scope).
type Scheduler interface {
	Schedule(ctx context.Context, reducerID uint32, args []byte, atMicros uint64) (scheduleID uint64)
	Cancel(ctx context.Context, scheduleID uint64) bool
}

// Logger receives console_log calls (spec §4.3). Distinct from the
// module host's own structured logging: this is the guest's own log
// stream, always namespaced by the reducer that produced it.
type Logger interface {
	Log(level uint32, target, message string)
}

// Build registers the host module functions under namespace (callers pass
// abi.ImplementedABI.Namespace()) against r and instantiates it once,
// ready for every guest instantiation in the runtime's lifetime to import
// from - host-calls are plain Go closures, so unlike a guest module there
// is no benefit to compiling without instantiating. sched and log may be
// nil, in which case schedule_reducer/cancel_reducer and console_log
// still charge energy but are otherwise no-ops - useful for
// describer-only instantiations that never call a reducer.
func Build(ctx context.Context, r wazero.Runtime, namespace string, sched Scheduler, log Logger) (api.Module, error) {
	b := r.NewHostModuleBuilder(namespace)

	b.NewFunctionBuilder().WithFunc(scheduleReducerFn(sched)).Export("schedule_reducer")
	b.NewFunctionBuilder().WithFunc(cancelReducerFn(sched)).Export("cancel_reducer")
	b.NewFunctionBuilder().WithFunc(getTableID).Export("get_table_id")
	b.NewFunctionBuilder().WithFunc(createIndex).Export("create_index")
	b.NewFunctionBuilder().WithFunc(insert).Export("insert")
	b.NewFunctionBuilder().WithFunc(deleteByColEq).Export("delete_by_col_eq")
	b.NewFunctionBuilder().WithFunc(iterStart).Export("iter_start")
	b.NewFunctionBuilder().WithFunc(iterStartFiltered).Export("iter_start_filtered")
	b.NewFunctionBuilder().WithFunc(iterByColEq).Export("iter_by_col_eq")
	b.NewFunctionBuilder().WithFunc(iterNext).Export("iter_next")
	b.NewFunctionBuilder().WithFunc(iterDrop).Export("iter_drop")
	b.NewFunctionBuilder().WithFunc(bufferLen).Export("buffer_len")
	b.NewFunctionBuilder().WithFunc(bufferConsume).Export("buffer_consume")
	b.NewFunctionBuilder().WithFunc(bufferAlloc).Export("buffer_alloc")
	b.NewFunctionBuilder().WithFunc(consoleLogFn(log)).Export("console_log")
	b.NewFunctionBuilder().WithFunc(spanStart).Export("span_start")
	b.NewFunctionBuilder().WithFunc(spanEnd).Export("span_end")

	return b.Instantiate(ctx)
}

// --- scheduling -------------------------------------------------------

func scheduleReducerFn(sched Scheduler) func(context.Context, api.Module, uint32, uint32, uint64) uint64 {
	return func(ctx context.Context, mod api.Module, reducerID uint32, argsBuf uint32, atMicros uint64) uint64 {
		env := envFrom(ctx)
		if !charge(env, costScheduleCall) {
			return 0
		}
		args, ok := env.TakeBuffer(buffertable.Handle(argsBuf))
		if !ok || sched == nil {
			return 0
		}
		return sched.Schedule(ctx, reducerID, args, atMicros)
	}
}

func cancelReducerFn(sched Scheduler) func(context.Context, api.Module, uint64) uint32 {
	return func(ctx context.Context, mod api.Module, scheduleID uint64) uint32 {
		env := envFrom(ctx)
		if !charge(env, costTableLookup) {
			return StatusErr
		}
		if sched == nil || !sched.Cancel(ctx, scheduleID) {
			return StatusNotFound
		}
		return StatusOK
	}
}

// --- table metadata and mutation --------------------------------------

// getTableID reads a table name out of a guest-supplied buffer and
// returns its id, or 0xFFFFFFFF if unknown (spec §4.3: a host-call "not
// found" uses the same invalid sentinel as a handle, since table ids and
// handles share the same namespace convention in this host).
func getTableID(ctx context.Context, mod api.Module, nameBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costTableLookup) {
		return 0xFFFFFFFF
	}
	name, ok := env.TakeBuffer(buffertable.Handle(nameBuf))
	if !ok {
		return 0xFFFFFFFF
	}
	id, found, err := storage.TableIDByName(ctx, env.DB(), env.Tx(), string(name))
	if err != nil || !found {
		return 0xFFFFFFFF
	}
	return id
}

func createIndex(ctx context.Context, mod api.Module, tableID, nameBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costTableLookup) {
		return StatusErr
	}
	name, ok := env.TakeBuffer(buffertable.Handle(nameBuf))
	if !ok {
		return StatusBadHandle
	}
	mut, ok := env.DB().(storage.Mutator)
	if !ok {
		return StatusErr
	}
	if err := mut.CreateIndex(ctx, env.Tx(), tableID, string(name)); err != nil {
		return StatusNotFound
	}
	return StatusOK
}

func insert(ctx context.Context, mod api.Module, tableID, rowBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costRowOp) {
		return StatusErr
	}
	raw, ok := env.TakeBuffer(buffertable.Handle(rowBuf))
	if !ok {
		return StatusBadHandle
	}
	row, err := relvalue.DecodeRow(raw)
	if err != nil {
		return StatusErr
	}
	mut, ok := env.DB().(storage.Mutator)
	if !ok {
		return StatusErr
	}
	if _, err := mut.InsertRow(ctx, env.Tx(), tableID, row); err != nil {
		return StatusNotFound
	}
	return StatusOK
}

func deleteByColEq(ctx context.Context, mod api.Module, tableID, col, valBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costRowOp) {
		return 0xFFFFFFFF
	}
	val, ok := env.TakeBuffer(buffertable.Handle(valBuf))
	if !ok {
		return 0xFFFFFFFF
	}
	mut, ok := env.DB().(storage.Mutator)
	if !ok {
		return 0xFFFFFFFF
	}
	n, err := mut.DeleteByColEq(ctx, env.Tx(), tableID, int(col), val)
	if err != nil {
		return 0xFFFFFFFF
	}
	return uint32(n)
}

// --- iteration ---------------------------------------------------------

func iterStart(ctx context.Context, mod api.Module, tableID uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costIterStart) {
		return uint32(hostenv.InvalidIterator)
	}
	rows, err := env.DB().FetchRows(ctx, env.Tx(), tableID)
	if err != nil {
		return uint32(hostenv.InvalidIterator)
	}
	return uint32(env.NewIteratorHandle(rows))
}

// iterStartFiltered reads a (col byte, value bytes) pair from a
// guest-supplied buffer and starts a cursor over matching rows only. The
// predicate language beyond single-column equality is the query
// planner's concern (out of scope, see internal/storage's package doc),
// so this host-call supports exactly the equality case subscription
// queries actually need.
func iterStartFiltered(ctx context.Context, mod api.Module, tableID, filterBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costIterStart) {
		return uint32(hostenv.InvalidIterator)
	}
	filter, ok := env.TakeBuffer(buffertable.Handle(filterBuf))
	if !ok || len(filter) < 1 {
		return uint32(hostenv.InvalidIterator)
	}
	col, value := int(filter[0]), filter[1:]
	rows, err := filteredRows(ctx, env, tableID, col, value)
	if err != nil {
		return uint32(hostenv.InvalidIterator)
	}
	return uint32(env.NewIteratorHandle(rows))
}

func iterByColEq(ctx context.Context, mod api.Module, tableID, col, valBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costIterStart) {
		return uint32(hostenv.InvalidIterator)
	}
	value, ok := env.TakeBuffer(buffertable.Handle(valBuf))
	if !ok {
		return uint32(hostenv.InvalidIterator)
	}
	rows, err := filteredRows(ctx, env, tableID, int(col), value)
	if err != nil {
		return uint32(hostenv.InvalidIterator)
	}
	return uint32(env.NewIteratorHandle(rows))
}

func filteredRows(ctx context.Context, env *hostenv.Env, tableID uint32, col int, value []byte) ([]relvalue.RelValue, error) {
	all, err := env.DB().FetchRows(ctx, env.Tx(), tableID)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, rv := range all {
		if col < 0 || col >= len(rv.Row.Columns) {
			continue
		}
		if string(rv.Row.Columns[col]) == string(value) {
			out = append(out, rv)
		}
	}
	return out, nil
}

// iterNext advances the cursor and returns a buffer handle holding one
// encoded row, or the Invalid sentinel once exhausted.
func iterNext(ctx context.Context, mod api.Module, iter uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costIterNext) {
		return uint32(buffertable.Invalid)
	}
	it, ok := env.Iterator(hostenv.IteratorHandle(iter))
	if !ok {
		return uint32(buffertable.Invalid)
	}
	rv, ok := it.Next()
	if !ok {
		return uint32(buffertable.Invalid)
	}
	return uint32(env.InsertBuffer(relvalue.EncodeRow(rv.Row)))
}

func iterDrop(ctx context.Context, mod api.Module, iter uint32) {
	env := envFrom(ctx)
	charge(env, costBufferOp)
	env.DropIterator(hostenv.IteratorHandle(iter))
}

// --- buffer table --------------------------------------------------------

// bufferLen returns a live buffer's length, or the Invalid sentinel cast
// to uint32 if h names no live buffer (spec §7: a bad handle is a status,
// not a trap).
func bufferLen(ctx context.Context, mod api.Module, h uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costBufferOp) {
		return uint32(buffertable.Invalid)
	}
	n, err := env.BufferLen(buffertable.Handle(h))
	if err != nil {
		return uint32(buffertable.Invalid)
	}
	return n
}

// bufferConsume takes ownership of the buffer at h and copies its bytes
// into the guest's own linear memory starting at dst. The guest is
// expected to have already learned the buffer's length via buffer_len and
// reserved dst accordingly in its own allocator.
func bufferConsume(ctx context.Context, mod api.Module, h, dst uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costBufferOp) {
		return StatusErr
	}
	b, ok := env.TakeBuffer(buffertable.Handle(h))
	if !ok {
		return StatusBadHandle
	}
	if !mod.Memory().Write(dst, b) {
		return StatusErr
	}
	return StatusOK
}

// bufferAlloc reads len bytes from the guest's own linear memory at ptr
// and copies them into a new host-owned buffer, returning its handle -
// the guest's way of handing arbitrary-length bytes (a row, a table name,
// a filter value) to a host-call that only accepts a handle (spec §4.1,
// §4.3).
func bufferAlloc(ctx context.Context, mod api.Module, ptr, length uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costBufferOp) {
		return uint32(buffertable.Invalid)
	}
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return uint32(buffertable.Invalid)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return uint32(env.InsertBuffer(cp))
}

// --- logging and spans ---------------------------------------------------

func consoleLogFn(log Logger) func(context.Context, api.Module, uint32, uint32, uint32) {
	return func(ctx context.Context, mod api.Module, level, targetBuf, msgBuf uint32) {
		env := envFrom(ctx)
		if !charge(env, costConsoleLog) {
			return
		}
		target, _ := env.TakeBuffer(buffertable.Handle(targetBuf))
		msg, ok := env.TakeBuffer(buffertable.Handle(msgBuf))
		if !ok || log == nil {
			return
		}
		log.Log(level, string(target), string(msg))
	}
}

// spanStart/spanEnd bracket a guest-measured region of work. The host
// does not interpret span ids beyond handing back a counter that
// increases within one reducer call and restarts at zero for the next
// (hostenv's StartReducer/FinishReducer reset it); timing/aggregation is the module
// host's concern if it chooses to record one.
func spanStart(ctx context.Context, mod api.Module, nameBuf uint32) uint32 {
	env := envFrom(ctx)
	if !charge(env, costSpan) {
		return 0xFFFFFFFF
	}
	name, ok := env.TakeBuffer(buffertable.Handle(nameBuf))
	if !ok {
		return 0xFFFFFFFF
	}
	return env.StartSpan(string(name))
}

func spanEnd(ctx context.Context, mod api.Module, span uint32) {
	env := envFrom(ctx)
	charge(env, costSpan)
	env.EndSpan(span)
}
