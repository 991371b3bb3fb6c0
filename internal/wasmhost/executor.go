package wasmhost

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/vela-systems/reactorhost/internal/abi"
	"github.com/vela-systems/reactorhost/internal/buffertable"
	"github.com/vela-systems/reactorhost/internal/compilecache"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/hostcall"
	"github.com/vela-systems/reactorhost/internal/hostenv"
	"github.com/vela-systems/reactorhost/internal/storage"
)

// Executor owns the one wazero.Runtime and one instantiated host module a
// process needs; every guest module is instantiated against it, each
// under its own unique module name (spec §4.4: "pre-instantiation is a
// cheap clone of the compiled module").
type Executor struct {
	runtime   wazero.Runtime
	host      api.Module
	cache     *compilecache.Cache
	namespace string
	nextID    atomic.Uint64
}

// NewExecutor builds the shared runtime and instantiates the host-call
// surface once under the implemented ABI's namespace. sched/log are
// forwarded to hostcall.Build; either may be nil.
func NewExecutor(ctx context.Context, cache *compilecache.Cache, sched hostcall.Scheduler, log hostcall.Logger) (*Executor, error) {
	r := wazero.NewRuntime(ctx)
	namespace := abi.ImplementedABI.Namespace()
	host, err := hostcall.Build(ctx, r, namespace, sched, log)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasmhost: building host module: %w", err)
	}
	return &Executor{runtime: r, host: host, cache: cache, namespace: namespace}, nil
}

// Close releases the runtime, the host module, and every cached compiled
// guest module.
func (x *Executor) Close(ctx context.Context) error {
	return x.runtime.Close(ctx)
}

// Instance is one guest module instantiation: its own linear memory,
// Instance Environment, and module name, sharing the Executor's runtime,
// host module, and compiled-module cache with every other Instance.
type Instance struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	guestName string
	mod       api.Module
	env       *hostenv.Env
}

// Instantiate compiles (or reuses a cached compile of) wasmBytes, checks
// funcNames.Version against the implemented ABI (spec §3/§6: major must
// match, minor must be at most the host's), instantiates it under a
// unique module name, attaches its memory to a fresh Instance Environment
// bound to db/tx, seeds the default initialization budget, and runs
// preinits followed by an optional __setup__ (spec §4.4 steps 1-6).
func (x *Executor) Instantiate(ctx context.Context, wasmBytes []byte, db storage.RelationalDB, tx storage.Tx, funcNames abi.FuncNames) (*Instance, error) {
	if !abi.ImplementedABI.Accepts(funcNames.Version) {
		return nil, &InitializationError{Kind: InitVersion, Cause: fmt.Errorf("guest declares ABI %s, host implements %s", funcNames.Version, abi.ImplementedABI)}
	}

	key := compilecache.KeyForBytes(wasmBytes)
	compiled, err := x.cache.GetOrCompile(ctx, key, wasmBytes, x.runtime)
	if err != nil {
		return nil, &InitializationError{Kind: InitInstantiation, Cause: err}
	}

	guestName := fmt.Sprintf("guest-%d", x.nextID.Add(1))
	env := hostenv.New(db, tx)
	env.SetEnergyBudget(energy.DefaultInitBudget)

	mctx := withMetering(hostcall.WithEnv(ctx, env), env, guestName)
	cfg := wazero.NewModuleConfig().WithName(guestName)

	mod, err := x.runtime.InstantiateModule(mctx, compiled, cfg)
	if err != nil {
		return nil, &InitializationError{Kind: InitInstantiation, Cause: err}
	}
	env.Instantiate(mod.Memory())

	inst := &Instance{runtime: x.runtime, compiled: compiled, guestName: guestName, mod: mod, env: env}

	for _, name := range funcNames.Preinits {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		if _, err := fn.Call(mctx); err != nil {
			_ = mod.Close(ctx)
			return nil, &InitializationError{Kind: InitRuntime, Func: name, Cause: err}
		}
	}

	if setup := mod.ExportedFunction(abi.SetupDunder); setup != nil {
		results, err := setup.Call(mctx)
		if err != nil {
			_ = mod.Close(ctx)
			return nil, &InitializationError{Kind: InitRuntime, Func: abi.SetupDunder, Cause: err}
		}
		if h := buffertable.Handle(uint32(results[0])); h.IsValid() {
			msg, _ := env.TakeBuffer(h)
			_ = mod.Close(ctx)
			return nil, &InitializationError{Kind: InitSetup, Message: string(msg)}
		}
	}

	return inst, nil
}

// Close tears down this guest instance. The compiled module and the
// Executor's host module outlive it.
func (inst *Instance) Close(ctx context.Context) error {
	return inst.mod.Close(ctx)
}

// Env exposes the Instance Environment, for callers that need to inspect
// energy stats or drive host-calls outside a reducer call (tests, mainly).
func (inst *Instance) Env() *hostenv.Env { return inst.env }

// CallReducer runs __call_reducer__ with the three argument buffers the
// ABI expects, seeded with budget, and returns the resulting energy
// accounting, timings, and call error (spec §4.4 steps 1-8).
//
// A non-nil error is always a *ReducerTrap; the instance itself remains
// usable for the next call (spec §7: "reducer traps are reported to the
// caller but the instance remains usable").
func (inst *Instance) CallReducer(ctx context.Context, reducerID uint32, budget energy.Quanta, senderIdentity [32]byte, senderAddress [16]byte, timestampMicros uint64, args []byte) (energy.Stats, hostenv.Timings, error) {
	inst.env.SetEnergyBudget(budget)
	inst.env.SetCaller(senderIdentity, senderAddress)

	idH := inst.env.InsertBuffer(senderIdentity[:])
	addrH := inst.env.InsertBuffer(senderAddress[:])
	argsH := inst.env.InsertBuffer(args)

	inst.env.StartReducer()
	mctx := withMetering(hostcall.WithEnv(ctx, inst.env), inst.env, inst.guestName)

	fn := inst.mod.ExportedFunction(abi.CallReducerDunder)
	if fn == nil {
		timings, _ := inst.env.FinishReducer()
		return inst.env.EnergyStats(), timings, &ReducerTrap{Message: fmt.Sprintf("guest missing %s export", abi.CallReducerDunder)}
	}

	results, callErr := fn.Call(mctx, uint64(reducerID), uint64(idH), uint64(addrH), timestampMicros, uint64(argsH))
	if callErr != nil {
		timings, _ := inst.env.FinishReducer()
		return inst.env.EnergyStats(), timings, inst.classifyTrap(callErr)
	}

	var callResult error
	if h := buffertable.Handle(uint32(results[0])); h.IsValid() {
		msg, _ := inst.env.TakeBuffer(h)
		callResult = &ReducerTrap{Message: string(msg)}
	}

	timings, _ := inst.env.FinishReducer()
	return inst.env.EnergyStats(), timings, callResult
}

// classifyTrap turns a wazero call error into a ReducerTrap. Per spec
// §7, EnergyExhausted is exactly the sub-case where the post-call energy
// accounting shows a zero remaining budget - there is no separate signal
// to check, since that is the definition the spec gives it.
//
// The traceback this host can recover from a wazero call error is a
// single frame naming the entry point that trapped: wazero's returned
// error does not expose a full call stack outside of a
// FunctionListener's StackIterator (which only runs while the call is
// still in flight), so a richer multi-frame traceback is not available
// after the fact without keeping the listener's frames around across the
// whole call, which this executor does not currently do.
func (inst *Instance) classifyTrap(cause error) *ReducerTrap {
	stats := inst.env.EnergyStats()
	frame := TraceFrame{ModuleName: inst.guestName, FuncName: demangle(abi.CallReducerDunder)}
	if stats.Remaining == 0 {
		return &ReducerTrap{EnergyExhausted: true, Message: "energy exhausted", Frames: []TraceFrame{frame}, Cause: cause}
	}
	return &ReducerTrap{Message: cause.Error(), Frames: []TraceFrame{frame}, Cause: cause}
}

// ExtractDescriptions calls __describe_module__ and returns its schema
// blob (spec §4.4's extract_descriptions).
func (inst *Instance) ExtractDescriptions(ctx context.Context) ([]byte, error) {
	inst.env.StartReducer()
	defer inst.env.FinishReducer()

	mctx := withMetering(hostcall.WithEnv(ctx, inst.env), inst.env, inst.guestName)
	fn := inst.mod.ExportedFunction(abi.DescribeModuleDunder)
	if fn == nil {
		return nil, &DescribeError{Kind: DescribeSignature, Cause: fmt.Errorf("missing %s export", abi.DescribeModuleDunder)}
	}

	results, err := fn.Call(mctx)
	if err != nil {
		return nil, &DescribeError{Kind: DescribeRuntime, Cause: err}
	}
	h := buffertable.Handle(uint32(results[0]))
	if !h.IsValid() {
		return nil, &DescribeError{Kind: DescribeBadBuffer}
	}
	buf, ok := inst.env.TakeBuffer(h)
	if !ok {
		return nil, &DescribeError{Kind: DescribeBadBuffer}
	}
	return buf, nil
}
