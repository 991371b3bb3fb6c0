package wasmhost

import (
	"context"
	"testing"

	"github.com/vela-systems/reactorhost/internal/abi"
	"github.com/vela-systems/reactorhost/internal/compilecache"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/storage/memdb"
)

// emptyModule is the minimal valid wasm binary: magic number, version, no
// sections. It has no exports at all, which is enough to exercise
// Instantiate's "no preinits, no __setup__" path and CallReducer's
// missing-export trap without needing a real guest module's bytecode —
// this repository's tests have no wasm toolchain available to produce
// one.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	ctx := context.Background()
	cache, err := compilecache.New(4)
	if err != nil {
		t.Fatalf("compilecache.New: %v", err)
	}
	x, err := NewExecutor(ctx, cache, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	t.Cleanup(func() { _ = x.Close(ctx) })
	return x
}

func TestInstantiateEmptyModuleSucceedsWithNoExports(t *testing.T) {
	ctx := context.Background()
	x := newTestExecutor(t)
	db := memdb.New()

	inst, err := x.Instantiate(ctx, emptyModule, db, memdb.Tx{}, abi.FuncNames{Version: abi.ImplementedABI})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
}

func TestCallReducerOnModuleMissingExportTraps(t *testing.T) {
	ctx := context.Background()
	x := newTestExecutor(t)
	db := memdb.New()

	inst, err := x.Instantiate(ctx, emptyModule, db, memdb.Tx{}, abi.FuncNames{Version: abi.ImplementedABI})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })

	var identity [32]byte
	var address [16]byte
	_, _, callErr := inst.CallReducer(ctx, 0, energy.Quanta(1000), identity, address, 0, nil)
	if callErr == nil {
		t.Fatal("CallReducer against a module with no __call_reducer__ export succeeded, want trap")
	}
	trap, ok := callErr.(*ReducerTrap)
	if !ok {
		t.Fatalf("callErr type = %T, want *ReducerTrap", callErr)
	}
	if trap.EnergyExhausted {
		t.Error("missing-export trap incorrectly classified as energy exhaustion")
	}
}

func TestInstantiateRejectsUnacceptedVersion(t *testing.T) {
	ctx := context.Background()
	x := newTestExecutor(t)
	db := memdb.New()

	_, err := x.Instantiate(ctx, emptyModule, db, memdb.Tx{}, abi.FuncNames{Version: abi.NewVersionTuple(abi.ImplementedABI.Major, abi.ImplementedABI.Minor+1)})
	if err == nil {
		t.Fatal("Instantiate with a newer-minor declared ABI succeeded, want error")
	}
	initErr, ok := err.(*InitializationError)
	if !ok {
		t.Fatalf("err type = %T, want *InitializationError", err)
	}
	if initErr.Kind != InitVersion {
		t.Errorf("initErr.Kind = %v, want InitVersion", initErr.Kind)
	}
}

func TestInstantiateMissingPreinitIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	x := newTestExecutor(t)
	db := memdb.New()

	// A preinit name absent from the module's exports is simply not
	// called — only a trap inside a preinit that *does* exist is fatal.
	inst, err := x.Instantiate(ctx, emptyModule, db, memdb.Tx{}, abi.FuncNames{Version: abi.ImplementedABI, Preinits: []string{"__preinit_0__"}})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	_ = inst.Close(ctx)
}
