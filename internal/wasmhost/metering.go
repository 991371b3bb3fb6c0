package wasmhost

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/hostenv"
)

// EnergyExhaustedExitCode is the exit code a guest module is force-closed
// with once its energy budget reaches zero between host-calls.
//
// The original host's bytecode runtime (wasmer, via
// wasmer_middlewares::metering) counts guest instructions directly and
// traps the moment the counter hits zero, even inside a tight compute
// loop that never calls a host function. wazero has no equivalent
// instrumented-bytecode counter. The closest substitute available from
// its stable API is a FunctionListener that charges energy on every
// guest function call and, on exhaustion, force-closes the module via
// api.Module.CloseWithExitCode - the same mechanism wazero itself
// documents for enforcing external timeouts. It is coarser than true
// per-instruction metering (a single very long-running leaf function
// still runs to completion once entered), but it bounds any guest that
// calls functions at all, which every reducer necessarily does.
const EnergyExhaustedExitCode uint32 = 0xE0000001

// costPerGuestCall is charged once per guest function entered, layered
// on top of (not instead of) the much larger per-operation costs
// internal/hostcall charges for actual host-calls.
const costPerGuestCall energy.Quanta = 1

// withMetering returns a context that, when used to invoke a guest
// export, charges energy on every guest function call through env and
// force-closes guestModuleName once the budget is exhausted. Host
// functions are not guest functions and are not charged here - only
// functions defined inside guestModuleName are (filtered by
// FunctionDefinition.ModuleName, since a listener factory is invoked for
// every function, host and guest alike).
func withMetering(ctx context.Context, env *hostenv.Env, guestModuleName string) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, meteringFactory{env: env, guestModuleName: guestModuleName})
}

type meteringFactory struct {
	env             *hostenv.Env
	guestModuleName string
}

func (f meteringFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	if def.ModuleName() != f.guestModuleName {
		return nil
	}
	return meteringListener{env: f.env}
}

type meteringListener struct {
	env *hostenv.Env
}

func (l meteringListener) Before(ctx context.Context, mod api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	if !l.env.ChargeEnergy(costPerGuestCall) {
		_ = mod.CloseWithExitCode(ctx, EnergyExhaustedExitCode)
	}
	return ctx
}

func (l meteringListener) After(context.Context, api.Module, api.FunctionDefinition, error, []uint64) {
}
