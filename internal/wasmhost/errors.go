// Package wasmhost implements the Metered Executor (C4): it turns a
// compiled guest module plus an Instance Environment into a runnable
// reducer/describer call, using wazero as the bytecode runtime (spec
// §4.4).
package wasmhost

import "fmt"

// InitKind distinguishes the four ways instantiation can fail (spec §7's
// Initialization error kind). All are fatal to the instance.
type InitKind int

const (
	InitInstantiation InitKind = iota
	InitRuntime
	InitSetup
	InitVersion
)

func (k InitKind) String() string {
	switch k {
	case InitInstantiation:
		return "Instantiation"
	case InitRuntime:
		return "Runtime"
	case InitSetup:
		return "Setup"
	case InitVersion:
		return "Version"
	default:
		return "Unknown"
	}
}

// InitializationError reports a failure bringing a guest instance up:
// compile/instantiate failure, a declared ABI version the host doesn't
// accept, a preinit trap, or a non-zero __setup__ result.
type InitializationError struct {
	Kind InitKind
	// Func names the export that trapped (a preinit or __setup__); set only
	// for InitRuntime.
	Func string
	// Message is the __setup__ failure string; set only for InitSetup.
	Message string
	Cause   error
}

func (e *InitializationError) Error() string {
	switch e.Kind {
	case InitRuntime:
		return fmt.Sprintf("wasmhost: preinit %q trapped: %v", e.Func, e.Cause)
	case InitSetup:
		return fmt.Sprintf("wasmhost: __setup__ failed: %s", e.Message)
	case InitVersion:
		return fmt.Sprintf("wasmhost: %v", e.Cause)
	default:
		return fmt.Sprintf("wasmhost: instantiation failed: %v", e.Cause)
	}
}

func (e *InitializationError) Unwrap() error { return e.Cause }

// DescribeKind distinguishes the ways extract_descriptions can fail
// (spec §7's Describe error kind).
type DescribeKind int

const (
	DescribeSignature DescribeKind = iota
	DescribeBadBuffer
	DescribeRuntime
)

// DescribeError reports a failure calling __describe_module__; the
// instance remains usable afterward.
type DescribeError struct {
	Kind  DescribeKind
	Cause error
}

func (e *DescribeError) Error() string {
	switch e.Kind {
	case DescribeSignature:
		return fmt.Sprintf("wasmhost: __describe_module__ signature mismatch: %v", e.Cause)
	case DescribeBadBuffer:
		return "wasmhost: __describe_module__ returned no buffer"
	default:
		return fmt.Sprintf("wasmhost: __describe_module__ trapped: %v", e.Cause)
	}
}

func (e *DescribeError) Unwrap() error { return e.Cause }

// TraceFrame is one frame of a guest trap traceback, demangled (spec
// §4.4 step 8: "frame index, module name, demangled function name").
type TraceFrame struct {
	ModuleName string
	FuncName   string
}

// ReducerTrap reports a guest trap during call_reducer. The storage
// engine is responsible for rolling back the transaction; the instance
// itself remains usable for future calls (spec §7).
type ReducerTrap struct {
	Message         string
	Frames          []TraceFrame
	EnergyExhausted bool
	Cause           error
}

func (e *ReducerTrap) Error() string {
	if e.EnergyExhausted {
		return "wasmhost: reducer trapped: energy exhausted"
	}
	return fmt.Sprintf("wasmhost: reducer trapped: %s", e.Message)
}

func (e *ReducerTrap) Unwrap() error { return e.Cause }
