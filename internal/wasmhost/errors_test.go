package wasmhost

import (
	"errors"
	"testing"
)

func TestInitializationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &InitializationError{Kind: InitRuntime, Func: "__preinit_0__", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Error("Error() returned empty string")
	}
}

func TestDescribeErrorKinds(t *testing.T) {
	for _, kind := range []DescribeKind{DescribeSignature, DescribeBadBuffer, DescribeRuntime} {
		err := &DescribeError{Kind: kind, Cause: errors.New("x")}
		if err.Error() == "" {
			t.Errorf("DescribeError{%v}.Error() empty", kind)
		}
	}
}

func TestReducerTrapEnergyExhaustedMessage(t *testing.T) {
	err := &ReducerTrap{EnergyExhausted: true}
	if got := err.Error(); got != "wasmhost: reducer trapped: energy exhausted" {
		t.Errorf("Error() = %q", got)
	}
}
