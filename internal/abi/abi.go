// Package abi describes the guest ABI version this host implements and the
// well-known export/import names the guest module must present.
package abi

import "fmt"

// VersionTuple identifies a guest/host ABI contract. The host accepts
// exactly one major version; minor versions up to and including the one
// implemented here are accepted.
type VersionTuple struct {
	Major uint16
	Minor uint16
}

// NewVersionTuple constructs a VersionTuple.
func NewVersionTuple(major, minor uint16) VersionTuple {
	return VersionTuple{Major: major, Minor: minor}
}

// String renders the tuple the way it appears in the import namespace,
// e.g. "7.0".
func (v VersionTuple) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Namespace returns the wazero host-module namespace a guest built against
// this version imports from, e.g. "spacetime_7.0".
func (v VersionTuple) Namespace() string {
	return "spacetime_" + v.String()
}

// Accepts reports whether a guest declaring `other` as its ABI can run
// against a host implementing `v`: majors must match exactly, and the
// guest's minor must not exceed the host's.
func (v VersionTuple) Accepts(other VersionTuple) bool {
	return v.Major == other.Major && other.Minor <= v.Minor
}

// ImplementedABI is the single ABI version this host supports.
var ImplementedABI = NewVersionTuple(7, 0)

// Well-known guest export names.
const (
	SetupDunder          = "__setup__"
	CallReducerDunder     = "__call_reducer__"
	DescribeModuleDunder = "__describe_module__"
)

// FuncNames carries the guest's declared ABI version together with the set
// of export names the executor needs to drive a guest instance through its
// lifecycle. Version is checked against ImplementedABI.Accepts before any
// preinit runs; Preinits are then called, in order, once at instantiation
// time, and the others are looked up by their dunder names.
type FuncNames struct {
	Version  VersionTuple
	Preinits []string
}
