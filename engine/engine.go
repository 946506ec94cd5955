// Package engine defines the narrow execution-engine interface the graph
// compiler and context use to turn a finished ir.Module into callable native
// code (spec.md §4.5), plus a reference interpreter backend that satisfies it
// without an actual machine-code JIT.
//
// The core of DSPJIT does not care which backend it wraps — spec.md §1 treats
// the "native code backend" as an external collaborator specified only
// through this interface. Interpreter is the stand-in used by this
// repository's tests and demo; a real native backend (cgo-bound LLVM, a
// hand-written x86-64/ARM64 emitter in the style of the teacher's
// internal/jit package) can be dropped in behind the same interface.
package engine

import "github.com/aliefhooghe/dspjit/ir"

// ExecutionEngine is the abstract backend contract of spec.md §4.5.
type ExecutionEngine interface {
	// AddModule takes ownership of module, making its exported functions
	// available to GetFunctionPointer once EmitNativeCode has run.
	AddModule(module *ir.Module) error

	// DeleteModule releases a previously added module. Idempotent.
	DeleteModule(module *ir.Module) error

	// EmitNativeCode materialises callable code for every added module not
	// yet emitted. Errors are spec.md §7's BackendCodegenFailed.
	EmitNativeCode() error

	// GetFunctionPointer returns a callable handle for fn, which must belong
	// to a module previously passed to AddModule and emitted.
	GetFunctionPointer(fn *ir.Function) (Func, error)
}

// Func is a callable handle to a compiled function. Args/results follow the
// function's declared signature; callers that know the ABI (context package)
// use the typed ProcessFunc/InitializeFunc wrappers instead of calling
// through this interface directly on the audio thread, since the Call here
// allocates (it is compile-thread-only glue).
type Func interface {
	Call(args ...ir.Value) []ir.Value
}

// ProcessFunc is the stable graph__process signature of spec.md §6.
type ProcessFunc func(instanceNum int64, inputs, outputs []float32)

// InitializeFunc is the stable graph__initialize[_new_nodes] signature of
// spec.md §6.
type InitializeFunc func(instanceNum int64)
