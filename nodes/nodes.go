// Package nodes implements the built-in graphmodel.ProcessSpec node kinds
// every graph is assembled from: constants, references into host memory, the
// arithmetic primitives, and the one-sample delay, grounded on
// common_nodes.cpp. Every node here except Delay is a dependant-process
// node: its output is a pure function of its (possibly cycle-broken) inputs,
// computed the moment the compiler asks for it. Delay is non-dependant.
package nodes

import (
	"unsafe"

	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
)

// Constant always outputs the same compile-time float, the Go analogue of
// constant_node. It carries no graphmodel.Node of its own; NewConstant wires it up
// with zero inputs and one output.
type Constant struct {
	graphmodel.Base
	Value float32
}

// NewConstant returns a zero-input, one-output node always producing value.
func NewConstant(name string, value float32) *graphmodel.Node {
	return graphmodel.New(name, 0, 1, Constant{Dependant(), value})
}

func Dependant() graphmodel.Base { return graphmodel.Base{Dependant: true} }

func (c Constant) EmitOutputs(e graphmodel.Emitter, _ []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{e.Builder().ConstF32(c.Value)}, nil
}

// Reference outputs whatever float a host-owned pointer currently holds,
// re-read on every process call: the Go analogue of reference_node, used for
// host parameters. It reads only through the raw pointer; it does not
// resolve globals declared with Context.SetGlobalConstant.
type Reference struct {
	graphmodel.Base
	Ref *float32
}

// NewReference returns a zero-input, one-output node that loads *ref on
// every process call.
func NewReference(name string, ref *float32) *graphmodel.Node {
	return graphmodel.New(name, 0, 1, Reference{Dependant(), ref})
}

func (r Reference) EmitOutputs(e graphmodel.Emitter, _ []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	ptr := ir.ConstPtr{Addr: uintptr(unsafe.Pointer(r.Ref)), Elem: ir.F32Type}
	return []ir.Value{e.Builder().CreateLoad(ptr)}, nil
}

// Add sums its two inputs, the Go analogue of add_node.
type Add struct{ graphmodel.Base }

// NewAdd returns a two-input, one-output summing node.
func NewAdd(name string) *graphmodel.Node {
	return graphmodel.New(name, 2, 1, Add{Dependant()})
}

func (Add) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{e.Builder().CreateFAdd(in[0], in[1])}, nil
}

// Mul multiplies its two inputs, the Go analogue of mul_node.
type Mul struct{ graphmodel.Base }

// NewMul returns a two-input, one-output multiplying node.
func NewMul(name string) *graphmodel.Node {
	return graphmodel.New(name, 2, 1, Mul{Dependant()})
}

func (Mul) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{e.Builder().CreateFMul(in[0], in[1])}, nil
}

// Invert outputs 1/input, the Go analogue of invert_node. Division by zero
// is the caller's responsibility to avoid; the node emits a plain FDiv with
// no guard, matching the reference implementation.
type Invert struct{ graphmodel.Base }

// NewInvert returns a one-input, one-output reciprocal node.
func NewInvert(name string) *graphmodel.Node {
	return graphmodel.New(name, 1, 1, Invert{Dependant()})
}

func (Invert) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	b := e.Builder()
	return []ir.Value{b.CreateFDiv(b.ConstF32(1), in[0])}, nil
}

// Negate outputs -input, supplementing the arithmetic primitives present in
// common_nodes.cpp with the unary negation original_source's node.h implies
// (llvm::IRBuilder exposes CreateFNeg, and the IR already defines OpFNeg, but
// common_nodes.cpp never wires up a negate_node body — filled in here).
type Negate struct{ graphmodel.Base }

// NewNegate returns a one-input, one-output sign-flip node.
func NewNegate(name string) *graphmodel.Node {
	return graphmodel.New(name, 1, 1, Negate{Dependant()})
}

func (Negate) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{e.Builder().CreateFNeg(in[0])}, nil
}

// Delay is a one-sample delay (Z^-1). Although common_nodes.cpp's last_node
// emits through the plain dependant path, a one-sample delay is this
// compiler's canonical non-dependant-process node (spec.md §4.3, §9): its
// output for this sample is already known before its input arrives, so it
// pulls the previously stored sample first and pushes the current input
// afterwards, never forcing a cycle-state cell onto whatever feeds it.
type Delay struct{ graphmodel.Base }

// NewDelay returns a one-input, one-output, one-float-of-state delay node.
func NewDelay(name string) *graphmodel.Node {
	return graphmodel.New(name, 1, 1, Delay{graphmodel.Base{StateSize: 4, Dependant: false}})
}

func (Delay) PullOutput(e graphmodel.Emitter, mutableState, _ ir.Value) ([]ir.Value, error) {
	b := e.Builder()
	statePtr := b.CreateBitCast(mutableState, ir.F32Type)
	return []ir.Value{b.CreateLoad(statePtr)}, nil
}

func (Delay) PushInput(e graphmodel.Emitter, in []ir.Value, mutableState, _ ir.Value) error {
	b := e.Builder()
	statePtr := b.CreateBitCast(mutableState, ir.F32Type)
	b.CreateStore(in[0], statePtr)
	return nil
}

func (Delay) InitializeMutableState(e graphmodel.Emitter, mutableState, _ ir.Value) {
	b := e.Builder()
	statePtr := b.CreateBitCast(mutableState, ir.F32Type)
	b.CreateStore(b.Zero(), statePtr)
}
