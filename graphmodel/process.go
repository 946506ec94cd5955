package graphmodel

import "github.com/aliefhooghe/dspjit/ir"

// Emitter is the subset of the graph compiler a ProcessSpec needs in order to
// emit its own code: resolving another node's output value (recursing through
// the compiler) and access to the IR builder for the function currently being
// built. Defined here rather than in the compiler package so that graphmodel
// does not have to import it back — the compiler package implements Emitter
// and passes itself in (spec.md §4.3, graph_compiler::node_value).
type Emitter interface {
	// NodeValue returns the IR value produced by src's outputID output,
	// compiling src first if it hasn't been visited yet in this function.
	NodeValue(src *Node, outputID int) (ir.Value, error)
	// Builder returns the instruction builder for the function being built.
	Builder() *ir.Builder
}

// ProcessSpec is the code-generation contract every graph node implements,
// the Go analogue of DSPJIT/compile_node_class.h. A node is either a
// "dependant process" node, whose outputs are pure functions of its inputs
// computed the moment they're needed (EmitOutputs), or a "non-dependant"
// node, whose output can be produced before its inputs are known and whose
// input is consumed after (PullOutput/PushInput) — the shape a one-sample
// delay needs to not force an artificial cycle-state cell (spec.md §9).
type ProcessSpec interface {
	// MutableStateSize is the number of bytes of private, persistent storage
	// this node needs (0 for stateless nodes).
	MutableStateSize() int
	// UseStaticMemory reports whether this node reads a caller-registered
	// static memory chunk (spec.md §4.4).
	UseStaticMemory() bool
	// DependantProcess selects which of EmitOutputs or PullOutput/PushInput
	// the compiler calls.
	DependantProcess() bool

	// InitializeMutableState emits the code that resets mutableState to its
	// initial value. Called once per compiled initialize function for each
	// node in it with non-zero MutableStateSize; not called for a node that
	// uses static memory but has no chunk registered.
	InitializeMutableState(e Emitter, mutableState, staticMemory ir.Value)

	// EmitOutputs emits this node's process code given already-resolved
	// input values, returning one IR value per output port. Only called on
	// dependant-process nodes.
	EmitOutputs(e Emitter, inputs []ir.Value, mutableState, staticMemory ir.Value) ([]ir.Value, error)

	// PullOutput emits the code producing this node's outputs without
	// knowing its inputs yet. Only called on non-dependant-process nodes.
	PullOutput(e Emitter, mutableState, staticMemory ir.Value) ([]ir.Value, error)

	// PushInput emits the code consuming already-resolved input values,
	// producing no output. Only called on non-dependant-process nodes, once
	// every other node's outputs needed by this function have already been
	// resolved (the compiler defers it past PullOutput precisely so this
	// node's own inputs never have to be resolved before its outputs are
	// available to others).
	PushInput(e Emitter, inputs []ir.Value, mutableState, staticMemory ir.Value) error
}

// Base provides zero-value defaults for every ProcessSpec method so concrete
// node types only implement what they actually use, the Go equivalent of
// compile_node_class's virtual methods with empty default bodies. Embed Base
// and override the methods that apply.
type Base struct {
	StateSize    int
	StaticMemory bool
	Dependant    bool
}

func (b Base) MutableStateSize() int  { return b.StateSize }
func (b Base) UseStaticMemory() bool  { return b.StaticMemory }
func (b Base) DependantProcess() bool { return b.Dependant }

func (b Base) InitializeMutableState(Emitter, ir.Value, ir.Value) {}

func (b Base) EmitOutputs(Emitter, []ir.Value, ir.Value, ir.Value) ([]ir.Value, error) {
	return nil, nil
}

func (b Base) PullOutput(Emitter, ir.Value, ir.Value) ([]ir.Value, error) {
	return nil, nil
}

func (b Base) PushInput(Emitter, []ir.Value, ir.Value, ir.Value) error {
	return nil
}
