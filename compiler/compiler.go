// Package compiler turns a graph of graphmodel.Node values into straight-line ir code for
// one instance-parameterised process function, resolving each node's output
// value on demand and breaking cycles with the state manager's cycle-state
// cells (spec.md §4.3). It implements graphmodel.Emitter so that a node's
// ProcessSpec can recursively ask for another node's value while it is being
// compiled.
package compiler

import (
	"fmt"

	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
	"github.com/aliefhooghe/dspjit/state"
)

// Compiler resolves graphmodel.Node output values into ir.Value instructions
// within a single function, for a fixed instance-number argument. One
// Compiler is created per compiled function; a composite node's subgraph is
// resolved through the same Compiler as the graph that contains it.
type Compiler struct {
	builder     *ir.Builder
	instanceNum ir.Value
	mgr         *state.Manager
	values      map[*graphmodel.Node][]ir.Value

	// pending holds non-dependant-process nodes whose outputs have already
	// been pulled but whose inputs haven't been pushed yet. Pushing is
	// deferred to Finish rather than done inline in the dependency-stack
	// loop: pushing immediately would force resolving the node's own inputs
	// before it can be popped, which can re-introduce exactly the
	// cycle-state cell a non-dependant node (e.g. a one-sample delay) exists
	// to avoid whenever its input traces back to a node that is still
	// mid-computation elsewhere on the stack.
	pending []*graphmodel.Node
}

// New returns a Compiler emitting into b for the given per-call instance
// number, backed by mgr for node state and static memory.
func New(b *ir.Builder, instanceNum ir.Value, mgr *state.Manager) *Compiler {
	return &Compiler{
		builder:     b,
		instanceNum: instanceNum,
		mgr:         mgr,
		values:      make(map[*graphmodel.Node][]ir.Value),
	}
}

// Builder implements graphmodel.Emitter.
func (c *Compiler) Builder() *ir.Builder { return c.builder }

// AssignValues pre-populates node's resolved output values without going
// through NodeValue's dependency resolution, used by the composite node
// splice to hand a composite's already-resolved input values to its internal
// input sentinel (spec.md §4.7).
func (c *Compiler) AssignValues(node *graphmodel.Node, values []ir.Value) {
	c.values[node] = values
}

// NodeValue returns the ir.Value produced by node's outputID output,
// compiling node (and whatever it transitively depends on) if it hasn't been
// visited yet in this function. A nil node resolves to the canonical zero,
// the convention used for every disconnected input (spec.md §4.3).
func (c *Compiler) NodeValue(node *graphmodel.Node, outputID int) (ir.Value, error) {
	if node == nil {
		return c.builder.Zero(), nil
	}
	if vals, ok := c.values[node]; ok {
		v := vals[outputID]
		if v == nil {
			return nil, fmt.Errorf("compiler: node_value: %q already visited with an unresolved output %d", node.Name, outputID)
		}
		return v, nil
	}

	stack := []*graphmodel.Node{node}
	for len(stack) > 0 {
		dep := stack[len(stack)-1]

		if _, visited := c.values[dep]; !visited {
			c.values[dep] = make([]ir.Value, dep.OutputCount())
			if !dep.Process.DependantProcess() {
				if err := c.pullNonDependantOutputs(dep); err != nil {
					return nil, err
				}
				c.pending = append(c.pending, dep)
				stack = stack[:len(stack)-1]
				continue
			}
		}

		inputValues, waiting, err := c.scanInputs(&stack, dep)
		if err != nil {
			return nil, err
		}
		if waiting {
			continue // a new, unvisited dependency was pushed; resolve it first
		}

		if err := c.emitDependantOutputs(dep, inputValues); err != nil {
			return nil, err
		}
		stack = stack[:len(stack)-1]
	}

	return c.values[node][outputID], nil
}

// Finish pushes the resolved input values into every non-dependant node
// visited so far whose PushInput hasn't run yet, e.g. storing a delay node's
// current sample for the next process call. Call this once after every
// output the process function needs has been resolved through NodeValue.
func (c *Compiler) Finish() error {
	// Indexed rather than ranged: resolving one pending node's inputs below
	// can itself visit another not-yet-compiled non-dependant node (e.g. two
	// delays in series), appending to c.pending mid-loop. Re-reading
	// len(c.pending) on every iteration picks those up instead of leaving
	// their PushInput un-emitted.
	for i := 0; i < len(c.pending); i++ {
		node := c.pending[i]
		inputs := make([]ir.Value, node.InputCount())
		for j := 0; j < node.InputCount(); j++ {
			src, outID := node.GetInputPort(j)
			v, err := c.NodeValue(src, outID)
			if err != nil {
				return err
			}
			inputs[j] = v
		}
		statePtr, staticMem, noChunk := c.nodeMemoryArgs(node)
		if noChunk {
			continue
		}
		if err := node.Process.PushInput(c, inputs, statePtr, staticMem); err != nil {
			return err
		}
	}
	c.pending = nil
	return nil
}

// scanInputs resolves every one of a dependant-process node's input values,
// pushing the first unvisited dependency onto the stack and reporting
// waiting=true if one is found (the caller must resolve it before scanInputs
// can make progress). An input already visited but still unresolved (its
// entry in c.values is nil) is a dependency cycle: it is satisfied by
// loading the node's cycle-state cell instead, and that same loaded value is
// recorded as the node's tentative output so emitDependantOutputs can detect
// and overwrite it later.
func (c *Compiler) scanInputs(stack *[]*graphmodel.Node, node *graphmodel.Node) (inputValues []ir.Value, waiting bool, err error) {
	inputValues = make([]ir.Value, node.InputCount())
	for i := 0; i < node.InputCount(); i++ {
		src, outID := node.GetInputPort(i)
		if src == nil {
			inputValues[i] = c.builder.Zero()
			continue
		}
		vals, visited := c.values[src]
		if !visited {
			*stack = append(*stack, src)
			return nil, true, nil
		}
		if vals[outID] != nil {
			inputValues[i] = vals[outID]
			continue
		}
		// src is mid-compilation and hasn't produced this output yet: a cycle.
		st := c.mgr.GetOrCreate(src)
		ptr := st.CycleStatePtr(c.builder, c.instanceNum, outID)
		loaded := c.builder.CreateLoad(ptr)
		vals[outID] = loaded
		inputValues[i] = loaded
	}
	return inputValues, false, nil
}

// nodeMemoryArgs resolves node's mutable-state and static-memory pointer
// arguments. noChunk reports whether the node declares UseStaticMemory but
// has no chunk registered: per spec.md §7, NoStaticChunk is non-fatal at
// compile time, so the caller degrades the node to zero outputs instead of
// calling its effectful hook, rather than treating this as an error.
func (c *Compiler) nodeMemoryArgs(node *graphmodel.Node) (statePtr, staticMem ir.Value, noChunk bool) {
	st := c.mgr.GetOrCreate(node)
	if node.Process.MutableStateSize() != 0 {
		statePtr, _ = st.MutableStatePtr(c.builder, c.instanceNum)
	}
	if node.Process.UseStaticMemory() {
		ref, ok := c.mgr.GetStaticMemoryRef(c.builder, node)
		if !ok {
			return statePtr, nil, true
		}
		staticMem = ref
	}
	return statePtr, staticMem, false
}

// pullNonDependantOutputs produces a non-dependant-process node's output
// values immediately, before its own inputs are resolved (spec.md §9 "out
// before inputs known"), so that a node feeding back into this one's inputs
// never needs to allocate a cycle-state cell.
func (c *Compiler) pullNonDependantOutputs(node *graphmodel.Node) error {
	statePtr, staticMem, noChunk := c.nodeMemoryArgs(node)
	if noChunk {
		zero(c.builder, c.values[node])
		return nil
	}
	outVals, err := node.Process.PullOutput(c, statePtr, staticMem)
	if err != nil {
		return err
	}
	if len(outVals) != node.OutputCount() {
		return fmt.Errorf("compiler: %q: PullOutput returned %d values, want %d", node.Name, len(outVals), node.OutputCount())
	}
	copy(c.values[node], outVals)
	return nil
}

// emitDependantOutputs runs a dependant-process node's EmitOutputs once every
// input value is known, overwriting any cycle-state placeholder a consumer
// read earlier and storing the real value back into the cycle-state cell for
// the next process call.
func (c *Compiler) emitDependantOutputs(node *graphmodel.Node, inputs []ir.Value) error {
	statePtr, staticMem, noChunk := c.nodeMemoryArgs(node)
	outputs := c.values[node]

	var outVals []ir.Value
	if noChunk {
		outVals = make([]ir.Value, len(outputs))
		zero(c.builder, outVals)
	} else {
		var err error
		outVals, err = node.Process.EmitOutputs(c, inputs, statePtr, staticMem)
		if err != nil {
			return err
		}
		if len(outVals) != len(outputs) {
			return fmt.Errorf("compiler: %q: EmitOutputs returned %d values, want %d", node.Name, len(outVals), len(outputs))
		}
	}

	for i, v := range outVals {
		if outputs[i] != nil {
			st := c.mgr.GetOrCreate(node)
			ptr := st.CycleStatePtr(c.builder, c.instanceNum, i)
			c.builder.CreateStore(v, ptr)
		}
		outputs[i] = v
	}
	return nil
}

// zero fills vals with the canonical f32 zero, used to degrade a node's
// outputs when its declared static memory has no registered chunk.
func zero(b *ir.Builder, vals []ir.Value) {
	for i := range vals {
		vals[i] = b.Zero()
	}
}

var _ graphmodel.Emitter = (*Compiler)(nil)
