// Package composite implements a node that is itself built from a subgraph
// of other nodes, the Go analogue of composite_node. A composite presents a
// fixed outer arity while internally owning a sentinel input node (whose
// outputs other nodes in the subgraph connect to as if they were the
// composite's own inputs) and a sentinel output node (whose inputs are
// whatever inner nodes feed the composite's own outputs).
package composite

import (
	"fmt"

	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
)

// Composite is the graphmodel.ProcessSpec of a composite node, the Go
// analogue of composite_node. It is always a dependant-process node: its
// outputs are a pure function of the sentinel input's assigned values plus
// whatever the subgraph computes from them.
type Composite struct {
	graphmodel.Base
	input  *graphmodel.Node // 0 inputs, outer input count outputs
	output *graphmodel.Node // outer output count inputs, 0 outputs
}

// New returns a dependant-process node of the given outer arity, wrapping a
// fresh, empty subgraph. Build the subgraph by connecting other nodes to
// Input(node)'s outputs and Output(node)'s inputs.
func New(name string, inputCount, outputCount int) *graphmodel.Node {
	c := &Composite{
		Base:   graphmodel.Base{Dependant: true},
		input:  graphmodel.New(name+".input", 0, inputCount, graphmodel.Base{}),
		output: graphmodel.New(name+".output", outputCount, 0, graphmodel.Base{}),
	}
	n := graphmodel.New(name, inputCount, outputCount, c)
	return n
}

// Input returns the sentinel node that stands in for n's own inputs inside
// its subgraph. n must have been created by New. Panics otherwise, the same
// programmer-error contract as a failed type assertion.
func Input(n *graphmodel.Node) *graphmodel.Node { return mustComposite(n).input }

// Output returns the sentinel node that stands in for n's own outputs
// inside its subgraph. n must have been created by New.
func Output(n *graphmodel.Node) *graphmodel.Node { return mustComposite(n).output }

// AddInput appends one input port to n and, to keep the subgraph consistent,
// one matching output port on n's sentinel input node.
func AddInput(n *graphmodel.Node) {
	c := mustComposite(n)
	n.AddInput()
	c.input.AddOutput()
}

// RemoveInput drops n's last input port and the sentinel input's matching
// output port, disconnecting any inner node that was reading it.
func RemoveInput(n *graphmodel.Node) {
	c := mustComposite(n)
	n.RemoveInput()
	c.input.RemoveOutput()
}

// AddOutput appends one output port to n and a matching input port on n's
// sentinel output node.
func AddOutput(n *graphmodel.Node) {
	c := mustComposite(n)
	n.AddOutput()
	c.output.AddInput()
}

// RemoveOutput drops n's last output port, disconnecting its consumers, and
// the sentinel output's matching input port.
func RemoveOutput(n *graphmodel.Node) {
	c := mustComposite(n)
	n.RemoveOutput()
	c.output.RemoveInput()
}

func mustComposite(n *graphmodel.Node) *Composite {
	c, ok := n.Process.(*Composite)
	if !ok {
		panic(fmt.Sprintf("composite: node %q was not created by composite.New", n.Name))
	}
	return c
}

// valueAssigner is the sliver of *compiler.Compiler this package needs
// beyond graphmodel.Emitter: a way to hand the sentinel input node its
// already-resolved values without going through normal dependency
// resolution, the Go analogue of graph_compiler::assign_values. Declared
// locally so that this package does not import the compiler package, the
// same way graphmodel.Emitter itself is kept free of a compiler import.
type valueAssigner interface {
	graphmodel.Emitter
	AssignValues(node *graphmodel.Node, values []ir.Value)
}

// EmitOutputs maps the composite's caller-provided input values onto its
// sentinel input node, then resolves each of its own outputs as whatever
// value feeds the corresponding sentinel output input — the Go analogue of
// composite_node::emit_outputs.
func (c *Composite) EmitOutputs(e graphmodel.Emitter, inputs []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	assigner, ok := e.(valueAssigner)
	if !ok {
		return nil, fmt.Errorf("composite: emitter %T cannot assign sentinel input values", e)
	}
	assigner.AssignValues(c.input, inputs)

	outputCount := c.output.InputCount()
	outputs := make([]ir.Value, outputCount)
	for i := 0; i < outputCount; i++ {
		src, outID := c.output.GetInputPort(i)
		v, err := e.NodeValue(src, outID)
		if err != nil {
			return nil, err
		}
		outputs[i] = v
	}
	return outputs, nil
}

var _ graphmodel.ProcessSpec = (*Composite)(nil)
