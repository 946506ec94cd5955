// Package graphmodel implements the cyclic dataflow graph that users build
// before compiling it: nodes with typed input/output ports, connected
// arbitrarily (including cycles), independent of how a node eventually emits
// code (spec.md §4.1). The compiler package turns a graph of Nodes into IR;
// this package only knows about connectivity.
package graphmodel

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/aliefhooghe/dspjit/internal/errlist"
)

// input is one node's incoming port: the node and output index it is
// currently plugged into, or unplugged if source is nil. Mirrors
// DSPJIT/node.h's private nested "input" class, with the consumer
// back-reference held by the source node instead of a set of (input*, id)
// pairs, which Go's garbage collector makes safe without the C++ original's
// explicit "avoid iterator invalidation" destructor dance.
type input struct {
	source   *Node
	outputID int
}

// Node is one vertex of the dataflow graph: a number of input ports and of
// output ports (changed only through AddInput/RemoveInput/AddOutput/
// RemoveOutput), and a Process implementation describing how to
// compile it (spec.md §4.3 hands this off to the graph compiler). Node
// embeds no behaviour of its own beyond connectivity — Process is supplied by
// the concrete node types in the nodes/plugin/composite packages.
type Node struct {
	inputs  []input
	outputs int

	// users maps every node currently reading one of this node's outputs to
	// the input ports of that node which are plugged into this one, the Go
	// analogue of node<Derived>::_users. A target node can have more than
	// one input plugged into this node, hence a slice of ports per target.
	users map[*Node][]userPort

	Process ProcessSpec
	Name    string
}

type userPort struct {
	target *Node
	input  int
}

// New returns a disconnected node with the given port counts.
func New(name string, inputCount, outputCount int, spec ProcessSpec) *Node {
	n := &Node{
		inputs:  make([]input, inputCount),
		outputs: outputCount,
		users:   make(map[*Node][]userPort),
		Process: spec,
		Name:    name,
	}
	return n
}

// InputCount returns the number of input ports.
func (n *Node) InputCount() int { return len(n.inputs) }

// OutputCount returns the number of output ports.
func (n *Node) OutputCount() int { return n.outputs }

// Connect wires this node's outputID output to target's targetInputID input,
// replacing whatever target's input was previously plugged into.
func (n *Node) Connect(outputID int, target *Node, targetInputID int) error {
	if targetInputID < 0 || targetInputID >= target.InputCount() {
		return errlist.New(errlist.InvalidArity, target.Name,
			fmt.Sprintf("connect: invalid target input %d (node has %d inputs)", targetInputID, target.InputCount()))
	}
	if outputID < 0 || outputID >= n.OutputCount() {
		return errlist.New(errlist.InvalidArity, n.Name,
			fmt.Sprintf("connect: invalid output %d (node has %d outputs)", outputID, n.OutputCount()))
	}
	target.unplug(targetInputID)
	target.inputs[targetInputID] = input{source: n, outputID: outputID}
	n.users[target] = append(n.users[target], userPort{target: target, input: targetInputID})
	return nil
}

// ConnectDefault connects this node's first output to target's input,
// mirroring node.h's single-argument connect() overload.
func (n *Node) ConnectDefault(target *Node, targetInputID int) error {
	return n.Connect(0, target, targetInputID)
}

// Connection is one edge to wire up in a ConnectMany batch.
type Connection struct {
	Source        *Node
	OutputID      int
	Target        *Node
	TargetInputID int
}

// ConnectMany wires up every connection in conns, collecting every arity
// violation instead of stopping at the first: editing a graph's wiring is
// usually done as a batch (loading a saved patch, splicing in a subgraph),
// and a single bad port index shouldn't hide every other mistake in the same
// batch. Connections that validate are still made even if a later one in the
// slice fails.
func ConnectMany(conns []Connection) error {
	var errs error
	for _, c := range conns {
		if err := c.Source.Connect(c.OutputID, c.Target, c.TargetInputID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Disconnect unplugs the given input, leaving it floating.
func (n *Node) Disconnect(inputID int) error {
	if inputID < 0 || inputID >= n.InputCount() {
		return errlist.New(errlist.InvalidArity, n.Name,
			fmt.Sprintf("disconnect: invalid input %d (node has %d inputs)", inputID, n.InputCount()))
	}
	n.unplug(inputID)
	return nil
}

func (n *Node) unplug(inputID int) {
	in := n.inputs[inputID]
	if in.source == nil {
		return
	}
	ports := in.source.users[n]
	for i, p := range ports {
		if p.input == inputID {
			in.source.users[n] = append(ports[:i], ports[i+1:]...)
			break
		}
	}
	if len(in.source.users[n]) == 0 {
		delete(in.source.users, n)
	}
	n.inputs[inputID] = input{}
}

// GetInput returns the source node plugged into inputID, or nil if floating.
func (n *Node) GetInput(inputID int) *Node {
	if inputID < 0 || inputID >= n.InputCount() {
		return nil
	}
	return n.inputs[inputID].source
}

// GetInputPort returns the source node and its output index plugged into
// inputID, or (nil, 0) if floating.
func (n *Node) GetInputPort(inputID int) (*Node, int) {
	if inputID < 0 || inputID >= n.InputCount() {
		return nil, 0
	}
	in := n.inputs[inputID]
	return in.source, in.outputID
}

// AddInput appends one floating input port.
func (n *Node) AddInput() {
	n.inputs = append(n.inputs, input{})
}

// RemoveInput drops the last input port, unplugging it first.
func (n *Node) RemoveInput() {
	if len(n.inputs) == 0 {
		return
	}
	n.unplug(len(n.inputs) - 1)
	n.inputs = n.inputs[:len(n.inputs)-1]
}

// AddOutput appends one output port.
func (n *Node) AddOutput() { n.outputs++ }

// RemoveOutput drops the last output port, disconnecting every consumer
// currently reading it.
func (n *Node) RemoveOutput() {
	if n.outputs == 0 {
		return
	}
	removed := n.outputs - 1
	for target, ports := range n.users {
		// unplug edits n.users[target] in place, so walk a copy of it.
		for _, p := range append([]userPort(nil), ports...) {
			if p.input < target.InputCount() {
				if src, outID := target.GetInputPort(p.input); src == n && outID == removed {
					target.unplug(p.input)
				}
			}
		}
	}
	n.outputs--
}

// DisconnectUsers releases every input currently plugged into this node, the
// Go analogue of node<Derived>'s destructor unplugging all users. Call this
// before dropping the last reference to a Node that other nodes still read
// from, since Go's GC will not otherwise tell consumers to stop pointing at
// it.
func (n *Node) DisconnectUsers() {
	for target, ports := range n.users {
		// unplug edits n.users[target] in place, so walk a copy of it.
		for _, p := range append([]userPort(nil), ports...) {
			target.unplug(p.input)
		}
		delete(n.users, target)
	}
}
