// Package state implements the graph memory manager: per-node mutable
// state and per-output cycle-state storage that survives recompilation,
// plus the delete-sequence bookkeeping that frees old compiled modules and
// abandoned node storage only once the audio thread has moved off them
// (spec.md §4.4).
package state

import (
	"github.com/aliefhooghe/dspjit/engine"
	"github.com/aliefhooghe/dspjit/ir"
)

// NodeState is one node's persistent storage across recompilations: a
// mutable-state byte buffer (one stride of Size bytes per instance) and a
// cycle-state float column per output port (one float per instance), used to
// carry a feedback value across process calls without the node itself being
// able to see other nodes' state (spec.md §4.1 "cycle-state cell").
type NodeState struct {
	cycleState    []float32
	data          []byte
	outputCount   int
	instanceCount int
	size          int // mutable state bytes per instance

	declareCycleUsed func(*NodeState, int)
}

func newNodeState(stateSize, instanceCount, outputCount int, declareCycleUsed func(*NodeState, int)) *NodeState {
	return &NodeState{
		cycleState:       make([]float32, instanceCount*outputCount),
		data:             make([]byte, stateSize*instanceCount),
		outputCount:      outputCount,
		instanceCount:    instanceCount,
		size:             stateSize,
		declareCycleUsed: declareCycleUsed,
	}
}

// Size returns the mutable-state byte stride per instance (0 if the node
// carries no mutable state).
func (s *NodeState) Size() int { return s.size }

// updateOutputCount grows the cycle-state column set when a node's output
// count increases across a recompilation; it never shrinks the backing
// array, mirroring node_state::_update_output_count's resize-only behaviour
// (an Open Question in the original design: shrinking would discard
// feedback values still addressed by in-flight code from the previous
// sequence).
func (s *NodeState) updateOutputCount(outputCount int) {
	s.outputCount = outputCount
	need := outputCount * s.instanceCount
	if len(s.cycleState) < need {
		grown := make([]float32, need)
		copy(grown, s.cycleState)
		s.cycleState = grown
	}
}

// CycleStatePtr emits the address of outputID's cycle-state cell for
// instanceNum, stepping by instance within the per-output column
// (spec.md §4.4 "Node address of state").
func (s *NodeState) CycleStatePtr(b *ir.Builder, instanceNum ir.Value, outputID int) ir.Value {
	if s.declareCycleUsed != nil {
		s.declareCycleUsed(s, outputID)
	}
	columnBase := engine.Float32Addr(s.cycleState) + uintptr(outputID*s.instanceCount)*4
	base := ir.ConstPtr{Addr: columnBase, Elem: ir.F32Type}
	return b.CreateGEP(base, instanceNum)
}

// MutableStatePtr emits the address of this node's mutable state for
// instanceNum, or returns (nil, false) if the node carries no mutable state.
func (s *NodeState) MutableStatePtr(b *ir.Builder, instanceNum ir.Value) (ir.Value, bool) {
	if s.size == 0 {
		return nil, false
	}
	base := ir.OpaquePtr(s.size, false)
	ptr := ir.ConstPtr{Addr: engine.BytesAddr(s.data), Elem: *base.Elem}
	return b.CreateGEP(ptr, instanceNum), true
}
