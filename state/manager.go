package state

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/aliefhooghe/dspjit/engine"
	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
)

// Sequence is a monotonically increasing compilation sequence number, the Go
// analogue of abstract_graph_memory_manager::compile_sequence_t.
type Sequence uint32

type cycleKey struct {
	state    *NodeState
	outputID int
}

// deleteSequence holds everything that becomes safe to free once the audio
// thread has moved past the sequence it was created for: the compiled
// module whose functions are no longer reachable, and the node states and
// static memory chunks that were superseded by it. Go's garbage collector
// would eventually reclaim the slices on its own, but the compiled module
// must be explicitly released through the execution engine.
type deleteSequence struct {
	eng        engine.ExecutionEngine
	module     *ir.Module
	nodeStates []*NodeState
	staticData [][]byte
}

func (d *deleteSequence) addDeletedNode(s *NodeState)       { d.nodeStates = append(d.nodeStates, s) }
func (d *deleteSequence) addDeletedStatic(data []byte)      { d.staticData = append(d.staticData, data) }
func (d *deleteSequence) release() error {
	if d.eng != nil && d.module != nil {
		return d.eng.DeleteModule(d.module)
	}
	return nil
}

// Manager is the Go analogue of DSPJIT::graph_memory_manager: it owns every
// node's persistent state across recompilations and defers freeing a
// superseded module/state until the audio thread has confirmed it moved off
// it (spec.md §4.4 "delete sequence").
type Manager struct {
	state          map[*graphmodel.Node]*NodeState
	staticMemory   map[*graphmodel.Node][]byte
	newNodes       []*graphmodel.Node
	usedNodes      map[*graphmodel.Node]bool
	usedCycles     map[cycleKey]bool
	deleteSeqs     map[Sequence]*deleteSequence
	instanceCount  int
	currentSeq     Sequence
	log            *zap.Logger
}

// NewManager returns a Manager tracking instanceCount instances of state,
// with an initial empty delete sequence tagged initialSeq.
func NewManager(instanceCount int, initialSeq Sequence, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		state:         make(map[*graphmodel.Node]*NodeState),
		staticMemory:  make(map[*graphmodel.Node][]byte),
		usedNodes:     make(map[*graphmodel.Node]bool),
		usedCycles:    make(map[cycleKey]bool),
		deleteSeqs:    map[Sequence]*deleteSequence{initialSeq: {}},
		instanceCount: instanceCount,
		currentSeq:    initialSeq,
		log:           log,
	}
	return m
}

// InstanceCount returns the number of graph state instances being managed.
func (m *Manager) InstanceCount() int { return m.instanceCount }

// BeginSequence starts a new compilation sequence, resetting the per-sequence
// usage-tracking sets. A sequence can be abandoned by calling BeginSequence
// again without ever calling FinishSequence.
func (m *Manager) BeginSequence(seq Sequence) {
	m.newNodes = nil
	m.usedNodes = make(map[*graphmodel.Node]bool)
	m.usedCycles = make(map[cycleKey]bool)
	m.currentSeq = seq
}

// GetOrCreate returns node's persistent state, creating it on first use and
// recording node as used in the current sequence.
func (m *Manager) GetOrCreate(node *graphmodel.Node) *NodeState {
	st, ok := m.state[node]
	if !ok {
		st = newNodeState(node.Process.MutableStateSize(), m.instanceCount, node.OutputCount(), m.declareCycleUsed)
		m.state[node] = st
		m.newNodes = append(m.newNodes, node)
	} else if node.OutputCount() != st.outputCount {
		st.updateOutputCount(node.OutputCount())
	}
	m.usedNodes[node] = true
	return st
}

func (m *Manager) declareCycleUsed(st *NodeState, outputID int) {
	m.usedCycles[cycleKey{state: st, outputID: outputID}] = true
}

// UsedCycleCount returns the number of distinct cycle-state cells read in the
// current compilation sequence, exposed for tests exercising the compiler's
// cycle-breaking behaviour.
func (m *Manager) UsedCycleCount() int { return len(m.usedCycles) }

// RegisterStaticMemoryChunk installs chunk as node's static memory, trashing
// (deferring the release of) whatever chunk was previously registered.
func (m *Manager) RegisterStaticMemoryChunk(node *graphmodel.Node, chunk []byte) {
	if old, ok := m.staticMemory[node]; ok {
		m.trashStatic(old)
	}
	m.staticMemory[node] = chunk
}

// FreeStaticMemoryChunk releases node's static memory chunk, deferring the
// actual free until it is safe. Not an error if none was registered.
func (m *Manager) FreeStaticMemoryChunk(node *graphmodel.Node) {
	old, ok := m.staticMemory[node]
	if !ok {
		return
	}
	m.trashStatic(old)
	delete(m.staticMemory, node)
}

func (m *Manager) trashStatic(chunk []byte) {
	prev := m.previousDeleteSequence()
	prev.addDeletedStatic(chunk)
}

// GetStaticMemoryRef emits a pointer constant to node's registered static
// memory chunk, or ok=false if none is registered. No error is raised here;
// the compiler degrades such a node to zero outputs.
func (m *Manager) GetStaticMemoryRef(b *ir.Builder, node *graphmodel.Node) (ir.Value, bool) {
	chunk, ok := m.staticMemory[node]
	if !ok {
		return nil, false
	}
	ptr := ir.ConstPtr{Addr: engine.BytesAddr(chunk), Elem: ir.Type{Kind: ir.Opaque, ByteSize: len(chunk)}}
	return ptr, true
}

// previousDeleteSequence returns the most recently created delete sequence —
// the one whose lifetime is still open and that new garbage should be filed
// under, mirroring _delete_sequence.rbegin().
func (m *Manager) previousDeleteSequence() *deleteSequence {
	var best Sequence
	first := true
	for seq := range m.deleteSeqs {
		if first || seq > best {
			best = seq
			first = false
		}
	}
	return m.deleteSeqs[best]
}

// FinishSequence closes out the current compilation sequence: node states
// that weren't touched this sequence are moved into the previous delete
// sequence for later release, a fresh delete sequence is opened tagged with
// the just-finished module, and the two graph__initialize* functions are
// compiled into module.
func (m *Manager) FinishSequence(eng engine.ExecutionEngine, module *ir.Module) (initialize, initializeNewNodes *ir.Function, err error) {
	var used []*graphmodel.Node
	for node, st := range m.state {
		if !m.usedNodes[node] {
			m.previousDeleteSequence().addDeletedNode(st)
			delete(m.state, node)
		} else {
			used = append(used, node)
		}
	}

	m.deleteSeqs[m.currentSeq] = &deleteSequence{eng: eng, module: module}

	m.log.Debug("finish_sequence",
		zap.Int("used_nodes", len(used)),
		zap.Int("new_nodes", len(m.newNodes)))

	initialize, err = m.compileInitializeFunction("graph__initialize", used, m.usedCycles, module)
	if err != nil {
		return nil, nil, err
	}
	initializeNewNodes, err = m.compileInitializeFunction("graph__initialize_new_nodes", m.newNodes, nil, module)
	if err != nil {
		return nil, nil, err
	}
	return initialize, initializeNewNodes, nil
}

// UsingSequence tells the manager that the audio thread has switched onto
// the program compiled at seq, so every delete sequence strictly older than
// seq can be released.
func (m *Manager) UsingSequence(seq Sequence) error {
	var old []Sequence
	for s := range m.deleteSeqs {
		if s < seq {
			old = append(old, s)
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i] < old[j] })
	for _, s := range old {
		if err := m.deleteSeqs[s].release(); err != nil {
			return err
		}
		delete(m.deleteSeqs, s)
	}
	return nil
}

// initEmitter is the minimal graphmodel.Emitter used while compiling the
// initialize functions, where no node-to-node value resolution ever happens
// (initialization only stores constants into state).
type initEmitter struct {
	b *ir.Builder
}

func (e initEmitter) Builder() *ir.Builder { return e.b }
func (e initEmitter) NodeValue(*graphmodel.Node, int) (ir.Value, error) {
	return nil, fmt.Errorf("state: node value resolution is not available while compiling an initialize function")
}

func (m *Manager) compileInitializeFunction(symbol string, nodes []*graphmodel.Node, cycles map[cycleKey]bool, module *ir.Module) (*ir.Function, error) {
	fn := module.NewFunction(symbol, []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	instanceNum := fn.Arg(0)
	em := initEmitter{b: b}

	for _, node := range nodes {
		st := m.state[node]
		if st == nil || st.Size() == 0 {
			continue
		}
		var staticMem ir.Value
		if node.Process.UseStaticMemory() {
			ref, ok := m.GetStaticMemoryRef(b, node)
			if !ok {
				m.log.Debug("skip initialize: no static memory chunk", zap.String("node", node.Name))
				continue
			}
			staticMem = ref
		}
		mutPtr, _ := st.MutableStatePtr(b, instanceNum)
		node.Process.InitializeMutableState(em, mutPtr, staticMem)
	}

	if cycles != nil && len(cycles) > 0 {
		zero := b.Zero()
		for key := range cycles {
			ptr := key.state.CycleStatePtr(b, instanceNum, key.outputID)
			b.CreateStore(zero, ptr)
		}
	}

	b.CreateRetVoid()
	return fn, nil
}
