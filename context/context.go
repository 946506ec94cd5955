// Package context implements the graph execution context: the orchestrator
// tying the graph compiler, the state manager, an execution engine and the
// compile-thread/audio-thread handoff queues together (spec.md §4.8), the Go
// analogue of graph_execution_context. The package is named context to match
// its single exported type, Context; it never needs stdlib context's
// cancellation or deadline semantics (spec.md §5: "no cancellation/timeouts"),
// so there is no import collision in practice.
package context

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aliefhooghe/dspjit/compiler"
	"github.com/aliefhooghe/dspjit/engine"
	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/internal/errlist"
	"github.com/aliefhooghe/dspjit/ir"
	"github.com/aliefhooghe/dspjit/queue"
	"github.com/aliefhooghe/dspjit/state"
)

const (
	ackQueueCapacity         = 256
	compileDoneQueueCapacity = 256
)

// compileDoneMsg travels from the compile thread to the audio thread once a
// new process/initialize pair is ready, the Go analogue of
// graph_execution_context::compile_done_msg.
type compileDoneMsg struct {
	seq        state.Sequence
	process    engine.ProcessFunc
	initialize engine.InitializeFunc
}

// fastFuncCompiler is the optional capability an engine.ExecutionEngine can
// provide beyond the base interface: allocation-free closures over a
// compiled function, used on the audio thread in place of engine.Func.Call
// (which allocates per call). engine.Interpreter implements this; a native
// backend reinterpreting a raw function pointer would too.
type fastFuncCompiler interface {
	CompileProcess(fn *ir.Function) (engine.ProcessFunc, error)
	CompileInitialize(fn *ir.Function) (engine.InitializeFunc, error)
}

// Context is the Go analogue of graph_execution_context: construction
// parameters are an execution engine and a memory manager (spec.md §4.8),
// here folded into a single constructor that builds the manager internally
// since nothing else in this port shares one across contexts.
type Context struct {
	log *zap.Logger
	eng engine.ExecutionEngine
	mgr *state.Manager

	library *ir.Module
	irDump  bool

	currentSeq state.Sequence

	ackQueue         *queue.SPSC[state.Sequence]
	compileDoneQueue *queue.SPSC[compileDoneMsg]

	// Process-thread state: read/written only by UpdateProgram, Process and
	// InitializeState. The compile thread never touches these fields
	// directly, only indirectly through compileDoneQueue.
	processFunc    engine.ProcessFunc
	initializeFunc engine.InitializeFunc
}

// New returns a Context with an empty standing library and a program that
// does nothing until the first successful Compile/UpdateProgram round trip.
// log may be nil, in which case logging is discarded.
func New(eng engine.ExecutionEngine, instanceCount int, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	const initialSeq state.Sequence = 0
	return &Context{
		log:              log,
		eng:              eng,
		mgr:              state.NewManager(instanceCount, initialSeq, log),
		library:          ir.NewModule("library"),
		currentSeq:       initialSeq,
		ackQueue:         queue.New[state.Sequence](ackQueueCapacity),
		compileDoneQueue: queue.New[compileDoneMsg](compileDoneQueueCapacity),
		processFunc:      func(int64, []float32, []float32) {},
		initializeFunc:   func(int64) {},
	}
}

// InstanceCount returns the number of graph state instances this context
// manages.
func (c *Context) InstanceCount() int { return c.mgr.InstanceCount() }

/*********************************************
 *   Compile Thread API
 *********************************************/

// AddLibraryModule links module's functions and globals into the standing
// library that gets cloned into every freshly compiled module, the Go
// analogue of add_library_module / _link_dependency_modules.
func (c *Context) AddLibraryModule(module *ir.Module) error {
	return c.library.Link(module)
}

// SetGlobalConstant declares or overwrites a named float global in the
// standing library, so every freshly compiled module carries a copy of it.
// No IR instruction reads a global, and nodes.Reference loads only through a
// raw host pointer, never a global by name.
func (c *Context) SetGlobalConstant(name string, value float32) {
	c.library.SetGlobal(name, value)
}

// RegisterStaticMemoryChunk installs chunk as node's static memory. Guarded
// by node's static-memory flag: registering a chunk for a node that never
// declared UseStaticMemory is logged and ignored rather than stored, since
// the compiler would never read it back.
func (c *Context) RegisterStaticMemoryChunk(node *graphmodel.Node, chunk []byte) {
	if !node.Process.UseStaticMemory() {
		c.log.Debug("register_static_memory_chunk: ignored, node does not use static memory", zap.String("node", node.Name))
		return
	}
	c.mgr.RegisterStaticMemoryChunk(node, chunk)
}

// FreeStaticMemoryChunk releases node's static memory chunk, deferred until
// the audio thread has moved off any compiled program still reading it. Not
// an error if none was registered.
func (c *Context) FreeStaticMemoryChunk(node *graphmodel.Node) {
	c.mgr.FreeStaticMemoryChunk(node)
}

// EnableIRDump toggles whether Compile logs the freshly built module's IR
// before handing it to the execution engine.
func (c *Context) EnableIRDump(enable bool) { c.irDump = enable }

// Compile runs the eleven-step sequence of spec.md §4.8: drain one pending
// acknowledgement, open a new compilation sequence, build and link a fresh
// module, emit the graph__process function, close out node state, demote
// non-API symbols, optimize, verify, hand the module to the execution
// engine, prime brand-new nodes, and post the result to the audio thread.
func (c *Context) Compile(inputs, outputs []*graphmodel.Node) error {
	start := time.Now()

	if acked, ok := c.ackQueue.Pop(); ok {
		if err := c.mgr.UsingSequence(acked); err != nil {
			return fmt.Errorf("context: compile: using_sequence: %w", err)
		}
	}

	c.currentSeq++
	c.mgr.BeginSequence(c.currentSeq)

	module := ir.NewModule("graph")
	if err := module.Link(c.library); err != nil {
		return fmt.Errorf("context: compile: link library: %w", err)
	}

	process, err := c.compileProcessFunction(module, inputs, outputs)
	if err != nil {
		return err
	}

	initialize, initializeNewNodes, err := c.mgr.FinishSequence(c.eng, module)
	if err != nil {
		return fmt.Errorf("context: compile: finish_sequence: %w", err)
	}

	module.DemoteNonExported(map[string]bool{
		process.Name:            true,
		initialize.Name:         true,
		initializeNewNodes.Name: true,
	})

	if c.irDump {
		c.dumpIR(module, "before_optimize")
	}

	optimize(module)

	if c.irDump {
		c.dumpIR(module, "after_optimize")
	}

	if err := module.Verify(); err != nil {
		c.log.Error("compile: ir verification failed, abandoning compilation",
			zap.Uint32("sequence", uint32(c.currentSeq)), zap.Error(err))
		return errlist.Wrap(errlist.IrVerifierFailed, "", "malformed generated IR", err)
	}

	if err := c.eng.AddModule(module); err != nil {
		return errlist.Wrap(errlist.BackendCodegenFailed, "", "add_module failed", err)
	}
	if err := c.eng.EmitNativeCode(); err != nil {
		return errlist.Wrap(errlist.BackendCodegenFailed, "", "emit_native_code failed", err)
	}

	processFn, err := c.resolveProcessFunc(process)
	if err != nil {
		return err
	}
	initializeFn, err := c.resolveInitializeFunc(initialize)
	if err != nil {
		return err
	}
	initializeNewFn, err := c.resolveInitializeFunc(initializeNewNodes)
	if err != nil {
		return err
	}

	for i := 0; i < c.mgr.InstanceCount(); i++ {
		initializeNewFn(int64(i))
	}

	msg := compileDoneMsg{seq: c.currentSeq, process: processFn, initialize: initializeFn}
	if !c.compileDoneQueue.Push(msg) {
		c.log.Error("compile: compile_done queue full, is the process thread running?",
			zap.Uint32("sequence", uint32(c.currentSeq)))
		return errlist.New(errlist.QueueFull, "compile_done", "process thread has not drained the compile_done queue")
	}

	c.log.Info("compile: finished",
		zap.Uint32("sequence", uint32(c.currentSeq)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Context) dumpIR(module *ir.Module, stage string) {
	data, err := module.DumpJSON()
	if err != nil {
		c.log.Error("compile: ir dump failed", zap.String("stage", stage), zap.Error(err))
		return
	}
	c.log.Info("compile: ir dump", zap.Uint32("sequence", uint32(c.currentSeq)), zap.String("stage", stage), zap.ByteString("module", data))
}

// optimize is the place in Compile's sequence where an optimization pass
// pipeline runs over module. It runs no passes: the module reaches
// verification and the execution engine exactly as emitted, with no
// inlining, CSE or dead-code elimination.
func optimize(module *ir.Module) {}

func (c *Context) resolveProcessFunc(fn *ir.Function) (engine.ProcessFunc, error) {
	if fc, ok := c.eng.(fastFuncCompiler); ok {
		pf, err := fc.CompileProcess(fn)
		if err != nil {
			return nil, errlist.Wrap(errlist.BackendCodegenFailed, fn.Name, "compile_process failed", err)
		}
		return pf, nil
	}
	f, err := c.eng.GetFunctionPointer(fn)
	if err != nil {
		return nil, errlist.Wrap(errlist.BackendCodegenFailed, fn.Name, "get_function_pointer failed", err)
	}
	return func(instanceNum int64, inputs, outputs []float32) {
		f.Call(
			ir.ConstInt{Val: instanceNum},
			ir.ConstPtr{Addr: engine.Float32Addr(inputs), Elem: ir.F32Type},
			ir.ConstPtr{Addr: engine.Float32Addr(outputs), Elem: ir.F32Type},
		)
	}, nil
}

func (c *Context) resolveInitializeFunc(fn *ir.Function) (engine.InitializeFunc, error) {
	if fc, ok := c.eng.(fastFuncCompiler); ok {
		initFn, err := fc.CompileInitialize(fn)
		if err != nil {
			return nil, errlist.Wrap(errlist.BackendCodegenFailed, fn.Name, "compile_initialize failed", err)
		}
		return initFn, nil
	}
	f, err := c.eng.GetFunctionPointer(fn)
	if err != nil {
		return nil, errlist.Wrap(errlist.BackendCodegenFailed, fn.Name, "get_function_pointer failed", err)
	}
	return func(instanceNum int64) {
		f.Call(ir.ConstInt{Val: instanceNum})
	}, nil
}

// compileProcessFunction emits graph__process(i64 instance_num, f32*
// inputs, f32* outputs): it loads every input node's values from the flat
// input array, then resolves every output node's inputs and stores them to
// the flat output array at increasing positions, the Go analogue of
// _compile_process_function / _load_graph_input_values /
// _compile_and_store_graph_output_values.
func (c *Context) compileProcessFunction(module *ir.Module, inputs, outputs []*graphmodel.Node) (*ir.Function, error) {
	fn := module.NewFunction("graph__process", []ir.Param{
		{Name: "instance_num", Type: ir.I64Type},
		{Name: "inputs", Type: ir.PtrTo(ir.F32Type)},
		{Name: "outputs", Type: ir.PtrTo(ir.F32Type)},
	}, ir.VoidType, ir.External, false)

	b := ir.NewBuilder(fn)
	instanceNum, inputsArg, outputsArg := fn.Arg(0), fn.Arg(1), fn.Arg(2)

	comp := compiler.New(b, instanceNum, c.mgr)

	loadGraphInputValues(b, comp, inputs, inputsArg)
	if err := storeGraphOutputValues(b, comp, outputs, outputsArg); err != nil {
		return nil, err
	}
	if err := comp.Finish(); err != nil {
		return nil, err
	}

	b.CreateRetVoid()
	return fn, nil
}

// loadGraphInputValues reads one flat f32 per output port of every input
// node, in order, and registers them as that node's already-resolved output
// values, so the rest of the graph reads the process function's input array
// through ordinary node_value resolution.
func loadGraphInputValues(b *ir.Builder, comp *compiler.Compiler, inputNodes []*graphmodel.Node, inputArray ir.Value) {
	index := int64(0)
	for _, node := range inputNodes {
		values := make([]ir.Value, node.OutputCount())
		for i := range values {
			ptr := b.CreateGEP(inputArray, b.ConstI64(index))
			values[i] = b.CreateLoad(ptr)
			index++
		}
		comp.AssignValues(node, values)
	}
}

// storeGraphOutputValues resolves every output node's inputs through
// node_value and stores them to the flat output array, in order.
func storeGraphOutputValues(b *ir.Builder, comp *compiler.Compiler, outputNodes []*graphmodel.Node, outputArray ir.Value) error {
	index := int64(0)
	for _, node := range outputNodes {
		for i := 0; i < node.InputCount(); i++ {
			src, outID := node.GetInputPort(i)
			v, err := comp.NodeValue(src, outID)
			if err != nil {
				return err
			}
			ptr := b.CreateGEP(outputArray, b.ConstI64(index))
			b.CreateStore(v, ptr)
			index++
		}
	}
	return nil
}

/*********************************************
 *   Process Thread API
 *********************************************/

// UpdateProgram drains at most one pending compile_done message, installing
// its process/initialize functions and acknowledging it back to the compile
// thread. Reports whether a new program was installed.
func (c *Context) UpdateProgram() bool {
	msg, ok := c.compileDoneQueue.Pop()
	if !ok {
		return false
	}
	c.processFunc = msg.process
	c.initializeFunc = msg.initialize
	if !c.ackQueue.Push(msg.seq) {
		c.log.Error("update_program: ack queue full, is the compile thread running?",
			zap.Uint32("sequence", uint32(msg.seq)))
	}
	return true
}

// Process runs the current process program against instanceNum's state.
func (c *Context) Process(instanceNum int64, inputs, outputs []float32) {
	c.processFunc(instanceNum, inputs, outputs)
}

// InitializeState resets instanceNum's persistent node state to its initial
// values under the current program.
func (c *Context) InitializeState(instanceNum int64) {
	c.initializeFunc(instanceNum)
}
