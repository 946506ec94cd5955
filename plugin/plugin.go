// Package plugin loads externally compiled ir.Module code objects that
// expose the node_process (or node_push/node_pull) calling convention and
// turns them into graph nodes, the Go analogue of external_plugin /
// external_plugin_node. There being no LLVM binding in this port, a
// "plugin" is an already-built *ir.Module (the unit a real native backend
// would otherwise parse from a .ll/.bc file); this package's job is
// entirely about symbol discovery, signature classification and
// namespacing, not parsing.
package plugin

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/internal/errlist"
	"github.com/aliefhooghe/dspjit/ir"
)

// Recognised API symbols, the Go analogue of
// external_plugin::_compute_functions_symbols and _initialize_symbol.
const (
	processSymbol    = "node_process"
	pushSymbol       = "node_push"
	pullSymbol       = "node_pull"
	initializeSymbol = "node_initialize"
)

var nextPluginID atomic.Uint64

// computeInfo is the port/state shape read off one compute function's
// parameter list.
type computeInfo struct {
	inputs, outputs int
	stateSize       int
	useStatic       bool
}

// Plugin is one loaded code object: a namespaced copy of its module plus the
// mangled symbols and port/state shape read off its compute function(s).
type Plugin struct {
	module *ir.Module

	dependant  bool // true: processSym only; false: pushSym+pullSym
	processSym string
	pushSym    string
	pullSym    string
	initSym    string // empty if no node_initialize found

	inputCount, outputCount int
	stateSize               int
	useStatic               bool
}

// Load mangles every non-declaration function of src into a collision-free
// namespace and classifies its compute entry point(s), the Go analogue of
// external_plugin's constructor loop over code_object_paths (here reduced to
// one module at a time — call Load once per code object and Link the results
// into a host module with ir.Module.Link).
func Load(src *ir.Module) (*Plugin, error) {
	prefix := fmt.Sprintf("plugin__%d__", nextPluginID.Inc())
	mangled := src.Clone()
	mangled.Name = prefix + src.Name

	var (
		errs                                       error
		processFn, pushFn, pullFn                  *ir.Function
		processName, pushName, pullName, initName string
	)

	renamed := make(map[string]*ir.Function, len(mangled.Functions))
	for name, fn := range mangled.Functions {
		if fn.Declaration {
			renamed[name] = fn
			continue
		}
		newName := prefix + name
		switch name {
		case processSymbol:
			if processFn != nil {
				errs = multierr.Append(errs, errlist.New(errlist.DuplicatePluginCompute, src.Name, "module declares more than one node_process function"))
			} else {
				processFn, processName = fn, newName
			}
		case pushSymbol:
			if pushFn != nil {
				errs = multierr.Append(errs, errlist.New(errlist.DuplicatePluginCompute, src.Name, "module declares more than one node_push function"))
			} else {
				pushFn, pushName = fn, newName
			}
		case pullSymbol:
			if pullFn != nil {
				errs = multierr.Append(errs, errlist.New(errlist.DuplicatePluginCompute, src.Name, "module declares more than one node_pull function"))
			} else {
				pullFn, pullName = fn, newName
			}
		case initializeSymbol:
			initName = newName
		}
		fn.Name = newName
		renamed[newName] = fn
	}
	mangled.Functions = renamed

	if errs != nil {
		return nil, errs
	}

	haveProcess := processFn != nil
	havePushPull := pushFn != nil || pullFn != nil
	if haveProcess && havePushPull {
		return nil, errlist.New(errlist.DuplicatePluginCompute, src.Name, "module declares both node_process and node_push/node_pull")
	}
	if !haveProcess && !havePushPull {
		return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "no node_process or node_push/node_pull compute symbol found")
	}

	p := &Plugin{module: mangled, initSym: initName}

	switch {
	case haveProcess:
		info, ok := classifyCompute(processFn, true, true)
		if !ok {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_process parameters do not match ([chunk*,] [state*,] f32..., f32*...)")
		}
		p.dependant = true
		p.processSym = processName
		p.inputCount, p.outputCount, p.stateSize, p.useStatic = info.inputs, info.outputs, info.stateSize, info.useStatic

	default:
		if pushFn == nil || pullFn == nil {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_push and node_pull must both be present")
		}
		pushInfo, ok := classifyCompute(pushFn, true, false)
		if !ok {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_push parameters do not match ([chunk*,] [state*,] f32...)")
		}
		pullInfo, ok := classifyCompute(pullFn, false, true)
		if !ok {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_pull parameters do not match ([chunk*,] [state*,] f32*...)")
		}
		if pushInfo.stateSize != pullInfo.stateSize || pushInfo.useStatic != pullInfo.useStatic {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_push and node_pull disagree on static-memory use or mutable-state size")
		}
		p.pushSym, p.pullSym = pushName, pullName
		p.inputCount, p.outputCount = pushInfo.inputs, pullInfo.outputs
		p.stateSize, p.useStatic = pushInfo.stateSize, pushInfo.useStatic
	}

	if initName != "" {
		initFn := mangled.Func(initName)
		initInfo, ok := classifyCompute(initFn, false, false)
		if !ok || initInfo.stateSize != p.stateSize || initInfo.useStatic != p.useStatic {
			return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node_initialize disagrees with the compute API on static-memory use or mutable-state size")
		}
	} else if p.stateSize != 0 {
		return nil, errlist.New(errlist.InvalidPluginSignature, src.Name, "node with non-zero mutable state requires a node_initialize function")
	}

	return p, nil
}

// Module returns the renamed module, ready to be linked into a host module
// via ir.Module.Link before the graph containing this plugin's nodes is
// compiled.
func (p *Plugin) Module() *ir.Module { return p.module }

// classifyCompute reads fn's parameter list into a computeInfo, the Go
// analogue of external_plugin::_read_compute_func: an optional leading
// read-only static-memory pointer, an optional mutable-state pointer, then
// (if wantInputs) a run of f32 inputs, then (if wantOutputs) a run of f32*
// outputs. Any other shape is rejected.
func classifyCompute(fn *ir.Function, wantInputs, wantOutputs bool) (info computeInfo, ok bool) {
	i := 0
	if i < len(fn.Params) {
		t := fn.Params[i].Type
		if t.Kind == ir.Ptr && t.IsOpaquePtr() && t.ReadOnly {
			info.useStatic = true
			info.stateSize = 0
			i++
		}
	}
	if i < len(fn.Params) {
		t := fn.Params[i].Type
		if t.Kind == ir.Ptr && t.IsOpaquePtr() {
			info.stateSize = t.ByteSize
			i++
		}
	}

	if wantInputs {
		for ; i < len(fn.Params); i++ {
			if fn.Params[i].Type.Kind != ir.F32 {
				break
			}
			info.inputs++
		}
	}
	if wantOutputs {
		for ; i < len(fn.Params); i++ {
			if !fn.Params[i].Type.IsFloatPtr() {
				return computeInfo{}, false
			}
			info.outputs++
		}
	}
	if i != len(fn.Params) {
		return computeInfo{}, false
	}
	return info, true
}

// processSpec is the graphmodel.ProcessSpec a dependant node_process plugin
// node compiles against: allocas one output slot per output port, calls the
// plugin's mangled symbol, and loads the results back — the Go analogue of
// external_plugin_node::emit_outputs.
type processSpec struct {
	graphmodel.Base
	symbol  string
	initSym string
}

// pushPullSpec is the non-dependant counterpart for a node_push/node_pull
// plugin pair.
type pushPullSpec struct {
	graphmodel.Base
	pushSym, pullSym, initSym string
}

// CreateNode returns a new graph node wired to call this plugin's compute
// entry point(s), the Go analogue of external_plugin::create_node.
func (p *Plugin) CreateNode(name string) *graphmodel.Node {
	base := graphmodel.Base{StateSize: p.stateSize, StaticMemory: p.useStatic, Dependant: p.dependant}
	var spec graphmodel.ProcessSpec
	if p.dependant {
		spec = processSpec{Base: base, symbol: p.processSym, initSym: p.initSym}
	} else {
		spec = pushPullSpec{Base: base, pushSym: p.pushSym, pullSym: p.pullSym, initSym: p.initSym}
	}
	return graphmodel.New(name, p.inputCount, p.outputCount, spec)
}

// initializeState calls symbol (node_initialize), if linked, with the
// node's static/mutable-state pointers — a no-op if the symbol has not been
// linked into the module being initialized. Unlike the compute hooks, which
// return a MissingSymbolInModule error in that case, it reports nothing.
func initializeState(e graphmodel.Emitter, symbol string, mutableState, staticMemory ir.Value) {
	if symbol == "" {
		return
	}
	fn, err := lookupSymbol(e, symbol)
	if err != nil {
		return
	}
	b := e.Builder()
	args, _ := callArgs(b, fn, nil, mutableState, staticMemory, 0)
	b.CreateCall(fn, args...)
}

func lookupSymbol(e graphmodel.Emitter, symbol string) (*ir.Function, error) {
	b := e.Builder()
	fn := b.Func().Module.Func(symbol)
	if fn == nil {
		return nil, errlist.New(errlist.MissingSymbolInModule, symbol, "plugin entry point not linked into the compiled module")
	}
	return fn, nil
}

// callArgs builds the ([static,] [state,] inputs..., outPtrs...) argument list
// a plugin call needs, allocating one stack slot per out-argument output.
func callArgs(b *ir.Builder, fn *ir.Function, inputs []ir.Value, mutableState, staticMemory ir.Value, outputCount int) (args []ir.Value, outPtrs []ir.Value) {
	args = make([]ir.Value, 0, len(fn.Params))
	pi := 0
	if staticMemory != nil {
		args = append(args, b.CreateBitCast(staticMemory, *fn.Params[pi].Type.Elem))
		pi++
	}
	if mutableState != nil {
		args = append(args, b.CreateBitCast(mutableState, *fn.Params[pi].Type.Elem))
		pi++
	}
	args = append(args, inputs...)
	outPtrs = make([]ir.Value, outputCount)
	for i := range outPtrs {
		outPtrs[i] = b.CreateAlloca(ir.F32Type)
	}
	args = append(args, outPtrs...)
	return args, outPtrs
}

func (s processSpec) EmitOutputs(e graphmodel.Emitter, inputs []ir.Value, mutableState, staticMemory ir.Value) ([]ir.Value, error) {
	b := e.Builder()
	fn, err := lookupSymbol(e, s.symbol)
	if err != nil {
		return nil, err
	}
	outputCount := len(fn.Params) - len(inputs)
	if staticMemory != nil {
		outputCount--
	}
	if mutableState != nil {
		outputCount--
	}

	args, outPtrs := callArgs(b, fn, inputs, mutableState, staticMemory, outputCount)
	b.CreateCall(fn, args...)

	outputs := make([]ir.Value, outputCount)
	for i, ptr := range outPtrs {
		outputs[i] = b.CreateLoad(ptr)
	}
	return outputs, nil
}

func (s pushPullSpec) PullOutput(e graphmodel.Emitter, mutableState, staticMemory ir.Value) ([]ir.Value, error) {
	b := e.Builder()
	fn, err := lookupSymbol(e, s.pullSym)
	if err != nil {
		return nil, err
	}
	outputCount := len(fn.Params)
	if staticMemory != nil {
		outputCount--
	}
	if mutableState != nil {
		outputCount--
	}

	args, outPtrs := callArgs(b, fn, nil, mutableState, staticMemory, outputCount)
	b.CreateCall(fn, args...)

	outputs := make([]ir.Value, outputCount)
	for i, ptr := range outPtrs {
		outputs[i] = b.CreateLoad(ptr)
	}
	return outputs, nil
}

func (s pushPullSpec) PushInput(e graphmodel.Emitter, inputs []ir.Value, mutableState, staticMemory ir.Value) error {
	b := e.Builder()
	fn, err := lookupSymbol(e, s.pushSym)
	if err != nil {
		return err
	}
	args, _ := callArgs(b, fn, inputs, mutableState, staticMemory, 0)
	b.CreateCall(fn, args...)
	return nil
}

func (s processSpec) InitializeMutableState(e graphmodel.Emitter, mutableState, staticMemory ir.Value) {
	initializeState(e, s.initSym, mutableState, staticMemory)
}

func (s pushPullSpec) InitializeMutableState(e graphmodel.Emitter, mutableState, staticMemory ir.Value) {
	initializeState(e, s.initSym, mutableState, staticMemory)
}

var (
	_ graphmodel.ProcessSpec = processSpec{}
	_ graphmodel.ProcessSpec = pushPullSpec{}
)
