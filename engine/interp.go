package engine

import (
	"fmt"
	"unsafe"

	"github.com/aliefhooghe/dspjit/ir"
)

// Interpreter is the reference ExecutionEngine: instead of emitting machine
// code it walks each function's instruction list directly against real,
// already-allocated Go memory, reconstituting baked ConstPtr/ConstInt
// addresses via unsafe.Pointer arithmetic the same way the native backend
// this stands in for would. It never branches, so there is nothing resembling
// a real optimizing JIT here — EmitNativeCode only pre-builds the per-function
// call frames so that the closures returned by CompileProcess and
// CompileInitialize are allocation-free on the hot path (Func.Call still
// allocates).
type Interpreter struct {
	modules map[*ir.Module]bool
	fns     map[*ir.Function]*compiledFn
	emitted bool
}

// NewInterpreter returns an empty Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		modules: make(map[*ir.Module]bool),
		fns:     make(map[*ir.Function]*compiledFn),
	}
}

func (in *Interpreter) AddModule(module *ir.Module) error {
	if module == nil {
		return fmt.Errorf("engine: AddModule: nil module")
	}
	in.modules[module] = true
	in.emitted = false
	return nil
}

func (in *Interpreter) DeleteModule(module *ir.Module) error {
	if !in.modules[module] {
		return nil
	}
	delete(in.modules, module)
	for _, fn := range module.Functions {
		delete(in.fns, fn)
	}
	return nil
}

// EmitNativeCode builds a compiledFn — a reusable, pre-sized call frame — for
// every non-declaration function of every added module that hasn't been
// compiled yet. A module that fails ir.Module.Verify is never emitted; the
// caller is expected to have already called Verify and abandoned the module
// on failure (spec.md §4.8 step 8), but Interpreter checks again defensively
// since it is the last point before code becomes callable.
func (in *Interpreter) EmitNativeCode() error {
	for module := range in.modules {
		if err := module.Verify(); err != nil {
			return fmt.Errorf("engine: EmitNativeCode: %w", err)
		}
		for _, fn := range module.Functions {
			if fn.Declaration {
				continue
			}
			if _, ok := in.fns[fn]; ok {
				continue
			}
			in.fns[fn] = newCompiledFn(in, fn)
		}
	}
	in.emitted = true
	return nil
}

func (in *Interpreter) GetFunctionPointer(fn *ir.Function) (Func, error) {
	cf, ok := in.fns[fn]
	if !ok {
		return nil, fmt.Errorf("engine: GetFunctionPointer: %q: %w", fn.Name, errMissingSymbol)
	}
	return cf, nil
}

// errMissingSymbol is wrapped rather than typed so the engine package does
// not depend on internal/errlist; context wraps this with the right
// spec.md §7 kind when it bubbles up.
var errMissingSymbol = fmt.Errorf("function has no compiled body in this engine")

// CompileProcess resolves fn's compiled frame directly and returns a
// ProcessFunc closure that drives it without going through the ir.Value-based
// Func.Call path, so the returned closure performs no allocation per call:
// the frame's scratch slice and any alloca backing buffers were built once,
// by EmitNativeCode, and are reused for every subsequent call.
func (in *Interpreter) CompileProcess(fn *ir.Function) (ProcessFunc, error) {
	cf, ok := in.fns[fn]
	if !ok {
		return nil, fmt.Errorf("engine: CompileProcess: %q: %w", fn.Name, errMissingSymbol)
	}
	if len(fn.Params) != 3 {
		return nil, fmt.Errorf("engine: CompileProcess: %q: expected 3 parameters (instance, in*, out*), got %d", fn.Name, len(fn.Params))
	}
	return func(instanceNum int64, inputs, outputs []float32) {
		args := cf.argScratch
		args[0] = rtVal{Kind: ir.I64, I: instanceNum}
		args[1] = rtVal{Kind: ir.Ptr, Ptr: floatSliceAddr(inputs), Elem: ir.F32Type}
		args[2] = rtVal{Kind: ir.Ptr, Ptr: floatSliceAddr(outputs), Elem: ir.F32Type}
		cf.run(args)
	}, nil
}

// CompileInitialize is CompileProcess's analogue for the single-argument
// graph__initialize/graph__initialize_new_nodes entry points.
func (in *Interpreter) CompileInitialize(fn *ir.Function) (InitializeFunc, error) {
	cf, ok := in.fns[fn]
	if !ok {
		return nil, fmt.Errorf("engine: CompileInitialize: %q: %w", fn.Name, errMissingSymbol)
	}
	if len(fn.Params) != 1 {
		return nil, fmt.Errorf("engine: CompileInitialize: %q: expected 1 parameter (instance), got %d", fn.Name, len(fn.Params))
	}
	return func(instanceNum int64) {
		args := cf.argScratch
		args[0] = rtVal{Kind: ir.I64, I: instanceNum}
		cf.run(args)
	}, nil
}

// compiledFn is a pre-sized, reusable call frame for one function: a
// scratch slot per instruction (indexed by Instr.Index, since the single
// block's instructions are numbered densely from zero), one backing buffer
// per alloca site, and one argument-value scratch slice per call site so
// that calling another compiled function doesn't allocate either.
type compiledFn struct {
	interp      *Interpreter
	fn          *ir.Function
	instrs      []*ir.Instr
	scratch     []rtVal
	allocaBuf   [][]byte // parallel to instrs; non-nil at OpAlloca indices
	callArgs    [][]rtVal
	argScratch  []rtVal
}

func newCompiledFn(interp *Interpreter, fn *ir.Function) *compiledFn {
	instrs := fn.Entry().Instrs
	cf := &compiledFn{
		interp:     interp,
		fn:         fn,
		instrs:     instrs,
		scratch:    make([]rtVal, len(instrs)),
		allocaBuf:  make([][]byte, len(instrs)),
		callArgs:   make([][]rtVal, len(instrs)),
		argScratch: make([]rtVal, len(fn.Params)),
	}
	for idx, in := range instrs {
		switch in.Op {
		case ir.OpAlloca:
			size := ir.ElemByteSize(*in.ResTy.Elem)
			if size == 0 {
				size = 1
			}
			cf.allocaBuf[idx] = make([]byte, size)
		case ir.OpCall:
			cf.callArgs[idx] = make([]rtVal, len(in.Operands))
		}
	}
	return cf
}

// Call implements Func for compile-thread-only callers that want to pass
// ir.Value arguments directly; it allocates, unlike run.
func (cf *compiledFn) Call(args ...ir.Value) []ir.Value {
	in := make([]rtVal, len(args))
	for i, a := range args {
		in[i] = constToRuntime(a)
	}
	result := cf.run(in)
	if cf.fn.RetType.Kind == ir.Void {
		return nil
	}
	return []ir.Value{runtimeToConst(result, cf.fn.RetType)}
}

func constToRuntime(v ir.Value) rtVal {
	switch c := v.(type) {
	case ir.ConstFloat:
		return rtVal{Kind: ir.F32, F: c.Val}
	case ir.ConstInt:
		return rtVal{Kind: ir.I64, I: c.Val}
	case ir.ConstPtr:
		return rtVal{Kind: ir.Ptr, Ptr: unsafe.Pointer(c.Addr), Elem: c.Elem}
	default:
		panic(fmt.Sprintf("engine: Call: unsupported top-level argument %T", v))
	}
}

func runtimeToConst(v rtVal, ty ir.Type) ir.Value {
	switch ty.Kind {
	case ir.F32:
		return ir.ConstFloat{Val: v.F}
	case ir.I64:
		return ir.ConstInt{Val: v.I}
	case ir.Ptr:
		return ir.ConstPtr{Addr: uintptr(v.Ptr), Elem: *ty.Elem}
	default:
		return ir.ConstFloat{}
	}
}

// run evaluates the function body once against args, leaving no trace beyond
// its (reused) scratch buffers. It is the interpreter's only evaluation loop;
// both the allocation-free ProcessFunc/InitializeFunc wrappers and the
// allocating Func.Call path end up here.
func (cf *compiledFn) run(args []rtVal) rtVal {
	var result rtVal
	for idx, in := range cf.instrs {
		switch in.Op {
		case ir.OpFAdd:
			a, b := cf.operand(in.Operands[0], args), cf.operand(in.Operands[1], args)
			cf.scratch[idx] = rtVal{Kind: ir.F32, F: a.F + b.F}
		case ir.OpFSub:
			a, b := cf.operand(in.Operands[0], args), cf.operand(in.Operands[1], args)
			cf.scratch[idx] = rtVal{Kind: ir.F32, F: a.F - b.F}
		case ir.OpFMul:
			a, b := cf.operand(in.Operands[0], args), cf.operand(in.Operands[1], args)
			cf.scratch[idx] = rtVal{Kind: ir.F32, F: a.F * b.F}
		case ir.OpFDiv:
			a, b := cf.operand(in.Operands[0], args), cf.operand(in.Operands[1], args)
			cf.scratch[idx] = rtVal{Kind: ir.F32, F: a.F / b.F}
		case ir.OpFNeg:
			a := cf.operand(in.Operands[0], args)
			cf.scratch[idx] = rtVal{Kind: ir.F32, F: -a.F}
		case ir.OpAlloca:
			buf := cf.allocaBuf[idx]
			cf.scratch[idx] = rtVal{Kind: ir.Ptr, Ptr: unsafe.Pointer(&buf[0]), Elem: *in.ResTy.Elem}
		case ir.OpGEP:
			base := cf.operand(in.Operands[0], args)
			index := cf.operand(in.Operands[1], args)
			step := ir.ElemByteSize(base.Elem)
			addr := uintptr(base.Ptr) + uintptr(index.I)*uintptr(step)
			cf.scratch[idx] = rtVal{Kind: ir.Ptr, Ptr: unsafe.Pointer(addr), Elem: base.Elem}
		case ir.OpIntToPtr:
			a := cf.operand(in.Operands[0], args)
			cf.scratch[idx] = rtVal{Kind: ir.Ptr, Ptr: unsafe.Pointer(uintptr(a.I)), Elem: *in.ResTy.Elem}
		case ir.OpBitCast:
			a := cf.operand(in.Operands[0], args)
			cf.scratch[idx] = rtVal{Kind: ir.Ptr, Ptr: a.Ptr, Elem: *in.ResTy.Elem}
		case ir.OpLoad:
			ptr := cf.operand(in.Operands[0], args)
			cf.scratch[idx] = loadFrom(ptr)
		case ir.OpStore:
			val := cf.operand(in.Operands[0], args)
			ptr := cf.operand(in.Operands[1], args)
			storeTo(ptr, val)
		case ir.OpCall:
			callee, ok := cf.interp.fns[in.Callee]
			if !ok {
				panic(fmt.Sprintf("engine: run: %q calls %q which has no compiled body (%v)", cf.fn.Name, in.Callee.Name, errMissingSymbol))
			}
			callArgs := cf.callArgs[idx]
			for i, opnd := range in.Operands {
				callArgs[i] = cf.operand(opnd, args)
			}
			cf.scratch[idx] = callee.run(callArgs)
		case ir.OpRetVoid:
			return result
		default:
			panic(fmt.Sprintf("engine: run: unhandled op %s", in.Op))
		}
	}
	return result
}

func (cf *compiledFn) operand(v ir.Value, args []rtVal) rtVal {
	switch val := v.(type) {
	case ir.ConstFloat:
		return rtVal{Kind: ir.F32, F: val.Val}
	case ir.ConstInt:
		return rtVal{Kind: ir.I64, I: val.Val}
	case ir.ConstPtr:
		return rtVal{Kind: ir.Ptr, Ptr: unsafe.Pointer(val.Addr), Elem: val.Elem}
	case ir.Arg:
		return args[val.Index]
	case *ir.Instr:
		return cf.scratch[val.Index]
	default:
		panic(fmt.Sprintf("engine: operand: unsupported value %T", v))
	}
}

func loadFrom(ptr rtVal) rtVal {
	switch ptr.Elem.Kind {
	case ir.F32:
		return rtVal{Kind: ir.F32, F: *(*float32)(ptr.Ptr)}
	case ir.I64:
		return rtVal{Kind: ir.I64, I: *(*int64)(ptr.Ptr)}
	case ir.Ptr:
		return rtVal{Kind: ir.Ptr, Ptr: *(*unsafe.Pointer)(ptr.Ptr), Elem: *ptr.Elem.Elem}
	default:
		panic(fmt.Sprintf("engine: load: unsupported pointee kind %s (bitcast to a concrete type first)", ptr.Elem.Kind))
	}
}

func storeTo(ptr, val rtVal) {
	switch ptr.Elem.Kind {
	case ir.F32:
		*(*float32)(ptr.Ptr) = val.F
	case ir.I64:
		*(*int64)(ptr.Ptr) = val.I
	case ir.Ptr:
		*(*unsafe.Pointer)(ptr.Ptr) = val.Ptr
	default:
		panic(fmt.Sprintf("engine: store: unsupported pointee kind %s (bitcast to a concrete type first)", ptr.Elem.Kind))
	}
}
