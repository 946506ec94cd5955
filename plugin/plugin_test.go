package plugin

import (
	"testing"

	"github.com/aliefhooghe/dspjit/compiler"
	"github.com/aliefhooghe/dspjit/internal/errlist"
	"github.com/aliefhooghe/dspjit/ir"
	"github.com/aliefhooghe/dspjit/state"
)

// gainModule builds a one-input, one-output stateless node_process function
// computing out0 = in0 * 2, the shape external_plugin expects: an optional
// static/state pointer pair, then a run of f32 inputs, then a run of f32*
// outputs.
func gainModule() *ir.Module {
	m := ir.NewModule("gain")
	params := []ir.Param{
		{Name: "in0", Type: ir.F32Type},
		{Name: "out0", Type: ir.PtrTo(ir.F32Type)},
	}
	fn := m.NewFunction(processSymbol, params, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	doubled := b.CreateFMul(fn.Arg(0), b.ConstF32(2))
	b.CreateStore(doubled, fn.Arg(1))
	b.CreateRetVoid()
	return m
}

// statefulModule builds a node_process/node_initialize pair sharing 4 bytes
// of mutable state, exercising the mutable-state pointer classification.
func statefulModule() *ir.Module {
	m := ir.NewModule("accum")
	statePtrType := ir.OpaquePtr(4, false)
	proc := m.NewFunction(processSymbol, []ir.Param{
		{Name: "state", Type: statePtrType},
		{Name: "in0", Type: ir.F32Type},
		{Name: "out0", Type: ir.PtrTo(ir.F32Type)},
	}, ir.VoidType, ir.External, false)
	pb := ir.NewBuilder(proc)
	statePtr := pb.CreateBitCast(proc.Arg(0), ir.F32Type)
	sum := pb.CreateFAdd(pb.CreateLoad(statePtr), proc.Arg(1))
	pb.CreateStore(sum, statePtr)
	pb.CreateStore(sum, proc.Arg(2))
	pb.CreateRetVoid()

	initFn := m.NewFunction(initializeSymbol, []ir.Param{
		{Name: "state", Type: statePtrType},
	}, ir.VoidType, ir.External, false)
	ib := ir.NewBuilder(initFn)
	ib.CreateStore(ib.Zero(), ib.CreateBitCast(initFn.Arg(0), ir.F32Type))
	ib.CreateRetVoid()
	return m
}

func TestLoadMangledSymbolsAndClassifiesPorts(t *testing.T) {
	p, err := Load(gainModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.inputCount != 1 || p.outputCount != 1 {
		t.Fatalf("got (%d,%d) ports, want (1,1)", p.inputCount, p.outputCount)
	}
	if !p.dependant {
		t.Fatal("expected a node_process-only plugin to be dependant")
	}
	if p.module.Func(processSymbol) != nil {
		t.Fatal("expected the original unmangled name to be gone from the module")
	}
	if p.module.Func(p.processSym) == nil {
		t.Fatalf("mangled symbol %q not found in module", p.processSym)
	}
}

func TestLoadTwoPluginsGetDistinctNamespaces(t *testing.T) {
	p1, err := Load(gainModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p2, err := Load(gainModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p1.processSym == p2.processSym {
		t.Fatalf("expected distinct mangled symbols, both got %q", p1.processSym)
	}
}

func TestLoadRejectsMissingProcessSymbol(t *testing.T) {
	m := ir.NewModule("empty")
	fn := m.NewFunction("helper", nil, ir.VoidType, ir.External, false)
	ir.NewBuilder(fn).CreateRetVoid()

	_, err := Load(m)
	if err == nil {
		t.Fatal("expected an error for a module with no compute function")
	}
	kind, ok := errlist.Of(err)
	if !ok || kind != errlist.InvalidPluginSignature {
		t.Fatalf("errlist.Of(err) = (%v, %v), want (InvalidPluginSignature, true)", kind, ok)
	}
}

func TestLoadRejectsBadSignature(t *testing.T) {
	m := ir.NewModule("bad")
	params := []ir.Param{
		{Name: "in0", Type: ir.F32Type},
		{Name: "state", Type: ir.OpaquePtr(4, false)},
	}
	m.NewFunction(processSymbol, params, ir.VoidType, ir.External, false)

	_, err := Load(m)
	if err == nil {
		t.Fatal("expected an error for a node_process with a state pointer after its inputs")
	}
	kind, ok := errlist.Of(err)
	if !ok || kind != errlist.InvalidPluginSignature {
		t.Fatalf("errlist.Of(err) = (%v, %v), want (InvalidPluginSignature, true)", kind, ok)
	}
}

func TestLoadRequiresInitializeForMutableState(t *testing.T) {
	m := ir.NewModule("no_init")
	m.NewFunction(processSymbol, []ir.Param{
		{Name: "state", Type: ir.OpaquePtr(4, false)},
		{Name: "in0", Type: ir.F32Type},
		{Name: "out0", Type: ir.PtrTo(ir.F32Type)},
	}, ir.VoidType, ir.External, false)

	_, err := Load(m)
	if err == nil {
		t.Fatal("expected an error for mutable state without node_initialize")
	}
	kind, ok := errlist.Of(err)
	if !ok || kind != errlist.InvalidPluginSignature {
		t.Fatalf("errlist.Of(err) = (%v, %v), want (InvalidPluginSignature, true)", kind, ok)
	}
}

func TestCreateNodeEmitsCallSequence(t *testing.T) {
	p, err := Load(gainModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	node := p.CreateNode("gain")
	if node.InputCount() != 1 || node.OutputCount() != 1 {
		t.Fatalf("got (%d,%d) ports, want (1,1)", node.InputCount(), node.OutputCount())
	}

	host := ir.NewModule("host")
	if err := host.Link(p.Module()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fn := host.NewFunction("f", []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	c := compiler.New(b, fn.Arg(0), state.NewManager(1, 1, nil))

	v, err := c.NodeValue(node, 0)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	load, ok := v.(*ir.Instr)
	if !ok || load.Op != ir.OpLoad {
		t.Fatalf("expected the resolved output to be a load, got %v", v)
	}

	var sawCall, sawAlloca bool
	for _, in := range fn.Blocks[0].Instrs {
		switch in.Op {
		case ir.OpCall:
			sawCall = true
			if len(in.Operands) != 2 {
				t.Fatalf("expected 2 call args (in0, out0-ptr), got %d", len(in.Operands))
			}
		case ir.OpAlloca:
			sawAlloca = true
		}
	}
	if !sawCall {
		t.Fatal("expected a call instruction to the plugin's mangled symbol")
	}
	if !sawAlloca {
		t.Fatal("expected an alloca reserving the output's out-argument slot")
	}
}

func TestCreateNodeWithMutableStatePassesStatePointer(t *testing.T) {
	p, err := Load(statefulModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	node := p.CreateNode("accum")

	host := ir.NewModule("host")
	if err := host.Link(p.Module()); err != nil {
		t.Fatalf("Link: %v", err)
	}
	fn := host.NewFunction("f", []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	c := compiler.New(b, fn.Arg(0), state.NewManager(1, 1, nil))

	if _, err := c.NodeValue(node, 0); err != nil {
		t.Fatalf("NodeValue: %v", err)
	}

	var call *ir.Instr
	for _, in := range fn.Blocks[0].Instrs {
		if in.Op == ir.OpCall {
			call = in
		}
	}
	if call == nil {
		t.Fatal("expected a call instruction")
	}
	if len(call.Operands) != 3 {
		t.Fatalf("expected 3 call args (state, in0, out0-ptr), got %d", len(call.Operands))
	}
}

func TestCreateNodeMissingSymbolInHostModule(t *testing.T) {
	p, err := Load(gainModule())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	node := p.CreateNode("gain")

	// Deliberately skip linking p.Module() into the host module.
	m := ir.NewModule("host")
	fn := m.NewFunction("f", []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	c := compiler.New(b, fn.Arg(0), state.NewManager(1, 1, nil))

	_, err = c.NodeValue(node, 0)
	if err == nil {
		t.Fatal("expected an error when the plugin symbol isn't linked into the compiled module")
	}
	kind, ok := errlist.Of(err)
	if !ok || kind != errlist.MissingSymbolInModule {
		t.Fatalf("errlist.Of(err) = (%v, %v), want (MissingSymbolInModule, true)", kind, ok)
	}
}
