package composite

import (
	"testing"

	"github.com/aliefhooghe/dspjit/compiler"
	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
	"github.com/aliefhooghe/dspjit/nodes"
	"github.com/aliefhooghe/dspjit/state"
)

func newFunc(name string) (*ir.Builder, ir.Value) {
	m := ir.NewModule("test")
	fn := m.NewFunction(name, []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	return ir.NewBuilder(fn), fn.Arg(0)
}

// TestCompositeWrapsAdderTransparently builds a two-input, one-output
// composite whose subgraph is a single add_node, and checks that resolving
// the composite's output from outside produces exactly the add instruction
// the subgraph would produce on its own.
func TestCompositeWrapsAdderTransparently(t *testing.T) {
	comp := New("sum", 2, 1)
	add := nodes.NewAdd("add")

	if err := Input(comp).Connect(0, add, 0); err != nil {
		t.Fatalf("connect input0->add: %v", err)
	}
	if err := Input(comp).Connect(1, add, 1); err != nil {
		t.Fatalf("connect input1->add: %v", err)
	}
	if err := add.ConnectDefault(Output(comp), 0); err != nil {
		t.Fatalf("connect add->output0: %v", err)
	}

	c1 := nodes.NewConstant("c1", 2)
	c2 := nodes.NewConstant("c2", 3)
	if err := c1.ConnectDefault(comp, 0); err != nil {
		t.Fatal(err)
	}
	if err := c2.ConnectDefault(comp, 1); err != nil {
		t.Fatal(err)
	}

	b, inst := newFunc("f")
	cc := compiler.New(b, inst, state.NewManager(1, 1, nil))

	v, err := cc.NodeValue(comp, 0)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	instr, ok := v.(*ir.Instr)
	if !ok || instr.Op != ir.OpFAdd {
		t.Fatalf("expected the composite's output to resolve straight to an fadd, got %v", v)
	}
	if _, ok := instr.Operands[0].(ir.ConstFloat); !ok {
		t.Fatalf("expected the composite's outer input to reach the inner add as a resolved constant, got %T", instr.Operands[0])
	}
}

// TestCompositeHidesInnerDelayCycleState checks that a one-sample delay
// living entirely inside a composite's subgraph still avoids a cycle-state
// cell, the same way it would if it weren't wrapped in a composite: the
// composite boundary must not force a cycle-state allocation of its own.
func TestCompositeHidesInnerDelayCycleState(t *testing.T) {
	comp := New("feedback", 1, 1)
	delay := nodes.NewDelay("d")
	add := nodes.NewAdd("add")

	if err := Input(comp).Connect(0, add, 0); err != nil {
		t.Fatal(err)
	}
	if err := delay.Connect(0, add, 1); err != nil {
		t.Fatal(err)
	}
	if err := add.Connect(0, delay, 0); err != nil {
		t.Fatal(err)
	}
	if err := add.ConnectDefault(Output(comp), 0); err != nil {
		t.Fatal(err)
	}

	outer := graphmodel.New("sink", 1, 1, passSpec{graphmodel.Base{Dependant: true}})
	if err := comp.ConnectDefault(outer, 0); err != nil {
		t.Fatal(err)
	}

	b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	cc := compiler.New(b, inst, mgr)

	if _, err := cc.NodeValue(outer, 0); err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	if err := cc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if mgr.UsedCycleCount() != 0 {
		t.Fatalf("expected the composite boundary to stay transparent to the inner delay's cycle-breaking, got %d cycle cells", mgr.UsedCycleCount())
	}
}

// TestAddInputPropagatesToSentinel checks that growing a composite's outer
// arity grows its sentinel input node's arity to match.
func TestAddInputPropagatesToSentinel(t *testing.T) {
	comp := New("grow", 1, 1)
	AddInput(comp)
	if comp.InputCount() != 2 {
		t.Fatalf("outer input count = %d, want 2", comp.InputCount())
	}
	if Input(comp).OutputCount() != 2 {
		t.Fatalf("sentinel input output count = %d, want 2", Input(comp).OutputCount())
	}
}

// TestAddOutputPropagatesToSentinel mirrors TestAddInputPropagatesToSentinel
// for the output side.
func TestAddOutputPropagatesToSentinel(t *testing.T) {
	comp := New("grow", 1, 1)
	AddOutput(comp)
	if comp.OutputCount() != 2 {
		t.Fatalf("outer output count = %d, want 2", comp.OutputCount())
	}
	if Output(comp).InputCount() != 2 {
		t.Fatalf("sentinel output input count = %d, want 2", Output(comp).InputCount())
	}
}

// passSpec forwards its single input straight through, used as a plain
// dependant-process sink downstream of a composite node under test.
type passSpec struct{ graphmodel.Base }

func (passSpec) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{in[0]}, nil
}

var _ graphmodel.ProcessSpec = passSpec{}
