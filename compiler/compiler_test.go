package compiler

import (
	"testing"

	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/ir"
	"github.com/aliefhooghe/dspjit/state"
)

// addSpec emits a single OpFAdd over its two inputs, grounding the
// dependant-process path of the compiler.
type addSpec struct{ graphmodel.Base }

func newAddSpec() addSpec { return addSpec{graphmodel.Base{Dependant: true}} }

func (addSpec) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{e.Builder().CreateFAdd(in[0], in[1])}, nil
}

// passSpec forwards its single input straight through.
type passSpec struct{ graphmodel.Base }

func newPassSpec() passSpec { return passSpec{graphmodel.Base{Dependant: true}} }

func (passSpec) EmitOutputs(e graphmodel.Emitter, in []ir.Value, _, _ ir.Value) ([]ir.Value, error) {
	return []ir.Value{in[0]}, nil
}

// delaySpec is a non-dependant one-sample delay: it pulls its previous input
// as output, then pushes the current input for next time. Mutable state is
// one f32 slot.
type delaySpec struct {
	graphmodel.Base
}

func newDelaySpec() delaySpec {
	return delaySpec{graphmodel.Base{StateSize: 4, Dependant: false}}
}

func (delaySpec) PullOutput(e graphmodel.Emitter, mutableState, _ ir.Value) ([]ir.Value, error) {
	ptr := e.Builder().CreateBitCast(mutableState, ir.F32Type)
	return []ir.Value{e.Builder().CreateLoad(ptr)}, nil
}

func (delaySpec) PushInput(e graphmodel.Emitter, in []ir.Value, mutableState, _ ir.Value) error {
	ptr := e.Builder().CreateBitCast(mutableState, ir.F32Type)
	e.Builder().CreateStore(in[0], ptr)
	return nil
}

func newFunc(name string) (*ir.Module, *ir.Builder, ir.Value) {
	m := ir.NewModule("test")
	fn := m.NewFunction(name, []ir.Param{{Name: "instance_num", Type: ir.I64Type}}, ir.VoidType, ir.External, false)
	b := ir.NewBuilder(fn)
	return m, b, fn.Arg(0)
}

func TestNodeValueResolvesDisconnectedInputToZero(t *testing.T) {
	n := graphmodel.New("pass", 1, 1, newPassSpec())
	_, b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	c := New(b, inst, mgr)

	v, err := c.NodeValue(n, 0)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	cf, ok := v.(ir.ConstFloat)
	if !ok || cf.Val != 0 {
		t.Fatalf("expected disconnected input to resolve to zero, got %v", v)
	}
}

func TestNodeValueSharesComputationAcrossConsumers(t *testing.T) {
	src := graphmodel.New("pass", 1, 1, newPassSpec())
	sink := graphmodel.New("add", 2, 1, newAddSpec())
	if err := src.Connect(0, sink, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := src.Connect(0, sink, 1); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	c := New(b, inst, mgr)

	v, err := c.NodeValue(sink, 0)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	add, ok := v.(*ir.Instr)
	if !ok || add.Op != ir.OpFAdd {
		t.Fatalf("expected an FAdd instruction, got %v", v)
	}
	if add.Operands[0] != add.Operands[1] {
		t.Fatal("expected both operands to be the same shared node_value for src, not recomputed twice")
	}
}

func TestNonDependantNodeBreaksCycleWithoutCycleState(t *testing.T) {
	delay := graphmodel.New("delay", 1, 1, newDelaySpec())
	add := graphmodel.New("add", 2, 1, newAddSpec())

	// add's second input is fed by delay's output, and delay's input is fed
	// by add's output: a one-node feedback loop through a non-dependant node.
	if err := delay.Connect(0, add, 1); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := add.Connect(0, delay, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	c := New(b, inst, mgr)

	if _, err := c.NodeValue(add, 0); err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	if mgr.UsedCycleCount() != 0 {
		t.Fatalf("expected no cycle-state cell to be allocated through a non-dependant delay, got %d", mgr.UsedCycleCount())
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if mgr.UsedCycleCount() != 0 {
		t.Fatalf("expected Finish's deferred push to still need no cycle-state cell, got %d", mgr.UsedCycleCount())
	}
}

func TestDependantCycleUsesCycleState(t *testing.T) {
	a := graphmodel.New("a", 1, 1, newPassSpec())
	b2 := graphmodel.New("b", 1, 1, newPassSpec())
	if err := a.Connect(0, b2, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b2.Connect(0, a, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	c := New(b, inst, mgr)

	if _, err := c.NodeValue(a, 0); err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	if mgr.UsedCycleCount() == 0 {
		t.Fatal("expected a dependant-process cycle to allocate a cycle-state cell")
	}
}

func TestMissingStaticChunkDegradesToZeroOutput(t *testing.T) {
	n := graphmodel.New("needs_static", 1, 1, graphmodel.Base{StaticMemory: true, Dependant: true})
	_, b, inst := newFunc("f")
	mgr := state.NewManager(1, 1, nil)
	c := New(b, inst, mgr)

	v, err := c.NodeValue(n, 0)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	cf, ok := v.(ir.ConstFloat)
	if !ok || cf.Val != 0 {
		t.Fatalf("expected a node with unregistered static memory to degrade to zero, got %v", v)
	}
}
