package context

import (
	"testing"

	"github.com/aliefhooghe/dspjit/engine"
	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/nodes"
)

// benchGraph is one of the small graphs benchmark.cpp times: its inputs,
// outputs and expected input-array width.
type benchGraph struct {
	inputs, outputs []*graphmodel.Node
	width           int
}

func dereferenceGraph() benchGraph {
	x := float32(42)
	ref := nodes.NewReference("x", &x)
	out := outNode("out", 1)
	ref.ConnectDefault(out, 0)
	return benchGraph{inputs: nil, outputs: []*graphmodel.Node{out}, width: 0}
}

func add1Graph() benchGraph {
	in1, in2 := inNode("in1", 1), inNode("in2", 1)
	add := nodes.NewAdd("add")
	out := outNode("out", 1)
	in1.ConnectDefault(add, 0)
	in2.ConnectDefault(add, 1)
	add.ConnectDefault(out, 0)
	return benchGraph{inputs: []*graphmodel.Node{in1, in2}, outputs: []*graphmodel.Node{out}, width: 2}
}

func affineGraph() benchGraph {
	in1, in2, in3 := inNode("in1", 1), inNode("in2", 1), inNode("in3", 1)
	mul := nodes.NewMul("mul")
	add := nodes.NewAdd("add")
	out := outNode("out", 1)
	in1.ConnectDefault(mul, 0)
	in2.ConnectDefault(mul, 1)
	mul.ConnectDefault(add, 0)
	in3.ConnectDefault(add, 1)
	add.ConnectDefault(out, 0)
	return benchGraph{inputs: []*graphmodel.Node{in1, in2, in3}, outputs: []*graphmodel.Node{out}, width: 3}
}

func integratorGraph() benchGraph {
	in := inNode("in", 1)
	add := nodes.NewAdd("add")
	out := outNode("out", 1)
	in.ConnectDefault(add, 0)
	add.Connect(0, add, 1)
	add.ConnectDefault(out, 0)
	return benchGraph{inputs: []*graphmodel.Node{in}, outputs: []*graphmodel.Node{out}, width: 1}
}

// BenchmarkProcess times steady-state Process calls against a compiled,
// already-updated program, the Go equivalent of benchmark.cpp's *_jit cases.
func BenchmarkProcess(b *testing.B) {
	graphs := map[string]func() benchGraph{
		"dereference": dereferenceGraph,
		"add1":        add1Graph,
		"affine":      affineGraph,
		"integrator":  integratorGraph,
	}
	for name, build := range graphs {
		b.Run(name, func(b *testing.B) {
			g := build()
			c := newTestContext(1)
			if err := c.Compile(g.inputs, g.outputs); err != nil {
				b.Fatalf("Compile: %v", err)
			}
			if !c.UpdateProgram() {
				b.Fatal("expected UpdateProgram to install the compiled program")
			}

			in := make([]float32, g.width)
			out := make([]float32, 1)
			for i := range in {
				in[i] = float32(i + 1)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				c.Process(0, in, out)
			}
		})
	}
}

// BenchmarkCompile times one-shot Compile latency, the Go equivalent of
// benchmark.cpp's compile-time cost (the original only benchmarks process();
// compile cost isn't timed by any *_jit case there, so this supplements it
// for the same graphs since a JIT's compile latency is the cost a dynamic
// graph never pays).
func BenchmarkCompile(b *testing.B) {
	graphs := map[string]func() benchGraph{
		"add1":       add1Graph,
		"affine":     affineGraph,
		"integrator": integratorGraph,
	}
	for name, build := range graphs {
		b.Run(name, func(b *testing.B) {
			b.StopTimer()
			for i := 0; i < b.N; i++ {
				g := build()
				c := New(engine.NewInterpreter(), 1, nil)
				b.StartTimer()
				if err := c.Compile(g.inputs, g.outputs); err != nil {
					b.Fatalf("Compile: %v", err)
				}
				b.StopTimer()
			}
		})
	}
}
