// dspjitdemo exercises a graph execution context end to end: build a small
// graph, compile it, drain the compile_done message, and run a handful of
// process() calls against the result, the Go equivalent of running one of
// benchmark.cpp's graphs by hand instead of under a timer.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/aliefhooghe/dspjit/config"
	dspjitcontext "github.com/aliefhooghe/dspjit/context"
	"github.com/aliefhooghe/dspjit/engine"
	"github.com/aliefhooghe/dspjit/graphmodel"
	"github.com/aliefhooghe/dspjit/nodes"
)

var (
	configPath = flag.String("config", "", "path to a dspjit.toml configuration file")
	dumpIR     = flag.Bool("dump-ir", false, "enable_ir_dump regardless of the config file")
	steps      = flag.Int("steps", 4, "number of process() calls to run")
	graphName  = flag.String("graph", "integrator", "one of: passthrough, add1, integrator")
)

func main() {
	flag.Parse()

	cfg := config.GenerateDefault()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dspjitdemo: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dumpIR {
		cfg.EnableIRDump = true
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dspjitdemo: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	inputs, outputs, width, err := buildGraph(*graphName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dspjitdemo: %v\n", err)
		os.Exit(1)
	}

	ctx := dspjitcontext.New(engine.NewInterpreter(), cfg.InstanceCount, logger)
	ctx.EnableIRDump(cfg.EnableIRDump)

	if err := ctx.Compile(inputs, outputs); err != nil {
		fmt.Fprintf(os.Stderr, "dspjitdemo: compile: %v\n", err)
		os.Exit(1)
	}
	if !ctx.UpdateProgram() {
		fmt.Fprintln(os.Stderr, "dspjitdemo: compile_done queue was empty right after compile")
		os.Exit(1)
	}

	in := make([]float32, width)
	out := make([]float32, 1)
	for i := 0; i < *steps; i++ {
		for j := range in {
			in[j] = 1.0
		}
		ctx.Process(0, in, out)
		fmt.Printf("step %d: %v -> %v\n", i, in, out)
	}
}

// buildGraph returns one of a handful of canned graphs, the Go analogue of
// picking a benchmark.cpp case by name.
func buildGraph(name string) (inputs, outputs []*graphmodel.Node, width int, err error) {
	switch name {
	case "passthrough":
		in := graphmodel.New("in", 0, 1, graphmodel.Base{})
		out := graphmodel.New("out", 1, 0, graphmodel.Base{})
		if err := in.ConnectDefault(out, 0); err != nil {
			return nil, nil, 0, err
		}
		return []*graphmodel.Node{in}, []*graphmodel.Node{out}, 1, nil

	case "add1":
		in1 := graphmodel.New("in1", 0, 1, graphmodel.Base{})
		in2 := graphmodel.New("in2", 0, 1, graphmodel.Base{})
		add := nodes.NewAdd("add")
		out := graphmodel.New("out", 1, 0, graphmodel.Base{})
		if err := in1.ConnectDefault(add, 0); err != nil {
			return nil, nil, 0, err
		}
		if err := in2.ConnectDefault(add, 1); err != nil {
			return nil, nil, 0, err
		}
		if err := add.ConnectDefault(out, 0); err != nil {
			return nil, nil, 0, err
		}
		return []*graphmodel.Node{in1, in2}, []*graphmodel.Node{out}, 2, nil

	case "integrator":
		in := graphmodel.New("in", 0, 1, graphmodel.Base{})
		add := nodes.NewAdd("add")
		out := graphmodel.New("out", 1, 0, graphmodel.Base{})
		if err := in.ConnectDefault(add, 0); err != nil {
			return nil, nil, 0, err
		}
		if err := add.Connect(0, add, 1); err != nil {
			return nil, nil, 0, err
		}
		if err := add.ConnectDefault(out, 0); err != nil {
			return nil, nil, 0, err
		}
		return []*graphmodel.Node{in}, []*graphmodel.Node{out}, 1, nil

	default:
		return nil, nil, 0, fmt.Errorf("unknown graph %q (want passthrough, add1 or integrator)", name)
	}
}
