package ir

import (
	"fmt"
	"io"
	"sort"

	"github.com/segmentio/encoding/json"
)

// Global is a named f32 global, declared via Context.SetGlobalConstant
// (§9 supplemented feature: add_library_module / set_global_constant). It is
// copied along by Clone and Link; no instruction reads it, and
// nodes.Reference does not resolve globals by name.
type Global struct {
	Name string
	Val  float32
}

// Module is a self-contained unit of IR: a named function table plus a set of
// named float globals. A fresh Module is created for every compilation
// (spec.md §4.8 step 3) and the context's standing "library" module is cloned
// into it before the graph is compiled.
type Module struct {
	Name      string
	Functions map[string]*Function
	Globals   map[string]*Global
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		Functions: make(map[string]*Function),
		Globals:   make(map[string]*Global),
	}
}

// NewFunction declares a function with the given signature. If isDeclaration
// is false, its entry block is created immediately.
func (m *Module) NewFunction(name string, params []Param, retType Type, linkage Linkage, isDeclaration bool) *Function {
	fn := &Function{
		Module:      m,
		Name:        name,
		Params:      params,
		RetType:     retType,
		Linkage:     linkage,
		Declaration: isDeclaration,
	}
	if !isDeclaration {
		fn.Entry()
	}
	m.Functions[name] = fn
	return fn
}

// Func looks up a function by name.
func (m *Module) Func(name string) *Function {
	return m.Functions[name]
}

// SetGlobal declares or overwrites a named float global.
func (m *Module) SetGlobal(name string, val float32) {
	m.Globals[name] = &Global{Name: name, Val: val}
}

// Global looks up a named global, returning (nil, false) if absent.
func (m *Module) Global(name string) (*Global, bool) {
	g, ok := m.Globals[name]
	return g, ok
}

// Clone produces a deep, independent copy of m — the Go analogue of
// llvm::CloneModule, used to splice a standing library module into every
// freshly compiled module without the two sharing mutable state.
func (m *Module) Clone() *Module {
	out := NewModule(m.Name)
	for name, g := range m.Globals {
		gv := *g
		out.Globals[name] = &gv
	}
	// First pass: create every function shell so call instructions in any
	// function can be rewired to the corresponding clone regardless of
	// iteration order.
	clones := make(map[*Function]*Function, len(m.Functions))
	for name, fn := range m.Functions {
		clone := out.NewFunction(name, append([]Param(nil), fn.Params...), fn.RetType, fn.Linkage, fn.Declaration)
		clone.Blocks = nil // NewFunction pre-creates an empty entry block; the second pass below fills real ones
		clones[fn] = clone
	}

	for _, fn := range m.Functions {
		clone := clones[fn]
		for _, bb := range fn.Blocks {
			cbb := &BasicBlock{Fn: clone, Name: bb.Name}
			remap := make(map[*Instr]*Instr, len(bb.Instrs))
			for _, in := range bb.Instrs {
				ci := &Instr{
					Block:    cbb,
					Index:    in.Index,
					Op:       in.Op,
					ResTy:    in.ResTy,
					Callee:   clones[in.Callee],
					name:     in.name,
					Operands: make([]Value, len(in.Operands)),
				}
				for i, op := range in.Operands {
					if srcInstr, ok := op.(*Instr); ok {
						if mapped, ok := remap[srcInstr]; ok {
							ci.Operands[i] = mapped
							continue
						}
					}
					ci.Operands[i] = op
				}
				remap[in] = ci
				cbb.Instrs = append(cbb.Instrs, ci)
			}
			clone.Blocks = append(clone.Blocks, cbb)
		}
	}
	return out
}

// Link merges other's functions and globals into m, the Go analogue of
// llvm::Linker::linkModules. Used both for the standing library module and
// for splicing in a mangled external-plugin module. Name collisions on
// functions are an error: the caller (external plugin loader) is responsible
// for mangling symbols into a collision-free per-plugin namespace first.
func (m *Module) Link(other *Module) error {
	for name, g := range other.Globals {
		if _, exists := m.Globals[name]; !exists {
			gv := *g
			m.Globals[name] = &gv
		}
	}
	cloned := other.Clone()
	for name, fn := range cloned.Functions {
		if _, exists := m.Functions[name]; exists {
			return fmt.Errorf("ir: link: duplicate symbol %q", name)
		}
		fn.Module = m
		m.Functions[name] = fn
	}
	return nil
}

// DemoteNonExported sets every function not named in keep to Internal
// linkage, the Go analogue of spec.md §4.8 step 6. It only changes Linkage:
// no dead-code elimination pass runs afterwards in this port, so unused
// internal functions stay in the module.
func (m *Module) DemoteNonExported(keep map[string]bool) {
	for name, fn := range m.Functions {
		if !keep[name] {
			fn.Linkage = Internal
		}
	}
}

// Verify performs a conservative structural check of every non-declaration
// function in the module: every block must be non-empty and terminated, and
// every operand referencing another instruction must belong to the same
// function (straight-line IR has no cross-block or forward references).
// A non-nil error corresponds to spec.md §7's IrVerifierFailed.
func (m *Module) Verify() error {
	for name, fn := range m.Functions {
		if fn.Declaration {
			continue
		}
		if len(fn.Blocks) != 1 {
			return fmt.Errorf("ir: verify: function %q must have exactly one basic block, has %d", name, len(fn.Blocks))
		}
		bb := fn.Blocks[0]
		if len(bb.Instrs) == 0 {
			return fmt.Errorf("ir: verify: function %q has an empty block", name)
		}
		if !fn.IsTerminated() {
			return fmt.Errorf("ir: verify: function %q is not terminated with ret", name)
		}
		seen := make(map[*Instr]bool, len(bb.Instrs))
		for idx, in := range bb.Instrs {
			if in.Op == OpRetVoid && idx != len(bb.Instrs)-1 {
				return fmt.Errorf("ir: verify: function %q has instructions after ret", name)
			}
			for _, op := range in.Operands {
				if operandInstr, ok := op.(*Instr); ok {
					if operandInstr.Block != bb {
						return fmt.Errorf("ir: verify: function %q references an instruction outside its block", name)
					}
					if !seen[operandInstr] {
						return fmt.Errorf("ir: verify: function %q uses an instruction before it is defined", name)
					}
				}
			}
			seen[in] = true
		}
	}
	return nil
}

// Dump writes a human-readable disassembly of every function to w. The
// context's enable_ir_dump option logs DumpJSON's form, not this one.
func (m *Module) Dump(w io.Writer) {
	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := m.Functions[name]
		linkage := "external"
		if fn.Linkage == Internal {
			linkage = "internal"
		}
		fmt.Fprintf(w, "%s function %s(", linkage, fn.Name)
		for i, p := range fn.Params {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%s %s", p.Type, p.Name)
		}
		fmt.Fprintf(w, ") %s {\n", fn.RetType)
		if fn.Declaration {
			fmt.Fprint(w, "  ; declaration\n}\n")
			continue
		}
		for _, bb := range fn.Blocks {
			for _, in := range bb.Instrs {
				if in.ResTy.Kind == Void {
					fmt.Fprintf(w, "  %s", in.Op)
				} else {
					fmt.Fprintf(w, "  %s = %s", in, in.Op)
				}
				for _, op := range in.Operands {
					fmt.Fprintf(w, " %s", op)
				}
				fmt.Fprint(w, "\n")
			}
		}
		fmt.Fprint(w, "}\n")
	}
}

// moduleDump is the JSON-friendly snapshot produced by DumpJSON.
type moduleDump struct {
	Name      string           `json:"name"`
	Functions []functionDump   `json:"functions"`
	Globals   map[string]float32 `json:"globals"`
}

type functionDump struct {
	Name        string   `json:"name"`
	Linkage     string   `json:"linkage"`
	Declaration bool     `json:"declaration"`
	ParamTypes  []string `json:"param_types"`
	RetType     string   `json:"ret_type"`
	Body        []string `json:"body,omitempty"`
}

// DumpJSON renders the module as structured JSON using segmentio/encoding's
// faster drop-in json.Marshal. This is the form the context logs when
// enable_ir_dump is set (§6).
func (m *Module) DumpJSON() ([]byte, error) {
	dump := moduleDump{Name: m.Name, Globals: make(map[string]float32, len(m.Globals))}
	for name, g := range m.Globals {
		dump.Globals[name] = g.Val
	}
	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := m.Functions[name]
		fd := functionDump{Name: fn.Name, RetType: fn.RetType.String(), Declaration: fn.Declaration}
		if fn.Linkage == Internal {
			fd.Linkage = "internal"
		} else {
			fd.Linkage = "external"
		}
		for _, p := range fn.Params {
			fd.ParamTypes = append(fd.ParamTypes, p.Type.String())
		}
		for _, bb := range fn.Blocks {
			for _, in := range bb.Instrs {
				fd.Body = append(fd.Body, fmt.Sprintf("%s %s", in.Op, in))
			}
		}
		dump.Functions = append(dump.Functions, fd)
	}
	return json.Marshal(dump)
}
