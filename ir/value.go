package ir

import "strconv"

// Value is anything that can be used as an operand: a constant, a function
// argument, or the result of a previously emitted instruction.
type Value interface {
	Type() Type
	String() string
}

// ConstFloat is a literal f32, e.g. the zero produced whenever a compiler
// resolves an unconnected input (§4.3) or a constant_node (§9 common nodes).
type ConstFloat struct {
	Val float32
}

func (c ConstFloat) Type() Type     { return F32Type }
func (c ConstFloat) String() string { return strconv.FormatFloat(float64(c.Val), 'g', -1, 32) }

// ConstInt is a literal i64, used for baked buffer base addresses (§4.4) and
// array indices.
type ConstInt struct {
	Val int64
}

func (c ConstInt) Type() Type     { return I64Type }
func (c ConstInt) String() string { return strconv.FormatInt(c.Val, 10) }

// ConstPtr is a literal address of a given pointee type, built directly
// rather than through an IntToPtr instruction. It is how the state manager bakes a mutable-state or cycle-state
// buffer's address into the module (§4.4 "Node address of state").
type ConstPtr struct {
	Addr uintptr
	Elem Type
}

func (c ConstPtr) Type() Type     { return PtrTo(c.Elem) }
func (c ConstPtr) String() string { return "ptr" }

// Arg is a reference to one of the enclosing Function's parameters.
type Arg struct {
	Fn    *Function
	Index int
}

func (a Arg) Type() Type     { return a.Fn.Params[a.Index].Type }
func (a Arg) String() string { return a.Fn.Params[a.Index].Name }
