package ir

import "fmt"

// Builder emits instructions into a function's entry block, the Go analogue
// of llvm::IRBuilder<>. The graph compiler holds exactly one Builder per
// compiled function.
type Builder struct {
	fn *Function
}

// NewBuilder returns a Builder that appends to fn's entry block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

// Func returns the function being built.
func (b *Builder) Func() *Function { return b.fn }

func (b *Builder) emit(op Op, resTy Type, operands ...Value) *Instr {
	bb := b.fn.Entry()
	in := &Instr{
		Block:    bb,
		Index:    len(bb.Instrs),
		Op:       op,
		ResTy:    resTy,
		Operands: operands,
	}
	bb.Instrs = append(bb.Instrs, in)
	return in
}

// ConstF32 returns a literal f32 value.
func (b *Builder) ConstF32(v float32) Value { return ConstFloat{Val: v} }

// Zero returns the canonical f32 zero, used whenever a node resolves a
// disconnected input or output (§4.3).
func (b *Builder) Zero() Value { return ConstFloat{Val: 0} }

// ConstI64 returns a literal i64 value.
func (b *Builder) ConstI64(v int64) Value { return ConstInt{Val: v} }

// CreateFAdd emits a float add.
func (b *Builder) CreateFAdd(lhs, rhs Value) Value { return b.emit(OpFAdd, F32Type, lhs, rhs) }

// CreateFSub emits a float subtract.
func (b *Builder) CreateFSub(lhs, rhs Value) Value { return b.emit(OpFSub, F32Type, lhs, rhs) }

// CreateFMul emits a float multiply.
func (b *Builder) CreateFMul(lhs, rhs Value) Value { return b.emit(OpFMul, F32Type, lhs, rhs) }

// CreateFDiv emits a float divide.
func (b *Builder) CreateFDiv(lhs, rhs Value) Value { return b.emit(OpFDiv, F32Type, lhs, rhs) }

// CreateFNeg emits a float negation.
func (b *Builder) CreateFNeg(v Value) Value { return b.emit(OpFNeg, F32Type, v) }

// CreateLoad emits a load of the given pointer, whose result type is the
// pointer's pointee.
func (b *Builder) CreateLoad(ptr Value) Value {
	pt := ptr.Type()
	if pt.Kind != Ptr || pt.Elem == nil {
		panic(fmt.Sprintf("ir: CreateLoad: operand is not a pointer (got %s)", pt))
	}
	return b.emit(OpLoad, *pt.Elem, ptr)
}

// CreateStore emits a store of val into the address held by ptr.
func (b *Builder) CreateStore(val, ptr Value) {
	b.emit(OpStore, VoidType, val, ptr)
}

// CreateGEP computes ptr + index*sizeof(elem-of-ptr), mirroring LLVM's
// getelementptr used to index into the flat inputs/outputs arrays (§6) and
// into per-instance state/cycle-state columns (§4.4).
func (b *Builder) CreateGEP(ptr Value, index Value) Value {
	pt := ptr.Type()
	if pt.Kind != Ptr {
		panic("ir: CreateGEP: base operand is not a pointer")
	}
	return b.emit(OpGEP, pt, ptr, index)
}

// CreateIntToPtr reinterprets an i64 address as a pointer to elem. The state
// manager and reference nodes do not use it: they bake raw buffer addresses
// into IR as ConstPtr literals.
func (b *Builder) CreateIntToPtr(addr Value, elem Type) Value {
	return b.emit(OpIntToPtr, PtrTo(elem), addr)
}

// CreateBitCast reinterprets ptr as pointing to a different element type
// without changing its address, used to cast a plugin's mutable-state/static
// memory pointer to the exact parameter type at the call site (§4.6) and to
// cast an opaque per-node state pointer down to float* (nodes.Delay).
func (b *Builder) CreateBitCast(ptr Value, elem Type) Value {
	pt := ptr.Type()
	if pt.Kind != Ptr {
		panic("ir: CreateBitCast: operand is not a pointer")
	}
	return b.emit(OpBitCast, PtrTo(elem), ptr)
}

// CreateAlloca reserves a fresh stack slot of the given element type on every
// call and returns a pointer to it, used by the external-plugin node
// emission to pass output arguments by address (§9 "Out-argument outputs
// from plugins").
func (b *Builder) CreateAlloca(elem Type) Value {
	return b.emit(OpAlloca, PtrTo(elem))
}

// CreateCall emits a call to fn with the given arguments. If fn's return type
// is Void, the returned Value has Void type and should not be used as an
// operand.
func (b *Builder) CreateCall(fn *Function, args ...Value) Value {
	in := b.emit(OpCall, fn.RetType, args...)
	in.Callee = fn
	return in
}

// CreateRetVoid terminates the function.
func (b *Builder) CreateRetVoid() {
	b.emit(OpRetVoid, VoidType)
}
