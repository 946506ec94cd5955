package engine

import (
	"unsafe"

	"github.com/aliefhooghe/dspjit/ir"
)

// rtVal is the interpreter's runtime representation of an ir.Value: exactly
// one of F/I/Ptr is meaningful, selected by Kind. Pointer values carry their
// pointee type (Elem) so GEP/Load/Store know the step size and the
// interpretation of the bytes at Ptr.
type rtVal struct {
	Kind ir.Kind
	F    float32
	I    int64
	Ptr  unsafe.Pointer
	Elem ir.Type
}

func zeroF32() rtVal { return rtVal{Kind: ir.F32} }

// floatSliceAddr returns the address of s's backing array as a raw pointer
// — the bridge between a Go []float32 (the process ABI's inputs/
// outputs arrays, spec.md §6) and the raw addresses the IR operates on. An
// empty slice yields a null pointer, which is never dereferenced because the
// compiler always sizes the array to the declared port count.
func floatSliceAddr(s []float32) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

// BytesAddr returns the address of b's backing array, or nil for an empty
// slice. Used by the state package to bake mutable-state/cycle-state/static-
// memory buffer addresses into IR as ConstPtr/ConstInt values (spec.md §4.4).
func BytesAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// Float32Addr returns the address of f's backing array, or 0 for an empty
// slice. Used for the cycle-state column base address.
func Float32Addr(f []float32) uintptr {
	if len(f) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&f[0]))
}
