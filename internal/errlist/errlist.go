// Package errlist defines the typed error kinds surfaced across every
// compile-thread operation, mirroring the coded-error registry the teacher's
// compiler front end keeps (internal/errors). Instead of a flat string code
// table keyed by category, DSPJIT has a small fixed set of structural
// failure kinds (spec.md §7); every one of them is a distinct Kind here so
// callers can switch on it with errors.As instead of string matching.
package errlist

import "fmt"

// Kind identifies one of DSPJIT's structural error conditions.
type Kind int

const (
	// InvalidArity: a node was asked to connect/disconnect a port index
	// outside its declared input/output count.
	InvalidArity Kind = iota
	// InvalidPluginSignature: an external plugin module exposes a compute
	// function whose parameter list doesn't match any recognised shape.
	InvalidPluginSignature
	// DuplicatePluginCompute: an external plugin module declares more than
	// one function that qualifies as its compute entry point.
	DuplicatePluginCompute
	// NoStaticChunk: a node declared UseStaticMemory but no static memory
	// chunk was registered for it before compilation.
	NoStaticChunk
	// IrVerifierFailed: ir.Module.Verify rejected a freshly compiled module.
	IrVerifierFailed
	// BackendCodegenFailed: the execution engine could not emit callable
	// code for a verified module.
	BackendCodegenFailed
	// QueueFull: a compile-thread/audio-thread handoff queue rejected a
	// push because the consumer hasn't drained it in time.
	QueueFull
	// MissingSymbolInModule: a call or plugin reference named a function
	// that the target module doesn't define.
	MissingSymbolInModule
)

func (k Kind) String() string {
	switch k {
	case InvalidArity:
		return "invalid_arity"
	case InvalidPluginSignature:
		return "invalid_plugin_signature"
	case DuplicatePluginCompute:
		return "duplicate_plugin_compute"
	case NoStaticChunk:
		return "no_static_chunk"
	case IrVerifierFailed:
		return "ir_verifier_failed"
	case BackendCodegenFailed:
		return "backend_codegen_failed"
	case QueueFull:
		return "queue_full"
	case MissingSymbolInModule:
		return "missing_symbol_in_module"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error with a human-readable message and, where
// relevant, the identifier of the offending node, plugin symbol, or queue.
type Error struct {
	Kind    Kind
	Subject string // node name, symbol, queue name — empty when not applicable
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("dspjit: %s: %s: %s", e.Kind, e.Subject, e.Msg)
	}
	return fmt.Sprintf("dspjit: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errlist.New(errlist.QueueFull, "", "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New constructs an *Error with the given kind, subject and message.
func New(kind Kind, subject, msg string) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: msg}
}

// Wrap constructs an *Error that chains cause via Unwrap.
func Wrap(kind Kind, subject, msg string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: msg, Cause: cause}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
