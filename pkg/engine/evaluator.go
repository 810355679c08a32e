package engine

// Value is the outcome of one successful evaluation.
type Value struct {
	// Text is the script's result rendered as a string.
	Text string
	// Output is whatever the script printed while it ran.
	Output string
}

// Evaluator is a stateful, non-thread-safe script interpreter. The engine
// guarantees that Eval is only ever called from its worker goroutine, one
// call at a time. HasCapability and Name report fixed configuration and
// must be safe to call from any goroutine.
type Evaluator interface {
	// Eval applies bindings as interpreter variables and runs script.
	// Bindings stay in place after the call.
	Eval(script string, bindings map[string]any) (Value, error)
	// HasCapability reports whether the interpreter exposes a capability
	// such as "file_io" or "procedures".
	HasCapability(name string) bool
	// Name identifies the interpreter, e.g. "lua".
	Name() string
}

// Resetter is implemented by evaluators that can discard user-defined
// state without being rebuilt.
type Resetter interface {
	Reset() error
}

// Capability names reported by Info.
const (
	CapSafeSubset = "safe_subset"
	CapString     = "string"
	CapMath       = "math"
	CapTable      = "table"
	CapFileIO     = "file_io"
	CapOS         = "os"
	CapProcedures = "procedures"
	CapGlobals    = "globals"
)

// KnownCapabilities lists every capability Info probes for.
var KnownCapabilities = []string{
	CapSafeSubset,
	CapString,
	CapMath,
	CapTable,
	CapFileIO,
	CapOS,
	CapProcedures,
	CapGlobals,
}
