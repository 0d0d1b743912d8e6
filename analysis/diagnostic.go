package analysis

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasmflow/errors"
)

// NoFunction marks a diagnostic that is not tied to one function.
const NoFunction int64 = -1

// Diagnostic is one failure that Load isolated instead of aborting.
type Diagnostic struct {
	Err     error
	Kind    errors.Kind
	Section string
	// Function is the combined function index, or NoFunction.
	Function int64
	// Offset is the absolute byte offset, or errors.NoOffset.
	Offset int64
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	if d.Section != "" {
		fmt.Fprintf(&b, " section=%s", d.Section)
	}
	if d.Function != NoFunction {
		fmt.Fprintf(&b, " func=%d", d.Function)
	}
	if d.Offset >= 0 {
		fmt.Fprintf(&b, " offset=0x%x", d.Offset)
	}
	fmt.Fprintf(&b, ": %v", d.Err)
	return b.String()
}

// diagnose converts an isolated error. Code-section errors that carry the
// body number are attributed to the defined function at that position.
func diagnose(err error, numImported uint32) Diagnostic {
	d := Diagnostic{
		Err:      err,
		Function: NoFunction,
		Offset:   errors.NoOffset,
	}
	e, ok := errors.As(err)
	if !ok {
		d.Kind = errors.KindMalformedModule
		return d
	}
	d.Kind = e.Kind
	d.Section = e.Section
	d.Offset = e.Offset
	if body, ok := e.Value.(int); ok && e.Section == "code" {
		d.Function = int64(numImported) + int64(body)
	}
	return d
}

// functionDiagnostic records a decode or resolve failure of one function.
func functionDiagnostic(err error, funcIdx uint32) Diagnostic {
	d := diagnose(err, 0)
	d.Section = "code"
	d.Function = int64(funcIdx)
	return d
}
