package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase names the stage of loading that failed.
type Phase string

const (
	PhaseRead    Phase = "read"    // byte cursor
	PhaseParse   Phase = "parse"   // module sections and entries
	PhaseDecode  Phase = "decode"  // instruction immediates
	PhaseResolve Phase = "resolve" // structured control flow
	PhaseLoad    Phase = "load"    // whole-module load pass
	PhaseQuery   Phase = "query"   // read-only lookups after load
)

// Kind is the failure class, stable across messages.
type Kind string

const (
	KindTruncated          Kind = "truncated_input"
	KindMalformedVarint    Kind = "malformed_varint"
	KindMalformedModule    Kind = "malformed_module"
	KindSectionNotFound    Kind = "section_not_found"
	KindUnknownOpcode      Kind = "unknown_opcode"
	KindInvalidBranchDepth Kind = "invalid_branch_depth"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
)

// NoOffset marks an error that has no byte location.
const NoOffset int64 = -1

// Error is the structured error type used throughout the module.
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Section string
	Detail  string
	Offset  int64
}

// Error renders "[phase] kind in S section at offset 0x..: detail (caused by: ..)".
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Section != "" {
		b.WriteString(" in ")
		b.WriteString(e.Section)
		b.WriteString(" section")
	}

	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset 0x%x", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder assembles an *Error field by field.
type Builder struct {
	err Error
}

// New starts an error of the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: NoOffset,
		},
	}
}

// Section sets the section name
func (b *Builder) Section(name string) *Builder {
	b.err.Section = name
	return b
}

// At sets the absolute byte offset
func (b *Builder) At(offset int64) *Builder {
	b.err.Offset = offset
	return b
}

// Value records the offending value, such as a depth or index.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause attaches the wrapped error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail formats the message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build finishes the error.
func (b *Builder) Build() *Error {
	return &b.err
}

// BranchDepth is the Value of an invalid_branch_depth error.
type BranchDepth struct {
	Address    uint32
	Depth      uint32
	StackDepth uint32
}

// Truncated creates an error for a read past the end of the buffer.
func Truncated(offset int64, need, have int) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindTruncated,
		Offset: offset,
		Detail: fmt.Sprintf("need %d bytes, %d available", need, have),
		Value:  need,
	}
}

// MalformedVarint creates an error for a LEB128 value wider than bits.
func MalformedVarint(offset int64, bits int) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindMalformedVarint,
		Offset: offset,
		Detail: fmt.Sprintf("varint exceeds %d bits", bits),
		Value:  bits,
	}
}

// MalformedModule creates a structural corruption error for one section.
func MalformedModule(section string, offset int64, cause error) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindMalformedModule,
		Section: section,
		Offset:  offset,
		Cause:   cause,
	}
}

// Malformedf creates a structural corruption error with a formatted detail.
func Malformedf(section string, offset int64, format string, args ...any) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindMalformedModule,
		Section: section,
		Offset:  offset,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// SectionNotFound creates an error for an absent section.
func SectionNotFound(section string) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindSectionNotFound,
		Section: section,
		Offset:  NoOffset,
		Detail:  "section not found",
	}
}

// UnknownOpcode creates an error for an opcode byte missing from the opcode table.
func UnknownOpcode(op byte, address uint32) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnknownOpcode,
		Offset: int64(address),
		Detail: fmt.Sprintf("unknown opcode 0x%02x", op),
		Value:  op,
	}
}

// InvalidBranchDepth creates an error for a relative depth outside the open scopes.
func InvalidBranchDepth(address, depth, stackDepth uint32) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindInvalidBranchDepth,
		Offset: int64(address),
		Detail: fmt.Sprintf("relative depth %d with %d enclosing scopes", depth, stackDepth),
		Value:  BranchDepth{Address: address, Depth: depth, StackDepth: stackDepth},
	}
}

// NotFound reports a lookup miss for what=key.
func NotFound(phase Phase, what string, key any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Offset: NoOffset,
		Detail: fmt.Sprintf("%s %v not found", what, key),
		Value:  key,
	}
}

// InvalidInput reports a caller-supplied value that cannot be used.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Offset: NoOffset,
		Detail: detail,
	}
}

// Wrap classifies cause under phase and kind.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Offset: NoOffset,
		Detail: detail,
		Cause:  cause,
	}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any *Error in err's chain has the given kind, regardless of phase.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
