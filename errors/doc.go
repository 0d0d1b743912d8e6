// Package errors provides structured error types for wasmflow.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Each Error may carry the section it was found in, an absolute byte offset into the
// module buffer, the offending value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindMalformedModule).
//		Section("code").
//		At(0x1f).
//		Detail("body size %d overruns section", size).
//		Build()
//
// Or use constructors for the error taxonomy:
//
//	err := errors.Truncated(offset, 4, 1)
//	err := errors.UnknownOpcode(0xff, addr)
//	err := errors.InvalidBranchDepth(addr, depth, open)
//
// All errors implement the standard error interface and support errors.Is/As.
// IsKind matches on Kind alone, which is how callers usually branch:
//
//	if errors.IsKind(err, errors.KindSectionNotFound) {
//		// degrade: the dependent table is unavailable
//	}
package errors
