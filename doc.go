// Package wasmflow recovers structured control flow from WebAssembly binary
// modules for disassembly and navigation.
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmflow/          Root package with the Navigator query interface
//	├── wasm/          Module parser, opcode table and instruction decoder
//	├── flow/          Scope resolver and control-flow edge synthesizer
//	├── analysis/      Whole-module load pass, indexes and queries
//	├── errors/        Structured error types with byte offsets
//	└── cmd/wasmflow/  Command-line listings and interactive browser
//
// # Quick Start
//
//	a, err := wasmflow.LoadFile("module.wasm", analysis.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fn, err := a.FunctionContaining(addr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range a.EdgesFor(fn.Offset) {
//	    fmt.Println(e.Kind, e.To)
//	}
//
// # Edges
//
// Every instruction falls through to the next unless it is terminal. Branches
// produce jump, conditional jump or table jump edges to the address their
// target scope transfers to: the start of a loop, or the address after the
// end of any other scope. A branch immediately followed by an end defers its
// jump onto that end, so the end always has an incoming edge.
//
// # Failure isolation
//
// Only a bad module header fails a load. Corrupt sections and function
// bodies are reported through analysis.Diagnostic and the remaining tables
// stay queryable.
//
// Executing or validating bytecode is out of scope.
package wasmflow
