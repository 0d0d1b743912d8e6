// Package wasm parses WebAssembly binary modules for structural navigation.
//
// Parse walks the module header and every section, recording each section's
// absolute byte offsets, and builds the tables a disassembler needs: types,
// imports, exports, globals, functions and data segments. Functions and
// globals use the combined index space, where imported entities precede the
// ones defined by the module.
//
// # Parsing
//
//	m, err := wasm.Parse(data)
//	if err != nil {
//	    return err // bad header
//	}
//	for _, e := range m.Errors {
//	    log.Println(e) // isolated section failures
//	}
//	fn, _ := m.Function(2)
//	fmt.Println(fn.Name, fn.Offset, fn.Size)
//
// # Decoding instructions
//
// The decoder is table driven: an OpcodeTable maps each opcode byte to its
// operand Shape and control-flow Flags. DefaultOpcodes covers the MVP
// instruction set and the sign-extension operators.
//
//	instrs, err := wasm.DecodeBody(wasm.DefaultOpcodes(), fn.Code, fn.Offset)
//
// Every Instruction carries its absolute address and encoded length. The
// floating-point constants keep their raw bit patterns.
//
// Executing or validating bytecode is out of scope.
package wasm
