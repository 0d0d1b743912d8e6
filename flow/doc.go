// Package flow recovers control flow from decoded WebAssembly function bodies.
//
// Resolve makes one forward pass over a body, tracking the open scopes
// (block, loop, if) on a stack and recording, per instruction address, the
// scope it opens, splits or closes and the scopes its branches leave.
// Blocks live in an arena indexed by uint32; index 0 is the implicit
// function scope.
//
//	res, err := flow.Resolve(fn.Offset, instrs)
//	if err != nil {
//	    return err // invalid branch depth or unterminated body
//	}
//	g := flow.Synthesize(wasm.DefaultOpcodes(), res)
//	for _, e := range g.EdgesFor(addr) {
//	    fmt.Println(e.Kind, e.To)
//	}
//
// A branch to a loop transfers control to the loop's start; a branch to any
// other scope transfers to the address after its end.
package flow
