// Package analysis runs the whole-module load pass and answers navigation
// queries over its results.
//
// Load parses the module, then decodes, resolves and synthesizes edges for
// every defined function. A failure in one section or one function body is
// isolated: it becomes a Diagnostic and the rest of the module stays
// queryable.
//
//	a, err := analysis.Load(data, analysis.DefaultOptions())
//	if err != nil {
//	    return err // bad header
//	}
//	for _, d := range a.Diagnostics() {
//	    log.Println(d)
//	}
//	fn, err := a.FunctionContaining(addr)
//	edges := a.EdgesFor(addr)
//
// Function and data segment containment use sorted indexes with binary
// search. All tables are built once and never mutated, so an Analysis may be
// queried from multiple goroutines.
package analysis
