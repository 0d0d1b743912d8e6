package analysis

import (
	"fmt"

	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

// Entry is a code entry point: an exported defined function or the start function.
type Entry struct {
	Name   string
	Offset uint32
	Index  uint32
	Start  bool
}

// Section returns the first section with the given id.
func (a *Analysis) Section(id wasm.SectionID) (*wasm.Section, error) {
	sec, ok := a.module.Section(id)
	if !ok {
		e := errors.SectionNotFound(id.String())
		e.Phase = errors.PhaseQuery
		return nil, e
	}
	return sec, nil
}

// Function returns the function at a combined index.
func (a *Analysis) Function(index uint32) (*wasm.Function, error) {
	fn, ok := a.module.Function(index)
	if !ok {
		return nil, errors.NotFound(errors.PhaseQuery, "function", index)
	}
	return fn, nil
}

// FunctionContaining returns the defined function whose code holds addr.
func (a *Analysis) FunctionContaining(addr uint32) (*wasm.Function, error) {
	fn, ok := a.funcs.containing(addr)
	if !ok {
		return nil, errors.NotFound(errors.PhaseQuery, "function containing address", fmt.Sprintf("0x%x", addr))
	}
	return fn, nil
}

// IsFunctionStart reports whether addr is the first instruction of a defined function.
func (a *Analysis) IsFunctionStart(addr uint32) bool {
	_, ok := a.funcs.startingAt(addr)
	return ok
}

// Global returns the global at a combined index.
func (a *Analysis) Global(index uint32) (*wasm.Global, error) {
	g, ok := a.module.Global(index)
	if !ok {
		return nil, errors.NotFound(errors.PhaseQuery, "global", index)
	}
	return g, nil
}

// DataSegmentContaining returns the data segment that initializes the
// linear memory byte at memAddr.
func (a *Analysis) DataSegmentContaining(memAddr uint32) (*wasm.DataSegment, error) {
	seg, ok := a.segs.find(memAddr, false)
	if !ok {
		return nil, errors.NotFound(errors.PhaseQuery, "data segment containing", fmt.Sprintf("0x%x", memAddr))
	}
	return seg, nil
}

// DecodeInstructionAt decodes the instruction at an absolute file offset.
// Inside a defined function the decoder is bounded by the function's code.
func (a *Analysis) DecodeInstructionAt(addr uint32) (wasm.Instruction, error) {
	if fn, ok := a.funcs.containing(addr); ok {
		return wasm.DecodeAt(a.table, a.raw[:fn.End()], addr)
	}
	return wasm.DecodeAt(a.table, a.raw, addr)
}

// Flow returns the recovered control flow of the function at a combined index.
func (a *Analysis) Flow(index uint32) (*FunctionFlow, error) {
	if int(index) >= len(a.flows) || a.flows[index] == nil {
		return nil, errors.NotFound(errors.PhaseQuery, "control flow for function", index)
	}
	return a.flows[index], nil
}

// flowAt returns the resolved function holding addr.
func (a *Analysis) flowAt(addr uint32) (*FunctionFlow, bool) {
	fn, ok := a.funcs.containing(addr)
	if !ok {
		return nil, false
	}
	ff := a.flows[fn.Index]
	return ff, ff != nil
}

// EdgesFor returns the control-flow edges leaving the instruction at addr,
// in emission order.
func (a *Analysis) EdgesFor(addr uint32) []flow.Edge {
	ff, ok := a.flowAt(addr)
	if !ok {
		return nil
	}
	return ff.Graph.EdgesFor(addr)
}

// IsNoFlow reports whether execution stops at the instruction at addr.
func (a *Analysis) IsNoFlow(addr uint32) bool {
	ff, ok := a.flowAt(addr)
	return ok && ff.Graph.IsNoFlow(addr)
}

// BlockFor returns the scope that the instruction at addr opens, splits or closes.
func (a *Analysis) BlockFor(addr uint32) (*flow.Block, error) {
	if ff, ok := a.flowAt(addr); ok {
		if blk, ok := ff.Resolution.BlockAt(addr); ok {
			return blk, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseQuery, "block at", fmt.Sprintf("0x%x", addr))
}

// TargetsFor returns the resolved branch targets recorded at addr.
func (a *Analysis) TargetsFor(addr uint32) []flow.Target {
	ff, ok := a.flowAt(addr)
	if !ok {
		return nil
	}
	return ff.Resolution.TargetsAt(addr)
}

// Types returns the type section's signatures.
func (a *Analysis) Types() []wasm.FuncType {
	return a.module.Types
}

// Type returns the signature at a type index.
func (a *Analysis) Type(index uint32) (*wasm.FuncType, error) {
	t, ok := a.module.Type(index)
	if !ok {
		return nil, errors.NotFound(errors.PhaseQuery, "type", index)
	}
	return t, nil
}

// Entries lists exported defined functions in index order. The start
// function is included even when it is not exported.
func (a *Analysis) Entries() []Entry {
	m := a.module
	start := int64(-1)
	if m.Start != nil {
		start = int64(*m.Start)
	}

	var out []Entry
	for i := range m.Functions {
		fn := &m.Functions[i]
		isStart := int64(fn.Index) == start
		if fn.Imported || (!fn.Exported && !isStart) {
			continue
		}
		out = append(out, Entry{
			Name:   fn.Name,
			Offset: fn.Offset,
			Index:  fn.Index,
			Start:  isStart,
		})
	}
	return out
}
