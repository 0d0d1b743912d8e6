package analysis

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasmflow/wasm"
)

// RefKind tags a data cross-reference.
type RefKind uint8

const (
	RefRead RefKind = iota
	RefWrite
	RefData
)

func (k RefKind) String() string {
	switch k {
	case RefRead:
		return "read"
	case RefWrite:
		return "write"
	case RefData:
		return "data"
	default:
		return "unknown"
	}
}

// Ref is a cross-reference from an instruction to a file offset: a global's
// definition for global.get/global.set, or the bytes of a data segment for a
// constant or static memory offset that lands inside one.
type Ref struct {
	From uint32
	To   uint32
	// Index is the global index for Read/Write and the segment index for Data.
	Index uint32
	Kind  RefKind
}

func (a *Analysis) collectRefs() {
	for _, ff := range a.flows {
		if ff == nil {
			continue
		}
		for _, in := range ff.Resolution.Instructions {
			a.refsOf(in)
		}
	}
}

func (a *Analysis) refsOf(in wasm.Instruction) {
	switch imm := in.Imm.(type) {
	case wasm.GlobalImm:
		g, ok := a.module.Global(imm.Index)
		if !ok {
			a.log.Debug("reference to unknown global",
				zap.Uint32("addr", in.Address), zap.Uint32("global", imm.Index))
			return
		}
		kind := RefRead
		if in.Opcode == wasm.OpGlobalSet {
			kind = RefWrite
		}
		a.addRef(Ref{From: in.Address, To: g.Offset, Index: g.Index, Kind: kind})

	case wasm.I32Imm:
		a.dataRef(in.Address, uint32(imm.Value))

	case wasm.MemoryImm:
		a.dataRef(in.Address, imm.Offset)
	}
}

func (a *Analysis) dataRef(from, memAddr uint32) {
	seg, ok := a.segs.find(memAddr, true)
	if !ok {
		return
	}
	a.addRef(Ref{From: from, To: seg.FileAddress(memAddr), Index: seg.Index, Kind: RefData})
}

func (a *Analysis) addRef(r Ref) {
	a.refs[r.From] = append(a.refs[r.From], r)
}

// RefsFor returns the cross-references leaving the instruction at addr.
func (a *Analysis) RefsFor(addr uint32) []Ref {
	return a.refs[addr]
}
