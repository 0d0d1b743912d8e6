package flow

import (
	"sort"

	"github.com/wippyai/wasmflow/wasm"
)

// EdgeKind tags a control-flow edge.
type EdgeKind uint8

const (
	Fallthrough EdgeKind = iota
	Jump
	CondJump
	TableJump
)

func (k EdgeKind) String() string {
	switch k {
	case Fallthrough:
		return "fallthrough"
	case Jump:
		return "jump"
	case CondJump:
		return "cond_jump"
	case TableJump:
		return "table_jump"
	default:
		return "unknown"
	}
}

// Edge is one directed control-flow edge. Case numbers the distinct targets
// of a br_table in first-seen order.
type Edge struct {
	From uint32
	To   uint32
	Case uint32
	Kind EdgeKind
}

// Graph holds the synthesized edges of one function. It is read-only once built.
type Graph struct {
	edges  map[uint32][]Edge
	noFlow map[uint32]bool
}

// EdgesFor returns the edges leaving addr in emission order.
func (g *Graph) EdgesFor(addr uint32) []Edge {
	return g.edges[addr]
}

// IsNoFlow reports whether execution never continues past the instruction at addr.
func (g *Graph) IsNoFlow(addr uint32) bool {
	return g.noFlow[addr]
}

// Len returns the total number of edges.
func (g *Graph) Len() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// Edges returns every edge ordered by source address.
func (g *Graph) Edges() []Edge {
	addrs := make([]uint32, 0, len(g.edges))
	for a := range g.edges {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	out := make([]Edge, 0, g.Len())
	for _, a := range addrs {
		out = append(out, g.edges[a]...)
	}
	return out
}

type synthesizer struct {
	g              *Graph
	res            *Resolution
	table          wasm.OpcodeTable
	deferredEdges  map[uint32][]Edge
	deferredNoFlow map[uint32]bool
}

// Synthesize turns a resolution into concrete edges.
//
// A branch directly followed by an end does not emit its own jump: it falls
// through into the end and the jump is deferred onto the end, so the end is
// not left as an orphan node. The rules are applied in order, first match wins.
func Synthesize(table wasm.OpcodeTable, res *Resolution) *Graph {
	s := &synthesizer{
		g: &Graph{
			edges:  make(map[uint32][]Edge),
			noFlow: make(map[uint32]bool),
		},
		res:            res,
		table:          table,
		deferredEdges:  make(map[uint32][]Edge),
		deferredNoFlow: make(map[uint32]bool),
	}

	instrs := res.Instructions
	for i, in := range instrs {
		var next *wasm.Instruction
		if i+1 < len(instrs) {
			next = &instrs[i+1]
		}
		s.visit(in, next)
	}
	return s.g
}

func (s *synthesizer) visit(in wasm.Instruction, next *wasm.Instruction) {
	nextIs := func(op byte) bool { return next != nil && next.Opcode == op }
	info, _ := s.table.Lookup(in.Opcode)

	switch {
	case info.Flags.Has(wasm.FlagBranch) && nextIs(wasm.OpEnd):
		s.branchBeforeEnd(in, next)

	case in.Opcode == wasm.OpReturn && nextIs(wasm.OpEnd):
		s.emit(in.Address, in.Next(), Fallthrough, 0)
		s.deferredNoFlow[next.Address] = true

	case in.Opcode == wasm.OpUnreachable && nextIs(wasm.OpEnd):
		s.g.noFlow[in.Address] = true
		s.deferredNoFlow[next.Address] = true

	case in.Opcode == wasm.OpBr && nextIs(wasm.OpUnreachable):
		s.branch(in, Jump)
		s.g.noFlow[in.Address] = true

	case info.Flags.Has(wasm.FlagNoFlow):
		s.g.noFlow[in.Address] = true

	case in.Opcode == wasm.OpBr:
		s.branch(in, Jump)
		s.g.noFlow[in.Address] = true

	case in.Opcode == wasm.OpBrTable:
		s.brTable(in)
		s.g.noFlow[in.Address] = true

	case in.Opcode == wasm.OpBrIf:
		s.emit(in.Address, in.Next(), Fallthrough, 0)
		s.branch(in, CondJump)

	case in.Opcode == wasm.OpIf:
		s.emit(in.Address, in.Next(), Fallthrough, 0)
		for _, t := range s.res.TargetsAt(in.Address) {
			if !t.Self {
				continue
			}
			blk := s.res.Block(t.Block)
			if blk.HasElse {
				s.emit(in.Address, blk.Else, CondJump, 0)
			} else {
				s.emit(in.Address, blk.End, CondJump, 0)
			}
		}

	case in.Opcode == wasm.OpElse:
		for _, t := range s.res.TargetsAt(in.Address) {
			if t.Self {
				s.emit(in.Address, s.res.Block(t.Block).End, Jump, 0)
			}
		}

	case in.Opcode == wasm.OpEnd:
		s.end(in)

	default:
		s.emit(in.Address, in.Next(), Fallthrough, 0)
	}
}

func (s *synthesizer) branchBeforeEnd(in wasm.Instruction, end *wasm.Instruction) {
	switch in.Opcode {
	case wasm.OpBr:
		s.emit(in.Address, in.Next(), Fallthrough, 0)
		s.deferBranch(in, end.Address, Jump)
		s.deferredNoFlow[end.Address] = true
	case wasm.OpBrIf:
		s.emit(in.Address, in.Next(), Fallthrough, 0)
		s.deferBranch(in, end.Address, CondJump)
	case wasm.OpBrTable:
		s.brTable(in)
		s.g.noFlow[in.Address] = true
		s.deferredNoFlow[end.Address] = true
	}
}

func (s *synthesizer) deferBranch(in wasm.Instruction, endAddr uint32, kind EdgeKind) {
	for _, t := range s.res.TargetsAt(in.Address) {
		if t.Self {
			continue
		}
		s.deferredEdges[endAddr] = append(s.deferredEdges[endAddr], Edge{
			From: endAddr,
			To:   s.res.Destination(t),
			Kind: kind,
		})
	}
}

func (s *synthesizer) branch(in wasm.Instruction, kind EdgeKind) {
	for _, t := range s.res.TargetsAt(in.Address) {
		if !t.Self {
			s.emit(in.Address, s.res.Destination(t), kind, 0)
		}
	}
}

func (s *synthesizer) brTable(in wasm.Instruction) {
	n := uint32(0)
	for _, t := range s.res.TargetsAt(in.Address) {
		if t.Self {
			continue
		}
		s.emit(in.Address, s.res.Destination(t), TableJump, n)
		n++
	}
}

func (s *synthesizer) end(in wasm.Instruction) {
	blk, ok := s.res.BlockAt(in.Address)
	if !ok || blk.Kind == KindFunction {
		// the function end is terminal; deferred edges arriving here are dropped
		s.g.noFlow[in.Address] = true
		return
	}

	for _, e := range s.deferredEdges[in.Address] {
		s.emit(e.From, e.To, e.Kind, e.Case)
	}

	switch blk.Kind {
	case KindLoop:
		s.emit(in.Address, blk.Start, Jump, 0)
	default:
		if s.deferredNoFlow[in.Address] {
			s.g.noFlow[in.Address] = true
			return
		}
		s.emit(in.Address, in.Next(), Fallthrough, 0)
	}
}

// emit appends an edge unless the same kind and destination already leave from.
func (s *synthesizer) emit(from, to uint32, kind EdgeKind, c uint32) {
	for _, e := range s.g.edges[from] {
		if e.Kind == kind && e.To == to {
			return
		}
	}
	s.g.edges[from] = append(s.g.edges[from], Edge{From: from, To: to, Kind: kind, Case: c})
}
