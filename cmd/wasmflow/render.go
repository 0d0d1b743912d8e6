package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

type styles struct {
	title    lipgloss.Style
	addr     lipgloss.Style
	mnemonic lipgloss.Style
	operand  lipgloss.Style
	label    lipgloss.Style
	edge     lipgloss.Style
	ref      lipgloss.Style
	selected lipgloss.Style
	err      lipgloss.Style
	help     lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title: plain, addr: plain, mnemonic: plain, operand: plain, label: plain,
			edge: plain, ref: plain, selected: plain.Reverse(true), err: plain, help: plain,
		}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		addr:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		mnemonic: lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		operand:  lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		label:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD580")),
		edge:     lipgloss.NewStyle().Foreground(lipgloss.Color("#C792EA")),
		ref:      lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")),
		err:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

// printer renders analysis results as text listings.
type printer struct {
	a  *analysis.Analysis
	st styles
}

func hex(v uint32) string {
	return fmt.Sprintf("0x%06x", v)
}

// operands renders an instruction's immediate with names resolved.
func (p printer) operands(fn *wasm.Function, in wasm.Instruction) string {
	switch imm := in.Imm.(type) {
	case wasm.BlockImm:
		if vt, ok := imm.Result(); ok {
			return "(result " + vt.String() + ")"
		}
		if idx, ok := imm.TypeIndex(); ok {
			if ft, err := p.a.Type(idx); err == nil {
				return "(type " + ft.String() + ")"
			}
			return fmt.Sprintf("(type %d)", idx)
		}
		return ""
	case wasm.BranchImm:
		return strconv.FormatUint(uint64(imm.Depth), 10) + p.targetLabels(in.Address)
	case wasm.BrTableImm:
		parts := make([]string, 0, len(imm.Targets)+1)
		for _, d := range imm.Targets {
			parts = append(parts, strconv.FormatUint(uint64(d), 10))
		}
		parts = append(parts, "default="+strconv.FormatUint(uint64(imm.Default), 10))
		return strings.Join(parts, " ") + p.targetLabels(in.Address)
	case wasm.CallImm:
		if callee, err := p.a.Function(imm.FuncIdx); err == nil {
			return callee.Name
		}
		return fmt.Sprintf("%d", imm.FuncIdx)
	case wasm.CallIndirectImm:
		if ft, err := p.a.Type(imm.TypeIdx); err == nil {
			return "(type " + ft.String() + ")"
		}
		return fmt.Sprintf("(type %d)", imm.TypeIdx)
	case wasm.LocalImm:
		if fn != nil {
			return fn.LocalName(imm.Index)
		}
		return fmt.Sprintf("%d", imm.Index)
	case wasm.GlobalImm:
		if g, err := p.a.Global(imm.Index); err == nil {
			return g.Name
		}
		return fmt.Sprintf("%d", imm.Index)
	case wasm.MemoryImm:
		return fmt.Sprintf("offset=%d align=%d", imm.Offset, 1<<imm.Align)
	case wasm.I32Imm:
		return strconv.FormatInt(int64(imm.Value), 10)
	case wasm.I64Imm:
		return strconv.FormatInt(imm.Value, 10)
	case wasm.F32Imm:
		return strconv.FormatFloat(float64(imm.Value()), 'g', -1, 32)
	case wasm.F64Imm:
		return strconv.FormatFloat(imm.Value(), 'g', -1, 64)
	default:
		return ""
	}
}

func (p printer) targetLabels(addr uint32) string {
	var labels []string
	for _, t := range p.a.TargetsFor(addr) {
		if t.Self {
			continue
		}
		if blk, err := p.blockAt(addr, t.Block); err == nil {
			labels = append(labels, blk.Label())
		}
	}
	if len(labels) == 0 {
		return ""
	}
	return " ; " + strings.Join(labels, " ")
}

func (p printer) blockAt(addr, index uint32) (*flow.Block, error) {
	fn, err := p.a.FunctionContaining(addr)
	if err != nil {
		return nil, err
	}
	ff, err := p.a.Flow(fn.Index)
	if err != nil {
		return nil, err
	}
	return ff.Resolution.Block(index), nil
}

// line renders one instruction with its scope label, edges and references.
func (p printer) line(fn *wasm.Function, in wasm.Instruction, depth int) string {
	var b strings.Builder
	b.WriteString(p.st.addr.Render(hex(in.Address)))
	b.WriteString("  ")
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.st.mnemonic.Render(p.a.Opcodes().Mnemonic(in.Opcode)))
	if ops := p.operands(fn, in); ops != "" {
		b.WriteByte(' ')
		b.WriteString(p.st.operand.Render(ops))
	}
	if blk, err := p.a.BlockFor(in.Address); err == nil && in.Opcode != wasm.OpElse {
		b.WriteByte(' ')
		b.WriteString(p.st.label.Render(blk.Label()))
		if in.Opcode == wasm.OpEnd && len(blk.TableTargets) > 0 {
			b.WriteString(p.st.label.Render(fmt.Sprintf(" table %v", blk.TableTargets)))
		}
	}
	for _, e := range p.a.EdgesFor(in.Address) {
		if e.Kind == flow.Fallthrough {
			continue
		}
		b.WriteString(p.st.edge.Render(fmt.Sprintf("  %s->%s", e.Kind, hex(e.To))))
	}
	for _, r := range p.a.RefsFor(in.Address) {
		b.WriteString(p.st.ref.Render(fmt.Sprintf("  %s@%s", r.Kind, hex(r.To))))
	}
	if p.a.IsNoFlow(in.Address) {
		b.WriteString(p.st.edge.Render("  (no flow)"))
	}
	return b.String()
}

// listing renders every instruction of a resolved function, indented by
// scope nesting.
func (p printer) listing(ff *analysis.FunctionFlow) []string {
	fn := ff.Function
	lines := make([]string, 0, len(ff.Resolution.Instructions))
	depth := 0
	for _, in := range ff.Resolution.Instructions {
		if in.Opcode == wasm.OpEnd && depth > 0 {
			depth--
		}
		indent := depth
		if in.Opcode == wasm.OpElse && indent > 0 {
			indent--
		}
		lines = append(lines, p.line(fn, in, indent))
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			depth++
		}
	}
	return lines
}

// signature renders "name(params) -> results" for function tables.
func (p printer) signature(fn *wasm.Function) string {
	name := fn.Name
	if fn.Imported {
		name = fn.Module + "." + fn.Name
	}
	return p.st.mnemonic.Render(name) + " " + p.st.operand.Render(fn.Type.String())
}
