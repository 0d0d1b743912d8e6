package wasm

import (
	"fmt"

	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/internal/binary"
)

// maxLocals bounds the expanded local count of one function body.
const maxLocals = 50000

// Parse decodes a binary module with the default opcode table.
func Parse(data []byte) (*Module, error) {
	return ParseWith(data, DefaultOpcodes())
}

// ParseWith decodes a binary module using table for initializer expressions.
//
// Only a bad header is fatal. A corrupt section is recorded in Module.Errors
// and its table is left empty; later independent sections are still parsed.
func ParseWith(data []byte, table OpcodeTable) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.MalformedModule("header", 0, err)
	}
	if magic != Magic {
		return nil, errors.Malformedf("header", 0, "invalid magic 0x%08x", magic)
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.MalformedModule("header", 4, err)
	}
	if version != Version {
		return nil, errors.Malformedf("header", 4, "unsupported version %d", version)
	}

	m := &Module{
		Sections: []Section{{ID: SectionHeader, Payload: data[:HeaderSize]}},
	}
	p := &parser{m: m, table: table, seen: make(map[SectionID]bool)}

	for r.Len() > 0 {
		start := r.Offset()
		id, _ := r.ReadByte()
		size, err := r.ReadU32()
		if err != nil {
			p.fail(errors.MalformedModule(SectionID(id).String(), start, err))
			break
		}
		payloadOffset := r.Offset()
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			p.fail(errors.MalformedModule(SectionID(id).String(), start, err))
			break
		}

		sec := Section{
			ID:            SectionID(id),
			Offset:        uint32(start),
			PayloadOffset: uint32(payloadOffset),
			Payload:       payload,
		}
		p.parseSection(&sec)
		m.Sections = append(m.Sections, sec)
	}

	p.buildGlobals()
	p.buildFunctions()
	return m, nil
}

type definedGlobal struct {
	init    []Instruction
	offset  uint32
	typ     ValType
	mutable bool
}

type codeBody struct {
	locals []ValType
	code   []byte
	offset uint32
}

type parser struct {
	m       *Module
	table   OpcodeTable
	seen    map[SectionID]bool
	globals []definedGlobal
	bodies  []codeBody
	code    *Section
	funcs   *Section
}

func (p *parser) fail(err error) {
	p.m.Errors = append(p.m.Errors, err)
}

func (p *parser) parseSection(sec *Section) {
	name := sec.ID.String()
	if sec.ID != SectionCustom {
		if p.seen[sec.ID] {
			p.fail(errors.Malformedf(name, int64(sec.Offset), "duplicate %s section", name))
			return
		}
		p.seen[sec.ID] = true
	}

	r := binary.NewReaderAt(sec.Payload, int64(sec.PayloadOffset))
	var err error
	switch sec.ID {
	case SectionCustom:
		sec.Name, err = r.ReadName()
		if err != nil {
			p.fail(errors.MalformedModule(name, int64(sec.Offset), err))
		}
		return
	case SectionType:
		err = p.parseTypes(r)
	case SectionImport:
		err = p.parseImports(r)
	case SectionFunction:
		p.funcs = sec
		err = p.parseFunctionTypes(r)
	case SectionGlobal:
		err = p.parseGlobals(r)
	case SectionExport:
		err = p.parseExports(r)
	case SectionStart:
		err = p.parseStart(r)
	case SectionCode:
		p.code = sec
		err = p.parseCode(r)
	case SectionData:
		err = p.parseData(r)
	default:
		// table, memory, element, datacount and unknown ids stay opaque
		return
	}

	if err == nil && r.Len() != 0 {
		err = errors.Malformedf(name, r.Offset(), "%d trailing bytes", r.Len())
	}
	if err != nil {
		if e, ok := errors.As(err); ok && e.Kind == errors.KindMalformedModule && e.Section == name {
			p.fail(err)
			return
		}
		p.fail(errors.MalformedModule(name, int64(sec.Offset), err))
	}
}

// readCount reads a vector length and rejects counts that cannot fit in the
// remaining payload, since every entry occupies at least one byte.
func readCount(r *binary.Reader) (uint32, error) {
	at := r.Offset()
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(r.Len()) {
		return 0, errors.New(errors.PhaseParse, errors.KindMalformedModule).
			At(at).
			Value(n).
			Detail("entry count %d overruns %d remaining bytes", n, r.Len()).
			Build()
	}
	return n, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	return ValType(b), err
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, n)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func (p *parser) parseTypes(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	types := make([]FuncType, count)
	for i := range types {
		at := r.Offset()
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return errors.Malformedf("type", at, "type %d: unexpected form 0x%02x", i, form)
		}
		if types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	p.m.Types = types
	return nil
}

func readLimits(r *binary.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	readBound := func() error {
		if flags&0x04 != 0 {
			_, err := r.ReadU64()
			return err
		}
		_, err := r.ReadU32()
		return err
	}
	if err := readBound(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		return readBound()
	}
	return nil
}

func (p *parser) parseImports(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	imports := make([]Import, count)
	for i := range imports {
		imp := &imports[i]
		imp.Offset = uint32(r.Offset())
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		at := r.Offset()
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp.Kind = ExternalKind(kind)

		switch imp.Kind {
		case KindFunc:
			if imp.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if err = readLimits(r); err != nil {
				return err
			}
		case KindMemory:
			if err = readLimits(r); err != nil {
				return err
			}
		case KindGlobal:
			if imp.GlobalType, err = readValType(r); err != nil {
				return err
			}
			mut, err := r.ReadByte()
			if err != nil {
				return err
			}
			imp.Mutable = mut == 1
		default:
			return errors.Malformedf("import", at, "import %d: unknown kind 0x%02x", i, kind)
		}
	}
	p.m.Imports = imports
	return nil
}

func (p *parser) parseFunctionTypes(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	idx := make([]uint32, count)
	for i := range idx {
		if idx[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	p.m.FuncTypes = idx
	return nil
}

func (p *parser) parseGlobals(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	globals := make([]definedGlobal, count)
	for i := range globals {
		g := &globals[i]
		if g.typ, err = readValType(r); err != nil {
			return err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return err
		}
		g.mutable = mut == 1
		g.offset = uint32(r.Offset())
		if g.init, err = decodeInitExpr(p.table, r); err != nil {
			return err
		}
	}
	p.globals = globals
	return nil
}

func (p *parser) parseExports(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	exports := make([]Export, count)
	for i := range exports {
		e := &exports[i]
		e.Offset = uint32(r.Offset())
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		e.Kind = ExternalKind(kind)
		if e.Index, err = r.ReadU32(); err != nil {
			return err
		}
	}
	p.m.Exports = exports
	return nil
}

func (p *parser) parseStart(r *binary.Reader) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	p.m.Start = &idx
	return nil
}

func (p *parser) parseCode(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	bodies := make([]codeBody, count)
	for i := range bodies {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		start := r.Offset()
		br, err := r.Sub(int(size))
		if err != nil {
			return err
		}

		// the size prefix frames the body, so a bad local declaration
		// only loses this function
		locals, err := readLocals(br)
		if err != nil {
			p.fail(errors.New(errors.PhaseParse, errors.KindMalformedModule).
				Section("code").
				At(start).
				Value(i).
				Detail("body %d", i).
				Cause(err).
				Build())
			bodies[i] = codeBody{offset: uint32(start)}
			continue
		}
		bodies[i] = codeBody{
			locals: locals,
			offset: uint32(br.Offset()),
			code:   br.ReadRemaining(),
		}
	}
	p.bodies = bodies
	return nil
}

func readLocals(r *binary.Reader) ([]ValType, error) {
	groups, err := readCount(r)
	if err != nil {
		return nil, err
	}
	var locals []ValType
	for j := uint32(0); j < groups; j++ {
		at := r.Offset()
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		if uint64(len(locals))+uint64(n) > maxLocals {
			return nil, errors.Malformedf("code", at, "%d locals exceed limit %d", uint64(len(locals))+uint64(n), maxLocals)
		}
		for k := uint32(0); k < n; k++ {
			locals = append(locals, t)
		}
	}
	return locals, nil
}

func (p *parser) parseData(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	segments := make([]DataSegment, count)
	for i := range segments {
		seg := &segments[i]
		seg.Index = uint32(i)

		at := r.Offset()
		if seg.Flags, err = r.ReadU32(); err != nil {
			return err
		}
		if seg.Flags > 2 {
			return errors.Malformedf("data", at, "segment %d: invalid flags %d", i, seg.Flags)
		}
		if seg.Flags == 2 {
			if _, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if seg.Flags != 1 {
			init, err := decodeInitExpr(p.table, r)
			if err != nil {
				return err
			}
			if c, ok := init[0].Imm.(I32Imm); ok && init[0].Opcode == OpI32Const {
				seg.MemoryOffset = uint32(c.Value)
			}
		}

		if seg.Length, err = r.ReadU32(); err != nil {
			return err
		}
		seg.ContentAddress = uint32(r.Offset())
		if seg.Bytes, err = r.ReadBytes(int(seg.Length)); err != nil {
			return err
		}
	}
	p.m.Data = segments
	return nil
}

// buildGlobals assigns the combined global index space: imports first, then
// the global section, in one pass.
func (p *parser) buildGlobals() {
	var globals []Global
	for i := range p.m.Imports {
		imp := &p.m.Imports[i]
		if imp.Kind != KindGlobal {
			continue
		}
		globals = append(globals, Global{
			Index:    uint32(len(globals)),
			Imported: true,
			Module:   imp.Module,
			Field:    imp.Name,
			Name:     imp.QualifiedName(),
			Offset:   imp.Offset,
			Type:     imp.GlobalType,
			Mutable:  imp.Mutable,
		})
	}
	p.m.numImportedGlobals = uint32(len(globals))

	for _, g := range p.globals {
		idx := uint32(len(globals))
		global := Global{
			Index:   idx,
			Name:    fmt.Sprintf("global_%X", idx),
			Offset:  g.offset,
			Type:    g.typ,
			Mutable: g.mutable,
			Init:    g.init,
		}
		// one hop only: the alias takes the current name of the global it reads
		if len(g.init) > 0 && g.init[0].Opcode == OpGlobalGet {
			if ref, ok := g.init[0].Imm.(GlobalImm); ok && ref.Index < idx {
				target := ref.Index
				global.AliasOf = &target
				global.Name = "_" + globals[target].Name
			}
		}
		globals = append(globals, global)
	}
	p.m.Globals = globals
}

// buildFunctions assigns the combined function index space: imported
// functions first, then code bodies matched positionally with the function
// section's type indices.
func (p *parser) buildFunctions() {
	m := p.m
	var funcs []Function
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != KindFunc {
			continue
		}
		idx := uint32(len(funcs))
		funcs = append(funcs, Function{
			Index:    idx,
			Imported: true,
			Module:   imp.Module,
			Name:     imp.Name,
			TypeIdx:  imp.TypeIdx,
			Type:     p.signature(idx, imp.TypeIdx, "import"),
		})
	}
	m.numImportedFuncs = uint32(len(funcs))

	switch {
	case len(m.FuncTypes) > 0 && p.code == nil:
		p.fail(errors.SectionNotFound("code"))
	case len(p.bodies) > 0 && p.funcs == nil:
		p.fail(errors.SectionNotFound("function"))
	case p.code != nil && p.funcs != nil && len(p.bodies) != len(m.FuncTypes):
		p.fail(errors.Malformedf("code", int64(p.code.Offset),
			"function section declares %d bodies, code section has %d", len(m.FuncTypes), len(p.bodies)))
	}

	exported := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind != KindFunc {
			continue
		}
		if _, dup := exported[e.Index]; !dup {
			exported[e.Index] = e.Name
		}
	}

	for i, body := range p.bodies {
		idx := uint32(len(funcs))
		fn := Function{
			Index:  idx,
			Locals: body.locals,
			Code:   body.code,
			Offset: body.offset,
			Size:   uint32(len(body.code)),
		}
		if i < len(m.FuncTypes) {
			fn.TypeIdx = m.FuncTypes[i]
			fn.Type = p.signature(idx, fn.TypeIdx, "function")
		}
		if name, ok := exported[idx]; ok {
			fn.Name = name
			fn.Exported = true
		} else {
			fn.Name = fmt.Sprintf("$func%d", idx)
		}
		funcs = append(funcs, fn)
	}
	m.Functions = funcs
}

func (p *parser) signature(funcIdx, typeIdx uint32, section string) FuncType {
	if t, ok := p.m.Type(typeIdx); ok {
		return *t
	}
	p.fail(errors.Malformedf(section, errors.NoOffset,
		"function %d references type %d of %d", funcIdx, typeIdx, len(p.m.Types)))
	return FuncType{}
}
