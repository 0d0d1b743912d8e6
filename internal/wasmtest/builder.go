// Package wasmtest builds binary modules in memory for tests.
package wasmtest

import (
	"sort"

	"github.com/wippyai/wasmflow/internal/binary"
	"github.com/wippyai/wasmflow/wasm"
)

// Local declares n locals of one type in a function body.
type Local struct {
	N    uint32
	Type wasm.ValType
}

type funcType struct {
	params  []wasm.ValType
	results []wasm.ValType
}

type importEntry struct {
	module  string
	name    string
	kind    wasm.ExternalKind
	typeIdx uint32
	valType wasm.ValType
	mutable bool
}

type globalEntry struct {
	init    []byte
	valType wasm.ValType
	mutable bool
}

type funcEntry struct {
	locals  []Local
	body    []byte
	typeIdx uint32
}

type exportEntry struct {
	name  string
	kind  wasm.ExternalKind
	index uint32
}

type dataEntry struct {
	content []byte
	offset  int32
}

type customEntry struct {
	name    string
	payload []byte
}

// Builder accumulates module entities and encodes them in canonical section order.
type Builder struct {
	start     *uint32
	overrides map[wasm.SectionID][]byte
	extra     map[wasm.SectionID][]byte
	types     []funcType
	imports   []importEntry
	globals   []globalEntry
	funcs     []funcEntry
	exports   []exportEntry
	data      []dataEntry
	customs   []customEntry
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{
		overrides: make(map[wasm.SectionID][]byte),
		extra:     make(map[wasm.SectionID][]byte),
	}
}

// Type adds a function signature and returns its type index.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// ImportFunc adds a function import.
func (b *Builder) ImportFunc(module, name string, typeIdx uint32) *Builder {
	b.imports = append(b.imports, importEntry{module: module, name: name, kind: wasm.KindFunc, typeIdx: typeIdx})
	return b
}

// ImportGlobal adds a global import.
func (b *Builder) ImportGlobal(module, name string, t wasm.ValType, mutable bool) *Builder {
	b.imports = append(b.imports, importEntry{module: module, name: name, kind: wasm.KindGlobal, valType: t, mutable: mutable})
	return b
}

// ImportMemory adds a memory import with a minimum and no maximum.
func (b *Builder) ImportMemory(module, name string) *Builder {
	b.imports = append(b.imports, importEntry{module: module, name: name, kind: wasm.KindMemory})
	return b
}

// Global adds a defined global; init is the initializer without its end.
func (b *Builder) Global(t wasm.ValType, mutable bool, init ...[]byte) *Builder {
	b.globals = append(b.globals, globalEntry{valType: t, mutable: mutable, init: Code(init...)})
	return b
}

// Func adds a defined function. body is the instruction stream including
// the final end.
func (b *Builder) Func(typeIdx uint32, locals []Local, body ...[]byte) *Builder {
	b.funcs = append(b.funcs, funcEntry{typeIdx: typeIdx, locals: locals, body: Code(body...)})
	return b
}

// Export adds an export entry.
func (b *Builder) Export(name string, kind wasm.ExternalKind, index uint32) *Builder {
	b.exports = append(b.exports, exportEntry{name: name, kind: kind, index: index})
	return b
}

// Start sets the start function.
func (b *Builder) Start(index uint32) *Builder {
	b.start = &index
	return b
}

// Data adds an active data segment at an i32.const offset.
func (b *Builder) Data(offset int32, content []byte) *Builder {
	b.data = append(b.data, dataEntry{offset: offset, content: content})
	return b
}

// Custom appends a custom section after all known sections.
func (b *Builder) Custom(name string, payload []byte) *Builder {
	b.customs = append(b.customs, customEntry{name: name, payload: payload})
	return b
}

// Override replaces the encoded payload of a section with raw bytes.
func (b *Builder) Override(id wasm.SectionID, payload []byte) *Builder {
	b.overrides[id] = payload
	return b
}

// Section emits an extra section with a raw payload at its id's position.
func (b *Builder) Section(id wasm.SectionID, payload []byte) *Builder {
	b.extra[id] = payload
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(wasm.Magic)
	w.WriteU32LE(wasm.Version)

	sections := map[wasm.SectionID][]byte{}
	if len(b.types) > 0 {
		sections[wasm.SectionType] = b.typeSection()
	}
	if len(b.imports) > 0 {
		sections[wasm.SectionImport] = b.importSection()
	}
	if len(b.funcs) > 0 {
		sections[wasm.SectionFunction] = b.functionSection()
		sections[wasm.SectionCode] = b.codeSection()
	}
	if len(b.globals) > 0 {
		sections[wasm.SectionGlobal] = b.globalSection()
	}
	if len(b.exports) > 0 {
		sections[wasm.SectionExport] = b.exportSection()
	}
	if b.start != nil {
		sections[wasm.SectionStart] = binary.EncodeU32(*b.start)
	}
	if len(b.data) > 0 {
		sections[wasm.SectionData] = b.dataSection()
	}
	for id, payload := range b.extra {
		sections[id] = payload
	}
	for id, payload := range b.overrides {
		sections[id] = payload
	}

	ids := make([]wasm.SectionID, 0, len(sections))
	for id := range sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		writeSection(w, id, sections[id])
	}

	for _, c := range b.customs {
		payload := binary.NewWriter()
		payload.WriteName(c.name)
		payload.WriteBytes(c.payload)
		writeSection(w, wasm.SectionCustom, payload.Bytes())
	}
	return w.Bytes()
}

func writeSection(w *binary.Writer, id wasm.SectionID, payload []byte) {
	w.Byte(byte(id))
	w.WriteU32(uint32(len(payload)))
	w.WriteBytes(payload)
}

func writeValTypes(w *binary.Writer, types []wasm.ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func (b *Builder) typeSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.types)))
	for _, t := range b.types {
		w.Byte(wasm.FuncTypeByte)
		writeValTypes(w, t.params)
		writeValTypes(w, t.results)
	}
	return w.Bytes()
}

func (b *Builder) importSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.imports)))
	for _, imp := range b.imports {
		w.WriteName(imp.module)
		w.WriteName(imp.name)
		w.Byte(byte(imp.kind))
		switch imp.kind {
		case wasm.KindFunc:
			w.WriteU32(imp.typeIdx)
		case wasm.KindGlobal:
			w.Byte(byte(imp.valType))
			w.Byte(boolByte(imp.mutable))
		case wasm.KindMemory:
			w.Byte(0x00)
			w.WriteU32(1)
		}
	}
	return w.Bytes()
}

func (b *Builder) functionSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		w.WriteU32(f.typeIdx)
	}
	return w.Bytes()
}

func (b *Builder) codeSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := binary.NewWriter()
		body.WriteU32(uint32(len(f.locals)))
		for _, l := range f.locals {
			body.WriteU32(l.N)
			body.Byte(byte(l.Type))
		}
		body.WriteBytes(f.body)
		w.WriteU32(uint32(body.Len()))
		w.WriteBytes(body.Bytes())
	}
	return w.Bytes()
}

func (b *Builder) globalSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.globals)))
	for _, g := range b.globals {
		w.Byte(byte(g.valType))
		w.Byte(boolByte(g.mutable))
		w.WriteBytes(g.init)
		w.Byte(wasm.OpEnd)
	}
	return w.Bytes()
}

func (b *Builder) exportSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.exports)))
	for _, e := range b.exports {
		w.WriteName(e.name)
		w.Byte(byte(e.kind))
		w.WriteU32(e.index)
	}
	return w.Bytes()
}

func (b *Builder) dataSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(b.data)))
	for _, d := range b.data {
		w.WriteU32(0)
		w.WriteBytes(I32Const(d.offset))
		w.Byte(wasm.OpEnd)
		w.WriteU32(uint32(len(d.content)))
		w.WriteBytes(d.content)
	}
	return w.Bytes()
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
