package wasm

import (
	"fmt"
	"strings"
)

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

func (id SectionID) String() string {
	if name, ok := sectionNames[id]; ok {
		return name
	}
	return fmt.Sprintf("section(0x%02x)", byte(id))
}

func (k ExternalKind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// String renders the signature as "(i32, i32) -> i32".
func (f FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> ")
	switch len(f.Results) {
	case 0:
		b.WriteString("()")
	case 1:
		b.WriteString(f.Results[0].String())
	default:
		b.WriteByte('(')
		for i, r := range f.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Section is one top-level region of the module, in file order.
type Section struct {
	Payload []byte
	// Name is set for custom sections only.
	Name string
	// Offset is the absolute offset of the section id byte.
	Offset uint32
	// PayloadOffset is the absolute offset of the first payload byte.
	PayloadOffset uint32
	ID            SectionID
}

// End returns the absolute offset one past the payload.
func (s *Section) End() uint32 {
	return s.PayloadOffset + uint32(len(s.Payload))
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	// Offset is the absolute offset of the entry's first byte.
	Offset uint32
	// TypeIdx is set for function imports.
	TypeIdx uint32
	// GlobalType and Mutable are set for global imports.
	GlobalType ValType
	Mutable    bool
	Kind       ExternalKind
}

// QualifiedName returns "module.name".
func (i *Import) QualifiedName() string {
	return i.Module + "." + i.Name
}

// Export is one entry of the export section.
type Export struct {
	Name   string
	Offset uint32
	Index  uint32
	Kind   ExternalKind
}

// Global is one entry of the combined global index space.
type Global struct {
	// AliasOf is set when the initializer reads an earlier global.
	AliasOf *uint32
	// Module and Field are set for imported globals.
	Module string
	Field  string
	Name   string
	Init   []Instruction
	// Offset is the import entry offset for imported globals and the
	// initializer offset for defined ones.
	Offset   uint32
	Index    uint32
	Type     ValType
	Mutable  bool
	Imported bool
}

// Function is one entry of the combined function index space.
type Function struct {
	Type   FuncType
	Module string // imports only
	// Name is the import field, the export name, or a $func placeholder.
	Name   string
	Locals []ValType
	Code   []byte
	// Offset is the absolute offset of the first instruction, after the locals.
	Offset uint32
	// Size is the length of the instruction stream including the final end.
	Size     uint32
	Index    uint32
	TypeIdx  uint32
	Imported bool
	Exported bool
}

// ExportedName returns the export name of a defined function.
func (f *Function) ExportedName() (string, bool) {
	if !f.Exported {
		return "", false
	}
	return f.Name, true
}

// End returns the absolute offset one past the last instruction byte.
func (f *Function) End() uint32 {
	return f.Offset + f.Size
}

// Contains reports whether addr falls inside a defined function's code.
func (f *Function) Contains(addr uint32) bool {
	return !f.Imported && addr >= f.Offset && addr < f.End()
}

// LocalName names a local slot: parameters first, then declared locals.
func (f *Function) LocalName(i uint32) string {
	if int(i) < len(f.Type.Params) {
		return fmt.Sprintf("$param%d", i)
	}
	return fmt.Sprintf("$local%d", i)
}

// LocalType returns the type of a local slot, parameters included.
func (f *Function) LocalType(i uint32) (ValType, bool) {
	if int(i) < len(f.Type.Params) {
		return f.Type.Params[i], true
	}
	j := int(i) - len(f.Type.Params)
	if j < len(f.Locals) {
		return f.Locals[j], true
	}
	return 0, false
}

// DataSegment is one entry of the data section.
type DataSegment struct {
	Bytes []byte
	// MemoryOffset is the i32.const offset expression value, or 0.
	MemoryOffset uint32
	// ContentAddress is the absolute file offset of the first content byte.
	ContentAddress uint32
	Length         uint32
	Index          uint32
	Flags          uint32
}

// Contains reports whether the linear memory address falls inside the segment.
func (d *DataSegment) Contains(memAddr uint32) bool {
	return uint64(memAddr) >= uint64(d.MemoryOffset) &&
		uint64(memAddr) < uint64(d.MemoryOffset)+uint64(d.Length)
}

// FileAddress maps a linear memory address inside the segment to its file offset.
func (d *DataSegment) FileAddress(memAddr uint32) uint32 {
	return memAddr - d.MemoryOffset + d.ContentAddress
}

// Module is the parsed form of a binary module. All tables are built once by
// Parse and are read-only afterwards.
type Module struct {
	Start *uint32
	// Sections holds every section in file order; Sections[0] is the header.
	Sections  []Section
	Types     []FuncType
	Imports   []Import
	Exports   []Export
	Globals   []Global
	Functions []Function
	Data      []DataSegment
	// Errors lists every section-level failure that Parse isolated.
	Errors []error
	// FuncTypes holds the function section's type indices.
	FuncTypes []uint32

	numImportedFuncs   uint32
	numImportedGlobals uint32
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() uint32 {
	return m.numImportedFuncs
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() uint32 {
	return m.numImportedGlobals
}

// Section returns the first section with the given id.
func (m *Module) Section(id SectionID) (*Section, bool) {
	if id == SectionHeader {
		return nil, false
	}
	for i := 1; i < len(m.Sections); i++ {
		if m.Sections[i].ID == id {
			return &m.Sections[i], true
		}
	}
	return nil, false
}

// Function returns the function with the given combined index.
func (m *Module) Function(idx uint32) (*Function, bool) {
	if int(idx) >= len(m.Functions) {
		return nil, false
	}
	return &m.Functions[idx], true
}

// Global returns the global with the given combined index.
func (m *Module) Global(idx uint32) (*Global, bool) {
	if int(idx) >= len(m.Globals) {
		return nil, false
	}
	return &m.Globals[idx], true
}

// Type returns the signature at a type index.
func (m *Module) Type(idx uint32) (*FuncType, bool) {
	if int(idx) >= len(m.Types) {
		return nil, false
	}
	return &m.Types[idx], true
}
