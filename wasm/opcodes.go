package wasm

import "fmt"

// Shape is the operand layout that follows an opcode byte.
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapeBlock
	ShapeBranch
	ShapeBrTable
	ShapeCall
	ShapeCallIndirect
	ShapeLocal
	ShapeGlobal
	ShapeMemory
	ShapeMemoryReserved
	ShapeI32
	ShapeI64
	ShapeF32
	ShapeF64
)

var shapeNames = [...]string{
	ShapeNone:           "none",
	ShapeBlock:          "block",
	ShapeBranch:         "branch",
	ShapeBrTable:        "br_table",
	ShapeCall:           "call",
	ShapeCallIndirect:   "call_indirect",
	ShapeLocal:          "local",
	ShapeGlobal:         "global",
	ShapeMemory:         "memarg",
	ShapeMemoryReserved: "memory_reserved",
	ShapeI32:            "i32",
	ShapeI64:            "i64",
	ShapeF32:            "f32",
	ShapeF64:            "f64",
}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "unknown"
}

// Flags are per-opcode control-flow features.
type Flags uint8

const (
	// FlagNoFlow marks an instruction after which execution never falls through.
	FlagNoFlow Flags = 1 << iota
	// FlagBranch marks br, br_if and br_table.
	FlagBranch
	// FlagOpensScope marks block, loop and if.
	FlagOpensScope
	// FlagClosesScope marks end.
	FlagClosesScope
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// OpcodeInfo describes one opcode byte.
type OpcodeInfo struct {
	Mnemonic string
	Shape    Shape
	Flags    Flags
}

// OpcodeTable maps opcode bytes to their description. Bytes missing from the
// table are unknown to the decoder.
type OpcodeTable map[byte]OpcodeInfo

// Lookup returns the description of op.
func (t OpcodeTable) Lookup(op byte) (OpcodeInfo, bool) {
	info, ok := t[op]
	return info, ok
}

// Mnemonic returns the text form of op, or a hex placeholder for unknown bytes.
func (t OpcodeTable) Mnemonic(op byte) string {
	if info, ok := t[op]; ok {
		return info.Mnemonic
	}
	return unknownMnemonic(op)
}

// Clone returns an independent copy that callers may extend.
func (t OpcodeTable) Clone() OpcodeTable {
	c := make(OpcodeTable, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

func unknownMnemonic(op byte) string {
	return fmt.Sprintf("<0x%02x>", op)
}

var memoryMnemonics = []string{
	"i32.load", "i64.load", "f32.load", "f64.load",
	"i32.load8_s", "i32.load8_u", "i32.load16_s", "i32.load16_u",
	"i64.load8_s", "i64.load8_u", "i64.load16_s", "i64.load16_u",
	"i64.load32_s", "i64.load32_u",
	"i32.store", "i64.store", "f32.store", "f64.store",
	"i32.store8", "i32.store16", "i64.store8", "i64.store16", "i64.store32",
}

var numericMnemonics = []string{
	"i32.eqz", "i32.eq", "i32.ne", "i32.lt_s", "i32.lt_u", "i32.gt_s", "i32.gt_u",
	"i32.le_s", "i32.le_u", "i32.ge_s", "i32.ge_u",
	"i64.eqz", "i64.eq", "i64.ne", "i64.lt_s", "i64.lt_u", "i64.gt_s", "i64.gt_u",
	"i64.le_s", "i64.le_u", "i64.ge_s", "i64.ge_u",
	"f32.eq", "f32.ne", "f32.lt", "f32.gt", "f32.le", "f32.ge",
	"f64.eq", "f64.ne", "f64.lt", "f64.gt", "f64.le", "f64.ge",
	"i32.clz", "i32.ctz", "i32.popcnt", "i32.add", "i32.sub", "i32.mul",
	"i32.div_s", "i32.div_u", "i32.rem_s", "i32.rem_u", "i32.and", "i32.or",
	"i32.xor", "i32.shl", "i32.shr_s", "i32.shr_u", "i32.rotl", "i32.rotr",
	"i64.clz", "i64.ctz", "i64.popcnt", "i64.add", "i64.sub", "i64.mul",
	"i64.div_s", "i64.div_u", "i64.rem_s", "i64.rem_u", "i64.and", "i64.or",
	"i64.xor", "i64.shl", "i64.shr_s", "i64.shr_u", "i64.rotl", "i64.rotr",
	"f32.abs", "f32.neg", "f32.ceil", "f32.floor", "f32.trunc", "f32.nearest",
	"f32.sqrt", "f32.add", "f32.sub", "f32.mul", "f32.div", "f32.min", "f32.max",
	"f32.copysign",
	"f64.abs", "f64.neg", "f64.ceil", "f64.floor", "f64.trunc", "f64.nearest",
	"f64.sqrt", "f64.add", "f64.sub", "f64.mul", "f64.div", "f64.min", "f64.max",
	"f64.copysign",
	"i32.wrap_i64", "i32.trunc_f32_s", "i32.trunc_f32_u", "i32.trunc_f64_s",
	"i32.trunc_f64_u", "i64.extend_i32_s", "i64.extend_i32_u", "i64.trunc_f32_s",
	"i64.trunc_f32_u", "i64.trunc_f64_s", "i64.trunc_f64_u", "f32.convert_i32_s",
	"f32.convert_i32_u", "f32.convert_i64_s", "f32.convert_i64_u", "f32.demote_f64",
	"f64.convert_i32_s", "f64.convert_i32_u", "f64.convert_i64_s", "f64.convert_i64_u",
	"f64.promote_f32", "i32.reinterpret_f32", "i64.reinterpret_f64",
	"f32.reinterpret_i32", "f64.reinterpret_i64",
	"i32.extend8_s", "i32.extend16_s", "i64.extend8_s", "i64.extend16_s", "i64.extend32_s",
}

// DefaultOpcodes returns the table for the MVP instruction set plus the
// sign-extension operators. Each call returns a fresh table.
func DefaultOpcodes() OpcodeTable {
	t := OpcodeTable{
		OpUnreachable:  {"unreachable", ShapeNone, FlagNoFlow},
		OpNop:          {"nop", ShapeNone, 0},
		OpBlock:        {"block", ShapeBlock, FlagOpensScope},
		OpLoop:         {"loop", ShapeBlock, FlagOpensScope},
		OpIf:           {"if", ShapeBlock, FlagOpensScope},
		OpElse:         {"else", ShapeNone, 0},
		OpEnd:          {"end", ShapeNone, FlagClosesScope},
		OpBr:           {"br", ShapeBranch, FlagBranch},
		OpBrIf:         {"br_if", ShapeBranch, FlagBranch},
		OpBrTable:      {"br_table", ShapeBrTable, FlagBranch},
		OpReturn:       {"return", ShapeNone, FlagNoFlow},
		OpCall:         {"call", ShapeCall, 0},
		OpCallIndirect: {"call_indirect", ShapeCallIndirect, 0},
		OpDrop:         {"drop", ShapeNone, 0},
		OpSelect:       {"select", ShapeNone, 0},
		OpLocalGet:     {"local.get", ShapeLocal, 0},
		OpLocalSet:     {"local.set", ShapeLocal, 0},
		OpLocalTee:     {"local.tee", ShapeLocal, 0},
		OpGlobalGet:    {"global.get", ShapeGlobal, 0},
		OpGlobalSet:    {"global.set", ShapeGlobal, 0},
		OpMemorySize:   {"memory.size", ShapeMemoryReserved, 0},
		OpMemoryGrow:   {"memory.grow", ShapeMemoryReserved, 0},
		OpI32Const:     {"i32.const", ShapeI32, 0},
		OpI64Const:     {"i64.const", ShapeI64, 0},
		OpF32Const:     {"f32.const", ShapeF32, 0},
		OpF64Const:     {"f64.const", ShapeF64, 0},
	}
	for i, m := range memoryMnemonics {
		t[OpI32Load+byte(i)] = OpcodeInfo{Mnemonic: m, Shape: ShapeMemory}
	}
	for i, m := range numericMnemonics {
		t[OpI32Eqz+byte(i)] = OpcodeInfo{Mnemonic: m, Shape: ShapeNone}
	}
	return t
}

// IsMemoryAccess reports whether op is a load or store carrying a memarg.
func IsMemoryAccess(op byte) bool {
	return op >= OpI32Load && op <= OpI64Store32
}
