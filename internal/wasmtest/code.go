package wasmtest

import (
	"github.com/wippyai/wasmflow/internal/binary"
	"github.com/wippyai/wasmflow/wasm"
)

// Code concatenates encoded instructions.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Op encodes an opcode with no immediates.
func Op(op byte) []byte {
	return []byte{op}
}

func withU32(op byte, vals ...uint32) []byte {
	w := binary.NewWriter()
	w.Byte(op)
	for _, v := range vals {
		w.WriteU32(v)
	}
	return w.Bytes()
}

// Instruction encoders for the shapes tests need.
var (
	Unreachable = Op(wasm.OpUnreachable)
	Nop         = Op(wasm.OpNop)
	Else        = Op(wasm.OpElse)
	End         = Op(wasm.OpEnd)
	Return      = Op(wasm.OpReturn)
	Drop        = Op(wasm.OpDrop)
	I32Add      = Op(wasm.OpI32Add)
)

// Block opens a block with no result.
func Block() []byte { return []byte{wasm.OpBlock, 0x40} }

// Loop opens a loop with no result.
func Loop() []byte { return []byte{wasm.OpLoop, 0x40} }

// If opens an if with no result.
func If() []byte { return []byte{wasm.OpIf, 0x40} }

// BlockOf opens a block with a single result type.
func BlockOf(t wasm.ValType) []byte { return []byte{wasm.OpBlock, byte(t)} }

// Br encodes br.
func Br(depth uint32) []byte { return withU32(wasm.OpBr, depth) }

// BrIf encodes br_if.
func BrIf(depth uint32) []byte { return withU32(wasm.OpBrIf, depth) }

// BrTable encodes br_table.
func BrTable(targets []uint32, def uint32) []byte {
	vals := append([]uint32{uint32(len(targets))}, targets...)
	return withU32(wasm.OpBrTable, append(vals, def)...)
}

// Call encodes call.
func Call(idx uint32) []byte { return withU32(wasm.OpCall, idx) }

// CallIndirect encodes call_indirect with table 0.
func CallIndirect(typeIdx uint32) []byte { return withU32(wasm.OpCallIndirect, typeIdx, 0) }

// LocalGet encodes local.get.
func LocalGet(idx uint32) []byte { return withU32(wasm.OpLocalGet, idx) }

// GlobalGet encodes global.get.
func GlobalGet(idx uint32) []byte { return withU32(wasm.OpGlobalGet, idx) }

// GlobalSet encodes global.set.
func GlobalSet(idx uint32) []byte { return withU32(wasm.OpGlobalSet, idx) }

// I32Load encodes i32.load.
func I32Load(align, offset uint32) []byte { return withU32(wasm.OpI32Load, align, offset) }

// MemoryGrow encodes memory.grow.
func MemoryGrow() []byte { return []byte{wasm.OpMemoryGrow, 0x00} }

// I32Const encodes i32.const.
func I32Const(v int32) []byte {
	w := binary.NewWriter()
	w.Byte(wasm.OpI32Const)
	w.WriteS32(v)
	return w.Bytes()
}

// I64Const encodes i64.const.
func I64Const(v int64) []byte {
	w := binary.NewWriter()
	w.Byte(wasm.OpI64Const)
	w.WriteS64(v)
	return w.Bytes()
}

// F32Const encodes f32.const from raw bits.
func F32Const(bits uint32) []byte {
	w := binary.NewWriter()
	w.Byte(wasm.OpF32Const)
	w.WriteU32LE(bits)
	return w.Bytes()
}

// F64Const encodes f64.const from raw bits.
func F64Const(bits uint64) []byte {
	w := binary.NewWriter()
	w.Byte(wasm.OpF64Const)
	w.WriteU64LE(bits)
	return w.Bytes()
}
