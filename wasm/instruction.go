package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/internal/binary"
)

// Instruction is one decoded instruction at an absolute file address.
type Instruction struct {
	// Imm is nil for ShapeNone opcodes.
	Imm     Immediate
	Address uint32
	Length  uint32
	Opcode  byte
}

// Next returns the address of the following instruction.
func (i Instruction) Next() uint32 {
	return i.Address + i.Length
}

// Immediate is the closed set of operand shapes.
type Immediate interface {
	immediate()
}

// BlockImm holds the block type for block, loop, and if.
type BlockImm struct {
	Type int64 // BlockTypeVoid, a negative value type, or a type index
}

// Result returns the single result type, if the block has one.
func (b BlockImm) Result() (ValType, bool) {
	if b.Type == BlockTypeVoid || b.Type >= 0 || b.Type < -64 {
		return 0, false
	}
	return ValType(byte(b.Type & 0x7F)), true
}

// TypeIndex returns the type section index of a multi-value block type.
func (b BlockImm) TypeIndex() (uint32, bool) {
	if b.Type < 0 {
		return 0, false
	}
	return uint32(b.Type), true
}

// BranchImm holds the relative depth for br and br_if.
type BranchImm struct {
	Depth uint32
}

// BrTableImm holds the label table for br_table. The encoded count is not kept.
type BrTableImm struct {
	Targets []uint32
	Default uint32
}

// Depths returns the targets followed by the default.
func (b BrTableImm) Depths() []uint32 {
	out := make([]uint32, 0, len(b.Targets)+1)
	out = append(out, b.Targets...)
	return append(out, b.Default)
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds the type index and the reserved table byte of call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	Reserved uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	Index uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	Index uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Align  uint32
	Offset uint32
}

// MemoryReservedImm holds the reserved byte of memory.size and memory.grow.
type MemoryReservedImm struct {
	Reserved uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bit pattern of an f32.const.
type F32Imm struct {
	Bits uint32
}

// Value converts the bit pattern.
func (f F32Imm) Value() float32 {
	return math.Float32frombits(f.Bits)
}

// F64Imm holds the raw bit pattern of an f64.const.
type F64Imm struct {
	Bits uint64
}

// Value converts the bit pattern.
func (f F64Imm) Value() float64 {
	return math.Float64frombits(f.Bits)
}

func (BlockImm) immediate()          {}
func (BranchImm) immediate()         {}
func (BrTableImm) immediate()        {}
func (CallImm) immediate()           {}
func (CallIndirectImm) immediate()   {}
func (LocalImm) immediate()          {}
func (GlobalImm) immediate()         {}
func (MemoryImm) immediate()         {}
func (MemoryReservedImm) immediate() {}
func (I32Imm) immediate()            {}
func (I64Imm) immediate()            {}
func (F32Imm) immediate()            {}
func (F64Imm) immediate()            {}

// maxBrTableTargets bounds the declared br_table count before allocation.
const maxBrTableTargets = 1 << 20

// DecodeInstruction decodes exactly one instruction at the reader's position.
// The address is the reader's absolute offset. On an unknown opcode the reader
// is left just past the opcode byte.
func DecodeInstruction(table OpcodeTable, r *binary.Reader) (Instruction, error) {
	start := r.Offset()
	addr := uint32(start)

	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	info, ok := table.Lookup(op)
	if !ok {
		return Instruction{}, errors.UnknownOpcode(op, addr)
	}

	instr := Instruction{Address: addr, Opcode: op}
	if instr.Imm, err = decodeImmediate(info.Shape, r); err != nil {
		return Instruction{}, fmt.Errorf("%s at 0x%x: %w", info.Mnemonic, addr, err)
	}
	instr.Length = uint32(r.Offset() - start)
	return instr, nil
}

func decodeImmediate(shape Shape, r *binary.Reader) (Immediate, error) {
	switch shape {
	case ShapeNone:
		return nil, nil
	case ShapeBlock:
		t, err := r.ReadS33()
		if err != nil {
			return nil, err
		}
		return BlockImm{Type: t}, nil
	case ShapeBranch:
		d, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return BranchImm{Depth: d}, nil
	case ShapeBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if count > maxBrTableTargets || int(count) > r.Len() {
			return nil, errors.New(errors.PhaseDecode, errors.KindMalformedModule).
				At(r.Offset()).
				Value(count).
				Detail("br_table count %d exceeds remaining input", count).
				Build()
		}
		targets := make([]uint32, count)
		for i := range targets {
			if targets[i], err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return BrTableImm{Targets: targets, Default: def}, nil
	case ShapeCall:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return CallImm{FuncIdx: idx}, nil
	case ShapeCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		reserved, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return CallIndirectImm{TypeIdx: typeIdx, Reserved: reserved}, nil
	case ShapeLocal:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return LocalImm{Index: idx}, nil
	case ShapeGlobal:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return GlobalImm{Index: idx}, nil
	case ShapeMemory:
		align, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		offset, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return MemoryImm{Align: align, Offset: offset}, nil
	case ShapeMemoryReserved:
		reserved, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return MemoryReservedImm{Reserved: reserved}, nil
	case ShapeI32:
		v, err := r.ReadS32()
		if err != nil {
			return nil, err
		}
		return I32Imm{Value: v}, nil
	case ShapeI64:
		v, err := r.ReadS64()
		if err != nil {
			return nil, err
		}
		return I64Imm{Value: v}, nil
	case ShapeF32:
		bits, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		return F32Imm{Bits: bits}, nil
	case ShapeF64:
		bits, err := r.ReadU64LE()
		if err != nil {
			return nil, err
		}
		return F64Imm{Bits: bits}, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseDecode, fmt.Sprintf("unhandled operand shape %s", shape))
	}
}

// DecodeBody decodes every instruction of a code span starting at the
// absolute address base. On failure the instructions decoded so far are
// returned together with the error.
func DecodeBody(table OpcodeTable, code []byte, base uint32) ([]Instruction, error) {
	r := binary.NewReaderAt(code, int64(base))
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		instr, err := DecodeInstruction(table, r)
		if err != nil {
			return instrs, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

// DecodeAt decodes the single instruction at an absolute offset of data.
func DecodeAt(table OpcodeTable, data []byte, addr uint32) (Instruction, error) {
	if int(addr) >= len(data) {
		return Instruction{}, errors.Truncated(int64(addr), 1, 0)
	}
	return DecodeInstruction(table, binary.NewReaderAt(data[addr:], int64(addr)))
}

// decodeInitExpr decodes a constant expression up to and including its end.
func decodeInitExpr(table OpcodeTable, r *binary.Reader) ([]Instruction, error) {
	var instrs []Instruction
	for {
		instr, err := DecodeInstruction(table, r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		if instr.Opcode == OpEnd {
			return instrs, nil
		}
	}
}
