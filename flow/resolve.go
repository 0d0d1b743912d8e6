package flow

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/wasm"
)

// BlockKind is the kind of structured scope a Block records.
type BlockKind uint8

const (
	KindFunction BlockKind = iota
	KindBlock
	KindLoop
	KindIf
)

func (k BlockKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindBlock:
		return "block"
	case KindLoop:
		return "loop"
	case KindIf:
		return "if"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FunctionScope is the arena index of the implicit function-level scope.
const FunctionScope uint32 = 0

// Block is one structured scope. Blocks live in an append-only arena and are
// referenced by index; End and Else are back-filled by the resolving pass.
type Block struct {
	// TableTargets holds the distinct br_table depths that resolved to this block.
	TableTargets []uint32
	Index        uint32
	// Start is the address of the opening instruction, or the function's
	// first instruction for the function scope.
	Start uint32
	// End is the address after the matching end, or the address of the
	// final end for the function scope.
	End uint32
	// Else is the address after the else instruction of an if.
	Else    uint32
	Depth   uint32
	Kind    BlockKind
	HasEnd  bool
	HasElse bool
}

// Label names the block for display: $block3, $loop1, $if2, $func.
func (b *Block) Label() string {
	if b.Kind == KindFunction {
		return "$func"
	}
	return fmt.Sprintf("$%s%d", b.Kind, b.Index)
}

// BranchTarget is the address a branch to this block transfers control to:
// the start of a loop, the end of anything else.
func (b *Block) BranchTarget() uint32 {
	if b.Kind == KindLoop {
		return b.Start
	}
	return b.End
}

// Target is one resolved entry of the branch target map. Self entries name the
// scope an instruction opens, splits or closes; the others name the scope a
// branch at that relative depth leaves.
type Target struct {
	Block uint32
	Depth uint32
	Self  bool
}

// Resolution is the structured control flow of one function body.
type Resolution struct {
	Targets map[uint32][]Target
	Blocks  []Block
	// Instructions ends at the function-terminating end.
	Instructions []wasm.Instruction
	Start        uint32
	End          uint32
}

// Block returns the arena entry at index i.
func (r *Resolution) Block(i uint32) *Block {
	return &r.Blocks[i]
}

// Function returns the implicit function scope.
func (r *Resolution) Function() *Block {
	return &r.Blocks[FunctionScope]
}

// TargetsAt returns the branch target map entries recorded at addr.
func (r *Resolution) TargetsAt(addr uint32) []Target {
	return r.Targets[addr]
}

// BlockAt returns the scope that the instruction at addr opens, splits or closes.
func (r *Resolution) BlockAt(addr uint32) (*Block, bool) {
	for _, t := range r.Targets[addr] {
		if t.Self {
			return &r.Blocks[t.Block], true
		}
	}
	return nil, false
}

// Destination returns the address a target transfers control to.
func (r *Resolution) Destination(t Target) uint32 {
	return r.Blocks[t.Block].BranchTarget()
}

// InstructionAt returns the instruction that starts exactly at addr.
func (r *Resolution) InstructionAt(addr uint32) (wasm.Instruction, bool) {
	i := sort.Search(len(r.Instructions), func(i int) bool {
		return r.Instructions[i].Address >= addr
	})
	if i < len(r.Instructions) && r.Instructions[i].Address == addr {
		return r.Instructions[i], true
	}
	return wasm.Instruction{}, false
}

type resolver struct {
	res   *Resolution
	stack []uint32
}

// Resolve runs the single forward pass over one function body starting at
// start. Relative depths count from the innermost open scope at the branch;
// a depth equal to the number of open scopes names the function scope.
func Resolve(start uint32, instrs []wasm.Instruction) (*Resolution, error) {
	rv := &resolver{
		res: &Resolution{
			Start:   start,
			Targets: make(map[uint32][]Target),
			Blocks:  []Block{{Index: FunctionScope, Kind: KindFunction, Start: start}},
		},
	}

	for i, in := range instrs {
		done, err := rv.step(in)
		if err != nil {
			return nil, err
		}
		if !done {
			continue
		}
		if i != len(instrs)-1 {
			return nil, errors.New(errors.PhaseResolve, errors.KindMalformedModule).
				At(int64(in.Next())).
				Detail("%d instructions after the function end", len(instrs)-1-i).
				Build()
		}
		rv.res.Instructions = instrs[:i+1]
		return rv.res, nil
	}

	return nil, errors.New(errors.PhaseResolve, errors.KindMalformedModule).
		At(int64(start)).
		Value(len(rv.stack)).
		Detail("function body not terminated, %d scopes open", len(rv.stack)).
		Build()
}

func (rv *resolver) step(in wasm.Instruction) (bool, error) {
	res := rv.res
	switch in.Opcode {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		idx := uint32(len(res.Blocks))
		res.Blocks = append(res.Blocks, Block{
			Index: idx,
			Kind:  scopeKind(in.Opcode),
			Start: in.Address,
			Depth: uint32(len(rv.stack)),
		})
		rv.stack = append(rv.stack, idx)
		rv.self(in.Address, idx)

	case wasm.OpElse:
		idx, ok := rv.innermostIf()
		if !ok {
			return false, errors.InvalidBranchDepth(in.Address, 0, uint32(len(rv.stack)))
		}
		blk := &res.Blocks[idx]
		blk.Else = in.Next()
		blk.HasElse = true
		rv.self(in.Address, idx)

	case wasm.OpBr, wasm.OpBrIf:
		imm, ok := in.Imm.(wasm.BranchImm)
		if !ok {
			return false, errors.InvalidInput(errors.PhaseResolve,
				fmt.Sprintf("branch at 0x%x without a depth immediate", in.Address))
		}
		idx, err := rv.lookup(in.Address, imm.Depth)
		if err != nil {
			return false, err
		}
		res.Targets[in.Address] = append(res.Targets[in.Address], Target{Block: idx, Depth: imm.Depth})

	case wasm.OpBrTable:
		imm, ok := in.Imm.(wasm.BrTableImm)
		if !ok {
			return false, errors.InvalidInput(errors.PhaseResolve,
				fmt.Sprintf("br_table at 0x%x without a label table", in.Address))
		}
		seen := make(map[uint32]bool)
		for _, depth := range imm.Depths() {
			idx, err := rv.lookup(in.Address, depth)
			if err != nil {
				return false, err
			}
			if seen[depth] {
				continue
			}
			seen[depth] = true
			res.Targets[in.Address] = append(res.Targets[in.Address], Target{Block: idx, Depth: depth})
			blk := &res.Blocks[idx]
			if !containsDepth(blk.TableTargets, depth) {
				blk.TableTargets = append(blk.TableTargets, depth)
			}
		}

	case wasm.OpEnd:
		if len(rv.stack) == 0 {
			fn := res.Function()
			fn.End = in.Address
			fn.HasEnd = true
			res.End = in.Address
			rv.self(in.Address, FunctionScope)
			return true, nil
		}
		idx := rv.stack[len(rv.stack)-1]
		rv.stack = rv.stack[:len(rv.stack)-1]
		blk := &res.Blocks[idx]
		blk.End = in.Next()
		blk.HasEnd = true
		rv.self(in.Address, idx)
	}
	return false, nil
}

func (rv *resolver) self(addr, idx uint32) {
	rv.res.Targets[addr] = append(rv.res.Targets[addr], Target{Block: idx, Self: true})
}

// lookup indexes the scope stack from the top.
func (rv *resolver) lookup(addr, depth uint32) (uint32, error) {
	n := uint32(len(rv.stack))
	switch {
	case depth < n:
		return rv.stack[n-1-depth], nil
	case depth == n:
		return FunctionScope, nil
	default:
		return 0, errors.InvalidBranchDepth(addr, depth, n)
	}
}

func (rv *resolver) innermostIf() (uint32, bool) {
	for i := len(rv.stack) - 1; i >= 0; i-- {
		if idx := rv.stack[i]; rv.res.Blocks[idx].Kind == KindIf {
			return idx, true
		}
	}
	return 0, false
}

func scopeKind(op byte) BlockKind {
	switch op {
	case wasm.OpLoop:
		return KindLoop
	case wasm.OpIf:
		return KindIf
	default:
		return KindBlock
	}
}

func containsDepth(depths []uint32, d uint32) bool {
	for _, x := range depths {
		if x == d {
			return true
		}
	}
	return false
}
