package wasmflow

import (
	"fmt"
	"os"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

// Navigator is the read-only query surface that rendering and navigation
// layers consume. Every lookup that can miss returns a typed error.
type Navigator interface {
	Section(id wasm.SectionID) (*wasm.Section, error)
	Function(index uint32) (*wasm.Function, error)
	FunctionContaining(addr uint32) (*wasm.Function, error)
	Global(index uint32) (*wasm.Global, error)
	DataSegmentContaining(memAddr uint32) (*wasm.DataSegment, error)
	DecodeInstructionAt(addr uint32) (wasm.Instruction, error)
	EdgesFor(addr uint32) []flow.Edge
	BlockFor(addr uint32) (*flow.Block, error)
}

var _ Navigator = (*analysis.Analysis)(nil)

// Load analyzes a module held in memory.
func Load(data []byte, opts analysis.Options) (*analysis.Analysis, error) {
	return analysis.Load(data, opts)
}

// LoadFile reads and analyzes a module from disk.
func LoadFile(path string, opts analysis.Options) (*analysis.Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return analysis.Load(data, opts)
}
