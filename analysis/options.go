package analysis

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasmflow/wasm"
)

// Options configures a Load.
type Options struct {
	// Logger overrides the package logger for one load.
	Logger *zap.Logger
	// Opcodes is the decoder table; nil selects wasm.DefaultOpcodes.
	Opcodes wasm.OpcodeTable
	// Workers bounds the number of function bodies resolved concurrently.
	// Values below 1 resolve sequentially.
	Workers int
}

// DefaultOptions returns the default load configuration.
func DefaultOptions() Options {
	return Options{
		Workers: 1,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return Logger()
}

func (o Options) opcodes() wasm.OpcodeTable {
	if o.Opcodes != nil {
		return o.Opcodes
	}
	return wasm.DefaultOpcodes()
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}
