package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/internal/wasmtest"
	"github.com/wippyai/wasmflow/wasm"
)

func load(t *testing.T, data []byte) *analysis.Analysis {
	t.Helper()
	a, err := analysis.Load(data, analysis.DefaultOptions())
	require.NoError(t, err)
	return a
}

func TestLoadBadHeader(t *testing.T) {
	_, err := analysis.Load([]byte{0x00, 0x61, 0x73}, analysis.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindMalformedModule))
}

func TestLoadImportedAndExported(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "a", void).
		ImportFunc("env", "b", void).
		Func(void, nil, wasmtest.Nop, wasmtest.End).
		Export("main", wasm.KindFunc, 2)
	a := load(t, b.Bytes())
	require.Empty(t, a.Diagnostics())

	fn, err := a.Function(2)
	require.NoError(t, err)
	name, ok := fn.ExportedName()
	require.True(t, ok)
	assert.Equal(t, "main", name)

	imp, err := a.Function(0)
	require.NoError(t, err)
	assert.True(t, imp.Imported)
	_, err = a.Flow(0)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "imports have no flow")

	got, err := a.FunctionContaining(fn.Offset + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.Index)
	assert.True(t, a.IsFunctionStart(fn.Offset))
	assert.False(t, a.IsFunctionStart(fn.Offset+1))

	_, err = a.FunctionContaining(fn.End())
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = a.Function(3)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	assert.Equal(t, []analysis.Entry{{Name: "main", Offset: fn.Offset, Index: 2}}, a.Entries())
}

func TestLoadIsolatesFunctionFailures(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.Block(), wasmtest.Br(0), wasmtest.End, wasmtest.End).
		Func(void, nil, wasmtest.Block(), wasmtest.Br(3), wasmtest.End, wasmtest.End).
		Func(void, nil, []byte{0xFF}, wasmtest.End).
		Func(void, nil, wasmtest.Nop, wasmtest.End)
	a := load(t, b.Bytes())

	diags := a.Diagnostics()
	require.Len(t, diags, 2)

	assert.Equal(t, errors.KindInvalidBranchDepth, diags[0].Kind)
	assert.Equal(t, int64(1), diags[0].Function)
	assert.Equal(t, "code", diags[0].Section)
	bad, _ := a.Function(1)
	assert.Equal(t, int64(bad.Offset+2), diags[0].Offset)

	assert.Equal(t, errors.KindUnknownOpcode, diags[1].Kind)
	assert.Equal(t, int64(2), diags[1].Function)

	for _, idx := range []uint32{0, 3} {
		ff, err := a.Flow(idx)
		require.NoError(t, err, "function %d", idx)
		assert.NotZero(t, ff.Graph.Len())
		assert.NotEmpty(t, a.EdgesFor(ff.Function.Offset))
	}

	assert.Nil(t, a.EdgesFor(bad.Offset))
	_, err := a.BlockFor(bad.Offset)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	got, err := a.FunctionContaining(bad.Offset)
	require.NoError(t, err, "failed functions stay addressable")
	assert.Equal(t, uint32(1), got.Index)
}

func TestLoadCorruptLocalsReportedOnce(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "f", void).
		Func(void, nil, wasmtest.End).
		Func(void, nil, wasmtest.End).
		Override(wasm.SectionCode, []byte{
			0x02,
			0x02, 0x00, wasm.OpEnd,
			0x01, 0x05,
		})
	a := load(t, b.Bytes())

	require.Len(t, a.Diagnostics(), 1)
	d := a.Diagnostics()[0]
	assert.Equal(t, errors.KindMalformedModule, d.Kind)
	assert.Equal(t, int64(2), d.Function)

	_, err := a.Flow(1)
	assert.NoError(t, err)
	_, err = a.Flow(2)
	assert.Error(t, err)
}

func TestLoadWorkersMatchSequential(t *testing.T) {
	b := wasmtest.New()
	sig := b.Type([]wasm.ValType{wasm.ValI32}, nil)
	for i := 0; i < 20; i++ {
		b.Func(sig, nil,
			wasmtest.Block(), wasmtest.Loop(),
			wasmtest.LocalGet(0), wasmtest.BrTable([]uint32{0, 1}, uint32(i%3)),
			wasmtest.End, wasmtest.End, wasmtest.End)
	}
	data := b.Bytes()

	seq, err := analysis.Load(data, analysis.Options{Workers: 1})
	require.NoError(t, err)
	par, err := analysis.Load(data, analysis.Options{Workers: 8})
	require.NoError(t, err)

	require.Equal(t, seq.Diagnostics(), par.Diagnostics())
	for i := uint32(0); i < 20; i++ {
		s, err := seq.Flow(i)
		require.NoError(t, err)
		p, err := par.Flow(i)
		require.NoError(t, err)
		assert.Equal(t, s.Resolution, p.Resolution)
		assert.Equal(t, s.Graph.Edges(), p.Graph.Edges())
	}
}

func TestLoadLogsDiagnostics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.Br(5), wasmtest.End).
		Func(void, nil, wasmtest.End)

	a, err := analysis.Load(b.Bytes(), analysis.Options{Logger: zap.New(core)})
	require.NoError(t, err)
	require.Len(t, a.Diagnostics(), 1)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, string(errors.KindInvalidBranchDepth), warns[0].ContextMap()["kind"])
	assert.Equal(t, 1, logs.FilterMessage("resolved function").Len())
	assert.Equal(t, 1, logs.FilterMessage("parsing module").Len())
}

func TestLoadCustomOpcodeTable(t *testing.T) {
	table := wasm.DefaultOpcodes()
	table[0xFC] = wasm.OpcodeInfo{Mnemonic: "trap", Flags: wasm.FlagNoFlow}

	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.Block(), []byte{0xFC}, wasmtest.Nop, wasmtest.End, wasmtest.End)
	data := b.Bytes()

	a, err := analysis.Load(data, analysis.Options{Opcodes: table})
	require.NoError(t, err)
	require.Empty(t, a.Diagnostics())
	fn, _ := a.Function(0)
	assert.True(t, a.IsNoFlow(fn.Offset+2))
	assert.Empty(t, a.EdgesFor(fn.Offset+2))

	in, err := a.DecodeInstructionAt(fn.Offset + 2)
	require.NoError(t, err)
	assert.Equal(t, "trap", a.Opcodes().Mnemonic(in.Opcode))

	plain := load(t, data)
	require.Len(t, plain.Diagnostics(), 1)
	assert.Equal(t, errors.KindUnknownOpcode, plain.Diagnostics()[0].Kind)
}

func TestDiagnosticString(t *testing.T) {
	d := analysis.Diagnostic{
		Err:      errors.InvalidBranchDepth(0x20, 4, 1),
		Kind:     errors.KindInvalidBranchDepth,
		Section:  "code",
		Function: 3,
		Offset:   0x20,
	}
	assert.Contains(t, d.String(), "invalid_branch_depth section=code func=3 offset=0x20: ")

	d = analysis.Diagnostic{
		Err:      errors.SectionNotFound("code"),
		Kind:     errors.KindSectionNotFound,
		Function: analysis.NoFunction,
		Offset:   errors.NoOffset,
	}
	assert.NotContains(t, d.String(), "func=")
	assert.NotContains(t, d.String(), "offset=")
}

func TestLoadMissingCodeSection(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.End)
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	code, ok := m.Section(wasm.SectionCode)
	require.True(t, ok)

	a := load(t, data[:code.Offset])
	require.Len(t, a.Diagnostics(), 1)
	assert.Equal(t, errors.KindSectionNotFound, a.Diagnostics()[0].Kind)
	assert.Empty(t, a.Module().Functions)
	assert.Nil(t, a.EdgesFor(code.Offset))
	_, err = a.Section(wasm.SectionCode)
	assert.True(t, errors.IsKind(err, errors.KindSectionNotFound))
	_, err = a.Section(wasm.SectionFunction)
	assert.NoError(t, err)
}

func TestBlockQueries(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.Block(), wasmtest.I32Const(0), wasmtest.BrIf(0), wasmtest.End, wasmtest.End)
	a := load(t, b.Bytes())
	fn, _ := a.Function(0)
	at := func(d uint32) uint32 { return fn.Offset + d }

	blk, err := a.BlockFor(at(0))
	require.NoError(t, err)
	assert.Equal(t, flow.KindBlock, blk.Kind)
	assert.Equal(t, at(7), blk.End)

	closing, err := a.BlockFor(at(6))
	require.NoError(t, err)
	assert.Equal(t, blk.Index, closing.Index)

	fnScope, err := a.BlockFor(at(7))
	require.NoError(t, err)
	assert.Equal(t, flow.KindFunction, fnScope.Kind)

	_, err = a.BlockFor(at(2))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	assert.Equal(t, []flow.Target{{Block: 1, Depth: 0}}, a.TargetsFor(at(4)))
	assert.Equal(t, []flow.Edge{
		{From: at(6), To: at(7), Kind: flow.CondJump},
		{From: at(6), To: at(7), Kind: flow.Fallthrough},
	}, a.EdgesFor(at(6)))
	assert.True(t, a.IsNoFlow(at(7)))
	assert.False(t, a.IsNoFlow(at(6)))
	assert.False(t, a.IsNoFlow(0))
}

func TestDecodeInstructionAt(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.I32Const(1000), wasmtest.Drop, wasmtest.End)
	data := b.Bytes()
	a := load(t, data)
	fn, _ := a.Function(0)

	in, err := a.DecodeInstructionAt(fn.Offset)
	require.NoError(t, err)
	assert.Equal(t, wasm.I32Imm{Value: 1000}, in.Imm)
	assert.Equal(t, fn.Offset, in.Address)

	// the round trip over the whole body consumes exactly its code
	var total uint32
	for addr := fn.Offset; addr < fn.End(); {
		in, err := a.DecodeInstructionAt(addr)
		require.NoError(t, err)
		total += in.Length
		addr = in.Next()
	}
	assert.Equal(t, fn.Size, total)

	_, err = a.DecodeInstructionAt(uint32(len(data)))
	assert.True(t, errors.IsKind(err, errors.KindTruncated))
}
