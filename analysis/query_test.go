package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/internal/wasmtest"
	"github.com/wippyai/wasmflow/wasm"
)

func TestGlobalQueries(t *testing.T) {
	b := wasmtest.New()
	b.ImportGlobal("env", "STACKTOP", wasm.ValI32, false).
		Global(wasm.ValI32, true, wasmtest.GlobalGet(0)).
		Global(wasm.ValI64, false, wasmtest.I64Const(7))
	a := load(t, b.Bytes())

	imp, err := a.Global(0)
	require.NoError(t, err)
	assert.True(t, imp.Imported)
	assert.Equal(t, "env.STACKTOP", imp.Name)

	alias, err := a.Global(1)
	require.NoError(t, err)
	require.NotNil(t, alias.AliasOf)
	assert.Equal(t, uint32(0), *alias.AliasOf)
	assert.Equal(t, "_env.STACKTOP", alias.Name)

	plain, err := a.Global(2)
	require.NoError(t, err)
	assert.Equal(t, "global_2", plain.Name)

	_, err = a.Global(3)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDataSegmentContaining(t *testing.T) {
	b := wasmtest.New()
	b.Data(0x1000, []byte{1, 2, 3, 4}).
		Data(0x400, make([]byte, 16)).
		Data(0x400, make([]byte, 32))
	a := load(t, b.Bytes())
	segs := a.Module().Data
	require.Len(t, segs, 3)

	tests := []struct {
		addr  uint32
		index uint32
		found bool
	}{
		{0x3ff, 0, false},
		{0x400, 1, true},
		{0x40f, 1, true},
		{0x410, 2, true},
		{0x41f, 2, true},
		{0x420, 0, false},
		{0x1003, 0, true},
		{0x1004, 0, false},
	}
	for _, tt := range tests {
		seg, err := a.DataSegmentContaining(tt.addr)
		if !tt.found {
			assert.True(t, errors.IsKind(err, errors.KindNotFound), "0x%x", tt.addr)
			continue
		}
		require.NoError(t, err, "0x%x", tt.addr)
		assert.Equal(t, tt.index, seg.Index, "0x%x", tt.addr)
	}
}

func TestRefs(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportGlobal("env", "g", wasm.ValI32, true).
		Global(wasm.ValI32, true, wasmtest.I32Const(0)).
		Data(0x400, make([]byte, 16)).
		Func(void, nil,
			wasmtest.GlobalGet(0),      // +0
			wasmtest.GlobalSet(1),      // +2
			wasmtest.I32Const(0x404),   // +4
			wasmtest.I32Load(2, 0x410), // +7
			wasmtest.Drop,              // +11
			wasmtest.I32Const(5),       // +12
			wasmtest.GlobalGet(9),      // +14
			wasmtest.Drop,              // +16
			wasmtest.End)
	a := load(t, b.Bytes())
	require.Empty(t, a.Diagnostics())

	fn, _ := a.Function(0)
	at := func(d uint32) uint32 { return fn.Offset + d }
	g0, _ := a.Global(0)
	g1, _ := a.Global(1)
	seg, _ := a.DataSegmentContaining(0x400)

	assert.Equal(t, []analysis.Ref{{From: at(0), To: g0.Offset, Index: 0, Kind: analysis.RefRead}}, a.RefsFor(at(0)))
	assert.Equal(t, []analysis.Ref{{From: at(2), To: g1.Offset, Index: 1, Kind: analysis.RefWrite}}, a.RefsFor(at(2)))
	assert.Equal(t, []analysis.Ref{{From: at(4), To: seg.ContentAddress + 4, Kind: analysis.RefData}}, a.RefsFor(at(4)))
	assert.Equal(t, []analysis.Ref{{From: at(7), To: seg.ContentAddress + 16, Kind: analysis.RefData}}, a.RefsFor(at(7)),
		"one past the segment end still refers to it")
	assert.Empty(t, a.RefsFor(at(12)))
	assert.Empty(t, a.RefsFor(at(14)), "unknown global")
	assert.Equal(t, "write", analysis.RefWrite.String())
}

func TestEntries(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "imported", void).
		Func(void, nil, wasmtest.End).
		Func(void, nil, wasmtest.End).
		Func(void, nil, wasmtest.End).
		Export("run", wasm.KindFunc, 3).
		Export("imported_again", wasm.KindFunc, 0).
		Start(1)
	a := load(t, b.Bytes())

	f1, _ := a.Function(1)
	f3, _ := a.Function(3)
	assert.Equal(t, []analysis.Entry{
		{Name: "$func1", Offset: f1.Offset, Index: 1, Start: true},
		{Name: "run", Offset: f3.Offset, Index: 3},
	}, a.Entries())
}

func TestTypeQueries(t *testing.T) {
	b := wasmtest.New()
	b.Type([]wasm.ValType{wasm.ValI32, wasm.ValI64}, []wasm.ValType{wasm.ValF32})
	b.Type(nil, nil)
	a := load(t, b.Bytes())

	require.Len(t, a.Types(), 2)
	ft, err := a.Type(0)
	require.NoError(t, err)
	assert.Equal(t, "(i32, i64) -> f32", ft.String())

	_, err = a.Type(2)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSectionQuery(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.End).Custom("name", []byte{0x00})
	a := load(t, b.Bytes())

	code, err := a.Section(wasm.SectionCode)
	require.NoError(t, err)
	assert.Equal(t, wasm.SectionCode, code.ID)

	custom, err := a.Section(wasm.SectionCustom)
	require.NoError(t, err)
	assert.Equal(t, "name", custom.Name)

	_, err = a.Section(wasm.SectionData)
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindSectionNotFound, e.Kind)
	assert.Equal(t, errors.PhaseQuery, e.Phase)

	_, err = a.Section(wasm.SectionHeader)
	assert.Error(t, err)
}
