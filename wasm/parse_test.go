package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/internal/wasmtest"
	"github.com/wippyai/wasmflow/wasm"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short magic", []byte{0x00, 0x61}},
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}},
		{"short version", []byte{0x00, 0x61, 0x73, 0x6d, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Parse(tt.data)
			require.Error(t, err)
			e, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, "header", e.Section)
		})
	}
}

func TestParseEmptyModule(t *testing.T) {
	m, err := wasm.Parse(wasmtest.New().Bytes())
	require.NoError(t, err)
	require.Len(t, m.Sections, 1)
	assert.Equal(t, wasm.SectionHeader, m.Sections[0].ID)
	assert.Equal(t, uint32(0), m.Sections[0].Offset)
	assert.Len(t, m.Sections[0].Payload, wasm.HeaderSize)
	assert.Empty(t, m.Functions)
	assert.Empty(t, m.Globals)
	assert.Empty(t, m.Errors)

	_, ok := m.Section(wasm.SectionHeader)
	assert.False(t, ok, "header is never matched by id")
	_, ok = m.Section(wasm.SectionCode)
	assert.False(t, ok)
}

func TestParseCombinedFunctionIndexSpace(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "a", void).
		ImportFunc("env", "b", void).
		Func(void, nil, wasmtest.End).
		Export("main", wasm.KindFunc, 2)
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Functions, 3)
	assert.Equal(t, uint32(2), m.NumImportedFuncs())

	for i, name := range []string{"a", "b"} {
		fn, ok := m.Function(uint32(i))
		require.True(t, ok)
		assert.True(t, fn.Imported)
		assert.Equal(t, "env", fn.Module)
		assert.Equal(t, name, fn.Name)
		_, exported := fn.ExportedName()
		assert.False(t, exported)
	}

	fn, ok := m.Function(2)
	require.True(t, ok)
	assert.False(t, fn.Imported)
	assert.Equal(t, uint32(2), fn.Index)
	name, exported := fn.ExportedName()
	assert.True(t, exported)
	assert.Equal(t, "main", name)
	assert.Equal(t, wasmtest.End, data[fn.Offset:fn.End()])

	_, ok = m.Function(3)
	assert.False(t, ok)
}

func TestParseFunctionBodies(t *testing.T) {
	b := wasmtest.New()
	sig := b.Type([]wasm.ValType{wasm.ValI32, wasm.ValI64}, []wasm.ValType{wasm.ValI32})
	body := wasmtest.Code(wasmtest.LocalGet(0), wasmtest.Block(), wasmtest.Br(0), wasmtest.End, wasmtest.End)
	b.Func(sig, []wasmtest.Local{{N: 2, Type: wasm.ValF32}, {N: 1, Type: wasm.ValI32}}, body).
		Func(sig, nil, wasmtest.LocalGet(0), wasmtest.End)
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Functions, 2)

	fn := m.Functions[0]
	assert.Equal(t, "$func0", fn.Name)
	assert.Equal(t, uint32(len(body)), fn.Size)
	assert.Equal(t, body, data[fn.Offset:fn.End()])
	assert.Equal(t, []wasm.ValType{wasm.ValF32, wasm.ValF32, wasm.ValI32}, fn.Locals)
	assert.Equal(t, "(i32, i64) -> i32", fn.Type.String())
	assert.Equal(t, "$param1", fn.LocalName(1))
	assert.Equal(t, "$local2", fn.LocalName(2))

	lt, ok := fn.LocalType(4)
	require.True(t, ok)
	assert.Equal(t, wasm.ValI32, lt)
	_, ok = fn.LocalType(5)
	assert.False(t, ok)

	assert.True(t, fn.Contains(fn.Offset))
	assert.True(t, fn.Contains(fn.End()-1))
	assert.False(t, fn.Contains(fn.End()))
	assert.Equal(t, "$func1", m.Functions[1].Name)
	assert.Greater(t, m.Functions[1].Offset, fn.End())
}

func TestParseGlobals(t *testing.T) {
	b := wasmtest.New()
	b.ImportGlobal("env", "STACKTOP", wasm.ValI32, false).
		Global(wasm.ValI32, true, wasmtest.GlobalGet(0)).
		Global(wasm.ValI64, false, wasmtest.I64Const(5)).
		Global(wasm.ValI32, false, wasmtest.GlobalGet(1))
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Globals, 4)
	assert.Equal(t, uint32(1), m.NumImportedGlobals())

	imported := m.Globals[0]
	assert.True(t, imported.Imported)
	assert.Equal(t, "env.STACKTOP", imported.Name)
	assert.Equal(t, m.Imports[0].Offset, imported.Offset)
	assert.Nil(t, imported.AliasOf)

	alias := m.Globals[1]
	assert.Equal(t, "_env.STACKTOP", alias.Name)
	require.NotNil(t, alias.AliasOf)
	assert.Equal(t, uint32(0), *alias.AliasOf)
	assert.True(t, alias.Mutable)
	assert.Equal(t, wasm.OpGlobalGet, data[alias.Offset])

	plain := m.Globals[2]
	assert.Equal(t, "global_2", plain.Name)
	assert.Equal(t, wasm.ValI64, plain.Type)
	assert.Nil(t, plain.AliasOf)
	require.Len(t, plain.Init, 2)
	assert.Equal(t, wasm.I64Imm{Value: 5}, plain.Init[0].Imm)

	// one hop: the name is built from the alias name, not the import's
	chained := m.Globals[3]
	assert.Equal(t, "__env.STACKTOP", chained.Name)
	assert.Equal(t, uint32(1), *chained.AliasOf)
}

func TestParseGlobalForwardReferenceIsNotAliased(t *testing.T) {
	b := wasmtest.New()
	b.Global(wasm.ValI32, false, wasmtest.GlobalGet(1)).
		Global(wasm.ValI32, false, wasmtest.I32Const(0))

	m, err := wasm.Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, m.Globals, 2)
	assert.Equal(t, "global_0", m.Globals[0].Name)
	assert.Nil(t, m.Globals[0].AliasOf)
}

func TestParseDataSegments(t *testing.T) {
	b := wasmtest.New()
	b.Data(0x1000, []byte("hello")).
		Data(0x2000, []byte("xy"))
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Data, 2)

	first, second := m.Data[0], m.Data[1]
	assert.Equal(t, uint32(0x1000), first.MemoryOffset)
	assert.Equal(t, uint32(5), first.Length)
	assert.Equal(t, []byte("hello"), data[first.ContentAddress:first.ContentAddress+first.Length])
	assert.Equal(t, []byte("hello"), first.Bytes)
	assert.Greater(t, second.ContentAddress, first.ContentAddress)
	assert.Equal(t, uint32(1), second.Index)

	assert.True(t, first.Contains(0x1000))
	assert.True(t, first.Contains(0x1004))
	assert.False(t, first.Contains(0x1005))
	assert.Equal(t, first.ContentAddress+2, first.FileAddress(0x1002))
}

func TestParseDataNonConstantOffset(t *testing.T) {
	w := wasmtest.Code([]byte{0x01, 0x00}, wasmtest.GlobalGet(0), wasmtest.End, []byte{0x01, 'z'})
	m, err := wasm.Parse(wasmtest.New().Override(wasm.SectionData, w).Bytes())
	require.NoError(t, err)
	require.Empty(t, m.Errors)
	require.Len(t, m.Data, 1)
	assert.Equal(t, uint32(0), m.Data[0].MemoryOffset)
	assert.Equal(t, []byte("z"), m.Data[0].Bytes)
}

func TestParseExportsStartCustom(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.End).
		Export("init", wasm.KindFunc, 0).
		Export("alias", wasm.KindFunc, 0).
		Start(0).
		Custom("producers", []byte{0x00})

	m, err := wasm.Parse(b.Bytes())
	require.NoError(t, err)
	require.Empty(t, m.Errors)

	require.Len(t, m.Exports, 2)
	assert.Equal(t, "init", m.Functions[0].Name, "first export names the function")
	require.NotNil(t, m.Start)
	assert.Equal(t, uint32(0), *m.Start)

	last := m.Sections[len(m.Sections)-1]
	assert.Equal(t, wasm.SectionCustom, last.ID)
	assert.Equal(t, "producers", last.Name)
}

func TestParseSectionOffsets(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.End)
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)

	prev := uint32(wasm.HeaderSize)
	for _, sec := range m.Sections[1:] {
		assert.Equal(t, prev, sec.Offset, "sections are contiguous")
		assert.Equal(t, byte(sec.ID), data[sec.Offset])
		assert.Equal(t, sec.Payload, data[sec.PayloadOffset:sec.End()])
		prev = sec.End()
	}
	assert.Equal(t, uint32(len(data)), prev)

	code, ok := m.Section(wasm.SectionCode)
	require.True(t, ok)
	assert.Equal(t, wasm.SectionCode, code.ID)
}

func TestParseUnknownSectionIsOpaque(t *testing.T) {
	m, err := wasm.Parse(wasmtest.New().Section(0x20, []byte{1, 2, 3}).Bytes())
	require.NoError(t, err)
	assert.Empty(t, m.Errors)
	sec, ok := m.Section(0x20)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, sec.Payload)
	assert.Equal(t, "section(0x20)", sec.ID.String())
}

func TestParseSectionIsolation(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "f", void).
		Func(void, nil, wasmtest.End).
		Data(16, []byte("ok")).
		Override(wasm.SectionImport, []byte{0x05, 0x01})

	m, err := wasm.Parse(b.Bytes())
	require.NoError(t, err)

	require.Len(t, m.Errors, 1)
	e, ok := errors.As(m.Errors[0])
	require.True(t, ok)
	assert.Equal(t, errors.KindMalformedModule, e.Kind)
	assert.Equal(t, "import", e.Section)

	assert.Empty(t, m.Imports)
	require.Len(t, m.Functions, 1, "defined functions survive a corrupt import section")
	assert.Equal(t, "$func0", m.Functions[0].Name)
	require.Len(t, m.Data, 1)
}

func TestParseTrailingBytes(t *testing.T) {
	m, err := wasm.Parse(wasmtest.New().Override(wasm.SectionStart, []byte{0x00, 0x00}).Bytes())
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	e, _ := errors.As(m.Errors[0])
	assert.Equal(t, "start", e.Section)
	assert.Contains(t, e.Detail, "trailing")
}

func TestParseTruncatedSectionStopsWalk(t *testing.T) {
	data := append(wasmtest.New().Bytes(), byte(wasm.SectionType), 0x10, 0x00)
	m, err := wasm.Parse(data)
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	assert.True(t, errors.IsKind(m.Errors[0], errors.KindTruncated))
	assert.Len(t, m.Sections, 1)
}

func TestParseCorruptBodyKeepsOthers(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.Func(void, nil, wasmtest.End).
		Func(void, nil, wasmtest.End).
		Override(wasm.SectionCode, []byte{
			0x02,
			0x02, 0x00, wasm.OpEnd, // body 0
			0x01, 0x05, // body 1: five local groups, no bytes
		})

	m, err := wasm.Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	e, ok := errors.As(m.Errors[0])
	require.True(t, ok)
	assert.Equal(t, "code", e.Section)
	assert.Equal(t, 1, e.Value)

	require.Len(t, m.Functions, 2)
	assert.Equal(t, uint32(1), m.Functions[0].Size)
	assert.Equal(t, uint32(0), m.Functions[1].Size)
}

func TestParseMissingCodeSection(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "f", void).Func(void, nil, wasmtest.End)
	data := b.Bytes()

	m, err := wasm.Parse(data)
	require.NoError(t, err)
	code, _ := m.Section(wasm.SectionCode)

	// cut the module right before the code section
	m, err = wasm.Parse(data[:code.Offset])
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	assert.True(t, errors.IsKind(m.Errors[0], errors.KindSectionNotFound))
	require.Len(t, m.Functions, 1, "imports stay available")
	assert.True(t, m.Functions[0].Imported)
}

func TestParseBadTypeIndex(t *testing.T) {
	b := wasmtest.New()
	b.Func(7, nil, wasmtest.End)

	m, err := wasm.Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, m.Errors, 1)
	assert.Contains(t, m.Errors[0].Error(), "references type 7")
	require.Len(t, m.Functions, 1)
	assert.Empty(t, m.Functions[0].Type.Params)
}

func TestParseIsDeterministic(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportGlobal("env", "g", wasm.ValI32, false).
		Global(wasm.ValI32, false, wasmtest.GlobalGet(0)).
		Func(void, nil, wasmtest.Block(), wasmtest.Br(0), wasmtest.End, wasmtest.End).
		Data(4, []byte{1, 2, 3})
	data := b.Bytes()

	m1, err := wasm.Parse(data)
	require.NoError(t, err)
	m2, err := wasm.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}
