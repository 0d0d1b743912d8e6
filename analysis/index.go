package analysis

import (
	"sort"

	"github.com/wippyai/wasmflow/wasm"
)

// funcIndex orders defined functions by code offset for containment lookups.
type funcIndex []*wasm.Function

func buildFuncIndex(fns []wasm.Function) funcIndex {
	idx := make(funcIndex, 0, len(fns))
	for i := range fns {
		if !fns[i].Imported && fns[i].Size > 0 {
			idx = append(idx, &fns[i])
		}
	}
	sort.SliceStable(idx, func(i, j int) bool { return idx[i].Offset < idx[j].Offset })
	return idx
}

// containing returns the function whose code span holds addr.
func (x funcIndex) containing(addr uint32) (*wasm.Function, bool) {
	i := sort.Search(len(x), func(i int) bool { return x[i].Offset > addr })
	if i == 0 {
		return nil, false
	}
	if fn := x[i-1]; fn.Contains(addr) {
		return fn, true
	}
	return nil, false
}

// startingAt returns the function whose first instruction is at addr.
func (x funcIndex) startingAt(addr uint32) (*wasm.Function, bool) {
	i := sort.Search(len(x), func(i int) bool { return x[i].Offset >= addr })
	if i < len(x) && x[i].Offset == addr {
		return x[i], true
	}
	return nil, false
}

// dataIndex orders data segments by linear memory offset. Segments may
// overlap; the one starting closest below an address wins, ties going to the
// earlier segment.
type dataIndex []*wasm.DataSegment

func buildDataIndex(segs []wasm.DataSegment) dataIndex {
	idx := make(dataIndex, len(segs))
	for i := range segs {
		idx[i] = &segs[i]
	}
	sort.SliceStable(idx, func(i, j int) bool { return idx[i].MemoryOffset < idx[j].MemoryOffset })
	return idx
}

// find walks back from the last segment starting at or below memAddr.
// inclusive also accepts the address one past a segment's last byte.
func (x dataIndex) find(memAddr uint32, inclusive bool) (*wasm.DataSegment, bool) {
	i := sort.Search(len(x), func(i int) bool { return x[i].MemoryOffset > memAddr })
	var found *wasm.DataSegment
	for j := i - 1; j >= 0; j-- {
		seg := x[j]
		if found != nil && seg.MemoryOffset != found.MemoryOffset {
			break
		}
		end := uint64(seg.MemoryOffset) + uint64(seg.Length)
		if uint64(memAddr) < end || (inclusive && uint64(memAddr) == end) {
			found = seg
		}
	}
	return found, found != nil
}
