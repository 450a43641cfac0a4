package tracer

import (
	"fmt"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
)

// wordsPerPage is the number of 8-byte words in a 64 KiB page.
const wordsPerPage = wasm.PageSize / 8

// MemoryRef is the read-only view of a linear memory the image needs.
type MemoryRef interface {
	InitialPages() uint32
	MaxPages() (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
}

// GlobalRef is the read-only view of a global the image needs.
type GlobalRef interface {
	Get() uint64
}

// snapshotMemory emits one row per initial word and a sentinel row
// covering the words memory.grow can still reach: [words, max*8192-1],
// or up to 0xFFFFFFFF without a declared maximum. When the maximum equals
// the initial size the sentinel is the empty range [words, words-1]. A
// maximum of zero leaves nothing to cover and emits no sentinel.
func snapshotMemory(m MemoryRef, tables *trace.Tables) error {
	pages := m.InitialPages()
	words := pages * wordsPerPage
	for i := uint32(0); i < words; i++ {
		v, ok := m.ReadUint64Le(i * 8)
		if !ok {
			return errors.OutOfBounds(errors.PhaseRegister, []string{"memory", fmt.Sprintf("word[%d]", i)},
				int(i*8), int(words*8))
		}
		tables.Image.Push(trace.IMRow{Start: i, End: i, VType: trace.VarI64, Value: v})
	}

	end := uint32(0xFFFFFFFF)
	maxPages, hasMax := m.MaxPages()
	if hasMax {
		end = maxPages*wordsPerPage - 1
	}
	if !hasMax || maxPages > 0 {
		tables.Image.Push(trace.IMRow{Start: words, End: end, VType: trace.VarI64})
	}

	tables.Configure.InitMemoryPages = pages
	tables.Configure.MaximalMemoryPages = wasm.MemoryMaxPages
	if hasMax {
		tables.Configure.MaximalMemoryPages = maxPages
	}
	return nil
}

// snapshotGlobal emits the row of global idx. i32 and f32 values are
// zero-extended from their 32-bit pattern.
func snapshotGlobal(idx uint32, typ wasm.GlobalType, g GlobalRef, tables *trace.Tables) error {
	vtype, ok := trace.VarTypeOf(typ.ValType)
	if !ok {
		return errors.Unsupported(errors.PhaseRegister, fmt.Sprintf("global %d of type %s", idx, typ.ValType))
	}
	bits := g.Get()
	if vtype == trace.VarI32 || vtype == trace.VarF32 {
		bits &= 0xFFFFFFFF
	}
	tables.Image.Push(trace.IMRow{
		IsGlobal:  true,
		IsMutable: typ.Mutable,
		Start:     idx,
		End:       idx,
		VType:     vtype,
		Value:     bits,
	})
	return nil
}
