package tracer

import (
	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/trace"
)

// RecordElem appends a table slot binding verbatim. Repeated (tableIdx,
// offset) pairs are kept; consumers apply write-order themselves.
// Registration records the instance's active segments; drivers call it for
// bindings made later, such as table.init.
func (t *Tracer) RecordElem(tableIdx, offset, funcIdx, typeIdx uint32) error {
	if err := t.requireRegistered(errors.PhaseExecute); err != nil {
		return err
	}
	recordElem(t.tables, tableIdx, offset, funcIdx, typeIdx)
	return nil
}

func recordElem(tables *trace.Tables, tableIdx, offset, funcIdx, typeIdx uint32) {
	tables.Elems.Push(trace.ElemRow{
		TableIdx: tableIdx,
		TypeIdx:  typeIdx,
		Offset:   offset,
		FuncIdx:  funcIdx,
	})
}
