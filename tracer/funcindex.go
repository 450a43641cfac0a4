package tracer

import (
	"fmt"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// allocate returns the next stable index. Indices start at 1; 0 belongs to
// the start function.
func (t *Tracer) allocate() uint32 {
	t.lastIndex++
	return t.lastIndex
}

func (t *Tracer) classify(f *instance.Func, index uint32) (trace.FuncDesc, error) {
	sig := f.Type
	desc := trace.FuncDesc{Index: index, Sig: &sig, TypeIdx: f.TypeIdx}
	if !f.IsHost() {
		desc.Type = trace.WasmFunction{}
		return desc, nil
	}

	host, ok := t.hosts[f.Slot]
	if !ok {
		return trace.FuncDesc{}, errors.MissingHostDesc(f.Slot, errors.ImportKey(f.Module, f.Name))
	}
	switch h := host.(type) {
	case trace.HostInternal:
		desc.Type = trace.HostFunction{Plugin: h.Plugin, Slot: f.Slot, Name: h.Name, OpIndex: h.OpIndex}
	case trace.HostExternal:
		desc.Type = trace.HostFunctionExternal{Name: h.Name, Op: h.Op, Sig: h.Sig}
	default:
		panic(fmt.Sprintf("tracer: unknown host function descriptor %T", host))
	}
	return desc, nil
}

// translateFunctions assigns a stable index to every function of inst in
// ascending native order.
func (t *Tracer) translateFunctions(inst *instance.Instance, tables *trace.Tables) error {
	start, hasStart := inst.Start()
	for _, f := range inst.Funcs() {
		var index uint32
		if hasStart && f.Index == start {
			index = 0
		} else {
			index = t.allocate()
		}
		desc, err := t.classify(f, index)
		if err != nil {
			return err
		}
		tables.Funcs[f.Index] = desc
		t.handles[f] = index
		if f == t.hostInput {
			native := f.Index
			t.hostInputIdx = &native
		}
		t.log.Debug("function registered",
			zap.Uint32("native", f.Index),
			zap.Uint32("stable", index),
			zap.Stringer("kind", desc.Type))
	}
	return nil
}

// translate rewrites the function indices embedded in op to stable indices.
func translate(op wasm.Instruction, funcs map[uint32]trace.FuncDesc) (wasm.Instruction, error) {
	switch imm := op.Imm.(type) {
	case wasm.CallImm:
		desc, ok := funcs[imm.FuncIdx]
		if !ok {
			return op, errors.NotFound(errors.PhaseRegister, "call target", fmt.Sprint(imm.FuncIdx))
		}
		op.Imm = wasm.CallImm{FuncIdx: desc.Index}
	case wasm.RefFuncImm:
		desc, ok := funcs[imm.FuncIdx]
		if !ok {
			return op, errors.NotFound(errors.PhaseRegister, "ref.func target", fmt.Sprint(imm.FuncIdx))
		}
		op.Imm = wasm.RefFuncImm{FuncIdx: desc.Index}
	}
	return op, nil
}
