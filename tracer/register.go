package tracer

import (
	"fmt"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// Register runs the static phase over inst: function translation, the
// memory and global image, element bindings, phantom resolution and the
// instruction table, in that order. It succeeds at most once; on failure
// nothing is exposed through Tables.
func (t *Tracer) Register(inst *instance.Instance) error {
	if t.inst != nil {
		return errors.AlreadyRegistered()
	}
	if n := len(inst.Memories()); n > 1 {
		return errors.Unsupported(errors.PhaseRegister, fmt.Sprintf("%d memories", n))
	}

	t.lastIndex = 0
	t.hostInputIdx = nil
	t.handles = make(map[*instance.Func]uint32)
	t.phantoms = make(map[*instance.Func]struct{})
	t.frames = t.frames[:0]
	tables := trace.NewTables()

	if err := t.translateFunctions(inst, tables); err != nil {
		return err
	}

	if mem, ok := inst.Memory(0); ok {
		if err := snapshotMemory(mem, tables); err != nil {
			return err
		}
	}
	for i, g := range inst.Globals() {
		if err := snapshotGlobal(uint32(i), g.Type, g, tables); err != nil {
			return err
		}
	}

	for _, b := range inst.Elems() {
		desc, ok := tables.Funcs[b.FuncIdx]
		if !ok {
			return errors.NotFound(errors.PhaseRegister, "element function", fmt.Sprint(b.FuncIdx))
		}
		recordElem(tables, b.TableIdx, b.Offset, desc.Index, b.TypeIdx)
	}

	if err := t.resolvePhantoms(inst); err != nil {
		return err
	}

	if err := t.buildInstructions(inst, tables); err != nil {
		return err
	}

	t.tables = tables
	t.inst = inst
	t.log.Info("module registered",
		zap.Int("funcs", len(tables.Funcs)),
		zap.Int("phantoms", len(t.phantoms)),
		zap.Int("instructions", tables.Instructions.Len()),
		zap.Int("image_rows", tables.Image.Len()),
		zap.Int("elem_rows", tables.Elems.Len()))
	return nil
}

// buildInstructions linearizes every function body in native order.
// Positions are dense instruction indices from 0.
func (t *Tracer) buildInstructions(inst *instance.Instance, tables *trace.Tables) error {
	for _, f := range inst.Funcs() {
		fid := t.handles[f]

		var ops []wasm.Instruction
		switch {
		case t.isPhantom(f):
			hostInput := tables.Funcs[*t.hostInputIdx].Index
			var err error
			ops, err = Stub(f.Type, hostInput)
			if err != nil {
				return err
			}
		case f.IsHost():
			continue
		default:
			body, err := wasm.DecodeInstructions(f.Body.Code)
			if err != nil {
				return errors.Wrap(errors.PhaseRegister, errors.KindInvalidData, err,
					fmt.Sprintf("decode function %d", f.Index))
			}
			ops = make([]wasm.Instruction, len(body))
			for i, op := range body {
				if ops[i], err = translate(op, tables.Funcs); err != nil {
					return err
				}
			}
		}

		for iid, op := range ops {
			if err := tables.Instructions.Push(fid, uint32(iid), op); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tracer) isPhantom(f *instance.Func) bool {
	_, ok := t.phantoms[f]
	return ok
}
