package tracer

import (
	"fmt"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
)

// StableIndexOf returns the stable index registered for f.
func (t *Tracer) StableIndexOf(f *instance.Func) (uint32, error) {
	if err := t.requireRegistered(errors.PhaseExecute); err != nil {
		return 0, err
	}
	idx, ok := t.handles[f]
	if !ok {
		return 0, errors.NotRegistered(errors.PhaseExecute, funcName(f))
	}
	return idx, nil
}

// InstructionAt returns the row at position pos of f.
func (t *Tracer) InstructionAt(f *instance.Func, pos uint32) (trace.InstructionRow, error) {
	fid, err := t.StableIndexOf(f)
	if err != nil {
		return trace.InstructionRow{}, err
	}
	row, ok := t.tables.Instructions.Get(fid, pos)
	if !ok {
		return trace.InstructionRow{}, errors.NotFound(errors.PhaseExecute, "instruction",
			fmt.Sprintf("fid[%d].iid[%d]", fid, pos))
	}
	return row, nil
}

// FirstInstructionOf returns the row at the lowest position of f.
func (t *Tracer) FirstInstructionOf(f *instance.Func) (trace.InstructionRow, error) {
	return t.edgeInstruction(f, (*trace.InstructionTable).First)
}

// LastInstructionOf returns the row at the highest position of f.
func (t *Tracer) LastInstructionOf(f *instance.Func) (trace.InstructionRow, error) {
	return t.edgeInstruction(f, (*trace.InstructionTable).Last)
}

func (t *Tracer) edgeInstruction(f *instance.Func, pick func(*trace.InstructionTable, uint32) (trace.InstructionRow, bool)) (trace.InstructionRow, error) {
	fid, err := t.StableIndexOf(f)
	if err != nil {
		return trace.InstructionRow{}, err
	}
	row, ok := pick(t.tables.Instructions, fid)
	if !ok {
		return trace.InstructionRow{}, errors.NotFound(errors.PhaseExecute, "instructions of", funcName(f))
	}
	return row, nil
}

// CallSite finds the first call instruction of caller at or after pos
// that can transfer to callee: a direct call naming it or any indirect
// call. Calls run in program order, so the earliest candidate wins.
func (t *Tracer) CallSite(caller, callee *instance.Func, pos uint32) (uint32, bool) {
	fid, err := t.StableIndexOf(caller)
	if err != nil {
		return 0, false
	}
	target, err := t.StableIndexOf(callee)
	if err != nil {
		return 0, false
	}
	for _, row := range t.tables.Instructions.Func(fid) {
		if row.IID < pos {
			continue
		}
		if idx, ok := row.Op.GetCallTarget(); ok && idx == target {
			return row.IID, true
		}
		if row.Op.IsIndirectCall() {
			return row.IID, true
		}
	}
	return 0, false
}

// TypeOf returns the type index of f.
func (t *Tracer) TypeOf(f *instance.Func) (uint32, error) {
	if _, err := t.StableIndexOf(f); err != nil {
		return 0, err
	}
	return t.tables.Funcs[f.Index].TypeIdx, nil
}

// FuncDesc returns the descriptor of the function at a native index.
func (t *Tracer) FuncDesc(native uint32) (trace.FuncDesc, error) {
	if err := t.requireRegistered(errors.PhaseExecute); err != nil {
		return trace.FuncDesc{}, err
	}
	desc, ok := t.tables.Funcs[native]
	if !ok {
		return trace.FuncDesc{}, errors.NotFound(errors.PhaseExecute, "function", fmt.Sprint(native))
	}
	return desc, nil
}

// IsPhantom reports whether f's body was replaced by a stub.
func (t *Tracer) IsPhantom(f *instance.Func) bool {
	return t.inst != nil && t.isPhantom(f)
}

// Phantoms returns the native indices of the phantom functions, ascending.
func (t *Tracer) Phantoms() []uint32 {
	if t.inst == nil {
		return nil
	}
	var out []uint32
	for _, f := range t.inst.Funcs() {
		if t.isPhantom(f) {
			out = append(out, f.Index)
		}
	}
	return out
}

// HostInput returns the host input function if registration found it
// among the instance's functions.
func (t *Tracer) HostInput() (*instance.Func, bool) {
	if t.inst == nil || t.hostInputIdx == nil {
		return nil, false
	}
	return t.hostInput, true
}

// InstructionStatistics counts instruction rows per mnemonic.
func (t *Tracer) InstructionStatistics() (map[string]int, error) {
	if err := t.requireRegistered(errors.PhaseExecute); err != nil {
		return nil, err
	}
	return t.tables.Instructions.Statistics(), nil
}

func funcName(f *instance.Func) string {
	if f == nil {
		return "nil function"
	}
	if f.IsHost() {
		return fmt.Sprintf("function %d (%s)", f.Index, errors.ImportKey(f.Module, f.Name))
	}
	return fmt.Sprintf("function %d", f.Index)
}
