package tracer

import (
	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// PushFrame enters a call: the latest event id becomes the frame marker.
func (t *Tracer) PushFrame() {
	t.frames = append(t.frames, t.EID())
}

// PopFrame leaves a call. Popping with no frame is a call/return imbalance
// in the driver.
func (t *Tracer) PopFrame() error {
	if len(t.frames) == 0 {
		return errors.FrameUnderflow("pop_frame")
	}
	t.frames = t.frames[:len(t.frames)-1]
	return nil
}

// LastJumpEID returns the marker of the innermost frame.
func (t *Tracer) LastJumpEID() (uint32, error) {
	if len(t.frames) == 0 {
		return 0, errors.FrameUnderflow("last_jump_eid")
	}
	return t.frames[len(t.frames)-1], nil
}

// Depth returns the number of open frames.
func (t *Tracer) Depth() int { return len(t.frames) }

// EID returns the latest event id, 0 before any event.
func (t *Tracer) EID() uint32 {
	if t.tables == nil {
		return 0
	}
	return t.tables.Events.LatestEID()
}

func (t *Tracer) enclosing() uint32 {
	if len(t.frames) == 0 {
		return 0
	}
	return t.frames[len(t.frames)-1]
}

// RecordStep appends a step event for the instruction at (f, iid).
func (t *Tracer) RecordStep(f *instance.Func, iid uint32) (uint32, error) {
	row, err := t.InstructionAt(f, iid)
	if err != nil {
		return 0, err
	}
	return t.tables.Events.Push(trace.EventRow{
		FID:         row.FID,
		IID:         iid,
		LastJumpEID: t.enclosing(),
		Opcode:      row.Op.Opcode,
		Kind:        trace.EventStep,
	}), nil
}

// RecordCall appends a call event and its jump row for a call from
// (caller, iid) into callee, then enters callee's frame.
func (t *Tracer) RecordCall(caller *instance.Func, iid uint32, callee *instance.Func) error {
	fid, err := t.StableIndexOf(caller)
	if err != nil {
		return err
	}
	calleeFID, err := t.StableIndexOf(callee)
	if err != nil {
		return err
	}
	op := wasm.OpCall
	if row, ok := t.tables.Instructions.Get(fid, iid); ok {
		op = row.Op.Opcode
	}

	last := t.enclosing()
	eid := t.tables.Events.Push(trace.EventRow{
		FID:         fid,
		IID:         iid,
		LastJumpEID: last,
		Opcode:      op,
		Kind:        trace.EventCall,
	})
	t.tables.Jumps.Push(trace.JumpRow{
		EID:         eid,
		LastJumpEID: last,
		CalleeFID:   calleeFID,
		FID:         fid,
		IID:         iid,
	})
	t.PushFrame()
	t.log.Debug("call",
		zap.Uint32("eid", eid),
		zap.Uint32("fid", fid),
		zap.Uint32("iid", iid),
		zap.Uint32("callee", calleeFID))
	return nil
}

// RecordReturn appends a return event at (f, iid) and leaves f's frame.
func (t *Tracer) RecordReturn(f *instance.Func, iid uint32) error {
	fid, err := t.StableIndexOf(f)
	if err != nil {
		return err
	}
	if len(t.frames) == 0 {
		return errors.FrameUnderflow("return")
	}
	op := wasm.OpReturn
	if row, ok := t.tables.Instructions.Get(fid, iid); ok {
		op = row.Op.Opcode
	}
	t.tables.Events.Push(trace.EventRow{
		FID:         fid,
		IID:         iid,
		LastJumpEID: t.enclosing(),
		Opcode:      op,
		Kind:        trace.EventReturn,
	})
	return t.PopFrame()
}

// RecordHostCall appends a host_call event for an imported function.
func (t *Tracer) RecordHostCall(f *instance.Func) (uint32, error) {
	fid, err := t.StableIndexOf(f)
	if err != nil {
		return 0, err
	}
	if !f.IsHost() {
		return 0, errors.InvalidInput(errors.PhaseExecute, "host call recorded for a module-defined function")
	}
	return t.tables.Events.Push(trace.EventRow{
		FID:         fid,
		LastJumpEID: t.enclosing(),
		Opcode:      wasm.OpCall,
		Kind:        trace.EventHostCall,
	}), nil
}

// RegisterEntry appends the static frames for the start function and for
// entry, the function execution begins with.
func (t *Tracer) RegisterEntry(entry *instance.Func) error {
	if err := t.requireRegistered(errors.PhaseExecute); err != nil {
		return err
	}
	fid, err := t.StableIndexOf(entry)
	if err != nil {
		return err
	}
	_, hasStart := t.inst.Start()
	t.tables.Jumps.PushStatic(trace.StaticFrame{
		Enable:      hasStart,
		FrameID:     0,
		NextFrameID: 0,
		CalleeFID:   0,
	})
	t.tables.Jumps.PushStatic(trace.StaticFrame{
		Enable:      true,
		FrameID:     0,
		NextFrameID: 0,
		CalleeFID:   fid,
	})
	return nil
}
