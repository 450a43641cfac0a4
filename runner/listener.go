package runner

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-trace/instance"
	"go.uber.org/zap"
)

// NewFunctionListener implements experimental.FunctionListenerFactory.
// wazero only asks for module-defined functions; host calls are recorded
// by the host functions themselves.
func (r *Runner) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	f, ok := r.inst.Func(def.Index())
	if !ok || f.IsHost() {
		return nil
	}
	return &listener{r: r, fn: f}
}

type listener struct {
	r  *Runner
	fn *instance.Func
}

func (l *listener) Before(_ context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	l.r.enter(l.fn)
}

func (l *listener) After(_ context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	l.r.exit(l.fn)
}

func (l *listener) Abort(_ context.Context, _ api.Module, _ api.FunctionDefinition, err error) {
	l.r.abort(l.fn, err)
}

// enter records a call into f. The outermost call, from the start
// function or the entry, only opens a frame: it is described by the
// static frames. Nested calls are attributed to the first matching call
// site at or after the caller's cursor.
func (r *Runner) enter(f *instance.Func) {
	if r.err != nil {
		return
	}
	if len(r.stack) == 0 {
		r.tr.PushFrame()
		r.stack = append(r.stack, &frame{fn: f})
		return
	}

	top := r.stack[len(r.stack)-1]
	iid, ok := r.tr.CallSite(top.fn, f, top.cursor)
	if !ok {
		// loops re-enter call sites behind the cursor
		iid, ok = r.tr.CallSite(top.fn, f, 0)
	}
	if !ok {
		r.log.Debug("no call site found", zap.Uint32("caller", top.fn.Index), zap.Uint32("callee", f.Index))
	}
	if err := r.tr.RecordCall(top.fn, iid, f); err != nil {
		r.fail(err)
	}
	top.cursor = iid + 1
	r.stack = append(r.stack, &frame{fn: f})
}

func (r *Runner) exit(f *instance.Func) {
	if r.err != nil || len(r.stack) == 0 {
		return
	}
	r.stack = r.stack[:len(r.stack)-1]
	last, err := r.tr.LastInstructionOf(f)
	if err != nil {
		r.fail(err)
	}
	if err := r.tr.RecordReturn(f, last.IID); err != nil {
		r.fail(err)
	}
}

// abort unwinds a frame without an event. It runs while wazero is already
// unwinding, so it records errors instead of panicking.
func (r *Runner) abort(f *instance.Func, cause error) {
	if len(r.stack) == 0 {
		return
	}
	r.stack = r.stack[:len(r.stack)-1]
	if err := r.tr.PopFrame(); err != nil && r.err == nil {
		r.err = err
	}
	r.log.Debug("frame aborted", zap.Uint32("native", f.Index), zap.Error(cause))
}
