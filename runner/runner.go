package runner

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/tracer"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// Inputs holds the values served by the host input function.
type Inputs struct {
	Public  []uint64
	Private []uint64
}

// Config describes a single traced run.
type Config struct {
	// Entry is the exported function to call.
	Entry  string
	Args   []uint64
	Inputs Inputs
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the runner. A nil logger keeps the
// package logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

type frame struct {
	fn *instance.Func
	// cursor is the position after the last call site matched in fn.
	cursor uint32
}

// Runner drives one execution of a registered module. A Runner is not
// safe for concurrent use and runs at most once.
type Runner struct {
	tr      *tracer.Tracer
	inst    *instance.Instance
	cfg     Config
	log     *zap.Logger
	stack   []*frame
	public  []uint64
	private []uint64
	err     error
	ran     bool
}

// New creates a runner for the module registered with tr.
func New(tr *tracer.Tracer, cfg Config, opts ...Option) (*Runner, error) {
	inst := tr.Instance()
	if inst == nil {
		return nil, errors.NotRegistered(errors.PhaseExecute, "module instance")
	}
	r := &Runner{
		tr:      tr,
		inst:    inst,
		cfg:     cfg,
		log:     Logger(),
		public:  append([]uint64(nil), cfg.Inputs.Public...),
		private: append([]uint64(nil), cfg.Inputs.Private...),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run instantiates the module under wazero, runs its start function if
// any, then calls the entry export. It returns the entry's results.
func (r *Runner) Run(ctx context.Context) ([]uint64, error) {
	if r.ran {
		return nil, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Detail("runner already used").Build()
	}
	r.ran = true

	entry, ok := r.inst.ExportedFunc(r.cfg.Entry)
	if !ok {
		return nil, errors.NotFound(errors.PhaseExecute, "entry export", r.cfg.Entry)
	}
	if err := r.tr.RegisterEntry(entry); err != nil {
		return nil, err
	}

	binary, err := r.binary()
	if err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	if err := r.instantiateHosts(ctx, rt); err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(experimental.WithFunctionListenerFactory(ctx, r), binary)
	if err != nil {
		return nil, errors.Instantiation("compile module", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, r.failure("start function", err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(r.cfg.Entry)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseExecute, "entry export", r.cfg.Entry)
	}
	r.log.Debug("calling entry",
		zap.String("entry", r.cfg.Entry),
		zap.Uint32("native", entry.Index),
		zap.Int("args", len(r.cfg.Args)))

	results, err := fn.Call(ctx, r.cfg.Args...)
	if err != nil {
		return nil, r.failure("call "+r.cfg.Entry, err)
	}
	if r.err != nil {
		return nil, r.err
	}
	if d := r.tr.Depth(); d != 0 {
		return nil, errors.New(errors.PhaseExecute, errors.KindInvalidData).
			Detail("%d frames open after %s returned", d, r.cfg.Entry).Build()
	}

	r.log.Info("run complete",
		zap.String("entry", r.cfg.Entry),
		zap.Uint32("events", r.tr.EID()),
		zap.Int("public_left", len(r.public)),
		zap.Int("private_left", len(r.private)))
	return results, nil
}

// failure prefers the error recorded by a listener or host function over
// the trap wazero reports for it.
func (r *Runner) failure(what string, err error) error {
	if r.err != nil {
		return r.err
	}
	return errors.Trap(what, err)
}

// fail records the first error and unwinds the guest. wazero recovers the
// panic and returns it from the pending call.
func (r *Runner) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	panic(err)
}

// binary re-encodes the registered module with phantom bodies replaced by
// their stubs. Stubs end in a plain end so the encoded body is valid wasm.
func (r *Runner) binary() ([]byte, error) {
	src := r.inst.Module()
	phantoms := r.tr.Phantoms()
	if len(phantoms) == 0 {
		return src.Encode(), nil
	}
	hostInput, ok := r.tr.HostInput()
	if !ok {
		return nil, errors.MissingHostInput(len(phantoms))
	}

	m := *src
	m.Code = append([]wasm.FuncBody(nil), src.Code...)
	imported := uint32(src.NumImportedFuncs())
	for _, idx := range phantoms {
		f, ok := r.inst.Func(idx)
		if !ok || idx < imported {
			return nil, errors.NotFound(errors.PhaseExecute, "phantom function", fmt.Sprint(idx))
		}
		ops, err := tracer.Stub(f.Type, hostInput.Index)
		if err != nil {
			return nil, err
		}
		ops[len(ops)-1] = wasm.Instruction{Opcode: wasm.OpEnd}
		m.Code[idx-imported] = wasm.FuncBody{Code: wasm.EncodeInstructions(ops)}
	}
	return m.Encode(), nil
}
