package wasmtrace

import (
	"context"

	"github.com/wippyai/wasm-trace/config"
	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/runner"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/tracer"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// Result is the outcome of a traced run.
type Result struct {
	Tracer *tracer.Tracer
	Tables *trace.Tables
	Values []uint64
}

// Option configures Trace.
type Option func(*options)

type options struct {
	log  *zap.Logger
	args []uint64
}

// WithLogger sets the logger handed to the tracer and the runner. Without
// it each uses its package logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithArgs sets the arguments passed to the entry export.
func WithArgs(args ...uint64) Option {
	return func(o *options) { o.args = args }
}

// Trace decodes, validates and instantiates binary using cfg's host
// table, registers it with a tracer and runs cfg.Entry. Any failure
// returns a nil Result: a partially recorded trace is never exposed.
func Trace(ctx context.Context, binary []byte, cfg *config.Config, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var trOpts []tracer.Option
	var runOpts []runner.Option
	if o.log != nil {
		trOpts = append(trOpts, tracer.WithLogger(o.log))
		runOpts = append(runOpts, runner.WithLogger(o.log))
	}

	m, err := wasm.ParseModule(binary)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "parse module")
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "validate module")
	}

	hosts, err := cfg.HostTable()
	if err != nil {
		return nil, err
	}
	inst, err := instance.Instantiate(m, cfg.Resolver())
	if err != nil {
		return nil, err
	}

	tr, err := tracer.New(hosts, cfg.PhantomFunctions, trOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.HostInput != nil {
		if f, ok := inst.ImportedFunc(cfg.HostInput.Module, cfg.HostInput.Name); ok {
			tr.SetHostInput(f)
		}
	}
	if err := tr.Register(inst); err != nil {
		return nil, err
	}

	r, err := runner.New(tr, runner.Config{
		Entry:  cfg.Entry,
		Args:   o.args,
		Inputs: runner.Inputs{Public: cfg.Inputs.Public, Private: cfg.Inputs.Private},
	}, runOpts...)
	if err != nil {
		return nil, err
	}

	values, err := r.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Tracer: tr, Tables: tr.Tables(), Values: values}, nil
}
