package tracer

import (
	"regexp"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"go.uber.org/zap"
)

// Tracer owns the trace tables of one module instance. Register fills the
// static tables once; the Record* and frame methods append during
// execution. A Tracer is not safe for concurrent use.
type Tracer struct {
	tables    *trace.Tables
	inst      *instance.Instance
	hostInput *instance.Func
	hosts     map[int]trace.HostFunctionDesc
	handles   map[*instance.Func]uint32
	phantoms  map[*instance.Func]struct{}
	log       *zap.Logger
	patterns  []*regexp.Regexp
	frames    []uint32

	// hostInputIdx is the native index of hostInput, once seen during
	// function translation.
	hostInputIdx *uint32
	lastIndex    uint32
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger sets the tracer's logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracer) { t.log = l }
}

// New creates a tracer for the given host slot descriptors and phantom
// function patterns. Patterns are compiled here; an invalid one fails
// construction.
func New(hosts map[int]trace.HostFunctionDesc, patterns []string, opts ...Option) (*Tracer, error) {
	t := &Tracer{hosts: hosts}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.InvalidPattern(p, err)
		}
		t.patterns = append(t.patterns, re)
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = Logger()
	}
	return t, nil
}

// SetHostInput names the function phantom stubs call for their results.
// It must be set before Register when any phantom pattern is configured.
func (t *Tracer) SetHostInput(f *instance.Func) {
	t.hostInput = f
}

// Tables returns the trace, or nil before a successful Register.
func (t *Tracer) Tables() *trace.Tables {
	if t.inst == nil {
		return nil
	}
	return t.tables
}

// Instance returns the registered instance.
func (t *Tracer) Instance() *instance.Instance { return t.inst }

func (t *Tracer) requireRegistered(phase errors.Phase) error {
	if t.inst == nil {
		return errors.NotRegistered(phase, "module instance")
	}
	return nil
}
