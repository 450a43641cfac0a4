package runner

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// instantiateHosts builds one wazero host module per import module name,
// in import order. Only function imports can be served.
func (r *Runner) instantiateHosts(ctx context.Context, rt wazero.Runtime) error {
	for _, imp := range r.inst.Module().Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			return errors.Unsupported(errors.PhaseExecute,
				fmt.Sprintf("non-function import %s", errors.ImportKey(imp.Module, imp.Name)))
		}
	}

	var order []string
	byModule := make(map[string][]*instance.Func)
	for _, f := range r.inst.Funcs() {
		if !f.IsHost() {
			continue
		}
		if _, ok := byModule[f.Module]; !ok {
			order = append(order, f.Module)
		}
		byModule[f.Module] = append(byModule[f.Module], f)
	}

	for _, name := range order {
		if name == wasi_snapshot_preview1.ModuleName {
			if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
				return errors.Instantiation("wasi host module", err)
			}
			continue
		}

		builder := rt.NewHostModuleBuilder(name)
		for _, f := range byModule[name] {
			params, err := ValueTypes(f.Type.Params)
			if err != nil {
				return err
			}
			results, err := ValueTypes(f.Type.Results)
			if err != nil {
				return err
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(r.hostFunc(f), params, results).
				Export(f.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Instantiation(fmt.Sprintf("host module %q", name), err)
		}
		r.log.Debug("host module instantiated", zap.String("module", name), zap.Int("funcs", len(byModule[name])))
	}
	return nil
}

func (r *Runner) hostFunc(f *instance.Func) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		if _, err := r.tr.RecordHostCall(f); err != nil {
			r.fail(err)
		}
		desc, err := r.tr.FuncDesc(f.Index)
		if err != nil {
			r.fail(err)
		}

		plugin := trace.HostPlugin(-1)
		if h, ok := desc.Type.(trace.HostFunction); ok {
			plugin = h.Plugin
		}
		if hi, ok := r.tr.HostInput(); ok && hi == f {
			plugin = trace.PluginHostInput
		}

		switch plugin {
		case trace.PluginHostInput:
			r.input(f, stack)
		case trace.PluginRequire:
			if len(stack) > 0 && uint32(stack[0]) == 0 {
				r.fail(errors.Trap(fmt.Sprintf("%s: requirement not satisfied", f.Name), nil))
			}
		default:
			for i := range f.Type.Results {
				stack[i] = 0
			}
		}
	}
}

// input serves one host input call: a non-zero argument pops the public
// queue, zero pops the private one.
func (r *Runner) input(f *instance.Func, stack []uint64) {
	if len(f.Type.Params) != 1 || len(f.Type.Results) != 1 {
		r.fail(errors.TypeMismatch(errors.PhaseExecute, []string{"host_input"}, "(i32) -> (i64)", f.Type.String()))
	}
	queue, kind := &r.private, "private"
	if uint32(stack[0]) != 0 {
		queue, kind = &r.public, "public"
	}
	if len(*queue) == 0 {
		r.fail(errors.InvalidInput(errors.PhaseExecute, kind+" inputs exhausted"))
	}
	stack[0] = (*queue)[0]
	*queue = (*queue)[1:]
}

// ValueTypes maps wasm value types to wazero's. funcref has no host
// function representation and is rejected.
func ValueTypes(types []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExtern:
			out[i] = api.ValueTypeExternref
		default:
			return nil, errors.Unsupported(errors.PhaseExecute, "host value type "+t.String())
		}
	}
	return out, nil
}
