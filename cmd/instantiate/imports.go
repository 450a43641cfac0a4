package main

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-trace/runner"
	"github.com/wippyai/wasm-trace/wasm"
)

// provideImports instantiates one provider per import module. Modules
// importing only functions get wazero host functions returning zeros.
// wazero host modules cannot export memories, tables or globals, so an
// import module naming one of those is served by a generated wasm module
// exporting zeroed stand-ins for every entity it must provide.
func provideImports(ctx context.Context, rt wazero.Runtime, m *wasm.Module) error {
	for _, g := range groupImports(m.Imports) {
		var err error
		if g.funcsOnly {
			err = hostProvider(ctx, rt, m, g)
		} else {
			err = wasmProvider(ctx, rt, m, g)
		}
		if err != nil {
			return fmt.Errorf("import module %q: %w", g.name, err)
		}
	}
	return nil
}

type importGroup struct {
	name      string
	imports   []wasm.Import
	funcsOnly bool
}

// groupImports groups imports by module name in first-seen order. A name
// imported twice is provided once.
func groupImports(imports []wasm.Import) []*importGroup {
	var groups []*importGroup
	byName := make(map[string]*importGroup)
	seen := make(map[string]bool)
	for _, imp := range imports {
		g, ok := byName[imp.Module]
		if !ok {
			g = &importGroup{name: imp.Module, funcsOnly: true}
			byName[imp.Module] = g
			groups = append(groups, g)
		}
		key := imp.Module + "\x00" + imp.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		g.imports = append(g.imports, imp)
		if imp.Desc.Kind != wasm.KindFunc {
			g.funcsOnly = false
		}
	}
	return groups
}

func hostProvider(ctx context.Context, rt wazero.Runtime, m *wasm.Module, g *importGroup) error {
	builder := rt.NewHostModuleBuilder(g.name)
	for _, imp := range g.imports {
		sig := m.Types[imp.Desc.TypeIdx]
		params, err := runner.ValueTypes(sig.Params)
		if err != nil {
			return fmt.Errorf("%s: %w", imp.Name, err)
		}
		results, err := runner.ValueTypes(sig.Results)
		if err != nil {
			return fmt.Errorf("%s: %w", imp.Name, err)
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
				clear(stack)
			}), params, results).
			Export(imp.Name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

func wasmProvider(ctx context.Context, rt wazero.Runtime, m *wasm.Module, g *importGroup) error {
	p, err := providerModule(m, g.imports)
	if err != nil {
		return err
	}
	compiled, err := rt.CompileModule(ctx, p.Encode())
	if err != nil {
		return fmt.Errorf("compile provider: %w", err)
	}
	_, err = rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(g.name))
	return err
}

// providerModule builds a module defining and exporting one entity per
// import: functions returning zeros, memories and tables with the
// imported limits, and globals holding zero.
func providerModule(m *wasm.Module, imports []wasm.Import) (*wasm.Module, error) {
	p := &wasm.Module{}
	for _, imp := range imports {
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			sig := m.Types[imp.Desc.TypeIdx]
			var body []byte
			for _, t := range sig.Results {
				expr, err := zeroExpr(t)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", imp.Name, err)
				}
				body = append(body, expr...)
			}
			typeIdx := uint32(len(p.Types))
			p.Types = append(p.Types, sig)
			p.Exports = append(p.Exports, wasm.Export{Name: imp.Name, Kind: wasm.KindFunc, Idx: uint32(len(p.Funcs))})
			p.Funcs = append(p.Funcs, typeIdx)
			p.Code = append(p.Code, wasm.FuncBody{Code: append(body, wasm.OpEnd)})
		case wasm.KindMemory:
			p.Exports = append(p.Exports, wasm.Export{Name: imp.Name, Kind: wasm.KindMemory, Idx: uint32(len(p.Memories))})
			p.Memories = append(p.Memories, *imp.Desc.Memory)
		case wasm.KindTable:
			p.Exports = append(p.Exports, wasm.Export{Name: imp.Name, Kind: wasm.KindTable, Idx: uint32(len(p.Tables))})
			p.Tables = append(p.Tables, *imp.Desc.Table)
		case wasm.KindGlobal:
			expr, err := zeroExpr(imp.Desc.Global.ValType)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", imp.Name, err)
			}
			p.Exports = append(p.Exports, wasm.Export{Name: imp.Name, Kind: wasm.KindGlobal, Idx: uint32(len(p.Globals))})
			p.Globals = append(p.Globals, wasm.Global{Type: *imp.Desc.Global, Init: append(expr, wasm.OpEnd)})
		default:
			return nil, fmt.Errorf("%s: unknown import kind %d", imp.Name, imp.Desc.Kind)
		}
	}
	return p, nil
}

// zeroExpr returns the instruction pushing the zero value of t.
func zeroExpr(t wasm.ValType) ([]byte, error) {
	switch t {
	case wasm.ValI32:
		return []byte{wasm.OpI32Const, 0x00}, nil
	case wasm.ValI64:
		return []byte{wasm.OpI64Const, 0x00}, nil
	case wasm.ValF32:
		return []byte{wasm.OpF32Const, 0, 0, 0, 0}, nil
	case wasm.ValF64:
		return []byte{wasm.OpF64Const, 0, 0, 0, 0, 0, 0, 0, 0}, nil
	case wasm.ValFuncRef, wasm.ValExtern:
		return []byte{wasm.OpRefNull, byte(t)}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", t)
	}
}
