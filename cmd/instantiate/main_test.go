package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-trace/wasm"
)

// startModule imports a function, a memory, a table and a global from env
// and runs a start function touching the function and the global.
func startModule() *wasm.Module {
	maxPages := uint32(2)
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "memory", Desc: wasm.ImportDesc{
				Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &maxPages}},
			}},
			{Module: "env", Name: "table", Desc: wasm.ImportDesc{
				Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}},
			}},
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{
				Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI64},
			}},
			{Module: "host", Name: "h", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			{Code: []byte{
				wasm.OpCall, 0x00,
				wasm.OpDrop,
				wasm.OpGlobalGet, 0x00,
				wasm.OpDrop,
				wasm.OpCall, 0x01,
				wasm.OpEnd,
			}},
		},
		Start: func() *uint32 { v := uint32(2); return &v }(),
	}
}

func TestRunProvidesEveryImportKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "start.wasm")
	if err := os.WriteFile(path, startModule().Encode(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(path); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestGroupImports(t *testing.T) {
	imports := startModule().Imports
	imports = append(imports, imports[0])

	groups := groupImports(imports)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].name != "env" || len(groups[0].imports) != 4 || groups[0].funcsOnly {
		t.Errorf("env group = %+v", groups[0])
	}
	if groups[1].name != "host" || len(groups[1].imports) != 1 || !groups[1].funcsOnly {
		t.Errorf("host group = %+v", groups[1])
	}
}

func TestProviderModule(t *testing.T) {
	m := startModule()
	p, err := providerModule(m, m.Imports[:4])
	if err != nil {
		t.Fatalf("providerModule: %v", err)
	}
	if len(p.Funcs) != 1 || len(p.Memories) != 1 || len(p.Tables) != 1 || len(p.Globals) != 1 {
		t.Fatalf("provider = %+v", p)
	}
	if len(p.Exports) != 4 {
		t.Fatalf("got %d exports, want 4", len(p.Exports))
	}
	if got := p.Code[0].Code; len(got) != 3 || got[0] != wasm.OpI32Const || got[2] != wasm.OpEnd {
		t.Errorf("function body = %x", got)
	}
	if _, err := wasm.ParseModuleValidate(p.Encode()); err != nil {
		t.Errorf("provider does not validate: %v", err)
	}
}

func TestZeroExprRejectsUnknownType(t *testing.T) {
	if _, err := zeroExpr(wasm.ValType(0x7B)); err == nil {
		t.Error("v128 accepted")
	}
}
