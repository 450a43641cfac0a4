package trace_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	werrors "github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
)

func TestInstructionTablePush(t *testing.T) {
	tbl := trace.NewInstructionTable()
	ops := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		{Opcode: wasm.OpDrop},
		{Opcode: wasm.OpEnd},
	}
	// out of order on purpose
	for _, iid := range []uint32{2, 0, 1} {
		if err := tbl.Push(3, iid, ops[iid]); err != nil {
			t.Fatalf("Push(3, %d): %v", iid, err)
		}
	}

	err := tbl.Push(3, 1, ops[1])
	if !errors.Is(err, &werrors.Error{Phase: werrors.PhaseRegister, Kind: werrors.KindDuplicateEntry}) {
		t.Fatalf("expected duplicate entry error, got %v", err)
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}

	row, ok := tbl.Get(3, 1)
	if !ok || row.Op.Opcode != wasm.OpDrop {
		t.Errorf("Get(3, 1) = %+v, %v", row, ok)
	}
	if _, ok := tbl.Get(4, 0); ok {
		t.Error("Get on unknown function succeeded")
	}
	if first, ok := tbl.First(3); !ok || first.IID != 0 {
		t.Errorf("First = %+v, %v", first, ok)
	}
	if last, ok := tbl.Last(3); !ok || last.IID != 2 || last.Op.Opcode != wasm.OpEnd {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	rows := tbl.Func(3)
	for i, r := range rows {
		if r.IID != uint32(i) {
			t.Errorf("Func(3)[%d].IID = %d", i, r.IID)
		}
	}
	stats := tbl.Statistics()
	if stats["i32.const"] != 1 || stats["end"] != 1 || len(stats) != 3 {
		t.Errorf("Statistics = %v", stats)
	}
}

func TestEventTable(t *testing.T) {
	var tbl trace.EventTable
	if tbl.LatestEID() != 0 {
		t.Fatalf("LatestEID on empty table = %d", tbl.LatestEID())
	}
	for want := uint32(1); want <= 3; want++ {
		if got := tbl.Push(trace.EventRow{EID: 99, Kind: trace.EventStep}); got != want {
			t.Errorf("Push = %d, want %d", got, want)
		}
	}
	if tbl.LatestEID() != 3 {
		t.Errorf("LatestEID = %d, want 3", tbl.LatestEID())
	}
	if tbl.Rows()[0].EID != 1 {
		t.Errorf("first row EID = %d, caller value must be ignored", tbl.Rows()[0].EID)
	}
}

func TestElemTableAppendOnly(t *testing.T) {
	var tbl trace.ElemTable
	rows := []trace.ElemRow{
		{TableIdx: 0, TypeIdx: 1, Offset: 2, FuncIdx: 3},
		{TableIdx: 0, TypeIdx: 1, Offset: 2, FuncIdx: 4},
		{TableIdx: 1, TypeIdx: 0, Offset: 0, FuncIdx: 3},
	}
	for _, r := range rows {
		tbl.Push(r)
	}
	got := tbl.Rows()
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], rows[i])
		}
	}
}

func TestIMTableFilters(t *testing.T) {
	var tbl trace.IMTable
	tbl.Push(trace.IMRow{Start: 0, End: 0, VType: trace.VarI64})
	tbl.Push(trace.IMRow{Start: 1, End: 0xFFFFFFFF, VType: trace.VarI64})
	tbl.Push(trace.IMRow{IsGlobal: true, IsMutable: true, VType: trace.VarI32, Value: 7})
	if len(tbl.Memory()) != 2 || len(tbl.Globals()) != 1 {
		t.Errorf("memory=%d globals=%d", len(tbl.Memory()), len(tbl.Globals()))
	}
}

func TestFuncDesc(t *testing.T) {
	tests := []struct {
		desc trace.FuncDesc
		host bool
		kind string
	}{
		{trace.FuncDesc{Type: trace.WasmFunction{}}, false, "wasm"},
		{trace.FuncDesc{Type: trace.HostFunction{Plugin: trace.PluginSha256, Name: "sha", OpIndex: 2, Slot: 1}}, true, "host(sha256:sha op=2 slot=1)"},
		{trace.FuncDesc{Type: trace.HostFunctionExternal{Name: "log", Op: 1, Sig: wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}}}}, true, "external(log op=1 (i64) -> ())"},
	}
	for _, tt := range tests {
		if tt.desc.IsHost() != tt.host {
			t.Errorf("%s: IsHost = %v", tt.kind, !tt.host)
		}
		if got := tt.desc.Type.String(); got != tt.kind {
			t.Errorf("String = %q, want %q", got, tt.kind)
		}
	}
}

func TestHostPlugin(t *testing.T) {
	for _, name := range []string{"host_input", "context", "require", "sha256", "poseidon", "merkle", "jubjub"} {
		p, ok := trace.ParseHostPlugin(name)
		if !ok || p.String() != name {
			t.Errorf("ParseHostPlugin(%q) = %v, %v", name, p, ok)
		}
	}
	if _, ok := trace.ParseHostPlugin("keccak"); ok {
		t.Error("unknown plugin parsed")
	}
}

func TestVarTypeOf(t *testing.T) {
	if v, ok := trace.VarTypeOf(wasm.ValF32); !ok || v != trace.VarF32 {
		t.Errorf("VarTypeOf(f32) = %v, %v", v, ok)
	}
	if _, ok := trace.VarTypeOf(wasm.ValFuncRef); ok {
		t.Error("funcref has no image type")
	}
}

func TestTablesJSON(t *testing.T) {
	tbls := trace.NewTables()
	tbls.Funcs[0] = trace.FuncDesc{Index: 1, Type: trace.WasmFunction{}, Sig: &wasm.FuncType{}}
	if err := tbls.Instructions.Push(1, 0, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 2}}); err != nil {
		t.Fatal(err)
	}
	tbls.Events.Push(trace.EventRow{Kind: trace.EventCall, Opcode: wasm.OpCall, FID: 1})
	data, err := json.Marshal(tbls)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"op":"call 2"`, `"kind":"call"`, `"sig":"() -> ()"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s: %s", want, data)
		}
	}
}
