package runner_test

import (
	"context"
	"errors"
	"testing"

	werrors "github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/runner"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/tracer"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	sigInput  = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI64}}
	sigDouble = wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}, Results: []wasm.ValType{wasm.ValI64}}
	sigMain   = wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}
)

var hosts = map[int]trace.HostFunctionDesc{
	0: trace.HostInternal{Name: "wasm_input", Plugin: trace.PluginHostInput},
	1: trace.HostInternal{Name: "require", Plugin: trace.PluginRequire},
}

func isKind(err error, phase werrors.Phase, kind werrors.Kind) bool {
	return errors.Is(err, &werrors.Error{Phase: phase, Kind: kind})
}

// inputModule imports env.wasm_input and defines double and main. main
// returns double(public input) + private input.
func inputModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{sigInput, sigDouble, sigMain},
		Imports: []wasm.Import{
			{Module: "env", Name: "wasm_input", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{1, 2},
		Exports: []wasm.Export{
			{Name: "double", Kind: wasm.KindFunc, Idx: 1},
			{Name: "main", Kind: wasm.KindFunc, Idx: 2},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{
				wasm.OpLocalGet, 0x00,
				wasm.OpI64Const, 0x02,
				wasm.OpI64Mul,
				wasm.OpEnd,
			}},
			{Code: []byte{
				wasm.OpI32Const, 0x01,
				wasm.OpCall, 0x00,
				wasm.OpCall, 0x01,
				wasm.OpI32Const, 0x00,
				wasm.OpCall, 0x00,
				wasm.OpI64Add,
				wasm.OpEnd,
			}},
		},
	}
}

func setup(t *testing.T, m *wasm.Module, patterns ...string) *tracer.Tracer {
	t.Helper()
	inst, err := instance.Instantiate(m, &instance.ResolveAll{})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	tr, err := tracer.New(hosts, patterns)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f, ok := inst.ImportedFunc("env", "wasm_input"); ok {
		tr.SetHostInput(f)
	}
	if err := tr.Register(inst); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return tr
}

func run(t *testing.T, tr *tracer.Tracer, cfg runner.Config) ([]uint64, error) {
	t.Helper()
	r, err := runner.New(tr, cfg)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	return r.Run(context.Background())
}

func kinds(rows []trace.EventRow) []trace.EventKind {
	out := make([]trace.EventKind, len(rows))
	for i, r := range rows {
		out[i] = r.Kind
	}
	return out
}

func equalKinds(a, b []trace.EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun(t *testing.T) {
	tr := setup(t, inputModule())
	results, err := run(t, tr, runner.Config{
		Entry:  "main",
		Inputs: runner.Inputs{Public: []uint64{21}, Private: []uint64{5}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0] != 47 {
		t.Fatalf("results = %v, want [47]", results)
	}
	if tr.Depth() != 0 {
		t.Errorf("depth = %d after run", tr.Depth())
	}

	tables := tr.Tables()
	want := []trace.EventKind{
		trace.EventHostCall, trace.EventCall, trace.EventReturn, trace.EventHostCall, trace.EventReturn,
	}
	if got := kinds(tables.Events.Rows()); !equalKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	jumps := tables.Jumps.Rows()
	if len(jumps) != 1 {
		t.Fatalf("got %d jump rows, want 1", len(jumps))
	}
	// stable indices: wasm_input 1, double 2, main 3
	j := jumps[0]
	if j.EID != 2 || j.LastJumpEID != 0 || j.CalleeFID != 2 || j.FID != 3 || j.IID != 2 {
		t.Errorf("jump row = %+v", j)
	}

	static := tables.Jumps.Static()
	if len(static) != 2 || static[0].Enable || static[1].CalleeFID != 3 {
		t.Errorf("static frames = %+v", static)
	}

	ret := tables.Events.Rows()[2]
	if ret.FID != 2 || ret.IID != 3 || ret.LastJumpEID != 2 {
		t.Errorf("return event = %+v", ret)
	}
}

func TestRunRepeatedCallSites(t *testing.T) {
	m := inputModule()
	m.Code[1] = wasm.FuncBody{Code: []byte{
		wasm.OpI32Const, 0x01,
		wasm.OpCall, 0x00,
		wasm.OpCall, 0x01,
		wasm.OpCall, 0x01,
		wasm.OpEnd,
	}}
	tr := setup(t, m)
	results, err := run(t, tr, runner.Config{
		Entry:  "main",
		Inputs: runner.Inputs{Public: []uint64{3}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0] != 12 {
		t.Fatalf("result = %d, want 12", results[0])
	}

	jumps := tr.Tables().Jumps.Rows()
	if len(jumps) != 2 {
		t.Fatalf("got %d jump rows, want 2", len(jumps))
	}
	if jumps[0].IID != 2 || jumps[1].IID != 3 {
		t.Errorf("call sites = %d, %d, want 2, 3", jumps[0].IID, jumps[1].IID)
	}
}

func TestRunMixedCallSites(t *testing.T) {
	m := inputModule()
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Elements = []wasm.Element{
		{Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{1}},
	}
	// double(double(3)) through table slot 0, then directly
	m.Code[1] = wasm.FuncBody{Code: []byte{
		wasm.OpI64Const, 0x03,
		wasm.OpI32Const, 0x00,
		wasm.OpCallIndirect, 0x01, 0x00,
		wasm.OpCall, 0x01,
		wasm.OpEnd,
	}}
	tr := setup(t, m)
	results, err := run(t, tr, runner.Config{Entry: "main"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0] != 12 {
		t.Fatalf("result = %d, want 12", results[0])
	}

	jumps := tr.Tables().Jumps.Rows()
	if len(jumps) != 2 {
		t.Fatalf("got %d jump rows, want 2", len(jumps))
	}
	if jumps[0].IID != 2 || jumps[1].IID != 3 {
		t.Errorf("call sites = %d, %d, want 2, 3", jumps[0].IID, jumps[1].IID)
	}
	if jumps[0].CalleeFID != 2 || jumps[1].CalleeFID != 2 {
		t.Errorf("callees = %d, %d, want 2", jumps[0].CalleeFID, jumps[1].CalleeFID)
	}
}

func TestRunPhantom(t *testing.T) {
	tr := setup(t, inputModule(), "^double$")
	results, err := run(t, tr, runner.Config{
		Entry:  "main",
		Inputs: runner.Inputs{Public: []uint64{21}, Private: []uint64{5, 6}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// double's body is replaced by a private input read
	if results[0] != 11 {
		t.Fatalf("result = %d, want 11", results[0])
	}

	want := []trace.EventKind{
		trace.EventHostCall,
		trace.EventCall, trace.EventHostCall, trace.EventReturn,
		trace.EventHostCall, trace.EventReturn,
	}
	events := tr.Tables().Events.Rows()
	if got := kinds(events); !equalKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[2].LastJumpEID != 2 {
		t.Errorf("host call inside the phantom has marker %d, want 2", events[2].LastJumpEID)
	}
	if events[3].IID != 2 || events[3].Opcode != wasm.OpReturn {
		t.Errorf("phantom return = %+v", events[3])
	}
}

func TestRunStartFunction(t *testing.T) {
	m := inputModule()
	m.Types = append(m.Types, wasm.FuncType{})
	m.Funcs = append(m.Funcs, 3)
	m.Code = append(m.Code, wasm.FuncBody{Code: []byte{wasm.OpEnd}})
	start := uint32(3)
	m.Start = &start

	tr := setup(t, m)
	if _, err := run(t, tr, runner.Config{
		Entry:  "main",
		Inputs: runner.Inputs{Public: []uint64{1}, Private: []uint64{1}},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := tr.Tables().Events.Rows()
	if events[0].Kind != trace.EventReturn || events[0].FID != 0 {
		t.Errorf("first event = %+v, want the start function's return", events[0])
	}
	if static := tr.Tables().Jumps.Static(); !static[0].Enable {
		t.Error("start frame not enabled")
	}
}

func TestRunErrors(t *testing.T) {
	requireModule := func() *wasm.Module {
		m := inputModule()
		m.Types = append(m.Types, wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
		m.Imports = append(m.Imports, wasm.Import{
			Module: "env", Name: "require", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 3},
		})
		m.Exports = []wasm.Export{{Name: "main", Kind: wasm.KindFunc, Idx: 3}}
		m.Code[1] = wasm.FuncBody{Code: []byte{
			wasm.OpI32Const, 0x00,
			wasm.OpCall, 0x01,
			wasm.OpI64Const, 0x00,
			wasm.OpEnd,
		}}
		return m
	}

	tests := []struct {
		name  string
		m     *wasm.Module
		entry string
		phase werrors.Phase
		kind  werrors.Kind
	}{
		{"missing entry", inputModule(), "nope", werrors.PhaseExecute, werrors.KindNotFound},
		{"inputs exhausted", inputModule(), "main", werrors.PhaseExecute, werrors.KindInvalidInput},
		{"require fails", requireModule(), "main", werrors.PhaseExecute, werrors.KindTrap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := setup(t, tt.m)
			_, err := run(t, tr, runner.Config{Entry: tt.entry})
			if !isKind(err, tt.phase, tt.kind) {
				t.Fatalf("err = %v, want %s/%s", err, tt.phase, tt.kind)
			}
		})
	}
}

func TestRunNonFunctionImport(t *testing.T) {
	m := inputModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "memory",
		Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}},
	})
	tr := setup(t, m)
	_, err := run(t, tr, runner.Config{Entry: "main"})
	if !isKind(err, werrors.PhaseExecute, werrors.KindUnsupported) {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

func TestNewRequiresRegistration(t *testing.T) {
	tr, err := tracer.New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.New(tr, runner.Config{Entry: "main"}); !isKind(err, werrors.PhaseExecute, werrors.KindNotRegistered) {
		t.Fatalf("err = %v, want not registered", err)
	}
}

func TestRunOnce(t *testing.T) {
	tr := setup(t, inputModule())
	core, logs := observer.New(zapcore.InfoLevel)
	r, err := runner.New(tr, runner.Config{
		Entry:  "main",
		Inputs: runner.Inputs{Public: []uint64{1}, Private: []uint64{1}},
	}, runner.WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if logs.FilterMessage("run complete").Len() != 1 {
		t.Error("missing run complete log")
	}
	if _, err := r.Run(context.Background()); !isKind(err, werrors.PhaseExecute, werrors.KindInvalidInput) {
		t.Fatalf("second Run err = %v", err)
	}
}
