package tracer_test

import (
	"errors"
	"math"
	"testing"

	werrors "github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/tracer"
	"github.com/wippyai/wasm-trace/wasm"
)

func ptrTo[T any](v T) *T { return &v }

var (
	sigInput = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI64}}
	sigVoid  = wasm.FuncType{}
	sigI32   = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
)

var inputHost = map[int]trace.HostFunctionDesc{
	0: trace.HostInternal{Name: "wasm_input", Plugin: trace.PluginHostInput},
}

func isKind(err error, phase werrors.Phase, kind werrors.Kind) bool {
	return errors.Is(err, &werrors.Error{Phase: phase, Kind: kind})
}

// callerModule imports host.input and exports main, which calls it.
func callerModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{sigInput, sigVoid},
		Imports: []wasm.Import{
			{Module: "host", Name: "input", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:   []uint32{1},
		Exports: []wasm.Export{{Name: "main", Kind: wasm.KindFunc, Idx: 1}},
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpI32Const, 0x00, wasm.OpCall, 0x00, wasm.OpDrop, wasm.OpEnd}},
		},
	}
}

// phantomModule exports get_random, whose real body must not be traced,
// and main, which calls it.
func phantomModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{sigInput, sigI32, sigVoid},
		Imports: []wasm.Import{
			{Module: "env", Name: "wasm_input", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{1, 2},
		Exports: []wasm.Export{
			{Name: "get_random", Kind: wasm.KindFunc, Idx: 1},
			{Name: "main", Kind: wasm.KindFunc, Idx: 2},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpI32Const, 0x04, wasm.OpI32Const, 0x05, wasm.OpI32Add, wasm.OpEnd}},
			{Code: []byte{wasm.OpCall, 0x01, wasm.OpDrop, wasm.OpEnd}},
		},
	}
}

func instantiate(t *testing.T, m *wasm.Module) *instance.Instance {
	t.Helper()
	inst, err := instance.Instantiate(m, &instance.ResolveAll{})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst
}

func register(t *testing.T, m *wasm.Module, patterns ...string) (*tracer.Tracer, *instance.Instance) {
	t.Helper()
	inst := instantiate(t, m)
	tr, err := tracer.New(inputHost, patterns)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f, ok := inst.Func(0); ok && f.IsHost() {
		tr.SetHostInput(f)
	}
	if err := tr.Register(inst); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return tr, inst
}

func TestStableIndices(t *testing.T) {
	build := func(start *uint32) *wasm.Module {
		m := callerModule()
		m.Funcs = []uint32{1, 1, 1}
		m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}, {Code: []byte{wasm.OpEnd}}, {Code: []byte{wasm.OpEnd}}}
		m.Start = start
		return m
	}

	tests := []struct {
		name  string
		start *uint32
		want  map[uint32]bool
	}{
		{"with start", ptrTo(uint32(2)), map[uint32]bool{0: true, 1: true, 2: true, 3: true}},
		{"without start", nil, map[uint32]bool{1: true, 2: true, 3: true, 4: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := register(t, build(tt.start))
			funcs := tr.Tables().Funcs
			if len(funcs) != 4 {
				t.Fatalf("got %d descriptors, want 4", len(funcs))
			}
			seen := make(map[uint32]bool)
			for native, d := range funcs {
				if seen[d.Index] {
					t.Errorf("stable index %d assigned twice", d.Index)
				}
				seen[d.Index] = true
				if !tt.want[d.Index] {
					t.Errorf("native %d got unexpected stable index %d", native, d.Index)
				}
			}
			if tt.start != nil && funcs[*tt.start].Index != 0 {
				t.Errorf("start function got stable index %d", funcs[*tt.start].Index)
			}
		})
	}
}

func TestHostCallScenario(t *testing.T) {
	tr, inst := register(t, callerModule())
	tables := tr.Tables()

	if tables.Image.Len() != 0 {
		t.Errorf("image has %d rows, want 0", tables.Image.Len())
	}
	if len(tr.Phantoms()) != 0 {
		t.Errorf("phantoms = %v", tr.Phantoms())
	}

	hostDesc, err := tr.FuncDesc(0)
	if err != nil {
		t.Fatalf("FuncDesc(0): %v", err)
	}
	h, ok := hostDesc.Type.(trace.HostFunction)
	if !ok || h.Plugin != trace.PluginHostInput || h.Slot != 0 {
		t.Errorf("host descriptor = %+v", hostDesc.Type)
	}

	main, _ := inst.ExportedFunc("main")
	fid, err := tr.StableIndexOf(main)
	if err != nil {
		t.Fatalf("StableIndexOf(main): %v", err)
	}
	rows := tables.Instructions.Func(fid)
	if len(rows) != 4 || tables.Instructions.Len() != 4 {
		t.Fatalf("main has %d rows of %d total, want 4", len(rows), tables.Instructions.Len())
	}
	if target, ok := rows[1].Op.GetCallTarget(); !ok || target != hostDesc.Index {
		t.Errorf("call target = %d, want stable index %d", target, hostDesc.Index)
	}
	first, err := tr.FirstInstructionOf(main)
	if err != nil || first.IID != 0 || first.Op.Opcode != wasm.OpI32Const {
		t.Errorf("FirstInstructionOf = %+v, %v", first, err)
	}
	last, err := tr.LastInstructionOf(main)
	if err != nil || last.IID != 3 || last.Op.Opcode != wasm.OpEnd {
		t.Errorf("LastInstructionOf = %+v, %v", last, err)
	}
	if typ, err := tr.TypeOf(main); err != nil || typ != 1 {
		t.Errorf("TypeOf(main) = %d, %v", typ, err)
	}
}

func TestMemoryImage(t *testing.T) {
	tests := []struct {
		name    string
		limits  wasm.Limits
		wantEnd uint32
		wantMax uint32
	}{
		{"with max", wasm.Limits{Min: 1, Max: ptrTo(uint32(3))}, 3*8192 - 1, 3},
		{"no max", wasm.Limits{Min: 2}, math.MaxUint32, wasm.MemoryMaxPages},
		{"max equals min", wasm.Limits{Min: 1, Max: ptrTo(uint32(1))}, 8191, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := callerModule()
			m.Memories = []wasm.MemoryType{{Limits: tt.limits}}
			m.Data = []wasm.DataSegment{
				{Offset: []byte{wasm.OpI32Const, 0x08, wasm.OpEnd}, Init: []byte{0xEF, 0xBE, 0xAD, 0xDE}},
			}
			tr, _ := register(t, m)
			tables := tr.Tables()

			words := tt.limits.Min * 8192
			rows := tables.Image.Memory()
			if uint32(len(rows)) != words+1 {
				t.Fatalf("got %d memory rows, want %d", len(rows), words+1)
			}
			for i, r := range rows[:words] {
				if r.Start != uint32(i) || r.End != uint32(i) || r.IsGlobal || r.IsMutable || r.VType != trace.VarI64 {
					t.Fatalf("row %d = %+v", i, r)
				}
			}
			if rows[1].Value != 0xDEADBEEF {
				t.Errorf("word 1 = %#x, want 0xdeadbeef", rows[1].Value)
			}
			sentinel := rows[words]
			if sentinel.Start != words || sentinel.End != tt.wantEnd || sentinel.Value != 0 {
				t.Errorf("sentinel = %+v, want start %d end %d", sentinel, words, tt.wantEnd)
			}
			if tables.Configure.InitMemoryPages != tt.limits.Min || tables.Configure.MaximalMemoryPages != tt.wantMax {
				t.Errorf("configure = %+v", tables.Configure)
			}
		})
	}
}

func TestMemoryImageZeroMax(t *testing.T) {
	m := callerModule()
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 0, Max: ptrTo(uint32(0))}}}
	tr, _ := register(t, m)
	tables := tr.Tables()

	if rows := tables.Image.Memory(); len(rows) != 0 {
		t.Fatalf("memory rows = %+v, want none", rows)
	}
	if tables.Configure.InitMemoryPages != 0 || tables.Configure.MaximalMemoryPages != 0 {
		t.Errorf("configure = %+v", tables.Configure)
	}
}

func TestGlobalImage(t *testing.T) {
	m := callerModule()
	m.Globals = []wasm.Global{
		{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: []byte{wasm.OpI32Const, 0x7f, wasm.OpEnd}},
		{Type: wasm.GlobalType{ValType: wasm.ValF64}, Init: append(append([]byte{wasm.OpF64Const},
			0, 0, 0, 0, 0, 0, 0xF8, 0x3F), wasm.OpEnd)}, // 1.5
	}
	tr, _ := register(t, m)
	rows := tr.Tables().Image.Globals()
	if len(rows) != 2 {
		t.Fatalf("got %d global rows, want 2", len(rows))
	}
	want := []trace.IMRow{
		{IsGlobal: true, IsMutable: true, Start: 0, End: 0, VType: trace.VarI32, Value: 0xFFFFFFFF},
		{IsGlobal: true, Start: 1, End: 1, VType: trace.VarF64, Value: math.Float64bits(1.5)},
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("global row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestElemTable(t *testing.T) {
	m := callerModule()
	m.Funcs = []uint32{1, 1}
	m.Code = append(m.Code, wasm.FuncBody{Code: []byte{wasm.OpEnd}})
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}}
	m.Elements = []wasm.Element{
		{Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{2, 1}},
		{Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{0}},
	}
	tr, _ := register(t, m)
	funcs := tr.Tables().Funcs

	want := []trace.ElemRow{
		{TableIdx: 0, Offset: 0, FuncIdx: funcs[2].Index, TypeIdx: 1},
		{TableIdx: 0, Offset: 1, FuncIdx: funcs[1].Index, TypeIdx: 1},
		{TableIdx: 0, Offset: 0, FuncIdx: funcs[0].Index, TypeIdx: 0},
	}
	got := tr.Tables().Elems.Rows()
	if len(got) != len(want) {
		t.Fatalf("elem rows = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := tr.RecordElem(0, 3, 9, 1); err != nil {
		t.Fatalf("RecordElem: %v", err)
	}
	if last := tr.Tables().Elems.Rows()[3]; last != (trace.ElemRow{TableIdx: 0, Offset: 3, FuncIdx: 9, TypeIdx: 1}) {
		t.Errorf("recorded row = %+v", last)
	}
}

func TestPhantomScenario(t *testing.T) {
	tr, inst := register(t, phantomModule(), "^get_.*")

	phantom, _ := inst.ExportedFunc("get_random")
	if !tr.IsPhantom(phantom) {
		t.Fatal("get_random is not phantom")
	}
	if got := tr.Phantoms(); len(got) != 1 || got[0] != phantom.Index {
		t.Errorf("Phantoms = %v", got)
	}

	fid, _ := tr.StableIndexOf(phantom)
	host, _ := inst.Func(0)
	hostFID, _ := tr.StableIndexOf(host)
	rows := tr.Tables().Instructions.Func(fid)
	want := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: hostFID}},
		{Opcode: wasm.OpI32WrapI64},
		{Opcode: wasm.OpReturn, Imm: trace.DropKeep{Drop: 0, Keep: 1}},
	}
	if len(rows) != len(want) {
		t.Fatalf("phantom has %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		if rows[i].IID != uint32(i) || rows[i].Op.String() != want[i].String() {
			t.Errorf("row %d = %d %s, want %s", i, rows[i].IID, rows[i].Op, want[i])
		}
	}
	for _, r := range rows {
		if r.Op.Opcode == wasm.OpI32Add {
			t.Error("phantom rows contain the real body")
		}
	}

	main, _ := inst.ExportedFunc("main")
	if tr.IsPhantom(main) {
		t.Error("main should not be phantom")
	}
}

func TestPhantomIgnoresNonFunctionExports(t *testing.T) {
	m := phantomModule()
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 0}}}
	m.Exports = []wasm.Export{{Name: "get_memory", Kind: wasm.KindMemory, Idx: 0}}

	inst := instantiate(t, m)
	tr, err := tracer.New(inputHost, []string{"^get_"})
	if err != nil {
		t.Fatal(err)
	}
	// no host input: registration only succeeds if nothing is phantom
	if err := tr.Register(inst); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(tr.Phantoms()) != 0 {
		t.Errorf("Phantoms = %v", tr.Phantoms())
	}
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name     string
		module   func() *wasm.Module
		hosts    map[int]trace.HostFunctionDesc
		patterns []string
		setInput bool
		kind     werrors.Kind
	}{
		{"missing host descriptor", callerModule, map[int]trace.HostFunctionDesc{}, nil, false, werrors.KindMissingHostDesc},
		{"phantom without host input", phantomModule, inputHost, []string{"^get_"}, false, werrors.KindMissingHostInput},
		{"host input signature", func() *wasm.Module {
			m := phantomModule()
			m.Types[0] = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
			return m
		}, inputHost, []string{"^get_"}, true, werrors.KindTypeMismatch},
		{"reference result", func() *wasm.Module {
			m := phantomModule()
			m.Types[1] = wasm.FuncType{Results: []wasm.ValType{wasm.ValExtern}}
			m.Code[0].Code = []byte{wasm.OpRefNull, byte(wasm.ValExtern), wasm.OpEnd}
			return m
		}, inputHost, []string{"^get_"}, true, werrors.KindUnsupported},
		{"two memories", func() *wasm.Module {
			m := callerModule()
			m.Memories = []wasm.MemoryType{{}, {}}
			return m
		}, inputHost, nil, false, werrors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := instantiate(t, tt.module())
			tr, err := tracer.New(tt.hosts, tt.patterns)
			if err != nil {
				t.Fatal(err)
			}
			if tt.setInput {
				f, _ := inst.Func(0)
				tr.SetHostInput(f)
			}
			err = tr.Register(inst)
			if !isKind(err, werrors.PhaseRegister, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if tr.Tables() != nil {
				t.Error("tables exposed after failed registration")
			}
		})
	}
}

func TestNewInvalidPattern(t *testing.T) {
	_, err := tracer.New(nil, []string{"^ok$", "get_("})
	if !isKind(err, werrors.PhaseConfig, werrors.KindInvalidPattern) {
		t.Fatalf("expected invalid pattern error, got %v", err)
	}
}

func TestRegisterTwice(t *testing.T) {
	tr, inst := register(t, callerModule())
	if err := tr.Register(inst); !isKind(err, werrors.PhaseRegister, werrors.KindAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestNotRegistered(t *testing.T) {
	inst := instantiate(t, callerModule())
	tr, err := tracer.New(inputHost, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Tables() != nil {
		t.Error("Tables before Register should be nil")
	}
	f, _ := inst.Func(1)
	if _, err := tr.StableIndexOf(f); !isKind(err, werrors.PhaseExecute, werrors.KindNotRegistered) {
		t.Errorf("StableIndexOf: %v", err)
	}
	if err := tr.RegisterEntry(f); !isKind(err, werrors.PhaseExecute, werrors.KindNotRegistered) {
		t.Errorf("RegisterEntry: %v", err)
	}
}

func TestLookupErrors(t *testing.T) {
	tr, inst := register(t, callerModule())
	main, _ := inst.ExportedFunc("main")
	host, _ := inst.Func(0)

	if _, err := tr.InstructionAt(main, 4); !isKind(err, werrors.PhaseExecute, werrors.KindNotFound) {
		t.Errorf("InstructionAt past end: %v", err)
	}
	if _, err := tr.FirstInstructionOf(host); !isKind(err, werrors.PhaseExecute, werrors.KindNotFound) {
		t.Errorf("FirstInstructionOf(host): %v", err)
	}
	stranger := &instance.Func{Index: 1}
	if _, err := tr.StableIndexOf(stranger); !isKind(err, werrors.PhaseExecute, werrors.KindNotRegistered) {
		t.Errorf("StableIndexOf(unregistered): %v", err)
	}
	if row, err := tr.InstructionAt(main, 1); err != nil || row.Op.Opcode != wasm.OpCall {
		t.Errorf("InstructionAt(main, 1) = %+v, %v", row, err)
	}
	if iid, ok := tr.CallSite(main, host, 0); !ok || iid != 1 {
		t.Errorf("CallSite = %d, %v", iid, ok)
	}
	if _, ok := tr.CallSite(main, host, 2); ok {
		t.Error("CallSite found a call before the cursor")
	}
	stats, err := tr.InstructionStatistics()
	if err != nil || stats["call"] != 1 || stats["i32.const"] != 1 {
		t.Errorf("InstructionStatistics = %v, %v", stats, err)
	}
}

func TestFrames(t *testing.T) {
	tr, _ := register(t, callerModule())

	if err := tr.PopFrame(); !isKind(err, werrors.PhaseExecute, werrors.KindFrameUnderflow) {
		t.Fatalf("PopFrame on empty stack: %v", err)
	}
	if _, err := tr.LastJumpEID(); !isKind(err, werrors.PhaseExecute, werrors.KindFrameUnderflow) {
		t.Fatalf("LastJumpEID on empty stack: %v", err)
	}

	const depth = 100
	for i := 0; i < depth; i++ {
		tr.PushFrame()
	}
	if tr.Depth() != depth {
		t.Fatalf("Depth = %d", tr.Depth())
	}
	for i := 0; i < depth; i++ {
		if err := tr.PopFrame(); err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
	}
	if err := tr.PopFrame(); err == nil {
		t.Fatal("unbalanced pop succeeded")
	}
}

func TestRecordEvents(t *testing.T) {
	tr, inst := register(t, phantomModule())
	main, _ := inst.ExportedFunc("main")
	callee, _ := inst.ExportedFunc("get_random")
	host, _ := inst.Func(0)

	if err := tr.RegisterEntry(main); err != nil {
		t.Fatalf("RegisterEntry: %v", err)
	}
	static := tr.Tables().Jumps.Static()
	mainFID, _ := tr.StableIndexOf(main)
	if len(static) != 2 || static[0].Enable || !static[1].Enable || static[1].CalleeFID != mainFID {
		t.Errorf("static frames = %+v", static)
	}

	tr.PushFrame() // entry
	if eid, err := tr.RecordStep(main, 0); err != nil || eid != 1 {
		t.Fatalf("RecordStep = %d, %v", eid, err)
	}
	if err := tr.RecordCall(main, 0, callee); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if last, _ := tr.LastJumpEID(); last != 2 {
		t.Errorf("LastJumpEID = %d, want 2", last)
	}
	if _, err := tr.RecordStep(callee, 0); err != nil {
		t.Fatalf("RecordStep(callee): %v", err)
	}
	if _, err := tr.RecordHostCall(host); err != nil {
		t.Fatalf("RecordHostCall: %v", err)
	}
	if _, err := tr.RecordHostCall(main); !isKind(err, werrors.PhaseExecute, werrors.KindInvalidInput) {
		t.Errorf("RecordHostCall(main): %v", err)
	}
	if err := tr.RecordReturn(callee, 5); err != nil {
		t.Fatalf("RecordReturn(callee): %v", err)
	}
	if err := tr.RecordReturn(main, 2); err != nil {
		t.Fatalf("RecordReturn(main): %v", err)
	}
	if tr.Depth() != 0 {
		t.Errorf("Depth = %d after balanced run", tr.Depth())
	}
	if err := tr.RecordReturn(main, 2); !isKind(err, werrors.PhaseExecute, werrors.KindFrameUnderflow) {
		t.Errorf("extra return: %v", err)
	}

	events := tr.Tables().Events.Rows()
	kinds := []trace.EventKind{trace.EventStep, trace.EventCall, trace.EventStep, trace.EventHostCall, trace.EventReturn, trace.EventReturn}
	if len(events) != len(kinds) {
		t.Fatalf("got %d events, want %d", len(events), len(kinds))
	}
	for i, e := range events {
		if e.EID != uint32(i+1) || e.Kind != kinds[i] {
			t.Errorf("event %d = %+v", i, e)
		}
	}
	if events[2].LastJumpEID != 2 || events[5].LastJumpEID != 0 {
		t.Errorf("frame markers: callee step %d, main return %d", events[2].LastJumpEID, events[5].LastJumpEID)
	}

	jumps := tr.Tables().Jumps.Rows()
	calleeFID, _ := tr.StableIndexOf(callee)
	if len(jumps) != 1 || jumps[0] != (trace.JumpRow{EID: 2, LastJumpEID: 0, CalleeFID: calleeFID, FID: mainFID, IID: 0}) {
		t.Errorf("jumps = %+v", jumps)
	}
	if tr.EID() != 6 {
		t.Errorf("EID = %d, want 6", tr.EID())
	}
}
