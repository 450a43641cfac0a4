package tracer

import (
	"testing"

	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStub(t *testing.T) {
	tests := []struct {
		name string
		sig  wasm.FuncType
		want []byte
	}{
		{"void", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, []byte{wasm.OpReturn}},
		{"i64", wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}},
			[]byte{wasm.OpI32Const, wasm.OpCall, wasm.OpReturn}},
		{"mixed", wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI64},
			Results: []wasm.ValType{wasm.ValF32, wasm.ValF64, wasm.ValI32},
		}, []byte{
			wasm.OpI32Const, wasm.OpCall, wasm.OpI32WrapI64, wasm.OpF32ReinterpretI32,
			wasm.OpI32Const, wasm.OpCall, wasm.OpF64ReinterpretI64,
			wasm.OpI32Const, wasm.OpCall, wasm.OpI32WrapI64,
			wasm.OpReturn,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Stub(tt.sig, 7)
			if err != nil {
				t.Fatalf("stub: %v", err)
			}
			if len(ops) != len(tt.want) {
				t.Fatalf("got %d instructions, want %d", len(ops), len(tt.want))
			}
			for i, op := range ops {
				if op.Opcode != tt.want[i] {
					t.Errorf("instr %d = %s", i, op)
				}
				if target, ok := op.GetCallTarget(); ok && target != 7 {
					t.Errorf("instr %d calls %d, want host input 7", i, target)
				}
			}
			ret := ops[len(ops)-1].Imm.(trace.DropKeep)
			if ret.Drop != uint32(len(tt.sig.Params)) || ret.Keep != uint32(len(tt.sig.Results)) {
				t.Errorf("return %s", ret)
			}
		})
	}
}

func TestStubRejectsReferences(t *testing.T) {
	if _, err := Stub(wasm.FuncType{Results: []wasm.ValType{wasm.ValFuncRef}}, 0); err == nil {
		t.Fatal("expected error for funcref result")
	}
}

func TestAllocate(t *testing.T) {
	tr := &Tracer{}
	for want := uint32(1); want <= 5; want++ {
		if got := tr.allocate(); got != want {
			t.Fatalf("allocate = %d, want %d", got, want)
		}
	}
}

func TestWithLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr, err := New(nil, []string{"^x"}, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	tr.log.Info("ping")
	if logs.FilterMessage("ping").Len() != 1 {
		t.Error("WithLogger did not install the logger")
	}
	if !tr.matchesPattern("xyz") || tr.matchesPattern("axe") {
		t.Error("patterns are anchored as written")
	}
}
