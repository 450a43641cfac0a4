package tracer

import (
	"fmt"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

var hostInputSig = wasm.FuncType{
	Params:  []wasm.ValType{wasm.ValI32},
	Results: []wasm.ValType{wasm.ValI64},
}

func (t *Tracer) matchesPattern(name string) bool {
	for _, re := range t.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// resolvePhantoms marks every module-defined function exported under a
// matching name. It closes the phantom set and checks the host input
// function stubs will call.
func (t *Tracer) resolvePhantoms(inst *instance.Instance) error {
	for _, e := range inst.Exports() {
		if e.Kind != wasm.KindFunc || !t.matchesPattern(e.Name) {
			continue
		}
		f, ok := inst.Func(e.Idx)
		if !ok {
			return errors.NotFound(errors.PhaseRegister, "exported function", e.Name)
		}
		if f.IsHost() {
			t.log.Debug("phantom pattern matches a host function, ignored", zap.String("export", e.Name))
			continue
		}
		t.phantoms[f] = struct{}{}
		t.log.Debug("phantom function", zap.String("export", e.Name), zap.Uint32("native", f.Index))
	}

	if len(t.phantoms) == 0 {
		return nil
	}
	if t.hostInputIdx == nil {
		return errors.MissingHostInput(len(t.phantoms))
	}
	if !t.hostInput.Type.Equal(hostInputSig) {
		return errors.TypeMismatch(errors.PhaseRegister, []string{"host_input"},
			hostInputSig.String(), t.hostInput.Type.String())
	}
	return nil
}

// Stub builds the replacement body of a phantom function: one host input
// call per result, each converted to the result type, then a return that
// drops the arguments and keeps the results. hostInput is the index the
// calls target.
func Stub(sig wasm.FuncType, hostInput uint32) ([]wasm.Instruction, error) {
	var out []wasm.Instruction
	for i, r := range sig.Results {
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: hostInput}},
		)
		switch r {
		case wasm.ValI64:
		case wasm.ValI32:
			out = append(out, wasm.Instruction{Opcode: wasm.OpI32WrapI64})
		case wasm.ValF32:
			out = append(out,
				wasm.Instruction{Opcode: wasm.OpI32WrapI64},
				wasm.Instruction{Opcode: wasm.OpF32ReinterpretI32},
			)
		case wasm.ValF64:
			out = append(out, wasm.Instruction{Opcode: wasm.OpF64ReinterpretI64})
		default:
			return nil, errors.Unsupported(errors.PhaseRegister, fmt.Sprintf("phantom result %d of type %s", i, r))
		}
	}
	out = append(out, wasm.Instruction{
		Opcode: wasm.OpReturn,
		Imm:    trace.DropKeep{Drop: uint32(len(sig.Params)), Keep: uint32(len(sig.Results))},
	})
	return out, nil
}
