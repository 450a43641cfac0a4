package instance

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// nullRef marks a null reference produced by a constant expression.
const nullRef = math.MaxUint64

// Instantiate resolves m's imports through r, allocates its memories,
// tables and globals, and applies active element and data segments. The
// start function is not run. Every unresolved import is reported in one
// *errors.MissingImportsError.
func Instantiate(m *wasm.Module, r Resolver) (*Instance, error) {
	inst := &Instance{module: m, start: m.Start}

	var missing []string
	for _, imp := range m.Imports {
		ok := true
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			if int(imp.Desc.TypeIdx) >= len(m.Types) {
				return nil, errors.Instantiation(fmt.Sprintf("import %s.%s: type index %d out of range",
					imp.Module, imp.Name, imp.Desc.TypeIdx), nil)
			}
			sig := m.Types[imp.Desc.TypeIdx]
			var slot int
			slot, ok = r.ResolveFunc(imp.Module, imp.Name, sig)
			inst.funcs = append(inst.funcs, &Func{
				Index:   uint32(len(inst.funcs)),
				Type:    sig,
				TypeIdx: imp.Desc.TypeIdx,
				Module:  imp.Module,
				Name:    imp.Name,
				Slot:    slot,
				Host:    true,
			})
		case wasm.KindGlobal:
			var g *Global
			g, ok = r.ResolveGlobal(imp.Module, imp.Name, *imp.Desc.Global)
			inst.globals = append(inst.globals, g)
		case wasm.KindMemory:
			var mem *Memory
			mem, ok = r.ResolveMemory(imp.Module, imp.Name, *imp.Desc.Memory)
			inst.memories = append(inst.memories, mem)
		case wasm.KindTable:
			var tbl *Table
			tbl, ok = r.ResolveTable(imp.Module, imp.Name, *imp.Desc.Table)
			inst.tables = append(inst.tables, tbl)
		default:
			return nil, errors.Unsupported(errors.PhaseInstantiate, fmt.Sprintf("import kind %d", imp.Desc.Kind))
		}
		if !ok {
			missing = append(missing, errors.ImportKey(imp.Module, imp.Name))
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, errors.Instantiation(fmt.Sprintf("%d functions declared but %d bodies", len(m.Funcs), len(m.Code)), nil)
	}
	for i, typeIdx := range m.Funcs {
		if int(typeIdx) >= len(m.Types) {
			return nil, errors.Instantiation(fmt.Sprintf("function %d: type index %d out of range", i, typeIdx), nil)
		}
		inst.funcs = append(inst.funcs, &Func{
			Index:   uint32(len(inst.funcs)),
			Type:    m.Types[typeIdx],
			TypeIdx: typeIdx,
			Body:    &m.Code[i],
			Slot:    -1,
		})
	}

	for _, t := range m.Tables {
		inst.tables = append(inst.tables, NewTable(t))
	}
	for _, mt := range m.Memories {
		inst.memories = append(inst.memories, NewMemory(mt.Limits))
	}
	for i, g := range m.Globals {
		v, err := inst.evalConst(g.Init)
		if err != nil {
			return nil, errors.Instantiation(fmt.Sprintf("global %d initializer", i), err)
		}
		inst.globals = append(inst.globals, &Global{Type: g.Type, Bits: v})
	}

	for _, e := range m.Exports {
		inst.exports = append(inst.exports, Export{Name: e.Name, Kind: e.Kind, Idx: e.Idx})
	}

	for i := range m.Elements {
		if err := inst.applyElement(i, &m.Elements[i]); err != nil {
			return nil, err
		}
	}
	for i := range m.Data {
		if err := inst.applyData(i, &m.Data[i]); err != nil {
			return nil, err
		}
	}

	Logger().Debug("instantiated module",
		zap.Int("funcs", len(inst.funcs)),
		zap.Int("globals", len(inst.globals)),
		zap.Int("memories", len(inst.memories)),
		zap.Int("tables", len(inst.tables)),
		zap.Int("elem_bindings", len(inst.elems)))
	return inst, nil
}

func (i *Instance) applyElement(idx int, e *wasm.Element) error {
	if !e.IsActive() {
		return nil
	}
	tbl, ok := i.Table(e.TableIdx)
	if !ok {
		return errors.Instantiation(fmt.Sprintf("element %d: table %d not found", idx, e.TableIdx), nil)
	}
	off, err := i.evalConst(e.Offset)
	if err != nil {
		return errors.Instantiation(fmt.Sprintf("element %d offset", idx), err)
	}
	offset := uint32(off)

	refs := make([]uint64, 0, len(e.FuncIdxs)+len(e.Exprs))
	for _, f := range e.FuncIdxs {
		refs = append(refs, uint64(f))
	}
	for j, expr := range e.Exprs {
		v, err := i.evalConst(expr)
		if err != nil {
			return errors.Instantiation(fmt.Sprintf("element %d item %d", idx, j), err)
		}
		refs = append(refs, v)
	}

	if uint64(offset)+uint64(len(refs)) > uint64(len(tbl.Elems)) {
		return errors.Instantiation(fmt.Sprintf("element %d: out of bounds table access", idx),
			errors.OutOfBounds(errors.PhaseInstantiate, []string{"table"}, int(offset)+len(refs), len(tbl.Elems)))
	}
	for j, ref := range refs {
		slot := offset + uint32(j)
		if ref == nullRef {
			tbl.Elems[slot] = nil
			continue
		}
		f, ok := i.Func(uint32(ref))
		if !ok {
			return errors.Instantiation(fmt.Sprintf("element %d: function %d not found", idx, ref), nil)
		}
		tbl.Elems[slot] = f
		i.elems = append(i.elems, ElemBinding{
			TableIdx: e.TableIdx,
			Offset:   slot,
			FuncIdx:  f.Index,
			TypeIdx:  f.TypeIdx,
		})
	}
	return nil
}

func (i *Instance) applyData(idx int, d *wasm.DataSegment) error {
	if !d.IsActive() {
		return nil
	}
	mem, ok := i.Memory(d.MemIdx)
	if !ok {
		return errors.Instantiation(fmt.Sprintf("data %d: memory %d not found", idx, d.MemIdx), nil)
	}
	off, err := i.evalConst(d.Offset)
	if err != nil {
		return errors.Instantiation(fmt.Sprintf("data %d offset", idx), err)
	}
	if !mem.Write(uint32(off), d.Init) {
		return errors.Instantiation(fmt.Sprintf("data %d: out of bounds memory access", idx),
			errors.OutOfBounds(errors.PhaseInstantiate, []string{"memory"}, int(uint32(off))+len(d.Init), int(mem.Size())))
	}
	return nil
}

// evalConst evaluates a constant expression to raw value bits. Function
// references evaluate to their native index, null references to nullRef.
func (i *Instance) evalConst(expr []byte) (uint64, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return 0, err
	}
	var stack []uint64
	pop2 := func() (uint64, uint64, error) {
		if len(stack) < 2 {
			return 0, 0, errors.InvalidData(errors.PhaseInstantiate, nil, "constant expression stack underflow")
		}
		a, b := stack[len(stack)-2], stack[len(stack)-1]
		stack = stack[:len(stack)-2]
		return a, b, nil
	}

	for _, in := range instrs {
		switch in.Opcode {
		case wasm.OpI32Const:
			stack = append(stack, uint64(uint32(in.Imm.(wasm.I32Imm).Value)))
		case wasm.OpI64Const:
			stack = append(stack, uint64(in.Imm.(wasm.I64Imm).Value))
		case wasm.OpF32Const:
			stack = append(stack, uint64(math.Float32bits(in.Imm.(wasm.F32Imm).Value)))
		case wasm.OpF64Const:
			stack = append(stack, math.Float64bits(in.Imm.(wasm.F64Imm).Value))
		case wasm.OpGlobalGet:
			g, ok := i.Global(in.Imm.(wasm.GlobalImm).GlobalIdx)
			if !ok {
				return 0, errors.NotFound(errors.PhaseInstantiate, "global", fmt.Sprint(in.Imm.(wasm.GlobalImm).GlobalIdx))
			}
			stack = append(stack, g.Get())
		case wasm.OpRefNull:
			stack = append(stack, nullRef)
		case wasm.OpRefFunc:
			stack = append(stack, uint64(in.Imm.(wasm.RefFuncImm).FuncIdx))
		case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul:
			a, b, err := pop2()
			if err != nil {
				return 0, err
			}
			stack = append(stack, uint64(arith32(in.Opcode, uint32(a), uint32(b))))
		case wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul:
			a, b, err := pop2()
			if err != nil {
				return 0, err
			}
			stack = append(stack, arith64(in.Opcode, a, b))
		case wasm.OpEnd:
		default:
			return 0, errors.Unsupported(errors.PhaseInstantiate, "constant expression operator "+in.Name())
		}
	}
	if len(stack) != 1 {
		return 0, errors.InvalidData(errors.PhaseInstantiate, nil,
			fmt.Sprintf("constant expression leaves %d values", len(stack)))
	}
	return stack[0], nil
}

func arith32(op byte, a, b uint32) uint32 {
	switch op {
	case wasm.OpI32Add:
		return a + b
	case wasm.OpI32Sub:
		return a - b
	default:
		return a * b
	}
}

func arith64(op byte, a, b uint64) uint64 {
	switch op {
	case wasm.OpI64Add:
		return a + b
	case wasm.OpI64Sub:
		return a - b
	default:
		return a * b
	}
}
