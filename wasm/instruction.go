package wasm

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// reference-typed block results, encoded like their value types
const (
	blockTypeFuncRef   int64 = -16 // 0x70
	blockTypeExternRef int64 = -17 // 0x6F
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the reference type for ref.null
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a direct call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall || i.Opcode == OpReturnCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsIndirectCall returns true if this is a call_indirect instruction
func (i Instruction) IsIndirectCall() bool {
	return i.Opcode == OpCallIndirect || i.Opcode == OpReturnCallIndirect
}

// Name returns the text-format mnemonic of the instruction.
func (i Instruction) Name() string {
	if i.Opcode == OpPrefixMisc {
		if imm, ok := i.Imm.(MiscImm); ok {
			return MiscName(imm.SubOpcode)
		}
	}
	return OpcodeName(i.Opcode)
}

// String renders the instruction with its immediates, e.g. "call 3".
func (i Instruction) String() string {
	name := i.Name()
	switch imm := i.Imm.(type) {
	case nil:
		return name
	case BlockImm:
		return fmt.Sprintf("%s %s", name, blockTypeString(imm.Type))
	case BranchImm:
		return fmt.Sprintf("%s %d", name, imm.LabelIdx)
	case BrTableImm:
		parts := make([]string, 0, len(imm.Labels)+1)
		for _, l := range imm.Labels {
			parts = append(parts, fmt.Sprint(l))
		}
		parts = append(parts, fmt.Sprint(imm.Default))
		return name + " " + strings.Join(parts, " ")
	case CallImm:
		return fmt.Sprintf("%s %d", name, imm.FuncIdx)
	case CallIndirectImm:
		return fmt.Sprintf("%s %d (type %d)", name, imm.TableIdx, imm.TypeIdx)
	case LocalImm:
		return fmt.Sprintf("%s %d", name, imm.LocalIdx)
	case GlobalImm:
		return fmt.Sprintf("%s %d", name, imm.GlobalIdx)
	case TableImm:
		return fmt.Sprintf("%s %d", name, imm.TableIdx)
	case MemoryImm:
		return fmt.Sprintf("%s offset=%d align=%d", name, imm.Offset, imm.Align)
	case MemoryIdxImm:
		return name
	case I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case F32Imm:
		return fmt.Sprintf("%s %g", name, imm.Value)
	case F64Imm:
		return fmt.Sprintf("%s %g", name, imm.Value)
	case RefNullImm:
		return fmt.Sprintf("%s %s", name, imm.Type)
	case RefFuncImm:
		return fmt.Sprintf("%s %d", name, imm.FuncIdx)
	case MiscImm:
		if len(imm.Operands) == 0 {
			return name
		}
		return fmt.Sprintf("%s %v", name, imm.Operands)
	case SelectTypeImm:
		return fmt.Sprintf("%s %v", name, imm.Types)
	case fmt.Stringer:
		return fmt.Sprintf("%s %s", name, imm)
	default:
		return fmt.Sprintf("%s %v", name, imm)
	}
}

func blockTypeString(t int32) string {
	switch t {
	case BlockTypeVoid:
		return "void"
	case BlockTypeI32:
		return "i32"
	case BlockTypeI64:
		return "i64"
	case BlockTypeF32:
		return "f32"
	case BlockTypeF64:
		return "f64"
	case int32(blockTypeFuncRef):
		return "funcref"
	case int32(blockTypeExternRef):
		return "externref"
	}
	return fmt.Sprintf("type[%d]", t)
}

func readBlockType(r *bytes.Reader) (int32, error) {
	bt, err := ReadLEB128s64(r)
	if err != nil {
		return 0, err
	}
	switch {
	case bt >= 0 && bt <= math.MaxInt32:
		return int32(bt), nil
	case bt == int64(BlockTypeVoid), bt >= int64(BlockTypeF64) && bt < 0:
		return int32(bt), nil
	case bt == blockTypeFuncRef, bt == blockTypeExternRef:
		return int32(bt), nil
	}
	return 0, unsupported(fmt.Sprintf("block type %d", bt))
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		offset := len(code) - r.Len()
		op, _ := r.ReadByte()
		instr := Instruction{Opcode: op}

		imm, err := decodeImmediate(r, op)
		if err != nil {
			return nil, fmt.Errorf("instruction at offset %d (0x%02x): %w", offset, op, err)
		}
		instr.Imm = imm
		instrs = append(instrs, instr)
	}

	return instrs, nil
}

func decodeImmediate(r *bytes.Reader, op byte) (interface{}, error) {
	switch {
	case op == OpBlock, op == OpLoop, op == OpIf:
		bt, err := readBlockType(r)
		return BlockImm{Type: bt}, err

	case op == OpBr, op == OpBrIf:
		idx, err := ReadLEB128u(r)
		return BranchImm{LabelIdx: idx}, err

	case op == OpBrTable:
		count, err := ReadLEB128u(r)
		if err != nil {
			return nil, err
		}
		if int(count) > r.Len() {
			return nil, fmt.Errorf("br_table label count %d exceeds body", count)
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = ReadLEB128u(r); err != nil {
				return nil, err
			}
		}
		def, err := ReadLEB128u(r)
		return BrTableImm{Labels: labels, Default: def}, err

	case op == OpCall, op == OpReturnCall:
		idx, err := ReadLEB128u(r)
		return CallImm{FuncIdx: idx}, err

	case op == OpCallIndirect, op == OpReturnCallIndirect:
		typeIdx, err := ReadLEB128u(r)
		if err != nil {
			return nil, err
		}
		tableIdx, err := ReadLEB128u(r)
		return CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}, err

	case op == OpLocalGet, op == OpLocalSet, op == OpLocalTee:
		idx, err := ReadLEB128u(r)
		return LocalImm{LocalIdx: idx}, err

	case op == OpGlobalGet, op == OpGlobalSet:
		idx, err := ReadLEB128u(r)
		return GlobalImm{GlobalIdx: idx}, err

	case op == OpTableGet, op == OpTableSet:
		idx, err := ReadLEB128u(r)
		return TableImm{TableIdx: idx}, err

	case op >= OpI32Load && op <= OpI64Store32:
		return readMemArg(r)

	case op == OpMemorySize, op == OpMemoryGrow:
		idx, err := ReadLEB128u(r)
		return MemoryIdxImm{MemIdx: idx}, err

	case op == OpI32Const:
		v, err := ReadLEB128s(r)
		return I32Imm{Value: v}, err

	case op == OpI64Const:
		v, err := ReadLEB128s64(r)
		return I64Imm{Value: v}, err

	case op == OpF32Const:
		v, err := ReadFloat32(r)
		return F32Imm{Value: v}, err

	case op == OpF64Const:
		v, err := ReadFloat64(r)
		return F64Imm{Value: v}, err

	case op == OpRefNull:
		t, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if !ValType(t).IsRef() {
			return nil, unsupported(fmt.Sprintf("heap type 0x%02x", t))
		}
		return RefNullImm{Type: ValType(t)}, nil

	case op == OpRefFunc:
		idx, err := ReadLEB128u(r)
		return RefFuncImm{FuncIdx: idx}, err

	case op == OpSelectType:
		count, err := ReadLEB128u(r)
		if err != nil {
			return nil, err
		}
		if int(count) > r.Len() {
			return nil, fmt.Errorf("select type count %d exceeds body", count)
		}
		types := make([]ValType, count)
		for i := range types {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			types[i] = ValType(b)
		}
		return SelectTypeImm{Types: types}, nil

	case op == OpPrefixMisc:
		return decodeMiscImmediate(r)

	case op == OpPrefixSIMD:
		return nil, unsupported("SIMD instruction")
	case op == OpPrefixAtomic:
		return nil, unsupported("atomic instruction")
	case op == OpPrefixGC:
		return nil, unsupported("GC instruction")

	case hasNoImmediate(op):
		return nil, nil
	}
	return nil, fmt.Errorf("unknown opcode: 0x%02x", op)
}

// miscOperandCounts gives the number of LEB128 index operands per 0xFC sub-opcode.
var miscOperandCounts = map[uint32]int{
	MiscI32TruncSatF32S: 0, MiscI32TruncSatF32U: 0,
	MiscI32TruncSatF64S: 0, MiscI32TruncSatF64U: 0,
	MiscI64TruncSatF32S: 0, MiscI64TruncSatF32U: 0,
	MiscI64TruncSatF64S: 0, MiscI64TruncSatF64U: 0,
	MiscMemoryInit: 2, MiscDataDrop: 1, MiscMemoryCopy: 2, MiscMemoryFill: 1,
	MiscTableInit: 2, MiscElemDrop: 1, MiscTableCopy: 2,
	MiscTableGrow: 1, MiscTableSize: 1, MiscTableFill: 1,
}

func decodeMiscImmediate(r *bytes.Reader) (interface{}, error) {
	sub, err := ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	n, ok := miscOperandCounts[sub]
	if !ok {
		return nil, fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", sub)
	}
	imm := MiscImm{SubOpcode: sub}
	if n > 0 {
		imm.Operands = make([]uint32, n)
		for i := range imm.Operands {
			if imm.Operands[i], err = ReadLEB128u(r); err != nil {
				return nil, err
			}
		}
	}
	return imm, nil
}

func hasNoImmediate(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:
		return true
	}
	// comparison, numeric, conversion and sign-extension opcodes are contiguous
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

func readMemArg(r *bytes.Reader) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	if align&0x40 != 0 {
		return MemoryImm{}, unsupported("multi-memory memarg")
	}
	offset, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}

// EncodeInstructionTo writes a single instruction to the provided buffer.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case TableImm:
		WriteLEB128u(buf, imm.TableIdx)
	case MemoryImm:
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, imm.Offset)
	case MemoryIdxImm:
		WriteLEB128u(buf, imm.MemIdx)
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		WriteFloat32(buf, imm.Value)
	case F64Imm:
		WriteFloat64(buf, imm.Value)
	case RefNullImm:
		buf.WriteByte(byte(imm.Type))
	case RefFuncImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, o := range imm.Operands {
			WriteLEB128u(buf, o)
		}
	}
}

// EncodeInstructionsTo writes multiple instructions to the provided buffer.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3)
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}
