package wasm

import "strings"

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures have identical parameter and result types.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "(i32, i64) -> (i64)".
func (f FuncType) String() string {
	var b strings.Builder
	writeValTypeList(&b, f.Params)
	b.WriteString(" -> ")
	writeValTypeList(&b, f.Results)
	return b.String()
}

func writeValTypeList(b *strings.Builder, types []ValType) {
	b.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether v is one of the four number types.
func (v ValType) IsNumeric() bool {
	return v == ValI32 || v == ValI64 || v == ValF32 || v == ValF64
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes, including the end opcode
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// IsActive reports whether the segment is applied to a table at instantiation.
func (e *Element) IsActive() bool {
	return e.Flags&0x01 == 0
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsActive reports whether the segment is copied into memory at instantiation.
func (d *DataSegment) IsActive() bool {
	return d.Flags != 1
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int { return m.countImports(KindFunc) }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int { return m.countImports(KindGlobal) }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int { return m.countImports(KindTable) }

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int { return m.countImports(KindMemory) }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeIndex returns the type index of the function at funcIdx in the
// combined index space (imports first).
func (m *Module) FuncTypeIndex(funcIdx uint32) (uint32, bool) {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return imp.Desc.TypeIdx, true
		}
		funcIdx--
	}
	if int(funcIdx) >= len(m.Funcs) {
		return 0, false
	}
	return m.Funcs[funcIdx], true
}

// GetFuncType returns the type of a function by its index
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	typeIdx, ok := m.FuncTypeIndex(funcIdx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

// ExportedFunc returns the function index exported under name.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Name == name {
			return exp.Idx, true
		}
	}
	return 0, false
}
