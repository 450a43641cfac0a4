package instance

import (
	"encoding/binary"

	"github.com/wippyai/wasm-trace/wasm"
)

// Func is a live function. Module-defined functions carry their body;
// imported functions are bound to a host slot instead.
type Func struct {
	Body    *wasm.FuncBody
	Type    wasm.FuncType
	Module  string // import module, host functions only
	Name    string // import name, host functions only
	Index   uint32 // native index
	TypeIdx uint32
	Slot    int
	Host    bool
}

// IsHost reports whether f is backed by a host slot.
func (f *Func) IsHost() bool { return f.Host }

// Global is a live global variable. Bits holds the raw value: i32 and f32
// in the low 32 bits, zero-extended.
type Global struct {
	Type wasm.GlobalType
	Bits uint64
}

// Get returns the raw value bits.
func (g *Global) Get() uint64 { return g.Bits }

// Memory is a linear memory sized to its initial page count.
type Memory struct {
	data   []byte
	Limits wasm.Limits
}

// NewMemory allocates limits.Min zeroed pages.
func NewMemory(limits wasm.Limits) *Memory {
	return &Memory{
		Limits: limits,
		data:   make([]byte, uint64(limits.Min)*wasm.PageSize),
	}
}

// InitialPages returns the declared minimum page count.
func (m *Memory) InitialPages() uint32 { return m.Limits.Min }

// MaxPages returns the declared maximum, if any.
func (m *Memory) MaxPages() (uint32, bool) {
	if m.Limits.Max == nil {
		return 0, false
	}
	return *m.Limits.Max, true
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

// Read returns n bytes at offset, or false if the range is out of bounds.
func (m *Memory) Read(offset, n uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(n)
	if end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset:end], true
}

// ReadUint64Le reads a little-endian word at offset.
func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) {
	b, ok := m.Read(offset, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// Write copies data to offset, or returns false if it does not fit.
func (m *Memory) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

// Table holds function references. Nil entries are null.
type Table struct {
	Elems []*Func
	Type  wasm.TableType
}

// NewTable allocates a table of Min null entries.
func NewTable(t wasm.TableType) *Table {
	return &Table{Type: t, Elems: make([]*Func, t.Limits.Min)}
}

// Export is one entry of the instance's export map.
type Export struct {
	Name string
	Idx  uint32
	Kind byte
}

// ElemBinding is a table slot written by an active element segment, in
// the order segments were applied.
type ElemBinding struct {
	TableIdx uint32
	Offset   uint32
	FuncIdx  uint32 // native index
	TypeIdx  uint32
}

// Instance is a module after import resolution and segment initialization.
// The start function is recorded but not run.
type Instance struct {
	module   *wasm.Module
	start    *uint32
	funcs    []*Func
	globals  []*Global
	memories []*Memory
	tables   []*Table
	exports  []Export
	elems    []ElemBinding
}

// Module returns the descriptor the instance was built from.
func (i *Instance) Module() *wasm.Module { return i.module }

// Funcs returns every function in native index order, imports first.
func (i *Instance) Funcs() []*Func { return i.funcs }

// Func returns the function at a native index.
func (i *Instance) Func(idx uint32) (*Func, bool) {
	if int(idx) >= len(i.funcs) {
		return nil, false
	}
	return i.funcs[idx], true
}

func (i *Instance) Globals() []*Global { return i.globals }

func (i *Instance) Global(idx uint32) (*Global, bool) {
	if int(idx) >= len(i.globals) {
		return nil, false
	}
	return i.globals[idx], true
}

func (i *Instance) Memories() []*Memory { return i.memories }

func (i *Instance) Memory(idx uint32) (*Memory, bool) {
	if int(idx) >= len(i.memories) {
		return nil, false
	}
	return i.memories[idx], true
}

func (i *Instance) Tables() []*Table { return i.tables }

func (i *Instance) Table(idx uint32) (*Table, bool) {
	if int(idx) >= len(i.tables) {
		return nil, false
	}
	return i.tables[idx], true
}

// Exports returns the export map in declaration order.
func (i *Instance) Exports() []Export { return i.exports }

// ExportedFunc looks up a function export by name.
func (i *Instance) ExportedFunc(name string) (*Func, bool) {
	for _, e := range i.exports {
		if e.Name == name && e.Kind == wasm.KindFunc {
			return i.Func(e.Idx)
		}
	}
	return nil, false
}

// ImportedFunc looks up a host function by its import name.
func (i *Instance) ImportedFunc(module, name string) (*Func, bool) {
	for _, f := range i.funcs {
		if f.Host && f.Module == module && f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Elems returns the element bindings in application order.
func (i *Instance) Elems() []ElemBinding { return i.elems }

// Start returns the declared start function index.
func (i *Instance) Start() (uint32, bool) {
	if i.start == nil {
		return 0, false
	}
	return *i.start, true
}
