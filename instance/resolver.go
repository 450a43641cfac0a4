package instance

import (
	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/wasm"
	"go.uber.org/zap"
)

// Resolver satisfies a module's imports. Returning false leaves the import
// unresolved; Instantiate reports all unresolved imports together.
type Resolver interface {
	// ResolveFunc returns the host slot backing a function import.
	ResolveFunc(module, name string, sig wasm.FuncType) (int, bool)
	ResolveGlobal(module, name string, t wasm.GlobalType) (*Global, bool)
	ResolveMemory(module, name string, t wasm.MemoryType) (*Memory, bool)
	ResolveTable(module, name string, t wasm.TableType) (*Table, bool)
}

// ResolveAll satisfies every import: functions get consecutive slots from
// 0, globals are zero, memories and tables are freshly allocated at their
// minimum size. It is meant for smoke-testing instantiation.
type ResolveAll struct {
	next int
}

func (r *ResolveAll) ResolveFunc(module, name string, sig wasm.FuncType) (int, bool) {
	slot := r.next
	r.next++
	Logger().Debug("resolve-all function",
		zap.String("module", module), zap.String("name", name), zap.Int("slot", slot))
	return slot, true
}

func (r *ResolveAll) ResolveGlobal(module, name string, t wasm.GlobalType) (*Global, bool) {
	return &Global{Type: t}, true
}

func (r *ResolveAll) ResolveMemory(module, name string, t wasm.MemoryType) (*Memory, bool) {
	return NewMemory(t.Limits), true
}

func (r *ResolveAll) ResolveTable(module, name string, t wasm.TableType) (*Table, bool) {
	return NewTable(t), true
}

// SlotResolver binds function imports to fixed host slots keyed by
// errors.ImportKey. Unknown function imports stay unresolved; other import
// kinds are allocated like ResolveAll.
type SlotResolver struct {
	ResolveAll
	slots map[string]int
}

// NewSlotResolver builds a resolver from "module#name" -> slot.
func NewSlotResolver(slots map[string]int) *SlotResolver {
	return &SlotResolver{slots: slots}
}

func (r *SlotResolver) ResolveFunc(module, name string, sig wasm.FuncType) (int, bool) {
	slot, ok := r.slots[errors.ImportKey(module, name)]
	return slot, ok
}
