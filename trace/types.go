package trace

import (
	"fmt"

	"github.com/wippyai/wasm-trace/wasm"
)

// HostPlugin identifies the internal plugin a host call is routed to.
type HostPlugin int

const (
	PluginHostInput HostPlugin = iota
	PluginContext
	PluginRequire
	PluginSha256
	PluginPoseidon
	PluginMerkle
	PluginJubjub
)

var pluginNames = [...]string{
	PluginHostInput: "host_input",
	PluginContext:   "context",
	PluginRequire:   "require",
	PluginSha256:    "sha256",
	PluginPoseidon:  "poseidon",
	PluginMerkle:    "merkle",
	PluginJubjub:    "jubjub",
}

func (p HostPlugin) String() string {
	if p >= 0 && int(p) < len(pluginNames) {
		return pluginNames[p]
	}
	return fmt.Sprintf("plugin(%d)", int(p))
}

// ParseHostPlugin maps a plugin name such as "sha256" to its id.
func ParseHostPlugin(name string) (HostPlugin, bool) {
	for i, n := range pluginNames {
		if n == name {
			return HostPlugin(i), true
		}
	}
	return 0, false
}

// HostFunctionDesc describes what a host call slot does. It is either
// HostInternal or HostExternal.
type HostFunctionDesc interface {
	isHostFunctionDesc()
}

// HostInternal routes a host call to an internal plugin operation.
type HostInternal struct {
	Name    string
	OpIndex int
	Plugin  HostPlugin
}

// HostExternal is a named operation implemented outside the tracer.
type HostExternal struct {
	Sig  wasm.FuncType
	Name string
	Op   int
}

func (HostInternal) isHostFunctionDesc() {}
func (HostExternal) isHostFunctionDesc() {}

// FunctionType classifies a registered function. The members are
// WasmFunction, HostFunction and HostFunctionExternal.
type FunctionType interface {
	isFunctionType()
	String() string
}

// WasmFunction is a function whose body is defined by the module.
type WasmFunction struct{}

// HostFunction is an imported function backed by an internal plugin.
type HostFunction struct {
	Name    string
	Slot    int
	OpIndex int
	Plugin  HostPlugin
}

// HostFunctionExternal is an imported function backed by an external operation.
type HostFunctionExternal struct {
	Sig  wasm.FuncType
	Name string
	Op   int
}

func (WasmFunction) isFunctionType()         {}
func (HostFunction) isFunctionType()         {}
func (HostFunctionExternal) isFunctionType() {}

func (WasmFunction) String() string { return "wasm" }

func (h HostFunction) String() string {
	return fmt.Sprintf("host(%s:%s op=%d slot=%d)", h.Plugin, h.Name, h.OpIndex, h.Slot)
}

func (h HostFunctionExternal) String() string {
	return fmt.Sprintf("external(%s op=%d %s)", h.Name, h.Op, h.Sig)
}

// FuncDesc is the tracer's record of one module-local function.
type FuncDesc struct {
	Type    FunctionType
	Sig     *wasm.FuncType
	Index   uint32 // stable index
	TypeIdx uint32
}

// IsHost reports whether the function is backed by a host slot.
func (d FuncDesc) IsHost() bool {
	switch d.Type.(type) {
	case WasmFunction:
		return false
	case HostFunction, HostFunctionExternal:
		return true
	default:
		panic(fmt.Sprintf("trace: unknown function type %T", d.Type))
	}
}

// VarType is the value type recorded in image rows.
type VarType byte

const (
	VarI32 VarType = iota
	VarI64
	VarF32
	VarF64
)

func (v VarType) String() string {
	switch v {
	case VarI32:
		return "i32"
	case VarI64:
		return "i64"
	case VarF32:
		return "f32"
	case VarF64:
		return "f64"
	}
	return fmt.Sprintf("vartype(%d)", byte(v))
}

// VarTypeOf converts a numeric wasm value type.
func VarTypeOf(t wasm.ValType) (VarType, bool) {
	switch t {
	case wasm.ValI32:
		return VarI32, true
	case wasm.ValI64:
		return VarI64, true
	case wasm.ValF32:
		return VarF32, true
	case wasm.ValF64:
		return VarF64, true
	}
	return 0, false
}

// DropKeep annotates the return ending a synthesized stub: discard Drop
// argument slots and keep Keep result slots.
type DropKeep struct {
	Drop uint32
	Keep uint32
}

func (d DropKeep) String() string {
	return fmt.Sprintf("drop=%d keep=%d", d.Drop, d.Keep)
}
