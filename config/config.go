package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
)

// Host function kinds.
const (
	KindInternal = "internal"
	KindExternal = "external"
)

// Import names a module import.
type Import struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
}

// Key returns the import's "module#name" key.
func (i Import) Key() string { return errors.ImportKey(i.Module, i.Name) }

// HostFunction describes one host slot. Its position in Config.HostFunctions
// is the slot number.
type HostFunction struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`

	// internal
	Plugin  string `yaml:"plugin,omitempty"`
	OpIndex int    `yaml:"op_index,omitempty"`

	// external
	Op      int      `yaml:"op,omitempty"`
	Params  []string `yaml:"params,omitempty"`
	Results []string `yaml:"results,omitempty"`
}

// Inputs are the values served by the host input function.
type Inputs struct {
	Public  []uint64 `yaml:"public"`
	Private []uint64 `yaml:"private"`
}

// Config is a tracing configuration file.
type Config struct {
	Entry            string         `yaml:"entry"`
	HostInput        *Import        `yaml:"host_input,omitempty"`
	PhantomFunctions []string       `yaml:"phantom_functions,omitempty"`
	HostFunctions    []HostFunction `yaml:"host_functions,omitempty"`
	Inputs           Inputs         `yaml:"inputs"`
}

// Default returns the configuration used when no file is given: entry
// "zkmain" and env.wasm_input as the host input in slot 0.
func Default() *Config {
	return &Config{
		Entry:     "zkmain",
		HostInput: &Import{Module: "env", Name: "wasm_input"},
		HostFunctions: []HostFunction{
			{Module: "env", Name: "wasm_input", Kind: KindInternal, Plugin: trace.PluginHostInput.String()},
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "read "+path)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration. Unknown fields are rejected; an
// empty document yields an empty configuration.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks host function entries and the host input reference.
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.HostFunctions))
	for i, h := range c.HostFunctions {
		key := errors.ImportKey(h.Module, h.Name)
		if prev, ok := seen[key]; ok {
			return errors.InvalidData(errors.PhaseConfig, slotPath(i),
				fmt.Sprintf("%s already bound to slot %d", key, prev))
		}
		seen[key] = i
		if _, err := h.desc(); err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, fmt.Sprintf("host function %d", i))
		}
	}
	if c.HostInput != nil {
		if _, ok := seen[c.HostInput.Key()]; !ok {
			return errors.NotFound(errors.PhaseConfig, "host input", c.HostInput.Key())
		}
	}
	return nil
}

// HostTable returns the tracer's host descriptor table, keyed by slot.
func (c *Config) HostTable() (map[int]trace.HostFunctionDesc, error) {
	out := make(map[int]trace.HostFunctionDesc, len(c.HostFunctions))
	for i, h := range c.HostFunctions {
		d, err := h.desc()
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// Resolver binds function imports to the configured slots. Function
// imports missing from the table fail instantiation.
func (c *Config) Resolver() *instance.SlotResolver {
	slots := make(map[string]int, len(c.HostFunctions))
	for i, h := range c.HostFunctions {
		slots[errors.ImportKey(h.Module, h.Name)] = i
	}
	return instance.NewSlotResolver(slots)
}

func (h HostFunction) desc() (trace.HostFunctionDesc, error) {
	switch h.Kind {
	case KindInternal, "":
		plugin, ok := trace.ParseHostPlugin(h.Plugin)
		if !ok {
			return nil, errors.InvalidData(errors.PhaseConfig, []string{"plugin"},
				fmt.Sprintf("unknown plugin %q", h.Plugin))
		}
		return trace.HostInternal{Name: h.Name, OpIndex: h.OpIndex, Plugin: plugin}, nil
	case KindExternal:
		params, err := parseValTypes("params", h.Params)
		if err != nil {
			return nil, err
		}
		results, err := parseValTypes("results", h.Results)
		if err != nil {
			return nil, err
		}
		return trace.HostExternal{
			Sig:  wasm.FuncType{Params: params, Results: results},
			Name: h.Name,
			Op:   h.Op,
		}, nil
	default:
		return nil, errors.InvalidData(errors.PhaseConfig, []string{"kind"},
			fmt.Sprintf("unknown kind %q", h.Kind))
	}
}

var valTypes = map[string]wasm.ValType{
	"i32":       wasm.ValI32,
	"i64":       wasm.ValI64,
	"f32":       wasm.ValF32,
	"f64":       wasm.ValF64,
	"funcref":   wasm.ValFuncRef,
	"externref": wasm.ValExtern,
}

func parseValTypes(field string, names []string) ([]wasm.ValType, error) {
	out := make([]wasm.ValType, len(names))
	for i, n := range names {
		t, ok := valTypes[n]
		if !ok {
			return nil, errors.InvalidData(errors.PhaseConfig, []string{field, strconv.Itoa(i)},
				fmt.Sprintf("unknown value type %q", n))
		}
		out[i] = t
	}
	return out, nil
}

func slotPath(i int) []string {
	return []string{"host_functions", strconv.Itoa(i)}
}
