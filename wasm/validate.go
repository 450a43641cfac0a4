package wasm

import "fmt"

// Validate checks the module for structural validity.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateTableIndices,
		m.validateMemoryIndices,
		m.validateGlobalIndices,
		m.validateExports,
		m.validateStart,
		m.validateDataCount,
		m.validateCodeCount,
		m.validateMemoryLimits,
		m.validateCode,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d (have %d types)", i, typeIdx, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}
	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	for i, elem := range m.Elements {
		if elem.IsActive() && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))
	for i, data := range m.Data {
		if data.IsActive() && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature () -> (), got %s", ft)
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			if err := validateMemoryType(imp.Desc.Memory, i, "imported memory"); err != nil {
				return err
			}
		}
	}
	for i := range m.Memories {
		if err := validateMemoryType(&m.Memories[i], i, "memory"); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryType(mem *MemoryType, idx int, prefix string) error {
	if mem.Limits.Min > MemoryMaxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d", prefix, idx, mem.Limits.Min, MemoryMaxPages)
	}
	if mem.Limits.Max != nil && *mem.Limits.Max > MemoryMaxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d", prefix, idx, *mem.Limits.Max, MemoryMaxPages)
	}
	return nil
}

// validateCode decodes every body and checks the indices its instructions
// reference. It does not type-check the operand stack.
func (m *Module) validateCode() error {
	numFuncs := uint32(m.NumFuncs())
	numTypes := uint32(len(m.Types))
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))

	for i := range m.Code {
		funcIdx := m.NumImportedFuncs() + i
		instrs, err := DecodeInstructions(m.Code[i].Code)
		if err != nil {
			return fmt.Errorf("function %d: %w", funcIdx, err)
		}
		if len(instrs) == 0 || instrs[len(instrs)-1].Opcode != OpEnd {
			return fmt.Errorf("function %d: body does not end with end opcode", funcIdx)
		}
		for pos, instr := range instrs {
			switch imm := instr.Imm.(type) {
			case CallImm:
				if imm.FuncIdx >= numFuncs {
					return fmt.Errorf("function %d, instruction %d: call target %d out of range", funcIdx, pos, imm.FuncIdx)
				}
			case RefFuncImm:
				if imm.FuncIdx >= numFuncs {
					return fmt.Errorf("function %d, instruction %d: ref.func %d out of range", funcIdx, pos, imm.FuncIdx)
				}
			case CallIndirectImm:
				if imm.TypeIdx >= numTypes {
					return fmt.Errorf("function %d, instruction %d: call_indirect type %d out of range", funcIdx, pos, imm.TypeIdx)
				}
			case GlobalImm:
				if imm.GlobalIdx >= numGlobals {
					return fmt.Errorf("function %d, instruction %d: global %d out of range", funcIdx, pos, imm.GlobalIdx)
				}
			}
		}
	}
	return nil
}
