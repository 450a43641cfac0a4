package wasm

import (
	"bytes"
	"errors"
	"fmt"

	werrors "github.com/wippyai/wasm-trace/errors"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

func unsupported(what string) error {
	return werrors.Unsupported(werrors.PhaseDecode, what)
}

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := newReader(data, 0)

	magic, err := r.readU32LE()
	if err != nil {
		return nil, r.wrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.readU32LE()
	if err != nil {
		return nil, r.wrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for r.remaining() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.wrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order <= lastOrder {
				return nil, r.wrapError("section header", fmt.Errorf("section %d appears out of order", sectionID))
			}
			lastOrder = order
		}

		size, err := r.readU32()
		if err != nil {
			return nil, r.wrapError("section size", err)
		}
		base := r.position()
		body, err := r.readBytes(int(size))
		if err != nil {
			return nil, r.wrapError("section data", err)
		}

		sr := newReader(body, base)
		name, parse := sectionParser(sectionID)
		if parse == nil {
			return nil, r.wrapError("section header", fmt.Errorf("unknown section ID: 0x%02x", sectionID))
		}
		if err := parse(sr, m); err != nil {
			return nil, sr.wrapError(name, err)
		}
		if sectionID != SectionCustom && sr.remaining() != 0 {
			return nil, sr.wrapError(name, errors.New("section size mismatch"))
		}
	}

	return m, nil
}

type sectionFunc func(*reader, *Module) error

func sectionParser(id byte) (string, sectionFunc) {
	switch id {
	case SectionCustom:
		return "custom section", parseCustomSection
	case SectionType:
		return "type section", parseTypeSection
	case SectionImport:
		return "import section", parseImportSection
	case SectionFunction:
		return "function section", parseFunctionSection
	case SectionTable:
		return "table section", parseTableSection
	case SectionMemory:
		return "memory section", parseMemorySection
	case SectionGlobal:
		return "global section", parseGlobalSection
	case SectionExport:
		return "export section", parseExportSection
	case SectionStart:
		return "start section", parseStartSection
	case SectionElement:
		return "element section", parseElementSection
	case SectionCode:
		return "code section", parseCodeSection
	case SectionData:
		return "data section", parseDataSection
	case SectionDataCount:
		return "data count section", parseDataCountSection
	case SectionTag:
		return "tag section", func(*reader, *Module) error {
			return unsupported("exception handling tags")
		}
	}
	return "", nil
}

// sectionOrder returns the canonical ordering for a section ID, which
// differs from the numeric ID for DataCount.
func sectionOrder(id byte) int {
	switch id {
	case SectionType, SectionImport, SectionFunction, SectionTable, SectionMemory:
		return int(id)
	case SectionTag:
		return 6
	case SectionGlobal, SectionExport, SectionStart, SectionElement:
		return int(id) + 1
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 100
	}
}

func parseCustomSection(r *reader, m *Module) error {
	name, err := r.readName()
	if err != nil {
		return err
	}
	rest, err := r.readRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func parseTypeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return unsupported(fmt.Sprintf("type form 0x%02x at index %d", form, i))
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func readValType(r *reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	t := ValType(b)
	switch {
	case t.IsNumeric(), t.IsRef():
		return t, nil
	case t == ValV128:
		return 0, unsupported("v128 value type")
	default:
		return 0, unsupported(fmt.Sprintf("value type 0x%02x", b))
	}
}

func readValTypes(r *reader) ([]ValType, error) {
	count, err := r.readU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func parseImportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.readName()
		if err != nil {
			return err
		}
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.readU32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			return unsupported(fmt.Sprintf("import kind %d", kind))
		}
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		if m.Memories[i], err = readMemoryType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *reader, m *Module) error {
	idx, err := r.readU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		flags, err := r.readU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: ValFuncRef}
		usesExprs := flags&0x04 != 0

		if flags&0x02 != 0 && flags&0x01 == 0 {
			if elem.TableIdx, err = r.readU32(); err != nil {
				return err
			}
		}
		if flags&0x01 == 0 {
			if elem.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		if flags&0x03 != 0 {
			if usesExprs {
				if elem.Type, err = readValType(r); err != nil {
					return err
				}
			} else if elem.ElemKind, err = r.ReadByte(); err != nil {
				return err
			}
		}

		n, err := r.readU32()
		if err != nil {
			return err
		}
		if usesExprs {
			elem.Exprs = make([][]byte, n)
			for j := range elem.Exprs {
				if elem.Exprs[j], err = readInitExpr(r); err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, n)
			for j := range elem.FuncIdxs {
				if elem.FuncIdxs[j], err = r.readU32(); err != nil {
					return err
				}
			}
		}
		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		size, err := r.readU32()
		if err != nil {
			return err
		}
		base := r.position()
		data, err := r.readBytes(int(size))
		if err != nil {
			return err
		}
		br := newReader(data, base)

		groups, err := br.readU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < groups; j++ {
			n, err := br.readU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}

		code, err := br.readRemaining()
		if err != nil {
			return err
		}
		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseDataSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		flags, err := r.readU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}
		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = r.readU32(); err != nil {
				return err
			}
		}
		if flags != 1 {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		n, err := r.readU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.readBytes(int(n)); err != nil {
			return err
		}
		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsShared != 0 {
		return Limits{}, unsupported("shared memory")
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, unsupported("64-bit memory")
	}
	if flags > LimitsHasMax {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	var l Limits
	if l.Min, err = r.readU32(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.readU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *reader) (TableType, error) {
	elem, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !elem.IsRef() {
		return TableType{}, fmt.Errorf("table element type %s is not a reference type", elem)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: limits}, nil
}

func readMemoryType(r *reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: t, Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression up to and including its end opcode.
func readInitExpr(r *reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(op)
		switch op {
		case OpEnd:
			return buf.Bytes(), nil
		case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
			err = copyLEB128(r, &buf)
		case OpF32Const:
			err = copyBytes(r, &buf, 4)
		case OpF64Const:
			err = copyBytes(r, &buf, 8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		case OpPrefixSIMD:
			return nil, unsupported("v128 constant expression")
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}

func copyLEB128(r *reader, buf *bytes.Buffer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			return nil
		}
	}
}

func copyBytes(r *reader, buf *bytes.Buffer, n int) error {
	data, err := r.readBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
