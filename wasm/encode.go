package wasm

import (
	"bytes"
	"encoding/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	var w bytes.Buffer

	var header [8]byte
	binary.LittleEndian.PutUint32(header[:4], Magic)
	binary.LittleEndian.PutUint32(header[4:], Version)
	w.Write(header[:])

	if len(m.Types) > 0 {
		writeSection(&w, SectionType, len(m.Types), func(sec *bytes.Buffer, i int) {
			sec.WriteByte(FuncTypeByte)
			writeValTypes(sec, m.Types[i].Params)
			writeValTypes(sec, m.Types[i].Results)
		})
	}

	if len(m.Imports) > 0 {
		writeSection(&w, SectionImport, len(m.Imports), func(sec *bytes.Buffer, i int) {
			imp := m.Imports[i]
			writeName(sec, imp.Module)
			writeName(sec, imp.Name)
			sec.WriteByte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				WriteLEB128u(sec, imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(sec, *imp.Desc.Table)
			case KindMemory:
				writeLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				writeGlobalType(sec, *imp.Desc.Global)
			}
		})
	}

	if len(m.Funcs) > 0 {
		writeSection(&w, SectionFunction, len(m.Funcs), func(sec *bytes.Buffer, i int) {
			WriteLEB128u(sec, m.Funcs[i])
		})
	}

	if len(m.Tables) > 0 {
		writeSection(&w, SectionTable, len(m.Tables), func(sec *bytes.Buffer, i int) {
			writeTableType(sec, m.Tables[i])
		})
	}

	if len(m.Memories) > 0 {
		writeSection(&w, SectionMemory, len(m.Memories), func(sec *bytes.Buffer, i int) {
			writeLimits(sec, m.Memories[i].Limits)
		})
	}

	if len(m.Globals) > 0 {
		writeSection(&w, SectionGlobal, len(m.Globals), func(sec *bytes.Buffer, i int) {
			writeGlobalType(sec, m.Globals[i].Type)
			sec.Write(m.Globals[i].Init)
		})
	}

	if len(m.Exports) > 0 {
		writeSection(&w, SectionExport, len(m.Exports), func(sec *bytes.Buffer, i int) {
			writeName(sec, m.Exports[i].Name)
			sec.WriteByte(m.Exports[i].Kind)
			WriteLEB128u(sec, m.Exports[i].Idx)
		})
	}

	if m.Start != nil {
		var sec bytes.Buffer
		WriteLEB128u(&sec, *m.Start)
		writeRawSection(&w, SectionStart, sec.Bytes())
	}

	if len(m.Elements) > 0 {
		writeSection(&w, SectionElement, len(m.Elements), func(sec *bytes.Buffer, i int) {
			writeElement(sec, &m.Elements[i])
		})
	}

	if m.DataCount != nil {
		var sec bytes.Buffer
		WriteLEB128u(&sec, *m.DataCount)
		writeRawSection(&w, SectionDataCount, sec.Bytes())
	}

	if len(m.Code) > 0 {
		writeSection(&w, SectionCode, len(m.Code), func(sec *bytes.Buffer, i int) {
			var body bytes.Buffer
			WriteLEB128u(&body, uint32(len(m.Code[i].Locals)))
			for _, local := range m.Code[i].Locals {
				WriteLEB128u(&body, local.Count)
				body.WriteByte(byte(local.ValType))
			}
			body.Write(m.Code[i].Code)
			WriteLEB128u(sec, uint32(body.Len()))
			sec.Write(body.Bytes())
		})
	}

	if len(m.Data) > 0 {
		writeSection(&w, SectionData, len(m.Data), func(sec *bytes.Buffer, i int) {
			d := m.Data[i]
			WriteLEB128u(sec, d.Flags)
			if d.Flags == 2 {
				WriteLEB128u(sec, d.MemIdx)
			}
			if d.Flags != 1 {
				sec.Write(d.Offset)
			}
			WriteLEB128u(sec, uint32(len(d.Init)))
			sec.Write(d.Init)
		})
	}

	for _, cs := range m.CustomSections {
		var sec bytes.Buffer
		writeName(&sec, cs.Name)
		sec.Write(cs.Data)
		writeRawSection(&w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// writeSection emits a vector section of count entries written by entry.
func writeSection(w *bytes.Buffer, id byte, count int, entry func(*bytes.Buffer, int)) {
	var sec bytes.Buffer
	WriteLEB128u(&sec, uint32(count))
	for i := 0; i < count; i++ {
		entry(&sec, i)
	}
	writeRawSection(w, id, sec.Bytes())
}

func writeRawSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	WriteLEB128u(w, uint32(len(data)))
	w.Write(data)
}

func writeName(w *bytes.Buffer, s string) {
	WriteLEB128u(w, uint32(len(s)))
	w.WriteString(s)
}

func writeValTypes(w *bytes.Buffer, types []ValType) {
	WriteLEB128u(w, uint32(len(types)))
	for _, t := range types {
		w.WriteByte(byte(t))
	}
}

func writeLimits(w *bytes.Buffer, l Limits) {
	if l.Max != nil {
		w.WriteByte(LimitsHasMax)
		WriteLEB128u(w, l.Min)
		WriteLEB128u(w, *l.Max)
		return
	}
	w.WriteByte(LimitsNoMax)
	WriteLEB128u(w, l.Min)
}

func writeTableType(w *bytes.Buffer, t TableType) {
	elem := t.ElemType
	if elem == 0 {
		elem = ValFuncRef
	}
	w.WriteByte(byte(elem))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *bytes.Buffer, g GlobalType) {
	w.WriteByte(byte(g.ValType))
	if g.Mutable {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func writeElement(w *bytes.Buffer, elem *Element) {
	WriteLEB128u(w, elem.Flags)
	usesExprs := elem.Flags&0x04 != 0

	if elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0 {
		WriteLEB128u(w, elem.TableIdx)
	}
	if elem.Flags&0x01 == 0 {
		w.Write(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.WriteByte(byte(elem.Type))
		} else {
			w.WriteByte(elem.ElemKind)
		}
	}
	if usesExprs {
		WriteLEB128u(w, uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.Write(expr)
		}
		return
	}
	WriteLEB128u(w, uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		WriteLEB128u(w, idx)
	}
}
