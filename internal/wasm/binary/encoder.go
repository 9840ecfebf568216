package binary

import (
	"github.com/paritytech/pvf-executor/internal/leb128"
	"github.com/paritytech/pvf-executor/internal/wasm"
)

// EncodeModule serializes a module back to the binary format. The decoder and
// the tests rely on the encoding round-tripping; no validation is performed.
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeImportSection(m.ImportSection)...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeFunctionSection(m.FunctionSection)...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeTableSection(m.TableSection)...)
	}
	if len(m.MemorySection) > 0 {
		bytes = append(bytes, encodeMemorySection(m.MemorySection)...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeGlobalSection(m.GlobalSection)...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeExportSection(m.ExportSection)...)
	}
	if len(m.ElementSection) > 0 {
		bytes = append(bytes, encodeElementSection(m.ElementSection)...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeCodeSection(m.CodeSection)...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeDataSection(m.DataSection)...)
	}
	return
}

func encodeSection(id SectionID, contents []byte) []byte {
	return append(append([]byte{id}, leb128.EncodeUint32(uint32(len(contents)))...), contents...)
}

func encodeValueTypes(types []wasm.ValueType) []byte {
	return append(leb128.EncodeUint32(uint32(len(types))), types...)
}

func encodeName(name string) []byte {
	return append(leb128.EncodeUint32(uint32(len(name))), name...)
}

func encodeLimits(min uint32, max *uint32) (data []byte) {
	if max == nil {
		data = append(data, 0x00)
		return append(data, leb128.EncodeUint32(min)...)
	}
	data = append(data, 0x01)
	data = append(data, leb128.EncodeUint32(min)...)
	return append(data, leb128.EncodeUint32(*max)...)
}

func encodeGlobalType(gt *wasm.GlobalType) []byte {
	mut := byte(0)
	if gt.Mutable {
		mut = 1
	}
	return []byte{gt.ValType, mut}
}

func encodeConstantExpression(expr *wasm.ConstantExpression) (data []byte) {
	data = append(data, expr.Opcode)
	data = append(data, expr.Data...)
	return append(data, wasm.OpcodeEnd)
}

func encodeTypeSection(types []*wasm.FunctionType) []byte {
	contents := leb128.EncodeUint32(uint32(len(types)))
	for _, t := range types {
		contents = append(contents, 0x60)
		contents = append(contents, encodeValueTypes(t.Params)...)
		contents = append(contents, encodeValueTypes(t.Results)...)
	}
	return encodeSection(SectionIDType, contents)
}

func encodeImportSection(imports []*wasm.Import) []byte {
	contents := leb128.EncodeUint32(uint32(len(imports)))
	for _, i := range imports {
		contents = append(contents, encodeName(i.Module)...)
		contents = append(contents, encodeName(i.Name)...)
		contents = append(contents, i.Kind)
		switch i.Kind {
		case wasm.ImportKindFunc:
			contents = append(contents, leb128.EncodeUint32(i.DescFunc)...)
		case wasm.ImportKindGlobal:
			contents = append(contents, encodeGlobalType(i.DescGlobal)...)
		}
	}
	return encodeSection(SectionIDImport, contents)
}

func encodeFunctionSection(typeIndices []wasm.Index) []byte {
	contents := leb128.EncodeUint32(uint32(len(typeIndices)))
	for _, ti := range typeIndices {
		contents = append(contents, leb128.EncodeUint32(ti)...)
	}
	return encodeSection(SectionIDFunction, contents)
}

func encodeTableSection(tables []*wasm.Table) []byte {
	contents := leb128.EncodeUint32(uint32(len(tables)))
	for _, t := range tables {
		contents = append(contents, 0x70)
		contents = append(contents, encodeLimits(t.Min, t.Max)...)
	}
	return encodeSection(SectionIDTable, contents)
}

func encodeMemorySection(memories []*wasm.Memory) []byte {
	contents := leb128.EncodeUint32(uint32(len(memories)))
	for _, mem := range memories {
		contents = append(contents, encodeLimits(mem.Min, mem.Max)...)
	}
	return encodeSection(SectionIDMemory, contents)
}

func encodeGlobalSection(globals []*wasm.Global) []byte {
	contents := leb128.EncodeUint32(uint32(len(globals)))
	for _, g := range globals {
		contents = append(contents, encodeGlobalType(g.Type)...)
		contents = append(contents, encodeConstantExpression(g.Init)...)
	}
	return encodeSection(SectionIDGlobal, contents)
}

func encodeExportSection(exports []*wasm.Export) []byte {
	contents := leb128.EncodeUint32(uint32(len(exports)))
	for _, e := range exports {
		contents = append(contents, encodeName(e.Name)...)
		contents = append(contents, e.Kind)
		contents = append(contents, leb128.EncodeUint32(e.Index)...)
	}
	return encodeSection(SectionIDExport, contents)
}

func encodeElementSection(elements []*wasm.ElementSegment) []byte {
	contents := leb128.EncodeUint32(uint32(len(elements)))
	for _, e := range elements {
		contents = append(contents, leb128.EncodeUint32(e.TableIndex)...)
		contents = append(contents, encodeConstantExpression(e.Offset)...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(e.FuncIndex)))...)
		for _, fi := range e.FuncIndex {
			contents = append(contents, leb128.EncodeUint32(fi)...)
		}
	}
	return encodeSection(SectionIDElement, contents)
}

func encodeCodeSection(codes []*wasm.Code) []byte {
	contents := leb128.EncodeUint32(uint32(len(codes)))
	for _, c := range codes {
		// Locals are re-grouped into (count, type) runs.
		var locals []byte
		var runs uint32
		for i := 0; i < len(c.LocalTypes); {
			j := i
			for j < len(c.LocalTypes) && c.LocalTypes[j] == c.LocalTypes[i] {
				j++
			}
			locals = append(locals, leb128.EncodeUint32(uint32(j-i))...)
			locals = append(locals, c.LocalTypes[i])
			runs++
			i = j
		}
		body := append(leb128.EncodeUint32(runs), locals...)
		body = append(body, c.Body...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(body)))...)
		contents = append(contents, body...)
	}
	return encodeSection(SectionIDCode, contents)
}

func encodeDataSection(segments []*wasm.DataSegment) []byte {
	contents := leb128.EncodeUint32(uint32(len(segments)))
	for _, s := range segments {
		contents = append(contents, leb128.EncodeUint32(s.MemoryIndex)...)
		contents = append(contents, encodeConstantExpression(s.Offset)...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(s.Init)))...)
		contents = append(contents, s.Init...)
	}
	return encodeSection(SectionIDData, contents)
}
