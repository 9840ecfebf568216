package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/paritytech/pvf-executor/internal/leb128"
	"github.com/paritytech/pvf-executor/internal/wasm"
)

// SectionID identifies a section in the binary format.
type SectionID = byte

const (
	SectionIDCustom   SectionID = 0
	SectionIDType     SectionID = 1
	SectionIDImport   SectionID = 2
	SectionIDFunction SectionID = 3
	SectionIDTable    SectionID = 4
	SectionIDMemory   SectionID = 5
	SectionIDGlobal   SectionID = 6
	SectionIDExport   SectionID = 7
	SectionIDStart    SectionID = 8
	SectionIDElement  SectionID = 9
	SectionIDCode     SectionID = 10
	SectionIDData     SectionID = 11
)

// ErrInvalidMagicNumber is returned when the input does not begin with "\0asm".
var ErrInvalidMagicNumber = errors.New("invalid magic number")

// ErrInvalidVersion is returned for any binary version other than 1.
var ErrInvalidVersion = errors.New("invalid version header")

func decodeUint32(r *bytes.Reader) (uint32, uint64, error) {
	return leb128.DecodeUint32(r)
}

func decodeValueType(r *bytes.Reader) (wasm.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read value type: %w", err)
	}
	switch vt := wasm.ValueType(b); vt {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return vt, nil
	default:
		return 0, fmt.Errorf("invalid value type: 0x%x", b)
	}
}

func decodeValueTypes(r *bytes.Reader) ([]wasm.ValueType, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read value type count: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	types := make([]wasm.ValueType, n)
	for i := range types {
		if types[i], err = decodeValueType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func decodeName(r *bytes.Reader) (string, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("read name length: %w", err)
	}
	buf := make([]byte, n)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read name: %w", err)
	}
	return string(buf), nil
}

func decodeFunctionType(r *bytes.Reader) (*wasm.FunctionType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}
	if b != 0x60 {
		return nil, fmt.Errorf("invalid func type tag: 0x%x", b)
	}
	params, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	results, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeTypeSection(r *bytes.Reader) ([]*wasm.FunctionType, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get type count: %w", err)
	}
	result := make([]*wasm.FunctionType, n)
	for i := range result {
		if result[i], err = decodeFunctionType(r); err != nil {
			return nil, fmt.Errorf("type[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeLimits(r *bytes.Reader) (min uint32, max *uint32, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("read limits flag: %w", err)
	}
	min, _, err = decodeUint32(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read min: %w", err)
	}
	switch flag {
	case 0x00:
	case 0x01:
		m, _, err := decodeUint32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("read max: %w", err)
		}
		max = &m
	default:
		return 0, nil, fmt.Errorf("invalid limits flag: 0x%x", flag)
	}
	return min, max, nil
}

func decodeGlobalType(r *bytes.Reader) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return nil, fmt.Errorf("value type: %w", err)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read mutability: %w", err)
	}
	if mut > 1 {
		return nil, fmt.Errorf("invalid mutability: 0x%x", mut)
	}
	return &wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func decodeImport(r *bytes.Reader) (*wasm.Import, error) {
	i := &wasm.Import{}
	var err error
	if i.Module, err = decodeName(r); err != nil {
		return nil, fmt.Errorf("module name: %w", err)
	}
	if i.Name, err = decodeName(r); err != nil {
		return nil, fmt.Errorf("field name: %w", err)
	}
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read kind: %w", err)
	}
	i.Kind = kind
	switch kind {
	case wasm.ImportKindFunc:
		if i.DescFunc, _, err = decodeUint32(r); err != nil {
			return nil, fmt.Errorf("func type index: %w", err)
		}
	case wasm.ImportKindGlobal:
		if i.DescGlobal, err = decodeGlobalType(r); err != nil {
			return nil, fmt.Errorf("global type: %w", err)
		}
	default:
		// Table and memory imports are outside the executable subset.
		return nil, fmt.Errorf("unsupported import kind: 0x%x", kind)
	}
	return i, nil
}

func decodeImportSection(r *bytes.Reader) ([]*wasm.Import, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get import count: %w", err)
	}
	result := make([]*wasm.Import, n)
	for i := range result {
		if result[i], err = decodeImport(r); err != nil {
			return nil, fmt.Errorf("import[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]uint32, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function count: %w", err)
	}
	result := make([]uint32, n)
	for i := range result {
		if result[i], _, err = decodeUint32(r); err != nil {
			return nil, fmt.Errorf("function[%d] type index: %w", i, err)
		}
	}
	return result, nil
}

func decodeTableSection(r *bytes.Reader) ([]*wasm.Table, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get table count: %w", err)
	}
	result := make([]*wasm.Table, n)
	for i := range result {
		elemType, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("table[%d]: read element type: %w", i, err)
		}
		if elemType != 0x70 { // funcref
			return nil, fmt.Errorf("table[%d]: invalid element type: 0x%x", i, elemType)
		}
		min, max, err := decodeLimits(r)
		if err != nil {
			return nil, fmt.Errorf("table[%d]: %w", i, err)
		}
		result[i] = &wasm.Table{Min: min, Max: max}
	}
	return result, nil
}

func decodeMemorySection(r *bytes.Reader) ([]*wasm.Memory, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get memory count: %w", err)
	}
	if n > 1 {
		return nil, fmt.Errorf("at most one memory is allowed, %d declared", n)
	}
	result := make([]*wasm.Memory, n)
	for i := range result {
		min, max, err := decodeLimits(r)
		if err != nil {
			return nil, fmt.Errorf("memory[%d]: %w", i, err)
		}
		result[i] = &wasm.Memory{Min: min, Max: max}
	}
	return result, nil
}

func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode: %w", err)
	}
	remainingBeforeData := int64(r.Len())
	offsetAtData := r.Size() - remainingBeforeData
	switch opcode {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(r)
	default:
		return nil, fmt.Errorf("invalid opcode for const expression: 0x%x", opcode)
	}
	if err != nil {
		return nil, fmt.Errorf("read immediate: %w", err)
	}
	data := make([]byte, remainingBeforeData-int64(r.Len()))
	if _, err := r.ReadAt(data, offsetAtData); err != nil {
		return nil, fmt.Errorf("re-read immediate: %w", err)
	}
	end, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("look for end opcode: %w", err)
	}
	if end != wasm.OpcodeEnd {
		return nil, fmt.Errorf("const expression not terminated")
	}
	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}

func decodeGlobalSection(r *bytes.Reader) ([]*wasm.Global, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get global count: %w", err)
	}
	result := make([]*wasm.Global, n)
	for i := range result {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("global[%d] initializer: %w", i, err)
		}
		result[i] = &wasm.Global{Type: gt, Init: init}
	}
	return result, nil
}

func decodeExportSection(r *bytes.Reader) ([]*wasm.Export, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get export count: %w", err)
	}
	result := make([]*wasm.Export, n)
	names := make(map[string]struct{}, n)
	for i := range result {
		name, err := decodeName(r)
		if err != nil {
			return nil, fmt.Errorf("export[%d] name: %w", i, err)
		}
		if _, ok := names[name]; ok {
			return nil, fmt.Errorf("export[%d]: duplicate name %q", i, name)
		}
		names[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("export[%d] kind: %w", i, err)
		}
		if kind > wasm.ExportKindGlobal {
			return nil, fmt.Errorf("export[%d]: invalid kind 0x%x", i, kind)
		}
		index, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("export[%d] index: %w", i, err)
		}
		result[i] = &wasm.Export{Name: name, Kind: kind, Index: index}
	}
	return result, nil
}

func decodeElementSection(r *bytes.Reader) ([]*wasm.ElementSegment, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get element segment count: %w", err)
	}
	result := make([]*wasm.ElementSegment, n)
	for i := range result {
		// Only active mode (flag 0) exists in the 1.0 format.
		tableIndex, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("element[%d] table index: %w", i, err)
		}
		if tableIndex != 0 {
			return nil, fmt.Errorf("element[%d]: table index must be zero", i)
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("element[%d] offset: %w", i, err)
		}
		ni, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("element[%d] vector length: %w", i, err)
		}
		funcs := make([]uint32, ni)
		for j := range funcs {
			if funcs[j], _, err = decodeUint32(r); err != nil {
				return nil, fmt.Errorf("element[%d] func[%d]: %w", i, j, err)
			}
		}
		result[i] = &wasm.ElementSegment{TableIndex: tableIndex, Offset: offset, FuncIndex: funcs}
	}
	return result, nil
}

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	size, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read body size: %w", err)
	}
	remaining := int64(size)

	localsCount, bytesRead, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read locals count: %w", err)
	}
	remaining -= int64(bytesRead)

	var locals []wasm.ValueType
	for i := uint32(0); i < localsCount; i++ {
		n, bytesRead, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read locals[%d] repeat: %w", i, err)
		}
		remaining -= int64(bytesRead) + 1
		vt, err := decodeValueType(r)
		if err != nil {
			return nil, fmt.Errorf("locals[%d]: %w", i, err)
		}
		for j := uint32(0); j < n; j++ {
			locals = append(locals, vt)
		}
	}
	if remaining <= 0 {
		return nil, fmt.Errorf("function body size mismatch")
	}
	body := make([]byte, remaining)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if body[len(body)-1] != wasm.OpcodeEnd {
		return nil, fmt.Errorf("function body must end with end opcode")
	}
	return &wasm.Code{LocalTypes: locals, Body: body}, nil
}

func decodeCodeSection(r *bytes.Reader) ([]*wasm.Code, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get code count: %w", err)
	}
	result := make([]*wasm.Code, n)
	for i := range result {
		if result[i], err = decodeCode(r); err != nil {
			return nil, fmt.Errorf("code[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeDataSection(r *bytes.Reader) ([]*wasm.DataSegment, error) {
	n, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get data segment count: %w", err)
	}
	result := make([]*wasm.DataSegment, n)
	for i := range result {
		// Only active mode against memory zero exists in the 1.0 format.
		memoryIndex, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("data[%d] memory index: %w", i, err)
		}
		if memoryIndex != 0 {
			return nil, fmt.Errorf("data[%d]: memory index must be zero", i)
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("data[%d] offset: %w", i, err)
		}
		size, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("data[%d] size: %w", i, err)
		}
		init := make([]byte, size)
		if _, err = io.ReadFull(r, init); err != nil {
			return nil, fmt.Errorf("data[%d] init: %w", i, err)
		}
		result[i] = &wasm.DataSegment{MemoryIndex: memoryIndex, Offset: offset, Init: init}
	}
	return result, nil
}
