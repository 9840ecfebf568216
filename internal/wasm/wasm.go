// Package wasm holds the in-memory model of a decoded WebAssembly 1.0
// module: the sections the translation pipeline consumes, in the order the
// binary format defines them.
package wasm

import "fmt"

// ValueType describes a numeric value type. Only the integer types i32 and
// i64 are executable by this runtime; f32/f64 are recognized by the decoder
// so that the translator can reject them with a useful error.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name in wat format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// Index is an offset into one of the module's index spaces.
type Index = uint32

// FunctionType is the parameter and result signature of a function.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

func (t *FunctionType) String() (ret string) {
	for _, b := range t.Params {
		ret += ValueTypeName(b)
	}
	if len(t.Params) == 0 {
		ret += "null"
	}
	ret += "_"
	for _, b := range t.Results {
		ret += ValueTypeName(b)
	}
	if len(t.Results) == 0 {
		ret += "null"
	}
	return
}

// ImportKind indicates which index space an import occupies.
type ImportKind = byte

const (
	ImportKindFunc   ImportKind = 0x00
	ImportKindTable  ImportKind = 0x01
	ImportKindMemory ImportKind = 0x02
	ImportKindGlobal ImportKind = 0x03
)

// Import is an entry in the import section. Only function and global imports
// are accepted by the decoder.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind
	// DescFunc is the type index of a function import.
	DescFunc Index
	// DescGlobal is the global type of a global import.
	DescGlobal *GlobalType
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a declared (non-imported) global with its initializer.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is the raw bytes of an initializer expression: the
// leading opcode and its immediate, without the trailing end opcode.
type ConstantExpression struct {
	Opcode byte
	Data   []byte
}

// Table declares min/max element counts. Element type is always funcref in
// MVP, so it is not stored.
type Table struct {
	Min Index
	Max *Index
}

// Memory declares min/max page counts of the single linear memory.
type Memory struct {
	Min Index
	Max *Index
}

// ExportKind indicates which index space an export references.
type ExportKind = byte

const (
	ExportKindFunc   ExportKind = 0x00
	ExportKindTable  ExportKind = 0x01
	ExportKindMemory ExportKind = 0x02
	ExportKindGlobal ExportKind = 0x03
)

// Export is an entry in the export section.
type Export struct {
	Name  string
	Kind  ExportKind
	Index Index
}

// ElementSegment is an active element segment: function indices copied into a
// table at instantiation time.
type ElementSegment struct {
	TableIndex Index
	Offset     *ConstantExpression
	FuncIndex  []Index
}

// DataSegment is an active data segment: raw bytes copied into the linear
// memory at instantiation time.
type DataSegment struct {
	MemoryIndex Index
	Offset      *ConstantExpression
	Init        []byte
}

// Code is one entry of the code section: the declared locals, flattened, and
// the undecoded expression body (terminated by the end opcode).
type Code struct {
	LocalTypes []ValueType
	Body       []byte
}

// Module is a decoded module, one field per handled section. Imported
// functions precede the ones defined in the function section in the function
// index space.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index
	TableSection    []*Table
	MemorySection   []*Memory
	GlobalSection   []*Global
	ExportSection   []*Export
	ElementSection  []*ElementSegment
	DataSection     []*DataSegment
	CodeSection     []*Code
}

// ImportFuncCount returns how many entries of the import section are function
// imports, which is the offset of the first code-section function in the
// function index space.
func (m *Module) ImportFuncCount() (n uint32) {
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindFunc {
			n++
		}
	}
	return
}

// TypeOfFunc resolves the signature of the function with the given index in
// the function index space, traversing imports.
func (m *Module) TypeOfFunc(funcIndex Index) (*FunctionType, error) {
	var typeIndex Index
	imports := m.ImportFuncCount()
	if funcIndex < imports {
		i := Index(0)
		for _, im := range m.ImportSection {
			if im.Kind != ImportKindFunc {
				continue
			}
			if i == funcIndex {
				typeIndex = im.DescFunc
				break
			}
			i++
		}
	} else {
		defined := funcIndex - imports
		if defined >= uint32(len(m.FunctionSection)) {
			return nil, fmt.Errorf("function index %d out of range", funcIndex)
		}
		typeIndex = m.FunctionSection[defined]
	}
	if typeIndex >= uint32(len(m.TypeSection)) {
		return nil, fmt.Errorf("type index %d out of range for function %d", typeIndex, funcIndex)
	}
	return m.TypeSection[typeIndex], nil
}
