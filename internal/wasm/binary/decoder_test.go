package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paritytech/pvf-executor/internal/wasm"
)

// TestDecodeModule round-trips modules through the encoder, so the encoding
// is asserted to be both known and reversible without byte-array fixtures.
func TestDecodeModule(t *testing.T) {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	four := uint32(4)

	tests := []struct {
		name  string
		input *wasm.Module
	}{
		{
			name:  "empty",
			input: &wasm.Module{},
		},
		{
			name: "type section",
			input: &wasm.Module{
				TypeSection: []*wasm.FunctionType{
					{},
					{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
					{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}},
				},
			},
		},
		{
			name: "type and import section",
			input: &wasm.Module{
				TypeSection: []*wasm.FunctionType{
					{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
				},
				ImportSection: []*wasm.Import{
					{Module: "env", Name: "add2", Kind: wasm.ImportKindFunc, DescFunc: 0},
					{Module: "env", Name: "limit", Kind: wasm.ImportKindGlobal,
						DescGlobal: &wasm.GlobalType{ValType: i64, Mutable: false}},
				},
			},
		},
		{
			name: "function and code section",
			input: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{Results: []wasm.ValueType{i32}}},
				FunctionSection: []wasm.Index{0},
				CodeSection: []*wasm.Code{
					{Body: []byte{wasm.OpcodeI32Const, 0x2a, wasm.OpcodeEnd}},
				},
			},
		},
		{
			name: "locals are regrouped into runs",
			input: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				CodeSection: []*wasm.Code{
					{LocalTypes: []wasm.ValueType{i32, i32, i64}, Body: []byte{wasm.OpcodeEnd}},
				},
			},
		},
		{
			name: "table, memory, export",
			input: &wasm.Module{
				TableSection:  []*wasm.Table{{Min: 4, Max: &four}},
				MemorySection: []*wasm.Memory{{Min: 1, Max: &four}},
				ExportSection: []*wasm.Export{
					{Name: "memory", Kind: wasm.ExportKindMemory, Index: 0},
				},
			},
		},
		{
			name: "globals with initializers",
			input: &wasm.Module{
				GlobalSection: []*wasm.Global{
					{
						Type: &wasm.GlobalType{ValType: i32, Mutable: true},
						Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x1e}},
					},
					{
						Type: &wasm.GlobalType{ValType: i64, Mutable: false},
						Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{0x7f}},
					},
				},
			},
		},
		{
			name: "element and data segments",
			input: &wasm.Module{
				TableSection:  []*wasm.Table{{Min: 4}},
				MemorySection: []*wasm.Memory{{Min: 1}},
				ElementSection: []*wasm.ElementSegment{
					{
						TableIndex: 0,
						Offset:     &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}},
						FuncIndex:  []wasm.Index{0, 1, 2},
					},
				},
				DataSection: []*wasm.DataSegment{
					{
						MemoryIndex: 0,
						Offset:      &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x10}},
						Init:        []byte{0xde, 0xad, 0xbe, 0xef},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeModule(EncodeModule(tc.input))
			require.NoError(t, err)
			require.Equal(t, tc.input, m)
		})
	}
}

func TestDecodeModule_Errors(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		expectedErr string
	}{
		{
			name:        "wrong magic",
			input:       []byte("wasm\x01\x00\x00\x00"),
			expectedErr: "invalid magic number",
		},
		{
			name:        "wrong version",
			input:       []byte("\x00asm\x01\x00\x00\x01"),
			expectedErr: "invalid version header",
		},
		{
			name: "non-empty start section",
			input: append(append(append([]byte{}, magic...), version...),
				SectionIDStart, 0x01, 0x00),
			expectedErr: "section ID 8: unsupported section",
		},
		{
			name: "memory import",
			input: append(append(append([]byte{}, magic...), version...),
				SectionIDImport, 0x0b,
				0x01,                // one import
				0x03, 'e', 'n', 'v', // module
				0x03, 'm', 'e', 'm', // name
				0x02,       // memory kind
				0x00, 0x01, // limits
			),
			expectedErr: "section ID 2: import[0]: unsupported import kind: 0x2",
		},
		{
			name: "two memories",
			input: append(append(append([]byte{}, magic...), version...),
				SectionIDMemory, 0x05,
				0x02,       // two memories
				0x00, 0x01, // limits
				0x00, 0x01,
			),
			expectedErr: "section ID 5: at most one memory is allowed, 2 declared",
		},
		{
			name: "section size disagrees",
			input: append(append(append([]byte{}, magic...), version...),
				SectionIDType, 0x03,
				0x01, 0x60, 0x00, 0x00),
			expectedErr: "section ID 1: 3 bytes declared, 4 read",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModule(tc.input)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestDecodeConstantExpression_RejectsArbitraryOpcodes(t *testing.T) {
	input := append(append(append([]byte{}, magic...), version...),
		SectionIDGlobal, 0x06,
		0x01,                    // one global
		wasm.ValueTypeI32, 0x00, // immutable i32
		wasm.OpcodeI32Add, 0x00, wasm.OpcodeEnd)
	_, err := DecodeModule(input)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid opcode for const expression")
}
