package pvf

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/paritytech/pvf-executor/internal/leb128"
	"github.com/paritytech/pvf-executor/internal/platform"
	"github.com/paritytech/pvf-executor/internal/wasm"
	wasmbinary "github.com/paritytech/pvf-executor/internal/wasm/binary"
)

// Instruction-building shorthands for test module bodies.

func cat(chunks ...[]byte) (out []byte) {
	for _, c := range chunks {
		out = append(out, c...)
	}
	return
}

func i32Const(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const}, leb128.EncodeInt32(v)...)
}

func i64Const(v int64) []byte {
	return append([]byte{wasm.OpcodeI64Const}, leb128.EncodeInt64(v)...)
}

func localGet(i uint32) []byte {
	return append([]byte{wasm.OpcodeLocalGet}, leb128.EncodeUint32(i)...)
}

func localSet(i uint32) []byte {
	return append([]byte{wasm.OpcodeLocalSet}, leb128.EncodeUint32(i)...)
}

func localTee(i uint32) []byte {
	return append([]byte{wasm.OpcodeLocalTee}, leb128.EncodeUint32(i)...)
}

func memArg(op wasm.Opcode, align, offset uint32) []byte {
	return cat([]byte{op}, leb128.EncodeUint32(align), leb128.EncodeUint32(offset))
}

func op(codes ...wasm.Opcode) []byte { return codes }

const end = wasm.OpcodeEnd

var (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
)

// instantiate runs the whole pipeline on a module and returns a live
// instance.
func instantiate(t *testing.T, m *wasm.Module, resolver ImportResolver) *PvfInstance {
	t.Helper()
	irp, err := FromBytes(wasmbinary.EncodeModule(m)).Translate(resolver)
	require.NoError(t, err)
	inst, err := Instantiate(irp.Compile(NewIntelX64Compiler()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func runTest(t *testing.T, m *wasm.Module, params ...uint64) uint64 {
	t.Helper()
	ret, err := instantiate(t, m, nil).Call("test", params...)
	require.NoError(t, err)
	return ret
}

// exportedTest builds a single-function module exporting "test".
func exportedTest(ftype *wasm.FunctionType, locals []wasm.ValueType, body []byte) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ftype},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 0}},
		CodeSection:     []*wasm.Code{{LocalTypes: locals, Body: body}},
	}
}

func exportedTestWithMemory(ftype *wasm.FunctionType, body []byte) *wasm.Module {
	m := exportedTest(ftype, nil, body)
	m.MemorySection = []*wasm.Memory{{Min: 1}}
	return m
}

func TestI32Const(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(42), op(end)))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))

	m = exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(-42), op(end)))
	require.Equal(t, uint32(4294967254), uint32(runTest(t, m)))
}

func TestI32Bitwise(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(298), i32Const(63), op(wasm.OpcodeI32And), op(end)))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestI32Mul(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(0x55555555), i32Const(7), op(wasm.OpcodeI32Mul), op(end)))
	require.Equal(t, uint32(0x55555553), uint32(runTest(t, m)))
}

func TestI64ShrUMasksCount(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i64}}, nil,
		cat(i64Const(-1), i64Const(71), op(wasm.OpcodeI64ShrU), op(end)))
	require.Equal(t, uint64(0x01FFFFFFFFFFFFFF), runTest(t, m))
}

func TestNestedBlocksWithResult(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			[]byte{wasm.OpcodeBlock, 0x7f},
			[]byte{wasm.OpcodeBlock, 0x7f},
			i32Const(42),
			op(end),
			op(end),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestBranchOutOfNestedBlocks(t *testing.T) {
	// br 1 discards the two extra values and carries 42 to the outer block.
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			[]byte{wasm.OpcodeBlock, 0x7f},
			[]byte{wasm.OpcodeBlock, 0x7f},
			i32Const(40),
			i32Const(41),
			i32Const(42),
			[]byte{wasm.OpcodeBr, 0x01},
			op(end),
			op(end),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestLoopCountsDown(t *testing.T) {
	// Adds 10 per iteration while counting local 2 from 3 down to 0, then
	// adds parameter 12.
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32, i32},
		cat(
			i32Const(3), localSet(2),
			[]byte{wasm.OpcodeLoop, 0x7f},
			i32Const(10), localGet(1), op(wasm.OpcodeI32Add), localSet(1),
			localGet(2), i32Const(1), op(wasm.OpcodeI32Sub), localTee(2),
			[]byte{wasm.OpcodeBrIf, 0x00},
			localGet(1),
			op(end),
			localGet(0), op(wasm.OpcodeI32Add),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m, 12)))
}

func TestLocalTee(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32},
		cat(i32Const(21), localTee(0), localGet(0), op(wasm.OpcodeI32Add), op(end)))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func callOp(index uint32) []byte {
	return append([]byte{wasm.OpcodeCall}, leb128.EncodeUint32(index)...)
}

func TestDirectCall(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 0},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 1}},
		CodeSection: []*wasm.Code{
			{Body: cat(i32Const(42), op(end))},
			{Body: cat(callOp(0), op(end))},
		},
	}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestCallWithSixRegisterParams(t *testing.T) {
	// $param6 alternates adds and subtracts over its six parameters.
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{i32, i32, i32, i32, i32, i32}, Results: []wasm.ValueType{i32}},
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 1},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 1}},
		CodeSection: []*wasm.Code{
			{Body: cat(
				localGet(0), localGet(1), op(wasm.OpcodeI32Add),
				localGet(2), op(wasm.OpcodeI32Sub),
				localGet(3), op(wasm.OpcodeI32Add),
				localGet(4), op(wasm.OpcodeI32Sub),
				localGet(5), op(wasm.OpcodeI32Add),
				op(end),
			)},
			{Body: cat(
				i32Const(1), i32Const(10), i32Const(15), i32Const(22), i32Const(13), i32Const(32),
				callOp(0),
				i32Const(5), op(wasm.OpcodeI32Add),
				op(end),
			)},
		},
	}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestCallWithNineParamsSpillsToStack(t *testing.T) {
	// Three of the nine arguments travel on the native stack through the
	// overlapping-frame copy loop.
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{i32, i32, i32, i32, i32, i32, i32, i32, i32},
				Results: []wasm.ValueType{i32}},
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 1},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 1}},
		CodeSection: []*wasm.Code{
			{Body: cat(
				localGet(0), localGet(1), op(wasm.OpcodeI32Add),
				localGet(2), op(wasm.OpcodeI32Sub),
				localGet(3), op(wasm.OpcodeI32Add),
				localGet(4), op(wasm.OpcodeI32Sub),
				localGet(5), op(wasm.OpcodeI32Add),
				localGet(6), op(wasm.OpcodeI32Sub),
				localGet(7), op(wasm.OpcodeI32Add),
				localGet(8), op(wasm.OpcodeI32Sub),
				op(end),
			)},
			{Body: cat(
				i32Const(1), i32Const(10), i32Const(15), i32Const(22), i32Const(13),
				i32Const(32), i32Const(54), i32Const(100), i32Const(48),
				callOp(0),
				i32Const(7), op(wasm.OpcodeI32Add),
				op(end),
			)},
		},
	}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestMemoryStoreLoadPieces(t *testing.T) {
	// Stores an i64 pattern at 444+32 and reassembles 42 from byte and
	// halfword loads: 170 + 8721 + 68 - 8917.
	m := exportedTestWithMemory(&wasm.FunctionType{Results: []wasm.ValueType{i32}},
		cat(
			i32Const(444), i64Const(0x44332211DDCCBBAA), memArg(wasm.OpcodeI64Store, 3, 32),
			i32Const(444), memArg(wasm.OpcodeI32Load8U, 0, 32),
			i32Const(444), memArg(wasm.OpcodeI32Load16U, 1, 36),
			op(wasm.OpcodeI32Add),
			i32Const(444), memArg(wasm.OpcodeI32Load8U, 0, 39),
			op(wasm.OpcodeI32Add),
			i32Const(8917), op(wasm.OpcodeI32Sub),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestCallIndirect(t *testing.T) {
	four := uint32(4)
	constFunc := func(v int32) *wasm.Code {
		return &wasm.Code{Body: cat(i32Const(v), op(end))}
	}
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Results: []wasm.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 0, 0, 0},
		TableSection:    []*wasm.Table{{Min: 4, Max: &four}},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 3}},
		ElementSection: []*wasm.ElementSegment{{
			Offset:    &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
			FuncIndex: []wasm.Index{0, 1, 2},
		}},
		CodeSection: []*wasm.Code{
			constFunc(7),
			constFunc(13),
			constFunc(42),
			{Body: cat(
				i32Const(2),
				[]byte{wasm.OpcodeCallIndirect, 0x00, 0x00},
				op(end),
			)},
		},
	}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestGlobals(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			i32Const(12),
			[]byte{wasm.OpcodeGlobalSet, 0x01},
			[]byte{wasm.OpcodeGlobalGet, 0x01},
			[]byte{wasm.OpcodeGlobalGet, 0x00},
			op(wasm.OpcodeI32Add),
			op(end),
		))
	m.GlobalSection = []*wasm.Global{
		{
			Type: &wasm.GlobalType{ValType: i32, Mutable: false},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(30)},
		},
		{
			Type: &wasm.GlobalType{ValType: i32, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
		},
	}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

// hostStub maps a hand-assembled System-V function into executable memory
// and returns its address.
func hostStub(t *testing.T, code []byte) uintptr {
	t.Helper()
	seg, err := platform.MmapCode(0x1000)
	require.NoError(t, err)
	copy(seg, code)
	require.NoError(t, platform.MakeExecutable(seg))
	t.Cleanup(func() { _ = platform.Munmap(seg) })
	return uintptr(unsafe.Pointer(&seg[0]))
}

func TestHostImport(t *testing.T) {
	// add2(x) = x + 2, assembled as: lea eax, [rdi+2]; ret
	addr := hostStub(t, []byte{0x8d, 0x47, 0x02, 0xc3})
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
			{Results: []wasm.ValueType{i32}},
		},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "add2", Kind: wasm.ImportKindFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{1},
		ExportSection:   []*wasm.Export{{Name: "test", Kind: wasm.ExportKindFunc, Index: 1}},
		CodeSection: []*wasm.Code{
			{Body: cat(i32Const(40), callOp(0), op(end))},
		},
	}

	var sawModule, sawField string
	resolver := func(module, field string, params, results uint32) (uintptr, error) {
		sawModule, sawField = module, field
		return addr, nil
	}
	ret, err := instantiate(t, m, resolver).Call("test")
	require.NoError(t, err)
	require.Equal(t, uint32(42), uint32(ret))
	require.Equal(t, "env", sawModule)
	require.Equal(t, "add2", sawField)
}

func binTest32(op wasm.Opcode) *wasm.Module {
	return exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
		nil,
		cat(localGet(0), localGet(1), []byte{op}, []byte{end}),
	)
}

func binTest64(op wasm.Opcode) *wasm.Module {
	return exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i64, i64}, Results: []wasm.ValueType{i64}},
		nil,
		cat(localGet(0), localGet(1), []byte{op}, []byte{end}),
	)
}

func TestDivisionAndRemainder(t *testing.T) {
	for _, tc := range []struct {
		name     string
		op       wasm.Opcode
		a, b     uint64
		expected uint32
	}{
		{name: "div_s", op: wasm.OpcodeI32DivS, a: 7, b: 2, expected: 3},
		{name: "div_s negative", op: wasm.OpcodeI32DivS, a: uint64(uint32(0xFFFFFFF9)) /* -7 */, b: 2, expected: 0xFFFFFFFD},
		{name: "div_u", op: wasm.OpcodeI32DivU, a: 0x80000000, b: 2, expected: 0x40000000},
		{name: "rem_s", op: wasm.OpcodeI32RemS, a: uint64(uint32(0xFFFFFFF9)), b: 2, expected: 0xFFFFFFFF},
		{name: "rem_u", op: wasm.OpcodeI32RemU, a: 7, b: 5, expected: 2},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, uint32(runTest(t, binTest32(tc.op), tc.a, tc.b)))
		})
	}
}

func TestDivision64(t *testing.T) {
	require.Equal(t, uint64(0x4000000000000000),
		runTest(t, binTest64(wasm.OpcodeI64DivU), 0x8000000000000000, 2))
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFD),
		runTest(t, binTest64(wasm.OpcodeI64DivS), 0xFFFFFFFFFFFFFFF9, 2)) // -7 / 2
	require.Equal(t, uint64(1),
		runTest(t, binTest64(wasm.OpcodeI64RemS), 7, 3))
}

func TestShiftCountsAreMasked(t *testing.T) {
	require.Equal(t, uint32(2), uint32(runTest(t, binTest32(wasm.OpcodeI32Shl), 1, 33)))
	require.Equal(t, uint32(0x40000000), uint32(runTest(t, binTest32(wasm.OpcodeI32ShrU), 0x80000000, 33)))
	require.Equal(t, uint32(0xC0000000), uint32(runTest(t, binTest32(wasm.OpcodeI32ShrS), 0x80000000, 1)))
	require.Equal(t, uint32(3), uint32(runTest(t, binTest32(wasm.OpcodeI32Rotl), 0x80000001, 1)))
	require.Equal(t, uint32(0x80000001), uint32(runTest(t, binTest32(wasm.OpcodeI32Rotr), 3, 1)))
	require.Equal(t, uint64(2), runTest(t, binTest64(wasm.OpcodeI64Shl), 1, 65))
}

func TestBrTableClampsSelector(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		nil,
		cat(
			[]byte{wasm.OpcodeBlock, 0x40},
			[]byte{wasm.OpcodeBlock, 0x40},
			[]byte{wasm.OpcodeBlock, 0x40},
			localGet(0),
			[]byte{wasm.OpcodeBrTable, 0x02, 0x00, 0x01, 0x02},
			op(end),
			i32Const(10), op(wasm.OpcodeReturn),
			op(end),
			i32Const(20), op(wasm.OpcodeReturn),
			op(end),
			i32Const(30),
			op(end),
		))
	for selector, expected := range map[uint64]uint32{0: 10, 1: 20, 2: 30, 9: 30} {
		require.Equal(t, expected, uint32(runTest(t, m, selector)), "selector %d", selector)
	}
}

func TestLoadWidthsAndExtension(t *testing.T) {
	// Stores the parameter then reloads it narrower; sign and zero
	// extension must match the opcode.
	const pattern = uint64(0xF1F2F3F485868788)
	for _, tc := range []struct {
		name     string
		loadOp   []byte
		expected uint64
	}{
		{name: "load8_u", loadOp: memArg(wasm.OpcodeI64Load8U, 0, 0), expected: 0x88},
		{name: "load8_s", loadOp: memArg(wasm.OpcodeI64Load8S, 0, 0), expected: 0xFFFFFFFFFFFFFF88},
		{name: "load16_u", loadOp: memArg(wasm.OpcodeI64Load16U, 1, 0), expected: 0x8788},
		{name: "load16_s", loadOp: memArg(wasm.OpcodeI64Load16S, 1, 0), expected: 0xFFFFFFFFFFFF8788},
		{name: "load32_u", loadOp: memArg(wasm.OpcodeI64Load32U, 2, 0), expected: 0x85868788},
		{name: "load32_s", loadOp: memArg(wasm.OpcodeI64Load32S, 2, 0), expected: 0xFFFFFFFF85868788},
		{name: "load64", loadOp: memArg(wasm.OpcodeI64Load, 3, 0), expected: pattern},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := exportedTestWithMemory(
				&wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}},
				cat(
					i32Const(100), localGet(0), memArg(wasm.OpcodeI64Store, 3, 0),
					i32Const(100), tc.loadOp,
					op(end),
				))
			require.Equal(t, tc.expected, runTest(t, m, pattern))
		})
	}
}

func TestNarrowStores(t *testing.T) {
	// A one-byte store must leave its neighbors intact.
	m := exportedTestWithMemory(&wasm.FunctionType{Results: []wasm.ValueType{i32}},
		cat(
			i32Const(200), i32Const(0x11223344), memArg(wasm.OpcodeI32Store, 2, 0),
			i32Const(201), i32Const(0xFF), memArg(wasm.OpcodeI32Store8, 0, 0),
			i32Const(200), memArg(wasm.OpcodeI32Load, 2, 0),
			op(end),
		))
	require.Equal(t, uint32(0x1122FF44), uint32(runTest(t, m)))
}

func TestMemorySizeAndGrow(t *testing.T) {
	four := uint32(4)
	size := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat([]byte{wasm.OpcodeMemorySize, 0x00}, op(end)))
	size.MemorySection = []*wasm.Memory{{Min: 1, Max: &four}}
	require.Equal(t, uint32(1), uint32(runTest(t, size)))

	grow := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			i32Const(1), []byte{wasm.OpcodeMemoryGrow, 0x00}, op(wasm.OpcodeDrop),
			[]byte{wasm.OpcodeMemorySize, 0x00},
			op(end),
		))
	grow.MemorySection = []*wasm.Memory{{Min: 1, Max: &four}}
	require.Equal(t, uint32(2), uint32(runTest(t, grow)))

	growReturnsOld := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(1), []byte{wasm.OpcodeMemoryGrow, 0x00}, op(end)))
	growReturnsOld.MemorySection = []*wasm.Memory{{Min: 1, Max: &four}}
	require.Equal(t, uint32(1), uint32(runTest(t, growReturnsOld)))

	overLimit := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(10), []byte{wasm.OpcodeMemoryGrow, 0x00}, op(end)))
	overLimit.MemorySection = []*wasm.Memory{{Min: 1, Max: &four}}
	require.Equal(t, uint32(0xFFFFFFFF), uint32(runTest(t, overLimit)))
}

func TestSelect(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		nil,
		cat(i32Const(11), i32Const(22), localGet(0), op(wasm.OpcodeSelect), op(end)))
	require.Equal(t, uint32(11), uint32(runTest(t, m, 1)))
	inst := instantiate(t, m, nil)
	ret, err := inst.Call("test", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(22), uint32(ret))
}

func TestComparisons(t *testing.T) {
	for _, tc := range []struct {
		name     string
		op       wasm.Opcode
		a, b     uint64
		expected uint32
	}{
		{name: "eq true", op: wasm.OpcodeI32Eq, a: 5, b: 5, expected: 1},
		{name: "eq false", op: wasm.OpcodeI32Eq, a: 5, b: 6, expected: 0},
		{name: "lt_s", op: wasm.OpcodeI32LtS, a: uint64(uint32(0xFFFFFFFF)), b: 1, expected: 1},
		{name: "lt_u", op: wasm.OpcodeI32LtU, a: uint64(uint32(0xFFFFFFFF)), b: 1, expected: 0},
		{name: "gt_s", op: wasm.OpcodeI32GtS, a: 2, b: 1, expected: 1},
		{name: "ge_u", op: wasm.OpcodeI32GeU, a: 1, b: 1, expected: 1},
		{name: "le_s", op: wasm.OpcodeI32LeS, a: uint64(uint32(0xFFFFFFFE)), b: uint64(uint32(0xFFFFFFFF)), expected: 1},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, uint32(runTest(t, binTest32(tc.op), tc.a, tc.b)))
		})
	}
}

func TestEqz(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		nil,
		cat(localGet(0), op(wasm.OpcodeI32Eqz), op(end)))
	require.Equal(t, uint32(1), uint32(runTest(t, m, 0)))
	inst := instantiate(t, m, nil)
	ret, err := inst.Call("test", 7)
	require.NoError(t, err)
	require.Equal(t, uint32(0), uint32(ret))
}

func TestBitCounting(t *testing.T) {
	unaryTest32 := func(op wasm.Opcode) *wasm.Module {
		return exportedTest(
			&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
			nil,
			cat(localGet(0), []byte{op}, []byte{end}))
	}
	require.Equal(t, uint32(31), uint32(runTest(t, unaryTest32(wasm.OpcodeI32Clz), 1)))
	require.Equal(t, uint32(4), uint32(runTest(t, unaryTest32(wasm.OpcodeI32Ctz), 0x10)))
	require.Equal(t, uint32(8), uint32(runTest(t, unaryTest32(wasm.OpcodeI32Popcnt), 0xFF)))

	clz64 := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}},
		nil,
		cat(localGet(0), op(wasm.OpcodeI64Clz), op(end)))
	require.Equal(t, uint64(63), runTest(t, clz64, 1))
}

func TestConversions(t *testing.T) {
	wrap := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i32}},
		nil,
		cat(localGet(0), op(wasm.OpcodeI32WrapI64), op(end)))
	require.Equal(t, uint32(0x85868788), uint32(runTest(t, wrap, 0xF1F2F3F485868788)))

	extendS := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i64}},
		nil,
		cat(localGet(0), op(wasm.OpcodeI64ExtendI32S), op(end)))
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), runTest(t, extendS, uint64(uint32(0xFFFFFFFF))))

	extendU := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i64}},
		nil,
		cat(localGet(0), op(wasm.OpcodeI64ExtendI32U), op(end)))
	require.Equal(t, uint64(0xFFFFFFFF), runTest(t, extendU, uint64(uint32(0xFFFFFFFF))))
}

func TestIfElse(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		nil,
		cat(
			localGet(0),
			[]byte{wasm.OpcodeIf, 0x7f},
			i32Const(1),
			op(wasm.OpcodeElse),
			i32Const(2),
			op(end),
			op(end),
		))
	require.Equal(t, uint32(1), uint32(runTest(t, m, 7)))
	inst := instantiate(t, m, nil)
	ret, err := inst.Call("test", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), uint32(ret))
}

func TestIfWithoutElse(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32},
		cat(
			localGet(0),
			[]byte{wasm.OpcodeIf, 0x40},
			i32Const(40), localSet(1),
			op(end),
			localGet(1), i32Const(2), op(wasm.OpcodeI32Add),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m, 1)))
	inst := instantiate(t, m, nil)
	ret, err := inst.Call("test", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), uint32(ret))
}

func TestEarlyReturn(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			[]byte{wasm.OpcodeBlock, 0x40},
			i32Const(42),
			op(wasm.OpcodeReturn),
			op(end),
			i32Const(7),
			op(end),
		))
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestDataSegmentInitialization(t *testing.T) {
	m := exportedTestWithMemory(&wasm.FunctionType{Results: []wasm.ValueType{i32}},
		cat(i32Const(0), memArg(wasm.OpcodeI32Load, 2, 16), op(end)))
	m.DataSection = []*wasm.DataSegment{{
		Offset: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(16)},
		Init:   []byte{42, 0, 0, 0},
	}}
	require.Equal(t, uint32(42), uint32(runTest(t, m)))
}

func TestOptimizePreservesBehavior(t *testing.T) {
	m := exportedTest(
		&wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32, i32},
		cat(
			i32Const(3), localSet(2),
			[]byte{wasm.OpcodeLoop, 0x7f},
			i32Const(10), localGet(1), op(wasm.OpcodeI32Add), localSet(1),
			localGet(2), i32Const(1), op(wasm.OpcodeI32Sub), localTee(2),
			[]byte{wasm.OpcodeBrIf, 0x00},
			localGet(1),
			op(end),
			localGet(0), op(wasm.OpcodeI32Add),
			op(end),
		))
	irp, err := FromBytes(wasmbinary.EncodeModule(m)).Translate(nil)
	require.NoError(t, err)
	irp.Optimize()
	inst, err := Instantiate(irp.Compile(NewIntelX64Compiler()))
	require.NoError(t, err)
	defer inst.Close()
	ret, err := inst.Call("test", 12)
	require.NoError(t, err)
	require.Equal(t, uint32(42), uint32(ret))
}

func TestMultipleIndependentInstances(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(
			[]byte{wasm.OpcodeGlobalGet, 0x00},
			i32Const(1), op(wasm.OpcodeI32Add),
			[]byte{wasm.OpcodeGlobalSet, 0x00},
			[]byte{wasm.OpcodeGlobalGet, 0x00},
			op(end),
		))
	m.GlobalSection = []*wasm.Global{{
		Type: &wasm.GlobalType{ValType: i32, Mutable: true},
		Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
	}}

	irp, err := FromBytes(wasmbinary.EncodeModule(m)).Translate(nil)
	require.NoError(t, err)
	prepared := irp.Compile(NewIntelX64Compiler())

	instA, err := Instantiate(prepared)
	require.NoError(t, err)
	defer instA.Close()
	instB, err := Instantiate(prepared)
	require.NoError(t, err)
	defer instB.Close()

	for i := uint32(1); i <= 3; i++ {
		ret, err := instA.Call("test")
		require.NoError(t, err)
		require.Equal(t, i, uint32(ret))
	}
	ret, err := instB.Call("test")
	require.NoError(t, err)
	require.Equal(t, uint32(1), uint32(ret), "instances must not share globals")
}

func TestExportNotFound(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(42), op(end)))
	inst := instantiate(t, m, nil)
	_, err := inst.Call("missing")
	require.ErrorIs(t, err, ErrExportNotFound)
}

func TestFromFile(t *testing.T) {
	m := exportedTest(&wasm.FunctionType{Results: []wasm.ValueType{i32}}, nil,
		cat(i32Const(42), op(end)))
	path := filepath.Join(t.TempDir(), "module.wasm")
	require.NoError(t, os.WriteFile(path, wasmbinary.EncodeModule(m), 0o600))

	raw, err := FromFile(path)
	require.NoError(t, err)
	irp, err := raw.Translate(nil)
	require.NoError(t, err)
	inst, err := Instantiate(irp.Compile(NewIntelX64Compiler()))
	require.NoError(t, err)
	defer inst.Close()
	ret, err := inst.Call("test")
	require.NoError(t, err)
	require.Equal(t, uint32(42), uint32(ret))

	_, err = FromFile(filepath.Join(t.TempDir(), "absent.wasm"))
	require.Error(t, err)
}
