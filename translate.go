package pvf

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/paritytech/pvf-executor/internal/ir"
	"github.com/paritytech/pvf-executor/internal/leb128"
	"github.com/paritytech/pvf-executor/internal/wasm"
)

// initFuncName is the synthetic initializer's export name; the instance
// invokes it exactly once.
const initFuncName = "_pvf_init"

type frameKind byte

const (
	frameFunc frameKind = iota
	frameBlock
	frameLoop
	frameIf
)

// ctrlFrame tracks one level of Wasm's structured control flow during
// translation. block is the branch-target id; elseLabel is only set for if
// frames.
type ctrlFrame struct {
	kind      frameKind
	block     uint64
	hasResult bool
	elseLabel ir.Label
	seenElse  bool
}

type translator struct {
	module      *wasm.Module
	irPvf       *ir.Pvf
	funcExports map[uint32]string
	importAddrs map[uint32]uintptr
	nImports    uint32

	blockCounter uint64
	localCounter uint32
}

func (t *translator) nextBlock() uint64 {
	t.blockCounter++
	return t.blockCounter
}

func (t *translator) nextLocalLabel() ir.Label {
	t.localCounter++
	return ir.LocalLabel(t.localCounter)
}

// signatureOf collapses a function type to arities, rejecting value types the
// integer subset cannot represent.
func signatureOf(ftype *wasm.FunctionType) (ir.Signature, error) {
	for _, vt := range ftype.Params {
		if vt != wasm.ValueTypeI32 && vt != wasm.ValueTypeI64 {
			return ir.Signature{}, unsupportedf("%s parameter", wasm.ValueTypeName(vt))
		}
	}
	for _, vt := range ftype.Results {
		if vt != wasm.ValueTypeI32 && vt != wasm.ValueTypeI64 {
			return ir.Signature{}, unsupportedf("%s result", wasm.ValueTypeName(vt))
		}
	}
	if len(ftype.Results) > 1 {
		return ir.Signature{}, unsupportedf("multiple results")
	}
	return ir.Signature{Params: uint32(len(ftype.Params)), Results: uint32(len(ftype.Results))}, nil
}

// translate walks the decoded module and fills the IR container: one body per
// code-section function, import slots for resolved host functions, and the
// synthetic initializer that performs global, table and memory-segment
// initialization.
func translate(m *wasm.Module, resolver ImportResolver) (*ir.Pvf, error) {
	t := &translator{
		module:      m,
		irPvf:       ir.NewPvf(),
		funcExports: make(map[uint32]string),
		importAddrs: make(map[uint32]uintptr),
	}

	var funcIndex uint32
	for _, imp := range m.ImportSection {
		switch imp.Kind {
		case wasm.ImportKindFunc:
			if imp.DescFunc >= uint32(len(m.TypeSection)) {
				return nil, validationErrorf("import %s::%s: type index %d out of range", imp.Module, imp.Name, imp.DescFunc)
			}
			sig, err := signatureOf(m.TypeSection[imp.DescFunc])
			if err != nil {
				return nil, err
			}
			if resolver == nil {
				return nil, &UnresolvedImportError{Module: imp.Module, Field: imp.Name}
			}
			addr, err := resolver(imp.Module, imp.Name, sig.Params, sig.Results)
			if err != nil {
				return nil, &UnresolvedImportError{Module: imp.Module, Field: imp.Name, Err: err}
			}
			t.importAddrs[funcIndex] = addr
			t.irPvf.AddFuncImport(funcIndex, addr, sig)
			funcIndex++
		case wasm.ImportKindGlobal:
			// Recognized but passed through: no address resolution path
			// exists for imported globals yet.
		}
	}
	t.nImports = funcIndex

	for _, table := range m.TableSection {
		maxSize := table.Min
		if table.Max != nil {
			maxSize = *table.Max
		}
		t.irPvf.AddTable(maxSize)
	}

	if len(m.MemorySection) > 0 {
		mem := m.MemorySection[0]
		maxPages := mem.Min
		if mem.Max != nil {
			maxPages = *mem.Max
		}
		t.irPvf.SetMemory(mem.Min, maxPages)
	}

	for _, exp := range m.ExportSection {
		if exp.Kind == wasm.ExportKindFunc {
			t.funcExports[exp.Index] = exp.Name
		}
	}

	for _, seg := range m.DataSection {
		t.irPvf.AddDataChunk(seg.Init)
	}

	if len(m.CodeSection) != len(m.FunctionSection) {
		return nil, validationErrorf("function and code section lengths disagree: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	for i, code := range m.CodeSection {
		findex := t.nImports + uint32(i)
		ftype, err := m.TypeOfFunc(findex)
		if err != nil {
			return nil, validationErrorf("%v", err)
		}
		sig, err := signatureOf(ftype)
		if err != nil {
			return nil, err
		}
		body, err := t.translateFunc(findex, code, sig)
		if err != nil {
			return nil, fmt.Errorf("translate function %d: %w", findex, err)
		}
		t.irPvf.AddFunc(findex, body, sig)
		logrus.WithFields(logrus.Fields{"func": findex, "ops": len(body.Code())}).Trace("translated function")
	}

	init, err := t.synthesizeInit()
	if err != nil {
		return nil, err
	}
	initIndex := t.nImports + uint32(len(m.CodeSection))
	t.irPvf.AddFunc(initIndex, init, ir.Signature{})

	logrus.WithFields(logrus.Fields{
		"funcs":   t.irPvf.NumFuncs(),
		"imports": t.nImports,
		"tables":  len(t.irPvf.Tables()),
		"chunks":  len(t.irPvf.DataChunks()),
	}).Debug("translated module")
	return t.irPvf, nil
}

// synthesizeInit composes the initializer: global initial values, active
// element segments, then active data segments, each offset coming from its
// constant expression.
func (t *translator) synthesizeInit() (*ir.Func, error) {
	initIndex := t.nImports + uint32(len(t.module.CodeSection))
	f := ir.NewFunc()
	f.Label(ir.ExportedFunc(initIndex, initFuncName))
	f.EnterFunction(0)

	nImportGlobals := uint32(0)
	for _, imp := range t.module.ImportSection {
		if imp.Kind == wasm.ImportKindGlobal {
			nImportGlobals++
		}
	}
	for gi, g := range t.module.GlobalSection {
		frag, err := t.evalConstExpr(g.Init)
		if err != nil {
			return nil, fmt.Errorf("global %d initializer: %w", gi, err)
		}
		f.Append(frag)
		f.Pop(ir.Reg64(ir.A))
		f.Move(ir.Global(nImportGlobals+uint32(gi)), ir.Reg64(ir.A))
	}

	for ei, seg := range t.module.ElementSection {
		frag, err := t.evalConstExpr(seg.Offset)
		if err != nil {
			return nil, fmt.Errorf("element segment %d offset: %w", ei, err)
		}
		f.Append(frag)
		f.Pop(ir.Reg64(ir.A))
		f.InitTablePreamble(ir.Reg64(ir.A))
		for _, fi := range seg.FuncIndex {
			f.InitTableElement(ir.Imm32(int32(fi)))
		}
		f.InitTablePostamble()
	}

	for ci, seg := range t.module.DataSection {
		frag, err := t.evalConstExpr(seg.Offset)
		if err != nil {
			return nil, fmt.Errorf("data segment %d offset: %w", ci, err)
		}
		f.Append(frag)
		f.Pop(ir.Reg64(ir.A))
		f.InitMemoryFromChunk(uint32(ci), uint32(len(seg.Init)), ir.Reg64(ir.A))
	}

	f.LeaveFunction()
	f.Return()
	return f, nil
}

// readBlockResult decodes a block type, accepting only the empty type and a
// single integer result.
func readBlockResult(r *bytes.Reader) (bool, error) {
	bt, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return false, fmt.Errorf("read block type: %w", err)
	}
	switch bt {
	case -64: // empty
		return false, nil
	case -1, -2: // i32, i64
		return true, nil
	case -3, -4:
		return false, unsupportedf("floating-point block result")
	default:
		return false, unsupportedf("block type %d", bt)
	}
}

func readMemArg(r *bytes.Reader) (int32, error) {
	if _, _, err := leb128.DecodeUint32(r); err != nil { // alignment hint, unused
		return 0, fmt.Errorf("read alignment: %w", err)
	}
	offset, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("read offset: %w", err)
	}
	if offset > 0x7fffffff {
		return 0, unsupportedf("memory offset beyond 2 GiB")
	}
	return int32(offset), nil
}

// funcLabel resolves the label a direct call uses for the given function
// index: host import, exported, or anonymous.
func (t *translator) funcLabel(index uint32) ir.Label {
	if index < t.nImports {
		return ir.ImportedFunc(index, t.importAddrs[index])
	}
	if name, ok := t.funcExports[index]; ok {
		return ir.ExportedFunc(index, name)
	}
	return ir.AnonymousFunc(index)
}

// leaveCount returns how many structured blocks a branch of the given depth
// unwinds. A branch to a loop re-enters at its top label, which sits inside
// the loop's block, so the target frame itself is kept; a branch to the
// function frame unwinds only the blocks above it.
func leaveCount(target *ctrlFrame, depth uint32) int {
	switch target.kind {
	case frameLoop, frameFunc:
		return int(depth)
	default:
		return int(depth) + 1
	}
}

// emitBranch lowers an unconditional branch of the given depth: the target's
// result (if it carries one) rides in scratch A across the unwind.
func emitBranch(f *ir.Func, frames []*ctrlFrame, depth uint32) error {
	if int(depth) >= len(frames) {
		return validationErrorf("branch depth %d exceeds %d open frames", depth, len(frames))
	}
	target := frames[len(frames)-1-int(depth)]
	carries := target.hasResult && target.kind != frameLoop
	if carries {
		f.Pop(ir.Reg64(ir.A))
	}
	for i := 0; i < leaveCount(target, depth); i++ {
		f.LeaveBlock()
	}
	if carries {
		f.Push(ir.Reg64(ir.A))
	}
	f.Jump(ir.BranchTarget(target.block))
	return nil
}

// translateFunc lowers one function body. Every value-producing opcode ends
// by pushing scratch A; consumers pop their operands back off the machine
// stack. Binary operators pop the right operand first unless commutative.
func (t *translator) translateFunc(findex uint32, code *wasm.Code, sig ir.Signature) (*ir.Func, error) {
	for _, vt := range code.LocalTypes {
		if vt != wasm.ValueTypeI32 && vt != wasm.ValueTypeI64 {
			return nil, unsupportedf("%s local", wasm.ValueTypeName(vt))
		}
	}

	f := ir.NewFunc()
	f.Label(t.funcLabel(findex))
	f.EnterFunction(uint32(len(code.LocalTypes)))

	frames := []*ctrlFrame{{kind: frameFunc, block: t.nextBlock(), hasResult: sig.Results > 0}}
	r := bytes.NewReader(code.Body)

	// Operand shorthands keep the opcode switch close to the lowering rules.
	a, c, d := ir.Reg64(ir.A), ir.Reg64(ir.C), ir.Reg64(ir.D)
	a32, c32, d32 := ir.Reg32(ir.A), ir.Reg32(ir.C), ir.Reg32(ir.D)

	binop := func(commutative bool, emit func()) {
		if commutative {
			f.Pop(a)
			f.Pop(c)
		} else {
			f.Pop(c)
			f.Pop(a)
		}
		emit()
		f.Push(a)
	}
	compare := func(wide bool, cond ir.Cond) {
		f.Pop(c)
		f.Pop(a)
		if wide {
			f.Compare(a, c)
		} else {
			f.Compare(a32, c32)
		}
		f.SetIf(cond, a32)
		f.Push(a)
	}
	eqz := func(wide bool) {
		f.Pop(a)
		f.Move(c32, ir.Imm32(0))
		if wide {
			f.Compare(a, c)
		} else {
			f.Compare(a32, c32)
		}
		f.SetIf(ir.Equal, a32)
		f.Push(a)
	}
	unary := func(emit func()) {
		f.Pop(a)
		emit()
		f.Push(a)
	}
	load := func(r *bytes.Reader, emit func(offset int32)) error {
		offset, err := readMemArg(r)
		if err != nil {
			return err
		}
		f.Pop(c)
		emit(offset)
		f.Push(a)
		return nil
	}
	store := func(r *bytes.Reader, emit func(offset int32)) error {
		offset, err := readMemArg(r)
		if err != nil {
			return err
		}
		f.Pop(a)
		f.Pop(c)
		emit(offset)
		return nil
	}

	for len(frames) > 0 {
		opcode, err := r.ReadByte()
		if err != nil {
			return nil, validationErrorf("function body ends inside a block")
		}

		switch opcode {
		case wasm.OpcodeUnreachable:
			f.Trap()

		case wasm.OpcodeNop:

		case wasm.OpcodeBlock:
			hasResult, err := readBlockResult(r)
			if err != nil {
				return nil, err
			}
			frames = append(frames, &ctrlFrame{kind: frameBlock, block: t.nextBlock(), hasResult: hasResult})
			f.EnterBlock()

		case wasm.OpcodeLoop:
			hasResult, err := readBlockResult(r)
			if err != nil {
				return nil, err
			}
			block := t.nextBlock()
			f.EnterBlock()
			// Branches to a loop jump to its top.
			f.Label(ir.BranchTarget(block))
			frames = append(frames, &ctrlFrame{kind: frameLoop, block: block, hasResult: hasResult})

		case wasm.OpcodeIf:
			hasResult, err := readBlockResult(r)
			if err != nil {
				return nil, err
			}
			f.Pop(a)
			f.And(a32, a32)
			f.EnterBlock()
			elseLabel := t.nextLocalLabel()
			// EnterBlock is push+mov only, so the flags survive it.
			f.JumpIf(ir.Zero, elseLabel)
			frames = append(frames, &ctrlFrame{kind: frameIf, block: t.nextBlock(), hasResult: hasResult, elseLabel: elseLabel})

		case wasm.OpcodeElse:
			frame := frames[len(frames)-1]
			if frame.kind != frameIf || frame.seenElse {
				return nil, validationErrorf("else outside an if block")
			}
			// Close the then arm the way a branch to the end would.
			if frame.hasResult {
				f.Pop(a)
			}
			f.LeaveBlock()
			if frame.hasResult {
				f.Push(a)
			}
			f.Jump(ir.BranchTarget(frame.block))
			f.Label(frame.elseLabel)
			frame.seenElse = true

		case wasm.OpcodeEnd:
			frame := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			switch frame.kind {
			case frameFunc:
				f.Label(ir.BranchTarget(frame.block))
				if frame.hasResult {
					f.Pop(a)
				}
				f.LeaveFunction()
				f.Return()
			case frameLoop:
				if frame.hasResult {
					f.Pop(a)
				}
				f.LeaveBlock()
				if frame.hasResult {
					f.Push(a)
				}
			case frameIf:
				if !frame.seenElse {
					// The false path lands here with the block still open.
					f.Label(frame.elseLabel)
					f.LeaveBlock()
					f.Label(ir.BranchTarget(frame.block))
					break
				}
				fallthrough
			case frameBlock:
				if frame.hasResult {
					f.Pop(a)
				}
				f.LeaveBlock()
				if frame.hasResult {
					f.Push(a)
				}
				f.Label(ir.BranchTarget(frame.block))
			}

		case wasm.OpcodeBr:
			depth, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read branch depth: %w", err)
			}
			if err := emitBranch(f, frames, depth); err != nil {
				return nil, err
			}

		case wasm.OpcodeBrIf:
			depth, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read branch depth: %w", err)
			}
			f.Pop(a)
			f.And(a32, a32)
			skip := t.nextLocalLabel()
			f.JumpIf(ir.Zero, skip)
			if err := emitBranch(f, frames, depth); err != nil {
				return nil, err
			}
			f.Label(skip)

		case wasm.OpcodeBrTable:
			n, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read target count: %w", err)
			}
			depths := make([]uint32, n+1)
			for i := range depths {
				if depths[i], _, err = leb128.DecodeUint32(r); err != nil {
					return nil, fmt.Errorf("read branch depth: %w", err)
				}
			}
			for _, depth := range depths {
				if int(depth) >= len(frames) {
					return nil, validationErrorf("branch depth %d exceeds %d open frames", depth, len(frames))
				}
			}
			// Clamp the selector so an out-of-range value picks the last
			// entry, which is the default target.
			f.Pop(c)
			f.Move(d, ir.Imm32(int32(n)))
			f.Compare(c32, d32)
			f.MoveIf(ir.GreaterUnsigned, c32, d32)
			defaultTarget := frames[len(frames)-1-int(depths[n])]
			if defaultTarget.hasResult && defaultTarget.kind != frameLoop {
				f.Pop(a)
			}
			entries := make([]ir.Label, n+1)
			for i := range entries {
				entries[i] = t.nextLocalLabel()
			}
			// The selector rides in C and the result in A: the jump-table
			// sequence scales C in place and leaves A untouched.
			f.JumpTable(c32, entries)
			for i, depth := range depths {
				target := frames[len(frames)-1-int(depth)]
				f.Label(entries[i])
				for j := 0; j < leaveCount(target, depth); j++ {
					f.LeaveBlock()
				}
				if target.hasResult && target.kind != frameLoop {
					f.Push(a)
				}
				f.Jump(ir.BranchTarget(target.block))
			}

		case wasm.OpcodeReturn:
			if sig.Results > 0 {
				f.Pop(a)
			}
			f.LeaveFunction()
			f.Return()

		case wasm.OpcodeCall:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read call target: %w", err)
			}
			if index >= t.nImports+uint32(len(t.module.CodeSection)) {
				return nil, validationErrorf("call target %d out of range", index)
			}
			f.Call(t.funcLabel(index))

		case wasm.OpcodeCallIndirect:
			typeIndex, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read type index: %w", err)
			}
			tableIndex, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read table index: %w", err)
			}
			if tableIndex != 0 {
				return nil, validationErrorf("call_indirect table index must be zero")
			}
			if typeIndex >= uint32(len(t.module.TypeSection)) {
				return nil, validationErrorf("call_indirect type index %d out of range", typeIndex)
			}
			calleeSig, err := signatureOf(t.module.TypeSection[typeIndex])
			if err != nil {
				return nil, err
			}
			f.Pop(c)
			f.Call(ir.Indirect(tableIndex, c32, calleeSig))

		case wasm.OpcodeDrop:
			f.Pop(a)

		case wasm.OpcodeSelect:
			f.Pop(d)
			f.Pop(c)
			f.Pop(a)
			f.And(d32, d32)
			f.MoveIf(ir.Zero, a, c)
			f.Push(a)

		case wasm.OpcodeLocalGet:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read local index: %w", err)
			}
			f.Move(a, ir.Local(index))
			f.Push(a)

		case wasm.OpcodeLocalSet:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read local index: %w", err)
			}
			f.Pop(a)
			f.Move(ir.Local(index), a)

		case wasm.OpcodeLocalTee:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read local index: %w", err)
			}
			f.Pop(a)
			f.Move(ir.Local(index), a)
			f.Push(a)

		case wasm.OpcodeGlobalGet:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read global index: %w", err)
			}
			f.Move(a, ir.Global(index))
			f.Push(a)

		case wasm.OpcodeGlobalSet:
			index, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read global index: %w", err)
			}
			f.Pop(a)
			f.Move(ir.Global(index), a)

		case wasm.OpcodeI32Load:
			err = load(r, func(off int32) { f.Move(a32, ir.Memory32(off, ir.C)) })
		case wasm.OpcodeI64Load:
			err = load(r, func(off int32) { f.Move(a, ir.Memory64(off, ir.C)) })
		case wasm.OpcodeI32Load8S:
			err = load(r, func(off int32) { f.Move(ir.Reg8(ir.A), ir.Memory8(off, ir.C)); f.SignExtend(ir.Reg8(ir.A)) })
		case wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8U:
			err = load(r, func(off int32) { f.Move(ir.Reg8(ir.A), ir.Memory8(off, ir.C)); f.ZeroExtend(ir.Reg8(ir.A)) })
		case wasm.OpcodeI32Load16S:
			err = load(r, func(off int32) { f.Move(ir.Reg16(ir.A), ir.Memory16(off, ir.C)); f.SignExtend(ir.Reg16(ir.A)) })
		case wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16U:
			err = load(r, func(off int32) { f.Move(ir.Reg16(ir.A), ir.Memory16(off, ir.C)); f.ZeroExtend(ir.Reg16(ir.A)) })
		case wasm.OpcodeI64Load8S:
			err = load(r, func(off int32) { f.Move(ir.Reg8(ir.A), ir.Memory8(off, ir.C)); f.SignExtend(ir.Reg8(ir.A)) })
		case wasm.OpcodeI64Load16S:
			err = load(r, func(off int32) { f.Move(ir.Reg16(ir.A), ir.Memory16(off, ir.C)); f.SignExtend(ir.Reg16(ir.A)) })
		case wasm.OpcodeI64Load32S:
			err = load(r, func(off int32) { f.Move(a32, ir.Memory32(off, ir.C)); f.SignExtend(a32) })
		case wasm.OpcodeI64Load32U:
			err = load(r, func(off int32) { f.Move(a32, ir.Memory32(off, ir.C)) })

		case wasm.OpcodeI32Store:
			err = store(r, func(off int32) { f.Move(ir.Memory32(off, ir.C), a32) })
		case wasm.OpcodeI64Store:
			err = store(r, func(off int32) { f.Move(ir.Memory64(off, ir.C), a) })
		case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
			err = store(r, func(off int32) { f.Move(ir.Memory8(off, ir.C), ir.Reg8(ir.A)) })
		case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
			err = store(r, func(off int32) { f.Move(ir.Memory16(off, ir.C), ir.Reg16(ir.A)) })
		case wasm.OpcodeI64Store32:
			err = store(r, func(off int32) { f.Move(ir.Memory32(off, ir.C), a32) })

		case wasm.OpcodeMemorySize:
			if _, err := r.ReadByte(); err != nil { // reserved
				return nil, fmt.Errorf("read reserved byte: %w", err)
			}
			f.MemorySize(a32)
			f.Push(a)

		case wasm.OpcodeMemoryGrow:
			if _, err := r.ReadByte(); err != nil { // reserved
				return nil, fmt.Errorf("read reserved byte: %w", err)
			}
			f.Pop(a)
			f.MemoryGrow(a32)
			f.Push(a)

		case wasm.OpcodeI32Const:
			v, _, err := leb128.DecodeInt32(r)
			if err != nil {
				return nil, fmt.Errorf("read i32 immediate: %w", err)
			}
			f.Move(a, ir.Imm32(v))
			f.Push(a)

		case wasm.OpcodeI64Const:
			v, _, err := leb128.DecodeInt64(r)
			if err != nil {
				return nil, fmt.Errorf("read i64 immediate: %w", err)
			}
			f.Move(a, ir.Imm64(v))
			f.Push(a)

		case wasm.OpcodeI32Eqz:
			eqz(false)
		case wasm.OpcodeI64Eqz:
			eqz(true)
		case wasm.OpcodeI32Eq:
			compare(false, ir.Equal)
		case wasm.OpcodeI32Ne:
			compare(false, ir.NotEqual)
		case wasm.OpcodeI32LtS:
			compare(false, ir.LessSigned)
		case wasm.OpcodeI32LtU:
			compare(false, ir.LessUnsigned)
		case wasm.OpcodeI32GtS:
			compare(false, ir.GreaterSigned)
		case wasm.OpcodeI32GtU:
			compare(false, ir.GreaterUnsigned)
		case wasm.OpcodeI32LeS:
			compare(false, ir.LessOrEqualSigned)
		case wasm.OpcodeI32LeU:
			compare(false, ir.LessOrEqualUnsigned)
		case wasm.OpcodeI32GeS:
			compare(false, ir.GreaterOrEqualSigned)
		case wasm.OpcodeI32GeU:
			compare(false, ir.GreaterOrEqualUnsigned)
		case wasm.OpcodeI64Eq:
			compare(true, ir.Equal)
		case wasm.OpcodeI64Ne:
			compare(true, ir.NotEqual)
		case wasm.OpcodeI64LtS:
			compare(true, ir.LessSigned)
		case wasm.OpcodeI64LtU:
			compare(true, ir.LessUnsigned)
		case wasm.OpcodeI64GtS:
			compare(true, ir.GreaterSigned)
		case wasm.OpcodeI64GtU:
			compare(true, ir.GreaterUnsigned)
		case wasm.OpcodeI64LeS:
			compare(true, ir.LessOrEqualSigned)
		case wasm.OpcodeI64LeU:
			compare(true, ir.LessOrEqualUnsigned)
		case wasm.OpcodeI64GeS:
			compare(true, ir.GreaterOrEqualSigned)
		case wasm.OpcodeI64GeU:
			compare(true, ir.GreaterOrEqualUnsigned)

		case wasm.OpcodeI32Clz:
			unary(func() { f.LeadingZeroes(a32) })
		case wasm.OpcodeI32Ctz:
			unary(func() { f.TrailingZeroes(a32) })
		case wasm.OpcodeI32Popcnt:
			unary(func() { f.BitPopulationCount(a32) })
		case wasm.OpcodeI64Clz:
			unary(func() { f.LeadingZeroes(a) })
		case wasm.OpcodeI64Ctz:
			unary(func() { f.TrailingZeroes(a) })
		case wasm.OpcodeI64Popcnt:
			unary(func() { f.BitPopulationCount(a) })

		case wasm.OpcodeI32Add:
			binop(true, func() { f.Add(a32, c32) })
		case wasm.OpcodeI32Sub:
			binop(false, func() { f.Subtract(a32, c32) })
		case wasm.OpcodeI32Mul:
			binop(true, func() { f.Multiply(a32, c32) })
		case wasm.OpcodeI32DivS:
			binop(false, func() { f.DivideSigned(a32, c32) })
		case wasm.OpcodeI32DivU:
			binop(false, func() { f.DivideUnsigned(a32, c32) })
		case wasm.OpcodeI32RemS:
			binop(false, func() { f.RemainderSigned(a32, c32) })
		case wasm.OpcodeI32RemU:
			binop(false, func() { f.RemainderUnsigned(a32, c32) })
		case wasm.OpcodeI32And:
			binop(true, func() { f.And(a32, c32) })
		case wasm.OpcodeI32Or:
			binop(true, func() { f.Or(a32, c32) })
		case wasm.OpcodeI32Xor:
			binop(true, func() { f.Xor(a32, c32) })
		case wasm.OpcodeI32Shl:
			binop(false, func() { f.ShiftLeft(a32, c32) })
		case wasm.OpcodeI32ShrS:
			binop(false, func() { f.ShiftRightSigned(a32, c32) })
		case wasm.OpcodeI32ShrU:
			binop(false, func() { f.ShiftRightUnsigned(a32, c32) })
		case wasm.OpcodeI32Rotl:
			binop(false, func() { f.RotateLeft(a32, c32) })
		case wasm.OpcodeI32Rotr:
			binop(false, func() { f.RotateRight(a32, c32) })

		case wasm.OpcodeI64Add:
			binop(true, func() { f.Add(a, c) })
		case wasm.OpcodeI64Sub:
			binop(false, func() { f.Subtract(a, c) })
		case wasm.OpcodeI64Mul:
			binop(true, func() { f.Multiply(a, c) })
		case wasm.OpcodeI64DivS:
			binop(false, func() { f.DivideSigned(a, c) })
		case wasm.OpcodeI64DivU:
			binop(false, func() { f.DivideUnsigned(a, c) })
		case wasm.OpcodeI64RemS:
			binop(false, func() { f.RemainderSigned(a, c) })
		case wasm.OpcodeI64RemU:
			binop(false, func() { f.RemainderUnsigned(a, c) })
		case wasm.OpcodeI64And:
			binop(true, func() { f.And(a, c) })
		case wasm.OpcodeI64Or:
			binop(true, func() { f.Or(a, c) })
		case wasm.OpcodeI64Xor:
			binop(true, func() { f.Xor(a, c) })
		case wasm.OpcodeI64Shl:
			binop(false, func() { f.ShiftLeft(a, c) })
		case wasm.OpcodeI64ShrS:
			binop(false, func() { f.ShiftRightSigned(a, c) })
		case wasm.OpcodeI64ShrU:
			binop(false, func() { f.ShiftRightUnsigned(a, c) })
		case wasm.OpcodeI64Rotl:
			binop(false, func() { f.RotateLeft(a, c) })
		case wasm.OpcodeI64Rotr:
			binop(false, func() { f.RotateRight(a, c) })

		case wasm.OpcodeI32WrapI64:
			unary(func() { f.ZeroExtend(a32) })
		case wasm.OpcodeI64ExtendI32S:
			unary(func() { f.SignExtend(a32) })
		case wasm.OpcodeI64ExtendI32U:
			unary(func() { f.ZeroExtend(a32) })

		default:
			return nil, unsupportedf("opcode 0x%02x", opcode)
		}
		if err != nil {
			return nil, err
		}
	}

	if r.Len() != 0 {
		return nil, validationErrorf("%d trailing bytes after function end", r.Len())
	}
	return f, nil
}
