// Package ir defines the register-style intermediate representation the
// translator lowers WebAssembly into and the code generators consume. The IR
// follows a one-operand-stack model: every Wasm value lives in an 8-byte slot
// on the machine stack between operations, so three scratch registers are all
// any operation ever needs and no register allocation takes place.
package ir

// Reg names one of the scratch registers. The set is deliberately tiny; the
// generator maps them onto rax/rcx/rdx.
type Reg byte

const (
	A Reg = iota
	C
	D
)

// Cond is a comparison condition attached to conditional moves, jumps and
// flag materialization.
type Cond byte

const (
	Zero Cond = iota
	NotZero
	Equal
	NotEqual
	LessSigned
	LessUnsigned
	GreaterSigned
	GreaterUnsigned
	LessOrEqualSigned
	LessOrEqualUnsigned
	GreaterOrEqualSigned
	GreaterOrEqualUnsigned
)

// OperandKind discriminates Operand.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandReg8
	OperandReg16
	OperandReg32
	OperandMemory8
	OperandMemory16
	OperandMemory32
	OperandMemory64
	OperandImm32
	OperandImm64
	OperandLocal
	OperandGlobal
)

// Operand is one argument of an IR operation: a scratch register (full or
// size-narrowed view), a memory reference addressed off a scratch register, an
// immediate, a function-local slot, or a global slot. The type is a flat
// struct so it can be compared and used as part of a map key.
type Operand struct {
	Kind   OperandKind
	Reg    Reg
	Offset int32
	Imm    int64
	Index  uint32
}

// Reg64 returns the full-width view of a scratch register.
func Reg64(r Reg) Operand { return Operand{Kind: OperandReg, Reg: r} }

// Reg8 returns the low-byte view of a scratch register.
func Reg8(r Reg) Operand { return Operand{Kind: OperandReg8, Reg: r} }

// Reg16 returns the low-word view of a scratch register.
func Reg16(r Reg) Operand { return Operand{Kind: OperandReg16, Reg: r} }

// Reg32 returns the low-doubleword view of a scratch register.
func Reg32(r Reg) Operand { return Operand{Kind: OperandReg32, Reg: r} }

// Memory8 references one byte at addrReg+offset in the segment map.
func Memory8(offset int32, addrReg Reg) Operand {
	return Operand{Kind: OperandMemory8, Reg: addrReg, Offset: offset}
}

// Memory16 references two bytes at addrReg+offset in the segment map.
func Memory16(offset int32, addrReg Reg) Operand {
	return Operand{Kind: OperandMemory16, Reg: addrReg, Offset: offset}
}

// Memory32 references four bytes at addrReg+offset in the segment map.
func Memory32(offset int32, addrReg Reg) Operand {
	return Operand{Kind: OperandMemory32, Reg: addrReg, Offset: offset}
}

// Memory64 references eight bytes at addrReg+offset in the segment map.
func Memory64(offset int32, addrReg Reg) Operand {
	return Operand{Kind: OperandMemory64, Reg: addrReg, Offset: offset}
}

// Imm32 is a 32-bit immediate.
func Imm32(v int32) Operand { return Operand{Kind: OperandImm32, Imm: int64(v)} }

// Imm64 is a 64-bit immediate.
func Imm64(v int64) Operand { return Operand{Kind: OperandImm64, Imm: v} }

// Local references a function-local slot (parameters first, then declared
// locals).
func Local(index uint32) Operand { return Operand{Kind: OperandLocal, Index: index} }

// Global references a global slot in the segment map.
func Global(index uint32) Operand { return Operand{Kind: OperandGlobal, Index: index} }

// LabelKind discriminates Label.
type LabelKind byte

const (
	LabelNone LabelKind = iota
	LabelExportedFunc
	LabelAnonymousFunc
	LabelImportedFunc
	LabelBranchTarget
	LabelLocal
	LabelIndirect
)

// Label is a symbolic code location. Labels are values compared for equality;
// branch-target uniqueness is guaranteed by a monotonic block counter and
// local-label uniqueness by a monotonic per-module counter, both owned by the
// translator. The type is a flat comparable struct so it can key maps.
type Label struct {
	Kind      LabelKind
	FuncIndex uint32
	Name      string
	HostAddr  uintptr
	Block     uint64
	Local     uint32
	Table     uint32
	Selector  Operand
	Sig       Signature
}

// ExportedFunc labels the entry of a function exported under name.
func ExportedFunc(index uint32, name string) Label {
	return Label{Kind: LabelExportedFunc, FuncIndex: index, Name: name}
}

// AnonymousFunc labels the entry of a non-exported function.
func AnonymousFunc(index uint32) Label {
	return Label{Kind: LabelAnonymousFunc, FuncIndex: index}
}

// ImportedFunc labels a host function by its resolved raw address.
func ImportedFunc(index uint32, hostAddr uintptr) Label {
	return Label{Kind: LabelImportedFunc, FuncIndex: index, HostAddr: hostAddr}
}

// BranchTarget labels the jump destination of a structured block.
func BranchTarget(block uint64) Label {
	return Label{Kind: LabelBranchTarget, Block: block}
}

// LocalLabel labels a translator-synthesized short-range target.
func LocalLabel(id uint32) Label {
	return Label{Kind: LabelLocal, Local: id}
}

// Indirect labels a call through a table: the selector register and the
// callee signature travel with the label so the generator can build the
// right frame.
func Indirect(tableIndex uint32, selector Operand, sig Signature) Label {
	return Label{Kind: LabelIndirect, Table: tableIndex, Selector: selector, Sig: sig}
}

// Signature is a function signature collapsed to arities: every Wasm value is
// a 64-bit slot, so the generator only needs counts.
type Signature struct {
	Params  uint32
	Results uint32
}

// OpKind discriminates Op.
type OpKind byte

const (
	OpInvalid OpKind = iota
	OpLabel
	OpEnterFunction
	OpLeaveFunction
	OpEnterBlock
	OpLeaveBlock
	OpInitTablePreamble
	OpInitTableElement
	OpInitTablePostamble
	OpInitMemoryFromChunk
	OpPush
	OpPop
	OpMove
	OpMoveIf
	OpZeroExtend
	OpSignExtend
	OpCompare
	OpSetIf
	OpAdd
	OpSubtract
	OpMultiply
	OpDivideUnsigned
	OpDivideSigned
	OpRemainderUnsigned
	OpRemainderSigned
	OpAnd
	OpOr
	OpXor
	OpShiftLeft
	OpShiftRightUnsigned
	OpShiftRightSigned
	OpRotateLeft
	OpRotateRight
	OpLeadingZeroes
	OpTrailingZeroes
	OpBitPopulationCount
	OpJump
	OpJumpIf
	OpJumpTable
	OpCall
	OpMemoryGrow
	OpMemorySize
	OpReturn
	OpTrap
)

// Op is one IR operation. Dst/Src double as the single operand of unary
// operations (in Dst) and as (dest, src) of two-operand ones.
type Op struct {
	Kind     OpKind
	Dst      Operand
	Src      Operand
	Cond     Cond
	Label    Label
	Targets  []Label
	NLocals  uint32
	ChunkIdx uint32
	ChunkLen uint32
}
