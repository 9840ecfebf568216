package ir

// Func is the ordered operation sequence of one compiled function. The zero
// value is an empty sequence; operations are appended through the builder
// methods below. No validation is performed: the translator is trusted to
// produce well-formed sequences.
type Func struct {
	ops []Op
}

// NewFunc returns an empty operation sequence.
func NewFunc() *Func { return &Func{} }

// Code returns the operation sequence.
func (f *Func) Code() []Op { return f.ops }

// Append splices the other sequence onto the end of this one, leaving the
// other empty. Used to compose the synthetic initializer from
// constant-expression fragments.
func (f *Func) Append(other *Func) {
	f.ops = append(f.ops, other.ops...)
	other.ops = nil
}

func (f *Func) Label(l Label) { f.ops = append(f.ops, Op{Kind: OpLabel, Label: l}) }
func (f *Func) EnterFunction(nLocals uint32) {
	f.ops = append(f.ops, Op{Kind: OpEnterFunction, NLocals: nLocals})
}
func (f *Func) LeaveFunction() { f.ops = append(f.ops, Op{Kind: OpLeaveFunction}) }
func (f *Func) EnterBlock()    { f.ops = append(f.ops, Op{Kind: OpEnterBlock}) }
func (f *Func) LeaveBlock()    { f.ops = append(f.ops, Op{Kind: OpLeaveBlock}) }

func (f *Func) InitTablePreamble(offset Operand) {
	f.ops = append(f.ops, Op{Kind: OpInitTablePreamble, Dst: offset})
}

func (f *Func) InitTableElement(element Operand) {
	f.ops = append(f.ops, Op{Kind: OpInitTableElement, Dst: element})
}

func (f *Func) InitTablePostamble() {
	f.ops = append(f.ops, Op{Kind: OpInitTablePostamble})
}

func (f *Func) InitMemoryFromChunk(chunkIdx, chunkLen uint32, offset Operand) {
	f.ops = append(f.ops, Op{Kind: OpInitMemoryFromChunk, ChunkIdx: chunkIdx, ChunkLen: chunkLen, Dst: offset})
}

func (f *Func) Push(src Operand) { f.ops = append(f.ops, Op{Kind: OpPush, Dst: src}) }
func (f *Func) Pop(dest Operand) { f.ops = append(f.ops, Op{Kind: OpPop, Dst: dest}) }

func (f *Func) Move(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpMove, Dst: dest, Src: src})
}

func (f *Func) MoveIf(cond Cond, dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpMoveIf, Cond: cond, Dst: dest, Src: src})
}

func (f *Func) ZeroExtend(src Operand) { f.ops = append(f.ops, Op{Kind: OpZeroExtend, Dst: src}) }
func (f *Func) SignExtend(src Operand) { f.ops = append(f.ops, Op{Kind: OpSignExtend, Dst: src}) }

func (f *Func) Compare(a, b Operand) {
	f.ops = append(f.ops, Op{Kind: OpCompare, Dst: a, Src: b})
}

func (f *Func) SetIf(cond Cond, dest Operand) {
	f.ops = append(f.ops, Op{Kind: OpSetIf, Cond: cond, Dst: dest})
}

func (f *Func) Add(dest, src Operand) { f.ops = append(f.ops, Op{Kind: OpAdd, Dst: dest, Src: src}) }
func (f *Func) Subtract(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpSubtract, Dst: dest, Src: src})
}
func (f *Func) Multiply(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpMultiply, Dst: dest, Src: src})
}

func (f *Func) DivideUnsigned(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpDivideUnsigned, Dst: dest, Src: src})
}

func (f *Func) DivideSigned(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpDivideSigned, Dst: dest, Src: src})
}

func (f *Func) RemainderUnsigned(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpRemainderUnsigned, Dst: dest, Src: src})
}

func (f *Func) RemainderSigned(dest, src Operand) {
	f.ops = append(f.ops, Op{Kind: OpRemainderSigned, Dst: dest, Src: src})
}

func (f *Func) And(dest, src Operand) { f.ops = append(f.ops, Op{Kind: OpAnd, Dst: dest, Src: src}) }
func (f *Func) Or(dest, src Operand)  { f.ops = append(f.ops, Op{Kind: OpOr, Dst: dest, Src: src}) }
func (f *Func) Xor(dest, src Operand) { f.ops = append(f.ops, Op{Kind: OpXor, Dst: dest, Src: src}) }

func (f *Func) ShiftLeft(dest, cnt Operand) {
	f.ops = append(f.ops, Op{Kind: OpShiftLeft, Dst: dest, Src: cnt})
}

func (f *Func) ShiftRightUnsigned(dest, cnt Operand) {
	f.ops = append(f.ops, Op{Kind: OpShiftRightUnsigned, Dst: dest, Src: cnt})
}

func (f *Func) ShiftRightSigned(dest, cnt Operand) {
	f.ops = append(f.ops, Op{Kind: OpShiftRightSigned, Dst: dest, Src: cnt})
}

func (f *Func) RotateLeft(dest, cnt Operand) {
	f.ops = append(f.ops, Op{Kind: OpRotateLeft, Dst: dest, Src: cnt})
}

func (f *Func) RotateRight(dest, cnt Operand) {
	f.ops = append(f.ops, Op{Kind: OpRotateRight, Dst: dest, Src: cnt})
}

func (f *Func) LeadingZeroes(src Operand) { f.ops = append(f.ops, Op{Kind: OpLeadingZeroes, Dst: src}) }
func (f *Func) TrailingZeroes(src Operand) {
	f.ops = append(f.ops, Op{Kind: OpTrailingZeroes, Dst: src})
}

func (f *Func) BitPopulationCount(src Operand) {
	f.ops = append(f.ops, Op{Kind: OpBitPopulationCount, Dst: src})
}

func (f *Func) Jump(target Label) { f.ops = append(f.ops, Op{Kind: OpJump, Label: target}) }

func (f *Func) JumpIf(cond Cond, target Label) {
	f.ops = append(f.ops, Op{Kind: OpJumpIf, Cond: cond, Label: target})
}

func (f *Func) JumpTable(index Operand, targets []Label) {
	f.ops = append(f.ops, Op{Kind: OpJumpTable, Dst: index, Targets: targets})
}

func (f *Func) Call(target Label) { f.ops = append(f.ops, Op{Kind: OpCall, Label: target}) }

func (f *Func) MemoryGrow(pages Operand) { f.ops = append(f.ops, Op{Kind: OpMemoryGrow, Dst: pages}) }
func (f *Func) MemorySize(dest Operand)  { f.ops = append(f.ops, Op{Kind: OpMemorySize, Dst: dest}) }

func (f *Func) Return() { f.ops = append(f.ops, Op{Kind: OpReturn}) }
func (f *Func) Trap()   { f.ops = append(f.ops, Op{Kind: OpTrap}) }
