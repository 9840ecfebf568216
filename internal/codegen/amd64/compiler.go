// Package amd64 lowers IR to x86-64 machine code under the System-V ABI.
// Machine instructions are encoded by hand: the relocation kinds this backend
// needs (absolute memory base, absolute function addresses patched at
// instantiation) have no equivalent in off-the-shelf assemblers.
package amd64

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/paritytech/pvf-executor/internal/codegen"
	"github.com/paritytech/pvf-executor/internal/ir"
)

// Register discipline: scratches A/C/D are rax/rcx/rdx and are clobberable
// across any operation. rbx holds the function frame base, rbp the current
// structured-block base, r15 the segment-map base, and r12 takes
// stack-alignment snapshots around calls; all four are callee-save and
// preserved by the function prologue/epilogue.
const (
	regAX = 0
	regCX = 1
	regDX = 2
	regBX = 3
	regSP = 4
	regBP = 5
	regSI = 6
	regDI = 7
	// High registers encode their low three bits here and set a REX bit.
	regR8  = 0
	regR9  = 1
	regR10 = 2
	regR11 = 3
	regR12 = 4
	regR15 = 7
)

const (
	rexB = 0x41
	rexR = 0x44
	rexW = 0x48
)

const (
	modRM     = 0x00
	modDisp8  = 0x40
	modDisp32 = 0x80
	modReg    = 0xc0
)

const (
	rmSIB    = 0x4
	rmRIPRel = 0x5
)

const (
	sib1 = 0x00
	sib8 = 0xc0
)

const (
	operSizeOvr = 0x66
	rep         = 0xf3
)

// System-V integer parameter registers, in order. The REX bit applies when
// the register lands in the reg field of a ModRM byte.
var abiParamRegs = [6]struct{ rex, reg byte }{
	{0, regDI}, {0, regSI}, {0, regDX}, {0, regCX}, {rexR, regR8}, {rexR, regR9},
}

func nativeReg(r ir.Reg) byte {
	switch r {
	case ir.A:
		return regAX
	case ir.C:
		return regCX
	case ir.D:
		return regDX
	}
	panic(fmt.Sprintf("unknown scratch register %d", r))
}

func nativeCond(cond ir.Cond) byte {
	switch cond {
	case ir.Zero, ir.Equal:
		return 0x04
	case ir.NotZero, ir.NotEqual:
		return 0x05
	case ir.LessSigned:
		return 0x0c
	case ir.LessUnsigned:
		return 0x02
	case ir.GreaterSigned:
		return 0x0f
	case ir.GreaterUnsigned:
		return 0x07
	case ir.LessOrEqualSigned:
		return 0x0e
	case ir.LessOrEqualUnsigned:
		return 0x06
	case ir.GreaterOrEqualSigned:
		return 0x0d
	case ir.GreaterOrEqualUnsigned:
		return 0x03
	}
	panic(fmt.Sprintf("unknown condition %d", cond))
}

type linkTarget struct {
	offset    int
	funcIndex uint32
}

type jmpTarget struct {
	offset int
	label  ir.Label
}

// Compiler is the x86-64 code generator. It keeps the call sites and
// absolute-address sites recorded during CompileFunc until Link resolves
// them against the final label positions.
type Compiler struct {
	callTargets   []linkTarget
	absOffTargets []linkTarget
}

// New returns a fresh code generator.
func New() *Compiler { return &Compiler{} }

// BuildOffsetMap implements codegen.CodeGenerator.
func (c *Compiler) BuildOffsetMap(tables []uint32, dataChunks [][]byte) codegen.OffsetMap {
	return codegen.BuildOffsetMap(tables, dataChunks)
}

// The disp8/disp32 split: offsets representable in a signed byte use the
// short ModRM form.
func emitWithOffset(e *codegen.Emitter, offset int32, modrm byte, prefix ...byte) {
	e.Emit(prefix...)
	if offset < -128 || offset > 127 {
		e.Emit(modDisp32 | modrm)
		e.EmitImm32(offset)
	} else {
		e.Emit(modDisp8|modrm, byte(offset))
	}
}

func emitWithOffsetSIB(e *codegen.Emitter, offset int32, modrm, sib byte, prefix ...byte) {
	e.Emit(prefix...)
	if offset < -128 || offset > 127 {
		e.Emit(modDisp32|modrm, sib)
		e.EmitImm32(offset)
	} else {
		e.Emit(modDisp8|modrm, sib, byte(offset))
	}
}

func emitMaybeRexW(e *codegen.Emitter, wide bool, bytes ...byte) {
	if wide {
		e.Emit(rexW)
	}
	e.Emit(bytes...)
}

// CompileFunc implements codegen.CodeGenerator.
func (c *Compiler) CompileFunc(e *codegen.Emitter, index uint32, body *ir.Func, signatures []*ir.Signature, m *codegen.OffsetMap) {
	selfSig := signatures[index]
	if selfSig == nil {
		panic(fmt.Sprintf("no signature for function %d", index))
	}

	funcStart := e.PC()
	var jmpTargets []jmpTarget

	for i := range body.Code() {
		insn := &body.Code()[i]
		switch insn.Kind {
		case ir.OpLabel:
			e.Label(insn.Label)

		case ir.OpEnterFunction:
			e.Emit(rexB, 0x50|regR12) // push r12
			e.Emit(rexB, 0x50|regR15) // push r15

			e.Emit(rexW|rexB, 0xb8|regR15) // movabs r15, membase
			e.Reloc(codegen.RelocMemoryAbsolute64, ir.Label{})
			e.EmitImm64(0)

			e.Emit(0x50 | regBX) // push rbx
			e.Emit(0x50 | regBP) // push rbp

			e.Emit(rexW, 0x89, modReg|regSP<<3|regBX) // mov rbx, rsp
			e.Emit(rexW, 0x89, modReg|regSP<<3|regBP) // mov rbp, rsp

			nParams := selfSig.Params
			nTotal := insn.NLocals + nParams

			if nTotal > 0 {
				nRegParams := nParams
				if nRegParams > uint32(len(abiParamRegs)) {
					nRegParams = uint32(len(abiParamRegs))
				}
				nStackParams := int32(0)
				if nParams > uint32(len(abiParamRegs)) {
					nStackParams = int32(nParams) - int32(len(abiParamRegs))
				}

				for i := uint32(0); i < nRegParams; i++ {
					if abiParamRegs[i].rex > 0 {
						e.Emit(rexB)
					}
					e.Emit(0x50 | abiParamRegs[i].reg) // push <abi_reg>
				}

				if nStackParams > 0 {
					// Between the last on-stack argument and the frame base
					// sit the return address and the four saved registers.
					callerFrameOff := int32(5 * 8)
					for i := int32(0); i < nStackParams; i++ {
						emitWithOffset(e, callerFrameOff, regAX<<3|regBX, rexW, 0x8b) // mov rax, [rbx+off]
						e.Emit(0x50 | regAX)                                          // push rax
						callerFrameOff += 8
					}
				}

				if insn.NLocals > 0 {
					// Locals are guaranteed to start out zeroed.
					e.Emit(0x31, modReg|regAX<<3|regAX) // xor eax, eax
					for i := uint32(0); i < insn.NLocals; i++ {
						e.Emit(0x50 | regAX) // push rax
					}
				}
			}

		case ir.OpLeaveFunction:
			e.Emit(rexW, 0x89, modReg|regBX<<3|regSP) // mov rsp, rbx
			e.Emit(0x58 | regBP)                      // pop rbp
			e.Emit(0x58 | regBX)                      // pop rbx
			e.Emit(rexB, 0x58|regR15)                 // pop r15
			e.Emit(rexB, 0x58|regR12)                 // pop r12

		case ir.OpEnterBlock:
			e.Emit(0x50 | regBP)                      // push rbp
			e.Emit(rexW, 0x89, modReg|regSP<<3|regBP) // mov rbp, rsp

		case ir.OpLeaveBlock:
			e.Emit(rexW, 0x89, modReg|regBP<<3|regSP) // mov rsp, rbp
			e.Emit(0x58 | regBP)                      // pop rbp

		case ir.OpPush:
			if insn.Dst.Kind != ir.OperandReg {
				panic(fmt.Sprintf("push of non-register operand %v", insn.Dst))
			}
			e.Emit(0x50 | nativeReg(insn.Dst.Reg)) // push <reg>

		case ir.OpPop:
			if insn.Dst.Kind != ir.OperandReg {
				panic(fmt.Sprintf("pop into non-register operand %v", insn.Dst))
			}
			e.Emit(0x58 | nativeReg(insn.Dst.Reg)) // pop <reg>

		case ir.OpMove:
			c.move(e, insn, m)

		case ir.OpMoveIf:
			dst, src := insn.Dst, insn.Src
			if (dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg) ||
				(dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandReg32) {
				// cmovcc <rdest>, <rsrc>
				emitMaybeRexW(e, dst.Kind == ir.OperandReg,
					0x0f, 0x40|nativeCond(insn.Cond), modReg|nativeReg(dst.Reg)<<3|nativeReg(src.Reg))
			} else {
				panic(fmt.Sprintf("conditional move %v <- %v", dst, src))
			}

		case ir.OpZeroExtend:
			switch src := insn.Dst; src.Kind {
			case ir.OperandReg8:
				e.Emit(0x0f, 0xb6, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // movzx <r32>, <r8>
			case ir.OperandReg16:
				e.Emit(0x0f, 0xb7, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // movzx <r32>, <r16>
			case ir.OperandReg32:
				e.Emit(0x89, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // mov <r32>, <r32> ; zero-extends to 64 bits
			default:
				panic(fmt.Sprintf("zero extend of %v", src))
			}

		case ir.OpSignExtend:
			switch src := insn.Dst; src.Kind {
			case ir.OperandReg8:
				e.Emit(rexW, 0x0f, 0xbe, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // movsx <r64>, <r8>
			case ir.OperandReg16:
				e.Emit(rexW, 0x0f, 0xbf, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // movsx <r64>, <r16>
			case ir.OperandReg32:
				e.Emit(rexW, 0x63, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg)) // movsxd <r64>, <r32>
			default:
				panic(fmt.Sprintf("sign extend of %v", src))
			}

		case ir.OpAdd:
			c.simpleALU(e, insn, 0x01)
		case ir.OpSubtract:
			c.simpleALU(e, insn, 0x29)
		case ir.OpAnd:
			c.simpleALU(e, insn, 0x21)
		case ir.OpOr:
			c.simpleALU(e, insn, 0x09)
		case ir.OpXor:
			c.simpleALU(e, insn, 0x31)

		case ir.OpMultiply:
			c.multiply(e, insn)

		case ir.OpDivideUnsigned, ir.OpDivideSigned, ir.OpRemainderUnsigned, ir.OpRemainderSigned:
			c.divide(e, insn)

		case ir.OpCompare:
			dst, src := insn.Dst, insn.Src
			if (dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg) ||
				(dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandReg32) {
				// cmp <a>, <b>
				emitMaybeRexW(e, dst.Kind == ir.OperandReg,
					0x39, modReg|nativeReg(src.Reg)<<3|nativeReg(dst.Reg))
			} else {
				panic(fmt.Sprintf("compare %v, %v", dst, src))
			}

		case ir.OpSetIf:
			switch dst := insn.Dst; dst.Kind {
			case ir.OperandReg, ir.OperandReg32:
				e.Emit(0x0f, 0x90|nativeCond(insn.Cond), modReg|nativeReg(dst.Reg)) // setcc <r8>
				e.Emit(0x0f, 0xb6, modReg|nativeReg(dst.Reg)<<3|nativeReg(dst.Reg)) // movzx <r32>, <r8>
			default:
				panic(fmt.Sprintf("setcc into %v", dst))
			}

		case ir.OpShiftLeft, ir.OpShiftRightUnsigned, ir.OpShiftRightSigned, ir.OpRotateLeft, ir.OpRotateRight:
			c.shift(e, insn)

		case ir.OpLeadingZeroes:
			c.bitcount(e, insn.Dst, 0xbd) // lzcnt (encoded as rep bsr)
		case ir.OpTrailingZeroes:
			c.bitcount(e, insn.Dst, 0xbc) // tzcnt (encoded as rep bsf)
		case ir.OpBitPopulationCount:
			c.bitcount(e, insn.Dst, 0xb8) // popcnt

		case ir.OpJump:
			e.Emit(0xe9) // jmp near rel32, no address just yet
			jmpTargets = append(jmpTargets, jmpTarget{e.PC(), insn.Label})
			e.EmitImm32(0)

		case ir.OpJumpIf:
			e.Emit(0x0f, 0x80|nativeCond(insn.Cond)) // jcc near rel32, no address just yet
			jmpTargets = append(jmpTargets, jmpTarget{e.PC(), insn.Label})
			e.EmitImm32(0)

		case ir.OpJumpTable:
			index := insn.Dst
			if index.Kind != ir.OperandReg32 {
				panic(fmt.Sprintf("jump table index %v", index))
			}
			// The selector register must not be scratch A: the block result,
			// if any, is already held there.
			//
			// BEWARE: rip-relative addressing with a hardcoded offset.
			e.Emit(rexW, 0x8d, modRM|regDI<<3|rmRIPRel, 0x08, 0x00, 0x00, 0x00) // lea rdi, [rip+8]
			e.Emit(0xc1, modReg|0x4<<3|nativeReg(index.Reg), 0x03)              // shl <ridx32>, 3
			e.Emit(rexW, 0x01, modReg|nativeReg(index.Reg)<<3|regDI)            // add rdi, <ridx>
			e.Emit(0xff, modRM|0x4<<3|regDI)                                    // jmp [rdi]
			for _, target := range insn.Targets {
				e.Reloc(codegen.RelocLabelAbsoluteAddress, target)
				e.EmitImm64(0)
			}

		case ir.OpCall:
			c.call(e, insn, signatures, m)

		case ir.OpReturn:
			e.Emit(0xc3) // ret near

		case ir.OpTrap:
			e.Emit(0x0f, 0x0b) // ud2

		case ir.OpInitTablePreamble:
			offset := insn.Dst
			if offset.Kind != ir.OperandReg {
				panic(fmt.Sprintf("table preamble offset %v", offset))
			}
			// lea rdi, [r15 + <roffset>*8 + <table_base>]
			e.Emit(rexW|rexB, 0x8d, modDisp32|regDI<<3|rmSIB, sib8|nativeReg(offset.Reg)<<3|regR15)
			e.EmitImm32(m.Table(0))
			e.Emit(0xfc) // cld

		case ir.OpInitTableElement:
			element := insn.Dst
			if element.Kind != ir.OperandImm32 {
				panic(fmt.Sprintf("table element %v", element))
			}
			e.Emit(rexW, 0xb8|regAX) // movabs rax, <func address>
			c.absOffTargets = append(c.absOffTargets, linkTarget{e.PC(), uint32(element.Imm)})
			e.Reloc(codegen.RelocFunctionAbsoluteAddress, ir.Label{})
			e.EmitImm64(0)
			e.Emit(rexW, 0xab) // stosq

		case ir.OpInitTablePostamble:
			// Reserved.

		case ir.OpInitMemoryFromChunk:
			offset := insn.Dst
			if offset.Kind != ir.OperandReg {
				panic(fmt.Sprintf("memory init offset %v", offset))
			}
			// lea rdi, [r15 + <roffset>*1]
			e.Emit(rexW|rexB, 0x8d, modRM|regDI<<3|rmSIB, sib1|nativeReg(offset.Reg)<<3|regR15)
			// lea rsi, [r15 + <chunk_offset>]
			e.Emit(rexW|rexB, 0x8d, modDisp32|regSI<<3|regR15)
			e.EmitImm32(m.DataChunk(insn.ChunkIdx))
			e.Emit(0xb8 | regCX) // mov ecx, <len>
			e.EmitImm32(int32(insn.ChunkLen))
			e.Emit(0xfc)       // cld
			e.Emit(0xf3, 0xa4) // rep movsb

		case ir.OpMemoryGrow:
			pages := insn.Dst
			if pages.Kind != ir.OperandReg32 {
				panic(fmt.Sprintf("memory grow pages %v", pages))
			}
			e.Emit(rexW|rexB, 0x8b, modDisp32|regSI<<3|regR15) // mov rsi, [r15+<alloc>]
			e.EmitImm32(m.VMData() + codegen.VMDataMemAlloc)
			e.Emit(rexW, 0x89, modReg|regSI<<3|regDI)                // mov rdi, rsi ; old size is the result
			e.Emit(rexW, 0x01, modReg|nativeReg(pages.Reg)<<3|regSI) // add rsi, <rpages>
			e.Emit(rexW|rexB, 0x3b, modDisp32|regSI<<3|regR15)       // cmp rsi, [r15+<total>]
			e.EmitImm32(m.VMData() + codegen.VMDataMemTotal)
			e.Emit(0x77, 0x09)                                 // ja fail
			e.Emit(rexW|rexB, 0x89, modDisp32|regSI<<3|regR15) // mov [r15+<alloc>], rsi
			e.EmitImm32(m.VMData() + codegen.VMDataMemAlloc)
			e.Emit(0xeb, 0x05) // jmp end
			// fail:
			e.Emit(0xb8|regDI, 0xff, 0xff, 0xff, 0xff) // mov edi, -1
			// end:
			e.Emit(0x89, modReg|regDI<<3|nativeReg(pages.Reg)) // mov <rpages32>, edi

		case ir.OpMemorySize:
			dst := insn.Dst
			if dst.Kind != ir.OperandReg32 {
				panic(fmt.Sprintf("memory size destination %v", dst))
			}
			e.Emit(rexW|rexB, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|regR15) // mov <rdest>, [r15+<alloc>]
			e.EmitImm32(m.VMData() + codegen.VMDataMemAlloc)

		default:
			panic(fmt.Sprintf("unknown IR operation %d", insn.Kind))
		}
	}

	for _, t := range jmpTargets {
		labelPC, ok := e.LabelPosition(t.label)
		if !ok {
			panic(fmt.Sprintf("unresolved label: %+v", t.label))
		}
		insnPC := t.offset + 4
		e.Patch32(t.offset, int32(labelPC-insnPC))
	}

	logrus.WithFields(logrus.Fields{"func": index, "offset": funcStart, "len": e.PC() - funcStart}).
		Trace("compiled function")
}

func (c *Compiler) move(e *codegen.Emitter, insn *ir.Op, m *codegen.OffsetMap) {
	dst, src := insn.Dst, insn.Src
	switch {
	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg:
		e.Emit(rexW, 0x89, modReg|nativeReg(src.Reg)<<3|nativeReg(dst.Reg)) // mov <dreg>, <sreg>

	case (dst.Kind == ir.OperandReg || dst.Kind == ir.OperandReg32) && src.Kind == ir.OperandImm32:
		e.Emit(0xb8 | nativeReg(dst.Reg)) // mov <dreg32>, <imm32>
		e.EmitImm32(int32(src.Imm))

	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandImm64:
		if src.Imm > 0 && src.Imm < int64(^uint32(0)) {
			e.Emit(0xb8 | nativeReg(dst.Reg)) // mov <dreg32>, <imm32> ; zero-extends
			e.EmitImm32(int32(src.Imm))
		} else {
			e.Emit(rexW, 0xb8|nativeReg(dst.Reg)) // movabs <dreg>, <imm64>
			e.EmitImm64(src.Imm)
		}

	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandLocal:
		// mov <dreg>, [rbx - local_off]
		if src.Index < 15 {
			e.Emit(rexW, 0x8b, modDisp8|nativeReg(dst.Reg)<<3|regBX, byte(-(int8(src.Index)+1)*8))
		} else {
			e.Emit(rexW, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|regBX)
			e.EmitImm32(-(int32(src.Index) + 1) * 8)
		}

	case dst.Kind == ir.OperandLocal && src.Kind == ir.OperandReg:
		// mov [rbx - local_off], <sreg>
		if dst.Index < 15 {
			e.Emit(rexW, 0x89, modDisp8|nativeReg(src.Reg)<<3|regBX, byte(-(int8(dst.Index)+1)*8))
		} else {
			e.Emit(rexW, 0x89, modDisp32|nativeReg(src.Reg)<<3|regBX)
			e.EmitImm32(-(int32(dst.Index) + 1) * 8)
		}

	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandGlobal:
		e.Emit(rexW|rexB, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|regR15) // mov <dreg>, [r15+<offset>]
		e.EmitImm32(m.Globals() + int32(src.Index)*8)

	case dst.Kind == ir.OperandGlobal && src.Kind == ir.OperandReg:
		e.Emit(rexW|rexB, 0x89, modDisp32|nativeReg(src.Reg)<<3|regR15) // mov [r15+<offset>], <sreg>
		e.EmitImm32(m.Globals() + int32(dst.Index)*8)

	case dst.Kind == ir.OperandMemory8 && src.Kind == ir.OperandReg8:
		e.Emit(rexB, 0x88, modDisp32|nativeReg(src.Reg)<<3|rmSIB, sib1|nativeReg(dst.Reg)<<3|regR15) // mov [r15+<raddr>+off], <r8>
		e.EmitImm32(dst.Offset)

	case dst.Kind == ir.OperandMemory16 && src.Kind == ir.OperandReg16:
		e.Emit(operSizeOvr, rexB, 0x89, modDisp32|nativeReg(src.Reg)<<3|rmSIB, sib1|nativeReg(dst.Reg)<<3|regR15) // mov [r15+<raddr>+off], <r16>
		e.EmitImm32(dst.Offset)

	case dst.Kind == ir.OperandMemory32 && src.Kind == ir.OperandReg32:
		e.Emit(rexB, 0x89, modDisp32|nativeReg(src.Reg)<<3|rmSIB, sib1|nativeReg(dst.Reg)<<3|regR15) // mov [r15+<raddr>+off], <r32>
		e.EmitImm32(dst.Offset)

	case dst.Kind == ir.OperandMemory64 && src.Kind == ir.OperandReg:
		e.Emit(rexW|rexB, 0x89, modDisp32|nativeReg(src.Reg)<<3|rmSIB, sib1|nativeReg(dst.Reg)<<3|regR15) // mov [r15+<raddr>+off], <r64>
		e.EmitImm32(dst.Offset)

	case dst.Kind == ir.OperandReg8 && src.Kind == ir.OperandMemory8:
		e.Emit(rexB, 0x8a, modDisp32|nativeReg(dst.Reg)<<3|rmSIB, sib1|nativeReg(src.Reg)<<3|regR15) // mov <r8>, [r15+<raddr>+off]
		e.EmitImm32(src.Offset)

	case dst.Kind == ir.OperandReg16 && src.Kind == ir.OperandMemory16:
		e.Emit(operSizeOvr, rexB, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|rmSIB, sib1|nativeReg(src.Reg)<<3|regR15) // mov <r16>, [r15+<raddr>+off]
		e.EmitImm32(src.Offset)

	case dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandMemory32:
		e.Emit(rexB, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|rmSIB, sib1|nativeReg(src.Reg)<<3|regR15) // mov <r32>, [r15+<raddr>+off]
		e.EmitImm32(src.Offset)

	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandMemory64:
		e.Emit(rexW|rexB, 0x8b, modDisp32|nativeReg(dst.Reg)<<3|rmSIB, sib1|nativeReg(src.Reg)<<3|regR15) // mov <r64>, [r15+<raddr>+off]
		e.EmitImm32(src.Offset)

	default:
		panic(fmt.Sprintf("move %v <- %v", dst, src))
	}
}

func (c *Compiler) simpleALU(e *codegen.Emitter, insn *ir.Op, opcode byte) {
	dst, src := insn.Dst, insn.Src
	switch {
	case dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandReg32:
		e.Emit(opcode, modReg|nativeReg(src.Reg)<<3|nativeReg(dst.Reg))
	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg:
		e.Emit(rexW, opcode, modReg|nativeReg(src.Reg)<<3|nativeReg(dst.Reg))
	default:
		panic(fmt.Sprintf("alu op %#x %v, %v", opcode, dst, src))
	}
}

func (c *Compiler) multiply(e *codegen.Emitter, insn *ir.Op) {
	dst, src := insn.Dst, insn.Src
	var is64 bool
	switch {
	case dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandReg32:
	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg:
		is64 = true
	default:
		panic(fmt.Sprintf("multiply %v, %v", dst, src))
	}
	// The single-operand imul wants the multiplicand in rax.
	if nativeReg(dst.Reg) != regAX {
		if nativeReg(src.Reg) == regAX {
			emitMaybeRexW(e, is64, 0x90|nativeReg(dst.Reg)) // xchg rax, <rdest>
		} else {
			emitMaybeRexW(e, is64, 0x89, modReg|nativeReg(dst.Reg)<<3|regAX) // mov rax, <rdest>
		}
	}
	emitMaybeRexW(e, is64, 0xf7, modReg|0x5<<3|nativeReg(src.Reg)) // imul <rsrc>
}

func (c *Compiler) divide(e *codegen.Emitter, insn *ir.Op) {
	dst, src := insn.Dst, insn.Src
	var is64 bool
	switch {
	case dst.Kind == ir.OperandReg32 && src.Kind == ir.OperandReg32:
	case dst.Kind == ir.OperandReg && src.Kind == ir.OperandReg:
		is64 = true
	default:
		panic(fmt.Sprintf("divide %v, %v", dst, src))
	}
	// Permute so that the dividend ends in rax and the divisor in rcx.
	switch [2]byte{nativeReg(dst.Reg), nativeReg(src.Reg)} {
	case [2]byte{regAX, regCX}:
	case [2]byte{regCX, regAX}:
		emitMaybeRexW(e, is64, 0x90|regCX) // xchg rax, rcx
	case [2]byte{regAX, regDX}:
		emitMaybeRexW(e, is64, 0x89, modReg|regDX<<3|regCX) // mov rcx, rdx
	case [2]byte{regDX, regAX}:
		emitMaybeRexW(e, is64, 0x89, modReg|regAX<<3|regCX) // mov rcx, rax
		emitMaybeRexW(e, is64, 0x89, modReg|regDX<<3|regAX) // mov rax, rdx
	case [2]byte{regCX, regDX}:
		emitMaybeRexW(e, is64, 0x89, modReg|regCX<<3|regAX) // mov rax, rcx
		emitMaybeRexW(e, is64, 0x89, modReg|regDX<<3|regCX) // mov rcx, rdx
	case [2]byte{regDX, regCX}:
		emitMaybeRexW(e, is64, 0x89, modReg|regDX<<3|regAX) // mov rax, rdx
	default:
		panic("divide operands alias")
	}
	switch insn.Kind {
	case ir.OpDivideSigned, ir.OpRemainderSigned:
		emitMaybeRexW(e, is64, 0x99)                      // cdq / cqo
		emitMaybeRexW(e, is64, 0xf7, modReg|0x7<<3|regCX) // idiv rcx
	default:
		e.Emit(0x31, modReg|regDX<<3|regDX)               // xor edx, edx
		emitMaybeRexW(e, is64, 0xf7, modReg|0x6<<3|regCX) // div rcx
	}
	if insn.Kind == ir.OpRemainderUnsigned || insn.Kind == ir.OpRemainderSigned {
		emitMaybeRexW(e, is64, 0x89, modReg|regDX<<3|regAX) // mov rax, rdx
	}
}

func (c *Compiler) shift(e *codegen.Emitter, insn *ir.Op) {
	dst, cnt := insn.Dst, insn.Src
	var is64 bool
	switch {
	case dst.Kind == ir.OperandReg32 && cnt.Kind == ir.OperandReg32:
	case dst.Kind == ir.OperandReg && cnt.Kind == ir.OperandReg:
		is64 = true
	default:
		panic(fmt.Sprintf("shift %v by %v", dst, cnt))
	}
	// The count operand always goes through rcx; spill the destination when
	// it collides.
	var nrDest byte
	switch {
	case nativeReg(cnt.Reg) == regCX:
		nrDest = nativeReg(dst.Reg)
	case nativeReg(dst.Reg) == regCX:
		emitMaybeRexW(e, is64, 0x87, modReg|nativeReg(dst.Reg)<<3|nativeReg(cnt.Reg)) // xchg <rdest>, <rcnt>
		nrDest = nativeReg(cnt.Reg)
	default:
		emitMaybeRexW(e, is64, 0x89, modReg|nativeReg(cnt.Reg)<<3|regCX) // mov rcx, <rcnt>
		nrDest = nativeReg(dst.Reg)
	}
	var ext byte
	switch insn.Kind {
	case ir.OpShiftLeft:
		ext = 0x4
	case ir.OpShiftRightUnsigned:
		ext = 0x5
	case ir.OpShiftRightSigned:
		ext = 0x7
	case ir.OpRotateLeft:
		ext = 0x0
	case ir.OpRotateRight:
		ext = 0x1
	}
	// The count is not masked here: the CPU reduces it mod the operand
	// width, which is exactly the Wasm semantic.
	emitMaybeRexW(e, is64, 0xd3, modReg|ext<<3|nrDest) // shl/shr/sar/rol/ror <rdest>, cl
}

func (c *Compiler) bitcount(e *codegen.Emitter, src ir.Operand, opcode byte) {
	switch src.Kind {
	case ir.OperandReg32:
		e.Emit(rep, 0x0f, opcode, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg))
	case ir.OperandReg:
		e.Emit(rep)
		e.Emit(rexW, 0x0f, opcode, modReg|nativeReg(src.Reg)<<3|nativeReg(src.Reg))
	default:
		panic(fmt.Sprintf("bit count of %v", src))
	}
}

func (c *Compiler) call(e *codegen.Emitter, insn *ir.Op, signatures []*ir.Signature, m *codegen.OffsetMap) {
	label := insn.Label
	var sig *ir.Signature
	funcIndex := int64(-1)

	switch label.Kind {
	case ir.LabelAnonymousFunc, ir.LabelExportedFunc, ir.LabelImportedFunc:
		sig = signatures[label.FuncIndex]
		if sig == nil {
			panic(fmt.Sprintf("no signature for call target %d", label.FuncIndex))
		}
		funcIndex = int64(label.FuncIndex)
	case ir.LabelIndirect:
		sel := label.Selector
		if sel.Kind != ir.OperandReg32 {
			panic(fmt.Sprintf("indirect call selector %v", sel))
		}
		// The bridge below clobbers every scratch; park the selector in the
		// transient VM data first.
		e.Emit(rexW|rexB, 0x89, modDisp32|nativeReg(sel.Reg)<<3|regR15) // mov [r15+<tmp>], <rsel>
		e.EmitImm32(m.VMData() + codegen.VMDataTmp0)
		s := label.Sig
		sig = &s
	default:
		panic(fmt.Sprintf("call through label %+v", label))
	}

	nParams := int32(sig.Params)
	nStackParams := nParams - int32(len(abiParamRegs))
	if nStackParams < 0 {
		nStackParams = 0
	}

	if nParams > 0 {
		// Copy the top operand slots into the parameter registers.
		spOff := 8 * (nParams - 1)
		nRegParams := nParams
		if nRegParams > int32(len(abiParamRegs)) {
			nRegParams = int32(len(abiParamRegs))
		}
		for i := int32(0); i < nRegParams; i++ {
			// mov <abi_reg>, [rsp + sp_off]
			emitWithOffsetSIB(e, spOff, abiParamRegs[i].reg<<3|regSP, sib1|regSP<<3|regSP,
				rexW|abiParamRegs[i].rex, 0x8b)
			spOff -= 8
		}
		if nStackParams > 0 {
			e.Emit(rexW, 0x89, modReg|regSP<<3|regAX)     // mov rax, rsp
			e.Emit(rexW, 0x83, modReg|0x0<<3|regAX, 0x20) // add rax, 0x20 ; register-slot bump minus two
			e.Emit(rexW, 0x83, modReg|0x4<<3|regAX, 0xf0) // and rax, -16 ; ABI frame alignment
			// rax now points to the aligned bottom of the ABI frame while rsp
			// still points to the bottom of the overlapping Wasm frame. The
			// current rsp and rbp go into the slots freed up by the register
			// arguments so the whole frame can be dropped after the call.
			emitWithOffset(e, nStackParams*8, regSP<<3|regAX, rexW, 0x89)     // mov [rax+stored_sp], rsp
			emitWithOffset(e, (nStackParams+1)*8, regBP<<3|regAX, rexW, 0x89) // mov [rax+stored_bp], rbp
			e.Emit(rexW, 0x89, modReg|regAX<<3|regBP)                         // mov rbp, rax
			e.Emit(rexW|rexB, 0x89, modReg|regBP<<3|regR11)                   // mov r11, rbp
			frameOff := (nStackParams - 1) * 8
			if frameOff > 127 {
				e.Emit(rexW|rexB, 0x81, modReg|0x0<<3|regR11) // add r11, (nsp-1)*8
				e.EmitImm32(frameOff)
			} else {
				e.Emit(rexW|rexB, 0x83, modReg|0x0<<3|regR11, byte(frameOff))
			}
			// The copy loop walks r11 down from the top of the ABI frame
			// while the middle region swaps through rax/r10 to preserve
			// order where the two frames overlap.
			// l1:
			e.Emit(0x58 | regAX)                                // pop rax
			e.Emit(rexW|rexB, 0x89, modRM|regAX<<3|regR11)      // mov [r11], rax
			e.Emit(rexW|rexB, 0x83, modReg|0x5<<3|regR11, 0x08) // sub r11, 8
			e.Emit(rexW|rexB, 0x39, modReg|regBP<<3|regR11)     // cmp r11, rbp
			e.Emit(rexW, 0x0f, 0x42, modReg|regSP<<3|regBP)     // cmovb rsp, rbp
			e.Emit(0x72, 0x20)                                  // jb l3
			e.Emit(rexW, 0x39, modReg|regSP<<3|regBP)           // cmp rbp, rsp
			e.Emit(0x75, 0xea)                                  // jne l1
			// l2:
			e.Emit(rexW, 0x8b, modDisp8|regAX<<3|regBP, 0x00)       // mov rax, [rbp+0]
			e.Emit(rexW|rexR|rexB, 0x8b, modRM|regR10<<3|regR11)    // mov r10, [r11]
			e.Emit(rexW|rexB, 0x89, modRM|regAX<<3|regR11)          // mov [r11], rax
			e.Emit(rexW|rexR, 0x89, modDisp8|regR10<<3|regBP, 0x00) // mov [rbp+0], r10
			e.Emit(rexW|rexB, 0x83, modReg|0x5<<3|regR11, 0x08)     // sub r11, 8
			e.Emit(rexW, 0x83, modReg|0x0<<3|regBP, 0x08)           // add rbp, 8
			e.Emit(rexW|rexB, 0x39, modReg|regBP<<3|regR11)         // cmp r11, rbp
			e.Emit(0x73, 0xe5)                                      // jae l2
			// l3:
		} else {
			// No stack parameters, but alignment is still required.
			e.Emit(rexW|rexB, 0x89, modReg|regSP<<3|regR12) // mov r12, rsp
			e.Emit(rexW, 0x83, modReg|0x4<<3|regSP, 0xf0)   // and rsp, -16
		}
	} else {
		// No parameters, but alignment is still required.
		e.Emit(rexW|rexB, 0x89, modReg|regSP<<3|regR12) // mov r12, rsp
		e.Emit(rexW, 0x83, modReg|0x4<<3|regSP, 0xf0)   // and rsp, -16
	}

	switch label.Kind {
	case ir.LabelAnonymousFunc, ir.LabelExportedFunc:
		e.Emit(0xe8) // call near, no address yet
		c.callTargets = append(c.callTargets, linkTarget{e.PC(), uint32(funcIndex)})
		e.EmitImm32(0)
	case ir.LabelImportedFunc:
		e.Emit(rexW, 0xb8|regAX) // movabs rax, <host address>
		e.EmitImm64(int64(label.HostAddr))
		e.Emit(0xff, modReg|0x2<<3|regAX) // call rax
	case ir.LabelIndirect:
		e.Emit(rexW|rexB, 0x8b, modDisp32|regAX<<3|regR15) // mov rax, [r15+<tmp>]
		e.EmitImm32(m.VMData() + codegen.VMDataTmp0)
		e.Emit(rexW|rexB, 0x8b, modDisp32|regAX<<3|rmSIB, sib8|regAX<<3|regR15) // mov rax, [r15+rax*8+<table>]
		e.EmitImm32(m.Table(label.Table))
		e.Emit(0xff, modReg|0x2<<3|regAX) // call rax
	}

	if nParams > 0 {
		if nStackParams > 0 {
			// rsp points to the bottom of the ABI frame; the stored rsp and
			// rbp sit at known offsets above it.
			emitWithOffsetSIB(e, (nStackParams+1)*8, regBP<<3|regSP, sib1|regSP<<3|regSP, rexW, 0x8b) // mov rbp, [rsp+stored_bp]
			emitWithOffsetSIB(e, nStackParams*8, regSP<<3|regSP, sib1|regSP<<3|regSP, rexW, 0x8b)     // mov rsp, [rsp+stored_sp]
		} else {
			e.Emit(rexW|rexR, 0x89, modReg|regR12<<3|regSP) // mov rsp, r12
		}
		if dropBytes := nParams * 8; dropBytes > 127 {
			e.Emit(rexW, 0x81, modReg|0x0<<3|regSP) // add rsp, n_params*8 ; drop the Wasm arguments
			e.EmitImm32(dropBytes)
		} else {
			e.Emit(rexW, 0x83, modReg|0x0<<3|regSP, byte(dropBytes))
		}
	} else {
		e.Emit(rexW|rexR, 0x89, modReg|regR12<<3|regSP) // mov rsp, r12
	}
	if sig.Results > 0 {
		e.Emit(0x50 | regAX) // push rax
	}
}

// Link implements codegen.CodeGenerator: it resolves every recorded call
// site to its function offset and seeds the absolute-address sites with
// code-relative offsets for instantiation to rebase.
func (c *Compiler) Link(e *codegen.Emitter) {
	funcOffsets := map[uint32]int{}
	for label, offset := range e.Labels() {
		switch label.Kind {
		case ir.LabelExportedFunc, ir.LabelAnonymousFunc:
			funcOffsets[label.FuncIndex] = offset
		}
	}
	for _, target := range c.callTargets {
		funcAddress, ok := funcOffsets[target.funcIndex]
		if !ok {
			panic(fmt.Sprintf("unresolved function index: %d", target.funcIndex))
		}
		insnPC := target.offset + 4
		e.Patch32(target.offset, int32(funcAddress-insnPC))
	}
	for _, target := range c.absOffTargets {
		funcAddress, ok := funcOffsets[target.funcIndex]
		if !ok {
			panic(fmt.Sprintf("unresolved function index: %d", target.funcIndex))
		}
		e.Patch64(target.offset, int64(funcAddress))
	}
	logrus.WithFields(logrus.Fields{"funcs": len(funcOffsets), "code_len": e.PC()}).
		Debug("linked module code")
}
