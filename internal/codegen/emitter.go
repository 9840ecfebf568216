// Package codegen holds the target-independent half of the backend: the byte
// emitter with its label positions and pending relocations, the memory
// segment map, and the contract a code generator implements.
package codegen

import (
	"encoding/binary"

	"github.com/paritytech/pvf-executor/internal/ir"
)

// RelocKind discriminates relocation records.
type RelocKind byte

const (
	// RelocMemoryAbsolute64 marks an 8-byte site to be patched with the
	// runtime address of the linear-memory base.
	RelocMemoryAbsolute64 RelocKind = iota
	// RelocFunctionAbsoluteAddress marks an 8-byte site holding a
	// code-relative function offset after linking; instantiation rebases it
	// onto the mapped code region.
	RelocFunctionAbsoluteAddress
	// RelocLabelAbsoluteAddress marks an 8-byte site to be patched with the
	// mapped address of the label it carries.
	RelocLabelAbsoluteAddress
)

// Reloc is a pending address patch performed at instantiation time.
type Reloc struct {
	Kind   RelocKind
	Label  ir.Label
	Offset int
}

// Emitter accumulates machine-code bytes along with the byte offset of every
// defined label and the relocations still to be applied.
type Emitter struct {
	code   []byte
	labels map[ir.Label]int
	relocs []Reloc
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{labels: make(map[ir.Label]int)}
}

// Emit appends raw opcode bytes.
func (e *Emitter) Emit(bytes ...byte) {
	e.code = append(e.code, bytes...)
}

// EmitImm32 appends a 32-bit little-endian immediate.
func (e *Emitter) EmitImm32(imm int32) {
	e.code = binary.LittleEndian.AppendUint32(e.code, uint32(imm))
}

// EmitImm64 appends a 64-bit little-endian immediate.
func (e *Emitter) EmitImm64(imm int64) {
	e.code = binary.LittleEndian.AppendUint64(e.code, uint64(imm))
}

// Patch32 overwrites 4 bytes at pos with a little-endian immediate.
func (e *Emitter) Patch32(pos int, imm int32) {
	binary.LittleEndian.PutUint32(e.code[pos:pos+4], uint32(imm))
}

// Patch64 overwrites 8 bytes at pos with a little-endian immediate.
func (e *Emitter) Patch64(pos int, imm int64) {
	binary.LittleEndian.PutUint64(e.code[pos:pos+8], uint64(imm))
}

// Label records the current position as the definition of l.
func (e *Emitter) Label(l ir.Label) {
	e.labels[l] = len(e.code)
}

// Reloc records a pending relocation at the current position. The caller
// emits the placeholder bytes right after.
func (e *Emitter) Reloc(kind RelocKind, label ir.Label) {
	e.relocs = append(e.relocs, Reloc{Kind: kind, Label: label, Offset: len(e.code)})
}

// PC returns the current emission offset.
func (e *Emitter) PC() int { return len(e.code) }

// Code returns the emitted bytes.
func (e *Emitter) Code() []byte { return e.code }

// Labels returns the label definition map.
func (e *Emitter) Labels() map[ir.Label]int { return e.labels }

// LabelPosition looks a label definition up.
func (e *Emitter) LabelPosition(l ir.Label) (int, bool) {
	pos, ok := e.labels[l]
	return pos, ok
}

// Relocs returns the pending relocation list.
func (e *Emitter) Relocs() []Reloc { return e.relocs }

// CodeGenerator lowers IR function bodies to machine code and resolves
// intra-module references. Implementations keep state across CompileFunc
// calls and finish in Link.
type CodeGenerator interface {
	// BuildOffsetMap computes the segment map for the module's tables and
	// data chunks.
	BuildOffsetMap(tables []uint32, dataChunks [][]byte) OffsetMap
	// CompileFunc emits one function. Signatures are indexed by function
	// index; unresolved local jump targets panic, per the container
	// invariants.
	CompileFunc(e *Emitter, index uint32, body *ir.Func, signatures []*ir.Signature, m *OffsetMap)
	// Link patches every recorded call site and function-address site once
	// all functions are emitted. An unresolved function index panics.
	Link(e *Emitter)
}
