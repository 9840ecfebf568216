package pvf

import (
	"github.com/paritytech/pvf-executor/internal/codegen"
	"github.com/paritytech/pvf-executor/internal/ir"
)

// PreparedPvf is the immutable output of compilation: the emitted code bytes,
// the label positions, the relocations instantiation still has to apply, the
// memory descriptor, and the raw data chunks with their computed offsets.
// A prepared module may be shared read-only and instantiated any number of
// times.
type PreparedPvf struct {
	code       []byte
	labels     map[ir.Label]int
	relocs     []codegen.Reloc
	memoryMin  uint32
	memoryMax  uint32
	dataChunks [][]byte
	offsetMap  codegen.OffsetMap
}

// CodeLen returns the emitted code size in bytes.
func (p *PreparedPvf) CodeLen() int { return len(p.code) }

// Code returns the emitted code bytes.
func (p *PreparedPvf) Code() []byte { return p.code }

// ExportedFuncs returns the name-to-code-offset map of exported functions,
// the synthetic initializer included.
func (p *PreparedPvf) ExportedFuncs() map[string]int {
	res := make(map[string]int)
	for label, offset := range p.labels {
		if label.Kind == ir.LabelExportedFunc {
			res[label.Name] = offset
		}
	}
	return res
}
