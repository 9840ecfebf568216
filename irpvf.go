package pvf

import (
	"github.com/sirupsen/logrus"

	"github.com/paritytech/pvf-executor/internal/codegen"
	"github.com/paritytech/pvf-executor/internal/ir"
)

// IrPvf is a fully translated module, ready for code generation.
type IrPvf struct {
	inner *ir.Pvf
}

// Optimize runs the push/pop peephole pass. The pass is optional and must
// not change observable behavior.
func (p *IrPvf) Optimize() {
	folded := p.inner.Optimize()
	logrus.WithField("folded", folded).Debug("peephole pass complete")
}

// Compile feeds every function to the code generator and links the result.
// Per the container invariants, an unresolvable intra-module reference is a
// bug in the translator and panics.
func (p *IrPvf) Compile(cg CodeGenerator) *PreparedPvf {
	e := codegen.NewEmitter()
	m := cg.BuildOffsetMap(p.inner.Tables(), p.inner.DataChunks())

	for index := uint32(0); index < p.inner.NumFuncs(); index++ {
		if body := p.inner.Body(index); body != nil {
			cg.CompileFunc(e, index, body, p.inner.Signatures(), &m)
		}
	}
	cg.Link(e)

	memoryMin, memoryMax := p.inner.Memory()
	return &PreparedPvf{
		code:       e.Code(),
		labels:     e.Labels(),
		relocs:     e.Relocs(),
		memoryMin:  memoryMin,
		memoryMax:  memoryMax,
		dataChunks: p.inner.DataChunks(),
		offsetMap:  m,
	}
}
