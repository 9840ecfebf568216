package pvf

import (
	"bytes"
	"fmt"

	"github.com/paritytech/pvf-executor/internal/ir"
	"github.com/paritytech/pvf-executor/internal/leb128"
	"github.com/paritytech/pvf-executor/internal/wasm"
)

// evalConstExpr lowers a constant expression to an IR fragment that pushes
// the computed value. The accepted subset is integer constants and global
// reads (the latter for imported globals, which currently alias the module's
// own global slots); anything else is a validation failure.
func (t *translator) evalConstExpr(expr *wasm.ConstantExpression) (*ir.Func, error) {
	f := ir.NewFunc()
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return nil, fmt.Errorf("read i32 immediate: %w", err)
		}
		f.Move(ir.Reg64(ir.A), ir.Imm32(v))
	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return nil, fmt.Errorf("read i64 immediate: %w", err)
		}
		f.Move(ir.Reg64(ir.A), ir.Imm64(v))
	case wasm.OpcodeGlobalGet:
		index, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read global index: %w", err)
		}
		f.Move(ir.Reg64(ir.A), ir.Global(index))
	default:
		return nil, validationErrorf("opcode 0x%02x in constant expression", expr.Opcode)
	}
	f.Push(ir.Reg64(ir.A))
	return f, nil
}
