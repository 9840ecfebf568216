package ir

// Optimize runs the push/pop peephole pass over every function body: an
// adjacent `Push(Reg r); Pop(Reg r')` pair becomes `Move(r', r)`, or nothing
// when the registers coincide. The pass must not change observable behavior;
// it only shortens the round-trip of a value through the machine stack.
func (p *Pvf) Optimize() (folded int) {
	for _, entry := range p.funcs {
		if entry == nil || entry.body == nil || len(entry.body.ops) == 0 {
			continue
		}
		ops := entry.body.ops
		opt := make([]Op, 0, len(ops))
		pc := 0
		for pc < len(ops)-1 {
			cur, next := &ops[pc], &ops[pc+1]
			if cur.Kind == OpPush && next.Kind == OpPop &&
				cur.Dst.Kind == OperandReg && next.Dst.Kind == OperandReg {
				if cur.Dst.Reg != next.Dst.Reg {
					opt = append(opt, Op{Kind: OpMove, Dst: Reg64(next.Dst.Reg), Src: Reg64(cur.Dst.Reg)})
				}
				folded++
				pc += 2
				continue
			}
			opt = append(opt, ops[pc])
			pc++
		}
		if pc < len(ops) {
			opt = append(opt, ops[pc])
		}
		entry.body.ops = opt
	}
	return folded
}
