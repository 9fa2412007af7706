package vmir

import (
	"github.com/holiman/uint256"
)

// Fold replaces pure operations on constants with their results, in every function of m.
// It returns the number of operations removed.
func Fold(m *Module) (n int) {
	for _, f := range m.Functions {
		n += foldFunction(f)
	}
	return n
}

func foldFunction(f *Function) int {
	known := make(map[Reg]*uint256.Int)
	subst := func(x Operand) Operand {
		if x.Const == nil {
			if c, ok := known[x.Reg]; ok {
				return C(c)
			}
		}
		return x
	}
	substAll := func(xs []Operand) []Operand {
		for i := range xs {
			xs[i] = subst(xs[i])
		}
		return xs
	}

	// registers are assigned once, so a register found constant anywhere is constant everywhere.
	// iterate until no more folding happens, since uses may precede definitions in block order.
	removed := 0
	for changed := true; changed; {
		changed = false
		for _, b := range f.Blocks {
			out := b.Instrs[:0]
			for _, ix := range b.Instrs {
				switch x := ix.(type) {
				case OpI:
					x.Args = substAll(x.Args)
					if x.Dst != NoReg && allConst(x.Args) {
						args := make([]uint256.Int, len(x.Args))
						for i := range x.Args {
							args[i] = *x.Args[i].Const
						}
						if v, ok := EvalPure(x.Op, args); ok {
							known[x.Dst] = &v
							removed++
							changed = true
							continue
						}
					}
					ix = x
				case StoreI:
					x.Src = subst(x.Src)
					ix = x
				case CallI:
					x.Args = substAll(x.Args)
					ix = x
				case IntrinsicI:
					x.Args = substAll(x.Args)
					ix = x
				case LogI:
					x.Offset, x.Size = subst(x.Offset), subst(x.Size)
					x.Topics = substAll(x.Topics)
					ix = x
				}
				out = append(out, ix)
			}
			b.Instrs = out

			switch t := b.Term.(type) {
			case CondBrI:
				t.Cond = subst(t.Cond)
				b.Term = t
				if t.Cond.IsConst() {
					target := t.Then
					if t.Cond.Const.IsZero() {
						target = t.Else
					}
					b.Term = BrI{Target: target}
				}
			case RetI:
				t.Values = substAll(t.Values)
				b.Term = t
			case ExitI:
				t.Offset, t.Size = subst(t.Offset), subst(t.Size)
				b.Term = t
			}
		}
	}
	return removed
}

func allConst(xs []Operand) bool {
	for _, x := range xs {
		if !x.IsConst() {
			return false
		}
	}
	return true
}
