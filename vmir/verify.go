package vmir

import "fmt"

// Verify checks that the module is well formed.
//
// Every block must be terminated, every branch target and callee must exist,
// and operands must refer to registers and slots of their own function.
func (m *Module) Verify() error {
	if m.Function(m.Entry) == nil {
		return fmt.Errorf("vmir: module %q: entry function %q not found", m.Name, m.Entry)
	}
	for _, f := range m.Functions {
		if err := m.verifyFunction(f); err != nil {
			return fmt.Errorf("vmir: module %q: function %q: %w", m.Name, f.Name, err)
		}
	}
	return nil
}

func (m *Module) verifyFunction(f *Function) error {
	f.reindex()
	if len(f.Blocks) == 0 {
		return fmt.Errorf("no blocks")
	}
	checkReg := func(r Reg) error {
		if r < 0 || int(r) >= f.NumRegs {
			return fmt.Errorf("register %%%d out of range", r)
		}
		return nil
	}
	checkOperands := func(xs ...Operand) error {
		for _, x := range xs {
			if x.IsConst() {
				continue
			}
			if err := checkReg(x.Reg); err != nil {
				return err
			}
		}
		return nil
	}
	checkSlot := func(s Slot) error {
		if s < 0 || int(s) >= f.NumSlots {
			return fmt.Errorf("slot $%d out of range", s)
		}
		return nil
	}
	checkLabel := func(l string) error {
		if f.Block(l) == nil {
			return fmt.Errorf("branch to unknown block %s", l)
		}
		return nil
	}
	for _, b := range f.Blocks {
		for _, ix := range b.Instrs {
			var err error
			switch ix := ix.(type) {
			case LoadI:
				if err = checkSlot(ix.Slot); err == nil {
					err = checkReg(ix.Dst)
				}
			case StoreI:
				if err = checkSlot(ix.Slot); err == nil {
					err = checkOperands(ix.Src)
				}
			case OpI:
				if len(ix.Args) != ix.Op.InDegree() {
					err = fmt.Errorf("%v takes %d operands, have %d", ix.Op, ix.Op.InDegree(), len(ix.Args))
				} else {
					err = checkOperands(ix.Args...)
				}
			case CallI:
				callee := m.Function(ix.Callee)
				switch {
				case callee == nil:
					err = fmt.Errorf("call to unknown function %q", ix.Callee)
				case len(ix.Args) != callee.Params || len(ix.Dsts) != callee.Results:
					err = fmt.Errorf("call to %q with %d args and %d results, want %d and %d",
						ix.Callee, len(ix.Args), len(ix.Dsts), callee.Params, callee.Results)
				default:
					err = checkOperands(ix.Args...)
				}
			case IntrinsicI:
				err = checkOperands(ix.Args...)
			case LogI:
				if len(ix.Topics) > 4 {
					err = fmt.Errorf("log with %d topics", len(ix.Topics))
				} else {
					err = checkOperands(append([]Operand{ix.Offset, ix.Size}, ix.Topics...)...)
				}
			default:
				err = fmt.Errorf("unknown instruction %T", ix)
			}
			if err != nil {
				return fmt.Errorf("block %s: %v: %w", b.Label, ix, err)
			}
		}
		var err error
		switch t := b.Term.(type) {
		case nil:
			err = fmt.Errorf("block is not terminated")
		case BrI:
			err = checkLabel(t.Target)
		case CondBrI:
			if err = checkOperands(t.Cond); err == nil {
				if err = checkLabel(t.Then); err == nil {
					err = checkLabel(t.Else)
				}
			}
		case RetI:
			if len(t.Values) != f.Results {
				err = fmt.Errorf("returning %d values, want %d", len(t.Values), f.Results)
			} else {
				err = checkOperands(t.Values...)
			}
		case ExitI:
			if t.Kind == ExitReturn || t.Kind == ExitRevert {
				err = checkOperands(t.Offset, t.Size)
			}
		}
		if err != nil {
			return fmt.Errorf("block %s: %w", b.Label, err)
		}
	}
	return nil
}
