package vmir

import (
	"fmt"
	"strings"
)

// I is an instruction, it changes the state of the frame
type I interface {
	isI()
	fmt.Stringer
}

// Terminator ends a block.
type Terminator interface {
	isTerm()
	fmt.Stringer
}

type baseI struct{}

func (baseI) isI() {}

type baseTerm struct{}

func (baseTerm) isTerm() {}

type LoadI struct {
	Dst  Reg
	Slot Slot
	baseI
}

type StoreI struct {
	Slot Slot
	Src  Operand
	baseI
}

type OpI struct {
	Op   Op
	Dst  Reg
	Args []Operand
	baseI
}

// CallI is a near call to a function in the same module.
type CallI struct {
	Callee string
	Args   []Operand
	Dsts   []Reg
	baseI
}

// IntrinsicI calls a named system function of the target.
type IntrinsicI struct {
	Name string
	Dst  Reg
	Args []Operand
	baseI
}

type LogI struct {
	Offset Operand
	Size   Operand
	Topics []Operand
	baseI
}

type BrI struct {
	Target string
	baseTerm
}

type CondBrI struct {
	Cond Operand
	Then string
	Else string
	baseTerm
}

// RetI returns from a near call.
type RetI struct {
	Values []Operand
	baseTerm
}

type ExitKind uint8

const (
	ExitStop ExitKind = iota
	ExitReturn
	ExitRevert
	ExitInvalid
)

func (k ExitKind) String() string {
	switch k {
	case ExitStop:
		return "stop"
	case ExitReturn:
		return "return"
	case ExitRevert:
		return "revert"
	case ExitInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("ExitKind(%d)", k)
	}
}

// ExitI halts the machine.
type ExitI struct {
	Kind   ExitKind
	Offset Operand
	Size   Operand
	baseTerm
}

func (ix LoadI) String() string {
	return fmt.Sprintf("%%%d = load $%d", ix.Dst, ix.Slot)
}

func (ix StoreI) String() string {
	return fmt.Sprintf("store $%d, %v", ix.Slot, ix.Src)
}

func (ix OpI) String() string {
	s := fmt.Sprintf("%v %s", ix.Op, joinOperands(ix.Args))
	if ix.Dst != NoReg {
		s = fmt.Sprintf("%%%d = %s", ix.Dst, s)
	}
	return strings.TrimSpace(s)
}

func (ix CallI) String() string {
	s := fmt.Sprintf("call @%s(%s)", ix.Callee, joinOperands(ix.Args))
	if len(ix.Dsts) > 0 {
		dsts := make([]string, len(ix.Dsts))
		for i, r := range ix.Dsts {
			dsts[i] = fmt.Sprintf("%%%d", r)
		}
		s = strings.Join(dsts, ", ") + " = " + s
	}
	return s
}

func (ix IntrinsicI) String() string {
	s := fmt.Sprintf("intrinsic %s(%s)", ix.Name, joinOperands(ix.Args))
	if ix.Dst != NoReg {
		s = fmt.Sprintf("%%%d = %s", ix.Dst, s)
	}
	return s
}

func (ix LogI) String() string {
	return fmt.Sprintf("log%d %v, %v [%s]", len(ix.Topics), ix.Offset, ix.Size, joinOperands(ix.Topics))
}

func (t BrI) String() string {
	return "br " + t.Target
}

func (t CondBrI) String() string {
	return fmt.Sprintf("condbr %v, %s, %s", t.Cond, t.Then, t.Else)
}

func (t RetI) String() string {
	return "ret " + joinOperands(t.Values)
}

func (t ExitI) String() string {
	switch t.Kind {
	case ExitReturn, ExitRevert:
		return fmt.Sprintf("%v %v, %v", t.Kind, t.Offset, t.Size)
	default:
		return t.Kind.String()
	}
}

func joinOperands(xs []Operand) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = x.String()
	}
	return strings.Join(parts, ", ")
}
