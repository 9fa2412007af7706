package ethir

import (
	"errors"
	"fmt"
	"strings"

	"zkc.dev/zkc"
	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/internal/cadata"
	"zkc.dev/zkc/vmir"
)

var ErrStackUnderflow = errors.New("stack underflow")

// Element is a value on the operand stack.
// It always lives in the slot numbered by its position from the bottom of the frame.
type Element struct {
	Slot     vmir.Slot
	Original codegen.Original
}

// Stack is the symbolic operand stack of a function frame.
type Stack struct {
	Elements []Element
}

func NewStack(originals ...codegen.Original) Stack {
	var s Stack
	for _, o := range originals {
		s.Push(o)
	}
	return s
}

func (s *Stack) Height() int {
	return len(s.Elements)
}

func (s *Stack) Push(o codegen.Original) Element {
	e := Element{Slot: vmir.Slot(len(s.Elements)), Original: o}
	s.Elements = append(s.Elements, e)
	return e
}

func (s *Stack) Pop() (Element, error) {
	if len(s.Elements) == 0 {
		return Element{}, ErrStackUnderflow
	}
	e := s.Elements[len(s.Elements)-1]
	s.Elements = s.Elements[:len(s.Elements)-1]
	return e, nil
}

// Peek returns the element depth positions below the top. The top is at depth 0.
func (s *Stack) Peek(depth int) (Element, error) {
	if depth < 0 || depth >= len(s.Elements) {
		return Element{}, ErrStackUnderflow
	}
	return s.Elements[len(s.Elements)-1-depth], nil
}

// Dup pushes a copy of the n-th element from the top, as DUPn does.
func (s *Stack) Dup(n int) (from, to Element, _ error) {
	src, err := s.Peek(n - 1)
	if err != nil {
		return Element{}, Element{}, err
	}
	return src, s.Push(src.Original), nil
}

// Swap exchanges the top with the element n below it, as SWAPn does.
// Elements keep their slots, only the originals move.
func (s *Stack) Swap(n int) (top, other Element, _ error) {
	if n < 1 || n >= len(s.Elements) {
		return Element{}, Element{}, ErrStackUnderflow
	}
	i, j := len(s.Elements)-1, len(s.Elements)-1-n
	s.Elements[i].Original, s.Elements[j].Original = s.Elements[j].Original, s.Elements[i].Original
	return s.Elements[i], s.Elements[j], nil
}

// Truncate drops every element at or above height h.
func (s *Stack) Truncate(h int) {
	s.Elements = s.Elements[:h]
}

func (s Stack) Clone() Stack {
	return Stack{Elements: append([]Element{}, s.Elements...)}
}

// Fingerprint identifies the shape of a stack for merging.
// It covers the height and the identity of tags and return addresses, since those are what
// the stack is unwound by. Other values are interchangeable.
type Fingerprint = cadata.ID

func (s Stack) Fingerprint() Fingerprint {
	var buf []byte
	for _, e := range s.Elements {
		switch e.Original.Kind {
		case codegen.KindTag:
			buf = append(buf, 1)
			buf = append(buf, e.Original.Value...)
			buf = append(buf, 0)
		case codegen.KindReturnAddress:
			buf = append(buf, 2)
		default:
			buf = append(buf, 0)
		}
	}
	return zkc.Hash(nil, buf)
}

func (s Stack) String() string {
	parts := make([]string, len(s.Elements))
	for i, e := range s.Elements {
		parts[i] = e.Original.String()
	}
	return "[ " + strings.Join(parts, " ") + " ]"
}

type ErrIrreconcilableStack struct {
	Key        BlockKey
	Have, Want Stack
}

func (e ErrIrreconcilableStack) Error() string {
	return fmt.Sprintf("block %v is entered with stack %v, previously %v", e.Key, e.Have, e.Want)
}

type ErrUnresolvedJump struct {
	Key    BlockKey
	Index  int
	Reason string
}

func (e ErrUnresolvedJump) Error() string {
	return fmt.Sprintf("block %v instruction %d: unresolved jump: %s", e.Key, e.Index, e.Reason)
}
