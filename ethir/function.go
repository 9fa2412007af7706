package ethir

import (
	"fmt"
	"slices"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
)

// State is the progress of a block instance through assembly and lowering.
type State uint8

const (
	Unvisited State = iota
	Visiting
	Lowered
	Rejected
)

func (s State) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case Visiting:
		return "visiting"
	case Lowered:
		return "lowered"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// ExitKind is how control leaves a block instance.
type ExitKind uint8

const (
	// ExitHalt covers blocks ending in RETURN, REVERT, STOP, INVALID, or running off the end of the code.
	ExitHalt ExitKind = iota
	ExitFallthrough
	ExitJump
	ExitBranch
	ExitCall
	ExitReturn
)

// Exit describes the end of a block instance.
type Exit struct {
	Kind ExitKind
	// Target is the jump or branch target, the fallthrough block, or the continuation of a call.
	Target BlockKey
	// Else is the block reached when a branch is not taken. It is empty if the code ends there.
	Else *BlockKey
	// Callee is the function called.
	Callee string
	// Base is the height of the caller's stack below the return address of a call.
	Base int
}

// Instance is a block as entered within one function, with one stack shape.
type Instance struct {
	Block       *Block
	Entry       Stack
	Fingerprint Fingerprint
	State       State
	// Trace is the stack after each instruction.
	Trace []Stack
	Exit  Exit
}

// Function is a set of block instances reachable from an entry without crossing calls or returns.
type Function struct {
	Name  string
	Entry BlockKey
	// Inputs is the number of arguments, not counting the return address.
	Inputs int
	// Outputs is the number of values returned, or -1 while no return has been seen.
	Outputs int
	// Blocks are in visitation order. The first one is the entry.
	Blocks []*Instance
	// Calls are the functions called, in order of discovery.
	Calls []string

	instances map[BlockKey]*Instance
	pending   []continuation
	callers   []continuation
}

// Instance returns the instance of the block with the key, or nil.
func (f *Function) Instance(key BlockKey) *Instance {
	return f.instances[key]
}

// IsMain returns true for the function entered when the code starts.
func (f *Function) IsMain() bool {
	return f.Entry.Tag == EntryTag
}

type continuation struct {
	fn   *Function
	key  BlockKey
	base Stack
}

type walkItem struct {
	fn   *Function
	inst *Instance
}

type assembler struct {
	version zkc.Version
	blocks  map[BlockKey]*Block
	funcs   map[string]*Function
	order   []*Function
	queue   []walkItem
}

// assemble walks the blocks of one code section starting at the entry, splitting them into functions.
func assemble(v zkc.Version, code codegen.CodeType, blocks map[BlockKey]*Block) ([]*Function, error) {
	a := &assembler{
		version: v,
		blocks:  blocks,
		funcs:   make(map[string]*Function),
	}
	main := a.function(EntryTag, BlockKey{Code: code, Tag: EntryTag}, 0)
	if err := a.enter(main, main.Entry, Stack{}); err != nil {
		return nil, err
	}
	for len(a.queue) > 0 {
		item := a.queue[0]
		a.queue = a.queue[1:]
		if err := a.walk(item.fn, item.inst); err != nil {
			item.inst.State = Rejected
			return nil, err
		}
	}
	return a.order, nil
}

func (a *assembler) function(name string, entry BlockKey, inputs int) *Function {
	if f, ok := a.funcs[name]; ok {
		return f
	}
	f := &Function{
		Name:      name,
		Entry:     entry,
		Inputs:    inputs,
		Outputs:   -1,
		instances: make(map[BlockKey]*Instance),
	}
	a.funcs[name] = f
	a.order = append(a.order, f)
	return f
}

// enter records that fn reaches the block with the key with stack st.
// Reaching an instance again with a different stack shape is an error.
func (a *assembler) enter(fn *Function, key BlockKey, st Stack) error {
	blk, ok := a.blocks[key]
	if !ok {
		return fmt.Errorf("jump to undeclared tag %v", key)
	}
	fp := st.Fingerprint()
	if inst, ok := fn.instances[key]; ok {
		if inst.Fingerprint != fp {
			inst.State = Rejected
			return ErrIrreconcilableStack{Key: key, Have: st, Want: inst.Entry}
		}
		return nil
	}
	inst := &Instance{
		Block:       blk,
		Entry:       st.Clone(),
		Fingerprint: fp,
		State:       Visiting,
	}
	fn.instances[key] = inst
	fn.Blocks = append(fn.Blocks, inst)
	a.queue = append(a.queue, walkItem{fn: fn, inst: inst})
	return nil
}

// walk simulates the stack through an instance and enters its successors.
func (a *assembler) walk(fn *Function, inst *Instance) error {
	blk := inst.Block
	st := inst.Entry.Clone()
	for i, ix := range blk.Instructions {
		unresolved := func(reason string) error {
			return ErrUnresolvedJump{Key: blk.Key, Index: i, Reason: reason}
		}
		switch ix.Name {
		case asm.JUMP:
			target, err := st.Pop()
			if err != nil {
				return fmt.Errorf("block %v instruction %d: %w", blk.Key, i, err)
			}
			inst.Trace = append(inst.Trace, st.Clone())
			switch {
			case ix.JumpType == asm.JumpIn:
				if target.Original.Kind != codegen.KindTag {
					return unresolved("call target is not a tag")
				}
				return a.call(fn, inst, st, BlockKey{Code: blk.Key.Code, Tag: target.Original.Value}, unresolved)
			case target.Original.Kind == codegen.KindReturnAddress:
				return a.ret(fn, inst, st)
			case ix.JumpType == asm.JumpOut:
				return unresolved("return does not jump to a return address")
			case target.Original.Kind == codegen.KindTag:
				key := BlockKey{Code: blk.Key.Code, Tag: target.Original.Value}
				inst.Exit = Exit{Kind: ExitJump, Target: key}
				return a.enter(fn, key, st)
			default:
				return unresolved(fmt.Sprintf("target %v is not a tag", target.Original))
			}

		case asm.JUMPI:
			target, err := st.Pop()
			if err == nil {
				_, err = st.Pop()
			}
			if err != nil {
				return fmt.Errorf("block %v instruction %d: %w", blk.Key, i, err)
			}
			inst.Trace = append(inst.Trace, st.Clone())
			if target.Original.Kind != codegen.KindTag {
				return unresolved(fmt.Sprintf("branch target %v is not a tag", target.Original))
			}
			key := BlockKey{Code: blk.Key.Code, Tag: target.Original.Value}
			inst.Exit = Exit{Kind: ExitBranch, Target: key, Else: blk.Fallthrough}
			if err := a.enter(fn, key, st); err != nil {
				return err
			}
			if blk.Fallthrough != nil {
				return a.enter(fn, *blk.Fallthrough, st)
			}
			return nil

		default:
			if err := simulate(&st, ix, a.version); err != nil {
				return fmt.Errorf("block %v instruction %d (%v): %w", blk.Key, i, ix, err)
			}
			inst.Trace = append(inst.Trace, st.Clone())
		}
	}
	if _, ok := blk.Terminator(); ok || blk.Fallthrough == nil {
		inst.Exit = Exit{Kind: ExitHalt}
		return nil
	}
	inst.Exit = Exit{Kind: ExitFallthrough, Target: *blk.Fallthrough}
	return a.enter(fn, *blk.Fallthrough, st)
}

// call handles a jump into a function.
// The return address is the topmost tag below the target, and the arguments are above it.
func (a *assembler) call(fn *Function, inst *Instance, st Stack, target BlockKey, unresolved func(string) error) error {
	p := -1
	for i := st.Height() - 1; i >= 0; i-- {
		if st.Elements[i].Original.Kind == codegen.KindTag {
			p = i
			break
		}
	}
	if p < 0 {
		return unresolved("no return address below the call target")
	}
	inputs := st.Height() - p - 1
	callee := a.function("function_"+target.Tag, target, inputs)
	frame := NewStack(codegen.Original{Kind: codegen.KindReturnAddress})
	for _, e := range st.Elements[p+1:] {
		frame.Push(e.Original)
	}
	if callee.Inputs != inputs {
		want := frame
		if entry := callee.Instance(target); entry != nil {
			want = entry.Entry
		}
		return fmt.Errorf("%s is called with %d arguments, previously %d: %w", callee.Name, inputs, callee.Inputs,
			ErrIrreconcilableStack{Key: target, Have: frame, Want: want})
	}
	if !slices.Contains(fn.Calls, callee.Name) {
		fn.Calls = append(fn.Calls, callee.Name)
	}
	if err := a.enter(callee, target, frame); err != nil {
		return err
	}

	cont := BlockKey{Code: target.Code, Tag: st.Elements[p].Original.Value}
	inst.Exit = Exit{Kind: ExitCall, Target: cont, Callee: callee.Name, Base: p}
	base := st.Clone()
	base.Truncate(p)
	callee.callers = append(callee.callers, continuation{fn: fn, key: cont, base: base})
	if callee.Outputs < 0 {
		callee.pending = append(callee.pending, continuation{fn: fn, key: cont, base: base})
		return nil
	}
	return a.enter(fn, cont, withOutputs(base, callee.Outputs))
}

// ret handles a jump to the return address of fn, after the address was popped.
func (a *assembler) ret(fn *Function, inst *Instance, st Stack) error {
	if fn.IsMain() {
		return ErrUnresolvedJump{Key: inst.Block.Key, Index: len(inst.Block.Instructions) - 1, Reason: "return from the entry function"}
	}
	inst.Exit = Exit{Kind: ExitReturn}
	outputs := st.Height()
	if fn.Outputs >= 0 {
		if fn.Outputs != outputs {
			// the continuations of the calls are entered with both heights
			irr := ErrIrreconcilableStack{Key: inst.Block.Key, Have: st, Want: withOutputs(Stack{}, fn.Outputs)}
			if len(fn.callers) > 0 {
				c := fn.callers[0]
				irr = ErrIrreconcilableStack{Key: c.key, Have: withOutputs(c.base, outputs), Want: withOutputs(c.base, fn.Outputs)}
			}
			return fmt.Errorf("block %v: %s returns %d values, previously %d: %w", inst.Block.Key, fn.Name, outputs, fn.Outputs, irr)
		}
		return nil
	}
	fn.Outputs = outputs
	pending := fn.pending
	fn.pending = nil
	for _, c := range pending {
		if err := a.enter(c.fn, c.key, withOutputs(c.base, outputs)); err != nil {
			return err
		}
	}
	return nil
}

func withOutputs(base Stack, n int) Stack {
	st := base.Clone()
	for i := 0; i < n; i++ {
		st.Push(codegen.Original{})
	}
	return st
}

// simulate applies an instruction other than a jump to the stack.
func simulate(st *Stack, ix asm.Instruction, v zkc.Version) error {
	if n, ok := ix.Name.IsDup(); ok {
		_, _, err := st.Dup(n)
		return err
	}
	if n, ok := ix.Name.IsSwap(); ok {
		_, _, err := st.Swap(n)
		return err
	}
	for i := 0; i < ix.Name.InputSize(v); i++ {
		if _, err := st.Pop(); err != nil {
			return err
		}
	}
	if ix.Name.OutputSize() > 0 {
		o, err := originalOf(ix)
		if err != nil {
			return err
		}
		st.Push(o)
	}
	return nil
}

// originalOf is the original of the value produced by an instruction.
func originalOf(ix asm.Instruction) (codegen.Original, error) {
	switch {
	case ix.Name == asm.PushTag:
		n, err := ix.TagNumber()
		if err != nil {
			return codegen.Original{}, err
		}
		return codegen.TagOriginal(n), nil
	case ix.Name.IsPush(), ix.Name == asm.PushData:
		return codegen.Literal(*ix.Value), nil
	case ix.Name == asm.PushContractHash, ix.Name == asm.PushContractHashSize,
		ix.Name == asm.PUSHLIB, ix.Name == asm.PUSHIMMUTABLE:
		return codegen.Identifier(*ix.Value), nil
	default:
		return codegen.Original{}, nil
	}
}
