// package vmir contains the target machine intermediate representation.
//
// A Module is a set of Functions. A Function owns a frame of storage Slots, which hold values
// across blocks, and single assignment Regs, which hold values within a block.
// Both lowering pipelines produce Modules, the backend encodes them, and Machine executes them.
package vmir

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Slot is a storage location in a function frame.
type Slot int

// Reg is a temporary, assigned exactly once.
type Reg int

// NoReg is used as the destination of instructions which produce nothing.
const NoReg Reg = -1

// Operand is either a register or a constant word.
type Operand struct {
	Reg   Reg
	Const *uint256.Int
}

// R returns a register operand.
func R(r Reg) Operand {
	return Operand{Reg: r}
}

// C returns a constant operand.
func C(x *uint256.Int) Operand {
	return Operand{Reg: NoReg, Const: x.Clone()}
}

// U64 returns a constant operand.
func U64(x uint64) Operand {
	return Operand{Reg: NoReg, Const: uint256.NewInt(x)}
}

func (o Operand) IsConst() bool {
	return o.Const != nil
}

func (o Operand) String() string {
	if o.Const != nil {
		if o.Const.IsUint64() && o.Const.Uint64() < 1<<16 {
			return o.Const.Dec()
		}
		return o.Const.Hex()
	}
	return fmt.Sprintf("%%%d", o.Reg)
}

// Module is the unit handed to the backend.
type Module struct {
	Name string
	// Entry is the name of the function executed first.
	Entry     string
	Functions []*Function
}

func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Function returns the function with the given name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NewFunction adds a function to the module.
// Parameters are delivered in registers 0 through params-1.
func (m *Module) NewFunction(name string, params, results int) (*Function, error) {
	if m.Function(name) != nil {
		return nil, fmt.Errorf("vmir: function %q already exists in module %q", name, m.Name)
	}
	f := &Function{
		Name:    name,
		Params:  params,
		Results: results,
		NumRegs: params,
	}
	m.Functions = append(m.Functions, f)
	return f, nil
}

type Function struct {
	Name     string
	Params   int
	Results  int
	NumRegs  int
	NumSlots int
	Blocks   []*Block

	labels map[string]int
}

func (f *Function) NewReg() Reg {
	r := Reg(f.NumRegs)
	f.NumRegs++
	return r
}

func (f *Function) NewSlot() Slot {
	s := Slot(f.NumSlots)
	f.NumSlots++
	return s
}

// Param returns the register holding the i-th parameter.
func (f *Function) Param(i int) Reg {
	return Reg(i)
}

// NewBlock appends a block to the function.
// The label is made unique within the function if necessary.
func (f *Function) NewBlock(label string) *Block {
	if f.labels == nil {
		f.labels = make(map[string]int)
	}
	unique := label
	for i := 1; ; i++ {
		if _, exists := f.labels[unique]; !exists {
			break
		}
		unique = fmt.Sprintf("%s.%d", label, i)
	}
	b := &Block{Label: unique, fn: f}
	f.labels[unique] = len(f.Blocks)
	f.Blocks = append(f.Blocks, b)
	return b
}

// Block returns the block with the given label or nil.
func (f *Function) Block(label string) *Block {
	if f.labels == nil {
		f.reindex()
	}
	i, ok := f.labels[label]
	if !ok {
		return nil
	}
	return f.Blocks[i]
}

// RemoveBlock deletes b from the function. Nothing may branch to it.
func (f *Function) RemoveBlock(b *Block) {
	for i, x := range f.Blocks {
		if x == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			f.reindex()
			return
		}
	}
}

func (f *Function) reindex() {
	f.labels = make(map[string]int, len(f.Blocks))
	for i, b := range f.Blocks {
		b.fn = f
		f.labels[b.Label] = i
	}
}

// Block is a straight line sequence of instructions ending in a terminator.
type Block struct {
	Label  string
	Instrs []I
	Term   Terminator

	fn *Function
}

// Function returns the function the block belongs to.
func (b *Block) Function() *Function {
	return b.fn
}

func (b *Block) Terminated() bool {
	return b.Term != nil
}

func (b *Block) emit(ix I) {
	if b.Term != nil {
		panic(fmt.Sprintf("vmir: emit into terminated block %s", b.Label))
	}
	b.Instrs = append(b.Instrs, ix)
}

func (b *Block) terminate(t Terminator) {
	if b.Term != nil {
		panic(fmt.Sprintf("vmir: block %s terminated twice", b.Label))
	}
	b.Term = t
}

// Load reads a slot into a new register.
func (b *Block) Load(s Slot) Operand {
	dst := b.fn.NewReg()
	b.emit(LoadI{Dst: dst, Slot: s})
	return R(dst)
}

// Store writes x to a slot.
func (b *Block) Store(s Slot, x Operand) {
	b.emit(StoreI{Slot: s, Src: x})
}

// Op emits a primitive operation.
// If the op produces a value, it is returned, otherwise the returned Operand is meaningless.
func (b *Block) Op(op Op, args ...Operand) Operand {
	if len(args) != op.InDegree() {
		panic(fmt.Sprintf("vmir: %v takes %d operands, got %d", op, op.InDegree(), len(args)))
	}
	dst := NoReg
	if op.OutDegree() > 0 {
		dst = b.fn.NewReg()
	}
	b.emit(OpI{Op: op, Dst: dst, Args: append([]Operand{}, args...)})
	return R(dst)
}

// Call emits a near call, returning the callee's results.
func (b *Block) Call(callee string, results int, args ...Operand) []Operand {
	dsts := make([]Reg, results)
	ret := make([]Operand, results)
	for i := range dsts {
		dsts[i] = b.fn.NewReg()
		ret[i] = R(dsts[i])
	}
	b.emit(CallI{Callee: callee, Args: append([]Operand{}, args...), Dsts: dsts})
	return ret
}

// Intrinsic emits a call to a named system function.
func (b *Block) Intrinsic(name string, hasResult bool, args ...Operand) Operand {
	dst := NoReg
	if hasResult {
		dst = b.fn.NewReg()
	}
	b.emit(IntrinsicI{Name: name, Dst: dst, Args: append([]Operand{}, args...)})
	return R(dst)
}

// Log emits an event with the given topics, in order.
func (b *Block) Log(offset, size Operand, topics ...Operand) {
	b.emit(LogI{Offset: offset, Size: size, Topics: append([]Operand{}, topics...)})
}

func (b *Block) Br(target *Block) {
	b.terminate(BrI{Target: target.Label})
}

func (b *Block) CondBr(cond Operand, then, els *Block) {
	b.terminate(CondBrI{Cond: cond, Then: then.Label, Else: els.Label})
}

func (b *Block) Ret(values ...Operand) {
	b.terminate(RetI{Values: append([]Operand{}, values...)})
}

// Exit halts the machine. Offset and size are ignored for Stop and Invalid.
func (b *Block) Exit(kind ExitKind, offset, size Operand) {
	b.terminate(ExitI{Kind: kind, Offset: offset, Size: size})
}
