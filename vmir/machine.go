package vmir

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const (
	// MaxMemory is the largest heap a Machine will allocate.
	MaxMemory = 1 << 24
	// DefaultMaxSteps bounds the number of instructions executed by Run.
	DefaultMaxSteps = 1 << 22
	maxCallDepth    = 1024
)

var (
	ErrOutOfSteps   = errors.New("vmir: step limit exceeded")
	ErrMemoryBounds = errors.New("vmir: memory access out of bounds")
	ErrCallDepth    = errors.New("vmir: call depth exceeded")
)

// Host provides everything outside of the executing module.
// The zero Env and a nil Host answer every query with zero.
type Host interface {
	// Query answers environment ops such as Caller or Balance.
	Query(op Op, args []uint256.Int) uint256.Int
	// Call performs FarCall, StaticCall, DelegateCall, Create and Create2.
	Call(op Op, args []uint256.Int, input []byte) (ret uint256.Int, output []byte)
	// Intrinsic performs a named system function.
	Intrinsic(name string, args []uint256.Int) uint256.Int
}

// Log is an event emitted during execution.
type Log struct {
	Topics []uint256.Int
	Data   []byte
}

// Result is the outcome of Run.
type Result struct {
	Kind ExitKind
	Data []byte
	Logs []Log
}

// Machine is a reference interpreter for Modules.
type Machine struct {
	mod  *Module
	host Host

	MaxSteps   uint64
	Memory     []byte
	Storage    map[uint256.Int]uint256.Int
	Immutables map[uint256.Int]uint256.Int
	CallData   []byte
	ReturnData []byte

	logs  []Log
	steps uint64
	depth int
	ctx   context.Context
}

func NewMachine(mod *Module, host Host) *Machine {
	return &Machine{
		mod:        mod,
		host:       host,
		MaxSteps:   DefaultMaxSteps,
		Storage:    make(map[uint256.Int]uint256.Int),
		Immutables: make(map[uint256.Int]uint256.Int),
	}
}

// Run executes the module's entry function with the given calldata.
// Logs are only kept if execution does not revert.
func (m *Machine) Run(ctx context.Context, calldata []byte) (*Result, error) {
	m.ctx = ctx
	defer func() { m.ctx = nil }()
	m.CallData = calldata
	m.logs = nil
	m.steps = 0

	entry := m.mod.Function(m.mod.Entry)
	if entry == nil {
		return nil, fmt.Errorf("vmir: entry function %q not found", m.mod.Entry)
	}
	if entry.Params != 0 {
		return nil, fmt.Errorf("vmir: entry function %q takes parameters", entry.Name)
	}
	_, exit, err := m.call(entry, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: ExitStop}
	if exit != nil {
		res = exit
	}
	if res.Kind != ExitRevert && res.Kind != ExitInvalid {
		res.Logs = m.logs
	}
	return res, nil
}

type frame struct {
	fn    *Function
	regs  []uint256.Int
	slots []uint256.Int
}

func (fr *frame) get(x Operand) uint256.Int {
	if x.Const != nil {
		return *x.Const
	}
	return fr.regs[x.Reg]
}

func (fr *frame) getAll(xs []Operand) []uint256.Int {
	ret := make([]uint256.Int, len(xs))
	for i, x := range xs {
		ret[i] = fr.get(x)
	}
	return ret
}

// call runs fn to completion. A non nil Result means the machine halted.
func (m *Machine) call(fn *Function, args []uint256.Int) ([]uint256.Int, *Result, error) {
	if m.depth >= maxCallDepth {
		return nil, nil, ErrCallDepth
	}
	m.depth++
	defer func() { m.depth-- }()

	fr := &frame{
		fn:    fn,
		regs:  make([]uint256.Int, fn.NumRegs),
		slots: make([]uint256.Int, fn.NumSlots),
	}
	copy(fr.regs, args)
	if len(fn.Blocks) == 0 {
		return nil, nil, fmt.Errorf("vmir: function %q has no blocks", fn.Name)
	}
	b := fn.Blocks[0]
	for {
		for _, ix := range b.Instrs {
			if err := m.tick(); err != nil {
				return nil, nil, err
			}
			res, err := m.step(fr, ix)
			if err != nil {
				return nil, nil, fmt.Errorf("%s/%s: %v: %w", fn.Name, b.Label, ix, err)
			}
			if res != nil {
				return nil, res, nil
			}
		}
		if err := m.tick(); err != nil {
			return nil, nil, err
		}
		var next string
		switch t := b.Term.(type) {
		case BrI:
			next = t.Target
		case CondBrI:
			c := fr.get(t.Cond)
			if c.IsZero() {
				next = t.Else
			} else {
				next = t.Then
			}
		case RetI:
			return fr.getAll(t.Values), nil, nil
		case ExitI:
			res := &Result{Kind: t.Kind}
			if t.Kind == ExitReturn || t.Kind == ExitRevert {
				data, err := m.readMemory(fr.get(t.Offset), fr.get(t.Size))
				if err != nil {
					return nil, nil, err
				}
				res.Data = data
			}
			return nil, res, nil
		default:
			return nil, nil, fmt.Errorf("vmir: block %s/%s is not terminated", fn.Name, b.Label)
		}
		if b = fn.Block(next); b == nil {
			return nil, nil, fmt.Errorf("vmir: branch to unknown block %s/%s", fn.Name, next)
		}
	}
}

func (m *Machine) tick() error {
	m.steps++
	if m.MaxSteps > 0 && m.steps > m.MaxSteps {
		return ErrOutOfSteps
	}
	if m.steps%4096 == 0 && m.ctx != nil {
		if err := m.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) step(fr *frame, ix I) (*Result, error) {
	switch ix := ix.(type) {
	case LoadI:
		fr.regs[ix.Dst] = fr.slots[ix.Slot]
	case StoreI:
		fr.slots[ix.Slot] = fr.get(ix.Src)
	case OpI:
		out, err := m.op(ix.Op, fr.getAll(ix.Args))
		if err != nil {
			return nil, err
		}
		if ix.Dst != NoReg {
			fr.regs[ix.Dst] = out
		}
	case CallI:
		callee := m.mod.Function(ix.Callee)
		if callee == nil {
			return nil, fmt.Errorf("unknown function %q", ix.Callee)
		}
		outs, res, err := m.call(callee, fr.getAll(ix.Args))
		if err != nil || res != nil {
			return res, err
		}
		if len(outs) != len(ix.Dsts) {
			return nil, fmt.Errorf("%q returned %d values, want %d", ix.Callee, len(outs), len(ix.Dsts))
		}
		for i, r := range ix.Dsts {
			fr.regs[r] = outs[i]
		}
	case IntrinsicI:
		var out uint256.Int
		if m.host != nil {
			out = m.host.Intrinsic(ix.Name, fr.getAll(ix.Args))
		}
		if ix.Dst != NoReg {
			fr.regs[ix.Dst] = out
		}
	case LogI:
		data, err := m.readMemory(fr.get(ix.Offset), fr.get(ix.Size))
		if err != nil {
			return nil, err
		}
		m.logs = append(m.logs, Log{Topics: fr.getAll(ix.Topics), Data: data})
	default:
		return nil, fmt.Errorf("unknown instruction %T", ix)
	}
	return nil, nil
}

func (m *Machine) op(op Op, args []uint256.Int) (ret uint256.Int, _ error) {
	if out, ok := EvalPure(op, args); ok {
		return out, nil
	}
	switch op {
	case MLoad:
		data, err := m.readMemory(args[0], *uint256.NewInt(32))
		if err != nil {
			return ret, err
		}
		ret.SetBytes(data)
	case MStore:
		b := args[1].Bytes32()
		return ret, m.writeMemory(args[0], b[:])
	case MStore8:
		b := args[1].Bytes32()
		return ret, m.writeMemory(args[0], b[31:])
	case MSize:
		ret.SetUint64(uint64(len(m.Memory)))
	case Keccak256:
		data, err := m.readMemory(args[0], args[1])
		if err != nil {
			return ret, err
		}
		h := sha3.NewLegacyKeccak256()
		h.Write(data)
		ret.SetBytes(h.Sum(nil))

	case SLoad:
		ret = m.Storage[args[0]]
	case SStore:
		m.Storage[args[0]] = args[1]
	case ImmutableLoad:
		ret = m.Immutables[args[0]]
	case ImmutableStore:
		m.Immutables[args[0]] = args[1]

	case CallDataLoad:
		var buf [32]byte
		if args[0].IsUint64() && args[0].Uint64() < uint64(len(m.CallData)) {
			copy(buf[:], m.CallData[args[0].Uint64():])
		}
		ret.SetBytes(buf[:])
	case CallDataSize:
		ret.SetUint64(uint64(len(m.CallData)))
	case CallDataCopy:
		return ret, m.copyInto(args[0], m.CallData, args[1], args[2])
	case ReturnDataSize:
		ret.SetUint64(uint64(len(m.ReturnData)))
	case ReturnDataCopy:
		return ret, m.copyInto(args[0], m.ReturnData, args[1], args[2])

	case FarCall, StaticCall, DelegateCall, Create, Create2:
		var inOff, inSize uint256.Int
		switch op {
		case FarCall:
			inOff, inSize = args[3], args[4]
		case StaticCall, DelegateCall:
			inOff, inSize = args[2], args[3]
		default:
			inOff, inSize = args[1], args[2]
		}
		input, err := m.readMemory(inOff, inSize)
		if err != nil {
			return ret, err
		}
		m.ReturnData = nil
		if m.host == nil {
			return ret, nil
		}
		out, output := m.host.Call(op, args, input)
		m.ReturnData = output
		if op == FarCall || op == StaticCall || op == DelegateCall {
			outOff, outSize := args[len(args)-2], args[len(args)-1]
			n := uint64(len(output))
			if outSize.IsUint64() && outSize.Uint64() < n {
				n = outSize.Uint64()
			}
			if err := m.writeMemory(outOff, output[:n]); err != nil {
				return ret, err
			}
		}
		return out, nil

	default:
		if op.OutDegree() == 0 || int(op) >= int(opCount) || op == Unknown {
			return ret, fmt.Errorf("vmir: cannot execute %v", op)
		}
		if m.host != nil {
			ret = m.host.Query(op, args)
		}
	}
	return ret, nil
}

func (m *Machine) expand(offset, size uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return 0, 0, ErrMemoryBounds
	}
	off, n := offset.Uint64(), size.Uint64()
	if off > math.MaxUint64-n || off+n > MaxMemory {
		return 0, 0, ErrMemoryBounds
	}
	if end := off + n; end > uint64(len(m.Memory)) {
		// memory grows in words
		end = (end + 31) / 32 * 32
		grown := make([]byte, end)
		copy(grown, m.Memory)
		m.Memory = grown
	}
	return off, n, nil
}

func (m *Machine) readMemory(offset, size uint256.Int) ([]byte, error) {
	off, n, err := m.expand(offset, size)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, m.Memory[off:off+n]...), nil
}

func (m *Machine) writeMemory(offset uint256.Int, data []byte) error {
	off, n, err := m.expand(offset, *uint256.NewInt(uint64(len(data))))
	if err != nil {
		return err
	}
	copy(m.Memory[off:off+n], data)
	return nil
}

// copyInto copies size bytes of src starting at srcOff into memory at dst, zero filling past the end of src.
func (m *Machine) copyInto(dst uint256.Int, src []byte, srcOff, size uint256.Int) error {
	if size.IsZero() {
		return nil
	}
	if !size.IsUint64() || size.Uint64() > MaxMemory {
		return ErrMemoryBounds
	}
	buf := make([]byte, size.Uint64())
	if srcOff.IsUint64() && srcOff.Uint64() < uint64(len(src)) {
		copy(buf, src[srcOff.Uint64():])
	}
	return m.writeMemory(dst, buf)
}
