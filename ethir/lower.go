package ethir

import (
	"fmt"

	"github.com/holiman/uint256"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/vmir"
)

// simpleOps are the instructions lowering to a single operation with the same operands.
var simpleOps = map[asm.Name]vmir.Op{
	asm.ADD:        vmir.Add,
	asm.SUB:        vmir.Sub,
	asm.MUL:        vmir.Mul,
	asm.DIV:        vmir.Div,
	asm.SDIV:       vmir.SDiv,
	asm.MOD:        vmir.Mod,
	asm.SMOD:       vmir.SMod,
	asm.ADDMOD:     vmir.AddMod,
	asm.MULMOD:     vmir.MulMod,
	asm.EXP:        vmir.Exp,
	asm.SIGNEXTEND: vmir.SignExtend,
	asm.LT:         vmir.Lt,
	asm.GT:         vmir.Gt,
	asm.SLT:        vmir.SLt,
	asm.SGT:        vmir.SGt,
	asm.EQ:         vmir.Eq,
	asm.ISZERO:     vmir.IsZero,
	asm.AND:        vmir.And,
	asm.OR:         vmir.Or,
	asm.XOR:        vmir.Xor,
	asm.NOT:        vmir.Not,
	asm.BYTE:       vmir.Byte,
	asm.SHL:        vmir.Shl,
	asm.SHR:        vmir.Shr,
	asm.SAR:        vmir.Sar,
	asm.SHA3:       vmir.Keccak256,
	asm.KECCAK256:  vmir.Keccak256,

	asm.MLOAD:   vmir.MLoad,
	asm.MSTORE:  vmir.MStore,
	asm.MSTORE8: vmir.MStore8,
	asm.SLOAD:   vmir.SLoad,
	asm.SSTORE:  vmir.SStore,

	asm.CALLDATALOAD:   vmir.CallDataLoad,
	asm.CALLDATASIZE:   vmir.CallDataSize,
	asm.CALLDATACOPY:   vmir.CallDataCopy,
	asm.CODESIZE:       vmir.CallDataSize,
	asm.RETURNDATASIZE: vmir.ReturnDataSize,
	asm.RETURNDATACOPY: vmir.ReturnDataCopy,
	asm.EXTCODESIZE:    vmir.ExtCodeSize,
	asm.EXTCODEHASH:    vmir.ExtCodeHash,

	asm.CALL:         vmir.FarCall,
	asm.STATICCALL:   vmir.StaticCall,
	asm.DELEGATECALL: vmir.DelegateCall,
	asm.CREATE:       vmir.Create,
	asm.CREATE2:      vmir.Create2,

	asm.ADDRESS:    vmir.Address,
	asm.CALLER:     vmir.Caller,
	asm.CALLVALUE:  vmir.CallValue,
	asm.GAS:        vmir.Gas,
	asm.BALANCE:    vmir.Balance,
	asm.GASLIMIT:   vmir.GasLimit,
	asm.GASPRICE:   vmir.GasPrice,
	asm.ORIGIN:     vmir.Origin,
	asm.CHAINID:    vmir.ChainID,
	asm.TIMESTAMP:  vmir.Timestamp,
	asm.NUMBER:     vmir.Number,
	asm.BLOCKHASH:  vmir.BlockHash,
	asm.DIFFICULTY: vmir.Difficulty,
	asm.COINBASE:   vmir.Coinbase,
	asm.BASEFEE:    vmir.BaseFee,
	asm.MSIZE:      vmir.MSize,
}

// translate lowers one instruction other than DUP, SWAP and jumps.
// args are the popped inputs, the top of the stack first.
// It returns the produced value if the instruction has an output.
func translate(c *codegen.Context, ix asm.Instruction, args []codegen.Argument) (vmir.Operand, error) {
	if op, ok := simpleOps[ix.Name]; ok {
		return c.Op(op, values(args)...), nil
	}
	if n, ok := ix.Name.IsLog(); ok {
		topics := make([]vmir.Operand, n)
		for i := range topics {
			topics[i] = args[2+i].Value
		}
		c.Log(args[0].Value, args[1].Value, topics)
		return vmir.Operand{}, nil
	}
	switch {
	case ix.Name.IsPush():
		x, err := codegen.ParseHex(*ix.Value)
		if err != nil {
			return vmir.Operand{}, err
		}
		return vmir.C(x), nil
	}
	switch ix.Name {
	case asm.PushTag:
		n, err := ix.TagNumber()
		if err != nil {
			return vmir.Operand{}, err
		}
		x, err := uint256.FromDecimal(n)
		if err != nil {
			return vmir.Operand{}, err
		}
		return vmir.C(x), nil
	case asm.PushContractHash:
		return c.ContractHash(*ix.Value)
	case asm.PushContractHashSize:
		return c.HeaderSize(), nil
	case asm.PUSHLIB:
		return c.LibraryAddress(*ix.Value)
	case asm.PushData:
		if len(*ix.Value) > 2*zkc.FieldSize {
			return vmir.U64(0), nil
		}
		x, err := codegen.ParseHex(*ix.Value)
		if err != nil {
			return vmir.Operand{}, err
		}
		return vmir.C(x), nil
	case asm.PUSHDEPLOYADDRESS:
		return c.CodeSource(), nil
	case asm.PUSHSIZE, asm.PC, asm.CALLCODE:
		return vmir.U64(0), nil
	case asm.PUSHIMMUTABLE:
		return c.LoadImmutable(*ix.Value), nil
	case asm.ASSIGNIMMUTABLE:
		// the value is the deepest input, preceded by the offset in newer versions
		c.StoreImmutable(*ix.Value, args[len(args)-1].Value)
		return vmir.Operand{}, nil

	case asm.CODECOPY:
		return vmir.Operand{}, codeCopy(c, args)
	case asm.SELFBALANCE:
		return c.Op(vmir.Balance, c.Op(vmir.Address)), nil

	case asm.RETURN:
		c.Return(args[0].Value, args[1].Value)
		return vmir.Operand{}, nil
	case asm.REVERT:
		c.Revert(args[0].Value, args[1].Value)
		return vmir.Operand{}, nil
	case asm.STOP:
		c.Stop()
		return vmir.Operand{}, nil
	case asm.INVALID:
		c.Invalid()
		return vmir.Operand{}, nil

	case asm.POP, asm.JUMPDEST, asm.EXTCODECOPY, asm.SELFDESTRUCT:
		return vmir.Operand{}, nil
	default:
		return vmir.Operand{}, asm.ErrUnknownInstruction{Name: ix.Name}
	}
}

// codeCopy lowers CODECOPY by what its source offset was.
func codeCopy(c *codegen.Context, args []codegen.Argument) error {
	dst, src := args[0], args[1]
	switch src.Original.Kind {
	case codegen.KindNone:
		c.Op(vmir.CallDataCopy, dst.Value, src.Value, args[2].Value)
	case codegen.KindLiteral, codegen.KindIdentifier:
		switch v := src.Original.Value; {
		case asm.IsHex(v):
			return c.StoreStaticData(dst.Value, v)
		case v != c.Path():
			c.StoreContractHash(dst.Value, src.Value)
		case dst.Original.Value == "B":
			c.StoreLibraryMarker()
		}
	case codegen.KindTag:
		// tag numbers are hex digits
		return c.StoreStaticData(dst.Value, src.Original.Value)
	default:
		return fmt.Errorf("CODECOPY from %v is not supported", src.Original)
	}
	return nil
}

func values(args []codegen.Argument) []vmir.Operand {
	ret := make([]vmir.Operand, len(args))
	for i, a := range args {
		ret[i] = a.Value
	}
	return ret
}

// lowerInstruction emits ix and applies it to the stack.
func lowerInstruction(c *codegen.Context, st *Stack, ix asm.Instruction, v zkc.Version) error {
	b := c.Block()
	if n, ok := ix.Name.IsDup(); ok {
		src, dst, err := st.Dup(n)
		if err != nil {
			return err
		}
		b.Store(dst.Slot, b.Load(src.Slot))
		return nil
	}
	if n, ok := ix.Name.IsSwap(); ok {
		top, err := st.Peek(0)
		if err != nil {
			return err
		}
		other, err := st.Peek(n)
		if err != nil {
			return err
		}
		x, y := b.Load(top.Slot), b.Load(other.Slot)
		b.Store(top.Slot, y)
		b.Store(other.Slot, x)
		_, _, err = st.Swap(n)
		return err
	}

	args := make([]codegen.Argument, ix.Name.InputSize(v))
	for i := range args {
		e, err := st.Pop()
		if err != nil {
			return err
		}
		args[i] = codegen.Argument{Value: b.Load(e.Slot), Original: e.Original}
	}
	out, err := translate(c, ix, args)
	if err != nil {
		return err
	}
	if ix.Name.OutputSize() > 0 {
		o, err := originalOf(ix)
		if err != nil {
			return err
		}
		e := st.Push(o)
		c.Block().Store(e.Slot, out)
	}
	return nil
}

// lowerFunction emits the target function for fn, which must have been declared.
func lowerFunction(c *codegen.Context, fn *Function, v zkc.Version, results map[string]int) error {
	vf := c.Module().Function(fn.Name)
	c.SetFunction(vf)
	maxHeight := 0
	for _, inst := range fn.Blocks {
		maxHeight = max(maxHeight, inst.Entry.Height())
		for _, st := range inst.Trace {
			maxHeight = max(maxHeight, st.Height())
		}
	}
	for vf.NumSlots < maxHeight {
		vf.NewSlot()
	}

	entry := c.NewBlock("entry")
	blocks := make(map[BlockKey]*vmir.Block, len(fn.Blocks))
	for _, inst := range fn.Blocks {
		blocks[inst.Block.Key] = c.NewBlock("block_" + inst.Block.Key.Tag)
	}
	if !fn.IsMain() {
		// the return address has no runtime value
		entry.Store(0, vmir.U64(0))
		for i := 0; i < fn.Inputs; i++ {
			entry.Store(vmir.Slot(i+1), vmir.R(vf.Param(i)))
		}
	}
	c.SetBlock(entry)
	c.Br(blocks[fn.Entry])

	for _, inst := range fn.Blocks {
		c.SetBlock(blocks[inst.Block.Key])
		if err := lowerInstance(c, inst, blocks, v, results); err != nil {
			inst.State = Rejected
			return fmt.Errorf("%s: block %v: %w", fn.Name, inst.Block.Key, err)
		}
		inst.State = Lowered
	}
	return nil
}

func lowerInstance(c *codegen.Context, inst *Instance, blocks map[BlockKey]*vmir.Block, v zkc.Version, results map[string]int) error {
	st := inst.Entry.Clone()
	body := inst.Block.Instructions
	if last, ok := inst.Block.Terminator(); ok && (last.Name == asm.JUMP || last.Name == asm.JUMPI) {
		body = body[:len(body)-1]
	}
	for i, ix := range body {
		if err := lowerInstruction(c, &st, ix, v); err != nil {
			return fmt.Errorf("instruction %d (%v): %w", i, ix, err)
		}
	}

	switch x := inst.Exit; x.Kind {
	case ExitHalt:
		if _, ok := inst.Block.Terminator(); !ok {
			c.Stop()
		}
	case ExitFallthrough:
		c.Br(blocks[x.Target])
	case ExitJump:
		if _, err := st.Pop(); err != nil {
			return err
		}
		c.Br(blocks[x.Target])
	case ExitBranch:
		if _, err := st.Pop(); err != nil {
			return err
		}
		cond, err := st.Pop()
		if err != nil {
			return err
		}
		b := c.Block()
		var els *vmir.Block
		if x.Else != nil {
			els = blocks[*x.Else]
		} else {
			// the code ends after the branch
			els = c.NewBlock("stop")
			els.Exit(vmir.ExitStop, vmir.U64(0), vmir.U64(0))
		}
		b.CondBr(b.Load(cond.Slot), blocks[x.Target], els)
	case ExitCall:
		if _, err := st.Pop(); err != nil {
			return err
		}
		b := c.Block()
		var args []vmir.Operand
		for _, e := range st.Elements[x.Base+1:] {
			args = append(args, b.Load(e.Slot))
		}
		outs := b.Call(x.Callee, results[x.Callee], args...)
		st.Truncate(x.Base)
		for _, out := range outs {
			e := st.Push(codegen.Original{})
			b.Store(e.Slot, out)
		}
		if cont, ok := blocks[x.Target]; ok {
			c.Br(cont)
		} else {
			// the callee never returns
			c.Invalid()
		}
	case ExitReturn:
		if _, err := st.Pop(); err != nil {
			return err
		}
		b := c.Block()
		outs := make([]vmir.Operand, st.Height())
		for i, e := range st.Elements {
			outs[i] = b.Load(e.Slot)
		}
		b.Ret(outs...)
	}
	return nil
}
