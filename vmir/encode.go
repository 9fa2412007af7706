package vmir

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/holiman/uint256"
)

var magic = [4]byte{'Z', 'K', 'I', 1}

const (
	tagLoad byte = iota + 1
	tagStore
	tagOp
	tagCall
	tagIntrinsic
	tagLog

	tagBr
	tagCondBr
	tagRet
	tagExit
)

// Encode serializes m deterministically.
func Encode(m *Module) []byte {
	e := &encoder{}
	e.buf.Write(magic[:])
	e.str(m.Name)
	e.str(m.Entry)
	e.uint(len(m.Functions))
	for _, f := range m.Functions {
		e.str(f.Name)
		e.uint(f.Params)
		e.uint(f.Results)
		e.uint(f.NumRegs)
		e.uint(f.NumSlots)
		e.uint(len(f.Blocks))
		for _, b := range f.Blocks {
			e.str(b.Label)
			e.uint(len(b.Instrs))
			for _, ix := range b.Instrs {
				e.instr(ix)
			}
			e.term(b.Term)
		}
	}
	return e.buf.Bytes()
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) uint(x int) {
	e.buf.Write(binary.AppendUvarint(nil, uint64(x)))
}

func (e *encoder) int(x int) {
	e.buf.Write(binary.AppendVarint(nil, int64(x)))
}

func (e *encoder) str(x string) {
	e.uint(len(x))
	e.buf.WriteString(x)
}

func (e *encoder) operand(x Operand) {
	if x.Const != nil {
		e.buf.WriteByte(1)
		b := x.Const.Bytes32()
		e.buf.Write(b[:])
		return
	}
	e.buf.WriteByte(0)
	e.int(int(x.Reg))
}

func (e *encoder) operands(xs []Operand) {
	e.uint(len(xs))
	for _, x := range xs {
		e.operand(x)
	}
}

func (e *encoder) instr(ix I) {
	switch ix := ix.(type) {
	case LoadI:
		e.buf.WriteByte(tagLoad)
		e.int(int(ix.Dst))
		e.uint(int(ix.Slot))
	case StoreI:
		e.buf.WriteByte(tagStore)
		e.uint(int(ix.Slot))
		e.operand(ix.Src)
	case OpI:
		e.buf.WriteByte(tagOp)
		e.buf.WriteByte(byte(ix.Op))
		e.int(int(ix.Dst))
		e.operands(ix.Args)
	case CallI:
		e.buf.WriteByte(tagCall)
		e.str(ix.Callee)
		e.operands(ix.Args)
		e.uint(len(ix.Dsts))
		for _, r := range ix.Dsts {
			e.int(int(r))
		}
	case IntrinsicI:
		e.buf.WriteByte(tagIntrinsic)
		e.str(ix.Name)
		e.int(int(ix.Dst))
		e.operands(ix.Args)
	case LogI:
		e.buf.WriteByte(tagLog)
		e.operand(ix.Offset)
		e.operand(ix.Size)
		e.operands(ix.Topics)
	default:
		panic(fmt.Sprintf("vmir: cannot encode %T", ix))
	}
}

func (e *encoder) term(t Terminator) {
	switch t := t.(type) {
	case BrI:
		e.buf.WriteByte(tagBr)
		e.str(t.Target)
	case CondBrI:
		e.buf.WriteByte(tagCondBr)
		e.operand(t.Cond)
		e.str(t.Then)
		e.str(t.Else)
	case RetI:
		e.buf.WriteByte(tagRet)
		e.operands(t.Values)
	case ExitI:
		e.buf.WriteByte(tagExit)
		e.buf.WriteByte(byte(t.Kind))
		e.operand(t.Offset)
		e.operand(t.Size)
	default:
		panic(fmt.Sprintf("vmir: cannot encode terminator %T", t))
	}
}

// Decode parses the output of Encode.
func Decode(data []byte) (*Module, error) {
	d := &decoder{r: bytes.NewReader(data)}
	var hdr [4]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil || hdr != magic {
		return nil, errors.New("vmir: bad magic")
	}
	m := &Module{Name: d.str(), Entry: d.str()}
	nfuncs := d.uint()
	for i := 0; i < nfuncs && d.err == nil; i++ {
		f := &Function{
			Name:     d.str(),
			Params:   d.uint(),
			Results:  d.uint(),
			NumRegs:  d.uint(),
			NumSlots: d.uint(),
		}
		nblocks := d.uint()
		for j := 0; j < nblocks && d.err == nil; j++ {
			b := &Block{Label: d.str()}
			ninstrs := d.uint()
			for k := 0; k < ninstrs && d.err == nil; k++ {
				b.Instrs = append(b.Instrs, d.instr())
			}
			b.Term = d.term()
			f.Blocks = append(f.Blocks, b)
		}
		f.reindex()
		m.Functions = append(m.Functions, f)
	}
	if d.err != nil {
		return nil, fmt.Errorf("vmir: decoding: %w", d.err)
	}
	if d.r.Len() > 0 {
		return nil, fmt.Errorf("vmir: %d trailing bytes", d.r.Len())
	}
	return m, nil
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
	}
	return b
}

func (d *decoder) uint() int {
	if d.err != nil {
		return 0
	}
	x, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.fail(err)
		return 0
	}
	if x > uint64(d.r.Size()) && x > 1<<20 {
		d.fail(fmt.Errorf("length %d is too large", x))
		return 0
	}
	return int(x)
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	x, err := binary.ReadVarint(d.r)
	if err != nil {
		d.fail(err)
	}
	return int(x)
}

func (d *decoder) str() string {
	n := d.uint()
	if d.err != nil {
		return ""
	}
	if n > d.r.Len() {
		d.fail(io.ErrUnexpectedEOF)
		return ""
	}
	buf := make([]byte, n)
	io.ReadFull(d.r, buf)
	return string(buf)
}

func (d *decoder) operand() Operand {
	switch d.byte() {
	case 0:
		return R(Reg(d.int()))
	case 1:
		var buf [32]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			d.fail(err)
			return Operand{}
		}
		return C(new(uint256.Int).SetBytes32(buf[:]))
	default:
		d.fail(errors.New("bad operand tag"))
		return Operand{}
	}
}

func (d *decoder) operands() []Operand {
	n := d.uint()
	var ret []Operand
	for i := 0; i < n && d.err == nil; i++ {
		ret = append(ret, d.operand())
	}
	return ret
}

func (d *decoder) instr() I {
	switch tag := d.byte(); tag {
	case tagLoad:
		return LoadI{Dst: Reg(d.int()), Slot: Slot(d.uint())}
	case tagStore:
		return StoreI{Slot: Slot(d.uint()), Src: d.operand()}
	case tagOp:
		return OpI{Op: Op(d.byte()), Dst: Reg(d.int()), Args: d.operands()}
	case tagCall:
		ix := CallI{Callee: d.str(), Args: d.operands()}
		n := d.uint()
		for i := 0; i < n && d.err == nil; i++ {
			ix.Dsts = append(ix.Dsts, Reg(d.int()))
		}
		return ix
	case tagIntrinsic:
		return IntrinsicI{Name: d.str(), Dst: Reg(d.int()), Args: d.operands()}
	case tagLog:
		return LogI{Offset: d.operand(), Size: d.operand(), Topics: d.operands()}
	default:
		d.fail(fmt.Errorf("bad instruction tag %d", tag))
		return nil
	}
}

func (d *decoder) term() Terminator {
	switch tag := d.byte(); tag {
	case tagBr:
		return BrI{Target: d.str()}
	case tagCondBr:
		return CondBrI{Cond: d.operand(), Then: d.str(), Else: d.str()}
	case tagRet:
		return RetI{Values: d.operands()}
	case tagExit:
		return ExitI{Kind: ExitKind(d.byte()), Offset: d.operand(), Size: d.operand()}
	default:
		d.fail(fmt.Errorf("bad terminator tag %d", tag))
		return nil
	}
}
