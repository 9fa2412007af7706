package vmir

import (
	"github.com/holiman/uint256"
)

// EvalPure computes a pure op over constant words.
// It returns false if op is not pure.
func EvalPure(op Op, args []uint256.Int) (ret uint256.Int, ok bool) {
	if !op.Info().Pure || len(args) != op.InDegree() {
		return ret, false
	}
	a := &args[0]
	var b, c *uint256.Int
	if len(args) > 1 {
		b = &args[1]
	}
	if len(args) > 2 {
		c = &args[2]
	}
	switch op {
	case Add:
		ret.Add(a, b)
	case Sub:
		ret.Sub(a, b)
	case Mul:
		ret.Mul(a, b)
	case Div:
		ret.Div(a, b)
	case SDiv:
		ret.SDiv(a, b)
	case Mod:
		ret.Mod(a, b)
	case SMod:
		ret.SMod(a, b)
	case AddMod:
		ret.AddMod(a, b, c)
	case MulMod:
		ret.MulMod(a, b, c)
	case Exp:
		ret.Exp(a, b)
	case SignExtend:
		// signextend(byteNum, x)
		ret.ExtendSign(b, a)

	case Lt:
		setBool(&ret, a.Lt(b))
	case Gt:
		setBool(&ret, a.Gt(b))
	case SLt:
		setBool(&ret, a.Slt(b))
	case SGt:
		setBool(&ret, a.Sgt(b))
	case Eq:
		setBool(&ret, a.Eq(b))
	case IsZero:
		setBool(&ret, a.IsZero())

	case And:
		ret.And(a, b)
	case Or:
		ret.Or(a, b)
	case Xor:
		ret.Xor(a, b)
	case Not:
		ret.Not(a)
	case Byte:
		// byte(index, x)
		ret.Set(b)
		ret.Byte(a)
	case Shl:
		// shl(shift, x)
		if a.LtUint64(256) {
			ret.Lsh(b, uint(a.Uint64()))
		}
	case Shr:
		if a.LtUint64(256) {
			ret.Rsh(b, uint(a.Uint64()))
		}
	case Sar:
		if a.LtUint64(256) {
			ret.SRsh(b, uint(a.Uint64()))
		} else if b.Sign() < 0 {
			ret.SetAllOne()
		}
	default:
		return ret, false
	}
	return ret, true
}

func setBool(z *uint256.Int, x bool) {
	if x {
		z.SetOne()
	} else {
		z.Clear()
	}
}
