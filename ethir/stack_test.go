package ethir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
)

func TestSwapTwice(t *testing.T) {
	for n := 1; n <= 4; n++ {
		st := NewStack(codegen.TagOriginal("1"), codegen.Literal("a"), codegen.Original{}, codegen.Literal("b"), codegen.TagOriginal("2"))
		before := st.Clone()
		_, _, err := st.Swap(n)
		require.NoError(t, err)
		require.Equal(t, before.Height(), st.Height())
		_, _, err = st.Swap(n)
		require.NoError(t, err)
		require.Equal(t, before, st, "SWAP%d", n)
		require.Equal(t, before.Fingerprint(), st.Fingerprint())
	}
}

func TestDupSwapHeight(t *testing.T) {
	tcs := []struct {
		name   string
		dup    bool
		n      int
		height int
		err    bool
	}{
		{name: "DUP1", dup: true, n: 1, height: 4},
		{name: "DUP3", dup: true, n: 3, height: 4},
		{name: "DUP4", dup: true, n: 4, err: true},
		{name: "SWAP1", n: 1, height: 3},
		{name: "SWAP2", n: 2, height: 3},
		{name: "SWAP3", n: 3, err: true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			st := NewStack(codegen.Literal("a"), codegen.TagOriginal("5"), codegen.Literal("b"))
			var err error
			if tc.dup {
				var from, to Element
				from, to, err = st.Dup(tc.n)
				if err == nil {
					require.Equal(t, from.Original, to.Original)
					require.Equal(t, tc.height-1, int(to.Slot))
				}
			} else {
				_, _, err = st.Swap(tc.n)
			}
			if tc.err {
				require.ErrorIs(t, err, ErrStackUnderflow)
				require.Equal(t, 3, st.Height())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.height, st.Height())
		})
	}
}

func TestSwapKeepsSlots(t *testing.T) {
	st := NewStack(codegen.Literal("a"), codegen.Literal("b"), codegen.Literal("c"))
	_, _, err := st.Swap(2)
	require.NoError(t, err)
	for i, e := range st.Elements {
		require.EqualValues(t, i, e.Slot)
	}
	require.Equal(t, "c", st.Elements[0].Original.Value)
	require.Equal(t, "a", st.Elements[2].Original.Value)
}

func TestFingerprintIgnoresData(t *testing.T) {
	a := NewStack(codegen.TagOriginal("1"), codegen.Literal("a"))
	b := NewStack(codegen.TagOriginal("1"), codegen.Original{})
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := NewStack(codegen.TagOriginal("2"), codegen.Literal("a"))
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	d := NewStack(codegen.TagOriginal("1"), codegen.Literal("a"), codegen.Literal("a"))
	require.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestArithmeticHeight(t *testing.T) {
	code := []asm.Instruction{
		ix(asm.PUSH, "1"), ix(asm.PUSH, "2"), ix(asm.PUSH, "3"),
		ix(asm.ADD), ix(asm.CALLDATASIZE), ix(asm.MUL), ix("DUP2"),
		ix(asm.ISZERO), ix(asm.SUB), ix("SWAP1"), ix(asm.LT), ix(asm.POP),
	}
	var st Stack
	height := 0
	for i, x := range code {
		require.NoError(t, simulate(&st, x, testVersion), "instruction %d", i)
		switch {
		case isDupName(x.Name):
			height++
		case isSwapName(x.Name):
		default:
			height += x.Name.OutputSize() - x.Name.InputSize(testVersion)
		}
		require.GreaterOrEqual(t, height, 0)
		require.Equal(t, height, st.Height(), "after %v", x)
	}
	require.Equal(t, 0, st.Height())
	require.ErrorIs(t, simulate(&st, ix(asm.ADD), testVersion), ErrStackUnderflow)
}

func isDupName(n asm.Name) bool {
	_, ok := n.IsDup()
	return ok
}

func isSwapName(n asm.Name) bool {
	_, ok := n.IsSwap()
	return ok
}
