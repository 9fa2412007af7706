package vmir

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	build := func() *Module {
		m := NewModule("fold")
		m.Entry = "main"
		f, err := m.NewFunction("main", 0, 0)
		require.NoError(t, err)
		b := f.NewBlock("entry")
		then := f.NewBlock("then")
		els := f.NewBlock("else")

		x := b.Op(Add, U64(40), U64(2))
		y := b.Op(Mul, x, U64(2))
		b.CondBr(b.Op(Eq, y, U64(84)), then, els)

		then.Op(MStore, U64(0), y)
		then.Exit(ExitReturn, U64(0), U64(32))
		els.Exit(ExitRevert, U64(0), U64(0))
		return m
	}

	want := runWord(t, build())

	m := build()
	require.Equal(t, 3, Fold(m))
	require.NoError(t, m.Verify())
	entry := m.Function("main").Blocks[0]
	require.Empty(t, entry.Instrs)
	require.Equal(t, BrI{Target: "then"}, entry.Term)
	require.Equal(t, want, runWord(t, m))
	require.Equal(t, uint256.NewInt(84), want)
}
