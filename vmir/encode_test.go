package vmir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	m := NewModule("roundtrip")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	g, err := m.NewFunction("g", 2, 1)
	require.NoError(t, err)

	gb := g.NewBlock("entry")
	gb.Ret(gb.Op(Sub, R(g.Param(0)), R(g.Param(1))))

	s := f.NewSlot()
	b := f.NewBlock("entry")
	done := f.NewBlock("done")
	b.Store(s, b.Call("g", 1, U64(50), U64(8))[0])
	b.Intrinsic("meta", true)
	b.Log(U64(0), U64(0), b.Load(s))
	b.CondBr(b.Load(s), done, done)
	done.Op(MStore, U64(0), done.Load(s))
	done.Exit(ExitReturn, U64(0), U64(32))
	require.NoError(t, m.Verify())

	data := Encode(m)
	m2, err := Decode(data)
	require.NoError(t, err)
	require.NoError(t, m2.Verify())
	require.Equal(t, data, Encode(m2))
	require.Equal(t, m.String(), m2.String())
	require.Equal(t, runWord(t, m), runWord(t, m2))

	_, err = Decode(data[:len(data)-1])
	require.Error(t, err)
}
