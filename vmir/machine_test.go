package vmir

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// returnWord builds a module whose entry computes a word with body and returns it.
func returnWord(t testing.TB, body func(f *Function, b *Block) Operand) *Module {
	m := NewModule("test")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	b := f.NewBlock("entry")
	x := body(f, b)
	b.Op(MStore, U64(0), x)
	b.Exit(ExitReturn, U64(0), U64(32))
	return m
}

func runWord(t testing.TB, m *Module) *uint256.Int {
	require.NoError(t, m.Verify())
	res, err := NewMachine(m, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, ExitReturn, res.Kind)
	require.Len(t, res.Data, 32)
	return new(uint256.Int).SetBytes(res.Data)
}

func TestMachineOps(t *testing.T) {
	t.Parallel()
	type testCase struct {
		Name string
		Op   Op
		Args []uint64
		Out  *uint256.Int
	}
	minusOne := new(uint256.Int).SetAllOne()
	tcs := []testCase{
		{Name: "add", Op: Add, Args: []uint64{42, 42}, Out: uint256.NewInt(0x54)},
		{Name: "sub wraps", Op: Sub, Args: []uint64{0, 1}, Out: minusOne},
		{Name: "div by zero", Op: Div, Args: []uint64{7, 0}, Out: uint256.NewInt(0)},
		{Name: "lt", Op: Lt, Args: []uint64{1, 2}, Out: uint256.NewInt(1)},
		{Name: "iszero", Op: IsZero, Args: []uint64{0}, Out: uint256.NewInt(1)},
		{Name: "shl", Op: Shl, Args: []uint64{8, 1}, Out: uint256.NewInt(256)},
		{Name: "shl overflow", Op: Shl, Args: []uint64{256, 1}, Out: uint256.NewInt(0)},
		{Name: "byte", Op: Byte, Args: []uint64{31, 0xabcd}, Out: uint256.NewInt(0xcd)},
		{Name: "signextend", Op: SignExtend, Args: []uint64{0, 0xff}, Out: minusOne},
		{Name: "addmod", Op: AddMod, Args: []uint64{5, 6, 7}, Out: uint256.NewInt(4)},
	}
	for _, tc := range tcs {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			t.Parallel()
			m := returnWord(t, func(f *Function, b *Block) Operand {
				args := make([]Operand, len(tc.Args))
				for i, a := range tc.Args {
					args[i] = U64(a)
				}
				return b.Op(tc.Op, args...)
			})
			require.Equal(t, tc.Out, runWord(t, m))
		})
	}
}

func TestMachineSlotsAndBranches(t *testing.T) {
	// sum 1..10 with a loop over a slot
	m := NewModule("loop")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	i, acc := f.NewSlot(), f.NewSlot()
	entry := f.NewBlock("entry")
	head := f.NewBlock("head")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")

	entry.Store(i, U64(1))
	entry.Store(acc, U64(0))
	entry.Br(head)

	cond := head.Op(Gt, head.Load(i), U64(10))
	head.CondBr(cond, exit, body)

	iv := body.Load(i)
	body.Store(acc, body.Op(Add, body.Load(acc), iv))
	body.Store(i, body.Op(Add, iv, U64(1)))
	body.Br(head)

	exit.Op(MStore, U64(0), exit.Load(acc))
	exit.Exit(ExitReturn, U64(0), U64(32))

	require.Equal(t, uint256.NewInt(55), runWord(t, m))
}

func TestMachineNearCall(t *testing.T) {
	m := NewModule("calls")
	m.Entry = "main"
	main, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	double, err := m.NewFunction("double", 1, 1)
	require.NoError(t, err)

	db := double.NewBlock("entry")
	db.Ret(db.Op(Add, R(double.Param(0)), R(double.Param(0))))

	b := main.NewBlock("entry")
	outs := b.Call("double", 1, U64(21))
	b.Op(MStore, U64(0), outs[0])
	b.Exit(ExitReturn, U64(0), U64(32))

	require.Equal(t, uint256.NewInt(42), runWord(t, m))
}

func TestMachineLogsDiscardedOnRevert(t *testing.T) {
	for _, kind := range []ExitKind{ExitReturn, ExitRevert} {
		m := NewModule("logs")
		m.Entry = "main"
		f, err := m.NewFunction("main", 0, 0)
		require.NoError(t, err)
		b := f.NewBlock("entry")
		b.Log(U64(0), U64(0), U64(1), U64(2))
		b.Exit(kind, U64(0), U64(0))
		require.NoError(t, m.Verify())

		res, err := NewMachine(m, nil).Run(context.Background(), nil)
		require.NoError(t, err)
		if kind == ExitReturn {
			require.Len(t, res.Logs, 1)
			require.Equal(t, []uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2)}, res.Logs[0].Topics)
		} else {
			require.Empty(t, res.Logs)
		}
	}
}

func TestMachineStepLimit(t *testing.T) {
	m := NewModule("spin")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	b := f.NewBlock("entry")
	b.Br(b)
	mach := NewMachine(m, nil)
	mach.MaxSteps = 100
	_, err = mach.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrOutOfSteps)
}

func TestVerify(t *testing.T) {
	m := NewModule("bad")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	f.NewBlock("entry")
	require.ErrorContains(t, m.Verify(), "not terminated")

	_, err = m.NewFunction("main", 0, 0)
	require.Error(t, err)
}
