package backend

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/internal/cadata"
	"zkc.dev/zkc/internal/stores"
	"zkc.dev/zkc/internal/testutil"
	"zkc.dev/zkc/vmir"
)

// newModule returns (40 + 2) * x as a word.
func newModule(t testing.TB, x uint64) *vmir.Module {
	m := vmir.NewModule("test.sol:Test.runtime")
	m.Entry = "main"
	f, err := m.NewFunction("main", 0, 0)
	require.NoError(t, err)
	b := f.NewBlock("entry")
	y := b.Op(vmir.Mul, b.Op(vmir.Add, vmir.U64(40), vmir.U64(2)), vmir.U64(x))
	b.Op(vmir.MStore, vmir.U64(0), y)
	b.Exit(vmir.ExitReturn, vmir.U64(0), vmir.U64(32))
	return m
}

func runWord(t testing.TB, m *vmir.Module) *uint256.Int {
	res, err := vmir.NewMachine(m, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	return new(uint256.Int).SetBytes(res.Data)
}

func TestBuild(t *testing.T) {
	ctx := testutil.Context(t)
	store := testutil.NewStore(t)
	b, err := New(Config{Store: store})
	require.NoError(t, err)

	a1, err := b.Build(ctx, newModule(t, 1))
	require.NoError(t, err)
	require.Len(t, a1.Hash, 2*cadata.IDSize)
	_, err = codegen.ParseHex(a1.Hash)
	require.NoError(t, err)
	require.Equal(t, a1.Hash, a1.ContentHash())

	id, err := cadata.ParseID(a1.Hash)
	require.NoError(t, err)
	data, err := stores.Load(ctx, store, id)
	require.NoError(t, err)
	require.Equal(t, a1.Bytecode, data)

	a2, err := b.Build(ctx, newModule(t, 1))
	require.NoError(t, err)
	require.Equal(t, a1.Hash, a2.Hash)
	require.Equal(t, Stats{Builds: 1, CacheHits: 1}, b.Stats())

	a2.FactoryDependencies = map[string]string{"00": "x"}
	a3, err := b.Build(ctx, newModule(t, 1))
	require.NoError(t, err)
	require.Nil(t, a3.FactoryDependencies)

	a4, err := b.Build(ctx, newModule(t, 2))
	require.NoError(t, err)
	require.NotEqual(t, a1.Hash, a4.Hash)
	require.Equal(t, 2, b.Stats().Builds)
}

func TestBuildRejectsInvalidModules(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	m := vmir.NewModule("bad")
	_, err = b.Build(testutil.Context(t), m)
	require.Error(t, err)
}

func TestOptimize(t *testing.T) {
	ctx := testutil.Context(t)
	plain, err := New(Config{})
	require.NoError(t, err)
	opt, err := New(Config{Optimize: true})
	require.NoError(t, err)

	require.NotEqual(t, plain.Fingerprint(newModule(t, 3)), opt.Fingerprint(newModule(t, 3)))

	a1, err := plain.Build(ctx, newModule(t, 3))
	require.NoError(t, err)
	a2, err := opt.Build(ctx, newModule(t, 3))
	require.NoError(t, err)
	require.NotEqual(t, a1.Hash, a2.Hash)
	require.Less(t, len(a2.Bytecode), len(a1.Bytecode))
	require.Equal(t, uint256.NewInt(126), runWord(t, a1.Module))
	require.Equal(t, uint256.NewInt(126), runWord(t, a2.Module))
	require.NotContains(t, a2.Text(), "mul")
}

func TestPersistentIndex(t *testing.T) {
	ctx := testutil.Context(t)
	index := testutil.NewDBStore(t)

	b1, err := New(Config{Index: index})
	require.NoError(t, err)
	a1, err := b1.Build(ctx, newModule(t, 1))
	require.NoError(t, err)

	// a fresh backend has an empty memory cache
	b2, err := New(Config{Index: index})
	require.NoError(t, err)
	a2, err := b2.Build(ctx, newModule(t, 1))
	require.NoError(t, err)
	require.Equal(t, a1.Hash, a2.Hash)
	require.Equal(t, a1.Bytecode, a2.Bytecode)
	require.Equal(t, a1.Text(), a2.Text())
	require.Equal(t, Stats{IndexHits: 1}, b2.Stats())

	_, err = b2.Build(ctx, newModule(t, 1))
	require.NoError(t, err)
	require.Equal(t, Stats{IndexHits: 1, CacheHits: 1}, b2.Stats())
}
