package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"zkc.dev/zkc/vmir"
)

type fakeDeps struct {
	hashes    map[string]string
	libraries map[string]string
	compiled  []string
}

func (d *fakeDeps) Compile(ctx context.Context, identifier string) (string, error) {
	d.compiled = append(d.compiled, identifier)
	h, ok := d.hashes[identifier]
	if !ok {
		return "", errors.New("not found")
	}
	return h, nil
}

func (d *fakeDeps) ResolvePath(identifier string) (string, error) {
	return strings.TrimSuffix(identifier, "_deployed"), nil
}

func (d *fakeDeps) ResolveLibrary(path string) (string, error) {
	a, ok := d.libraries[path]
	if !ok {
		return "", errors.New("library not found")
	}
	return a, nil
}

type hashArtifact string

func (h hashArtifact) ContentHash() string { return string(h) }

func newMain(t *testing.T, c *Context) {
	f, err := c.DeclareFunction("main", 0, 0)
	require.NoError(t, err)
	c.Module().Entry = "main"
	c.SetFunction(f)
	c.SetBlock(c.NewBlock("entry"))
}

func run(t *testing.T, c *Context) *vmir.Result {
	m, err := c.Finish()
	require.NoError(t, err)
	res, err := vmir.NewMachine(m, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	return res
}

func TestContractHash(t *testing.T) {
	ctx := context.Background()
	deps := &fakeDeps{hashes: map[string]string{"b.sol:B": "0xab"}}

	c := NewDeployContext(ctx, "a.sol:A", deps, RuntimeHashOf(hashArtifact("cd")))
	newMain(t, c)
	self, err := c.ContractHash("a.sol:A_deployed")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(0xcd), self.Const)
	other, err := c.ContractHash("b.sol:B")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(0xab), other.Const)
	require.Equal(t, map[string]string{"0xab": "b.sol:B"}, c.FactoryDependencies)
	require.Equal(t, []string{"b.sol:B"}, deps.compiled)

	_, err = c.ContractHash("c.sol:C")
	require.Error(t, err)

	rc := NewRuntimeContext(ctx, "a.sol:A", deps)
	newMain(t, rc)
	_, err = rc.ContractHash("a.sol:A")
	require.Error(t, err)
}

func TestDeployWithoutRuntimeHash(t *testing.T) {
	c := NewDeployContext(context.Background(), "a.sol:A", &fakeDeps{}, RuntimeHash{})
	newMain(t, c)
	_, err := c.ContractHash("a.sol:A")
	require.ErrorContains(t, err, "not built")
}

func TestStoreStaticData(t *testing.T) {
	c := NewRuntimeContext(context.Background(), "a.sol:A", &fakeDeps{})
	newMain(t, c)
	data := strings.Repeat("11", 32) + "2233"
	require.NoError(t, c.StoreStaticData(vmir.U64(0), data))
	c.Return(vmir.U64(0), vmir.U64(64))
	res := run(t, c)
	require.Equal(t, vmir.ExitReturn, res.Kind)
	want := make([]byte, 64)
	for i := 0; i < 32; i++ {
		want[i] = 0x11
	}
	want[32], want[33] = 0x22, 0x33
	require.Equal(t, want, res.Data)
}

func TestImmutableKeys(t *testing.T) {
	ctx := context.Background()
	deploy := NewDeployContext(ctx, "a.sol:A", &fakeDeps{}, RuntimeHash{})
	runtime := NewRuntimeContext(ctx, "a.sol:A", &fakeDeps{})
	require.Equal(t, deploy.ImmutableKey("x"), runtime.ImmutableKey("x"))
	require.NotEqual(t, deploy.ImmutableKey("x"), deploy.ImmutableKey("y"))
}

func TestLibraryMarker(t *testing.T) {
	c := NewRuntimeContext(context.Background(), "a.sol:A", &fakeDeps{libraries: map[string]string{"l.sol:L": "0x1234"}})
	newMain(t, c)
	addr, err := c.LibraryAddress("l.sol:L")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(0x1234), addr.Const)
	_, err = c.LibraryAddress("m.sol:M")
	require.Error(t, err)

	c.StoreLibraryMarker()
	c.Return(vmir.U64(0), vmir.U64(32))
	res := run(t, c)
	require.Equal(t, byte(0x73), res.Data[0x0B])
}

func TestParseHex(t *testing.T) {
	x, err := ParseHex("0x000f")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(15), x)
	x, err = ParseHex("")
	require.NoError(t, err)
	require.True(t, x.IsZero())
	_, err = ParseHex(strings.Repeat("f", 65))
	require.Error(t, err)
}
