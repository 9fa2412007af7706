package asm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"zkc.dev/zkc"
)

const childJSON = `{".code":[{"name":"PUSH","value":"0","begin":0,"end":1,"source":0},{"name":"DUP1","begin":0,"end":1,"source":0},{"name":"RETURN","begin":0,"end":1,"source":0}]}`

func parentJSON() string {
	return `{
	".code": [
		{"name": "PUSH #[$]", "value": "1", "begin": 0, "end": 1, "source": 0},
		{"name": "PUSH [$]", "value": "0000000000000000000000000000000000000000000000000000000000000000", "begin": 0, "end": 1, "source": 0},
		{"name": "tag", "value": "1", "begin": 0, "end": 1, "source": 0},
		{"name": "STOP", "begin": 0, "end": 1, "source": 0}
	],
	".data": {
		"0": {".code": [{"name": "STOP", "begin": 0, "end": 1, "source": 0}], ".data": {"0": ` + childJSON + `}},
		"1": ` + childJSON + `,
		"a2": "deadbeef"
	}
}`
}

func TestParse(t *testing.T) {
	a, err := Parse([]byte(parentJSON()))
	require.NoError(t, err)
	require.Len(t, a.Code, 4)
	require.NotNil(t, a.Data["1"].Assembly)
	require.Equal(t, "deadbeef", a.Data["a2"].Hash)

	rt, err := a.Runtime()
	require.NoError(t, err)
	require.Len(t, rt.Code, 1)

	_, err = Parse([]byte(`{".code":[{"name":"FROB"}]}`))
	require.ErrorAs(t, err, &ErrUnknownInstruction{})
	_, err = Parse([]byte(`{".code":[{"name":"PUSH"}]}`))
	require.ErrorAs(t, err, &ErrMissingOperand{})
	_, err = Parse([]byte(`{".code":[{"name":"tag","value":"x1"}]}`))
	require.Error(t, err)
}

func TestKeccak256Stable(t *testing.T) {
	var a, b Assembly
	require.NoError(t, json.Unmarshal([]byte(childJSON), &a))
	require.NoError(t, json.Unmarshal([]byte(strings.ReplaceAll(childJSON, `"source":0`, `"source": 0`)), &b))
	require.Equal(t, a.Keccak256(), b.Keccak256())
	require.Len(t, a.Keccak256(), 64)
}

func TestDependencyPasses(t *testing.T) {
	a, err := Parse([]byte(parentJSON()))
	require.NoError(t, err)
	child := a.Data["1"].Assembly.Keccak256()
	hashPaths := map[string]string{child: "child.sol:Child"}

	deploy, err := a.DeployDependenciesPass("parent.sol:Parent", hashPaths)
	require.NoError(t, err)
	require.Equal(t, "parent.sol:Parent", deploy[PadIndex("")])
	require.Equal(t, "child.sol:Child", deploy[PadIndex("1")])
	require.Equal(t, "deadbeef", deploy[PadIndex("a2")])
	require.Contains(t, a.DeployDependencies, "child.sol:Child")
	require.Equal(t, "child.sol:Child", a.Data["1"].Path)
	// the runtime code is left in place
	require.NotNil(t, a.Data["0"].Assembly)

	runtime, err := a.RuntimeDependenciesPass("parent.sol:Parent", hashPaths)
	require.NoError(t, err)
	require.Equal(t, "child.sol:Child", runtime[PadIndex("0")])
	require.Contains(t, a.RuntimeDependencies, "child.sol:Child")

	ReplaceDataAliases(a.Code, deploy)
	require.Equal(t, "child.sol:Child", *a.Code[0].Value)
	require.Equal(t, "parent.sol:Parent", *a.Code[1].Value)

	_, err = a.DeployDependenciesPass("x", nil)
	require.NoError(t, err, "entries already resolved to paths are skipped")

	b, err := Parse([]byte(parentJSON()))
	require.NoError(t, err)
	_, err = b.DeployDependenciesPass("parent.sol:Parent", nil)
	require.ErrorContains(t, err, "contract path not found")
}

func TestNames(t *testing.T) {
	v7, v8 := zkc.MustParseVersion("0.7.6"), zkc.MustParseVersion("0.8.0")
	require.Equal(t, 1, ASSIGNIMMUTABLE.InputSize(v7))
	require.Equal(t, 2, ASSIGNIMMUTABLE.InputSize(v8))
	require.Equal(t, 6, Name("LOG4").InputSize(v8))
	require.Equal(t, 1, Name("PUSH32").OutputSize())
	require.True(t, Name("PUSH32").IsPush())
	require.False(t, PushTag.IsPush())
	require.Equal(t, 3, Name("DUP3").Depth(v8))
	require.Equal(t, 4, Name("SWAP3").Depth(v8))
	_, ok := Name("DUP17").IsDup()
	require.False(t, ok)
	require.True(t, JUMPI.IsTerminator())
	require.False(t, Tag.IsTerminator())
}

func TestString(t *testing.T) {
	a, err := Parse([]byte(parentJSON()))
	require.NoError(t, err)
	require.Equal(t, "000     PUSH #[$] 1\n001     PUSH [$] "+PadIndex("")+"\n002 tag 1\n003     STOP\n", a.String())
}
