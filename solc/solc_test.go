package solc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"zkc.dev/zkc"
	"zkc.dev/zkc/internal/testutil"
	"zkc.dev/zkc/project"
	"zkc.dev/zkc/yul"
)

const outputJSON = `{
	"contracts": {
		"main.sol": {
			"Main": {
				"abi": [],
				"evm": {"legacyAssembly": {
					".code": [
						{"name": "PUSH [$]", "value": "0", "begin": 0, "end": 10, "source": 0},
						{"name": "PUSH", "value": "0"},
						{"name": "MSTORE"},
						{"name": "PUSH", "value": "20"},
						{"name": "PUSH", "value": "0"},
						{"name": "RETURN"}
					],
					".data": {"0": {".code": [
						{"name": "PUSH", "value": "0"},
						{"name": "DUP1"},
						{"name": "REVERT"}
					]}}
				}}
			},
			"IMain": {"abi": []}
		}
	},
	"errors": [
		{"component": "general", "formattedMessage": "Warning: unused variable", "message": "unused variable", "severity": "warning", "type": "Warning"}
	],
	"version": "0.7.6+commit.7338295f"
}`

func TestParseLibraries(t *testing.T) {
	libs, err := ParseLibraries([]string{
		"lib/Math.sol:Math=0x00000000000000000000000000000000000000aB",
		"lib/Math.sol:Other=0x0000000000000000000000000000000000000001",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]map[string]string{
		"lib/Math.sol": {
			"Math":  "0x00000000000000000000000000000000000000aB",
			"Other": "0x0000000000000000000000000000000000000001",
		},
	}, libs)

	for _, bad := range []string{
		"Math=0x00000000000000000000000000000000000000ab",
		"lib.sol:Math",
		"lib.sol:Math=0x12",
		"lib.sol:Math=0x00000000000000000000000000000000000000zz",
		":Math=0x00000000000000000000000000000000000000ab",
	} {
		_, err := ParseLibraries([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestParseVersionOutput(t *testing.T) {
	v, err := ParseVersionOutput("solc, the solidity compiler commandline interface\nVersion: 0.8.16+commit.07a7930e.Linux.g++\n")
	require.NoError(t, err)
	require.Equal(t, zkc.MustParseVersion("0.8.16"), v)

	_, err = ParseVersionOutput("Version: 0.9.0+commit")
	require.ErrorContains(t, err, "not supported")
	_, err = ParseVersionOutput("nothing")
	require.Error(t, err)
}

func TestNewInput(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.sol")
	require.NoError(t, os.WriteFile(p, []byte("contract A {}"), 0o644))
	in, err := NewInput([]string{p}, nil, zkc.PipelineEVMLA, true)
	require.NoError(t, err)
	require.Equal(t, "contract A {}", in.Sources[p].Content)
	require.Equal(t, []string{"abi", "evm.legacyAssembly"}, in.Settings.OutputSelection["*"]["*"])
	require.True(t, in.Settings.Optimizer.Enabled)
	require.Equal(t, []string{"abi", "irOptimized"}, OutputSelection(zkc.PipelineYul)["*"]["*"])

	_, err = NewInput([]string{filepath.Join(dir, "missing.sol")}, nil, zkc.PipelineEVMLA, false)
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	ctx := testutil.Context(t)
	o, err := ParseOutput([]byte(outputJSON))
	require.NoError(t, err)
	require.NoError(t, o.Check(ctx))
	require.Equal(t, []string{"Warning: unused variable"}, o.ErrorMessages())

	o.Errors = append(o.Errors, &Error{Type: "TypeError", Message: "bad", Severity: "error"})
	o.Errors[1].PushContractPath("main.sol:Main")
	err = o.Check(ctx)
	require.ErrorContains(t, err, "compilation aborted")
	require.ErrorContains(t, err, "--> main.sol:Main")
}

func TestEVMLAProject(t *testing.T) {
	ctx := testutil.Context(t)
	o, err := ParseOutput([]byte(outputJSON))
	require.NoError(t, err)
	require.Equal(t, []string{"main.sol:IMain", "main.sol:Main"}, o.Paths())

	v := zkc.MustParseVersion("0.7.6")
	contracts, err := o.ProjectContracts(ctx, v, zkc.ChoosePipeline(v, false), nil)
	require.NoError(t, err)
	require.Len(t, contracts, 1)

	p, err := project.New(project.Config{Version: v}, contracts...)
	require.NoError(t, err)
	build, err := p.CompileAll(ctx)
	require.NoError(t, err)
	require.NoError(t, o.WriteBuild(build))

	data, err := json.Marshal(o)
	require.NoError(t, err)
	o2, err := ParseOutput(data)
	require.NoError(t, err)
	main := o2.Contracts["main.sol"]["Main"]
	require.Nil(t, main.EVM.LegacyAssembly)
	require.NotEmpty(t, main.EVM.Bytecode.Object)
	require.Equal(t, build.Contracts["main.sol:Main"].Deploy.Hash, main.DeployHash)
	require.Equal(t, build.Contracts["main.sol:Main"].Runtime.Hash, main.RuntimeHash)

	require.Error(t, o.WriteBuild(&project.Build{Contracts: map[string]*project.ContractBuild{"x.sol:X": {}}}))
}

func TestYulProject(t *testing.T) {
	ctx := testutil.Context(t)
	v := zkc.MustParseVersion("0.8.20")
	o := &Output{Contracts: map[string]map[string]*Contract{
		"a.sol": {"A": {IROptimized: "object \"A\" { ... }"}},
	}}
	_, err := o.ProjectContracts(ctx, v, zkc.PipelineYul, nil)
	require.ErrorIs(t, err, ErrNoYulParser)

	parse := func(path, source string) (*yul.Object, error) {
		require.Equal(t, "a.sol:A", path)
		stop := &yul.Block{Statements: []yul.Statement{yul.Do("stop")}}
		return &yul.Object{
			Identifier: "A",
			Code:       stop,
			Inner:      &yul.Object{Identifier: "A" + yul.RuntimeSuffix, Code: stop},
		}, nil
	}
	contracts, err := o.ProjectContracts(ctx, v, zkc.PipelineYul, parse)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.Equal(t, "A", contracts[0].Identifier)
}
