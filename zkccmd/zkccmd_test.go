package zkccmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.brendoncarroll.net/star"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/internal/testutil"
	"zkc.dev/zkc/project"
	"zkc.dev/zkc/solc"
	"zkc.dev/zkc/vmir"
)

// counterAssembly stores 7 at an immutable in its deploy code, and its runtime code returns it plus 1.
const counterAssembly = `{
	".code": [
		{"name": "PUSH", "value": "7"},
		{"name": "PUSH", "value": "0"},
		{"name": "ASSIGNIMMUTABLE", "value": "seven"},
		{"name": "PUSH", "value": "0"},
		{"name": "DUP1"},
		{"name": "RETURN"}
	],
	".data": {"0": {".code": [
		{"name": "PUSHIMMUTABLE", "value": "seven"},
		{"name": "PUSH", "value": "1"},
		{"name": "ADD"},
		{"name": "PUSH", "value": "0"},
		{"name": "MSTORE"},
		{"name": "PUSH", "value": "20"},
		{"name": "PUSH", "value": "0"},
		{"name": "RETURN"}
	]}}
}`

func writeFile(t testing.TB, dir, name, data string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func solcOutputJSON(t testing.TB) string {
	var a asm.Assembly
	require.NoError(t, json.Unmarshal([]byte(counterAssembly), &a))
	o := solc.Output{
		Contracts: map[string]map[string]*solc.Contract{
			"counter.sol": {"Counter": {ABI: json.RawMessage(`[]`), EVM: &solc.EVM{LegacyAssembly: &a}}},
		},
		Version: "0.8.20+commit.a1b79de6",
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	return string(data)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "zkc.yaml", `
solc: /opt/solc
optimize: true
workers: 8
libraries:
  - "lib.sol:Math=0x00000000000000000000000000000000000000ab"
dump: [ethir]
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "/opt/solc", cfg.Solc)
	require.True(t, cfg.Optimize)
	require.Equal(t, 8, cfg.Workers)

	cfg = cfg.Merge(Config{Workers: 2, Dump: []string{"ir"}, Binary: true})
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, "/opt/solc", cfg.Solc)
	require.True(t, cfg.Binary)
	flags, err := cfg.DumpFlags()
	require.NoError(t, err)
	require.Equal(t, project.DumpEthIR|project.DumpIR, flags)

	_, err = Config{Dump: []string{"llvm"}}.DumpFlags()
	require.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "optimise: true\n")
	_, err = LoadConfig(bad)
	require.Error(t, err)
}

func TestBuildFromOutput(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()
	input := writeFile(t, dir, "out.json", solcOutputJSON(t))
	outDir := filepath.Join(dir, "build")

	var out bytes.Buffer
	j := &buildJob{
		cfg:   DefaultConfig().Merge(Config{OutputDir: outDir, Binary: true, Assembly: true, ABI: true}),
		input: input,
		out:   &out,
	}
	require.NoError(t, j.run(ctx))
	for _, name := range []string{
		"counter.sol:Counter.deploy.zbin",
		"counter.sol:Counter.runtime.zbin",
		"counter.sol:Counter.runtime.zasm",
		"counter.sol:Counter.abi",
	} {
		require.FileExists(t, filepath.Join(outDir, name))
	}

	// existing files are kept
	p := filepath.Join(outDir, "counter.sol:Counter.abi")
	require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))
	require.NoError(t, j.run(ctx))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))

	j.cfg.Overwrite = true
	require.NoError(t, j.run(ctx))
	data, err = os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestStandardJSON(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()
	var out bytes.Buffer
	j := &buildJob{
		cfg:          DefaultConfig(),
		input:        writeFile(t, dir, "out.json", solcOutputJSON(t)),
		standardJSON: true,
		out:          &out,
	}
	require.NoError(t, j.run(ctx))
	o, err := solc.ParseOutput(out.Bytes())
	require.NoError(t, err)
	c := o.Contracts["counter.sol"]["Counter"]
	require.Len(t, c.DeployHash, 64)
	require.NotEmpty(t, c.EVM.DeployedBytecode.Object)
}

func TestCombinedJSON(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()
	var out bytes.Buffer
	j := &buildJob{
		cfg:   DefaultConfig().Merge(Config{CombinedJSON: true}),
		input: writeFile(t, dir, "out.json", solcOutputJSON(t)),
		out:   &out,
	}
	require.NoError(t, j.run(ctx))
	var doc struct {
		Contracts map[string]project.CombinedContract `json:"contracts"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	require.Contains(t, doc.Contracts, "counter.sol:Counter")
	require.NotEmpty(t, doc.Contracts["counter.sol:Counter"].BinRuntime)
}

func TestPersistentCache(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()
	cfg := DefaultConfig().Merge(Config{Cache: filepath.Join(dir, "cache.db")})
	j := &buildJob{cfg: cfg, input: writeFile(t, dir, "out.json", solcOutputJSON(t)), out: &bytes.Buffer{}}
	require.NoError(t, j.run(ctx))

	b, closeDB, err := j.backend(ctx)
	require.NoError(t, err)
	defer closeDB()
	a, err := solcOutputContracts(t, ctx)
	require.NoError(t, err)
	p, err := project.New(project.Config{Version: zkc.MustParseVersion("0.8.20"), Backend: b}, a...)
	require.NoError(t, err)
	_, err = p.CompileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, b.Stats().IndexHits)
	require.Zero(t, b.Stats().Builds)
}

func solcOutputContracts(t testing.TB, ctx context.Context) ([]*project.Contract, error) {
	o, err := solc.ParseOutput([]byte(solcOutputJSON(t)))
	require.NoError(t, err)
	return o.ProjectContracts(ctx, zkc.MustParseVersion("0.8.20"), zkc.PipelineEVMLA, nil)
}

func TestRunAssembly(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()
	a, path, err := loadAssembly(writeFile(t, dir, "counter.json", counterAssembly))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "counter.json")+":counter", path)

	cb, err := compileAssembly(ctx, zkc.MustParseVersion("0.8.20"), path, a, true)
	require.NoError(t, err)
	res, err := deployAndCall(ctx, cb, nil)
	require.NoError(t, err)
	require.Equal(t, vmir.ExitReturn, res.Kind)
	require.Equal(t, uint256.NewInt(8), new(uint256.Int).SetBytes(res.Data))
}

func TestPipelineFallback(t *testing.T) {
	ctx := testutil.Context(t)
	j := &buildJob{cfg: DefaultConfig()}
	require.Equal(t, zkc.PipelineEVMLA, j.pipeline(ctx, zkc.MustParseVersion("0.8.20")))
	require.Equal(t, zkc.PipelineEVMLA, j.pipeline(ctx, zkc.MustParseVersion("0.7.6")))
}

func runCLI(t testing.TB, args ...string) string {
	var out, errOut bytes.Buffer
	err := star.Run(testutil.Context(t), Root(), map[string]string{}, "zkc", args,
		bufio.NewReader(strings.NewReader("")), bufio.NewWriter(&out), bufio.NewWriter(&errOut))
	require.NoError(t, err, errOut.String())
	return out.String()
}

func TestCLI(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "out.json", solcOutputJSON(t))
	asmFile := writeFile(t, dir, "counter.json", counterAssembly)

	out := runCLI(t, "build", "--input", input, "--combined-json", "true", "--workers", "2")
	require.Contains(t, out, `"counter.sol:Counter"`)

	outDir := filepath.Join(dir, "build")
	runCLI(t, "build", "--input", input, "--out", outDir, "--libraries", "lib.sol:L=0x0000000000000000000000000000000000000001")
	require.FileExists(t, filepath.Join(outDir, "counter.sol:Counter.deploy.zbin"))
	require.FileExists(t, filepath.Join(outDir, "counter.sol:Counter.abi"))

	out = runCLI(t, "run", asmFile)
	require.Contains(t, out, "EXIT: return")
	require.Contains(t, out, "DATA: 0x"+strings.Repeat("00", 31)+"08")

	out = runCLI(t, "ethir", asmFile, "--code", "deploy")
	require.Contains(t, out, "function function_main")
	require.Contains(t, out, "ASSIGNIMMUTABLE")
}

func TestParams(t *testing.T) {
	xs, err := librariesParam.Parse(" a.sol:A=0x1, ,b.sol:B=0x2")
	require.NoError(t, err)
	require.Equal(t, []string{"a.sol:A=0x1", "b.sol:B=0x2"}, xs)
	require.Equal(t, star.Symbol("workers"), workersParam.Name)
}

// lockedBuffer counts the writes made to it.
type lockedBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
}

func (b *lockedBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	return b.buf.Write(data)
}

func (b *lockedBuffer) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.Context(t))
	defer cancel()
	dir := t.TempDir()
	data := solcOutputJSON(t)
	input := writeFile(t, dir, "out.json", data)
	out := &lockedBuffer{}
	j := &buildJob{
		cfg:   DefaultConfig().Merge(Config{CombinedJSON: true}),
		input: input,
		out:   out,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- j.watch(ctx)
	}()
	// the watcher may not be registered yet, so the file is written until a build shows up
	require.Eventually(t, func() bool {
		if out.Writes() > 0 {
			return true
		}
		os.WriteFile(input, []byte(data), 0o644)
		return false
	}, 5*time.Second, 100*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Contains(t, out.buf.String(), `"counter.sol:Counter"`)
}
