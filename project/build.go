package project

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.brendoncarroll.net/stdctx/logctx"

	"zkc.dev/zkc/backend"
	"zkc.dev/zkc/codegen"
)

// File extensions of the build outputs.
const (
	ExtBinary   = "zbin"
	ExtAssembly = "zasm"
	ExtABI      = "abi"
)

// ContractBuild is a compiled contract.
type ContractBuild struct {
	Path       string
	Identifier string
	Deploy     *backend.Artifact
	Runtime    *backend.Artifact
	// FactoryDependencies maps the deploy code hashes of the contracts either part can create to their paths.
	FactoryDependencies map[string]string
	ABI                 json.RawMessage
}

// Build is the result of compiling a whole project, by contract path.
type Build struct {
	Contracts map[string]*ContractBuild
}

// Outputs selects the files written by WriteToDirectory.
type Outputs struct {
	Assembly bool
	Binary   bool
	ABI      bool
}

// WriteToDirectory writes the selected outputs of every contract into dir.
// Existing files are left alone unless overwrite is set.
func (b *Build) WriteToDirectory(ctx context.Context, dir string, outs Outputs, overwrite bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range sortedKeys(b.Contracts) {
		if err := b.Contracts[p].writeToDirectory(ctx, dir, outs, overwrite); err != nil {
			return err
		}
	}
	return nil
}

func (cb *ContractBuild) writeToDirectory(ctx context.Context, dir string, outs Outputs, overwrite bool) error {
	name := ShortPath(cb.Path)
	parts := []struct {
		ct codegen.CodeType
		a  *backend.Artifact
	}{
		{codegen.Deploy, cb.Deploy},
		{codegen.Runtime, cb.Runtime},
	}
	for _, part := range parts {
		if outs.Assembly {
			p := filepath.Join(dir, fmt.Sprintf("%s.%v.%s", name, part.ct, ExtAssembly))
			if err := writeFile(ctx, p, []byte(part.a.Text()), overwrite); err != nil {
				return err
			}
		}
		if outs.Binary {
			p := filepath.Join(dir, fmt.Sprintf("%s.%v.%s", name, part.ct, ExtBinary))
			if err := writeFile(ctx, p, part.a.Bytecode, overwrite); err != nil {
				return err
			}
		}
	}
	if outs.ABI && cb.ABI != nil {
		p := filepath.Join(dir, name+"."+ExtABI)
		if err := writeFile(ctx, p, cb.ABI, overwrite); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(ctx context.Context, p string, data []byte, overwrite bool) error {
	if !overwrite {
		_, err := os.Stat(p)
		if err == nil {
			logctx.Warnf(ctx, "refusing to overwrite an existing file %q (use --overwrite to force)", p)
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.WriteFile(p, data, 0o644)
}

// ShortPath is the path of a contract after the last slash.
func ShortPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// CombinedContract is the entry of one contract in the combined JSON output.
type CombinedContract struct {
	ABI                json.RawMessage   `json:"abi,omitempty"`
	Bin                string            `json:"bin"`
	BinRuntime         string            `json:"bin-runtime"`
	Hash               string            `json:"hash"`
	RuntimeHash        string            `json:"runtime-hash"`
	DeployFactoryDeps  map[string]string `json:"factory-deps"`
	RuntimeFactoryDeps map[string]string `json:"runtime-factory-deps,omitempty"`
}

// CombinedJSON returns the outputs of every contract in a single JSON document.
func (b *Build) CombinedJSON() ([]byte, error) {
	type doc struct {
		Contracts map[string]CombinedContract `json:"contracts"`
	}
	d := doc{Contracts: make(map[string]CombinedContract, len(b.Contracts))}
	for p, cb := range b.Contracts {
		d.Contracts[p] = CombinedContract{
			ABI:                cb.ABI,
			Bin:                hex.EncodeToString(cb.Deploy.Bytecode),
			BinRuntime:         hex.EncodeToString(cb.Runtime.Bytecode),
			Hash:               cb.Deploy.Hash,
			RuntimeHash:        cb.Runtime.Hash,
			DeployFactoryDeps:  cb.Deploy.FactoryDependencies,
			RuntimeFactoryDeps: cb.Runtime.FactoryDependencies,
		}
	}
	return json.MarshalIndent(d, "", "  ")
}
