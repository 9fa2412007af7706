// Package solc models the standard JSON documents exchanged with the solc compiler,
// and turns its output into a project.
package solc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.brendoncarroll.net/exp/slices2"
	"go.brendoncarroll.net/stdctx/logctx"
	"golang.org/x/exp/maps"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/project"
	"zkc.dev/zkc/yul"
)

var ErrNoYulParser = errors.New("the Yul pipeline needs a parser for Yul source text")

// Output is a standard JSON output document.
type Output struct {
	// Contracts maps files to contract names to contracts.
	Contracts map[string]map[string]*Contract `json:"contracts,omitempty"`
	Sources   map[string]json.RawMessage      `json:"sources,omitempty"`
	Errors    []*Error                        `json:"errors,omitempty"`
	Version   string                          `json:"version,omitempty"`

	LongVersion string `json:"long_version,omitempty"`
	ZkVersion   string `json:"zk_version,omitempty"`
}

type Contract struct {
	ABI         json.RawMessage `json:"abi,omitempty"`
	IROptimized string          `json:"irOptimized,omitempty"`
	EVM         *EVM            `json:"evm,omitempty"`

	DeployHash                 string            `json:"hash,omitempty"`
	DeployFactoryDependencies  map[string]string `json:"factoryDependencies,omitempty"`
	RuntimeHash                string            `json:"runtimeHash,omitempty"`
	RuntimeFactoryDependencies map[string]string `json:"runtimeFactoryDependencies,omitempty"`
}

type EVM struct {
	LegacyAssembly   *asm.Assembly `json:"legacyAssembly,omitempty"`
	Bytecode         *Bytecode     `json:"bytecode,omitempty"`
	DeployedBytecode *Bytecode     `json:"deployedBytecode,omitempty"`
}

type Bytecode struct {
	Object string `json:"object"`
}

type SourceLocation struct {
	File  string `json:"file"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Error is a diagnostic reported by the compiler.
type Error struct {
	Component        string          `json:"component"`
	ErrorCode        *string         `json:"errorCode,omitempty"`
	FormattedMessage string          `json:"formattedMessage"`
	Message          string          `json:"message"`
	Severity         string          `json:"severity"`
	SourceLocation   *SourceLocation `json:"sourceLocation,omitempty"`
	Type             string          `json:"type"`
}

func (e *Error) Error() string {
	if e.FormattedMessage != "" {
		return e.FormattedMessage
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// PushContractPath appends the path of the contract the diagnostic is about to its message.
func (e *Error) PushContractPath(path string) {
	e.FormattedMessage += fmt.Sprintf("\n--> %s\n", path)
}

// NewWarning returns a diagnostic with severity warning.
func NewWarning(message string, loc *SourceLocation) *Error {
	return &Error{
		Component:        "general",
		FormattedMessage: message,
		Message:          message,
		Severity:         "warning",
		SourceLocation:   loc,
		Type:             "Warning",
	}
}

// Check logs the diagnostics of the output and returns an error if any of them is an error.
func (o *Output) Check(ctx context.Context) error {
	var errs []error
	for _, e := range o.Errors {
		if e.Severity == "error" {
			errs = append(errs, e)
			continue
		}
		logctx.Warnf(ctx, "%s", e.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("error(s) found, compilation aborted: %w", errors.Join(errs...))
	}
	return nil
}

// Paths returns the full paths of all the contracts in the output, sorted.
func (o *Output) Paths() []string {
	var ret []string
	for file, cs := range o.Contracts {
		for name := range cs {
			ret = append(ret, file+":"+name)
		}
	}
	slices.Sort(ret)
	return ret
}

// YulParser parses the optimized Yul of the contract at path.
type YulParser func(path, source string) (*yul.Object, error)

// ProjectContracts converts the contracts of the output to be lowered through the pipeline.
// Contracts without code, such as interfaces, are skipped.
func (o *Output) ProjectContracts(ctx context.Context, v zkc.Version, pipeline zkc.Pipeline, parse YulParser) ([]*project.Contract, error) {
	switch pipeline {
	case zkc.PipelineEVMLA:
		return o.evmlaContracts(ctx, v)
	case zkc.PipelineYul:
		if parse == nil {
			return nil, ErrNoYulParser
		}
		return o.yulContracts(parse)
	default:
		return nil, fmt.Errorf("unknown pipeline %v", pipeline)
	}
}

func (o *Output) evmlaContracts(ctx context.Context, v zkc.Version) ([]*project.Contract, error) {
	assemblies := make(map[string]*asm.Assembly)
	abis := make(map[string]json.RawMessage)
	for _, path := range o.Paths() {
		c := o.contract(path)
		if c.EVM == nil || c.EVM.LegacyAssembly == nil {
			continue
		}
		assemblies[path] = c.EVM.LegacyAssembly
		abis[path] = c.ABI
	}
	hashPaths := project.HashPaths(assemblies)
	paths := maps.Keys(assemblies)
	slices.Sort(paths)
	var ret []*project.Contract
	for _, path := range paths {
		a := assemblies[path]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c, err := project.NewEVMLAContract(ctx, v, path, a, hashPaths, abis[path])
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func (o *Output) yulContracts(parse YulParser) ([]*project.Contract, error) {
	var ret []*project.Contract
	for _, path := range o.Paths() {
		c := o.contract(path)
		if c.IROptimized == "" {
			continue
		}
		obj, err := parse(path, c.IROptimized)
		if err != nil {
			return nil, fmt.Errorf("Yul object `%s` parsing error: %w", path, err)
		}
		pc, err := project.NewYulContract(path, obj, c.ABI)
		if err != nil {
			return nil, err
		}
		ret = append(ret, pc)
	}
	return ret, nil
}

func (o *Output) contract(path string) *Contract {
	i := strings.LastIndex(path, ":")
	return o.Contracts[path[:i]][path[i+1:]]
}

// WriteBuild replaces the code of the contracts in the output with the built bytecode.
func (o *Output) WriteBuild(b *project.Build) error {
	for path, cb := range b.Contracts {
		i := strings.LastIndex(path, ":")
		if i < 0 {
			return fmt.Errorf("malformed contract path %q", path)
		}
		file, name := path[:i], path[i+1:]
		c := o.Contracts[file][name]
		if c == nil {
			return fmt.Errorf("contract %s is not in the output", path)
		}
		c.IROptimized = ""
		c.EVM = &EVM{
			Bytecode:         &Bytecode{Object: hex.EncodeToString(cb.Deploy.Bytecode)},
			DeployedBytecode: &Bytecode{Object: hex.EncodeToString(cb.Runtime.Bytecode)},
		}
		c.DeployHash = cb.Deploy.Hash
		c.DeployFactoryDependencies = cb.Deploy.FactoryDependencies
		c.RuntimeHash = cb.Runtime.Hash
		c.RuntimeFactoryDependencies = cb.Runtime.FactoryDependencies
	}
	return nil
}

// ErrorMessages returns the formatted messages of the diagnostics.
func (o *Output) ErrorMessages() []string {
	return slices2.Map(o.Errors, func(e *Error) string { return e.Error() })
}
