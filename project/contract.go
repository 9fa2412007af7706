package project

import (
	"context"
	"encoding/json"
	"fmt"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/ethir"
	"zkc.dev/zkc/yul"
)

// ContractID is the index of a contract in its Project.
type ContractID int

// Source is one code part of a contract in a form that can be lowered.
// It is either a *YulSource or an *EVMLASource.
type Source interface {
	Declare(c *codegen.Context) error
	Define(c *codegen.Context) error

	isSource()
}

// YulSource is code given as a Yul object.
type YulSource struct {
	Object *yul.Object
}

func (s *YulSource) Declare(c *codegen.Context) error { return s.Object.Declare(c) }
func (s *YulSource) Define(c *codegen.Context) error  { return s.Object.Define(c) }
func (s *YulSource) isSource()                        {}

// EVMLASource is code given as legacy assembly, already split into functions.
type EVMLASource struct {
	IR *ethir.EtherealIR
}

func (s *EVMLASource) Declare(c *codegen.Context) error { return s.IR.Declare(c) }
func (s *EVMLASource) Define(c *codegen.Context) error  { return s.IR.Define(c) }
func (s *EVMLASource) isSource()                        {}

// Contract is a contract waiting to be compiled.
type Contract struct {
	// Path is the full path of the contract, file:Name.
	Path string
	// Identifier is how other code refers to the contract.
	Identifier string

	Deploy  Source
	Runtime Source
	ABI     json.RawMessage
	// FactoryDependencies are the identifiers of the contracts this one can create.
	FactoryDependencies map[string]struct{}
}

// NewYulContract creates a contract from a deploy code object with its runtime code object inside.
func NewYulContract(path string, obj *yul.Object, abi json.RawMessage) (*Contract, error) {
	if obj.IsRuntime() {
		return nil, fmt.Errorf("%s: object %s holds runtime code", path, obj.Identifier)
	}
	if obj.Inner == nil || !obj.Inner.IsRuntime() {
		return nil, fmt.Errorf("%s: object %s has no runtime code object", path, obj.Identifier)
	}
	deps := make(map[string]struct{})
	for _, o := range []*yul.Object{obj, obj.Inner} {
		for id := range o.FactoryDependencies {
			deps[id] = struct{}{}
		}
	}
	return &Contract{
		Path:                path,
		Identifier:          obj.Identifier,
		Deploy:              &YulSource{Object: obj},
		Runtime:             &YulSource{Object: obj.Inner},
		ABI:                 abi,
		FactoryDependencies: deps,
	}, nil
}

// HashPaths maps the Keccak256 of every assembly to the path of its contract.
// It has to be computed before any of the assemblies are passed to NewEVMLAContract.
func HashPaths(assemblies map[string]*asm.Assembly) map[string]string {
	ret := make(map[string]string, len(assemblies))
	for p, a := range assemblies {
		ret[a.Keccak256()] = p
	}
	return ret
}

// NewEVMLAContract creates a contract from a deploy code assembly.
// The data entries of the assembly are resolved into contract paths with hashPaths, see HashPaths.
func NewEVMLAContract(ctx context.Context, v zkc.Version, path string, a *asm.Assembly, hashPaths map[string]string, abi json.RawMessage) (*Contract, error) {
	deployIndexes, err := a.DeployDependenciesPass(path, hashPaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	runtimeIndexes, err := a.RuntimeDependenciesPass(path, hashPaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rt, err := a.Runtime()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	asm.ReplaceDataAliases(a.Code, deployIndexes)
	asm.ReplaceDataAliases(rt.Code, runtimeIndexes)

	deploy, err := ethir.New(ctx, v, path, codegen.Deploy, a.Code, a.DeployDependencies)
	if err != nil {
		return nil, err
	}
	runtime, err := ethir.New(ctx, v, path, codegen.Runtime, rt.Code, a.RuntimeDependencies)
	if err != nil {
		return nil, err
	}
	deps := make(map[string]struct{})
	for _, m := range []map[string]struct{}{a.DeployDependencies, a.RuntimeDependencies} {
		for p := range m {
			deps[p] = struct{}{}
		}
	}
	return &Contract{
		Path:                path,
		Identifier:          path,
		Deploy:              &EVMLASource{IR: deploy},
		Runtime:             &EVMLASource{IR: runtime},
		ABI:                 abi,
		FactoryDependencies: deps,
	}, nil
}
