package zkccmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.brendoncarroll.net/star"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/backend"
	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/ethir"
	"zkc.dev/zkc/project"
	"zkc.dev/zkc/vmir"
)

var codeTypeParam = star.Param[codegen.CodeType]{
	Name:     "code",
	Repeated: true,
	Parse: func(x string) (codegen.CodeType, error) {
		switch x {
		case "deploy":
			return codegen.Deploy, nil
		case "runtime":
			return codegen.Runtime, nil
		default:
			return 0, fmt.Errorf("unknown code type %q, want deploy or runtime", x)
		}
	},
}

var ethirCmd = star.Command{
	Metadata: star.Metadata{
		Short: "print the functions recovered from a legacy assembly file",
	},
	Pos:   []star.IParam{asmFileParam},
	Flags: []star.IParam{versionParam, codeTypeParam, verboseParam},
	F: func(c star.Context) error {
		ctx, sync, err := setup(c)
		if err != nil {
			return err
		}
		defer sync()
		a, path, err := loadAssembly(asmFileParam.Load(c))
		if err != nil {
			return err
		}
		ct := loadOr(c, codeTypeParam, codegen.Runtime)
		code := a.Code
		if ct == codegen.Runtime {
			rt, err := a.Runtime()
			if err != nil {
				return err
			}
			code = rt.Code
		}
		ir, err := ethir.New(ctx, loadOr(c, versionParam, defaultVersion), path, ct, code, nil)
		if err != nil {
			return err
		}
		c.Printf("%v\n", ir)
		return nil
	},
}

var calldataParam = star.Param[[]byte]{
	Name:     "calldata",
	Repeated: true,
	Parse: func(x string) ([]byte, error) {
		return hex.DecodeString(strings.TrimPrefix(x, "0x"))
	},
}

var runCmd = star.Command{
	Metadata: star.Metadata{
		Short: "compile a legacy assembly file, deploy it and call it in the reference interpreter",
	},
	Pos:   []star.IParam{asmFileParam},
	Flags: []star.IParam{versionParam, calldataParam, optimizeParam, verboseParam},
	F: func(c star.Context) error {
		ctx, sync, err := setup(c)
		if err != nil {
			return err
		}
		defer sync()
		a, path, err := loadAssembly(asmFileParam.Load(c))
		if err != nil {
			return err
		}
		cb, err := compileAssembly(ctx, loadOr(c, versionParam, defaultVersion), path, a, loadOr(c, optimizeParam, false))
		if err != nil {
			return err
		}
		res, err := deployAndCall(ctx, cb, loadOr(c, calldataParam, nil))
		if err != nil {
			return err
		}
		c.Printf("EXIT: %v\n", res.Kind)
		c.Printf("DATA: 0x%x\n", res.Data)
		for i, l := range res.Logs {
			c.Printf("LOG %d: topics=%v data=0x%x\n", i, l.Topics, l.Data)
		}
		return nil
	},
}

// loadAssembly reads a legacy assembly document. The contract is named after the file.
func loadAssembly(p string) (*asm.Assembly, string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", err
	}
	a, err := asm.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", p, err)
	}
	name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	return a, p + ":" + name, nil
}

// compileAssembly builds a project made of a single contract.
func compileAssembly(ctx context.Context, v zkc.Version, path string, a *asm.Assembly, optimize bool) (*project.ContractBuild, error) {
	contract, err := project.NewEVMLAContract(ctx, v, path, a, nil, nil)
	if err != nil {
		return nil, err
	}
	b, err := backend.New(backend.Config{Optimize: optimize})
	if err != nil {
		return nil, err
	}
	p, err := project.New(project.Config{Version: v, Backend: b}, contract)
	if err != nil {
		return nil, err
	}
	return p.Compile(ctx, path)
}

// deployAndCall runs the deploy code, then calls the runtime code with the state it left.
func deployAndCall(ctx context.Context, cb *project.ContractBuild, calldata []byte) (*vmir.Result, error) {
	deploy := vmir.NewMachine(cb.Deploy.Module, nil)
	res, err := deploy.Run(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("deploy code: %w", err)
	}
	if res.Kind != vmir.ExitReturn {
		return res, nil
	}
	runtime := vmir.NewMachine(cb.Runtime.Module, nil)
	runtime.Storage = deploy.Storage
	runtime.Immutables = deploy.Immutables
	return runtime.Run(ctx, calldata)
}
