// Package ethir reconstructs functions and blocks from legacy assembly, proving the operand stack
// consistent at every merge, and lowers them to the target IR.
package ethir

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"zkc.dev/zkc"
	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
)

// EtherealIR is one code section of a contract split into functions.
type EtherealIR struct {
	Version zkc.Version
	Path    string
	Code    codegen.CodeType
	// Blocks are all the blocks of the section in order, reachable or not.
	Blocks []*Block
	// Functions are in order of discovery, starting with the entry.
	Functions []*Function
	// FactoryDependencies are the paths of the contracts this code may create.
	FactoryDependencies map[string]struct{}
}

// New partitions the instructions into blocks and assembles the functions reachable from the entry.
func New(ctx context.Context, v zkc.Version, path string, code codegen.CodeType, ixs []asm.Instruction, factoryDeps map[string]struct{}) (*EtherealIR, error) {
	blocks, err := Blocks(code, ixs)
	if err != nil {
		return nil, err
	}
	byKey := make(map[BlockKey]*Block, len(blocks))
	for _, b := range blocks {
		byKey[b.Key] = b
	}
	funcs, err := assemble(v, code, byKey)
	if err != nil {
		return nil, fmt.Errorf("%s %v code: %w", path, code, err)
	}
	ir := &EtherealIR{
		Version:             v,
		Path:                path,
		Code:                code,
		Blocks:              blocks,
		Functions:           funcs,
		FactoryDependencies: factoryDeps,
	}
	if n := len(ir.Unreachable()); n > 0 {
		logctx.Debug(ctx, "unreachable blocks", zap.String("path", path), zap.Stringer("code", code), zap.Int("count", n))
	}
	return ir, nil
}

// Unreachable returns the blocks not entered by any function.
func (ir *EtherealIR) Unreachable() []*Block {
	reached := make(map[BlockKey]struct{})
	for _, f := range ir.Functions {
		for _, inst := range f.Blocks {
			reached[inst.Block.Key] = struct{}{}
		}
	}
	var ret []*Block
	for _, b := range ir.Blocks {
		if _, ok := reached[b.Key]; !ok {
			ret = append(ret, b)
		}
	}
	return ret
}

// Function returns the function with the name or nil.
func (ir *EtherealIR) Function(name string) *Function {
	for _, f := range ir.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Declare adds every function to the module of c.
func (ir *EtherealIR) Declare(c *codegen.Context) error {
	for _, f := range ir.Functions {
		if _, err := c.DeclareFunction(f.Name, f.Inputs, max(f.Outputs, 0)); err != nil {
			return err
		}
	}
	c.Module().Entry = EntryTag
	return nil
}

// Define lowers the bodies of the functions declared by Declare.
func (ir *EtherealIR) Define(c *codegen.Context) error {
	results := make(map[string]int, len(ir.Functions))
	for _, f := range ir.Functions {
		results[f.Name] = max(f.Outputs, 0)
	}
	for _, f := range ir.Functions {
		if err := lowerFunction(c, f, ir.Version, results); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo prints every function with the stack after each instruction.
func (ir *EtherealIR) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, ir.String())
	return int64(n), err
}

func (ir *EtherealIR) String() string {
	var sb strings.Builder
	for _, f := range ir.Functions {
		outputs := "?"
		if f.Outputs >= 0 {
			outputs = fmt.Sprint(f.Outputs)
		}
		fmt.Fprintf(&sb, "function %s (%d -> %s) {\n", f.Name, f.Inputs, outputs)
		for _, inst := range f.Blocks {
			fmt.Fprintf(&sb, "  block %v %v:\n", inst.Block.Key, inst.Entry)
			for i, ix := range inst.Block.Instructions {
				if i < len(inst.Trace) {
					fmt.Fprintf(&sb, "    %-40s %v\n", ix.String(), inst.Trace[i])
				} else {
					fmt.Fprintf(&sb, "    %s\n", ix.String())
				}
			}
			sb.WriteString("    " + inst.Exit.String() + "\n")
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

func (x Exit) String() string {
	switch x.Kind {
	case ExitHalt:
		return "halt"
	case ExitFallthrough:
		return fmt.Sprintf("fallthrough %v", x.Target)
	case ExitJump:
		return fmt.Sprintf("jump %v", x.Target)
	case ExitBranch:
		if x.Else == nil {
			return fmt.Sprintf("branch %v else stop", x.Target)
		}
		return fmt.Sprintf("branch %v else %v", x.Target, *x.Else)
	case ExitCall:
		return fmt.Sprintf("call %s then %v", x.Callee, x.Target)
	case ExitReturn:
		return "return"
	default:
		return fmt.Sprintf("Exit(%d)", x.Kind)
	}
}
