package yul

import (
	"fmt"
	"strings"

	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/vmir"
)

// LibraryDeployAddress is the immutable holding the address a library was deployed at.
const LibraryDeployAddress = "library_deploy_address"

// GlobalGetterPrefix starts the verbatim internal functions reading a global of the call.
const GlobalGetterPrefix = "get_global::"

type builtin struct {
	in, out int
	lower   func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error)
}

func opBuiltin(op vmir.Op) builtin {
	return builtin{
		in:  op.InDegree(),
		out: op.OutDegree(),
		lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
			return c.Op(op, values(args)...), nil
		},
	}
}

func unsupported(name string, in int) builtin {
	return builtin{in: in, lower: func(*codegen.Context, []codegen.Argument) (vmir.Operand, error) {
		return vmir.Operand{}, fmt.Errorf("`%s`: %w", name, ErrUnsupported)
	}}
}

func literalOf(a codegen.Argument, what string) (string, error) {
	if a.Original.Kind != codegen.KindLiteral {
		return "", fmt.Errorf("`%s`: %w", what, ErrMissingLiteral)
	}
	return a.Original.Value, nil
}

var builtins = func() map[string]builtin {
	m := make(map[string]builtin)
	for _, name := range []string{
		"add", "sub", "mul", "div", "sdiv", "mod", "smod", "addmod", "mulmod", "exp", "signextend",
		"lt", "gt", "slt", "sgt", "eq", "iszero",
		"and", "or", "xor", "not", "byte", "shl", "shr", "sar",
		"mload", "mstore", "mstore8", "msize", "keccak256", "sload", "sstore",
		"calldataload", "calldatasize", "calldatacopy", "returndatasize", "returndatacopy",
		"extcodesize", "extcodehash",
		"address", "caller", "callvalue", "gas", "balance", "gaslimit", "gasprice", "origin",
		"chainid", "timestamp", "number", "blockhash", "difficulty", "coinbase", "basefee",
		"create", "create2",
	} {
		op, ok := vmir.ParseOp(name)
		if !ok {
			panic("yul: no operation for builtin " + name)
		}
		m[name] = opBuiltin(op)
	}
	m["call"] = opBuiltin(vmir.FarCall)
	m["staticcall"] = opBuiltin(vmir.StaticCall)
	m["delegatecall"] = opBuiltin(vmir.DelegateCall)
	m["prevrandao"] = opBuiltin(vmir.Difficulty)
	m["codesize"] = opBuiltin(vmir.CallDataSize)

	m["pop"] = builtin{in: 1, lower: func(*codegen.Context, []codegen.Argument) (vmir.Operand, error) {
		return vmir.Operand{}, nil
	}}
	m["callcode"] = builtin{in: 7, out: 1, lower: func(*codegen.Context, []codegen.Argument) (vmir.Operand, error) {
		return vmir.U64(0), nil
	}}
	m["selfbalance"] = builtin{in: 0, out: 1, lower: func(c *codegen.Context, _ []codegen.Argument) (vmir.Operand, error) {
		return c.Op(vmir.Balance, c.Op(vmir.Address)), nil
	}}
	m["codecopy"] = builtin{in: 3, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		if c.CodeType() == codegen.Runtime {
			return vmir.Operand{}, fmt.Errorf("`codecopy` in runtime code: %w", ErrUnsupported)
		}
		return c.Op(vmir.CallDataCopy, values(args)...), nil
	}}

	m["return"] = builtin{in: 2, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		c.Return(args[0].Value, args[1].Value)
		return vmir.Operand{}, nil
	}}
	m["revert"] = builtin{in: 2, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		c.Revert(args[0].Value, args[1].Value)
		return vmir.Operand{}, nil
	}}
	m["stop"] = builtin{lower: func(c *codegen.Context, _ []codegen.Argument) (vmir.Operand, error) {
		c.Stop()
		return vmir.Operand{}, nil
	}}
	m["invalid"] = builtin{lower: func(c *codegen.Context, _ []codegen.Argument) (vmir.Operand, error) {
		c.Invalid()
		return vmir.Operand{}, nil
	}}
	for n := 0; n <= 4; n++ {
		m[fmt.Sprintf("log%d", n)] = builtin{in: 2 + n, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
			c.Log(args[0].Value, args[1].Value, values(args[2:]))
			return vmir.Operand{}, nil
		}}
	}

	m["dataoffset"] = builtin{in: 1, out: 1, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		id, err := literalOf(args[0], "dataoffset")
		if err != nil {
			return vmir.Operand{}, err
		}
		return c.ContractHash(id)
	}}
	m["datasize"] = builtin{in: 1, out: 1, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		if _, err := literalOf(args[0], "datasize"); err != nil {
			return vmir.Operand{}, err
		}
		return c.HeaderSize(), nil
	}}
	m["datacopy"] = builtin{in: 3, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		c.StoreContractHash(args[0].Value, args[1].Value)
		return vmir.Operand{}, nil
	}}
	m["linkersymbol"] = builtin{in: 1, out: 1, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		path, err := literalOf(args[0], "linkersymbol")
		if err != nil {
			return vmir.Operand{}, err
		}
		return c.LibraryAddress(path)
	}}
	m["memoryguard"] = builtin{in: 1, out: 1, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		return args[0].Value, nil
	}}
	m["loadimmutable"] = builtin{in: 1, out: 1, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		key, err := literalOf(args[0], "loadimmutable")
		if err != nil {
			return vmir.Operand{}, err
		}
		if key == LibraryDeployAddress {
			return c.CodeSource(), nil
		}
		return c.LoadImmutable(key), nil
	}}
	m["setimmutable"] = builtin{in: 3, lower: func(c *codegen.Context, args []codegen.Argument) (vmir.Operand, error) {
		key, err := literalOf(args[1], "setimmutable")
		if err != nil {
			return vmir.Operand{}, err
		}
		if key != LibraryDeployAddress {
			c.StoreImmutable(key, args[2].Value)
		}
		return vmir.Operand{}, nil
	}}

	m["pc"] = unsupported("pc", 0)
	m["extcodecopy"] = unsupported("extcodecopy", 4)
	m["selfdestruct"] = unsupported("selfdestruct", 1)
	return m
}()

func (l *lowerer) builtin(e *FunctionCall, b builtin, sc *scope) ([]vmir.Operand, error) {
	args, err := l.arguments(e.Arguments, sc)
	if err != nil {
		return nil, err
	}
	if len(args) != b.in {
		return nil, errorAt(e.Location, ErrArgumentCount{Function: e.Name, Expected: b.in, Found: len(args)})
	}
	out, err := b.lower(l.c, args)
	if err != nil {
		return nil, errorAt(e.Location, err)
	}
	if b.out == 0 {
		return nil, nil
	}
	return []vmir.Operand{out}, nil
}

// internals are the system functions reachable through verbatim instructions, by their number of inputs.
var internals = map[string]int{
	"to_l1":                      3,
	"code_source":                0,
	"precompile":                 2,
	"meta":                       0,
	"mimic_call":                 3,
	"mimic_call_byref":           2,
	"system_mimic_call":          5,
	"system_mimic_call_byref":    4,
	"raw_call":                   4,
	"raw_call_byref":             3,
	"system_call":                6,
	"system_call_byref":          5,
	"raw_static_call":            4,
	"raw_static_call_byref":      3,
	"system_static_call":         6,
	"system_static_call_byref":   5,
	"raw_delegate_call":          4,
	"raw_delegate_call_byref":    3,
	"system_delegate_call":       6,
	"system_delegate_call_byref": 5,
	"set_context_u128":           1,
	"set_pubdata_price":          1,
	"increment_tx_counter":       0,
	"calldata_ptr_to_active":     0,
	"return_data_ptr_to_active":  0,
	"active_ptr_add_assign":      1,
	"active_ptr_shrink_assign":   1,
	"active_ptr_pack_assign":     1,
	"mul_high":                   2,
	"throw":                      0,
}

var globals = map[string]struct{}{
	"ptr_calldata":     {},
	"call_flags":       {},
	"extra_abi_data_1": {},
	"extra_abi_data_2": {},
	"ptr_return_data":  {},
}

// parseVerbatim parses the numbers of inputs and outputs from the name of a verbatim instruction.
func parseVerbatim(name string) (in, out int, ok bool) {
	if !strings.HasPrefix(name, "verbatim_") {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(name, "verbatim_%di_%do", &in, &out); err != nil {
		return 0, 0, false
	}
	if fmt.Sprintf("verbatim_%di_%do", in, out) != name {
		return 0, 0, false
	}
	return in, out, true
}

// verbatim lowers a verbatim instruction, which names an internal function in its first argument.
func (l *lowerer) verbatim(e *FunctionCall, in, out int, sc *scope) ([]vmir.Operand, error) {
	if out > 1 {
		return nil, errorAt(e.Location, fmt.Errorf("verbatim with %d outputs: %w", out, ErrUnsupported))
	}
	args, err := l.arguments(e.Arguments, sc)
	if err != nil {
		return nil, err
	}
	if len(args) != in+1 {
		return nil, errorAt(e.Location, ErrArgumentCount{Function: e.Name, Expected: in + 1, Found: len(args)})
	}
	id, err := literalOf(args[0], "verbatim")
	if err != nil {
		return nil, errorAt(e.Location, err)
	}
	x, err := l.internal(id, in, out == 1, values(args[1:]))
	if err != nil {
		return nil, errorAt(e.Location, err)
	}
	if out == 0 {
		return nil, nil
	}
	return []vmir.Operand{x}, nil
}

func (l *lowerer) internal(id string, in int, hasResult bool, args []vmir.Operand) (vmir.Operand, error) {
	c := l.c
	if g, ok := strings.CutPrefix(id, GlobalGetterPrefix); ok {
		if in != 0 {
			return vmir.Operand{}, ErrArgumentCount{Function: id, Expected: 0, Found: in}
		}
		if _, ok := globals[g]; !ok {
			return vmir.Operand{}, fmt.Errorf("invalid global variable identifier `%s`", g)
		}
		return c.Intrinsic(id, true), nil
	}
	arity, ok := internals[id]
	if !ok {
		return vmir.Operand{}, ErrUnknownInternalFunction{Name: id}
	}
	if in != arity {
		return vmir.Operand{}, ErrArgumentCount{Function: id, Expected: arity, Found: in}
	}
	switch id {
	case "code_source":
		return c.CodeSource(), nil
	case "throw":
		c.Invalid()
		return vmir.U64(0), nil
	default:
		return c.Intrinsic(id, hasResult, args...), nil
	}
}
