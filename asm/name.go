package asm

import (
	"fmt"
	"strconv"
	"strings"

	"zkc.dev/zkc"
)

// Name is the mnemonic of a legacy assembly instruction, as it appears in the JSON.
type Name string

const (
	PUSH    Name = "PUSH"
	PushTag Name = "PUSH [tag]"
	// PushContractHash takes the place of the offset of a sub assembly.
	PushContractHash Name = "PUSH [$]"
	// PushContractHashSize takes the place of the size of a sub assembly.
	PushContractHashSize Name = "PUSH #[$]"
	PUSHLIB              Name = "PUSHLIB"
	PushData             Name = "PUSH data"
	PUSHDEPLOYADDRESS    Name = "PUSHDEPLOYADDRESS"
	PUSHSIZE             Name = "PUSHSIZE"
	PUSHIMMUTABLE        Name = "PUSHIMMUTABLE"
	ASSIGNIMMUTABLE      Name = "ASSIGNIMMUTABLE"

	Tag      Name = "tag"
	POP      Name = "POP"
	JUMP     Name = "JUMP"
	JUMPI    Name = "JUMPI"
	JUMPDEST Name = "JUMPDEST"

	ADD        Name = "ADD"
	SUB        Name = "SUB"
	MUL        Name = "MUL"
	DIV        Name = "DIV"
	SDIV       Name = "SDIV"
	MOD        Name = "MOD"
	SMOD       Name = "SMOD"
	ADDMOD     Name = "ADDMOD"
	MULMOD     Name = "MULMOD"
	EXP        Name = "EXP"
	SIGNEXTEND Name = "SIGNEXTEND"
	LT         Name = "LT"
	GT         Name = "GT"
	SLT        Name = "SLT"
	SGT        Name = "SGT"
	EQ         Name = "EQ"
	ISZERO     Name = "ISZERO"
	AND        Name = "AND"
	OR         Name = "OR"
	XOR        Name = "XOR"
	NOT        Name = "NOT"
	BYTE       Name = "BYTE"
	SHL        Name = "SHL"
	SHR        Name = "SHR"
	SAR        Name = "SAR"
	SHA3       Name = "SHA3"
	KECCAK256  Name = "KECCAK256"

	MLOAD   Name = "MLOAD"
	MSTORE  Name = "MSTORE"
	MSTORE8 Name = "MSTORE8"
	SLOAD   Name = "SLOAD"
	SSTORE  Name = "SSTORE"

	CALLDATALOAD   Name = "CALLDATALOAD"
	CALLDATASIZE   Name = "CALLDATASIZE"
	CALLDATACOPY   Name = "CALLDATACOPY"
	CODESIZE       Name = "CODESIZE"
	CODECOPY       Name = "CODECOPY"
	RETURNDATASIZE Name = "RETURNDATASIZE"
	RETURNDATACOPY Name = "RETURNDATACOPY"
	EXTCODESIZE    Name = "EXTCODESIZE"
	EXTCODEHASH    Name = "EXTCODEHASH"
	EXTCODECOPY    Name = "EXTCODECOPY"

	RETURN  Name = "RETURN"
	REVERT  Name = "REVERT"
	STOP    Name = "STOP"
	INVALID Name = "INVALID"

	LOG0 Name = "LOG0"
	LOG1 Name = "LOG1"
	LOG2 Name = "LOG2"
	LOG3 Name = "LOG3"
	LOG4 Name = "LOG4"

	CALL         Name = "CALL"
	CALLCODE     Name = "CALLCODE"
	STATICCALL   Name = "STATICCALL"
	DELEGATECALL Name = "DELEGATECALL"
	CREATE       Name = "CREATE"
	CREATE2      Name = "CREATE2"

	ADDRESS     Name = "ADDRESS"
	CALLER      Name = "CALLER"
	CALLVALUE   Name = "CALLVALUE"
	GAS         Name = "GAS"
	BALANCE     Name = "BALANCE"
	SELFBALANCE Name = "SELFBALANCE"
	GASLIMIT    Name = "GASLIMIT"
	GASPRICE    Name = "GASPRICE"
	ORIGIN      Name = "ORIGIN"
	CHAINID     Name = "CHAINID"
	TIMESTAMP   Name = "TIMESTAMP"
	NUMBER      Name = "NUMBER"
	BLOCKHASH   Name = "BLOCKHASH"
	DIFFICULTY  Name = "DIFFICULTY"
	COINBASE    Name = "COINBASE"
	BASEFEE     Name = "BASEFEE"
	MSIZE       Name = "MSIZE"

	PC           Name = "PC"
	SELFDESTRUCT Name = "SELFDESTRUCT"
)

type nameInfo struct {
	in, out int
	// operand is set for instructions that carry a literal value.
	operand bool
}

var names = func() map[Name]nameInfo {
	m := map[Name]nameInfo{
		PUSH:                 {0, 1, true},
		PushTag:              {0, 1, true},
		PushContractHash:     {0, 1, true},
		PushContractHashSize: {0, 1, true},
		PUSHLIB:              {0, 1, true},
		PushData:             {0, 1, true},
		PUSHDEPLOYADDRESS:    {0, 1, false},
		PUSHSIZE:             {0, 1, false},
		PUSHIMMUTABLE:        {0, 1, true},
		// the input count of ASSIGNIMMUTABLE is version dependent, see InputSize.
		ASSIGNIMMUTABLE: {2, 0, true},

		Tag:      {0, 0, true},
		POP:      {1, 0, false},
		JUMP:     {1, 0, false},
		JUMPI:    {2, 0, false},
		JUMPDEST: {0, 0, false},

		MLOAD:   {1, 1, false},
		MSTORE:  {2, 0, false},
		MSTORE8: {2, 0, false},
		SLOAD:   {1, 1, false},
		SSTORE:  {2, 0, false},

		CALLDATALOAD:   {1, 1, false},
		CALLDATASIZE:   {0, 1, false},
		CALLDATACOPY:   {3, 0, false},
		CODESIZE:       {0, 1, false},
		CODECOPY:       {3, 0, false},
		RETURNDATASIZE: {0, 1, false},
		RETURNDATACOPY: {3, 0, false},
		EXTCODESIZE:    {1, 1, false},
		EXTCODEHASH:    {1, 1, false},
		EXTCODECOPY:    {4, 0, false},

		RETURN:  {2, 0, false},
		REVERT:  {2, 0, false},
		STOP:    {0, 0, false},
		INVALID: {0, 0, false},

		CALL:         {7, 1, false},
		CALLCODE:     {7, 1, false},
		STATICCALL:   {6, 1, false},
		DELEGATECALL: {6, 1, false},
		CREATE:       {3, 1, false},
		CREATE2:      {4, 1, false},

		BALANCE:   {1, 1, false},
		BLOCKHASH: {1, 1, false},

		SELFDESTRUCT: {1, 0, false},
	}
	for _, n := range []Name{ADD, SUB, MUL, DIV, SDIV, MOD, SMOD, EXP, SIGNEXTEND,
		LT, GT, SLT, SGT, EQ, AND, OR, XOR, BYTE, SHL, SHR, SAR, SHA3, KECCAK256} {
		m[n] = nameInfo{in: 2, out: 1}
	}
	for _, n := range []Name{ADDMOD, MULMOD} {
		m[n] = nameInfo{in: 3, out: 1}
	}
	for _, n := range []Name{ISZERO, NOT} {
		m[n] = nameInfo{in: 1, out: 1}
	}
	for _, n := range []Name{ADDRESS, CALLER, CALLVALUE, GAS, SELFBALANCE, GASLIMIT, GASPRICE,
		ORIGIN, CHAINID, TIMESTAMP, NUMBER, DIFFICULTY, COINBASE, BASEFEE, MSIZE, PC} {
		m[n] = nameInfo{in: 0, out: 1}
	}
	for i := 0; i <= 4; i++ {
		m[Name(fmt.Sprintf("LOG%d", i))] = nameInfo{in: i + 2}
	}
	for i := 1; i <= 32; i++ {
		m[Name(fmt.Sprintf("PUSH%d", i))] = nameInfo{0, 1, true}
	}
	// DUP and SWAP do not consume anything, they are checked against Depth instead.
	for i := 1; i <= 16; i++ {
		m[Name(fmt.Sprintf("DUP%d", i))] = nameInfo{in: 0, out: 1}
		m[Name(fmt.Sprintf("SWAP%d", i))] = nameInfo{}
	}
	return m
}()

// assignImmutableTwoInputs is the first front-end version passing the offset of ASSIGNIMMUTABLE on the stack.
var assignImmutableTwoInputs = zkc.MustParseVersion("0.8.0")

// Known returns true if n is a supported instruction.
func (n Name) Known() bool {
	_, ok := names[n]
	return ok
}

// InputSize is the number of stack elements the instruction consumes.
func (n Name) InputSize(v zkc.Version) int {
	if n == ASSIGNIMMUTABLE {
		if v.AtLeast(assignImmutableTwoInputs) {
			return 2
		}
		return 1
	}
	return names[n].in
}

// OutputSize is the number of stack elements the instruction produces, 0 or 1.
func (n Name) OutputSize() int {
	return names[n].out
}

// RequiresOperand returns true if the instruction must carry a literal value.
func (n Name) RequiresOperand() bool {
	return names[n].operand
}

// IsPush returns true for every instruction producing a constant from its value.
// That includes the sized PUSH1 through PUSH32 forms.
func (n Name) IsPush() bool {
	if n == PUSH {
		return true
	}
	if !strings.HasPrefix(string(n), "PUSH") {
		return false
	}
	_, err := strconv.Atoi(string(n[4:]))
	return err == nil
}

// IsDup returns the depth of a DUPn instruction.
func (n Name) IsDup() (int, bool) {
	return suffixNumber(n, "DUP")
}

// IsSwap returns the depth of a SWAPn instruction.
func (n Name) IsSwap() (int, bool) {
	return suffixNumber(n, "SWAP")
}

// IsLog returns the number of topics of a LOGn instruction.
func (n Name) IsLog() (int, bool) {
	return suffixNumber(n, "LOG")
}

// Depth is the stack height required before the instruction can execute.
// For most instructions it is the input size.
func (n Name) Depth(v zkc.Version) int {
	if d, ok := n.IsDup(); ok {
		return d
	}
	if d, ok := n.IsSwap(); ok {
		return d + 1
	}
	return n.InputSize(v)
}

// IsTerminator returns true if the instruction ends a basic block.
func (n Name) IsTerminator() bool {
	switch n {
	case JUMP, JUMPI, RETURN, REVERT, STOP, INVALID:
		return true
	default:
		return false
	}
}

func suffixNumber(n Name, prefix string) (int, bool) {
	if !strings.HasPrefix(string(n), prefix) {
		return 0, false
	}
	d, err := strconv.Atoi(string(n[len(prefix):]))
	if err != nil || !n.Known() {
		return 0, false
	}
	return d, true
}
