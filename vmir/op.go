package vmir

// Op is a primitive operation of the target machine.
// Every Op consumes a fixed number of word operands and produces 0 or 1 words.
type Op uint8

const (
	Unknown Op = iota

	// Arithmetic
	Add
	Sub
	Mul
	Div
	SDiv
	Mod
	SMod
	AddMod
	MulMod
	Exp
	SignExtend

	// Comparison
	Lt
	Gt
	SLt
	SGt
	Eq
	IsZero

	// Bitwise
	And
	Or
	Xor
	Not
	Byte
	Shl
	Shr
	Sar

	// Memory: (offset) / (offset, value)
	MLoad
	MStore
	MStore8
	MSize
	// Keccak256: (offset, size) -> hash
	Keccak256

	// Storage
	SLoad
	SStore

	// Immutables are addressed by key hash.
	ImmutableLoad
	ImmutableStore

	// Calldata and return data
	CallDataLoad
	CallDataSize
	// CallDataCopy: (dst, src, size)
	CallDataCopy
	ReturnDataSize
	ReturnDataCopy

	// Environment
	Address
	Caller
	CallValue
	Gas
	Balance
	GasLimit
	GasPrice
	Origin
	ChainID
	Timestamp
	Number
	BlockHash
	Difficulty
	Coinbase
	BaseFee
	CodeSource
	ExtCodeSize
	ExtCodeHash

	// Far calls
	// FarCall: (gas, address, value, inOffset, inSize, outOffset, outSize) -> success
	FarCall
	// StaticCall: (gas, address, inOffset, inSize, outOffset, outSize) -> success
	StaticCall
	// DelegateCall: (gas, address, inOffset, inSize, outOffset, outSize) -> success
	DelegateCall
	// Create: (value, inOffset, inSize) -> address
	Create
	// Create2: (value, inOffset, inSize, salt) -> address
	Create2

	opCount
)

// Info is information about Operations
type Info struct {
	Name string
	In   int
	Out  int
	// Pure ops depend only on their operands.
	Pure bool
}

func (o Op) Info() Info {
	if int(o) >= len(infos) {
		return Info{Name: "unknown"}
	}
	return infos[o]
}

func (o Op) String() string {
	return o.Info().Name
}

// InDegree returns the number of operands the op consumes.
func (o Op) InDegree() int {
	return o.Info().In
}

// OutDegree returns the number of words the op produces, 0 or 1.
func (o Op) OutDegree() int {
	return o.Info().Out
}

// ParseOp returns the Op with the given name.
func ParseOp(x string) (Op, bool) {
	o, ok := byName[x]
	return o, ok
}

var infos = func() (ret [opCount]Info) {
	pure := func(name string, in int) Info { return Info{Name: name, In: in, Out: 1, Pure: true} }
	query := func(name string, in int) Info { return Info{Name: name, In: in, Out: 1} }
	effect := func(name string, in int) Info { return Info{Name: name, In: in} }
	m := map[Op]Info{
		Unknown: {Name: "unknown"},

		Add:        pure("add", 2),
		Sub:        pure("sub", 2),
		Mul:        pure("mul", 2),
		Div:        pure("div", 2),
		SDiv:       pure("sdiv", 2),
		Mod:        pure("mod", 2),
		SMod:       pure("smod", 2),
		AddMod:     pure("addmod", 3),
		MulMod:     pure("mulmod", 3),
		Exp:        pure("exp", 2),
		SignExtend: pure("signextend", 2),

		Lt:     pure("lt", 2),
		Gt:     pure("gt", 2),
		SLt:    pure("slt", 2),
		SGt:    pure("sgt", 2),
		Eq:     pure("eq", 2),
		IsZero: pure("iszero", 1),

		And:  pure("and", 2),
		Or:   pure("or", 2),
		Xor:  pure("xor", 2),
		Not:  pure("not", 1),
		Byte: pure("byte", 2),
		Shl:  pure("shl", 2),
		Shr:  pure("shr", 2),
		Sar:  pure("sar", 2),

		MLoad:     query("mload", 1),
		MStore:    effect("mstore", 2),
		MStore8:   effect("mstore8", 2),
		MSize:     query("msize", 0),
		Keccak256: query("keccak256", 2),

		SLoad:  query("sload", 1),
		SStore: effect("sstore", 2),

		ImmutableLoad:  query("immutable_load", 1),
		ImmutableStore: effect("immutable_store", 2),

		CallDataLoad:   query("calldataload", 1),
		CallDataSize:   query("calldatasize", 0),
		CallDataCopy:   effect("calldatacopy", 3),
		ReturnDataSize: query("returndatasize", 0),
		ReturnDataCopy: effect("returndatacopy", 3),

		Address:     query("address", 0),
		Caller:      query("caller", 0),
		CallValue:   query("callvalue", 0),
		Gas:         query("gas", 0),
		Balance:     query("balance", 1),
		GasLimit:    query("gaslimit", 0),
		GasPrice:    query("gasprice", 0),
		Origin:      query("origin", 0),
		ChainID:     query("chainid", 0),
		Timestamp:   query("timestamp", 0),
		Number:      query("number", 0),
		BlockHash:   query("blockhash", 1),
		Difficulty:  query("difficulty", 0),
		Coinbase:    query("coinbase", 0),
		BaseFee:     query("basefee", 0),
		CodeSource:  query("code_source", 0),
		ExtCodeSize: query("extcodesize", 1),
		ExtCodeHash: query("extcodehash", 1),

		FarCall:      query("far_call", 7),
		StaticCall:   query("static_call", 6),
		DelegateCall: query("delegate_call", 6),
		Create:       query("create", 3),
		Create2:      query("create2", 4),
	}
	for k, v := range m {
		ret[k] = v
	}
	return ret
}()

var byName = func() map[string]Op {
	ret := make(map[string]Op, len(infos))
	for i, info := range infos {
		if i > 0 && info.Name != "" {
			ret[info.Name] = Op(i)
		}
	}
	return ret
}()
