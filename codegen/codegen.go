// Package codegen holds the target IR emission context shared by the legacy assembly and Yul pipelines.
package codegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"zkc.dev/zkc"
	"zkc.dev/zkc/vmir"
)

// CodeType distinguishes the two parts of a contract.
type CodeType uint8

const (
	Deploy CodeType = iota
	Runtime
)

func (ct CodeType) String() string {
	switch ct {
	case Deploy:
		return "deploy"
	case Runtime:
		return "runtime"
	default:
		return fmt.Sprintf("CodeType(%d)", ct)
	}
}

// Kind classifies the compile time identity of a stack value.
type Kind uint8

const (
	KindNone Kind = iota
	// KindLiteral is a hex constant.
	KindLiteral
	// KindIdentifier is a contract path or data identifier.
	KindIdentifier
	// KindTag is a jump target.
	KindTag
	// KindReturnAddress is the return address of the enclosing function.
	KindReturnAddress
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLiteral:
		return "literal"
	case KindIdentifier:
		return "identifier"
	case KindTag:
		return "tag"
	case KindReturnAddress:
		return "return_address"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Original is what a value was before it was lowered to a register or a slot.
// It never changes what the value is at runtime.
type Original struct {
	Kind  Kind
	Value string
}

func Literal(x string) Original    { return Original{Kind: KindLiteral, Value: x} }
func Identifier(x string) Original { return Original{Kind: KindIdentifier, Value: x} }
func TagOriginal(x string) Original {
	return Original{Kind: KindTag, Value: x}
}

func (o Original) IsNone() bool {
	return o.Kind == KindNone
}

func (o Original) String() string {
	switch o.Kind {
	case KindNone:
		return "_"
	case KindTag:
		return "T_" + o.Value
	case KindReturnAddress:
		return "RA"
	default:
		return o.Value
	}
}

// Argument is a lowered value together with its original.
type Argument struct {
	Value    vmir.Operand
	Original Original
}

// Dependency is the callback surface used to embed other contracts.
type Dependency interface {
	// Compile builds the contract with the identifier if necessary and returns the hash of its deploy code.
	Compile(ctx context.Context, identifier string) (string, error)
	// ResolvePath returns the full path of the contract with the identifier.
	ResolvePath(identifier string) (string, error)
	// ResolveLibrary returns the hex address a library is linked at.
	ResolveLibrary(path string) (string, error)
}

// Artifact is implemented by backend outputs.
type Artifact interface {
	ContentHash() string
}

// RuntimeHash is the hash of a contract's built runtime code.
// Deploy code can only be lowered once one exists.
type RuntimeHash struct {
	hash string
}

// RuntimeHashOf takes the hash of a runtime code artifact.
func RuntimeHashOf(runtime Artifact) RuntimeHash {
	return RuntimeHash{hash: runtime.ContentHash()}
}

func (h RuntimeHash) String() string {
	return h.hash
}

// Context is the state of the lowering of one part of one contract.
type Context struct {
	ctx      context.Context
	module   *vmir.Module
	path     string
	codeType CodeType
	deps     Dependency
	runtime  RuntimeHash

	fn          *vmir.Function
	block       *vmir.Block
	unreachable []*vmir.Block

	// FactoryDependencies maps the hashes of embedded contracts to their paths.
	FactoryDependencies map[string]string
	// Immutables maps the names of the immutables referenced to their keys.
	Immutables map[string]*uint256.Int
}

// NewRuntimeContext starts the lowering of runtime code.
func NewRuntimeContext(ctx context.Context, path string, deps Dependency) *Context {
	return newContext(ctx, path, Runtime, deps, RuntimeHash{})
}

// NewDeployContext starts the lowering of deploy code.
func NewDeployContext(ctx context.Context, path string, deps Dependency, runtime RuntimeHash) *Context {
	return newContext(ctx, path, Deploy, deps, runtime)
}

func newContext(ctx context.Context, path string, ct CodeType, deps Dependency, runtime RuntimeHash) *Context {
	return &Context{
		ctx:                 ctx,
		module:              vmir.NewModule(path + "." + ct.String()),
		path:                path,
		codeType:            ct,
		deps:                deps,
		runtime:             runtime,
		FactoryDependencies: make(map[string]string),
		Immutables:          make(map[string]*uint256.Int),
	}
}

func (c *Context) Ctx() context.Context         { return c.ctx }
func (c *Context) Module() *vmir.Module         { return c.module }
func (c *Context) Path() string                 { return c.path }
func (c *Context) CodeType() CodeType           { return c.codeType }
func (c *Context) Function() *vmir.Function     { return c.fn }
func (c *Context) Block() *vmir.Block           { return c.block }
func (c *Context) SetBlock(b *vmir.Block)       { c.block = b }
func (c *Context) Dependency() Dependency       { return c.deps }
func (c *Context) RuntimeHash() RuntimeHash     { return c.runtime }
func (c *Context) SetFunction(f *vmir.Function) { c.fn = f; c.block = nil }

// DeclareFunction adds a function to the module without defining it.
func (c *Context) DeclareFunction(name string, params, results int) (*vmir.Function, error) {
	return c.module.NewFunction(name, params, results)
}

// NewBlock appends a block to the current function.
func (c *Context) NewBlock(label string) *vmir.Block {
	return c.fn.NewBlock(label)
}

// Finish drops or closes the blocks following terminators and verifies the module.
func (c *Context) Finish() (*vmir.Module, error) {
	for _, b := range c.unreachable {
		switch {
		case b.Terminated():
		case len(b.Instrs) == 0:
			b.Function().RemoveBlock(b)
		default:
			b.Exit(vmir.ExitInvalid, vmir.U64(0), vmir.U64(0))
		}
	}
	c.unreachable = nil
	if err := c.module.Verify(); err != nil {
		return nil, err
	}
	return c.module, nil
}

// afterTerminator moves emission to a fresh block, which nothing branches to.
func (c *Context) afterTerminator() {
	b := c.fn.NewBlock("unreachable")
	c.unreachable = append(c.unreachable, b)
	c.block = b
}

// Op emits a primitive operation in the current block.
func (c *Context) Op(op vmir.Op, args ...vmir.Operand) vmir.Operand {
	return c.block.Op(op, args...)
}

// Intrinsic emits a system function in the current block.
func (c *Context) Intrinsic(name string, hasResult bool, args ...vmir.Operand) vmir.Operand {
	return c.block.Intrinsic(name, hasResult, args...)
}

func (c *Context) Return(offset, size vmir.Operand) {
	c.block.Exit(vmir.ExitReturn, offset, size)
	c.afterTerminator()
}

func (c *Context) Revert(offset, size vmir.Operand) {
	c.block.Exit(vmir.ExitRevert, offset, size)
	c.afterTerminator()
}

func (c *Context) Stop() {
	c.block.Exit(vmir.ExitStop, vmir.U64(0), vmir.U64(0))
	c.afterTerminator()
}

func (c *Context) Invalid() {
	c.block.Exit(vmir.ExitInvalid, vmir.U64(0), vmir.U64(0))
	c.afterTerminator()
}

// Br branches to target and continues emission after it.
func (c *Context) Br(target *vmir.Block) {
	c.block.Br(target)
	c.afterTerminator()
}

// CondBr branches on cond and continues emission after it.
func (c *Context) CondBr(cond vmir.Operand, then, els *vmir.Block) {
	c.block.CondBr(cond, then, els)
	c.afterTerminator()
}

// Ret returns from the current function.
func (c *Context) Ret(values ...vmir.Operand) {
	c.block.Ret(values...)
	c.afterTerminator()
}

// Log emits an event. Topics are in source order.
func (c *Context) Log(offset, size vmir.Operand, topics []vmir.Operand) {
	c.block.Log(offset, size, topics...)
}

// CodeSource is the address the code is executed as.
func (c *Context) CodeSource() vmir.Operand {
	return c.Op(vmir.CodeSource)
}

// HeaderSize is the size of the deployer call header which precedes an embedded contract hash.
func (c *Context) HeaderSize() vmir.Operand {
	return vmir.U64(zkc.HeaderSize)
}

// ContractHash returns the hash of the contract with the identifier as a constant.
// The deploy code of a contract refers to its own runtime code.
func (c *Context) ContractHash(identifier string) (vmir.Operand, error) {
	p, err := c.deps.ResolvePath(identifier)
	if err != nil {
		return vmir.Operand{}, err
	}
	var hash string
	if p == c.path {
		if c.codeType != Deploy {
			return vmir.Operand{}, fmt.Errorf("runtime code of %s cannot refer to its own hash", p)
		}
		if c.runtime.hash == "" {
			return vmir.Operand{}, fmt.Errorf("runtime code of %s is not built", p)
		}
		hash = c.runtime.hash
	} else {
		hash, err = c.deps.Compile(c.ctx, identifier)
		if err != nil {
			return vmir.Operand{}, err
		}
		c.FactoryDependencies[hash] = p
	}
	x, err := ParseHex(hash)
	if err != nil {
		return vmir.Operand{}, fmt.Errorf("hash of %s: %w", p, err)
	}
	return vmir.C(x), nil
}

// LibraryAddress returns the address of the linked library as a constant.
func (c *Context) LibraryAddress(path string) (vmir.Operand, error) {
	addr, err := c.deps.ResolveLibrary(path)
	if err != nil {
		return vmir.Operand{}, err
	}
	x, err := ParseHex(addr)
	if err != nil {
		return vmir.Operand{}, fmt.Errorf("address of library %s: %w", path, err)
	}
	return vmir.C(x), nil
}

// ImmutableKey is the key an immutable is stored under.
// Deploy and runtime code of a contract agree on it, as it only depends on the name.
func (c *Context) ImmutableKey(name string) vmir.Operand {
	k, ok := c.Immutables[name]
	if !ok {
		h := zkc.Keccak256([]byte(name))
		k = new(uint256.Int).SetBytes32(h[:])
		c.Immutables[name] = k
	}
	return vmir.C(k)
}

func (c *Context) LoadImmutable(name string) vmir.Operand {
	return c.Op(vmir.ImmutableLoad, c.ImmutableKey(name))
}

func (c *Context) StoreImmutable(name string, value vmir.Operand) {
	c.Op(vmir.ImmutableStore, c.ImmutableKey(name), value)
}

// StoreContractHash writes a contract hash after the deployer call header at dst.
func (c *Context) StoreContractHash(dst, hash vmir.Operand) {
	off := c.Op(vmir.Add, dst, c.HeaderSize())
	c.Op(vmir.MStore, off, hash)
}

// StoreLibraryMarker writes the byte marking code as a library.
func (c *Context) StoreLibraryMarker() {
	c.Op(vmir.MStore8, vmir.U64(0x0B), vmir.U64(0x73))
}

// StoreStaticData writes hex data at dst in words, the last one padded on the right with zeros.
func (c *Context) StoreStaticData(dst vmir.Operand, data string) error {
	for off := 0; off < len(data); off += 2 * zkc.FieldSize {
		chunk := data[off:min(off+2*zkc.FieldSize, len(data))]
		chunk += strings.Repeat("0", 2*zkc.FieldSize-len(chunk))
		x, err := ParseHex(chunk)
		if err != nil {
			return err
		}
		at := c.Op(vmir.Add, dst, vmir.U64(uint64(off/2)))
		c.Op(vmir.MStore, at, vmir.C(x))
	}
	return nil
}

// ParseHex parses a hex word with an optional 0x prefix.
func ParseHex(x string) (*uint256.Int, error) {
	x = strings.TrimPrefix(strings.TrimPrefix(x, "0x"), "0X")
	if len(x) > 2*zkc.FieldSize {
		return nil, fmt.Errorf("hex literal %q is longer than a word", x)
	}
	x = strings.TrimLeft(x, "0")
	if x == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromHex("0x" + x)
}
