// Package yul lowers objects of the structured intermediate language emitted by solc.
//
// Objects are consumed as syntax trees; parsing the source text is left to the caller.
package yul

import (
	"fmt"
	"strings"
)

// RuntimeSuffix marks the identifier of an object holding runtime code.
const RuntimeSuffix = "_deployed"

// Location is a position in the source text.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Object is a unit of code, with the object holding its runtime code nested inside.
type Object struct {
	Identifier string
	Code       *Block
	// Inner is the runtime code object of a deploy code object.
	Inner *Object
	// FactoryDependencies are the identifiers of other objects the code embeds.
	FactoryDependencies map[string]struct{}

	lowering *lowerer
}

// IsRuntime returns true if the object holds runtime code.
func (o *Object) IsRuntime() bool {
	return strings.HasSuffix(o.Identifier, RuntimeSuffix)
}

type Statement interface {
	isStatement()
}

type Expression interface {
	isExpression()
}

type Block struct {
	Location   Location
	Statements []Statement
}

type FunctionDefinition struct {
	Location  Location
	Name      string
	Arguments []string
	Results   []string
	Body      *Block
}

type VariableDeclaration struct {
	Location Location
	Names    []string
	// Value is nil if the variables start at zero.
	Value Expression
}

type Assignment struct {
	Location Location
	Names    []string
	Value    Expression
}

type If struct {
	Location  Location
	Condition Expression
	Body      *Block
}

type Case struct {
	Value *Literal
	Body  *Block
}

type Switch struct {
	Location   Location
	Expression Expression
	Cases      []Case
	// Default is nil if there is no default case.
	Default *Block
}

type ForLoop struct {
	Location  Location
	Init      *Block
	Condition Expression
	Post      *Block
	Body      *Block
}

type ExpressionStatement struct {
	Expression Expression
}

type Break struct{ Location Location }

type Continue struct{ Location Location }

type Leave struct{ Location Location }

func (*Block) isStatement()               {}
func (*FunctionDefinition) isStatement()  {}
func (*VariableDeclaration) isStatement() {}
func (*Assignment) isStatement()          {}
func (*If) isStatement()                  {}
func (*Switch) isStatement()              {}
func (*ForLoop) isStatement()             {}
func (*ExpressionStatement) isStatement() {}
func (*Break) isStatement()               {}
func (*Continue) isStatement()            {}
func (*Leave) isStatement()               {}

type LiteralKind uint8

const (
	LiteralNumber LiteralKind = iota
	LiteralString
	LiteralBool
)

// Literal is a constant. Numbers are decimal or 0x prefixed hex,
// strings hold their unquoted contents and booleans are "true" or "false".
type Literal struct {
	Location Location
	Kind     LiteralKind
	Value    string
}

type Identifier struct {
	Location Location
	Name     string
}

type FunctionCall struct {
	Location  Location
	Name      string
	Arguments []Expression
}

func (*Literal) isExpression()      {}
func (*Identifier) isExpression()   {}
func (*FunctionCall) isExpression() {}

// Number is a number literal without a location.
func Number(x string) *Literal {
	return &Literal{Kind: LiteralNumber, Value: x}
}

// String is a string literal without a location.
func String(x string) *Literal {
	return &Literal{Kind: LiteralString, Value: x}
}

// Ident is an identifier without a location.
func Ident(name string) *Identifier {
	return &Identifier{Name: name}
}

// Call is a function call without a location.
func Call(name string, args ...Expression) *FunctionCall {
	return &FunctionCall{Name: name, Arguments: args}
}

// Do is an expression statement calling a function.
func Do(name string, args ...Expression) *ExpressionStatement {
	return &ExpressionStatement{Expression: Call(name, args...)}
}
