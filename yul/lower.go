package yul

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"zkc.dev/zkc"
	"zkc.dev/zkc/codegen"
	"zkc.dev/zkc/vmir"
)

const (
	// NearCallPrefix marks functions called with the near call ABI.
	// Their first declared argument is consumed by the call itself.
	NearCallPrefix = "ZKSYNC_NEAR_CALL"
	// CatchNearCall is the exception handler of near calls, which takes no arguments.
	CatchNearCall = "ZKSYNC_CATCH_NEAR_CALL"
)

type scope struct {
	parent *scope
	// function scopes hide the variables of their parents.
	function bool
	vars     map[string]vmir.Slot
	funcs    map[string]*declared
}

func newScope(parent *scope, function bool) *scope {
	return &scope{
		parent:   parent,
		function: function,
		vars:     make(map[string]vmir.Slot),
		funcs:    make(map[string]*declared),
	}
}

func (s *scope) variable(name string) (vmir.Slot, bool) {
	for ; s != nil; s = s.parent {
		if slot, ok := s.vars[name]; ok {
			return slot, true
		}
		if s.function {
			break
		}
	}
	return 0, false
}

func (s *scope) lookupFunction(name string) *declared {
	for ; s != nil; s = s.parent {
		if d, ok := s.funcs[name]; ok {
			return d
		}
	}
	return nil
}

type declared struct {
	def *FunctionDefinition
	// name is the name in the module, which is unique across scopes.
	name     string
	params   []string
	nearCall bool
}

type loop struct {
	cont, brk *vmir.Block
}

type lowerer struct {
	c     *codegen.Context
	top   *scope
	loops []loop
	// ret is the return block of the current function, nil in object code.
	ret *vmir.Block
}

// Declare adds the entry function of the object code and the functions defined at its top level to the module.
func (o *Object) Declare(c *codegen.Context) error {
	if o.IsRuntime() != (c.CodeType() == codegen.Runtime) {
		return fmt.Errorf("%w: %s in %v code", ErrCodeTypeMismatched, o.Identifier, c.CodeType())
	}
	if _, err := c.DeclareFunction(o.Identifier, 0, 0); err != nil {
		return err
	}
	c.Module().Entry = o.Identifier
	l := &lowerer{c: c, top: newScope(nil, false)}
	if err := l.declare(o.Code, l.top); err != nil {
		return err
	}
	o.lowering = l
	return nil
}

// Define lowers the object code. Falling off its end stops the contract.
func (o *Object) Define(c *codegen.Context) error {
	l := o.lowering
	if l == nil || l.c != c {
		return ErrNotDeclared
	}
	o.lowering = nil
	c.SetFunction(c.Module().Function(o.Identifier))
	c.SetBlock(c.NewBlock("entry"))
	if err := l.statements(o.Code, l.top); err != nil {
		return fmt.Errorf("object %s: %w", o.Identifier, err)
	}
	c.Stop()
	return nil
}

// declare adds the functions defined directly in b, so that they can be called before their definition.
func (l *lowerer) declare(b *Block, sc *scope) error {
	if b == nil {
		return nil
	}
	for _, st := range b.Statements {
		fd, ok := st.(*FunctionDefinition)
		if !ok {
			continue
		}
		if _, exists := sc.funcs[fd.Name]; exists {
			return errorAt(fd.Location, fmt.Errorf("function `%s` %w", fd.Name, ErrRedeclared))
		}
		d := &declared{def: fd, params: fd.Arguments}
		if strings.Contains(fd.Name, NearCallPrefix) {
			if len(fd.Arguments) == 0 {
				return errorAt(fd.Location, ErrArgumentCount{Function: fd.Name, Expected: 1, Found: 0})
			}
			d.params, d.nearCall = fd.Arguments[1:], true
		}
		if strings.Contains(fd.Name, CatchNearCall) && len(d.params) != 0 {
			return errorAt(fd.Location, ErrArgumentCount{Function: fd.Name, Expected: 0, Found: len(d.params)})
		}
		d.name = l.uniqueName(fd.Name)
		if _, err := l.c.DeclareFunction(d.name, len(d.params), len(fd.Results)); err != nil {
			return errorAt(fd.Location, err)
		}
		sc.funcs[fd.Name] = d
	}
	return nil
}

func (l *lowerer) uniqueName(name string) string {
	unique := name
	for i := 1; l.c.Module().Function(unique) != nil; i++ {
		unique = fmt.Sprintf("%s_%d", name, i)
	}
	return unique
}

// block lowers b in a new scope.
func (l *lowerer) block(b *Block, sc *scope) error {
	if b == nil {
		return nil
	}
	s := newScope(sc, false)
	if err := l.declare(b, s); err != nil {
		return err
	}
	return l.statements(b, s)
}

func (l *lowerer) statements(b *Block, sc *scope) error {
	if b == nil {
		return nil
	}
	for _, st := range b.Statements {
		if err := l.statement(st, sc); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) statement(st Statement, sc *scope) error {
	c := l.c
	switch st := st.(type) {
	case *Block:
		return l.block(st, sc)
	case *FunctionDefinition:
		return l.function(sc.funcs[st.Name], sc)

	case *VariableDeclaration:
		vals, err := l.zeroOrValues(st.Value, len(st.Names), sc)
		if err != nil {
			return errorAt(st.Location, err)
		}
		for i, name := range st.Names {
			if _, exists := sc.vars[name]; exists {
				return errorAt(st.Location, fmt.Errorf("variable `%s` %w", name, ErrRedeclared))
			}
			slot := c.Function().NewSlot()
			c.Block().Store(slot, vals[i])
			sc.vars[name] = slot
		}
	case *Assignment:
		vals, err := l.zeroOrValues(st.Value, len(st.Names), sc)
		if err != nil {
			return errorAt(st.Location, err)
		}
		for i, name := range st.Names {
			slot, ok := sc.variable(name)
			if !ok {
				return errorAt(st.Location, fmt.Errorf("variable `%s` %w", name, ErrUndeclared))
			}
			c.Block().Store(slot, vals[i])
		}

	case *If:
		cond, err := l.value(st.Condition, sc)
		if err != nil {
			return err
		}
		then, join := c.NewBlock("if_then"), c.NewBlock("if_join")
		c.CondBr(cond.Value, then, join)
		c.SetBlock(then)
		if err := l.block(st.Body, sc); err != nil {
			return err
		}
		c.Br(join)
		c.SetBlock(join)
	case *Switch:
		x, err := l.value(st.Expression, sc)
		if err != nil {
			return err
		}
		join := c.NewBlock("switch_join")
		for _, cs := range st.Cases {
			k, err := literalValue(cs.Value)
			if err != nil {
				return err
			}
			body, next := c.NewBlock("switch_case"), c.NewBlock("switch_next")
			c.CondBr(c.Op(vmir.Eq, x.Value, vmir.C(k)), body, next)
			c.SetBlock(body)
			if err := l.block(cs.Body, sc); err != nil {
				return err
			}
			c.Br(join)
			c.SetBlock(next)
		}
		if err := l.block(st.Default, sc); err != nil {
			return err
		}
		c.Br(join)
		c.SetBlock(join)
	case *ForLoop:
		return l.forLoop(st, sc)

	case *ExpressionStatement:
		if call, ok := st.Expression.(*FunctionCall); ok {
			_, err := l.call(call, sc)
			return err
		}
		_, err := l.value(st.Expression, sc)
		return err
	case *Break:
		if len(l.loops) == 0 {
			return errorAt(st.Location, ErrOutsideLoop)
		}
		c.Br(l.loops[len(l.loops)-1].brk)
	case *Continue:
		if len(l.loops) == 0 {
			return errorAt(st.Location, ErrOutsideLoop)
		}
		c.Br(l.loops[len(l.loops)-1].cont)
	case *Leave:
		if l.ret == nil {
			return errorAt(st.Location, ErrOutsideFunction)
		}
		c.Br(l.ret)
	default:
		return fmt.Errorf("yul: unknown statement %T", st)
	}
	return nil
}

// forLoop lowers a loop. The initializer's scope encloses the rest of the loop.
func (l *lowerer) forLoop(st *ForLoop, sc *scope) error {
	c := l.c
	s := newScope(sc, false)
	if err := l.declare(st.Init, s); err != nil {
		return err
	}
	if err := l.statements(st.Init, s); err != nil {
		return err
	}
	cond := c.NewBlock("for_condition")
	body := c.NewBlock("for_body")
	post := c.NewBlock("for_increment")
	join := c.NewBlock("for_join")
	c.Br(cond)

	c.SetBlock(cond)
	x, err := l.value(st.Condition, s)
	if err != nil {
		return err
	}
	c.CondBr(x.Value, body, join)

	c.SetBlock(body)
	l.loops = append(l.loops, loop{cont: post, brk: join})
	err = l.block(st.Body, s)
	l.loops = l.loops[:len(l.loops)-1]
	if err != nil {
		return err
	}
	c.Br(post)

	c.SetBlock(post)
	if err := l.block(st.Post, s); err != nil {
		return err
	}
	c.Br(cond)
	c.SetBlock(join)
	return nil
}

// function lowers the body of a declared function, then resumes emission where it was.
func (l *lowerer) function(d *declared, sc *scope) error {
	c := l.c
	prevFn, prevBlock, prevLoops, prevRet := c.Function(), c.Block(), l.loops, l.ret
	defer func() {
		c.SetFunction(prevFn)
		c.SetBlock(prevBlock)
		l.loops, l.ret = prevLoops, prevRet
	}()

	f := c.Module().Function(d.name)
	c.SetFunction(f)
	c.SetBlock(c.NewBlock("entry"))
	s := newScope(sc, true)
	for i, p := range d.params {
		slot := f.NewSlot()
		c.Block().Store(slot, vmir.R(f.Param(i)))
		s.vars[p] = slot
	}
	results := make([]vmir.Slot, len(d.def.Results))
	for i, r := range d.def.Results {
		results[i] = f.NewSlot()
		c.Block().Store(results[i], vmir.U64(0))
		s.vars[r] = results[i]
	}
	l.ret, l.loops = c.NewBlock("return"), nil
	if err := l.block(d.def.Body, s); err != nil {
		return fmt.Errorf("function %s: %w", d.def.Name, err)
	}
	c.Br(l.ret)

	c.SetBlock(l.ret)
	vals := make([]vmir.Operand, len(results))
	for i, slot := range results {
		vals[i] = c.Block().Load(slot)
	}
	c.Ret(vals...)
	return nil
}

func (l *lowerer) zeroOrValues(e Expression, n int, sc *scope) ([]vmir.Operand, error) {
	if e == nil {
		vals := make([]vmir.Operand, n)
		for i := range vals {
			vals[i] = vmir.U64(0)
		}
		return vals, nil
	}
	var vals []vmir.Operand
	if call, ok := e.(*FunctionCall); ok {
		var err error
		if vals, err = l.call(call, sc); err != nil {
			return nil, err
		}
	} else {
		x, err := l.value(e, sc)
		if err != nil {
			return nil, err
		}
		vals = []vmir.Operand{x.Value}
	}
	if len(vals) != n {
		return nil, fmt.Errorf("%w: %d names for %d values", ErrValueCount, n, len(vals))
	}
	return vals, nil
}

// value lowers an expression producing exactly one value.
// Literals keep their text as the original of the value.
func (l *lowerer) value(e Expression, sc *scope) (codegen.Argument, error) {
	switch e := e.(type) {
	case *Literal:
		x, err := literalValue(e)
		if err != nil {
			return codegen.Argument{}, err
		}
		return codegen.Argument{Value: vmir.C(x), Original: codegen.Literal(e.Value)}, nil
	case *Identifier:
		slot, ok := sc.variable(e.Name)
		if !ok {
			return codegen.Argument{}, errorAt(e.Location, fmt.Errorf("variable `%s` %w", e.Name, ErrUndeclared))
		}
		return codegen.Argument{Value: l.c.Block().Load(slot)}, nil
	case *FunctionCall:
		vals, err := l.call(e, sc)
		if err != nil {
			return codegen.Argument{}, err
		}
		if len(vals) != 1 {
			return codegen.Argument{}, errorAt(e.Location, fmt.Errorf("%w: `%s` returns %d values", ErrValueCount, e.Name, len(vals)))
		}
		return codegen.Argument{Value: vals[0]}, nil
	default:
		return codegen.Argument{}, fmt.Errorf("yul: unknown expression %T", e)
	}
}

// arguments evaluates call arguments from right to left, returning them in source order.
func (l *lowerer) arguments(exprs []Expression, sc *scope) ([]codegen.Argument, error) {
	args := make([]codegen.Argument, len(exprs))
	for i := len(exprs) - 1; i >= 0; i-- {
		a, err := l.value(exprs[i], sc)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

func (l *lowerer) call(e *FunctionCall, sc *scope) ([]vmir.Operand, error) {
	if b, ok := builtins[e.Name]; ok {
		return l.builtin(e, b, sc)
	}
	if in, out, ok := parseVerbatim(e.Name); ok {
		return l.verbatim(e, in, out, sc)
	}
	d := sc.lookupFunction(e.Name)
	if d == nil {
		return nil, errorAt(e.Location, fmt.Errorf("function `%s` %w", e.Name, ErrUndeclared))
	}
	args, err := l.arguments(e.Arguments, sc)
	if err != nil {
		return nil, err
	}
	expected := len(d.params)
	if d.nearCall {
		expected++
	}
	if len(args) != expected {
		return nil, errorAt(e.Location, ErrArgumentCount{Function: e.Name, Expected: expected, Found: len(args)})
	}
	vals := values(args)
	if d.nearCall {
		vals = vals[1:]
	}
	return l.c.Block().Call(d.name, len(d.def.Results), vals...), nil
}

func values(args []codegen.Argument) []vmir.Operand {
	ret := make([]vmir.Operand, len(args))
	for i, a := range args {
		ret[i] = a.Value
	}
	return ret
}

func literalValue(lit *Literal) (*uint256.Int, error) {
	if lit == nil {
		return nil, ErrMissingLiteral
	}
	var x *uint256.Int
	var err error
	switch lit.Kind {
	case LiteralNumber:
		if strings.HasPrefix(lit.Value, "0x") {
			x, err = codegen.ParseHex(lit.Value)
		} else {
			x, err = uint256.FromDecimal(lit.Value)
		}
	case LiteralString:
		if len(lit.Value) > zkc.FieldSize {
			err = fmt.Errorf("string literal of %d bytes does not fit a word", len(lit.Value))
			break
		}
		var buf [zkc.FieldSize]byte
		copy(buf[:], lit.Value)
		x = new(uint256.Int).SetBytes32(buf[:])
	case LiteralBool:
		switch lit.Value {
		case "true":
			x = uint256.NewInt(1)
		case "false":
			x = uint256.NewInt(0)
		default:
			err = fmt.Errorf("invalid boolean %q", lit.Value)
		}
	default:
		err = fmt.Errorf("unknown literal kind %d", lit.Kind)
	}
	if err != nil {
		return nil, errorAt(lit.Location, err)
	}
	return x, nil
}
