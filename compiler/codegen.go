package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
	"github.com/tom-mohr/compiler/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile source lines to instructions
// ---------------------------------------------------------------------------

// reservedReturn is the slot every function reserves for its result.
const reservedReturn = "return"

// Compiler translates source lines into a vm.Binary. Feed it lines with
// CompileLine and call Finish once; a Compiler is not reusable.
type Compiler struct {
	scopes      *ScopeStack
	functions   map[string]int // name -> entry address
	arity       map[string]int // name -> parameter count
	heads       map[string]int // name -> line of the function head
	indentation int
	line        int // 1-based number of the line being compiled
	err         error
	log         commonlog.Logger
}

// NewCompiler creates a compiler with an empty root scope.
func NewCompiler() *Compiler {
	return &Compiler{
		scopes:    NewScopeStack(),
		functions: make(map[string]int),
		arity:     make(map[string]int),
		heads:     make(map[string]int),
		log:       commonlog.GetLogger("ivm.compiler"),
	}
}

// Compile compiles a whole program given as lines.
func Compile(lines []string) (*vm.Binary, error) {
	c := NewCompiler()
	for _, line := range lines {
		if err := c.CompileLine(line); err != nil {
			return nil, err
		}
	}
	return c.Finish()
}

// CompileString splits source into lines and compiles it.
func CompileString(source string) (*vm.Binary, error) {
	return Compile(SplitLines(source))
}

// SplitLines splits source on newlines, accepting CRLF.
func SplitLines(source string) []string {
	lines := strings.Split(source, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Functions returns a copy of the function table built so far. After a
// failed compile it still lists the functions defined before the error.
func (c *Compiler) Functions() map[string]int {
	out := make(map[string]int, len(c.functions))
	for name, addr := range c.functions {
		out[name] = addr
	}
	return out
}

// Arity returns the parameter count of a defined function.
func (c *Compiler) Arity(name string) (int, bool) {
	n, ok := c.arity[name]
	return n, ok
}

// HeadLine returns the 1-based line where a function was defined.
func (c *Compiler) HeadLine(name string) (int, bool) {
	n, ok := c.heads[name]
	return n, ok
}

// Visible returns the variables in scope at the current line.
func (c *Compiler) Visible() []string {
	return c.scopes.Top().Visible()
}

// Line returns the number of lines consumed so far.
func (c *Compiler) Line() int {
	return c.line
}

// CompileLine compiles one source line. After the first error every call
// returns that error.
func (c *Compiler) CompileLine(line string) error {
	if c.err != nil {
		return c.err
	}
	c.line++

	if isBlank(line) || isComment(line) {
		return nil
	}

	indent, text := splitIndentation(line)
	if err := c.setIndentation(indent); err != nil {
		return c.fail(err, err.Error())
	}
	return c.statement(strings.TrimSpace(text))
}

// Finish closes every open scope and returns the program.
func (c *Compiler) Finish() (*vm.Binary, error) {
	if c.err != nil {
		return nil, c.err
	}
	if err := c.setIndentation(0); err != nil {
		return nil, c.fail(err, err.Error())
	}

	root := c.scopes.Top()
	code := make([]vm.Instruction, len(root.Code()))
	copy(code, root.Code())

	c.log.Debugf("compiled %d instructions, %d functions", len(code), len(c.functions))
	return &vm.Binary{Code: code, Functions: c.Functions()}, nil
}

// setIndentation opens or closes one scope per unit of change.
func (c *Compiler) setIndentation(indent int) error {
	change := indent - c.indentation
	if change != 0 {
		c.log.Debugf("(line %d) indentation changed by %d", c.line, change)
	}
	for ; change > 0; change-- {
		c.scopes.Push(0, nil)
	}
	for ; change < 0; change++ {
		if err := c.scopes.Pop(); err != nil {
			return err
		}
	}
	c.indentation = indent
	return nil
}

// fail records the first error with the current line number.
func (c *Compiler) fail(err error, msg string) error {
	c.err = &CompileError{Line: c.line, Msg: msg, Err: err}
	return c.err
}

// failf builds the message from format and wraps the sentinel kind.
func (c *Compiler) failf(kind error, format string, args ...any) error {
	return c.fail(kind, fmt.Sprintf(format, args...))
}

// wrap reports an error from the scope or lexer layer, keeping its kind.
func (c *Compiler) wrap(err error) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		return err
	}
	return c.fail(err, err.Error())
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) statement(line string) error {
	if line == "" {
		return nil
	}
	if c.scopes.Top().Depth() == 1 {
		return c.topLevel(line)
	}

	if name, ok := cutKeyword(line, "let"); ok {
		return c.declaration(name)
	}
	if cond, ok := cutKeyword(line, "if"); ok {
		return c.ifStatement(cond)
	}
	if cond, ok := cutKeyword(line, "while"); ok {
		return c.whileStatement(cond)
	}
	if i := findAssignment(line); i >= 0 {
		return c.assignment(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
	}

	c.log.Debugf("(line %d) expression %q", c.line, line)
	return c.expression(line)
}

// topLevel handles lines outside any function: only function heads are
// allowed there.
func (c *Compiler) topLevel(line string) error {
	if _, ok := cutKeyword(line, "let"); ok {
		return c.failf(ErrOutsideFunction, "declarations are only allowed inside functions")
	}
	if _, ok := cutKeyword(line, "if"); ok {
		return c.failf(ErrOutsideFunction, "if-statements are only allowed inside functions")
	}
	if _, ok := cutKeyword(line, "while"); ok {
		return c.failf(ErrOutsideFunction, "while-statements are only allowed inside functions")
	}
	if findAssignment(line) >= 0 {
		return c.failf(ErrOutsideFunction, "assignments are only allowed inside functions")
	}
	return c.functionHead(line)
}

func (c *Compiler) functionHead(line string) error {
	name, params, err := parseFunctionHead(line)
	if err != nil {
		return c.failf(ErrMalformedStatement, "malformed function head: %v", err)
	}
	if _, exists := c.functions[name]; exists {
		return c.failf(ErrDuplicateFunction, "function %q already defined", name)
	}
	c.log.Debugf("(line %d) function %s(%s)", c.line, name, strings.Join(params, ", "))

	// Parameters must end at the frame pointer, which the caller leaves on
	// the last argument.
	c.scopes.Top().SetOffset(-len(params))
	c.scopes.Push(0, func(_ *Scope, body []vm.Instruction) []vm.Instruction {
		return append(body, vm.Return())
	})
	c.indentation++

	fn := c.scopes.Top()
	c.functions[name] = fn.InstructionsBefore()
	c.arity[name] = len(params)
	c.heads[name] = c.line

	if _, err := fn.Declare(reservedReturn); err != nil {
		return c.wrap(err)
	}
	for _, p := range params {
		if _, err := fn.Declare(p); err != nil {
			return c.wrap(err)
		}
	}
	return nil
}

func (c *Compiler) declaration(name string) error {
	if !isIdentifier(name) {
		return c.failf(ErrMalformedStatement, "invalid variable name %q", name)
	}
	c.log.Debugf("(line %d) declaration %s", c.line, name)

	top := c.scopes.Top()
	if _, err := top.Declare(name); err != nil {
		return c.wrap(err)
	}
	top.Emit(vm.Load(0), vm.Push())
	return nil
}

func (c *Compiler) ifStatement(cond string) error {
	c.log.Debugf("(line %d) if %q", c.line, cond)
	if err := c.expression(cond); err != nil {
		return err
	}
	c.scopes.Push(1, func(s *Scope, body []vm.Instruction) []vm.Instruction {
		out := make([]vm.Instruction, 0, len(body)+1)
		out = append(out, vm.JumpIfNot(s.InstructionsSoFar()))
		return append(out, body...)
	})
	c.indentation++
	return nil
}

func (c *Compiler) whileStatement(cond string) error {
	c.log.Debugf("(line %d) while %q", c.line, cond)
	conditionStart := c.scopes.Top().InstructionsSoFar()
	if err := c.expression(cond); err != nil {
		return err
	}
	c.scopes.Push(1, func(s *Scope, body []vm.Instruction) []vm.Instruction {
		out := make([]vm.Instruction, 0, len(body)+2)
		// the trailing jump back is not counted yet
		out = append(out, vm.JumpIfNot(s.InstructionsSoFar()+1))
		out = append(out, body...)
		return append(out, vm.Jump(conditionStart))
	})
	c.indentation++
	return nil
}

func (c *Compiler) assignment(target, expr string) error {
	c.log.Debugf("(line %d) assignment %s = %q", c.line, target, expr)
	if !isIdentifier(target) {
		return c.failf(ErrMalformedStatement, "cannot assign to %q", target)
	}
	if expr == "" {
		return c.failf(ErrMalformedStatement, "missing expression in assignment to %q", target)
	}
	if err := c.expression(expr); err != nil {
		return err
	}
	top := c.scopes.Top()
	slot, err := top.Resolve(target)
	if err != nil {
		return c.wrap(err)
	}
	top.Emit(vm.Write(slot))
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expression emits code that leaves the value of expr in the accumulator.
func (c *Compiler) expression(expr string) error {
	expr = strings.TrimSpace(expr)
	top := c.scopes.Top()

	switch {
	case callPattern.MatchString(expr):
		name, args, err := splitCall(expr)
		if err != nil {
			return c.failf(ErrMalformedExpression, "cannot evaluate expression: %v", err)
		}
		return c.call(name, args)

	case isIdentifier(expr):
		slot, err := top.Resolve(expr)
		if err != nil {
			return c.wrap(err)
		}
		top.Emit(vm.Read(slot))
		return nil
	}

	if v, ok := parseInteger(expr); ok {
		top.Emit(vm.Load(v))
		return nil
	}
	return c.failf(ErrMalformedExpression, "cannot evaluate expression: %q", expr)
}

func (c *Compiler) call(name string, args []string) error {
	top := c.scopes.Top()

	if addr, ok := c.functions[name]; ok {
		if want := c.arity[name]; len(args) != want {
			return c.failf(ErrArgumentCount, "function %q expects %d arguments, got %d", name, want, len(args))
		}
		top.Emit(vm.Load(0), vm.Push())
		if err := c.arguments(args); err != nil {
			return err
		}
		top.Emit(vm.JumpFunction(addr))
		return nil
	}

	if n, ok := vm.LookupNative(name); ok {
		if len(args) != n.Arity() {
			return c.failf(ErrArgumentCount, "%q expects %d arguments, got %d", name, n.Arity(), len(args))
		}
		if err := c.arguments(args); err != nil {
			return err
		}
		top.Emit(vm.NativeCall(n.Name()))
		return nil
	}

	return c.failf(ErrUndefinedFunction, "function %q undefined", name)
}

// arguments evaluates each argument left to right and pushes it.
func (c *Compiler) arguments(args []string) error {
	for _, arg := range args {
		if err := c.expression(arg); err != nil {
			return err
		}
		c.scopes.Top().Emit(vm.Push())
	}
	return nil
}
