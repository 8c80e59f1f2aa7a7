// Package compiler implements the single-pass Pratt-parsing compiler.
//
// Unlike a recursive-descent parser that builds an AST for a separate
// compilation pass to walk, Compile both parses and emits bytecode in one
// pass: each parsing function (the "prefix"/"infix" rule for a token type)
// emits the instructions for what it just recognized before returning.
// Lexical resolution — which locals exist, which names become upvalue
// captures, which are left to resolve as globals at runtime — happens
// inline as the same pass walks the source, using the funcCompiler chain
// below. A two-pass (parse-then-compile) implementation was considered and
// rejected: reported error locations and the structure of jump patching
// both assume bytecode is emitted as the parser goes.
package compiler

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mplastow/clox/pkg/bytecode"
	"github.com/mplastow/clox/pkg/heap"
	"github.com/mplastow/clox/pkg/lexer"
	"github.com/mplastow/clox/pkg/object"
	"github.com/mplastow/clox/pkg/value"
)

// Flags toggles development-only compiler behavior, populated from the
// DEBUG_* environment variables by cmd/clox.
type Flags struct {
	PrintCode bool // DEBUG_PRINT_CODE: disassemble every chunk once compiled
}

// FunctionType distinguishes how a funcCompiler's slot 0 and return
// semantics behave.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeScript
	TypeMethod
	TypeInitializer
)

type localVar struct {
	Name       string
	Depth      int
	IsCaptured bool
}

type upvalueRef struct {
	Index   byte
	IsLocal bool
}

const maxLocals = 256
const maxUpvalues = 256

// funcCompiler holds everything scoped to compiling one function body: its
// own locals array, its own upvalue table, and a link to the compiler
// whose body lexically encloses it. The chain of these (via enclosing) is
// itself a GC root while compilation is in progress.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *object.Function
	typ        FunctionType
	locals     []localVar
	upvalues   []upvalueRef
	scopeDepth int
}

// classCompiler tracks whether the class currently being compiled has a
// superclass, threaded as a chain so a nested class declaration (inside a
// method body, however unusual) still sees its own state.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Compiler is a single-use Pratt parser/compiler instance.
type Compiler struct {
	lx       *lexer.Lexer
	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool
	errOut    io.Writer

	heap  *heap.Heap
	fn    *funcCompiler
	class *classCompiler
	flags Flags
}

// New creates a compiler that allocates through h. Compile errors are
// reported to os.Stderr unless overridden with SetErrorWriter.
func New(h *heap.Heap, flags Flags) *Compiler {
	return &Compiler{heap: h, errOut: os.Stderr, flags: flags}
}

// SetErrorWriter redirects compile-error diagnostics (used by tests).
func (c *Compiler) SetErrorWriter(w io.Writer) { c.errOut = w }

// Compile parses and compiles source into a top-level script function, or
// returns an error if any compile-time error was reported. The returned
// function has Arity 0 and no name; the caller (the VM) wraps it in a
// closure and runs it.
func (c *Compiler) Compile(source string) (*object.Function, error) {
	c.lx = lexer.New(source)
	c.newFuncCompiler(TypeScript, "")

	// Compose onto whatever root-marking was already installed (typically
	// a VM's) rather than replacing it outright: a GC triggered mid-compile
	// must still mark the VM's stack/globals/frames, not just the
	// in-progress function chain. The previous callback is restored once
	// compilation finishes so the heap goes back to the caller's roots.
	prevMarkRoots := c.heap.MarkRoots
	c.heap.MarkRoots = func(h *heap.Heap) {
		if prevMarkRoots != nil {
			prevMarkRoots(h)
		}
		c.MarkRoots(h)
	}
	defer func() { c.heap.MarkRoots = prevMarkRoots }()

	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}

	fn, _ := c.endFuncCompiler()
	if c.hadError {
		return nil, fmt.Errorf("compile error")
	}
	return fn, nil
}

// MarkRoots marks every function still being compiled, walking the
// enclosing chain, so a GC triggered mid-compile (e.g. while interning an
// identifier) doesn't collect a function whose only reference is this
// chain.
func (c *Compiler) MarkRoots(h *heap.Heap) {
	for fc := c.fn; fc != nil; fc = fc.enclosing {
		h.MarkObject(fc.function)
	}
}

func (c *Compiler) newFuncCompiler(typ FunctionType, name string) *funcCompiler {
	fc := &funcCompiler{
		enclosing: c.fn,
		typ:       typ,
		function:  c.heap.NewFunction(),
	}
	c.fn = fc
	if typ != TypeScript && name != "" {
		fc.function.Name = c.heap.InternString(name)
	}
	slot0 := localVar{Depth: 0}
	if typ != TypeFunction {
		slot0.Name = "this"
	}
	fc.locals = append(fc.locals, slot0)
	return fc
}

// endFuncCompiler finishes the current funcCompiler, restoring the
// enclosing one as current, and returns the finished function along with
// its recorded upvalue table (isLocal/index pairs the CLOSURE opcode needs
// to encode).
func (c *Compiler) endFuncCompiler() (*object.Function, []upvalueRef) {
	c.emitReturn()
	fn := c.fn.function
	upvalues := c.fn.upvalues

	if c.flags.PrintCode && !c.hadError {
		name := "<script>"
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		bytecode.Disassemble(os.Stderr, fn.Chunk, name)
	}

	c.fn = c.fn.enclosing
	return fn, upvalues
}

func (c *Compiler) chunk() *bytecode.Chunk { return c.fn.function.Chunk }

// --- Token stream plumbing --------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lx.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	fmt.Fprintf(c.errOut, "[line %d] Error", tok.Line)
	switch tok.Type {
	case lexer.TokenEOF:
		fmt.Fprint(c.errOut, " at end")
	case lexer.TokenError:
		// no lexeme to point at
	default:
		fmt.Fprintf(c.errOut, " at '%s'", tok.Literal)
	}
	fmt.Fprintf(c.errOut, ": %s\n", msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

// synchronize discards tokens until it's plausibly at the start of the
// next statement, then clears panic mode so later errors are reported
// again.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- Emission helpers ---------------------------------------------------

func (c *Compiler) emitByte(b byte) { c.chunk().Write(b, c.previous.Line) }

func (c *Compiler) emitOp(op bytecode.OpCode) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(a, b byte) {
	c.emitByte(a)
	c.emitByte(b)
}

func (c *Compiler) emitOpByte(op bytecode.OpCode, b byte) { c.emitBytes(byte(op), b) }

func (c *Compiler) emitReturn() {
	if c.fn.typ == TypeInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx > 255 {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

// emitJump writes op followed by a two-byte placeholder, returning the
// offset of the placeholder's first byte for patchJump to fix up later.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xffff {
		c.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte((jump >> 8) & 0xff)
	c.chunk().Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 0xffff {
		c.error("Loop body too large.")
	}
	c.emitByte(byte((offset >> 8) & 0xff))
	c.emitByte(byte(offset & 0xff))
}

// --- Scopes and locals ---------------------------------------------------

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	for len(c.fn.locals) > 0 && c.fn.locals[len(c.fn.locals)-1].Depth > c.fn.scopeDepth {
		last := c.fn.locals[len(c.fn.locals)-1]
		if last.IsCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
	}
}

func (c *Compiler) addLocal(name string) {
	if len(c.fn.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fn.locals = append(c.fn.locals, localVar{Name: name, Depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fn.scopeDepth == 0 {
		return
	}
	name := c.previous.Literal
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		local := c.fn.locals[i]
		if local.Depth != -1 && local.Depth < c.fn.scopeDepth {
			break
		}
		if name == local.Name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].Depth = c.fn.scopeDepth
}

// parseVariable consumes an identifier, declares it as a local if inside a
// scope, and returns the constant-pool index of its name (needed only for
// the global path; the return value is ignored for locals).
func (c *Compiler) parseVariable(errMsg string) byte {
	c.consume(lexer.TokenIdentifier, errMsg)
	c.declareVariable()
	if c.fn.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Literal)
}

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(value.Obj(c.heap.InternString(name)))
}

func (c *Compiler) defineVariable(global byte) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

// resolveLocal returns the slot index of name in fc's own locals, or -1.
func (c *Compiler) resolveLocal(fc *funcCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if name == fc.locals[i].Name {
			if fc.locals[i].Depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue walks outward one enclosing compiler at a time, capturing
// a local the first time it's found and threading an upvalue-of-an-upvalue
// reference for every compiler in between.
func (c *Compiler) resolveUpvalue(fc *funcCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].IsCaptured = true
		return c.addUpvalue(fc, byte(local), true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, byte(up), false)
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *funcCompiler, index byte, isLocal bool) int {
	for i, uv := range fc.upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) >= maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalueRef{Index: index, IsLocal: isLocal})
	fc.function.UpvalueCount = len(fc.upvalues)
	return len(fc.upvalues) - 1
}

// --- Declarations and statements -----------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect class name.")
	className := c.previous.Literal
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: c.class}
	c.class = cc

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.variable(false)

		if className == c.previous.Literal {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}
	c.class = c.class.enclosing
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "Expect method name.")
	name := c.previous.Literal
	constant := c.identifierConstant(name)

	typ := TypeMethod
	if name == "init" {
		typ = TypeInitializer
	}
	c.compileFunction(typ, name)
	c.emitOpByte(bytecode.OpMethod, constant)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.compileFunction(TypeFunction, c.previous.Literal)
	c.defineVariable(global)
}

func (c *Compiler) compileFunction(typ FunctionType, name string) {
	c.newFuncCompiler(typ, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	fn, upvalues := c.endFuncCompiler()
	idx := c.makeConstant(value.Obj(fn))
	c.emitOpByte(bytecode.OpClosure, idx)
	for _, uv := range upvalues {
		if uv.IsLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.Index)
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) returnStatement() {
	if c.fn.typ == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fn.typ == TypeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}

	c.endScope()
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

// --- Expressions (Pratt parsing) ------------------------------------------

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		lexer.TokenDot:          {infix: (*Compiler).dot, prec: precCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, prec: precTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, prec: precFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, prec: precFactor},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, prec: precEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, prec: precEquality},
		lexer.TokenGreater:      {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenLess:         {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, prec: precComparison},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).string},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenAnd:          {infix: (*Compiler).and_, prec: precAnd},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenOr:           {infix: (*Compiler).or_, prec: precOr},
		lexer.TokenSuper:        {prefix: (*Compiler).super_},
		lexer.TokenThis:         {prefix: (*Compiler).this_},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
	}
}

func getRule(t lexer.TokenType) parseRule { return rules[t] }

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

// parsePrecedence parses any expression binding at least as tightly as
// prec: it runs the current token's prefix rule once, then repeatedly
// consumes an infix operator and its rule as long as that operator's
// precedence is at least prec.
func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).prec {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(_ bool) {
	n, err := strconv.ParseFloat(c.previous.Literal, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(n))
}

func (c *Compiler) string(_ bool) {
	lit := c.previous.Literal
	chars := lit[1 : len(lit)-1] // strip surrounding quotes
	c.emitConstant(value.Obj(c.heap.InternString(chars)))
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg int

	if arg = c.resolveLocal(c.fn, name); arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if arg = c.resolveUpvalue(c.fn, name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Literal, canAssign)
}

func (c *Compiler) this_(_ bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable("this", false)
}

func (c *Compiler) super_(_ bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous.Literal)

	c.namedVariable("this", false)
	if c.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable("super", false)
		c.emitOpByte(bytecode.OpSuperInvoke, name)
		c.emitByte(byte(argCount))
	} else {
		c.namedVariable("super", false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}

func (c *Compiler) literal(_ bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	}
}

func (c *Compiler) unary(_ bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(_ bool) {
	opType := c.previous.Type
	rule := getRule(opType)
	c.parsePrecedence(rule.prec + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitBytes(byte(bytecode.OpEqual), byte(bytecode.OpNot))
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitBytes(byte(bytecode.OpLess), byte(bytecode.OpNot))
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitBytes(byte(bytecode.OpGreater), byte(bytecode.OpNot))
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) and_(_ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(_ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(_ bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, byte(argCount))
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous.Literal)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	case c.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOpByte(bytecode.OpInvoke, name)
		c.emitByte(byte(argCount))
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

func (c *Compiler) argumentList() int {
	count := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == 255 {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return count
}
