package compiler

import (
	"fmt"

	"github.com/zuisong/chen-lang/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile AST to bytecode
// ---------------------------------------------------------------------------

// Compile parses and compiles Chen source into a resolved vm.Program.
func Compile(src, name string) (*vm.Program, error) {
	p := NewParser(src)
	stmts := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	c := newCompiler(name)
	c.pushFunc(nil)
	c.compileBlockStmts(stmts, true)
	c.emit(vm.OpReturn)
	top := c.popFunc()
	c.prog.TopLocals = top.maxSlot
	c.prog.Entry = 0
	if len(c.errors) > 0 {
		return nil, c.errors[0]
	}
	if err := c.prog.Resolve(); err != nil {
		return nil, &CompileError{Line: 1, Msg: err.Error()}
	}
	// Function constants need their owning program for cross-module calls.
	for i := range c.prog.Code {
		if fn := c.prog.Code[i].Val.AsFunction(); fn != nil {
			fn.Prog = c.prog
		}
	}
	return c.prog, nil
}

// Compiler holds the codegen state: the program under construction and a
// stack of function contexts for scope resolution.
type Compiler struct {
	prog       *vm.Program
	errors     []*CompileError
	line       int
	labelCount int
	fns        []*funcCtx
}

// scope maps local names to frame slots.
type scope map[string]int

// funcCtx is the per-function compilation context. Name lookup never crosses
// a function boundary: unresolved names become globals, so an enclosing
// function's locals can never shadow a global (the language has no closures).
type funcCtx struct {
	scopes    []scope
	nextSlot  int
	maxSlot   int
	loops     []*loopCtx
	protected []*protectedRegion
}

// loopCtx records the jump targets for break/continue and the protection
// depth at loop entry, so early exits unwind only handlers opened inside the
// loop.
type loopCtx struct {
	startLabel string
	endLabel   string
	protDepth  int
}

// protectedRegion is an open try region: its handler must be popped, and its
// finally body inlined, on any early exit that crosses it.
type protectedRegion struct {
	finally *Block
}

func newCompiler(name string) *Compiler {
	return &Compiler{prog: vm.NewProgram(name), line: 1}
}

// ---------------------------------------------------------------------------
// Emit helpers
// ---------------------------------------------------------------------------

func (c *Compiler) emit(op vm.Opcode) {
	c.prog.Add(vm.Instruction{Op: op, Line: c.line})
}

func (c *Compiler) emitSym(op vm.Opcode, sym string) {
	c.prog.Add(vm.Instruction{Op: op, Sym: sym, Line: c.line})
}

func (c *Compiler) emitN(op vm.Opcode, n int) {
	c.prog.Add(vm.Instruction{Op: op, N: n, Line: c.line})
}

func (c *Compiler) emitCall(name string, argc int) {
	c.prog.Add(vm.Instruction{Op: vm.OpCall, Sym: name, N: argc, Line: c.line})
}

func (c *Compiler) emitPush(v vm.Value) {
	c.prog.Add(vm.Instruction{Op: vm.OpPush, Val: v, Line: c.line})
}

func (c *Compiler) setLine(n Node) {
	if n.Pos() > 0 {
		c.line = n.Pos()
	}
}

func (c *Compiler) newLabel(prefix string) string {
	c.labelCount++
	return fmt.Sprintf("%s_%d", prefix, c.labelCount)
}

func (c *Compiler) errorf(line int, format string, args ...interface{}) {
	c.errors = append(c.errors, &CompileError{Line: line, Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Scope management
// ---------------------------------------------------------------------------

func (c *Compiler) fn() *funcCtx { return c.fns[len(c.fns)-1] }

func (c *Compiler) pushFunc(params []string) {
	ctx := &funcCtx{scopes: []scope{make(scope)}}
	for _, p := range params {
		ctx.scopes[0][p] = ctx.nextSlot
		ctx.nextSlot++
	}
	if ctx.nextSlot > ctx.maxSlot {
		ctx.maxSlot = ctx.nextSlot
	}
	c.fns = append(c.fns, ctx)
}

func (c *Compiler) popFunc() *funcCtx {
	ctx := c.fn()
	c.fns = c.fns[:len(c.fns)-1]
	return ctx
}

func (c *Compiler) enterScope() {
	ctx := c.fn()
	ctx.scopes = append(ctx.scopes, make(scope))
}

func (c *Compiler) exitScope() {
	ctx := c.fn()
	ctx.scopes = ctx.scopes[:len(ctx.scopes)-1]
}

// declareLocal allocates a fresh slot for name in the innermost scope.
func (c *Compiler) declareLocal(name string) int {
	ctx := c.fn()
	slot := ctx.nextSlot
	ctx.nextSlot++
	if ctx.nextSlot > ctx.maxSlot {
		ctx.maxSlot = ctx.nextSlot
	}
	ctx.scopes[len(ctx.scopes)-1][name] = slot
	return slot
}

// resolveLocal searches the innermost scope outward, stopping at the
// function boundary. Names that do not resolve here are globals.
func (c *Compiler) resolveLocal(name string) (int, bool) {
	ctx := c.fn()
	for i := len(ctx.scopes) - 1; i >= 0; i-- {
		if slot, ok := ctx.scopes[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileBlock compiles a braced block in its own scope. In value mode the
// block leaves exactly one value: the last expression statement's value, or
// null.
func (c *Compiler) compileBlock(b *Block, wantValue bool) {
	c.enterScope()
	c.compileBlockStmts(b.Stmts, wantValue)
	c.exitScope()
}

func (c *Compiler) compileBlockStmts(stmts []Stmt, wantValue bool) {
	if len(stmts) == 0 {
		if wantValue {
			c.emitPush(vm.Null)
		}
		return
	}
	for i, s := range stmts {
		c.compileStmt(s, wantValue && i == len(stmts)-1)
	}
}

func (c *Compiler) compileStmt(s Stmt, wantValue bool) {
	c.setLine(s)
	switch n := s.(type) {
	case *ExprStmt:
		c.compileExpr(n.E)
		if !wantValue {
			c.emit(vm.OpPop)
		}

	case *LetStmt:
		c.compileExpr(n.Value)
		slot := c.declareLocal(n.Name)
		c.emitN(vm.OpMovePlusFP, slot)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *AssignStmt:
		c.compileAssign(n)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *DefStmt:
		c.compileDef(n)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *ForStmt:
		c.compileFor(n)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *ForInStmt:
		c.compileForIn(n)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *BreakStmt:
		ctx := c.fn()
		if len(ctx.loops) == 0 {
			c.errorf(n.Line, "break outside loop")
			return
		}
		loop := ctx.loops[len(ctx.loops)-1]
		c.unwindRegions(loop.protDepth)
		c.emitSym(vm.OpJump, loop.endLabel)

	case *ContinueStmt:
		ctx := c.fn()
		if len(ctx.loops) == 0 {
			c.errorf(n.Line, "continue outside loop")
			return
		}
		loop := ctx.loops[len(ctx.loops)-1]
		c.unwindRegions(loop.protDepth)
		c.emitSym(vm.OpJump, loop.startLabel)

	case *ReturnStmt:
		if n.Value != nil {
			c.compileExpr(n.Value)
		} else {
			c.emitPush(vm.Null)
		}
		c.unwindRegions(0)
		c.emit(vm.OpReturn)

	case *TryStmt:
		c.compileTry(n)
		if wantValue {
			c.emitPush(vm.Null)
		}

	case *ThrowStmt:
		c.compileExpr(n.Value)
		c.emit(vm.OpThrow)

	default:
		c.errorf(s.Pos(), "unsupported statement %T", s)
	}
}

// unwindRegions pops exception handlers and inlines finally bodies for every
// protected region above downTo, innermost first. The protection stack is
// truncated while each finally compiles so a nested early exit cannot loop.
func (c *Compiler) unwindRegions(downTo int) {
	ctx := c.fn()
	saved := ctx.protected
	for i := len(saved) - 1; i >= downTo; i-- {
		c.emit(vm.OpPopExceptionHandler)
		if fin := saved[i].finally; fin != nil {
			ctx.protected = saved[:i]
			c.compileBlock(fin, false)
		}
	}
	ctx.protected = saved
}

func (c *Compiler) compileAssign(n *AssignStmt) {
	switch t := n.Target.(type) {
	case *Ident:
		c.compileExpr(n.Value)
		if slot, ok := c.resolveLocal(t.Name); ok {
			c.emitN(vm.OpMovePlusFP, slot)
		} else {
			c.emitSym(vm.OpStore, t.Name)
		}
	case *FieldExpr:
		c.compileExpr(t.X)
		c.compileExpr(n.Value)
		c.emitSym(vm.OpSetField, t.Name)
	case *IndexExpr:
		c.compileExpr(t.X)
		c.compileExpr(t.Index)
		c.compileExpr(n.Value)
		c.emit(vm.OpSetIndex)
	default:
		c.errorf(n.Line, "invalid assignment target %T", n.Target)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// compileDef lowers a function definition. The body is emitted inline behind
// a jump; the resulting function value is stored as a global. `async def`
// emits the body as an impl function plus a wrapper that returns
// coroutine.create(impl, args...).
func (c *Compiler) compileDef(n *DefStmt) {
	after := c.newLabel("after_" + n.Name)
	c.emitSym(vm.OpJump, after)

	implName := n.Name
	if n.Async {
		implName = n.Name + "__impl"
	}
	implFn := c.compileFunctionBody(implName, n.Params, n.Body)

	var result vm.Value
	if n.Async {
		wrapLabel := c.newLabel("func_" + n.Name)
		c.emitSym(vm.OpLabel, wrapLabel)
		c.emitPush(vm.FuncValue(implFn))
		for i := range n.Params {
			c.emitN(vm.OpDupPlusFP, i)
		}
		c.emitCall("coroutine.create", len(n.Params)+1)
		c.emit(vm.OpReturn)
		c.prog.Syms[wrapLabel] = &vm.Symbol{Label: wrapLabel, NumArgs: len(n.Params), NumLocals: len(n.Params)}
		result = vm.FuncValue(&vm.Function{
			Name:      n.Name,
			Label:     wrapLabel,
			NumArgs:   len(n.Params),
			NumLocals: len(n.Params),
			Params:    n.Params,
		})
	} else {
		result = vm.FuncValue(implFn)
	}

	c.emitSym(vm.OpLabel, after)
	c.emitPush(result)
	c.emitSym(vm.OpStore, n.Name)
}

// compileFunctionBody emits a labelled function body and registers its
// symbol. The body compiles in value mode: the last expression is the
// implicit return value.
func (c *Compiler) compileFunctionBody(name string, params []string, body *Block) *vm.Function {
	label := c.newLabel("func_" + name)
	c.emitSym(vm.OpLabel, label)
	c.pushFunc(params)
	c.compileBlockStmts(body.Stmts, true)
	c.emit(vm.OpReturn)
	ctx := c.popFunc()
	sym := &vm.Symbol{Label: label, NumArgs: len(params), NumLocals: ctx.maxSlot}
	c.prog.Syms[label] = sym
	return &vm.Function{
		Name:      name,
		Label:     label,
		NumArgs:   len(params),
		NumLocals: ctx.maxSlot,
		Params:    params,
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (c *Compiler) compileFor(n *ForStmt) {
	ctx := c.fn()
	start := c.newLabel("loop_start")
	end := c.newLabel("loop_end")
	ctx.loops = append(ctx.loops, &loopCtx{startLabel: start, endLabel: end, protDepth: len(ctx.protected)})

	c.emitSym(vm.OpLabel, start)
	if n.Cond != nil {
		c.compileExpr(n.Cond)
		c.emitSym(vm.OpJumpIfFalse, end)
	}
	c.compileBlock(n.Body, false)
	c.emitSym(vm.OpJump, start)
	c.emitSym(vm.OpLabel, end)

	ctx.loops = ctx.loops[:len(ctx.loops)-1]
}

// compileForIn lowers `for x in e` to the iterator protocol: obtain an
// iterator via e:iter(), then resume it each round until it dies; the final
// return value is not an element.
func (c *Compiler) compileForIn(n *ForInStmt) {
	ctx := c.fn()
	c.enterScope()
	iterSlot := c.declareLocal(c.newLabel("__iter"))
	varSlot := c.declareLocal(n.Name)

	c.compileExpr(n.Iterable)
	c.emitSym(vm.OpGetMethod, "iter")
	c.emitN(vm.OpCallMethod, 0)
	c.emitN(vm.OpMovePlusFP, iterSlot)

	start := c.newLabel("loop_start")
	end := c.newLabel("loop_end")
	ctx.loops = append(ctx.loops, &loopCtx{startLabel: start, endLabel: end, protDepth: len(ctx.protected)})

	c.emitSym(vm.OpLabel, start)
	c.emitN(vm.OpDupPlusFP, iterSlot)
	c.emitCall("coroutine.resume", 1)
	c.emitN(vm.OpMovePlusFP, varSlot)
	c.emitN(vm.OpDupPlusFP, iterSlot)
	c.emitCall("coroutine.status", 1)
	c.emitPush(vm.Str("dead"))
	c.emit(vm.OpEq)
	c.emitSym(vm.OpJumpIfTrue, end)
	c.compileBlock(n.Body, false)
	c.emitSym(vm.OpJump, start)
	c.emitSym(vm.OpLabel, end)

	ctx.loops = ctx.loops[:len(ctx.loops)-1]
	c.exitScope()
}

// ---------------------------------------------------------------------------
// Try/catch/finally
// ---------------------------------------------------------------------------

// compileTry lowers exception handling. The finally body is inlined on every
// exit path: normal completion, caught exception, and exceptions escaping
// the catch body (via a guard handler that rethrows after running finally).
func (c *Compiler) compileTry(n *TryStmt) {
	ctx := c.fn()
	end := c.newLabel("try_end")
	rethrow := c.newLabel("finally_rethrow")

	if n.Catch != nil {
		catch := c.newLabel("catch")
		c.emitSym(vm.OpPushExceptionHandler, catch)
		ctx.protected = append(ctx.protected, &protectedRegion{finally: n.Finally})
		c.compileBlock(n.Body, false)
		c.emit(vm.OpPopExceptionHandler)
		ctx.protected = ctx.protected[:len(ctx.protected)-1]
		if n.Finally != nil {
			c.compileBlock(n.Finally, false)
		}
		c.emitSym(vm.OpJump, end)

		// Catch entry: the thrown value is on the stack.
		c.emitSym(vm.OpLabel, catch)
		c.enterScope()
		if n.CatchName != "" {
			slot := c.declareLocal(n.CatchName)
			c.emitN(vm.OpMovePlusFP, slot)
		} else {
			c.emit(vm.OpPop)
		}
		if n.Finally != nil {
			c.emitSym(vm.OpPushExceptionHandler, rethrow)
			ctx.protected = append(ctx.protected, &protectedRegion{finally: n.Finally})
		}
		c.compileBlock(n.Catch, false)
		if n.Finally != nil {
			c.emit(vm.OpPopExceptionHandler)
			ctx.protected = ctx.protected[:len(ctx.protected)-1]
			c.compileBlock(n.Finally, false)
		}
		c.exitScope()
		c.emitSym(vm.OpJump, end)
	} else {
		c.emitSym(vm.OpPushExceptionHandler, rethrow)
		ctx.protected = append(ctx.protected, &protectedRegion{finally: n.Finally})
		c.compileBlock(n.Body, false)
		c.emit(vm.OpPopExceptionHandler)
		ctx.protected = ctx.protected[:len(ctx.protected)-1]
		c.compileBlock(n.Finally, false)
		c.emitSym(vm.OpJump, end)
	}

	if n.Finally != nil {
		// Guard path: run finally with the in-flight value, then rethrow.
		c.emitSym(vm.OpLabel, rethrow)
		c.compileBlock(n.Finally, false)
		c.emit(vm.OpThrow)
	} else {
		// Keep the label defined; the handler using it exists only when a
		// finally is present, so this is unreachable.
		c.emitSym(vm.OpLabel, rethrow)
	}
	c.emitSym(vm.OpLabel, end)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(e Expr) {
	c.setLine(e)
	switch n := e.(type) {
	case *IntLit:
		c.emitPush(vm.Int(n.Value))

	case *DecLit:
		v, err := vm.ParseDecimal(n.Text)
		if err != nil {
			c.errorf(n.Line, "%v", err)
			v = vm.Null
		}
		c.emitPush(v)

	case *StrLit:
		c.emitPush(vm.Str(n.Value))

	case *BoolLit:
		c.emitPush(vm.Bool(n.Value))

	case *NullLit:
		c.emitPush(vm.Null)

	case *Ident:
		if slot, ok := c.resolveLocal(n.Name); ok {
			c.emitN(vm.OpDupPlusFP, slot)
		} else {
			c.emitSym(vm.OpLoad, n.Name)
		}

	case *UnaryExpr:
		switch n.Op {
		case "-":
			c.compileExpr(n.X)
			c.emit(vm.OpNeg)
		case "!":
			c.compileExpr(n.X)
			c.emit(vm.OpNot)
		case "await":
			c.compileExpr(n.X)
			c.emitCall("coroutine.yield", 1)
		default:
			c.errorf(n.Line, "unknown unary operator %s", n.Op)
		}

	case *BinaryExpr:
		c.compileBinary(n)

	case *CallExpr:
		c.compileCall(n)

	case *MethodCallExpr:
		c.compileExpr(n.Recv)
		c.emitSym(vm.OpGetMethod, n.Name)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.setLine(n)
		c.emitN(vm.OpCallMethod, len(n.Args))

	case *FieldExpr:
		c.compileExpr(n.X)
		c.emitSym(vm.OpGetField, n.Name)

	case *IndexExpr:
		c.compileExpr(n.X)
		c.compileExpr(n.Index)
		c.emit(vm.OpGetIndex)

	case *ObjectLit:
		c.emit(vm.OpNewObject)
		for i, k := range n.Keys {
			c.emit(vm.OpDup)
			c.compileExpr(n.Vals[i])
			c.emitSym(vm.OpSetField, k)
		}

	case *ArrayLit:
		for _, el := range n.Elems {
			c.compileExpr(el)
		}
		c.setLine(n)
		c.emitN(vm.OpBuildArray, len(n.Elems))

	case *FuncLit:
		after := c.newLabel("after_fn")
		c.emitSym(vm.OpJump, after)
		fn := c.compileFunctionBody(fmt.Sprintf("fn@%d", n.Line), n.Params, n.Body)
		c.emitSym(vm.OpLabel, after)
		c.emitPush(vm.FuncValue(fn))

	case *IfExpr:
		c.compileIf(n)

	case *BlockExpr:
		c.compileBlock(n.B, true)

	case *ImportExpr:
		c.emitSym(vm.OpImport, n.Path)

	default:
		c.errorf(e.Pos(), "unsupported expression %T", e)
	}
}

// compileBinary lowers operators. && and || short-circuit with jumps and
// produce a boolean; everything else evaluates both operands.
func (c *Compiler) compileBinary(n *BinaryExpr) {
	switch n.Op {
	case "&&":
		falseL := c.newLabel("and_false")
		end := c.newLabel("and_end")
		c.compileExpr(n.L)
		c.emitSym(vm.OpJumpIfFalse, falseL)
		c.compileExpr(n.R)
		c.emitSym(vm.OpJumpIfFalse, falseL)
		c.emitPush(vm.Bool(true))
		c.emitSym(vm.OpJump, end)
		c.emitSym(vm.OpLabel, falseL)
		c.emitPush(vm.Bool(false))
		c.emitSym(vm.OpLabel, end)
		return
	case "||":
		trueL := c.newLabel("or_true")
		end := c.newLabel("or_end")
		c.compileExpr(n.L)
		c.emitSym(vm.OpJumpIfTrue, trueL)
		c.compileExpr(n.R)
		c.emitSym(vm.OpJumpIfTrue, trueL)
		c.emitPush(vm.Bool(false))
		c.emitSym(vm.OpJump, end)
		c.emitSym(vm.OpLabel, trueL)
		c.emitPush(vm.Bool(true))
		c.emitSym(vm.OpLabel, end)
		return
	}
	c.compileExpr(n.L)
	c.compileExpr(n.R)
	c.setLine(n)
	switch n.Op {
	case "+":
		c.emit(vm.OpAdd)
	case "-":
		c.emit(vm.OpSub)
	case "*":
		c.emit(vm.OpMul)
	case "/":
		c.emit(vm.OpDiv)
	case "%":
		c.emit(vm.OpMod)
	case "==":
		c.emit(vm.OpEq)
	case "!=":
		c.emit(vm.OpNe)
	case "<":
		c.emit(vm.OpLt)
	case "<=":
		c.emit(vm.OpLe)
	case ">":
		c.emit(vm.OpGt)
	case ">=":
		c.emit(vm.OpGe)
	default:
		c.errorf(n.Line, "unknown operator %s", n.Op)
	}
}

// compileCall lowers a call expression. A plain global name compiles to the
// named CALL form; anything else evaluates the callee and uses CALL_STACK.
func (c *Compiler) compileCall(n *CallExpr) {
	if id, ok := n.Callee.(*Ident); ok {
		if _, isLocal := c.resolveLocal(id.Name); !isLocal {
			for _, a := range n.Args {
				c.compileExpr(a)
			}
			c.setLine(n)
			c.emitCall(id.Name, len(n.Args))
			return
		}
	}
	c.compileExpr(n.Callee)
	for _, a := range n.Args {
		c.compileExpr(a)
	}
	c.setLine(n)
	c.emitN(vm.OpCallStack, len(n.Args))
}

// compileIf threads JumpIfFalse/Jump through the arms; every arm leaves one
// value and a missing else supplies null.
func (c *Compiler) compileIf(n *IfExpr) {
	elseL := c.newLabel("if_else")
	end := c.newLabel("if_end")
	c.compileExpr(n.Cond)
	c.emitSym(vm.OpJumpIfFalse, elseL)
	c.compileBlock(n.Then, true)
	c.emitSym(vm.OpJump, end)
	c.emitSym(vm.OpLabel, elseL)
	if n.Else != nil {
		c.compileExpr(n.Else)
	} else {
		c.emitPush(vm.Null)
	}
	c.emitSym(vm.OpLabel, end)
}
