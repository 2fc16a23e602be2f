package vm

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/tliron/commonlog"
)

// MaxMetaDepth bounds __index chain traversal. Chains longer than this (or
// cycles) raise MetatableRecursion.
const MaxMetaDepth = 100

// defaultDecimalPrecision is the apd context precision for Decimal math.
const defaultDecimalPrecision = 50

// ---------------------------------------------------------------------------
// VM: the execution engine
// ---------------------------------------------------------------------------

// VM executes Chen bytecode. One VM owns the global namespace, the native
// registry, the module cache, per-type prototype tables and the fiber
// currently being executed.
type VM struct {
	Globals map[string]Value

	natives map[string]*NativeFunction
	modules map[string]Value
	protos  map[Kind]*Table

	root    *Fiber
	current *Fiber
	sched   *Scheduler

	Stdout io.Writer
	Stdin  *bufio.Reader

	// CompileFile is injected by the embedding layer so IMPORT can compile
	// module files without the vm package depending on the compiler.
	CompileFile func(path string) (*Program, error)

	log      commonlog.Logger
	decCtx   *apd.Context
	switched bool
}

// New creates a VM with the core natives registered.
func New() *VM {
	ctx := apd.BaseContext.WithPrecision(defaultDecimalPrecision)
	vm := &VM{
		Globals: make(map[string]Value),
		natives: make(map[string]*NativeFunction),
		modules: make(map[string]Value),
		protos:  make(map[Kind]*Table),
		Stdout:  os.Stdout,
		Stdin:   bufio.NewReader(os.Stdin),
		log:     commonlog.GetLogger("chen.vm"),
		decCtx:  ctx,
	}
	vm.sched = newScheduler(vm)
	vm.registerCoreNatives()
	vm.registerCoroutineNatives()
	vm.registerSchedulerNatives()
	vm.registerJSONNatives()
	return vm
}

// SetDecimalPrecision adjusts the Decimal context precision.
func (vm *VM) SetDecimalPrecision(p uint32) {
	vm.decCtx = apd.BaseContext.WithPrecision(p)
}

// RegisterNative installs a host function in the native registry and, when
// the name contains no dot, as a global. Arity < 0 means variadic.
func (vm *VM) RegisterNative(name string, arity int, fn NativeFn) {
	nat := &NativeFunction{Name: name, Arity: arity, Fn: fn}
	vm.natives[name] = nat
	if !strings.Contains(name, ".") {
		vm.Globals[name] = NativeValue(nat)
	}
}

// Native returns a registered native function value.
func (vm *VM) Native(name string) Value {
	if nat, ok := vm.natives[name]; ok {
		return NativeValue(nat)
	}
	return Null
}

// Proto returns the prototype table for a kind, creating it on demand.
func (vm *VM) Proto(k Kind) *Table {
	t, ok := vm.protos[k]
	if !ok {
		t = NewTable()
		vm.protos[k] = t
	}
	return t
}

// CurrentFiber returns the fiber being executed.
func (vm *VM) CurrentFiber() *Fiber { return vm.current }

// RootFiber returns the main fiber of the last Run.
func (vm *VM) RootFiber() *Fiber { return vm.root }

// ---------------------------------------------------------------------------
// Execution entry
// ---------------------------------------------------------------------------

// Run executes a resolved program on a fresh root fiber. Globals and the
// module cache persist across calls. It returns the program's top-level
// result value.
func (vm *VM) Run(prog *Program) (Value, error) {
	root := &Fiber{state: FiberRunning, prog: prog, pc: prog.Entry, result: Null}
	root.grow(prog.TopLocals)
	vm.root = root
	vm.current = root
	return vm.run()
}

// run is the interpreter loop. It executes the current fiber until the root
// fiber returns or an exception escapes every handler.
func (vm *VM) run() (Value, error) {
	for {
		f := vm.current
		if f.pc >= len(f.prog.Code) {
			// Fell off the end of the program: implicit null return.
			f.push(Null)
			if done, v, err := vm.returnTop(0); done {
				return v, err
			}
			continue
		}
		inst := f.prog.Code[f.pc]
		line := inst.Line

		switch inst.Op {
		case OpNop, OpLabel:
			f.pc++

		case OpPush:
			f.push(inst.Val)
			f.pc++

		case OpPop:
			f.pop()
			f.pc++

		case OpDup:
			f.push(f.top())
			f.pc++

		case OpDupPlusFP:
			f.push(f.stack[f.fp+inst.N])
			f.pc++

		case OpMovePlusFP:
			f.stack[f.fp+inst.N] = f.pop()
			f.pc++

		case OpLoad:
			v, ok := vm.Globals[inst.Sym]
			if !ok {
				if term := vm.fault(Errf(ErrUndefinedVariable, "%s", inst.Sym), line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpStore:
			vm.Globals[inst.Sym] = f.pop()
			f.pc++

		case OpJump:
			f.pc = inst.N

		case OpJumpIfFalse:
			if !f.pop().IsTruthy() {
				f.pc = inst.N
			} else {
				f.pc++
			}

		case OpJumpIfTrue:
			if f.pop().IsTruthy() {
				f.pc = inst.N
			} else {
				f.pc++
			}

		case OpCall:
			callee, ok := vm.Globals[inst.Sym]
			if !ok {
				if nat, ok2 := vm.natives[inst.Sym]; ok2 {
					callee = NativeValue(nat)
				} else {
					if term := vm.fault(Errf(ErrUndefinedVariable, "%s", inst.Sym), line); term != nil {
						return Null, term
					}
					continue
				}
			}
			args := f.popN(inst.N)
			if re := vm.applyCallable(callee, args); re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
			}

		case OpCallStack:
			args := f.popN(inst.N)
			callee := f.pop()
			if re := vm.applyCallable(callee, args); re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
			}

		case OpCallMethod:
			args := f.popN(inst.N)
			callee := f.pop()
			recv := f.pop()
			all := make([]Value, 0, len(args)+1)
			all = append(all, recv)
			all = append(all, args...)
			if re := vm.applyCallable(callee, all); re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
			}

		case OpReturn:
			if done, v, err := vm.returnTop(line); done {
				return v, err
			}

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b := f.pop()
			a := f.pop()
			if mm, ok := vm.binaryMetamethod(a, b, metamethodName(inst.Op)); ok {
				if re := vm.applyCallable(mm, []Value{a, b}); re != nil {
					if term := vm.fault(re, line); term != nil {
						return Null, term
					}
				}
				continue
			}
			v, re := vm.arith(inst.Op, a, b)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpNeg:
			a := f.pop()
			v, re := vm.arithNeg(a)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpEq:
			b := f.pop()
			a := f.pop()
			f.push(Bool(a.Equal(b)))
			f.pc++

		case OpNe:
			b := f.pop()
			a := f.pop()
			f.push(Bool(!a.Equal(b)))
			f.pc++

		case OpLt, OpLe, OpGt, OpGe:
			b := f.pop()
			a := f.pop()
			v, re := compare(inst.Op, a, b)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpAnd:
			b := f.pop()
			a := f.pop()
			f.push(Bool(a.IsTruthy() && b.IsTruthy()))
			f.pc++

		case OpOr:
			b := f.pop()
			a := f.pop()
			f.push(Bool(a.IsTruthy() || b.IsTruthy()))
			f.pc++

		case OpNot:
			f.push(Bool(!f.pop().IsTruthy()))
			f.pc++

		case OpNewObject:
			f.push(NewObject())
			f.pc++

		case OpSetField:
			v := f.pop()
			recv := f.pop()
			t := recv.AsObject()
			if t == nil {
				if term := vm.fault(Errf(ErrType, "cannot set field %q on %s", inst.Sym, recv.Kind()), line); term != nil {
					return Null, term
				}
				continue
			}
			t.Set(inst.Sym, v)
			f.pc++

		case OpGetField:
			recv := f.pop()
			v, idxFn, re := vm.fieldLookup(recv, inst.Sym)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			if idxFn != nil {
				if re := vm.applyCallable(*idxFn, []Value{recv, Str(inst.Sym)}); re != nil {
					if term := vm.fault(re, line); term != nil {
						return Null, term
					}
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpGetMethod:
			recv := f.pop()
			m, idxFn, re := vm.methodLookup(recv, inst.Sym)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(recv)
			if idxFn != nil {
				// A callable __index supplies the method; its return value
				// lands on top of the receiver already pushed.
				if re := vm.applyCallable(*idxFn, []Value{recv, Str(inst.Sym)}); re != nil {
					if term := vm.fault(re, line); term != nil {
						return Null, term
					}
				}
				continue
			}
			f.push(m)
			f.pc++

		case OpSetIndex:
			v := f.pop()
			idx := f.pop()
			recv := f.pop()
			if re := vm.setIndex(recv, idx, v); re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.pc++

		case OpGetIndex:
			idx := f.pop()
			recv := f.pop()
			if t := recv.AsObject(); t != nil {
				key := indexKey(idx)
				v, idxFn, re := vm.fieldLookup(recv, key)
				if re != nil {
					if term := vm.fault(re, line); term != nil {
						return Null, term
					}
					continue
				}
				if idxFn != nil {
					if re := vm.applyCallable(*idxFn, []Value{recv, Str(key)}); re != nil {
						if term := vm.fault(re, line); term != nil {
							return Null, term
						}
					}
					continue
				}
				f.push(v)
				f.pc++
				continue
			}
			v, re := getIndex(recv, idx)
			if re != nil {
				if term := vm.fault(re, line); term != nil {
					return Null, term
				}
				continue
			}
			f.push(v)
			f.pc++

		case OpBuildArray:
			elems := f.popN(inst.N)
			f.push(NewArray(elems))
			f.pc++

		case OpThrow:
			v := f.pop()
			if term := vm.raise(v, line); term != nil {
				return Null, term
			}

		case OpPushExceptionHandler:
			f.handlers = append(f.handlers, Handler{
				Target:     inst.N,
				StackDepth: len(f.stack),
				FP:         f.fp,
				CallDepth:  len(f.frames),
				Prog:       f.prog,
			})
			f.pc++

		case OpPopExceptionHandler:
			f.handlers = f.handlers[:len(f.handlers)-1]
			f.pc++

		case OpImport:
			if done, v, err := vm.importModule(inst.Sym, line); done {
				return v, err
			}

		default:
			return Null, Errf(ErrType, "unknown opcode %s", inst.Op).withLine(line)
		}
	}
}

// withLine stamps a line onto a RuntimeError and returns it.
func (e *RuntimeError) withLine(line int) *RuntimeError {
	if e.Line == 0 {
		e.Line = line
	}
	return e
}

// ---------------------------------------------------------------------------
// Calls and returns
// ---------------------------------------------------------------------------

// applyCallable invokes a callee with the given argument values and leaves
// the current fiber positioned for the loop to continue: a native's result is
// pushed (unless it switched fibers), a user function gets a fresh call frame.
// Missing user-function arguments are padded with null, extras dropped.
func (vm *VM) applyCallable(callee Value, args []Value) *RuntimeError {
	f := vm.current
	switch callee.Kind() {
	case KindNative:
		nat := callee.AsNative()
		if nat.Arity >= 0 && len(args) != nat.Arity {
			return Errf(ErrType, "%s expects %d arguments, got %d", nat.Name, nat.Arity, len(args))
		}
		f.pc++ // position the fiber before the call: a switching native must find it resumable
		vm.switched = false
		v, re := nat.Fn(vm, args)
		if re != nil {
			vm.switched = false
			return re
		}
		if vm.switched {
			vm.switched = false
			return nil
		}
		vm.current.push(v)
		return nil

	case KindFunction:
		fn := callee.AsFunction()
		prog := fn.Prog
		if prog == nil {
			prog = f.prog
		}
		sym, ok := prog.Syms[fn.Label]
		if !ok {
			return Errf(ErrUndefinedVariable, "function %s", fn.Name)
		}
		newFP := len(f.stack)
		for i := 0; i < fn.NumArgs; i++ {
			if i < len(args) {
				f.push(args[i])
			} else {
				f.push(Null)
			}
		}
		f.grow(newFP + fn.NumLocals)
		f.frames = append(f.frames, frame{retPC: f.pc + 1, savedFP: f.fp, fn: fn, prog: f.prog})
		f.fp = newFP
		f.prog = prog
		f.pc = sym.Location
		return nil

	default:
		return Errf(ErrType, "value of type %s is not callable", callee.Kind())
	}
}

// returnTop executes a RETURN: pops the result, unwinds the top call frame,
// and pushes the result for the caller. At fiber depth zero the fiber dies;
// for the root fiber that ends the program and returnTop reports done.
func (vm *VM) returnTop(line int) (done bool, result Value, err error) {
	f := vm.current
	ret := f.pop()
	if len(f.frames) == 0 {
		f.state = FiberDead
		f.result = ret
		if f == vm.root {
			return true, ret, nil
		}
		if re := vm.fiberReturn(f, ret); re != nil {
			if term := vm.fault(re, line); term != nil {
				return true, Null, term
			}
		}
		return false, Null, nil
	}
	fr := f.frames[len(f.frames)-1]
	f.frames = f.frames[:len(f.frames)-1]
	f.stack = f.stack[:f.fp]
	f.fp = fr.savedFP
	f.prog = fr.prog
	f.pc = fr.retPC
	if fr.importPath != "" {
		vm.modules[fr.importPath] = ret
	}
	f.push(ret)
	return false, Null, nil
}

// fiberReturn delivers a finished fiber's result: to the scheduler when the
// fiber was scheduled, otherwise to its resumer.
func (vm *VM) fiberReturn(f *Fiber, ret Value) *RuntimeError {
	if f.scheduled && vm.sched.active {
		return vm.sched.advance()
	}
	r := f.resumer
	if r == nil {
		return Errf(ErrType, "coroutine finished with no resumer")
	}
	r.state = FiberRunning
	r.push(ret)
	vm.current = r
	return nil
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// fault raises a runtime error as a catchable value.
func (vm *VM) fault(re *RuntimeError, line int) error {
	re.withLine(line)
	return vm.raise(re.Value(), line)
}

// raise unwinds to the innermost handler of the current fiber: the data
// stack, frame pointer and call stack are restored to the handler's recorded
// depths and the thrown value is pushed at the catch address. A fiber with no
// handler dies and the exception re-raises in its resumer; reaching the root
// fiber with no handler terminates the program.
func (vm *VM) raise(v Value, line int) error {
	for {
		f := vm.current
		if n := len(f.handlers); n > 0 {
			h := f.handlers[n-1]
			f.handlers = f.handlers[:n-1]
			f.stack = f.stack[:h.StackDepth]
			f.fp = h.FP
			f.frames = f.frames[:h.CallDepth]
			f.prog = h.Prog
			f.push(v)
			f.pc = h.Target
			return nil
		}
		f.state = FiberDead
		f.result = Null
		if f == vm.root {
			re := errorFromValue(v, line)
			vm.log.Errorf("uncaught exception: %s", re.Error())
			return re
		}
		if f.scheduled && vm.sched.active {
			vm.sched.abort()
			continue
		}
		r := f.resumer
		if r == nil {
			return errorFromValue(v, line)
		}
		r.state = FiberRunning
		vm.current = r
	}
}

// ---------------------------------------------------------------------------
// Field and method lookup
// ---------------------------------------------------------------------------

// fieldLookup resolves a field: the table's own map first, then the
// __index chain. A table __index recurses (bounded by MaxMetaDepth); a
// callable __index is returned for the interpreter to invoke with
// (receiver, key). Missing fields yield null.
func (vm *VM) fieldLookup(recv Value, key string) (Value, *Value, *RuntimeError) {
	t := recv.AsObject()
	if t == nil {
		return Null, nil, nil
	}
	for depth := 0; depth < MaxMetaDepth; depth++ {
		if v, ok := t.Get(key); ok {
			return v, nil, nil
		}
		meta := t.Meta()
		if meta == nil {
			return Null, nil, nil
		}
		idx, ok := meta.Get("__index")
		if !ok {
			return Null, nil, nil
		}
		if next := idx.AsObject(); next != nil {
			t = next
			continue
		}
		if idx.IsCallable() {
			return Null, &idx, nil
		}
		return Null, nil, nil
	}
	return Null, nil, Errf(ErrMetatableRecursion, "__index chain exceeds %d levels", MaxMetaDepth)
}

// methodLookup resolves a method for the `:` call form. Objects search own
// fields and the __index chain, then the object prototype; other kinds search
// their prototype table directly.
func (vm *VM) methodLookup(recv Value, key string) (Value, *Value, *RuntimeError) {
	if recv.AsObject() != nil {
		v, idxFn, re := vm.fieldLookup(recv, key)
		if re != nil || idxFn != nil {
			return Null, idxFn, re
		}
		if !v.IsNull() {
			return v, nil, nil
		}
	}
	if proto, ok := vm.protos[recv.Kind()]; ok {
		if v, ok := proto.Get(key); ok {
			return v, nil, nil
		}
	}
	return Null, nil, Errf(ErrType, "no method %q on %s", key, recv.Kind())
}

// binaryMetamethod finds an operator metamethod on either operand's
// metatable. Lookup is raw: the metatable's own map only.
func (vm *VM) binaryMetamethod(a, b Value, name string) (Value, bool) {
	for _, v := range [2]Value{a, b} {
		if t := v.AsObject(); t != nil {
			if meta := t.Meta(); meta != nil {
				if mm, ok := meta.Get(name); ok && mm.IsCallable() {
					return mm, true
				}
			}
		}
	}
	return Null, false
}

// metamethodName maps an arithmetic opcode to its metamethod key.
func metamethodName(op Opcode) string {
	switch op {
	case OpAdd:
		return "__add"
	case OpSub:
		return "__sub"
	case OpMul:
		return "__mul"
	case OpDiv:
		return "__div"
	case OpMod:
		return "__mod"
	}
	return ""
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arith dispatches a binary arithmetic opcode on numeric (or, for +, string)
// operands. Integer op Integer stays Integer; any Decimal operand promotes
// the result to Decimal.
func (vm *VM) arith(op Opcode, a, b Value) (Value, *RuntimeError) {
	if op == OpAdd {
		if a.Kind() == KindString || b.Kind() == KindString {
			return Str(a.Display() + b.Display()), nil
		}
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return Null, Errf(ErrType, "unsupported operands %s and %s for %s", a.Kind(), b.Kind(), opSymbol(op))
	}
	if a.Kind() == KindInt && b.Kind() == KindInt {
		x, _ := a.AsInt()
		y, _ := b.AsInt()
		switch op {
		case OpAdd:
			return Int(x + y), nil
		case OpSub:
			return Int(x - y), nil
		case OpMul:
			return Int(x * y), nil
		case OpDiv:
			if y == 0 {
				return Null, Errf(ErrArithmetic, "division by zero")
			}
			return Int(x / y), nil
		case OpMod:
			if y == 0 {
				return Null, Errf(ErrArithmetic, "modulo by zero")
			}
			return Int(x % y), nil
		}
	}
	da := a.toDecimal()
	db := b.toDecimal()
	res := new(apd.Decimal)
	var err error
	switch op {
	case OpAdd:
		_, err = vm.decCtx.Add(res, da, db)
	case OpSub:
		_, err = vm.decCtx.Sub(res, da, db)
	case OpMul:
		_, err = vm.decCtx.Mul(res, da, db)
	case OpDiv:
		if db.IsZero() {
			return Null, Errf(ErrArithmetic, "division by zero")
		}
		_, err = vm.decCtx.Quo(res, da, db)
	case OpMod:
		if db.IsZero() {
			return Null, Errf(ErrArithmetic, "modulo by zero")
		}
		_, err = vm.decCtx.Rem(res, da, db)
	}
	if err != nil {
		return Null, Errf(ErrArithmetic, "%v", err)
	}
	return Decimal(res), nil
}

// arithNeg negates a numeric value.
func (vm *VM) arithNeg(a Value) (Value, *RuntimeError) {
	switch a.Kind() {
	case KindInt:
		n, _ := a.AsInt()
		return Int(-n), nil
	case KindDecimal:
		d, _ := a.AsDecimal()
		res := new(apd.Decimal)
		res.Neg(d)
		return Decimal(res), nil
	}
	return Null, Errf(ErrType, "cannot negate %s", a.Kind())
}

// compare dispatches an ordering opcode on numbers or strings.
func compare(op Opcode, a, b Value) (Value, *RuntimeError) {
	var c int
	switch {
	case a.IsNumeric() && b.IsNumeric():
		c = a.toDecimal().Cmp(b.toDecimal())
	case a.Kind() == KindString && b.Kind() == KindString:
		as, _ := a.AsString()
		bs, _ := b.AsString()
		c = strings.Compare(as, bs)
	default:
		return Null, Errf(ErrType, "cannot compare %s and %s", a.Kind(), b.Kind())
	}
	switch op {
	case OpLt:
		return Bool(c < 0), nil
	case OpLe:
		return Bool(c <= 0), nil
	case OpGt:
		return Bool(c > 0), nil
	case OpGe:
		return Bool(c >= 0), nil
	}
	return Null, Errf(ErrType, "bad comparison opcode %s", op)
}

// opSymbol returns the surface operator for an arithmetic opcode.
func opSymbol(op Opcode) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	}
	return op.Name()
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

// indexKey coerces a dynamic key to the string form used by tables.
func indexKey(idx Value) string {
	if s, ok := idx.AsString(); ok {
		return s
	}
	return idx.Display()
}

// getIndex handles GET_INDEX on arrays and strings; objects route through
// fieldLookup in the interpreter loop so the metatable applies.
func getIndex(recv, idx Value) (Value, *RuntimeError) {
	switch recv.Kind() {
	case KindArray:
		i, ok := idx.AsInt()
		if !ok {
			return Null, Errf(ErrType, "array index must be an integer, got %s", idx.Kind())
		}
		arr := recv.AsArray()
		if i < 0 || i >= int64(len(arr.Elems)) {
			return Null, Errf(ErrIndexOutOfRange, "index %d out of range [0, %d)", i, len(arr.Elems))
		}
		return arr.Elems[i], nil
	case KindString:
		i, ok := idx.AsInt()
		if !ok {
			return Null, Errf(ErrType, "string index must be an integer, got %s", idx.Kind())
		}
		s, _ := recv.AsString()
		runes := []rune(s)
		if i < 0 || i >= int64(len(runes)) {
			return Null, Errf(ErrIndexOutOfRange, "index %d out of range [0, %d)", i, len(runes))
		}
		return Str(string(runes[i])), nil
	}
	return Null, Errf(ErrType, "cannot index %s", recv.Kind())
}

// setIndex handles SET_INDEX. Assigning one past the end of an array appends.
func (vm *VM) setIndex(recv, idx, v Value) *RuntimeError {
	switch recv.Kind() {
	case KindArray:
		i, ok := idx.AsInt()
		if !ok {
			return Errf(ErrType, "array index must be an integer, got %s", idx.Kind())
		}
		arr := recv.AsArray()
		switch {
		case i >= 0 && i < int64(len(arr.Elems)):
			arr.Elems[i] = v
		case i == int64(len(arr.Elems)):
			arr.Elems = append(arr.Elems, v)
		default:
			return Errf(ErrIndexOutOfRange, "index %d out of range [0, %d]", i, len(arr.Elems))
		}
		return nil
	case KindObject:
		recv.AsObject().Set(indexKey(idx), v)
		return nil
	}
	return Errf(ErrType, "cannot index %s", recv.Kind())
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// importModule executes IMPORT: a cached module pushes its cached value; a
// stdlib module builds its table on first use; a file module is compiled and
// run in place via an import-tagged call frame whose return value is cached.
// Compile failures terminate the program (CompileError is not catchable).
func (vm *VM) importModule(path string, line int) (done bool, result Value, err error) {
	f := vm.current
	norm := normalizeModulePath(path)
	if v, ok := vm.modules[norm]; ok {
		f.push(v)
		f.pc++
		return false, Null, nil
	}
	if strings.HasPrefix(norm, "stdlib/") {
		v, re := vm.stdlibModule(norm)
		if re != nil {
			if term := vm.fault(re, line); term != nil {
				return true, Null, term
			}
			return false, Null, nil
		}
		vm.modules[norm] = v
		f.push(v)
		f.pc++
		return false, Null, nil
	}
	if vm.CompileFile == nil {
		if term := vm.fault(Errf(ErrType, "imports are not available in this host"), line); term != nil {
			return true, Null, term
		}
		return false, Null, nil
	}
	prog, cerr := vm.CompileFile(norm)
	if cerr != nil {
		return true, Null, cerr
	}
	vm.log.Debugf("import %s: compiled %d instructions", norm, len(prog.Code))
	f.frames = append(f.frames, frame{retPC: f.pc + 1, savedFP: f.fp, prog: f.prog, importPath: norm})
	f.fp = len(f.stack)
	f.grow(f.fp + prog.TopLocals)
	f.prog = prog
	f.pc = prog.Entry
	return false, Null, nil
}
