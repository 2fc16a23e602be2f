package vm

// ---------------------------------------------------------------------------
// Coroutine primitives
// ---------------------------------------------------------------------------

// registerCoroutineNatives installs coroutine.create/resume/yield/status.
// Each is reachable both through the `coroutine` global table and by its
// dotted registry name (the compiler's async/await and for-in lowerings call
// the dotted names directly).
func (vm *VM) registerCoroutineNatives() {
	entries := []struct {
		name  string
		arity int
		fn    NativeFn
	}{
		{"coroutine.create", -1, nativeCoroutineCreate},
		{"coroutine.resume", -1, nativeCoroutineResume},
		{"coroutine.yield", -1, nativeCoroutineYield},
		{"coroutine.status", 1, nativeCoroutineStatus},
		{"coroutine.spawn", 1, nativeSpawn},
		{"coroutine.await_all", 1, nativeAwaitAll},
	}
	co := NewTable()
	for _, e := range entries {
		vm.RegisterNative(e.name, e.arity, e.fn)
		short := e.name[len("coroutine."):]
		co.Set(short, vm.Native(e.name))
	}
	vm.Globals["coroutine"] = ObjectOf(co)
}

// nativeCoroutineCreate builds a suspended fiber ready to run fn(args...).
func nativeCoroutineCreate(vm *VM, args []Value) (Value, *RuntimeError) {
	if len(args) == 0 || args[0].AsFunction() == nil {
		return Null, Errf(ErrType, "coroutine.create expects a function")
	}
	seed := make([]Value, len(args))
	copy(seed, args)
	return CoroutineValue(NewFiber(seed)), nil
}

// nativeCoroutineResume switches execution to the given fiber. The optional
// second argument becomes the result of the yield that last suspended it (or
// an extra initial argument on the first resume). Resuming a dead fiber
// returns false.
func nativeCoroutineResume(vm *VM, args []Value) (Value, *RuntimeError) {
	if len(args) == 0 {
		return Null, Errf(ErrType, "coroutine.resume expects a coroutine")
	}
	co := args[0].AsCoroutine()
	if co == nil {
		return Null, Errf(ErrType, "coroutine.resume expects a coroutine, got %s", args[0].Kind())
	}
	switch co.state {
	case FiberDead:
		return Bool(false), nil
	case FiberRunning:
		return Null, Errf(ErrType, "cannot resume a running coroutine")
	}
	return Null, vm.resumeFiber(co, args[1:], false)
}

// nativeCoroutineYield suspends the current fiber. The value passed becomes
// the return of the awaiting resume; under the scheduler the value is
// classified instead (child coroutine, I/O token, plain value).
func nativeCoroutineYield(vm *VM, args []Value) (Value, *RuntimeError) {
	v := Null
	if len(args) > 0 {
		v = args[0]
	}
	return Null, vm.yieldValue(v)
}

// nativeCoroutineStatus reports "suspended" | "running" | "dead".
func nativeCoroutineStatus(vm *VM, args []Value) (Value, *RuntimeError) {
	co := args[0].AsCoroutine()
	if co == nil {
		return Null, Errf(ErrType, "coroutine.status expects a coroutine, got %s", args[0].Kind())
	}
	return Str(co.state.String()), nil
}

// ---------------------------------------------------------------------------
// Fiber switching
// ---------------------------------------------------------------------------

// resumeFiber performs the logical switch into co. A fresh fiber gets its
// entry frame built from the creation seed plus any extra resume arguments;
// a suspended fiber receives the resume value as the result of its yield.
func (vm *VM) resumeFiber(co *Fiber, extra []Value, scheduled bool) *RuntimeError {
	cur := vm.current
	if !co.started {
		if re := vm.startFiber(co, extra); re != nil {
			return re
		}
	} else {
		if len(extra) > 0 {
			co.push(extra[0])
		} else {
			co.push(Null)
		}
	}
	if cur.state == FiberRunning {
		cur.state = FiberSuspended
	}
	co.resumer = cur
	co.scheduled = scheduled
	co.state = FiberRunning
	vm.current = co
	vm.switched = true
	return nil
}

// startFiber builds the initial call frame from the creation seed.
func (vm *VM) startFiber(co *Fiber, extra []Value) *RuntimeError {
	seed := co.entry
	co.entry = nil
	fn := seed[0].AsFunction()
	if fn == nil {
		return Errf(ErrType, "coroutine entry is not a function")
	}
	prog := fn.Prog
	if prog == nil {
		prog = vm.root.prog
	}
	sym, ok := prog.Syms[fn.Label]
	if !ok {
		return Errf(ErrUndefinedVariable, "function %s", fn.Name)
	}
	callArgs := append(seed[1:], extra...)
	for i := 0; i < fn.NumArgs; i++ {
		if i < len(callArgs) {
			co.push(callArgs[i])
		} else {
			co.push(Null)
		}
	}
	co.grow(fn.NumLocals)
	co.prog = prog
	co.fp = 0
	co.pc = sym.Location
	co.started = true
	return nil
}

// yieldValue suspends the current fiber, handing v to the scheduler when the
// fiber is scheduled, otherwise to the resumer. Yielding from the main fiber
// is an error.
func (vm *VM) yieldValue(v Value) *RuntimeError {
	cur := vm.current
	if cur.scheduled && vm.sched.active {
		cur.state = FiberSuspended
		vm.switched = true
		return vm.sched.onYield(cur, v)
	}
	if cur == vm.root || cur.resumer == nil {
		return Errf(ErrType, "cannot yield from the main fiber")
	}
	r := cur.resumer
	cur.state = FiberSuspended
	r.state = FiberRunning
	r.push(v)
	vm.current = r
	vm.switched = true
	return nil
}
