package vm

import "time"

// ---------------------------------------------------------------------------
// Scheduler: cooperative round-robin runner
// ---------------------------------------------------------------------------

// Scheduler drives spawned coroutines for await_all. It is single-threaded:
// it owns a run queue of runnable fibers and a parking lot of fibers blocked
// on I/O tokens, and it resumes exactly one fiber at a time.
type Scheduler struct {
	vm     *VM
	queue  []*Fiber
	parked []parkedFiber
	waiter *Fiber
	watch  []*Fiber
	active bool
}

// parkedFiber is a fiber blocked on an I/O token until its deadline.
type parkedFiber struct {
	f        *Fiber
	deadline time.Time
}

func newScheduler(vm *VM) *Scheduler {
	return &Scheduler{vm: vm}
}

// registerSchedulerNatives installs spawn and await_all as plain globals in
// addition to their coroutine.* registry names.
func (vm *VM) registerSchedulerNatives() {
	vm.RegisterNative("spawn", 1, nativeSpawn)
	vm.RegisterNative("await_all", 1, nativeAwaitAll)
}

// nativeSpawn appends a coroutine to the run queue without executing it.
func nativeSpawn(vm *VM, args []Value) (Value, *RuntimeError) {
	co := args[0].AsCoroutine()
	if co == nil {
		return Null, Errf(ErrType, "spawn expects a coroutine, got %s", args[0].Kind())
	}
	if co.state == FiberDead {
		return Null, Errf(ErrType, "cannot spawn a dead coroutine")
	}
	co.scheduled = true
	vm.sched.queue = append(vm.sched.queue, co)
	return args[0], nil
}

// nativeAwaitAll drains the run queue until every listed coroutine is dead,
// then returns their final return values in the order given.
func nativeAwaitAll(vm *VM, args []Value) (Value, *RuntimeError) {
	arr := args[0].AsArray()
	if arr == nil {
		return Null, Errf(ErrType, "await_all expects an array of coroutines, got %s", args[0].Kind())
	}
	s := vm.sched
	if s.active {
		return Null, Errf(ErrType, "await_all is not reentrant")
	}
	watch := make([]*Fiber, len(arr.Elems))
	for i, v := range arr.Elems {
		co := v.AsCoroutine()
		if co == nil {
			return Null, Errf(ErrType, "await_all expects coroutines, got %s", v.Kind())
		}
		watch[i] = co
	}
	for _, co := range watch {
		if co.state == FiberDead {
			continue
		}
		co.scheduled = true
		if !s.queued(co) {
			s.queue = append(s.queue, co)
		}
	}
	if allDead(watch) {
		results := make([]Value, len(watch))
		for i, co := range watch {
			results[i] = co.result
		}
		return NewArray(results), nil
	}
	s.waiter = vm.current
	s.watch = watch
	s.active = true
	s.waiter.state = FiberSuspended
	vm.switched = true
	return Null, s.advance()
}

// ---------------------------------------------------------------------------
// Scheduling steps
// ---------------------------------------------------------------------------

// advance picks the next runnable fiber and switches to it; when every
// watched fiber is dead it delivers the result array to the waiter. With an
// empty queue it waits on the earliest parked deadline, and with nothing
// parked either, it reports the stall.
func (s *Scheduler) advance() *RuntimeError {
	for {
		if allDead(s.watch) {
			s.deliver()
			return nil
		}
		if len(s.queue) == 0 {
			if len(s.parked) > 0 {
				s.unparkExpired()
				continue
			}
			s.abort()
			return Errf(ErrCancelled, "await_all: every coroutine is blocked")
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		if f.state == FiberDead {
			continue
		}
		if re := s.vm.resumeFiber(f, nil, true); re != nil {
			s.abort()
			return re
		}
		return nil
	}
}

// onYield classifies a value yielded by a scheduled fiber: a coroutine handle
// enqueues the child ahead of the yielder, a known I/O token parks the
// yielder, and anything else re-enqueues the yielder if still suspended.
func (s *Scheduler) onYield(f *Fiber, v Value) *RuntimeError {
	switch {
	case v.AsCoroutine() != nil:
		child := v.AsCoroutine()
		child.scheduled = true
		s.queue = append(s.queue, child, f)
	case isIOToken(v):
		s.parked = append(s.parked, parkedFiber{f: f, deadline: tokenDeadline(v)})
	default:
		if f.state == FiberSuspended {
			s.queue = append(s.queue, f)
		}
	}
	return s.advance()
}

// deliver hands the ordered result array to the awaiting fiber.
func (s *Scheduler) deliver() {
	results := make([]Value, len(s.watch))
	for i, co := range s.watch {
		results[i] = co.result
	}
	w := s.waiter
	s.active = false
	s.waiter = nil
	s.watch = nil
	w.state = FiberRunning
	w.push(NewArray(results))
	s.vm.current = w
}

// abort tears the scheduling round down and restores the waiter as the
// current fiber, so an escaping exception unwinds there.
func (s *Scheduler) abort() {
	w := s.waiter
	s.active = false
	s.waiter = nil
	s.watch = nil
	s.queue = nil
	s.parked = nil
	if w != nil {
		w.state = FiberRunning
		s.vm.current = w
	}
}

// unparkExpired sleeps until the earliest parked deadline and moves every
// expired fiber back to the run queue.
func (s *Scheduler) unparkExpired() {
	earliest := s.parked[0].deadline
	for _, p := range s.parked[1:] {
		if p.deadline.Before(earliest) {
			earliest = p.deadline
		}
	}
	if d := time.Until(earliest); d > 0 {
		time.Sleep(d)
	}
	now := time.Now()
	rest := s.parked[:0]
	for _, p := range s.parked {
		if !p.deadline.After(now) {
			s.queue = append(s.queue, p.f)
		} else {
			rest = append(rest, p)
		}
	}
	s.parked = rest
}

// queued reports whether f is already on the run queue.
func (s *Scheduler) queued(f *Fiber) bool {
	for _, q := range s.queue {
		if q == f {
			return true
		}
	}
	return false
}

func allDead(fibers []*Fiber) bool {
	for _, f := range fibers {
		if f.state != FiberDead {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// I/O tokens
// ---------------------------------------------------------------------------

// NewIOToken builds the value a yielding native hands to the scheduler: the
// owning fiber parks until the deadline passes.
func NewIOToken(d time.Duration) Value {
	t := NewTable()
	t.Set("__io_token", Bool(true))
	t.Set("deadline_ms", Int(time.Now().Add(d).UnixMilli()))
	return ObjectOf(t)
}

// isIOToken recognizes scheduler I/O tokens.
func isIOToken(v Value) bool {
	t := v.AsObject()
	if t == nil {
		return false
	}
	m, ok := t.Get("__io_token")
	if !ok {
		return false
	}
	b, _ := m.AsBool()
	return b
}

// tokenDeadline extracts the absolute deadline from a token.
func tokenDeadline(v Value) time.Time {
	t := v.AsObject()
	if d, ok := t.Get("deadline_ms"); ok {
		if ms, ok := d.AsInt(); ok {
			return time.UnixMilli(ms)
		}
	}
	return time.Now()
}
