package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind names a class of runtime failure. All runtime failures are
// catchable by try/catch.
type ErrorKind string

const (
	ErrType               ErrorKind = "TypeError"
	ErrUndefinedVariable  ErrorKind = "UndefinedVariable"
	ErrArithmetic         ErrorKind = "ArithmeticError"
	ErrIndexOutOfRange    ErrorKind = "IndexOutOfRange"
	ErrMetatableRecursion ErrorKind = "MetatableRecursion"
	ErrCancelled          ErrorKind = "Cancelled"
	ErrUncaught           ErrorKind = "UncaughtException"
)

// RuntimeError is a runtime fault raised by the VM. Line is the 1-based
// source line of the instruction that faulted; it is stamped by the
// interpreter when the error surfaces.
type RuntimeError struct {
	Kind   ErrorKind
	Detail string
	Line   int
}

// Errf builds a RuntimeError; the interpreter fills in the line.
func Errf(kind ErrorKind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Error implements the error interface with the user-visible format.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("Runtime error at line %d: %s(%s)", e.Line, e.Kind, e.Detail)
}

// Value renders the error as a catchable Chen value: a table with kind,
// message and line fields.
func (e *RuntimeError) Value() Value {
	t := NewTable()
	t.Set("kind", Str(string(e.Kind)))
	t.Set("message", Str(e.Detail))
	t.Set("line", Int(int64(e.Line)))
	return ObjectOf(t)
}

// errorFromValue recovers kind/detail from a thrown value for uncaught
// reporting. Values that are not error tables surface as UncaughtException.
func errorFromValue(v Value, line int) *RuntimeError {
	if t := v.AsObject(); t != nil {
		k, okK := t.Get("kind")
		m, okM := t.Get("message")
		if okK && okM {
			if ks, ok := k.AsString(); ok {
				ms, _ := m.AsString()
				l := line
				if lv, ok := t.Get("line"); ok {
					if n, ok := lv.AsInt(); ok {
						l = int(n)
					}
				}
				return &RuntimeError{Kind: ErrorKind(ks), Detail: ms, Line: l}
			}
		}
	}
	return &RuntimeError{Kind: ErrUncaught, Detail: v.Display(), Line: line}
}

// ---------------------------------------------------------------------------
// Exception handlers
// ---------------------------------------------------------------------------

// Handler is a record placed on a fiber's handler stack by
// PushExceptionHandler. A throw restores the recorded depths and transfers
// control to Target.
type Handler struct {
	Target     int      // catch address
	StackDepth int      // data stack depth to restore
	FP         int      // frame pointer to restore
	CallDepth  int      // call stack depth to restore
	Prog       *Program // program active when the handler was installed
}
