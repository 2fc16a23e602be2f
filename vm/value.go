package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ---------------------------------------------------------------------------
// Value: the tagged dynamic value
// ---------------------------------------------------------------------------

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindDecimal
	KindBool
	KindString
	KindArray
	KindObject
	KindFunction
	KindNative
	KindCoroutine
)

// String returns the user-visible type name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindNative:
		return "native"
	case KindCoroutine:
		return "coroutine"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a Chen runtime value. Arrays, objects and coroutines are held by
// pointer, so copies of a Value share the same underlying cell.
type Value struct {
	kind Kind
	n    int64
	b    bool
	s    string
	dec  *apd.Decimal
	arr  *Array
	obj  *Table
	fn   *Function
	nat  *NativeFunction
	co   *Fiber
}

// Null is the null value.
var Null = Value{kind: KindNull}

// Array is a shared, interior-mutable ordered sequence.
type Array struct {
	Elems []Value
}

// Function is a user-defined function: an entry label into its Program.
type Function struct {
	Name      string
	Label     string
	NumArgs   int
	NumLocals int
	Params    []string
	Prog      *Program
}

// NativeFn is the host callback contract. It receives the VM handle and the
// argument values; it may return a value, raise, or switch fibers through the
// VM handle.
type NativeFn func(vm *VM, args []Value) (Value, *RuntimeError)

// NativeFunction is a host-provided callable. Arity < 0 means variadic.
type NativeFunction struct {
	Name  string
	Arity int
	Fn    NativeFn
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Int creates an integer value.
func Int(n int64) Value { return Value{kind: KindInt, n: n} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Str creates a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Decimal wraps an apd.Decimal.
func Decimal(d *apd.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

// ParseDecimal parses a decimal literal.
func ParseDecimal(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Null, fmt.Errorf("invalid decimal literal %q: %w", s, err)
	}
	return Decimal(d), nil
}

// NewArray creates an array value owning the given elements.
func NewArray(elems []Value) Value {
	return Value{kind: KindArray, arr: &Array{Elems: elems}}
}

// ArrayOf wraps an existing Array cell.
func ArrayOf(a *Array) Value { return Value{kind: KindArray, arr: a} }

// NewObject creates an empty table value.
func NewObject() Value { return Value{kind: KindObject, obj: NewTable()} }

// ObjectOf wraps an existing Table cell.
func ObjectOf(t *Table) Value { return Value{kind: KindObject, obj: t} }

// FuncValue wraps a user function.
func FuncValue(fn *Function) Value { return Value{kind: KindFunction, fn: fn} }

// NativeValue wraps a native function.
func NativeValue(n *NativeFunction) Value { return Value{kind: KindNative, nat: n} }

// CoroutineValue wraps a fiber handle.
func CoroutineValue(f *Fiber) Value { return Value{kind: KindCoroutine, co: f} }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the value's runtime type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.n, true
}

// AsDecimal returns the decimal payload.
func (v Value) AsDecimal() (*apd.Decimal, bool) {
	if v.kind != KindDecimal {
		return nil, false
	}
	return v.dec, true
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the shared array cell, or nil.
func (v Value) AsArray() *Array {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// AsObject returns the shared table cell, or nil.
func (v Value) AsObject() *Table {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// AsFunction returns the function payload, or nil.
func (v Value) AsFunction() *Function {
	if v.kind != KindFunction {
		return nil
	}
	return v.fn
}

// AsNative returns the native function payload, or nil.
func (v Value) AsNative() *NativeFunction {
	if v.kind != KindNative {
		return nil
	}
	return v.nat
}

// AsCoroutine returns the fiber handle, or nil.
func (v Value) AsCoroutine() *Fiber {
	if v.kind != KindCoroutine {
		return nil
	}
	return v.co
}

// IsNumeric reports whether v is an integer or decimal.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindDecimal }

// IsCallable reports whether v can be applied.
func (v Value) IsCallable() bool { return v.kind == KindFunction || v.kind == KindNative }

// ---------------------------------------------------------------------------
// Truthiness and equality
// ---------------------------------------------------------------------------

// IsTruthy reports whether v counts as true in a condition. false, null, 0,
// 0.0 and the empty string are falsy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.n != 0
	case KindDecimal:
		return !v.dec.IsZero()
	case KindString:
		return v.s != ""
	}
	return true
}

// Equal compares two values. Numbers compare by numeric value across the
// Integer/Decimal divide; strings by content; arrays, objects and coroutines
// by identity.
func (v Value) Equal(o Value) bool {
	switch {
	case v.IsNumeric() && o.IsNumeric():
		if v.kind == KindInt && o.kind == KindInt {
			return v.n == o.n
		}
		return v.toDecimal().Cmp(o.toDecimal()) == 0
	case v.kind != o.kind:
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindArray:
		return v.arr == o.arr
	case KindObject:
		return v.obj == o.obj
	case KindFunction:
		return v.fn == o.fn
	case KindNative:
		return v.nat == o.nat
	case KindCoroutine:
		return v.co == o.co
	}
	return false
}

// toDecimal promotes a numeric value to *apd.Decimal.
func (v Value) toDecimal() *apd.Decimal {
	if v.kind == KindDecimal {
		return v.dec
	}
	return apd.New(v.n, 0)
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// Display returns the user-facing rendering of v: the form used by print,
// string concatenation and error messages.
func (v Value) Display() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindDecimal:
		return formatDecimal(v.dec)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.arr.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.Display())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindObject:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v.obj.vals[k].Display())
		}
		sb.WriteByte('}')
		return sb.String()
	case KindFunction:
		return "<function " + v.fn.Name + ">"
	case KindNative:
		return "<native " + v.nat.Name + ">"
	case KindCoroutine:
		return "<coroutine " + v.co.state.String() + ">"
	}
	return "<unknown>"
}

// formatDecimal prints a decimal without trailing zeros but preserving its
// numeric value. Reduce strips trailing fraction zeros; plain 'f' formatting
// avoids scientific notation.
func formatDecimal(d *apd.Decimal) string {
	var r apd.Decimal
	r.Reduce(d)
	s := r.Text('f')
	return s
}
