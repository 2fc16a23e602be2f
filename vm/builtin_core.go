package vm

import "strings"

// ---------------------------------------------------------------------------
// Core natives
// ---------------------------------------------------------------------------

// registerCoreNatives installs the globals every program sees.
func (vm *VM) registerCoreNatives() {
	vm.RegisterNative("print", -1, nativePrint)
	vm.RegisterNative("println", -1, nativePrintln)
	vm.RegisterNative("len", 1, nativeLen)
	vm.RegisterNative("type", 1, nativeType)
	vm.RegisterNative("str", 1, nativeStr)
	vm.RegisterNative("keys", 1, nativeKeys)
	vm.RegisterNative("chars", 1, nativeChars)
	vm.RegisterNative("range", 1, nativeRange)
	vm.RegisterNative("set_meta", 2, nativeSetMeta)
	vm.RegisterNative("get_meta", 1, nativeGetMeta)
}

// nativePrint writes its arguments joined by single spaces.
func nativePrint(vm *VM, args []Value) (Value, *RuntimeError) {
	writeJoined(vm, args)
	return Null, nil
}

// nativePrintln writes its arguments joined by single spaces, then a newline.
func nativePrintln(vm *VM, args []Value) (Value, *RuntimeError) {
	writeJoined(vm, args)
	vm.Stdout.Write([]byte{'\n'})
	return Null, nil
}

func writeJoined(vm *VM, args []Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Display()
	}
	vm.Stdout.Write([]byte(strings.Join(parts, " ")))
}

// nativeLen returns the element count of an array or object, or the number
// of code points in a string.
func nativeLen(vm *VM, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindArray:
		return Int(int64(len(v.AsArray().Elems))), nil
	case KindObject:
		return Int(int64(v.AsObject().Len())), nil
	case KindString:
		s, _ := v.AsString()
		return Int(int64(len([]rune(s)))), nil
	}
	return Null, Errf(ErrType, "len expects array, object or string, got %s", v.Kind())
}

// nativeType returns the value's type name.
func nativeType(vm *VM, args []Value) (Value, *RuntimeError) {
	return Str(args[0].Kind().String()), nil
}

// nativeStr returns the display form of a value.
func nativeStr(vm *VM, args []Value) (Value, *RuntimeError) {
	return Str(args[0].Display()), nil
}

// nativeKeys returns an object's keys in insertion order.
func nativeKeys(vm *VM, args []Value) (Value, *RuntimeError) {
	t := args[0].AsObject()
	if t == nil {
		return Null, Errf(ErrType, "keys expects an object, got %s", args[0].Kind())
	}
	ks := t.Keys()
	elems := make([]Value, len(ks))
	for i, k := range ks {
		elems[i] = Str(k)
	}
	return NewArray(elems), nil
}

// nativeChars splits a string into one-code-point strings.
func nativeChars(vm *VM, args []Value) (Value, *RuntimeError) {
	s, ok := args[0].AsString()
	if !ok {
		return Null, Errf(ErrType, "chars expects a string, got %s", args[0].Kind())
	}
	runes := []rune(s)
	elems := make([]Value, len(runes))
	for i, r := range runes {
		elems[i] = Str(string(r))
	}
	return NewArray(elems), nil
}

// nativeRange returns [0, 1, …, n-1].
func nativeRange(vm *VM, args []Value) (Value, *RuntimeError) {
	n, ok := args[0].AsInt()
	if !ok || n < 0 {
		return Null, Errf(ErrType, "range expects a non-negative integer")
	}
	elems := make([]Value, n)
	for i := int64(0); i < n; i++ {
		elems[i] = Int(i)
	}
	return NewArray(elems), nil
}

// nativeSetMeta attaches a metatable to an object. null detaches.
func nativeSetMeta(vm *VM, args []Value) (Value, *RuntimeError) {
	t := args[0].AsObject()
	if t == nil {
		return Null, Errf(ErrType, "set_meta expects an object, got %s", args[0].Kind())
	}
	switch {
	case args[1].IsNull():
		t.SetMeta(nil)
	case args[1].AsObject() != nil:
		t.SetMeta(args[1].AsObject())
	default:
		return Null, Errf(ErrType, "metatable must be an object or null, got %s", args[1].Kind())
	}
	return args[0], nil
}

// nativeGetMeta returns an object's metatable, or null.
func nativeGetMeta(vm *VM, args []Value) (Value, *RuntimeError) {
	t := args[0].AsObject()
	if t == nil {
		return Null, Errf(ErrType, "get_meta expects an object, got %s", args[0].Kind())
	}
	if t.Meta() == nil {
		return Null, nil
	}
	return ObjectOf(t.Meta()), nil
}
