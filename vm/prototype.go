package vm

import _ "embed"

// ---------------------------------------------------------------------------
// Built-in prototypes
// ---------------------------------------------------------------------------

// PreludeSource is the Chen source of the built-in prototype methods. The
// embedding layer compiles and runs it on a fresh VM, then calls
// InstallPrototypes to bind the resulting globals into per-type prototype
// tables.
//
//go:embed prelude.ch
var PreludeSource string

// protoBindings maps prototype method names to the prelude globals that
// implement them.
var protoBindings = map[Kind]map[string]string{
	KindArray: {
		"iter":    "__array_iter",
		"entries": "__array_entries",
	},
	KindObject: {
		"iter":    "__object_iter",
		"entries": "__object_entries",
	},
	KindString: {
		"iter": "__string_iter",
	},
	KindCoroutine: {
		"iter": "__coroutine_iter",
	},
}

// InstallPrototypes copies the prelude's functions into the prototype
// tables consulted by method lookup. Call after running PreludeSource.
func (vm *VM) InstallPrototypes() {
	for kind, methods := range protoBindings {
		proto := vm.Proto(kind)
		for method, global := range methods {
			if fn, ok := vm.Globals[global]; ok && fn.IsCallable() {
				proto.Set(method, fn)
			}
		}
	}
}
