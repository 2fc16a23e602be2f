// Package chen is the embedding surface for the Chen language: it wires the
// compiler, the virtual machine, the prelude, the module loader and the
// bytecode cache into one interpreter.
package chen

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/zuisong/chen-lang/cache"
	"github.com/zuisong/chen-lang/compiler"
	"github.com/zuisong/chen-lang/manifest"
	"github.com/zuisong/chen-lang/vm"
)

// Options configures a new interpreter.
type Options struct {
	Stdout   io.Writer
	Stdin    io.Reader
	Manifest *manifest.Manifest
	NoCache  bool
}

// Interp is a ready-to-run Chen interpreter. The prelude has been executed
// and the prototype tables installed.
type Interp struct {
	VM *vm.VM

	man   *manifest.Manifest
	store *cache.Store
	log   commonlog.Logger
}

// New builds an interpreter: a fresh VM with the prelude compiled and run,
// the import hook wired to the compiler, and the bytecode cache opened when
// the manifest enables it.
func New(opts Options) (*Interp, error) {
	man := opts.Manifest
	if man == nil {
		man = manifest.Default()
	}
	v := vm.New()
	if opts.Stdout != nil {
		v.Stdout = opts.Stdout
	}
	if opts.Stdin != nil {
		v.Stdin = bufio.NewReader(opts.Stdin)
	}
	if man.Runtime.DecimalPrecision > 0 {
		v.SetDecimalPrecision(man.Runtime.DecimalPrecision)
	}

	ip := &Interp{VM: v, man: man, log: commonlog.GetLogger("chen")}
	v.CompileFile = ip.compileModule

	prelude, err := compiler.Compile(vm.PreludeSource, "prelude.ch")
	if err != nil {
		return nil, fmt.Errorf("chen: compiling prelude: %w", err)
	}
	if _, err := v.Run(prelude); err != nil {
		return nil, fmt.Errorf("chen: running prelude: %w", err)
	}
	v.InstallPrototypes()

	if man.Cache.Enabled && !opts.NoCache {
		path := man.Cache.Path
		if path == "" {
			if path, err = cache.DefaultPath(); err != nil {
				path = ""
			}
		}
		if path != "" {
			store, err := cache.Open(path)
			if err != nil {
				ip.log.Errorf("bytecode cache disabled: %v", err)
			} else {
				ip.store = store
			}
		}
	}
	return ip, nil
}

// Close releases the interpreter's resources.
func (ip *Interp) Close() error {
	if ip.store != nil {
		return ip.store.Close()
	}
	return nil
}

// RunSource compiles and runs Chen source text, returning the program's
// top-level result value.
func (ip *Interp) RunSource(src, name string) (vm.Value, error) {
	prog, err := ip.compileCached(src, name)
	if err != nil {
		return vm.Null, err
	}
	return ip.VM.Run(prog)
}

// RunFile compiles and runs a .ch file.
func (ip *Interp) RunFile(path string) (vm.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return vm.Null, fmt.Errorf("chen: reading %s: %w", path, err)
	}
	return ip.RunSource(string(src), path)
}

// CompileSource compiles without running; used by build/disasm and the LSP.
func (ip *Interp) CompileSource(src, name string) (*vm.Program, error) {
	return ip.compileCached(src, name)
}

// compileModule is the VM's import hook: resolve the path through the
// manifest search paths, then compile (via the cache when open).
func (ip *Interp) compileModule(path string) (*vm.Program, error) {
	resolved := ip.man.ResolveImport(path)
	src, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("chen: importing %q: %w", path, err)
	}
	return ip.compileCached(string(src), resolved)
}

// compileCached consults the bytecode cache before compiling. A corrupt
// cache entry falls back to a fresh compile.
func (ip *Interp) compileCached(src, name string) (*vm.Program, error) {
	var hash string
	if ip.store != nil {
		hash = cache.HashSource(src)
		if blob, ok, err := ip.store.Get(hash); err == nil && ok {
			if prog, err := cache.UnmarshalProgram(blob); err == nil {
				ip.log.Debugf("cache hit for %s", name)
				return prog, nil
			}
			ip.log.Debugf("cache entry for %s is unreadable, recompiling", name)
		}
	}
	prog, err := compiler.Compile(src, name)
	if err != nil {
		return nil, err
	}
	if ip.store != nil {
		if blob, err := cache.MarshalProgram(prog); err == nil {
			if err := ip.store.Put(hash, blob); err != nil {
				ip.log.Debugf("cache write for %s failed: %v", name, err)
			}
		}
	}
	return prog, nil
}
