package chen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zuisong/chen-lang/vm"
)

// ---------------------------------------------------------------------------
// End-to-end scenario tests
// ---------------------------------------------------------------------------

func runSource(t *testing.T, src string) string {
	t.Helper()
	out, err := tryRunSource(t, src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

func tryRunSource(t *testing.T, src string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	ip, err := New(Options{Stdout: &buf, NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ip.Close()
	_, err = ip.RunSource(src, "test.ch")
	return buf.String(), err
}

func TestMultiplicationTable(t *testing.T) {
	out := runSource(t, `
let i = 1
for i <= 9 {
  let line = ""
  let j = 1
  for j <= i {
    line = line + j + "×" + i + "=" + (i * j) + " "
    j = j + 1
  }
  println(line)
  i = i + 1
}
`)
	var want strings.Builder
	for i := 1; i <= 9; i++ {
		for j := 1; j <= i; j++ {
			fmt.Fprintf(&want, "%d×%d=%d ", j, i, i*j)
		}
		want.WriteByte('\n')
	}
	if out != want.String() {
		t.Errorf("table output:\n%s\nwant:\n%s", out, want.String())
	}
}

func TestFibonacciRecursion(t *testing.T) {
	out := runSource(t, `
def f(n) {
  if n <= 1 { n } else { f(n - 1) + f(n - 2) }
}
println(f(10))
`)
	if out != "55\n" {
		t.Errorf("fib(10): got %q", out)
	}
}

func TestMetamethodAdd(t *testing.T) {
	// point_meta is a global so the metamethod bodies can reach it.
	out := runSource(t, `
point_meta = ${}
point_meta["__add"] = def(a, b) {
  let p = ${x: a.x + b.x, y: a.y + b.y}
  set_meta(p, point_meta)
  p
}
point_meta["__index"] = ${
  to_string: def(self) { "Point(" + self.x + ", " + self.y + ")" }
}
let p1 = set_meta(${x: 10, y: 20}, point_meta)
let p2 = set_meta(${x: 5, y: 10}, point_meta)
let p3 = p1 + p2
println(p3:to_string())
`)
	if out != "Point(15, 30)\n" {
		t.Errorf("metamethod add: got %q", out)
	}
}

func TestTryCatchFinallyOrdering(t *testing.T) {
	out := runSource(t, `
try { println("A"); throw "err"; println("B") }
catch e { println("C:" + e) }
finally { println("D") }
`)
	if out != "A\nC:err\nD\n" {
		t.Errorf("try/catch/finally: got %q", out)
	}
}

func TestCatchBodyThrowRunsFinallyThenPropagates(t *testing.T) {
	out := runSource(t, `
let trace = ""
try {
  try {
    trace = trace + "A;"
    throw "v"
  } catch e {
    trace = trace + "B;"
    throw "w"
  } finally {
    trace = trace + "C;"
  }
} catch e2 {
  trace = trace + "outer:" + e2
}
println(trace)
`)
	if out != "A;B;C;outer:w\n" {
		t.Errorf("finally on rethrow: got %q", out)
	}
}

func TestReturnInsideTryRunsFinally(t *testing.T) {
	out := runSource(t, `
def f() {
  try {
    return "r"
  } finally {
    println("fin")
  }
}
println(f())
`)
	if out != "fin\nr\n" {
		t.Errorf("return through finally: got %q", out)
	}
}

func TestCoroutineGenerator(t *testing.T) {
	out := runSource(t, `
async def generator(n) {
  let i = 0
  for i < n {
    await i
    i = i + 1
  }
  "Done"
}
let co = generator(3)
println(coroutine.resume(co))
println(coroutine.resume(co))
println(coroutine.resume(co))
println(coroutine.resume(co))
println(coroutine.status(co))
`)
	if out != "0\n1\n2\nDone\ndead\n" {
		t.Errorf("generator: got %q", out)
	}
}

func TestResumeDeadCoroutineReturnsFalse(t *testing.T) {
	out := runSource(t, `
async def once() { 1 }
let co = once()
coroutine.resume(co)
println(coroutine.resume(co))
`)
	if out != "false\n" {
		t.Errorf("resume dead: got %q", out)
	}
}

func TestAwaitAllPreservesOrder(t *testing.T) {
	out := runSource(t, `
async def worker(v) {
  await null
  v
}
let a = worker("a")
let b = worker("b")
let rs = await_all([a, b])
println(rs[0] + rs[1])
`)
	if out != "ab\n" {
		t.Errorf("await_all order: got %q", out)
	}
}

func TestSpawnThenAwait(t *testing.T) {
	out := runSource(t, `
async def w() { "done" }
let co = w()
spawn(co)
let rs = await_all([co])
println(rs[0])
`)
	if out != "done\n" {
		t.Errorf("spawn/await_all: got %q", out)
	}
}

func TestSchedulerRunsYieldedChildFirst(t *testing.T) {
	// log is a global: functions cannot see enclosing locals.
	out := runSource(t, `
log = ""
async def child() {
  log = log + "child;"
}
async def parent() {
  await child()
  log = log + "parent;"
}
let rs = await_all([parent()])
println(log)
`)
	if out != "child;parent;\n" {
		t.Errorf("child-first scheduling: got %q", out)
	}
}

func TestTimerSleepParksScheduledFiber(t *testing.T) {
	// timer is a global: functions cannot see enclosing locals.
	out := runSource(t, `
timer = import "stdlib/timer"
async def slow(v) {
  timer.sleep(1)
  v
}
let rs = await_all([slow("x"), slow("y")])
println(rs[0] + rs[1])
`)
	if out != "xy\n" {
		t.Errorf("timer parking: got %q", out)
	}
}

func TestExceptionReRaisesInResumer(t *testing.T) {
	out := runSource(t, `
async def boom() {
  throw "kaput"
}
let co = boom()
try {
  coroutine.resume(co)
} catch e {
  println("caught:" + e)
}
println(coroutine.status(co))
`)
	if out != "caught:kaput\ndead\n" {
		t.Errorf("exception across resume: got %q", out)
	}
}

func TestYieldFromMainFiberIsCatchable(t *testing.T) {
	out := runSource(t, `
try {
  coroutine.yield(1)
} catch e {
  println(e.kind)
}
`)
	if out != "TypeError\n" {
		t.Errorf("yield from main: got %q", out)
	}
}

func TestForInArray(t *testing.T) {
	out := runSource(t, `
let out = ""
for x in [10, 20, 30] {
  out = out + x + ","
}
println(out)
`)
	if out != "10,20,30,\n" {
		t.Errorf("for-in array: got %q", out)
	}
}

func TestForInObjectInsertionOrder(t *testing.T) {
	out := runSource(t, `
let obj = ${}
obj["b"] = 1
obj["a"] = 2
obj["b"] = 9
let ks = ""
for e in obj:entries() {
  ks = ks + e.key + "=" + e.value + ";"
}
println(ks)
`)
	if out != "b=9;a=2;\n" {
		t.Errorf("object entries: got %q", out)
	}
}

func TestArrayEntries(t *testing.T) {
	out := runSource(t, `
let s = ""
for e in [7, 8]:entries() {
  s = s + e.key + ":" + e.value + " "
}
println(s)
`)
	if out != "0:7 1:8 \n" {
		t.Errorf("array entries: got %q", out)
	}
}

func TestStringIterCodePoints(t *testing.T) {
	out := runSource(t, `
let s = ""
for c in "héllo" {
  s = s + c + "."
}
println(s)
`)
	if out != "h.é.l.l.o.\n" {
		t.Errorf("string iteration: got %q", out)
	}
}

func TestBreakContinue(t *testing.T) {
	out := runSource(t, `
let out = ""
let i = 0
for i < 10 {
  i = i + 1
  if i % 2 == 0 { continue }
  if i > 7 { break }
  out = out + i
}
println(out)
`)
	if out != "1357\n" {
		t.Errorf("break/continue: got %q", out)
	}
}

func TestDecimalExactness(t *testing.T) {
	out := runSource(t, `
println(0.1 + 0.2 == 0.3)
println(0.1 + 0.2)
println(1.0 / 4)
println(7 / 2)
`)
	if out != "true\n0.3\n0.25\n3\n" {
		t.Errorf("decimal laws: got %q", out)
	}
}

func TestMethodCallInjectsReceiver(t *testing.T) {
	out := runSource(t, `
let obj = ${name: "chen"}
obj["greet"] = def(self, who) { self.name + " welcomes " + who }
println(obj:greet("you"))
`)
	if out != "chen welcomes you\n" {
		t.Errorf("method call: got %q", out)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	out := runSource(t, `
let src = "{\"b\":1,\"a\":[1,2.5,null,true,\"x\"]}"
let v = JSON.parse(src)
println(JSON.stringify(v))
println(v.b)
println(v.a[1])
`)
	if out != "{\"b\":1,\"a\":[1,2.5,null,true,\"x\"]}\n1\n2.5\n" {
		t.Errorf("json round trip: got %q", out)
	}
}

func TestMetatableRecursionBounded(t *testing.T) {
	out := runSource(t, `
let m = ${}
m["__index"] = m
set_meta(m, m)
let t = set_meta(${}, m)
try { println(t.missing) } catch e { println(e.kind) }
`)
	if out != "MetatableRecursion\n" {
		t.Errorf("metatable recursion: got %q", out)
	}
}

func TestCallableIndexMetamethod(t *testing.T) {
	out := runSource(t, `
let meta = ${}
meta["__index"] = def(obj, key) { "computed:" + key }
let t = set_meta(${}, meta)
println(t.anything)
`)
	if out != "computed:anything\n" {
		t.Errorf("callable __index: got %q", out)
	}
}

func TestMissingFieldYieldsNull(t *testing.T) {
	out := runSource(t, `
let t = ${}
println(t.nope)
`)
	if out != "null\n" {
		t.Errorf("missing field: got %q", out)
	}
}

func TestRuntimeFaultsAreCatchable(t *testing.T) {
	out := runSource(t, `
try { println(nope) } catch e { println(e.kind) }
try { [1][5] } catch e { println(e.kind) }
try { 1 / 0 } catch e { println(e.kind) }
try { ${} + 1 } catch e { println(e.kind) }
`)
	want := "UndefinedVariable\nIndexOutOfRange\nArithmeticError\nTypeError\n"
	if out != want {
		t.Errorf("runtime faults: got %q, want %q", out, want)
	}
}

func TestUncaughtErrorReportsLine(t *testing.T) {
	_, err := tryRunSource(t, "let x = 1\nthrow \"boom\"")
	if err == nil {
		t.Fatal("expected runtime error")
	}
	if !strings.Contains(err.Error(), "Runtime error at line 2") ||
		!strings.Contains(err.Error(), "UncaughtException(boom)") {
		t.Errorf("error format: %v", err)
	}
}

func TestStackDepthInvariant(t *testing.T) {
	var buf bytes.Buffer
	ip, err := New(Options{Stdout: &buf, NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ip.Close()
	src := `
let a = 1
a + 2
${x: 1}
[1, 2, 3]
if a > 0 { "yes" } else { "no" }
def g(n) { n }
g(4)
`
	prog, err := ip.CompileSource(src, "depth.ch")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ip.VM.Run(prog); err != nil {
		t.Fatal(err)
	}
	if got := ip.VM.RootFiber().Depth(); got != prog.TopLocals {
		t.Errorf("stack depth after run: got %d, want %d locals", got, prog.TopLocals)
	}
}

func TestImportRunsOnceAndCachesValue(t *testing.T) {
	dir := t.TempDir()
	mod := filepath.Join(dir, "mod.ch")
	if err := os.WriteFile(mod, []byte("println(\"loaded\")\n${}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := fmt.Sprintf("let a = import %q\nlet b = import %q\nprintln(a == b)", mod, mod)
	out := runSource(t, src)
	if out != "loaded\ntrue\n" {
		t.Errorf("module caching: got %q", out)
	}
}

func TestStdlibJSONModule(t *testing.T) {
	out := runSource(t, `
let json = import "stdlib/json"
println(json.stringify(${a: [1, 2]}))
`)
	if out != "{\"a\":[1,2]}\n" {
		t.Errorf("stdlib/json: got %q", out)
	}
}

func TestSharedTablesObserveWrites(t *testing.T) {
	out := runSource(t, `
let a = ${}
let b = a
a["x"] = 1
println(b.x)
println(a == b)
println(${} == ${})
`)
	if out != "1\ntrue\nfalse\n" {
		t.Errorf("shared tables: got %q", out)
	}
}

func TestLastExpressionIsProgramResult(t *testing.T) {
	var buf bytes.Buffer
	ip, err := New(Options{Stdout: &buf, NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ip.Close()
	v, err := ip.RunSource("let x = 20\nx * 2 + 2", "result.ch")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Int(42)) {
		t.Errorf("program result: got %s", v.Display())
	}
}
