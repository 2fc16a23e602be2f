package compiler

import "testing"

// ---------------------------------------------------------------------------
// Parser tests
// ---------------------------------------------------------------------------

func parseOK(t *testing.T, src string) []Stmt {
	t.Helper()
	p := NewParser(src)
	stmts := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs[0])
	}
	return stmts
}

func TestParseLet(t *testing.T) {
	stmts := parseOK(t, `let x = 1 + 2`)
	if len(stmts) != 1 {
		t.Fatalf("statement count: %d", len(stmts))
	}
	let, ok := stmts[0].(*LetStmt)
	if !ok {
		t.Fatalf("got %T, want *LetStmt", stmts[0])
	}
	if let.Name != "x" {
		t.Errorf("name: %s", let.Name)
	}
	if _, ok := let.Value.(*BinaryExpr); !ok {
		t.Errorf("value: got %T, want *BinaryExpr", let.Value)
	}
}

func TestParsePrecedence(t *testing.T) {
	stmts := parseOK(t, `let x = 1 + 2 * 3`)
	bin := stmts[0].(*LetStmt).Value.(*BinaryExpr)
	if bin.Op != "+" {
		t.Fatalf("root op: %s", bin.Op)
	}
	right, ok := bin.R.(*BinaryExpr)
	if !ok || right.Op != "*" {
		t.Errorf("right arm should be *, got %#v", bin.R)
	}
}

func TestParseDef(t *testing.T) {
	stmts := parseOK(t, "def add(a, b) {\n  a + b\n}")
	def := stmts[0].(*DefStmt)
	if def.Name != "add" || len(def.Params) != 2 || def.Async {
		t.Errorf("def: %+v", def)
	}
	if len(def.Body.Stmts) != 1 {
		t.Errorf("body statements: %d", len(def.Body.Stmts))
	}
}

func TestParseAsyncDef(t *testing.T) {
	stmts := parseOK(t, "async def fetch(url) {\n  await url\n}")
	def := stmts[0].(*DefStmt)
	if !def.Async {
		t.Error("async flag not set")
	}
	es := def.Body.Stmts[0].(*ExprStmt)
	un := es.E.(*UnaryExpr)
	if un.Op != "await" {
		t.Errorf("await op: %s", un.Op)
	}
}

func TestParseForVariants(t *testing.T) {
	stmts := parseOK(t, "for { break }\nfor x < 3 { continue }\nfor v in xs { v }")
	if f := stmts[0].(*ForStmt); f.Cond != nil {
		t.Error("infinite loop should have nil cond")
	}
	if f := stmts[1].(*ForStmt); f.Cond == nil {
		t.Error("conditional loop lost its condition")
	}
	fi := stmts[2].(*ForInStmt)
	if fi.Name != "v" {
		t.Errorf("for-in variable: %s", fi.Name)
	}
}

func TestParseIfElseChain(t *testing.T) {
	stmts := parseOK(t, "if a { 1 } else if b { 2 } else { 3 }")
	e := stmts[0].(*ExprStmt).E.(*IfExpr)
	elseIf, ok := e.Else.(*IfExpr)
	if !ok {
		t.Fatalf("else arm: got %T, want *IfExpr", e.Else)
	}
	if _, ok := elseIf.Else.(*BlockExpr); !ok {
		t.Errorf("final else: got %T, want *BlockExpr", elseIf.Else)
	}
}

func TestParseTryCatchFinally(t *testing.T) {
	stmts := parseOK(t, "try { f() } catch e { g(e) } finally { h() }")
	tr := stmts[0].(*TryStmt)
	if tr.CatchName != "e" || tr.Catch == nil || tr.Finally == nil {
		t.Errorf("try: %+v", tr)
	}
}

func TestParseTryRequiresCatchOrFinally(t *testing.T) {
	p := NewParser("try { f() }")
	p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Error("expected parse error for bare try")
	}
}

func TestParseMethodCall(t *testing.T) {
	stmts := parseOK(t, `obj:greet(1, 2)`)
	mc := stmts[0].(*ExprStmt).E.(*MethodCallExpr)
	if mc.Name != "greet" || len(mc.Args) != 2 {
		t.Errorf("method call: %+v", mc)
	}
	if _, ok := mc.Recv.(*Ident); !ok {
		t.Errorf("receiver: got %T", mc.Recv)
	}
}

func TestParseFieldCallDoesNotInjectSelf(t *testing.T) {
	stmts := parseOK(t, `obj.greet(1)`)
	call := stmts[0].(*ExprStmt).E.(*CallExpr)
	if _, ok := call.Callee.(*FieldExpr); !ok {
		t.Errorf("callee: got %T, want *FieldExpr", call.Callee)
	}
}

func TestParseObjectAndArrayLiterals(t *testing.T) {
	stmts := parseOK(t, `let o = ${a: 1, "b c": 2}` + "\n" + `let xs = [1, 2, 3]`)
	obj := stmts[0].(*LetStmt).Value.(*ObjectLit)
	if len(obj.Keys) != 2 || obj.Keys[1] != "b c" {
		t.Errorf("object keys: %v", obj.Keys)
	}
	arr := stmts[1].(*LetStmt).Value.(*ArrayLit)
	if len(arr.Elems) != 3 {
		t.Errorf("array elems: %d", len(arr.Elems))
	}
}

func TestParseAssignTargets(t *testing.T) {
	stmts := parseOK(t, "x = 1\no.f = 2\na[0] = 3")
	if _, ok := stmts[0].(*AssignStmt).Target.(*Ident); !ok {
		t.Error("ident target")
	}
	if _, ok := stmts[1].(*AssignStmt).Target.(*FieldExpr); !ok {
		t.Error("field target")
	}
	if _, ok := stmts[2].(*AssignStmt).Target.(*IndexExpr); !ok {
		t.Error("index target")
	}
}

func TestParseImport(t *testing.T) {
	stmts := parseOK(t, `let io = import "stdlib/io"`)
	imp := stmts[0].(*LetStmt).Value.(*ImportExpr)
	if imp.Path != "stdlib/io" {
		t.Errorf("import path: %s", imp.Path)
	}
}

func TestParseReturnWithoutValue(t *testing.T) {
	stmts := parseOK(t, "def f() {\n  return\n}")
	ret := stmts[0].(*DefStmt).Body.Stmts[0].(*ReturnStmt)
	if ret.Value != nil {
		t.Error("bare return should have nil value")
	}
}
