package compiler

import "testing"

// ---------------------------------------------------------------------------
// Lexer tests
// ---------------------------------------------------------------------------

func lexAll(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

func TestLexSimpleStatement(t *testing.T) {
	toks := lexAll(`let x = 42`)
	want := []TokenType{TokenLet, TokenIdentifier, TokenAssign, TokenInteger, TokenEOF}
	if len(toks) != len(want) {
		t.Fatalf("token count: got %d, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexOperators(t *testing.T) {
	toks := lexAll(`== != <= >= && || = < > !`)
	want := []TokenType{TokenEq, TokenNe, TokenLe, TokenGe, TokenAndAnd, TokenOrOr,
		TokenAssign, TokenLt, TokenGt, TokenBang, TokenEOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexNumbers(t *testing.T) {
	toks := lexAll(`42 3.14`)
	if toks[0].Type != TokenInteger || toks[0].Literal != "42" {
		t.Errorf("integer: got %s %q", toks[0].Type, toks[0].Literal)
	}
	if toks[1].Type != TokenDecimal || toks[1].Literal != "3.14" {
		t.Errorf("decimal: got %s %q", toks[1].Type, toks[1].Literal)
	}
}

func TestLexStringsBothQuotes(t *testing.T) {
	toks := lexAll(`"a\nb" 'c'`)
	if toks[0].Type != TokenString || toks[0].Literal != "a\nb" {
		t.Errorf("double-quoted: got %q", toks[0].Literal)
	}
	if toks[1].Type != TokenString || toks[1].Literal != "c" {
		t.Errorf("single-quoted: got %q", toks[1].Literal)
	}
}

func TestLexCommentsAndNewlines(t *testing.T) {
	toks := lexAll("a # comment\n\n\nb")
	want := []TokenType{TokenIdentifier, TokenNewline, TokenIdentifier, TokenEOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexObjectLiteralOpener(t *testing.T) {
	toks := lexAll(`${x: 1}`)
	want := []TokenType{TokenDollarBrace, TokenIdentifier, TokenColon, TokenInteger, TokenRBrace, TokenEOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexLineTracking(t *testing.T) {
	toks := lexAll("a\nb\nc")
	lines := []int{1, 2, 2, 3, 3}
	for i, want := range lines {
		if toks[i].Line != want {
			t.Errorf("token %d (%s): line %d, want %d", i, toks[i].Type, toks[i].Line, want)
		}
	}
}

func TestLexKeywords(t *testing.T) {
	toks := lexAll("async def f try catch finally throw import await")
	want := []TokenType{TokenAsync, TokenDef, TokenIdentifier, TokenTry, TokenCatch,
		TokenFinally, TokenThrow, TokenImport, TokenAwait, TokenEOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, w)
		}
	}
}
