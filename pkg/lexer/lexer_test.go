package lexer_test

import (
	"testing"

	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
)

func lexAll(t *testing.T, src string) []lexer.Token {
	t.Helper()
	registry := source.NewRegistry()
	unit := registry.Load("<test>", "", []byte(src))

	tokens, err := lexer.New(unit).Lex()
	if err != nil {
		t.Fatalf("unexpected lex error for %q: %v", src, err)
	}
	return tokens
}

func TestOperatorsAndPrecedenceTokens(t *testing.T) {
	test := func(src string, kinds ...lexer.Kind) {
		tokens := lexAll(t, src)
		// Drop the trailing EOF before comparing.
		tokens = tokens[:len(tokens)-1]
		if len(tokens) != len(kinds) {
			t.Fatalf("%q: expected %d tokens, got %d (%v)", src, len(kinds), len(tokens), tokens)
		}
		for i, k := range kinds {
			if tokens[i].Kind != k {
				t.Errorf("%q: token %d expected kind %s, got %s", src, i, k, tokens[i].Kind)
			}
		}
	}

	t.Run("compound assigns longest match first", func(t *testing.T) {
		test("<<=", lexer.ShlAssign)
		test("<<", lexer.Shl)
		test("<=", lexer.Le)
		test("<", lexer.Lt)
	})

	t.Run("keywords vs identifiers", func(t *testing.T) {
		test("let fn if elif else for in while return continue break defer inline true false nil",
			lexer.Let, lexer.Fn, lexer.If, lexer.Elif, lexer.Else, lexer.For, lexer.In, lexer.While,
			lexer.Return, lexer.Continue, lexer.Break, lexer.Defer, lexer.Inline, lexer.True, lexer.False, lexer.Nil)
		test("letx forever", lexer.Ident, lexer.Ident)
	})

	t.Run("or keyword distinct from identifier 'order'", func(t *testing.T) {
		test("or order", lexer.KwOr, lexer.Ident)
	})
}

func TestNumberLiterals(t *testing.T) {
	tokens := lexAll(t, "42 0x2A 0b101010 052 3.14")
	tokens = tokens[:len(tokens)-1]

	expectedInts := []int64{42, 42, 42, 42}
	for i := 0; i < 4; i++ {
		if tokens[i].Kind != lexer.Int || tokens[i].IntVal != expectedInts[i] {
			t.Errorf("token %d: expected int %d, got kind=%s val=%d", i, expectedInts[i], tokens[i].Kind, tokens[i].IntVal)
		}
	}
	if tokens[4].Kind != lexer.Flt || tokens[4].FltVal != 3.14 {
		t.Errorf("expected float 3.14, got kind=%s val=%f", tokens[4].Kind, tokens[4].FltVal)
	}
}

func TestStringEscapes(t *testing.T) {
	tokens := lexAll(t, `"a\nb\tc" 'single' `+"`backtick`")
	tokens = tokens[:len(tokens)-1]

	if tokens[0].StrVal != "a\nb\tc" {
		t.Errorf("expected decoded escapes, got %q", tokens[0].StrVal)
	}
	if tokens[1].StrVal != "single" {
		t.Errorf("expected 'single', got %q", tokens[1].StrVal)
	}
	if tokens[2].StrVal != "backtick" {
		t.Errorf("expected 'backtick', got %q", tokens[2].StrVal)
	}
}

func TestUnmatchedQuoteFailsAtOpeningLocation(t *testing.T) {
	registry := source.NewRegistry()
	unit := registry.Load("<test>", "", []byte(`let s = "unterminated`))

	_, err := lexer.New(unit).Lex()
	if err == nil {
		t.Fatal("expected an error for an unterminated string literal")
	}
	lexErr, ok := err.(*lexer.Error)
	if !ok {
		t.Fatalf("expected *lexer.Error, got %T", err)
	}
	if lexErr.Loc.OffsetStart != 8 {
		t.Errorf("expected error location at the opening quote (offset 8), got %d", lexErr.Loc.OffsetStart)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	tokens := lexAll(t, "1 # line comment\n+ /* block\ncomment */ 2")
	tokens = tokens[:len(tokens)-1]
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens (1, +, 2), got %d: %v", len(tokens), tokens)
	}
}

func TestStrayBlockCommentTerminatorFails(t *testing.T) {
	registry := source.NewRegistry()
	unit := registry.Load("<test>", "", []byte("1 */ 2"))

	_, err := lexer.New(unit).Lex()
	if err == nil {
		t.Fatal("expected an error for a stray '*/'")
	}
}

func TestMagicIdentifiers(t *testing.T) {
	registry := source.NewRegistry()
	unit := registry.Load("/tmp/prog.fer", "/tmp", []byte("__SRC_DIR__ __SRC_PATH__"))

	tokens, err := lexer.New(unit).Lex()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[0].Kind != lexer.Str || tokens[0].StrVal != "/tmp" {
		t.Errorf("expected __SRC_DIR__ to lower to string '/tmp', got %+v", tokens[0])
	}
	if tokens[1].Kind != lexer.Str || tokens[1].StrVal != "/tmp/prog.fer" {
		t.Errorf("expected __SRC_PATH__ to lower to string '/tmp/prog.fer', got %+v", tokens[1])
	}
}
