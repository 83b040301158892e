// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/lexer"
	"github.com/vira-lang/go-vira/lang/types"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// mustParse asserts that the source parses without errors and returns the
// top-level nodes.
func mustParse(t *testing.T, src string) []ast.Node {
	t.Helper()
	nodes, err := ParseSource("test.vira", src)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return nodes
}

// parseError parses and expects an error containing want.
func parseError(t *testing.T, src, want string) *Error {
	t.Helper()
	_, err := ParseSource("test.vira", src)
	if err == nil {
		t.Fatalf("expected a parse error for %q", src)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is %T, want *parser.Error", err, err)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
	return perr
}

// single parses src and returns its only top-level node.
func single(t *testing.T, src string) ast.Node {
	t.Helper()
	nodes := mustParse(t, src)
	if len(nodes) != 1 {
		t.Fatalf("got %d top-level nodes, want 1: %s", len(nodes), ast.Program(nodes))
	}
	return nodes[0]
}

var typeComparer = cmp.Comparer(func(a, b types.Type) bool { return types.Same(a, b) })

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func TestExpressionPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"2 + 3 * 4", "(2 + (3 * 4))"},
		{"(2 + 3) * 4", "((2 + 3) * 4)"},
		{"10 - 4 - 3", "((10 - 4) - 3)"},
		{"7 % 3", "(7 % 3)"},
		{"8 / 2 / 2", "((8 / 2) / 2)"},
		{"a == b < c", "(a == (b < c))"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a || b && c", "(a || (b && c))"},
		{"a && b || c && d", "((a && b) || (c && d))"},
		{"-a * b", "((-a) * b)"},
		{"!a && b", "((!a) && b)"},
		{"--5", "(-(-5))"},
		{"a[1][2]", "((a[1])[2])"},
		{"-a[0]", "(-(a[0]))"},
		{"f(1, 2 + 3)", "f(1, (2 + 3))"},
		{"g()", "g()"},
		{"[1, 2, 3]", "[1, 2, 3]"},
		{"[]", "[]"},
		{"[1, 2,]", "[1, 2]"},
		{"x = y = 3", "(x = (y = 3))"},
		{"x = x + 1", "(x = (x + 1))"},
		{"1.5 + 2.", "(1.5 + 2.0)"},
		{`"a" + "b"`, `("a" + "b")`},
		{"true != false", "(true != false)"},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			decl := single(t, "let e = "+c.src).(*ast.VarDecl)
			got := decl.Init.String()
			if got != c.want {
				t.Errorf("parse(%q) = %s, want %s", c.src, got, c.want)
			}
		})
	}
}

func TestLiteralValues(t *testing.T) {
	if n, ok := single(t, "9223372036854775807").(*ast.IntLiteral); !ok || n.Value != 9223372036854775807 {
		t.Errorf("max int literal parsed as %#v", n)
	}
	if n, ok := single(t, "0.25").(*ast.FloatLiteral); !ok || n.Value != 0.25 {
		t.Errorf("float literal parsed as %#v", n)
	}
	if n, ok := single(t, `"hi there"`).(*ast.StringLiteral); !ok || n.Value != "hi there" {
		t.Errorf("string literal parsed as %#v", n)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func TestVarDecl(t *testing.T) {
	decl, ok := single(t, "let x = 5").(*ast.VarDecl)
	if !ok {
		t.Fatal("not a VarDecl")
	}
	if decl.Name != "x" || decl.Type != nil {
		t.Errorf("untyped let: name %q type %v", decl.Name, decl.Type)
	}

	typed := single(t, "let xs: array<array<float>> = [[1.0]]").(*ast.VarDecl)
	if got := typed.Type.String(); got != "array<array<float>>" {
		t.Errorf("annotated type = %s", got)
	}
}

func TestFuncDecl(t *testing.T) {
	fn, ok := single(t, "func add(a: int, b: int) -> int [ return a + b ]").(*ast.FuncDecl)
	if !ok {
		t.Fatal("not a FuncDecl")
	}
	if fn.Name != "add" || len(fn.Params) != 2 {
		t.Fatalf("name %q params %v", fn.Name, fn.Params)
	}
	if fn.Params[1].Name != "b" || !fn.Params[1].Type.Equals(types.Int) {
		t.Errorf("second param = %v", fn.Params[1])
	}
	if !fn.ReturnType.Equals(types.Int) {
		t.Errorf("return type = %v", fn.ReturnType)
	}
	body := fn.Body.(*ast.Block)
	if ret := body.Statements[0].(*ast.Return); ret.Value.String() != "(a + b)" {
		t.Errorf("return value = %s", ret.Value)
	}
}

func TestFuncRequiresArrow(t *testing.T) {
	parseError(t, "func f() int [ return 1 ]", "'->'")
}

func TestBlockDelimitersInterchangeable(t *testing.T) {
	for _, src := range []string{"[ write 1 ]", "{ write 1 }", "[ write 1 }", "{ write 1 ]"} {
		b, ok := single(t, src).(*ast.Block)
		if !ok || len(b.Statements) != 1 {
			t.Errorf("%q did not parse to a one-statement block", src)
		}
	}
}

func TestIndexVersusBlock(t *testing.T) {
	w := single(t, "while i < n [ i = i + 1 ]").(*ast.While)
	if w.Cond.String() != "(i < n)" {
		t.Errorf("cond = %s", w.Cond)
	}
	if _, ok := w.Body.(*ast.Block); !ok {
		t.Errorf("body is %T, want block", w.Body)
	}

	iff := single(t, "if xs[0] > 1 [ write xs[1] ]").(*ast.If)
	if iff.Cond.String() != "((xs[0]) > 1)" {
		t.Errorf("cond = %s", iff.Cond)
	}
}

func TestIfElse(t *testing.T) {
	n := single(t, "if a { write 1 } else if b { write 2 } else { write 3 }").(*ast.If)
	inner, ok := n.Else.(*ast.If)
	if !ok {
		t.Fatalf("else branch is %T", n.Else)
	}
	if inner.Else == nil {
		t.Error("missing final else")
	}
	if single(t, "if a write 1").(*ast.If).Else != nil {
		t.Error("else should be nil when absent")
	}
}

func TestForLoop(t *testing.T) {
	n := single(t, "for let i = 0; i < 5; i = i + 1 { write i }").(*ast.For)
	if n.Name != "" {
		t.Errorf("for name = %q, want empty", n.Name)
	}
	if n.Init.String() != "let i = 0" || n.Cond.String() != "(i < 5)" || n.Incr.String() != "(i = (i + 1))" {
		t.Errorf("for parts: %s | %s | %s", n.Init, n.Cond, n.Incr)
	}
}

func TestReturnForms(t *testing.T) {
	fn := single(t, "func f() -> int { return }").(*ast.FuncDecl)
	if ret := fn.Body.(*ast.Block).Statements[0].(*ast.Return); ret.Value != nil {
		t.Errorf("bare return has value %s", ret.Value)
	}
	nodes := mustParse(t, "return\nwrite 1")
	if len(nodes) != 2 || nodes[0].(*ast.Return).Value != nil {
		t.Errorf("return before a keyword should be bare: %s", ast.Program(nodes))
	}
	if ret := single(t, "return -1").(*ast.Return); ret.Value.String() != "(-1)" {
		t.Errorf("return value = %v", ret.Value)
	}
}

func TestStatementSequence(t *testing.T) {
	nodes := mustParse(t, `
let a = 10
let b = 4
write a + b
write a * 2
`)
	if len(nodes) != 4 {
		t.Fatalf("got %d statements", len(nodes))
	}
	if _, ok := nodes[2].(*ast.Write); !ok {
		t.Errorf("third statement is %T", nodes[2])
	}
}

func TestEmptyProgram(t *testing.T) {
	nodes, err := Parse(lexer.Tokenize(""))
	if err != nil || len(nodes) != 0 {
		t.Errorf("empty program: %v %v", nodes, err)
	}
	// A stream without its EOF sentinel ends cleanly too.
	if _, err := Parse(nil); err != nil {
		t.Errorf("nil stream: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"let = 5", "expected IDENT"},
		{"let x 5", "expected ="},
		{"let x: number = 5", `unknown type "number"`},
		{"let x: array = 5", "expected <"},
		{"write", "end of input"},
		{"[ write 1", "unterminated block"},
		{"]", "unmatched block closer"},
		{"(1 + 2", "expected )"},
		{"f(1 2)", "expected )"},
		{"1 + 2 = 3", "cannot assign"},
		{"99999999999999999999", "invalid number"},
		{"func (a: int) -> int 1", "expected IDENT"},
		{"func f(a int) -> int 1", "expected :"},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			parseError(t, c.src, c.want)
		})
	}
}

func TestErrorPosition(t *testing.T) {
	perr := parseError(t, "let a = 1\nlet b = )", "expected an expression")
	if perr.Pos.Line != 2 || perr.Pos.Column != 9 {
		t.Errorf("error at %s, want 2:9", perr.Pos)
	}
	if !strings.HasPrefix(perr.Error(), "test.vira:2:9") {
		t.Errorf("message %q lacks position prefix", perr.Error())
	}
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestParseDeterministic(t *testing.T) {
	src := `
func fib(n: int) -> int {
	if n < 2 [ return n ]
	return fib(n - 1) + fib(n - 2)
}
let xs: array<int> = [1, 2, 3]
for let i = 0; i < 3; i = i + 1 [ write fib(xs[i]) ]
write "done"
`
	a := mustParse(t, src)
	b := mustParse(t, src)
	if diff := cmp.Diff(a, b, typeComparer); diff != "" {
		t.Errorf("two parses differ (-a +b):\n%s", diff)
	}
	if ast.Program(a) != ast.Program(b) {
		t.Error("rendered programs differ")
	}
}
