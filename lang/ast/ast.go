// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ast defines the Abstract Syntax Tree for the Vira language.
//
// Design overview:
//
//   - The node set is closed. Every node implements Node; there is no
//     statement/expression split because every construct evaluates to a value.
//   - The tree is position-annotated via token.Token so error messages can
//     reference source locations.
//   - String renders a parenthesised form that is stable across parses of the
//     same source and is what round-trip tests compare.
package ast

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/lang/types"
)

// ---------------------------------------------------------------------------
// Core interfaces
// ---------------------------------------------------------------------------

// Node is the interface every AST node implements.
type Node interface {
	// TokenLiteral returns the literal value of the token that originated this
	// node. Used primarily for debugging and testing.
	TokenLiteral() string

	// Pos returns the source position of the originating token.
	Pos() token.Position

	// String returns a human-readable, parenthesised representation of the
	// node suitable for unit tests and debug output.
	String() string

	node()
}

// BinOp is a binary operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Neq
	Lt
	Gt
	Le
	Ge
	And
	Or
)

var binOpNames = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%",
	Eq: "==", Neq: "!=", Lt: "<", Gt: ">", Le: "<=", Ge: ">=",
	And: "&&", Or: "||",
}

func (op BinOp) String() string {
	if op >= 0 && int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "binop(" + strconv.Itoa(int(op)) + ")"
}

// IsComparison reports whether op yields a bool from two ordered operands.
func (op BinOp) IsComparison() bool {
	return op >= Eq && op <= Ge
}

// IsLogical reports whether op is && or ||.
func (op BinOp) IsLogical() bool {
	return op == And || op == Or
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
)

func (op UnaryOp) String() string {
	if op == Not {
		return "!"
	}
	return "-"
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// IntLiteral is a 64-bit signed integer literal.
type IntLiteral struct {
	Token token.Token
	Value int64
}

func (n *IntLiteral) String() string { return strconv.FormatInt(n.Value, 10) }

// FloatLiteral is a 64-bit float literal.
type FloatLiteral struct {
	Token token.Token
	Value float64
}

func (n *FloatLiteral) String() string { return FormatFloat(n.Value) }

// BoolLiteral is true or false.
type BoolLiteral struct {
	Token token.Token
	Value bool
}

func (n *BoolLiteral) String() string { return strconv.FormatBool(n.Value) }

// StringLiteral holds the text between the quotes.
type StringLiteral struct {
	Token token.Token
	Value string
}

func (n *StringLiteral) String() string { return strconv.Quote(n.Value) }

// ArrayLiteral is [e1, e2, ...].
type ArrayLiteral struct {
	Token    token.Token
	Elements []Node
}

func (n *ArrayLiteral) String() string {
	return "[" + joinNodes(n.Elements, ", ") + "]"
}

// ---------------------------------------------------------------------------
// Operators and references
// ---------------------------------------------------------------------------

// Binary is Left Op Right.
type Binary struct {
	Token token.Token
	Op    BinOp
	Left  Node
	Right Node
}

func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + n.Op.String() + " " + n.Right.String() + ")"
}

// Unary is Op Operand.
type Unary struct {
	Token   token.Token
	Op      UnaryOp
	Operand Node
}

func (n *Unary) String() string {
	return "(" + n.Op.String() + n.Operand.String() + ")"
}

// VarRef reads a variable.
type VarRef struct {
	Token token.Token
	Name  string
}

func (n *VarRef) String() string { return n.Name }

// Assign rebinds an existing variable: Name = Value.
type Assign struct {
	Token token.Token
	Name  string
	Value Node
}

func (n *Assign) String() string {
	return "(" + n.Name + " = " + n.Value.String() + ")"
}

// Index is Target[Index].
type Index struct {
	Token  token.Token
	Target Node
	Index  Node
}

func (n *Index) String() string {
	return "(" + n.Target.String() + "[" + n.Index.String() + "])"
}

// Call is Name(Args...).
type Call struct {
	Token token.Token
	Name  string
	Args  []Node
}

func (n *Call) String() string {
	return n.Name + "(" + joinNodes(n.Args, ", ") + ")"
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// VarDecl is let Name [: Type] = Init. Type is nil when not annotated.
type VarDecl struct {
	Token token.Token
	Name  string
	Type  types.Type
	Init  Node
}

func (n *VarDecl) String() string {
	var out bytes.Buffer
	out.WriteString("let ")
	out.WriteString(n.Name)
	if n.Type != nil {
		out.WriteString(": ")
		out.WriteString(n.Type.String())
	}
	out.WriteString(" = ")
	out.WriteString(n.Init.String())
	return out.String()
}

// Param is a single typed function parameter.
type Param struct {
	Name string
	Type types.Type
}

func (p Param) String() string { return p.Name + ": " + p.Type.String() }

// FuncDecl is func Name(Params) -> ReturnType Body.
type FuncDecl struct {
	Token      token.Token
	Name       string
	Params     []Param
	ReturnType types.Type
	Body       Node
}

func (n *FuncDecl) String() string {
	params := make([]string, len(n.Params))
	for i, p := range n.Params {
		params[i] = p.String()
	}
	return "func " + n.Name + "(" + strings.Join(params, ", ") + ") -> " +
		n.ReturnType.String() + " " + n.Body.String()
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// If is if Cond Then [else Else]. Else is nil when absent.
type If struct {
	Token token.Token
	Cond  Node
	Then  Node
	Else  Node
}

func (n *If) String() string {
	s := "if " + n.Cond.String() + " " + n.Then.String()
	if n.Else != nil {
		s += " else " + n.Else.String()
	}
	return s
}

// While is while Cond Body.
type While struct {
	Token token.Token
	Cond  Node
	Body  Node
}

func (n *While) String() string {
	return "while " + n.Cond.String() + " " + n.Body.String()
}

// For is for Init Cond Incr Body. Name is kept for the loop variable of a
// future ranged form and is always empty today.
type For struct {
	Token token.Token
	Name  string
	Init  Node
	Cond  Node
	Incr  Node
	Body  Node
}

func (n *For) String() string {
	return "for " + n.Init.String() + "; " + n.Cond.String() + "; " +
		n.Incr.String() + " " + n.Body.String()
}

// Return is return [Value]. Value is nil for a bare return.
type Return struct {
	Token token.Token
	Value Node
}

func (n *Return) String() string {
	if n.Value == nil {
		return "return"
	}
	return "return " + n.Value.String()
}

// Block is a bracketed statement sequence.
type Block struct {
	Token      token.Token
	Statements []Node
}

func (n *Block) String() string {
	if len(n.Statements) == 0 {
		return "{}"
	}
	return "{ " + joinNodes(n.Statements, "; ") + " }"
}

// Write prints Value followed by a newline.
type Write struct {
	Token token.Token
	Value Node
}

func (n *Write) String() string { return "write " + n.Value.String() }

// ---------------------------------------------------------------------------
// Node plumbing
// ---------------------------------------------------------------------------

func (n *IntLiteral) node() {}
func (n *FloatLiteral) node() {}
func (n *BoolLiteral) node() {}
func (n *StringLiteral) node() {}
func (n *ArrayLiteral) node() {}
func (n *Binary) node() {}
func (n *Unary) node() {}
func (n *VarRef) node() {}
func (n *Assign) node() {}
func (n *Index) node() {}
func (n *Call) node() {}
func (n *VarDecl) node() {}
func (n *FuncDecl) node() {}
func (n *If) node() {}
func (n *While) node() {}
func (n *For) node() {}
func (n *Return) node() {}
func (n *Block) node() {}
func (n *Write) node() {}

func (n *IntLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *FloatLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *BoolLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *StringLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *ArrayLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *Binary) TokenLiteral() string { return n.Token.Literal }
func (n *Unary) TokenLiteral() string { return n.Token.Literal }
func (n *VarRef) TokenLiteral() string { return n.Token.Literal }
func (n *Assign) TokenLiteral() string { return n.Token.Literal }
func (n *Index) TokenLiteral() string { return n.Token.Literal }
func (n *Call) TokenLiteral() string { return n.Token.Literal }
func (n *VarDecl) TokenLiteral() string { return n.Token.Literal }
func (n *FuncDecl) TokenLiteral() string { return n.Token.Literal }
func (n *If) TokenLiteral() string { return n.Token.Literal }
func (n *While) TokenLiteral() string { return n.Token.Literal }
func (n *For) TokenLiteral() string { return n.Token.Literal }
func (n *Return) TokenLiteral() string { return n.Token.Literal }
func (n *Block) TokenLiteral() string { return n.Token.Literal }
func (n *Write) TokenLiteral() string { return n.Token.Literal }

func (n *IntLiteral) Pos() token.Position { return n.Token.Pos }
func (n *FloatLiteral) Pos() token.Position { return n.Token.Pos }
func (n *BoolLiteral) Pos() token.Position { return n.Token.Pos }
func (n *StringLiteral) Pos() token.Position { return n.Token.Pos }
func (n *ArrayLiteral) Pos() token.Position { return n.Token.Pos }
func (n *Binary) Pos() token.Position { return n.Token.Pos }
func (n *Unary) Pos() token.Position { return n.Token.Pos }
func (n *VarRef) Pos() token.Position { return n.Token.Pos }
func (n *Assign) Pos() token.Position { return n.Token.Pos }
func (n *Index) Pos() token.Position { return n.Token.Pos }
func (n *Call) Pos() token.Position { return n.Token.Pos }
func (n *VarDecl) Pos() token.Position { return n.Token.Pos }
func (n *FuncDecl) Pos() token.Position { return n.Token.Pos }
func (n *If) Pos() token.Position { return n.Token.Pos }
func (n *While) Pos() token.Position { return n.Token.Pos }
func (n *For) Pos() token.Position { return n.Token.Pos }
func (n *Return) Pos() token.Position { return n.Token.Pos }
func (n *Block) Pos() token.Position { return n.Token.Pos }
func (n *Write) Pos() token.Position { return n.Token.Pos }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// Program renders a top-level node sequence, one node per line.
func Program(nodes []Node) string {
	var out bytes.Buffer
	for _, n := range nodes {
		out.WriteString(n.String())
		out.WriteByte('\n')
	}
	return out.String()
}

// FormatFloat renders f in its shortest round-tripping decimal form, always
// with a fractional part so it reads back as a float.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}
