// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package token defines the lexical token types for the Vira language.
//
// The token set is deliberately small:
//   - identifiers, integer/float/string literals
//   - arithmetic, comparison and logical operators
//   - square brackets and braces, which are interchangeable block delimiters
//   - ten keywords; type names (int, float, ...) are plain identifiers
package token

import "fmt"

// Token represents a lexical token.
type Token struct {
	Type    Type
	Literal string
	Pos     Position

	// Spaced reports whether whitespace (or an ignored character) separated
	// this token from the previous one. The parser uses it to tell an index
	// postfix a[i] from a block that follows an expression.
	Spaced bool
}

// Position tracks source location.
type Position struct {
	File   string
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func (t Token) String() string {
	switch t.Type {
	case IDENT, NUMBER, FLOAT:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	case STRING:
		return fmt.Sprintf("STRING(%q)", t.Literal)
	}
	return t.Type.String()
}

// Type is the set of lexical token types.
type Type int

const (
	// Special tokens
	ILLEGAL Type = iota
	EOF

	// Literals
	IDENT  // main, x, total_1
	NUMBER // 42
	FLOAT  // 3.14, 3.
	STRING // "hello"

	// Operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %
	BANG    // !
	ARROW   // ->

	// Comparison
	EQ  // ==
	NEQ // !=
	LT  // <
	GT  // >
	LTE // <=
	GTE // >=

	// Logical
	AND // &&
	OR  // ||

	// Assignment
	ASSIGN // =

	// Delimiters
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]
	LBRACE   // {
	RBRACE   // }
	COMMA    // ,
	COLON    // :

	keywordStart
	FUNC   // func
	LET    // let
	IF     // if
	ELSE   // else
	WHILE  // while
	FOR    // for
	RETURN // return
	WRITE  // write
	TRUE   // true
	FALSE  // false
	keywordEnd
)

var tokenNames = [...]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",

	IDENT:  "IDENT",
	NUMBER: "NUMBER",
	FLOAT:  "FLOAT",
	STRING: "STRING",

	PLUS:    "+",
	MINUS:   "-",
	STAR:    "*",
	SLASH:   "/",
	PERCENT: "%",
	BANG:    "!",
	ARROW:   "->",

	EQ:  "==",
	NEQ: "!=",
	LT:  "<",
	GT:  ">",
	LTE: "<=",
	GTE: ">=",

	AND: "&&",
	OR:  "||",

	ASSIGN: "=",

	LPAREN:   "(",
	RPAREN:   ")",
	LBRACKET: "[",
	RBRACKET: "]",
	LBRACE:   "{",
	RBRACE:   "}",
	COMMA:    ",",
	COLON:    ":",

	keywordStart: "",
	FUNC:         "func",
	LET:          "let",
	IF:           "if",
	ELSE:         "else",
	WHILE:        "while",
	FOR:          "for",
	RETURN:       "return",
	WRITE:        "write",
	TRUE:         "true",
	FALSE:        "false",
	keywordEnd:   "",
}

// String returns the string form of a token type.
func (t Type) String() string {
	if t >= 0 && int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", t)
}

// IsKeyword returns true if the token is a keyword.
func (t Type) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd
}

// IsOperator returns true if the token is an operator.
func (t Type) IsOperator() bool {
	return t >= PLUS && t <= ASSIGN
}

// IsLiteral returns true if the token is a literal value.
func (t Type) IsLiteral() bool {
	return t >= IDENT && t <= STRING
}

// IsBlockOpen reports whether t opens a block ('[' or '{').
func (t Type) IsBlockOpen() bool {
	return t == LBRACKET || t == LBRACE
}

// IsBlockClose reports whether t closes a block (']' or '}').
func (t Type) IsBlockClose() bool {
	return t == RBRACKET || t == RBRACE
}

// keywords maps keyword strings to token types.
var keywords map[string]Type

func init() {
	keywords = make(map[string]Type)
	for i := keywordStart + 1; i < keywordEnd; i++ {
		keywords[tokenNames[i]] = i
	}
}

// LookupIdent checks if an identifier is a keyword. The whole identifier
// must match; "format" is an identifier, not "for" followed by "mat".
func LookupIdent(ident string) Type {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
