// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package lexer implements a single-pass tokenizer for the Vira language.
//
// Tokenization never fails:
//   - characters outside the language (';', '@', a lone '&' ...) are skipped
//     and recorded so callers may report them
//   - an unterminated string literal runs to the end of input
//   - keywords are recognised only when the whole identifier matches
package lexer

import (
	"github.com/vira-lang/go-vira/lang/token"
)

// Skipped records a character the lexer dropped.
type Skipped struct {
	Ch  byte
	Pos token.Position
}

// Lexer holds the state for a single-pass tokenization run.
type Lexer struct {
	filename string
	input    []byte

	// pos is the index into input of the next byte to be loaded into ch.
	// After advance(), ch == input[pos-1] and pos points one past it.
	pos  int
	line int // 1-based current line number
	col  int // 1-based current column number

	ch byte // current character; 0 when past end

	spaced  bool // whitespace or a skipped character seen since the last token
	skipped []Skipped
}

// New creates a new Lexer for the given filename and input string.
func New(filename, input string) *Lexer {
	l := &Lexer{
		filename: filename,
		input:    []byte(input),
		line:     1,
		col:      0,
	}
	l.advance() // prime l.ch with the first byte
	return l
}

// Tokenize is a convenience wrapper lexing an anonymous source.
func Tokenize(source string) []token.Token {
	return New("", source).Tokenize()
}

// advance moves to the next byte in the input, updating line/column tracking.
// When the end of input is reached, ch is set to 0.
func (l *Lexer) advance() {
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	if l.pos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input) + 1
		return
	}
	l.ch = l.input[l.pos]
	l.pos++
}

// atEnd reports whether every input byte has been consumed. A NUL byte inside
// the input is a character like any other.
func (l *Lexer) atEnd() bool {
	return l.pos > len(l.input)
}

// currentPos returns a token.Position capturing the lexer's state right now.
func (l *Lexer) currentPos() token.Position {
	return token.Position{
		File:   l.filename,
		Line:   l.line,
		Column: l.col,
		Offset: l.pos - 1,
	}
}

func (l *Lexer) makeToken(typ token.Type, literal string, pos token.Position) token.Token {
	tok := token.Token{Type: typ, Literal: literal, Pos: pos, Spaced: l.spaced}
	l.spaced = false
	return tok
}

func (l *Lexer) skipWhitespace() {
	for !l.atEnd() && (l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n') {
		l.spaced = true
		l.advance()
	}
}

// Skipped returns the characters dropped so far.
func (l *Lexer) Skipped() []Skipped {
	return l.skipped
}

// NextToken scans and returns the next token from the input.
// After EOF is reached, subsequent calls continue returning EOF tokens.
func (l *Lexer) NextToken() token.Token {
	for {
		l.skipWhitespace()

		pos := l.currentPos()
		if l.atEnd() {
			return l.makeToken(token.EOF, "", pos)
		}
		ch := l.ch
		l.advance() // consume ch; from here on, l.ch is the character AFTER ch

		switch {
		// ---------------------------------------------------------------------
		// Identifiers and keywords
		// ---------------------------------------------------------------------
		case isIdentStart(ch):
			lit := l.readIdentFromFirst(ch)
			return l.makeToken(token.LookupIdent(lit), lit, pos)

		// ---------------------------------------------------------------------
		// Numeric literals
		// ---------------------------------------------------------------------
		case isDigit(ch):
			typ, lit := l.readNumberFromFirst(ch)
			return l.makeToken(typ, lit, pos)

		// ---------------------------------------------------------------------
		// String literals
		// ---------------------------------------------------------------------
		case ch == '"':
			return l.makeToken(token.STRING, l.readStringBody(), pos)

		// ---------------------------------------------------------------------
		// Two-character operators first, then their one-character prefixes
		// ---------------------------------------------------------------------
		case ch == '-':
			if l.match('>') {
				return l.makeToken(token.ARROW, "->", pos)
			}
			return l.makeToken(token.MINUS, "-", pos)
		case ch == '=':
			if l.match('=') {
				return l.makeToken(token.EQ, "==", pos)
			}
			return l.makeToken(token.ASSIGN, "=", pos)
		case ch == '!':
			if l.match('=') {
				return l.makeToken(token.NEQ, "!=", pos)
			}
			return l.makeToken(token.BANG, "!", pos)
		case ch == '<':
			if l.match('=') {
				return l.makeToken(token.LTE, "<=", pos)
			}
			return l.makeToken(token.LT, "<", pos)
		case ch == '>':
			if l.match('=') {
				return l.makeToken(token.GTE, ">=", pos)
			}
			return l.makeToken(token.GT, ">", pos)
		case ch == '&' && l.ch == '&':
			l.advance()
			return l.makeToken(token.AND, "&&", pos)
		case ch == '|' && l.ch == '|':
			l.advance()
			return l.makeToken(token.OR, "||", pos)

		// ---------------------------------------------------------------------
		// Single-character operators and delimiters
		// ---------------------------------------------------------------------
		case ch == '+':
			return l.makeToken(token.PLUS, "+", pos)
		case ch == '*':
			return l.makeToken(token.STAR, "*", pos)
		case ch == '/':
			return l.makeToken(token.SLASH, "/", pos)
		case ch == '%':
			return l.makeToken(token.PERCENT, "%", pos)
		case ch == '(':
			return l.makeToken(token.LPAREN, "(", pos)
		case ch == ')':
			return l.makeToken(token.RPAREN, ")", pos)
		case ch == '[':
			return l.makeToken(token.LBRACKET, "[", pos)
		case ch == ']':
			return l.makeToken(token.RBRACKET, "]", pos)
		case ch == '{':
			return l.makeToken(token.LBRACE, "{", pos)
		case ch == '}':
			return l.makeToken(token.RBRACE, "}", pos)
		case ch == ',':
			return l.makeToken(token.COMMA, ",", pos)
		case ch == ':':
			return l.makeToken(token.COLON, ":", pos)
		}

		// Anything else is dropped.
		l.skipped = append(l.skipped, Skipped{Ch: ch, Pos: pos})
		l.spaced = true
	}
}

// Tokenize returns all tokens (including the final EOF) produced by repeated
// calls to NextToken.
func (l *Lexer) Tokenize() []token.Token {
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return toks
}

// match consumes the current character if it equals want.
func (l *Lexer) match(want byte) bool {
	if l.atEnd() || l.ch != want {
		return false
	}
	l.advance()
	return true
}

// ---------------------------------------------------------------------------
// Internal readers. Each assumes the first character has already been
// consumed by the advance() call inside NextToken.
// ---------------------------------------------------------------------------

func (l *Lexer) readIdentFromFirst(first byte) string {
	buf := make([]byte, 1, 16)
	buf[0] = first
	for !l.atEnd() && isIdentContinue(l.ch) {
		buf = append(buf, l.ch)
		l.advance()
	}
	return string(buf)
}

// readNumberFromFirst reads a run of digits containing at most one '.'.
// A '.' anywhere in the run (including a trailing one) makes it a FLOAT.
func (l *Lexer) readNumberFromFirst(first byte) (token.Type, string) {
	buf := []byte{first}
	typ := token.NUMBER
	for !l.atEnd() {
		switch {
		case isDigit(l.ch):
		case l.ch == '.' && typ == token.NUMBER:
			typ = token.FLOAT
		default:
			return typ, string(buf)
		}
		buf = append(buf, l.ch)
		l.advance()
	}
	return typ, string(buf)
}

// readStringBody reads the content of a string literal after the opening '"'
// has been consumed and returns it without quotes. There are no escape
// sequences; a string may span lines and is closed by end of input if no
// closing quote follows.
func (l *Lexer) readStringBody() string {
	var buf []byte
	for !l.atEnd() {
		if l.ch == '"' {
			l.advance()
			return string(buf)
		}
		buf = append(buf, l.ch)
		l.advance()
	}
	return string(buf)
}

// ---------------------------------------------------------------------------
// Character classification helpers
// ---------------------------------------------------------------------------

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentContinue(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
