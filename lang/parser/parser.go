// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package parser implements a Pratt parser for the Vira language.
//
// Design notes:
//   - Statements are recognised by their leading keyword; anything else is an
//     expression statement.
//   - Expressions use precedence climbing with one level per operator group.
//     All binary levels are left-associative; assignment is right-associative.
//   - '[' and '{' both open blocks and either closer ends one. In expression
//     position '[' opens an array literal, and directly after an operand with
//     no whitespace in between it is an index.
//   - Parsing stops at the first error.
package parser

import (
	"fmt"
	"strconv"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/lexer"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/lang/types"
)

// ---------------------------------------------------------------------------
// Precedence levels
// ---------------------------------------------------------------------------

type precedence int

const (
	precLowest  precedence = iota // base
	precAssign                    // =
	precOr                        // ||
	precAnd                       // &&
	precEq                        // == !=
	precCmp                       // < > <= >=
	precAdd                       // + -
	precMul                       // * / %
	precPrefix                    // -x !x
	precPostfix                   // a[i]
)

// infixPrecedence maps a token type to its infix binding power.
var infixPrecedence = map[token.Type]precedence{
	token.ASSIGN:  precAssign,
	token.OR:      precOr,
	token.AND:     precAnd,
	token.EQ:      precEq,
	token.NEQ:     precEq,
	token.LT:      precCmp,
	token.GT:      precCmp,
	token.LTE:     precCmp,
	token.GTE:     precCmp,
	token.PLUS:    precAdd,
	token.MINUS:   precAdd,
	token.STAR:    precMul,
	token.SLASH:   precMul,
	token.PERCENT: precMul,
}

var binaryOps = map[token.Type]ast.BinOp{
	token.PLUS:    ast.Add,
	token.MINUS:   ast.Sub,
	token.STAR:    ast.Mul,
	token.SLASH:   ast.Div,
	token.PERCENT: ast.Mod,
	token.EQ:      ast.Eq,
	token.NEQ:     ast.Neq,
	token.LT:      ast.Lt,
	token.GT:      ast.Gt,
	token.LTE:     ast.Le,
	token.GTE:     ast.Ge,
	token.AND:     ast.And,
	token.OR:      ast.Or,
}

// Error is a syntax error at a source position.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: syntax error: %s", e.Pos, e.Msg)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the mutable state for a single parse run.
type Parser struct {
	toks []token.Token
	pos  int
	err  *Error
}

// Parse builds the top-level statement sequence from a token stream. The
// stream should end with EOF; a missing EOF is treated as end of input.
func Parse(toks []token.Token) ([]ast.Node, error) {
	p := &Parser{toks: toks}
	nodes := p.parseProgram()
	if p.err != nil {
		return nil, p.err
	}
	return nodes, nil
}

// ParseSource tokenises and parses source in one step.
func ParseSource(filename, source string) ([]ast.Node, error) {
	return Parse(lexer.New(filename, source).Tokenize())
}

// ---------------------------------------------------------------------------
// Token navigation helpers
// ---------------------------------------------------------------------------

func (p *Parser) at(i int) token.Token {
	if i < len(p.toks) {
		return p.toks[i]
	}
	var pos token.Position
	if n := len(p.toks); n > 0 {
		pos = p.toks[n-1].Pos
	}
	return token.Token{Type: token.EOF, Pos: pos}
}

func (p *Parser) cur() token.Token  { return p.at(p.pos) }
func (p *Parser) peek() token.Token { return p.at(p.pos + 1) }

func (p *Parser) curIs(typ token.Type) bool { return p.cur().Type == typ }

func (p *Parser) advance() token.Token {
	tok := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches typ, otherwise records an
// error and does NOT consume the token.
func (p *Parser) expect(typ token.Type) (token.Token, bool) {
	if p.curIs(typ) {
		return p.advance(), true
	}
	p.unexpected("expected " + typ.String())
	return p.cur(), false
}

// errorf records the first error. Later errors are dropped.
func (p *Parser) errorf(pos token.Position, format string, args ...interface{}) {
	if p.err == nil {
		p.err = &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	}
}

func (p *Parser) unexpected(context string) {
	tok := p.cur()
	if tok.Type == token.EOF {
		p.errorf(tok.Pos, "%s, got end of input", context)
		return
	}
	p.errorf(tok.Pos, "%s, got %s (%q)", context, tok.Type, tok.Literal)
}

func (p *Parser) failed() bool { return p.err != nil }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseProgram() []ast.Node {
	var nodes []ast.Node
	for !p.curIs(token.EOF) && !p.failed() {
		n := p.parseStatement()
		if n == nil {
			return nil
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func (p *Parser) parseStatement() ast.Node {
	switch tok := p.cur(); tok.Type {
	case token.FUNC:
		return p.parseFuncDecl()
	case token.LET:
		return p.parseVarDecl()
	case token.IF:
		return p.parseIf()
	case token.WHILE:
		return p.parseWhile()
	case token.FOR:
		return p.parseFor()
	case token.RETURN:
		return p.parseReturn()
	case token.WRITE:
		p.advance()
		value := p.parseExpression(precLowest)
		if value == nil {
			return nil
		}
		return &ast.Write{Token: tok, Value: value}
	case token.LBRACKET, token.LBRACE:
		return p.parseBlock()
	case token.RBRACKET, token.RBRACE:
		p.unexpected("unmatched block closer")
		return nil
	}
	return p.parseExpression(precLowest)
}

func (p *Parser) parseBlock() ast.Node {
	open := p.advance()
	block := &ast.Block{Token: open}
	for !p.cur().Type.IsBlockClose() {
		if p.curIs(token.EOF) {
			p.errorf(open.Pos, "unterminated block opened with %q", open.Literal)
			return nil
		}
		stmt := p.parseStatement()
		if stmt == nil {
			return nil
		}
		block.Statements = append(block.Statements, stmt)
	}
	p.advance()
	return block
}

// parseFuncDecl parses: func NAME ( [param {, param}] ) -> type statement
func (p *Parser) parseFuncDecl() ast.Node {
	tok := p.advance()
	name, ok := p.expect(token.IDENT)
	if !ok {
		return nil
	}
	if _, ok := p.expect(token.LPAREN); !ok {
		return nil
	}
	fn := &ast.FuncDecl{Token: tok, Name: name.Literal}
	for !p.curIs(token.RPAREN) {
		if len(fn.Params) > 0 {
			if _, ok := p.expect(token.COMMA); !ok {
				return nil
			}
		}
		pname, ok := p.expect(token.IDENT)
		if !ok {
			return nil
		}
		if _, ok := p.expect(token.COLON); !ok {
			return nil
		}
		typ := p.parseType()
		if typ == nil {
			return nil
		}
		fn.Params = append(fn.Params, ast.Param{Name: pname.Literal, Type: typ})
	}
	p.advance() // ')'
	if !p.curIs(token.ARROW) {
		p.unexpected("expected '->' and a return type")
		return nil
	}
	p.advance()
	if fn.ReturnType = p.parseType(); fn.ReturnType == nil {
		return nil
	}
	if fn.Body = p.parseStatement(); fn.Body == nil {
		return nil
	}
	return fn
}

// parseVarDecl parses: let NAME [: type] = expression
func (p *Parser) parseVarDecl() ast.Node {
	tok := p.advance()
	name, ok := p.expect(token.IDENT)
	if !ok {
		return nil
	}
	decl := &ast.VarDecl{Token: tok, Name: name.Literal}
	if p.curIs(token.COLON) {
		p.advance()
		if decl.Type = p.parseType(); decl.Type == nil {
			return nil
		}
	}
	if _, ok := p.expect(token.ASSIGN); !ok {
		return nil
	}
	if decl.Init = p.parseExpression(precLowest); decl.Init == nil {
		return nil
	}
	return decl
}

func (p *Parser) parseIf() ast.Node {
	tok := p.advance()
	n := &ast.If{Token: tok}
	if n.Cond = p.parseExpression(precLowest); n.Cond == nil {
		return nil
	}
	if n.Then = p.parseStatement(); n.Then == nil {
		return nil
	}
	if p.curIs(token.ELSE) {
		p.advance()
		if n.Else = p.parseStatement(); n.Else == nil {
			return nil
		}
	}
	return n
}

func (p *Parser) parseWhile() ast.Node {
	tok := p.advance()
	n := &ast.While{Token: tok}
	if n.Cond = p.parseExpression(precLowest); n.Cond == nil {
		return nil
	}
	if n.Body = p.parseStatement(); n.Body == nil {
		return nil
	}
	return n
}

// parseFor parses: for statement expression expression statement
func (p *Parser) parseFor() ast.Node {
	tok := p.advance()
	n := &ast.For{Token: tok}
	if n.Init = p.parseStatement(); n.Init == nil {
		return nil
	}
	if n.Cond = p.parseExpression(precLowest); n.Cond == nil {
		return nil
	}
	if n.Incr = p.parseExpression(precLowest); n.Incr == nil {
		return nil
	}
	if n.Body = p.parseStatement(); n.Body == nil {
		return nil
	}
	return n
}

// parseReturn parses: return [expression]. The value is omitted when the next
// token cannot start an expression (a block closer, a keyword, end of input).
func (p *Parser) parseReturn() ast.Node {
	tok := p.advance()
	n := &ast.Return{Token: tok}
	if !startsExpression(p.cur().Type) {
		return n
	}
	if n.Value = p.parseExpression(precLowest); n.Value == nil {
		return nil
	}
	return n
}

func startsExpression(t token.Type) bool {
	switch t {
	case token.NUMBER, token.FLOAT, token.STRING, token.TRUE, token.FALSE,
		token.IDENT, token.LPAREN, token.LBRACKET, token.MINUS, token.BANG:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// parseType parses: int | float | bool | string | array < type >
func (p *Parser) parseType() types.Type {
	tok := p.cur()
	if tok.Type != token.IDENT {
		p.unexpected("expected a type")
		return nil
	}
	p.advance()
	if typ, ok := types.LookupPrimitive(tok.Literal); ok {
		return typ
	}
	if tok.Literal != "array" {
		p.errorf(tok.Pos, "unknown type %q", tok.Literal)
		return nil
	}
	if _, ok := p.expect(token.LT); !ok {
		return nil
	}
	elem := p.parseType()
	if elem == nil {
		return nil
	}
	if _, ok := p.expect(token.GT); !ok {
		return nil
	}
	return types.NewArray(elem)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpression(prec precedence) ast.Node {
	left := p.parsePrefix()
	for left != nil {
		tok := p.cur()
		if tok.Type == token.LBRACKET && !tok.Spaced && prec < precPostfix {
			left = p.parseIndex(left)
			continue
		}
		next, ok := infixPrecedence[tok.Type]
		if !ok || next <= prec {
			break
		}
		if tok.Type == token.ASSIGN {
			left = p.parseAssign(left)
			continue
		}
		p.advance()
		right := p.parseExpression(next)
		if right == nil {
			return nil
		}
		left = &ast.Binary{Token: tok, Op: binaryOps[tok.Type], Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAssign(target ast.Node) ast.Node {
	tok := p.advance()
	ref, ok := target.(*ast.VarRef)
	if !ok {
		p.errorf(tok.Pos, "cannot assign to %s", target)
		return nil
	}
	// Right-associative: a = b = c is a = (b = c).
	value := p.parseExpression(precAssign - 1)
	if value == nil {
		return nil
	}
	return &ast.Assign{Token: tok, Name: ref.Name, Value: value}
}

func (p *Parser) parseIndex(target ast.Node) ast.Node {
	tok := p.advance()
	idx := p.parseExpression(precLowest)
	if idx == nil {
		return nil
	}
	if _, ok := p.expect(token.RBRACKET); !ok {
		return nil
	}
	return &ast.Index{Token: tok, Target: target, Index: idx}
}

func (p *Parser) parsePrefix() ast.Node {
	tok := p.cur()
	switch tok.Type {
	case token.NUMBER:
		p.advance()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf(tok.Pos, "invalid number %q", tok.Literal)
			return nil
		}
		return &ast.IntLiteral{Token: tok, Value: v}

	case token.FLOAT:
		p.advance()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(tok.Pos, "invalid number %q", tok.Literal)
			return nil
		}
		return &ast.FloatLiteral{Token: tok, Value: v}

	case token.TRUE, token.FALSE:
		p.advance()
		return &ast.BoolLiteral{Token: tok, Value: tok.Type == token.TRUE}

	case token.STRING:
		p.advance()
		return &ast.StringLiteral{Token: tok, Value: tok.Literal}

	case token.IDENT:
		p.advance()
		if p.curIs(token.LPAREN) {
			return p.parseCall(tok)
		}
		return &ast.VarRef{Token: tok, Name: tok.Literal}

	case token.LBRACKET:
		return p.parseArrayLiteral()

	case token.LPAREN:
		p.advance()
		inner := p.parseExpression(precLowest)
		if inner == nil {
			return nil
		}
		if _, ok := p.expect(token.RPAREN); !ok {
			return nil
		}
		return inner

	case token.MINUS, token.BANG:
		p.advance()
		operand := p.parseExpression(precPrefix)
		if operand == nil {
			return nil
		}
		op := ast.Neg
		if tok.Type == token.BANG {
			op = ast.Not
		}
		return &ast.Unary{Token: tok, Op: op, Operand: operand}
	}
	p.unexpected("expected an expression")
	return nil
}

func (p *Parser) parseCall(name token.Token) ast.Node {
	p.advance() // '('
	call := &ast.Call{Token: name, Name: name.Literal}
	args, ok := p.parseList(token.RPAREN)
	if !ok {
		return nil
	}
	call.Args = args
	return call
}

func (p *Parser) parseArrayLiteral() ast.Node {
	tok := p.advance() // '['
	elems, ok := p.parseList(token.RBRACKET)
	if !ok {
		return nil
	}
	return &ast.ArrayLiteral{Token: tok, Elements: elems}
}

// parseList parses comma-separated expressions up to and including closer.
// A trailing comma is accepted.
func (p *Parser) parseList(closer token.Type) ([]ast.Node, bool) {
	var list []ast.Node
	for !p.curIs(closer) {
		e := p.parseExpression(precLowest)
		if e == nil {
			return nil, false
		}
		list = append(list, e)
		if !p.curIs(token.COMMA) {
			break
		}
		p.advance()
	}
	if _, ok := p.expect(closer); !ok {
		return nil, false
	}
	return list, true
}
