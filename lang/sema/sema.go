// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sema type-checks a parsed program ahead of code generation.
//
// The interpreter catches type errors as it runs; compiled code has no such
// fallback, so every expression must have one static type. The checker also
// rejects programs whose behaviour depends on runtime binding state the code
// generator does not model, and decides where each top-level variable lives.
//
// Checking runs in three passes:
//  1. collect the signature of every top-level function
//  2. check top-level statements in source order
//  3. check function bodies, with every global's type known
package sema

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/lang/types"
)

// Error is a static error. Unsupported marks programs that are valid for the
// interpreter but outside what the code generator can lower faithfully.
type Error struct {
	Pos         token.Position
	Msg         string
	Unsupported bool
}

func (e *Error) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("%s: unsupported construct: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: type error: %s", e.Pos, e.Msg)
}

// Func describes one top-level function.
type Func struct {
	Decl   *ast.FuncDecl
	Index  int
	Params []types.Type
	Result types.Type

	// Locals holds the type of every parameter and let-bound name.
	Locals map[string]types.Type
}

// Info is the result of a successful check.
type Info struct {
	// Types records the static type of every expression node.
	Types map[ast.Node]types.Type

	// Funcs lists top-level functions in declaration order.
	Funcs     []*Func
	FuncIndex map[string]int

	// Globals holds the type of every top-level variable.
	Globals map[string]types.Type

	// Slots marks the globals that need a runtime slot with a defined flag:
	// those used by function bodies and those read at points where they may
	// not be bound yet. Other globals are plain SSA values of main.
	Slots map[string]bool
}

// TypeOf returns the recorded type of n, or nil.
func (info *Info) TypeOf(n ast.Node) types.Type {
	return info.Types[n]
}

// Func returns the function named name.
func (info *Info) Func(name string) (*Func, bool) {
	i, ok := info.FuncIndex[name]
	if !ok {
		return nil, false
	}
	return info.Funcs[i], true
}

// flow is the definite-assignment state at a program point.
type flow struct {
	assigned mapset.Set // names certainly bound on every path here
	dead     bool       // no path reaches here
}

func newFlow() *flow { return &flow{assigned: mapset.NewSet()} }

func (f *flow) clone() *flow {
	return &flow{assigned: f.assigned.Clone(), dead: f.dead}
}

// merge joins two paths: a name is bound only if bound on both.
func merge(a, b *flow) *flow {
	switch {
	case a.dead:
		return b.clone()
	case b.dead:
		return a.clone()
	}
	return &flow{assigned: a.assigned.Intersect(b.assigned)}
}

type checker struct {
	info *Info
	fn   *Func // nil at top level

	// declared holds the top-level names declared so far in source order.
	declared mapset.Set
}

// Check type-checks nodes and returns the facts code generation relies on.
func Check(nodes []ast.Node) (info *Info, err error) {
	c := &checker{
		info: &Info{
			Types:     make(map[ast.Node]types.Type),
			FuncIndex: make(map[string]int),
			Globals:   make(map[string]types.Type),
			Slots:     make(map[string]bool),
		},
		declared: mapset.NewSet(),
	}
	defer func() {
		if r := recover(); r != nil {
			serr, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			info, err = nil, serr
		}
	}()

	// Pass 1: signatures.
	for _, n := range nodes {
		fd, ok := n.(*ast.FuncDecl)
		if !ok {
			continue
		}
		if _, dup := c.info.FuncIndex[fd.Name]; dup {
			c.unsupported(fd.Pos(), "function %s declared more than once", fd.Name)
		}
		fn := &Func{Decl: fd, Index: len(c.info.Funcs), Result: fd.ReturnType, Locals: make(map[string]types.Type)}
		for _, p := range fd.Params {
			if _, dup := fn.Locals[p.Name]; dup {
				c.unsupported(fd.Pos(), "parameter %s repeated in %s", p.Name, fd.Name)
			}
			fn.Params = append(fn.Params, p.Type)
			fn.Locals[p.Name] = p.Type
		}
		c.info.FuncIndex[fd.Name] = fn.Index
		c.info.Funcs = append(c.info.Funcs, fn)
	}

	// Pass 2: top level.
	state := newFlow()
	for _, n := range nodes {
		if _, ok := n.(*ast.FuncDecl); ok {
			continue
		}
		state = c.stmt(n, state)
	}

	// Pass 3: function bodies.
	for _, fn := range c.info.Funcs {
		c.function(fn)
	}
	c.fn = nil
	return c.info, nil
}

func (c *checker) errorf(pos token.Position, format string, args ...interface{}) {
	panic(&Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (c *checker) unsupported(pos token.Position, format string, args ...interface{}) {
	panic(&Error{Pos: pos, Msg: fmt.Sprintf(format, args...), Unsupported: true})
}

func (c *checker) function(fn *Func) {
	c.fn = fn
	collectLocals(c, fn, fn.Decl.Body)

	state := newFlow()
	for _, p := range fn.Decl.Params {
		state.assigned.Add(p.Name)
	}
	state = c.stmt(fn.Decl.Body, state)
	if state.dead {
		return
	}
	// The body's own value is returned when control falls off the end.
	if got := c.info.Types[fn.Decl.Body]; !types.Same(got, fn.Result) {
		c.unsupported(fn.Decl.Pos(), "%s can end without return, yielding %s instead of %s", fn.Decl.Name, describe(got), fn.Result)
	}
}

// collectLocals records every name the function binds with let, so that the
// classification of a name as local or global does not depend on flow.
func collectLocals(c *checker, fn *Func, n ast.Node) {
	switch n := n.(type) {
	case *ast.VarDecl:
		typ := n.Type
		if prev, ok := fn.Locals[n.Name]; ok && typ != nil && !typ.Equals(prev) {
			c.unsupported(n.Pos(), "%s redeclared as %s, was %s", n.Name, typ, prev)
		}
		if _, ok := fn.Locals[n.Name]; !ok && typ != nil {
			fn.Locals[n.Name] = typ
		} else if !ok {
			fn.Locals[n.Name] = nil // inferred when the declaration is checked
		}
	case *ast.Block:
		for _, s := range n.Statements {
			collectLocals(c, fn, s)
		}
	case *ast.If:
		collectLocals(c, fn, n.Then)
		if n.Else != nil {
			collectLocals(c, fn, n.Else)
		}
	case *ast.While:
		collectLocals(c, fn, n.Body)
	case *ast.For:
		collectLocals(c, fn, n.Init)
		collectLocals(c, fn, n.Body)
	case *ast.FuncDecl:
		c.unsupported(n.Pos(), "nested function declaration %s", n.Name)
	}
}

func describe(t types.Type) string {
	if t == nil || t == types.Void {
		return "no usable value"
	}
	return t.String()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// stmt checks n and returns the flow state after it. The statement's value
// type (what a block ending in it evaluates to) is recorded in Types.
func (c *checker) stmt(n ast.Node, in *flow) *flow {
	switch n := n.(type) {
	case *ast.Block:
		state := in
		var last types.Type = types.Int
		for _, s := range n.Statements {
			state = c.stmt(s, state)
			last = c.info.Types[s]
		}
		c.info.Types[n] = last
		return state

	case *ast.If:
		state := c.cond(n.Cond, in)
		thenFlow := c.stmt(n.Then, state.clone())
		elseFlow := state
		elseType := types.Int
		if n.Else != nil {
			elseFlow = c.stmt(n.Else, state.clone())
			elseType = c.info.Types[n.Else]
		}
		thenType := c.info.Types[n.Then]
		switch {
		case thenFlow.dead && !elseFlow.dead:
			c.info.Types[n] = elseType
		case elseFlow.dead && !thenFlow.dead:
			c.info.Types[n] = thenType
		case types.Same(thenType, elseType):
			c.info.Types[n] = thenType
		default:
			c.info.Types[n] = types.Void
		}
		return merge(thenFlow, elseFlow)

	case *ast.While:
		state := c.cond(n.Cond, in)
		c.stmt(n.Body, state.clone())
		c.info.Types[n] = types.Int
		return state

	case *ast.For:
		state := c.stmt(n.Init, in)
		if state.dead {
			c.unsupported(n.Pos(), "for initializer never completes")
		}
		state = c.cond(n.Cond, state)
		body := c.stmt(n.Body, state.clone())
		if !body.dead {
			c.expr(n.Incr, nil, body)
		} else {
			c.expr(n.Incr, nil, state.clone())
		}
		c.info.Types[n] = types.Int
		return state

	case *ast.Return:
		if n.Value != nil {
			var want types.Type
			if c.fn != nil {
				want = c.fn.Result
			}
			got := c.expr(n.Value, want, in)
			if c.fn != nil && !got.Equals(c.fn.Result) {
				c.errorf(n.Pos(), "%s returns %s, got %s", c.fn.Decl.Name, c.fn.Result, got)
			}
		} else if c.fn != nil && !c.fn.Result.Equals(types.Int) {
			c.unsupported(n.Pos(), "bare return in %s, which returns %s", c.fn.Decl.Name, c.fn.Result)
		}
		c.info.Types[n] = types.Void
		out := in.clone()
		out.dead = true
		return out

	case *ast.FuncDecl:
		// Top-level declarations are handled by the signature pass.
		c.unsupported(n.Pos(), "nested function declaration %s", n.Name)
	}

	state := in.clone()
	c.expr(n, nil, state)
	return state
}

func (c *checker) cond(n ast.Node, in *flow) *flow {
	state := in.clone()
	if t := c.expr(n, types.Bool, state); !t.Equals(types.Bool) {
		c.errorf(n.Pos(), "condition must be bool, got %s", t)
	}
	return state
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// isLocal reports whether name refers to a local of the current function.
func (c *checker) isLocal(name string) bool {
	if c.fn == nil {
		return false
	}
	_, ok := c.fn.Locals[name]
	return ok
}

// bind records a let or assignment of name with type t.
func (c *checker) bind(pos token.Position, name string, t types.Type, decl bool, state *flow) {
	if c.isLocal(name) {
		prev := c.fn.Locals[name]
		if prev == nil {
			c.fn.Locals[name] = t
		} else if !prev.Equals(t) {
			c.errorf(pos, "%s has type %s, cannot hold %s", name, prev, t)
		}
		if !decl && !state.assigned.Contains(name) {
			c.unsupported(pos, "assignment to local %s before it is certainly bound", name)
		}
		state.assigned.Add(name)
		return
	}

	prev, known := c.info.Globals[name]
	if !known {
		if !decl {
			c.errorf(pos, "undefined variable %s", name)
		}
		c.info.Globals[name] = t
	} else if !prev.Equals(t) {
		c.errorf(pos, "%s has type %s, cannot hold %s", name, prev, t)
	}
	if c.fn != nil {
		c.info.Slots[name] = true
		return
	}
	if !decl && !state.assigned.Contains(name) {
		c.info.Slots[name] = true
	}
	if decl {
		c.declared.Add(name)
	}
	state.assigned.Add(name)
}

// use resolves a read of name.
func (c *checker) use(n *ast.VarRef, state *flow) types.Type {
	if c.isLocal(n.Name) {
		if !state.dead && !state.assigned.Contains(n.Name) {
			c.unsupported(n.Pos(), "local %s may be read before it is bound", n.Name)
		}
		return c.fn.Locals[n.Name]
	}
	t, ok := c.info.Globals[n.Name]
	if c.fn != nil {
		if !ok {
			c.errorf(n.Pos(), "undefined variable %s", n.Name)
		}
		c.info.Slots[n.Name] = true
		return t
	}
	if !ok || !c.declared.Contains(n.Name) {
		c.errorf(n.Pos(), "undefined variable %s", n.Name)
	}
	if !state.assigned.Contains(n.Name) {
		c.info.Slots[n.Name] = true
	}
	return t
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr checks n and returns its type. want, when non-nil, is the type the
// context expects; it only matters for empty array literals.
func (c *checker) expr(n ast.Node, want types.Type, state *flow) types.Type {
	t := c.exprType(n, want, state)
	c.info.Types[n] = t
	return t
}

func (c *checker) exprType(n ast.Node, want types.Type, state *flow) types.Type {
	switch n := n.(type) {
	case *ast.IntLiteral:
		return types.Int
	case *ast.FloatLiteral:
		return types.Float
	case *ast.BoolLiteral:
		return types.Bool
	case *ast.StringLiteral:
		return types.String

	case *ast.ArrayLiteral:
		if len(n.Elements) == 0 {
			arr, ok := want.(*types.ArrayType)
			if !ok {
				c.unsupported(n.Pos(), "empty array literal needs a declared type")
			}
			return arr
		}
		var elemWant types.Type
		if arr, ok := want.(*types.ArrayType); ok {
			elemWant = arr.Elem
		}
		first := c.expr(n.Elements[0], elemWant, state)
		for _, e := range n.Elements[1:] {
			if t := c.expr(e, first, state); !t.Equals(first) {
				c.errorf(e.Pos(), "array elements must share a type: %s and %s", first, t)
			}
		}
		return types.NewArray(first)

	case *ast.Binary:
		l := c.expr(n.Left, nil, state)
		r := c.expr(n.Right, l, state)
		return c.binary(n, l, r)

	case *ast.Unary:
		t := c.expr(n.Operand, nil, state)
		switch {
		case n.Op == ast.Neg && types.IsNumeric(t):
			return t
		case n.Op == ast.Not && t.Equals(types.Bool):
			return types.Bool
		}
		c.errorf(n.Pos(), "operator %s not defined on %s", n.Op, t)

	case *ast.VarRef:
		return c.use(n, state)

	case *ast.Assign:
		want := c.declaredType(n.Name)
		t := c.expr(n.Value, want, state)
		c.bind(n.Pos(), n.Name, t, false, state)
		return t

	case *ast.VarDecl:
		t := c.expr(n.Init, n.Type, state)
		if n.Type != nil && !n.Type.Equals(t) {
			c.errorf(n.Pos(), "%s declared %s, initialized with %s", n.Name, n.Type, t)
		}
		if want := c.declaredType(n.Name); want != nil && !want.Equals(t) {
			c.unsupported(n.Pos(), "%s redeclared as %s, was %s", n.Name, t, want)
		}
		c.bind(n.Pos(), n.Name, t, true, state)
		return types.Int

	case *ast.Index:
		target := c.expr(n.Target, nil, state)
		idx := c.expr(n.Index, types.Int, state)
		arr, ok := target.(*types.ArrayType)
		if !ok {
			c.errorf(n.Pos(), "cannot index %s", target)
		}
		if !idx.Equals(types.Int) {
			c.errorf(n.Index.Pos(), "index must be int, got %s", idx)
		}
		return arr.Elem

	case *ast.Call:
		fn, ok := c.info.Func(n.Name)
		if !ok {
			c.errorf(n.Pos(), "undefined function %s", n.Name)
		}
		if len(n.Args) != len(fn.Params) {
			c.errorf(n.Pos(), "%s takes %d arguments, got %d", n.Name, len(fn.Params), len(n.Args))
		}
		for i, a := range n.Args {
			if t := c.expr(a, fn.Params[i], state); !t.Equals(fn.Params[i]) {
				c.errorf(a.Pos(), "argument %d of %s must be %s, got %s", i+1, n.Name, fn.Params[i], t)
			}
		}
		return fn.Result

	case *ast.Write:
		c.expr(n.Value, nil, state)
		return types.Int

	case *ast.Block, *ast.If, *ast.While, *ast.For, *ast.Return, *ast.FuncDecl:
		c.unsupported(n.Pos(), "statement used as a value")
	}
	c.unsupported(n.Pos(), "%T", n)
	return nil
}

// declaredType returns the already-known type of name, or nil.
func (c *checker) declaredType(name string) types.Type {
	if c.isLocal(name) {
		return c.fn.Locals[name]
	}
	return c.info.Globals[name]
}

func (c *checker) binary(n *ast.Binary, l, r types.Type) types.Type {
	if !l.Equals(r) {
		c.errorf(n.Pos(), "mismatched operands %s %s %s", l, n.Op, r)
	}
	switch k := l.Kind(); {
	case n.Op.IsLogical():
		if k == types.KindBool {
			return types.Bool
		}
	case n.Op == ast.Eq || n.Op == ast.Neq:
		if k != types.KindArray && k != types.KindVoid {
			return types.Bool
		}
	case n.Op.IsComparison():
		if k == types.KindInt || k == types.KindFloat || k == types.KindString {
			return types.Bool
		}
	case n.Op == ast.Add:
		if k == types.KindInt || k == types.KindFloat || k == types.KindString {
			return l
		}
	default:
		if k == types.KindInt || k == types.KindFloat {
			return l
		}
	}
	c.errorf(n.Pos(), "operator %s not defined on %s", n.Op, l)
	return nil
}
