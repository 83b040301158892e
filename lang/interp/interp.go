// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package interp implements a tree-walking evaluator for Vira programs.
//
// Evaluation is depth-first and left-to-right. Every subexpression is
// evaluated, including both operands of && and ||. Each function call runs
// in its own frame; names resolve in the current frame first and then in the
// global frame. A return unwinds to the nearest call boundary (or ends the
// program at top level) by way of an explicit control signal.
package interp

import (
	"fmt"
	"io"
	"os"

	"github.com/vira-lang/go-vira/lang/ast"
)

// DefaultMaxCallDepth bounds recursion when no limit is configured.
const DefaultMaxCallDepth = 1024

// signal tells a statement sequence whether to keep going.
type signal int

const (
	normal    signal = iota // continue with the next statement
	returning               // unwind to the call boundary
)

// frame is a call-scoped mapping from names to bound values.
type frame struct {
	vars map[string]Value
}

func newFrame() *frame {
	return &frame{vars: make(map[string]Value)}
}

// Interpreter evaluates statement sequences. Globals and functions persist
// across Interpret calls, so one instance can back an interactive session.
// It is not safe for concurrent use.
type Interpreter struct {
	globals  *frame
	frames   []*frame // call frames, innermost last; empty at top level
	funcs    map[string]*ast.FuncDecl
	out      io.Writer
	maxDepth int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithOutput directs write output to w. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) { in.out = w }
}

// WithMaxCallDepth bounds the number of nested calls. Non-positive values
// select DefaultMaxCallDepth.
func WithMaxCallDepth(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxDepth = n
		}
	}
}

// New creates an Interpreter with empty global state.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		globals:  newFrame(),
		funcs:    make(map[string]*ast.FuncDecl),
		out:      os.Stdout,
		maxDepth: DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Interpret runs nodes in order and returns the first error. A top-level
// return stops the run successfully.
func (in *Interpreter) Interpret(nodes []ast.Node) error {
	in.frames = in.frames[:0]
	for _, n := range nodes {
		_, sig, err := in.exec(n)
		if err != nil {
			return err
		}
		if sig == returning {
			return nil
		}
	}
	return nil
}

// Eval evaluates a single node at top level and returns its value.
func (in *Interpreter) Eval(n ast.Node) (Value, error) {
	in.frames = in.frames[:0]
	v, _, err := in.exec(n)
	return v, err
}

// Global returns the value bound to name in the global frame.
func (in *Interpreter) Global(name string) (Value, bool) {
	v, ok := in.globals.vars[name]
	if !ok {
		return nil, false
	}
	return Copy(v), true
}

// Functions returns the names of the declared functions.
func (in *Interpreter) Functions() []string {
	names := make([]string, 0, len(in.funcs))
	for name := range in.funcs {
		names = append(names, name)
	}
	return names
}

// current returns the frame that let binds into.
func (in *Interpreter) current() *frame {
	if len(in.frames) == 0 {
		return in.globals
	}
	return in.frames[len(in.frames)-1]
}

// lookup finds the frame holding name: the current frame, then globals.
func (in *Interpreter) lookup(name string) (*frame, bool) {
	if f := in.current(); f != in.globals {
		if _, ok := f.vars[name]; ok {
			return f, true
		}
	}
	if _, ok := in.globals.vars[name]; ok {
		return in.globals, true
	}
	return nil, false
}

// exec evaluates n and reports whether a return is in flight.
func (in *Interpreter) exec(n ast.Node) (Value, signal, error) {
	switch n := n.(type) {
	case *ast.Block:
		var last Value = zero
		for _, stmt := range n.Statements {
			v, sig, err := in.exec(stmt)
			if err != nil || sig == returning {
				return v, sig, err
			}
			last = v
		}
		return last, normal, nil

	case *ast.If:
		cond, err := in.condition(n.Cond, "if")
		if err != nil {
			return nil, normal, err
		}
		if cond {
			return in.exec(n.Then)
		}
		if n.Else != nil {
			return in.exec(n.Else)
		}
		return zero, normal, nil

	case *ast.While:
		for {
			cond, err := in.condition(n.Cond, "while")
			if err != nil {
				return nil, normal, err
			}
			if !cond {
				return zero, normal, nil
			}
			if v, sig, err := in.exec(n.Body); err != nil || sig == returning {
				return v, sig, err
			}
		}

	case *ast.For:
		if v, sig, err := in.exec(n.Init); err != nil || sig == returning {
			return v, sig, err
		}
		for {
			cond, err := in.condition(n.Cond, "for")
			if err != nil {
				return nil, normal, err
			}
			if !cond {
				return zero, normal, nil
			}
			if v, sig, err := in.exec(n.Body); err != nil || sig == returning {
				return v, sig, err
			}
			if _, err := in.eval(n.Incr); err != nil {
				return nil, normal, err
			}
		}

	case *ast.Return:
		if n.Value == nil {
			return zero, returning, nil
		}
		v, err := in.eval(n.Value)
		if err != nil {
			return nil, normal, err
		}
		return v, returning, nil
	}

	v, err := in.eval(n)
	return v, normal, err
}

// eval evaluates a node that cannot itself return. Statement forms that can
// (blocks, conditionals, loops) are routed back through exec; a return
// signal reaching here can only come from a nested statement used as an
// expression and is treated as its value.
func (in *Interpreter) eval(n ast.Node) (Value, error) {
	switch n := n.(type) {
	case *ast.IntLiteral:
		return Int(n.Value), nil
	case *ast.FloatLiteral:
		return Float(n.Value), nil
	case *ast.BoolLiteral:
		return Bool(n.Value), nil
	case *ast.StringLiteral:
		return String(n.Value), nil

	case *ast.ArrayLiteral:
		arr := make(Array, 0, len(n.Elements))
		for _, e := range n.Elements {
			v, err := in.eval(e)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil

	case *ast.Binary:
		// Both operands are always evaluated, && and || included.
		left, err := in.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := in.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return binary(n, left, right)

	case *ast.Unary:
		v, err := in.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		return unary(n, v)

	case *ast.VarRef:
		f, ok := in.lookup(n.Name)
		if !ok {
			return nil, runtimeErr(n.Pos(), ErrUndefinedVariable, "%s", n.Name)
		}
		return Copy(f.vars[n.Name]), nil

	case *ast.Assign:
		v, err := in.eval(n.Value)
		if err != nil {
			return nil, err
		}
		f, ok := in.lookup(n.Name)
		if !ok {
			return nil, runtimeErr(n.Pos(), ErrUndefinedVariable, "%s", n.Name)
		}
		f.vars[n.Name] = v
		return Copy(v), nil

	case *ast.VarDecl:
		v, err := in.eval(n.Init)
		if err != nil {
			return nil, err
		}
		in.current().vars[n.Name] = v
		return zero, nil

	case *ast.Index:
		target, err := in.eval(n.Target)
		if err != nil {
			return nil, err
		}
		idx, err := in.eval(n.Index)
		if err != nil {
			return nil, err
		}
		arr, ok := target.(Array)
		if !ok {
			return nil, runtimeErr(n.Pos(), ErrTypeMismatch, "cannot index %s", kindName(target))
		}
		i, ok := idx.(Int)
		if !ok {
			return nil, runtimeErr(n.Pos(), ErrTypeMismatch, "index must be int, got %s", kindName(idx))
		}
		if i < 0 || int64(i) >= int64(len(arr)) {
			return nil, runtimeErr(n.Pos(), ErrIndexOutOfBounds, "index %d, length %d", i, len(arr))
		}
		return arr[i], nil

	case *ast.FuncDecl:
		in.funcs[n.Name] = n
		return zero, nil

	case *ast.Call:
		return in.call(n)

	case *ast.Write:
		v, err := in.eval(n.Value)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Fprintln(in.out, Format(v)); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		return zero, nil

	case *ast.Block, *ast.If, *ast.While, *ast.For, *ast.Return:
		v, _, err := in.exec(n)
		return v, err
	}
	return nil, fmt.Errorf("interp: unhandled node %T", n)
}

// condition evaluates a loop or branch condition, which must be a Bool.
func (in *Interpreter) condition(n ast.Node, construct string) (bool, error) {
	v, err := in.eval(n)
	if err != nil {
		return false, err
	}
	b, ok := v.(Bool)
	if !ok {
		return false, runtimeErr(n.Pos(), ErrTypeMismatch, "%s condition must be bool, got %s", construct, kindName(v))
	}
	return bool(b), nil
}

func (in *Interpreter) call(n *ast.Call) (Value, error) {
	fn, ok := in.funcs[n.Name]
	if !ok {
		return nil, runtimeErr(n.Pos(), ErrUndefinedFunction, "%s", n.Name)
	}
	if len(n.Args) != len(fn.Params) {
		return nil, runtimeErr(n.Pos(), ErrArity, "%s takes %d, got %d", n.Name, len(fn.Params), len(n.Args))
	}
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := in.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if len(in.frames) >= in.maxDepth {
		return nil, runtimeErr(n.Pos(), ErrCallDepthExceeded, "limit %d", in.maxDepth)
	}
	f := newFrame()
	for i, p := range fn.Params {
		f.vars[p.Name] = args[i]
	}
	in.frames = append(in.frames, f)
	v, _, err := in.exec(fn.Body)
	in.frames = in.frames[:len(in.frames)-1]
	if err != nil {
		return nil, err
	}
	return v, nil
}
