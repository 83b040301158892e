// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"math"

	"github.com/vira-lang/go-vira/lang/ast"
)

// binary applies n.Op to operands of the same variant. There is no implicit
// conversion between Int and Float.
func binary(n *ast.Binary, left, right Value) (Value, error) {
	mismatch := func() error {
		return runtimeErr(n.Pos(), ErrTypeMismatch, "%s %s %s", kindName(left), n.Op, kindName(right))
	}
	switch l := left.(type) {
	case Int:
		r, ok := right.(Int)
		if !ok {
			return nil, mismatch()
		}
		return intOp(n, l, r, mismatch)
	case Float:
		r, ok := right.(Float)
		if !ok {
			return nil, mismatch()
		}
		return floatOp(n.Op, l, r, mismatch)
	case Bool:
		r, ok := right.(Bool)
		if !ok {
			return nil, mismatch()
		}
		switch n.Op {
		case ast.And:
			return l && r, nil
		case ast.Or:
			return l || r, nil
		case ast.Eq:
			return Bool(l == r), nil
		case ast.Neq:
			return Bool(l != r), nil
		}
	case String:
		r, ok := right.(String)
		if !ok {
			return nil, mismatch()
		}
		switch n.Op {
		case ast.Add:
			return l + r, nil
		case ast.Eq:
			return Bool(l == r), nil
		case ast.Neq:
			return Bool(l != r), nil
		case ast.Lt:
			return Bool(l < r), nil
		case ast.Gt:
			return Bool(l > r), nil
		case ast.Le:
			return Bool(l <= r), nil
		case ast.Ge:
			return Bool(l >= r), nil
		}
	}
	return nil, mismatch()
}

func intOp(n *ast.Binary, l, r Int, mismatch func() error) (Value, error) {
	switch n.Op {
	case ast.Add:
		return l + r, nil
	case ast.Sub:
		return l - r, nil
	case ast.Mul:
		return l * r, nil
	case ast.Div:
		if r == 0 {
			return nil, runtimeErr(n.Pos(), ErrDivisionByZero, "%d / 0", l)
		}
		return l / r, nil
	case ast.Mod:
		if r == 0 {
			return nil, runtimeErr(n.Pos(), ErrDivisionByZero, "%d %% 0", l)
		}
		return l % r, nil
	case ast.Eq:
		return Bool(l == r), nil
	case ast.Neq:
		return Bool(l != r), nil
	case ast.Lt:
		return Bool(l < r), nil
	case ast.Gt:
		return Bool(l > r), nil
	case ast.Le:
		return Bool(l <= r), nil
	case ast.Ge:
		return Bool(l >= r), nil
	}
	return nil, mismatch()
}

func floatOp(op ast.BinOp, l, r Float, mismatch func() error) (Value, error) {
	switch op {
	case ast.Add:
		return l + r, nil
	case ast.Sub:
		return l - r, nil
	case ast.Mul:
		return l * r, nil
	case ast.Div:
		return l / r, nil
	case ast.Mod:
		return Float(math.Mod(float64(l), float64(r))), nil
	case ast.Eq:
		return Bool(l == r), nil
	case ast.Neq:
		return Bool(l != r), nil
	case ast.Lt:
		return Bool(l < r), nil
	case ast.Gt:
		return Bool(l > r), nil
	case ast.Le:
		return Bool(l <= r), nil
	case ast.Ge:
		return Bool(l >= r), nil
	}
	return nil, mismatch()
}

func unary(n *ast.Unary, v Value) (Value, error) {
	switch n.Op {
	case ast.Neg:
		switch v := v.(type) {
		case Int:
			return -v, nil
		case Float:
			return -v, nil
		}
	case ast.Not:
		if b, ok := v.(Bool); ok {
			return !b, nil
		}
	}
	return nil, runtimeErr(n.Pos(), ErrTypeMismatch, "%s%s", n.Op, kindName(v))
}
