// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"errors"
	"fmt"

	"github.com/vira-lang/go-vira/lang/token"
)

var (
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrUndefinedFunction = errors.New("undefined function")
	ErrArity             = errors.New("wrong number of arguments")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrIndexOutOfBounds  = errors.New("index out of bounds")
	ErrCallDepthExceeded = errors.New("call depth exceeded")
)

// RuntimeError is a fault raised while evaluating a node. It wraps one of
// the sentinel errors above, so errors.Is works on it.
type RuntimeError struct {
	Pos    token.Position
	Err    error
	Detail string
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: runtime error: %v", e.Pos, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func runtimeErr(pos token.Position, err error, format string, args ...interface{}) error {
	return &RuntimeError{Pos: pos, Err: err, Detail: fmt.Sprintf(format, args...)}
}
