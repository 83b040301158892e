// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"strconv"
	"strings"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/types"
)

// Value is a runtime value. The set of implementations is closed.
type Value interface {
	// Kind returns the runtime variant.
	Kind() types.Kind
	value()
}

type (
	// Int is a 64-bit signed integer with wrapping arithmetic.
	Int int64
	// Float is an IEEE-754 double.
	Float float64
	// Bool is true or false.
	Bool bool
	// String is an immutable byte string.
	String string
	// Array is an ordered sequence of values. Reading an array out of a
	// binding yields a copy.
	Array []Value
)

func (Int) Kind() types.Kind    { return types.KindInt }
func (Float) Kind() types.Kind  { return types.KindFloat }
func (Bool) Kind() types.Kind   { return types.KindBool }
func (String) Kind() types.Kind { return types.KindString }
func (Array) Kind() types.Kind  { return types.KindArray }

func (Int) value()    {}
func (Float) value()  {}
func (Bool) value()   {}
func (String) value() {}
func (Array) value()  {}

// zero is the value of statements that produce nothing in particular.
var zero Value = Int(0)

// Copy returns v with every array level duplicated.
func Copy(v Value) Value {
	arr, ok := v.(Array)
	if !ok {
		return v
	}
	out := make(Array, len(arr))
	for i, e := range arr {
		out[i] = Copy(e)
	}
	return out
}

// Format renders v the way write prints it.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v, false)
	return b.String()
}

func format(b *strings.Builder, v Value, nested bool) {
	switch v := v.(type) {
	case Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case Float:
		b.WriteString(ast.FormatFloat(float64(v)))
	case Bool:
		b.WriteString(strconv.FormatBool(bool(v)))
	case String:
		if nested {
			b.WriteString(strconv.Quote(string(v)))
		} else {
			b.WriteString(string(v))
		}
	case Array:
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, e, true)
		}
		b.WriteByte(']')
	}
}

// kindName names a value's variant for error messages.
func kindName(v Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Kind().String()
}
