// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package types defines the Vira type system.
//
// The set of types is closed: int, float, bool, string and the parametric
// array<T>. Annotations are recorded by the parser, ignored by the
// interpreter and enforced by the static checker ahead of code generation.
package types

import "fmt"

// Kind categorizes the fundamental shape of a type.
type Kind int

const (
	KindVoid Kind = iota // statements and functions with nothing useful to return
	KindInt
	KindFloat
	KindBool
	KindString
	KindArray
)

var kindNames = [...]string{
	KindVoid:   "void",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindString: "string",
	KindArray:  "array",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Type is the interface that all Vira types implement.
type Type interface {
	// Kind returns the fundamental category of this type.
	Kind() Kind

	// String returns the source-level spelling, e.g. "array<int>".
	String() string

	// Equals reports whether two types are structurally identical.
	Equals(other Type) bool

	// IsScalar reports whether values fit in a single VM register without
	// any backing memory.
	IsScalar() bool
}

// ---- Primitive types -------------------------------------------------------

type primitiveType struct {
	kind Kind
}

func (p *primitiveType) Kind() Kind     { return p.kind }
func (p *primitiveType) String() string { return p.kind.String() }

func (p *primitiveType) Equals(other Type) bool {
	if other == nil {
		return false
	}
	return p.kind == other.Kind()
}

func (p *primitiveType) IsScalar() bool {
	return p.kind != KindString
}

// Pre-allocated singletons for all primitive types.
var (
	Void   Type = &primitiveType{kind: KindVoid}
	Int    Type = &primitiveType{kind: KindInt}
	Float  Type = &primitiveType{kind: KindFloat}
	Bool   Type = &primitiveType{kind: KindBool}
	String Type = &primitiveType{kind: KindString}
)

// ---- Composite types -------------------------------------------------------

// ArrayType is array<Elem>. The length is a property of values, not types.
type ArrayType struct {
	Elem Type
}

// NewArray returns array<elem>.
func NewArray(elem Type) *ArrayType {
	return &ArrayType{Elem: elem}
}

func (a *ArrayType) Kind() Kind     { return KindArray }
func (a *ArrayType) IsScalar() bool { return false }

func (a *ArrayType) String() string {
	return "array<" + a.Elem.String() + ">"
}

func (a *ArrayType) Equals(other Type) bool {
	o, ok := other.(*ArrayType)
	if !ok || o == nil {
		return false
	}
	return a.Elem.Equals(o.Elem)
}

// ---- Helpers ---------------------------------------------------------------

// LookupPrimitive resolves a primitive type name as written in source.
// "array" is not primitive; it needs an element type.
func LookupPrimitive(name string) (Type, bool) {
	switch name {
	case "int":
		return Int, true
	case "float":
		return Float, true
	case "bool":
		return Bool, true
	case "string":
		return String, true
	}
	return nil, false
}

// Same reports whether a and b are both nil or structurally equal.
func Same(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// IsNumeric reports whether arithmetic operators apply to t.
func IsNumeric(t Type) bool {
	return t != nil && (t.Kind() == KindInt || t.Kind() == KindFloat)
}

// Depth returns the array nesting depth of t; 0 for primitives.
func Depth(t Type) int {
	n := 0
	for {
		a, ok := t.(*ArrayType)
		if !ok {
			return n
		}
		n++
		t = a.Elem
	}
}
