// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package types

import "testing"

// ---- Primitive type tests --------------------------------------------------

func TestPrimitiveKinds(t *testing.T) {
	cases := []struct {
		typ        Type
		wantKind   Kind
		wantStr    string
		wantScalar bool
	}{
		{Void, KindVoid, "void", true},
		{Int, KindInt, "int", true},
		{Float, KindFloat, "float", true},
		{Bool, KindBool, "bool", true},
		{String, KindString, "string", false},
	}
	for _, tc := range cases {
		t.Run(tc.wantStr, func(t *testing.T) {
			if tc.typ.Kind() != tc.wantKind {
				t.Errorf("Kind() = %v, want %v", tc.typ.Kind(), tc.wantKind)
			}
			if tc.typ.String() != tc.wantStr {
				t.Errorf("String() = %q, want %q", tc.typ.String(), tc.wantStr)
			}
			if tc.typ.IsScalar() != tc.wantScalar {
				t.Errorf("IsScalar() = %v, want %v", tc.typ.IsScalar(), tc.wantScalar)
			}
		})
	}
}

func TestLookupPrimitive(t *testing.T) {
	for _, name := range []string{"int", "float", "bool", "string"} {
		typ, ok := LookupPrimitive(name)
		if !ok || typ.String() != name {
			t.Errorf("LookupPrimitive(%q) = %v, %v", name, typ, ok)
		}
	}
	for _, name := range []string{"array", "i64", "Int", ""} {
		if _, ok := LookupPrimitive(name); ok {
			t.Errorf("LookupPrimitive(%q) should fail", name)
		}
	}
}

// ---- Array type tests ------------------------------------------------------

func TestArrayType(t *testing.T) {
	a := NewArray(Int)
	if a.String() != "array<int>" {
		t.Errorf("String() = %q", a.String())
	}
	nested := NewArray(NewArray(String))
	if nested.String() != "array<array<string>>" {
		t.Errorf("nested String() = %q", nested.String())
	}
	if Depth(nested) != 2 || Depth(Int) != 0 {
		t.Errorf("Depth wrong: %d %d", Depth(nested), Depth(Int))
	}
	if a.IsScalar() {
		t.Error("arrays are not scalar")
	}
}

func TestEquals(t *testing.T) {
	cases := []struct {
		a, b Type
		want bool
	}{
		{Int, Int, true},
		{Int, Float, false},
		{NewArray(Int), NewArray(Int), true},
		{NewArray(Int), NewArray(Float), false},
		{NewArray(NewArray(Bool)), NewArray(NewArray(Bool)), true},
		{NewArray(Int), Int, false},
		{Int, NewArray(Int), false},
		{Int, nil, false},
	}
	for _, c := range cases {
		if got := c.a.Equals(c.b); got != c.want {
			t.Errorf("%v.Equals(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
	if !Same(nil, nil) || Same(Int, nil) {
		t.Error("Same mishandles nil")
	}
}
