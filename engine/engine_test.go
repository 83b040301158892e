// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/vira-lang/go-vira/engine/buildcache"
	"github.com/vira-lang/go-vira/engine/viraconfig"
	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/lang/interp"
	"github.com/vira-lang/go-vira/lang/parser"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/lang/vm"
)

func newSession(t *testing.T, cfg viraconfig.Config, opts ...Option) (*Session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s, err := NewSession(cfg, append([]Option{WithOutput(&out)}, opts...)...)
	require.NoError(t, err)
	return s, &out
}

func TestTokens(t *testing.T) {
	s, _ := newSession(t, viraconfig.Defaults)
	toks := s.Tokens("let x = 1 $")
	require.NotEmpty(t, toks)
	assert.Equal(t, token.EOF, toks[len(toks)-1].Type)
	assert.Equal(t, "x", toks[1].Literal)
}

func TestParseError(t *testing.T) {
	s, _ := newSession(t, viraconfig.Defaults, WithFilename("bad.vira"))
	_, err := s.Parse("let = 1")
	var perr *parser.Error
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "bad.vira")
}

func TestInterpretKeepsState(t *testing.T) {
	s, out := newSession(t, viraconfig.Defaults)
	require.NoError(t, s.Interpret("let x = 4\nfunc double(n: int) -> int [ return n * 2 ]"))
	require.NoError(t, s.Interpret("write double(x)"))
	assert.Equal(t, "8\n", out.String())

	v, ok := s.Global("x")
	require.True(t, ok)
	assert.Equal(t, interp.Int(4), v)
	assert.Contains(t, s.Functions(), "double")

	s.Reset()
	_, ok = s.Global("x")
	assert.False(t, ok)
}

func TestEval(t *testing.T) {
	s, _ := newSession(t, viraconfig.Defaults)
	v, err := s.Eval("let a = 2\na * 21")
	require.NoError(t, err)
	assert.Equal(t, interp.Int(42), v)

	for _, src := range []string{"", "let b = 1", "write a"} {
		v, err = s.Eval(src)
		require.NoError(t, err)
		assert.Nil(t, v, src)
	}
}

func TestInterpreterDepth(t *testing.T) {
	cfg := viraconfig.Defaults
	cfg.Interpreter.MaxCallDepth = 8
	s, _ := newSession(t, cfg)
	err := s.Interpret("func f(n: int) -> int [ return f(n + 1) ]\nf(0)")
	assert.True(t, errors.Is(err, interp.ErrCallDepthExceeded))
}

func TestRunMatchesInterpret(t *testing.T) {
	src := `
func fib(n: int) -> int [
  if n < 2 [ return n ]
  return fib(n - 1) + fib(n - 2)
]
write fib(15)
`
	s, out := newSession(t, viraconfig.Defaults)
	require.NoError(t, s.Interpret(src))
	want := out.String()

	out.Reset()
	_, err := s.Run(src)
	require.NoError(t, err)
	assert.Equal(t, want, out.String())
}

func TestCompileCached(t *testing.T) {
	s, _ := newSession(t, viraconfig.Defaults)
	a, err := s.Compile("write 1")
	require.NoError(t, err)
	b, err := s.Compile("write 1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	cfg := viraconfig.Defaults
	cfg.Cache.Enabled = false
	s, _ = newSession(t, cfg)
	a, err = s.Compile("write 1")
	require.NoError(t, err)
	b, err = s.Compile("write 1")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestBuildCache(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	store := buildcache.New(db)
	defer store.Close()

	src := "let x = 20\nwrite x + 22"
	s, _ := newSession(t, viraconfig.Defaults, WithBuildCache(store))
	first, err := s.Compile(src)
	require.NoError(t, err)
	n, _, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A new session misses its memory cache and loads the stored object.
	s, out := newSession(t, viraconfig.Defaults, WithBuildCache(store))
	second, err := s.Compile(src)
	require.NoError(t, err)
	assert.Equal(t, first.BuildID, second.BuildID)
	assert.Nil(t, second.IR)

	_, err = s.Exec(second)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out.String())
}

func TestCompileObject(t *testing.T) {
	s, out := newSession(t, viraconfig.Defaults)
	obj, err := s.CompileObject("write \"hi\"")
	require.NoError(t, err)
	m, err := codegen.DecodeObject(obj)
	require.NoError(t, err)
	_, err = s.Exec(m)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out.String())
}

func TestGasLimit(t *testing.T) {
	cfg := viraconfig.Defaults
	cfg.VM.GasLimit = 100
	s, _ := newSession(t, cfg)
	_, err := s.Run("let i = 0\nwhile true [ i = i + 1 ]")
	assert.True(t, errors.Is(err, vm.ErrOutOfGas))
}

func TestCheck(t *testing.T) {
	s, _ := newSession(t, viraconfig.Defaults)
	assert.NoError(t, s.Check("let x: int = 1\nwrite x"))
	assert.Error(t, s.Check("let x: int = \"no\""))

	p, err := s.IR("write 1 + 2")
	require.NoError(t, err)
	assert.NotEmpty(t, p.String())
}
