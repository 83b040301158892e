// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package engine drives Vira source through the pipeline: tokens, syntax
// tree, then either the interpreter or the compiler.
package engine

import (
	"io"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vira-lang/go-vira/engine/buildcache"
	"github.com/vira-lang/go-vira/engine/viraconfig"
	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/lang/interp"
	"github.com/vira-lang/go-vira/lang/ir"
	"github.com/vira-lang/go-vira/lang/lexer"
	"github.com/vira-lang/go-vira/lang/parser"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/log"
)

// Session owns one interpreter plus the compile caches. Interpreter state
// (globals and functions) persists across Interpret calls, which is what the
// REPL relies on. A Session is not safe for concurrent use.
type Session struct {
	cfg      viraconfig.Config
	filename string
	out      io.Writer

	interp  *interp.Interpreter
	modules *lru.Cache        // buildcache.Key -> *codegen.Module
	store   *buildcache.Cache // optional persistent objects

	log log.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithFilename sets the name reported in positions.
func WithFilename(name string) Option {
	return func(s *Session) { s.filename = name }
}

// WithOutput redirects write statements. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Session) { s.out = w }
}

// WithBuildCache attaches a persistent object cache.
func WithBuildCache(c *buildcache.Cache) Option {
	return func(s *Session) { s.store = c }
}

// NewSession creates a session using cfg.
func NewSession(cfg viraconfig.Config, opts ...Option) (*Session, error) {
	s := &Session{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.New("file", s.filename)
	s.interp = interp.New(
		interp.WithOutput(s.out),
		interp.WithMaxCallDepth(cfg.Interpreter.MaxCallDepth),
	)
	if cfg.Cache.Enabled && cfg.Cache.Entries > 0 {
		cache, err := lru.New(cfg.Cache.Entries)
		if err != nil {
			return nil, err
		}
		s.modules = cache
	}
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() viraconfig.Config { return s.cfg }

// Tokens lexes src. Characters the lexer dropped are logged at trace level.
func (s *Session) Tokens(src string) []token.Token {
	lx := lexer.New(s.filename, src)
	toks := lx.Tokenize()
	for _, sk := range lx.Skipped() {
		s.log.Trace("Ignored character", "char", string(rune(sk.Ch)), "pos", sk.Pos)
	}
	return toks
}

// Parse lexes and parses src.
func (s *Session) Parse(src string) ([]ast.Node, error) {
	start := time.Now()
	nodes, err := parser.Parse(s.Tokens(src))
	if err != nil {
		return nil, err
	}
	s.log.Debug("Parsed source", "statements", len(nodes), "elapsed", time.Since(start))
	return nodes, nil
}

// Interpret parses and runs src in the session interpreter.
func (s *Session) Interpret(src string) error {
	nodes, err := s.Parse(src)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.interp.Interpret(nodes)
	s.log.Debug("Interpreted source", "elapsed", time.Since(start), "err", err)
	return err
}

// Eval runs src in the session interpreter. When the last statement is an
// expression its value is returned; otherwise the value is nil.
func (s *Session) Eval(src string) (interp.Value, error) {
	nodes, err := s.Parse(src)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	last := nodes[len(nodes)-1]
	if !isExpression(last) {
		return nil, s.interp.Interpret(nodes)
	}
	if err := s.interp.Interpret(nodes[:len(nodes)-1]); err != nil {
		return nil, err
	}
	return s.interp.Eval(last)
}

func isExpression(n ast.Node) bool {
	switch n.(type) {
	case *ast.IntLiteral, *ast.FloatLiteral, *ast.BoolLiteral, *ast.StringLiteral,
		*ast.ArrayLiteral, *ast.Binary, *ast.Unary, *ast.VarRef, *ast.Index, *ast.Call:
		return true
	}
	return false
}

// Global returns a global of the session interpreter.
func (s *Session) Global(name string) (interp.Value, bool) {
	return s.interp.Global(name)
}

// Functions lists the functions declared in the session interpreter.
func (s *Session) Functions() []string {
	return s.interp.Functions()
}

// Reset discards interpreter state.
func (s *Session) Reset() {
	s.interp = interp.New(
		interp.WithOutput(s.out),
		interp.WithMaxCallDepth(s.cfg.Interpreter.MaxCallDepth),
	)
}

// Check runs the static checker over src without generating code.
func (s *Session) Check(src string) error {
	nodes, err := s.Parse(src)
	if err != nil {
		return err
	}
	return codegen.Check(nodes)
}

// IR returns the lowered intermediate form of src.
func (s *Session) IR(src string) (*ir.Program, error) {
	nodes, err := s.Parse(src)
	if err != nil {
		return nil, err
	}
	return codegen.LowerIR(nodes, s.cfg.Codegen.Optimize)
}

func (s *Session) options() codegen.Options {
	return s.cfg.CodegenOptions(s.out)
}

// Compile compiles src into a module bound to the session output. Results
// are served from the in-memory cache, then the persistent cache, before
// compiling afresh.
func (s *Session) Compile(src string) (*codegen.Module, error) {
	opts := s.options()
	key := buildcache.KeyFor(src, opts)
	if s.modules != nil {
		if m, ok := s.modules.Get(key); ok {
			s.log.Trace("Module cache hit", "key", key)
			return m.(*codegen.Module), nil
		}
	}
	if s.store != nil {
		m, ok, err := s.store.Module(key)
		if err != nil {
			s.log.Warn("Build cache read failed", "key", key, "err", err)
		}
		if ok {
			m.Config = opts.VM()
			s.remember(key, m)
			s.log.Debug("Loaded module from build cache", "key", key, "id", m.BuildID)
			return m, nil
		}
	}

	nodes, err := s.Parse(src)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	m, err := codegen.Compile(nodes, opts)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Compiled module", "functions", len(m.Program.Functions), "instructions", m.Program.Len(), "elapsed", time.Since(start))

	if s.store != nil {
		if obj, err := codegen.EncodeObject(m); err != nil {
			s.log.Warn("Failed to encode module for build cache", "err", err)
		} else if err := s.store.Put(key, obj); err != nil {
			s.log.Warn("Build cache write failed", "key", key, "err", err)
		}
	}
	s.remember(key, m)
	return m, nil
}

func (s *Session) remember(key buildcache.Key, m *codegen.Module) {
	if s.modules != nil {
		s.modules.Add(key, m)
	}
}

// CompileObject compiles src and serializes the result.
func (s *Session) CompileObject(src string) ([]byte, error) {
	m, err := s.Compile(src)
	if err != nil {
		return nil, err
	}
	return codegen.EncodeObject(m)
}

// Run compiles src and executes main, returning its result.
func (s *Session) Run(src string) (int64, error) {
	m, err := s.Compile(src)
	if err != nil {
		return 0, err
	}
	return s.Exec(m)
}

// Exec runs a compiled module's main with the session output and limits.
func (s *Session) Exec(m *codegen.Module) (int64, error) {
	m.Config = s.options().VM()
	start := time.Now()
	res, err := m.Entry()()
	s.log.Debug("Executed module", "id", m.BuildID, "result", res, "elapsed", time.Since(start), "err", err)
	return res, err
}
