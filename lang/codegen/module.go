// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegen

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/ir"
	"github.com/vira-lang/go-vira/lang/sema"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/lang/vm"
)

// UnsupportedError reports a program the generator cannot lower faithfully.
// Nothing is produced when it is returned.
type UnsupportedError struct {
	Pos token.Position // zero when the construct has no single location
	Msg string
}

func (e *UnsupportedError) Error() string {
	if e.Pos.Line == 0 {
		return "unsupported construct: " + e.Msg
	}
	return fmt.Sprintf("%s: unsupported construct: %s", e.Pos, e.Msg)
}

// Options controls compilation.
type Options struct {
	Optimize bool // run IR constant folding, CSE and dead-code elimination
	Verify   bool // verify bytecode before returning it
	PageSize int  // data section page size; 0 selects the arena default

	// Execution settings recorded in the module.
	GasLimit     uint64
	MaxCallDepth int
	Output       io.Writer
}

// DefaultOptions are used by tools that do not configure compilation.
var DefaultOptions = Options{Optimize: true, Verify: true}

// EntryPoint runs a compiled main and returns its result.
type EntryPoint func() (int64, error)

// Module is a compiled program.
type Module struct {
	Program *vm.Program
	IR      *ir.Program // nil for modules decoded from objects
	BuildID uuid.UUID
	Config  vm.Config
}

// Entry returns a function running main in a fresh VM on each call.
func (m *Module) Entry() EntryPoint {
	return func() (int64, error) {
		machine, err := vm.New(m.Program, m.Config)
		if err != nil {
			return 0, err
		}
		res, err := machine.Run()
		if err != nil {
			return 0, err
		}
		return int64(res), nil
	}
}

// Disassemble renders the module's bytecode.
func (m *Module) Disassemble() string {
	return m.Program.Disassemble()
}

// Compile checks and compiles nodes into a module ready to run in process.
func Compile(nodes []ast.Node, opts Options) (*Module, error) {
	prog, irProg, err := build(nodes, opts)
	if err != nil {
		return nil, err
	}
	return &Module{
		Program: prog,
		IR:      irProg,
		BuildID: uuid.New(),
		Config:  opts.VM(),
	}, nil
}

// Object compiles nodes to the bytes of an object file.
func Object(nodes []ast.Node, opts Options) ([]byte, error) {
	m, err := Compile(nodes, opts)
	if err != nil {
		return nil, err
	}
	return EncodeObject(m)
}

// LowerIR checks nodes and returns their IR without generating bytecode.
func LowerIR(nodes []ast.Node, optimize bool) (*ir.Program, error) {
	info, err := check(nodes)
	if err != nil {
		return nil, err
	}
	prog, err := Lower(nodes, info)
	if err != nil {
		return nil, err
	}
	if optimize {
		ir.Optimize(prog)
	}
	return prog, nil
}

// Check reports whether nodes are accepted by the compiler without
// generating code.
func Check(nodes []ast.Node) error {
	_, err := check(nodes)
	return err
}

// VM returns the execution settings recorded in a module built with o.
func (o Options) VM() vm.Config {
	return vm.Config{
		GasLimit:     o.GasLimit,
		MaxCallDepth: o.MaxCallDepth,
		Output:       o.Output,
	}
}

func check(nodes []ast.Node) (*sema.Info, error) {
	info, err := sema.Check(nodes)
	if err != nil {
		var serr *sema.Error
		if errors.As(err, &serr) && serr.Unsupported {
			return nil, &UnsupportedError{Pos: serr.Pos, Msg: serr.Msg}
		}
		return nil, err
	}
	return info, nil
}

func build(nodes []ast.Node, opts Options) (*vm.Program, *ir.Program, error) {
	irProg, err := LowerIR(nodes, opts.Optimize)
	if err != nil {
		return nil, nil, err
	}
	prog, err := New(opts.PageSize).Generate(irProg)
	if err != nil {
		return nil, nil, err
	}
	if opts.Verify {
		if errs := Verify(prog); len(errs) > 0 {
			return nil, nil, fmt.Errorf("codegen: %w", &errs[0])
		}
	}
	return prog, irProg, nil
}
