// Copyright 2024 The Vira Authors
// This file is part of go-vira.
//
// go-vira is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/codegen"
)

var (
	rawFlag = cli.BoolFlag{
		Name:  "raw",
		Usage: "Dump the Go structures instead of source form",
	}

	tokensCommand = cli.Command{
		Action:    printTokens,
		Name:      "tokens",
		Usage:     "Print the token stream of a source file",
		ArgsUsage: "<file>",
		Category:  "INSPECTION COMMANDS",
	}
	astCommand = cli.Command{
		Action:    printAST,
		Name:      "ast",
		Usage:     "Print the syntax tree of a source file",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{rawFlag},
		Category:  "INSPECTION COMMANDS",
	}
	irCommand = cli.Command{
		Action:    printIR,
		Name:      "ir",
		Usage:     "Print the intermediate form of a source file",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{noOptimizeFlag},
		Category:  "INSPECTION COMMANDS",
	}
	disasmCommand = cli.Command{
		Action:    disassemble,
		Name:      "disasm",
		Usage:     "Disassemble a source or object file",
		ArgsUsage: "<file|object>",
		Flags:     []cli.Flag{noOptimizeFlag},
		Category:  "INSPECTION COMMANDS",
		Description: `
Files ending in .vo are loaded as objects, anything else is compiled first.`,
	}
)

func printTokens(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()

	table := tablewriter.NewWriter(ctx.App.Writer)
	table.SetHeader([]string{"Position", "Type", "Literal", "Spaced"})
	table.SetAutoWrapText(false)
	for _, tok := range s.Tokens(src) {
		table.Append([]string{tok.Pos.String(), tok.Type.String(), strconv.Quote(tok.Literal), strconv.FormatBool(tok.Spaced)})
	}
	table.Render()
	return nil
}

func printAST(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()
	nodes, err := s.Parse(src)
	if err != nil {
		return err
	}
	if ctx.Bool(rawFlag.Name) {
		cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
		cfg.Fdump(ctx.App.Writer, nodes)
		return nil
	}
	_, err = io.WriteString(ctx.App.Writer, ast.Program(nodes))
	return err
}

func printIR(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()
	prog, err := s.IR(src)
	if err != nil {
		return err
	}
	_, err = io.WriteString(ctx.App.Writer, prog.String())
	return err
}

func disassemble(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one file argument")
	}
	var (
		m   *codegen.Module
		err error
	)
	if filepath.Ext(ctx.Args().First()) == objectExt {
		m, err = codegen.LoadObject(ctx.Args().First())
	} else {
		var path, src string
		if path, src, err = readSource(ctx); err != nil {
			return err
		}
		s, release, serr := makeSession(ctx, path, ctx.App.Writer, true)
		if serr != nil {
			return serr
		}
		defer release()
		m, err = s.Compile(src)
	}
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	fmt.Fprintf(w, "; build %s, %d instructions, %d constants\n", m.BuildID, m.Program.Len(), len(m.Program.Constants))
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Function", "Entry", "Params", "Registers"})
	for _, fn := range m.Program.Functions {
		table.Append([]string{fn.Name, strconv.Itoa(fn.Entry), strconv.Itoa(fn.Params), strconv.Itoa(fn.Registers)})
	}
	table.Render()
	_, err = io.WriteString(w, m.Disassemble())
	return err
}
