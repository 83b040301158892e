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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/vira-lang/go-vira/console"
	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/log"
)

const (
	sourceExt = ".vira"
	objectExt = ".vo"
)

var (
	runCommand = cli.Command{
		Action:    runFile,
		Name:      "run",
		Usage:     "Interpret a source file",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{depthFlag},
		Category:  "EXECUTION COMMANDS",
		Description: `
The run command executes a program with the tree-walking interpreter.`,
	}
	jitCommand = cli.Command{
		Action:    jitFile,
		Name:      "jit",
		Usage:     "Compile a source file and execute it in process",
		ArgsUsage: "<file>",
		Flags:     buildFlags,
		Category:  "EXECUTION COMMANDS",
		Description: `
The jit command compiles a program to bytecode and runs it in the VM. Output
matches the run command for every program the compiler accepts.`,
	}
	compileCommand = cli.Command{
		Action:    compileFile,
		Name:      "compile",
		Usage:     "Compile a source file to an object file",
		ArgsUsage: "<file>",
		Flags:     append([]cli.Flag{outputFlag}, buildFlags...),
		Category:  "BUILD COMMANDS",
		Description: `
The compile command writes a relocatable object next to the source file, or
to the path given with --output.`,
	}
	execCommand = cli.Command{
		Action:    execObject,
		Name:      "exec",
		Usage:     "Execute an object file",
		ArgsUsage: "<object>",
		Flags:     []cli.Flag{gasFlag, depthFlag},
		Category:  "EXECUTION COMMANDS",
	}
	checkCommand = cli.Command{
		Action:    checkFile,
		Name:      "check",
		Usage:     "Type check a source file",
		ArgsUsage: "<file>",
		Category:  "BUILD COMMANDS",
	}
	replCommand = cli.Command{
		Action:   startRepl,
		Name:     "repl",
		Usage:    "Start an interactive session",
		Flags:    []cli.Flag{depthFlag},
		Category: "EXECUTION COMMANDS",
	}
)

// readSource returns the single file argument and its contents.
func readSource(ctx *cli.Context) (string, string, error) {
	if ctx.NArg() != 1 {
		return "", "", errors.New("expected exactly one file argument")
	}
	path := ctx.Args().First()
	src, err := ioutil.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return path, string(src), nil
}

func runFile(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()
	return s.Interpret(src)
}

func jitFile(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, true)
	if err != nil {
		return err
	}
	defer release()
	res, err := s.Run(src)
	if err != nil {
		return err
	}
	log.Info("Program finished", "result", res)
	return nil
}

func objectPath(ctx *cli.Context, source string) string {
	if out := ctx.String("output"); out != "" {
		return out
	}
	return strings.TrimSuffix(source, filepath.Ext(source)) + objectExt
}

func compileFile(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, true)
	if err != nil {
		return err
	}
	defer release()
	obj, err := s.CompileObject(src)
	if err != nil {
		return err
	}
	out := objectPath(ctx, path)
	if err := ioutil.WriteFile(out, obj, 0644); err != nil {
		return err
	}
	log.Info("Wrote object file", "path", out, "size", len(obj))
	return nil
}

func execObject(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one object file")
	}
	path := ctx.Args().First()
	m, err := codegen.LoadObject(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()
	res, err := s.Exec(m)
	if err != nil {
		return err
	}
	log.Info("Program finished", "id", m.BuildID, "result", res)
	return nil
}

func checkFile(ctx *cli.Context) error {
	path, src, err := readSource(ctx)
	if err != nil {
		return err
	}
	s, release, err := makeSession(ctx, path, ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()
	if err := s.Check(src); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s: ok\n", path)
	return nil
}

func startRepl(ctx *cli.Context) error {
	s, release, err := makeSession(ctx, "<repl>", ctx.App.Writer, false)
	if err != nil {
		return err
	}
	defer release()

	var datadir string
	if dir, err := os.UserCacheDir(); err == nil {
		datadir = filepath.Join(dir, "vira")
		if err := os.MkdirAll(datadir, 0700); err != nil {
			log.Warn("Console history disabled", "err", err)
			datadir = ""
		}
	}
	c, err := console.New(console.Config{
		DataDir: datadir,
		Session: s,
		Printer: ctx.App.Writer,
	})
	if err != nil {
		return err
	}
	c.Welcome()
	c.Interactive()
	return c.Stop()
}
