// Copyright 2024 The Vira Authors
// This file is part of go-vira.
//
// go-vira is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/vira-lang/go-vira/engine"
	"github.com/vira-lang/go-vira/engine/buildcache"
	"github.com/vira-lang/go-vira/engine/viraconfig"
	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/log"
)

const (
	expectOutExt = ".out" // expected output
	expectErrExt = ".err" // expected error substring
)

var testCommand = cli.Command{
	Action:    runTests,
	Name:      "test",
	Usage:     "Run the programs of a directory against expected output",
	ArgsUsage: "<dir>",
	Flags:     buildFlags,
	Category:  "BUILD COMMANDS",
	Description: `
Every *.vira file with a sibling .out file is a test case. It is run by the
interpreter and by the compiler, and both outputs must equal the .out file.
A sibling .err file holds text the reported error must contain. Programs the
compiler does not support are skipped for the compiled run.`,
}

type testCase struct {
	name     string
	source   string
	wantOut  string
	wantErr  string
	interp   string // per-backend result
	compiled string
	failures []string
}

const (
	resultPass = "PASS"
	resultFail = "FAIL"
	resultSkip = "SKIP"
)

func (tc *testCase) failed() bool { return len(tc.failures) > 0 }

// collectTests finds the test cases below dir in name order.
func collectTests(dir string) ([]*testCase, error) {
	var cases []*testCase
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != sourceExt {
			return err
		}
		base := strings.TrimSuffix(path, sourceExt)
		want, err := ioutil.ReadFile(base + expectOutExt)
		if os.IsNotExist(err) {
			log.Debug("Skipping file without expected output", "path", path)
			return nil
		} else if err != nil {
			return err
		}
		src, err := ioutil.ReadFile(path)
		if err != nil {
			return err
		}
		tc := &testCase{name: path, source: string(src), wantOut: string(want)}
		if msg, err := ioutil.ReadFile(base + expectErrExt); err == nil {
			tc.wantErr = strings.TrimSpace(string(msg))
		}
		cases = append(cases, tc)
		return nil
	})
	sort.Slice(cases, func(i, j int) bool { return cases[i].name < cases[j].name })
	return cases, err
}

// checkRun compares one backend's output and error with the expectations.
func (tc *testCase) checkRun(backend string, out string, err error) string {
	var problems []string
	if out != tc.wantOut {
		problems = append(problems, fmt.Sprintf("%s: output %q, want %q", backend, out, tc.wantOut))
	}
	switch {
	case err == nil && tc.wantErr != "":
		problems = append(problems, fmt.Sprintf("%s: no error, want %q", backend, tc.wantErr))
	case err != nil && (tc.wantErr == "" || !strings.Contains(err.Error(), tc.wantErr)):
		problems = append(problems, fmt.Sprintf("%s: %v", backend, err))
	}
	if len(problems) > 0 {
		tc.failures = append(tc.failures, problems...)
		return resultFail
	}
	return resultPass
}

func (tc *testCase) run(cfg viraconfig.Config, store *buildcache.Cache) error {
	var out bytes.Buffer
	opts := []engine.Option{engine.WithFilename(tc.name), engine.WithOutput(&out)}
	if store != nil {
		opts = append(opts, engine.WithBuildCache(store))
	}
	s, err := engine.NewSession(cfg, opts...)
	if err != nil {
		return err
	}
	err = s.Interpret(tc.source)
	tc.interp = tc.checkRun("interp", out.String(), err)

	out.Reset()
	m, err := s.Compile(tc.source)
	var unsupported *codegen.UnsupportedError
	switch {
	case errors.As(err, &unsupported):
		log.Debug("Compiled run skipped", "file", tc.name, "reason", err)
		tc.compiled = resultSkip
		return nil
	case err != nil:
		tc.compiled = tc.checkRun("compiled", "", err)
		return nil
	}
	_, err = s.Exec(m)
	tc.compiled = tc.checkRun("compiled", out.String(), err)
	return nil
}

func runTests(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one directory")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	cases, err := collectTests(ctx.Args().First())
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("no test cases in %s", ctx.Args().First())
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, tc := range cases {
		tc := tc
		g.Go(func() error { return tc.run(cfg, store) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return reportTests(ctx, cases)
}

func reportTests(ctx *cli.Context, cases []*testCase) error {
	w := ctx.App.Writer
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Interp", "Compiled"})
	failed := 0
	for _, tc := range cases {
		table.Append([]string{tc.name, tc.interp, tc.compiled})
		if tc.failed() {
			failed++
		}
	}
	table.Render()
	for _, tc := range cases {
		for _, f := range tc.failures {
			fmt.Fprintf(w, "--- %s: %s\n", tc.name, f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tests failed", failed, len(cases))
	}
	fmt.Fprintf(w, "ok, %d tests passed\n", len(cases))
	return nil
}
