// Copyright 2024 The Vira Authors
// This file is part of go-vira.
//
// go-vira is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"io"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/vira-lang/go-vira/engine"
	"github.com/vira-lang/go-vira/engine/buildcache"
	"github.com/vira-lang/go-vira/engine/viraconfig"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "[dumpfile]",
	Flags:       buildFlags,
	Category:    "MISCELLANEOUS COMMANDS",
	Description: `The dumpconfig command shows configuration values.`,
}

// makeConfig loads the configuration file, if any, over the defaults and
// applies command line flags.
func makeConfig(ctx *cli.Context) (viraconfig.Config, error) {
	cfg := viraconfig.Defaults
	cfg.Cache.Dir = viraconfig.DefaultCacheDir()

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := viraconfig.Load(file, &cfg); err != nil {
			return cfg, err
		}
	}

	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.GlobalInt(verbosityFlag.Name)
	}
	if ctx.GlobalIsSet(cacheDirFlag.Name) {
		cfg.Cache.Dir = ctx.GlobalString(cacheDirFlag.Name)
	}
	if ctx.GlobalBool(noCacheFlag.Name) {
		cfg.Cache.Enabled = false
	}
	if ctx.Bool(noOptimizeFlag.Name) {
		cfg.Codegen.Optimize = false
	}
	if ctx.IsSet(gasFlag.Name) {
		cfg.VM.GasLimit = ctx.Uint64(gasFlag.Name)
	}
	if ctx.IsSet(depthFlag.Name) {
		depth := ctx.Int(depthFlag.Name)
		cfg.Interpreter.MaxCallDepth = depth
		cfg.VM.MaxCallDepth = depth
	}
	return cfg, nil
}

// openStore opens the persistent build cache, or returns nil when it is
// disabled.
func openStore(cfg viraconfig.Config) (*buildcache.Cache, error) {
	if !cfg.Cache.Enabled || cfg.Cache.Dir == "" {
		return nil, nil
	}
	return buildcache.Open(cfg.Cache.Dir)
}

// makeSession creates a session for one source file writing to out. Sessions
// that compile get the persistent cache; the returned function releases it.
func makeSession(ctx *cli.Context, filename string, out io.Writer, compiles bool) (*engine.Session, func(), error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := []engine.Option{engine.WithFilename(filename), engine.WithOutput(out)}
	release := func() {}
	if compiles {
		store, err := openStore(cfg)
		if err != nil {
			return nil, nil, err
		}
		if store != nil {
			opts = append(opts, engine.WithBuildCache(store))
			release = func() { store.Close() }
		}
	}
	s, err := engine.NewSession(cfg, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := viraconfig.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}
