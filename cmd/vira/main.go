// Copyright 2024 The Vira Authors
// This file is part of go-vira.
//
// go-vira is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// vira is the command line front end of the Vira toolchain.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"

	"github.com/vira-lang/go-vira/log"
)

const (
	clientIdentifier = "vira"
	versionMajor     = 0
	versionMinor     = 3
	versionPatch     = 0
)

var (
	// Git SHA1 commit hash of the release (set via linker flags).
	gitCommit = ""
	gitDate   = ""
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: int(log.LvlWarn),
	}
	cacheDirFlag = cli.StringFlag{
		Name:  "cachedir",
		Usage: "Directory of the persistent build cache",
	}
	noCacheFlag = cli.BoolFlag{
		Name:  "nocache",
		Usage: "Disable the module caches",
	}
	noOptimizeFlag = cli.BoolFlag{
		Name:  "noopt",
		Usage: "Disable IR optimizations",
	}
	gasFlag = cli.Uint64Flag{
		Name:  "gas",
		Usage: "Gas limit for compiled execution (0 = unlimited)",
	}
	depthFlag = cli.IntFlag{
		Name:  "depth",
		Usage: "Maximum call depth for both backends",
	}
	outputFlag = cli.StringFlag{
		Name:  "output, o",
		Usage: "Object file to write",
	}

	buildFlags = []cli.Flag{
		noOptimizeFlag,
		gasFlag,
		depthFlag,
	}
)

func version() string {
	v := fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
	if len(gitCommit) >= 8 {
		v += "-" + gitCommit[:8]
	}
	return v
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Usage = "the Vira language toolchain"
	app.Version = version()
	app.Copyright = "Copyright 2024 The Vira Authors"
	app.HideVersion = true // the version command covers it
	app.Flags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		cacheDirFlag,
		noCacheFlag,
	}
	app.Commands = []cli.Command{
		runCommand,
		jitCommand,
		compileCommand,
		execCommand,
		replCommand,
		checkCommand,
		tokensCommand,
		astCommand,
		irCommand,
		disasmCommand,
		testCommand,
		dumpConfigCommand,
		versionCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		lvl := log.Lvl(ctx.GlobalInt(verbosityFlag.Name))
		if !ctx.GlobalIsSet(verbosityFlag.Name) && ctx.GlobalString(configFileFlag.Name) != "" {
			cfg, err := makeConfig(ctx)
			if err != nil {
				return err
			}
			lvl = log.Lvl(cfg.Log.Verbosity)
		}
		log.Root().SetHandler(log.TerminalHandler(lvl))
		return nil
	}
	return app
}

var versionCommand = cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Category:  "MISCELLANEOUS COMMANDS",
	Description: `
The output of this command is supposed to be machine-readable.
`,
}

func printVersion(ctx *cli.Context) error {
	w := ctx.App.Writer
	fmt.Fprintln(w, "Vira")
	fmt.Fprintln(w, "Version:", version())
	if gitCommit != "" {
		fmt.Fprintln(w, "Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Fprintln(w, "Git Commit Date:", gitDate)
	}
	fmt.Fprintln(w, "Architecture:", runtime.GOARCH)
	fmt.Fprintln(w, "Go Version:", runtime.Version())
	fmt.Fprintln(w, "Operating System:", runtime.GOOS)
	return nil
}

// Fatalf formats a message to standard error and exits the program.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, color.RedString("Fatal: ")+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		Fatalf("%v", err)
	}
}
