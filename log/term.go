// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package log

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// UseColor reports whether f is a terminal that understands ANSI colors.
func UseColor(f *os.File) bool {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return tty && os.Getenv("TERM") != "dumb"
}

// TerminalHandler writes records at lvl or more severe to stderr in the
// terminal format, colored when stderr is a color terminal.
func TerminalHandler(lvl Lvl) Handler {
	usecolor := UseColor(os.Stderr)
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	return LvlFilterHandler(lvl, StreamHandler(output, TerminalFormat(usecolor)))
}
