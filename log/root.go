// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package log

import "os"

var (
	root = &logger{[]interface{}{}, new(swapHandler)}

	// exit is swapped out by tests exercising Crit.
	exit   = osExit
	osExit = os.Exit
)

// skipLevel is the stack depth from a logging call to its caller.
const skipLevel = 2

func init() {
	root.SetHandler(DiscardHandler())
}

// New returns a logger derived from the root logger.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// Root returns the root logger.
func Root() Logger {
	return root
}

// The following call the root logger. The call site recorded is the caller
// of these helpers.

func Trace(msg string, ctx ...interface{}) { root.write(msg, LvlTrace, ctx, skipLevel) }
func Debug(msg string, ctx ...interface{}) { root.write(msg, LvlDebug, ctx, skipLevel) }
func Info(msg string, ctx ...interface{})  { root.write(msg, LvlInfo, ctx, skipLevel) }
func Warn(msg string, ctx ...interface{})  { root.write(msg, LvlWarn, ctx, skipLevel) }
func Error(msg string, ctx ...interface{}) { root.write(msg, LvlError, ctx, skipLevel) }

// Crit logs at the critical level and exits with status 1.
func Crit(msg string, ctx ...interface{}) {
	root.write(msg, LvlCrit, ctx, skipLevel)
	exit(1)
}
