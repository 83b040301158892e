// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package console implements the interactive Vira read-eval-print loop.
package console

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/vira-lang/go-vira/engine"
	"github.com/vira-lang/go-vira/lang/interp"
	"github.com/vira-lang/go-vira/lang/lexer"
	"github.com/vira-lang/go-vira/lang/token"
	"github.com/vira-lang/go-vira/log"
)

// HistoryFile is the file within the data directory to store input scrollback.
const HistoryFile = "history"

// DefaultPrompt is the default prompt line prefix to use for user input querying.
const DefaultPrompt = "> "

const continuePrompt = "... "

var (
	errorColor  = color.New(color.FgRed).SprintFunc()
	resultColor = color.New(color.FgCyan).SprintFunc()
	bannerColor = color.New(color.FgGreen, color.Bold).SprintFunc()
)

// Config is the collection of configurations to fine tune the behavior of the
// console.
type Config struct {
	DataDir  string          // Data directory to store the console history at
	Session  *engine.Session // Session evaluating the input
	Prompt   string          // Input prompt prefix string (defaults to DefaultPrompt)
	Prompter UserPrompter    // Input prompter to allow interactive user feedback (defaults to Stdin)
	Printer  io.Writer       // Output writer to serialize any display strings to (defaults to color.Output)
}

// Console is an interactive Vira session.
type Console struct {
	session  *engine.Session
	prompt   string
	prompter UserPrompter
	histPath string
	history  []string
	printer  io.Writer
}

// New initializes a console with the given configuration.
func New(config Config) (*Console, error) {
	if config.Session == nil {
		return nil, errors.New("console: no session")
	}
	if config.Prompter == nil {
		config.Prompter = Stdin
	}
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.Printer == nil {
		config.Printer = color.Output
	}
	c := &Console{
		session:  config.Session,
		prompt:   config.Prompt,
		prompter: config.Prompter,
		printer:  config.Printer,
	}
	if config.DataDir != "" {
		c.histPath = filepath.Join(config.DataDir, HistoryFile)
	}
	c.loadHistory()
	c.prompter.SetWordCompleter(c.complete)
	return c, nil
}

func (c *Console) loadHistory() {
	if c.histPath == "" {
		return
	}
	content, err := ioutil.ReadFile(c.histPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read console history", "path", c.histPath, "err", err)
		}
		return
	}
	c.history = strings.Split(strings.TrimSpace(string(content)), "\n")
	c.prompter.SetHistory(c.history)
}

// complete offers declared functions and globals for the word under the
// cursor.
func (c *Console) complete(line string, pos int) (string, []string, string) {
	if len(line) == 0 || pos == 0 {
		return "", nil, ""
	}
	start := pos - 1
	for ; start > 0; start-- {
		if !isWordChar(line[start-1]) {
			break
		}
	}
	prefix := line[start:pos]
	if prefix == "" {
		return "", nil, ""
	}
	var candidates []string
	for _, name := range c.session.Functions() {
		if strings.HasPrefix(name, prefix) {
			candidates = append(candidates, name+"(")
		}
	}
	sort.Strings(candidates)
	return line[:start], candidates, line[pos:]
}

func isWordChar(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
}

// Welcome shows a summary of the console.
func (c *Console) Welcome() {
	fmt.Fprintln(c.printer, bannerColor("Welcome to the Vira console!"))
	fmt.Fprintln(c.printer)
	fmt.Fprintln(c.printer, "Type :help for commands, exit to quit.")
	fmt.Fprintln(c.printer)
}

// Evaluate runs one complete input and prints its result or error.
func (c *Console) Evaluate(statement string) {
	v, err := c.session.Eval(statement)
	if err != nil {
		fmt.Fprintln(c.printer, errorColor("error: "+err.Error()))
		return
	}
	if v != nil {
		fmt.Fprintln(c.printer, resultColor(interp.Format(v)))
	}
}

// command handles a console directive and reports whether the console
// should keep running.
func (c *Console) command(input string) bool {
	switch input {
	case "exit", ":quit", ":q":
		return false
	case ":reset":
		c.session.Reset()
		fmt.Fprintln(c.printer, "state cleared")
	case ":funcs":
		names := c.session.Functions()
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(c.printer, name)
		}
	case ":help":
		fmt.Fprintln(c.printer, "  :funcs   list declared functions")
		fmt.Fprintln(c.printer, "  :reset   discard globals and functions")
		fmt.Fprintln(c.printer, "  :quit    leave the console (also exit)")
	default:
		fmt.Fprintln(c.printer, errorColor("unknown command "+input))
	}
	return true
}

// Interactive reads input until exit or end of input. Blocks that are still
// open continue on the next line.
func (c *Console) Interactive() {
	var (
		input  string
		indent int
	)
	for {
		prompt := c.prompt
		if indent > 0 {
			prompt = continuePrompt + strings.Repeat("  ", indent-1)
		}
		line, err := c.prompter.PromptInput(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			// Ctrl-C drops the pending input.
			input, indent = "", 0
			continue
		case err != nil:
			if !errors.Is(err, io.EOF) {
				log.Error("Console input failed", "err", err)
			}
			return
		}
		trimmed := strings.TrimSpace(line)
		if indent == 0 && trimmed == "" {
			continue
		}
		if indent == 0 && (trimmed == "exit" || strings.HasPrefix(trimmed, ":")) {
			c.addHistory(trimmed)
			if !c.command(trimmed) {
				return
			}
			continue
		}
		input += line + "\n"
		if indent = countIndents(input); indent > 0 {
			continue
		}
		c.addHistory(strings.TrimSpace(input))
		c.Evaluate(input)
		input = ""
	}
}

func (c *Console) addHistory(entry string) {
	if len(c.history) == 0 || entry != c.history[len(c.history)-1] {
		c.history = append(c.history, entry)
		c.prompter.AppendHistory(entry)
	}
}

// countIndents returns the number of blocks left open in input.
func countIndents(input string) int {
	depth := 0
	for _, tok := range lexer.Tokenize(input) {
		switch {
		case tok.Type.IsBlockOpen():
			depth++
		case tok.Type.IsBlockClose():
			depth--
		case tok.Type == token.EOF:
			if depth < 0 {
				return 0
			}
			return depth
		}
	}
	return depth
}

// Stop writes the history file and restores the terminal.
func (c *Console) Stop() error {
	if c.histPath != "" {
		if err := ioutil.WriteFile(c.histPath, []byte(strings.Join(c.history, "\n")), 0600); err != nil {
			return err
		}
		if err := os.Chmod(c.histPath, 0600); err != nil {
			return err
		}
	}
	return c.prompter.Close()
}
