// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package viraconfig contains the configuration of the Vira toolchain.
package viraconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/lang/interp"
	"github.com/vira-lang/go-vira/lang/vm"
	"github.com/vira-lang/go-vira/log"
)

// InterpreterConfig tunes the tree-walking interpreter.
type InterpreterConfig struct {
	MaxCallDepth int
}

// CodegenConfig tunes the bytecode compiler.
type CodegenConfig struct {
	Optimize bool
	Verify   bool
	PageSize int `toml:",omitempty"`
}

// VMConfig tunes execution of compiled modules.
type VMConfig struct {
	GasLimit     uint64
	MaxCallDepth int
}

// CacheConfig controls the compile caches.
type CacheConfig struct {
	Enabled bool
	Dir     string `toml:",omitempty"` // persistent object cache; empty disables it
	Entries int    // in-memory modules kept per session
}

// LogConfig controls diagnostics.
type LogConfig struct {
	Verbosity int // 0=crit .. 5=trace
}

// Config is the complete toolchain configuration.
type Config struct {
	Interpreter InterpreterConfig
	Codegen     CodegenConfig
	VM          VMConfig
	Cache       CacheConfig
	Log         LogConfig
}

// Defaults contains the default settings.
var Defaults = Config{
	Interpreter: InterpreterConfig{MaxCallDepth: interp.DefaultMaxCallDepth},
	Codegen:     CodegenConfig{Optimize: true, Verify: true},
	VM:          VMConfig{MaxCallDepth: vm.DefaultMaxCallDepth},
	Cache:       CacheConfig{Enabled: true, Entries: 64},
	Log:         LogConfig{Verbosity: int(log.LvlWarn)},
}

// CodegenOptions converts the settings into compiler options.
func (c *Config) CodegenOptions(out io.Writer) codegen.Options {
	return codegen.Options{
		Optimize:     c.Codegen.Optimize,
		Verify:       c.Codegen.Verify,
		PageSize:     c.Codegen.PageSize,
		GasLimit:     c.VM.GasLimit,
		MaxCallDepth: c.VM.MaxCallDepth,
		Output:       out,
	}
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Load reads a TOML file over cfg. Fields absent from the file keep their
// current values.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = Decode(bufio.NewReader(f), cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// Decode reads TOML from r over cfg.
func Decode(r io.Reader, cfg *Config) error {
	return tomlSettings.NewDecoder(r).Decode(cfg)
}

// Marshal renders cfg as TOML.
func Marshal(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}

// DefaultCacheDir returns the per-user object cache directory.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vira", "objects")
}
