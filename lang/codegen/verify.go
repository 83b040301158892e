// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegen

import (
	"fmt"

	"github.com/vira-lang/go-vira/lang/vm"
)

// VerifyError describes a bytecode verification failure.
type VerifyError struct {
	Offset  int // instruction index
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at instruction %d: %s", e.Offset, e.Message)
}

// Verify checks a program for structural safety violations, independent of
// the compiler that produced it:
//  1. Every opcode is defined and the code is whole instructions
//  2. Constant, global, function and type indices are in range
//  3. Jump targets stay inside the jumping function
//  4. Every function ends with return, halt or jump
func Verify(prog *vm.Program) []VerifyError {
	var errs []VerifyError
	fail := func(at int, format string, args ...interface{}) {
		errs = append(errs, VerifyError{Offset: at, Message: fmt.Sprintf(format, args...)})
	}

	if len(prog.Code)%4 != 0 {
		fail(len(prog.Code)/4, "truncated instruction")
		return errs
	}
	n := prog.Len()

	// Function extents, in code order.
	bounds := make([][2]int, len(prog.Functions))
	for i, fn := range prog.Functions {
		end := n
		for _, other := range prog.Functions {
			if other.Entry > fn.Entry && other.Entry < end {
				end = other.Entry
			}
		}
		if fn.Entry < 0 || fn.Entry >= n {
			fail(fn.Entry, "function %s entry out of bounds", fn.Name)
			end = fn.Entry
		}
		bounds[i] = [2]int{fn.Entry, end}
	}

	for fi, fn := range prog.Functions {
		start, end := bounds[fi][0], bounds[fi][1]
		if start >= end {
			continue
		}
		for at := start; at < end; at++ {
			op, _, _, _, imm := vm.Decode(prog.Code[at*4:])
			if !op.Valid() {
				fail(at, "unknown opcode: %d", uint8(op))
				continue
			}
			switch op {
			case vm.OpLoadConst:
				if int(imm) >= len(prog.Constants) {
					fail(at, "constant index %d out of bounds (pool size %d)", imm, len(prog.Constants))
				}
			case vm.OpLoadGlobal, vm.OpStoreGlobal:
				if int(imm) >= len(prog.Globals) {
					fail(at, "global index %d out of bounds", imm)
				}
			case vm.OpCall, vm.OpDefineFunc, vm.OpCheckFunc:
				if int(imm) >= len(prog.Functions) {
					fail(at, "function index %d out of bounds", imm)
				} else if op == vm.OpCall && imm == 0 {
					fail(at, "call to the entry function")
				}
			case vm.OpWrite:
				if int(imm) >= len(prog.Types) {
					fail(at, "type index %d out of bounds", imm)
				}
			case vm.OpJump, vm.OpJumpIf, vm.OpJumpIfNot:
				if int(imm) < start || int(imm) >= end {
					fail(at, "jump target %d outside %s", imm, fn.Name)
				}
			}
		}

		last := vm.Opcode(prog.Code[(end-1)*4])
		if last != vm.OpReturn && last != vm.OpHalt && last != vm.OpJump {
			fail(end-1, "function %s does not end with return, halt, or jump", fn.Name)
		}
	}
	return errs
}
