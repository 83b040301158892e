// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ir defines the SSA-form Intermediate Representation for Vira.
//
// The IR sits between the checked AST and bytecode generation. Source
// variables are turned into SSA values while the IR is built (see Builder),
// so there are no loads or stores for locals; only globals shared with
// functions go through explicit slot instructions.
package ir

import (
	"fmt"
	"strings"

	"github.com/vira-lang/go-vira/lang/types"
)

// Program is a complete IR program.
type Program struct {
	Functions []*Function
	Constants []Constant
	Types     []types.Type // type table referenced by OpWrite and OpArrayNew
	Globals   []string     // global slot names, indexed by slot
}

// Function represents a single function in SSA form.
type Function struct {
	Name       string
	Index      int
	Params     []Value
	ReturnType types.Type
	Blocks     []*BasicBlock
	NumValues  int // number of SSA values allocated
}

// BasicBlock is a straight-line sequence of instructions with a terminator.
// Phi instructions come first and have one operand per predecessor, in
// Preds order.
type BasicBlock struct {
	ID           int
	Label        string
	Instructions []*Instruction
	Terminator   Terminator
	Preds        []*BasicBlock
	Succs        []*BasicBlock

	sealed     bool
	incomplete map[string]*Instruction // phis awaiting operands until sealed
}

// Sealed reports whether all predecessors of the block are known.
func (bb *BasicBlock) Sealed() bool { return bb.sealed }

// Phis returns the leading phi instructions of the block.
func (bb *BasicBlock) Phis() []*Instruction {
	n := 0
	for n < len(bb.Instructions) && bb.Instructions[n].Op == OpPhi {
		n++
	}
	return bb.Instructions[:n]
}

func (bb *BasicBlock) String() string {
	return fmt.Sprintf("%s.%d", bb.Label, bb.ID)
}

// Value represents an SSA value (virtual register).
type Value struct {
	ID   int
	Type types.Type
	Name string // optional debug name
}

// NoValue marks instructions without a result.
var NoValue = Value{ID: -1}

// Valid reports whether v names a real value.
func (v Value) Valid() bool { return v.ID >= 0 }

func (v Value) String() string {
	if v.Name != "" {
		return fmt.Sprintf("%%%s.%d", v.Name, v.ID)
	}
	return fmt.Sprintf("%%v%d", v.ID)
}

// Constant represents a compile-time constant.
type Constant struct {
	Type  types.Type
	Value interface{} // int64, float64, bool or string
}

func (c Constant) String() string {
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", c.Value)
}

// Op is an SSA instruction opcode. Arithmetic and comparison opcodes are
// generic; the operand type selects the machine operation.
type Op int

const (
	// Arithmetic (int, float; OpAdd also concatenates strings)
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Comparison (result is bool)
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte

	// Logical (operands are bool; both always evaluated)
	OpLogAnd
	OpLogOr
	OpLogNot

	// Value operations
	OpConst // load constant
	OpCopy  // plain copy
	OpPhi   // SSA phi function

	// Arrays
	OpArrayNew // build an array from the operands; Index is the type id
	OpIndex    // element Operands[1] of array Operands[0], bounds-checked

	// Globals
	OpLoadGlobal  // read slot Index; faults if the slot was never stored
	OpStoreGlobal // store Operands[0] in slot Index

	// Calls
	OpCall       // call function Index with the operands as arguments
	OpDefineFunc // mark function Index as declared
	OpCheckFunc  // fault unless function Index is declared

	// Output
	OpWrite // print Operands[0] rendered by type id Index
)

var opNames = map[Op]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpNeg: "neg",
	OpEq: "eq", OpNeq: "neq", OpLt: "lt", OpLte: "lte", OpGt: "gt", OpGte: "gte",
	OpLogAnd: "land", OpLogOr: "lor", OpLogNot: "lnot",
	OpConst: "const", OpCopy: "copy", OpPhi: "phi",
	OpArrayNew: "arraynew", OpIndex: "index",
	OpLoadGlobal: "gload", OpStoreGlobal: "gstore",
	OpCall: "call", OpDefineFunc: "defn", OpCheckFunc: "chkfn",
	OpWrite: "write",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// HasSideEffects reports whether an instruction with this op must be kept
// even when its result is unused. Ops that can fault count as effects.
func (op Op) HasSideEffects() bool {
	switch op {
	case OpDiv, OpMod, OpIndex, OpLoadGlobal, OpStoreGlobal,
		OpCall, OpDefineFunc, OpCheckFunc, OpWrite:
		return true
	}
	return false
}

// Instruction is a single SSA instruction.
type Instruction struct {
	Op       Op
	Result   Value   // destination value; NoValue when there is none
	Operands []Value // source values
	ConstIdx int     // index into constant pool (for OpConst)
	Index    int     // function, slot or type id, depending on Op
	Var      string  // source variable a phi merges
}

func (inst *Instruction) String() string {
	var b strings.Builder
	if inst.Result.Valid() {
		fmt.Fprintf(&b, "%s = ", inst.Result)
	}
	b.WriteString(inst.Op.String())
	for _, op := range inst.Operands {
		b.WriteString(" ")
		b.WriteString(op.String())
	}
	switch inst.Op {
	case OpConst:
		fmt.Fprintf(&b, " $%d", inst.ConstIdx)
	case OpArrayNew, OpLoadGlobal, OpStoreGlobal, OpCall, OpDefineFunc, OpCheckFunc, OpWrite:
		fmt.Fprintf(&b, " #%d", inst.Index)
	}
	return b.String()
}

// Terminator ends a basic block.
type Terminator interface {
	terminator()
	String() string
}

// TermReturn returns a value from the function.
type TermReturn struct {
	Value *Value // nil returns integer zero
}

func (t *TermReturn) terminator() {}
func (t *TermReturn) String() string {
	if t.Value != nil {
		return fmt.Sprintf("ret %s", t.Value)
	}
	return "ret 0"
}

// TermBranch unconditionally branches to a block.
type TermBranch struct {
	Target *BasicBlock
}

func (t *TermBranch) terminator() {}
func (t *TermBranch) String() string {
	return fmt.Sprintf("br %s", t.Target)
}

// TermCondBranch conditionally branches.
type TermCondBranch struct {
	Cond     Value
	TrueBlk  *BasicBlock
	FalseBlk *BasicBlock
}

func (t *TermCondBranch) terminator() {}
func (t *TermCondBranch) String() string {
	return fmt.Sprintf("br %s, %s, %s", t.Cond, t.TrueBlk, t.FalseBlk)
}

// String renders the function in a readable listing.
func (f *Function) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", f.Name)
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", p, p.Type)
	}
	fmt.Fprintf(&b, ") -> %s\n", f.ReturnType)
	for _, bb := range f.Blocks {
		fmt.Fprintf(&b, "%s:", bb)
		if len(bb.Preds) > 0 {
			b.WriteString(" ; preds")
			for _, p := range bb.Preds {
				fmt.Fprintf(&b, " %s", p)
			}
		}
		b.WriteByte('\n')
		for _, inst := range bb.Instructions {
			fmt.Fprintf(&b, "  %s\n", inst)
		}
		if bb.Terminator != nil {
			fmt.Fprintf(&b, "  %s\n", bb.Terminator)
		}
	}
	return b.String()
}

// String renders the whole program.
func (p *Program) String() string {
	var b strings.Builder
	for i, c := range p.Constants {
		fmt.Fprintf(&b, "$%d = %s %s\n", i, c.Type, c)
	}
	for i, g := range p.Globals {
		fmt.Fprintf(&b, "global #%d %s\n", i, g)
	}
	for _, f := range p.Functions {
		b.WriteString(f.String())
	}
	return b.String()
}
