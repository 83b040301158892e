// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package codegen translates checked Vira programs to VM bytecode.
//
// Compilation runs in four stages: sema checks the AST, Lower builds SSA IR,
// the IR is optionally optimized, and the Generator allocates registers and
// emits 4-byte instructions:
//
//	[opcode:8][a:8][b:8][c:8]     3-address format
//	[opcode:8][a:8][immediate:16] immediate format
package codegen

import (
	"fmt"
	"math"

	"github.com/vira-lang/go-vira/lang/arena"
	"github.com/vira-lang/go-vira/lang/ir"
	"github.com/vira-lang/go-vira/lang/types"
	"github.com/vira-lang/go-vira/lang/vm"
)

// maxIndex bounds instruction and pool indices addressed by an imm16.
const maxIndex = math.MaxUint16

// Generator translates IR to bytecode.
type Generator struct {
	pageSize int

	code      []byte
	constants []uint64
	constIdx  map[uint64]int
	functions []vm.Function
	data      *arena.Arena
	mem       *vm.Memory

	irConsts []uint64 // IR constant index -> encoded word

	// Per-function state.
	fn      *ir.Function
	alloc   *allocation
	labels  map[*ir.BasicBlock]int // block -> instruction index
	patches []patchEntry
	tramps  []trampoline
}

type patchEntry struct {
	at    int            // instruction index holding the jump
	block *ir.BasicBlock // target block, or nil for a trampoline
	tramp int            // trampoline number when block is nil
}

// trampoline carries the phi copies of a conditional edge when both edges
// of the branch need copies.
type trampoline struct {
	moves  []move
	target *ir.BasicBlock
	addr   int
}

// New creates a bytecode generator whose string data uses pages of the
// given size.
func New(pageSize int) *Generator {
	data := arena.New(pageSize, 0)
	return &Generator{
		pageSize: data.PageSize(),
		constIdx: make(map[uint64]int),
		data:     data,
		mem:      vm.NewMemory(data),
	}
}

// Generate compiles an IR program to a VM program.
func (g *Generator) Generate(prog *ir.Program) (*vm.Program, error) {
	g.irConsts = make([]uint64, len(prog.Constants))
	for i, c := range prog.Constants {
		w, err := g.encodeConst(c)
		if err != nil {
			return nil, err
		}
		g.irConsts[i] = w
	}

	for _, fn := range prog.Functions {
		if err := g.generateFunction(fn); err != nil {
			return nil, fmt.Errorf("function %s: %w", fn.Name, err)
		}
	}
	if len(g.constants) > maxIndex+1 {
		return nil, &UnsupportedError{Msg: fmt.Sprintf("%d constants exceed the pool limit", len(g.constants))}
	}

	return &vm.Program{
		Code:      g.code,
		Constants: g.constants,
		Functions: g.functions,
		Types:     prog.Types,
		Globals:   prog.Globals,
		PageSize:  g.pageSize,
		Data:      g.data.Pages(),
	}, nil
}

// encodeConst turns an IR constant into its register word. Strings are
// stored once in the data section and referenced by address.
func (g *Generator) encodeConst(c ir.Constant) (uint64, error) {
	switch v := c.Value.(type) {
	case int64:
		return uint64(v), nil
	case float64:
		return math.Float64bits(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		ref, err := g.mem.NewString(v)
		if err != nil {
			return 0, fmt.Errorf("string constant: %w", err)
		}
		return ref, nil
	}
	return 0, fmt.Errorf("codegen: unsupported constant %T", c.Value)
}

func (g *Generator) poolIndex(w uint64) int {
	if idx, ok := g.constIdx[w]; ok {
		return idx
	}
	idx := len(g.constants)
	g.constants = append(g.constants, w)
	g.constIdx[w] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Functions and blocks
// ---------------------------------------------------------------------------

func (g *Generator) pc() int { return len(g.code) / 4 }

func (g *Generator) generateFunction(fn *ir.Function) error {
	alloc, err := allocate(fn)
	if err != nil {
		return err
	}
	g.fn, g.alloc = fn, alloc
	g.labels = make(map[*ir.BasicBlock]int)
	g.patches = g.patches[:0]
	g.tramps = g.tramps[:0]

	entry := vm.Function{
		Name:   fn.Name,
		Entry:  g.pc(),
		Params: len(fn.Params),
	}

	for i, block := range fn.Blocks {
		g.labels[block] = g.pc()
		var next *ir.BasicBlock
		if i+1 < len(fn.Blocks) {
			next = fn.Blocks[i+1]
		}
		for _, inst := range block.Instructions {
			if err := g.generateInstruction(inst); err != nil {
				return err
			}
		}
		if block.Terminator == nil {
			return fmt.Errorf("codegen: block %s has no terminator", block)
		}
		g.generateTerminator(block, next)
	}

	for i := range g.tramps {
		t := &g.tramps[i]
		t.addr = g.pc()
		g.emitMoves(t.moves)
		g.emitJump(vm.OpJump, 0, t.target)
	}

	// Patch forward references.
	for _, p := range g.patches {
		target := 0
		if p.block != nil {
			addr, ok := g.labels[p.block]
			if !ok {
				return fmt.Errorf("codegen: undefined label %s", p.block)
			}
			target = addr
		} else {
			target = g.tramps[p.tramp].addr
		}
		if target > maxIndex {
			return &UnsupportedError{Msg: "code exceeds the jump range"}
		}
		op := vm.Opcode(g.code[p.at*4])
		a := g.code[p.at*4+1]
		word := vm.EncodeWide(op, a, uint16(target))
		copy(g.code[p.at*4:], word[:])
	}
	if g.pc() > maxIndex+1 {
		return &UnsupportedError{Msg: "code exceeds the jump range"}
	}

	regs := int(alloc.maxUsed) + 1
	if g.usesScratch(entry.Entry) {
		regs = scratchReg + 1
	}
	entry.Registers = regs
	g.functions = append(g.functions, entry)
	return nil
}

// usesScratch reports whether code emitted since from mentions R255.
func (g *Generator) usesScratch(from int) bool {
	for i := from * 4; i < len(g.code); i += 4 {
		op := vm.Opcode(g.code[i])
		if g.code[i+1] == scratchReg {
			return true
		}
		if !op.IsWideImmediate() && (g.code[i+2] == scratchReg || g.code[i+3] == scratchReg) {
			return true
		}
	}
	return false
}

func (g *Generator) emit(op vm.Opcode, a, b, c uint8) {
	w := vm.Encode(op, a, b, c)
	g.code = append(g.code, w[:]...)
}

func (g *Generator) emitWide(op vm.Opcode, a uint8, imm uint16) {
	w := vm.EncodeWide(op, a, imm)
	g.code = append(g.code, w[:]...)
}

func (g *Generator) emitJump(op vm.Opcode, cond uint8, target *ir.BasicBlock) {
	g.patches = append(g.patches, patchEntry{at: g.pc(), block: target})
	g.emitWide(op, cond, 0)
}

func (g *Generator) emitMoves(moves []move) {
	for _, m := range sequentialize(moves) {
		g.emit(vm.OpMove, m.dst, m.src, 0)
	}
}

// loadInt places v in register dst using the shortest encoding.
func (g *Generator) loadInt(dst uint8, v int64) {
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		g.emitWide(vm.OpLoadInt, dst, uint16(int16(v)))
		return
	}
	g.emitWide(vm.OpLoadConst, dst, uint16(g.poolIndex(uint64(v))))
}

func (g *Generator) generateTerminator(block, next *ir.BasicBlock) {
	switch t := block.Terminator.(type) {
	case *ir.TermReturn:
		var reg uint8
		if t.Value != nil {
			reg = g.alloc.reg(*t.Value)
		}
		g.emit(vm.OpReturn, reg, 0, 0)

	case *ir.TermBranch:
		g.emitMoves(edgeMoves(g.alloc, block, t.Target))
		if t.Target != next {
			g.emitJump(vm.OpJump, 0, t.Target)
		}

	case *ir.TermCondBranch:
		cond := g.alloc.reg(t.Cond)
		tMoves := edgeMoves(g.alloc, block, t.TrueBlk)
		fMoves := edgeMoves(g.alloc, block, t.FalseBlk)
		switch {
		case len(fMoves) == 0:
			g.emitJump(vm.OpJumpIfNot, cond, t.FalseBlk)
			g.emitMoves(tMoves)
			if t.TrueBlk != next {
				g.emitJump(vm.OpJump, 0, t.TrueBlk)
			}
		case len(tMoves) == 0:
			g.emitJump(vm.OpJumpIf, cond, t.TrueBlk)
			g.emitMoves(fMoves)
			if t.FalseBlk != next {
				g.emitJump(vm.OpJump, 0, t.FalseBlk)
			}
		default:
			g.tramps = append(g.tramps, trampoline{moves: tMoves, target: t.TrueBlk})
			g.patches = append(g.patches, patchEntry{at: g.pc(), tramp: len(g.tramps) - 1})
			g.emitWide(vm.OpJumpIf, cond, 0)
			g.emitMoves(fMoves)
			if t.FalseBlk != next {
				g.emitJump(vm.OpJump, 0, t.FalseBlk)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func kindOf(v ir.Value) types.Kind {
	if v.Type == nil {
		return types.KindVoid
	}
	return v.Type.Kind()
}

var (
	intOps = map[ir.Op]vm.Opcode{
		ir.OpAdd: vm.OpAdd, ir.OpSub: vm.OpSub, ir.OpMul: vm.OpMul,
		ir.OpDiv: vm.OpDiv, ir.OpMod: vm.OpMod,
		ir.OpEq: vm.OpEq, ir.OpNeq: vm.OpNeq, ir.OpLt: vm.OpLt,
		ir.OpLte: vm.OpLte, ir.OpGt: vm.OpGt, ir.OpGte: vm.OpGte,
	}
	floatOps = map[ir.Op]vm.Opcode{
		ir.OpAdd: vm.OpFAdd, ir.OpSub: vm.OpFSub, ir.OpMul: vm.OpFMul,
		ir.OpDiv: vm.OpFDiv, ir.OpMod: vm.OpFMod,
		ir.OpEq: vm.OpFEq, ir.OpNeq: vm.OpFNeq, ir.OpLt: vm.OpFLt,
		ir.OpLte: vm.OpFLte, ir.OpGt: vm.OpFGt, ir.OpGte: vm.OpFGte,
	}
)

func (g *Generator) generateInstruction(inst *ir.Instruction) error {
	r := g.alloc.reg
	dst := r(inst.Result)
	operand := func(i int) uint8 { return r(inst.Operands[i]) }

	switch inst.Op {
	case ir.OpPhi:
		// Resolved by copies on incoming edges.

	case ir.OpConst:
		return g.generateConst(dst, inst)

	case ir.OpCopy:
		if src := operand(0); src != dst {
			g.emit(vm.OpMove, dst, src, 0)
		}

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpEq, ir.OpNeq, ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		x, y := operand(0), operand(1)
		switch kindOf(inst.Operands[0]) {
		case types.KindInt:
			g.emit(intOps[inst.Op], dst, x, y)
		case types.KindFloat:
			g.emit(floatOps[inst.Op], dst, x, y)
		case types.KindBool:
			// Booleans are 0 or 1, so integer equality is exact.
			op, ok := intOps[inst.Op]
			if !ok || (inst.Op != ir.OpEq && inst.Op != ir.OpNeq) {
				return fmt.Errorf("codegen: %s on bool", inst.Op)
			}
			g.emit(op, dst, x, y)
		case types.KindString:
			if inst.Op == ir.OpAdd {
				g.emit(vm.OpConcat, dst, x, y)
				return nil
			}
			op, ok := intOps[inst.Op]
			if !ok || inst.Op == ir.OpSub || inst.Op == ir.OpMul || inst.Op == ir.OpDiv || inst.Op == ir.OpMod {
				return fmt.Errorf("codegen: %s on string", inst.Op)
			}
			g.emit(vm.OpStrCmp, dst, x, y)
			g.emit(op, dst, dst, 0)
		default:
			return fmt.Errorf("codegen: %s on %s", inst.Op, inst.Operands[0].Type)
		}

	case ir.OpNeg:
		if kindOf(inst.Operands[0]) == types.KindFloat {
			g.emit(vm.OpFNeg, dst, operand(0), 0)
		} else {
			g.emit(vm.OpNeg, dst, operand(0), 0)
		}

	case ir.OpLogAnd:
		g.emit(vm.OpAnd, dst, operand(0), operand(1))
	case ir.OpLogOr:
		g.emit(vm.OpOr, dst, operand(0), operand(1))
	case ir.OpLogNot:
		g.loadInt(scratchReg, 1)
		g.emit(vm.OpXor, dst, operand(0), scratchReg)

	case ir.OpArrayNew:
		n := len(inst.Operands)
		if n > maxIndex {
			return &UnsupportedError{Msg: fmt.Sprintf("array literal of %d elements", n)}
		}
		g.emitWide(vm.OpArrayNew, dst, uint16(n))
		for i := range inst.Operands {
			g.loadInt(scratchReg, int64(i))
			g.emit(vm.OpArraySet, dst, scratchReg, operand(i))
		}

	case ir.OpIndex:
		g.emit(vm.OpArrayGet, dst, operand(0), operand(1))

	case ir.OpLoadGlobal:
		g.emitWide(vm.OpLoadGlobal, dst, uint16(inst.Index))
	case ir.OpStoreGlobal:
		g.emitWide(vm.OpStoreGlobal, operand(0), uint16(inst.Index))

	case ir.OpCall:
		for i := range inst.Operands {
			g.emit(vm.OpPush, operand(i), 0, 0)
		}
		g.emitWide(vm.OpCall, dst, uint16(inst.Index))
	case ir.OpDefineFunc:
		g.emitWide(vm.OpDefineFunc, 0, uint16(inst.Index))
	case ir.OpCheckFunc:
		g.emitWide(vm.OpCheckFunc, 0, uint16(inst.Index))

	case ir.OpWrite:
		g.emitWide(vm.OpWrite, operand(0), uint16(inst.Index))

	default:
		return fmt.Errorf("codegen: unsupported IR op %s", inst.Op)
	}
	return nil
}

func (g *Generator) generateConst(dst uint8, inst *ir.Instruction) error {
	if inst.ConstIdx < 0 || inst.ConstIdx >= len(g.irConsts) {
		return fmt.Errorf("codegen: constant %d out of range", inst.ConstIdx)
	}
	w := g.irConsts[inst.ConstIdx]
	switch kindOf(inst.Result) {
	case types.KindInt:
		g.loadInt(dst, int64(w))
	case types.KindBool:
		if w != 0 {
			g.emit(vm.OpLoadTrue, dst, 0, 0)
		} else {
			g.emit(vm.OpLoadFalse, dst, 0, 0)
		}
	default:
		g.emitWide(vm.OpLoadConst, dst, uint16(g.poolIndex(w)))
	}
	return nil
}
