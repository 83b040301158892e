// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/vira-lang/go-vira/lang/types"
)

func intConst(v int64) Constant { return Constant{Type: types.Int, Value: v} }

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// startEntry begins a function with a sealed entry block as insertion point.
func startEntry(t *testing.T, b *Builder, name string) *BasicBlock {
	t.Helper()
	b.StartFunction(name, types.Int)
	entry := b.NewBlock("entry")
	mustNil(t, b.SealBlock(entry))
	b.SetBlock(entry)
	return entry
}

func TestBuilderBasic(t *testing.T) {
	b := NewBuilder()
	fn := b.StartFunction("add", types.Int)
	pa := b.AddParam("a", types.Int)
	pb := b.AddParam("b", types.Int)
	entry := b.NewBlock("entry")
	mustNil(t, b.SealBlock(entry))
	b.SetBlock(entry)

	result := b.Emit(OpAdd, types.Int, pa, pb)
	b.EmitReturn(&result)
	mustNil(t, b.FinishFunction())

	prog := b.Program()
	if len(prog.Functions) != 1 || prog.Functions[0] != fn {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	if fn.NumValues != 3 {
		t.Errorf("expected 3 values, got %d", fn.NumValues)
	}
	inst := fn.Blocks[0].Instructions[0]
	if inst.Op != OpAdd || inst.Operands[0].ID != pa.ID || inst.Operands[1].ID != pb.ID {
		t.Errorf("unexpected instruction %s", inst)
	}
	if !strings.Contains(fn.String(), "func add(%a.0: int, %b.1: int) -> int") {
		t.Errorf("unexpected listing:\n%s", fn)
	}
}

func TestBuilderControlFlow(t *testing.T) {
	b := NewBuilder()
	entry := startEntry(t, b, "abs")
	x := b.AddParam("x", types.Int)

	thenBlk := b.NewBlock("then")
	elseBlk := b.NewBlock("else")
	zero := b.EmitConst(intConst(0))
	cmp := b.Emit(OpLt, types.Bool, x, zero)
	mustNil(t, b.EmitCondBranch(cmp, thenBlk, elseBlk))
	mustNil(t, b.SealBlock(thenBlk))
	mustNil(t, b.SealBlock(elseBlk))

	b.SetBlock(thenBlk)
	neg := b.Emit(OpNeg, types.Int, x)
	b.EmitReturn(&neg)

	b.SetBlock(elseBlk)
	b.EmitReturn(&x)
	mustNil(t, b.FinishFunction())

	if len(entry.Succs) != 2 {
		t.Errorf("entry should have 2 successors, got %d", len(entry.Succs))
	}
	if len(thenBlk.Preds) != 1 || thenBlk.Preds[0] != entry {
		t.Errorf("then block should have entry as predecessor")
	}
	if err := b.EmitCondBranch(cmp, thenBlk, thenBlk); err == nil {
		t.Errorf("identical branch targets accepted")
	}
}

// ---- SSA construction ----

func TestLoopPhi(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "count")
	zero := b.EmitConst(intConst(0))
	b.DefVar("i", zero)

	header := b.NewBlock("loop.cond")
	mustNil(t, b.EmitBranch(header))
	b.SetBlock(header)
	i, err := b.UseVar("i")
	mustNil(t, err)
	cond := b.Emit(OpLt, types.Bool, i, b.EmitConst(intConst(10)))
	body := b.NewBlock("loop.body")
	exit := b.NewBlock("loop.end")
	mustNil(t, b.EmitCondBranch(cond, body, exit))
	mustNil(t, b.SealBlock(body))

	b.SetBlock(body)
	cur, err := b.UseVar("i")
	mustNil(t, err)
	next := b.Emit(OpAdd, types.Int, cur, b.EmitConst(intConst(1)))
	b.DefVar("i", next)
	mustNil(t, b.EmitBranch(header))

	mustNil(t, b.SealBlock(header))
	mustNil(t, b.SealBlock(exit))
	b.SetBlock(exit)
	result, err := b.UseVar("i")
	mustNil(t, err)
	b.EmitReturn(&result)
	mustNil(t, b.FinishFunction())

	phis := header.Phis()
	if len(phis) != 1 {
		t.Fatalf("expected 1 phi in loop header, got %d", len(phis))
	}
	phi := phis[0]
	if phi.Var != "i" || len(phi.Operands) != 2 {
		t.Fatalf("unexpected phi %s", phi)
	}
	if phi.Operands[0].ID != zero.ID || phi.Operands[1].ID != next.ID {
		t.Errorf("phi operands %v, want [%v %v]", phi.Operands, zero, next)
	}
	if i.ID != phi.Result.ID || cur.ID != phi.Result.ID || result.ID != phi.Result.ID {
		t.Errorf("reads of i do not resolve to the header phi")
	}
}

func TestTrivialPhiRemoved(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "same")
	x := b.EmitConst(intConst(7))
	b.DefVar("x", x)
	cond := b.EmitConst(Constant{Type: types.Bool, Value: true})

	thenBlk, elseBlk, join := b.NewBlock("then"), b.NewBlock("else"), b.NewBlock("join")
	mustNil(t, b.EmitCondBranch(cond, thenBlk, elseBlk))
	mustNil(t, b.SealBlock(thenBlk))
	mustNil(t, b.SealBlock(elseBlk))
	for _, bb := range []*BasicBlock{thenBlk, elseBlk} {
		b.SetBlock(bb)
		mustNil(t, b.EmitBranch(join))
	}
	mustNil(t, b.SealBlock(join))
	b.SetBlock(join)

	// An unchanged loop variable also yields a phi that merges only itself.
	header := b.NewBlock("loop")
	mustNil(t, b.EmitBranch(header))
	b.SetBlock(header)
	v, err := b.UseVar("x")
	mustNil(t, err)
	exit := b.NewBlock("exit")
	mustNil(t, b.EmitCondBranch(cond, header, exit))
	mustNil(t, b.SealBlock(header))
	mustNil(t, b.SealBlock(exit))
	b.SetBlock(exit)
	b.EmitReturn(&v)
	mustNil(t, b.FinishFunction())

	for _, bb := range b.Program().Functions[0].Blocks {
		if n := len(bb.Phis()); n != 0 {
			t.Errorf("%s still has %d phis", bb, n)
		}
	}
	ret := exit.Terminator.(*TermReturn)
	if ret.Value.ID != x.ID {
		t.Errorf("return uses %v, want %v", ret.Value, x)
	}
}

func TestSealedBlockEdge(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "f")
	target := b.NewBlock("target")
	mustNil(t, b.SealBlock(target))
	if err := b.EmitBranch(target); !errors.Is(err, ErrSealedBlock) {
		t.Fatalf("expected ErrSealedBlock, got %v", err)
	}
}

func TestUnsealedBlock(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "f")
	next := b.NewBlock("next")
	mustNil(t, b.EmitBranch(next))
	b.SetBlock(next)
	b.EmitReturn(nil)
	if err := b.FinishFunction(); !errors.Is(err, ErrUnsealedBlock) {
		t.Fatalf("expected ErrUnsealedBlock, got %v", err)
	}
}

func TestUndefinedVariable(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "f")
	if _, err := b.UseVar("ghost"); !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("expected ErrUndefinedVariable, got %v", err)
	}
	b.DeclareVar("late", types.Int)
	if _, err := b.UseVar("late"); !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("expected ErrUndefinedVariable for unbound declared var, got %v", err)
	}
}

func TestConstantPoolDedup(t *testing.T) {
	b := NewBuilder()
	i := b.AddConstant(intConst(1))
	j := b.AddConstant(intConst(1))
	k := b.AddConstant(Constant{Type: types.Float, Value: 1.0})
	if i != j || i == k {
		t.Fatalf("constant indices %d %d %d", i, j, k)
	}
	if b.InternType(types.NewArray(types.Int)) != b.InternType(types.NewArray(types.Int)) {
		t.Fatalf("equal types interned twice")
	}
}

// ---- Optimizations ----

func TestConstantFold(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "fold")
	two := b.EmitConst(intConst(2))
	three := b.EmitConst(intConst(3))
	sum := b.Emit(OpAdd, types.Int, two, three)
	zero := b.EmitConst(intConst(0))
	b.Emit(OpDiv, types.Int, two, zero)
	lt := b.Emit(OpLt, types.Bool, sum, three)
	b.Emit(OpLogNot, types.Bool, lt)
	b.EmitReturn(&sum)
	mustNil(t, b.FinishFunction())

	prog := b.Program()
	fn := prog.Functions[0]
	ConstantFold(prog, fn)

	insts := fn.Blocks[0].Instructions
	if insts[2].Op != OpConst || prog.Constants[insts[2].ConstIdx].Value != int64(5) {
		t.Errorf("2 + 3 not folded: %s", insts[2])
	}
	if insts[4].Op != OpDiv {
		t.Errorf("division by zero must not fold: %s", insts[4])
	}
	if insts[6].Op != OpConst || prog.Constants[insts[6].ConstIdx].Value != true {
		t.Errorf("!(5 < 3) not folded: %s", insts[6])
	}

	DeadCodeEliminate(fn)
	for _, inst := range fn.Blocks[0].Instructions {
		if inst.Result.ID == three.ID || inst.Result.ID == lt.ID {
			t.Errorf("dead %s survived", inst)
		}
	}
	found := false
	for _, inst := range fn.Blocks[0].Instructions {
		found = found || inst.Op == OpDiv
	}
	if !found {
		t.Errorf("faulting division removed")
	}
}

func TestCommonSubexprEliminate(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "cse")
	p := b.AddParam("p", types.Int)
	q := b.AddParam("q", types.Int)
	x := b.Emit(OpMul, types.Int, p, q)
	y := b.Emit(OpMul, types.Int, p, q)
	z := b.Emit(OpAdd, types.Int, x, y)
	b.EmitReturn(&y)
	mustNil(t, b.FinishFunction())

	fn := b.Program().Functions[0]
	CommonSubexprEliminate(fn)
	insts := fn.Blocks[0].Instructions
	if len(insts) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(insts))
	}
	if insts[1].Result.ID != z.ID || insts[1].Operands[1].ID != x.ID {
		t.Errorf("second operand not replaced: %s", insts[1])
	}
	if ret := fn.Blocks[0].Terminator.(*TermReturn); ret.Value.ID != x.ID {
		t.Errorf("return not rewritten: %s", ret)
	}
}

func TestRemoveUnreachableBlocks(t *testing.T) {
	b := NewBuilder()
	startEntry(t, b, "f")
	orphan := b.NewBlock("orphan")
	mustNil(t, b.SealBlock(orphan))
	b.EmitReturn(nil)
	mustNil(t, b.FinishFunction())

	fn := b.Program().Functions[0]
	if len(fn.Blocks) != 1 || fn.Blocks[0].Label != "entry" {
		t.Fatalf("unreachable block kept: %v", fn.Blocks)
	}
}
