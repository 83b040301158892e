// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "math"

// Optimize runs all optimization passes on a program. The passes never
// remove an instruction that can fault, so optimized code fails exactly
// where unoptimized code does.
func Optimize(prog *Program) {
	for _, fn := range prog.Functions {
		ConstantFold(prog, fn)
		CommonSubexprEliminate(fn)
		DeadCodeEliminate(fn)
	}
}

// ConstantFold evaluates operations whose operands are all constants and
// replaces them with constant loads. Folded results are added to the
// program's constant pool.
func ConstantFold(prog *Program, fn *Function) {
	known := make(map[int]Constant)
	pool := make(map[Constant]int)
	for i, c := range prog.Constants {
		if _, ok := pool[c]; !ok {
			pool[c] = i
		}
	}
	intern := func(c Constant) int {
		if idx, ok := pool[c]; ok {
			return idx
		}
		prog.Constants = append(prog.Constants, c)
		pool[c] = len(prog.Constants) - 1
		return pool[c]
	}
	for changed := true; changed; {
		changed = false
		for _, block := range fn.Blocks {
			for i, inst := range block.Instructions {
				if inst.Op == OpConst {
					known[inst.Result.ID] = prog.Constants[inst.ConstIdx]
					continue
				}
				c, ok := tryFoldConstant(inst, known)
				if !ok {
					continue
				}
				block.Instructions[i] = &Instruction{
					Op:       OpConst,
					Result:   inst.Result,
					ConstIdx: intern(c),
				}
				known[inst.Result.ID] = c
				changed = true
			}
		}
	}
}

// tryFoldConstant attempts to fold a single instruction.
func tryFoldConstant(inst *Instruction, known map[int]Constant) (Constant, bool) {
	var args []interface{}
	for _, op := range inst.Operands {
		c, ok := known[op.ID]
		if !ok {
			return Constant{}, false
		}
		args = append(args, c.Value)
	}
	typ := inst.Result.Type
	switch len(args) {
	case 1:
		switch x := args[0].(type) {
		case int64:
			if inst.Op == OpNeg {
				return Constant{Type: typ, Value: -x}, true
			}
		case float64:
			if inst.Op == OpNeg {
				return Constant{Type: typ, Value: -x}, true
			}
		case bool:
			if inst.Op == OpLogNot {
				return Constant{Type: typ, Value: !x}, true
			}
		}
	case 2:
		if v, ok := fold(inst.Op, args[0], args[1]); ok {
			return Constant{Type: typ, Value: v}, true
		}
	}
	return Constant{}, false
}

func fold(op Op, l, r interface{}) (interface{}, bool) {
	switch x := l.(type) {
	case int64:
		y, ok := r.(int64)
		if !ok {
			return nil, false
		}
		switch op {
		case OpAdd:
			return x + y, true
		case OpSub:
			return x - y, true
		case OpMul:
			return x * y, true
		case OpDiv:
			if y == 0 {
				return nil, false
			}
			return x / y, true
		case OpMod:
			if y == 0 {
				return nil, false
			}
			return x % y, true
		}
		return compare(op, cmpInt(x, y))
	case float64:
		y, ok := r.(float64)
		if !ok {
			return nil, false
		}
		switch op {
		case OpAdd:
			return x + y, true
		case OpSub:
			return x - y, true
		case OpMul:
			return x * y, true
		case OpDiv:
			return x / y, true
		case OpMod:
			return math.Mod(x, y), true
		case OpEq:
			return x == y, true
		case OpNeq:
			return x != y, true
		case OpLt:
			return x < y, true
		case OpLte:
			return x <= y, true
		case OpGt:
			return x > y, true
		case OpGte:
			return x >= y, true
		}
	case bool:
		y, ok := r.(bool)
		if !ok {
			return nil, false
		}
		switch op {
		case OpLogAnd:
			return x && y, true
		case OpLogOr:
			return x || y, true
		case OpEq:
			return x == y, true
		case OpNeq:
			return x != y, true
		}
	case string:
		y, ok := r.(string)
		if !ok {
			return nil, false
		}
		if op == OpAdd {
			return x + y, true
		}
		return compare(op, cmpString(x, y))
	}
	return nil, false
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmpString(x, y string) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compare(op Op, c int) (interface{}, bool) {
	switch op {
	case OpEq:
		return c == 0, true
	case OpNeq:
		return c != 0, true
	case OpLt:
		return c < 0, true
	case OpLte:
		return c <= 0, true
	case OpGt:
		return c > 0, true
	case OpGte:
		return c >= 0, true
	}
	return nil, false
}

// DeadCodeEliminate removes instructions whose results are never used.
func DeadCodeEliminate(fn *Function) {
	uses := make(map[int]int) // value ID -> use count
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			for _, op := range inst.Operands {
				uses[op.ID]++
			}
		}
		switch term := block.Terminator.(type) {
		case *TermCondBranch:
			uses[term.Cond.ID]++
		case *TermReturn:
			if term.Value != nil {
				uses[term.Value.ID]++
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, block := range fn.Blocks {
			alive := block.Instructions[:0]
			for _, inst := range block.Instructions {
				if uses[inst.Result.ID] > 0 || inst.Op.HasSideEffects() {
					alive = append(alive, inst)
					continue
				}
				for _, op := range inst.Operands {
					uses[op.ID]--
				}
				changed = true
			}
			block.Instructions = alive
		}
	}
}

// CommonSubexprEliminate replaces recomputations of a pure expression
// within a block with the earlier result.
func CommonSubexprEliminate(fn *Function) {
	type exprKey struct {
		op    Op
		op1   int // operand 1 value ID
		op2   int // operand 2 value ID
		konst int // constant index, for OpConst
	}

	forward := make(map[int]Value)
	for _, block := range fn.Blocks {
		available := make(map[exprKey]Value)
		kept := block.Instructions[:0]
		for _, inst := range block.Instructions {
			for i, op := range inst.Operands {
				if v, ok := forward[op.ID]; ok {
					inst.Operands[i] = v
				}
			}
			if !pure(inst) {
				kept = append(kept, inst)
				continue
			}
			key := exprKey{op: inst.Op, op1: -1, op2: -1, konst: -1}
			switch {
			case inst.Op == OpConst:
				key.konst = inst.ConstIdx
			case len(inst.Operands) == 1:
				key.op1 = inst.Operands[0].ID
			default:
				key.op1, key.op2 = inst.Operands[0].ID, inst.Operands[1].ID
			}
			if existing, ok := available[key]; ok {
				forward[inst.Result.ID] = existing
				continue
			}
			available[key] = inst.Result
			kept = append(kept, inst)
		}
		block.Instructions = kept
	}
	if len(forward) == 0 {
		return
	}
	// Phis and terminators may refer to values of later blocks.
	resolve := func(v Value) Value {
		if f, ok := forward[v.ID]; ok {
			return f
		}
		return v
	}
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			for i, op := range inst.Operands {
				inst.Operands[i] = resolve(op)
			}
		}
		rewriteTerminator(block.Terminator, resolve)
	}
}

func pure(inst *Instruction) bool {
	if inst.Op.HasSideEffects() || !inst.Result.Valid() {
		return false
	}
	switch inst.Op {
	case OpPhi, OpArrayNew, OpCopy:
		return false
	case OpConst:
		return true
	}
	return len(inst.Operands) == 1 || len(inst.Operands) == 2
}

// RemoveUnreachableBlocks removes blocks no path from the entry reaches and
// drops the matching phi operands of their successors.
func RemoveUnreachableBlocks(fn *Function) {
	if len(fn.Blocks) <= 1 {
		return
	}

	reachable := make(map[*BasicBlock]bool)
	var walk func(*BasicBlock)
	walk = func(bb *BasicBlock) {
		if reachable[bb] {
			return
		}
		reachable[bb] = true
		for _, succ := range bb.Succs {
			walk(succ)
		}
	}
	walk(fn.Blocks[0])

	alive := fn.Blocks[:0]
	for _, block := range fn.Blocks {
		if !reachable[block] {
			continue
		}
		preds := block.Preds[:0]
		var keep []bool
		for _, p := range block.Preds {
			keep = append(keep, reachable[p])
			if reachable[p] {
				preds = append(preds, p)
			}
		}
		for _, phi := range block.Phis() {
			ops := phi.Operands[:0]
			for i, op := range phi.Operands {
				if i < len(keep) && keep[i] {
					ops = append(ops, op)
				}
			}
			phi.Operands = ops
		}
		block.Preds = preds
		alive = append(alive, block)
	}
	fn.Blocks = alive
}
