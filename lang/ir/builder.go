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
	"fmt"
	"sort"

	"github.com/vira-lang/go-vira/lang/types"
)

var (
	// ErrSealedBlock is returned when an edge is added to a block whose
	// predecessor set was already declared complete.
	ErrSealedBlock = errors.New("ir: edge into sealed block")

	// ErrUnsealedBlock is returned by FinishFunction when a block was never
	// sealed.
	ErrUnsealedBlock = errors.New("ir: unsealed block")

	// ErrUndefinedVariable is returned when a variable is read on a path
	// where it was never written.
	ErrUndefinedVariable = errors.New("ir: undefined variable")

	// ErrNoBlock is returned when emitting with no current block.
	ErrNoBlock = errors.New("ir: no current block")
)

// Builder constructs SSA IR directly from a structured source program.
//
// Variables are resolved on the fly: DefVar records the current
// definition of a name in a block and UseVar walks predecessors to
// find it, inserting phis at join points. A block may only be read through
// once all of its predecessors are known, or the read leaves an incomplete
// phi behind; SealBlock declares the predecessor set final and fills those
// phis in.
type Builder struct {
	program  *Program
	function *Function
	block    *BasicBlock

	nextID     int
	nextBlock  int
	consts     map[Constant]int
	typeIndex  map[string]int
	currentDef map[string]map[*BasicBlock]Value
	varTypes   map[string]types.Type
}

// NewBuilder creates a new IR builder.
func NewBuilder() *Builder {
	return &Builder{
		program:   &Program{},
		consts:    make(map[Constant]int),
		typeIndex: make(map[string]int),
	}
}

// Program returns the built program.
func (b *Builder) Program() *Program {
	return b.program
}

// Function returns the function under construction.
func (b *Builder) Function() *Function {
	return b.function
}

// AddConstant adds a constant to the pool and returns its index. Equal
// constants share one slot.
func (b *Builder) AddConstant(c Constant) int {
	key := Constant{Type: c.Type, Value: c.Value}
	if idx, ok := b.consts[key]; ok {
		return idx
	}
	idx := len(b.program.Constants)
	b.program.Constants = append(b.program.Constants, c)
	b.consts[key] = idx
	return idx
}

// InternType adds a type to the type table and returns its id.
func (b *Builder) InternType(t types.Type) int {
	key := t.String()
	if idx, ok := b.typeIndex[key]; ok {
		return idx
	}
	idx := len(b.program.Types)
	b.program.Types = append(b.program.Types, t)
	b.typeIndex[key] = idx
	return idx
}

// AddGlobal registers a global slot and returns its index.
func (b *Builder) AddGlobal(name string) int {
	b.program.Globals = append(b.program.Globals, name)
	return len(b.program.Globals) - 1
}

// StartFunction begins building a new function. Value ids restart at zero.
func (b *Builder) StartFunction(name string, ret types.Type) *Function {
	f := &Function{
		Name:       name,
		Index:      len(b.program.Functions),
		ReturnType: ret,
	}
	b.function = f
	b.block = nil
	b.nextID = 0
	b.nextBlock = 0
	b.currentDef = make(map[string]map[*BasicBlock]Value)
	b.varTypes = make(map[string]types.Type)
	b.program.Functions = append(b.program.Functions, f)
	return f
}

// AddParam appends a parameter to the current function.
func (b *Builder) AddParam(name string, typ types.Type) Value {
	v := b.NewValue(typ, name)
	b.function.Params = append(b.function.Params, v)
	return v
}

// NewBlock creates a new, unsealed basic block in the current function.
func (b *Builder) NewBlock(label string) *BasicBlock {
	bb := &BasicBlock{ID: b.nextBlock, Label: label}
	b.nextBlock++
	b.function.Blocks = append(b.function.Blocks, bb)
	return bb
}

// SetBlock sets the current insertion point. A nil block marks the rest of
// the current path unreachable.
func (b *Builder) SetBlock(bb *BasicBlock) {
	b.block = bb
}

// Block returns the current insertion point.
func (b *Builder) Block() *BasicBlock {
	return b.block
}

// NewValue allocates a fresh SSA value.
func (b *Builder) NewValue(typ types.Type, name string) Value {
	v := Value{ID: b.nextID, Type: typ, Name: name}
	b.nextID++
	b.function.NumValues = b.nextID
	return v
}

func (b *Builder) append(inst *Instruction) {
	if b.block == nil {
		panic(ErrNoBlock)
	}
	b.block.Instructions = append(b.block.Instructions, inst)
}

// Emit appends an instruction to the current block. A nil typ produces an
// instruction without a result.
func (b *Builder) Emit(op Op, typ types.Type, operands ...Value) Value {
	result := NoValue
	if typ != nil {
		result = b.NewValue(typ, "")
	}
	b.append(&Instruction{Op: op, Result: result, Operands: operands})
	return result
}

// EmitIndexed is Emit for ops that carry a function, slot or type id.
func (b *Builder) EmitIndexed(op Op, index int, typ types.Type, operands ...Value) Value {
	result := NoValue
	if typ != nil {
		result = b.NewValue(typ, "")
	}
	b.append(&Instruction{Op: op, Result: result, Operands: operands, Index: index})
	return result
}

// EmitConst loads a constant into a new value.
func (b *Builder) EmitConst(c Constant) Value {
	result := b.NewValue(c.Type, "")
	b.append(&Instruction{Op: OpConst, Result: result, ConstIdx: b.AddConstant(c)})
	return result
}

// EmitCall emits a call of function fn.
func (b *Builder) EmitCall(fn int, ret types.Type, args ...Value) Value {
	return b.EmitIndexed(OpCall, fn, ret, args...)
}

func (b *Builder) addEdge(from, to *BasicBlock) error {
	if to.sealed {
		return fmt.Errorf("%w: %s -> %s", ErrSealedBlock, from, to)
	}
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
	return nil
}

// EmitBranch sets an unconditional branch terminator.
func (b *Builder) EmitBranch(target *BasicBlock) error {
	if b.block == nil {
		return ErrNoBlock
	}
	if err := b.addEdge(b.block, target); err != nil {
		return err
	}
	b.block.Terminator = &TermBranch{Target: target}
	return nil
}

// EmitCondBranch sets a conditional branch terminator.
func (b *Builder) EmitCondBranch(cond Value, trueBlk, falseBlk *BasicBlock) error {
	if b.block == nil {
		return ErrNoBlock
	}
	if trueBlk == falseBlk {
		return fmt.Errorf("ir: conditional branch with identical targets %s", trueBlk)
	}
	if err := b.addEdge(b.block, trueBlk); err != nil {
		return err
	}
	if err := b.addEdge(b.block, falseBlk); err != nil {
		return err
	}
	b.block.Terminator = &TermCondBranch{Cond: cond, TrueBlk: trueBlk, FalseBlk: falseBlk}
	return nil
}

// EmitReturn sets a return terminator. A nil value returns integer zero.
func (b *Builder) EmitReturn(val *Value) {
	if b.block == nil {
		panic(ErrNoBlock)
	}
	b.block.Terminator = &TermReturn{Value: val}
}

// ---- variables ----

// DeclareVar records the type of a source variable.
func (b *Builder) DeclareVar(name string, typ types.Type) {
	b.varTypes[name] = typ
}

// DefVar makes v the current definition of name in the current block.
func (b *Builder) DefVar(name string, v Value) {
	if _, ok := b.varTypes[name]; !ok {
		b.varTypes[name] = v.Type
	}
	b.writeVariable(name, b.block, v)
}

// UseVar returns the value of name reaching the current block.
func (b *Builder) UseVar(name string) (Value, error) {
	if b.block == nil {
		return NoValue, ErrNoBlock
	}
	return b.readVariable(name, b.block)
}

func (b *Builder) writeVariable(name string, bb *BasicBlock, v Value) {
	defs, ok := b.currentDef[name]
	if !ok {
		defs = make(map[*BasicBlock]Value)
		b.currentDef[name] = defs
	}
	defs[bb] = v
}

func (b *Builder) readVariable(name string, bb *BasicBlock) (Value, error) {
	if v, ok := b.currentDef[name][bb]; ok {
		return v, nil
	}
	return b.readVariableRecursive(name, bb)
}

func (b *Builder) readVariableRecursive(name string, bb *BasicBlock) (Value, error) {
	typ, ok := b.varTypes[name]
	if !ok {
		return NoValue, fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
	}
	var (
		val Value
		err error
	)
	switch {
	case !bb.sealed:
		phi := b.newPhi(name, typ, bb)
		if bb.incomplete == nil {
			bb.incomplete = make(map[string]*Instruction)
		}
		bb.incomplete[name] = phi
		val = phi.Result
	case len(bb.Preds) == 0:
		return NoValue, fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
	case len(bb.Preds) == 1:
		if val, err = b.readVariable(name, bb.Preds[0]); err != nil {
			return NoValue, err
		}
	default:
		// Record the phi first so cyclic lookups terminate on it.
		phi := b.newPhi(name, typ, bb)
		b.writeVariable(name, bb, phi.Result)
		if err := b.addPhiOperands(name, phi, bb); err != nil {
			return NoValue, err
		}
		val = phi.Result
	}
	b.writeVariable(name, bb, val)
	return val, nil
}

func (b *Builder) newPhi(name string, typ types.Type, bb *BasicBlock) *Instruction {
	phi := &Instruction{Op: OpPhi, Result: b.NewValue(typ, name), Var: name}
	n := len(bb.Phis())
	bb.Instructions = append(bb.Instructions, nil)
	copy(bb.Instructions[n+1:], bb.Instructions[n:])
	bb.Instructions[n] = phi
	return phi
}

func (b *Builder) addPhiOperands(name string, phi *Instruction, bb *BasicBlock) error {
	for _, pred := range bb.Preds {
		v, err := b.readVariable(name, pred)
		if err != nil {
			return err
		}
		phi.Operands = append(phi.Operands, v)
	}
	return nil
}

// SealBlock declares that no more predecessors will be added to bb and
// completes the phis left by earlier reads.
func (b *Builder) SealBlock(bb *BasicBlock) error {
	if bb.sealed {
		return nil
	}
	// Operand reads may reach back into bb itself; they must find the phis.
	bb.sealed = true
	for _, name := range sortedKeys(bb.incomplete) {
		if err := b.addPhiOperands(name, bb.incomplete[name], bb); err != nil {
			return err
		}
	}
	bb.incomplete = nil
	return nil
}

// FinishFunction checks that every block is sealed, drops blocks no path
// reaches and removes trivial phis, those merging a single value (besides
// themselves).
func (b *Builder) FinishFunction() error {
	fn := b.function
	for _, bb := range fn.Blocks {
		if !bb.sealed {
			return fmt.Errorf("%w: %s in %s", ErrUnsealedBlock, bb, fn.Name)
		}
	}
	RemoveUnreachableBlocks(fn)
	removeTrivialPhis(fn)
	b.function = nil
	b.block = nil
	return nil
}

func removeTrivialPhis(fn *Function) {
	forward := make(map[int]Value)
	resolve := func(v Value) Value {
		for {
			next, ok := forward[v.ID]
			if !ok {
				return v
			}
			v = next
		}
	}
	for changed := true; changed; {
		changed = false
		for _, bb := range fn.Blocks {
			for _, phi := range bb.Phis() {
				if _, gone := forward[phi.Result.ID]; gone {
					continue
				}
				same := NoValue
				trivial := true
				for _, op := range phi.Operands {
					op = resolve(op)
					if op.ID == same.ID || op.ID == phi.Result.ID {
						continue
					}
					if same.Valid() {
						trivial = false
						break
					}
					same = op
				}
				if trivial && same.Valid() {
					forward[phi.Result.ID] = same
					changed = true
				}
			}
		}
	}
	if len(forward) == 0 {
		return
	}
	for _, bb := range fn.Blocks {
		kept := bb.Instructions[:0]
		for _, inst := range bb.Instructions {
			if _, gone := forward[inst.Result.ID]; gone && inst.Op == OpPhi {
				continue
			}
			for i, op := range inst.Operands {
				inst.Operands[i] = resolve(op)
			}
			kept = append(kept, inst)
		}
		bb.Instructions = kept
		rewriteTerminator(bb.Terminator, resolve)
	}
}

func rewriteTerminator(term Terminator, resolve func(Value) Value) {
	switch t := term.(type) {
	case *TermReturn:
		if t.Value != nil {
			v := resolve(*t.Value)
			t.Value = &v
		}
	case *TermCondBranch:
		t.Cond = resolve(t.Cond)
	}
}

func sortedKeys(m map[string]*Instruction) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
