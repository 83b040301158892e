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
	"sort"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/ir"
	"github.com/vira-lang/go-vira/lang/sema"
	"github.com/vira-lang/go-vira/lang/types"
)

// lowerError carries a failure out of the recursive lowering.
type lowerError struct{ err error }

// lowerer translates a checked AST into SSA IR. Function 0 is main, which
// runs the top-level statements; declared functions follow in source order.
type lowerer struct {
	info *sema.Info
	b    *ir.Builder
	fn   *sema.Func // nil while lowering main

	slots    map[string]int
	declared map[int]bool // functions whose declaration already ran in main
	temps    int
}

// Lower builds the IR program for nodes, which must have passed sema.Check
// producing info.
func Lower(nodes []ast.Node, info *sema.Info) (prog *ir.Program, err error) {
	l := &lowerer{
		info:     info,
		b:        ir.NewBuilder(),
		slots:    make(map[string]int),
		declared: make(map[int]bool),
	}
	defer func() {
		if r := recover(); r != nil {
			le, ok := r.(lowerError)
			if !ok {
				panic(r)
			}
			prog, err = nil, le.err
		}
	}()

	names := make([]string, 0, len(info.Slots))
	for name := range info.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l.slots[name] = l.b.AddGlobal(name)
	}

	l.main(nodes)
	for _, fn := range info.Funcs {
		l.function(fn)
	}
	return l.b.Program(), nil
}

func (l *lowerer) must(err error) {
	if err != nil {
		panic(lowerError{err})
	}
}

func (l *lowerer) unsupported(n ast.Node, format string, args ...interface{}) {
	panic(lowerError{&UnsupportedError{Pos: n.Pos(), Msg: fmt.Sprintf(format, args...)}})
}

// dead reports whether the insertion point is unreachable.
func (l *lowerer) dead() bool { return l.b.Block() == nil }

func (l *lowerer) begin(name string, result types.Type) {
	l.b.StartFunction(name, result)
	entry := l.b.NewBlock("entry")
	l.must(l.b.SealBlock(entry))
	l.b.SetBlock(entry)
}

func (l *lowerer) finish() {
	l.must(l.b.FinishFunction())
}

func (l *lowerer) main(nodes []ast.Node) {
	l.fn = nil
	l.begin("main", types.Int)
	for name, t := range l.info.Globals {
		if _, slot := l.slots[name]; !slot {
			l.b.DeclareVar(name, t)
		}
	}
	for _, n := range nodes {
		if l.dead() {
			break
		}
		l.stmt(n, false)
	}
	if !l.dead() {
		l.b.EmitReturn(nil)
	}
	l.finish()
}

func (l *lowerer) function(fn *sema.Func) {
	l.fn = fn
	l.begin(fn.Decl.Name, fn.Result)
	for name, t := range fn.Locals {
		l.b.DeclareVar(name, t)
	}
	for _, p := range fn.Decl.Params {
		l.b.DefVar(p.Name, l.b.AddParam(p.Name, p.Type))
	}
	v := l.stmt(fn.Decl.Body, true)
	if !l.dead() {
		// Falling off the end returns the body's value.
		l.b.EmitReturn(&v)
	}
	l.finish()
	l.fn = nil
}

// funcIndex maps a declared function to its IR function index.
func (l *lowerer) funcIndex(name string) int {
	return l.info.FuncIndex[name] + 1
}

func (l *lowerer) typeOf(n ast.Node) types.Type {
	t := l.info.TypeOf(n)
	if t == nil {
		l.unsupported(n, "no type recorded for %s", n)
	}
	return t
}

func (l *lowerer) zero() ir.Value {
	return l.b.EmitConst(ir.Constant{Type: types.Int, Value: int64(0)})
}

// zeroIf materializes the integer zero a statement evaluates to when its
// value is wanted.
func (l *lowerer) zeroIf(want bool) ir.Value {
	if !want || l.dead() {
		return ir.NoValue
	}
	return l.zero()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// stmt lowers n. When want is set and the statement completes normally, the
// statement's value is returned; otherwise the result is NoValue.
func (l *lowerer) stmt(n ast.Node, want bool) ir.Value {
	switch n := n.(type) {
	case *ast.Block:
		if len(n.Statements) == 0 {
			return l.zeroIf(want)
		}
		v := ir.NoValue
		for i, s := range n.Statements {
			if l.dead() {
				return ir.NoValue
			}
			v = l.stmt(s, want && i == len(n.Statements)-1)
		}
		return v

	case *ast.If:
		return l.ifStmt(n, want)

	case *ast.While:
		l.loop(n.Cond, n.Body, nil, "while")
		return l.zeroIf(want)

	case *ast.For:
		l.stmt(n.Init, false)
		if l.dead() {
			return ir.NoValue
		}
		l.loop(n.Cond, n.Body, n.Incr, "for")
		return l.zeroIf(want)

	case *ast.Return:
		l.ret(n)
		return ir.NoValue

	case *ast.FuncDecl:
		if l.fn != nil {
			l.unsupported(n, "nested function declaration %s", n.Name)
		}
		idx := l.funcIndex(n.Name)
		l.b.EmitIndexed(ir.OpDefineFunc, idx, nil)
		l.declared[idx] = true
		return l.zeroIf(want)

	case *ast.VarDecl:
		l.assign(n.Name, l.expr(n.Init))
		return l.zeroIf(want)

	case *ast.Write:
		l.write(n)
		return l.zeroIf(want)
	}

	v := l.expr(n)
	if !want {
		return ir.NoValue
	}
	return v
}

func (l *lowerer) newTemp(t types.Type) string {
	l.temps++
	name := fmt.Sprintf("%%t%d", l.temps)
	l.b.DeclareVar(name, t)
	return name
}

func (l *lowerer) ifStmt(n *ast.If, want bool) ir.Value {
	cond := l.expr(n.Cond)

	// The if's value travels through a temporary so the join gets a phi.
	tmp := ""
	if want && l.typeOf(n).Kind() != types.KindVoid {
		tmp = l.newTemp(l.typeOf(n))
		if n.Else == nil {
			l.b.DefVar(tmp, l.zero())
		}
	}

	thenBlk := l.b.NewBlock("if.then")
	var elseBlk *ir.BasicBlock
	if n.Else != nil {
		elseBlk = l.b.NewBlock("if.else")
	}
	join := l.b.NewBlock("if.end")
	if elseBlk == nil {
		elseBlk = join
	}
	l.must(l.b.EmitCondBranch(cond, thenBlk, elseBlk))
	l.must(l.b.SealBlock(thenBlk))
	if n.Else != nil {
		l.must(l.b.SealBlock(elseBlk))
	}

	arm := func(bb *ir.BasicBlock, body ast.Node) {
		l.b.SetBlock(bb)
		v := l.stmt(body, tmp != "")
		if l.dead() {
			return
		}
		if tmp != "" {
			l.b.DefVar(tmp, v)
		}
		l.must(l.b.EmitBranch(join))
	}
	arm(thenBlk, n.Then)
	if n.Else != nil {
		arm(elseBlk, n.Else)
	}

	l.must(l.b.SealBlock(join))
	if len(join.Preds) == 0 {
		l.b.SetBlock(nil)
		return ir.NoValue
	}
	l.b.SetBlock(join)
	if tmp == "" {
		return ir.NoValue
	}
	v, err := l.b.UseVar(tmp)
	l.must(err)
	return v
}

// loop lowers while and for loops. The header is sealed only after the
// back edge from the body has been added.
func (l *lowerer) loop(condNode, body, incr ast.Node, label string) {
	header := l.b.NewBlock(label + ".cond")
	l.must(l.b.EmitBranch(header))
	l.b.SetBlock(header)
	cond := l.expr(condNode)

	bodyBlk := l.b.NewBlock(label + ".body")
	exit := l.b.NewBlock(label + ".end")
	l.must(l.b.EmitCondBranch(cond, bodyBlk, exit))
	l.must(l.b.SealBlock(bodyBlk))

	l.b.SetBlock(bodyBlk)
	l.stmt(body, false)
	if !l.dead() {
		if incr != nil {
			l.expr(incr)
		}
		l.must(l.b.EmitBranch(header))
	}
	l.must(l.b.SealBlock(header))
	l.must(l.b.SealBlock(exit))
	l.b.SetBlock(exit)
}

func (l *lowerer) ret(n *ast.Return) {
	if n.Value == nil {
		l.b.EmitReturn(nil)
		l.b.SetBlock(nil)
		return
	}
	v := l.expr(n.Value)
	if l.fn == nil && !types.Same(v.Type, types.Int) {
		// main reports only integer results.
		l.b.EmitReturn(nil)
	} else {
		l.b.EmitReturn(&v)
	}
	l.b.SetBlock(nil)
}

func (l *lowerer) write(n *ast.Write) {
	v := l.expr(n.Value)
	l.b.EmitIndexed(ir.OpWrite, l.b.InternType(v.Type), nil, v)
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// slot returns the global slot backing name at this point, if any.
func (l *lowerer) slot(name string) (int, bool) {
	if l.fn != nil {
		if _, local := l.fn.Locals[name]; local {
			return 0, false
		}
	}
	idx, ok := l.slots[name]
	return idx, ok
}

func (l *lowerer) assign(name string, v ir.Value) {
	if idx, ok := l.slot(name); ok {
		l.b.EmitIndexed(ir.OpStoreGlobal, idx, nil, v)
		return
	}
	l.b.DefVar(name, v)
}

func (l *lowerer) read(n *ast.VarRef) ir.Value {
	if idx, ok := l.slot(n.Name); ok {
		return l.b.EmitIndexed(ir.OpLoadGlobal, idx, l.typeOf(n))
	}
	v, err := l.b.UseVar(n.Name)
	l.must(err)
	return v
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binOps = map[ast.BinOp]ir.Op{
	ast.Add: ir.OpAdd,
	ast.Sub: ir.OpSub,
	ast.Mul: ir.OpMul,
	ast.Div: ir.OpDiv,
	ast.Mod: ir.OpMod,
	ast.Eq:  ir.OpEq,
	ast.Neq: ir.OpNeq,
	ast.Lt:  ir.OpLt,
	ast.Gt:  ir.OpGt,
	ast.Le:  ir.OpLte,
	ast.Ge:  ir.OpGte,
	ast.And: ir.OpLogAnd,
	ast.Or:  ir.OpLogOr,
}

func (l *lowerer) expr(n ast.Node) ir.Value {
	if l.dead() {
		l.unsupported(n, "expression in unreachable code")
	}
	switch n := n.(type) {
	case *ast.IntLiteral:
		return l.b.EmitConst(ir.Constant{Type: types.Int, Value: n.Value})
	case *ast.FloatLiteral:
		return l.b.EmitConst(ir.Constant{Type: types.Float, Value: n.Value})
	case *ast.BoolLiteral:
		return l.b.EmitConst(ir.Constant{Type: types.Bool, Value: n.Value})
	case *ast.StringLiteral:
		return l.b.EmitConst(ir.Constant{Type: types.String, Value: n.Value})

	case *ast.ArrayLiteral:
		t := l.typeOf(n)
		elems := make([]ir.Value, len(n.Elements))
		for i, e := range n.Elements {
			elems[i] = l.expr(e)
		}
		return l.b.EmitIndexed(ir.OpArrayNew, l.b.InternType(t), t, elems...)

	case *ast.Binary:
		// Both operands are always evaluated, left first.
		left := l.expr(n.Left)
		right := l.expr(n.Right)
		op, ok := binOps[n.Op]
		if !ok {
			l.unsupported(n, "operator %s", n.Op)
		}
		return l.b.Emit(op, l.typeOf(n), left, right)

	case *ast.Unary:
		v := l.expr(n.Operand)
		if n.Op == ast.Neg {
			return l.b.Emit(ir.OpNeg, l.typeOf(n), v)
		}
		return l.b.Emit(ir.OpLogNot, types.Bool, v)

	case *ast.VarRef:
		return l.read(n)

	case *ast.Assign:
		v := l.expr(n.Value)
		l.assign(n.Name, v)
		return v

	case *ast.VarDecl:
		l.assign(n.Name, l.expr(n.Init))
		return l.zero()

	case *ast.Index:
		target := l.expr(n.Target)
		idx := l.expr(n.Index)
		return l.b.Emit(ir.OpIndex, l.typeOf(n), target, idx)

	case *ast.Call:
		idx := l.funcIndex(n.Name)
		if len(n.Args) > 0 && (l.fn != nil || !l.declared[idx]) {
			// The callee must exist before its arguments run.
			l.b.EmitIndexed(ir.OpCheckFunc, idx, nil)
		}
		args := make([]ir.Value, len(n.Args))
		for i, a := range n.Args {
			args[i] = l.expr(a)
		}
		return l.b.EmitCall(idx, l.typeOf(n), args...)

	case *ast.Write:
		l.write(n)
		return l.zero()
	}
	l.unsupported(n, "%T in expression position", n)
	return ir.NoValue
}
