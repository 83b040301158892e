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

	"github.com/vira-lang/go-vira/lang/ir"
)

const (
	// firstReg is the lowest allocatable register; R0 reads as zero.
	firstReg = 1
	// scratchReg is reserved for edge copies and immediate operands.
	scratchReg = 255
	// maxLive is the number of values that can be live at once.
	maxLive = scratchReg - firstReg
)

// interval is the hull of program positions where a value is live.
type interval struct {
	id         int
	start, end int
	reg        uint8
}

// allocation maps SSA values of one function to registers.
type allocation struct {
	regs    map[int]uint8
	maxUsed uint8
}

func (a *allocation) reg(v ir.Value) uint8 {
	if !v.Valid() {
		return 0
	}
	return a.regs[v.ID]
}

// numbering assigns linear positions: each block gets a start slot, one slot
// per non-phi instruction and an end slot where terminators and outgoing
// phi copies happen.
type numbering struct {
	start, end map[*ir.BasicBlock]int
	inst       map[*ir.Instruction]int
}

func number(fn *ir.Function) *numbering {
	n := &numbering{
		start: make(map[*ir.BasicBlock]int),
		end:   make(map[*ir.BasicBlock]int),
		inst:  make(map[*ir.Instruction]int),
	}
	pos := 0
	for _, bb := range fn.Blocks {
		n.start[bb] = pos
		pos++
		for _, inst := range bb.Instructions {
			if inst.Op == ir.OpPhi {
				continue
			}
			n.inst[inst] = pos
			pos++
		}
		n.end[bb] = pos
		pos++
	}
	return n
}

type valueSet map[int]bool

func (s valueSet) addAll(o valueSet) bool {
	changed := false
	for id := range o {
		if !s[id] {
			s[id] = true
			changed = true
		}
	}
	return changed
}

// terminatorUses returns the values a terminator reads.
func terminatorUses(t ir.Terminator) []ir.Value {
	switch t := t.(type) {
	case *ir.TermReturn:
		if t.Value != nil && t.Value.Valid() {
			return []ir.Value{*t.Value}
		}
	case *ir.TermCondBranch:
		return []ir.Value{t.Cond}
	}
	return nil
}

// predIndex returns the position of pred in bb.Preds, which is also the
// operand position of pred's value in each phi of bb.
func predIndex(bb, pred *ir.BasicBlock) int {
	for i, p := range bb.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// liveness computes the live-in and live-out sets of each block.
func liveness(fn *ir.Function) (liveIn, liveOut map[*ir.BasicBlock]valueSet) {
	use := make(map[*ir.BasicBlock]valueSet)
	def := make(map[*ir.BasicBlock]valueSet)
	for _, bb := range fn.Blocks {
		u, d := valueSet{}, valueSet{}
		for _, inst := range bb.Instructions {
			if inst.Op != ir.OpPhi {
				for _, op := range inst.Operands {
					if op.Valid() && !d[op.ID] {
						u[op.ID] = true
					}
				}
			}
			if inst.Result.Valid() {
				d[inst.Result.ID] = true
			}
		}
		for _, v := range terminatorUses(bb.Terminator) {
			if !d[v.ID] {
				u[v.ID] = true
			}
		}
		use[bb], def[bb] = u, d
	}

	liveIn = make(map[*ir.BasicBlock]valueSet)
	liveOut = make(map[*ir.BasicBlock]valueSet)
	for _, bb := range fn.Blocks {
		liveIn[bb], liveOut[bb] = valueSet{}, valueSet{}
	}
	for changed := true; changed; {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			bb := fn.Blocks[i]
			out := liveOut[bb]
			for _, s := range bb.Succs {
				if out.addAll(liveIn[s]) {
					changed = true
				}
				k := predIndex(s, bb)
				for _, phi := range s.Phis() {
					if op := phi.Operands[k]; op.Valid() && !out[op.ID] {
						out[op.ID] = true
						changed = true
					}
				}
			}
			in := liveIn[bb]
			if in.addAll(use[bb]) {
				changed = true
			}
			for id := range out {
				if !def[bb][id] && !in[id] {
					in[id] = true
					changed = true
				}
			}
		}
	}
	return liveIn, liveOut
}

// buildIntervals computes one live interval per SSA value.
func buildIntervals(fn *ir.Function) []*interval {
	num := number(fn)
	liveIn, liveOut := liveness(fn)

	byID := make(map[int]*interval)
	touch := func(id, pos int) {
		iv, ok := byID[id]
		if !ok {
			byID[id] = &interval{id: id, start: pos, end: pos}
			return
		}
		if pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
	}

	for _, p := range fn.Params {
		touch(p.ID, 0)
	}
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if inst.Op == ir.OpPhi {
				touch(inst.Result.ID, num.start[bb])
				for k, op := range inst.Operands {
					pred := bb.Preds[k]
					touch(op.ID, num.end[pred])
					// The phi register is written on the edge.
					touch(inst.Result.ID, num.end[pred])
				}
				continue
			}
			pos := num.inst[inst]
			for _, op := range inst.Operands {
				if op.Valid() {
					touch(op.ID, pos)
				}
			}
			if inst.Result.Valid() {
				touch(inst.Result.ID, pos)
			}
		}
		for _, v := range terminatorUses(bb.Terminator) {
			touch(v.ID, num.end[bb])
		}
		for id := range liveIn[bb] {
			touch(id, num.start[bb])
		}
		for id := range liveOut[bb] {
			touch(id, num.end[bb])
		}
	}

	out := make([]*interval, 0, len(byID))
	for _, iv := range byID {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].id < out[j].id
	})
	return out
}

// allocate assigns registers by linear scan over live intervals. Parameters
// start at position zero with the lowest IDs, so they receive R1..Rn in
// order, which is where CALL places arguments.
func allocate(fn *ir.Function) (*allocation, error) {
	intervals := buildIntervals(fn)
	alloc := &allocation{regs: make(map[int]uint8, len(intervals))}

	var active []*interval
	var inUse [scratchReg]bool
	for _, iv := range intervals {
		kept := active[:0]
		for _, a := range active {
			if a.end < iv.start {
				inUse[a.reg] = false
				continue
			}
			kept = append(kept, a)
		}
		active = kept

		reg := 0
		for r := firstReg; r < scratchReg; r++ {
			if !inUse[r] {
				reg = r
				break
			}
		}
		if reg == 0 {
			return nil, &UnsupportedError{Msg: fmt.Sprintf("%s needs more than %d live values", fn.Name, maxLive)}
		}
		iv.reg = uint8(reg)
		inUse[reg] = true
		active = append(active, iv)
		alloc.regs[iv.id] = iv.reg
		if iv.reg > alloc.maxUsed {
			alloc.maxUsed = iv.reg
		}
	}
	for i, p := range fn.Params {
		if alloc.regs[p.ID] != uint8(firstReg+i) {
			return nil, fmt.Errorf("codegen: parameter %s of %s not in R%d", p, fn.Name, firstReg+i)
		}
	}
	return alloc, nil
}

// ---------------------------------------------------------------------------
// Parallel copies
// ---------------------------------------------------------------------------

// move is one register transfer on a control-flow edge.
type move struct{ dst, src uint8 }

// edgeMoves returns the phi copies for the edge from pred to succ.
func edgeMoves(alloc *allocation, pred, succ *ir.BasicBlock) []move {
	k := predIndex(succ, pred)
	var moves []move
	for _, phi := range succ.Phis() {
		dst, src := alloc.reg(phi.Result), alloc.reg(phi.Operands[k])
		if dst != src {
			moves = append(moves, move{dst: dst, src: src})
		}
	}
	return moves
}

// sequentialize orders parallel moves so no source is overwritten before it
// is read, breaking cycles through the scratch register.
func sequentialize(moves []move) []move {
	pending := append([]move(nil), moves...)
	var out []move
	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			blocked := false
			for j, o := range pending {
				if j != i && o.src == m.dst {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
			out = append(out, m)
			pending = append(pending[:i], pending[i+1:]...)
			i--
			progress = true
		}
		if progress {
			continue
		}
		// Every remaining move is part of a cycle.
		m := pending[0]
		out = append(out, move{dst: scratchReg, src: m.src})
		for i := range pending {
			if pending[i].src == m.src {
				pending[i].src = scratchReg
			}
		}
	}
	return out
}
