// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-vira library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-vira library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"
	"strings"

	"github.com/vira-lang/go-vira/lang/types"
)

// Function describes a function's location in the code.
type Function struct {
	Name      string
	Entry     int // instruction index of the first instruction
	Params    int // arguments land in R1..R[Params]
	Registers int // registers used, including R0
}

// Program is a loaded, executable unit. Functions[0] is the entry function.
type Program struct {
	Code      []byte   // encoded instructions, 4 bytes each
	Constants []uint64 // constant pool
	Functions []Function
	Types     []types.Type // rendering table for OpWrite
	Globals   []string     // global slot names
	PageSize  int          // arena page size of Data
	Data      [][]byte     // arena pages holding string constants
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Code) / 4 }

// FuncAt returns the index of the function containing instruction pc, or -1.
func (p *Program) FuncAt(pc int) int {
	best := -1
	for i, f := range p.Functions {
		if f.Entry <= pc && (best < 0 || f.Entry > p.Functions[best].Entry) {
			best = i
		}
	}
	return best
}

// Instruction is one decoded instruction, for listings.
type Instruction struct {
	Index int
	Func  string // function the instruction belongs to
	Op    Opcode
	A     uint8
	B     uint8
	C     uint8
	Imm   uint16
}

// Operands renders the operand list in assembler syntax.
func (in Instruction) Operands() string {
	if in.Op.IsWideImmediate() {
		switch in.Op {
		case OpJump, OpDefineFunc, OpCheckFunc:
			return fmt.Sprintf("%d", in.Imm)
		case OpLoadInt:
			return fmt.Sprintf("R%d, %d", in.A, int16(in.Imm))
		}
		return fmt.Sprintf("R%d, %d", in.A, in.Imm)
	}
	switch in.Op.Operands() {
	case 1:
		return fmt.Sprintf("R%d", in.A)
	case 2:
		return fmt.Sprintf("R%d, R%d", in.A, in.B)
	case 3:
		return fmt.Sprintf("R%d, R%d, R%d", in.A, in.B, in.C)
	}
	return ""
}

// Instructions decodes the program's code.
func (p *Program) Instructions() []Instruction {
	out := make([]Instruction, 0, p.Len())
	for i := 0; i+4 <= len(p.Code); i += 4 {
		op, a, b, c, imm := Decode(p.Code[i:])
		in := Instruction{Index: i / 4, Op: op, A: a, B: b, C: c, Imm: imm}
		if f := p.FuncAt(i / 4); f >= 0 {
			in.Func = p.Functions[f].Name
		}
		out = append(out, in)
	}
	return out
}

// Disassemble returns a human-readable listing of code.
func Disassemble(code []byte) string {
	return (&Program{Code: code}).listing()
}

// Disassemble returns a listing of the program with function headers.
func (p *Program) Disassemble() string {
	return p.listing()
}

func (p *Program) listing() string {
	var b strings.Builder
	heads := make(map[int]string)
	for _, f := range p.Functions {
		heads[f.Entry] = f.Name
	}
	for _, in := range p.Instructions() {
		if name, ok := heads[in.Index]; ok {
			fmt.Fprintf(&b, "%s:\n", name)
		}
		fmt.Fprintf(&b, "[%04d] %-20s %s\n", in.Index, in.Op, in.Operands())
	}
	return b.String()
}
