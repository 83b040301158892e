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
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/vira-lang/go-vira/lang/arena"
	"github.com/vira-lang/go-vira/lang/types"
)

// ---- Bytecode builder helpers ----------------------------------------------

func instr(op Opcode, a, b, c uint8) [4]byte { return Encode(op, a, b, c) }

func instrWide(op Opcode, a uint8, imm uint16) [4]byte { return EncodeWide(op, a, imm) }

// small encodes a signed immediate for OpLoadInt.
func small(v int16) uint16 { return uint16(v) }

// code concatenates instruction words into a single bytecode block.
func code(words ...[4]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

// mainOnly wraps code in a program whose only function is main.
func mainOnly(words ...[4]byte) *Program {
	return &Program{
		Code:      code(words...),
		Functions: []Function{{Name: "main", Entry: 0}},
	}
}

func newTestVM(t *testing.T, p *Program, cfg Config) *VM {
	t.Helper()
	v, err := New(p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

// runVM runs the VM and fails the test on error.
func runVM(t *testing.T, p *Program) uint64 {
	t.Helper()
	result, err := newTestVM(t, p, Config{Output: new(bytes.Buffer)}).Run()
	if err != nil {
		t.Fatalf("VM.Run returned unexpected error: %v", err)
	}
	return result
}

// runFault runs the VM and expects a fault wrapping want.
func runFault(t *testing.T, p *Program, cfg Config, want error) *Fault {
	t.Helper()
	if cfg.Output == nil {
		cfg.Output = new(bytes.Buffer)
	}
	_, err := newTestVM(t, p, cfg).Run()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault, got %T", err)
	}
	return f
}

// withStrings returns a program whose constants are references to strs in
// its data section.
func withStrings(p *Program, strs ...string) *Program {
	a := arena.New(0, 0)
	mem := NewMemory(a)
	for _, s := range strs {
		ref, err := mem.NewString(s)
		if err != nil {
			panic(err)
		}
		p.Constants = append(p.Constants, ref)
	}
	p.PageSize = a.PageSize()
	p.Data = a.Pages()
	return p
}

// ---- Opcode metadata -------------------------------------------------------

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpAdd, "ADD"},
		{OpFMod, "FMOD"},
		{OpStrCmp, "STRCMP"},
		{OpLoadInt, "LOAD_INT"},
		{OpArraySet, "ARRAY_SET"},
		{OpCheckFunc, "CHECK_FUNC"},
		{OpWrite, "WRITE"},
		{Opcode(250), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestOpcodeTableComplete(t *testing.T) {
	for op := Opcode(0); op < opcodeCount; op++ {
		if opcodeTable[op].name == "" {
			t.Errorf("opcode %d has no table entry", op)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	w := EncodeWide(OpJump, 3, 0x1234)
	op, a, b, c, imm := Decode(w[:])
	if op != OpJump || a != 3 || b != 0x12 || c != 0x34 || imm != 0x1234 {
		t.Fatalf("decode mismatch: %v %d %x %x %x", op, a, b, c, imm)
	}
}

// ---- Arithmetic ------------------------------------------------------------

func TestIntArithmetic(t *testing.T) {
	tests := []struct {
		op   Opcode
		x, y int16
		want int64
	}{
		{OpAdd, 3, 4, 7},
		{OpSub, 3, 10, -7},
		{OpMul, -6, 7, -42},
		{OpDiv, -7, 2, -3},
		{OpMod, -7, 2, -1},
	}
	for _, tt := range tests {
		p := mainOnly(
			instrWide(OpLoadInt, 1, small(tt.x)),
			instrWide(OpLoadInt, 2, small(tt.y)),
			instr(tt.op, 3, 1, 2),
			instr(OpReturn, 3, 0, 0),
		)
		if got := int64(runVM(t, p)); got != tt.want {
			t.Errorf("%s %d %d = %d, want %d", tt.op, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestNeg(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadInt, 1, small(5)),
		instr(OpNeg, 2, 1, 0),
		instr(OpReturn, 2, 0, 0),
	)
	if got := int64(runVM(t, p)); got != -5 {
		t.Fatalf("got %d, want -5", got)
	}
}

func TestDivByZero(t *testing.T) {
	for _, op := range []Opcode{OpDiv, OpMod} {
		p := mainOnly(
			instrWide(OpLoadInt, 1, small(1)),
			instr(op, 2, 1, 0),
			instr(OpReturn, 2, 0, 0),
		)
		f := runFault(t, p, Config{}, ErrDivisionByZero)
		if f.Func != "main" || f.PC != 1 || f.Op != op {
			t.Errorf("fault location = %s@%d %s", f.Func, f.PC, f.Op)
		}
	}
}

func TestFloatArithmetic(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadConst, 1, 0),
		instrWide(OpLoadConst, 2, 1),
		instr(OpFMul, 3, 1, 2),
		instr(OpFDiv, 4, 3, 0), // 3.0 / 0.0 is +Inf, not a fault
		instr(OpFGt, 5, 4, 3),
		instr(OpReturn, 3, 0, 0),
	)
	p.Constants = []uint64{math.Float64bits(1.5), math.Float64bits(2)}
	if got := math.Float64frombits(runVM(t, p)); got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}

func TestZeroRegister(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadInt, 0, small(5)),
		instr(OpReturn, 0, 0, 0),
	)
	if got := runVM(t, p); got != 0 {
		t.Fatalf("R0 = %d, want 0", got)
	}
}

// ---- Comparison ------------------------------------------------------------

func TestSignedCompare(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadInt, 1, small(-1)),
		instrWide(OpLoadInt, 2, small(1)),
		instr(OpLt, 3, 1, 2),
		instr(OpReturn, 3, 0, 0),
	)
	if got := runVM(t, p); got != 1 {
		t.Fatalf("-1 < 1 = %d, want 1", got)
	}
}

func TestStringOps(t *testing.T) {
	p := withStrings(mainOnly(
		instrWide(OpLoadConst, 1, 0),
		instrWide(OpLoadConst, 2, 1),
		instr(OpStrCmp, 3, 1, 2),
		instr(OpReturn, 3, 0, 0),
	), "apple", "banana")
	if got := int64(runVM(t, p)); got != -1 {
		t.Fatalf("strcmp = %d, want -1", got)
	}
}

// ---- Memory ----------------------------------------------------------------

func TestWriteRendering(t *testing.T) {
	p := withStrings(mainOnly(
		instrWide(OpLoadConst, 1, 0),
		instrWide(OpArrayNew, 2, 2),
		instrWide(OpLoadInt, 3, small(0)),
		instr(OpArraySet, 2, 3, 1),
		instrWide(OpLoadInt, 3, small(1)),
		instr(OpConcat, 4, 1, 1),
		instr(OpArraySet, 2, 3, 4),
		instrWide(OpWrite, 2, 0),
		instrWide(OpWrite, 1, 1),
		instrWide(OpLoadConst, 5, 1),
		instrWide(OpWrite, 5, 2),
		instr(OpReturn, 0, 0, 0),
	), "hi")
	p.Constants = append(p.Constants, math.Float64bits(3))
	p.Types = []types.Type{types.NewArray(types.String), types.String, types.Float}

	var out bytes.Buffer
	if _, err := newTestVM(t, p, Config{Output: &out}).Run(); err != nil {
		t.Fatal(err)
	}
	if want := "[\"hi\", \"hihi\"]\nhi\n3.0\n"; out.String() != want {
		t.Fatalf("output %q, want %q", out.String(), want)
	}
}

func TestArrayBounds(t *testing.T) {
	for _, idx := range []int16{2, -1} {
		p := mainOnly(
			instrWide(OpArrayNew, 1, 2),
			instrWide(OpLoadInt, 2, small(idx)),
			instr(OpArrayGet, 3, 1, 2),
			instr(OpReturn, 3, 0, 0),
		)
		runFault(t, p, Config{}, ErrIndexOutOfBounds)
	}
}

func TestMemoryLimit(t *testing.T) {
	p := mainOnly(
		instrWide(OpArrayNew, 1, 60000),
		instrWide(OpJump, 0, 0),
	)
	runFault(t, p, Config{MemoryLimit: 1 << 20}, ErrOutOfMemory)
}

// ---- Globals ---------------------------------------------------------------

func TestGlobals(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadInt, 1, small(5)),
		instrWide(OpStoreGlobal, 1, 0),
		instrWide(OpLoadGlobal, 2, 0),
		instr(OpReturn, 2, 0, 0),
	)
	p.Globals = []string{"x"}
	if got := runVM(t, p); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestUndefinedGlobal(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadGlobal, 1, 0),
		instr(OpReturn, 1, 0, 0),
	)
	p.Globals = []string{"counter"}
	f := runFault(t, p, Config{}, ErrUndefinedVariable)
	if !strings.Contains(f.Error(), "counter") {
		t.Errorf("fault %q does not name the variable", f.Error())
	}
}

// ---- Calls -----------------------------------------------------------------

func callProgram(declare bool) *Program {
	first := instrWide(OpDefineFunc, 0, 1)
	if !declare {
		first = instr(OpMove, 0, 0, 0)
	}
	return &Program{
		Code: code(
			first,
			instrWide(OpLoadInt, 1, small(20)),
			instrWide(OpLoadInt, 2, small(22)),
			instr(OpPush, 1, 0, 0),
			instr(OpPush, 2, 0, 0),
			instrWide(OpCall, 3, 1),
			instr(OpAdd, 3, 3, 1), // caller registers survive the call
			instr(OpReturn, 3, 0, 0),
			// sub(a, b)
			instr(OpSub, 3, 1, 2),
			instr(OpReturn, 3, 0, 0),
		),
		Functions: []Function{
			{Name: "main", Entry: 0},
			{Name: "sub", Entry: 8, Params: 2, Registers: 4},
		},
	}
}

func TestCall(t *testing.T) {
	if got := int64(runVM(t, callProgram(true))); got != 18 {
		t.Fatalf("got %d, want 18", got)
	}
}

func TestCallUndeclared(t *testing.T) {
	f := runFault(t, callProgram(false), Config{}, ErrUndefinedFunction)
	if f.PC != 5 {
		t.Errorf("fault at %d, want 5", f.PC)
	}
}

func TestCallDepth(t *testing.T) {
	p := &Program{
		Code: code(
			instrWide(OpDefineFunc, 0, 1),
			instrWide(OpCall, 1, 1),
			instr(OpReturn, 1, 0, 0),
			// loop()
			instrWide(OpCall, 1, 1),
			instr(OpReturn, 1, 0, 0),
		),
		Functions: []Function{{Name: "main"}, {Name: "loop", Entry: 3}},
	}
	f := runFault(t, p, Config{MaxCallDepth: 10}, ErrCallDepthExceeded)
	if f.Func != "loop" {
		t.Errorf("fault in %s, want loop", f.Func)
	}
}

// ---- Gas -------------------------------------------------------------------

func TestOutOfGas(t *testing.T) {
	p := mainOnly(instrWide(OpJump, 0, 0))
	runFault(t, p, Config{GasLimit: 100}, ErrOutOfGas)
}

func TestGasAccounting(t *testing.T) {
	p := mainOnly(
		instrWide(OpLoadInt, 1, small(1)),
		instr(OpAdd, 1, 1, 1),
		instr(OpReturn, 1, 0, 0),
	)
	v := newTestVM(t, p, Config{})
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if want := gasTrivial + gasArithmetic + gasTrivial; v.GasUsed() != want {
		t.Fatalf("gas used %d, want %d", v.GasUsed(), want)
	}
	if err := v.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step after halt: %v", err)
	}
}

func TestInvalidOpcode(t *testing.T) {
	p := &Program{Code: []byte{0xEE, 0, 0, 0}, Functions: []Function{{Name: "main"}}}
	runFault(t, p, Config{}, ErrInvalidOpcode)
}

// ---- Disassembly -----------------------------------------------------------

func TestDisassemble(t *testing.T) {
	out := callProgram(true).Disassemble()
	for _, want := range []string{
		"main:\n",
		"sub:\n",
		"[0005] CALL                 R3, 1",
		"[0008] SUB                  R3, R1, R2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
	if got := Disassemble(code(instrWide(OpLoadInt, 1, small(-3)))); !strings.Contains(got, "R1, -3") {
		t.Errorf("LOAD_INT immediate not signed: %q", got)
	}
}
