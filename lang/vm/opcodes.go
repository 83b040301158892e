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

// Package vm implements the register-based virtual machine that runs
// compiled Vira programs. Each call frame owns a window of 256 64-bit
// registers and instructions use a 4-byte fixed-width 3-address encoding:
// [opcode:8][a:8][b:8][c:8].
//
// For instructions requiring wider operands (jump targets, constant and
// table indices), the encoding is: [opcode:8][a:8][immediate:16].
//
// Registers are untyped words. Ints are two's complement, floats are IEEE
// bits, bools are 0 or 1, and strings and arrays are arena references.
package vm

// Opcode is an 8-bit instruction code.
type Opcode uint8

const (
	// ---- Integer arithmetic (register-register) ----------------------------
	// Result is stored in R[a]; operands are R[b] and R[c].

	// OpAdd performs R[a] = R[b] + R[c] (signed 64-bit wrapping).
	OpAdd Opcode = iota
	// OpSub performs R[a] = R[b] - R[c].
	OpSub
	// OpMul performs R[a] = R[b] * R[c].
	OpMul
	// OpDiv performs R[a] = R[b] / R[c]; traps on division by zero.
	OpDiv
	// OpMod performs R[a] = R[b] % R[c]; traps on division by zero.
	OpMod
	// OpNeg performs R[a] = -R[b].
	OpNeg

	// ---- Float arithmetic --------------------------------------------------

	// OpFAdd performs R[a] = R[b] + R[c] on float64 bits.
	OpFAdd
	// OpFSub performs R[a] = R[b] - R[c].
	OpFSub
	// OpFMul performs R[a] = R[b] * R[c].
	OpFMul
	// OpFDiv performs R[a] = R[b] / R[c] (IEEE; no trap).
	OpFDiv
	// OpFMod performs R[a] = math.Mod(R[b], R[c]).
	OpFMod
	// OpFNeg performs R[a] = -R[b].
	OpFNeg

	// ---- Bitwise (bools are 0/1) -------------------------------------------

	// OpAnd performs R[a] = R[b] & R[c].
	OpAnd
	// OpOr performs R[a] = R[b] | R[c].
	OpOr
	// OpXor performs R[a] = R[b] ^ R[c].
	OpXor

	// ---- Integer comparison (signed; result in R[a] as 0 or 1) -------------

	// OpEq performs R[a] = 1 if R[b] == R[c], else 0.
	OpEq
	// OpNeq performs R[a] = 1 if R[b] != R[c], else 0.
	OpNeq
	// OpLt performs R[a] = 1 if R[b] < R[c], else 0.
	OpLt
	// OpLte performs R[a] = 1 if R[b] <= R[c], else 0.
	OpLte
	// OpGt performs R[a] = 1 if R[b] > R[c], else 0.
	OpGt
	// OpGte performs R[a] = 1 if R[b] >= R[c], else 0.
	OpGte

	// ---- Float comparison --------------------------------------------------

	// OpFEq performs R[a] = 1 if R[b] == R[c] as floats.
	OpFEq
	// OpFNeq performs R[a] = 1 if R[b] != R[c] as floats.
	OpFNeq
	// OpFLt performs R[a] = 1 if R[b] < R[c] as floats.
	OpFLt
	// OpFLte performs R[a] = 1 if R[b] <= R[c] as floats.
	OpFLte
	// OpFGt performs R[a] = 1 if R[b] > R[c] as floats.
	OpFGt
	// OpFGte performs R[a] = 1 if R[b] >= R[c] as floats.
	OpFGte

	// ---- Strings -----------------------------------------------------------

	// OpConcat stores a new string R[b] + R[c] in R[a].
	OpConcat
	// OpStrCmp performs R[a] = -1, 0 or 1 comparing strings R[b] and R[c].
	OpStrCmp

	// ---- Load/Store --------------------------------------------------------

	// OpLoadConst loads R[a] = Constants[imm16].
	OpLoadConst
	// OpLoadInt loads R[a] = imm16 sign-extended to 64 bits.
	OpLoadInt
	// OpLoadTrue sets R[a] = 1.
	OpLoadTrue
	// OpLoadFalse sets R[a] = 0.
	OpLoadFalse
	// OpMove performs R[a] = R[b].
	OpMove

	// ---- Arrays ------------------------------------------------------------

	// OpArrayNew allocates an array of imm16 zero elements into R[a].
	OpArrayNew
	// OpArrayGet loads R[a] = Array(R[b])[R[c]]; traps when out of bounds.
	OpArrayGet
	// OpArraySet stores R[c] into Array(R[a])[R[b]].
	OpArraySet

	// ---- Globals -----------------------------------------------------------

	// OpLoadGlobal loads R[a] = Globals[imm16]; traps if never stored.
	OpLoadGlobal
	// OpStoreGlobal stores Globals[imm16] = R[a].
	OpStoreGlobal

	// ---- Control flow ------------------------------------------------------

	// OpJump sets PC = imm16 (instruction index).
	OpJump
	// OpJumpIf sets PC = imm16 if R[a] != 0.
	OpJumpIf
	// OpJumpIfNot sets PC = imm16 if R[a] == 0.
	OpJumpIfNot
	// OpCall invokes function imm16 with arguments popped from the value
	// stack into R1..Rn of a fresh register window. R[a] receives the result.
	OpCall
	// OpReturn ends the current function, returning R[a] to the caller.
	OpReturn
	// OpHalt stops execution. R[a] is the result.
	OpHalt
	// OpDefineFunc marks function imm16 as declared.
	OpDefineFunc
	// OpCheckFunc traps unless function imm16 has been declared.
	OpCheckFunc

	// ---- Value stack -------------------------------------------------------

	// OpPush pushes R[a] onto the value stack.
	OpPush
	// OpPop pops the top of the value stack into R[a].
	OpPop

	// ---- Output ------------------------------------------------------------

	// OpWrite prints R[a] rendered as Types[imm16], followed by a newline.
	OpWrite

	// opcodeCount must remain the last constant; it gives the total number of
	// defined opcodes and is used for table bounds checks.
	opcodeCount
)

// opcodeInfo groups the human-readable name and operand count for an opcode.
type opcodeInfo struct {
	name     string
	operands int
}

// opcodeTable maps every defined Opcode to its name and operand count.
// Wide-immediate instructions are encoded as 2 operands: a register plus a
// 16-bit immediate.
var opcodeTable = [opcodeCount]opcodeInfo{
	OpAdd: {"ADD", 3},
	OpSub: {"SUB", 3},
	OpMul: {"MUL", 3},
	OpDiv: {"DIV", 3},
	OpMod: {"MOD", 3},
	OpNeg: {"NEG", 2},

	OpFAdd: {"FADD", 3},
	OpFSub: {"FSUB", 3},
	OpFMul: {"FMUL", 3},
	OpFDiv: {"FDIV", 3},
	OpFMod: {"FMOD", 3},
	OpFNeg: {"FNEG", 2},

	OpAnd: {"AND", 3},
	OpOr:  {"OR", 3},
	OpXor: {"XOR", 3},

	OpEq:  {"EQ", 3},
	OpNeq: {"NEQ", 3},
	OpLt:  {"LT", 3},
	OpLte: {"LTE", 3},
	OpGt:  {"GT", 3},
	OpGte: {"GTE", 3},

	OpFEq:  {"FEQ", 3},
	OpFNeq: {"FNEQ", 3},
	OpFLt:  {"FLT", 3},
	OpFLte: {"FLTE", 3},
	OpFGt:  {"FGT", 3},
	OpFGte: {"FGTE", 3},

	OpConcat: {"CONCAT", 3},
	OpStrCmp: {"STRCMP", 3},

	OpLoadConst: {"LOAD_CONST", 2},
	OpLoadInt:   {"LOAD_INT", 2},
	OpLoadTrue:  {"LOAD_TRUE", 1},
	OpLoadFalse: {"LOAD_FALSE", 1},
	OpMove:      {"MOVE", 2},

	OpArrayNew: {"ARRAY_NEW", 2},
	OpArrayGet: {"ARRAY_GET", 3},
	OpArraySet: {"ARRAY_SET", 3},

	OpLoadGlobal:  {"LOAD_GLOBAL", 2},
	OpStoreGlobal: {"STORE_GLOBAL", 2},

	OpJump:       {"JUMP", 1}, // imm16 target
	OpJumpIf:     {"JUMP_IF", 2},
	OpJumpIfNot:  {"JUMP_IF_NOT", 2},
	OpCall:       {"CALL", 2},
	OpReturn:     {"RETURN", 1},
	OpHalt:       {"HALT", 1},
	OpDefineFunc: {"DEFINE_FUNC", 1},
	OpCheckFunc:  {"CHECK_FUNC", 1},

	OpPush: {"PUSH", 1},
	OpPop:  {"POP", 1},

	OpWrite: {"WRITE", 2},
}

// String returns the mnemonic name of the opcode.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Operands returns the number of explicit operands encoded in the instruction
// word for the opcode.
func (op Opcode) Operands() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].operands
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// IsWideImmediate reports whether the opcode uses the [op:8][a:8][imm:16]
// encoding rather than the standard [op:8][a:8][b:8][c:8] form.
func (op Opcode) IsWideImmediate() bool {
	switch op {
	case OpLoadConst, OpLoadInt, OpArrayNew, OpLoadGlobal, OpStoreGlobal,
		OpJump, OpJumpIf, OpJumpIfNot, OpCall, OpDefineFunc, OpCheckFunc, OpWrite:
		return true
	}
	return false
}

// IsJump reports whether the immediate of op is an instruction index.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIf || op == OpJumpIfNot
}

// Encode packs a 3-address instruction into its 4-byte form.
func Encode(op Opcode, a, b, c uint8) [4]byte {
	return [4]byte{byte(op), a, b, c}
}

// EncodeWide packs a wide-immediate instruction. The immediate is stored
// big-endian in the b and c bytes.
func EncodeWide(op Opcode, a uint8, imm uint16) [4]byte {
	return [4]byte{byte(op), a, byte(imm >> 8), byte(imm)}
}

// Decode splits an instruction word into its fields.
func Decode(word []byte) (op Opcode, a, b, c uint8, imm16 uint16) {
	op, a, b, c = Opcode(word[0]), word[1], word[2], word[3]
	return op, a, b, c, uint16(b)<<8 | uint16(c)
}
