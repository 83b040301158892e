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
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/vira-lang/go-vira/lang/arena"
)

// ---- Error sentinels -------------------------------------------------------

// ErrOutOfGas is returned when a VM execution exhausts its gas limit.
var ErrOutOfGas = errors.New("vm: out of gas")

// ErrHalted is returned when Step is called on a halted VM.
var ErrHalted = errors.New("vm: already halted")

// ErrDivisionByZero is returned by OpDiv / OpMod when the divisor is zero.
var ErrDivisionByZero = errors.New("vm: division by zero")

// ErrIndexOutOfBounds is returned by array accesses outside the array.
var ErrIndexOutOfBounds = errors.New("vm: index out of bounds")

// ErrUndefinedVariable is returned when a global slot is read before any
// store.
var ErrUndefinedVariable = errors.New("vm: undefined variable")

// ErrUndefinedFunction is returned when a function is called before its
// declaration ran.
var ErrUndefinedFunction = errors.New("vm: undefined function")

// ErrCallDepthExceeded is returned when the call stack grows past its bound.
var ErrCallDepthExceeded = errors.New("vm: call depth exceeded")

// ErrInvalidOpcode is returned when the fetched byte does not correspond to a
// known opcode.
var ErrInvalidOpcode = errors.New("vm: invalid opcode")

// ErrStackUnderflow is returned when the value stack holds too few values.
var ErrStackUnderflow = errors.New("vm: stack underflow")

// ErrOutOfMemory is returned when an allocation would exceed the memory limit.
var ErrOutOfMemory = errors.New("vm: out of memory")

// Fault is an execution error annotated with where it happened.
type Fault struct {
	Func string
	PC   int // instruction index
	Op   Opcode
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%v (in %s at [%04d] %s)", f.Err, f.Func, f.PC, f.Op)
}

func (f *Fault) Unwrap() error { return f.Err }

// ---- Gas costs -------------------------------------------------------------

const (
	gasTrivial    uint64 = 1  // cheap single-cycle ops
	gasArithmetic uint64 = 3  // add, sub, etc.
	gasMul        uint64 = 5  // multiply
	gasDivMod     uint64 = 10 // divide, modulo
	gasBitwise    uint64 = 2  // and, or, xor
	gasMemOp      uint64 = 5  // allocation and element access
	gasJump       uint64 = 3  // any branch
	gasCall       uint64 = 20 // function call overhead
	gasWrite      uint64 = 50 // output
)

// DefaultMaxCallDepth bounds recursion when no limit is configured.
const DefaultMaxCallDepth = 1024

// windowSize is the number of registers in one frame.
const windowSize = 256

var zeroWindow [windowSize]uint64

// ---- Frame -----------------------------------------------------------------

// frame captures the state needed to resume a caller after a CALL returns.
type frame struct {
	fn        int    // function index
	base      int    // first register of the window
	returnPC  uint32 // PC to restore in the caller
	returnReg uint8  // caller register receiving the return value
}

// Config tunes a VM instance.
type Config struct {
	GasLimit     uint64    // 0 means unlimited
	MaxCallDepth int       // 0 selects DefaultMaxCallDepth
	MemoryLimit  uint64    // 0 selects DefaultMemoryLimit
	Output       io.Writer // write destination; os.Stdout when nil
}

// ---- VM --------------------------------------------------------------------

// VM executes a Program.
//
// Instruction encoding (4 bytes per instruction, fixed width):
//
//	Standard 3-address:  [opcode:8][a:8][b:8][c:8]
//	Wide-immediate:      [opcode:8][a:8][imm_hi:8][imm_lo:8]  → imm16 = (imm_hi<<8)|imm_lo
//
// Every frame sees 256 registers identified by an 8-bit index. Register 0
// (R0) is a zero register whose writes are silently discarded; reads always
// return 0.
type VM struct {
	prog      *Program
	registers []uint64 // register windows, one per frame
	base      int      // window of the running frame
	pc        uint32   // byte offset of the next instruction word
	lastPC    uint32   // byte offset of the instruction being executed
	memory    *Memory
	stack     []uint64 // value stack used by PUSH/POP and calls
	frames    []frame
	globals   []uint64
	defined   []bool // global slot stored at least once
	declared  []bool // function declaration executed
	halted    bool
	result    uint64
	gasUsed   uint64
	gasLimit  uint64
	maxDepth  int
	out       io.Writer
}

// New creates a VM ready to run prog from its first function. The data
// section is copied into the VM's own memory.
func New(prog *Program, cfg Config) (*VM, error) {
	if len(prog.Functions) == 0 {
		return nil, errors.New("vm: program has no functions")
	}
	limit := cfg.MemoryLimit
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	mem, err := arena.Restore(prog.PageSize, limit, prog.Data)
	if err != nil {
		return nil, fmt.Errorf("vm: loading data: %w", err)
	}
	vm := &VM{
		prog:     prog,
		memory:   NewMemory(mem),
		stack:    make([]uint64, 0, 32),
		frames:   make([]frame, 0, 16),
		globals:  make([]uint64, len(prog.Globals)),
		defined:  make([]bool, len(prog.Globals)),
		declared: make([]bool, len(prog.Functions)),
		gasLimit: cfg.GasLimit,
		maxDepth: cfg.MaxCallDepth,
		out:      cfg.Output,
	}
	if vm.maxDepth <= 0 {
		vm.maxDepth = DefaultMaxCallDepth
	}
	if vm.out == nil {
		vm.out = os.Stdout
	}
	vm.enter(0, 0, 0)
	return vm, nil
}

// GasUsed returns the total gas consumed so far.
func (vm *VM) GasUsed() uint64 { return vm.gasUsed }

// PC returns the current program counter as an instruction index.
func (vm *VM) PC() int { return int(vm.pc / 4) }

// Halted reports whether the VM has halted.
func (vm *VM) Halted() bool { return vm.halted }

// Register returns register idx of the running frame.
func (vm *VM) Register(idx uint8) uint64 { return vm.registers[vm.base+int(idx)] }

// Memory exposes the VM's object store.
func (vm *VM) Memory() *Memory { return vm.memory }

// Run executes until the entry function returns, a HALT, or a fault. It
// returns the entry function's result.
func (vm *VM) Run() (uint64, error) {
	for !vm.halted {
		if err := vm.Step(); err != nil {
			return 0, vm.fault(err)
		}
	}
	return vm.result, nil
}

func (vm *VM) fault(err error) error {
	if errors.Is(err, ErrHalted) {
		return err
	}
	pc := int(vm.lastPC / 4)
	f := &Fault{PC: pc, Err: err}
	if int(vm.lastPC)+4 <= len(vm.prog.Code) {
		f.Op = Opcode(vm.prog.Code[vm.lastPC])
	}
	if len(vm.frames) > 0 {
		f.Func = vm.prog.Functions[vm.frames[len(vm.frames)-1].fn].Name
	}
	return f
}

// Step fetches, decodes, and executes exactly one instruction.
func (vm *VM) Step() error {
	if vm.halted {
		return ErrHalted
	}

	// ---- Fetch ----
	if int(vm.pc)+4 > len(vm.prog.Code) {
		return fmt.Errorf("vm: PC %d is past end of code (%d bytes)", vm.pc, len(vm.prog.Code))
	}
	vm.lastPC = vm.pc
	op, a, b, c, imm16 := Decode(vm.prog.Code[vm.pc:])
	vm.pc += 4

	// ---- Execute ----
	return vm.execute(op, a, b, c, imm16)
}

// setReg writes v to register idx, silently discarding writes to R0.
func (vm *VM) setReg(idx uint8, v uint64) {
	if idx != 0 {
		vm.registers[vm.base+int(idx)] = v
	}
}

// getReg reads register idx (R0 always returns 0).
func (vm *VM) getReg(idx uint8) uint64 {
	return vm.registers[vm.base+int(idx)]
}

func (vm *VM) getInt(idx uint8) int64 { return int64(vm.getReg(idx)) }

func (vm *VM) getFloat(idx uint8) float64 { return math.Float64frombits(vm.getReg(idx)) }

func (vm *VM) setInt(idx uint8, v int64) { vm.setReg(idx, uint64(v)) }

func (vm *VM) setFloat(idx uint8, v float64) { vm.setReg(idx, math.Float64bits(v)) }

func (vm *VM) setBool(idx uint8, v bool) {
	if v {
		vm.setReg(idx, 1)
	} else {
		vm.setReg(idx, 0)
	}
}

// useGas deducts cost from the gas budget. A zero limit is unlimited.
func (vm *VM) useGas(cost uint64) error {
	vm.gasUsed += cost
	if vm.gasLimit > 0 && vm.gasUsed > vm.gasLimit {
		vm.halted = true
		return ErrOutOfGas
	}
	return nil
}

// enter pushes a frame for function fn with a fresh register window.
func (vm *VM) enter(fn int, returnPC uint32, returnReg uint8) {
	base := 0
	if len(vm.frames) > 0 {
		base = vm.frames[len(vm.frames)-1].base + windowSize
	}
	if need := base + windowSize; len(vm.registers) < need {
		vm.registers = append(vm.registers, make([]uint64, need-len(vm.registers))...)
	}
	copy(vm.registers[base:base+windowSize], zeroWindow[:])
	vm.frames = append(vm.frames, frame{fn: fn, base: base, returnPC: returnPC, returnReg: returnReg})
	vm.base = base
	vm.pc = uint32(vm.prog.Functions[fn].Entry) * 4
}

func (vm *VM) jump(target uint16) error {
	to := uint32(target) * 4
	if int(to) >= len(vm.prog.Code) {
		return fmt.Errorf("vm: jump target %d out of range", target)
	}
	vm.pc = to
	return nil
}

// execute dispatches the decoded instruction to its handler.
//
//nolint:gocyclo
func (vm *VM) execute(op Opcode, a, b, c uint8, imm16 uint16) error {
	switch op {

	// ---- Integer arithmetic ------------------------------------------------

	case OpAdd:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setInt(a, vm.getInt(b)+vm.getInt(c))

	case OpSub:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setInt(a, vm.getInt(b)-vm.getInt(c))

	case OpMul:
		if err := vm.useGas(gasMul); err != nil {
			return err
		}
		vm.setInt(a, vm.getInt(b)*vm.getInt(c))

	case OpDiv:
		if err := vm.useGas(gasDivMod); err != nil {
			return err
		}
		divisor := vm.getInt(c)
		if divisor == 0 {
			return ErrDivisionByZero
		}
		vm.setInt(a, vm.getInt(b)/divisor)

	case OpMod:
		if err := vm.useGas(gasDivMod); err != nil {
			return err
		}
		divisor := vm.getInt(c)
		if divisor == 0 {
			return ErrDivisionByZero
		}
		vm.setInt(a, vm.getInt(b)%divisor)

	case OpNeg:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setInt(a, -vm.getInt(b))

	// ---- Float arithmetic --------------------------------------------------

	case OpFAdd:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setFloat(a, vm.getFloat(b)+vm.getFloat(c))

	case OpFSub:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setFloat(a, vm.getFloat(b)-vm.getFloat(c))

	case OpFMul:
		if err := vm.useGas(gasMul); err != nil {
			return err
		}
		vm.setFloat(a, vm.getFloat(b)*vm.getFloat(c))

	case OpFDiv:
		if err := vm.useGas(gasDivMod); err != nil {
			return err
		}
		vm.setFloat(a, vm.getFloat(b)/vm.getFloat(c))

	case OpFMod:
		if err := vm.useGas(gasDivMod); err != nil {
			return err
		}
		vm.setFloat(a, math.Mod(vm.getFloat(b), vm.getFloat(c)))

	case OpFNeg:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setFloat(a, -vm.getFloat(b))

	// ---- Bitwise -----------------------------------------------------------

	case OpAnd:
		if err := vm.useGas(gasBitwise); err != nil {
			return err
		}
		vm.setReg(a, vm.getReg(b)&vm.getReg(c))

	case OpOr:
		if err := vm.useGas(gasBitwise); err != nil {
			return err
		}
		vm.setReg(a, vm.getReg(b)|vm.getReg(c))

	case OpXor:
		if err := vm.useGas(gasBitwise); err != nil {
			return err
		}
		vm.setReg(a, vm.getReg(b)^vm.getReg(c))

	// ---- Comparison --------------------------------------------------------

	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		x, y := vm.getInt(b), vm.getInt(c)
		switch op {
		case OpEq:
			vm.setBool(a, x == y)
		case OpNeq:
			vm.setBool(a, x != y)
		case OpLt:
			vm.setBool(a, x < y)
		case OpLte:
			vm.setBool(a, x <= y)
		case OpGt:
			vm.setBool(a, x > y)
		default:
			vm.setBool(a, x >= y)
		}

	case OpFEq, OpFNeq, OpFLt, OpFLte, OpFGt, OpFGte:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		x, y := vm.getFloat(b), vm.getFloat(c)
		switch op {
		case OpFEq:
			vm.setBool(a, x == y)
		case OpFNeq:
			vm.setBool(a, x != y)
		case OpFLt:
			vm.setBool(a, x < y)
		case OpFLte:
			vm.setBool(a, x <= y)
		case OpFGt:
			vm.setBool(a, x > y)
		default:
			vm.setBool(a, x >= y)
		}

	// ---- Strings -----------------------------------------------------------

	case OpConcat:
		if err := vm.useGas(gasMemOp); err != nil {
			return err
		}
		ref, err := vm.memory.Concat(vm.getReg(b), vm.getReg(c))
		if err != nil {
			return err
		}
		vm.setReg(a, ref)

	case OpStrCmp:
		if err := vm.useGas(gasMemOp); err != nil {
			return err
		}
		cmp, err := vm.memory.Compare(vm.getReg(b), vm.getReg(c))
		if err != nil {
			return err
		}
		vm.setInt(a, int64(cmp))

	// ---- Load/Store --------------------------------------------------------

	case OpLoadConst:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		idx := int(imm16)
		if idx >= len(vm.prog.Constants) {
			return fmt.Errorf("vm: constant pool index %d out of range (pool size %d)", idx, len(vm.prog.Constants))
		}
		vm.setReg(a, vm.prog.Constants[idx])

	case OpLoadInt:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.setInt(a, int64(int16(imm16)))

	case OpLoadTrue:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.setReg(a, 1)

	case OpLoadFalse:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.setReg(a, 0)

	case OpMove:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.setReg(a, vm.getReg(b))

	// ---- Arrays ------------------------------------------------------------

	case OpArrayNew:
		if err := vm.useGas(gasMemOp); err != nil {
			return err
		}
		ref, err := vm.memory.NewArray(int(imm16))
		if err != nil {
			return err
		}
		vm.setReg(a, ref)

	case OpArrayGet:
		if err := vm.useGas(gasMemOp); err != nil {
			return err
		}
		v, err := vm.memory.Get(vm.getReg(b), vm.getInt(c))
		if err != nil {
			return err
		}
		vm.setReg(a, v)

	case OpArraySet:
		if err := vm.useGas(gasMemOp); err != nil {
			return err
		}
		if err := vm.memory.Set(vm.getReg(a), vm.getInt(b), vm.getReg(c)); err != nil {
			return err
		}

	// ---- Globals -----------------------------------------------------------

	case OpLoadGlobal:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		idx := int(imm16)
		if idx >= len(vm.globals) {
			return fmt.Errorf("vm: global index %d out of range", idx)
		}
		if !vm.defined[idx] {
			return fmt.Errorf("%w: %s", ErrUndefinedVariable, vm.prog.Globals[idx])
		}
		vm.setReg(a, vm.globals[idx])

	case OpStoreGlobal:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		idx := int(imm16)
		if idx >= len(vm.globals) {
			return fmt.Errorf("vm: global index %d out of range", idx)
		}
		vm.globals[idx] = vm.getReg(a)
		vm.defined[idx] = true

	// ---- Control flow ------------------------------------------------------

	case OpJump:
		if err := vm.useGas(gasJump); err != nil {
			return err
		}
		return vm.jump(imm16)

	case OpJumpIf:
		if err := vm.useGas(gasJump); err != nil {
			return err
		}
		if vm.getReg(a) != 0 {
			return vm.jump(imm16)
		}

	case OpJumpIfNot:
		if err := vm.useGas(gasJump); err != nil {
			return err
		}
		if vm.getReg(a) == 0 {
			return vm.jump(imm16)
		}

	case OpDefineFunc:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		if int(imm16) >= len(vm.declared) {
			return fmt.Errorf("vm: function index %d out of range", imm16)
		}
		vm.declared[imm16] = true

	case OpCheckFunc:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		return vm.checkFunc(imm16)

	case OpCall:
		if err := vm.useGas(gasCall); err != nil {
			return err
		}
		if err := vm.checkFunc(imm16); err != nil {
			return err
		}
		if len(vm.frames)-1 >= vm.maxDepth {
			return fmt.Errorf("%w: limit %d", ErrCallDepthExceeded, vm.maxDepth)
		}
		fn := vm.prog.Functions[imm16]
		if len(vm.stack) < fn.Params {
			return ErrStackUnderflow
		}
		args := vm.stack[len(vm.stack)-fn.Params:]
		vm.stack = vm.stack[:len(vm.stack)-fn.Params]
		vm.enter(int(imm16), vm.pc, a)
		copy(vm.registers[vm.base+1:], args)

	case OpReturn:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		retVal := vm.getReg(a)
		f := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		if len(vm.frames) == 0 {
			// Entry function returned.
			vm.result = retVal
			vm.halted = true
			return nil
		}
		vm.base = vm.frames[len(vm.frames)-1].base
		vm.pc = f.returnPC
		vm.setReg(f.returnReg, retVal)

	case OpHalt:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.result = vm.getReg(a)
		vm.halted = true

	// ---- Value stack -------------------------------------------------------

	case OpPush:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.stack = append(vm.stack, vm.getReg(a))

	case OpPop:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		if len(vm.stack) == 0 {
			return ErrStackUnderflow
		}
		v := vm.stack[len(vm.stack)-1]
		vm.stack = vm.stack[:len(vm.stack)-1]
		vm.setReg(a, v)

	// ---- Output ------------------------------------------------------------

	case OpWrite:
		if err := vm.useGas(gasWrite); err != nil {
			return err
		}
		if int(imm16) >= len(vm.prog.Types) {
			return fmt.Errorf("vm: type index %d out of range", imm16)
		}
		s, err := vm.Format(vm.getReg(a), vm.prog.Types[imm16])
		if err != nil {
			return err
		}
		if _, err := io.WriteString(vm.out, s+"\n"); err != nil {
			return fmt.Errorf("write: %w", err)
		}

	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, uint8(op))
	}

	return nil
}

func (vm *VM) checkFunc(idx uint16) error {
	if int(idx) >= len(vm.declared) {
		return fmt.Errorf("vm: function index %d out of range", idx)
	}
	if !vm.declared[idx] {
		return fmt.Errorf("%w: %s", ErrUndefinedFunction, vm.prog.Functions[idx].Name)
	}
	return nil
}
