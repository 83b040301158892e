// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegen

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/interp"
	"github.com/vira-lang/go-vira/lang/ir"
	"github.com/vira-lang/go-vira/lang/parser"
	"github.com/vira-lang/go-vira/lang/sema"
	"github.com/vira-lang/go-vira/lang/types"
	"github.com/vira-lang/go-vira/lang/vm"
)

// ---- helpers ----------------------------------------------------------------

func mustParse(t *testing.T, src string) []ast.Node {
	t.Helper()
	nodes, err := parser.ParseSource("test.vira", src)
	require.NoError(t, err)
	return nodes
}

func interpret(t *testing.T, src string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := interp.New(interp.WithOutput(&out)).Interpret(mustParse(t, src))
	return out.String(), err
}

// execute compiles src with opts and runs main, returning what it wrote.
func execute(t *testing.T, src string, opts Options) (string, int64, error) {
	t.Helper()
	var out bytes.Buffer
	opts.Output = &out
	m, err := Compile(mustParse(t, src), opts)
	require.NoError(t, err)
	res, err := m.Entry()()
	return out.String(), res, err
}

// interpFault maps VM faults to the interpreter error for the same failure.
var interpFault = map[error]error{
	vm.ErrDivisionByZero:    interp.ErrDivisionByZero,
	vm.ErrIndexOutOfBounds:  interp.ErrIndexOutOfBounds,
	vm.ErrUndefinedVariable: interp.ErrUndefinedVariable,
	vm.ErrUndefinedFunction: interp.ErrUndefinedFunction,
	vm.ErrCallDepthExceeded: interp.ErrCallDepthExceeded,
}

// ---- interpreter parity -----------------------------------------------------

var parityCorpus = []struct {
	name  string
	src   string
	fault error
}{
	{name: "arithmetic", src: "write 2 + 3 * 4\nwrite (2 + 3) * 4\nwrite 7 / 2\nwrite 7 % 2\nwrite -7 / 2\nwrite -7 % 3"},
	{name: "overflow", src: "write 9223372036854775807 + 1\nlet big = 100000\nwrite big * big"},
	{name: "floats", src: "write 1.5 * 2.0\nwrite 7.5 % 2.0\nwrite 1.0 / 4.0\nwrite -2.5\nwrite 1.0 / 0.0\nwrite 2.0 != 2.0"},
	{name: "strings", src: "write \"ab\" + \"cd\"\nwrite \"abc\" < \"abd\"\nwrite \"a\" == \"a\"\nwrite \"b\" >= \"c\"\nlet s = \"x\"\nwrite s + s"},
	{name: "booleans", src: "write true && false\nwrite true || false\nwrite !true\nwrite true == !false\nlet f = false\nwrite !f"},
	{name: "both operands", src: `
func yes() -> bool [ write "yes" return true ]
func no() -> bool [ write "no" return false ]
write no() && yes()
write yes() || no()
`},
	{name: "global mutation", src: `
let x = 1
func set(n: int) -> int [ x = 7 write x ]
set(10)
set(20)
write x
`},
	{name: "parameters", src: `
let n = 100
func show(n: int) -> int [ write n ]
show(1)
show(2)
write n
`},
	{name: "frames", src: `
func inner() -> int [ let v = 2 return v ]
func outer() -> int [ let v = 1 inner() return v ]
write outer()
`},
	{name: "fib", src: `
func fib(n: int) -> int {
	if n < 2 [ return n ]
	return fib(n - 1) + fib(n - 2)
}
write fib(15)
`},
	{name: "for", src: `
let count = 0
for let i = 0; i < 5; i = i + 1 {
	count = count + 1
}
write count
`},
	{name: "while", src: "let i = 3\nwhile i > 0 [ write i i = i - 1 ]"},
	{name: "if else", src: "if 1 > 2 [ write \"a\" ] else [ write \"b\" ]\nif false write \"c\""},
	{name: "if value", src: `
func pick(b: bool) -> int [ if b [ 1 ] else [ 2 ] ]
func maybe(b: bool) -> int if b 5
write pick(true)
write pick(false)
write maybe(true)
write maybe(false)
`},
	{name: "body value", src: "func f() -> int [ 2 5 ]\nfunc g() -> int [ ]\nfunc h() -> int [ return ]\nwrite f()\nwrite g()\nwrite h()"},
	{name: "arrays", src: `
let a = [1, 2, 3]
write a
write a[0] + a[2]
let nested = [["x", "y"], ["z"]]
write nested
write nested[1][0]
write [true, false]
write [1.5]
`},
	{name: "early return", src: `
func find(xs: array<int>, want: int) -> int {
	let i = 0
	while i < 3 {
		if xs[i] == want [ return i ]
		i = i + 1
	}
	write "not reached for hits"
	return -1
}
write find([4, 5, 6], 5)
write find([4, 5, 6], 9)
`},
	{name: "sum", src: `
func sum(xs: array<int>, n: int) -> int {
	let s = 0
	let i = 0
	while i < n [ s = s + xs[i] i = i + 1 ]
	return s
}
write sum([1, 2, 3, 4], 4)
`},
	{name: "swap cycle", src: `
let a = 1
let b = 2
let n = 0
while n < 3 [ let t = a a = b b = t n = n + 1 ]
write a
write b
`},
	{name: "concat loop", src: "let s = \"\"\nlet i = 0\nwhile i < 3 [ s = s + \"ab\" i = i + 1 ]\nwrite s\nwrite s == \"ababab\""},
	{name: "float loop", src: "let x = 0.5\nfor let k = 0; k < 3; k = k + 1 [ x = x * 2.0 ]\nwrite x"},
	{name: "nested loops", src: `
let total = 0
for let i = 0; i < 4; i = i + 1 {
	for let j = 0; j < i; j = j + 1 {
		if (i + j) % 2 == 0 [ total = total + i * j ] else [ total = total - 1 ]
	}
}
write total
`},
	{name: "top-level return", src: "write 1\nreturn\nwrite 2"},
	{name: "division by zero", src: "let z = 0\nwrite 1\nwrite 5 / z", fault: vm.ErrDivisionByZero},
	{name: "modulo by zero", src: "let z = 0\nwrite 5 % z", fault: vm.ErrDivisionByZero},
	{name: "out of bounds", src: "let a = [1, 2, 3]\nwrite a[5]", fault: vm.ErrIndexOutOfBounds},
	{name: "negative index", src: "let a = [1]\nwrite a[-1]", fault: vm.ErrIndexOutOfBounds},
	{name: "call before declaration", src: "write 1\nf(2)\nfunc f(n: int) -> int n", fault: vm.ErrUndefinedFunction},
	{name: "argument after missing callee", src: "func g() -> int [ write \"g\" ]\ng()\nf(g())\nfunc f(n: int) -> int n", fault: vm.ErrUndefinedFunction},
	{name: "global read before binding", src: "func f() -> int x\nwrite f()\nlet x = 3", fault: vm.ErrUndefinedVariable},
	{name: "conditional binding", src: "if false [ let y = 1 ]\nwrite y", fault: vm.ErrUndefinedVariable},
	{name: "runaway recursion", src: "func f(n: int) -> int f(n + 1)\nf(0)", fault: vm.ErrCallDepthExceeded},
}

func TestInterpreterParity(t *testing.T) {
	for _, c := range parityCorpus {
		c := c
		for _, optimize := range []bool{false, true} {
			name := c.name
			if optimize {
				name += "/optimized"
			}
			t.Run(name, func(t *testing.T) {
				want, ierr := interpret(t, c.src)
				got, _, verr := execute(t, c.src, Options{Optimize: optimize, Verify: true})
				assert.Equal(t, want, got)
				if c.fault == nil {
					require.NoError(t, ierr)
					require.NoError(t, verr)
					return
				}
				assert.ErrorIs(t, ierr, interpFault[c.fault])
				assert.ErrorIs(t, verr, c.fault)
			})
		}
	}
}

func TestCallDepthOption(t *testing.T) {
	src := `
func down(n: int) -> int [ if n == 0 [ return 0 ] return down(n - 1) ]
write down(2)
write down(3)
`
	out, _, err := execute(t, src, Options{Verify: true, MaxCallDepth: 3})
	assert.ErrorIs(t, err, vm.ErrCallDepthExceeded)
	assert.Equal(t, "0\n", out)
}

func TestGasLimit(t *testing.T) {
	_, _, err := execute(t, "let i = 0\nwhile true [ i = i + 1 ]", Options{GasLimit: 500})
	assert.ErrorIs(t, err, vm.ErrOutOfGas)
}

func TestEntryResult(t *testing.T) {
	cases := []struct {
		src  string
		want int64
	}{
		{"write 1", 0},
		{"return 42", 42},
		{"let a = 40\nreturn a + 2\nwrite 9", 42},
		{"return \"text\"", 0},
		{"return", 0},
	}
	for _, c := range cases {
		_, res, err := execute(t, c.src, DefaultOptions)
		require.NoError(t, err, c.src)
		assert.Equal(t, c.want, res, c.src)
	}
}

func TestEntryRunsFresh(t *testing.T) {
	var out bytes.Buffer
	opts := DefaultOptions
	opts.Output = &out
	m, err := Compile(mustParse(t, "let n = 1\nwrite n"), opts)
	require.NoError(t, err)
	entry := m.Entry()
	for i := 0; i < 2; i++ {
		_, err := entry()
		require.NoError(t, err)
	}
	assert.Equal(t, "1\n1\n", out.String())
}

// ---- rejected programs ------------------------------------------------------

func TestUnsupported(t *testing.T) {
	for _, src := range []string{
		"write []",
		"let a = 1\nlet a = \"s\"",
		"func f() -> int 1\nfunc f() -> int 2",
		"if true [ func f() -> int 1 ]",
		"func f() -> int [ if true [ 1 ] else [ true ] ]",
	} {
		_, err := Compile(mustParse(t, src), DefaultOptions)
		var uerr *UnsupportedError
		require.True(t, errors.As(err, &uerr), "%q: %v", src, err)
		assert.Contains(t, err.Error(), "unsupported construct")
	}
}

func TestTypeErrors(t *testing.T) {
	for _, src := range []string{"write 1 + 1.0", "write missing", "if 1 write 1", "nope()"} {
		_, err := Compile(mustParse(t, src), DefaultOptions)
		var serr *sema.Error
		require.True(t, errors.As(err, &serr), "%q: %v", src, err)
		assert.False(t, serr.Unsupported, src)
	}
}

// ---- register allocation ----------------------------------------------------

func TestParamsInLowRegisters(t *testing.T) {
	b := ir.NewBuilder()
	b.StartFunction("mix", types.Int)
	entry := b.NewBlock("entry")
	require.NoError(t, b.SealBlock(entry))
	b.SetBlock(entry)
	x := b.AddParam("x", types.Int)
	y := b.AddParam("y", types.Int)
	z := b.AddParam("z", types.Int)
	sum := b.Emit(ir.OpAdd, types.Int, z, x)
	prod := b.Emit(ir.OpMul, types.Int, sum, y)
	b.EmitReturn(&prod)
	require.NoError(t, b.FinishFunction())

	alloc, err := allocate(b.Program().Functions[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alloc.reg(x))
	assert.Equal(t, uint8(2), alloc.reg(y))
	assert.Equal(t, uint8(3), alloc.reg(z))
	assert.NotEqual(t, alloc.reg(y), alloc.reg(sum), "y is still live when sum is defined")
}

func TestSequentialize(t *testing.T) {
	cases := []struct {
		name  string
		moves []move
	}{
		{"swap", []move{{dst: 1, src: 2}, {dst: 2, src: 1}}},
		{"chain", []move{{dst: 2, src: 1}, {dst: 3, src: 2}}},
		{"rotate", []move{{dst: 1, src: 2}, {dst: 2, src: 3}, {dst: 3, src: 1}}},
		{"fan out", []move{{dst: 4, src: 1}, {dst: 5, src: 1}, {dst: 1, src: 5}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var regs [256]int
			for i := range regs {
				regs[i] = i
			}
			want := regs
			for _, m := range c.moves {
				want[m.dst] = regs[m.src]
			}
			for _, m := range sequentialize(c.moves) {
				regs[m.dst] = regs[m.src]
			}
			regs[scratchReg] = scratchReg
			assert.Equal(t, want, regs)
		})
	}
}

// ---- verification -----------------------------------------------------------

func word(w [4]byte) []byte { return w[:] }

func TestVerify(t *testing.T) {
	code := func(words ...[4]byte) []byte {
		var out []byte
		for _, w := range words {
			out = append(out, word(w)...)
		}
		return out
	}
	cases := []struct {
		name string
		prog *vm.Program
		ok   bool
	}{
		{"valid", &vm.Program{
			Code:      code(vm.EncodeWide(vm.OpLoadInt, 1, 7), vm.Encode(vm.OpReturn, 1, 0, 0)),
			Functions: []vm.Function{{Name: "main"}},
		}, true},
		{"bad jump", &vm.Program{
			Code:      code(vm.EncodeWide(vm.OpJump, 0, 99)),
			Functions: []vm.Function{{Name: "main"}},
		}, false},
		{"no terminator", &vm.Program{
			Code:      code(vm.EncodeWide(vm.OpLoadInt, 1, 7)),
			Functions: []vm.Function{{Name: "main"}},
		}, false},
		{"unknown opcode", &vm.Program{
			Code:      code([4]byte{0xff, 0, 0, 0}, vm.Encode(vm.OpReturn, 0, 0, 0)),
			Functions: []vm.Function{{Name: "main"}},
		}, false},
		{"constant index", &vm.Program{
			Code:      code(vm.EncodeWide(vm.OpLoadConst, 1, 3), vm.Encode(vm.OpReturn, 1, 0, 0)),
			Functions: []vm.Function{{Name: "main"}},
		}, false},
		{"jump into other function", &vm.Program{
			Code: code(vm.EncodeWide(vm.OpJump, 0, 1),
				vm.Encode(vm.OpReturn, 0, 0, 0)),
			Functions: []vm.Function{{Name: "main"}, {Name: "f", Entry: 1}},
		}, false},
	}
	for _, c := range cases {
		errs := Verify(c.prog)
		assert.Equal(t, c.ok, len(errs) == 0, "%s: %v", c.name, errs)
	}
}

func TestCompiledCodeVerifies(t *testing.T) {
	for _, c := range parityCorpus {
		m, err := Compile(mustParse(t, c.src), Options{Optimize: true})
		require.NoError(t, err, c.name)
		assert.Empty(t, Verify(m.Program), c.name)
	}
}

// ---- object files -----------------------------------------------------------

var programCmp = cmp.Options{
	cmpopts.EquateEmpty(),
	cmpopts.IgnoreFields(vm.Program{}, "Types"),
}

func typeNames(ts []types.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

const objectSrc = `
let greeting = "hello"
func twice(s: string) -> string s + s
write twice(greeting)
write [[1.5], [2.5, 3.5]]
return 7
`

func TestObjectRoundTrip(t *testing.T) {
	nodes := mustParse(t, objectSrc)
	m, err := Compile(nodes, DefaultOptions)
	require.NoError(t, err)
	obj, err := EncodeObject(m)
	require.NoError(t, err)

	back, err := DecodeObject(obj)
	require.NoError(t, err)
	assert.Equal(t, m.BuildID, back.BuildID)
	if diff := cmp.Diff(m.Program, back.Program, programCmp); diff != "" {
		t.Fatalf("program mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, typeNames(m.Program.Types), typeNames(back.Program.Types))

	var out bytes.Buffer
	back.Config.Output = &out
	res, err := back.Entry()()
	require.NoError(t, err)
	assert.Equal(t, int64(7), res)
	assert.Equal(t, "hellohello\n[[1.5], [2.5, 3.5]]\n", out.String())
}

func TestLoadObject(t *testing.T) {
	obj, err := Object(mustParse(t, objectSrc), DefaultOptions)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "prog.vo")
	require.NoError(t, os.WriteFile(path, obj, 0o644))

	m, err := LoadObject(path)
	require.NoError(t, err)
	var out bytes.Buffer
	m.Config.Output = &out
	_, err = m.Entry()()
	require.NoError(t, err)
	assert.Equal(t, "hellohello\n[[1.5], [2.5, 3.5]]\n", out.String())
}

func TestDecodeObjectErrors(t *testing.T) {
	obj, err := Object(mustParse(t, objectSrc), DefaultOptions)
	require.NoError(t, err)

	_, err = DecodeObject([]byte("nope"))
	assert.ErrorIs(t, err, ErrBadMagic)

	bad := append([]byte(nil), obj...)
	bad[4], bad[5] = 0, 9
	_, err = DecodeObject(bad)
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = DecodeObject(obj[:len(obj)-3])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"int", "float", "bool", "string", "array<int>", "array<array<string>>"} {
		typ, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, s, typ.String())
	}
	_, err := ParseType("array<void")
	assert.ErrorIs(t, err, ErrCorrupt)
}
