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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/vira-lang/go-vira/lang/types"
	"github.com/vira-lang/go-vira/lang/vm"
)

// Object file layout:
//
//	magic   "VIRO"
//	version uint16, big-endian
//	build   16-byte UUID
//	body    snappy block: page size, constants, types, globals,
//	        functions, data pages, code
const objectVersion = 1

var objectMagic = []byte("VIRO")

var (
	ErrBadMagic   = errors.New("codegen: not a vira object")
	ErrBadVersion = errors.New("codegen: unsupported object version")
	ErrCorrupt    = errors.New("codegen: corrupt object")
)

// EncodeObject serializes a compiled module.
func EncodeObject(m *Module) ([]byte, error) {
	p := m.Program
	var body []byte
	body = binary.AppendUvarint(body, uint64(p.PageSize))

	body = binary.AppendUvarint(body, uint64(len(p.Constants)))
	for _, c := range p.Constants {
		body = binary.LittleEndian.AppendUint64(body, c)
	}
	body = binary.AppendUvarint(body, uint64(len(p.Types)))
	for _, t := range p.Types {
		body = appendString(body, t.String())
	}
	body = binary.AppendUvarint(body, uint64(len(p.Globals)))
	for _, g := range p.Globals {
		body = appendString(body, g)
	}
	body = binary.AppendUvarint(body, uint64(len(p.Functions)))
	for _, fn := range p.Functions {
		body = appendString(body, fn.Name)
		body = binary.AppendUvarint(body, uint64(fn.Entry))
		body = binary.AppendUvarint(body, uint64(fn.Params))
		body = binary.AppendUvarint(body, uint64(fn.Registers))
	}
	body = binary.AppendUvarint(body, uint64(len(p.Data)))
	for _, page := range p.Data {
		body = appendBytes(body, page)
	}
	body = appendBytes(body, p.Code)

	out := make([]byte, 0, len(objectMagic)+2+16+len(body))
	out = append(out, objectMagic...)
	out = binary.BigEndian.AppendUint16(out, objectVersion)
	out = append(out, m.BuildID[:]...)
	return append(out, snappy.Encode(nil, body)...), nil
}

// DecodeObject rebuilds a module from object bytes. The returned module has
// a default execution config.
func DecodeObject(b []byte) (*Module, error) {
	if len(b) < len(objectMagic)+2+16 || !bytes.Equal(b[:len(objectMagic)], objectMagic) {
		return nil, ErrBadMagic
	}
	b = b[len(objectMagic):]
	if v := binary.BigEndian.Uint16(b); v != objectVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	b = b[2:]
	id, err := uuid.FromBytes(b[:16])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	body, err := snappy.Decode(nil, b[16:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	r := &objReader{buf: body}
	p := &vm.Program{PageSize: int(r.uvarint())}
	p.Constants = make([]uint64, r.count(8))
	for i := range p.Constants {
		p.Constants[i] = r.uint64()
	}
	p.Types = make([]types.Type, r.count(1))
	for i := range p.Types {
		t, err := ParseType(r.string())
		if err != nil && r.err == nil {
			r.err = err
		}
		p.Types[i] = t
	}
	p.Globals = make([]string, r.count(1))
	for i := range p.Globals {
		p.Globals[i] = r.string()
	}
	p.Functions = make([]vm.Function, r.count(4))
	for i := range p.Functions {
		p.Functions[i] = vm.Function{
			Name:      r.string(),
			Entry:     int(r.uvarint()),
			Params:    int(r.uvarint()),
			Registers: int(r.uvarint()),
		}
	}
	p.Data = make([][]byte, r.count(1))
	for i := range p.Data {
		p.Data[i] = r.bytes()
	}
	p.Code = r.bytes()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	if errs := Verify(p); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, &errs[0])
	}
	return &Module{Program: p, BuildID: id}, nil
}

// LoadObject maps the object file at path and decodes it.
func LoadObject(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, ErrBadMagic
	}
	mem, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	defer mem.Unmap()

	// Decoding copies everything out of the mapping.
	return DecodeObject(mem)
}

// ParseType reads a type as printed by types.Type.String.
func ParseType(s string) (types.Type, error) {
	if t, ok := types.LookupPrimitive(s); ok {
		return t, nil
	}
	if strings.HasPrefix(s, "array<") && strings.HasSuffix(s, ">") {
		elem, err := ParseType(s[len("array<") : len(s)-1])
		if err != nil {
			return nil, err
		}
		return types.NewArray(elem), nil
	}
	return nil, fmt.Errorf("%w: bad type %q", ErrCorrupt, s)
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendBytes(b, data []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(data)))
	return append(b, data...)
}

// objReader decodes the object body, keeping the first error.
type objReader struct {
	buf []byte
	err error
}

func (r *objReader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated body", ErrCorrupt)
	}
	r.buf = nil
}

func (r *objReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

// count reads an element count, rejecting counts the remaining bytes could
// not hold at min bytes per element.
func (r *objReader) count(min int) int {
	n := r.uvarint()
	if n > uint64(len(r.buf)/min) {
		r.fail()
		return 0
	}
	return int(n)
}

func (r *objReader) uint64() uint64 {
	if r.err != nil || len(r.buf) < 8 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *objReader) bytes() []byte {
	n := r.count(1)
	if r.err != nil {
		return nil
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

func (r *objReader) string() string {
	return string(r.bytes())
}
