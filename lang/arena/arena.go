// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package arena implements a bump allocator over fixed-size pages.
//
// Allocations are addressed by Ref handles rather than slices or pointers.
// A page, once created, is never moved or resized, so a Ref stays valid for
// as long as the arena lives. There is no per-allocation free; the whole
// arena is released together.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultPageSize is used when New is given a non-positive page size.
	DefaultPageSize = 64 * 1024

	// DefaultLimit caps the total bytes held by an arena (64 MiB).
	DefaultLimit uint64 = 64 * 1024 * 1024
)

var (
	// ErrOutOfMemory is returned when an allocation would exceed the limit.
	ErrOutOfMemory = errors.New("arena: out of memory")

	// ErrInvalidRef is returned when a Ref does not name bytes owned by the
	// arena.
	ErrInvalidRef = errors.New("arena: invalid reference")

	// ErrBadAlign is returned for alignments that are not a power of two.
	ErrBadAlign = errors.New("arena: alignment must be a power of two")
)

// Ref is a stable handle to bytes inside an arena. The high 32 bits hold the
// page number plus one, the low 32 bits the byte offset inside the page.
// The zero Ref is never returned by Alloc and acts as a nil handle.
type Ref uint64

// Nil is the zero handle.
const Nil Ref = 0

func makeRef(page, off int) Ref {
	return Ref(uint64(page+1)<<32 | uint64(uint32(off)))
}

// Page returns the page index encoded in r.
func (r Ref) Page() int { return int(r>>32) - 1 }

// Offset returns the byte offset encoded in r.
func (r Ref) Offset() int { return int(uint32(r)) }

// Add returns r advanced by n bytes within the same page.
func (r Ref) Add(n int) Ref { return r + Ref(n) }

func (r Ref) String() string {
	if r == Nil {
		return "ref(nil)"
	}
	return fmt.Sprintf("ref(%d:%d)", r.Page(), r.Offset())
}

type page struct {
	buf  []byte // fixed length; never re-sliced after creation
	used int
}

// Arena is a paged bump allocator. It is not safe for concurrent use.
type Arena struct {
	pageSize int
	limit    uint64
	total    uint64
	pages    []*page
	cur      int // index of the page bump allocation proceeds in; -1 if none
}

// New creates an arena with the given page size and byte limit. Zero values
// select DefaultPageSize and DefaultLimit.
func New(pageSize int, limit uint64) *Arena {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return &Arena{pageSize: pageSize, limit: limit, cur: -1}
}

// PageSize returns the size of a regular page.
func (a *Arena) PageSize() int { return a.pageSize }

// Used returns the number of bytes handed out, including alignment padding.
func (a *Arena) Used() uint64 {
	var n uint64
	for _, p := range a.pages {
		n += uint64(p.used)
	}
	return n
}

// Alloc reserves size zeroed bytes aligned to align and returns their handle.
// Requests larger than a page get a dedicated page of their own.
func (a *Arena) Alloc(size, align int) (Ref, error) {
	if size < 0 {
		return Nil, fmt.Errorf("arena: negative allocation size %d", size)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return Nil, ErrBadAlign
	}
	if size > a.pageSize {
		idx, err := a.newPage(size)
		if err != nil {
			return Nil, err
		}
		a.pages[idx].used = size
		return makeRef(idx, 0), nil
	}
	if a.cur >= 0 {
		p := a.pages[a.cur]
		off := roundUp(p.used, align)
		if off+size <= len(p.buf) {
			p.used = off + size
			return makeRef(a.cur, off), nil
		}
	}
	idx, err := a.newPage(a.pageSize)
	if err != nil {
		return Nil, err
	}
	a.cur = idx
	a.pages[idx].used = size
	return makeRef(idx, 0), nil
}

// Put copies data into a fresh allocation.
func (a *Arena) Put(data []byte, align int) (Ref, error) {
	ref, err := a.Alloc(len(data), align)
	if err != nil {
		return Nil, err
	}
	buf, _ := a.Bytes(ref, len(data))
	copy(buf, data)
	return ref, nil
}

// Bytes returns the n bytes starting at ref. The slice aliases arena memory
// and stays valid for the arena's lifetime.
func (a *Arena) Bytes(ref Ref, n int) ([]byte, error) {
	if ref == Nil || n < 0 {
		return nil, ErrInvalidRef
	}
	pi, off := ref.Page(), ref.Offset()
	if pi < 0 || pi >= len(a.pages) {
		return nil, ErrInvalidRef
	}
	p := a.pages[pi]
	if off+n > p.used {
		return nil, fmt.Errorf("%w: %s+%d beyond %d", ErrInvalidRef, ref, n, p.used)
	}
	return p.buf[off : off+n : off+n], nil
}

// Uint64 reads a little-endian 64-bit word at ref.
func (a *Arena) Uint64(ref Ref) (uint64, error) {
	b, err := a.Bytes(ref, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutUint64 writes a little-endian 64-bit word at ref.
func (a *Arena) PutUint64(ref Ref, v uint64) error {
	b, err := a.Bytes(ref, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// Reset drops every page. All outstanding Refs become invalid.
func (a *Arena) Reset() {
	a.pages = nil
	a.total = 0
	a.cur = -1
}

// Pages returns a copy of the used portion of every page, in order.
func (a *Arena) Pages() [][]byte {
	out := make([][]byte, len(a.pages))
	for i, p := range a.pages {
		out[i] = append([]byte(nil), p.buf[:p.used]...)
	}
	return out
}

// Restore rebuilds an arena from the output of Pages. Refs taken from the
// source arena resolve to the same bytes in the restored one.
func Restore(pageSize int, limit uint64, pages [][]byte) (*Arena, error) {
	a := New(pageSize, limit)
	for _, data := range pages {
		size := a.pageSize
		if len(data) > size {
			size = len(data)
		}
		idx, err := a.newPage(size)
		if err != nil {
			return nil, err
		}
		p := a.pages[idx]
		copy(p.buf, data)
		p.used = len(data)
		if size == a.pageSize {
			a.cur = idx
		}
	}
	return a, nil
}

func (a *Arena) newPage(size int) (int, error) {
	if a.total+uint64(size) > a.limit {
		return -1, ErrOutOfMemory
	}
	if len(a.pages) >= 1<<31-1 {
		return -1, ErrOutOfMemory
	}
	a.pages = append(a.pages, &page{buf: make([]byte, size)})
	a.total += uint64(size)
	return len(a.pages) - 1, nil
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
