// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAlignment(t *testing.T) {
	a := New(64, 0)
	r1, err := a.Alloc(3, 1)
	require.NoError(t, err)
	r2, err := a.Alloc(8, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, r1.Offset())
	assert.Equal(t, 8, r2.Offset(), "padding inserted before aligned allocation")
	assert.Equal(t, r1.Page(), r2.Page())
	assert.Equal(t, uint64(16), a.Used())
}

func TestBadAlign(t *testing.T) {
	a := New(64, 0)
	_, err := a.Alloc(4, 3)
	assert.ErrorIs(t, err, ErrBadAlign)
}

func TestRefsStableAcrossGrowth(t *testing.T) {
	a := New(32, 0)
	first, err := a.Put([]byte("hello"), 1)
	require.NoError(t, err)
	before, err := a.Bytes(first, 5)
	require.NoError(t, err)

	// Force many new pages.
	for i := 0; i < 100; i++ {
		_, err := a.Alloc(24, 8)
		require.NoError(t, err)
	}
	after, err := a.Bytes(first, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(after))
	assert.Equal(t, &before[0], &after[0], "page memory must not move")
}

func TestOversizeGetsDedicatedPage(t *testing.T) {
	a := New(16, 0)
	small, err := a.Alloc(4, 1)
	require.NoError(t, err)
	big, err := a.Alloc(100, 8)
	require.NoError(t, err)
	next, err := a.Alloc(4, 1)
	require.NoError(t, err)

	assert.NotEqual(t, small.Page(), big.Page())
	assert.Equal(t, 0, big.Offset())
	assert.Equal(t, small.Page(), next.Page(), "bump allocation continues in the regular page")
	b, err := a.Bytes(big, 100)
	require.NoError(t, err)
	assert.Len(t, b, 100)
}

func TestWordAccess(t *testing.T) {
	a := New(0, 0)
	r, err := a.Alloc(16, 8)
	require.NoError(t, err)
	require.NoError(t, a.PutUint64(r.Add(8), 0xdeadbeef))
	v, err := a.Uint64(r.Add(8))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)
	zero, err := a.Uint64(r)
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestInvalidRefs(t *testing.T) {
	a := New(32, 0)
	r, err := a.Alloc(8, 8)
	require.NoError(t, err)

	_, err = a.Bytes(Nil, 1)
	assert.ErrorIs(t, err, ErrInvalidRef)
	_, err = a.Bytes(r, 9)
	assert.ErrorIs(t, err, ErrInvalidRef)
	_, err = a.Bytes(makeRef(7, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestLimit(t *testing.T) {
	a := New(16, 32)
	_, err := a.Alloc(16, 1)
	require.NoError(t, err)
	_, err = a.Alloc(16, 1)
	require.NoError(t, err)
	_, err = a.Alloc(1, 1)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestPagesRestore(t *testing.T) {
	a := New(16, 0)
	r1, _ := a.Put([]byte("abc"), 1)
	r2, _ := a.Put([]byte("0123456789abcdefXYZ"), 1)
	r3, _ := a.Put([]byte("tail"), 4)

	b, err := Restore(16, 0, a.Pages())
	require.NoError(t, err)
	for _, c := range []struct {
		ref  Ref
		want string
	}{{r1, "abc"}, {r2, "0123456789abcdefXYZ"}, {r3, "tail"}} {
		got, err := b.Bytes(c.ref, len(c.want))
		require.NoError(t, err)
		assert.Equal(t, c.want, string(got))
	}

	a.Reset()
	_, err = a.Bytes(r1, 1)
	assert.ErrorIs(t, err, ErrInvalidRef)
}
