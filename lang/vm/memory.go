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
	"fmt"

	"github.com/vira-lang/go-vira/lang/arena"
)

// DefaultMemoryLimit is the maximum number of bytes a VM instance may
// allocate (16 MiB).
const DefaultMemoryLimit uint64 = 16 * 1024 * 1024

// wordSize is the size of a length header and of an array element.
const wordSize = 8

// ErrInvalidAddress is returned when a reference does not name a live object.
var ErrInvalidAddress = errors.New("vm: invalid memory reference")

// Memory is the object store of a VM instance.
//
// Layout:
//   - strings are a length word followed by the bytes
//   - arrays are a length word followed by one word per element
//
// Objects live in an arena and are never freed individually; a reference is
// the arena Ref of the length word. Objects are immutable once built, so
// copying a register shares the object.
type Memory struct {
	arena *arena.Arena
}

// NewMemory wraps a, which may already hold the program's data section.
func NewMemory(a *arena.Arena) *Memory {
	return &Memory{arena: a}
}

// Used returns the number of bytes allocated so far.
func (m *Memory) Used() uint64 { return m.arena.Used() }

func (m *Memory) alloc(payload int) (arena.Ref, error) {
	ref, err := m.arena.Alloc(wordSize+payload, wordSize)
	if err != nil {
		if errors.Is(err, arena.ErrOutOfMemory) {
			return arena.Nil, ErrOutOfMemory
		}
		return arena.Nil, err
	}
	return ref, nil
}

func (m *Memory) length(ref uint64) (int, error) {
	n, err := m.arena.Uint64(arena.Ref(ref))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAddress, arena.Ref(ref))
	}
	return int(n), nil
}

// NewString stores s and returns its reference.
func (m *Memory) NewString(s string) (uint64, error) {
	ref, err := m.alloc(len(s))
	if err != nil {
		return 0, err
	}
	if err := m.arena.PutUint64(ref, uint64(len(s))); err != nil {
		return 0, err
	}
	if len(s) > 0 {
		buf, err := m.arena.Bytes(ref.Add(wordSize), len(s))
		if err != nil {
			return 0, err
		}
		copy(buf, s)
	}
	return uint64(ref), nil
}

// stringBytes returns the bytes of the string at ref without copying.
func (m *Memory) stringBytes(ref uint64) ([]byte, error) {
	n, err := m.length(ref)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf, err := m.arena.Bytes(arena.Ref(ref).Add(wordSize), n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return buf, nil
}

// String returns the string stored at ref.
func (m *Memory) String(ref uint64) (string, error) {
	b, err := m.stringBytes(ref)
	return string(b), err
}

// Concat stores the concatenation of the strings at x and y.
func (m *Memory) Concat(x, y uint64) (uint64, error) {
	l, err := m.stringBytes(x)
	if err != nil {
		return 0, err
	}
	r, err := m.stringBytes(y)
	if err != nil {
		return 0, err
	}
	ref, err := m.alloc(len(l) + len(r))
	if err != nil {
		return 0, err
	}
	if err := m.arena.PutUint64(ref, uint64(len(l)+len(r))); err != nil {
		return 0, err
	}
	if len(l)+len(r) > 0 {
		buf, err := m.arena.Bytes(ref.Add(wordSize), len(l)+len(r))
		if err != nil {
			return 0, err
		}
		copy(buf[copy(buf, l):], r)
	}
	return uint64(ref), nil
}

// Compare orders the strings at x and y bytewise, returning -1, 0 or 1.
func (m *Memory) Compare(x, y uint64) (int, error) {
	l, err := m.stringBytes(x)
	if err != nil {
		return 0, err
	}
	r, err := m.stringBytes(y)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(l, r), nil
}

// NewArray allocates an array of n zero elements.
func (m *Memory) NewArray(n int) (uint64, error) {
	ref, err := m.alloc(n * wordSize)
	if err != nil {
		return 0, err
	}
	if err := m.arena.PutUint64(ref, uint64(n)); err != nil {
		return 0, err
	}
	return uint64(ref), nil
}

// Len returns the element count of the array at ref.
func (m *Memory) Len(ref uint64) (int, error) {
	return m.length(ref)
}

func (m *Memory) element(ref uint64, i int64) (arena.Ref, error) {
	n, err := m.length(ref)
	if err != nil {
		return arena.Nil, err
	}
	if i < 0 || i >= int64(n) {
		return arena.Nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfBounds, i, n)
	}
	return arena.Ref(ref).Add(wordSize * int(i+1)), nil
}

// Get loads element i of the array at ref.
func (m *Memory) Get(ref uint64, i int64) (uint64, error) {
	at, err := m.element(ref, i)
	if err != nil {
		return 0, err
	}
	return m.arena.Uint64(at)
}

// Set stores v as element i of the array at ref.
func (m *Memory) Set(ref uint64, i int64, v uint64) error {
	at, err := m.element(ref, i)
	if err != nil {
		return err
	}
	return m.arena.PutUint64(at, v)
}
