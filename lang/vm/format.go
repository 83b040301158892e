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
	"math"
	"strconv"
	"strings"

	"github.com/vira-lang/go-vira/lang/ast"
	"github.com/vira-lang/go-vira/lang/types"
)

// Format renders the register word v holding a value of type t the way
// write prints it: strings bare at top level and quoted inside arrays.
func (vm *VM) Format(v uint64, t types.Type) (string, error) {
	var b strings.Builder
	if err := vm.format(&b, v, t, false); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (vm *VM) format(b *strings.Builder, v uint64, t types.Type, nested bool) error {
	switch t.Kind() {
	case types.KindInt:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case types.KindFloat:
		b.WriteString(ast.FormatFloat(math.Float64frombits(v)))
	case types.KindBool:
		b.WriteString(strconv.FormatBool(v != 0))
	case types.KindString:
		s, err := vm.memory.String(v)
		if err != nil {
			return err
		}
		if nested {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	case types.KindArray:
		elem := t.(*types.ArrayType).Elem
		n, err := vm.memory.Len(v)
		if err != nil {
			return err
		}
		b.WriteByte('[')
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			e, err := vm.memory.Get(v, int64(i))
			if err != nil {
				return err
			}
			if err := vm.format(b, e, elem, true); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return fmt.Errorf("vm: cannot render %s", t)
	}
	return nil
}
