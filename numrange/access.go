// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package numrange

import (
	"fmt"
	"reflect"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// ReadAtRange returns the sub-region of value addressed by r. value must be
// a slice, an array, a string or a byte string, nested once per dimension
// of r. Strings are indexed by character, byte strings by byte.
//
// The upper bound of every dimension is clamped to the length of the
// collection. A lower bound past the end, a nil or scalar value, or a range
// with more dimensions than value has levels fails with BadIndexRangeNoData.
func ReadAtRange(value any, r NumericRange) (out any, err error) {
	if r.Dimensions() == 0 {
		return nil, noData("range has no dimensions")
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, noData(fmt.Sprint(p))
		}
	}()

	v, err := read(reflect.ValueOf(value), r.bounds, 0)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// WriteAtRange returns a copy of current in which the region addressed by
// r is replaced by update. Neither input is modified.
//
// Bounds are not clamped: a bound at or past the length of current fails
// with BadIndexRangeNoData. An update whose length differs from the
// addressed region, or whose elements cannot be stored in current, fails
// with BadIndexRangeInvalid.
func WriteAtRange(current, update any, r NumericRange) (out any, err error) {
	if r.Dimensions() == 0 {
		return nil, noData("range has no dimensions")
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, noData(fmt.Sprint(p))
		}
	}()

	v, err := write(reflect.ValueOf(current), reflect.ValueOf(update), r.bounds, 0)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// ReadVariant applies ReadAtRange to the value of v, keeping its type.
func ReadVariant(v *opcua.Variant, r NumericRange) (*opcua.Variant, error) {
	if v == nil {
		return nil, noData("nil variant")
	}
	out, err := ReadAtRange(v.Value, r)
	if err != nil {
		return nil, err
	}
	return &opcua.Variant{Type: v.Type, Value: out}, nil
}

// WriteVariant applies WriteAtRange to the values of current and update,
// keeping the type of current.
func WriteVariant(current, update *opcua.Variant, r NumericRange) (*opcua.Variant, error) {
	if current == nil || update == nil {
		return nil, noData("nil variant")
	}
	out, err := WriteAtRange(current.Value, update.Value, r)
	if err != nil {
		return nil, err
	}
	return &opcua.Variant{Type: current.Type, Value: out}, nil
}

func read(v reflect.Value, bounds []Bounds, dim int) (reflect.Value, error) {
	v = unwrap(v)
	if !v.IsValid() {
		return reflect.Value{}, noData("no value")
	}
	b := bounds[dim]
	last := dim == len(bounds)-1

	switch v.Kind() {
	case reflect.String:
		if !last {
			return reflect.Value{}, noData(fmt.Sprintf("string at dimension %d of %d", dim+1, len(bounds)))
		}
		runes := []rune(v.String())
		if b.Low >= len(runes) {
			return reflect.Value{}, noData(fmt.Sprintf("index %d past length %d", b.Low, len(runes)))
		}
		high := min(b.High, len(runes)-1) + 1
		return reflect.ValueOf(string(runes[b.Low:high])).Convert(v.Type()), nil

	case reflect.Slice, reflect.Array:
		n := v.Len()
		if b.Low >= n {
			return reflect.Value{}, noData(fmt.Sprintf("index %d past length %d", b.Low, n))
		}
		high := min(b.High, n-1)
		elems := make([]reflect.Value, 0, high-b.Low+1)
		for i := b.Low; i <= high; i++ {
			elem := v.Index(i)
			if !last {
				sub, err := read(elem, bounds, dim+1)
				if err != nil {
					return reflect.Value{}, err
				}
				elem = sub
			}
			elems = append(elems, elem)
		}

		outType := sliceType(v.Type())
		// Nested arrays read into slices, which no longer fit the element type.
		if !last && !elems[0].Type().AssignableTo(outType.Elem()) {
			outType = reflect.SliceOf(elems[0].Type())
		}
		out := reflect.MakeSlice(outType, len(elems), len(elems))
		for i, elem := range elems {
			if err := store(out.Index(i), elem); err != nil {
				return reflect.Value{}, noData(err.Error())
			}
		}
		return out, nil

	default:
		return reflect.Value{}, noData(fmt.Sprintf("%s is not indexable", v.Type()))
	}
}

func write(cur, upd reflect.Value, bounds []Bounds, dim int) (reflect.Value, error) {
	cur = unwrap(cur)
	upd = unwrap(upd)
	if !cur.IsValid() {
		return reflect.Value{}, noData("no value")
	}
	b := bounds[dim]
	last := dim == len(bounds)-1

	switch cur.Kind() {
	case reflect.String:
		if !last {
			return reflect.Value{}, noData(fmt.Sprintf("string at dimension %d of %d", dim+1, len(bounds)))
		}
		runes := []rune(cur.String())
		if b.Low >= len(runes) || b.High >= len(runes) {
			return reflect.Value{}, noData(fmt.Sprintf("range %s outside length %d", b, len(runes)))
		}
		if !upd.IsValid() || upd.Kind() != reflect.String {
			return reflect.Value{}, mismatch("update for a string must be a string")
		}
		repl := []rune(upd.String())
		if len(repl) != b.Len() {
			return reflect.Value{}, mismatch(fmt.Sprintf("update has %d characters, range %s needs %d", len(repl), b, b.Len()))
		}
		out := make([]rune, len(runes))
		copy(out, runes)
		copy(out[b.Low:], repl)
		return reflect.ValueOf(string(out)).Convert(cur.Type()), nil

	case reflect.Slice, reflect.Array:
		n := cur.Len()
		if b.Low >= n || b.High >= n {
			return reflect.Value{}, noData(fmt.Sprintf("range %s outside length %d", b, n))
		}
		if !upd.IsValid() || (upd.Kind() != reflect.Slice && upd.Kind() != reflect.Array) {
			return reflect.Value{}, mismatch("update for an array must be an array")
		}
		if upd.Len() != b.Len() {
			return reflect.Value{}, mismatch(fmt.Sprintf("update has %d elements, range %s needs %d", upd.Len(), b, b.Len()))
		}

		var out reflect.Value
		if cur.Kind() == reflect.Array {
			out = reflect.New(cur.Type()).Elem()
		} else {
			out = reflect.MakeSlice(cur.Type(), n, n)
		}
		for i := 0; i < n; i++ {
			if i < b.Low || i > b.High {
				out.Index(i).Set(cur.Index(i))
				continue
			}
			elem := upd.Index(i - b.Low)
			if !last {
				merged, err := write(cur.Index(i), elem, bounds, dim+1)
				if err != nil {
					return reflect.Value{}, err
				}
				elem = merged
			}
			if err := store(out.Index(i), elem); err != nil {
				return reflect.Value{}, mismatch(err.Error())
			}
		}
		return out, nil

	default:
		return reflect.Value{}, noData(fmt.Sprintf("%s is not indexable", cur.Type()))
	}
}

// store assigns src to dst, converting between numeric kinds and between
// named and unnamed types of the same kind.
func store(dst, src reflect.Value) error {
	if dst.Kind() != reflect.Interface {
		src = unwrap(src)
	}
	if !src.IsValid() {
		if dst.Kind() == reflect.Interface {
			return nil
		}
		return fmt.Errorf("cannot store nil in %s", dst.Type())
	}
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case convertible(src.Type(), dst.Type()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return fmt.Errorf("cannot store %s in %s", src.Type(), dst.Type())
	}
	return nil
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if from.Kind() == to.Kind() {
		return true
	}
	return isNumber(from.Kind()) && isNumber(to.Kind())
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// sliceType is the type produced when reading from t: slices keep their
// type, arrays read into a slice of their element type.
func sliceType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice {
		return t
	}
	return reflect.SliceOf(t.Elem())
}

func unwrap(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func mismatch(reason string) error {
	return fmt.Errorf("numrange: %s: %w", reason, opcua.StatusBadIndexRangeInvalid)
}
