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

// Package numrange implements OPC UA numeric ranges: the "1:4" and "0,2:3"
// index range notation, and bounds-checked read and write of the addressed
// sub-region of array, string and byte string values.
//
// Reads are lenient and clamp the upper bound to the data that exists.
// Writes are strict and fail with BadIndexRangeNoData when a bound lies
// outside the current value.
package numrange

import (
	"fmt"
	"strconv"
	"strings"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// Bounds is the inclusive index range of one dimension.
type Bounds struct {
	Low  int
	High int
}

// Len returns the number of indexes covered.
func (b Bounds) Len() int {
	return b.High - b.Low + 1
}

func (b Bounds) String() string {
	if b.Low == b.High {
		return strconv.Itoa(b.Low)
	}
	return strconv.Itoa(b.Low) + ":" + strconv.Itoa(b.High)
}

// NumericRange is a parsed index range, one Bounds per dimension.
// The zero value has no dimensions and addresses nothing.
type NumericRange struct {
	bounds []Bounds
}

// Parse parses text of the form dim[,dim...] where dim is "index" or
// "low:high" with low < high. Any malformed input fails with
// BadIndexRangeInvalid.
func Parse(text string) (NumericRange, error) {
	if text == "" {
		return NumericRange{}, invalid(text, "empty range")
	}

	dims := strings.Split(text, ",")
	bounds := make([]Bounds, 0, len(dims))
	for _, dim := range dims {
		b, err := parseDim(dim)
		if err != nil {
			return NumericRange{}, invalid(text, err.Error())
		}
		bounds = append(bounds, b)
	}
	return NumericRange{bounds: bounds}, nil
}

// MustParse is like Parse but panics if text is invalid.
func MustParse(text string) NumericRange {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

func parseDim(dim string) (Bounds, error) {
	tokens := strings.Split(dim, ":")
	switch len(tokens) {
	case 1:
		i, err := parseIndex(tokens[0])
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: i, High: i}, nil
	case 2:
		low, err := parseIndex(tokens[0])
		if err != nil {
			return Bounds{}, err
		}
		high, err := parseIndex(tokens[1])
		if err != nil {
			return Bounds{}, err
		}
		if low >= high {
			return Bounds{}, fmt.Errorf("low %d must be less than high %d", low, high)
		}
		return Bounds{Low: low, High: high}, nil
	default:
		return Bounds{}, fmt.Errorf("too many separators in %q", dim)
	}
}

func parseIndex(token string) (int, error) {
	// Atoi accepts a leading '+', which is not part of the notation.
	if token == "" || token[0] < '0' || token[0] > '9' {
		return 0, fmt.Errorf("invalid index %q", token)
	}
	i, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", token)
	}
	return i, nil
}

// Bounds returns a copy of the per-dimension bounds.
func (r NumericRange) Bounds() []Bounds {
	out := make([]Bounds, len(r.bounds))
	copy(out, r.bounds)
	return out
}

// Dimensions returns the number of dimensions.
func (r NumericRange) Dimensions() int {
	return len(r.bounds)
}

// String renders the range in its canonical text form.
func (r NumericRange) String() string {
	parts := make([]string, len(r.bounds))
	for i, b := range r.bounds {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}

func invalid(text, reason string) error {
	return fmt.Errorf("numrange: %q: %s: %w", text, reason, opcua.StatusBadIndexRangeInvalid)
}

func noData(reason string) error {
	return fmt.Errorf("numrange: %s: %w", reason, opcua.StatusBadIndexRangeNoData)
}
