package numrange

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcua-managed"
)

func assertStatus(t *testing.T, err error, want opcua.StatusCode) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, want), "want %s, got %v", want, err)
}

// --- ReadAtRange ---

func TestReadAtRange_ClampsUpperBound(t *testing.T) {
	out, err := ReadAtRange([]int32{10, 20, 30}, MustParse("1:10"))
	require.NoError(t, err)
	assert.Equal(t, []int32{20, 30}, out)
}

func TestReadAtRange_SingleIndex(t *testing.T) {
	out, err := ReadAtRange([]float64{1.5, 2.5, 3.5}, MustParse("2"))
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5}, out)
}

func TestReadAtRange_LowPastEnd(t *testing.T) {
	_, err := ReadAtRange([]int{1, 2, 3}, MustParse("3:5"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)
}

func TestReadAtRange_MultiDimensional(t *testing.T) {
	value := [][]int{{1, 2, 3}, {4, 5, 6}}
	out, err := ReadAtRange(value, MustParse("0:1,1:2"))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 3}, {5, 6}}, out)
}

func TestReadAtRange_NestedArrays(t *testing.T) {
	value := [2][3]int{{1, 2, 3}, {4, 5, 6}}
	out, err := ReadAtRange(value, MustParse("1,0:1"))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{4, 5}}, out)
}

func TestReadAtRange_InterfaceElements(t *testing.T) {
	value := []any{[]any{"a", "b"}, []any{"c", "d"}}
	out, err := ReadAtRange(value, MustParse("1,1"))
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"d"}}, out)
}

func TestReadAtRange_String(t *testing.T) {
	out, err := ReadAtRange("hello", MustParse("1:3"))
	require.NoError(t, err)
	assert.Equal(t, "ell", out)

	out, err = ReadAtRange("hello", MustParse("3:9"))
	require.NoError(t, err)
	assert.Equal(t, "lo", out)
}

func TestReadAtRange_HugeUpperBoundClamps(t *testing.T) {
	r := MustParse("1:" + strconv.Itoa(math.MaxInt))

	out, err := ReadAtRange("hello", r)
	require.NoError(t, err)
	assert.Equal(t, "ello", out)

	out, err = ReadAtRange([]byte("hello"), r)
	require.NoError(t, err)
	assert.Equal(t, []byte("ello"), out)
}

func TestReadAtRange_StringByCharacter(t *testing.T) {
	out, err := ReadAtRange("héllo", MustParse("1"))
	require.NoError(t, err)
	assert.Equal(t, "é", out)
}

func TestReadAtRange_ByteString(t *testing.T) {
	out, err := ReadAtRange([]byte{0x01, 0x02, 0x03, 0x04}, MustParse("1:2"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, out)
}

func TestReadAtRange_StringArray(t *testing.T) {
	out, err := ReadAtRange([]string{"alpha", "beta"}, MustParse("0:1,0:1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"al", "be"}, out)
}

func TestReadAtRange_NoData(t *testing.T) {
	tests := []struct {
		name  string
		value any
		r     string
	}{
		{"nil", nil, "0"},
		{"scalar", int32(5), "0"},
		{"too many dimensions", []int{1, 2}, "0,0"},
		{"string with extra dimension", "abc", "0,0"},
		{"nil element", []any{nil}, "0,0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadAtRange(tt.value, MustParse(tt.r))
			assertStatus(t, err, opcua.StatusBadIndexRangeNoData)
		})
	}
}

func TestReadAtRange_DoesNotAlias(t *testing.T) {
	value := []int{1, 2, 3}
	out, err := ReadAtRange(value, MustParse("0:1"))
	require.NoError(t, err)
	out.([]int)[0] = 99
	assert.Equal(t, []int{1, 2, 3}, value)
}

// --- WriteAtRange ---

func TestWriteAtRange_RejectsOutOfRange(t *testing.T) {
	_, err := WriteAtRange([]int32{10, 20, 30}, []int32{1, 2}, MustParse("1:10"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)
}

func TestWriteAtRange_Replaces(t *testing.T) {
	current := []int32{10, 20, 30, 40}
	out, err := WriteAtRange(current, []int32{21, 31}, MustParse("1:2"))
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 21, 31, 40}, out)
	assert.Equal(t, []int32{10, 20, 30, 40}, current, "input must not be modified")
}

func TestWriteAtRange_MultiDimensional(t *testing.T) {
	current := [][]int{{1, 2, 3}, {4, 5, 6}}
	out, err := WriteAtRange(current, [][]int{{20, 30}, {50, 60}}, MustParse("0:1,1:2"))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 20, 30}, {4, 50, 60}}, out)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}}, current)
}

func TestWriteAtRange_String(t *testing.T) {
	out, err := WriteAtRange("hello", "XY", MustParse("1:2"))
	require.NoError(t, err)
	assert.Equal(t, "hXYlo", out)
}

func TestWriteAtRange_ByteString(t *testing.T) {
	out, err := WriteAtRange([]byte("hello"), []byte("XY"), MustParse("3:4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("helXY"), out)
}

func TestWriteAtRange_Array(t *testing.T) {
	out, err := WriteAtRange([3]int{1, 2, 3}, []int{9}, MustParse("0"))
	require.NoError(t, err)
	assert.Equal(t, [3]int{9, 2, 3}, out)
}

func TestWriteAtRange_ConvertsNumbers(t *testing.T) {
	out, err := WriteAtRange([]float64{1, 2, 3}, []any{int32(7)}, MustParse("2"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 7}, out)
}

func TestWriteAtRange_SizeMismatch(t *testing.T) {
	_, err := WriteAtRange([]int{1, 2, 3, 4}, []int{9}, MustParse("1:3"))
	assertStatus(t, err, opcua.StatusBadIndexRangeInvalid)

	_, err = WriteAtRange("hello", "XYZ", MustParse("1:2"))
	assertStatus(t, err, opcua.StatusBadIndexRangeInvalid)
}

func TestWriteAtRange_KindMismatch(t *testing.T) {
	_, err := WriteAtRange([]int{1, 2, 3}, []string{"a"}, MustParse("1"))
	assertStatus(t, err, opcua.StatusBadIndexRangeInvalid)

	_, err = WriteAtRange("hello", []byte("X"), MustParse("1"))
	assertStatus(t, err, opcua.StatusBadIndexRangeInvalid)
}

func TestWriteAtRange_NoData(t *testing.T) {
	_, err := WriteAtRange(nil, []int{1}, MustParse("0"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)

	_, err = WriteAtRange(int32(1), []int{1}, MustParse("0"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)

	_, err = WriteAtRange("hi", "X", MustParse("2"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)
}

// --- Variant helpers ---

func TestReadVariant_KeepsType(t *testing.T) {
	v := opcua.NewVariant([]uint16{1, 2, 3})
	out, err := ReadVariant(v, MustParse("0:1"))
	require.NoError(t, err)
	assert.Equal(t, opcua.TypeUInt16, out.Type)
	assert.Equal(t, []uint16{1, 2}, out.Value)
}

func TestWriteVariant(t *testing.T) {
	cur := opcua.NewVariant("hello")
	out, err := WriteVariant(cur, opcua.NewVariant("J"), MustParse("0"))
	require.NoError(t, err)
	assert.Equal(t, opcua.TypeString, out.Type)
	assert.Equal(t, "Jello", out.Value)

	_, err = WriteVariant(nil, cur, MustParse("0"))
	assertStatus(t, err, opcua.StatusBadIndexRangeNoData)
}
