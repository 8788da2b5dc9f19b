package opcua

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeID(t *testing.T) {
	guid := uuid.MustParse("72962b91-fa75-4ae6-8d28-b404dc7daf63")
	tests := []struct {
		in   string
		want NodeID
		out  string
	}{
		{"i=2253", NewNumericNodeID(0, 2253), "i=2253"},
		{"ns=2;i=1001", NewNumericNodeID(2, 1001), "ns=2;i=1001"},
		{"ns=3;s=Boiler/Temperature", NewStringNodeID(3, "Boiler/Temperature"), "ns=3;s=Boiler/Temperature"},
		{"ns=1;g=72962b91-fa75-4ae6-8d28-b404dc7daf63", NewGUIDNodeID(1, guid), "ns=1;g=72962b91-fa75-4ae6-8d28-b404dc7daf63"},
		{"ns=4;b=cafe", NewOpaqueNodeID(4, []byte{0xca, 0xfe}), "ns=4;b=cafe"},
		{"85", NewNumericNodeID(0, 85), "i=85"},
		{"ns=2;Pump", NewStringNodeID(2, "Pump"), "ns=2;s=Pump"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNodeID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.out, got.String())
		})
	}
}

func TestParseNodeIDInvalid(t *testing.T) {
	for _, in := range []string{"ns=2", "ns=x;i=1", "ns=70000;i=1", "i=abc", "g=not-a-guid", "b=zz"} {
		_, err := ParseNodeID(in)
		assert.ErrorIs(t, err, ErrInvalidNodeID, in)
	}
}

func TestNewVariant(t *testing.T) {
	assert.Equal(t, TypeDouble, NewVariant(1.5).Type)
	assert.Equal(t, TypeInt32, NewVariant([]int32{1, 2}).Type)
	assert.Equal(t, TypeByteString, NewVariant([]byte("raw")).Type)
	assert.Equal(t, TypeString, NewVariant("x").Type)
	assert.Equal(t, TypeNull, NewVariant(nil).Type)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "Both", TimestampsToReturnBoth.String())
	assert.Equal(t, "Reporting", MonitoringModeReporting.String())
	assert.Equal(t, "ModifyMonitoredItems", ServiceModifyMonitoredItems.String())
}
