package plc

import (
	"math"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceConvertsToDeclaredType(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		typeID ua.TypeID
		want   any
	}{
		{"int to int16", 13500, ua.TypeIDInt16, int16(13500)},
		{"int to uint16", 42, ua.TypeIDUint16, uint16(42)},
		{"float32 to double", float32(12.5), ua.TypeIDDouble, float64(12.5)},
		{"int to float", 50, ua.TypeIDFloat, float32(50)},
		{"largest exact float integer", 16777216, ua.TypeIDFloat, float32(16777216)},
		{"largest exact double integer", int64(9007199254740992), ua.TypeIDDouble, float64(9007199254740992)},
		{"double narrowed to float", 0.1, ua.TypeIDFloat, float32(0.1)},
		{"integral float to int32", 75.0, ua.TypeIDInt32, int32(75)},
		{"uint8 to int64", uint8(7), ua.TypeIDInt64, int64(7)},
		{"negative int to int64", -3, ua.TypeIDInt64, int64(-3)},
		{"int to uint64", 9, ua.TypeIDUint64, uint64(9)},
		{"max uint64", uint64(math.MaxUint64), ua.TypeIDUint64, uint64(math.MaxUint64)},
		{"bool", true, ua.TypeIDBoolean, true},
		{"string", "abc", ua.TypeIDString, "abc"},
		{"nil stays nil", nil, ua.TypeIDInt16, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Coerce(tc.value, tc.typeID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoerceRejectsValuesThatDoNotFit(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		typeID ua.TypeID
	}{
		{"int16 overflow", 40000, ua.TypeIDInt16},
		{"negative into unsigned", -1, ua.TypeIDUint16},
		{"uint64 into int64", uint64(math.MaxUint64), ua.TypeIDInt64},
		{"fractional float into int", 12.5, ua.TypeIDInt32},
		{"NaN into int", math.NaN(), ua.TypeIDInt32},
		{"bool into int", true, ua.TypeIDInt16},
		{"int into bool", 1, ua.TypeIDBoolean},
		{"string into double", "1.0", ua.TypeIDDouble},
		{"double beyond float range", math.MaxFloat64, ua.TypeIDFloat},
		{"int beyond float precision", 16777217, ua.TypeIDFloat},
		{"uint32 beyond float precision", uint32(math.MaxUint32), ua.TypeIDFloat},
		{"int64 beyond double precision", int64(9007199254740993), ua.TypeIDDouble},
		{"max uint64 into double", uint64(math.MaxUint64), ua.TypeIDDouble},
		{"max int64 into double", int64(math.MaxInt64), ua.TypeIDDouble},
		{"folder node", 1, ua.TypeIDNull},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Coerce(tc.value, tc.typeID)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTypeMismatch), "got %v", err)
		})
	}
}

func TestAsBool(t *testing.T) {
	b, err := AsBool(true)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = AsBool(int16(1))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = AsBool(nil)
	assert.Error(t, err)
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	assert.True(t, Equal(int16(50), 50))
	assert.True(t, Equal(float32(0.5), 0.5))
	assert.False(t, Equal(int16(50), 51))
	assert.True(t, Equal(true, true))
	assert.False(t, Equal(true, 1))
	assert.True(t, Equal(nil, nil))
}

func TestEndpointFromHost(t *testing.T) {
	assert.Equal(t, "opc.tcp://172.30.4.12:4840", EndpointFromHost("172.30.4.12"))
	assert.Equal(t, "opc.tcp://plc:4841", EndpointFromHost("opc.tcp://plc:4841"))
}

func TestSplitQualified(t *testing.T) {
	ns, name, ok := splitQualified("3:Inputs")
	assert.True(t, ok)
	assert.Equal(t, uint16(3), ns)
	assert.Equal(t, "Inputs", name)

	_, name, ok = splitQualified("hwi_YSV-001_opened")
	assert.False(t, ok)
	assert.Equal(t, "hwi_YSV-001_opened", name)

	_, name, ok = splitQualified("x:y")
	assert.False(t, ok)
	assert.Equal(t, "x:y", name)
}
