package dynaquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, lt LogicalType, value interface{}, compat Compatibility) interface{} {
	t.Helper()
	p := &PropertyRef{Name: "field", AttributeName: "field", LogicalType: lt}

	wire, err := MarshalValue(p, value, compat)
	require.NoError(t, err)

	av := wire.ToAttributeValue()
	back := WireValueFromAttributeValue(av)

	got, err := UnmarshalValue(p, back, compat)
	require.NoError(t, err)
	return got
}

func TestWireValue_StringRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalString, "hello", NATIVE)
	assert.Equal(t, "hello", got)
}

func TestWireValue_NumberRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalNumber, int64(42), NATIVE)
	assert.Equal(t, int64(42), got)
}

func TestWireValue_BoolNativeUsesBOOLVariant(t *testing.T) {
	p := &PropertyRef{Name: "active", AttributeName: "active", LogicalType: LogicalBool}
	wire, err := MarshalValue(p, true, NATIVE)
	require.NoError(t, err)
	assert.Equal(t, WireBOOL, wire.Kind)

	got := roundTrip(t, LogicalBool, true, NATIVE)
	assert.Equal(t, true, got)
}

func TestWireValue_BoolLegacyUsesNumericVariant(t *testing.T) {
	p := &PropertyRef{Name: "active", AttributeName: "active", LogicalType: LogicalBool}
	wire, err := MarshalValue(p, false, LEGACY)
	require.NoError(t, err)
	assert.Equal(t, WireN, wire.Kind)
	assert.Equal(t, "0", wire.N)

	got := roundTrip(t, LogicalBool, false, LEGACY)
	assert.Equal(t, false, got)
}

func TestWireValue_BytesRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalBytes, []byte("payload"), NATIVE)
	assert.Equal(t, []byte("payload"), got)
}

func TestWireValue_InstantNativeUsesNanosecondLayout(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	got := roundTrip(t, LogicalInstant, now, NATIVE)
	gotTime, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, now.Equal(gotTime))
}

func TestWireValue_InstantLegacyUsesMillisecondStringLayout(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &PropertyRef{Name: "ts", AttributeName: "ts", LogicalType: LogicalInstant}
	wire, err := MarshalValue(p, now, LEGACY)
	require.NoError(t, err)
	assert.Equal(t, WireS, wire.Kind)

	got := roundTrip(t, LogicalInstant, now, LEGACY)
	gotTime, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, now.Equal(gotTime))
}

func TestWireValue_DateNativeUsesEpochMillis(t *testing.T) {
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	p := &PropertyRef{Name: "d", AttributeName: "d", LogicalType: LogicalDate}
	wire, err := MarshalValue(p, day, NATIVE)
	require.NoError(t, err)
	assert.Equal(t, WireN, wire.Kind)

	got := roundTrip(t, LogicalDate, day, NATIVE)
	gotTime, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, day.Equal(gotTime))
}

func TestWireValue_DateLegacyUsesStringLayout(t *testing.T) {
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	p := &PropertyRef{Name: "d", AttributeName: "d", LogicalType: LogicalDate}
	wire, err := MarshalValue(p, day, LEGACY)
	require.NoError(t, err)
	assert.Equal(t, WireS, wire.Kind)
}

func TestWireValue_StringSetRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalStringSet, []string{"a", "b", "c"}, NATIVE)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestWireValue_NumberSetRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalNumberSet, []int{1, 2, 3}, NATIVE)
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestWireValue_BinarySetRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalBinarySet, [][]byte{[]byte("a"), []byte("b")}, NATIVE)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
}

func TestWireValue_BoolSetRoundTrip(t *testing.T) {
	got := roundTrip(t, LogicalBoolSet, []bool{true, false, true}, NATIVE)
	assert.Equal(t, []bool{true, false, true}, got)
}

func TestWireValue_NilPointerMarshalsToNull(t *testing.T) {
	p := &PropertyRef{Name: "opt", AttributeName: "opt", LogicalType: LogicalString}
	var ptr *string
	wire, err := MarshalValue(p, ptr, NATIVE)
	require.NoError(t, err)
	assert.Equal(t, WireNULL, wire.Kind)
}

func TestWireValue_ConverterTakesPrecedenceOverLogicalType(t *testing.T) {
	p := &PropertyRef{Name: "custom", AttributeName: "custom", LogicalType: LogicalString, Converter: upperCaseConverter{}}
	wire, err := MarshalValue(p, "abc", NATIVE)
	require.NoError(t, err)
	assert.Equal(t, "ABC", wire.S)

	back, err := UnmarshalValue(p, wire, NATIVE)
	require.NoError(t, err)
	assert.Equal(t, "abc", back)
}

type upperCaseConverter struct{}

func (upperCaseConverter) ToWire(value interface{}) (WireValue, error) {
	s := value.(string)
	upper := ""
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 32
		}
		upper += string(r)
	}
	return WireValue{Kind: WireS, S: upper}, nil
}

func (upperCaseConverter) FromWire(v WireValue) (interface{}, error) {
	lower := ""
	for _, r := range v.S {
		if r >= 'A' && r <= 'Z' {
			r += 32
		}
		lower += string(r)
	}
	return lower, nil
}
