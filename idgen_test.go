package dynaquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoUUIDConverter_GeneratesWhenEmpty(t *testing.T) {
	p := &PropertyRef{Name: "ID", AttributeName: "id", LogicalType: LogicalString, Converter: AutoUUIDConverter{}}

	wire, err := MarshalValue(p, "", NATIVE)
	require.NoError(t, err)
	assert.NotEmpty(t, wire.S)
	assert.Len(t, wire.S, 36)
}

func TestAutoUUIDConverter_PreservesCallerSuppliedValue(t *testing.T) {
	p := &PropertyRef{Name: "ID", AttributeName: "id", LogicalType: LogicalString, Converter: AutoUUIDConverter{}}

	wire, err := MarshalValue(p, "caller-chosen-id", NATIVE)
	require.NoError(t, err)
	assert.Equal(t, "caller-chosen-id", wire.S)
}
