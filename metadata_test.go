package dynaquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe_CachesByType(t *testing.T) {
	d1, err := Describe(&order{})
	require.NoError(t, err)
	d2, err := Describe(&order{})
	require.NoError(t, err)
	assert.Same(t, d1, d2)
}

func TestDescribe_UsesTableNameMethodOverride(t *testing.T) {
	d := mustDescribe()
	assert.Equal(t, "orders", d.TableName)
}

func TestDescribe_DefaultsTableNameToTypeNameWithoutOverride(t *testing.T) {
	type plainEntity struct {
		ID string `dynaquery:"pk"`
	}
	d, err := Describe(&plainEntity{})
	require.NoError(t, err)
	assert.Equal(t, "plainEntity", d.TableName)
}

func TestDescribe_MissingPartitionKeyErrors(t *testing.T) {
	type noKey struct {
		Name string
	}
	_, err := Describe(&noKey{})
	require.Error(t, err)
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

func TestDescribe_DuplicatePartitionKeyErrors(t *testing.T) {
	type dupPK struct {
		A string `dynaquery:"pk"`
		B string `dynaquery:"pk"`
	}
	_, err := Describe(&dupPK{})
	require.Error(t, err)
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

func TestDescribe_SortKeyCannotAliasPartitionKeyAttribute(t *testing.T) {
	type aliasedKeys struct {
		A string `dynaquery:"pk;attr=shared"`
		B string `dynaquery:"sk;attr=shared"`
	}
	_, err := Describe(&aliasedKeys{})
	require.Error(t, err)
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

func TestDescribe_IndexMissingPartitionKeyErrors(t *testing.T) {
	type badIndex struct {
		A string `dynaquery:"pk"`
		B string `dynaquery:"index=SomeIndex:sk"`
	}
	_, err := Describe(&badIndex{})
	require.Error(t, err)
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

func TestDescribe_ResolvesLSIByMatchingMainTablePartitionKey(t *testing.T) {
	type lsiEntity struct {
		A string `dynaquery:"pk;index=ByB:pk"`
		B string `dynaquery:"sk"`
		C string `dynaquery:"index=ByB:sk"`
	}
	d, err := Describe(&lsiEntity{})
	require.NoError(t, err)
	require.Len(t, d.Indexes, 1)
	assert.True(t, d.Indexes[0].IsLSI(d))
}

func TestDescribe_FieldTaggedDashIsSkipped(t *testing.T) {
	type withIgnored struct {
		A       string `dynaquery:"pk"`
		Ignored string `dynaquery:"-"`
	}
	d, err := Describe(&withIgnored{})
	require.NoError(t, err)
	_, ok := d.byName("Ignored")
	assert.False(t, ok)
}

type convertedID struct {
	Value string
}

func (c convertedID) ToWire(interface{}) (WireValue, error)   { return WireValue{Kind: WireS, S: c.Value}, nil }
func (c convertedID) FromWire(WireValue) (interface{}, error) { return c.Value, nil }

type convertibleEntity struct {
	Key string `dynaquery:"pk"`
	Tag string
}

func TestRegisterConverter_AppliesToFutureDescribeCalls(t *testing.T) {
	RegisterConverter[convertibleEntity]("Tag", convertedID{Value: "bound"})
	d, err := Describe(&convertibleEntity{})
	require.NoError(t, err)
	p, ok := d.byName("Tag")
	require.True(t, ok)
	require.NotNil(t, p.Converter)
}

func TestDescribe_VersionPropertyRecognized(t *testing.T) {
	d := mustDescribe()
	require.NotNil(t, d.VersionProperty)
	assert.Equal(t, "Version", d.VersionProperty.Name)
}
