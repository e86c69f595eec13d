package dynaquery

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize_PointGetBuildsKeyDirectly(t *testing.T) {
	d := mustDescribe()
	now := time.Now()
	c := Where("CustomerId").Equal("cust-1").And("OrderDate").Equal(now)
	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	input, err := Synthesize(d, plan, c, DefaultConfig())
	require.NoError(t, err)

	get, ok := input.(*dynamodb.GetItemInput)
	require.True(t, ok)
	assert.Equal(t, "orders", aws.StringValue(get.TableName))
	assert.Contains(t, get.Key, "customer_id")
	assert.Contains(t, get.Key, "order_date")
}

func TestSynthesize_QueryUsesSeparatePlaceholdersForEachAttribute(t *testing.T) {
	d := mustDescribe()
	c := Where("CustomerId").Equal("cust-1").And("Amount").GreaterThan(50.0)
	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	input, err := Synthesize(d, plan, c, DefaultConfig())
	require.NoError(t, err)

	query, ok := input.(*dynamodb.QueryInput)
	require.True(t, ok)
	assert.Contains(t, aws.StringValue(query.KeyConditionExpression), "= :v0")
	require.NotNil(t, query.FilterExpression)
	assert.Contains(t, aws.StringValue(query.FilterExpression), "> :v1")
	assert.Len(t, query.ExpressionAttributeNames, 2)
	assert.Len(t, query.ExpressionAttributeValues, 2)
}

func TestSynthesize_BetweenAndInFragments(t *testing.T) {
	d := mustDescribe()
	now := time.Now()
	c := Where("CustomerId").Equal("cust-1").And("OrderDate").Between(now, now.Add(time.Hour)).
		And("Status").In("NEW", "SHIPPED")
	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	input, err := Synthesize(d, plan, c, DefaultConfig())
	require.NoError(t, err)
	query := input.(*dynamodb.QueryInput)
	assert.Contains(t, aws.StringValue(query.KeyConditionExpression), "BETWEEN")
	require.NotNil(t, query.FilterExpression)
	assert.Contains(t, aws.StringValue(query.FilterExpression), "IN (")
}

func TestSynthesize_RawFilterMergedWithoutPlaceholderCollision(t *testing.T) {
	d := mustDescribe()
	c := Where("CustomerId").Equal("cust-1")
	c.Options.RawFilterExpression = "#raw_status = :raw_val"
	c.Options.RawFilterNames = map[string]string{"#raw_status": "status"}
	c.Options.RawFilterValues = map[string]interface{}{":raw_val": "PENDING"}

	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	input, err := Synthesize(d, plan, c, DefaultConfig())
	require.NoError(t, err)
	query := input.(*dynamodb.QueryInput)
	require.NotNil(t, query.FilterExpression)
	assert.NotContains(t, *query.FilterExpression, "#raw_status")
	assert.NotContains(t, *query.FilterExpression, ":raw_val")
}

func TestSynthesize_ConsistentReadRejectedOnGSI(t *testing.T) {
	d := mustDescribe()
	c := Where("Status").Equal("SHIPPED").WithConsistency(ConsistencyStrong)

	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	_, err = Synthesize(d, plan, c, DefaultConfig())
	require.Error(t, err)
	var uo *UnsupportedOperator
	require.ErrorAs(t, err, &uo)
}

func TestSynthesize_ScanIndexForwardSetOnDescendingSort(t *testing.T) {
	d := mustDescribe()
	c := Where("CustomerId").Equal("cust-1")
	c.Sort = []SortPart{{Property: "OrderDate", Direction: Desc}}

	plan, err := SelectPlan(d, c)
	require.NoError(t, err)

	input, err := Synthesize(d, plan, c, DefaultConfig())
	require.NoError(t, err)
	query := input.(*dynamodb.QueryInput)
	require.NotNil(t, query.ScanIndexForward)
	assert.False(t, *query.ScanIndexForward)
}
