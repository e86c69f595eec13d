package dynaquery

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamoDBAPI embeds the real interface so only the handful of
// methods a given test cares about need overriding; any call that falls
// through to the embedded nil interface panics, which is the point: an
// unexpected call fails the test loudly rather than being silently
// interpreted as a zero value.
type fakeDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI

	getItem        func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem        func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	deleteItem     func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	query          func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scan           func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	batchWriteItem func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
	queryCalls     int
	batchCalls     int
}

func (f *fakeDynamoDBAPI) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeDynamoDBAPI) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeDynamoDBAPI) DeleteItemWithContext(_ aws.Context, in *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	return f.deleteItem(in)
}

func (f *fakeDynamoDBAPI) QueryWithContext(_ aws.Context, in *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	f.queryCalls++
	return f.query(in)
}

func (f *fakeDynamoDBAPI) ScanWithContext(_ aws.Context, in *dynamodb.ScanInput, _ ...request.Option) (*dynamodb.ScanOutput, error) {
	return f.scan(in)
}

func (f *fakeDynamoDBAPI) BatchWriteItemWithContext(_ aws.Context, in *dynamodb.BatchWriteItemInput, _ ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	return f.batchWriteItem(in)
}

func TestRepository_GetReturnsErrNotFoundOnEmptyItem(t *testing.T) {
	api := &fakeDynamoDBAPI{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), "cust-1", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_GetUnmarshalsReturnedItem(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	api := &fakeDynamoDBAPI{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]*dynamodb.AttributeValue{
				"customer_id": {S: aws.String("cust-1")},
				"order_date":  {S: aws.String(now.Format(instantNanoLayout))},
				"status":      {S: aws.String("SHIPPED")},
				"amount":      {N: aws.String("42.5")},
				"version":     {N: aws.String("3")},
			}}, nil
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), "cust-1", now)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerId)
	assert.Equal(t, "SHIPPED", got.Status)
	assert.Equal(t, int64(3), got.Version)
}

func TestRepository_SaveInsertsWithAttributeNotExistsWhenVersionZero(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &fakeDynamoDBAPI{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			captured = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	entity := &order{CustomerId: "cust-1", OrderDate: time.Now(), Status: "NEW", Version: 0}
	err = repo.Save(context.Background(), entity)
	require.NoError(t, err)

	require.NotNil(t, captured.ConditionExpression)
	assert.Contains(t, *captured.ConditionExpression, "attribute_not_exists")
	assert.Equal(t, int64(1), entity.Version)
}

func TestRepository_SaveReturnsOptimisticLockFailureOnConditionalCheckFailed(t *testing.T) {
	api := &fakeDynamoDBAPI{
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "stale version", nil)
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	entity := &order{CustomerId: "cust-1", OrderDate: time.Now(), Version: 2}
	err = repo.Save(context.Background(), entity)
	require.Error(t, err)
	var olf *OptimisticLockFailure
	require.ErrorAs(t, err, &olf)
	assert.Equal(t, int64(2), entity.Version)
}

func TestRepository_DeleteWrapsTransportError(t *testing.T) {
	api := &fakeDynamoDBAPI{
		deleteItem: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return nil, awserr.New("ProvisionedThroughputExceededException", "slow down", nil)
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	err = repo.Delete(context.Background(), "cust-1", time.Now())
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestRepository_FindPagesAcrossLastEvaluatedKey(t *testing.T) {
	pageOne := map[string]*dynamodb.AttributeValue{"customer_id": {S: aws.String("cust-1")}}
	calls := 0
	api := &fakeDynamoDBAPI{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.QueryOutput{
					Items: []map[string]*dynamodb.AttributeValue{
						{"customer_id": {S: aws.String("cust-1")}, "status": {S: aws.String("A")}},
					},
					LastEvaluatedKey: pageOne,
				}, nil
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]*dynamodb.AttributeValue{
					{"customer_id": {S: aws.String("cust-1")}, "status": {S: aws.String("B")}},
				},
			}, nil
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	cursor, err := repo.Find(context.Background(), "FindByCustomerId", "cust-1")
	require.NoError(t, err)

	var statuses []string
	for {
		item, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if item == nil {
			break
		}
		statuses = append(statuses, item.Status)
	}
	assert.Equal(t, []string{"A", "B"}, statuses)
	assert.Equal(t, 2, calls)
}

func TestRepository_CountRejectsEmptyInCollection(t *testing.T) {
	api := &fakeDynamoDBAPI{}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	_, err = repo.Count(context.Background(), "FindByStatusIn", []string{})
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestRepository_BatchSaveChunksAtTwentyFiveItems(t *testing.T) {
	api := &fakeDynamoDBAPI{
		batchWriteItem: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	repo, err := NewRepository[order](NewClient(api))
	require.NoError(t, err)

	entities := make([]*order, 30)
	for i := range entities {
		entities[i] = &order{CustomerId: "cust-1", OrderDate: time.Now()}
	}

	err = repo.BatchSave(context.Background(), entities)
	require.NoError(t, err)
	assert.Equal(t, 2, api.batchCalls)
}

func TestRepository_BatchSaveReturnsTypedEntitiesWhenRetriesExhausted(t *testing.T) {
	api := &fakeDynamoDBAPI{
		batchWriteItem: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			// every call reports the whole chunk as unprocessed, forcing
			// the retry loop to exhaust MaxAttempts
			return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
		},
	}
	config := DefaultConfig()
	config.RetryPolicy = RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	repo, err := NewRepository[order](NewClientWithConfig(api, config))
	require.NoError(t, err)

	entities := []*order{
		{CustomerId: "cust-1", OrderDate: time.Now()},
		{CustomerId: "cust-2", OrderDate: time.Now()},
	}

	err = repo.BatchSave(context.Background(), entities)
	require.Error(t, err)
	var bwf *BatchWriteFailed
	require.ErrorAs(t, err, &bwf)
	assert.Equal(t, 2, bwf.Attempts)
	require.Len(t, bwf.UnprocessedItems, 2)
	assert.Same(t, entities[0], bwf.UnprocessedItems[0])
	assert.Same(t, entities[1], bwf.UnprocessedItems[1])
}

func TestRepository_SaveWritesGeneratedConverterValueBackToEntity(t *testing.T) {
	RegisterConverter[gadget]("ID", AutoUUIDConverter{})

	var captured *dynamodb.PutItemInput
	api := &fakeDynamoDBAPI{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			captured = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo, err := NewRepository[gadget](NewClient(api))
	require.NoError(t, err)

	entity := &gadget{Name: "left-handed smoke shifter"}
	err = repo.Save(context.Background(), entity)
	require.NoError(t, err)

	require.NotEmpty(t, entity.ID)
	assert.Len(t, entity.ID, 36)
	assert.Equal(t, entity.ID, aws.StringValue(captured.Item["id"].S))
}
