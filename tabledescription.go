package dynaquery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// TableDescriptionProvider gathers a live DynamoDB table's schema. It is
// the same collaborator shape as the teacher library's
// TableDescriptionProvider (tabledescriptionprovider.go), repurposed here
// from table-index-metadata extraction (scoring/sparseness) to one-time
// schema verification: VerifySchema below cross-checks an
// EntityDescriptor's declared keys and indexes against what the table
// actually has, catching a struct tag typo before it surfaces as a
// failed or misrouted request at query time.
type TableDescriptionProvider interface {
	Get(ctx context.Context, tableName string) (*dynamodb.TableDescription, error)
}

type dynamoDBTableDescriptionProvider struct {
	api dynamodbiface.DynamoDBAPI
}

// NewDynamoDBTableDescriptionProvider returns the default provider, which
// calls DescribeTable.
func NewDynamoDBTableDescriptionProvider(api dynamodbiface.DynamoDBAPI) TableDescriptionProvider {
	return &dynamoDBTableDescriptionProvider{api: api}
}

func (p *dynamoDBTableDescriptionProvider) Get(ctx context.Context, tableName string) (*dynamodb.TableDescription, error) {
	out, err := p.api.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return nil, &TransportError{Op: "DescribeTable", Err: err}
	}
	return out.Table, nil
}

// VerifySchema compares descriptor's declared partition key, sort key,
// and secondary indexes against the live table description provided by
// provider, returning a MetadataError describing the first mismatch
// found. It is an optional startup check; nothing in the derivation
// pipeline calls it automatically.
func VerifySchema(ctx context.Context, descriptor *EntityDescriptor, provider TableDescriptionProvider) error {
	table, err := provider.Get(ctx, descriptor.TableName)
	if err != nil {
		return err
	}

	keyRoles := map[string]string{}
	for _, ks := range table.KeySchema {
		keyRoles[aws.StringValue(ks.AttributeName)] = aws.StringValue(ks.KeyType)
	}

	if role, ok := keyRoles[descriptor.PartitionKey.AttributeName]; !ok || role != dynamodb.KeyTypeHash {
		return &MetadataError{Type: descriptor.GoType.String(),
			Reason: fmt.Sprintf("table %s has no HASH key on attribute %s",
				descriptor.TableName, descriptor.PartitionKey.AttributeName)}
	}

	if descriptor.SortKey != nil {
		if role, ok := keyRoles[descriptor.SortKey.AttributeName]; !ok || role != dynamodb.KeyTypeRange {
			return &MetadataError{Type: descriptor.GoType.String(),
				Reason: fmt.Sprintf("table %s has no RANGE key on attribute %s",
					descriptor.TableName, descriptor.SortKey.AttributeName)}
		}
	}

	liveIndexes := map[string][]*dynamodb.KeySchemaElement{}
	for _, gsi := range table.GlobalSecondaryIndexes {
		liveIndexes[aws.StringValue(gsi.IndexName)] = gsi.KeySchema
	}
	for _, lsi := range table.LocalSecondaryIndexes {
		liveIndexes[aws.StringValue(lsi.IndexName)] = lsi.KeySchema
	}

	for _, idx := range descriptor.Indexes {
		schema, ok := liveIndexes[idx.Name]
		if !ok {
			return &MetadataError{Type: descriptor.GoType.String(),
				Reason: fmt.Sprintf("table %s has no index named %s", descriptor.TableName, idx.Name)}
		}
		roles := map[string]string{}
		for _, ks := range schema {
			roles[aws.StringValue(ks.AttributeName)] = aws.StringValue(ks.KeyType)
		}
		if role, ok := roles[idx.PartitionKey.AttributeName]; !ok || role != dynamodb.KeyTypeHash {
			return &MetadataError{Type: descriptor.GoType.String(),
				Reason: fmt.Sprintf("index %s has no HASH key on attribute %s", idx.Name, idx.PartitionKey.AttributeName)}
		}
		if idx.SortKey != nil {
			if role, ok := roles[idx.SortKey.AttributeName]; !ok || role != dynamodb.KeyTypeRange {
				return &MetadataError{Type: descriptor.GoType.String(),
					Reason: fmt.Sprintf("index %s has no RANGE key on attribute %s", idx.Name, idx.SortKey.AttributeName)}
			}
		}
	}

	return nil
}
