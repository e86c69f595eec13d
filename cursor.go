package dynaquery

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// Cursor is a lazily-paginated, restartable sequence of matched items,
// generalizing the teacher library's Parser (parser.go) from a single
// fixed Expression to any derived Plan, and from dynamodbattribute's
// generic unmarshaller to this package's logical-type-aware
// UnmarshalValue.
type Cursor[T any] struct {
	repo     *Repository[T]
	criteria *Criteria
	plan     *Plan

	exhausted  bool
	gotItem    bool // PlanGet only: whether the single read has happened
	currentPage int

	exclusiveStartKey  map[string]*dynamodb.AttributeValue
	bufferedItems      []map[string]*dynamodb.AttributeValue
	currentBufferIndex int
}

func newCursor[T any](repo *Repository[T], criteria *Criteria, plan *Plan) *Cursor[T] {
	return &Cursor[T]{repo: repo, criteria: criteria, plan: plan}
}

// Next returns the next matching item, or (nil, nil) once the sequence
// is exhausted. It pages through DynamoDB automatically, honoring
// Criteria.Options.Limit as a per-page evaluation limit the same way
// the teacher's SetLimitPerPage did.
func (c *Cursor[T]) Next(ctx context.Context) (*T, error) {
	switch c.plan.Kind {
	case PlanGet:
		if c.gotItem {
			return nil, nil
		}
		c.gotItem = true
		item, err := c.repo.Get(ctx, c.plan.KeyConditions[0].Values[0], pointGetSortValue(c.plan)...)
		if err == ErrNotFound {
			return nil, nil
		}
		return item, err
	}

	for c.currentBufferIndex == len(c.bufferedItems) {
		if c.exhausted {
			return nil, nil
		}

		items, lastKey, err := c.fetchPage(ctx)
		if err != nil {
			return nil, err
		}

		c.bufferedItems = items
		c.currentBufferIndex = 0
		c.currentPage++
		c.exclusiveStartKey = lastKey
		if len(lastKey) == 0 {
			c.exhausted = true
		}
	}

	item := c.bufferedItems[c.currentBufferIndex]
	c.currentBufferIndex++
	return c.repo.unmarshalItem(item, c.repo.client.Config.Compatibility)
}

func pointGetSortValue(plan *Plan) []interface{} {
	if len(plan.KeyConditions) < 2 {
		return nil
	}
	return []interface{}{plan.KeyConditions[1].Values[0]}
}

func (c *Cursor[T]) fetchPage(ctx context.Context) ([]map[string]*dynamodb.AttributeValue, map[string]*dynamodb.AttributeValue, error) {
	input, err := Synthesize(c.repo.descriptor, c.plan, c.criteria, c.repo.client.Config)
	if err != nil {
		return nil, nil, err
	}

	switch in := input.(type) {
	case *dynamodb.QueryInput:
		in.ExclusiveStartKey = c.exclusiveStartKey
		out, err := c.repo.client.api.QueryWithContext(ctx, in)
		if err != nil {
			return nil, nil, &TransportError{Op: "Query", Err: err}
		}
		return out.Items, out.LastEvaluatedKey, nil
	case *dynamodb.ScanInput:
		in.ExclusiveStartKey = c.exclusiveStartKey
		out, err := c.repo.client.api.ScanWithContext(ctx, in)
		if err != nil {
			return nil, nil, &TransportError{Op: "Scan", Err: err}
		}
		return out.Items, out.LastEvaluatedKey, nil
	}
	return nil, nil, &TransportError{Op: "unknown", Err: aws.ErrMissingEndpoint}
}
