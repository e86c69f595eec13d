package dynaquery

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// Client wraps the low-level DynamoDB transport and the process-wide
// Config, playing the role the teacher library's autoquery.Client played
// for table metadata and index scoring (client.go), generalized to every
// request shape this package derives (spec.md §4.F).
type Client struct {
	api    dynamodbiface.DynamoDBAPI
	Config Config
}

// NewClient builds a Client around api with DefaultConfig.
func NewClient(api dynamodbiface.DynamoDBAPI) *Client {
	return &Client{api: api, Config: DefaultConfig()}
}

// NewClientWithConfig builds a Client around api with an explicit Config.
func NewClientWithConfig(api dynamodbiface.DynamoDBAPI, config Config) *Client {
	return &Client{api: api, Config: config}
}

// Repository[T] is this module's answer to spec.md's "repository-interface
// proxy generator" collaborator, which it explicitly lists as out of
// scope: Go cannot synthesize methods on an interface at runtime the way
// a JVM dynamic proxy can, so instead of generating a per-entity
// interface, callers drive the same derivation pipeline through a single
// generic type parameterized on the entity, naming the finder as a
// runtime string (DESIGN.md, open-question decision 5).
type Repository[T any] struct {
	client     *Client
	descriptor *EntityDescriptor
}

// NewRepository describes T and binds it to client.
func NewRepository[T any](client *Client) (*Repository[T], error) {
	var zero T
	descriptor, err := Describe(&zero)
	if err != nil {
		return nil, err
	}
	return &Repository[T]{client: client, descriptor: descriptor}, nil
}

// Descriptor exposes the entity metadata this repository was built from.
func (r *Repository[T]) Descriptor() *EntityDescriptor { return r.descriptor }

func (r *Repository[T]) marshalItem(rv reflect.Value, compat Compatibility) (map[string]*dynamodb.AttributeValue, error) {
	item := make(map[string]*dynamodb.AttributeValue, len(r.descriptor.Properties))
	for _, prop := range r.descriptor.Properties {
		fv := rv.FieldByIndex(prop.FieldIndex)
		wv, err := MarshalValue(prop, fv.Interface(), compat)
		if err != nil {
			return nil, err
		}
		if prop.Converter != nil {
			// A converter such as AutoUUIDConverter may generate a value
			// (e.g. a fresh UUID for an empty key) that only exists on
			// the WireValue it returned; write it back into the entity
			// so the caller observes the generated value and a repeat
			// Save reuses it instead of generating a new one each time.
			generated, err := prop.Converter.FromWire(wv)
			if err != nil {
				return nil, err
			}
			fv.Set(reflect.ValueOf(generated).Convert(fv.Type()))
		}
		item[prop.AttributeName] = wv.ToAttributeValue()
	}
	return item, nil
}

func (r *Repository[T]) unmarshalItem(item map[string]*dynamodb.AttributeValue, compat Compatibility) (*T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	for _, prop := range r.descriptor.Properties {
		av, ok := item[prop.AttributeName]
		if !ok {
			continue
		}
		wv := WireValueFromAttributeValue(av)
		if wv.Kind == WireNULL {
			continue
		}
		value, err := UnmarshalValue(prop, wv, compat)
		if err != nil {
			return nil, err
		}
		fv := rv.FieldByIndex(prop.FieldIndex)
		fv.Set(reflect.ValueOf(value).Convert(fv.Type()))
	}
	return &out, nil
}

func (r *Repository[T]) keyMap(pk interface{}, sk ...interface{}) (map[string]*dynamodb.AttributeValue, error) {
	compat := r.client.Config.Compatibility
	key := map[string]*dynamodb.AttributeValue{}

	wv, err := MarshalValue(r.descriptor.PartitionKey, pk, compat)
	if err != nil {
		return nil, err
	}
	key[r.descriptor.PartitionKey.AttributeName] = wv.ToAttributeValue()

	if r.descriptor.SortKey != nil {
		if len(sk) != 1 {
			return nil, &ArgumentError{Property: r.descriptor.SortKey.Name,
				Reason: "entity has a sort key; exactly one sort value is required"}
		}
		wv, err := MarshalValue(r.descriptor.SortKey, sk[0], compat)
		if err != nil {
			return nil, err
		}
		key[r.descriptor.SortKey.AttributeName] = wv.ToAttributeValue()
	} else if len(sk) != 0 {
		return nil, &ArgumentError{Reason: "entity has no sort key; no sort value expected"}
	}

	return key, nil
}

// Get performs a point read by primary key. sk is required iff the
// entity declares a sort key. It returns ErrNotFound if no item matches.
func (r *Repository[T]) Get(ctx context.Context, pk interface{}, sk ...interface{}) (*T, error) {
	key, err := r.keyMap(pk, sk...)
	if err != nil {
		return nil, err
	}

	out, err := r.client.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.descriptor.TableName),
		Key:       key,
	})
	if err != nil {
		return nil, &TransportError{Op: "GetItem", Err: err}
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return r.unmarshalItem(out.Item, r.client.Config.Compatibility)
}

// Save writes entity, performing an optimistic-lock compare-and-swap on
// the descriptor's version property if one is declared: the write is
// conditioned on the version currently stored matching the value read
// into entity, and entity's in-memory version is bumped on success
// (spec_full.md §3, supplementing the distilled spec's dropped
// @Version/optimistic-lock feature from the Spring Data original).
func (r *Repository[T]) Save(ctx context.Context, entity *T) error {
	compat := r.client.Config.Compatibility
	rv := reflect.ValueOf(entity).Elem()

	item, err := r.marshalItem(rv, compat)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.descriptor.TableName),
		Item:      item,
	}

	var expectedVersion int64
	vProp := r.descriptor.VersionProperty
	if vProp != nil {
		fv := rv.FieldByIndex(vProp.FieldIndex)
		expectedVersion = fv.Int()

		b := newExprBuilder()
		namePH := b.nameFor(vProp.AttributeName)
		if expectedVersion == 0 {
			input.ConditionExpression = aws.String(fmt.Sprintf("attribute_not_exists(%s)", namePH))
		} else {
			vPH := b.valueFor(&dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(expectedVersion, 10))})
			input.ConditionExpression = aws.String(fmt.Sprintf("%s = %s", namePH, vPH))
		}
		input.ExpressionAttributeNames = aws.StringMap(b.names)
		if len(b.values) > 0 {
			input.ExpressionAttributeValues = b.values
		}

		newVersion := expectedVersion + 1
		item[vProp.AttributeName] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(newVersion, 10))}
	}

	_, err = r.client.api.PutItemWithContext(ctx, input)
	if err != nil {
		if isConditionalCheckFailure(err) {
			return &OptimisticLockFailure{Table: r.descriptor.TableName, ExpectedVersion: expectedVersion}
		}
		return &TransportError{Op: "PutItem", Err: err}
	}

	if vProp != nil {
		rv.FieldByIndex(vProp.FieldIndex).SetInt(expectedVersion + 1)
	}
	return nil
}

// Delete removes the item with the given primary key. It does not error
// if no such item exists, matching DynamoDB's DeleteItem semantics.
func (r *Repository[T]) Delete(ctx context.Context, pk interface{}, sk ...interface{}) error {
	key, err := r.keyMap(pk, sk...)
	if err != nil {
		return err
	}
	_, err = r.client.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.descriptor.TableName),
		Key:       key,
	})
	if err != nil {
		return &TransportError{Op: "DeleteItem", Err: err}
	}
	return nil
}

func isConditionalCheckFailure(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}

// derive runs components B through D for methodName against args: parse,
// bind, and select a plan. Every finder entry point below shares this.
// allowScanForCount is true only for Count, which may honor the
// independent Options.ScanCountEnabled flag in addition to ScanEnabled
// (spec.md §6's "repository-level and method-level permission flags:
// scanEnabled, scanCountEnabled"). The Criteria built here carries zero
// Options, and Repository has no field or parameter that sets them, so
// neither flag is ever true on this path: a finder that needs a Scan
// fails with ScanNotPermitted.
func (r *Repository[T]) derive(methodName string, args []interface{}, allowScanForCount bool) (*PartTree, *Criteria, *Plan, error) {
	tree, err := ParseMethodName(methodName, r.descriptor)
	if err != nil {
		return nil, nil, nil, err
	}
	criteria, err := BuildCriteria(tree, r.descriptor, args)
	if err != nil {
		return nil, nil, nil, err
	}
	if allowScanForCount && criteria.Options.ScanCountEnabled {
		criteria.Options.ScanEnabled = true
	}
	plan, err := SelectPlan(r.descriptor, criteria)
	if err != nil {
		switch e := err.(type) {
		case *ScanNotPermitted:
			e.MethodName = methodName
		case *ParseError:
			e.MethodName = methodName
		}
		return nil, nil, nil, err
	}
	return tree, criteria, plan, nil
}

// Find dispatches methodName (a "FindBy...", "CountBy...", "ExistsBy...",
// or "DeleteBy..." finder, per spec.md §4.B) against args and returns a
// lazily-paginated Cursor. Use FindOne/Count/Exists/DeleteBy for the
// other subjects.
func (r *Repository[T]) Find(ctx context.Context, methodName string, args ...interface{}) (*Cursor[T], error) {
	_, criteria, plan, err := r.derive(methodName, args, false)
	if err != nil {
		return nil, err
	}
	return newCursor(r, criteria, plan), nil
}

// FindOne returns the first matching item, or ErrNotFound if none match.
func (r *Repository[T]) FindOne(ctx context.Context, methodName string, args ...interface{}) (*T, error) {
	cursor, err := r.Find(ctx, methodName, args...)
	if err != nil {
		return nil, err
	}
	cursor.criteria.Options.Limit = 1
	item, err := cursor.Next(ctx)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

// Exists reports whether any item matches methodName's criteria.
func (r *Repository[T]) Exists(ctx context.Context, methodName string, args ...interface{}) (bool, error) {
	_, err := r.FindOne(ctx, methodName, args...)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the total number of items matching methodName's
// criteria, issuing a COUNT-select Query/Scan and paging internally
// until exhausted.
func (r *Repository[T]) Count(ctx context.Context, methodName string, args ...interface{}) (int64, error) {
	_, criteria, plan, err := r.derive(methodName, args, true)
	if err != nil {
		return 0, err
	}
	if plan.Kind == PlanGet {
		_, err := r.Get(ctx, plan.KeyConditions[0].Values[0], pointGetSortValue(plan)...)
		if err == ErrNotFound {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}

	var total int64
	var exclusiveStartKey map[string]*dynamodb.AttributeValue
	for {
		count, lastKey, err := r.countPage(ctx, plan, criteria, exclusiveStartKey)
		if err != nil {
			return 0, err
		}
		total += count
		if len(lastKey) == 0 {
			break
		}
		exclusiveStartKey = lastKey
	}
	return total, nil
}

func (r *Repository[T]) countPage(ctx context.Context, plan *Plan, criteria *Criteria,
	startKey map[string]*dynamodb.AttributeValue) (int64, map[string]*dynamodb.AttributeValue, error) {

	input, err := Synthesize(r.descriptor, plan, criteria, r.client.Config)
	if err != nil {
		return 0, nil, err
	}

	switch in := input.(type) {
	case *dynamodb.QueryInput:
		in.Select = aws.String(dynamodb.SelectCount)
		in.ExclusiveStartKey = startKey
		out, err := r.client.api.QueryWithContext(ctx, in)
		if err != nil {
			return 0, nil, &TransportError{Op: "Query", Err: err}
		}
		return aws.Int64Value(out.Count), out.LastEvaluatedKey, nil
	case *dynamodb.ScanInput:
		in.Select = aws.String(dynamodb.SelectCount)
		in.ExclusiveStartKey = startKey
		out, err := r.client.api.ScanWithContext(ctx, in)
		if err != nil {
			return 0, nil, &TransportError{Op: "Scan", Err: err}
		}
		return aws.Int64Value(out.Count), out.LastEvaluatedKey, nil
	}
	return 0, nil, fmt.Errorf("dynaquery: unexpected count input type %T", input)
}

// DeleteBy matches methodName's criteria and deletes every matching
// item, returning the number of items removed. It pages through matches
// internally, issuing one DeleteItem per match (spec_full.md §3,
// supplementing the Spring Data original's derived-delete-query
// feature).
func (r *Repository[T]) DeleteBy(ctx context.Context, methodName string, args ...interface{}) (int64, error) {
	cursor, err := r.Find(ctx, methodName, args...)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for {
		item, err := cursor.Next(ctx)
		if err != nil {
			return deleted, err
		}
		if item == nil {
			return deleted, nil
		}
		rv := reflect.ValueOf(item).Elem()
		pk := rv.FieldByIndex(r.descriptor.PartitionKey.FieldIndex).Interface()
		var skArgs []interface{}
		if r.descriptor.SortKey != nil {
			skArgs = append(skArgs, rv.FieldByIndex(r.descriptor.SortKey.FieldIndex).Interface())
		}
		if err := r.Delete(ctx, pk, skArgs...); err != nil {
			return deleted, err
		}
		deleted++
	}
}

// BatchSave writes entities in chunks of at most 25 (BatchWriteItem's
// limit), retrying unprocessed items with exponential backoff and
// jitter per r.client.Config.RetryPolicy, mirroring spec.md §4.F's batch
// chunking rule: ceil(n/25) calls for n items.
func (r *Repository[T]) BatchSave(ctx context.Context, entities []*T) error {
	const maxBatchSize = 25
	compat := r.client.Config.Compatibility

	for start := 0; start < len(entities); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(entities) {
			end = len(entities)
		}
		chunk := entities[start:end]

		requests := make([]*dynamodb.WriteRequest, len(chunk))
		for i, e := range chunk {
			item, err := r.marshalItem(reflect.ValueOf(e).Elem(), compat)
			if err != nil {
				return err
			}
			requests[i] = &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: item}}
		}

		if err := r.writeBatchWithRetry(ctx, requests, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T]) writeBatchWithRetry(ctx context.Context, requests []*dynamodb.WriteRequest, sourceItems []*T) error {
	policy := r.client.Config.RetryPolicy
	tableName := r.descriptor.TableName
	pending := requests

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		out, err := r.client.api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{tableName: pending},
		})
		if err != nil {
			return &TransportError{Op: "BatchWriteItem", Err: err}
		}

		unprocessed := out.UnprocessedItems[tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		pending = unprocessed

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := retryDelay(policy, attempt, rand.Float64)
		select {
		case <-ctx.Done():
			return &BatchWriteFailed{UnprocessedItems: remainingAsInterfaces(sourceItems, requests, pending),
				Attempts: attempt + 1, Cause: errCanceled}
		case <-time.After(delay):
		}
	}

	return &BatchWriteFailed{UnprocessedItems: remainingAsInterfaces(sourceItems, requests, pending),
		Attempts: policy.MaxAttempts}
}

// remainingAsInterfaces returns, in caller order, each items[i] whose
// write request requests[i] is still among pending.
func remainingAsInterfaces[E any](items []*E, requests, pending []*dynamodb.WriteRequest) []interface{} {
	out := make([]interface{}, 0, len(pending))
	for i, req := range requests {
		for _, p := range pending {
			if reflect.DeepEqual(req.PutRequest, p.PutRequest) {
				out = append(out, items[i])
				break
			}
		}
	}
	return out
}
