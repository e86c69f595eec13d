package dynaquery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
)

// exprBuilder accumulates the #nN/:vN placeholder tables shared by a
// request's key-condition, filter, and projection expressions, reusing
// one placeholder per distinct attribute name (spec.md §4.E placeholder
// discipline).
type exprBuilder struct {
	names        map[string]string
	values       map[string]*dynamodb.AttributeValue
	nameByAttr   map[string]string
	nameCounter  int
	valueCounter int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:      map[string]string{},
		values:     map[string]*dynamodb.AttributeValue{},
		nameByAttr: map[string]string{},
	}
}

func (b *exprBuilder) nameFor(attr string) string {
	if p, ok := b.nameByAttr[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", b.nameCounter)
	b.nameCounter++
	b.names[p] = attr
	b.nameByAttr[attr] = p
	return p
}

func (b *exprBuilder) valueFor(av *dynamodb.AttributeValue) string {
	p := fmt.Sprintf(":v%d", b.valueCounter)
	b.valueCounter++
	b.values[p] = av
	return p
}

// conditionFragment renders one Condition as a key/filter expression
// fragment, marshalling its bound Go values under compat.
func conditionFragment(b *exprBuilder, descriptor *EntityDescriptor, cond Condition, compat Compatibility) (string, error) {
	prop, ok := descriptor.byName(cond.Property)
	if !ok {
		return "", &MetadataError{Type: descriptor.GoType.String(), Reason: "unknown property " + cond.Property}
	}
	namePH := b.nameFor(prop.AttributeName)

	marshalOne := func(v interface{}) (string, error) {
		wv, err := MarshalValue(prop, v, compat)
		if err != nil {
			return "", err
		}
		return b.valueFor(wv.ToAttributeValue()), nil
	}

	switch cond.Operator {
	case OpEQ:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", namePH, vPH), nil
	case OpNE:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s <> %s", namePH, vPH), nil
	case OpGT:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s > %s", namePH, vPH), nil
	case OpGE:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s >= %s", namePH, vPH), nil
	case OpLT:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s < %s", namePH, vPH), nil
	case OpLE:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s <= %s", namePH, vPH), nil
	case OpBETWEEN:
		loPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		hiPH, err := marshalOne(cond.Values[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", namePH, loPH, hiPH), nil
	case OpBEGINS_WITH:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("begins_with(%s, %s)", namePH, vPH), nil
	case OpCONTAINS:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("contains(%s, %s)", namePH, vPH), nil
	case OpNOT_CONTAINS:
		vPH, err := marshalOne(cond.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT contains(%s, %s))", namePH, vPH), nil
	case OpIS_NULL:
		return fmt.Sprintf("attribute_not_exists(%s)", namePH), nil
	case OpIS_NOT_NULL:
		return fmt.Sprintf("attribute_exists(%s)", namePH), nil
	case OpTRUE:
		vPH, err := marshalOne(true)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", namePH, vPH), nil
	case OpFALSE:
		vPH, err := marshalOne(false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", namePH, vPH), nil
	case OpIN:
		placeholders := make([]string, len(cond.Values))
		for i, v := range cond.Values {
			ph, err := marshalOne(v)
			if err != nil {
				return "", err
			}
			placeholders[i] = ph
		}
		return fmt.Sprintf("%s IN (%s)", namePH, strings.Join(placeholders, ", ")), nil
	}

	return "", &UnsupportedOperator{Operator: cond.Operator.String(), Property: cond.Property,
		Reason: "no expression fragment defined for this operator"}
}

func joinConditions(b *exprBuilder, descriptor *EntityDescriptor, conds []Condition, compat Compatibility) (string, error) {
	fragments := make([]string, 0, len(conds))
	for _, cond := range conds {
		f, err := conditionFragment(b, descriptor, cond, compat)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, f)
	}
	return strings.Join(fragments, " AND "), nil
}

var placeholderToken = regexp.MustCompile(`#[A-Za-z0-9_]+|:[A-Za-z0-9_]+`)

// mergeRawFilter renumbers a caller-supplied raw filter expression's
// placeholders into b's shared tables so it cannot collide with the
// derived expression's own #nN/:vN names, then returns the rewritten
// fragment.
func mergeRawFilter(b *exprBuilder, opts Options) (string, error) {
	if opts.RawFilterExpression == "" {
		return "", nil
	}

	renamed := map[string]string{}
	var convErr error
	rewritten := placeholderToken.ReplaceAllStringFunc(opts.RawFilterExpression, func(tok string) string {
		if convErr != nil {
			return tok
		}
		if np, ok := renamed[tok]; ok {
			return np
		}
		if strings.HasPrefix(tok, "#") {
			attr, ok := opts.RawFilterNames[tok]
			if !ok {
				convErr = fmt.Errorf("dynaquery: raw filter references undefined name placeholder %s", tok)
				return tok
			}
			np := b.nameFor(attr)
			renamed[tok] = np
			return np
		}
		raw, ok := opts.RawFilterValues[tok]
		if !ok {
			convErr = fmt.Errorf("dynaquery: raw filter references undefined value placeholder %s", tok)
			return tok
		}
		av, err := dynamodbattribute.Marshal(raw)
		if err != nil {
			convErr = err
			return tok
		}
		np := b.valueFor(av)
		renamed[tok] = np
		return np
	})
	if convErr != nil {
		return "", convErr
	}
	return rewritten, nil
}

// Synthesize builds the aws-sdk-go v1 input matching plan's Kind:
// *dynamodb.GetItemInput, *dynamodb.QueryInput, or *dynamodb.ScanInput.
func Synthesize(descriptor *EntityDescriptor, plan *Plan, criteria *Criteria, config Config) (interface{}, error) {
	switch plan.Kind {
	case PlanGet:
		return synthesizeGet(descriptor, plan, criteria, config)
	case PlanQuery:
		return synthesizeQuery(descriptor, plan, criteria, config)
	case PlanScan:
		return synthesizeScan(descriptor, plan, criteria, config)
	}
	return nil, fmt.Errorf("dynaquery: cannot synthesize a request for plan kind %d", plan.Kind)
}

func resolveConsistency(opts Options, config Config, plan *Plan, descriptor *EntityDescriptor) (*bool, error) {
	c := opts.Consistency
	if c == ConsistencyDefault {
		c = config.DefaultConsistency
	}
	if c == ConsistencyDefault {
		return nil, nil
	}
	strong := c == ConsistencyStrong
	if strong && plan.Index != nil && !plan.Index.IsLSI(descriptor) {
		return nil, &UnsupportedOperator{Operator: "ConsistentRead", Property: plan.Index.Name,
			Reason: "global secondary indexes do not support strongly consistent reads"}
	}
	return aws.Bool(strong), nil
}

func projectionExpression(b *exprBuilder, descriptor *EntityDescriptor, projection []string) (*string, error) {
	if len(projection) == 0 {
		return nil, nil
	}
	parts := make([]string, len(projection))
	for i, propName := range projection {
		prop, ok := descriptor.byName(propName)
		if !ok {
			return nil, &MetadataError{Type: descriptor.GoType.String(), Reason: "unknown projected property " + propName}
		}
		parts[i] = b.nameFor(prop.AttributeName)
	}
	expr := strings.Join(parts, ", ")
	return &expr, nil
}

func synthesizeGet(descriptor *EntityDescriptor, plan *Plan, criteria *Criteria, config Config) (*dynamodb.GetItemInput, error) {
	key := map[string]*dynamodb.AttributeValue{}
	for _, cond := range plan.KeyConditions {
		prop, _ := descriptor.byName(cond.Property)
		wv, err := MarshalValue(prop, cond.Values[0], config.Compatibility)
		if err != nil {
			return nil, err
		}
		key[prop.AttributeName] = wv.ToAttributeValue()
	}

	consistent, err := resolveConsistency(criteria.Options, config, plan, descriptor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.GetItemInput{
		TableName:      aws.String(descriptor.TableName),
		Key:            key,
		ConsistentRead: consistent,
	}

	if len(criteria.Options.Projection) > 0 {
		b := newExprBuilder()
		expr, err := projectionExpression(b, descriptor, criteria.Options.Projection)
		if err != nil {
			return nil, err
		}
		input.ProjectionExpression = expr
		input.ExpressionAttributeNames = aws.StringMap(b.names)
	}

	return input, nil
}

func synthesizeQuery(descriptor *EntityDescriptor, plan *Plan, criteria *Criteria, config Config) (*dynamodb.QueryInput, error) {
	b := newExprBuilder()

	keyExpr, err := joinConditions(b, descriptor, plan.KeyConditions, config.Compatibility)
	if err != nil {
		return nil, err
	}

	filterFragments := []string{}
	if len(plan.FilterConditions) > 0 {
		f, err := joinConditions(b, descriptor, plan.FilterConditions, config.Compatibility)
		if err != nil {
			return nil, err
		}
		filterFragments = append(filterFragments, f)
	}
	if raw, err := mergeRawFilter(b, criteria.Options); err != nil {
		return nil, err
	} else if raw != "" {
		filterFragments = append(filterFragments, raw)
	}

	consistent, err := resolveConsistency(criteria.Options, config, plan, descriptor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(descriptor.TableName),
		KeyConditionExpression: aws.String(keyExpr),
		ConsistentRead:         consistent,
	}
	if plan.Index != nil {
		input.IndexName = aws.String(plan.Index.Name)
	}
	if len(filterFragments) > 0 {
		input.FilterExpression = aws.String(strings.Join(filterFragments, " AND "))
	}
	if criteria.Options.Limit > 0 {
		input.Limit = aws.Int64(int64(criteria.Options.Limit))
	}
	if len(criteria.Sort) == 1 && criteria.Sort[0].Direction == Desc {
		input.ScanIndexForward = aws.Bool(false)
	}
	if len(criteria.Options.Projection) > 0 {
		expr, err := projectionExpression(b, descriptor, criteria.Options.Projection)
		if err != nil {
			return nil, err
		}
		input.ProjectionExpression = expr
	}

	input.ExpressionAttributeNames = aws.StringMap(b.names)
	if len(b.values) > 0 {
		input.ExpressionAttributeValues = b.values
	}

	return input, nil
}

func synthesizeScan(descriptor *EntityDescriptor, plan *Plan, criteria *Criteria, config Config) (*dynamodb.ScanInput, error) {
	b := newExprBuilder()

	filterFragments := []string{}
	if len(plan.FilterConditions) > 0 {
		f, err := joinConditions(b, descriptor, plan.FilterConditions, config.Compatibility)
		if err != nil {
			return nil, err
		}
		filterFragments = append(filterFragments, f)
	}
	if raw, err := mergeRawFilter(b, criteria.Options); err != nil {
		return nil, err
	} else if raw != "" {
		filterFragments = append(filterFragments, raw)
	}

	consistent, err := resolveConsistency(criteria.Options, config, plan, descriptor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.ScanInput{
		TableName:      aws.String(descriptor.TableName),
		ConsistentRead: consistent,
	}
	if len(filterFragments) > 0 {
		input.FilterExpression = aws.String(strings.Join(filterFragments, " AND "))
	}
	if criteria.Options.Limit > 0 {
		input.Limit = aws.Int64(int64(criteria.Options.Limit))
	}
	if len(criteria.Options.Projection) > 0 {
		expr, err := projectionExpression(b, descriptor, criteria.Options.Projection)
		if err != nil {
			return nil, err
		}
		input.ProjectionExpression = expr
	}

	if len(b.names) > 0 {
		input.ExpressionAttributeNames = aws.StringMap(b.names)
	}
	if len(b.values) > 0 {
		input.ExpressionAttributeValues = b.values
	}

	return input, nil
}
