package dynaquery

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// WireKind tags the variant held by a WireValue.
type WireKind int

const (
	WireS WireKind = iota
	WireN
	WireB
	WireBOOL
	WireSS
	WireNS
	WireBS
	WireNULL
	WireM
	WireL
)

// WireValue is the tagged union produced by the marshaller and consumed
// by the expression synthesizer (spec.md §3). Only the scalar variants
// and the three homogeneous set variants are produced by this package;
// M and L exist so a converter may round-trip a nested value, but the
// core pipeline never constructs them itself.
type WireValue struct {
	Kind WireKind
	S    string
	N    string // decimal string
	B    []byte
	BOOL bool
	SS   []string
	NS   []string
	BS   [][]byte
	M    map[string]WireValue
	L    []WireValue
}

// ToAttributeValue converts a WireValue to the aws-sdk-go v1 wire type.
func (v WireValue) ToAttributeValue() *dynamodb.AttributeValue {
	switch v.Kind {
	case WireS:
		return &dynamodb.AttributeValue{S: aws.String(v.S)}
	case WireN:
		return &dynamodb.AttributeValue{N: aws.String(v.N)}
	case WireB:
		return &dynamodb.AttributeValue{B: v.B}
	case WireBOOL:
		return &dynamodb.AttributeValue{BOOL: aws.Bool(v.BOOL)}
	case WireSS:
		return &dynamodb.AttributeValue{SS: aws.StringSlice(v.SS)}
	case WireNS:
		return &dynamodb.AttributeValue{NS: aws.StringSlice(v.NS)}
	case WireBS:
		return &dynamodb.AttributeValue{BS: v.BS}
	case WireM:
		m := make(map[string]*dynamodb.AttributeValue, len(v.M))
		for k, mv := range v.M {
			m[k] = mv.ToAttributeValue()
		}
		return &dynamodb.AttributeValue{M: m}
	case WireL:
		l := make([]*dynamodb.AttributeValue, len(v.L))
		for i, lv := range v.L {
			l[i] = lv.ToAttributeValue()
		}
		return &dynamodb.AttributeValue{L: l}
	default:
		return &dynamodb.AttributeValue{NULL: aws.Bool(true)}
	}
}

// WireValueFromAttributeValue is the inverse of ToAttributeValue, used by
// the round-trip property in spec.md §8.
func WireValueFromAttributeValue(av *dynamodb.AttributeValue) WireValue {
	switch {
	case av.S != nil:
		return WireValue{Kind: WireS, S: *av.S}
	case av.N != nil:
		return WireValue{Kind: WireN, N: *av.N}
	case av.B != nil:
		return WireValue{Kind: WireB, B: av.B}
	case av.BOOL != nil:
		return WireValue{Kind: WireBOOL, BOOL: *av.BOOL}
	case av.SS != nil:
		return WireValue{Kind: WireSS, SS: aws.StringValueSlice(av.SS)}
	case av.NS != nil:
		return WireValue{Kind: WireNS, NS: aws.StringValueSlice(av.NS)}
	case av.BS != nil:
		return WireValue{Kind: WireBS, BS: av.BS}
	case av.M != nil:
		m := make(map[string]WireValue, len(av.M))
		for k, mv := range av.M {
			m[k] = WireValueFromAttributeValue(mv)
		}
		return WireValue{Kind: WireM, M: m}
	case av.L != nil:
		l := make([]WireValue, len(av.L))
		for i, lv := range av.L {
			l[i] = WireValueFromAttributeValue(lv)
		}
		return WireValue{Kind: WireL, L: l}
	default:
		return WireValue{Kind: WireNULL}
	}
}

const (
	instantNanoLayout  = "2006-01-02T15:04:05.000000000Z07:00"
	instantMilliLayout = "2006-01-02T15:04:05.000Z07:00"
)

// MarshalValue converts a Go value for property p to its WireValue under
// the given compatibility mode, applying p's Converter first if one is
// bound (spec.md §4.C's type-tagging table).
func MarshalValue(p *PropertyRef, value interface{}, compat Compatibility) (WireValue, error) {
	if p.Converter != nil {
		return p.Converter.ToWire(value)
	}
	return marshalByLogicalType(p.LogicalType, value, compat)
}

func marshalByLogicalType(lt LogicalType, value interface{}, compat Compatibility) (WireValue, error) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return WireValue{Kind: WireNULL}, nil
		}
		rv = rv.Elem()
	}

	switch lt {
	case LogicalString:
		return WireValue{Kind: WireS, S: fmt.Sprint(rv.Interface())}, nil

	case LogicalNumber:
		return WireValue{Kind: WireN, N: numberString(rv)}, nil

	case LogicalBool:
		b, ok := rv.Interface().(bool)
		if !ok {
			return WireValue{}, fmt.Errorf("dynaquery: expected bool, got %T", value)
		}
		if compat == LEGACY {
			if b {
				return WireValue{Kind: WireN, N: "1"}, nil
			}
			return WireValue{Kind: WireN, N: "0"}, nil
		}
		return WireValue{Kind: WireBOOL, BOOL: b}, nil

	case LogicalBoolSet:
		bools, err := toBoolSlice(rv)
		if err != nil {
			return WireValue{}, err
		}
		ns := make([]string, len(bools))
		for i, b := range bools {
			if b {
				ns[i] = "1"
			} else {
				ns[i] = "0"
			}
		}
		return WireValue{Kind: WireNS, NS: ns}, nil

	case LogicalBytes:
		b, ok := rv.Interface().([]byte)
		if !ok {
			return WireValue{}, fmt.Errorf("dynaquery: expected []byte, got %T", value)
		}
		return WireValue{Kind: WireB, B: b}, nil

	case LogicalInstant:
		t, ok := rv.Interface().(time.Time)
		if !ok {
			return WireValue{}, fmt.Errorf("dynaquery: expected time.Time, got %T", value)
		}
		if compat == LEGACY {
			return WireValue{Kind: WireS, S: t.UTC().Format(instantMilliLayout)}, nil
		}
		return WireValue{Kind: WireS, S: t.UTC().Format(instantNanoLayout)}, nil

	case LogicalDate:
		t, ok := rv.Interface().(time.Time)
		if !ok {
			return WireValue{}, fmt.Errorf("dynaquery: expected time.Time, got %T", value)
		}
		if compat == LEGACY {
			return WireValue{Kind: WireS, S: t.UTC().Format(instantMilliLayout)}, nil
		}
		return WireValue{Kind: WireN, N: strconv.FormatInt(t.UTC().UnixMilli(), 10)}, nil

	case LogicalStringSet:
		ss, err := toStringSlice(rv)
		if err != nil {
			return WireValue{}, err
		}
		return WireValue{Kind: WireSS, SS: ss}, nil

	case LogicalNumberSet:
		ns, err := toNumberStringSlice(rv)
		if err != nil {
			return WireValue{}, err
		}
		return WireValue{Kind: WireNS, NS: ns}, nil

	case LogicalBinarySet:
		bs, err := toByteSliceSlice(rv)
		if err != nil {
			return WireValue{}, err
		}
		return WireValue{Kind: WireBS, BS: bs}, nil
	}

	return WireValue{}, fmt.Errorf("dynaquery: unsupported logical type %v", lt)
}

// UnmarshalValue is the inverse of MarshalValue: it decodes a WireValue
// back into a Go value appropriate for p's logical type, applying p's
// Converter first if bound. It is used by the round-trip property in
// spec.md §8.
func UnmarshalValue(p *PropertyRef, v WireValue, compat Compatibility) (interface{}, error) {
	if p.Converter != nil {
		return p.Converter.FromWire(v)
	}
	return unmarshalByLogicalType(p.LogicalType, v, compat)
}

func unmarshalByLogicalType(lt LogicalType, v WireValue, compat Compatibility) (interface{}, error) {
	switch lt {
	case LogicalString:
		return v.S, nil
	case LogicalNumber:
		return parseNumber(v.N)
	case LogicalBool:
		if compat == LEGACY {
			return v.N == "1", nil
		}
		return v.BOOL, nil
	case LogicalBoolSet:
		out := make([]bool, len(v.NS))
		for i, s := range v.NS {
			out[i] = s == "1"
		}
		return out, nil
	case LogicalBytes:
		return v.B, nil
	case LogicalInstant:
		layout := instantNanoLayout
		if compat == LEGACY {
			layout = instantMilliLayout
		}
		return time.Parse(layout, v.S)
	case LogicalDate:
		if compat == LEGACY {
			return time.Parse(instantMilliLayout, v.S)
		}
		ms, err := strconv.ParseInt(v.N, 10, 64)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case LogicalStringSet:
		return v.SS, nil
	case LogicalNumberSet:
		out := make([]float64, len(v.NS))
		for i, n := range v.NS {
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case LogicalBinarySet:
		return v.BS, nil
	}
	return nil, fmt.Errorf("dynaquery: unsupported logical type %v", lt)
}

func numberString(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	default:
		return fmt.Sprint(rv.Interface())
	}
}

func parseNumber(s string) (interface{}, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	return strconv.ParseFloat(s, 64)
}

func toStringSlice(rv reflect.Value) ([]string, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dynaquery: expected slice for string set, got %s", rv.Kind())
	}
	out := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = fmt.Sprint(rv.Index(i).Interface())
	}
	return out, nil
}

func toBoolSlice(rv reflect.Value) ([]bool, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dynaquery: expected slice for bool set, got %s", rv.Kind())
	}
	out := make([]bool, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		b, ok := rv.Index(i).Interface().(bool)
		if !ok {
			return nil, fmt.Errorf("dynaquery: expected bool element")
		}
		out[i] = b
	}
	return out, nil
}

func toNumberStringSlice(rv reflect.Value) ([]string, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dynaquery: expected slice for number set, got %s", rv.Kind())
	}
	out := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = numberString(rv.Index(i))
	}
	return out, nil
}

func toByteSliceSlice(rv reflect.Value) ([][]byte, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dynaquery: expected slice for binary set, got %s", rv.Kind())
	}
	out := make([][]byte, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		b, ok := rv.Index(i).Interface().([]byte)
		if !ok {
			return nil, fmt.Errorf("dynaquery: expected []byte element")
		}
		out[i] = b
	}
	return out, nil
}
