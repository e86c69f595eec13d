package dynaquery

import (
	"reflect"
	"strings"
	"sync"
	"time"
)

// LogicalType classifies a property's Go type into one of the wire-level
// shapes the marshaller understands (spec.md §4.C).
type LogicalType int

const (
	LogicalString LogicalType = iota
	LogicalNumber
	LogicalBool
	LogicalBytes
	LogicalInstant
	LogicalDate
	LogicalStringSet
	LogicalNumberSet
	LogicalBinarySet
	LogicalBoolSet
)

// Converter transforms a Go value to and from a WireValue. Bind one to a
// property with RegisterConverter; the converter annotation in spec.md
// §4.A corresponds to this registration rather than to reflective
// instantiation, since Go has no parameterless-constructor convention to
// mirror the Java @DynamoDBTypeConverted(converter=...) idiom.
type Converter interface {
	ToWire(value interface{}) (WireValue, error)
	FromWire(v WireValue) (interface{}, error)
}

// CompositeKey lets a single struct field stand in for an entity's
// identifier when the identifier is itself a (partition, sort) pair,
// matching spec.md §4.A's "Composite-ID properties" rule. Tag the field
// `dynaquery:"id"` and implement this interface on its type. Describe
// only records such a field as IsComposite; criteria binding, index
// selection and Repository do not call PartitionValue or SortValue.
type CompositeKey interface {
	PartitionValue() interface{}
	SortValue() interface{}
}

// PropertyRef describes one property of an entity: its Go struct field,
// its wire attribute name, its logical type, and any converter bound to
// it.
type PropertyRef struct {
	Name          string // Go field name
	AttributeName string // wire attribute name
	LogicalType   LogicalType
	FieldIndex    []int
	Converter     Converter
	IsComposite   bool // field is a CompositeKey
}

// EntityDescriptor is the process-cached metadata for an annotated
// entity type (spec.md §3). It is built once per Go type by Describe; the
// only later change is RegisterConverter setting a converter on one of
// its PropertyRefs.
type EntityDescriptor struct {
	Name      string // default table name
	GoType    reflect.Type
	TableName string

	PartitionKey *PropertyRef
	SortKey      *PropertyRef // nil if the entity has no sort key

	Properties []*PropertyRef // ordered, unique by property name

	attributeNameByProperty map[string]string
	converterByProperty     map[string]Converter

	// IndexesByProperty maps a property name to the ordered list of index
	// names in which it serves as a key (partition or sort), in
	// declaration order.
	IndexesByProperty map[string][]string

	// IndexHashKeyProperties / IndexRangeKeyProperties are the sets of
	// property names serving as some index's partition/sort key.
	IndexHashKeyProperties map[string]bool
	IndexRangeKeyProperties map[string]bool

	// Indexes is the ordered list of distinct index names declared on
	// this entity, each resolved to its partition/sort PropertyRef.
	Indexes []*IndexDescriptor

	VersionProperty *PropertyRef // optional, for optimistic concurrency

	byPropertyName map[string]*PropertyRef
}

// IndexDescriptor names a GSI/LSI candidate for index selection (D) and
// expression synthesis (E).
type IndexDescriptor struct {
	Name         string
	PartitionKey *PropertyRef
	SortKey      *PropertyRef // nil if the index has no sort key
}

// IsLSI reports whether this index shares its partition key name with the
// entity's main-table partition key, which is how the teacher library
// (and this one) distinguishes a Local from a Global Secondary Index
// (spec.md §4.D step 4) without needing a live DescribeTable call.
func (ix *IndexDescriptor) IsLSI(d *EntityDescriptor) bool {
	return ix.PartitionKey.Name == d.PartitionKey.Name
}

func (d *EntityDescriptor) byName(property string) (*PropertyRef, bool) {
	p, ok := d.byPropertyName[property]
	return p, ok
}

// registry is the process-wide, lazily populated EntityDescriptor cache
// (spec.md §3 "Lifecycle" and §9 "Global mutable state"). Every access,
// lookups included, takes registryMu; reads of the cache are not
// lock-free.
var (
	registryMu sync.Mutex
	registry   = map[reflect.Type]*EntityDescriptor{}
)

// Describe extracts an EntityDescriptor from the type of entity,
// following the struct tag grammar below. The result is cached by type: calling
// Describe any number of times for the same type returns the same
// pointer (spec.md §8 idempotence property).
//
// Tag grammar, on the `dynaquery` struct tag, directives separated by
// `;`:
//
//	pk                    marks the partition key (exactly one required)
//	sk                    marks the sort key (at most one allowed)
//	id                    marks a CompositeKey-implementing field as the
//	                      entity's composite identifier
//	version               marks the optimistic-locking version attribute
//	attr=<name>           overrides the wire attribute name
//	type=date             forces Date semantics (N epoch-ms / LEGACY S) on
//	                      a time.Time field instead of the Instant default
//	index=<name>:pk       the field is the partition key of secondary
//	                      index <name>
//	index=<name>:sk       the field is the sort key of secondary index
//	                      <name>
//
// A field tagged `dynaquery:"-"` is skipped entirely.
func Describe(entity interface{}) (*EntityDescriptor, error) {
	t := reflect.TypeOf(entity)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &MetadataError{Type: t.String(), Reason: "entity must be a struct or pointer to struct"}
	}

	registryMu.Lock()
	if d, ok := registry[t]; ok {
		registryMu.Unlock()
		return d, nil
	}
	registryMu.Unlock()

	d, err := buildDescriptor(t)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	if existing, ok := registry[t]; ok {
		registryMu.Unlock()
		return existing, nil
	}
	applyPendingConverters(t, d)
	registry[t] = d
	registryMu.Unlock()

	return d, nil
}

func buildDescriptor(t reflect.Type) (*EntityDescriptor, error) {
	d := &EntityDescriptor{
		Name:                    t.Name(),
		TableName:               t.Name(),
		GoType:                  t,
		attributeNameByProperty: map[string]string{},
		converterByProperty:     map[string]Converter{},
		IndexesByProperty:       map[string][]string{},
		IndexHashKeyProperties:  map[string]bool{},
		IndexRangeKeyProperties: map[string]bool{},
		byPropertyName:          map[string]*PropertyRef{},
	}

	if tn, ok := tableNameFromMethod(t); ok {
		d.TableName = tn
	}

	indexOrder := []string{}
	indexByName := map[string]*IndexDescriptor{}
	indexPK := map[string]*PropertyRef{}
	indexSK := map[string]*PropertyRef{}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}

		tag := field.Tag.Get("dynaquery")
		if tag == "-" {
			continue
		}

		directives := splitDirectives(tag)

		prop := &PropertyRef{
			Name:          field.Name,
			AttributeName: field.Name,
			LogicalType:   inferLogicalType(field.Type),
			FieldIndex:    field.Index,
		}

		isPK, isSK, isVersion, isID := false, false, false, false

		for _, raw := range directives {
			key, value, hasValue := splitDirective(raw)
			switch key {
			case "pk":
				isPK = true
			case "sk":
				isSK = true
			case "id":
				isID = true
			case "version":
				isVersion = true
			case "attr":
				if hasValue {
					prop.AttributeName = value
				}
			case "type":
				if value == "date" {
					prop.LogicalType = LogicalDate
				}
			case "index":
				name, role, ok := splitIndexValue(value)
				if !ok {
					return nil, &MetadataError{Type: t.String(),
						Reason: "malformed index directive on field " + field.Name}
				}
				if role != "pk" && role != "sk" {
					return nil, &MetadataError{Type: t.String(),
						Reason: "index role must be pk or sk on field " + field.Name}
				}
				if !isScalar(prop.LogicalType) {
					return nil, &MetadataError{Type: t.String(),
						Reason: "index " + name + " declared on non-scalar field " + field.Name}
				}
				idx, ok := indexByName[name]
				if !ok {
					idx = &IndexDescriptor{Name: name}
					indexByName[name] = idx
					indexOrder = append(indexOrder, name)
				}
				if role == "pk" {
					if indexPK[name] != nil {
						return nil, &MetadataError{Type: t.String(), Reason: "duplicate partition key for index " + name}
					}
					indexPK[name] = prop
					d.IndexHashKeyProperties[field.Name] = true
				} else {
					if indexSK[name] != nil {
						return nil, &MetadataError{Type: t.String(), Reason: "duplicate sort key for index " + name}
					}
					indexSK[name] = prop
					d.IndexRangeKeyProperties[field.Name] = true
				}
				d.IndexesByProperty[field.Name] = append(d.IndexesByProperty[field.Name], name)
			}
		}

		if isID {
			if !field.Type.Implements(compositeKeyType) && !reflect.PtrTo(field.Type).Implements(compositeKeyType) {
				return nil, &MetadataError{Type: t.String(),
					Reason: "field " + field.Name + " tagged id must implement CompositeKey"}
			}
			prop.IsComposite = true
		}

		if _, exists := d.byPropertyName[prop.Name]; exists {
			return nil, &MetadataError{Type: t.String(), Reason: "duplicate property name " + prop.Name}
		}

		d.Properties = append(d.Properties, prop)
		d.byPropertyName[prop.Name] = prop
		d.attributeNameByProperty[prop.Name] = prop.AttributeName

		if isPK {
			if d.PartitionKey != nil {
				return nil, &MetadataError{Type: t.String(), Reason: "multiple partition keys declared"}
			}
			d.PartitionKey = prop
		}
		if isSK {
			if d.SortKey != nil {
				return nil, &MetadataError{Type: t.String(), Reason: "multiple sort keys declared"}
			}
			d.SortKey = prop
		}
		if isVersion {
			if d.VersionProperty != nil {
				return nil, &MetadataError{Type: t.String(), Reason: "multiple version properties declared"}
			}
			d.VersionProperty = prop
		}
	}

	if d.PartitionKey == nil {
		return nil, &MetadataError{Type: t.String(), Reason: "no partition key found"}
	}
	if d.SortKey != nil && d.SortKey.Name == d.PartitionKey.Name {
		return nil, &MetadataError{Type: t.String(), Reason: "sort key must be distinct from partition key"}
	}

	// collision check: wire attribute names must be unique within a
	// single index's key set and within the table's own key set.
	if err := checkAttributeCollisions(d); err != nil {
		return nil, err
	}

	for _, name := range indexOrder {
		idx := indexByName[name]
		idx.PartitionKey = indexPK[name]
		idx.SortKey = indexSK[name]
		if idx.PartitionKey == nil {
			return nil, &MetadataError{Type: t.String(), Reason: "index " + name + " has no partition key"}
		}
		if idx.SortKey != nil && idx.PartitionKey.AttributeName == idx.SortKey.AttributeName {
			return nil, &MetadataError{Type: t.String(),
				Reason: "index " + name + " partition and sort key alias the same attribute name"}
		}
		d.Indexes = append(d.Indexes, idx)
	}

	return d, nil
}

// checkAttributeCollisions rejects a descriptor whose main-table partition
// and sort key resolve to the same wire attribute name (spec.md §3:
// "wire attribute names may alias but collisions within a single index
// are rejected at build time"). Per-secondary-index collisions are
// checked again once each IndexDescriptor's keys are resolved, in
// buildDescriptor, since pk/sk PropertyRefs for an index are not both
// known until the field loop completes.
func checkAttributeCollisions(d *EntityDescriptor) error {
	if d.SortKey != nil && d.PartitionKey.AttributeName == d.SortKey.AttributeName {
		return &MetadataError{Type: d.GoType.String(),
			Reason: "partition and sort key alias the same attribute name " + d.PartitionKey.AttributeName}
	}
	return nil
}

func isScalar(lt LogicalType) bool {
	switch lt {
	case LogicalString, LogicalNumber, LogicalBool, LogicalBytes, LogicalInstant, LogicalDate:
		return true
	default:
		return false
	}
}

var (
	timeType         = reflect.TypeOf(time.Time{})
	compositeKeyType = reflect.TypeOf((*CompositeKey)(nil)).Elem()
)

func inferLogicalType(t reflect.Type) LogicalType {
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return LogicalBytes
	}
	if t == timeType {
		return LogicalInstant
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		elem := t.Elem()
		switch {
		case elem.Kind() == reflect.String:
			return LogicalStringSet
		case elem.Kind() == reflect.Bool:
			return LogicalBoolSet
		case isNumericKind(elem.Kind()):
			return LogicalNumberSet
		case elem.Kind() == reflect.Slice && elem.Elem().Kind() == reflect.Uint8:
			return LogicalBinarySet
		}
	}
	switch t.Kind() {
	case reflect.Bool:
		return LogicalBool
	case reflect.String:
		return LogicalString
	default:
		if isNumericKind(t.Kind()) {
			return LogicalNumber
		}
	}
	return LogicalString
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func tableNameFromMethod(t reflect.Type) (string, bool) {
	if m, ok := t.MethodByName("TableName"); ok && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 {
		out := reflect.New(t).Elem().Method(m.Index).Call(nil)
		if len(out) == 1 && out[0].Kind() == reflect.String {
			if name := out[0].String(); name != "" {
				return name, true
			}
		}
	}
	if pt := reflect.PtrTo(t); pt != nil {
		if m, ok := pt.MethodByName("TableName"); ok && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 {
			out := reflect.New(t).Method(m.Index).Call(nil)
			if len(out) == 1 && out[0].Kind() == reflect.String {
				if name := out[0].String(); name != "" {
					return name, true
				}
			}
		}
	}
	return "", false
}

// RegisterConverter binds conv to property of T: it is queued and applied
// when Describe(T) first builds the descriptor, or set directly on the
// cached descriptor if T was already described. It must be called before
// the first Describe(T) in a process,
// matching the teacher's "set before any queries are parsed" convention
// for Client.SecondaryIndexSparsenessThreshold.
func RegisterConverter[T any](property string, conv Converter) {
	var zero T
	t := reflect.TypeOf(zero)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if d, ok := registry[t]; ok {
		if p, ok := d.byPropertyName[property]; ok {
			p.Converter = conv
			d.converterByProperty[property] = conv
		}
		return
	}
	pendingConverters[t] = append(pendingConverters[t], pendingConverter{property: property, conv: conv})
}

type pendingConverter struct {
	property string
	conv     Converter
}

var pendingConverters = map[reflect.Type][]pendingConverter{}

func applyPendingConverters(t reflect.Type, d *EntityDescriptor) {
	for _, pc := range pendingConverters[t] {
		if p, ok := d.byPropertyName[pc.property]; ok {
			p.Converter = pc.conv
			d.converterByProperty[pc.property] = pc.conv
		}
	}
}

// splitDirectives splits a `dynaquery` tag into its `;`-separated
// directives, trimming whitespace and dropping empty segments.
func splitDirectives(tag string) []string {
	if tag == "" {
		return nil
	}
	raw := strings.Split(tag, ";")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// splitDirective splits "key=value" into ("key", "value", true), or a
// bare "key" into ("key", "", false).
func splitDirective(directive string) (key, value string, hasValue bool) {
	if idx := strings.Index(directive, "="); idx >= 0 {
		return directive[:idx], directive[idx+1:], true
	}
	return directive, "", false
}

// splitIndexValue splits "name:role" into ("name", "role", true).
func splitIndexValue(value string) (name, role string, ok bool) {
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return "", "", false
	}
	return value[:idx], value[idx+1:], true
}

