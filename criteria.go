package dynaquery

import "reflect"

// Condition is one accumulated, argument-bound predicate: a property, the
// operator parsed from the method name, and the raw Go values supplied by
// the caller (not yet marshalled to WireValue; that happens in the
// expression synthesizer once the index and compatibility mode are
// known).
type Condition struct {
	Property string
	Operator Operator
	Values   []interface{}
}

// Options carries the call-time knobs that do not come from the method
// name itself: paging, consistency, projection, scan permission, and an
// escape hatch for a raw, user-authored filter expression fragment merged
// alongside the derived one (spec.md §4.C "Options").
type Options struct {
	// Limit bounds the number of items evaluated per page; zero means
	// unbounded.
	Limit int

	// Consistency overrides the repository's default read consistency
	// for this call.
	Consistency Consistency

	// Projection restricts the returned attributes to this set; empty
	// means all attributes.
	Projection []string

	// ScanEnabled permits the index selector to fall back to a table
	// Scan when no index can serve the derived key condition, for
	// Find/FindOne/Exists/DeleteBy. Default false: an unservable query
	// fails closed with ScanNotPermitted.
	ScanEnabled bool

	// ScanCountEnabled is ScanEnabled's independent counterpart for
	// Count (spec.md §6's "Repository-level and method-level permission
	// flags: scanEnabled, scanCountEnabled — both default false").
	// Repository.derive treats ScanEnabled OR ScanCountEnabled as
	// permission for Count and only ScanEnabled for the other finders,
	// but Repository offers no way to set either flag, so its finders
	// always run with both false.
	ScanCountEnabled bool

	// RawFilterExpression, RawFilterNames, and RawFilterValues let a
	// caller append a hand-written filter expression fragment. Its
	// placeholders are renumbered during synthesis to avoid colliding
	// with the derived expression's own #nN/:vN names.
	RawFilterExpression string
	RawFilterNames      map[string]string
	RawFilterValues     map[string]interface{}
}

// Criteria is the accumulated output of the method-name parser and
// argument binding: every condition, the requested sort, and the call
// options (spec.md §3 "Criteria").
type Criteria struct {
	Conditions []Condition
	Sort       []SortPart
	Options    Options
}

// BuildCriteria binds tree's parsed QueryParts to the caller-supplied
// args, consuming the argument count each operator requires: two for
// BETWEEN, one slice/array for IN, zero for IS_NULL/IS_NOT_NULL/TRUE/
// FALSE, one otherwise. It returns ArgumentError if args don't match
// exactly.
func BuildCriteria(tree *PartTree, descriptor *EntityDescriptor, args []interface{}) (*Criteria, error) {
	c := &Criteria{Sort: append([]SortPart(nil), tree.Sort...)}

	argIdx := 0
	for _, part := range tree.Parts {
		prop, ok := descriptor.byName(part.Property)
		if !ok {
			return nil, &MetadataError{Type: descriptor.GoType.String(),
				Reason: "parsed property " + part.Property + " not found on descriptor"}
		}

		var values []interface{}

		switch part.Operator {
		case OpBETWEEN:
			if argIdx+2 > len(args) {
				return nil, &ArgumentError{MethodName: tree.MethodName, Property: prop.Name,
					Reason: "BETWEEN requires two arguments"}
			}
			values = append(values, args[argIdx], args[argIdx+1])
			argIdx += 2

		case OpIN:
			if argIdx+1 > len(args) {
				return nil, &ArgumentError{MethodName: tree.MethodName, Property: prop.Name,
					Reason: "IN requires one collection argument"}
			}
			coll := args[argIdx]
			argIdx++
			rv := reflect.ValueOf(coll)
			if coll == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
				return nil, &ArgumentError{MethodName: tree.MethodName, Property: prop.Name,
					Reason: "IN argument must be a slice or array"}
			}
			n := rv.Len()
			if n == 0 {
				return nil, &ParseError{MethodName: tree.MethodName,
					Reason: "IN requires a non-empty collection argument for property " + prop.Name}
			}
			values = make([]interface{}, n)
			for i := 0; i < n; i++ {
				values[i] = rv.Index(i).Interface()
			}

		case OpIS_NULL, OpIS_NOT_NULL, OpTRUE, OpFALSE:
			// no arguments consumed

		default:
			if argIdx+1 > len(args) {
				return nil, &ArgumentError{MethodName: tree.MethodName, Property: prop.Name,
					Reason: "operator " + part.Operator.String() + " requires one argument"}
			}
			values = append(values, args[argIdx])
			argIdx++
		}

		c.Conditions = append(c.Conditions, Condition{
			Property: prop.Name,
			Operator: part.Operator,
			Values:   values,
		})
	}

	if argIdx != len(args) {
		return nil, &ArgumentError{MethodName: tree.MethodName,
			Reason: "too many arguments supplied"}
	}

	return c, nil
}

// WithOptions returns c with Options replaced by opts. It mirrors the
// teacher's fluent Expression builder (autoquery.Expression's
// Select/ConsistentRead chain) generalized to a single struct so callers
// can set every knob at once instead of chaining method calls.
func (c *Criteria) WithOptions(opts Options) *Criteria {
	c.Options = opts
	return c
}

// WithLimit sets Options.Limit and returns c for chaining.
func (c *Criteria) WithLimit(n int) *Criteria {
	c.Options.Limit = n
	return c
}

// WithScanEnabled sets Options.ScanEnabled and returns c for chaining.
func (c *Criteria) WithScanEnabled(enabled bool) *Criteria {
	c.Options.ScanEnabled = enabled
	return c
}

// WithConsistency sets Options.Consistency and returns c for chaining.
func (c *Criteria) WithConsistency(consistency Consistency) *Criteria {
	c.Options.Consistency = consistency
	return c
}

// WithProjection sets Options.Projection and returns c for chaining.
func (c *Criteria) WithProjection(attrs ...string) *Criteria {
	c.Options.Projection = attrs
	return c
}

// conditionsByProperty indexes c.Conditions by property name for the
// index selector and expression synthesizer, which both need to ask
// "does this criteria constrain property X, and how."
func (c *Criteria) conditionsByProperty() map[string][]Condition {
	out := make(map[string][]Condition, len(c.Conditions))
	for _, cond := range c.Conditions {
		out[cond.Property] = append(out[cond.Property], cond)
	}
	return out
}
