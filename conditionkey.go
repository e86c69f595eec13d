package dynaquery

// ConditionKey builds one Condition of a Criteria programmatically,
// without parsing a finder method name. It adapts the teacher library's
// fluent Key(attr).Equal(v) builder (conditionkey.go) onto this
// package's Criteria/Condition model, for callers that already know
// which property and operator they want rather than composing a
// "FindBy..." string.
type ConditionKey struct {
	criteria *Criteria
	attr     string
}

// Where begins a new Criteria with the named property as its first
// condition's key.
func Where(attr string) *ConditionKey {
	return &ConditionKey{criteria: &Criteria{}, attr: attr}
}

// And continues an existing Criteria with another property's condition.
func (c *Criteria) And(attr string) *ConditionKey {
	return &ConditionKey{criteria: c, attr: attr}
}

func (k *ConditionKey) add(op Operator, values ...interface{}) *Criteria {
	k.criteria.Conditions = append(k.criteria.Conditions, Condition{
		Property: k.attr,
		Operator: op,
		Values:   values,
	})
	return k.criteria
}

// Equal adds an equality condition. Every Criteria needs at least one,
// on a partition key, to avoid a full table Scan.
func (k *ConditionKey) Equal(v interface{}) *Criteria { return k.add(OpEQ, v) }

// NotEqual adds an inequality condition. Not valid in a key-condition
// expression; only usable as a filter.
func (k *ConditionKey) NotEqual(v interface{}) *Criteria { return k.add(OpNE, v) }

// LessThan adds a less-than condition.
func (k *ConditionKey) LessThan(v interface{}) *Criteria { return k.add(OpLT, v) }

// GreaterThan adds a greater-than condition.
func (k *ConditionKey) GreaterThan(v interface{}) *Criteria { return k.add(OpGT, v) }

// LessThanEqual adds a less-than-or-equal condition.
func (k *ConditionKey) LessThanEqual(v interface{}) *Criteria { return k.add(OpLE, v) }

// GreaterThanEqual adds a greater-than-or-equal condition.
func (k *ConditionKey) GreaterThanEqual(v interface{}) *Criteria { return k.add(OpGE, v) }

// Between adds a range condition.
func (k *ConditionKey) Between(low, high interface{}) *Criteria { return k.add(OpBETWEEN, low, high) }

// BeginsWith adds a prefix condition, valid on a sort key or as a
// filter on a string attribute.
func (k *ConditionKey) BeginsWith(prefix string) *Criteria { return k.add(OpBEGINS_WITH, prefix) }

// Contains adds a contains condition, filter-only.
func (k *ConditionKey) Contains(v interface{}) *Criteria { return k.add(OpCONTAINS, v) }

// In adds a membership condition over values. An empty values is
// accepted here (the fluent chain has no error return) but SelectPlan
// rejects it with ParseError, per spec.md's "IN with an empty
// collection" boundary behavior.
func (k *ConditionKey) In(values ...interface{}) *Criteria {
	return k.add(OpIN, values...)
}
