package dynaquery

import (
	"reflect"
	"strings"
)

// PlanKind is the request shape the dispatcher must issue.
type PlanKind int

const (
	PlanGet PlanKind = iota
	PlanQuery
	PlanScan
)

// Plan is the fully-resolved output of index selection: which request
// shape to issue, against which index (if any), and how the accumulated
// conditions split between the key-condition expression and the filter
// expression (spec.md §4.D).
type Plan struct {
	Kind PlanKind

	// Index is nil when Kind is PlanGet/PlanScan against the main
	// table, or the chosen secondary index for an index-backed Query.
	Index *IndexDescriptor

	// KeyConditions are the conditions placed in the key-condition
	// expression: a mandatory partition-key EQ, plus an optional sort-
	// key condition.
	KeyConditions []Condition

	// FilterConditions are every other accumulated condition,
	// evaluated server-side via the filter expression after the key
	// condition narrows the candidate set.
	FilterConditions []Condition

	// SortProperty is the property backing ScanIndexForward, resolved
	// from the plan's effective sort key. Empty if the plan has none.
	SortProperty string
}

// candidate is a uniform view over the main table and its secondary
// indexes for scoring purposes.
type candidate struct {
	index    *IndexDescriptor // nil for the main table
	pk       *PropertyRef
	sk       *PropertyRef
	mainIdx  int // position among all candidates, for declaration-order tie-breaks
}

// SelectPlan implements spec.md §4.D's decision procedure: point-get,
// then main-table query, then best-scoring secondary index, then Scan if
// permitted, else ScanNotPermitted.
func SelectPlan(descriptor *EntityDescriptor, criteria *Criteria) (*Plan, error) {
	for _, cond := range criteria.Conditions {
		if cond.Operator == OpIN && len(cond.Values) == 0 {
			return nil, &ParseError{Reason: "IN requires a non-empty collection argument for property " + cond.Property}
		}
		if cond.Property == descriptor.PartitionKey.Name && cond.Operator != OpEQ {
			return nil, &UnsupportedOperator{Operator: cond.Operator.String(), Property: cond.Property,
				Reason: "only EQ is supported on the partition key"}
		}
	}

	byProp := criteria.conditionsByProperty()

	if plan := tryPointGet(descriptor, criteria, byProp); plan != nil {
		if err := validateSort(descriptor, criteria, plan.SortProperty); err != nil {
			return nil, err
		}
		return plan, nil
	}

	candidates := buildCandidates(descriptor)

	type scored struct {
		cand     candidate
		score    float64
		coverage int
		reasons  []string
		viable   bool
	}

	results := make([]scored, len(candidates))
	for i, cand := range candidates {
		score, coverage, reasons, viable := scoreCandidate(cand, byProp)
		results[i] = scored{cand: cand, score: score, coverage: coverage, reasons: reasons, viable: viable}
	}

	bestScore := -1.0
	var best []scored
	for _, r := range results {
		if !r.viable {
			continue
		}
		if r.score > bestScore {
			bestScore = r.score
			best = []scored{r}
		} else if r.score == bestScore {
			best = append(best, r)
		}
	}

	if len(best) == 0 {
		if !criteria.Options.ScanEnabled {
			return nil, &ScanNotPermitted{MethodName: ""}
		}
		plan := &Plan{Kind: PlanScan, FilterConditions: criteria.Conditions}
		if err := validateSort(descriptor, criteria, ""); err != nil {
			return nil, err
		}
		return plan, nil
	}

	// Ambiguity is only a hard error when two or more candidates fully
	// use their key schema (partition and sort both pinned); a tie
	// between partially-covering candidates resolves by declaration
	// order instead (spec_full.md open question resolution).
	fullCoverage := 0
	for _, r := range best {
		if r.coverage == 2 {
			fullCoverage++
		}
	}
	if fullCoverage > 1 {
		var names []string
		for _, r := range best {
			if r.coverage == 2 {
				names = append(names, candidateName(r.cand))
			}
		}
		return nil, &AmbiguousIndex{Candidates: names}
	}

	// A tie among two or more *distinct secondary indexes* that each only
	// partially cover the criteria (coverage 1: partition key pinned, no
	// usable sort condition) means the criteria spans separate GSIs with
	// no single index able to serve both key conditions — there is no
	// index to silently prefer, unlike a tie against the main table.
	secondaryTieCount := 0
	mainTied := false
	var spanning []string
	for _, r := range best {
		if r.cand.index != nil {
			secondaryTieCount++
			spanning = append(spanning, candidateName(r.cand))
		} else {
			mainTied = true
		}
	}
	if secondaryTieCount > 1 && !mainTied {
		return nil, &UnsupportedOperator{Operator: "And", Reason: "criteria spans multiple secondary indexes (" +
			joinNames(spanning) + ") with no single index covering all pinned key conditions"}
	}

	chosen := best[0]
	for _, r := range best[1:] {
		if r.cand.mainIdx < chosen.cand.mainIdx {
			chosen = r
		}
	}

	plan := buildPlan(chosen.cand, byProp, criteria)
	if err := validateSort(descriptor, criteria, plan.SortProperty); err != nil {
		return nil, err
	}
	return plan, nil
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

func candidateName(c candidate) string {
	if c.index == nil {
		return "(main table)"
	}
	return c.index.Name
}

// tryPointGet recognizes the case where criteria pins the main table's
// full primary key with EQ and nothing else, which can be served by a
// single GetItem instead of a Query.
func tryPointGet(descriptor *EntityDescriptor, criteria *Criteria, byProp map[string][]Condition) *Plan {
	if len(criteria.Sort) > 0 {
		return nil
	}
	pkConds := byProp[descriptor.PartitionKey.Name]
	if len(pkConds) != 1 || pkConds[0].Operator != OpEQ {
		return nil
	}
	expected := 1
	var skConds []Condition
	if descriptor.SortKey != nil {
		skConds = byProp[descriptor.SortKey.Name]
		if len(skConds) != 1 || skConds[0].Operator != OpEQ {
			return nil
		}
		expected = 2
	}
	if len(criteria.Conditions) != expected {
		return nil
	}
	key := []Condition{pkConds[0]}
	sortProp := ""
	if descriptor.SortKey != nil {
		key = append(key, skConds[0])
		sortProp = descriptor.SortKey.Name
	}
	return &Plan{Kind: PlanGet, KeyConditions: key, SortProperty: sortProp}
}

func buildCandidates(descriptor *EntityDescriptor) []candidate {
	candidates := []candidate{
		{index: nil, pk: descriptor.PartitionKey, sk: descriptor.SortKey, mainIdx: 0},
	}
	for i, idx := range descriptor.Indexes {
		candidates = append(candidates, candidate{index: idx, pk: idx.PartitionKey, sk: idx.SortKey, mainIdx: i + 1})
	}
	return candidates
}

// scoreCandidate mirrors the teacher's scoreIndexOnExpr: a candidate is
// viable only if criteria pins its partition key with EQ; its score then
// rewards a more selective sort-key condition, matching
// autoquery.Client.scoreIndexOnExpr's equalsFilter/betweenFilter/
// beginsWithFilter weighting.
func scoreCandidate(c candidate, byProp map[string][]Condition) (score float64, coverage int, reasons []string, viable bool) {
	pkConds := byProp[c.pk.Name]
	hasPKEq := false
	for _, cond := range pkConds {
		if cond.Operator == OpEQ {
			hasPKEq = true
			break
		}
	}
	if !hasPKEq {
		return 0, 0, []string{"missing equality condition on partition key " + c.pk.Name}, false
	}

	coverage = 1
	score = 1.0

	if c.sk != nil {
		skConds := byProp[c.sk.Name]
		for _, cond := range skConds {
			if !cond.Operator.keySafe() {
				continue
			}
			switch cond.Operator {
			case OpEQ:
				score = 2.5
				coverage = 2
			case OpBETWEEN:
				score = 1.8
				coverage = 2
			case OpBEGINS_WITH:
				score = 1.5
				coverage = 2
			case OpGT, OpGE, OpLT, OpLE:
				score = 1.2
				coverage = 2
			}
		}
	}

	return score, coverage, nil, true
}

func buildPlan(c candidate, byProp map[string][]Condition, criteria *Criteria) *Plan {
	// only the first EQ condition on the partition key participates in
	// the key condition; any other condition on the same property,
	// including a second EQ with a different value, stays in the filter.
	var pkCond Condition
	for _, cond := range byProp[c.pk.Name] {
		if cond.Operator == OpEQ {
			pkCond = cond
			break
		}
	}
	keyConds := []Condition{pkCond}
	sortProp := ""

	usedProps := map[string]bool{c.pk.Name: true}

	if c.sk != nil {
		sortProp = c.sk.Name
		for _, cond := range byProp[c.sk.Name] {
			if cond.Operator.keySafe() {
				keyConds = append(keyConds, cond)
				usedProps[c.sk.Name] = true
				break
			}
		}
	}

	var filter []Condition
	for _, cond := range criteria.Conditions {
		already := false
		for _, kc := range keyConds {
			if kc.Property == cond.Property && kc.Operator == cond.Operator && reflect.DeepEqual(kc.Values, cond.Values) {
				already = true
				break
			}
		}
		if !already {
			filter = append(filter, cond)
		}
	}

	kind := PlanQuery
	return &Plan{
		Kind:             kind,
		Index:            c.index,
		KeyConditions:    keyConds,
		FilterConditions: filter,
		SortProperty:     sortProp,
	}
}

// validateSort enforces spec.md §4.D/§4.E's sort rules: at most one
// OrderBy clause, and it must name the plan's effective sort (range) key,
// since DynamoDB can only reorder results along the key it queried by.
func validateSort(descriptor *EntityDescriptor, criteria *Criteria, planSortProperty string) error {
	if len(criteria.Sort) == 0 {
		return nil
	}
	if len(criteria.Sort) > 1 {
		return &UnsupportedOperator{Operator: "OrderBy", Property: criteria.Sort[1].Property,
			Reason: "only one sort property is supported per query"}
	}
	if planSortProperty == "" || criteria.Sort[0].Property != planSortProperty {
		return &UnsupportedOperator{Operator: "OrderBy", Property: criteria.Sort[0].Property,
			Reason: "sort is only supported on the query's range key"}
	}
	return nil
}
