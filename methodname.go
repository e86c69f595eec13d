package dynaquery

import "strings"

// Operator is the atomic condition kind a QueryPart carries (spec.md §3).
type Operator int

const (
	OpEQ Operator = iota
	OpNE
	OpGT
	OpGE
	OpLT
	OpLE
	OpBETWEEN
	OpIN
	OpBEGINS_WITH
	OpCONTAINS
	OpNOT_CONTAINS
	OpIS_NULL
	OpIS_NOT_NULL
	OpTRUE
	OpFALSE
)

func (op Operator) String() string {
	switch op {
	case OpEQ:
		return "EQ"
	case OpNE:
		return "NE"
	case OpGT:
		return "GT"
	case OpGE:
		return "GE"
	case OpLT:
		return "LT"
	case OpLE:
		return "LE"
	case OpBETWEEN:
		return "BETWEEN"
	case OpIN:
		return "IN"
	case OpBEGINS_WITH:
		return "BEGINS_WITH"
	case OpCONTAINS:
		return "CONTAINS"
	case OpNOT_CONTAINS:
		return "NOT_CONTAINS"
	case OpIS_NULL:
		return "IS_NULL"
	case OpIS_NOT_NULL:
		return "IS_NOT_NULL"
	case OpTRUE:
		return "TRUE"
	case OpFALSE:
		return "FALSE"
	}
	return "UNKNOWN"
}

// keySafe is the set of operators the key-condition expression may carry
// (spec.md §4.D step 2, §4.E).
func (op Operator) keySafe() bool {
	switch op {
	case OpEQ, OpLT, OpLE, OpGT, OpGE, OpBETWEEN, OpBEGINS_WITH:
		return true
	}
	return false
}

// Subject is the finder's verb, parsed from the method name's prefix.
type Subject int

const (
	SubjectFind Subject = iota
	SubjectFindAll
	SubjectCount
	SubjectExists
	SubjectDelete
	SubjectQuery
)

// Direction is the sort order requested by an OrderBy clause.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// QueryPart is one atomic `And`-segment of a parsed finder method name.
type QueryPart struct {
	Property string // leaf property name
	Operator Operator
}

// SortPart is one property/direction pair of an OrderBy clause.
type SortPart struct {
	Property  string
	Direction Direction
}

// PartTree is the full parse of a finder method name: its subject, the
// ordered predicate parts, and any requested sort order.
type PartTree struct {
	MethodName string
	Subject    Subject
	Parts      []QueryPart
	Sort       []SortPart
}

var prefixTokens = []struct {
	tokens  []string
	subject Subject
}{
	{[]string{"Find", "All"}, SubjectFindAll},
	{[]string{"Find"}, SubjectFind},
	{[]string{"Count"}, SubjectCount},
	{[]string{"Exists"}, SubjectExists},
	{[]string{"Delete"}, SubjectDelete},
	{[]string{"Query"}, SubjectQuery},
}

// suffixTable maps an operator-suffix keyword's token sequence to its
// operator (spec.md §4.B table). An entry matches only when it equals the
// whole remainder of the segment after the property name, so e.g.
// GreaterThanEqual never matches GreaterThan, whatever the entry order.
var suffixTable = []struct {
	tokens []string
	op     Operator
}{
	{[]string{"Is", "Not", "Null"}, OpIS_NOT_NULL},
	{[]string{"Not", "Containing"}, OpNOT_CONTAINS},
	{[]string{"Greater", "Than", "Equal"}, OpGE},
	{[]string{"Less", "Than", "Equal"}, OpLE},
	{[]string{"Starting", "With"}, OpBEGINS_WITH},
	{[]string{"Starts", "With"}, OpBEGINS_WITH},
	{[]string{"Greater", "Than"}, OpGT},
	{[]string{"Less", "Than"}, OpLT},
	{[]string{"Is", "Null"}, OpIS_NULL},
	{[]string{"Containing"}, OpCONTAINS},
	{[]string{"Contains"}, OpCONTAINS},
	{[]string{"Between"}, OpBETWEEN},
	{[]string{"After"}, OpGT},
	{[]string{"Before"}, OpLT},
	{[]string{"Equals"}, OpEQ},
	{[]string{"True"}, OpTRUE},
	{[]string{"False"}, OpFALSE},
	{[]string{"Not"}, OpNE},
	{[]string{"In"}, OpIN},
	{[]string{"Is"}, OpEQ},
}

var disallowedKeywords = []struct {
	tokens []string
	name   string
}{
	{[]string{"Ignore", "Case"}, "IgnoreCase"},
	{[]string{"First"}, "First"},
	{[]string{"Top"}, "Top"},
	{[]string{"Like"}, "Like"},
}

// tokenize splits a PascalCase/camelCase identifier into its constituent
// words at each uppercase letter, e.g. "CustomerIdBetween" becomes
// ["Customer", "Id", "Between"].
func tokenize(name string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range name {
		if r >= 'A' && r <= 'Z' && current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// ParseMethodName tokenizes methodName per the grammar in spec.md §4.B
// and resolves each predicate/order property against descriptor's
// property catalog.
func ParseMethodName(methodName string, descriptor *EntityDescriptor) (*PartTree, error) {
	tokens := tokenize(methodName)
	if len(tokens) == 0 {
		return nil, &ParseError{MethodName: methodName, Reason: "empty method name"}
	}

	tree := &PartTree{MethodName: methodName}

	idx, err := parsePrefix(tokens, tree, methodName)
	if err != nil {
		return nil, err
	}

	if idx >= len(tokens) || tokens[idx] != "By" {
		if idx < len(tokens) {
			for _, d := range disallowedKeywords {
				if matchesAt(tokens, idx, d.tokens) {
					return nil, &ParseError{MethodName: methodName,
						Reason: d.name + " is not supported"}
				}
			}
		}
		return nil, &ParseError{MethodName: methodName, Reason: "expected 'By' after subject"}
	}
	idx++ // consume "By"

	idx, err = parsePredicates(tokens, idx, descriptor, tree, methodName)
	if err != nil {
		return nil, err
	}

	if idx < len(tokens) {
		if !matchesAt(tokens, idx, []string{"Order", "By"}) {
			return nil, &ParseError{MethodName: methodName,
				Reason: "unexpected trailing tokens starting at " + tokens[idx]}
		}
		idx += 2
		idx, err = parseOrderBy(tokens, idx, descriptor, tree, methodName)
		if err != nil {
			return nil, err
		}
	}

	if idx != len(tokens) {
		return nil, &ParseError{MethodName: methodName, Reason: "unexpected trailing tokens"}
	}

	return tree, nil
}

func parsePrefix(tokens []string, tree *PartTree, methodName string) (int, error) {
	for _, p := range prefixTokens {
		if matchesAt(tokens, 0, p.tokens) {
			tree.Subject = p.subject
			return len(p.tokens), nil
		}
	}
	return 0, &ParseError{MethodName: methodName,
		Reason: "unrecognized subject prefix; expected find, findAll, count, exists, delete, or query"}
}

func matchesAt(tokens []string, start int, want []string) bool {
	if start+len(want) > len(tokens) {
		return false
	}
	for i, w := range want {
		if tokens[start+i] != w {
			return false
		}
	}
	return true
}

// segmentEnd returns the index of the next "And" or "Order","By" boundary
// token starting at idx, or len(tokens) if none is found. It also detects
// a bare "Or" boundary and reports it as unsupported.
func segmentEnd(tokens []string, idx int, methodName string) (int, error) {
	for i := idx; i < len(tokens); i++ {
		if tokens[i] == "And" {
			return i, nil
		}
		if tokens[i] == "Or" {
			return 0, &ParseError{MethodName: methodName, Reason: "Or is not supported"}
		}
		if matchesAt(tokens, i, []string{"Order", "By"}) {
			return i, nil
		}
	}
	return len(tokens), nil
}

// resolveProperty greedily matches the longest prefix of tokens[idx:end]
// against descriptor's property catalog, per spec.md §4.B's "longest
// property name first" rule.
func resolveProperty(tokens []string, idx, end int, descriptor *EntityDescriptor) (propLen int, name string, ok bool) {
	for l := end - idx; l >= 1; l-- {
		candidate := strings.Join(tokens[idx:idx+l], "")
		if p, found := descriptor.byName(candidate); found {
			return l, p.Name, true
		}
	}
	return 0, "", false
}

func parsePredicates(tokens []string, idx int, descriptor *EntityDescriptor, tree *PartTree, methodName string) (int, error) {
	for {
		end, err := segmentEnd(tokens, idx, methodName)
		if err != nil {
			return 0, err
		}
		if end == idx {
			return 0, &ParseError{MethodName: methodName, Reason: "empty predicate segment"}
		}

		propLen, propName, ok := resolveProperty(tokens, idx, end, descriptor)
		if !ok {
			return 0, &ParseError{MethodName: methodName,
				Reason: "unknown property near '" + strings.Join(tokens[idx:end], "") + "'"}
		}

		remainderStart := idx + propLen
		op, opErr := resolveOperatorSuffix(tokens, remainderStart, end, methodName)
		if opErr != nil {
			return 0, opErr
		}

		tree.Parts = append(tree.Parts, QueryPart{Property: propName, Operator: op})

		idx = end
		if idx >= len(tokens) {
			return idx, nil
		}
		if tokens[idx] == "And" {
			idx++
			continue
		}
		// boundary must be Order,By at this point
		return idx, nil
	}
}

func resolveOperatorSuffix(tokens []string, start, end int, methodName string) (Operator, error) {
	if start == end {
		return OpEQ, nil
	}
	remainder := tokens[start:end]
	for _, s := range suffixTable {
		if len(s.tokens) == len(remainder) && matchesAt(remainder, 0, s.tokens) {
			return s.op, nil
		}
	}
	for _, d := range disallowedKeywords {
		if len(d.tokens) == len(remainder) && matchesAt(remainder, 0, d.tokens) {
			return 0, &ParseError{MethodName: methodName, Reason: d.name + " is not supported"}
		}
	}
	return 0, &ParseError{MethodName: methodName,
		Reason: "unsupported keyword '" + strings.Join(remainder, "") + "'"}
}

func parseOrderBy(tokens []string, idx int, descriptor *EntityDescriptor, tree *PartTree, methodName string) (int, error) {
	for {
		end := idx
		for end < len(tokens) && tokens[end] != "And" {
			end++
		}

		propLen, propName, ok := resolveProperty(tokens, idx, end, descriptor)
		if !ok {
			return 0, &ParseError{MethodName: methodName,
				Reason: "unknown sort property near '" + strings.Join(tokens[idx:end], "") + "'"}
		}

		dirTokens := tokens[idx+propLen : end]
		var dir Direction
		switch {
		case len(dirTokens) == 1 && dirTokens[0] == "Asc":
			dir = Asc
		case len(dirTokens) == 1 && dirTokens[0] == "Desc":
			dir = Desc
		default:
			return 0, &ParseError{MethodName: methodName,
				Reason: "sort direction must be Asc or Desc for property " + propName}
		}

		tree.Sort = append(tree.Sort, SortPart{Property: propName, Direction: dir})

		idx = end
		if idx >= len(tokens) {
			return idx, nil
		}
		idx++ // consume "And"
	}
}
