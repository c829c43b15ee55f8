package rowperm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

// Op is a comparison operator of a custom clause
type Op string

const (
	OpEq      Op = "eq"
	OpIn      Op = "in"
	OpLike    Op = "like"
	OpRange   Op = "range" // min, max or both
	OpBetween Op = "between"
	OpGte     Op = "gte"
	OpLte     Op = "lte"
)

// Parameters a custom clause may reference instead of a literal
const (
	ParamPrincipalID       = "principal.id"
	ParamPrincipalUsername = "principal.username"
	ParamPrincipalDeptID   = "principal.deptId"
	ParamDeptSubtree       = "principal.deptSubtree" // list; only valid with "in"
)

var knownParams = map[string]bool{
	ParamPrincipalID:       true,
	ParamPrincipalUsername: true,
	ParamPrincipalDeptID:   true,
	ParamDeptSubtree:       true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Operand is a literal value or a reference to a principal parameter
type Operand struct {
	Literal interface{}
	Param   string
}

// Clause is a parsed custom rule element: a Comparison or a Group
type Clause interface {
	isClause()
}

// Comparison compares one field
type Comparison struct {
	Field  string
	Op     Op
	Value  Operand   // eq, like, gte, lte
	Values []Operand // in
	Min    *Operand  // range, between; nil is an open bound
	Max    *Operand  // range, between
}

// Group combines nested clauses
type Group struct {
	Or      bool
	Clauses []Clause
}

func (Comparison) isClause() {}
func (Group) isClause()      {}

// FieldSet lists the fields custom clauses may reference. A nil FieldSet
// accepts any well-formed identifier.
type FieldSet map[string]bool

// NewFieldSet builds a FieldSet from names
func NewFieldSet(names ...string) FieldSet {
	if len(names) == 0 {
		return nil
	}
	fs := make(FieldSet, len(names))
	for _, n := range names {
		fs[n] = true
	}
	return fs
}

type rawClause struct {
	Field   string            `json:"field"`
	Op      string            `json:"op"`
	Value   json.RawMessage   `json:"value"`
	Values  []json.RawMessage `json:"values"`
	Min     json.RawMessage   `json:"min"`
	Max     json.RawMessage   `json:"max"`
	Group   string            `json:"group"`
	Clauses []json.RawMessage `json:"clauses"`
}

func malformed(format string, args ...interface{}) error {
	return accesserr.New(accesserr.ErrMalformedRule, format, args...)
}

// ParsePayload parses a custom rule payload: a JSON array of clauses, each
// either a comparison {"field","op","value"|"values"|"min"/"max"} or a group
// {"group":"and"|"or","clauses":[...]}. Values may be literals or
// {"param":"principal.id"}. Every problem is reported as accesserr.ErrMalformedRule.
func ParsePayload(raw json.RawMessage, fields FieldSet) ([]Clause, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("empty payload")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, accesserr.Wrap(accesserr.ErrMalformedRule, err, "payload is not a clause array")
	}
	if len(items) == 0 {
		return nil, malformed("payload has no clauses")
	}
	return parseClauses(items, fields, 0)
}

const maxGroupDepth = 8

func parseClauses(items []json.RawMessage, fields FieldSet, depth int) ([]Clause, error) {
	if depth > maxGroupDepth {
		return nil, malformed("clause groups nested deeper than %d", maxGroupDepth)
	}
	out := make([]Clause, 0, len(items))
	for i, item := range items {
		c, err := parseClause(item, fields, depth)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseClause(item json.RawMessage, fields FieldSet, depth int) (Clause, error) {
	var rc rawClause
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rc); err != nil {
		return nil, accesserr.Wrap(accesserr.ErrMalformedRule, err, "invalid clause")
	}

	if rc.Group != "" {
		if rc.Field != "" || rc.Op != "" {
			return nil, malformed("a clause is either a group or a comparison")
		}
		var isOr bool
		switch strings.ToLower(rc.Group) {
		case "and":
		case "or":
			isOr = true
		default:
			return nil, malformed("unknown group operator %q", rc.Group)
		}
		if len(rc.Clauses) == 0 {
			return nil, malformed("group has no clauses")
		}
		sub, err := parseClauses(rc.Clauses, fields, depth+1)
		if err != nil {
			return nil, err
		}
		return Group{Or: isOr, Clauses: sub}, nil
	}

	if !identifierPattern.MatchString(rc.Field) {
		return nil, malformed("invalid field %q", rc.Field)
	}
	if fields != nil && !fields[rc.Field] {
		return nil, malformed("unknown field %q", rc.Field)
	}

	cmp := Comparison{Field: rc.Field, Op: Op(strings.ToLower(rc.Op))}
	var err error
	switch cmp.Op {
	case OpEq, OpGte, OpLte:
		cmp.Value, err = parseOperand(rc.Value, false)
	case OpLike:
		cmp.Value, err = parseOperand(rc.Value, false)
		if err == nil && cmp.Value.Param == "" {
			if _, ok := cmp.Value.Literal.(string); !ok {
				err = malformed("like requires a string pattern")
			}
		}
	case OpIn:
		if len(rc.Values) == 0 {
			// a single list parameter is allowed in place of values
			var op Operand
			op, err = parseOperand(rc.Value, true)
			if err == nil && op.Param != ParamDeptSubtree {
				err = malformed("in requires values")
			}
			cmp.Values = []Operand{op}
			break
		}
		for _, v := range rc.Values {
			var op Operand
			if op, err = parseOperand(v, false); err != nil {
				break
			}
			cmp.Values = append(cmp.Values, op)
		}
	case OpBetween:
		var lo, hi Operand
		if lo, err = parseOperand(rc.Min, false); err != nil {
			break
		}
		if hi, err = parseOperand(rc.Max, false); err != nil {
			break
		}
		cmp.Min, cmp.Max = &lo, &hi
	case OpRange:
		cmp.Min, cmp.Max, err = parseBounds(rc.Min, rc.Max)
	default:
		return nil, malformed("unknown operator %q", rc.Op)
	}
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", rc.Field, err)
	}
	return cmp, nil
}

func parseBounds(rawMin, rawMax json.RawMessage) (*Operand, *Operand, error) {
	var lo, hi *Operand
	if !isAbsent(rawMin) {
		op, err := parseOperand(rawMin, false)
		if err != nil {
			return nil, nil, fmt.Errorf("min: %w", err)
		}
		lo = &op
	}
	if !isAbsent(rawMax) {
		op, err := parseOperand(rawMax, false)
		if err != nil {
			return nil, nil, fmt.Errorf("max: %w", err)
		}
		hi = &op
	}
	if lo == nil && hi == nil {
		return nil, nil, malformed("range requires min or max")
	}
	return lo, hi, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseOperand(raw json.RawMessage, allowList bool) (Operand, error) {
	if isAbsent(raw) {
		return Operand{}, malformed("missing value")
	}
	trimmed := bytes.TrimSpace(raw)

	if trimmed[0] == '{' {
		var ref struct {
			Param string `json:"param"`
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ref); err != nil || ref.Param == "" {
			return Operand{}, malformed("object values must be {\"param\": name}")
		}
		if !knownParams[ref.Param] {
			return Operand{}, malformed("unknown parameter %q", ref.Param)
		}
		if ref.Param == ParamDeptSubtree && !allowList {
			return Operand{}, malformed("parameter %q is a list and needs op \"in\"", ref.Param)
		}
		return Operand{Param: ref.Param}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Operand{}, accesserr.Wrap(accesserr.ErrMalformedRule, err, "invalid value")
	}
	switch v.(type) {
	case string, bool, json.Number:
		return Operand{Literal: decodeNumber(v)}, nil
	}
	return Operand{}, malformed("value must be a string, number, boolean or parameter")
}
