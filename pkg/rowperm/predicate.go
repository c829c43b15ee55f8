package rowperm

import (
	"fmt"
	"math"
	"strings"
)

// Row is one record as seen by in-memory filtering. A field that is absent
// never matches.
type Row map[string]interface{}

// Predicate is a row filter. The set of implementations is closed: All, None,
// Eq, In, Range, Like, And, Or.
type Predicate interface {
	// Evaluate reports whether the row passes the filter
	Evaluate(row Row) bool
	String() string
	isPredicate()
}

// All matches every row
type All struct{}

// None matches no row
type None struct{}

// Eq matches rows whose field equals Value
type Eq struct {
	Field string
	Value interface{}
}

// In matches rows whose field equals one of Values. Empty Values matches nothing.
type In struct {
	Field  string
	Values []interface{}
}

// Range matches rows whose field lies within [Min, Max]. A nil bound is open.
type Range struct {
	Field string
	Min   interface{}
	Max   interface{}
}

// Like matches string fields against a SQL LIKE pattern (% and _ wildcards)
type Like struct {
	Field   string
	Pattern string
}

// And matches rows that pass every term. An empty And matches every row.
type And struct {
	Terms []Predicate
}

// Or matches rows that pass at least one term. An empty Or matches nothing.
type Or struct {
	Terms []Predicate
}

func (All) isPredicate()   {}
func (None) isPredicate()  {}
func (Eq) isPredicate()    {}
func (In) isPredicate()    {}
func (Range) isPredicate() {}
func (Like) isPredicate()  {}
func (And) isPredicate()   {}
func (Or) isPredicate()    {}

func (All) Evaluate(Row) bool  { return true }
func (None) Evaluate(Row) bool { return false }

func (p Eq) Evaluate(row Row) bool {
	v, ok := row[p.Field]
	return ok && equalValues(v, p.Value)
}

func (p In) Evaluate(row Row) bool {
	v, ok := row[p.Field]
	if !ok {
		return false
	}
	for _, want := range p.Values {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

func (p Range) Evaluate(row Row) bool {
	v, ok := row[p.Field]
	if !ok || v == nil {
		return false
	}
	if p.Min != nil {
		c, ok := compareValues(v, p.Min)
		if !ok || c < 0 {
			return false
		}
	}
	if p.Max != nil {
		c, ok := compareValues(v, p.Max)
		if !ok || c > 0 {
			return false
		}
	}
	return true
}

func (p Like) Evaluate(row Row) bool {
	v, ok := row[p.Field].(string)
	return ok && matchLike(v, p.Pattern)
}

func (p And) Evaluate(row Row) bool {
	for _, t := range p.Terms {
		if !t.Evaluate(row) {
			return false
		}
	}
	return true
}

func (p Or) Evaluate(row Row) bool {
	for _, t := range p.Terms {
		if t.Evaluate(row) {
			return true
		}
	}
	return false
}

func (All) String() string  { return "TRUE" }
func (None) String() string { return "FALSE" }

func (p Eq) String() string { return p.Field + " = " + formatValue(p.Value) }

func (p In) String() string {
	parts := make([]string, len(p.Values))
	for i, v := range p.Values {
		parts[i] = formatValue(v)
	}
	return p.Field + " IN (" + strings.Join(parts, ", ") + ")"
}

func (p Range) String() string {
	switch {
	case p.Min != nil && p.Max != nil:
		return p.Field + " BETWEEN " + formatValue(p.Min) + " AND " + formatValue(p.Max)
	case p.Min != nil:
		return p.Field + " >= " + formatValue(p.Min)
	case p.Max != nil:
		return p.Field + " <= " + formatValue(p.Max)
	}
	return p.Field + " IS NOT NULL"
}

func (p Like) String() string { return p.Field + " LIKE " + formatValue(p.Pattern) }

func (p And) String() string { return joinTerms(p.Terms, " AND ", "TRUE") }
func (p Or) String() string  { return joinTerms(p.Terms, " OR ", "FALSE") }

func joinTerms(terms []Predicate, sep, empty string) string {
	if len(terms) == 0 {
		return empty
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func formatValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}

// Simplify flattens nested And/Or terms and folds All and None
func Simplify(p Predicate) Predicate {
	switch t := p.(type) {
	case And:
		var terms []Predicate
		for _, sub := range t.Terms {
			switch s := Simplify(sub).(type) {
			case None:
				return None{}
			case All:
			case And:
				terms = append(terms, s.Terms...)
			default:
				terms = append(terms, s)
			}
		}
		switch len(terms) {
		case 0:
			return All{}
		case 1:
			return terms[0]
		}
		return And{Terms: terms}
	case Or:
		var terms []Predicate
		for _, sub := range t.Terms {
			switch s := Simplify(sub).(type) {
			case All:
				return All{}
			case None:
			case Or:
				terms = append(terms, s.Terms...)
			default:
				terms = append(terms, s)
			}
		}
		switch len(terms) {
		case 0:
			return None{}
		case 1:
			return terms[0]
		}
		return Or{Terms: terms}
	case In:
		if len(t.Values) == 0 {
			return None{}
		}
		return t
	case nil:
		return None{}
	}
	return p
}

// normalize maps Go numeric kinds onto int64 or float64
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return float64(x)
	}
	return v
}

func compareValues(a, b interface{}) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok && x == y {
			return 0, true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// matchLike implements SQL LIKE with % (any run) and _ (one character)
func matchLike(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case pi < len(pat) && pat[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}
