package rowperm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicate_Evaluate(t *testing.T) {
	row := Row{"dept_id": int64(4), "create_by": 7, "region": "north-east", "amount": 250.5, "active": true}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"all", All{}, true},
		{"none", None{}, false},
		{"eq int kinds", Eq{Field: "create_by", Value: int64(7)}, true},
		{"eq mismatch", Eq{Field: "create_by", Value: int64(8)}, false},
		{"eq missing field", Eq{Field: "owner", Value: int64(7)}, false},
		{"eq string vs number", Eq{Field: "dept_id", Value: "4"}, false},
		{"eq bool", Eq{Field: "active", Value: true}, true},
		{"in", In{Field: "dept_id", Values: []interface{}{int64(2), int64(4)}}, true},
		{"in miss", In{Field: "dept_id", Values: []interface{}{int64(2)}}, false},
		{"in empty", In{Field: "dept_id"}, false},
		{"range inside", Range{Field: "amount", Min: int64(100), Max: int64(300)}, true},
		{"range below", Range{Field: "amount", Min: int64(300)}, false},
		{"range inclusive", Range{Field: "create_by", Min: int64(7), Max: int64(7)}, true},
		{"range strings", Range{Field: "region", Min: "a", Max: "z"}, true},
		{"range incomparable", Range{Field: "region", Min: int64(1)}, false},
		{"like prefix", Like{Field: "region", Pattern: "north%"}, true},
		{"like single", Like{Field: "region", Pattern: "north_east"}, true},
		{"like miss", Like{Field: "region", Pattern: "south%"}, false},
		{"like non-string", Like{Field: "dept_id", Pattern: "%"}, false},
		{"and", And{Terms: []Predicate{Eq{Field: "create_by", Value: 7}, Like{Field: "region", Pattern: "%east"}}}, true},
		{"and one false", And{Terms: []Predicate{Eq{Field: "create_by", Value: 7}, None{}}}, false},
		{"empty and", And{}, true},
		{"or", Or{Terms: []Predicate{None{}, Eq{Field: "dept_id", Value: 4}}}, true},
		{"empty or", Or{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Evaluate(row))
		})
	}
}

func TestMatchLike(t *testing.T) {
	tests := []struct {
		s, pattern string
		want       bool
	}{
		{"", "", true},
		{"", "%", true},
		{"abc", "abc", true},
		{"abc", "a%", true},
		{"abc", "%c", true},
		{"abc", "%b%", true},
		{"abc", "a_c", true},
		{"abc", "a_", false},
		{"abcbc", "a%bc", true},
		{"abcbd", "a%bc", false},
		{"北京分部", "北京%", true},
		{"abc", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchLike(tt.s, tt.pattern), "%q LIKE %q", tt.s, tt.pattern)
	}
}

func TestSimplify(t *testing.T) {
	eq := Eq{Field: "a", Value: 1}
	in := In{Field: "b", Values: []interface{}{2}}

	tests := []struct {
		name string
		in   Predicate
		want Predicate
	}{
		{"or with all", Or{Terms: []Predicate{eq, All{}}}, All{}},
		{"or drops none", Or{Terms: []Predicate{None{}, eq}}, eq},
		{"empty or", Or{}, None{}},
		{"and with none", And{Terms: []Predicate{eq, None{}}}, None{}},
		{"and drops all", And{Terms: []Predicate{All{}, eq}}, eq},
		{"empty and", And{}, All{}},
		{"flatten", Or{Terms: []Predicate{eq, Or{Terms: []Predicate{in, Or{Terms: []Predicate{eq}}}}}}, Or{Terms: []Predicate{eq, in, eq}}},
		{"empty in", In{Field: "b"}, None{}},
		{"nil", nil, None{}},
		{"leaf", eq, eq},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Simplify(tt.in))
		})
	}
}

func TestPredicate_String(t *testing.T) {
	p := Or{Terms: []Predicate{
		Eq{Field: "create_by", Value: int64(7)},
		And{Terms: []Predicate{
			In{Field: "dept_id", Values: []interface{}{int64(2), int64(4)}},
			Like{Field: "region", Pattern: "north%"},
			Range{Field: "amount", Min: 1, Max: 10},
		}},
	}}

	assert.Equal(t, `(create_by = 7 OR (dept_id IN (2, 4) AND region LIKE "north%" AND amount BETWEEN 1 AND 10))`, p.String())
	assert.Equal(t, "TRUE", All{}.String())
	assert.Equal(t, "FALSE", None{}.String())
	assert.Equal(t, "amount >= 5", Range{Field: "amount", Min: 5}.String())
}
