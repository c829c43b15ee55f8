package rowperm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wirePredicate struct {
	Type    string          `json:"type"`
	Field   string          `json:"field,omitempty"`
	Value   interface{}     `json:"value,omitempty"`
	Values  []interface{}   `json:"values,omitempty"`
	Min     interface{}     `json:"min,omitempty"`
	Max     interface{}     `json:"max,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
	Terms   []wirePredicate `json:"terms,omitempty"`
}

func toWire(p Predicate) (wirePredicate, error) {
	switch t := p.(type) {
	case All:
		return wirePredicate{Type: "all"}, nil
	case None:
		return wirePredicate{Type: "none"}, nil
	case Eq:
		return wirePredicate{Type: "eq", Field: t.Field, Value: t.Value}, nil
	case In:
		values := t.Values
		if values == nil {
			values = []interface{}{}
		}
		return wirePredicate{Type: "in", Field: t.Field, Values: values}, nil
	case Range:
		return wirePredicate{Type: "range", Field: t.Field, Min: t.Min, Max: t.Max}, nil
	case Like:
		return wirePredicate{Type: "like", Field: t.Field, Pattern: t.Pattern}, nil
	case And, Or:
		var terms []Predicate
		typ := "and"
		if o, ok := t.(Or); ok {
			terms, typ = o.Terms, "or"
		} else {
			terms = t.(And).Terms
		}
		w := wirePredicate{Type: typ, Terms: make([]wirePredicate, 0, len(terms))}
		for _, sub := range terms {
			sw, err := toWire(sub)
			if err != nil {
				return wirePredicate{}, err
			}
			w.Terms = append(w.Terms, sw)
		}
		return w, nil
	}
	return wirePredicate{}, fmt.Errorf("unsupported predicate %T", p)
}

func fromWire(w wirePredicate) (Predicate, error) {
	switch w.Type {
	case "all":
		return All{}, nil
	case "none":
		return None{}, nil
	case "eq":
		return Eq{Field: w.Field, Value: decodeNumber(w.Value)}, nil
	case "in":
		values := make([]interface{}, len(w.Values))
		for i, v := range w.Values {
			values[i] = decodeNumber(v)
		}
		return In{Field: w.Field, Values: values}, nil
	case "range":
		return Range{Field: w.Field, Min: decodeNumber(w.Min), Max: decodeNumber(w.Max)}, nil
	case "like":
		return Like{Field: w.Field, Pattern: w.Pattern}, nil
	case "and", "or":
		terms := make([]Predicate, 0, len(w.Terms))
		for _, sw := range w.Terms {
			sub, err := fromWire(sw)
			if err != nil {
				return nil, err
			}
			terms = append(terms, sub)
		}
		if w.Type == "and" {
			return And{Terms: terms}, nil
		}
		return Or{Terms: terms}, nil
	}
	return nil, fmt.Errorf("unknown predicate type %q", w.Type)
}

// decodeNumber turns json.Number into int64 when integral, float64 otherwise
func decodeNumber(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Marshal encodes a predicate as JSON
func Marshal(p Predicate) ([]byte, error) {
	w, err := toWire(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Unmarshal decodes a predicate produced by Marshal. Integral numbers decode as int64.
func Unmarshal(data []byte) (Predicate, error) {
	var w wirePredicate
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}
	return fromWire(w)
}

// CompiledRule is a rule's predicate bound to one principal
type CompiledRule struct {
	RuleID    int64
	Code      string
	Entities  []string
	Predicate Predicate
}

type wireCompiledRule struct {
	RuleID    int64           `json:"rule_id"`
	Code      string          `json:"code"`
	Entities  []string        `json:"entities,omitempty"`
	Predicate json.RawMessage `json:"predicate"`
}

// MarshalJSON implements json.Marshaler
func (c CompiledRule) MarshalJSON() ([]byte, error) {
	pred := c.Predicate
	if pred == nil {
		pred = None{}
	}
	raw, err := Marshal(pred)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCompiledRule{RuleID: c.RuleID, Code: c.Code, Entities: c.Entities, Predicate: raw})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *CompiledRule) UnmarshalJSON(data []byte) error {
	var w wireCompiledRule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	pred, err := Unmarshal(w.Predicate)
	if err != nil {
		return err
	}
	*c = CompiledRule{RuleID: w.RuleID, Code: w.Code, Entities: w.Entities, Predicate: pred}
	return nil
}

// AppliesTo reports whether the rule covers the entity kind
func (c CompiledRule) AppliesTo(entity string) bool {
	if len(c.Entities) == 0 {
		return true
	}
	for _, e := range c.Entities {
		if e == entity || e == "*" {
			return true
		}
	}
	return false
}

// Combine ORs the predicates of the rules that apply to entity.
// No applicable rule yields None.
func Combine(rules []CompiledRule, entity string) Predicate {
	terms := make([]Predicate, 0, len(rules))
	for _, r := range rules {
		if r.AppliesTo(entity) {
			terms = append(terms, r.Predicate)
		}
	}
	return Simplify(Or{Terms: terms})
}
