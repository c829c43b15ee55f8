package rowperm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_Composite(t *testing.T) {
	original := Or{Terms: []Predicate{
		Eq{Field: "create_by", Value: int64(7)},
		And{Terms: []Predicate{
			In{Field: "dept_id", Values: []interface{}{int64(2), int64(4)}},
			Like{Field: "region", Pattern: "north%"},
			Range{Field: "amount", Min: 0.5, Max: int64(10)},
			Range{Field: "level", Max: int64(3)},
		}},
		All{},
		None{},
	}}

	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	row := Row{"create_by": int64(1), "dept_id": int64(4), "region": "northwest", "amount": 3, "level": 1}
	assert.Equal(t, original.Evaluate(row), decoded.Evaluate(row))
}

func TestUnmarshal_UnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"not"}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"type":"and","terms":[{"type":"xor"}]}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestMarshal_EmptyIn(t *testing.T) {
	data, err := Marshal(In{Field: "dept_id"})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.False(t, decoded.Evaluate(Row{"dept_id": int64(1)}))
}

func TestCompiledRule_JSON(t *testing.T) {
	rules := []CompiledRule{
		{RuleID: 1, Code: "self", Predicate: Eq{Field: "create_by", Value: int64(7)}},
		{RuleID: 2, Code: "orders", Entities: []string{"order"}, Predicate: All{}},
		{RuleID: 3, Code: "nil"},
	}

	data, err := json.Marshal(rules)
	require.NoError(t, err)

	var decoded []CompiledRule
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, rules[0], decoded[0])
	assert.Equal(t, rules[1], decoded[1])
	assert.Equal(t, None{}, decoded[2].Predicate)
}

func TestCombine(t *testing.T) {
	rules := []CompiledRule{
		{RuleID: 1, Predicate: Eq{Field: "create_by", Value: int64(7)}},
		{RuleID: 2, Entities: []string{"order"}, Predicate: All{}},
		{RuleID: 3, Entities: []string{"user"}, Predicate: Eq{Field: "dept_id", Value: int64(4)}},
	}

	assert.Equal(t, All{}, Combine(rules, "order"))
	assert.Equal(t, Or{Terms: []Predicate{
		Eq{Field: "create_by", Value: int64(7)},
		Eq{Field: "dept_id", Value: int64(4)},
	}}, Combine(rules, "user"))
	assert.Equal(t, Eq{Field: "create_by", Value: int64(7)}, Combine(rules, "invoice"))
	assert.Equal(t, None{}, Combine(nil, "user"))
}
