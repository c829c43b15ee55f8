package rowperm

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ToSQL renders p as a Postgres boolean expression with $n placeholders
// numbered from startIndex. It returns the expression and its arguments in
// placeholder order.
func ToSQL(p Predicate, startIndex int) (string, []interface{}) {
	r := sqlRenderer{next: startIndex}
	return r.render(Simplify(p)), r.args
}

type sqlRenderer struct {
	next int
	args []interface{}
}

func (r *sqlRenderer) bind(v interface{}) string {
	r.args = append(r.args, v)
	ph := fmt.Sprintf("$%d", r.next)
	r.next++
	return ph
}

func (r *sqlRenderer) render(p Predicate) string {
	switch t := p.(type) {
	case All:
		return "TRUE"
	case None:
		return "FALSE"
	case Eq:
		return quoteField(t.Field) + " = " + r.bind(t.Value)
	case In:
		if len(t.Values) == 0 {
			return "FALSE"
		}
		phs := make([]string, len(t.Values))
		for i, v := range t.Values {
			phs[i] = r.bind(v)
		}
		return quoteField(t.Field) + " IN (" + strings.Join(phs, ", ") + ")"
	case Range:
		col := quoteField(t.Field)
		switch {
		case t.Min != nil && t.Max != nil:
			return "(" + col + " >= " + r.bind(t.Min) + " AND " + col + " <= " + r.bind(t.Max) + ")"
		case t.Min != nil:
			return col + " >= " + r.bind(t.Min)
		case t.Max != nil:
			return col + " <= " + r.bind(t.Max)
		}
		return col + " IS NOT NULL"
	case Like:
		return quoteField(t.Field) + " LIKE " + r.bind(t.Pattern)
	case And:
		return r.join(t.Terms, " AND ")
	case Or:
		return r.join(t.Terms, " OR ")
	}
	return "FALSE"
}

func (r *sqlRenderer) join(terms []Predicate, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = r.render(t)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// quoteField quotes each dot-separated part of a column reference
func quoteField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
