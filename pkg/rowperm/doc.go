// Package rowperm compiles row permission rules into typed predicates.
//
// A Predicate is one of All, None, Eq, In, Range, Like, And or Or. The set is
// closed, so consumers can switch over it exhaustively. Predicates evaluate
// against in-memory rows, print for logs, encode to JSON for caching and
// render to Postgres SQL through ToSQL.
//
// Engine.Compile binds a rule to a principal:
//
//	self          create_by = principal.ID
//	dept          dept_id = principal.DeptID
//	dept_and_sub  dept_id IN (principal.DeptID and its descendants)
//	custom        AND of the payload clauses with parameters bound
//	all           TRUE
//
// Several rules combine with OR. Compilation never fails open: a malformed
// payload, a department scope for a principal without a known department or an
// unknown scope mode compiles to None and is logged. An empty rule set is None.
//
// Custom payloads look like
//
//	[
//	  {"field": "region", "op": "in", "values": ["north", "east"]},
//	  {"group": "or", "clauses": [
//	    {"field": "create_by", "op": "eq", "value": {"param": "principal.id"}},
//	    {"field": "amount", "op": "range", "min": 0, "max": 1000}
//	  ]}
//	]
//
// Operators are eq, in, like and range. A range may omit min or max; between,
// gte and lte are accepted as aliases of its two-sided and one-sided forms.
package rowperm
