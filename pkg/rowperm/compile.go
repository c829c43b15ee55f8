package rowperm

import (
	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/rbac"
)

// Default symbolic columns
const (
	DefaultOwnerColumn      = "create_by"
	DefaultDepartmentColumn = "dept_id"
)

// Options configures an Engine
type Options struct {
	// OwnerColumn holds the creator's principal ID
	OwnerColumn string
	// DepartmentColumn holds the owning department ID
	DepartmentColumn string
	// AllowedFields limits the fields custom clauses may use. Empty allows any identifier.
	AllowedFields []string
}

// Engine compiles row permission rules into predicates for one principal
type Engine struct {
	ownerColumn string
	deptColumn  string
	fields      FieldSet
	logger      logrus.FieldLogger
}

// NewEngine creates an engine
func NewEngine(opts Options, logger logrus.FieldLogger) *Engine {
	if opts.OwnerColumn == "" {
		opts.OwnerColumn = DefaultOwnerColumn
	}
	if opts.DepartmentColumn == "" {
		opts.DepartmentColumn = DefaultDepartmentColumn
	}
	fields := NewFieldSet(opts.AllowedFields...)
	if fields != nil {
		fields[opts.OwnerColumn] = true
		fields[opts.DepartmentColumn] = true
	}
	return &Engine{
		ownerColumn: opts.OwnerColumn,
		deptColumn:  opts.DepartmentColumn,
		fields:      fields,
		logger:      logger.WithField("component", "rowperm"),
	}
}

// Compile turns one rule into a predicate bound to the principal. It never
// fails: a rule that cannot be compiled denies everything and is logged.
func (e *Engine) Compile(rule rbac.RowPermissionRule, p *auth.Principal, h *dept.Hierarchy) Predicate {
	log := e.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "rule_code": rule.Code})
	if p == nil {
		return None{}
	}
	log = log.WithField("principal_id", p.ID)

	switch rule.Scope {
	case rbac.ScopeAll:
		return All{}

	case rbac.ScopeSelf:
		return Eq{Field: e.ownerColumn, Value: p.ID}

	case rbac.ScopeDepartment:
		if !p.HasDepartment() {
			log.Warn("department scope for principal without department, denying")
			return None{}
		}
		if h != nil && !h.Contains(*p.DeptID) {
			log.WithField("dept_id", *p.DeptID).Warn("principal department not in hierarchy, denying")
			return None{}
		}
		return Eq{Field: e.deptColumn, Value: *p.DeptID}

	case rbac.ScopeDepartmentSubtree:
		if !p.HasDepartment() {
			log.Warn("department scope for principal without department, denying")
			return None{}
		}
		ids, ok := subtree(h, *p.DeptID)
		if !ok {
			log.WithField("dept_id", *p.DeptID).Warn("principal department not in hierarchy, denying")
			return None{}
		}
		return In{Field: e.deptColumn, Values: ids}

	case rbac.ScopeCustom:
		clauses, err := ParsePayload(rule.Payload, e.fields)
		if err != nil {
			log.WithError(err).Error("malformed row permission rule, denying")
			return None{}
		}
		b := binder{principal: p, hierarchy: h, log: log}
		return Simplify(b.bindAll(clauses, false))
	}

	log.WithField("scope", rule.Scope).Error("unknown scope mode, denying")
	return None{}
}

// CompileRules compiles every rule, keeping each rule's entity list
func (e *Engine) CompileRules(rules []rbac.RowPermissionRule, p *auth.Principal, h *dept.Hierarchy) []CompiledRule {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, CompiledRule{
			RuleID:    r.ID,
			Code:      r.Code,
			Entities:  r.Entities,
			Predicate: e.Compile(r, p, h),
		})
	}
	return out
}

// CompilePredicate ORs the predicates of all rules. No rules yields None.
func (e *Engine) CompilePredicate(rules []rbac.RowPermissionRule, p *auth.Principal, h *dept.Hierarchy) Predicate {
	terms := make([]Predicate, 0, len(rules))
	for _, r := range rules {
		terms = append(terms, e.Compile(r, p, h))
	}
	return Simplify(Or{Terms: terms})
}

func subtree(h *dept.Hierarchy, id int64) ([]interface{}, bool) {
	if h == nil || !h.Contains(id) {
		return nil, false
	}
	ids := h.SubtreeIDs(id)
	values := make([]interface{}, len(ids))
	for i, v := range ids {
		values[i] = v
	}
	return values, true
}

type binder struct {
	principal *auth.Principal
	hierarchy *dept.Hierarchy
	log       logrus.FieldLogger
}

func (b binder) bindAll(clauses []Clause, or bool) Predicate {
	terms := make([]Predicate, 0, len(clauses))
	for _, c := range clauses {
		terms = append(terms, b.bind(c))
	}
	if or {
		return Or{Terms: terms}
	}
	return And{Terms: terms}
}

func (b binder) bind(c Clause) Predicate {
	switch t := c.(type) {
	case Group:
		return b.bindAll(t.Clauses, t.Or)
	case Comparison:
		return b.bindComparison(t)
	}
	return None{}
}

func (b binder) bindComparison(c Comparison) Predicate {
	switch c.Op {
	case OpEq:
		v, ok := b.value(c.Value)
		if !ok {
			return None{}
		}
		return Eq{Field: c.Field, Value: v}
	case OpLike:
		v, ok := b.value(c.Value)
		s, isString := v.(string)
		if !ok || !isString {
			return None{}
		}
		return Like{Field: c.Field, Pattern: s}
	case OpGte:
		v, ok := b.value(c.Value)
		if !ok {
			return None{}
		}
		return Range{Field: c.Field, Min: v}
	case OpLte:
		v, ok := b.value(c.Value)
		if !ok {
			return None{}
		}
		return Range{Field: c.Field, Max: v}
	case OpRange, OpBetween:
		r := Range{Field: c.Field}
		if c.Min != nil {
			v, ok := b.value(*c.Min)
			if !ok {
				return None{}
			}
			r.Min = v
		}
		if c.Max != nil {
			v, ok := b.value(*c.Max)
			if !ok {
				return None{}
			}
			r.Max = v
		}
		return r
	case OpIn:
		var values []interface{}
		for _, op := range c.Values {
			if op.Param == ParamDeptSubtree {
				if !b.principal.HasDepartment() {
					continue
				}
				ids, ok := subtree(b.hierarchy, *b.principal.DeptID)
				if !ok {
					b.log.Warn("principal department not in hierarchy, dropping subtree values")
					continue
				}
				values = append(values, ids...)
				continue
			}
			if v, ok := b.value(op); ok {
				values = append(values, v)
			}
		}
		return In{Field: c.Field, Values: values}
	}
	return None{}
}

// value resolves an operand. A parameter the principal cannot supply fails.
func (b binder) value(op Operand) (interface{}, bool) {
	if op.Param == "" {
		return op.Literal, true
	}
	p := b.principal
	switch op.Param {
	case ParamPrincipalID:
		return p.ID, true
	case ParamPrincipalUsername:
		return p.Username, p.Username != ""
	case ParamPrincipalDeptID:
		if !p.HasDepartment() {
			b.log.Warn("rule references principal.deptId but principal has no department")
			return nil, false
		}
		return *p.DeptID, true
	}
	return nil, false
}
