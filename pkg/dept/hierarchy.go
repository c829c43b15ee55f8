package dept

import (
	"errors"
	"fmt"
	"sort"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

// ErrDuplicateDepartment is returned by Build when two rows share an ID
var ErrDuplicateDepartment = errors.New("duplicate department id")

// Department is one row of the flat department table
type Department struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Sort     int    `json:"sort"`
}

// IsRoot reports whether the row has no parent. A parent of 0 counts as none.
func (d Department) IsRoot() bool {
	return d.ParentID == nil || *d.ParentID == 0
}

type node struct {
	dept     Department
	parent   int // -1 for roots
	children []int
	pre      int // pre-order number
	last     int // highest pre-order number in the subtree
	depth    int
}

// Hierarchy is an immutable, index-based department forest.
// Subtree membership is answered from pre-order intervals.
type Hierarchy struct {
	nodes    []node
	index    map[int64]int
	byPre    []int
	roots    []int
	orphaned []int64
}

// Build indexes rows into a Hierarchy.
// Rows whose parent is not present are promoted to roots and reported by Orphans.
func Build(rows []Department) (*Hierarchy, error) {
	h := &Hierarchy{
		nodes: make([]node, len(rows)),
		index: make(map[int64]int, len(rows)),
		byPre: make([]int, len(rows)),
	}

	for i, d := range rows {
		if _, ok := h.index[d.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateDepartment, d.ID)
		}
		h.index[d.ID] = i
		h.nodes[i] = node{dept: d, parent: -1, pre: -1}
	}

	for i := range h.nodes {
		d := h.nodes[i].dept
		if d.IsRoot() {
			h.roots = append(h.roots, i)
			continue
		}
		p, ok := h.index[*d.ParentID]
		if !ok {
			h.orphaned = append(h.orphaned, d.ID)
			h.roots = append(h.roots, i)
			continue
		}
		h.nodes[i].parent = p
		h.nodes[p].children = append(h.nodes[p].children, i)
	}

	for i := range h.nodes {
		sortIndexes(h.nodes, h.nodes[i].children)
	}
	sortIndexes(h.nodes, h.roots)

	// iterative pre-order walk; anything left unnumbered sits on a cycle
	counter := 0
	type frame struct{ idx, next int }
	for _, r := range h.roots {
		h.nodes[r].depth = 0
		h.nodes[r].pre = counter
		h.byPre[counter] = r
		counter++
		stack := []frame{{idx: r}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			n := &h.nodes[top.idx]
			if top.next < len(n.children) {
				c := n.children[top.next]
				top.next++
				h.nodes[c].depth = n.depth + 1
				h.nodes[c].pre = counter
				h.byPre[counter] = c
				counter++
				stack = append(stack, frame{idx: c})
				continue
			}
			n.last = counter - 1
			stack = stack[:len(stack)-1]
		}
	}

	if counter != len(h.nodes) {
		for _, n := range h.nodes {
			if n.pre < 0 {
				return nil, accesserr.New(accesserr.ErrCycleDetected,
					"department %d is not reachable from any root", n.dept.ID)
			}
		}
	}

	return h, nil
}

func sortIndexes(nodes []node, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := nodes[idx[a]].dept, nodes[idx[b]].dept
		if da.Sort != db.Sort {
			return da.Sort < db.Sort
		}
		return da.ID < db.ID
	})
}

// Len returns the number of departments
func (h *Hierarchy) Len() int { return len(h.nodes) }

// Contains reports whether id is a known department
func (h *Hierarchy) Contains(id int64) bool {
	_, ok := h.index[id]
	return ok
}

// Get returns the department row for id
func (h *Hierarchy) Get(id int64) (Department, bool) {
	i, ok := h.index[id]
	if !ok {
		return Department{}, false
	}
	return h.nodes[i].dept, true
}

// SameStructure reports whether other has the same departments under the
// same parents. Names and sort order are ignored.
func (h *Hierarchy) SameStructure(other *Hierarchy) bool {
	if h == nil || other == nil {
		return h == other
	}
	if len(h.nodes) != len(other.nodes) {
		return false
	}
	for _, n := range h.nodes {
		j, ok := other.index[n.dept.ID]
		if !ok || h.parentID(n) != other.parentID(other.nodes[j]) {
			return false
		}
	}
	return true
}

func (h *Hierarchy) parentID(n node) int64 {
	if n.parent < 0 {
		return 0
	}
	return h.nodes[n.parent].dept.ID
}

// Orphans returns the IDs of rows whose parent was missing and were promoted to roots
func (h *Hierarchy) Orphans() []int64 {
	return append([]int64(nil), h.orphaned...)
}

// Depth returns the distance from id to its root, or -1 if unknown
func (h *Hierarchy) Depth(id int64) int {
	i, ok := h.index[id]
	if !ok {
		return -1
	}
	return h.nodes[i].depth
}

// AncestorsOf returns the ancestors of id ordered from the root down, excluding id
func (h *Hierarchy) AncestorsOf(id int64) []int64 {
	i, ok := h.index[id]
	if !ok {
		return nil
	}
	out := make([]int64, h.nodes[i].depth)
	for p, k := h.nodes[i].parent, len(out)-1; p >= 0; p, k = h.nodes[p].parent, k-1 {
		out[k] = h.nodes[p].dept.ID
	}
	return out
}

// DescendantsOf returns every department below id in pre-order, excluding id
func (h *Hierarchy) DescendantsOf(id int64) []int64 {
	i, ok := h.index[id]
	if !ok {
		return nil
	}
	n := h.nodes[i]
	out := make([]int64, 0, n.last-n.pre)
	for k := n.pre + 1; k <= n.last; k++ {
		out = append(out, h.nodes[h.byPre[k]].dept.ID)
	}
	return out
}

// SubtreeIDs returns id followed by its descendants
func (h *Hierarchy) SubtreeIDs(id int64) []int64 {
	if !h.Contains(id) {
		return nil
	}
	return append([]int64{id}, h.DescendantsOf(id)...)
}

// SiblingsOf returns departments sharing id's parent, excluding id.
// Roots are siblings of each other.
func (h *Hierarchy) SiblingsOf(id int64) []int64 {
	i, ok := h.index[id]
	if !ok {
		return nil
	}
	group := h.roots
	if p := h.nodes[i].parent; p >= 0 {
		group = h.nodes[p].children
	}
	out := make([]int64, 0, len(group))
	for _, s := range group {
		if s != i {
			out = append(out, h.nodes[s].dept.ID)
		}
	}
	return out
}

// IsAncestor reports whether a is a strict ancestor of b
func (h *Hierarchy) IsAncestor(a, b int64) bool {
	ia, ok := h.index[a]
	if !ok {
		return false
	}
	ib, ok := h.index[b]
	if !ok || ia == ib {
		return false
	}
	na, nb := h.nodes[ia], h.nodes[ib]
	return nb.pre > na.pre && nb.pre <= na.last
}

// PathExists reports whether a and b lie on one root-to-leaf path,
// that is one is an ancestor of the other or they are equal.
func (h *Hierarchy) PathExists(a, b int64) bool {
	if a == b {
		return h.Contains(a)
	}
	return h.IsAncestor(a, b) || h.IsAncestor(b, a)
}

// InSubtree reports whether id equals root or descends from it
func (h *Hierarchy) InSubtree(root, id int64) bool {
	return (root == id && h.Contains(id)) || h.IsAncestor(root, id)
}

// HasChildren reports whether id has at least one child department
func (h *Hierarchy) HasChildren(id int64) bool {
	i, ok := h.index[id]
	return ok && len(h.nodes[i].children) > 0
}

// CheckRemovable returns nil when id may be deleted: it must exist, have no
// children and no members. Removal never cascades.
func (h *Hierarchy) CheckRemovable(id int64, members int) error {
	if !h.Contains(id) {
		return accesserr.New(accesserr.ErrDepartmentNotFound, "department %d not found", id)
	}
	if h.HasChildren(id) {
		return accesserr.New(accesserr.ErrDepartmentNotEmpty, "department %d has child departments", id)
	}
	if members > 0 {
		return accesserr.New(accesserr.ErrDepartmentNotEmpty, "department %d has %d members", id, members)
	}
	return nil
}

// TreeNode is a nested view of one department
type TreeNode struct {
	Department
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree returns the forest as nested nodes, ordered by Sort then ID
func (h *Hierarchy) Tree() []*TreeNode {
	built := make([]*TreeNode, len(h.nodes))
	// reverse pre-order visits children before parents
	for k := len(h.byPre) - 1; k >= 0; k-- {
		i := h.byPre[k]
		tn := &TreeNode{Department: h.nodes[i].dept}
		for _, c := range h.nodes[i].children {
			tn.Children = append(tn.Children, built[c])
		}
		built[i] = tn
	}
	out := make([]*TreeNode, 0, len(h.roots))
	for _, r := range h.roots {
		out = append(out, built[r])
	}
	return out
}
