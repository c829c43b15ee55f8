// Package dept models the department forest used for data scoping.
//
// Build turns the flat department table into an immutable Hierarchy in linear
// time. Each node gets a pre-order number and the number of its last
// descendant, so ancestor and subtree checks are interval comparisons:
//
//	h, err := dept.Build(rows)
//	h.SubtreeIDs(salesID)        // Sales and every department below it
//	h.PathExists(salesID, eastID)
//
// A row whose parent chain never reaches a root fails the build with
// accesserr.ErrCycleDetected. A row whose parent does not exist is treated as
// a root.
//
// Provider keeps the hierarchy in service behind an atomic pointer and
// replaces it on Rebuild. A failed rebuild leaves the previous hierarchy in
// place.
package dept
