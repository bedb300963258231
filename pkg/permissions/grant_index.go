// Package permissions maintains the permission tree for a connector: which
// container nodes are explicitly granted or denied, and how those explicit
// marks propagate to descendants during reconciliation.
package permissions

import (
	"github.com/Ramsey-B/tendril/pkg/models"
)

// GrantIndex is an in-memory snapshot of every explicit permission mark for
// one connector. It answers the inheritance question during a pass without
// further database reads.
type GrantIndex struct {
	read map[string]bool
	none map[string]bool
}

// NewGrantIndex creates an empty index
func NewGrantIndex() *GrantIndex {
	return &GrantIndex{
		read: make(map[string]bool),
		none: make(map[string]bool),
	}
}

// BuildGrantIndex indexes the explicit marks of the given rows. Rows with
// permission `inherited` carry no explicit mark and are ignored.
func BuildGrantIndex(containers []models.ContainerNode, items []models.ContentItem) *GrantIndex {
	idx := NewGrantIndex()
	for _, node := range containers {
		idx.mark(node.InternalID, node.Permission)
	}
	for _, item := range items {
		idx.mark(item.InternalID, item.Permission)
	}
	return idx
}

func (x *GrantIndex) mark(internalID string, permission models.Permission) {
	switch permission {
	case models.PermissionRead:
		x.read[internalID] = true
	case models.PermissionNone:
		x.none[internalID] = true
	}
}

// GrantRead records an explicit read mark
func (x *GrantIndex) GrantRead(internalID string) {
	delete(x.none, internalID)
	x.read[internalID] = true
}

// Deny records an explicit none mark
func (x *GrantIndex) Deny(internalID string) {
	delete(x.read, internalID)
	x.none[internalID] = true
}

// IsGranted resolves effective access for a node given its ancestor chain
// (nearest-first, excluding the node itself). An explicit mark on the node
// wins outright; otherwise the nearest explicitly marked ancestor decides.
// An explicit none blocks inheritance even under a read-granted ancestor.
// With no explicit mark anywhere on the chain, access is denied.
func (x *GrantIndex) IsGranted(internalID string, ancestors []string) bool {
	if x.none[internalID] {
		return false
	}
	if x.read[internalID] {
		return true
	}

	for _, ancestor := range ancestors {
		if x.none[ancestor] {
			return false
		}
		if x.read[ancestor] {
			return true
		}
	}

	return false
}

// ReadSet returns the internal IDs carrying an explicit read mark
func (x *GrantIndex) ReadSet() []string {
	ids := make([]string, 0, len(x.read))
	for id := range x.read {
		ids = append(ids, id)
	}
	return ids
}

// IsEmpty reports whether no explicit read mark exists anywhere
func (x *GrantIndex) IsEmpty() bool {
	return len(x.read) == 0
}
