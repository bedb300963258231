package permissions

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/internalid"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// ErrLeafNode is returned when an explicit permission is requested on a leaf
// item. Only container nodes accept explicit marks; leaves follow their
// ancestors or are individually selected during sync.
var ErrLeafNode = errors.New("permission cannot be set on a leaf item")

// ContainerStore is the container persistence the tree needs
type ContainerStore interface {
	GetByInternalID(ctx context.Context, connectorID uuid.UUID, internalID string) (*models.ContainerNode, error)
	SetPermission(ctx context.Context, connectorID uuid.UUID, internalID string, permission models.Permission) (bool, error)
	ListByPermission(ctx context.Context, connectorID uuid.UUID, permission models.Permission) ([]models.ContainerNode, error)
}

// ItemStore is the leaf persistence the tree needs
type ItemStore interface {
	ListByPermission(ctx context.Context, connectorID uuid.UUID, permission models.Permission) ([]models.ContentItem, error)
}

// Tree manages explicit permission marks on a connector's node hierarchy
type Tree struct {
	containers ContainerStore
	items      ItemStore
	logger     ectologger.Logger
}

// NewTree creates a new permission tree
func NewTree(containers ContainerStore, items ItemStore, logger ectologger.Logger) *Tree {
	return &Tree{
		containers: containers,
		items:      items,
		logger:     logger,
	}
}

// Allow marks a container node explicitly readable. Descendants are not
// touched here: rows materialize as `inherited` when reconciliation next
// encounters them. Returns whether the stored permission actually changed.
func (t *Tree) Allow(ctx context.Context, connectorID uuid.UUID, internalID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Tree.Allow")
	defer span.End()

	return t.setContainerPermission(ctx, connectorID, internalID, models.PermissionRead)
}

// Forbid marks a container node explicitly denied, blocking inheritance for
// the node and everything under it.
func (t *Tree) Forbid(ctx context.Context, connectorID uuid.UUID, internalID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Tree.Forbid")
	defer span.End()

	return t.setContainerPermission(ctx, connectorID, internalID, models.PermissionNone)
}

func (t *Tree) setContainerPermission(ctx context.Context, connectorID uuid.UUID, internalID string, permission models.Permission) (bool, error) {
	// Classify by the encoding so leaves get the typed rejection even when no
	// row has materialized for them yet.
	parsed, err := internalid.Parse(internalID)
	if err != nil {
		return false, err
	}
	switch parsed.Kind {
	case internalid.KindArticle, internalid.KindTicket, internalid.KindTable:
		return false, ErrLeafNode
	}

	changed, err := t.containers.SetPermission(ctx, connectorID, internalID, permission)
	if err != nil {
		return false, err
	}

	if changed {
		t.logger.WithContext(ctx).WithFields(map[string]any{
			"connector_id": connectorID,
			"internal_id":  internalID,
			"permission":   permission,
		}).Info("Updated node permission")
	}
	return changed, nil
}

// BuildIndex loads every explicit mark for the connector into a GrantIndex
func (t *Tree) BuildIndex(ctx context.Context, connectorID uuid.UUID) (*GrantIndex, error) {
	ctx, span := tracing.StartSpan(ctx, "Tree.BuildIndex")
	defer span.End()

	readContainers, err := t.containers.ListByPermission(ctx, connectorID, models.PermissionRead)
	if err != nil {
		return nil, err
	}
	noneContainers, err := t.containers.ListByPermission(ctx, connectorID, models.PermissionNone)
	if err != nil {
		return nil, err
	}
	readItems, err := t.items.ListByPermission(ctx, connectorID, models.PermissionRead)
	if err != nil {
		return nil, err
	}

	return BuildGrantIndex(append(readContainers, noneContainers...), readItems), nil
}

// ReadGrantedSet returns the union of explicitly read containers and
// explicitly selected leaf items
func (t *Tree) ReadGrantedSet(ctx context.Context, connectorID uuid.UUID) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "Tree.ReadGrantedSet")
	defer span.End()

	idx, err := t.BuildIndex(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	return idx.ReadSet(), nil
}
