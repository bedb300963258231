package lifecycle

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/internalid"
	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/permissions"
	"github.com/Ramsey-B/tendril/pkg/tracing"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

// PermissionUpdate is one requested permission change
type PermissionUpdate struct {
	InternalID string            `json:"internal_id" validate:"required"`
	Permission models.Permission `json:"permission" validate:"required"`
}

// SetPermissions applies a batch of explicit permission changes. The batch is
// all-or-nothing at the validation stage: one unsettable value rejects the
// whole request before anything is written. When at least one stored
// permission actually changed, a narrowed sync is signalled so newly granted
// subtrees fill in and revoked ones get collected.
func (m *Manager) SetPermissions(ctx context.Context, id uuid.UUID, updates []PermissionUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.SetPermissions")
	defer span.End()

	for _, update := range updates {
		if !update.Permission.IsSettable() {
			return NewError(ErrCodeInvalidPermission,
				"permission %q is not settable on %s; use read or none", update.Permission, update.InternalID)
		}
	}

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return err
	}

	changedIDs := []string{}
	for _, update := range updates {
		var changed bool
		var err error
		if update.Permission == models.PermissionRead {
			changed, err = m.tree.Allow(ctx, connector.ID, update.InternalID)
		} else {
			changed, err = m.tree.Forbid(ctx, connector.ID, update.InternalID)
		}
		if err != nil {
			if errors.Is(err, permissions.ErrLeafNode) {
				return NewError(ErrCodePermissionNotSettable,
					"%s is a leaf item; permissions are set on its containers", update.InternalID)
			}
			return err
		}
		if !changed {
			continue
		}

		changedIDs = append(changedIDs, update.InternalID)

		parsed, err := internalid.Parse(update.InternalID)
		if err != nil {
			return err
		}
		metrics.PermissionChangesTotal.WithLabelValues(string(parsed.Kind), string(update.Permission)).Inc()
	}

	if len(changedIDs) == 0 {
		return nil
	}

	m.emitter.EmitPermissionsUpdated(ctx, connector)

	signal, err := buildSyncSignal(connector.Provider, changedIDs)
	if err != nil {
		return err
	}
	return m.runtime.LaunchSync(ctx, connector, signal)
}

// buildSyncSignal narrows the follow-up sync to the subtrees whose grants
// changed. Warehouse passes are whole-catalog, so they get no narrowing.
func buildSyncSignal(provider models.Provider, changedIDs []string) (*workflow.SyncSignal, error) {
	if provider != models.ProviderZendesk {
		return nil, nil
	}

	signal := &workflow.SyncSignal{}
	helpCenterSeen := map[int64]bool{}
	ticketsSeen := map[int64]bool{}
	for _, internalID := range changedIDs {
		parsed, err := internalid.Parse(internalID)
		if err != nil {
			return nil, err
		}

		switch parsed.Kind {
		case internalid.KindBrand:
			if !helpCenterSeen[parsed.BrandID] {
				helpCenterSeen[parsed.BrandID] = true
				signal.HelpCenterBrandIDs = append(signal.HelpCenterBrandIDs, parsed.BrandID)
			}
			if !ticketsSeen[parsed.BrandID] {
				ticketsSeen[parsed.BrandID] = true
				signal.TicketsBrandIDs = append(signal.TicketsBrandIDs, parsed.BrandID)
			}
		case internalid.KindHelpCenter:
			if !helpCenterSeen[parsed.BrandID] {
				helpCenterSeen[parsed.BrandID] = true
				signal.HelpCenterBrandIDs = append(signal.HelpCenterBrandIDs, parsed.BrandID)
			}
		case internalid.KindTickets:
			if !ticketsSeen[parsed.BrandID] {
				ticketsSeen[parsed.BrandID] = true
				signal.TicketsBrandIDs = append(signal.TicketsBrandIDs, parsed.BrandID)
			}
		case internalid.KindCategory:
			signal.Categories = append(signal.Categories, workflow.CategorySignal{
				BrandID:    parsed.BrandID,
				CategoryID: parsed.ObjectID,
			})
		}
	}

	return signal, nil
}

// RetrievePermissions lists the permission tree one level at a time for the
// selection UI. A nil parent returns the top-level containers; a container
// parent returns its child containers and leaves.
func (m *Manager) RetrievePermissions(ctx context.Context, id uuid.UUID, parentInternalID *string) ([]models.ContentNode, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.RetrievePermissions")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return nil, err
	}

	containers, err := m.containers.ListChildren(ctx, connector.ID, parentInternalID)
	if err != nil {
		return nil, err
	}

	nodes := ectolinq.Map(containers, containerContentNode)

	if parentInternalID != nil {
		items, err := m.items.ListChildren(ctx, connector.ID, *parentInternalID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, ectolinq.Map(items, itemContentNode)...)
	}

	return nodes, nil
}

// RetrieveBatchContentNodes resolves internal IDs to their node projections.
// IDs with no backing row are silently absent from the result.
func (m *Manager) RetrieveBatchContentNodes(ctx context.Context, id uuid.UUID, internalIDs []string) ([]models.ContentNode, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.RetrieveBatchContentNodes")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return nil, err
	}

	containers, err := m.containers.GetByInternalIDs(ctx, connector.ID, internalIDs)
	if err != nil {
		return nil, err
	}
	items, err := m.items.GetByInternalIDs(ctx, connector.ID, internalIDs)
	if err != nil {
		return nil, err
	}

	nodes := ectolinq.Map(containers, containerContentNode)
	return append(nodes, ectolinq.Map(items, itemContentNode)...), nil
}

// RetrieveContentNodeParents returns the ancestor chain of a node,
// nearest-first and including the node itself. Rows not yet materialized
// still resolve when the chain is derivable from the ID encoding alone.
func (m *Manager) RetrieveContentNodeParents(ctx context.Context, id uuid.UUID, internalID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.RetrieveContentNodeParents")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return nil, err
	}

	if node, err := m.containers.GetByInternalID(ctx, connector.ID, internalID); err == nil {
		return node.ParentInternalIDs(), nil
	} else if !isNotFound(err) {
		return nil, err
	}

	if item, err := m.items.GetByInternalID(ctx, connector.ID, internalID); err == nil {
		return item.ParentInternalIDs(), nil
	} else if !isNotFound(err) {
		return nil, err
	}

	parsed, err := internalid.Parse(internalID)
	if err != nil {
		return nil, err
	}
	if ancestors, ok := parsed.Ancestors(); ok {
		return append([]string{internalID}, ancestors...), nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "node %s does not exist", internalID)
}

func containerContentNode(node models.ContainerNode) models.ContentNode {
	return models.ContentNode{
		InternalID:       node.InternalID,
		ParentInternalID: chainHead(node.ParentChain.Data),
		Type:             models.ContentNodeTypeFolder,
		Title:            node.Name,
		SourceURL:        node.URL,
		Permission:       node.Permission,
		LastUpdatedAt:    node.LastUpsertedAt,
		Expandable:       true,
	}
}

func itemContentNode(item models.ContentItem) models.ContentNode {
	nodeType := models.ContentNodeTypeDocument
	if item.ItemType == models.ItemTypeTable {
		nodeType = models.ContentNodeTypeTable
	}
	return models.ContentNode{
		InternalID:       item.InternalID,
		ParentInternalID: chainHead(item.ParentChain.Data),
		Type:             nodeType,
		Title:            item.Name,
		SourceURL:        item.URL,
		Permission:       item.Permission,
		LastUpdatedAt:    item.LastUpsertedAt,
		Expandable:       false,
	}
}

func chainHead(chain []string) *string {
	if len(chain) == 0 {
		return nil
	}
	return &chain[0]
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
