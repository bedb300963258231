package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const containerNodesTable = "container_nodes"

var containerNodeStruct = database.NewStruct(new(models.ContainerNode))

// ContainerRepository handles database operations for container nodes. Rows
// are scoped by connector ID; tenant isolation is enforced when the connector
// itself is resolved.
type ContainerRepository struct {
	*Repository
}

// NewContainerRepository creates a new container node repository
func NewContainerRepository(db database.DB, logger ectologger.Logger) *ContainerRepository {
	return &ContainerRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert inserts or refreshes a container node keyed on (connector_id,
// internal_id). Conflicts update the descriptive fields and parent chain but
// never touch permission or last_upserted_at, so user selections and sync
// bookkeeping survive re-discovery. The node is populated with the persisted
// row on return.
func (r *ContainerRepository) Upsert(ctx context.Context, node *models.ContainerNode) error {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.Upsert")
	defer span.End()

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.Permission == "" {
		node.Permission = models.PermissionInherited
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(containerNodesTable).
		Cols("id", "connector_id", "internal_id", "node_type", "name", "url", "permission", "parent_chain", "created_at", "updated_at").
		Values(node.ID, node.ConnectorID, node.InternalID, node.NodeType, node.Name, node.URL,
			node.Permission, node.ParentChain, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("connector_id", "internal_id")
	ub.Set(
		ub.Assign("node_type", database.Excluded("node_type")),
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("url", database.Excluded("url")),
		ub.Assign("parent_chain", database.Excluded("parent_chain")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "permission", "last_upserted_at", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).
		Scan(&node.ID, &node.Permission, &node.LastUpsertedAt, &node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": node.ConnectorID,
			"internal_id":  node.InternalID,
		}).Error("failed to upsert container node")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert container node")
	}

	return nil
}

// GetByInternalID retrieves a single container node
func (r *ContainerRepository) GetByInternalID(ctx context.Context, connectorID uuid.UUID, internalID string) (*models.ContainerNode, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.GetByInternalID")
	defer span.End()

	sb := containerNodeStruct.SelectFrom(containerNodesTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.Equal("internal_id", internalID))

	query, args := sb.Build()
	var node models.ContainerNode
	err := r.DB().GetContext(ctx, &node, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "node %s does not exist", internalID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"internal_id":  internalID,
		}).Error("failed to get container node")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get container node")
	}

	return &node, nil
}

// GetByInternalIDs retrieves the container nodes matching the given internal
// IDs. Missing IDs are silently absent from the result.
func (r *ContainerRepository) GetByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) ([]models.ContainerNode, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.GetByInternalIDs")
	defer span.End()

	if len(internalIDs) == 0 {
		return []models.ContainerNode{}, nil
	}

	sb := containerNodeStruct.SelectFrom(containerNodesTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.In("internal_id", sqlbuilder.List(internalIDs)))

	query, args := sb.Build()
	var nodes []models.ContainerNode
	err := r.DB().SelectContext(ctx, &nodes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to get container nodes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get container nodes")
	}

	return nodes, nil
}

// ListByConnector retrieves every container node for a connector
func (r *ContainerRepository) ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]models.ContainerNode, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.ListByConnector")
	defer span.End()

	sb := containerNodeStruct.SelectFrom(containerNodesTable)
	sb.Where(sb.Equal("connector_id", connectorID))
	sb.OrderBy("internal_id")

	query, args := sb.Build()
	var nodes []models.ContainerNode
	err := r.DB().SelectContext(ctx, &nodes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list container nodes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list container nodes")
	}

	return nodes, nil
}

// ListByPermission retrieves the container nodes carrying an explicit
// permission value
func (r *ContainerRepository) ListByPermission(ctx context.Context, connectorID uuid.UUID, permission models.Permission) ([]models.ContainerNode, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.ListByPermission")
	defer span.End()

	sb := containerNodeStruct.SelectFrom(containerNodesTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.Equal("permission", permission))
	sb.OrderBy("internal_id")

	query, args := sb.Build()
	var nodes []models.ContainerNode
	err := r.DB().SelectContext(ctx, &nodes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"permission":   permission,
		}).Error("failed to list container nodes by permission")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list container nodes by permission")
	}

	return nodes, nil
}

// ListChildren retrieves direct children of a parent node. A nil parent
// returns the root nodes (empty parent chain).
func (r *ContainerRepository) ListChildren(ctx context.Context, connectorID uuid.UUID, parentInternalID *string) ([]models.ContainerNode, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.ListChildren")
	defer span.End()

	sb := containerNodeStruct.SelectFrom(containerNodesTable)
	sb.Where(sb.Equal("connector_id", connectorID))
	if parentInternalID == nil {
		sb.Where("parent_chain = '[]'::jsonb")
	} else {
		sb.Where(sb.Equal("parent_chain->>0", *parentInternalID))
	}
	sb.OrderBy("name")

	query, args := sb.Build()
	var nodes []models.ContainerNode
	err := r.DB().SelectContext(ctx, &nodes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list child container nodes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list child container nodes")
	}

	return nodes, nil
}

// SetPermission updates a node's permission and reports whether the stored
// value actually changed
func (r *ContainerRepository) SetPermission(ctx context.Context, connectorID uuid.UUID, internalID string, permission models.Permission) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.SetPermission")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(containerNodesTable).
		Set(
			ub.Assign("permission", permission),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("connector_id", connectorID),
			ub.Equal("internal_id", internalID),
			ub.NotEqual("permission", permission),
		)
	ub.SQL("RETURNING id")

	query, args := ub.Build()
	var id uuid.UUID
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Unchanged or missing; disambiguate so callers can 404.
		if _, err := r.GetByInternalID(ctx, connectorID, internalID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"internal_id":  internalID,
		}).Error("failed to set container node permission")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set container node permission")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"internal_id":  internalID,
		"permission":   permission,
	}).Debugf("Updated %s permission", containerNodesTable)
	return true, nil
}

// StampLastUpserted records the time the nodes were last pushed downstream
func (r *ContainerRepository) StampLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.StampLastUpserted")
	defer span.End()

	return r.setLastUpserted(ctx, connectorID, internalIDs, &ts)
}

// ClearLastUpserted resets the downstream bookkeeping for the nodes so a
// future pass treats them as never synced
func (r *ContainerRepository) ClearLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.ClearLastUpserted")
	defer span.End()

	return r.setLastUpserted(ctx, connectorID, internalIDs, nil)
}

func (r *ContainerRepository) setLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts *time.Time) error {
	if len(internalIDs) == 0 {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(containerNodesTable).
		Set(
			ub.Assign("last_upserted_at", ts),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("connector_id", connectorID), ub.In("internal_id", sqlbuilder.List(internalIDs)))

	query, args := ub.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"count":        len(internalIDs),
		}).Error("failed to update container node upsert bookkeeping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update container node upsert bookkeeping")
	}

	return nil
}

// DeleteByInternalIDs removes the given container nodes and returns how many
// rows were destroyed
func (r *ContainerRepository) DeleteByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.DeleteByInternalIDs")
	defer span.End()

	if len(internalIDs) == 0 {
		return 0, nil
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(containerNodesTable).
		Where(db.Equal("connector_id", connectorID), db.In("internal_id", sqlbuilder.List(internalIDs)))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"count":        len(internalIDs),
		}).Error("failed to delete container nodes")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete container nodes")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteByConnector removes every container node for a connector
func (r *ContainerRepository) DeleteByConnector(ctx context.Context, connectorID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ContainerRepository.DeleteByConnector")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(containerNodesTable).
		Where(db.Equal("connector_id", connectorID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete container nodes by connector")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete container nodes by connector")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"count":        rows,
	}).Info("Deleted container nodes by connector")
	return rows, nil
}
