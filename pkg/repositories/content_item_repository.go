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

const contentItemsTable = "content_items"

var contentItemStruct = database.NewStruct(new(models.ContentItem))

// ContentItemRepository handles database operations for leaf content items
type ContentItemRepository struct {
	*Repository
}

// NewContentItemRepository creates a new content item repository
func NewContentItemRepository(db database.DB, logger ectologger.Logger) *ContentItemRepository {
	return &ContentItemRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert inserts or refreshes a content item keyed on (connector_id,
// internal_id). Conflicts preserve permission and last_upserted_at, matching
// the container node contract.
func (r *ContentItemRepository) Upsert(ctx context.Context, item *models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.Upsert")
	defer span.End()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Permission == "" {
		item.Permission = models.PermissionInherited
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(contentItemsTable).
		Cols("id", "connector_id", "internal_id", "item_type", "name", "url", "permission", "parent_chain", "created_at", "updated_at").
		Values(item.ID, item.ConnectorID, item.InternalID, item.ItemType, item.Name, item.URL,
			item.Permission, item.ParentChain, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("connector_id", "internal_id")
	ub.Set(
		ub.Assign("item_type", database.Excluded("item_type")),
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("url", database.Excluded("url")),
		ub.Assign("parent_chain", database.Excluded("parent_chain")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "permission", "last_upserted_at", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).
		Scan(&item.ID, &item.Permission, &item.LastUpsertedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": item.ConnectorID,
			"internal_id":  item.InternalID,
		}).Error("failed to upsert content item")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert content item")
	}

	return nil
}

// GetByInternalID retrieves a single content item
func (r *ContentItemRepository) GetByInternalID(ctx context.Context, connectorID uuid.UUID, internalID string) (*models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.GetByInternalID")
	defer span.End()

	sb := contentItemStruct.SelectFrom(contentItemsTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.Equal("internal_id", internalID))

	query, args := sb.Build()
	var item models.ContentItem
	err := r.DB().GetContext(ctx, &item, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "item %s does not exist", internalID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"internal_id":  internalID,
		}).Error("failed to get content item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get content item")
	}

	return &item, nil
}

// GetByInternalIDs retrieves the content items matching the given internal
// IDs. Missing IDs are silently absent from the result.
func (r *ContentItemRepository) GetByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.GetByInternalIDs")
	defer span.End()

	if len(internalIDs) == 0 {
		return []models.ContentItem{}, nil
	}

	sb := contentItemStruct.SelectFrom(contentItemsTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.In("internal_id", sqlbuilder.List(internalIDs)))

	query, args := sb.Build()
	var items []models.ContentItem
	err := r.DB().SelectContext(ctx, &items, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to get content items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get content items")
	}

	return items, nil
}

// ListByConnector retrieves every content item for a connector
func (r *ContentItemRepository) ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.ListByConnector")
	defer span.End()

	sb := contentItemStruct.SelectFrom(contentItemsTable)
	sb.Where(sb.Equal("connector_id", connectorID))
	sb.OrderBy("internal_id")

	query, args := sb.Build()
	var items []models.ContentItem
	err := r.DB().SelectContext(ctx, &items, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list content items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list content items")
	}

	return items, nil
}

// ListByPermission retrieves the content items carrying an explicit
// permission value
func (r *ContentItemRepository) ListByPermission(ctx context.Context, connectorID uuid.UUID, permission models.Permission) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.ListByPermission")
	defer span.End()

	sb := contentItemStruct.SelectFrom(contentItemsTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.Equal("permission", permission))
	sb.OrderBy("internal_id")

	query, args := sb.Build()
	var items []models.ContentItem
	err := r.DB().SelectContext(ctx, &items, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"permission":   permission,
		}).Error("failed to list content items by permission")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list content items by permission")
	}

	return items, nil
}

// ListChildren retrieves the content items directly under a parent node
func (r *ContentItemRepository) ListChildren(ctx context.Context, connectorID uuid.UUID, parentInternalID string) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.ListChildren")
	defer span.End()

	sb := contentItemStruct.SelectFrom(contentItemsTable)
	sb.Where(sb.Equal("connector_id", connectorID), sb.Equal("parent_chain->>0", parentInternalID))
	sb.OrderBy("name")

	query, args := sb.Build()
	var items []models.ContentItem
	err := r.DB().SelectContext(ctx, &items, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list child content items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list child content items")
	}

	return items, nil
}

// SetPermission updates an item's permission and reports whether the stored
// value actually changed
func (r *ContentItemRepository) SetPermission(ctx context.Context, connectorID uuid.UUID, internalID string, permission models.Permission) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.SetPermission")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(contentItemsTable).
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
		if _, err := r.GetByInternalID(ctx, connectorID, internalID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"internal_id":  internalID,
		}).Error("failed to set content item permission")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set content item permission")
	}

	return true, nil
}

// StampLastUpserted records the time the items were last pushed downstream
func (r *ContentItemRepository) StampLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.StampLastUpserted")
	defer span.End()

	return r.setLastUpserted(ctx, connectorID, internalIDs, &ts)
}

// ClearLastUpserted resets the downstream bookkeeping for the items
func (r *ContentItemRepository) ClearLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.ClearLastUpserted")
	defer span.End()

	return r.setLastUpserted(ctx, connectorID, internalIDs, nil)
}

func (r *ContentItemRepository) setLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts *time.Time) error {
	if len(internalIDs) == 0 {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(contentItemsTable).
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
		}).Error("failed to update content item upsert bookkeeping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update content item upsert bookkeeping")
	}

	return nil
}

// DeleteByInternalIDs removes the given content items and returns how many
// rows were destroyed
func (r *ContentItemRepository) DeleteByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.DeleteByInternalIDs")
	defer span.End()

	if len(internalIDs) == 0 {
		return 0, nil
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(contentItemsTable).
		Where(db.Equal("connector_id", connectorID), db.In("internal_id", sqlbuilder.List(internalIDs)))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"count":        len(internalIDs),
		}).Error("failed to delete content items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete content items")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteByConnector removes every content item for a connector
func (r *ContentItemRepository) DeleteByConnector(ctx context.Context, connectorID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentItemRepository.DeleteByConnector")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(contentItemsTable).
		Where(db.Equal("connector_id", connectorID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete content items by connector")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete content items by connector")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"count":        rows,
	}).Info("Deleted content items by connector")
	return rows, nil
}
