package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const connectorsTable = "connectors"

var connectorStruct = database.NewStruct(new(models.Connector))

// ConnectorRepository handles database operations for connectors
type ConnectorRepository struct {
	*Repository
}

// NewConnectorRepository creates a new connector repository
func NewConnectorRepository(db database.DB, logger ectologger.Logger) *ConnectorRepository {
	return &ConnectorRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new connector in the idle state
func (r *ConnectorRepository) Create(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	connector.TenantID = tenantID

	if connector.ID == uuid.Nil {
		connector.ID = uuid.New()
	}
	if connector.SyncStatus == "" {
		connector.SyncStatus = models.SyncStatusIdle
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(connectorsTable).
		Cols("id", "tenant_id", "provider", "connection_id", "subdomain", "paused", "sync_status", "created_at", "updated_at").
		Values(connector.ID, connector.TenantID, connector.Provider, connector.ConnectionID, connector.Subdomain,
			connector.Paused, connector.SyncStatus, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&connector.CreatedAt, &connector.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connector.ID,
		}).Error("failed to create connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create connector")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
	}).Debugf("Created %s", connectorsTable)
	return nil
}

// GetByID retrieves a connector by ID (tenant-scoped)
func (r *ConnectorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectorStruct.SelectFrom(connectorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var connector models.Connector
	err = r.DB().GetContext(ctx, &connector, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to get connector by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connector by ID")
	}

	return &connector, nil
}

// List retrieves all connectors for the current tenant
func (r *ConnectorRepository) List(ctx context.Context) ([]models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectorStruct.SelectFrom(connectorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var connectors []models.Connector
	err = r.DB().SelectContext(ctx, &connectors, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list connectors")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connectors")
	}

	return connectors, nil
}

// Update updates a connector's connection target
func (r *ConnectorRepository) Update(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectorsTable).
		Set(
			ub.Assign("connection_id", connector.ConnectionID),
			ub.Assign("subdomain", connector.Subdomain),
			ub.Assign("paused", connector.Paused),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", connector.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&connector.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", connector.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connector.ID,
		}).Error("failed to update connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connector")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
	}).Debugf("Updated %s", connectorsTable)
	return nil
}

// SetPaused flips the paused flag
func (r *ConnectorRepository) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.SetPaused")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectorsTable).
		Set(
			ub.Assign("paused", paused),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	var updatedAt sql.NullTime
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to set connector paused flag")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set connector paused flag")
	}

	return nil
}

// MarkSyncStarted transitions the connector to the running state and stamps
// the attempt time
func (r *ConnectorRepository) MarkSyncStarted(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.MarkSyncStarted")
	defer span.End()

	return r.markSync(ctx, id, func(ub *database.UpdateBuilder) {
		ub.Set(
			ub.Assign("sync_status", models.SyncStatusRunning),
			ub.Assign("error_reason", nil),
			ub.Assign("last_sync_started_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		)
	})
}

// MarkSyncSucceeded records a fully successful pass
func (r *ConnectorRepository) MarkSyncSucceeded(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.MarkSyncSucceeded")
	defer span.End()

	return r.markSync(ctx, id, func(ub *database.UpdateBuilder) {
		ub.Set(
			ub.Assign("sync_status", models.SyncStatusSucceeded),
			ub.Assign("error_reason", nil),
			ub.Assign("last_sync_succeeded_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		)
	})
}

// MarkSyncFailed records a failed pass with a machine-readable reason
func (r *ConnectorRepository) MarkSyncFailed(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.MarkSyncFailed")
	defer span.End()

	return r.markSync(ctx, id, func(ub *database.UpdateBuilder) {
		ub.Set(
			ub.Assign("sync_status", models.SyncStatusErrored),
			ub.Assign("error_reason", reason),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		)
	})
}

func (r *ConnectorRepository) markSync(ctx context.Context, id uuid.UUID, assign func(*database.UpdateBuilder)) error {
	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectorsTable)
	assign(ub)
	ub.Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	var updatedAt sql.NullTime
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to update connector sync status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connector sync status")
	}

	return nil
}

// Delete deletes a connector by ID
func (r *ConnectorRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(connectorsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to delete connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete connector")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to delete connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete connector")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": id,
	}).Debugf("Deleted %s", connectorsTable)
	return nil
}
