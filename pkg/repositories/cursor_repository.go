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

const timestampCursorsTable = "timestamp_cursors"

var timestampCursorStruct = database.NewStruct(new(models.TimestampCursor))

// CursorRepository handles database operations for incremental sync cursors
type CursorRepository struct {
	*Repository
}

// NewCursorRepository creates a new cursor repository
func NewCursorRepository(db database.DB, logger ectologger.Logger) *CursorRepository {
	return &CursorRepository{
		Repository: NewRepository(db, logger),
	}
}

// Get retrieves the cursor for a connector. A nil cursor without error means
// the connector has never completed a full pass; callers treat that as a
// normal state, not a failure.
func (r *CursorRepository) Get(ctx context.Context, connectorID uuid.UUID) (*models.TimestampCursor, error) {
	ctx, span := tracing.StartSpan(ctx, "CursorRepository.Get")
	defer span.End()

	sb := timestampCursorStruct.SelectFrom(timestampCursorsTable)
	sb.Where(sb.Equal("connector_id", connectorID))

	query, args := sb.Build()
	var cursor models.TimestampCursor
	err := r.DB().GetContext(ctx, &cursor, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to get timestamp cursor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get timestamp cursor")
	}

	return &cursor, nil
}

// Upsert creates or advances the cursor for a connector
func (r *CursorRepository) Upsert(ctx context.Context, connectorID uuid.UUID, cursorTs time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "CursorRepository.Upsert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(timestampCursorsTable).
		Cols("id", "connector_id", "cursor_ts", "created_at", "updated_at").
		Values(uuid.New(), connectorID, cursorTs, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("connector_id")
	ub.Set(
		ub.Assign("cursor_ts", database.Excluded("cursor_ts")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)

	query, args := ib.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"cursor_ts":    cursorTs,
		}).Error("failed to upsert timestamp cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert timestamp cursor")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"cursor_ts":    cursorTs,
	}).Debugf("Updated %s", timestampCursorsTable)
	return nil
}

// Delete destroys the cursor for a connector. Deleting a missing cursor is
// not an error.
func (r *CursorRepository) Delete(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "CursorRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(timestampCursorsTable).
		Where(db.Equal("connector_id", connectorID))

	query, args := db.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete timestamp cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete timestamp cursor")
	}

	return nil
}
