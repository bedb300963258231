package models

import (
	"time"

	"github.com/google/uuid"
)

// TimestampCursor is the per-connector high-water mark for incremental sync.
// Its absence means the connector has never completed a full pass.
type TimestampCursor struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ConnectorID uuid.UUID `db:"connector_id" json:"connector_id"`
	CursorTs    time.Time `db:"cursor_ts" json:"cursor_ts"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (TimestampCursor) TableName() string {
	return "timestamp_cursors"
}
