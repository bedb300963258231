package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the per-connector sync state machine value.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusSucceeded SyncStatus = "succeeded"
	SyncStatusErrored   SyncStatus = "errored"
)

// Distinguished sync failure reasons. They drive remediation, not retries.
const (
	ErrorReasonOAuthTokenRevoked     = "oauth_token_revoked"
	ErrorReasonConnectionNotReadonly = "remote_database_connection_not_readonly"
)

// Connector is one (workspace, provider) pairing. It exclusively owns all
// container/content/cursor rows through connector_id foreign keys.
type Connector struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	TenantID            uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Provider            Provider   `db:"provider" json:"provider"`
	ConnectionID        string     `db:"connection_id" json:"connection_id"`
	Subdomain           string     `db:"subdomain" json:"subdomain"`
	Paused              bool       `db:"paused" json:"paused"`
	SyncStatus          SyncStatus `db:"sync_status" json:"sync_status"`
	ErrorReason         *string    `db:"error_reason" json:"error_reason,omitempty"`
	LastSyncStartedAt   *time.Time `db:"last_sync_started_at" json:"last_sync_started_at,omitempty"`
	LastSyncSucceededAt *time.Time `db:"last_sync_succeeded_at" json:"last_sync_succeeded_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Connector) TableName() string {
	return "connectors"
}

func (c *Connector) IsPaused() bool {
	return c.Paused
}
