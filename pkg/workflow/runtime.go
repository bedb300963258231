// Package workflow adapts the engine to an external workflow scheduler. The
// engine owns no timers: it publishes commands describing what should run and
// the scheduler decides when, with retries and heartbeat supervision.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/models"
)

// CommandType identifies a workflow command
type CommandType string

const (
	CommandSync              CommandType = "sync"
	CommandFullSync          CommandType = "full_sync"
	CommandGarbageCollection CommandType = "garbage_collection"
	CommandStop              CommandType = "stop"
)

// CategorySignal identifies a single category whose permission changed
type CategorySignal struct {
	BrandID    int64 `json:"brand_id"`
	CategoryID int64 `json:"category_id"`
}

// SyncSignal narrows an incremental sync to the nodes whose permissions
// changed. Empty slices mean nothing of that kind changed.
type SyncSignal struct {
	HelpCenterBrandIDs []int64          `json:"help_center_brand_ids,omitempty"`
	TicketsBrandIDs    []int64          `json:"tickets_brand_ids,omitempty"`
	Categories         []CategorySignal `json:"categories,omitempty"`
}

// IsEmpty reports whether the signal carries no changes
func (s *SyncSignal) IsEmpty() bool {
	return s == nil || (len(s.HelpCenterBrandIDs) == 0 && len(s.TicketsBrandIDs) == 0 && len(s.Categories) == 0)
}

// Command is the wire shape published to the scheduler
type Command struct {
	Type        CommandType     `json:"type"`
	TenantID    string          `json:"tenant_id"`
	ConnectorID uuid.UUID       `json:"connector_id"`
	Provider    models.Provider `json:"provider"`
	ForceResync bool            `json:"force_resync,omitempty"`
	Signal      *SyncSignal     `json:"signal,omitempty"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// Runtime launches and stops workflows for a connector. Implementations must
// not block on workflow completion.
type Runtime interface {
	// LaunchSync starts an incremental sync, optionally narrowed by a signal.
	LaunchSync(ctx context.Context, connector *models.Connector, signal *SyncSignal) error
	// LaunchFullSync starts a whole-catalog pass. forceResync pushes every
	// granted object downstream even if bookkeeping says it was already sent.
	LaunchFullSync(ctx context.Context, connector *models.Connector, forceResync bool) error
	// LaunchGarbageCollection starts the periodic deletion workflow.
	LaunchGarbageCollection(ctx context.Context, connector *models.Connector) error
	// Stop halts all workflows for the connector.
	Stop(ctx context.Context, connector *models.Connector) error
}
