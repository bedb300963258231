// Package syncer implements the workflow activities that drive a sync pass:
// cursor bookkeeping, per-provider page sync, and garbage collection. Every
// activity is idempotent under at-least-once delivery; re-running one
// re-derives the same downstream state.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/permissions"
	"github.com/Ramsey-B/tendril/pkg/reconcile"
	"github.com/Ramsey-B/tendril/pkg/redis"
	"github.com/Ramsey-B/tendril/pkg/tracing"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

const (
	// itemSyncConcurrency bounds concurrent leaf upserts within a batch
	itemSyncConcurrency = 10
	// commentFetchConcurrency bounds concurrent per-ticket comment fetches
	commentFetchConcurrency = 3
	// syncLockTTL is how long a sync pass may hold the per-connector lock
	syncLockTTL = 30 * time.Minute
)

// ErrMismatchedBatch indicates an internal invariant violation: a per-item
// sub-fetch produced a result list that does not line up with its inputs.
var ErrMismatchedBatch = errors.New("batch results do not match batch inputs")

// Engine is the reconciliation surface the activities drive
type Engine interface {
	ReconcilePage(ctx context.Context, connectorID uuid.UUID, provider models.Provider,
		folders []reconcile.FolderSpec, objects []reconcile.RemoteObject,
		idx *permissions.GrantIndex, opts reconcile.Options) (*reconcile.Result, error)
	GarbageCollect(ctx context.Context, connectorID uuid.UUID, provider models.Provider,
		remoteSet map[string]bool, idx *permissions.GrantIndex) (*reconcile.Result, error)
	GarbageCollectAll(ctx context.Context, connectorID uuid.UUID, provider models.Provider) (*reconcile.Result, error)
}

// PermissionTree is the permission surface the activities read
type PermissionTree interface {
	BuildIndex(ctx context.Context, connectorID uuid.UUID) (*permissions.GrantIndex, error)
	ReadGrantedSet(ctx context.Context, connectorID uuid.UUID) ([]string, error)
}

// StatusReporter records sync state transitions
type StatusReporter interface {
	Started(ctx context.Context, connector *models.Connector) error
	Succeeded(ctx context.Context, connector *models.Connector, startedAt time.Time) error
	Failed(ctx context.Context, connector *models.Connector, startedAt time.Time, reason string) error
}

// ConnectorStore is the connector persistence the activities need
type ConnectorStore interface {
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
}

// ItemLister enumerates persisted leaf rows, used during garbage collection
// to keep incrementally-synced leaves whose containers are still live
type ItemLister interface {
	ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]models.ContentItem, error)
}

// CursorStore is the cursor persistence the activities need
type CursorStore interface {
	Get(ctx context.Context, connectorID uuid.UUID) (*models.TimestampCursor, error)
	Upsert(ctx context.Context, connectorID uuid.UUID, cursorTs time.Time) error
	Delete(ctx context.Context, connectorID uuid.UUID) error
}

// ZendeskClientFactory builds a catalog client for one connector
type ZendeskClientFactory func(ctx context.Context, connector *models.Connector) (catalog.ZendeskClient, error)

// SnowflakeClientFactory opens a warehouse catalog client for one connector
type SnowflakeClientFactory func(ctx context.Context, connector *models.Connector) (catalog.SnowflakeClient, error)

// BatchResult is the continuation state returned by page activities
type BatchResult struct {
	HasMore  bool
	NextLink string
}

// Syncer hosts the workflow activities
type Syncer struct {
	connectors  ConnectorStore
	cursors     CursorStore
	items       ItemLister
	tree        PermissionTree
	engine      Engine
	status      StatusReporter
	zendesk     ZendeskClientFactory
	snowflake   SnowflakeClientFactory
	locker      *redis.Locker
	heartbeater workflow.Heartbeater
	logger      ectologger.Logger
}

// Config wires a Syncer
type Config struct {
	Connectors  ConnectorStore
	Cursors     CursorStore
	Items       ItemLister
	Tree        PermissionTree
	Engine      Engine
	Status      StatusReporter
	Zendesk     ZendeskClientFactory
	Snowflake   SnowflakeClientFactory
	Locker      *redis.Locker
	Heartbeater workflow.Heartbeater
}

// New creates a Syncer
func New(cfg Config, logger ectologger.Logger) *Syncer {
	heartbeater := cfg.Heartbeater
	if heartbeater == nil {
		heartbeater = workflow.NoopHeartbeater{}
	}
	return &Syncer{
		connectors:  cfg.Connectors,
		cursors:     cfg.Cursors,
		items:       cfg.Items,
		tree:        cfg.Tree,
		engine:      cfg.Engine,
		status:      cfg.Status,
		zendesk:     cfg.Zendesk,
		snowflake:   cfg.Snowflake,
		locker:      cfg.Locker,
		heartbeater: heartbeater,
		logger:      logger,
	}
}

// WithConnectorLock runs fn while holding the per-connector sync lock. Two
// workers never reconcile the same connector concurrently.
func (s *Syncer) WithConnectorLock(ctx context.Context, connector *models.Connector, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	return s.locker.WithLock(ctx, connector.ID.String(), syncLockTTL, fn)
}

// StartSync stamps the attempt start and returns the incremental cursor, or
// nil when the connector has never completed a full pass.
func (s *Syncer) StartSync(ctx context.Context, connector *models.Connector) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.StartSync")
	defer span.End()

	if err := s.status.Started(ctx, connector); err != nil {
		return nil, err
	}

	cursor, err := s.cursors.Get(ctx, connector.ID)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, nil
	}
	return &cursor.CursorTs, nil
}

// SaveSuccessSync stamps the success and advances the cursor to the pass
// start time. The cursor row is created lazily on the first successful pass.
func (s *Syncer) SaveSuccessSync(ctx context.Context, connector *models.Connector, startedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SaveSuccessSync")
	defer span.End()

	if err := s.cursors.Upsert(ctx, connector.ID, startedAt); err != nil {
		return err
	}
	return s.status.Succeeded(ctx, connector, startedAt)
}

// FailSync classifies a pass error and records it. Credential failures
// auto-pause the connector so the scheduler stops retrying a dead token; the
// error is still returned so the pass fails visibly.
func (s *Syncer) FailSync(ctx context.Context, connector *models.Connector, startedAt time.Time, err error) error {
	ctx, span := tracing.StartSpan(ctx, "Syncer.FailSync")
	defer span.End()

	reason := err.Error()
	switch {
	case errors.Is(err, catalog.ErrTokenRevoked):
		reason = models.ErrorReasonOAuthTokenRevoked
		if pauseErr := s.connectors.SetPaused(ctx, connector.ID, true); pauseErr != nil {
			s.logger.WithContext(ctx).WithError(pauseErr).WithFields(map[string]any{
				"connector_id": connector.ID,
			}).Error("failed to pause connector after token revocation")
		}
	case errors.Is(err, catalog.ErrNotReadonly):
		reason = models.ErrorReasonConnectionNotReadonly
	}

	if statusErr := s.status.Failed(ctx, connector, startedAt, reason); statusErr != nil {
		s.logger.WithContext(ctx).WithError(statusErr).Error("failed to record sync failure")
	}
	return err
}
