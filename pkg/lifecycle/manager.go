// Package lifecycle owns the connector state machine exposed through the API:
// creation, credential updates, pause/resume, manual syncs, permission edits
// and teardown. It validates against the upstream provider, persists, then
// hands execution to the workflow runtime.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

// ConnectorStore is the connector persistence the manager needs
type ConnectorStore interface {
	Create(ctx context.Context, connector *models.Connector) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error)
	List(ctx context.Context) ([]models.Connector, error)
	Update(ctx context.Context, connector *models.Connector) error
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
	MarkSyncSucceeded(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ContainerStore is the container persistence the manager needs
type ContainerStore interface {
	GetByInternalID(ctx context.Context, connectorID uuid.UUID, internalID string) (*models.ContainerNode, error)
	GetByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) ([]models.ContainerNode, error)
	ListChildren(ctx context.Context, connectorID uuid.UUID, parentInternalID *string) ([]models.ContainerNode, error)
	DeleteByConnector(ctx context.Context, connectorID uuid.UUID) (int64, error)
}

// ItemStore is the leaf persistence the manager needs
type ItemStore interface {
	GetByInternalID(ctx context.Context, connectorID uuid.UUID, internalID string) (*models.ContentItem, error)
	GetByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) ([]models.ContentItem, error)
	ListChildren(ctx context.Context, connectorID uuid.UUID, parentInternalID string) ([]models.ContentItem, error)
	DeleteByConnector(ctx context.Context, connectorID uuid.UUID) (int64, error)
}

// CursorStore is the cursor persistence the manager needs
type CursorStore interface {
	Get(ctx context.Context, connectorID uuid.UUID) (*models.TimestampCursor, error)
	Upsert(ctx context.Context, connectorID uuid.UUID, cursorTs time.Time) error
	Delete(ctx context.Context, connectorID uuid.UUID) error
}

// PermissionTree is the permission surface the manager edits through
type PermissionTree interface {
	Allow(ctx context.Context, connectorID uuid.UUID, internalID string) (bool, error)
	Forbid(ctx context.Context, connectorID uuid.UUID, internalID string) (bool, error)
}

// EventEmitter publishes lifecycle events
type EventEmitter interface {
	EmitPermissionsUpdated(ctx context.Context, connector *models.Connector)
}

// ZendeskClientFactory builds a provider client for validation calls
type ZendeskClientFactory func(ctx context.Context, connector *models.Connector) (catalog.ZendeskClient, error)

// Manager drives the connector lifecycle
type Manager struct {
	connectors ConnectorStore
	containers ContainerStore
	items      ItemStore
	cursors    CursorStore
	tree       PermissionTree
	runtime    workflow.Runtime
	emitter    EventEmitter
	zendesk    ZendeskClientFactory
	logger     ectologger.Logger
}

// ManagerConfig wires a Manager
type ManagerConfig struct {
	Connectors ConnectorStore
	Containers ContainerStore
	Items      ItemStore
	Cursors    CursorStore
	Tree       PermissionTree
	Runtime    workflow.Runtime
	Emitter    EventEmitter
	Zendesk    ZendeskClientFactory
}

// NewManager creates a lifecycle manager
func NewManager(cfg ManagerConfig, logger ectologger.Logger) *Manager {
	return &Manager{
		connectors: cfg.Connectors,
		containers: cfg.Containers,
		items:      cfg.Items,
		cursors:    cfg.Cursors,
		tree:       cfg.Tree,
		runtime:    cfg.Runtime,
		emitter:    cfg.Emitter,
		zendesk:    cfg.Zendesk,
		logger:     logger,
	}
}

// CreateConnectorRequest carries the inputs for a new connector
type CreateConnectorRequest struct {
	Provider     models.Provider `json:"provider" validate:"required,oneof=zendesk snowflake"`
	ConnectionID string          `json:"connection_id" validate:"required"`
	Subdomain    string          `json:"subdomain"`
}

// UpdateConnectorRequest carries replacement credentials for a connector
type UpdateConnectorRequest struct {
	ConnectionID string `json:"connection_id" validate:"required"`
	Subdomain    string `json:"subdomain"`
}

// Create validates the credential against the provider, persists the
// connector and launches its first full sync. The connector starts with an
// empty permission tree, so the initial pass is trivially complete and the
// row is stamped succeeded up front.
func (m *Manager) Create(ctx context.Context, req CreateConnectorRequest) (*models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.Create")
	defer span.End()

	connector := &models.Connector{
		Provider:     req.Provider,
		ConnectionID: req.ConnectionID,
		Subdomain:    req.Subdomain,
	}

	if connector.Provider == models.ProviderZendesk {
		if err := m.verifyZendeskAdmin(ctx, connector); err != nil {
			return nil, err
		}
	}

	if err := m.connectors.Create(ctx, connector); err != nil {
		return nil, err
	}
	if err := m.connectors.MarkSyncSucceeded(ctx, connector.ID); err != nil {
		m.rollbackCreate(ctx, connector.ID)
		return nil, err
	}

	if err := m.runtime.LaunchFullSync(ctx, connector, false); err != nil {
		m.rollbackCreate(ctx, connector.ID)
		return nil, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
		"provider":     connector.Provider,
	}).Info("Created connector")
	return connector, nil
}

// rollbackCreate deletes a connector whose creation could not finish, so a
// retried create doesn't strand a row that no workflow will ever pick up.
func (m *Manager) rollbackCreate(ctx context.Context, connectorID uuid.UUID) {
	if err := m.connectors.Delete(ctx, connectorID); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to roll back partially created connector")
	}
}

// Get retrieves one connector
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.Get")
	defer span.End()

	return m.getConnector(ctx, id)
}

// List retrieves the tenant's connectors
func (m *Manager) List(ctx context.Context) ([]models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.List")
	defer span.End()

	return m.connectors.List(ctx)
}

// Update swaps the connector's credential. The new credential must target the
// same provider account: pointing an existing connector at a different
// subdomain would silently orphan everything already synced.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, req UpdateConnectorRequest) (*models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.Update")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return nil, err
	}

	if connector.Provider == models.ProviderZendesk {
		if req.Subdomain != connector.Subdomain {
			return nil, NewError(ErrCodeOAuthTargetMismatch,
				"connection targets subdomain %q but the connector syncs %q", req.Subdomain, connector.Subdomain)
		}

		candidate := *connector
		candidate.ConnectionID = req.ConnectionID
		if err := m.verifyZendeskAdmin(ctx, &candidate); err != nil {
			return nil, err
		}
	}

	connector.ConnectionID = req.ConnectionID
	// A fresh working credential clears any credential-driven pause.
	connector.Paused = false
	if err := m.connectors.Update(ctx, connector); err != nil {
		return nil, err
	}

	return connector, nil
}

// Pause suspends scheduling for the connector without touching synced state
func (m *Manager) Pause(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Pause")
	defer span.End()

	if _, err := m.getConnector(ctx, id); err != nil {
		return err
	}
	return m.connectors.SetPaused(ctx, id, true)
}

// Unpause resumes scheduling for the connector
func (m *Manager) Unpause(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Unpause")
	defer span.End()

	if _, err := m.getConnector(ctx, id); err != nil {
		return err
	}
	return m.connectors.SetPaused(ctx, id, false)
}

// Stop halts all running workflows for the connector. Synced state stays
// untouched until Resume or Clean.
func (m *Manager) Stop(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Stop")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return err
	}
	return m.runtime.Stop(ctx, connector)
}

// Resume relaunches the sync workflow. Resuming a paused connector is a
// success no-op: the pause stays authoritative until it is lifted.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Resume")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return err
	}
	if connector.IsPaused() {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"connector_id": id,
		}).Debug("Resume skipped for paused connector")
		return nil
	}
	return m.runtime.LaunchSync(ctx, connector, nil)
}

// Sync launches a manual pass. A non-nil fromTs rewinds the incremental
// cursor and requires one to exist; a nil fromTs destroys the cursor and
// forces a full re-push of everything granted.
func (m *Manager) Sync(ctx context.Context, id uuid.UUID, fromTs *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Sync")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return err
	}

	if fromTs != nil {
		cursor, err := m.cursors.Get(ctx, connector.ID)
		if err != nil {
			return err
		}
		if cursor == nil {
			return NewError(ErrCodeCursorMissing,
				"connector %s has no cursor to rewind; request a full sync instead", id)
		}
		if err := m.cursors.Upsert(ctx, connector.ID, fromTs.UTC()); err != nil {
			return err
		}
		return m.runtime.LaunchSync(ctx, connector, nil)
	}

	if err := m.cursors.Delete(ctx, connector.ID); err != nil {
		return err
	}
	return m.runtime.LaunchFullSync(ctx, connector, true)
}

// Clean stops the connector's workflows and cascades every row it owns.
// Content Store teardown runs through garbage collection beforehand when the
// caller wants downstream data removed too.
func (m *Manager) Clean(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Manager.Clean")
	defer span.End()

	connector, err := m.getConnector(ctx, id)
	if err != nil {
		return err
	}

	if err := m.runtime.Stop(ctx, connector); err != nil {
		return err
	}

	if _, err := m.items.DeleteByConnector(ctx, connector.ID); err != nil {
		return err
	}
	if _, err := m.containers.DeleteByConnector(ctx, connector.ID); err != nil {
		return err
	}
	if err := m.cursors.Delete(ctx, connector.ID); err != nil {
		return err
	}
	if err := m.connectors.Delete(ctx, connector.ID); err != nil {
		return err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": id,
	}).Info("Cleaned connector")
	return nil
}

func (m *Manager) getConnector(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	connector, err := m.connectors.GetByID(ctx, id)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil, NewError(ErrCodeConnectorNotFound, "connector %s does not exist", id)
		}
		return nil, err
	}
	return connector, nil
}

// verifyZendeskAdmin confirms the credential belongs to an admin user. Only
// admins see every brand and ticket, so a weaker role would sync a silently
// partial catalog.
func (m *Manager) verifyZendeskAdmin(ctx context.Context, connector *models.Connector) error {
	client, err := m.zendesk(ctx, connector)
	if err != nil {
		return err
	}

	isAdmin, err := client.CurrentUserIsAdmin(ctx)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrTokenRevoked):
			return NewError(ErrCodeExternalOAuthToken, "provider rejected the connection token")
		case errors.Is(err, catalog.ErrMissingRights):
			return NewError(ErrCodeOAuthUserMissingRights, "connection user cannot read account details")
		}
		return err
	}
	if !isAdmin {
		return NewError(ErrCodeOAuthUserMissingRights, "connection user must hold the admin role")
	}
	return nil
}
