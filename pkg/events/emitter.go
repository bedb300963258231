// Package events handles event emission for connector lifecycle changes.
// Emission is best-effort: a broker outage must never fail a sync, so every
// emit logs failures and returns nothing.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/tendril/pkg/context"
	"github.com/Ramsey-B/tendril/pkg/kafka"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeSyncStarted        EventType = "connector.sync.started"
	EventTypeSyncSucceeded      EventType = "connector.sync.succeeded"
	EventTypeSyncFailed         EventType = "connector.sync.failed"
	EventTypePermissionsUpdated EventType = "connector.permissions.updated"
)

// Emitter handles connector event emission
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitSyncStarted emits a sync started event
func (e *Emitter) EmitSyncStarted(ctx context.Context, connector *models.Connector) {
	e.emit(ctx, EventTypeSyncStarted, connector, "")
}

// EmitSyncSucceeded emits a sync succeeded event
func (e *Emitter) EmitSyncSucceeded(ctx context.Context, connector *models.Connector) {
	e.emit(ctx, EventTypeSyncSucceeded, connector, "")
}

// EmitSyncFailed emits a sync failed event with its machine-readable reason
func (e *Emitter) EmitSyncFailed(ctx context.Context, connector *models.Connector, reason string) {
	e.emit(ctx, EventTypeSyncFailed, connector, reason)
}

// EmitPermissionsUpdated emits a permissions updated event
func (e *Emitter) EmitPermissionsUpdated(ctx context.Context, connector *models.Connector) {
	e.emit(ctx, EventTypePermissionsUpdated, connector, "")
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, connector *models.Connector, reason string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	event := &kafka.ConnectorEvent{
		EventType:   string(eventType),
		TenantID:    appctx.GetTenantID(ctx),
		ConnectorID: connector.ID.String(),
		Provider:    string(connector.Provider),
		Reason:      reason,
	}

	if err := e.producer.PublishConnectorEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":   eventType,
			"connector_id": connector.ID,
		}).Errorf("Failed to emit %s event", eventType)
	}
}
