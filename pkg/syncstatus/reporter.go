// Package syncstatus records sync state transitions on the connector row and
// mirrors them onto the event bus.
package syncstatus

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/events"
	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// ConnectorStore is the connector persistence the reporter needs
type ConnectorStore interface {
	MarkSyncStarted(ctx context.Context, id uuid.UUID) error
	MarkSyncSucceeded(ctx context.Context, id uuid.UUID) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Reporter transitions a connector between sync states
type Reporter struct {
	connectors ConnectorStore
	emitter    *events.Emitter
	logger     ectologger.Logger
}

// NewReporter creates a new sync status reporter
func NewReporter(connectors ConnectorStore, emitter *events.Emitter, logger ectologger.Logger) *Reporter {
	return &Reporter{
		connectors: connectors,
		emitter:    emitter,
		logger:     logger,
	}
}

// Started marks the connector running and stamps the attempt time
func (r *Reporter) Started(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "Reporter.Started")
	defer span.End()

	if err := r.connectors.MarkSyncStarted(ctx, connector.ID); err != nil {
		return err
	}

	r.emitter.EmitSyncStarted(ctx, connector)
	return nil
}

// Succeeded marks a fully successful pass
func (r *Reporter) Succeeded(ctx context.Context, connector *models.Connector, startedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "Reporter.Succeeded")
	defer span.End()

	if err := r.connectors.MarkSyncSucceeded(ctx, connector.ID); err != nil {
		return err
	}

	metrics.RecordSyncPass(string(connector.Provider), "succeeded", time.Since(startedAt).Seconds())
	r.emitter.EmitSyncSucceeded(ctx, connector)
	return nil
}

// Failed marks the pass failed with a machine-readable reason
func (r *Reporter) Failed(ctx context.Context, connector *models.Connector, startedAt time.Time, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "Reporter.Failed")
	defer span.End()

	if err := r.connectors.MarkSyncFailed(ctx, connector.ID, reason); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
		"reason":       reason,
	}).Warn("Sync pass failed")

	metrics.RecordSyncPass(string(connector.Provider), "failed", time.Since(startedAt).Seconds())
	r.emitter.EmitSyncFailed(ctx, connector, reason)
	return nil
}
