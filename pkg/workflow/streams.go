package workflow

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/tendril/pkg/context"
	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/redis"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// CommandStream is the Redis Stream the scheduler consumes
const CommandStream = "tendril:workflow:commands"

// StreamsRuntime publishes workflow commands to a Redis Stream
type StreamsRuntime struct {
	streams *redis.Streams
	logger  ectologger.Logger
}

// NewStreamsRuntime creates a Redis Streams backed runtime
func NewStreamsRuntime(streams *redis.Streams, logger ectologger.Logger) *StreamsRuntime {
	return &StreamsRuntime{streams: streams, logger: logger}
}

// LaunchSync publishes an incremental sync command
func (r *StreamsRuntime) LaunchSync(ctx context.Context, connector *models.Connector, signal *SyncSignal) error {
	ctx, span := tracing.StartSpan(ctx, "StreamsRuntime.LaunchSync")
	defer span.End()

	return r.publish(ctx, Command{
		Type:        CommandSync,
		ConnectorID: connector.ID,
		Provider:    connector.Provider,
		Signal:      signal,
	})
}

// LaunchFullSync publishes a whole-catalog sync command
func (r *StreamsRuntime) LaunchFullSync(ctx context.Context, connector *models.Connector, forceResync bool) error {
	ctx, span := tracing.StartSpan(ctx, "StreamsRuntime.LaunchFullSync")
	defer span.End()

	return r.publish(ctx, Command{
		Type:        CommandFullSync,
		ConnectorID: connector.ID,
		Provider:    connector.Provider,
		ForceResync: forceResync,
	})
}

// LaunchGarbageCollection publishes a garbage collection command
func (r *StreamsRuntime) LaunchGarbageCollection(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "StreamsRuntime.LaunchGarbageCollection")
	defer span.End()

	return r.publish(ctx, Command{
		Type:        CommandGarbageCollection,
		ConnectorID: connector.ID,
		Provider:    connector.Provider,
	})
}

// Stop publishes a stop command for every workflow of the connector
func (r *StreamsRuntime) Stop(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "StreamsRuntime.Stop")
	defer span.End()

	return r.publish(ctx, Command{
		Type:        CommandStop,
		ConnectorID: connector.ID,
		Provider:    connector.Provider,
	})
}

func (r *StreamsRuntime) publish(ctx context.Context, cmd Command) error {
	cmd.TenantID = appctx.GetTenantID(ctx)
	cmd.IssuedAt = time.Now().UTC()

	_, err := r.streams.Publish(ctx, CommandStream, cmd)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": cmd.ConnectorID,
			"command_type": cmd.Type,
		}).Error("failed to publish workflow command")
		return err
	}

	metrics.WorkflowCommandsTotal.WithLabelValues(string(cmd.Type)).Inc()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": cmd.ConnectorID,
		"command_type": cmd.Type,
	}).Debugf("Published workflow command")
	return nil
}
