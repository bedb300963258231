// Package worker consumes workflow commands from the Redis Stream and drives
// the sync activities for each one. It is the in-process stand-in for an
// external scheduler: commands are processed at-least-once, so every activity
// it calls must be idempotent.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/tendril/pkg/context"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/redis"
	"github.com/Ramsey-B/tendril/pkg/syncer"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

const (
	consumeBatchSize = 10
	consumeBlock     = 5 * time.Second
	claimMinIdle     = time.Minute
)

// ConnectorStore loads connectors referenced by commands
type ConnectorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error)
}

// CommandStreams is the stream surface the worker consumes commands from
type CommandStreams interface {
	CreateConsumerGroup(ctx context.Context, stream, group string) error
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.StreamMessage, error)
	ClaimPending(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// Activities is the sync surface the worker drives
type Activities interface {
	WithConnectorLock(ctx context.Context, connector *models.Connector, fn func() error) error
	StartSync(ctx context.Context, connector *models.Connector) (*time.Time, error)
	SaveSuccessSync(ctx context.Context, connector *models.Connector, startedAt time.Time) error
	FailSync(ctx context.Context, connector *models.Connector, startedAt time.Time, err error) error

	GetHelpCenterReadAllowedBrandIDs(ctx context.Context, connectorID uuid.UUID) ([]int64, error)
	GetTicketsAllowedBrandIDs(ctx context.Context, connectorID uuid.UUID) ([]int64, error)
	SyncBrand(ctx context.Context, connector *models.Connector, brandID int64, forceResync bool) error
	SyncCategoryBatch(ctx context.Context, connector *models.Connector, brandID int64, nextLink string, forceResync bool) (*syncer.BatchResult, error)
	ListCategoryIDs(ctx context.Context, connector *models.Connector, brandID int64) ([]int64, error)
	SyncArticleBatch(ctx context.Context, connector *models.Connector, brandID, categoryID int64, nextLink string, forceResync bool) (*syncer.BatchResult, error)
	SyncTicketBatch(ctx context.Context, connector *models.Connector, startTime time.Time, nextLink string, forceResync bool) (*syncer.BatchResult, error)
	GarbageCollectZendesk(ctx context.Context, connector *models.Connector) error
	SyncWarehouse(ctx context.Context, connector *models.Connector, forceResync bool) error
}

// Worker consumes and executes workflow commands
type Worker struct {
	streams    CommandStreams
	connectors ConnectorStore
	activities Activities
	stream     string
	group      string
	consumer   string
	logger     ectologger.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]*inflightPass
	wg       sync.WaitGroup
}

type inflightPass struct {
	cancel context.CancelFunc
}

// Config wires a Worker
type Config struct {
	Streams    CommandStreams
	Connectors ConnectorStore
	Activities Activities
	Stream     string
	Group      string
	Consumer   string
}

// New creates a Worker
func New(cfg Config, logger ectologger.Logger) *Worker {
	stream := cfg.Stream
	if stream == "" {
		stream = workflow.CommandStream
	}
	return &Worker{
		streams:    cfg.Streams,
		connectors: cfg.Connectors,
		activities: cfg.Activities,
		stream:     stream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		logger:     logger,
		inflight:   map[uuid.UUID]*inflightPass{},
	}
}

// Run consumes commands until the context is cancelled, then waits for
// in-flight passes to drain.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.streams.CreateConsumerGroup(ctx, w.stream, w.group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		default:
		}

		// Failed commands stay pending; reclaim them once they've idled long
		// enough for the failing pass to have finished.
		pending, err := w.streams.ClaimPending(ctx, w.stream, w.group, w.consumer, claimMinIdle, consumeBatchSize)
		if err != nil && ctx.Err() == nil {
			w.logger.WithContext(ctx).WithError(err).Error("failed to claim pending workflow commands")
		}
		for _, message := range pending {
			w.dispatch(ctx, message)
		}

		messages, err := w.streams.Consume(ctx, w.stream, w.group, w.consumer, consumeBatchSize, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				w.wg.Wait()
				return ctx.Err()
			}
			w.logger.WithContext(ctx).WithError(err).Error("failed to consume workflow commands")
			time.Sleep(time.Second)
			continue
		}

		for _, message := range messages {
			w.dispatch(ctx, message)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, message redis.StreamMessage) {
	var cmd workflow.Command
	if err := json.Unmarshal(message.Payload, &cmd); err != nil {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": message.ID,
		}).Error("dropping undecodable workflow command")
		w.ack(ctx, message)
		return
	}

	if cmd.Type == workflow.CommandStop {
		w.cancelInflight(cmd.ConnectorID)
		w.ack(ctx, message)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		passCtx, cancel := context.WithCancel(appctx.SetTenantID(ctx, cmd.TenantID))
		pass := w.register(cmd.ConnectorID, cancel)
		defer w.unregister(cmd.ConnectorID, pass)

		if err := w.execute(passCtx, cmd); err != nil {
			// Leave the entry pending so it is reclaimed and retried. The
			// activities are idempotent, so redelivery is safe.
			w.logger.WithContext(passCtx).WithError(err).WithFields(map[string]any{
				"connector_id": cmd.ConnectorID,
				"command_type": cmd.Type,
			}).Error("workflow command failed, leaving it pending for retry")
			return
		}
		w.ack(ctx, message)
	}()
}

func (w *Worker) execute(ctx context.Context, cmd workflow.Command) error {
	connector, err := w.connectors.GetByID(ctx, cmd.ConnectorID)
	if err != nil {
		// The connector can be cleaned between publish and consume; its
		// commands are then moot.
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			w.logger.WithContext(ctx).WithFields(map[string]any{
				"connector_id": cmd.ConnectorID,
			}).Warn("skipping command for deleted connector")
			return nil
		}
		return err
	}
	if connector.IsPaused() {
		w.logger.WithContext(ctx).WithFields(map[string]any{
			"connector_id": connector.ID,
			"command_type": cmd.Type,
		}).Debug("skipping command for paused connector")
		return nil
	}

	return w.activities.WithConnectorLock(ctx, connector, func() error {
		if cmd.Type == workflow.CommandGarbageCollection {
			return w.garbageCollect(ctx, connector)
		}
		return w.syncPass(ctx, connector, cmd)
	})
}

func (w *Worker) syncPass(ctx context.Context, connector *models.Connector, cmd workflow.Command) error {
	startedAt := time.Now().UTC()

	cursor, err := w.activities.StartSync(ctx, connector)
	if err != nil {
		return err
	}

	switch connector.Provider {
	case models.ProviderSnowflake:
		err = w.activities.SyncWarehouse(ctx, connector, cmd.ForceResync)
	case models.ProviderZendesk:
		err = w.syncZendesk(ctx, connector, cmd, cursor)
	default:
		err = fmt.Errorf("unsupported provider %q", connector.Provider)
	}
	if err != nil {
		return w.activities.FailSync(ctx, connector, startedAt, err)
	}

	return w.activities.SaveSuccessSync(ctx, connector, startedAt)
}

// syncZendesk runs one Zendesk pass. A full sync derives the brand fan-out
// from the permission tree; a signalled sync visits only the subtrees the
// signal names. Both end with garbage collection so revoked content leaves
// the downstream store in the same pass that stopped refreshing it.
func (w *Worker) syncZendesk(ctx context.Context, connector *models.Connector, cmd workflow.Command, cursor *time.Time) error {
	full := cmd.Type == workflow.CommandFullSync || cmd.Signal.IsEmpty()

	var helpCenterBrandIDs, ticketsBrandIDs []int64
	var categories []workflow.CategorySignal
	var err error
	if full {
		helpCenterBrandIDs, err = w.activities.GetHelpCenterReadAllowedBrandIDs(ctx, connector.ID)
		if err != nil {
			return err
		}
		ticketsBrandIDs, err = w.activities.GetTicketsAllowedBrandIDs(ctx, connector.ID)
		if err != nil {
			return err
		}
	} else {
		helpCenterBrandIDs = cmd.Signal.HelpCenterBrandIDs
		ticketsBrandIDs = cmd.Signal.TicketsBrandIDs
		categories = cmd.Signal.Categories
	}

	for _, brandID := range unionBrandIDs(helpCenterBrandIDs, ticketsBrandIDs, categories) {
		if err := w.activities.SyncBrand(ctx, connector, brandID, cmd.ForceResync); err != nil {
			return err
		}
	}

	for _, brandID := range helpCenterBrandIDs {
		if err := w.drainPages(func(nextLink string) (*syncer.BatchResult, error) {
			return w.activities.SyncCategoryBatch(ctx, connector, brandID, nextLink, cmd.ForceResync)
		}); err != nil {
			return err
		}

		categoryIDs, err := w.activities.ListCategoryIDs(ctx, connector, brandID)
		if err != nil {
			return err
		}
		for _, categoryID := range categoryIDs {
			if err := w.syncArticles(ctx, connector, brandID, categoryID, cmd.ForceResync); err != nil {
				return err
			}
		}
	}

	for _, category := range categories {
		if err := w.syncArticles(ctx, connector, category.BrandID, category.CategoryID, cmd.ForceResync); err != nil {
			return err
		}
	}

	if len(ticketsBrandIDs) > 0 {
		startTime := time.Time{}
		if cursor != nil && !cmd.ForceResync {
			startTime = *cursor
		}
		if err := w.drainPages(func(nextLink string) (*syncer.BatchResult, error) {
			return w.activities.SyncTicketBatch(ctx, connector, startTime, nextLink, cmd.ForceResync)
		}); err != nil {
			return err
		}
	}

	return w.activities.GarbageCollectZendesk(ctx, connector)
}

func (w *Worker) syncArticles(ctx context.Context, connector *models.Connector, brandID, categoryID int64, forceResync bool) error {
	return w.drainPages(func(nextLink string) (*syncer.BatchResult, error) {
		return w.activities.SyncArticleBatch(ctx, connector, brandID, categoryID, nextLink, forceResync)
	})
}

func (w *Worker) garbageCollect(ctx context.Context, connector *models.Connector) error {
	switch connector.Provider {
	case models.ProviderZendesk:
		return w.activities.GarbageCollectZendesk(ctx, connector)
	case models.ProviderSnowflake:
		// Warehouse passes are whole-catalog; a plain pass collects as it goes.
		return w.activities.SyncWarehouse(ctx, connector, false)
	}
	return fmt.Errorf("unsupported provider %q", connector.Provider)
}

func (w *Worker) drainPages(fetch func(nextLink string) (*syncer.BatchResult, error)) error {
	nextLink := ""
	for {
		result, err := fetch(nextLink)
		if err != nil {
			return err
		}
		if !result.HasMore {
			return nil
		}
		nextLink = result.NextLink
	}
}

func unionBrandIDs(helpCenterBrandIDs, ticketsBrandIDs []int64, categories []workflow.CategorySignal) []int64 {
	seen := map[int64]bool{}
	union := []int64{}
	add := func(brandID int64) {
		if !seen[brandID] {
			seen[brandID] = true
			union = append(union, brandID)
		}
	}
	for _, brandID := range helpCenterBrandIDs {
		add(brandID)
	}
	for _, brandID := range ticketsBrandIDs {
		add(brandID)
	}
	for _, category := range categories {
		add(category.BrandID)
	}
	return union
}

func (w *Worker) register(connectorID uuid.UUID, cancel context.CancelFunc) *inflightPass {
	pass := &inflightPass{cancel: cancel}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[connectorID] = pass
	return pass
}

// unregister removes the pass only if it still owns the slot: an overlapping
// command for the same connector may have registered since.
func (w *Worker) unregister(connectorID uuid.UUID, pass *inflightPass) {
	pass.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[connectorID] == pass {
		delete(w.inflight, connectorID)
	}
}

func (w *Worker) cancelInflight(connectorID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pass, ok := w.inflight[connectorID]; ok {
		pass.cancel()
	}
}

func (w *Worker) ack(ctx context.Context, message redis.StreamMessage) {
	if err := w.streams.Ack(ctx, w.stream, w.group, message.ID); err != nil {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": message.ID,
		}).Error("failed to ack workflow command")
	}
}
