package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/redis"
	"github.com/Ramsey-B/tendril/pkg/syncer"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

type fakeStreams struct {
	mu    sync.Mutex
	acked []string
}

func (s *fakeStreams) CreateConsumerGroup(_ context.Context, _, _ string) error {
	return nil
}

func (s *fakeStreams) Consume(_ context.Context, _, _, _ string, _ int64, _ time.Duration) ([]redis.StreamMessage, error) {
	return nil, nil
}

func (s *fakeStreams) ClaimPending(_ context.Context, _, _, _ string, _ time.Duration, _ int64) ([]redis.StreamMessage, error) {
	return nil, nil
}

func (s *fakeStreams) Ack(_ context.Context, _, _ string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ids...)
	return nil
}

func (s *fakeStreams) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.acked...)
}

type fakeConnectors struct {
	connectors map[uuid.UUID]*models.Connector
}

func (f *fakeConnectors) GetByID(_ context.Context, id uuid.UUID) (*models.Connector, error) {
	connector, ok := f.connectors[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "connector not found")
	}
	copied := *connector
	return &copied, nil
}

type fakeActivities struct {
	mu    sync.Mutex
	calls []string

	cursor        *time.Time
	helpBrandIDs  []int64
	ticketBrands  []int64
	categoryIDs   map[int64][]int64
	categoryPages map[int64]int
	articlePages  int
	ticketPages   int

	lockErr      error
	warehouseErr error
	failSyncErrs []error
	successCount int
}

func (f *fakeActivities) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeActivities) WithConnectorLock(_ context.Context, _ *models.Connector, fn func() error) error {
	f.record("lock")
	if f.lockErr != nil {
		return f.lockErr
	}
	return fn()
}

func (f *fakeActivities) StartSync(_ context.Context, _ *models.Connector) (*time.Time, error) {
	f.record("start")
	return f.cursor, nil
}

func (f *fakeActivities) SaveSuccessSync(_ context.Context, _ *models.Connector, _ time.Time) error {
	f.record("success")
	f.successCount++
	return nil
}

func (f *fakeActivities) FailSync(_ context.Context, _ *models.Connector, _ time.Time, err error) error {
	f.record("fail")
	f.failSyncErrs = append(f.failSyncErrs, err)
	return err
}

func (f *fakeActivities) GetHelpCenterReadAllowedBrandIDs(_ context.Context, _ uuid.UUID) ([]int64, error) {
	f.record("help-brands")
	return f.helpBrandIDs, nil
}

func (f *fakeActivities) GetTicketsAllowedBrandIDs(_ context.Context, _ uuid.UUID) ([]int64, error) {
	f.record("ticket-brands")
	return f.ticketBrands, nil
}

func (f *fakeActivities) SyncBrand(_ context.Context, _ *models.Connector, _ int64, _ bool) error {
	f.record("brand")
	return nil
}

func (f *fakeActivities) SyncCategoryBatch(_ context.Context, _ *models.Connector, brandID int64, nextLink string, _ bool) (*syncer.BatchResult, error) {
	f.record("category-batch")
	remaining := f.categoryPages[brandID]
	if remaining > 1 {
		f.categoryPages[brandID] = remaining - 1
		return &syncer.BatchResult{HasMore: true, NextLink: "next"}, nil
	}
	return &syncer.BatchResult{HasMore: false}, nil
}

func (f *fakeActivities) ListCategoryIDs(_ context.Context, _ *models.Connector, brandID int64) ([]int64, error) {
	f.record("list-categories")
	return f.categoryIDs[brandID], nil
}

func (f *fakeActivities) SyncArticleBatch(_ context.Context, _ *models.Connector, _, _ int64, nextLink string, _ bool) (*syncer.BatchResult, error) {
	f.record("article-batch")
	f.articlePages++
	return &syncer.BatchResult{HasMore: false}, nil
}

func (f *fakeActivities) SyncTicketBatch(_ context.Context, _ *models.Connector, startTime time.Time, _ string, _ bool) (*syncer.BatchResult, error) {
	f.record("ticket-batch")
	f.ticketPages++
	return &syncer.BatchResult{HasMore: false}, nil
}

func (f *fakeActivities) GarbageCollectZendesk(_ context.Context, _ *models.Connector) error {
	f.record("gc")
	return nil
}

func (f *fakeActivities) SyncWarehouse(_ context.Context, _ *models.Connector, _ bool) error {
	f.record("warehouse")
	return f.warehouseErr
}

type workerFixture struct {
	worker     *Worker
	streams    *fakeStreams
	connectors *fakeConnectors
	activities *fakeActivities
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	streams := &fakeStreams{}
	connectors := &fakeConnectors{connectors: map[uuid.UUID]*models.Connector{}}
	activities := &fakeActivities{
		categoryIDs:   map[int64][]int64{},
		categoryPages: map[int64]int{},
	}

	return &workerFixture{
		worker: New(Config{
			Streams:    streams,
			Connectors: connectors,
			Activities: activities,
			Group:      "test-workers",
			Consumer:   "worker-1",
		}, logger),
		streams:    streams,
		connectors: connectors,
		activities: activities,
	}
}

func (f *workerFixture) seedConnector(provider models.Provider, paused bool) *models.Connector {
	connector := &models.Connector{
		ID:       uuid.New(),
		Provider: provider,
		Paused:   paused,
	}
	f.connectors.connectors[connector.ID] = connector
	return connector
}

func TestExecuteFullZendeskSync(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, false)

	f.activities.helpBrandIDs = []int64{1, 2}
	f.activities.ticketBrands = []int64{2, 3}
	f.activities.categoryIDs[1] = []int64{10, 11}
	f.activities.categoryIDs[2] = []int64{20}
	f.activities.categoryPages[1] = 2

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandFullSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderZendesk,
	})
	require.NoError(t, err)

	brandSyncs := 0
	for _, call := range f.activities.calls {
		if call == "brand" {
			brandSyncs++
		}
	}
	// Union of help-center brands {1,2} and ticket brands {2,3}.
	assert.Equal(t, 3, brandSyncs)
	// One article pass per category across both help-center brands.
	assert.Equal(t, 3, f.activities.articlePages)
	assert.Equal(t, 1, f.activities.ticketPages)
	assert.Equal(t, 1, f.activities.successCount)
	assert.Contains(t, f.activities.calls, "gc")
	assert.Equal(t, "success", f.activities.calls[len(f.activities.calls)-1])
}

func TestExecuteSignalledSyncVisitsOnlySignalledSubtrees(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, false)

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderZendesk,
		Signal: &workflow.SyncSignal{
			Categories: []workflow.CategorySignal{{BrandID: 7, CategoryID: 70}},
		},
	})
	require.NoError(t, err)

	assert.NotContains(t, f.activities.calls, "help-brands")
	assert.NotContains(t, f.activities.calls, "ticket-brands")
	assert.NotContains(t, f.activities.calls, "category-batch")
	assert.NotContains(t, f.activities.calls, "ticket-batch")
	assert.Contains(t, f.activities.calls, "brand")
	assert.Equal(t, 1, f.activities.articlePages)
	assert.Equal(t, 1, f.activities.successCount)
}

func TestExecuteEmptySignalFallsBackToFullSync(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, false)
	f.activities.helpBrandIDs = []int64{5}
	f.activities.categoryIDs[5] = []int64{50}

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderZendesk,
	})
	require.NoError(t, err)

	assert.Contains(t, f.activities.calls, "help-brands")
	assert.Equal(t, 1, f.activities.articlePages)
}

func TestExecuteWarehouseFailureRecordsFailSync(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderSnowflake, false)

	wantErr := errors.New("warehouse unreachable")
	f.activities.warehouseErr = wantErr

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandFullSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderSnowflake,
	})
	require.ErrorIs(t, err, wantErr)

	require.Len(t, f.activities.failSyncErrs, 1)
	assert.ErrorIs(t, f.activities.failSyncErrs[0], wantErr)
	assert.Equal(t, 0, f.activities.successCount)
}

func TestExecuteSkipsPausedConnector(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, true)

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandFullSync,
		ConnectorID: connector.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, f.activities.calls)
}

func TestExecuteSkipsDeletedConnector(t *testing.T) {
	f := newWorkerFixture(t)

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandFullSync,
		ConnectorID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Empty(t, f.activities.calls)
}

func TestExecuteGarbageCollectionCommand(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, false)

	err := f.worker.execute(context.Background(), workflow.Command{
		Type:        workflow.CommandGarbageCollection,
		ConnectorID: connector.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"lock", "gc"}, f.activities.calls)
}

func (f *workerFixture) dispatchCommand(t *testing.T, messageID string, cmd workflow.Command) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	f.worker.dispatch(context.Background(), redis.StreamMessage{ID: messageID, Payload: payload})
	f.worker.wg.Wait()
}

func TestDispatchAcksCompletedCommand(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderSnowflake, false)

	f.dispatchCommand(t, "1-1", workflow.Command{
		Type:        workflow.CommandFullSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderSnowflake,
	})

	assert.Equal(t, []string{"1-1"}, f.streams.ackedIDs())
	assert.Equal(t, 1, f.activities.successCount)
}

func TestDispatchLeavesFailedCommandPending(t *testing.T) {
	f := newWorkerFixture(t)
	connector := f.seedConnector(models.ProviderZendesk, false)

	// Another pass holds the connector lock, the way a scheduled sync does
	// when a permission signal lands mid-pass.
	f.activities.lockErr = redis.ErrLockNotAcquired

	f.dispatchCommand(t, "2-1", workflow.Command{
		Type:        workflow.CommandSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderZendesk,
		Signal: &workflow.SyncSignal{
			Categories: []workflow.CategorySignal{{BrandID: 7, CategoryID: 70}},
		},
	})

	assert.Empty(t, f.streams.ackedIDs(), "unacked commands stay pending for redelivery")

	// Once the lock frees up, the redelivered command completes and acks.
	f.activities.lockErr = nil
	f.dispatchCommand(t, "2-1", workflow.Command{
		Type:        workflow.CommandSync,
		ConnectorID: connector.ID,
		Provider:    models.ProviderZendesk,
		Signal: &workflow.SyncSignal{
			Categories: []workflow.CategorySignal{{BrandID: 7, CategoryID: 70}},
		},
	})
	assert.Equal(t, []string{"2-1"}, f.streams.ackedIDs())
	assert.Equal(t, 1, f.activities.successCount)
}

func TestDispatchDropsUndecodableCommand(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.dispatch(context.Background(), redis.StreamMessage{ID: "3-1", Payload: []byte("not json")})
	f.worker.wg.Wait()

	assert.Equal(t, []string{"3-1"}, f.streams.ackedIDs())
	assert.Empty(t, f.activities.calls)
}

func TestUnregisterKeepsOverlappingPass(t *testing.T) {
	f := newWorkerFixture(t)
	connectorID := uuid.New()

	firstCtx, firstCancel := context.WithCancel(context.Background())
	first := f.worker.register(connectorID, firstCancel)

	secondCtx, secondCancel := context.WithCancel(context.Background())
	second := f.worker.register(connectorID, secondCancel)

	f.worker.unregister(connectorID, first)
	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)
	require.NoError(t, secondCtx.Err(), "finishing the first pass must not touch the second")

	// A stop command still reaches the pass that owns the slot.
	f.worker.cancelInflight(connectorID)
	assert.ErrorIs(t, secondCtx.Err(), context.Canceled)

	f.worker.unregister(connectorID, second)
}
