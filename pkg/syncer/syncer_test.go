package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/permissions"
	"github.com/Ramsey-B/tendril/pkg/reconcile"
)

type fakeEngine struct {
	mu         sync.Mutex
	reconciles []reconcilePageCall
	gcSets     []map[string]bool
	gcAlls     int
}

type reconcilePageCall struct {
	folders []reconcile.FolderSpec
	objects []reconcile.RemoteObject
	opts    reconcile.Options
}

func (e *fakeEngine) ReconcilePage(_ context.Context, _ uuid.UUID, _ models.Provider,
	folders []reconcile.FolderSpec, objects []reconcile.RemoteObject,
	_ *permissions.GrantIndex, opts reconcile.Options) (*reconcile.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciles = append(e.reconciles, reconcilePageCall{folders: folders, objects: objects, opts: opts})
	return &reconcile.Result{}, nil
}

func (e *fakeEngine) GarbageCollect(_ context.Context, _ uuid.UUID, _ models.Provider,
	remoteSet map[string]bool, _ *permissions.GrantIndex) (*reconcile.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gcSets = append(e.gcSets, remoteSet)
	return &reconcile.Result{}, nil
}

func (e *fakeEngine) GarbageCollectAll(_ context.Context, _ uuid.UUID, _ models.Provider) (*reconcile.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gcAlls++
	return &reconcile.Result{}, nil
}

type fakeTree struct {
	granted []string
}

func (t *fakeTree) BuildIndex(_ context.Context, _ uuid.UUID) (*permissions.GrantIndex, error) {
	idx := permissions.NewGrantIndex()
	for _, internalID := range t.granted {
		idx.GrantRead(internalID)
	}
	return idx, nil
}

func (t *fakeTree) ReadGrantedSet(_ context.Context, _ uuid.UUID) ([]string, error) {
	return t.granted, nil
}

type fakeStatus struct {
	started   int
	succeeded int
	failures  []string
}

func (s *fakeStatus) Started(_ context.Context, _ *models.Connector) error {
	s.started++
	return nil
}

func (s *fakeStatus) Succeeded(_ context.Context, _ *models.Connector, _ time.Time) error {
	s.succeeded++
	return nil
}

func (s *fakeStatus) Failed(_ context.Context, _ *models.Connector, _ time.Time, reason string) error {
	s.failures = append(s.failures, reason)
	return nil
}

type fakeConnectorStore struct {
	paused map[uuid.UUID]bool
}

func (s *fakeConnectorStore) SetPaused(_ context.Context, id uuid.UUID, paused bool) error {
	if s.paused == nil {
		s.paused = map[uuid.UUID]bool{}
	}
	s.paused[id] = paused
	return nil
}

type fakeCursorStore struct {
	cursors map[uuid.UUID]time.Time
}

func (s *fakeCursorStore) Get(_ context.Context, connectorID uuid.UUID) (*models.TimestampCursor, error) {
	ts, ok := s.cursors[connectorID]
	if !ok {
		return nil, nil
	}
	return &models.TimestampCursor{ConnectorID: connectorID, CursorTs: ts}, nil
}

func (s *fakeCursorStore) Upsert(_ context.Context, connectorID uuid.UUID, cursorTs time.Time) error {
	if s.cursors == nil {
		s.cursors = map[uuid.UUID]time.Time{}
	}
	s.cursors[connectorID] = cursorTs
	return nil
}

func (s *fakeCursorStore) Delete(_ context.Context, connectorID uuid.UUID) error {
	delete(s.cursors, connectorID)
	return nil
}

type fakeItemLister struct {
	items []models.ContentItem
}

func (s *fakeItemLister) ListByConnector(_ context.Context, _ uuid.UUID) ([]models.ContentItem, error) {
	return s.items, nil
}

type fakeZendeskClient struct {
	brands        map[int64]*catalog.ZendeskBrand
	categoryPages []catalog.Page[catalog.ZendeskCategory]
	articlePages  []catalog.Page[catalog.ZendeskArticle]
	ticketPages   []catalog.Page[catalog.ZendeskTicket]
	comments      map[int64][]catalog.ZendeskComment
	users         []catalog.ZendeskUser

	mu            sync.Mutex
	categoryCalls int
	articleCalls  int
	ticketCalls   int
	commentCalls  int
}

func (c *fakeZendeskClient) CurrentUserIsAdmin(_ context.Context) (bool, error) { return true, nil }

func (c *fakeZendeskClient) ShowBrand(_ context.Context, brandID int64) (*catalog.ZendeskBrand, error) {
	brand, ok := c.brands[brandID]
	if !ok {
		return nil, fmt.Errorf("brand %d does not exist", brandID)
	}
	return brand, nil
}

func (c *fakeZendeskClient) ListBrands(_ context.Context) ([]catalog.ZendeskBrand, error) {
	out := []catalog.ZendeskBrand{}
	for _, brand := range c.brands {
		out = append(out, *brand)
	}
	return out, nil
}

func (c *fakeZendeskClient) ListCategories(_ context.Context, _, _ string) (catalog.Page[catalog.ZendeskCategory], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.categoryCalls >= len(c.categoryPages) {
		return catalog.Page[catalog.ZendeskCategory]{}, nil
	}
	page := c.categoryPages[c.categoryCalls]
	c.categoryCalls++
	return page, nil
}

func (c *fakeZendeskClient) ListArticles(_ context.Context, _ string, _ int64, _ string) (catalog.Page[catalog.ZendeskArticle], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.articleCalls >= len(c.articlePages) {
		return catalog.Page[catalog.ZendeskArticle]{}, nil
	}
	page := c.articlePages[c.articleCalls]
	c.articleCalls++
	return page, nil
}

func (c *fakeZendeskClient) IncrementalTickets(_ context.Context, _ time.Time, _ string) (catalog.Page[catalog.ZendeskTicket], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticketCalls >= len(c.ticketPages) {
		return catalog.Page[catalog.ZendeskTicket]{}, nil
	}
	page := c.ticketPages[c.ticketCalls]
	c.ticketCalls++
	return page, nil
}

func (c *fakeZendeskClient) ListTicketComments(_ context.Context, ticketID int64) ([]catalog.ZendeskComment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentCalls++
	return c.comments[ticketID], nil
}

func (c *fakeZendeskClient) ShowUsers(_ context.Context, userIDs []int64) ([]catalog.ZendeskUser, error) {
	return c.users, nil
}

type fakeSnowflakeClient struct {
	readonlyErr error
	tables      []catalog.WarehouseTable
	closed      bool
}

func (c *fakeSnowflakeClient) CheckReadonly(_ context.Context) error { return c.readonlyErr }

func (c *fakeSnowflakeClient) FetchTables(_ context.Context) ([]catalog.WarehouseTable, error) {
	return c.tables, nil
}

func (c *fakeSnowflakeClient) Close() error {
	c.closed = true
	return nil
}

type syncerFixture struct {
	syncer     *Syncer
	engine     *fakeEngine
	status     *fakeStatus
	connectors *fakeConnectorStore
	cursors    *fakeCursorStore
	zendesk    *fakeZendeskClient
	snowflake  *fakeSnowflakeClient
	connector  *models.Connector
}

func newSyncerFixture(t *testing.T, granted []string) *syncerFixture {
	t.Helper()

	f := &syncerFixture{
		engine:     &fakeEngine{},
		status:     &fakeStatus{},
		connectors: &fakeConnectorStore{},
		cursors:    &fakeCursorStore{},
		zendesk:    &fakeZendeskClient{brands: map[int64]*catalog.ZendeskBrand{}},
		snowflake:  &fakeSnowflakeClient{},
		connector: &models.Connector{
			ID:        uuid.New(),
			Provider:  models.ProviderZendesk,
			Subdomain: "acme",
		},
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f.syncer = New(Config{
		Connectors: f.connectors,
		Cursors:    f.cursors,
		Items:      &fakeItemLister{},
		Tree:       &fakeTree{granted: granted},
		Engine:     f.engine,
		Status:     f.status,
		Zendesk: func(_ context.Context, _ *models.Connector) (catalog.ZendeskClient, error) {
			return f.zendesk, nil
		},
		Snowflake: func(_ context.Context, _ *models.Connector) (catalog.SnowflakeClient, error) {
			return f.snowflake, nil
		},
	}, logger)
	return f
}

func TestStartSync(t *testing.T) {
	t.Run("no cursor means full pass", func(t *testing.T) {
		f := newSyncerFixture(t, nil)

		cursor, err := f.syncer.StartSync(context.Background(), f.connector)
		require.NoError(t, err)
		assert.Nil(t, cursor)
		assert.Equal(t, 1, f.status.started)
	})

	t.Run("existing cursor is returned", func(t *testing.T) {
		f := newSyncerFixture(t, nil)
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, f.cursors.Upsert(context.Background(), f.connector.ID, ts))

		cursor, err := f.syncer.StartSync(context.Background(), f.connector)
		require.NoError(t, err)
		require.NotNil(t, cursor)
		assert.Equal(t, ts, *cursor)
	})
}

func TestSaveSuccessSync(t *testing.T) {
	f := newSyncerFixture(t, nil)
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.syncer.SaveSuccessSync(context.Background(), f.connector, startedAt))

	assert.Equal(t, 1, f.status.succeeded)
	assert.Equal(t, startedAt, f.cursors.cursors[f.connector.ID])
}

func TestFailSync(t *testing.T) {
	t.Run("token revocation pauses the connector", func(t *testing.T) {
		f := newSyncerFixture(t, nil)

		err := f.syncer.FailSync(context.Background(), f.connector, time.Now(), catalog.ErrTokenRevoked)
		assert.ErrorIs(t, err, catalog.ErrTokenRevoked)
		assert.True(t, f.connectors.paused[f.connector.ID])
		assert.Equal(t, []string{models.ErrorReasonOAuthTokenRevoked}, f.status.failures)
	})

	t.Run("writable warehouse maps to its reason", func(t *testing.T) {
		f := newSyncerFixture(t, nil)

		err := f.syncer.FailSync(context.Background(), f.connector, time.Now(), catalog.ErrNotReadonly)
		assert.ErrorIs(t, err, catalog.ErrNotReadonly)
		assert.Empty(t, f.connectors.paused)
		assert.Equal(t, []string{models.ErrorReasonConnectionNotReadonly}, f.status.failures)
	})

	t.Run("other errors keep their message", func(t *testing.T) {
		f := newSyncerFixture(t, nil)

		err := f.syncer.FailSync(context.Background(), f.connector, time.Now(), fmt.Errorf("upstream exploded"))
		assert.Error(t, err)
		assert.Equal(t, []string{"upstream exploded"}, f.status.failures)
	})
}

func TestAllowedBrandIDs(t *testing.T) {
	f := newSyncerFixture(t, []string{
		"zendesk-brand-1",
		"zendesk-help-center-2",
		"zendesk-tickets-3",
		"zendesk-category-1-9",
	})

	helpCenter, err := f.syncer.GetHelpCenterReadAllowedBrandIDs(context.Background(), f.connector.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, helpCenter)

	tickets, err := f.syncer.GetTicketsAllowedBrandIDs(context.Background(), f.connector.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, tickets)
}

func TestSyncBrand(t *testing.T) {
	f := newSyncerFixture(t, []string{"zendesk-brand-1"})
	f.zendesk.brands[1] = &catalog.ZendeskBrand{
		ID: 1, Name: "Acme", Subdomain: "acme", BrandURL: "https://acme.zendesk.com", HasHelpCenter: true, Active: true,
	}

	require.NoError(t, f.syncer.SyncBrand(context.Background(), f.connector, 1, false))

	require.Len(t, f.engine.reconciles, 1)
	folders := f.engine.reconciles[0].folders
	require.Len(t, folders, 3)
	assert.Equal(t, "zendesk-brand-1", folders[0].InternalID)
	assert.Equal(t, "zendesk-help-center-1", folders[1].InternalID)
	assert.Equal(t, "zendesk-tickets-1", folders[2].InternalID)
	assert.Equal(t, []string{"zendesk-brand-1"}, folders[1].Parents)
}

func TestSyncCategoryBatch(t *testing.T) {
	brand := &catalog.ZendeskBrand{ID: 1, Name: "Acme", Subdomain: "acme", HasHelpCenter: true}

	t.Run("pages through and reconciles", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"zendesk-brand-1"})
		f.zendesk.brands[1] = brand
		f.zendesk.categoryPages = []catalog.Page[catalog.ZendeskCategory]{{
			Items:    []catalog.ZendeskCategory{{ID: 9, Name: "FAQ", HTMLURL: "https://acme.zendesk.com/categories/9"}},
			HasMore:  true,
			NextLink: "next-page",
		}}

		result, err := f.syncer.SyncCategoryBatch(context.Background(), f.connector, 1, "", false)
		require.NoError(t, err)
		assert.True(t, result.HasMore)
		assert.Equal(t, "next-page", result.NextLink)

		require.Len(t, f.engine.reconciles, 1)
		folders := f.engine.reconciles[0].folders
		require.Len(t, folders, 1)
		assert.Equal(t, "zendesk-category-1-9", folders[0].InternalID)
		assert.Equal(t, []string{"zendesk-help-center-1", "zendesk-brand-1"}, folders[0].Parents)
	})

	t.Run("empty page terminates even when pagination claims more", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"zendesk-brand-1"})
		f.zendesk.brands[1] = brand
		f.zendesk.categoryPages = []catalog.Page[catalog.ZendeskCategory]{{
			Items:    []catalog.ZendeskCategory{},
			HasMore:  true,
			NextLink: "phantom",
		}}

		result, err := f.syncer.SyncCategoryBatch(context.Background(), f.connector, 1, "", false)
		require.NoError(t, err)
		assert.False(t, result.HasMore)
		assert.Empty(t, f.engine.reconciles)
	})
}

func TestSyncArticleBatch(t *testing.T) {
	f := newSyncerFixture(t, []string{"zendesk-brand-1"})
	f.zendesk.brands[1] = &catalog.ZendeskBrand{ID: 1, Subdomain: "acme", HasHelpCenter: true}
	f.zendesk.articlePages = []catalog.Page[catalog.ZendeskArticle]{{
		Items: []catalog.ZendeskArticle{
			{ID: 7, CategoryID: 9, Title: "Getting started", Body: "Welcome"},
			{ID: 8, CategoryID: 9, Title: "WIP", Body: "Unfinished", Draft: true},
		},
	}}

	result, err := f.syncer.SyncArticleBatch(context.Background(), f.connector, 1, 9, "", false)
	require.NoError(t, err)
	assert.False(t, result.HasMore)

	require.Len(t, f.engine.reconciles, 1)
	objects := f.engine.reconciles[0].objects
	require.Len(t, objects, 1, "drafts are never synced")
	assert.Equal(t, "zendesk-article-1-7", objects[0].InternalID)
	assert.Equal(t, []string{"zendesk-category-1-9", "zendesk-help-center-1", "zendesk-brand-1"}, objects[0].Parents)
	assert.Contains(t, objects[0].Body, "Getting started")
}

func TestSyncTicketBatch(t *testing.T) {
	startTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty page terminates", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"zendesk-brand-1"})
		f.zendesk.ticketPages = []catalog.Page[catalog.ZendeskTicket]{{
			Items:    []catalog.ZendeskTicket{},
			HasMore:  true,
			NextLink: "phantom",
		}}

		result, err := f.syncer.SyncTicketBatch(context.Background(), f.connector, startTime, "", false)
		require.NoError(t, err)
		assert.False(t, result.HasMore)
		assert.Empty(t, f.engine.reconciles)
		assert.Equal(t, 0, f.zendesk.commentCalls)
	})

	t.Run("syncs resolved tickets in allowed brands", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"zendesk-tickets-1"})
		f.zendesk.ticketPages = []catalog.Page[catalog.ZendeskTicket]{{
			Items: []catalog.ZendeskTicket{
				{ID: 100, BrandID: 1, Subject: "Broken widget", Status: "solved", RequesterID: 55, AssigneeID: 56},
				{ID: 101, BrandID: 1, Subject: "Still open", Status: "open"},
				{ID: 102, BrandID: 2, Subject: "Other brand", Status: "closed"},
			},
			HasMore:  true,
			NextLink: "after-cursor",
		}}
		f.zendesk.comments = map[int64][]catalog.ZendeskComment{
			100: {
				{ID: 1, AuthorID: 55, Body: "It broke", Public: true, CreatedAt: startTime},
				{ID: 2, AuthorID: 56, Body: "internal note", Public: false, CreatedAt: startTime},
			},
		}
		f.zendesk.users = []catalog.ZendeskUser{
			{ID: 55, Name: "Dana"},
			{ID: 56, Name: "Sam"},
		}

		result, err := f.syncer.SyncTicketBatch(context.Background(), f.connector, startTime, "", false)
		require.NoError(t, err)
		assert.True(t, result.HasMore)
		assert.Equal(t, "after-cursor", result.NextLink)

		require.Len(t, f.engine.reconciles, 1)
		objects := f.engine.reconciles[0].objects
		require.Len(t, objects, 1)
		assert.Equal(t, "zendesk-ticket-1-100", objects[0].InternalID)
		assert.Equal(t, []string{"zendesk-tickets-1", "zendesk-brand-1"}, objects[0].Parents)
		assert.Contains(t, objects[0].Body, "Dana")
		assert.Contains(t, objects[0].Body, "It broke")
		assert.NotContains(t, objects[0].Body, "internal note")
		assert.Equal(t, 1, f.zendesk.commentCalls, "comments fetched only for synced tickets")
	})

	t.Run("nothing allowed skips reconcile but keeps paging", func(t *testing.T) {
		f := newSyncerFixture(t, nil)
		f.zendesk.ticketPages = []catalog.Page[catalog.ZendeskTicket]{{
			Items:    []catalog.ZendeskTicket{{ID: 100, BrandID: 1, Status: "solved"}},
			HasMore:  true,
			NextLink: "after-cursor",
		}}

		result, err := f.syncer.SyncTicketBatch(context.Background(), f.connector, startTime, "", false)
		require.NoError(t, err)
		assert.True(t, result.HasMore)
		assert.Empty(t, f.engine.reconciles)
	})
}

func TestSyncWarehouse(t *testing.T) {
	t.Run("reconciles and garbage collects the catalog", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"ANALYTICS"})
		f.snowflake.tables = []catalog.WarehouseTable{
			{Database: "ANALYTICS", Schema: "PUBLIC", Name: "EVENTS"},
			{Database: "ANALYTICS", Schema: "PUBLIC", Name: "USERS"},
		}

		require.NoError(t, f.syncer.SyncWarehouse(context.Background(), f.connector, false))

		require.Len(t, f.engine.reconciles, 1)
		call := f.engine.reconciles[0]
		require.Len(t, call.folders, 2)
		assert.Equal(t, "ANALYTICS", call.folders[0].InternalID)
		assert.Equal(t, "ANALYTICS.PUBLIC", call.folders[1].InternalID)
		require.Len(t, call.objects, 2)
		assert.Equal(t, "ANALYTICS.PUBLIC.EVENTS", call.objects[0].InternalID)

		require.Len(t, f.engine.gcSets, 1)
		assert.True(t, f.engine.gcSets[0]["ANALYTICS.PUBLIC.USERS"])
		assert.True(t, f.snowflake.closed)
	})

	t.Run("writable connection tears everything down", func(t *testing.T) {
		f := newSyncerFixture(t, []string{"ANALYTICS"})
		f.snowflake.readonlyErr = catalog.ErrNotReadonly
		f.snowflake.tables = []catalog.WarehouseTable{{Database: "ANALYTICS", Schema: "PUBLIC", Name: "EVENTS"}}

		err := f.syncer.SyncWarehouse(context.Background(), f.connector, false)
		assert.ErrorIs(t, err, catalog.ErrNotReadonly)
		assert.Empty(t, f.engine.reconciles, "a writable connection never upserts")
		assert.Equal(t, 1, f.engine.gcAlls)
		assert.True(t, f.snowflake.closed)
	})
}
