package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/executor"
	"github.com/Ramsey-B/tendril/pkg/internalid"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/reconcile"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// Ticket statuses considered resolved. Open conversations churn too much to
// be worth pushing downstream.
var resolvedTicketStatuses = []string{"closed", "solved"}

// GetHelpCenterReadAllowedBrandIDs returns the brand IDs whose help center
// subtree has at least one explicit read grant at the brand or help-center
// level.
func (s *Syncer) GetHelpCenterReadAllowedBrandIDs(ctx context.Context, connectorID uuid.UUID) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.GetHelpCenterReadAllowedBrandIDs")
	defer span.End()

	return s.allowedBrandIDs(ctx, connectorID, internalid.KindHelpCenter)
}

// GetTicketsAllowedBrandIDs returns the brand IDs whose tickets subtree has
// at least one explicit read grant at the brand or tickets level.
func (s *Syncer) GetTicketsAllowedBrandIDs(ctx context.Context, connectorID uuid.UUID) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.GetTicketsAllowedBrandIDs")
	defer span.End()

	return s.allowedBrandIDs(ctx, connectorID, internalid.KindTickets)
}

func (s *Syncer) allowedBrandIDs(ctx context.Context, connectorID uuid.UUID, kind internalid.Kind) ([]int64, error) {
	granted, err := s.tree.ReadGrantedSet(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	brandIDs := []int64{}
	for _, internalID := range granted {
		parsed, err := internalid.Parse(internalID)
		if err != nil {
			return nil, err
		}
		// A brand grant covers both of its subtrees.
		if parsed.Kind != kind && parsed.Kind != internalid.KindBrand {
			continue
		}
		if seen[parsed.BrandID] {
			continue
		}
		seen[parsed.BrandID] = true
		brandIDs = append(brandIDs, parsed.BrandID)
	}

	sort.Slice(brandIDs, func(i, j int) bool { return brandIDs[i] < brandIDs[j] })
	return brandIDs, nil
}

// SyncBrand upserts the brand container and its help-center and tickets
// subtree roots. Runs before any batch activity for the brand so children
// never land downstream ahead of their containers.
func (s *Syncer) SyncBrand(ctx context.Context, connector *models.Connector, brandID int64, forceResync bool) error {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncBrand")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return err
	}

	brand, err := client.ShowBrand(ctx, brandID)
	if err != nil {
		return err
	}

	brandInternalID := internalid.Brand(brand.ID)
	folders := []reconcile.FolderSpec{{
		InternalID: brandInternalID,
		NodeType:   models.NodeTypeBrand,
		Title:      brand.Name,
		SourceURL:  &brand.BrandURL,
		Parents:    []string{},
	}}
	if brand.HasHelpCenter {
		folders = append(folders, reconcile.FolderSpec{
			InternalID: internalid.HelpCenter(brand.ID),
			NodeType:   models.NodeTypeHelpCenter,
			Title:      fmt.Sprintf("%s - Help Center", brand.Name),
			Parents:    []string{brandInternalID},
		})
	}
	folders = append(folders, reconcile.FolderSpec{
		InternalID: internalid.Tickets(brand.ID),
		NodeType:   models.NodeTypeTickets,
		Title:      fmt.Sprintf("%s - Tickets", brand.Name),
		Parents:    []string{brandInternalID},
	})

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return err
	}

	_, err = s.engine.ReconcilePage(ctx, connector.ID, models.ProviderZendesk, folders, nil, idx, reconcile.Options{
		ForceResync: forceResync,
		Heartbeater: s.heartbeater,
	})
	return err
}

// SyncCategoryBatch upserts one page of a brand's help center categories and
// returns the continuation state. An empty page terminates the loop
// regardless of what the provider's pagination metadata claims.
func (s *Syncer) SyncCategoryBatch(ctx context.Context, connector *models.Connector, brandID int64,
	nextLink string, forceResync bool) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncCategoryBatch")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return nil, err
	}

	brand, err := client.ShowBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}

	page, err := client.ListCategories(ctx, brand.Subdomain, nextLink)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return &BatchResult{HasMore: false}, nil
	}

	folders := ectolinq.Map(page.Items, func(category catalog.ZendeskCategory) reconcile.FolderSpec {
		url := category.HTMLURL
		return reconcile.FolderSpec{
			InternalID: internalid.Category(brandID, category.ID),
			NodeType:   models.NodeTypeCategory,
			Title:      category.Name,
			SourceURL:  &url,
			Parents:    []string{internalid.HelpCenter(brandID), internalid.Brand(brandID)},
		}
	})

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return nil, err
	}

	_, err = s.engine.ReconcilePage(ctx, connector.ID, models.ProviderZendesk, folders, nil, idx, reconcile.Options{
		ForceResync: forceResync,
		Heartbeater: s.heartbeater,
	})
	if err != nil {
		return nil, err
	}

	return &BatchResult{HasMore: page.HasMore, NextLink: page.NextLink}, nil
}

// ListCategoryIDs walks every category page of a brand's help center and
// returns the category IDs. The article fan-out needs the whole list before
// its first batch.
func (s *Syncer) ListCategoryIDs(ctx context.Context, connector *models.Connector, brandID int64) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.ListCategoryIDs")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return nil, err
	}

	brand, err := client.ShowBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}

	categoryIDs := []int64{}
	nextLink := ""
	for {
		page, err := client.ListCategories(ctx, brand.Subdomain, nextLink)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			return categoryIDs, nil
		}
		for _, category := range page.Items {
			categoryIDs = append(categoryIDs, category.ID)
		}
		if !page.HasMore {
			return categoryIDs, nil
		}
		nextLink = page.NextLink
	}
}

// SyncArticleBatch upserts one page of a category's published articles
func (s *Syncer) SyncArticleBatch(ctx context.Context, connector *models.Connector, brandID, categoryID int64,
	nextLink string, forceResync bool) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncArticleBatch")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return nil, err
	}

	brand, err := client.ShowBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}

	page, err := client.ListArticles(ctx, brand.Subdomain, categoryID, nextLink)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return &BatchResult{HasMore: false}, nil
	}

	published := ectolinq.Filter(page.Items, func(article catalog.ZendeskArticle) bool {
		return !article.Draft
	})
	objects := ectolinq.Map(published, func(article catalog.ZendeskArticle) reconcile.RemoteObject {
		url := article.HTMLURL
		return reconcile.RemoteObject{
			InternalID: internalid.Article(brandID, article.ID),
			ItemType:   models.ItemTypeArticle,
			Title:      article.Title,
			SourceURL:  &url,
			Parents: []string{
				internalid.Category(brandID, article.CategoryID),
				internalid.HelpCenter(brandID),
				internalid.Brand(brandID),
			},
			Body: renderArticle(article),
		}
	})

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return nil, err
	}

	_, err = s.engine.ReconcilePage(ctx, connector.ID, models.ProviderZendesk, nil, objects, idx, reconcile.Options{
		ForceResync: forceResync,
		Concurrency: itemSyncConcurrency,
		Heartbeater: s.heartbeater,
	})
	if err != nil {
		return nil, err
	}

	return &BatchResult{HasMore: page.HasMore, NextLink: page.NextLink}, nil
}

// SyncTicketBatch upserts one page of the incremental ticket export starting
// at startTime. Only resolved tickets in allowed brands are pushed; their
// comment threads are fetched concurrently and rendered into one document per
// ticket.
func (s *Syncer) SyncTicketBatch(ctx context.Context, connector *models.Connector, startTime time.Time,
	nextLink string, forceResync bool) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncTicketBatch")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return nil, err
	}

	page, err := client.IncrementalTickets(ctx, startTime, nextLink)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return &BatchResult{HasMore: false}, nil
	}

	allowedBrandIDs, err := s.GetTicketsAllowedBrandIDs(ctx, connector.ID)
	if err != nil {
		return nil, err
	}

	tickets := ectolinq.Filter(page.Items, func(ticket catalog.ZendeskTicket) bool {
		return ectolinq.Contains(resolvedTicketStatuses, ticket.Status) &&
			ectolinq.Contains(allowedBrandIDs, ticket.BrandID)
	})
	if len(tickets) == 0 {
		return &BatchResult{HasMore: page.HasMore, NextLink: page.NextLink}, nil
	}

	commentThreads, err := executor.Map(ctx, tickets, executor.Options{
		Concurrency: commentFetchConcurrency,
		OnBatchComplete: func(ctx context.Context, _ int) {
			s.heartbeater.Heartbeat(ctx)
		},
	}, func(ctx context.Context, ticket catalog.ZendeskTicket) ([]catalog.ZendeskComment, error) {
		return client.ListTicketComments(ctx, ticket.ID)
	})
	if err != nil {
		return nil, err
	}
	if len(commentThreads) != len(tickets) {
		return nil, fmt.Errorf("%w: %d comment threads for %d tickets", ErrMismatchedBatch, len(commentThreads), len(tickets))
	}

	userNames, err := s.fetchUserNames(ctx, client, tickets, commentThreads)
	if err != nil {
		return nil, err
	}

	objects := make([]reconcile.RemoteObject, 0, len(tickets))
	for i, ticket := range tickets {
		url := ticket.URL
		objects = append(objects, reconcile.RemoteObject{
			InternalID: internalid.Ticket(ticket.BrandID, ticket.ID),
			ItemType:   models.ItemTypeTicket,
			Title:      ticket.Subject,
			SourceURL:  &url,
			Parents: []string{
				internalid.Tickets(ticket.BrandID),
				internalid.Brand(ticket.BrandID),
			},
			Body: renderTicket(ticket, commentThreads[i], userNames),
			Tags: []string{ticket.Status},
		})
	}

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return nil, err
	}

	_, err = s.engine.ReconcilePage(ctx, connector.ID, models.ProviderZendesk, nil, objects, idx, reconcile.Options{
		ForceResync: forceResync,
		Concurrency: itemSyncConcurrency,
		Heartbeater: s.heartbeater,
	})
	if err != nil {
		return nil, err
	}

	return &BatchResult{HasMore: page.HasMore, NextLink: page.NextLink}, nil
}

// GarbageCollectZendesk walks the live catalog and removes downstream state
// for anything that vanished upstream or lost its grant. Tickets are not
// re-enumerable through the incremental export, so existing ticket rows stay
// as long as their brand is still live.
func (s *Syncer) GarbageCollectZendesk(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "Syncer.GarbageCollectZendesk")
	defer span.End()

	client, err := s.zendesk(ctx, connector)
	if err != nil {
		return err
	}

	brands, err := client.ListBrands(ctx)
	if err != nil {
		return err
	}

	remoteSet := map[string]bool{}
	liveBrandIDs := map[int64]bool{}
	for _, brand := range brands {
		if !brand.Active {
			continue
		}
		liveBrandIDs[brand.ID] = true
		remoteSet[internalid.Brand(brand.ID)] = true
		remoteSet[internalid.Tickets(brand.ID)] = true
		if !brand.HasHelpCenter {
			continue
		}
		remoteSet[internalid.HelpCenter(brand.ID)] = true

		if err := s.collectHelpCenter(ctx, client, brand, remoteSet); err != nil {
			return err
		}
		s.heartbeater.Heartbeat(ctx)
	}

	// Keep previously-synced tickets for live brands.
	items, err := s.items.ListByConnector(ctx, connector.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.ItemType != models.ItemTypeTicket {
			continue
		}
		parsed, err := internalid.Parse(item.InternalID)
		if err != nil {
			return err
		}
		if liveBrandIDs[parsed.BrandID] {
			remoteSet[item.InternalID] = true
		}
	}

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return err
	}

	_, err = s.engine.GarbageCollect(ctx, connector.ID, models.ProviderZendesk, remoteSet, idx)
	return err
}

func (s *Syncer) collectHelpCenter(ctx context.Context, client catalog.ZendeskClient,
	brand catalog.ZendeskBrand, remoteSet map[string]bool) error {
	categoryLink := ""
	for {
		categoryPage, err := client.ListCategories(ctx, brand.Subdomain, categoryLink)
		if err != nil {
			return err
		}
		for _, category := range categoryPage.Items {
			remoteSet[internalid.Category(brand.ID, category.ID)] = true

			articleLink := ""
			for {
				articlePage, err := client.ListArticles(ctx, brand.Subdomain, category.ID, articleLink)
				if err != nil {
					return err
				}
				for _, article := range articlePage.Items {
					if !article.Draft {
						remoteSet[internalid.Article(brand.ID, article.ID)] = true
					}
				}
				if !articlePage.HasMore || len(articlePage.Items) == 0 {
					break
				}
				articleLink = articlePage.NextLink
			}
		}
		if !categoryPage.HasMore || len(categoryPage.Items) == 0 {
			break
		}
		categoryLink = categoryPage.NextLink
	}
	return nil
}

func (s *Syncer) fetchUserNames(ctx context.Context, client catalog.ZendeskClient,
	tickets []catalog.ZendeskTicket, commentThreads [][]catalog.ZendeskComment) (map[int64]string, error) {
	seen := map[int64]bool{}
	userIDs := []int64{}
	add := func(id int64) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		userIDs = append(userIDs, id)
	}
	for _, ticket := range tickets {
		add(ticket.RequesterID)
		add(ticket.AssigneeID)
	}
	for _, thread := range commentThreads {
		for _, comment := range thread {
			add(comment.AuthorID)
		}
	}

	users, err := client.ShowUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(users))
	for _, user := range users {
		names[user.ID] = user.Name
	}
	return names, nil
}

func renderArticle(article catalog.ZendeskArticle) string {
	return fmt.Sprintf("%s\n\n%s", article.Title, article.Body)
}

// renderTicket flattens a ticket and its public comment thread into one
// document
func renderTicket(ticket catalog.ZendeskTicket, comments []catalog.ZendeskComment, userNames map[int64]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nStatus: %s\n", ticket.Subject, ticket.Status)
	if name, ok := userNames[ticket.RequesterID]; ok {
		fmt.Fprintf(&b, "Requester: %s\n", name)
	}
	if name, ok := userNames[ticket.AssigneeID]; ok {
		fmt.Fprintf(&b, "Assignee: %s\n", name)
	}

	for _, comment := range comments {
		if !comment.Public {
			continue
		}
		author := userNames[comment.AuthorID]
		if author == "" {
			author = "Unknown"
		}
		fmt.Fprintf(&b, "\n%s (%s):\n%s\n", author, comment.CreatedAt.Format(time.RFC3339), comment.Body)
	}

	return b.String()
}
