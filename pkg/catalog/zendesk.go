package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const zendeskPageSize = 100

// ZendeskBrand is a brand as returned by the provider
type ZendeskBrand struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Subdomain     string `json:"subdomain"`
	BrandURL      string `json:"brand_url"`
	HasHelpCenter bool   `json:"has_help_center"`
	Active        bool   `json:"active"`
}

// ZendeskCategory is a help center category
type ZendeskCategory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
}

// ZendeskArticle is a help center article
type ZendeskArticle struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	HTMLURL    string    `json:"html_url"`
	Draft      bool      `json:"draft"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ZendeskTicket is a support ticket
type ZendeskTicket struct {
	ID          int64     `json:"id"`
	BrandID     int64     `json:"brand_id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	RequesterID int64     `json:"requester_id"`
	AssigneeID  int64     `json:"assignee_id"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ZendeskComment is a single ticket comment
type ZendeskComment struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

// ZendeskUser is a provider user referenced by tickets and comments
type ZendeskUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ZendeskClient is the upstream catalog surface for hierarchical sync.
// Help-center listings route through brand subdomains; everything else goes
// through the account subdomain.
type ZendeskClient interface {
	CurrentUserIsAdmin(ctx context.Context) (bool, error)
	ShowBrand(ctx context.Context, brandID int64) (*ZendeskBrand, error)
	ListBrands(ctx context.Context) ([]ZendeskBrand, error)
	ListCategories(ctx context.Context, brandSubdomain, nextLink string) (Page[ZendeskCategory], error)
	ListArticles(ctx context.Context, brandSubdomain string, categoryID int64, nextLink string) (Page[ZendeskArticle], error)
	IncrementalTickets(ctx context.Context, startTime time.Time, nextLink string) (Page[ZendeskTicket], error)
	ListTicketComments(ctx context.Context, ticketID int64) ([]ZendeskComment, error)
	ShowUsers(ctx context.Context, userIDs []int64) ([]ZendeskUser, error)
}

// ZendeskConfig holds per-connector client configuration
type ZendeskConfig struct {
	Subdomain   string
	AccessToken string
	Timeout     time.Duration
}

type zendeskClient struct {
	client    *http.Client
	subdomain string
	token     string
	logger    ectologger.Logger
}

// NewZendeskClient creates a client bound to one account subdomain and token
func NewZendeskClient(cfg ZendeskConfig, logger ectologger.Logger) ZendeskClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &zendeskClient{
		client:    &http.Client{Timeout: timeout},
		subdomain: cfg.Subdomain,
		token:     cfg.AccessToken,
		logger:    logger,
	}
}

// CurrentUserIsAdmin reports whether the token's user holds the admin role
func (c *zendeskClient) CurrentUserIsAdmin(ctx context.Context) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.CurrentUserIsAdmin")
	defer span.End()

	var payload struct {
		User ZendeskUser `json:"user"`
	}
	if err := c.get(ctx, c.accountURL("/api/v2/users/me.json"), "users.me", &payload); err != nil {
		return false, err
	}

	return payload.User.Role == "admin", nil
}

// ShowBrand retrieves one brand
func (c *zendeskClient) ShowBrand(ctx context.Context, brandID int64) (*ZendeskBrand, error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ShowBrand")
	defer span.End()

	var payload struct {
		Brand ZendeskBrand `json:"brand"`
	}
	err := c.get(ctx, c.accountURL(fmt.Sprintf("/api/v2/brands/%d.json", brandID)), "brands.show", &payload)
	if err != nil {
		return nil, err
	}

	return &payload.Brand, nil
}

// ListBrands retrieves every brand on the account
func (c *zendeskClient) ListBrands(ctx context.Context) ([]ZendeskBrand, error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ListBrands")
	defer span.End()

	var brands []ZendeskBrand
	next := c.accountURL(fmt.Sprintf("/api/v2/brands.json?page[size]=%d", zendeskPageSize))
	for next != "" {
		var payload struct {
			Brands []ZendeskBrand `json:"brands"`
			Meta   zendeskMeta    `json:"meta"`
			Links  zendeskLinks   `json:"links"`
		}
		if err := c.get(ctx, next, "brands.list", &payload); err != nil {
			return nil, err
		}
		brands = append(brands, payload.Brands...)

		if !payload.Meta.HasMore || len(payload.Brands) == 0 {
			break
		}
		next = payload.Links.Next
	}

	return brands, nil
}

// ListCategories retrieves one page of help center categories for a brand
func (c *zendeskClient) ListCategories(ctx context.Context, brandSubdomain, nextLink string) (Page[ZendeskCategory], error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ListCategories")
	defer span.End()

	reqURL := nextLink
	if reqURL == "" {
		reqURL = c.brandURL(brandSubdomain, fmt.Sprintf("/api/v2/help_center/categories.json?page[size]=%d", zendeskPageSize))
	}

	var payload struct {
		Categories []ZendeskCategory `json:"categories"`
		Meta       zendeskMeta       `json:"meta"`
		Links      zendeskLinks      `json:"links"`
	}
	if err := c.get(ctx, reqURL, "categories.list", &payload); err != nil {
		return Page[ZendeskCategory]{}, err
	}

	return Page[ZendeskCategory]{
		Items:    payload.Categories,
		HasMore:  payload.Meta.HasMore,
		NextLink: payload.Links.Next,
	}, nil
}

// ListArticles retrieves one page of articles in a category
func (c *zendeskClient) ListArticles(ctx context.Context, brandSubdomain string, categoryID int64, nextLink string) (Page[ZendeskArticle], error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ListArticles")
	defer span.End()

	reqURL := nextLink
	if reqURL == "" {
		reqURL = c.brandURL(brandSubdomain,
			fmt.Sprintf("/api/v2/help_center/categories/%d/articles.json?page[size]=%d", categoryID, zendeskPageSize))
	}

	var payload struct {
		Articles []ZendeskArticle `json:"articles"`
		Meta     zendeskMeta      `json:"meta"`
		Links    zendeskLinks     `json:"links"`
	}
	if err := c.get(ctx, reqURL, "articles.list", &payload); err != nil {
		return Page[ZendeskArticle]{}, err
	}

	return Page[ZendeskArticle]{
		Items:    payload.Articles,
		HasMore:  payload.Meta.HasMore,
		NextLink: payload.Links.Next,
	}, nil
}

// IncrementalTickets retrieves one page of the incremental ticket export
// starting at startTime
func (c *zendeskClient) IncrementalTickets(ctx context.Context, startTime time.Time, nextLink string) (Page[ZendeskTicket], error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.IncrementalTickets")
	defer span.End()

	reqURL := nextLink
	if reqURL == "" {
		// The export rejects negative start times, so an unset cursor starts
		// at epoch.
		start := int64(0)
		if !startTime.IsZero() {
			start = startTime.Unix()
		}
		reqURL = c.accountURL(fmt.Sprintf("/api/v2/incremental/tickets/cursor.json?start_time=%d", start))
	}

	var payload struct {
		Tickets     []ZendeskTicket `json:"tickets"`
		AfterURL    string          `json:"after_url"`
		EndOfStream bool            `json:"end_of_stream"`
	}
	if err := c.get(ctx, reqURL, "tickets.incremental", &payload); err != nil {
		return Page[ZendeskTicket]{}, err
	}

	return Page[ZendeskTicket]{
		Items:    payload.Tickets,
		HasMore:  !payload.EndOfStream,
		NextLink: payload.AfterURL,
	}, nil
}

// ListTicketComments retrieves every comment on a ticket
func (c *zendeskClient) ListTicketComments(ctx context.Context, ticketID int64) ([]ZendeskComment, error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ListTicketComments")
	defer span.End()

	var comments []ZendeskComment
	next := c.accountURL(fmt.Sprintf("/api/v2/tickets/%d/comments.json?page[size]=%d", ticketID, zendeskPageSize))
	for next != "" {
		var payload struct {
			Comments []ZendeskComment `json:"comments"`
			Meta     zendeskMeta      `json:"meta"`
			Links    zendeskLinks     `json:"links"`
		}
		if err := c.get(ctx, next, "comments.list", &payload); err != nil {
			return nil, err
		}
		comments = append(comments, payload.Comments...)

		if !payload.Meta.HasMore || len(payload.Comments) == 0 {
			break
		}
		next = payload.Links.Next
	}

	return comments, nil
}

// ShowUsers retrieves users in bulk
func (c *zendeskClient) ShowUsers(ctx context.Context, userIDs []int64) ([]ZendeskUser, error) {
	ctx, span := tracing.StartSpan(ctx, "ZendeskClient.ShowUsers")
	defer span.End()

	if len(userIDs) == 0 {
		return []ZendeskUser{}, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var payload struct {
		Users []ZendeskUser `json:"users"`
	}
	reqURL := c.accountURL("/api/v2/users/show_many.json?ids=" + url.QueryEscape(strings.Join(ids, ",")))
	if err := c.get(ctx, reqURL, "users.show_many", &payload); err != nil {
		return nil, err
	}

	return payload.Users, nil
}

type zendeskMeta struct {
	HasMore bool `json:"has_more"`
}

type zendeskLinks struct {
	Next string `json:"next"`
}

func (c *zendeskClient) accountURL(path string) string {
	return fmt.Sprintf("https://%s.zendesk.com%s", c.subdomain, path)
}

func (c *zendeskClient) brandURL(brandSubdomain, path string) string {
	if brandSubdomain == "" {
		brandSubdomain = c.subdomain
	}
	return fmt.Sprintf("https://%s.zendesk.com%s", brandSubdomain, path)
}

func (c *zendeskClient) get(ctx context.Context, reqURL, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordCatalogRequest("zendesk", operation, "error")
		c.logger.WithContext(ctx).WithError(err).Errorf("Zendesk request failed: %s", reqURL)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordCatalogRequest("zendesk", operation, strconv.Itoa(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenRevoked
	case resp.StatusCode == http.StatusForbidden:
		return ErrMissingRights
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Errorf("Zendesk rejected GET %s", reqURL)
		return fmt.Errorf("zendesk returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
