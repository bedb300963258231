// Package connections resolves connection references to live credentials.
// Connector rows carry only a connection ID; the secrets live in the
// connection service and are fetched fresh for every provider client build,
// so rotated tokens take effect without a connector update.
package connections

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// maxResponseSize bounds connection service response bodies (1MB)
const maxResponseSize = 1 * 1024 * 1024

// Connection is a resolved credential
type Connection struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`

	// OAuth-backed providers
	AccessToken string `json:"access_token,omitempty"`
	Subdomain   string `json:"subdomain,omitempty"`

	// Warehouse providers
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// Resolver resolves connection IDs to credentials
type Resolver interface {
	Resolve(ctx context.Context, connectionID string) (*Connection, error)
}

// Config holds connection service client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of Resolver
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  ectologger.Logger
}

// NewClient creates a connection service client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Resolve fetches the credential behind a connection ID. A connection the
// service has revoked or forgotten classifies as catalog.ErrTokenRevoked so
// sync passes pause the connector instead of retrying forever.
func (c *Client) Resolve(ctx context.Context, connectionID string) (*Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "Connections.Resolve")
	defer span.End()

	reqURL := fmt.Sprintf("%s/v1/connections/%s", c.baseURL, connectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("connection service request failed: %s", reqURL)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("connection %s: %w", connectionID, catalog.ErrTokenRevoked)
	case resp.StatusCode >= http.StatusBadRequest:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"status": resp.StatusCode,
			"body":   string(payload),
		}).Errorf("connection service rejected GET %s", reqURL)
		return nil, fmt.Errorf("connection service returned status %d", resp.StatusCode)
	}

	var connection Connection
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&connection); err != nil {
		return nil, fmt.Errorf("failed to decode connection: %w", err)
	}
	return &connection, nil
}
