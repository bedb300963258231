package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Config holds Content Store client configuration
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// DefaultConfig returns default Content Store client configuration
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:         baseURL,
		APIKey:          apiKey,
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// Client is the HTTP implementation of Store. Nodes live under the
// per-connector namespace, so two connectors never collide on node IDs.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  ectologger.Logger
}

// NewClient creates a new Content Store client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// UpsertFolder creates or refreshes a folder node
func (c *Client) UpsertFolder(ctx context.Context, connectorID uuid.UUID, folder FolderUpsert) error {
	return c.do(ctx, http.MethodPut, c.nodeURL(connectorID, "folders", folder.NodeID), folder)
}

// UpsertDocument creates or refreshes a document leaf
func (c *Client) UpsertDocument(ctx context.Context, connectorID uuid.UUID, document DocumentUpsert) error {
	return c.do(ctx, http.MethodPut, c.nodeURL(connectorID, "documents", document.NodeID), document)
}

// UpsertTable creates or refreshes a table leaf
func (c *Client) UpsertTable(ctx context.Context, connectorID uuid.UUID, table TableUpsert) error {
	return c.do(ctx, http.MethodPut, c.nodeURL(connectorID, "tables", table.NodeID), table)
}

// DeleteNode removes a node of any kind. Deleting a node the store does not
// know is a success.
func (c *Client) DeleteNode(ctx context.Context, connectorID uuid.UUID, nodeID string) error {
	return c.do(ctx, http.MethodDelete, c.nodeURL(connectorID, "nodes", nodeID), nil)
}

func (c *Client) nodeURL(connectorID uuid.UUID, kind, nodeID string) string {
	return fmt.Sprintf("%s/v1/stores/%s/%s/%s", c.baseURL, connectorID, kind, url.PathEscape(nodeID))
}

func (c *Client) do(ctx context.Context, method, reqURL string, body any) error {
	start := time.Now()

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("Content Store request failed: %s %s", method, reqURL)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// DELETE of an unknown node is idempotent success.
	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"status": resp.StatusCode,
			"body":   string(payload),
		}).Errorf("Content Store rejected %s %s", method, reqURL)
		return fmt.Errorf("content store returned status %d", resp.StatusCode)
	}

	c.logger.WithContext(ctx).Debugf("Content Store %s %s -> %d (%s)",
		method, reqURL, resp.StatusCode, time.Since(start))
	return nil
}
