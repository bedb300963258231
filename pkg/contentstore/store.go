// Package contentstore defines the downstream Content Store contract: the
// hierarchy of folders, documents and tables a connector keeps in step with
// the remote catalog, and an HTTP client implementation of it.
package contentstore

import (
	"context"

	"github.com/google/uuid"
)

// Mime types attached to upserted nodes so downstream consumers can tell
// connector-made structure apart from user content.
const (
	MimeTypeBrand      = "application/vnd.tendril.zendesk.brand"
	MimeTypeHelpCenter = "application/vnd.tendril.zendesk.help-center"
	MimeTypeTickets    = "application/vnd.tendril.zendesk.tickets"
	MimeTypeCategory   = "application/vnd.tendril.zendesk.category"
	MimeTypeArticle    = "application/vnd.tendril.zendesk.article"
	MimeTypeTicket     = "application/vnd.tendril.zendesk.ticket"
	MimeTypeDatabase   = "application/vnd.tendril.warehouse.database"
	MimeTypeSchema     = "application/vnd.tendril.warehouse.schema"
	MimeTypeTable      = "application/vnd.tendril.warehouse.table"
)

// FolderUpsert describes a folder node. Parents is the full ancestor chain
// including the node itself, nearest-first; ParentID is nil for roots.
type FolderUpsert struct {
	NodeID    string   `json:"node_id"`
	Title     string   `json:"title"`
	Parents   []string `json:"parents"`
	ParentID  *string  `json:"parent_id,omitempty"`
	MimeType  string   `json:"mime_type"`
	SourceURL *string  `json:"source_url,omitempty"`
}

// DocumentUpsert describes a document leaf with its rendered text body.
type DocumentUpsert struct {
	NodeID    string   `json:"node_id"`
	Title     string   `json:"title"`
	Parents   []string `json:"parents"`
	ParentID  *string  `json:"parent_id,omitempty"`
	MimeType  string   `json:"mime_type"`
	SourceURL *string  `json:"source_url,omitempty"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
}

// TableUpsert describes a structured-table leaf. The engine only mirrors
// metadata; row data stays in the warehouse.
type TableUpsert struct {
	NodeID      string   `json:"node_id"`
	Title       string   `json:"title"`
	Parents     []string `json:"parents"`
	ParentID    *string  `json:"parent_id,omitempty"`
	MimeType    string   `json:"mime_type"`
	Description string   `json:"description,omitempty"`
}

// Store is the downstream surface the reconciliation engine writes to. Every
// operation is idempotent: upserting an existing node refreshes it, deleting
// a missing node succeeds.
type Store interface {
	UpsertFolder(ctx context.Context, connectorID uuid.UUID, folder FolderUpsert) error
	UpsertDocument(ctx context.Context, connectorID uuid.UUID, document DocumentUpsert) error
	UpsertTable(ctx context.Context, connectorID uuid.UUID, table TableUpsert) error
	DeleteNode(ctx context.Context, connectorID uuid.UUID, nodeID string) error
}
