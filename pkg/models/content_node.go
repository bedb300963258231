package models

import "time"

// ContentNodeType is the downstream-facing shape of a node.
type ContentNodeType string

const (
	ContentNodeTypeFolder   ContentNodeType = "folder"
	ContentNodeTypeDocument ContentNodeType = "document"
	ContentNodeTypeTable    ContentNodeType = "table"
)

// ContentNode is the hierarchical view of a synced object consumed by the UI
// when browsing or editing connector permissions.
type ContentNode struct {
	InternalID       string          `json:"internal_id"`
	ParentInternalID *string         `json:"parent_internal_id,omitempty"`
	Type             ContentNodeType `json:"type"`
	Title            string          `json:"title"`
	SourceURL        *string         `json:"source_url,omitempty"`
	Permission       Permission      `json:"permission"`
	LastUpdatedAt    *time.Time      `json:"last_updated_at,omitempty"`
	Expandable       bool            `json:"expandable"`
}
