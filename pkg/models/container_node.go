package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/database"
)

// ContainerNode is a top- or mid-level grouping in the permission tree
// (brand, help center, tickets bucket, category, database, schema).
//
// ParentChain is the ordered list of ancestor internal IDs, nearest-first and
// excluding the node itself. It is recomputed and persisted at write time so
// permission inheritance checks and Content Store folder nesting never walk
// the tree at read time.
type ContainerNode struct {
	ID             uuid.UUID                `db:"id" json:"id"`
	ConnectorID    uuid.UUID                `db:"connector_id" json:"connector_id"`
	InternalID     string                   `db:"internal_id" json:"internal_id"`
	NodeType       NodeType                 `db:"node_type" json:"node_type"`
	Name           string                   `db:"name" json:"name"`
	URL            *string                  `db:"url" json:"url,omitempty"`
	Permission     Permission               `db:"permission" json:"permission"`
	ParentChain    database.JSONB[[]string] `db:"parent_chain" json:"parent_chain"`
	LastUpsertedAt *time.Time               `db:"last_upserted_at" json:"last_upserted_at,omitempty"`
	CreatedAt      time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ContainerNode) TableName() string {
	return "container_nodes"
}

// ParentInternalIDs returns the full ancestor chain including the node itself,
// nearest-first, as expected by the Content Store contract.
func (n *ContainerNode) ParentInternalIDs() []string {
	return append([]string{n.InternalID}, n.ParentChain.Data...)
}
