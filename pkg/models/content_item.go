package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/database"
)

// ContentItem is a leaf unit pushed to the Content Store (article, ticket,
// warehouse table).
//
// LastUpsertedAt is null until the item has been successfully pushed
// downstream at least once; that distinguishes "known but not yet synced"
// from "synced". Permission is either inherited (engine-materialized) or
// read (explicitly user-selected); explicitly selected rows survive
// garbage collection with LastUpsertedAt cleared so the user's intent is
// remembered across re-grants.
type ContentItem struct {
	ID             uuid.UUID                `db:"id" json:"id"`
	ConnectorID    uuid.UUID                `db:"connector_id" json:"connector_id"`
	InternalID     string                   `db:"internal_id" json:"internal_id"`
	ItemType       ItemType                 `db:"item_type" json:"item_type"`
	Name           string                   `db:"name" json:"name"`
	URL            *string                  `db:"url" json:"url,omitempty"`
	Permission     Permission               `db:"permission" json:"permission"`
	ParentChain    database.JSONB[[]string] `db:"parent_chain" json:"parent_chain"`
	LastUpsertedAt *time.Time               `db:"last_upserted_at" json:"last_upserted_at,omitempty"`
	CreatedAt      time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ContentItem) TableName() string {
	return "content_items"
}

// ParentInternalIDs returns the full ancestor chain including the item itself,
// nearest-first.
func (i *ContentItem) ParentInternalIDs() []string {
	return append([]string{i.InternalID}, i.ParentChain.Data...)
}
