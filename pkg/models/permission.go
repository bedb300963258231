package models

// Permission is the tri-state access level stored on every synced node.
//
//   - PermissionRead: explicitly granted by a user selection.
//   - PermissionNone: explicitly revoked by a user selection.
//   - PermissionInherited: granted only because an ancestor container is
//     read-granted; the row was materialized lazily during reconciliation.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionNone      Permission = "none"
	PermissionInherited Permission = "inherited"
)

// IsSettable reports whether the permission is one of the two values a caller
// may set through the API. Inherited is engine-owned and never settable.
func (p Permission) IsSettable() bool {
	return p == PermissionRead || p == PermissionNone
}

// NodeType identifies a container node in the permission tree.
type NodeType string

const (
	NodeTypeBrand      NodeType = "brand"
	NodeTypeHelpCenter NodeType = "help-center"
	NodeTypeTickets    NodeType = "tickets"
	NodeTypeCategory   NodeType = "category"
	NodeTypeDatabase   NodeType = "database"
	NodeTypeSchema     NodeType = "schema"
)

// ItemType identifies a leaf content item, the unit upserted downstream.
type ItemType string

const (
	ItemTypeArticle ItemType = "article"
	ItemTypeTicket  ItemType = "ticket"
	ItemTypeTable   ItemType = "table"
)

// Provider is the upstream system a connector syncs from.
type Provider string

const (
	ProviderZendesk   Provider = "zendesk"
	ProviderSnowflake Provider = "snowflake"
)
