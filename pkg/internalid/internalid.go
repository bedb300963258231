// Package internalid encodes and parses the stable internal IDs that identify
// provider objects within a connector's scope. The encoding is deterministic
// so rows can be re-derived idempotently without a lookup table.
//
// Hierarchical providers use typed prefixes:
//
//	zendesk-brand-{brandId}
//	zendesk-help-center-{brandId}
//	zendesk-tickets-{brandId}
//	zendesk-category-{brandId}-{categoryId}
//	zendesk-article-{brandId}-{articleId}
//	zendesk-ticket-{brandId}-{ticketId}
//
// Warehouse providers use dotted composite keys:
//
//	{database}
//	{database}.{schema}
//	{database}.{schema}.{table}
//
// A malformed ID is a fatal condition, not a recoverable one: every ID the
// engine handles was produced by this package, so a parse failure means
// corrupted state.
package internalid

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the structural type encoded in an internal ID.
type Kind string

const (
	KindBrand      Kind = "brand"
	KindHelpCenter Kind = "help-center"
	KindTickets    Kind = "tickets"
	KindCategory   Kind = "category"
	KindArticle    Kind = "article"
	KindTicket     Kind = "ticket"
	KindDatabase   Kind = "database"
	KindSchema     Kind = "schema"
	KindTable      Kind = "table"
)

const zendeskPrefix = "zendesk-"

func Brand(brandID int64) string {
	return fmt.Sprintf("zendesk-brand-%d", brandID)
}

func HelpCenter(brandID int64) string {
	return fmt.Sprintf("zendesk-help-center-%d", brandID)
}

func Tickets(brandID int64) string {
	return fmt.Sprintf("zendesk-tickets-%d", brandID)
}

func Category(brandID, categoryID int64) string {
	return fmt.Sprintf("zendesk-category-%d-%d", brandID, categoryID)
}

func Article(brandID, articleID int64) string {
	return fmt.Sprintf("zendesk-article-%d-%d", brandID, articleID)
}

func Ticket(brandID, ticketID int64) string {
	return fmt.Sprintf("zendesk-ticket-%d-%d", brandID, ticketID)
}

func Database(database string) string {
	return database
}

func Schema(database, schema string) string {
	return database + "." + schema
}

func Table(database, schema, table string) string {
	return database + "." + schema + "." + table
}

// Parsed is the decoded form of an internal ID.
type Parsed struct {
	Kind Kind

	// Hierarchical provider fields.
	BrandID  int64
	ObjectID int64 // category, article or ticket ID depending on Kind

	// Warehouse provider fields.
	DatabaseName string
	SchemaName   string
	TableName    string
}

// Parse decodes an internal ID. The error wraps the raw ID and must be
// treated as fatal by callers.
func Parse(internalID string) (Parsed, error) {
	if strings.HasPrefix(internalID, zendeskPrefix) {
		return parseZendesk(internalID)
	}
	return parseWarehouse(internalID)
}

func parseZendesk(internalID string) (Parsed, error) {
	rest := strings.TrimPrefix(internalID, zendeskPrefix)

	for _, kind := range []Kind{KindHelpCenter, KindCategory, KindArticle, KindTicket, KindTickets, KindBrand} {
		prefix := string(kind) + "-"
		if !strings.HasPrefix(rest, prefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(rest, prefix), "-")

		switch kind {
		case KindBrand, KindHelpCenter, KindTickets:
			if len(parts) != 1 {
				return Parsed{}, fmt.Errorf("invalid internal ID %q", internalID)
			}
			brandID, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("invalid internal ID %q: %w", internalID, err)
			}
			return Parsed{Kind: kind, BrandID: brandID}, nil
		case KindCategory, KindArticle, KindTicket:
			if len(parts) != 2 {
				return Parsed{}, fmt.Errorf("invalid internal ID %q", internalID)
			}
			brandID, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("invalid internal ID %q: %w", internalID, err)
			}
			objectID, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("invalid internal ID %q: %w", internalID, err)
			}
			return Parsed{Kind: kind, BrandID: brandID, ObjectID: objectID}, nil
		}
	}

	return Parsed{}, fmt.Errorf("invalid internal ID %q", internalID)
}

func parseWarehouse(internalID string) (Parsed, error) {
	parts := strings.Split(internalID, ".")
	for _, part := range parts {
		if part == "" {
			return Parsed{}, fmt.Errorf("invalid internal ID %q", internalID)
		}
	}

	switch len(parts) {
	case 1:
		return Parsed{Kind: KindDatabase, DatabaseName: parts[0]}, nil
	case 2:
		return Parsed{Kind: KindSchema, DatabaseName: parts[0], SchemaName: parts[1]}, nil
	case 3:
		return Parsed{Kind: KindTable, DatabaseName: parts[0], SchemaName: parts[1], TableName: parts[2]}, nil
	default:
		return Parsed{}, fmt.Errorf("invalid internal ID %q", internalID)
	}
}

// Ancestors returns the ancestor internal IDs of the parsed node,
// nearest-first and excluding the node itself, when the chain is derivable
// from the encoding alone. Articles need a lookup for their category, so
// Ancestors cannot be derived for KindArticle.
func (p Parsed) Ancestors() ([]string, bool) {
	switch p.Kind {
	case KindBrand, KindDatabase:
		return []string{}, true
	case KindHelpCenter, KindTickets:
		return []string{Brand(p.BrandID)}, true
	case KindCategory:
		return []string{HelpCenter(p.BrandID), Brand(p.BrandID)}, true
	case KindTicket:
		return []string{Tickets(p.BrandID), Brand(p.BrandID)}, true
	case KindSchema:
		return []string{Database(p.DatabaseName)}, true
	case KindTable:
		return []string{Schema(p.DatabaseName, p.SchemaName), Database(p.DatabaseName)}, true
	default:
		return nil, false
	}
}
