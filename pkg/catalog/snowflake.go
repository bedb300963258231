package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// WarehouseTable identifies one table in the remote warehouse catalog
type WarehouseTable struct {
	Database string `db:"table_catalog"`
	Schema   string `db:"table_schema"`
	Name     string `db:"table_name"`
}

// SnowflakeClient is the warehouse catalog surface. CheckReadonly must be
// called before any pass: a connection that can mutate data is never synced.
type SnowflakeClient interface {
	CheckReadonly(ctx context.Context) error
	FetchTables(ctx context.Context) ([]WarehouseTable, error)
	Close() error
}

// readonlyPrivileges are the privilege types a read-only role may hold.
var readonlyPrivileges = map[string]bool{
	"SELECT":     true,
	"USAGE":      true,
	"REFERENCES": true,
}

type snowflakeClient struct {
	db     *sqlx.DB
	logger ectologger.Logger
}

// NewSnowflakeClient wraps an open warehouse connection. Driver registration
// and DSN handling belong to the caller.
func NewSnowflakeClient(db *sqlx.DB, logger ectologger.Logger) SnowflakeClient {
	return &snowflakeClient{db: db, logger: logger}
}

// CheckReadonly verifies the connection's role holds only read privileges.
// Any grant outside the read-only set classifies as ErrNotReadonly.
func (c *snowflakeClient) CheckReadonly(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "SnowflakeClient.CheckReadonly")
	defer span.End()

	query := `
		SELECT DISTINCT privilege_type
		FROM information_schema.table_privileges
		WHERE grantee = CURRENT_ROLE()`

	var privileges []string
	if err := c.db.SelectContext(ctx, &privileges, query); err != nil {
		metrics.RecordCatalogRequest("snowflake", "check_readonly", "error")
		c.logger.WithContext(ctx).WithError(err).Error("failed to read warehouse grants")
		return fmt.Errorf("failed to read warehouse grants: %w", err)
	}

	metrics.RecordCatalogRequest("snowflake", "check_readonly", "ok")

	for _, privilege := range privileges {
		if !readonlyPrivileges[strings.ToUpper(privilege)] {
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"privilege": privilege,
			}).Warn("warehouse connection holds a write privilege")
			return ErrNotReadonly
		}
	}

	return nil
}

// FetchTables lists the current table catalog visible to the connection
func (c *snowflakeClient) FetchTables(ctx context.Context) ([]WarehouseTable, error) {
	ctx, span := tracing.StartSpan(ctx, "SnowflakeClient.FetchTables")
	defer span.End()

	query := `
		SELECT table_catalog, table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema != 'INFORMATION_SCHEMA'
		ORDER BY table_catalog, table_schema, table_name`

	var tables []WarehouseTable
	if err := c.db.SelectContext(ctx, &tables, query); err != nil {
		metrics.RecordCatalogRequest("snowflake", "fetch_tables", "error")
		c.logger.WithContext(ctx).WithError(err).Error("failed to list warehouse tables")
		return nil, fmt.Errorf("failed to list warehouse tables: %w", err)
	}

	metrics.RecordCatalogRequest("snowflake", "fetch_tables", "ok")
	return tables, nil
}

// Close closes the underlying connection
func (c *snowflakeClient) Close() error {
	return c.db.Close()
}
