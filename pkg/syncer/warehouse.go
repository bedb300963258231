package syncer

import (
	"context"
	"errors"

	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/internalid"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/reconcile"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// SyncWarehouse runs a whole-catalog warehouse pass: read-only verification,
// full table discovery, reconcile, then garbage collection against the fresh
// remote set. A connection that turns out writable tears down everything
// previously synced and fails the pass; nothing is ever upserted from it.
func (s *Syncer) SyncWarehouse(ctx context.Context, connector *models.Connector, forceResync bool) error {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncWarehouse")
	defer span.End()

	client, err := s.snowflake(ctx, connector)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			s.logger.WithContext(ctx).WithError(closeErr).Warn("failed to close warehouse connection")
		}
	}()

	if err := client.CheckReadonly(ctx); err != nil {
		if errors.Is(err, catalog.ErrNotReadonly) {
			if _, gcErr := s.engine.GarbageCollectAll(ctx, connector.ID, models.ProviderSnowflake); gcErr != nil {
				s.logger.WithContext(ctx).WithError(gcErr).WithFields(map[string]any{
					"connector_id": connector.ID,
				}).Error("failed to tear down state for writable warehouse connection")
			}
		}
		return err
	}

	tables, err := client.FetchTables(ctx)
	if err != nil {
		return err
	}

	folders, objects, remoteSet := warehouseCatalog(tables)

	idx, err := s.tree.BuildIndex(ctx, connector.ID)
	if err != nil {
		return err
	}

	_, err = s.engine.ReconcilePage(ctx, connector.ID, models.ProviderSnowflake, folders, objects, idx, reconcile.Options{
		ForceResync: forceResync,
		Concurrency: itemSyncConcurrency,
		Heartbeater: s.heartbeater,
	})
	if err != nil {
		return err
	}

	_, err = s.engine.GarbageCollect(ctx, connector.ID, models.ProviderSnowflake, remoteSet, idx)
	return err
}

// warehouseCatalog derives the database and schema containers from the flat
// table listing. Discovery is all-at-once, so the same pass both reconciles
// and supplies the garbage collection remote set.
func warehouseCatalog(tables []catalog.WarehouseTable) ([]reconcile.FolderSpec, []reconcile.RemoteObject, map[string]bool) {
	remoteSet := map[string]bool{}
	folders := []reconcile.FolderSpec{}
	objects := make([]reconcile.RemoteObject, 0, len(tables))

	for _, table := range tables {
		databaseID := internalid.Database(table.Database)
		schemaID := internalid.Schema(table.Database, table.Schema)
		tableID := internalid.Table(table.Database, table.Schema, table.Name)

		if !remoteSet[databaseID] {
			remoteSet[databaseID] = true
			folders = append(folders, reconcile.FolderSpec{
				InternalID: databaseID,
				NodeType:   models.NodeTypeDatabase,
				Title:      table.Database,
				Parents:    []string{},
			})
		}
		if !remoteSet[schemaID] {
			remoteSet[schemaID] = true
			folders = append(folders, reconcile.FolderSpec{
				InternalID: schemaID,
				NodeType:   models.NodeTypeSchema,
				Title:      table.Schema,
				Parents:    []string{databaseID},
			})
		}

		remoteSet[tableID] = true
		objects = append(objects, reconcile.RemoteObject{
			InternalID: tableID,
			ItemType:   models.ItemTypeTable,
			Title:      table.Name,
			Parents:    []string{schemaID, databaseID},
		})
	}

	return folders, objects, remoteSet
}
