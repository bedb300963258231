// Package reconcile keeps the Content Store in step with the remote catalog
// for one connector. Every pass re-derives the desired downstream state from
// the remote set and the permission tree, so retries and replays converge on
// the same result.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tendril/pkg/contentstore"
	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/executor"
	"github.com/Ramsey-B/tendril/pkg/metrics"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/permissions"
	"github.com/Ramsey-B/tendril/pkg/tracing"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

// FolderSpec describes one container node discovered upstream. Parents is
// the ancestor chain nearest-first, excluding the node itself.
type FolderSpec struct {
	InternalID string
	NodeType   models.NodeType
	Title      string
	SourceURL  *string
	Parents    []string
}

// RemoteObject describes one leaf discovered upstream
type RemoteObject struct {
	InternalID  string
	ItemType    models.ItemType
	Title       string
	SourceURL   *string
	Parents     []string
	Body        string // rendered document text; unused for tables
	Description string // table description; unused for documents
	Tags        []string
}

// ContainerStore is the container persistence the engine needs
type ContainerStore interface {
	Upsert(ctx context.Context, node *models.ContainerNode) error
	ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]models.ContainerNode, error)
	StampLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts time.Time) error
	ClearLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string) error
	DeleteByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) (int64, error)
}

// ItemStore is the leaf persistence the engine needs
type ItemStore interface {
	Upsert(ctx context.Context, item *models.ContentItem) error
	ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]models.ContentItem, error)
	StampLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string, ts time.Time) error
	ClearLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string) error
	DeleteByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) (int64, error)
}

// Options tunes one reconcile pass
type Options struct {
	// ForceResync pushes granted objects downstream even when bookkeeping
	// says they were already sent.
	ForceResync bool
	// Concurrency bounds the leaf fan-out. Zero uses the executor default.
	Concurrency int
	// Heartbeater receives a beat after every completed leaf batch.
	Heartbeater workflow.Heartbeater
}

func (o Options) heartbeater() workflow.Heartbeater {
	if o.Heartbeater == nil {
		return workflow.NoopHeartbeater{}
	}
	return o.Heartbeater
}

// Result summarizes one pass
type Result struct {
	FoldersUpserted int
	ItemsUpserted   int
	ItemsSkipped    int
	Deletes         int
	RowsDestroyed   int
	RowsRetained    int
}

// Engine reconciles remote catalog state against the Content Store
type Engine struct {
	containers ContainerStore
	items      ItemStore
	content    contentstore.Store
	logger     ectologger.Logger
}

// NewEngine creates a reconciliation engine
func NewEngine(containers ContainerStore, items ItemStore, content contentstore.Store, logger ectologger.Logger) *Engine {
	return &Engine{
		containers: containers,
		items:      items,
		content:    content,
		logger:     logger,
	}
}

// ReconcilePage processes one page of upstream discovery. Folders are
// persisted and pushed strictly top-down before any leaf fan-out starts, so
// a child node never reaches the Content Store ahead of its parent. Leaves
// are filtered through the grant index, then upserted concurrently; a leaf
// already pushed downstream is skipped unless ForceResync is set.
func (e *Engine) ReconcilePage(ctx context.Context, connectorID uuid.UUID, provider models.Provider,
	folders []FolderSpec, objects []RemoteObject, idx *permissions.GrantIndex, opts Options) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.ReconcilePage")
	defer span.End()

	start := time.Now()
	result := &Result{}

	for _, folder := range sortFoldersTopDown(folders) {
		if err := e.reconcileFolder(ctx, connectorID, folder, idx, opts, result); err != nil {
			return nil, err
		}
	}

	granted := make([]RemoteObject, 0, len(objects))
	for _, obj := range objects {
		if idx.IsGranted(obj.InternalID, obj.Parents) {
			granted = append(granted, obj)
		}
	}

	heartbeater := opts.heartbeater()
	outcomes, err := executor.Map(ctx, granted, executor.Options{
		Concurrency: opts.Concurrency,
		OnBatchComplete: func(ctx context.Context, _ int) {
			heartbeater.Heartbeat(ctx)
		},
	}, func(ctx context.Context, obj RemoteObject) (bool, error) {
		return e.reconcileLeaf(ctx, connectorID, obj, opts)
	})
	if err != nil {
		return nil, err
	}
	for _, upserted := range outcomes {
		if upserted {
			result.ItemsUpserted++
		} else {
			result.ItemsSkipped++
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"folders":      result.FoldersUpserted,
		"items":        result.ItemsUpserted,
		"skipped":      result.ItemsSkipped,
	}).Debug("Reconciled page")

	metrics.RecordReconcile(string(provider), map[string]int{
		"folder": result.FoldersUpserted,
		"item":   result.ItemsUpserted,
	}, 0, time.Since(start).Seconds())
	return result, nil
}

func (e *Engine) reconcileFolder(ctx context.Context, connectorID uuid.UUID, folder FolderSpec,
	idx *permissions.GrantIndex, opts Options, result *Result) error {
	node := &models.ContainerNode{
		ConnectorID: connectorID,
		InternalID:  folder.InternalID,
		NodeType:    folder.NodeType,
		Name:        folder.Title,
		URL:         folder.SourceURL,
		ParentChain: database.JSONB[[]string]{Data: chain(folder.Parents)},
	}
	if err := e.containers.Upsert(ctx, node); err != nil {
		return err
	}

	if !idx.IsGranted(folder.InternalID, folder.Parents) {
		return nil
	}
	if node.LastUpsertedAt != nil && !opts.ForceResync {
		return nil
	}

	err := e.content.UpsertFolder(ctx, connectorID, contentstore.FolderUpsert{
		NodeID:    folder.InternalID,
		Title:     folder.Title,
		Parents:   append([]string{folder.InternalID}, folder.Parents...),
		ParentID:  parentID(folder.Parents),
		MimeType:  folderMimeType(folder.NodeType),
		SourceURL: folder.SourceURL,
	})
	if err != nil {
		return err
	}

	if err := e.containers.StampLastUpserted(ctx, connectorID, []string{folder.InternalID}, time.Now().UTC()); err != nil {
		return err
	}
	result.FoldersUpserted++
	return nil
}

// reconcileLeaf returns whether the leaf was pushed downstream (false means
// it was skipped as already current)
func (e *Engine) reconcileLeaf(ctx context.Context, connectorID uuid.UUID, obj RemoteObject, opts Options) (bool, error) {
	item := &models.ContentItem{
		ConnectorID: connectorID,
		InternalID:  obj.InternalID,
		ItemType:    obj.ItemType,
		Name:        obj.Title,
		URL:         obj.SourceURL,
		ParentChain: database.JSONB[[]string]{Data: chain(obj.Parents)},
	}
	if err := e.items.Upsert(ctx, item); err != nil {
		return false, err
	}

	if item.LastUpsertedAt != nil && !opts.ForceResync {
		return false, nil
	}

	parents := append([]string{obj.InternalID}, obj.Parents...)
	var err error
	switch obj.ItemType {
	case models.ItemTypeTable:
		err = e.content.UpsertTable(ctx, connectorID, contentstore.TableUpsert{
			NodeID:      obj.InternalID,
			Title:       obj.Title,
			Parents:     parents,
			ParentID:    parentID(obj.Parents),
			MimeType:    itemMimeType(obj.ItemType),
			Description: obj.Description,
		})
	default:
		err = e.content.UpsertDocument(ctx, connectorID, contentstore.DocumentUpsert{
			NodeID:    obj.InternalID,
			Title:     obj.Title,
			Parents:   parents,
			ParentID:  parentID(obj.Parents),
			MimeType:  itemMimeType(obj.ItemType),
			SourceURL: obj.SourceURL,
			Text:      obj.Body,
			Tags:      obj.Tags,
		})
	}
	if err != nil {
		return false, err
	}

	if err := e.items.StampLastUpserted(ctx, connectorID, []string{obj.InternalID}, time.Now().UTC()); err != nil {
		return false, err
	}
	return true, nil
}

// GarbageCollect removes downstream state for rows that are no longer both
// present upstream and granted. The Content Store delete always runs before
// any row mutation, so a crash between the two re-runs the delete instead of
// orphaning a downstream node. Explicitly selected rows survive with their
// bookkeeping cleared; purely inherited rows are destroyed.
func (e *Engine) GarbageCollect(ctx context.Context, connectorID uuid.UUID, provider models.Provider,
	remoteSet map[string]bool, idx *permissions.GrantIndex) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GarbageCollect")
	defer span.End()

	start := time.Now()
	result := &Result{}

	// Leaves before folders so a folder is never removed under live children.
	items, err := e.items.ListByConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		keep := remoteSet[item.InternalID] && idx.IsGranted(item.InternalID, item.ParentChain.Data)
		if keep {
			continue
		}
		if err := e.collectRow(ctx, connectorID, item.InternalID, item.Permission, item.LastUpsertedAt, e.items, result); err != nil {
			return nil, err
		}
	}

	containers, err := e.containers.ListByConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	for _, node := range sortNodesBottomUp(containers) {
		keep := remoteSet[node.InternalID] && idx.IsGranted(node.InternalID, node.ParentChain.Data)
		if keep {
			continue
		}
		if err := e.collectRow(ctx, connectorID, node.InternalID, node.Permission, node.LastUpsertedAt, e.containers, result); err != nil {
			return nil, err
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id":   connectorID,
		"deletes":        result.Deletes,
		"rows_destroyed": result.RowsDestroyed,
		"rows_retained":  result.RowsRetained,
	}).Info("Garbage collected connector")

	metrics.RecordReconcile(string(provider), nil, result.Deletes, time.Since(start).Seconds())
	return result, nil
}

// GarbageCollectAll is the safety path: treat nothing as present or granted,
// removing every previously-synced node downstream while retaining explicit
// user selections. Used when the warehouse connection turns out writable.
func (e *Engine) GarbageCollectAll(ctx context.Context, connectorID uuid.UUID, provider models.Provider) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GarbageCollectAll")
	defer span.End()

	return e.GarbageCollect(ctx, connectorID, provider, map[string]bool{}, permissions.NewGrantIndex())
}

// rowStore is the subset shared by container and item stores used during GC
type rowStore interface {
	ClearLastUpserted(ctx context.Context, connectorID uuid.UUID, internalIDs []string) error
	DeleteByInternalIDs(ctx context.Context, connectorID uuid.UUID, internalIDs []string) (int64, error)
}

func (e *Engine) collectRow(ctx context.Context, connectorID uuid.UUID, internalID string,
	permission models.Permission, lastUpsertedAt *time.Time, store rowStore, result *Result) error {
	if lastUpsertedAt != nil {
		if err := e.content.DeleteNode(ctx, connectorID, internalID); err != nil {
			return err
		}
		result.Deletes++
	}

	if permission == models.PermissionInherited {
		destroyed, err := store.DeleteByInternalIDs(ctx, connectorID, []string{internalID})
		if err != nil {
			return err
		}
		result.RowsDestroyed += int(destroyed)
		return nil
	}

	// Explicit mark: remember the user's intent across re-grants.
	if lastUpsertedAt != nil {
		if err := store.ClearLastUpserted(ctx, connectorID, []string{internalID}); err != nil {
			return err
		}
	}
	result.RowsRetained++
	return nil
}

func chain(parents []string) []string {
	if parents == nil {
		return []string{}
	}
	return parents
}

func parentID(parents []string) *string {
	if len(parents) == 0 {
		return nil
	}
	return &parents[0]
}

func sortFoldersTopDown(folders []FolderSpec) []FolderSpec {
	sorted := make([]FolderSpec, len(folders))
	copy(sorted, folders)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j].Parents) < len(sorted[j-1].Parents); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}

func sortNodesBottomUp(nodes []models.ContainerNode) []models.ContainerNode {
	sorted := make([]models.ContainerNode, len(nodes))
	copy(sorted, nodes)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j].ParentChain.Data) > len(sorted[j-1].ParentChain.Data); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}

func folderMimeType(nodeType models.NodeType) string {
	switch nodeType {
	case models.NodeTypeBrand:
		return contentstore.MimeTypeBrand
	case models.NodeTypeHelpCenter:
		return contentstore.MimeTypeHelpCenter
	case models.NodeTypeTickets:
		return contentstore.MimeTypeTickets
	case models.NodeTypeCategory:
		return contentstore.MimeTypeCategory
	case models.NodeTypeDatabase:
		return contentstore.MimeTypeDatabase
	case models.NodeTypeSchema:
		return contentstore.MimeTypeSchema
	default:
		return fmt.Sprintf("application/vnd.tendril.%s", nodeType)
	}
}

func itemMimeType(itemType models.ItemType) string {
	switch itemType {
	case models.ItemTypeArticle:
		return contentstore.MimeTypeArticle
	case models.ItemTypeTicket:
		return contentstore.MimeTypeTicket
	case models.ItemTypeTable:
		return contentstore.MimeTypeTable
	default:
		return fmt.Sprintf("application/vnd.tendril.%s", itemType)
	}
}
