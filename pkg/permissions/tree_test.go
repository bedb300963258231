package permissions

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/repositories"
)

type fakeContainerStore struct {
	nodes map[string]*models.ContainerNode
}

func (s *fakeContainerStore) GetByInternalID(_ context.Context, _ uuid.UUID, internalID string) (*models.ContainerNode, error) {
	node, ok := s.nodes[internalID]
	if !ok {
		return nil, repositories.NotFound("node %s does not exist", internalID)
	}
	return node, nil
}

func (s *fakeContainerStore) SetPermission(_ context.Context, _ uuid.UUID, internalID string, permission models.Permission) (bool, error) {
	node, ok := s.nodes[internalID]
	if !ok {
		return false, repositories.NotFound("node %s does not exist", internalID)
	}
	if node.Permission == permission {
		return false, nil
	}
	node.Permission = permission
	return true, nil
}

func (s *fakeContainerStore) ListByPermission(_ context.Context, _ uuid.UUID, permission models.Permission) ([]models.ContainerNode, error) {
	var out []models.ContainerNode
	for _, node := range s.nodes {
		if node.Permission == permission {
			out = append(out, *node)
		}
	}
	return out, nil
}

type fakeItemStore struct {
	items map[string]*models.ContentItem
}

func (s *fakeItemStore) ListByPermission(_ context.Context, _ uuid.UUID, permission models.Permission) ([]models.ContentItem, error) {
	var out []models.ContentItem
	for _, item := range s.items {
		if item.Permission == permission {
			out = append(out, *item)
		}
	}
	return out, nil
}

func newTestTree(containers map[string]*models.ContainerNode, items map[string]*models.ContentItem) *Tree {
	if containers == nil {
		containers = map[string]*models.ContainerNode{}
	}
	if items == nil {
		items = map[string]*models.ContentItem{}
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewTree(&fakeContainerStore{nodes: containers}, &fakeItemStore{items: items}, logger)
}

func TestTreeAllow(t *testing.T) {
	connectorID := uuid.New()

	t.Run("changes and reports true", func(t *testing.T) {
		tree := newTestTree(map[string]*models.ContainerNode{
			"zendesk-brand-1": {InternalID: "zendesk-brand-1", Permission: models.PermissionInherited},
		}, nil)

		changed, err := tree.Allow(context.Background(), connectorID, "zendesk-brand-1")
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("repeat allow is a no-op", func(t *testing.T) {
		tree := newTestTree(map[string]*models.ContainerNode{
			"zendesk-brand-1": {InternalID: "zendesk-brand-1", Permission: models.PermissionRead},
		}, nil)

		changed, err := tree.Allow(context.Background(), connectorID, "zendesk-brand-1")
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("leaf item is rejected", func(t *testing.T) {
		tree := newTestTree(nil, map[string]*models.ContentItem{
			"zendesk-article-1-7": {InternalID: "zendesk-article-1-7", Permission: models.PermissionInherited},
		})

		_, err := tree.Allow(context.Background(), connectorID, "zendesk-article-1-7")
		assert.ErrorIs(t, err, ErrLeafNode)
	})

	t.Run("unmaterialized leaf is still rejected", func(t *testing.T) {
		tree := newTestTree(nil, nil)

		_, err := tree.Allow(context.Background(), connectorID, "zendesk-article-9-99")
		assert.ErrorIs(t, err, ErrLeafNode)

		_, err = tree.Forbid(context.Background(), connectorID, "ANALYTICS.PUBLIC.EVENTS")
		assert.ErrorIs(t, err, ErrLeafNode)
	})

	t.Run("unknown node is a not found error", func(t *testing.T) {
		tree := newTestTree(nil, nil)

		_, err := tree.Allow(context.Background(), connectorID, "zendesk-brand-9")
		assert.Error(t, err)
	})
}

func TestTreeForbid(t *testing.T) {
	connectorID := uuid.New()

	tree := newTestTree(map[string]*models.ContainerNode{
		"zendesk-brand-1": {InternalID: "zendesk-brand-1", Permission: models.PermissionRead},
	}, nil)

	changed, err := tree.Forbid(context.Background(), connectorID, "zendesk-brand-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tree.Forbid(context.Background(), connectorID, "zendesk-brand-1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTreeBuildIndex(t *testing.T) {
	connectorID := uuid.New()

	tree := newTestTree(map[string]*models.ContainerNode{
		"zendesk-brand-1":      {InternalID: "zendesk-brand-1", Permission: models.PermissionRead},
		"zendesk-category-1-3": {InternalID: "zendesk-category-1-3", Permission: models.PermissionNone},
		"zendesk-brand-2":      {InternalID: "zendesk-brand-2", Permission: models.PermissionInherited},
	}, map[string]*models.ContentItem{
		"ANALYTICS.PUBLIC.EVENTS": {InternalID: "ANALYTICS.PUBLIC.EVENTS", Permission: models.PermissionRead},
	})

	idx, err := tree.BuildIndex(context.Background(), connectorID)
	require.NoError(t, err)

	assert.True(t, idx.IsGranted("zendesk-brand-1", nil))
	assert.False(t, idx.IsGranted("zendesk-category-1-3", []string{"zendesk-help-center-1", "zendesk-brand-1"}))
	assert.False(t, idx.IsGranted("zendesk-brand-2", nil))

	granted, err := tree.ReadGrantedSet(context.Background(), connectorID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zendesk-brand-1", "ANALYTICS.PUBLIC.EVENTS"}, granted)
}
